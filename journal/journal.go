// Package journal is an append-only log of record store mutations.
//
// A journal is a directory with two files:
//   - index.txt with one line per entry: <offset> <size> <timestamp> <kind> [<meta>]
//   - data.bin with records of each entry, encoded like the store file
//
// Replaying all entries reproduces the state of the store. Compact
// replaces the history with a single restore entry. Its data goes to a
// new file, named in the first line of index.txt: "data <file name>".
// Replacing index.txt switches to the new data so index and data always
// match, even if Compact fails half-way.
//
// Journal is safe for concurrent use.
package journal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kjk/recdb/atomicfile"
	"github.com/kjk/recdb/log"
	"github.com/kjk/recdb/store"
)

const (
	IndexFileName = "index.txt"
	DataFileName  = "data.bin"
)

type Kind string

const (
	KindAdd     Kind = "add"
	KindDelete  Kind = "delete"
	KindRestore Kind = "restore"
)

func (k Kind) valid() bool {
	return k == KindAdd || k == KindDelete || k == KindRestore
}

type Entry struct {
	// offset in data file, 0 when Size is 0
	Offset int64
	Size   int64
	// utc unix milliseconds
	TimestampMs int64
	Kind        Kind
	// quoted ids of records, for people reading index.txt
	Meta string
}

func (e *Entry) Time() time.Time {
	return time.UnixMilli(e.TimestampMs).UTC()
}

type Journal struct {
	Dir string

	indexPath string
	// name of the data file in Dir, DataFileName until first Compact
	dataName  string
	dataPath  string
	indexFile *os.File
	dataFile  *os.File
	dataSize  int64
	entries   []*Entry
	mu        sync.Mutex

	// replaces files in Compact
	writeFile func(path string, d []byte) error
}

// Open opens a journal in dir, creating the directory and files if needed
func Open(dir string) (*Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal directory is not set. For current directory, use '.'")
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	j := &Journal{
		Dir:       dir,
		indexPath: filepath.Join(dir, IndexFileName),
		writeFile: atomicfile.WriteFile,
	}
	j.entries, j.dataName, err = readIndex(j.indexPath)
	if err != nil {
		return nil, err
	}
	j.dataPath = filepath.Join(dir, j.dataName)
	if err = j.openFiles(); err != nil {
		return nil, err
	}
	if err = j.validate(); err != nil {
		j.closeFiles()
		return nil, err
	}
	log.Verbosef("journal.Open: %d entries in '%s'\n", len(j.entries), dir)
	return j, nil
}

func (j *Journal) openFiles() error {
	var err error
	j.indexFile, err = os.OpenFile(j.indexPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	j.dataFile, err = os.OpenFile(j.dataPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		j.indexFile.Close()
		j.indexFile = nil
		return err
	}
	st, err := j.dataFile.Stat()
	if err != nil {
		j.closeFiles()
		return err
	}
	j.dataSize = st.Size()
	return nil
}

func (j *Journal) closeFiles() error {
	var err error
	if j.indexFile != nil {
		err = j.indexFile.Close()
		j.indexFile = nil
	}
	if j.dataFile != nil {
		if err2 := j.dataFile.Close(); err == nil {
			err = err2
		}
		j.dataFile = nil
	}
	return err
}

// every entry must point inside the data file
func (j *Journal) validate() error {
	for i, e := range j.entries {
		if e.Offset+e.Size > j.dataSize {
			return fmt.Errorf("entry %d (offset: %d, size: %d) is past end of '%s' (size: %d)", i, e.Offset, e.Size, j.dataPath, j.dataSize)
		}
	}
	return nil
}

// Close closes the files. The journal can't be used after Close.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeFiles()
}

// no direct access to entries to ensure thread safety
func (j *Journal) Entries() []*Entry {
	j.mu.Lock()
	res := append([]*Entry{}, j.entries...)
	j.mu.Unlock()
	return res
}

func writeSynced(f *os.File, d []byte) error {
	if _, err := f.Write(d); err != nil {
		return err
	}
	return f.Sync()
}

func formatMeta(recs []store.Record) string {
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = strconv.Quote(rec.ID)
	}
	return strings.Join(ids, " ")
}

const dataLinePrefix = "data "

func formatDataLine(name string) string {
	return dataLinePrefix + name + "\n"
}

func formatIndexLine(e *Entry) string {
	if e.Meta == "" {
		return fmt.Sprintf("%d %d %d %s\n", e.Offset, e.Size, e.TimestampMs, e.Kind)
	}
	return fmt.Sprintf("%d %d %d %s %s\n", e.Offset, e.Size, e.TimestampMs, e.Kind, e.Meta)
}

// Append adds an entry with records affected by a mutation.
// Data is synced to disk before the index line is written so that
// the index never points at missing data.
func (j *Journal) Append(kind Kind, recs []store.Record) (*Entry, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("invalid kind '%s'", kind)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.indexFile == nil {
		return nil, fmt.Errorf("journal '%s' is closed", j.Dir)
	}

	d := store.MarshalRecords(recs)
	e := &Entry{
		Size:        int64(len(d)),
		TimestampMs: time.Now().UTC().UnixMilli(),
		Kind:        kind,
		Meta:        formatMeta(recs),
	}
	if len(d) > 0 {
		e.Offset = j.dataSize
		if err := writeSynced(j.dataFile, d); err != nil {
			return nil, err
		}
		j.dataSize += e.Size
	}
	if err := writeSynced(j.indexFile, []byte(formatIndexLine(e))); err != nil {
		return nil, err
	}
	j.entries = append(j.entries, e)
	return e, nil
}

// perf: allow re-using Entry
func ParseIndexLine(line string, res *Entry) error {
	parts := strings.SplitN(line, " ", 5)
	if len(parts) < 4 {
		return fmt.Errorf("invalid index line: %s", line)
	}
	var err error
	if res.Offset, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
		return fmt.Errorf("invalid offset in index line: %s", line)
	}
	if res.Size, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return fmt.Errorf("invalid size in index line: %s", line)
	}
	if res.TimestampMs, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
		return fmt.Errorf("invalid time in index line: %s", line)
	}
	res.Kind = Kind(parts[3])
	if !res.Kind.valid() {
		return fmt.Errorf("invalid kind in index line: %s", line)
	}
	res.Meta = ""
	if len(parts) > 4 {
		res.Meta = parts[4]
	}
	if res.Offset < 0 || res.Size < 0 || res.TimestampMs < 0 {
		return fmt.Errorf("invalid index line: %s", line)
	}
	return nil
}

// data file name must be a plain file name in journal directory
func validDataName(name string) bool {
	return name != "" && filepath.Base(name) == name && filepath.IsLocal(name)
}

// parseIndex returns entries and name of the data file
func parseIndex(r io.Reader) ([]*Entry, string, error) {
	var res []*Entry
	dataName := DataFileName
	scanner := bufio.NewScanner(r)
	// meta lists all ids of a restore so lines can be long
	scanner.Buffer(nil, 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNo++
		if line == "" {
			continue
		}
		if name, ok := strings.CutPrefix(line, dataLinePrefix); ok {
			if lineNo != 1 || !validDataName(name) {
				return nil, "", fmt.Errorf("invalid data line %d: %s", lineNo, line)
			}
			dataName = name
			continue
		}
		e := &Entry{}
		if err := ParseIndexLine(line, e); err != nil {
			return nil, "", err
		}
		res = append(res, e)
	}
	return res, dataName, scanner.Err()
}

// readIndex reads index at path. A missing index is an empty journal.
func readIndex(path string) ([]*Entry, string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, DataFileName, nil
		}
		return nil, "", err
	}
	defer f.Close()
	entries, dataName, err := parseIndex(f)
	if err != nil {
		return nil, "", fmt.Errorf("reading '%s': %w", path, err)
	}
	return entries, dataName, nil
}

func readFilePart(path string, offset int64, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	if _, err = f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes at offset %d: %w", n, offset, err)
	}
	return buf, nil
}

func readEntryData(dataPath string, e *Entry) ([]byte, error) {
	if e.Size == 0 {
		return nil, nil
	}
	return readFilePart(dataPath, e.Offset, e.Size)
}

func readEntryRecords(dataPath string, e *Entry) ([]store.Record, error) {
	d, err := readEntryData(dataPath, e)
	if err != nil {
		return nil, err
	}
	recs, err := store.UnmarshalRecords(d)
	if err != nil {
		return nil, fmt.Errorf("entry at offset %d: %w", e.Offset, err)
	}
	return recs, nil
}

// DataPath returns path of the current data file
func (j *Journal) DataPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dataPath
}

// ReadData returns raw data of an entry.
// Entries returned before Compact can't be read after it.
func (j *Journal) ReadData(e *Entry) ([]byte, error) {
	return readEntryData(j.DataPath(), e)
}

// ReadRecords returns records of an entry
func (j *Journal) ReadRecords(e *Entry) ([]store.Record, error) {
	return readEntryRecords(j.DataPath(), e)
}

// Replay applies all entries in order and returns the resulting records
func (j *Journal) Replay() (map[string]store.Record, error) {
	j.mu.Lock()
	entries := append([]*Entry{}, j.entries...)
	dataPath := j.dataPath
	j.mu.Unlock()
	return replay(dataPath, entries)
}

func replay(dataPath string, entries []*Entry) (map[string]store.Record, error) {
	res := map[string]store.Record{}
	for _, e := range entries {
		recs, err := readEntryRecords(dataPath, e)
		if err != nil {
			return nil, err
		}
		switch e.Kind {
		case KindAdd:
			for _, rec := range recs {
				res[rec.ID] = rec
			}
		case KindDelete:
			for _, rec := range recs {
				delete(res, rec.ID)
			}
		case KindRestore:
			res = make(map[string]store.Record, len(recs))
			for _, rec := range recs {
				res[rec.ID] = rec
			}
		}
	}
	return res, nil
}

// Compact replaces all entries with a single restore entry holding
// the replayed state.
// The state is written to a new data file and then index.txt is replaced
// with one pointing to it. If either write fails, the journal keeps its
// current entries and data.
func (j *Journal) Compact() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.indexFile == nil {
		return fmt.Errorf("journal '%s' is closed", j.Dir)
	}
	m, err := replay(j.dataPath, j.entries)
	if err != nil {
		return err
	}
	recs := make([]store.Record, 0, len(m))
	for _, rec := range m {
		recs = append(recs, rec)
	}
	store.SortByID(recs)
	nBefore := len(j.entries)

	d := store.MarshalRecords(recs)
	e := &Entry{
		Size:        int64(len(d)),
		TimestampMs: time.Now().UTC().UnixMilli(),
		Kind:        KindRestore,
		Meta:        formatMeta(recs),
	}
	newName := fmt.Sprintf("data-%d.bin", time.Now().UTC().UnixNano())
	newPath := filepath.Join(j.Dir, newName)
	if err = j.writeFile(newPath, d); err != nil {
		return fmt.Errorf("writing '%s': %w", newPath, err)
	}
	index := formatDataLine(newName) + formatIndexLine(e)
	if err = j.writeFile(j.indexPath, []byte(index)); err != nil {
		// current index still points to current data
		_ = os.Remove(newPath)
		return fmt.Errorf("writing '%s': %w", j.indexPath, err)
	}

	// from now on files on disk are the compacted journal
	oldPath := j.dataPath
	j.entries = []*Entry{e}
	j.dataName = newName
	j.dataPath = newPath
	log.IfErrf(j.closeFiles())
	if err = j.openFiles(); err != nil {
		return err
	}
	if err = os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		log.Errorf("journal.Compact: removing '%s' failed with '%s'\n", oldPath, err)
	}
	log.Verbosef("journal.Compact: %d entries => 1, %d records in '%s'\n", nBefore, len(recs), newName)
	return nil
}

// Attach records every successful mutation of s in the journal.
// Deletes that removed nothing are not recorded.
// A hook already set in s.OnChange is still called, after the journal.
func (j *Journal) Attach(s *store.Store) {
	prev := s.OnChange
	s.OnChange = func(c store.Change) {
		if c.Kind != store.ChangeDelete || len(c.Records) > 0 {
			_, err := j.Append(Kind(c.Kind), c.Records)
			log.IfErrf(err)
		}
		if prev != nil {
			prev(c)
		}
	}
}
