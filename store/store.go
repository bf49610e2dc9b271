/*
Package store implements a record store kept in a single file.

All records are loaded into memory when the store is opened. Reads are
served from memory. Every mutation re-writes the whole file from memory
(atomically, so an interrupted write never corrupts the existing file).

The store does no locking. Callers that use it from multiple goroutines
must serialize access.
*/
package store

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/kjk/recdb/atomicfile"
	"github.com/kjk/recdb/log"
)

// ChangeKind describes a successful mutation
type ChangeKind string

const (
	ChangeAdd     ChangeKind = "add"
	ChangeDelete  ChangeKind = "delete"
	ChangeRestore ChangeKind = "restore"
)

// Change is passed to Store.OnChange
type Change struct {
	Kind ChangeKind
	// added or deleted records. For restore, all records after restore.
	Records []Record
}

type Store struct {
	// OnChange, if set, is called after every successful mutation
	OnChange func(Change)

	path    string
	records map[string]Record

	// replaced in tests to simulate disk failures
	writeFile func(path string, fn func(w io.Writer) error) error
}

// Open loads records from the file at path. A file that doesn't exist
// is an empty store; it's created on the first mutation.
func Open(path string) (*Store, error) {
	s := &Store{
		path:      path,
		writeFile: atomicfile.WriteFunc,
	}
	recs, err := readRecordsFile(path)
	if err != nil {
		return nil, err
	}
	s.setRecords(recs)
	log.Verbosef("store.Open: loaded %d records from '%s'\n", len(s.records), path)
	return s, nil
}

func readRecordsFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, newLoadError(path, err)
	}
	defer f.Close()
	recs, err := ReadRecords(f)
	if err != nil {
		return nil, newLoadError(path, err)
	}
	return recs, nil
}

func (s *Store) setRecords(recs []Record) {
	m := make(map[string]Record, len(recs))
	for _, rec := range recs {
		if _, dup := m[rec.ID]; dup {
			log.Logf("store: duplicate id '%s' in '%s', using the last one\n", rec.ID, s.path)
		}
		m[rec.ID] = rec
	}
	s.records = m
}

// Path returns path of the backing file
func (s *Store) Path() string {
	return s.path
}

// Len returns number of records
func (s *Store) Len() int {
	return len(s.records)
}

// Get returns a record with a given id
func (s *Store) Get(id string) (Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Records returns all records, sorted by id
func (s *Store) Records() []Record {
	res := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		res = append(res, rec)
	}
	SortByID(res)
	return res
}

// IsUnique returns true if there's no record with a given id.
// Add does the same check so calling it first is optional.
func (s *Store) IsUnique(id string) bool {
	_, exists := s.records[id]
	return !exists
}

func (s *Store) notify(kind ChangeKind, recs []Record) {
	log.Event("store."+string(kind), "path", s.path, "count", len(recs))
	if s.OnChange != nil {
		s.OnChange(Change{Kind: kind, Records: recs})
	}
}

// save re-writes the backing file from memory
func (s *Store) save() error {
	recs := s.Records()
	err := s.writeFile(s.path, func(w io.Writer) error {
		return WriteRecords(w, recs)
	})
	if err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	log.Verbosef("store.save: wrote %d records to '%s'\n", len(recs), s.path)
	return nil
}

// Add adds a record and re-writes the file.
// Returns *DuplicateKeyError if a record with the same id exists
// and *PersistError if the file couldn't be written, in which case
// the record is not added.
func (s *Store) Add(rec Record) error {
	if _, exists := s.records[rec.ID]; exists {
		return &DuplicateKeyError{ID: rec.ID}
	}
	s.records[rec.ID] = rec
	if err := s.save(); err != nil {
		delete(s.records, rec.ID)
		return err
	}
	s.notify(ChangeAdd, []Record{rec})
	return nil
}

func (s *Store) match(field, value string) []Record {
	var res []Record
	for _, rec := range s.records {
		if rec.Matches(field, value) {
			res = append(res, rec)
		}
	}
	SortByID(res)
	return res
}

// SearchByField returns records whose field is equal to value, sorted by id.
// Fields are id, name, age and address. Unknown fields match nothing.
func (s *Store) SearchByField(field, value string) []Record {
	return s.match(field, value)
}

// DeleteByField removes records whose field is equal to value and
// re-writes the file, even if nothing matched. Returns removed records.
// On *PersistError the records are not removed.
func (s *Store) DeleteByField(field, value string) ([]Record, error) {
	removed := s.match(field, value)
	for _, rec := range removed {
		delete(s.records, rec.ID)
	}
	if err := s.save(); err != nil {
		for _, rec := range removed {
			s.records[rec.ID] = rec
		}
		return nil, err
	}
	s.notify(ChangeDelete, removed)
	return removed, nil
}

// LoadAllFromFile reads records from the backing file, not from memory,
// in the order they are stored
func (s *Store) LoadAllFromFile() ([]Record, error) {
	return readRecordsFile(s.path)
}

// Reload replaces in-memory records with the content of the backing file.
// On error the in-memory records are unchanged.
func (s *Store) Reload() error {
	recs, err := readRecordsFile(s.path)
	if err != nil {
		return err
	}
	s.setRecords(recs)
	log.Verbosef("store.Reload: loaded %d records from '%s'\n", len(s.records), s.path)
	return nil
}
