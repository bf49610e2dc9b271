package store

import (
	"errors"
	"io"
	"os"

	"github.com/kjk/recdb/atomicfile"
	"github.com/kjk/recdb/log"
	"github.com/kjk/recdb/u"
)

// BackupTo copies raw bytes of the backing file to w
func (s *Store) BackupTo(w io.Writer) (int64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return 0, &IOError{Op: "backup", Path: s.path, Err: err}
	}
	defer f.Close()
	n, err := io.Copy(w, f)
	if err != nil {
		return n, &IOError{Op: "backup", Path: s.path, Err: err}
	}
	return n, nil
}

// Backup copies raw bytes of the backing file to dstPath.
// The extension of dstPath doesn't matter, use BackupCompressed to compress.
// dstPath is replaced atomically. In-memory records are not touched.
func (s *Store) Backup(dstPath string) error {
	err := atomicfile.WriteFunc(dstPath, func(w io.Writer) error {
		_, err := s.BackupTo(w)
		return err
	})
	if err != nil {
		var ioErr *IOError
		if !errors.As(err, &ioErr) {
			err = &IOError{Op: "backup", Path: dstPath, Err: err}
		}
		return err
	}
	log.Verbosef("store.Backup: '%s' => '%s'\n", s.path, dstPath)
	return nil
}

// BackupCompressed is like Backup but compresses the copy based on
// extension of dstPath (.gz, .zst, .br). Without a known extension
// it's the same as Backup.
func (s *Store) BackupCompressed(dstPath string) error {
	kind := u.CompressionForPath(dstPath)
	err := atomicfile.WriteFunc(dstPath, func(w io.Writer) error {
		cw, err := u.NewCompressingWriter(w, kind)
		if err != nil {
			return err
		}
		if _, err = s.BackupTo(cw); err != nil {
			_ = cw.Close()
			return err
		}
		return cw.Close()
	})
	if err != nil {
		var ioErr *IOError
		if !errors.As(err, &ioErr) {
			err = &IOError{Op: "backup", Path: dstPath, Err: err}
		}
		return err
	}
	log.Verbosef("store.BackupCompressed: '%s' => '%s'\n", s.path, dstPath)
	return nil
}

// RestoreFromBackup replaces the backing file with the content of srcPath,
// as written by Backup, and reloads records from it. Bytes are copied
// as is, whatever the extension of srcPath.
// The content is validated first: if it's not a valid record stream,
// *LoadError is returned and nothing changes.
func (s *Store) RestoreFromBackup(srcPath string) error {
	d, err := os.ReadFile(srcPath)
	if err != nil {
		return &IOError{Op: "restore", Path: srcPath, Err: err}
	}
	return s.restore(d, srcPath)
}

// RestoreCompressed restores from a backup written by BackupCompressed.
// It's decompressed based on extension of srcPath (.gz, .zst, .br, .bz2).
// Without a known extension it's the same as RestoreFromBackup.
func (s *Store) RestoreCompressed(srcPath string) error {
	d, err := u.ReadFileMaybeCompressed(srcPath)
	if err != nil {
		return &IOError{Op: "restore", Path: srcPath, Err: err}
	}
	return s.restore(d, srcPath)
}

// RestoreFrom is RestoreFromBackup reading the backup from r
func (s *Store) RestoreFrom(r io.Reader) error {
	d, err := io.ReadAll(r)
	if err != nil {
		return &IOError{Op: "restore", Path: "<reader>", Err: err}
	}
	return s.restore(d, "<reader>")
}

func (s *Store) restore(d []byte, srcName string) error {
	recs, err := UnmarshalRecords(d)
	if err != nil {
		return newLoadError(srcName, err)
	}
	err = s.writeFile(s.path, func(w io.Writer) error {
		_, err := w.Write(d)
		return err
	})
	if err != nil {
		return &IOError{Op: "restore", Path: s.path, Err: err}
	}
	// the file now has exactly d so no need to re-read it
	s.setRecords(recs)
	log.Verbosef("store.restore: '%s' => '%s', %d records\n", srcName, s.path, len(s.records))
	s.notify(ChangeRestore, s.Records())
	return nil
}
