/*
Package atomicfile replaces the content of a file so that readers see
either the old or the new content, never a partially written file.

Data is written to a temporary file in the destination directory. On
Close the temporary file is synced and renamed over the destination.
If any Write fails, or the file is abandoned with RemoveIfNotClosed,
the temporary file is deleted and the destination is left untouched.

	f, err := atomicfile.New(path)
	if err != nil {
		return err
	}
	// calling Close() twice is a no-op
	defer f.RemoveIfNotClosed()
	if _, err = f.Write(data); err != nil {
		return err
	}
	return f.Close()
*/
package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// Some references:
// - https://www.slideshare.net/nan1nan1/eat-my-data
// - https://lwn.net/Articles/457667/

var (
	// ErrCancelled is returned by calls after RemoveIfNotClosed()
	ErrCancelled = errors.New("cancelled")

	_ io.WriteCloser = &File{}
	_ io.ReaderFrom  = &File{}
)

// File is a destination file being written atomically
type File struct {
	dstPath string
	dir     string
	tmpFile *os.File
	tmpPath string
	// first error, sticky
	err error
}

// New starts writing to path. The directory of path must exist.
func New(path string) (*File, error) {
	dir, name := filepath.Split(path)
	if name == "" {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	// the name pattern keeps temp files next to and recognizable as the destination
	tmpFile, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return nil, err
	}
	// CreateTemp uses 0600, we want the usual permissions for data files
	if err = tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return nil, err
	}
	return &File{
		dstPath: path,
		dir:     dir,
		tmpFile: tmpFile,
		tmpPath: tmpFile.Name(),
	}, nil
}

func (f *File) setErr(err error) error {
	if err == nil {
		return nil
	}
	if f.err == nil {
		f.err = err
	}
	_ = f.Close()
	return err
}

// Write writes to the temporary file
func (f *File) Write(d []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.tmpFile.Write(d)
	return n, f.setErr(err)
}

// ReadFrom copies r into the temporary file. io.Copy to File uses it.
func (f *File) ReadFrom(r io.Reader) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := io.Copy(f.tmpFile, r)
	return n, f.setErr(err)
}

func (f *File) closed() bool {
	return f.tmpFile == nil
}

// RemoveIfNotClosed abandons the write and deletes the temporary file.
// Meant to be deferred right after New so that an early return
// or a panic doesn't leave a temp file behind. No-op after Close.
func (f *File) RemoveIfNotClosed() {
	if f == nil || f.closed() {
		return
	}
	f.err = ErrCancelled
	_ = f.Close()
}

// Close syncs the temporary file and renames it over the destination.
// Returns the first error encountered. Safe to call multiple times.
func (f *File) Close() error {
	if f.closed() {
		return f.err
	}
	tmpFile := f.tmpFile
	f.tmpFile = nil

	// https://www.joeshaw.org/dont-defer-close-on-writable-files/
	errSync := tmpFile.Sync()
	errClose := tmpFile.Close()

	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(f.tmpPath)
		}
	}()

	if f.err != nil {
		return f.err
	}
	err := errSync
	if err == nil {
		err = errClose
	}
	if err == nil {
		err = os.Rename(f.tmpPath, f.dstPath)
		renamed = err == nil
	}
	if renamed {
		syncDir(f.dir)
	}
	f.err = err
	return err
}

// best effort, the rename already happened
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// WriteFunc atomically replaces path with whatever fn writes
func WriteFunc(path string, fn func(w io.Writer) error) error {
	f, err := New(path)
	if err != nil {
		return err
	}
	defer f.RemoveIfNotClosed()
	if err = fn(f); err != nil {
		return err
	}
	return f.Close()
}

// WriteFile atomically replaces path with d
func WriteFile(path string, d []byte) error {
	return WriteFunc(path, func(w io.Writer) error {
		_, err := w.Write(d)
		return err
	})
}

// CopyFrom atomically replaces path with the content of r
func CopyFrom(path string, r io.Reader) (int64, error) {
	var n int64
	err := WriteFunc(path, func(w io.Writer) error {
		var err error
		n, err = io.Copy(w, r)
		return err
	})
	return n, err
}
