package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func assertFileExists(t *testing.T, path string) {
	t.Helper()
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file '%s' doesn't exist, os.Stat() failed with '%s'", path, err)
	}
	if !st.Mode().IsRegular() {
		t.Fatalf("path '%s' exists but is not a file (mode: %d)", path, int(st.Mode()))
	}
}

func assertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("file '%s' exists, expected to not exist", path)
	}
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("error: %s", err)
	}
}

func assertFileContent(t *testing.T, path string, exp string) {
	t.Helper()
	d, err := os.ReadFile(path)
	assertNoError(t, err)
	if string(d) != exp {
		t.Fatalf("path: '%s', expected content %q, got %q", path, exp, string(d))
	}
}

func TestSimulatedError(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "records.db")
	f, err := New(dst)
	assertNoError(t, err)
	assertFileExists(t, f.tmpPath)
	_, err = f.Write([]byte("foo"))
	assertNoError(t, err)

	errSimulated := errors.New("simulated")
	f.err = errSimulated
	if err = f.Close(); err != errSimulated {
		t.Fatalf("expected %v, got %v", errSimulated, err)
	}
	assertFileNotExists(t, f.tmpPath)
	assertFileNotExists(t, dst)
	// second Close() returns the same error
	if err = f.Close(); err != errSimulated {
		t.Fatalf("expected %v, got %v", errSimulated, err)
	}
}

func writeWithPanic(t *testing.T, f *File) {
	defer f.RemoveIfNotClosed()
	_, err := f.Write([]byte("foo"))
	assertNoError(t, err)
	panic("simulating a crash")
}

func TestPanicLeavesDestinationAlone(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "records.db")
	assertNoError(t, os.WriteFile(dst, []byte("old"), 0644))
	f, err := New(dst)
	assertNoError(t, err)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected to panic")
			}
		}()
		writeWithPanic(t, f)
	}()
	assertFileNotExists(t, f.tmpPath)
	assertFileContent(t, dst, "old")
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "records.db")
	{
		f, err := New(dst)
		assertNoError(t, err)
		assertNoError(t, f.Close())
		assertFileContent(t, dst, "")
		assertFileNotExists(t, f.tmpPath)
	}
	{
		f, err := New(dst)
		assertNoError(t, err)
		_, err = f.Write([]byte("hello "))
		assertNoError(t, err)
		_, err = f.Write([]byte("world"))
		assertNoError(t, err)
		// not visible until Close
		assertFileContent(t, dst, "")
		assertNoError(t, f.Close())
		assertFileContent(t, dst, "hello world")
		// Close twice is a no-op
		assertNoError(t, f.Close())
		st, err := os.Stat(dst)
		assertNoError(t, err)
		if st.Mode().Perm() != 0644 {
			t.Fatalf("expected permissions 0644, got %o", st.Mode().Perm())
		}
	}
	{
		f, err := New(dst)
		assertNoError(t, err)
		f.RemoveIfNotClosed()
		if _, err = f.Write([]byte("x")); err != ErrCancelled {
			t.Fatalf("expected %v, got %v", ErrCancelled, err)
		}
		if err = f.Close(); err != ErrCancelled {
			t.Fatalf("expected %v, got %v", ErrCancelled, err)
		}
		assertFileContent(t, dst, "hello world")
	}

	// can't create files in directories that don't exist
	_, err := New(filepath.Join(dir, "foo", "bar.txt"))
	if err == nil {
		t.Fatalf("expected an error")
	}
	_, err = New(dir + string(filepath.Separator))
	if err == nil {
		t.Fatalf("expected an error for a path without file name")
	}
}

func TestHelpers(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "records.db")
	assertNoError(t, WriteFile(dst, []byte("one")))
	assertFileContent(t, dst, "one")

	n, err := CopyFrom(dst, strings.NewReader("two two"))
	assertNoError(t, err)
	if n != 7 {
		t.Fatalf("expected 7 bytes copied, got %d", n)
	}
	assertFileContent(t, dst, "two two")

	errFn := errors.New("fn failed")
	err = WriteFunc(dst, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errFn
	})
	if err != errFn {
		t.Fatalf("expected %v, got %v", errFn, err)
	}
	assertFileContent(t, dst, "two two")
	matches, _ := filepath.Glob(dst + ".tmp-*")
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}
