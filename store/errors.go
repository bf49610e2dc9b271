package store

import (
	"errors"
	"fmt"
)

// ErrDuplicateKey can be used with errors.Is to check for *DuplicateKeyError
var ErrDuplicateKey = errors.New("record with this id already exists")

// DuplicateKeyError is returned by Add when a record with the same id exists
type DuplicateKeyError struct {
	ID string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("record with id '%s' already exists", e.ID)
}

func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

// LoadError is returned when stored data can't be read or decoded
type LoadError struct {
	Path string
	// offset of the bad frame, -1 if the file couldn't be read at all
	Offset int64
	Err    error
}

func (e *LoadError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("load '%s': %s", e.Path, e.Err)
	}
	return fmt.Sprintf("load '%s' at offset %d: %s", e.Path, e.Offset, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// PersistError is returned when re-writing the backing file fails.
// The in-memory state is rolled back to match the file.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist '%s': %s", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IOError is returned when copying bytes during backup or restore fails
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s '%s': %s", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
