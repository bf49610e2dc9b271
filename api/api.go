// Package api defines JSON messages exchanged between recdb server and client
package api

import (
	"errors"
	"fmt"

	"github.com/kjk/recdb/store"
)

// Kind of error in Response.Kind
const (
	KindDuplicate  = "duplicate"
	KindLoad       = "load"
	KindPersist    = "persist"
	KindIO         = "io"
	KindBadRequest = "bad_request"
	KindInternal   = "internal"
)

const (
	SourceFile   = "file"
	SourceMemory = "memory"
)

type Response struct {
	OK      bool           `json:"ok"`
	Error   string         `json:"error,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	Records []store.Record `json:"records,omitempty"`
	Count   int            `json:"count"`
	Unique  bool           `json:"unique,omitempty"`
	// id of a duplicate record
	ID string `json:"id,omitempty"`
	// path from LoadError, PersistError or IOError
	Path string `json:"path,omitempty"`
	// offset from LoadError
	Offset int64 `json:"offset,omitempty"`
	// operation from IOError
	Op string `json:"op,omitempty"`
	// message of the error wrapped by a store error
	Cause string `json:"cause,omitempty"`
}

// BadRequestError is an error in request arguments
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string {
	return e.Msg
}

func BadRequestf(format string, args ...any) error {
	return &BadRequestError{Msg: fmt.Sprintf(format, args...)}
}

// ErrorResponse describes err. Store errors keep their details
// so that the other side can re-create them.
func ErrorResponse(err error) *Response {
	res := &Response{
		Error: err.Error(),
		Kind:  KindInternal,
	}
	var dupErr *store.DuplicateKeyError
	var loadErr *store.LoadError
	var persistErr *store.PersistError
	var ioErr *store.IOError
	var badErr *BadRequestError
	switch {
	case errors.As(err, &dupErr):
		res.Kind = KindDuplicate
		res.ID = dupErr.ID
	case errors.As(err, &loadErr):
		res.Kind = KindLoad
		res.Path = loadErr.Path
		res.Offset = loadErr.Offset
		res.Cause = errString(loadErr.Err)
	case errors.As(err, &persistErr):
		res.Kind = KindPersist
		res.Path = persistErr.Path
		res.Cause = errString(persistErr.Err)
	case errors.As(err, &ioErr):
		res.Kind = KindIO
		res.Path = ioErr.Path
		res.Op = ioErr.Op
		res.Cause = errString(ioErr.Err)
	case errors.As(err, &badErr):
		res.Kind = KindBadRequest
	}
	return res
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// remoteError is the message of an error that happened on the server
type remoteError struct {
	msg string
}

func (e *remoteError) Error() string {
	return e.msg
}

// Err re-creates the error described by an error response.
// Returns nil if r is not an error.
func (r *Response) Err() error {
	if r.OK {
		return nil
	}
	cause := &remoteError{msg: r.Cause}
	switch r.Kind {
	case KindDuplicate:
		return &store.DuplicateKeyError{ID: r.ID}
	case KindLoad:
		return &store.LoadError{Path: r.Path, Offset: r.Offset, Err: cause}
	case KindPersist:
		return &store.PersistError{Path: r.Path, Err: cause}
	case KindIO:
		return &store.IOError{Op: r.Op, Path: r.Path, Err: cause}
	case KindBadRequest:
		return &BadRequestError{Msg: r.Error}
	}
	if r.Error == "" {
		return errors.New("request failed")
	}
	return &remoteError{msg: r.Error}
}
