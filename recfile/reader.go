package recfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// CorruptError describes a frame that couldn't be decoded
type CorruptError struct {
	// Offset of the start of the bad frame
	Offset int64
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt frame at offset %d: %s", e.Offset, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// Reader reads frames written by Writer
type Reader struct {
	r *bufio.Reader

	// Data, Name and Timestamp are available after Next()
	// and over-written by the following Next()
	Data      []byte
	Name      string
	Timestamp time.Time

	// Entries is available after NextEntries()
	Entries Entries

	// offset of the current frame, so that callers can report
	// where the problem is
	Offset int64
	// offset of the next frame
	NextOffset int64

	buf  bytes.Buffer
	err  error
	done bool
}

// NewReader creates a new reader
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{
		r: br,
	}
}

// Done returns true if there are no more frames to read
func (r *Reader) Done() bool {
	return r.err != nil || r.done
}

// Err returns the error that stopped reading.
// Reaching end of input between frames is not an error.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail(err error) bool {
	r.err = &CorruptError{Offset: r.Offset, Err: err}
	return false
}

// Next reads the next frame. Returns false when there are no more
// frames or on error. Check Err() to tell them apart.
func (r *Reader) Next() bool {
	if r.Done() {
		return false
	}
	r.Name = ""
	r.Timestamp = time.Time{}
	r.Offset = r.NextOffset

	// "--- ${size} [${timestamp_ms}] [${name}]\n"
	hdr, err := r.r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(hdr) == 0 {
				r.done = true
				return false
			}
			return r.fail(fmt.Errorf("truncated header '%s'", hdr))
		}
		r.err = err
		return false
	}
	frameSize := int64(len(hdr))

	rest, ok := bytes.CutPrefix(hdr[:len(hdr)-1], hdrPrefix)
	if !ok {
		return r.fail(fmt.Errorf("header doesn't start with '%s': '%s'", hdrPrefix, hdr))
	}
	parts := bytes.SplitN(rest, []byte{' '}, 3)
	size, err := strconv.ParseInt(string(parts[0]), 10, 64)
	if err != nil || size < 0 {
		return r.fail(fmt.Errorf("bad size in header '%s'", hdr))
	}
	parts = parts[1:]
	// timestamp is optional and always numeric, names never start with a digit
	if len(parts) > 0 && len(parts[0]) > 0 && isDigit(parts[0][0]) {
		ms, err := strconv.ParseInt(string(parts[0]), 10, 64)
		if err != nil {
			return r.fail(fmt.Errorf("bad timestamp in header '%s'", hdr))
		}
		r.Timestamp = TimeFromUnixMillisecond(ms)
		parts = parts[1:]
	}
	if len(parts) > 0 {
		r.Name = string(bytes.Join(parts, []byte{' '}))
	}

	// size comes from the input so only read what's actually there
	if r.buf.Cap() > 1024*1024 {
		r.buf = bytes.Buffer{}
	}
	r.buf.Reset()
	n, err := io.CopyN(&r.buf, r.r, size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return r.fail(fmt.Errorf("truncated data: header says %d bytes, got %d", size, n))
		}
		r.err = err
		return false
	}
	r.Data = r.buf.Bytes()
	frameSize += size

	// Writer pads data with '\n' for readability
	if size > 0 && r.Data[size-1] != '\n' {
		c, err := r.r.ReadByte()
		if err != nil {
			return r.fail(fmt.Errorf("missing padding newline: %w", err))
		}
		if c != '\n' {
			return r.fail(fmt.Errorf("expected padding newline, got 0x%x", c))
		}
		frameSize++
	}
	r.NextOffset += frameSize
	return true
}

// NextEntries reads the next frame and decodes its body into Entries
func (r *Reader) NextEntries() bool {
	if !r.Next() {
		return false
	}
	entries, err := ParseBody(r.Data, r.Entries)
	if err != nil {
		return r.fail(err)
	}
	r.Entries = entries
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
