package recfile

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var hdrPrefix = []byte("--- ")

// Writer writes frames to an io.Writer
type Writer struct {
	w io.Writer
	// NoTimestamp disables writing timestamp, which makes
	// output depend only on the data
	NoTimestamp bool

	buf bytes.Buffer
}

// NewWriter creates a writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: w,
	}
}

// WriteBody writes b as a frame and resets it
func (w *Writer) WriteBody(b *Body, name string) (int, error) {
	n, err := w.Write(b.Bytes(), time.Time{}, name)
	b.Reset()
	return n, err
}

// Write writes a frame with data, optional timestamp and name.
// If t is zero, current time is used (unless NoTimestamp is set).
// Returns the number of bytes written, including the header.
func (w *Writer) Write(d []byte, t time.Time, name string) (int, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	if w.NoTimestamp {
		t = time.Time{}
	} else if t.IsZero() {
		t = time.Now()
	}
	// don't keep a big buffer around
	if w.buf.Cap() > 100*1024 && len(d) < 50*1024 {
		w.buf = bytes.Buffer{}
	}
	frame := MarshalFrame(name, t, d, &w.buf)
	return w.w.Write(frame)
}

func validateName(name string) error {
	if name == "" {
		return nil
	}
	if isDigit(name[0]) {
		return fmt.Errorf("name '%s' can't start with a digit", name)
	}
	if strings.ContainsAny(name, "\n\r") {
		return fmt.Errorf("name '%s' can't contain newlines", name)
	}
	return nil
}

// MarshalFrame serializes a single frame into wb (or a new buffer if nil).
// If t is zero time, timestamp is not written.
func MarshalFrame(name string, t time.Time, d []byte, wb *bytes.Buffer) []byte {
	if wb == nil {
		wb = &bytes.Buffer{}
	} else {
		wb.Reset()
	}
	// over-estimating is fine, under-estimating costs an alloc
	wb.Grow(len(hdrPrefix) + len(name) + len(d) + 48)

	wb.Write(hdrPrefix)
	n := len(d)
	wb.WriteString(strconv.Itoa(n))
	if !t.IsZero() {
		wb.WriteByte(' ')
		wb.WriteString(strconv.FormatInt(TimeToUnixMillisecond(t), 10))
	}
	if name != "" {
		wb.WriteByte(' ')
		wb.WriteString(name)
	}
	wb.WriteByte('\n')
	if n > 0 {
		wb.Write(d)
		// for readability next header always starts on a new line
		if d[n-1] != '\n' {
			wb.WriteByte('\n')
		}
	}
	return wb.Bytes()
}

// TimeToUnixMillisecond converts t into Unix epoch time in milliseconds.
func TimeToUnixMillisecond(t time.Time) int64 {
	return t.UnixNano() / 1e6
}

// TimeFromUnixMillisecond returns time from Unix epoch time in milliseconds.
func TimeFromUnixMillisecond(unixMs int64) time.Time {
	return time.Unix(0, unixMs*1e6)
}
