package recfile

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestMarshalFrame(t *testing.T) {
	fixedTime := time.Date(2024, 1, 15, 10, 30, 45, 123000000, time.UTC)
	fixedTimeMs := strconv.FormatInt(TimeToUnixMillisecond(fixedTime), 10)

	tests := []struct {
		name     string
		dataName string
		t        time.Time
		d        []byte
		expected string
	}{
		{"all fields", "record", fixedTime, []byte("id: 1"), "--- 5 " + fixedTimeMs + " record\nid: 1\n"},
		{"no name", "", fixedTime, []byte("id: 1"), "--- 5 " + fixedTimeMs + "\nid: 1\n"},
		{"no time", "record", time.Time{}, []byte("id: 1"), "--- 5 record\nid: 1\n"},
		{"ends with newline", "record", time.Time{}, []byte("id: 1\n"), "--- 6 record\nid: 1\n"},
		{"nil data", "record", time.Time{}, nil, "--- 0 record\n"},
		{"nothing", "", time.Time{}, nil, "--- 0\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := string(MarshalFrame(tc.dataName, tc.t, tc.d, nil))
			if got != tc.expected {
				t.Fatalf("expected:\n%q\ngot:\n%q", tc.expected, got)
			}
		})
	}
}

func TestBodyRoundTrip(t *testing.T) {
	long := strings.Repeat("x", maxLineValue+1)
	var b Body
	err := b.Add("id", "1", "name", "Alice", "age", 30, "address", "", "long", long, "multi", "a\nb\n", "utf", "Zürich")
	if err != nil {
		t.Fatalf("Add() failed with %s", err)
	}
	entries, err := ParseBody(b.Bytes(), nil)
	if err != nil {
		t.Fatalf("ParseBody() failed with %s", err)
	}
	exp := map[string]string{
		"id":      "1",
		"name":    "Alice",
		"age":     "30",
		"address": "",
		"long":    long,
		"multi":   "a\nb\n",
		"utf":     "Zürich",
	}
	if len(entries) != len(exp) {
		t.Fatalf("expected %d entries, got %d", len(exp), len(entries))
	}
	for k, v := range exp {
		got, ok := entries.Get(k)
		if !ok || got != v {
			t.Fatalf("key '%s': expected %q, got %q (ok: %v)", k, v, got, ok)
		}
	}
	if _, ok := entries.Get("missing"); ok {
		t.Fatalf("didn't expect to find 'missing'")
	}
}

func TestBodyAddErrors(t *testing.T) {
	var b Body
	if err := b.Add("odd"); err == nil {
		t.Fatalf("expected error for odd number of args")
	}
	if err := b.Add(); err == nil {
		t.Fatalf("expected error for no args")
	}
	if err := b.Add("", "v"); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if err := b.Add("a:b", "v"); err == nil {
		t.Fatalf("expected error for key with ':'")
	}
}

func TestParseBodyErrors(t *testing.T) {
	bad := []string{
		"no newline",
		"nocolon\n",
		"key:\n",
		"key:x\n",
		"key:+abc\n",
		"key:+-1\n",
		"key:+10\nshort\n",
	}
	for _, s := range bad {
		if _, err := ParseBody([]byte(s), nil); err == nil {
			t.Fatalf("expected error parsing %q", s)
		}
	}
}

func writeFrames(t *testing.T, n int) []byte {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.NoTimestamp = true
	var b Body
	for i := 0; i < n; i++ {
		if err := b.Add("id", i, "name", "name "+strconv.Itoa(i)); err != nil {
			t.Fatalf("Add() failed with %s", err)
		}
		if _, err := w.WriteBody(&b, "record"); err != nil {
			t.Fatalf("WriteBody() failed with %s", err)
		}
	}
	return buf.Bytes()
}

func TestReadWrite(t *testing.T) {
	d := writeFrames(t, 50)
	r := NewReader(bytes.NewReader(d))
	n := 0
	var lastOffset int64 = -1
	for r.NextEntries() {
		if r.Name != "record" {
			t.Fatalf("expected name 'record', got '%s'", r.Name)
		}
		if !r.Timestamp.IsZero() {
			t.Fatalf("expected zero timestamp, got %s", r.Timestamp)
		}
		if r.Offset <= lastOffset {
			t.Fatalf("offsets not increasing: %d after %d", r.Offset, lastOffset)
		}
		lastOffset = r.Offset
		id, _ := r.Entries.Get("id")
		if id != strconv.Itoa(n) {
			t.Fatalf("expected id %d, got '%s'", n, id)
		}
		n++
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error %s", err)
	}
	if n != 50 {
		t.Fatalf("expected 50 frames, got %d", n)
	}
	if r.NextOffset != int64(len(d)) {
		t.Fatalf("expected NextOffset %d, got %d", len(d), r.NextOffset)
	}
}

func TestReadTimestamp(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := w.Write([]byte("x: y\n"), ts, "ev ent"); err != nil {
		t.Fatalf("Write() failed with %s", err)
	}
	r := NewReader(&buf)
	if !r.Next() {
		t.Fatalf("Next() failed with %v", r.Err())
	}
	if !r.Timestamp.Equal(ts) {
		t.Fatalf("expected %s, got %s", ts, r.Timestamp)
	}
	if r.Name != "ev ent" {
		t.Fatalf("expected name 'ev ent', got '%s'", r.Name)
	}
}

func TestWriteBadName(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	if _, err := w.Write(nil, time.Time{}, "1abc"); err == nil {
		t.Fatalf("expected error for name starting with digit")
	}
	if _, err := w.Write(nil, time.Time{}, "a\nb"); err == nil {
		t.Fatalf("expected error for name with newline")
	}
}

func TestEmptyInputIsNotAnError(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	if r.Next() {
		t.Fatalf("didn't expect a frame")
	}
	if r.Err() != nil {
		t.Fatalf("unexpected error %s", r.Err())
	}
	if !r.Done() {
		t.Fatalf("expected Done()")
	}
}

func TestCorruption(t *testing.T) {
	good := writeFrames(t, 3)
	secondFrame := bytes.Index(good[1:], hdrPrefix) + 1

	tests := []struct {
		name string
		d    []byte
	}{
		{"truncated body", good[:len(good)-3]},
		{"truncated header", append(append([]byte{}, good...), []byte("--- 1")...)},
		{"garbage header", append(append([]byte{}, good[:secondFrame]...), []byte("garbage\n")...)},
		{"bad size", []byte("--- x record\n")},
		{"missing padding", []byte("--- 4 record\nid: 1X")},
		{"bad body", []byte("--- 6 record\nid 1\n\n")},
		{"huge size", []byte("--- 999999999999999999 record\nid: 1\n")},
		{"size past end", []byte("--- 4000000000 record\nid: 1\n")},
		{"size overflows int64", []byte("--- 99999999999999999999 record\nid: 1\n")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(tc.d))
			for r.NextEntries() {
			}
			err := r.Err()
			if err == nil {
				t.Fatalf("expected an error")
			}
			var cerr *CorruptError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *CorruptError, got %T (%s)", err, err)
			}
		})
	}
}

func TestCorruptionOffset(t *testing.T) {
	good := writeFrames(t, 2)
	secondFrame := int64(bytes.Index(good[1:], hdrPrefix) + 1)
	d := append(append([]byte{}, good[:secondFrame]...), []byte("xx\n")...)
	r := NewReader(bytes.NewReader(d))
	n := 0
	for r.Next() {
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 good frame, got %d", n)
	}
	var cerr *CorruptError
	if !errors.As(r.Err(), &cerr) {
		t.Fatalf("expected *CorruptError, got %v", r.Err())
	}
	if cerr.Offset != secondFrame {
		t.Fatalf("expected offset %d, got %d", secondFrame, cerr.Offset)
	}
}
