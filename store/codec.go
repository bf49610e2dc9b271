package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/kjk/recdb/recfile"
)

// name of recfile frames holding a record
const recordFrameName = "record"

// WriteRecords serializes records to w as a stream of recfile frames
func WriteRecords(w io.Writer, recs []Record) error {
	bw := bufio.NewWriter(w)
	rw := recfile.NewWriter(bw)
	// the file content should only depend on the records
	rw.NoTimestamp = true
	var body recfile.Body
	for _, rec := range recs {
		err := body.Add(
			FieldID, rec.ID,
			FieldName, rec.Name,
			FieldAge, rec.Age,
			FieldAddress, rec.Address,
		)
		if err != nil {
			return err
		}
		if _, err = rw.WriteBody(&body, recordFrameName); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// MarshalRecords serializes records to bytes
func MarshalRecords(recs []Record) []byte {
	var buf bytes.Buffer
	// writing to bytes.Buffer doesn't fail and keys are valid
	_ = WriteRecords(&buf, recs)
	return buf.Bytes()
}

func getEntry(entries recfile.Entries, key string) (string, error) {
	v, ok := entries.Get(key)
	if !ok {
		return "", fmt.Errorf("missing '%s'", key)
	}
	return v, nil
}

func decodeRecord(entries recfile.Entries) (Record, error) {
	var rec Record
	var err error
	if rec.ID, err = getEntry(entries, FieldID); err != nil {
		return rec, err
	}
	if rec.Name, err = getEntry(entries, FieldName); err != nil {
		return rec, err
	}
	if rec.Address, err = getEntry(entries, FieldAddress); err != nil {
		return rec, err
	}
	age, err := getEntry(entries, FieldAge)
	if err != nil {
		return rec, err
	}
	if rec.Age, err = strconv.Atoi(age); err != nil {
		return rec, fmt.Errorf("bad age '%s'", age)
	}
	return rec, nil
}

// ReadRecords decodes a stream written by WriteRecords, in stream order.
// Reaching the end of r between records is the normal end.
// Any decoding problem is returned as *recfile.CorruptError.
func ReadRecords(r io.Reader) ([]Record, error) {
	var res []Record
	rr := recfile.NewReader(r)
	for rr.NextEntries() {
		if rr.Name != recordFrameName {
			return nil, &recfile.CorruptError{Offset: rr.Offset, Err: fmt.Errorf("unexpected frame '%s'", rr.Name)}
		}
		rec, err := decodeRecord(rr.Entries)
		if err != nil {
			return nil, &recfile.CorruptError{Offset: rr.Offset, Err: err}
		}
		res = append(res, rec)
	}
	if err := rr.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// UnmarshalRecords decodes data created by MarshalRecords
func UnmarshalRecords(d []byte) ([]Record, error) {
	return ReadRecords(bytes.NewReader(d))
}

func newLoadError(path string, err error) *LoadError {
	var cerr *recfile.CorruptError
	if errors.As(err, &cerr) {
		return &LoadError{Path: path, Offset: cerr.Offset, Err: cerr.Err}
	}
	return &LoadError{Path: path, Offset: -1, Err: err}
}
