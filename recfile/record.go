package recfile

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

/*
Body of a frame is a list of key/value pairs, one per line:

	key: value\n

Values that are empty, longer than maxLineValue or have bytes that
don't fit on a line are written in size-prefixed form:

	key:+$len\n
	value\n
*/

const maxLineValue = 120

// Entry is a single key/value pair of a body
type Entry struct {
	Key   string
	Value string
}

// Body accumulates key/value pairs for writing
type Body struct {
	buf bytes.Buffer
}

// Add appends key/value pairs. Values can be strings or ints.
func (b *Body) Add(args ...any) error {
	n := len(args)
	if n == 0 || n%2 != 0 {
		return fmt.Errorf("invalid number of args: %d. Should be multiple of 2", n)
	}
	var tmp []byte
	for i := 0; i < n; i += 2 {
		k := toStr(args[i], &tmp)
		if k == "" {
			return fmt.Errorf("empty key at position %d", i)
		}
		if !fitsOnLine(k) || strings.IndexByte(k, ':') >= 0 {
			return fmt.Errorf("invalid key '%s'", k)
		}
		v := toStr(args[i+1], &tmp)
		b.addKeyVal(k, v)
	}
	return nil
}

// Bytes returns serialized body, valid until next Reset
func (b *Body) Bytes() []byte {
	return b.buf.Bytes()
}

// Reset allows re-using the Body
func (b *Body) Reset() {
	b.buf.Reset()
}

func (b *Body) addKeyVal(key, val string) {
	b.buf.WriteString(key)
	if !needsSizePrefix(val) {
		b.buf.WriteString(": ")
		b.buf.WriteString(val)
		b.buf.WriteByte('\n')
		return
	}
	b.buf.WriteString(":+")
	b.buf.WriteString(strconv.Itoa(len(val)))
	b.buf.WriteByte('\n')
	b.buf.WriteString(val)
	// keep the next key at the start of a line
	if len(val) == 0 || val[len(val)-1] != '\n' {
		b.buf.WriteByte('\n')
	}
}

// perf: re-use buf
func toStr(v any, buf *[]byte) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		*buf = strconv.AppendInt((*buf)[:0], int64(x), 10)
		return string(*buf)
	case int64:
		*buf = strconv.AppendInt((*buf)[:0], x, 10)
		return string(*buf)
	}
	*buf = fmt.Appendf((*buf)[:0], "%v", v)
	return string(*buf)
}

func fitsOnLine(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 32 || c > 127 {
			return false
		}
	}
	return true
}

func needsSizePrefix(s string) bool {
	return len(s) == 0 || len(s) > maxLineValue || !fitsOnLine(s)
}

// Entries is the decoded form of a Body
type Entries []Entry

// Get returns value for a key
func (e Entries) Get(key string) (string, bool) {
	for _, kv := range e {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// ParseBody decodes data created by Body. Entries are appended to dst
// so that callers can re-use the slice.
func ParseBody(d []byte, dst Entries) (Entries, error) {
	res := dst[:0]
	for len(d) > 0 {
		idx := bytes.IndexByte(d, '\n')
		if idx == -1 {
			return nil, fmt.Errorf("missing '\\n' at the end of line '%s'", d)
		}
		line := d[:idx]
		d = d[idx+1:]
		idx = bytes.IndexByte(line, ':')
		if idx <= 0 || idx == len(line)-1 {
			return nil, fmt.Errorf("line in unrecognized format: '%s'", line)
		}
		key := string(line[:idx])
		kind := line[idx+1]
		val := line[idx+2:]
		switch kind {
		case ' ':
			res = append(res, Entry{Key: key, Value: string(val)})
			continue
		case '+':
			// size-prefixed value follows
		default:
			return nil, fmt.Errorf("line in unrecognized format: '%s'", line)
		}
		n, err := strconv.Atoi(string(val))
		if err != nil {
			return nil, fmt.Errorf("bad value size in '%s': %w", line, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("negative value size %d", n)
		}
		if n > len(d) {
			return nil, fmt.Errorf("value size %d greater than remaining data of size %d", n, len(d))
		}
		v := d[:n]
		d = d[n:]
		if len(d) > 0 && d[0] == '\n' {
			d = d[1:]
		}
		res = append(res, Entry{Key: key, Value: string(v)})
	}
	return res, nil
}
