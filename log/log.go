// Package log prints messages and, after Init, appends them to daily files.
//
// Files live under <dir>/<kind>/YYYY-MM-DD.txt where kind is one of
// log, errors, http and events. A file is created on first write.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kjk/recdb/recfile"

	"github.com/toon-format/toon-go"
)

const (
	kindLog    = "log"
	kindErrors = "errors"
	kindHTTP   = "http"
	kindEvents = "events"
)

var (
	// if true, Verbosef() will log messages
	Verbose bool

	// where Logf() prints, in addition to the log file
	Out io.Writer = os.Stdout

	mu    sync.Mutex
	files map[string]*dailyFile
)

// dailyFile appends to a file named after the current UTC date
type dailyFile struct {
	dir  string
	day  string
	file *os.File
	mu   sync.Mutex
}

func (f *dailyFile) write(d []byte) error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	if f.file != nil && f.day != day {
		if err := f.close(); err != nil {
			return err
		}
	}
	if f.file == nil {
		if err := os.MkdirAll(f.dir, 0755); err != nil {
			return err
		}
		path := filepath.Join(f.dir, day+".txt")
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		f.file = file
		f.day = day
	}
	_, err := f.file.Write(d)
	return err
}

func (f *dailyFile) close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Sync()
	if err2 := f.file.Close(); err == nil {
		err = err2
	}
	f.file = nil
	f.day = ""
	return err
}

func fileFor(kind string) *dailyFile {
	mu.Lock()
	defer mu.Unlock()
	return files[kind]
}

func writeTo(kind string, d []byte) error {
	return fileFor(kind).write(d)
}

type Config struct {
	// directory where log files are stored
	Dir string
}

// Init starts logging to files in config.Dir.
// Without Init, logging only goes to Out.
func Init(config *Config) {
	m := map[string]*dailyFile{}
	for _, kind := range []string{kindLog, kindErrors, kindHTTP, kindEvents} {
		m[kind] = &dailyFile{dir: filepath.Join(config.Dir, kind)}
	}
	mu.Lock()
	files = m
	mu.Unlock()
}

// Close closes log files. Logging goes only to Out until the next Init.
func Close() {
	mu.Lock()
	m := files
	files = nil
	mu.Unlock()
	for _, f := range m {
		f.mu.Lock()
		_ = f.close()
		f.mu.Unlock()
	}
}

func Logf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	fmt.Fprint(Out, s)
	_ = writeTo(kindLog, []byte(s))
}

func Verbosef(format string, args ...any) {
	if Verbose {
		Logf(format, args...)
	}
}

// callstack returns "func file:line" of callers, skipping runtime frames
func callstack(skip int) string {
	var pcs [32]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		fr, more := frames.Next()
		if !strings.HasPrefix(fr.Function, "runtime.") && !strings.HasPrefix(fr.Function, "testing.") {
			sb.WriteString(fr.Function + " " + fr.File + ":" + strconv.Itoa(fr.Line) + "\n")
		}
		if !more {
			break
		}
	}
	return sb.String()
}

// Errorf logs an error message along with the callstack
func Errorf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	msg := "Error: " + strings.TrimSuffix(s, "\n") + "\n" + callstack(2)
	Logf("%s", msg)
	_ = writeTo(kindErrors, []byte(msg))
}

// if err != nil, log and return true
// IfErrf(err) => logs err.Error()
// IfErrf(err, "error is: %v", err) => logs message formatted
func IfErrf(err error, a ...any) bool {
	if err == nil {
		return false
	}
	if len(a) == 0 {
		Errorf("%s", err.Error())
		return true
	}
	s := fmt.Sprint(a[0])
	if len(a) > 1 {
		s = fmt.Sprintf(s, a[1:]...)
	}
	Errorf("%s", s)
	return true
}

// MarshalEvent serializes an event as a recfile frame named name.
// vals are key / value pairs, keys must be strings. They're encoded as toon.
func MarshalEvent(name string, t time.Time, vals ...any) ([]byte, error) {
	if len(vals)%2 != 0 {
		return nil, fmt.Errorf("odd number of values: %d", len(vals))
	}
	var body []byte
	if len(vals) > 0 {
		m := make(map[string]any, len(vals)/2)
		for i := 0; i < len(vals); i += 2 {
			k, ok := vals[i].(string)
			if !ok {
				return nil, fmt.Errorf("key at %d is %T, not string", i, vals[i])
			}
			m[k] = vals[i+1]
		}
		var err error
		if body, err = toon.Marshal(m); err != nil {
			return nil, err
		}
	}
	return recfile.MarshalFrame(name, t, body, nil), nil
}

// Event logs a named event with key/value pairs to the events log
func Event(name string, vals ...any) {
	if fileFor(kindEvents) == nil {
		return
	}
	d, err := MarshalEvent(name, time.Now().UTC(), vals...)
	if err != nil {
		Errorf("Event('%s'): %s", name, err)
		return
	}
	_ = writeTo(kindEvents, d)
}

// RemoteIP returns ip of the client, looking at proxy headers first
func RemoteIP(r *http.Request) string {
	for _, hdr := range []string{"CF-Connecting-IP", "X-Real-Ip", "X-Forwarded-For"} {
		if v := r.Header.Get(hdr); v != "" {
			first, _, _ := strings.Cut(v, ",")
			return strings.TrimSpace(first)
		}
	}
	return r.RemoteAddr
}

type httpEntry struct {
	Time      int64   `json:"ts"`
	Method    string  `json:"method"`
	Path      string  `json:"url"`
	Query     string  `json:"query,omitempty"`
	IP        string  `json:"ip"`
	Code      int     `json:"code"`
	Size      int64   `json:"size"`
	DurMs     float64 `json:"dur"`
	UserAgent string  `json:"ua,omitempty"`
}

// HTTPRequest logs a request as a JSON line to the http log
func HTTPRequest(r *http.Request, code int, nWritten int64, dur time.Duration) error {
	query := r.URL.RawQuery
	if len(query) > 128 {
		query = query[:128]
	}
	e := httpEntry{
		Time:      time.Now().UTC().Unix(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     query,
		IP:        RemoteIP(r),
		Code:      code,
		Size:      nWritten,
		DurMs:     float64(dur.Microseconds()) / 1000,
		UserAgent: r.Header.Get("User-Agent"),
	}
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return err
	}
	return writeTo(kindHTTP, []byte(sb.String()))
}
