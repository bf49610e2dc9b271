package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"
	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

func TestJoinURL(t *testing.T) {
	tests := []string{
		"foo", "bar", "foo/bar",
		"foo", "/bar", "foo/bar",
		"foo/", "bar", "foo/bar",
		"foo/", "/bar", "foo/bar",
	}
	n := len(tests)
	for i := 0; i < n; i += 3 {
		got := JoinURL(tests[i], tests[i+1])
		exp := tests[i+2]
		assert.Equal(t, exp, got)
	}
}

func TestAcceptedEncoding(t *testing.T) {
	tests := []string{
		"", "",
		"gzip", "gzip",
		"gzip, deflate, br", "br",
		"br;q=0, gzip", "gzip",
		"br; q=0", "",
		"deflate", "",
		"identity, gzip;q=0.5", "gzip",
	}
	for i := 0; i < len(tests); i += 2 {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Accept-Encoding", tests[i])
		got := AcceptedEncoding(r)
		assert.Equal(t, tests[i+1], got, "Accept-Encoding: '%s'", tests[i])
	}
	assert.Equal(t, "", AcceptedEncoding(nil))
}

type testPayload struct {
	Names []string `json:"names"`
}

func bigPayload() testPayload {
	var v testPayload
	for i := 0; i < 200; i++ {
		v.Names = append(v.Names, "name number")
	}
	return v
}

func serveJSONWithEncoding(t *testing.T, enc string, v any) *httptest.ResponseRecorder {
	r := httptest.NewRequest("GET", "/", nil)
	if enc != "" {
		r.Header.Set("Accept-Encoding", enc)
	}
	w := httptest.NewRecorder()
	ServeJSON(w, r, http.StatusCreated, v)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	return w
}

func TestServeJSON(t *testing.T) {
	v := bigPayload()
	exp, err := json.Marshal(v)
	assert.NoError(t, err)

	w := serveJSONWithEncoding(t, "", v)
	assert.Equal(t, "", w.Header().Get("Content-Encoding"))
	assert.Equal(t, exp, w.Body.Bytes())

	w = serveJSONWithEncoding(t, "gzip", v)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	gr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	assert.NoError(t, err)
	got, err := io.ReadAll(gr)
	assert.NoError(t, err)
	assert.Equal(t, exp, got)

	w = serveJSONWithEncoding(t, "gzip, br", v)
	assert.Equal(t, "br", w.Header().Get("Content-Encoding"))
	got, err = io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	assert.NoError(t, err)
	assert.Equal(t, exp, got)

	// small responses are not compressed
	w = serveJSONWithEncoding(t, "br", testPayload{Names: []string{"a"}})
	assert.Equal(t, "", w.Header().Get("Content-Encoding"))
	assert.Equal(t, `{"names":["a"]}`, w.Body.String())
}

func TestCapturingResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewCapturingResponseWriter(rec)
	assert.Equal(t, http.StatusOK, w.Code())
	_, err := w.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code())
	assert.Equal(t, int64(5), w.Size)

	w = NewCapturingResponseWriter(httptest.NewRecorder())
	w.WriteHeader(http.StatusNotFound)
	assert.Equal(t, http.StatusNotFound, w.Code())
}

func TestWithLogging(t *testing.T) {
	h := WithLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "nope"))
}

func TestRunServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	srv := NewServer("", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	ctx, cancel := context.WithCancel(context.Background())
	chDone := make(chan error, 1)
	go func() {
		chDone <- RunServer(ctx, srv, ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	assert.NoError(t, err)
	d, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.NoError(t, err)
	assert.Equal(t, "ok", string(d))

	cancel()
	select {
	case err = <-chDone:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatalf("RunServer didn't stop")
	}
}
