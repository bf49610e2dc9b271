package httputil

import "net/http"

// CapturingResponseWriter remembers status code and number of bytes
// written so that they can be logged after the handler finishes
type CapturingResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Size       int64
}

func NewCapturingResponseWriter(w http.ResponseWriter) *CapturingResponseWriter {
	return &CapturingResponseWriter{
		ResponseWriter: w,
	}
}

func (w *CapturingResponseWriter) WriteHeader(statusCode int) {
	if w.StatusCode == 0 {
		w.StatusCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *CapturingResponseWriter) Write(d []byte) (int, error) {
	if w.StatusCode == 0 {
		// implicit WriteHeader(200)
		w.StatusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(d)
	w.Size += int64(n)
	return n, err
}

// Code returns status code sent to the client
func (w *CapturingResponseWriter) Code() int {
	if w.StatusCode == 0 {
		return http.StatusOK
	}
	return w.StatusCode
}

// for http.ResponseController
func (w *CapturingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
