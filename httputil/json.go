package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/kjk/recdb/log"
	"github.com/kjk/recdb/u"
)

// responses smaller than that are not worth compressing
const minCompressSize = 512

// AcceptedEncoding returns "br", "gzip" or "" depending on what
// the client accepts. br is preferred.
func AcceptedEncoding(r *http.Request) string {
	if r == nil {
		return ""
	}
	gzipOk := false
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.ReplaceAll(strings.TrimSpace(params), " ", "") == "q=0" {
			continue
		}
		switch strings.TrimSpace(enc) {
		case "br":
			return "br"
		case "gzip":
			gzipOk = true
		}
	}
	if gzipOk {
		return "gzip"
	}
	return ""
}

// WriteCompressed writes d as response body, compressed if r accepts it
func WriteCompressed(w http.ResponseWriter, r *http.Request, code int, contentType string, d []byte) {
	hdr := w.Header()
	hdr.Set("Content-Type", contentType)
	// prevent caching compressed version for clients that don't accept it
	hdr.Add("Vary", "Accept-Encoding")
	enc := AcceptedEncoding(r)
	if enc != "" && len(d) >= minCompressSize {
		// Content-Encoding names match u compression kinds
		cd, err := u.CompressData(d, enc)
		if err == nil {
			hdr.Set("Content-Encoding", enc)
			d = cd
		} else {
			log.Errorf("compressing %d bytes with %s failed with '%s'\n", len(d), enc, err)
		}
	}
	hdr.Set("Content-Length", strconv.Itoa(len(d)))
	w.WriteHeader(code)
	_, _ = w.Write(d)
}

// ServeJSON writes v as JSON response
func ServeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	d, err := json.Marshal(v)
	if err != nil {
		log.Errorf("json.Marshal() failed with '%s'\n", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	WriteCompressed(w, r, code, "application/json; charset=utf-8", d)
}
