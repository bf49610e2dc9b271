package u

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression kinds, picked by file extension
const (
	CompressionNone   = ""
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionBrotli = "br"
	CompressionBzip2  = "bzip2"
)

// CompressionForPath returns compression kind implied by extension of path
func CompressionForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return CompressionGzip
	case ".zst", ".zstd":
		return CompressionZstd
	case ".br":
		return CompressionBrotli
	case ".bz2":
		return CompressionBzip2
	}
	return CompressionNone
}

// implement io.ReadCloser over a closer wrapped with io.Reader.
// Close() closes the decompressor (if it needs it) and then the underlying closer
type readerWrapped struct {
	r      io.Reader
	closeR func()
	c      io.Closer
}

func (rc *readerWrapped) Read(p []byte) (int, error) {
	return rc.r.Read(p)
}

func (rc *readerWrapped) Close() error {
	if rc.closeR != nil {
		rc.closeR()
	}
	if rc.c == nil {
		return nil
	}
	return rc.c.Close()
}

// NewDecompressingReader wraps r in a decompressor of a given kind.
// Closing the result doesn't close r.
func NewDecompressingReader(r io.Reader, kind string) (io.ReadCloser, error) {
	switch kind {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &readerWrapped{r: zr, closeR: zr.Close}, nil
	case CompressionBrotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	case CompressionBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	}
	return nil, fmt.Errorf("unknown compression '%s'", kind)
}

// OpenFileMaybeCompressed opens a file that might be compressed with gzip
// or bzip2 or zstd or brotli, based on file extension
func OpenFileMaybeCompressed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	kind := CompressionForPath(path)
	if kind == CompressionNone {
		return f, nil
	}
	r, err := NewDecompressingReader(f, kind)
	if err != nil {
		f.Close()
		return nil, err
	}
	rw := &readerWrapped{r: r, c: f}
	rw.closeR = func() { _ = r.Close() }
	return rw, nil
}

// ReadFileMaybeCompressed reads a file, decompressing based on extension
func ReadFileMaybeCompressed(path string) ([]byte, error) {
	r, err := OpenFileMaybeCompressed(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NewCompressingWriter wraps w in a compressor of a given kind.
// Close() must be called to flush compressed data. It doesn't close w.
func NewCompressingWriter(w io.Writer, kind string) (io.WriteCloser, error) {
	switch kind {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case CompressionZstd:
		// in my tests SpeedBestCompression is much slower and not much better
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CompressionBrotli:
		return brotli.NewWriterLevel(w, brotli.BestCompression), nil
	case CompressionBzip2:
		return nil, fmt.Errorf("writing bzip2 is not supported")
	}
	return nil, fmt.Errorf("unknown compression '%s'", kind)
}

// CompressData compresses d with a given kind of compression
func CompressData(d []byte, kind string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewCompressingWriter(&buf, kind)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(d)
	err2 := w.Close()
	if err == nil {
		err = err2
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
