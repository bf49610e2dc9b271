// Package server exposes a record store over HTTP with JSON responses
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/kjk/recdb/api"
	"github.com/kjk/recdb/httputil"
	"github.com/kjk/recdb/log"
	"github.com/kjk/recdb/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "recdb_"
	maxBodySize  = 1 << 20
)

type Server struct {
	// metrics are registered here and served at /metrics
	Registry *prometheus.Registry

	// backup and restore only accept paths relative to BackupDir
	// that stay inside it. Defaults to directory of the store file.
	BackupDir string

	// store does no locking so all access goes through mu
	store *store.Store
	mu    sync.Mutex
	mux   *http.ServeMux

	requests    *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	storeErrors *prometheus.CounterVec
}

// New creates a server for st. st must not be used by others
// while the server is running.
func New(st *store.Store) *Server {
	s := &Server{
		Registry:  prometheus.NewRegistry(),
		BackupDir: filepath.Dir(st.Path()),
		store:     st,
		mux:       http.NewServeMux(),
	}
	s.registerMetrics()

	s.handle("POST /api/records", s.handleAdd)
	s.handle("GET /api/records", s.handleRecords)
	s.handle("GET /api/search", s.handleSearch)
	s.handle("POST /api/delete", s.handleDelete)
	s.handle("GET /api/unique", s.handleUnique)
	s.handle("POST /api/backup", s.handleBackup)
	s.handle("POST /api/restore", s.handleRestore)
	s.handle("POST /api/reload", s.handleReload)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	return s
}

func (s *Server) registerMetrics() {
	s.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "requests_total",
			Help: "API requests processed, partitioned by route and status code",
		},
		[]string{"route", "code"},
	)
	s.durations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "request_duration_seconds",
			Help:    "API request latencies in seconds, partitioned by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	s.storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "errors_total",
			Help: "API errors, partitioned by kind",
		},
		[]string{"kind"},
	)
	records := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "records",
			Help: "Number of records in the store",
		},
		func() float64 {
			s.mu.Lock()
			defer s.mu.Unlock()
			return float64(s.store.Len())
		},
	)
	s.Registry.MustRegister(
		s.requests,
		s.durations,
		s.storeErrors,
		records,
		collectors.NewGoCollector(),
	)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the server with request logging
func (s *Server) Handler() http.Handler {
	return httputil.WithLogging(s)
}

func statusForKind(kind string) int {
	switch kind {
	case api.KindDuplicate:
		return http.StatusConflict
	case api.KindBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type apiHandlerFunc func(r *http.Request) (*api.Response, error)

func (s *Server) handle(pattern string, fn apiHandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		timeStart := time.Now()
		code := http.StatusOK
		res, err := fn(r)
		if err != nil {
			res = api.ErrorResponse(err)
			code = statusForKind(res.Kind)
			s.storeErrors.WithLabelValues(res.Kind).Inc()
			if code >= 500 {
				log.Errorf("%s failed with '%s'\n", pattern, err)
			}
		} else {
			res.OK = true
		}
		httputil.ServeJSON(w, r, code, res)
		s.requests.WithLabelValues(pattern, strconv.Itoa(code)).Inc()
		s.durations.WithLabelValues(pattern).Observe(time.Since(timeStart).Seconds())
	})
}

// withStore runs fn with exclusive access to the store
func (s *Server) withStore(fn func(st *store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.store)
}

func recordsResponse(recs []store.Record) *api.Response {
	return &api.Response{
		Records: recs,
		Count:   len(recs),
	}
}

func requiredArg(r *http.Request, name string) (string, error) {
	q := r.URL.Query()
	if !q.Has(name) {
		return "", api.BadRequestf("missing '%s' argument", name)
	}
	return q.Get(name), nil
}

func requiredNonEmptyArg(r *http.Request, name string) (string, error) {
	v, err := requiredArg(r, name)
	if err == nil && v == "" {
		err = api.BadRequestf("'%s' argument is empty", name)
	}
	return v, err
}

// backupPath resolves "path" argument inside s.BackupDir
func (s *Server) backupPath(r *http.Request) (string, error) {
	name, err := requiredNonEmptyArg(r, "path")
	if err != nil {
		return "", err
	}
	if !filepath.IsLocal(name) {
		return "", api.BadRequestf("path '%s' must be relative to backup directory and not escape it", name)
	}
	return filepath.Join(s.BackupDir, name), nil
}

func fieldAndValue(r *http.Request) (string, string, error) {
	field, err := requiredArg(r, "field")
	if err != nil {
		return "", "", err
	}
	value, err := requiredArg(r, "value")
	return field, value, err
}

func (s *Server) handleAdd(r *http.Request) (*api.Response, error) {
	d, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(d) > maxBodySize {
		return nil, api.BadRequestf("body bigger than %d bytes", maxBodySize)
	}
	var rec store.Record
	if err = json.Unmarshal(d, &rec); err != nil {
		return nil, api.BadRequestf("invalid record: %s", err)
	}
	err = s.withStore(func(st *store.Store) error {
		return st.Add(rec)
	})
	if err != nil {
		return nil, err
	}
	return recordsResponse([]store.Record{rec}), nil
}

func (s *Server) handleRecords(r *http.Request) (*api.Response, error) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = api.SourceFile
	}
	var recs []store.Record
	err := s.withStore(func(st *store.Store) error {
		var err error
		switch source {
		case api.SourceFile:
			recs, err = st.LoadAllFromFile()
		case api.SourceMemory:
			recs = st.Records()
		default:
			err = api.BadRequestf("invalid source '%s', must be '%s' or '%s'", source, api.SourceFile, api.SourceMemory)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return recordsResponse(recs), nil
}

func (s *Server) handleSearch(r *http.Request) (*api.Response, error) {
	field, value, err := fieldAndValue(r)
	if err != nil {
		return nil, err
	}
	var recs []store.Record
	_ = s.withStore(func(st *store.Store) error {
		recs = st.SearchByField(field, value)
		return nil
	})
	return recordsResponse(recs), nil
}

func (s *Server) handleDelete(r *http.Request) (*api.Response, error) {
	field, value, err := fieldAndValue(r)
	if err != nil {
		return nil, err
	}
	var removed []store.Record
	err = s.withStore(func(st *store.Store) error {
		var err error
		removed, err = st.DeleteByField(field, value)
		return err
	})
	if err != nil {
		return nil, err
	}
	return recordsResponse(removed), nil
}

func (s *Server) handleUnique(r *http.Request) (*api.Response, error) {
	id, err := requiredArg(r, "id")
	if err != nil {
		return nil, err
	}
	res := &api.Response{}
	_ = s.withStore(func(st *store.Store) error {
		res.Unique = st.IsUnique(id)
		return nil
	})
	return res, nil
}

func (s *Server) handleBackup(r *http.Request) (*api.Response, error) {
	path, err := s.backupPath(r)
	if err != nil {
		return nil, err
	}
	err = s.withStore(func(st *store.Store) error {
		return st.BackupCompressed(path)
	})
	if err != nil {
		return nil, err
	}
	log.Logf("backed up to '%s'\n", path)
	return &api.Response{}, nil
}

func (s *Server) handleRestore(r *http.Request) (*api.Response, error) {
	path, err := s.backupPath(r)
	if err != nil {
		return nil, err
	}
	res := &api.Response{}
	err = s.withStore(func(st *store.Store) error {
		if err := st.RestoreCompressed(path); err != nil {
			return err
		}
		res.Count = st.Len()
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Logf("restored %d records from '%s'\n", res.Count, path)
	return res, nil
}

func (s *Server) handleReload(r *http.Request) (*api.Response, error) {
	res := &api.Response{}
	err := s.withStore(func(st *store.Store) error {
		if err := st.Reload(); err != nil {
			return err
		}
		res.Count = st.Len()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}
	return res, nil
}
