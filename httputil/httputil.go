package httputil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kjk/recdb/log"
)

func JoinURL(s1, s2 string) string {
	if strings.HasSuffix(s1, "/") {
		if strings.HasPrefix(s2, "/") {
			return s1 + s2[1:]
		}
		return s1 + s2
	}

	if strings.HasPrefix(s2, "/") {
		return s1 + s2
	}
	return s1 + "/" + s2
}

// WithLogging logs every request to the http log
func WithLogging(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timeStart := time.Now()
		cw := NewCapturingResponseWriter(w)
		h.ServeHTTP(cw, r)
		dur := time.Since(timeStart)
		log.Verbosef("%s %s %d %d in %s\n", r.Method, r.URL.Path, cw.Code(), cw.Size, dur)
		log.IfErrf(log.HTTPRequest(r, cw.Code(), cw.Size, dur))
	})
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      handler,
	}
}

// RunServer serves on ln until ctx is cancelled, then shuts the server
// down, waiting up to 5 seconds for requests in progress
func RunServer(ctx context.Context, srv *http.Server, ln net.Listener) error {
	chServerClosed := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		// mute error caused by Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		chServerClosed <- err
	}()

	select {
	case err := <-chServerClosed:
		return err
	case <-ctx.Done():
	}

	// ctx is already done so Shutdown() needs a fresh one
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		log.Logf("RunServer: shutdown timed out\n")
		return srv.Close()
	}
	if err != nil {
		return err
	}
	return <-chServerClosed
}

// ListenAndRun is RunServer listening on srv.Addr
func ListenAndRun(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	log.Logf("listening on http://%s\n", ln.Addr())
	return RunServer(ctx, srv, ln)
}
