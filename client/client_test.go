package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/assert"
	"github.com/elazarl/goproxy"
	"github.com/kjk/recdb/api"
	"github.com/kjk/recdb/server"
	"github.com/kjk/recdb/store"
)

func newTestClient(t *testing.T) (*Client, *store.Store) {
	st, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	assert.NoError(t, err)
	ts := httptest.NewServer(server.New(st).Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL), st
}

var (
	alice = store.NewRecord("1", "Alice", 30, "X")
	bob   = store.NewRecord("2", "Bob", 41, "Y")
)

func TestClient(t *testing.T) {
	ctx := context.Background()
	c, st := newTestClient(t)

	assert.NoError(t, c.Add(ctx, alice))
	assert.NoError(t, c.Add(ctx, bob))
	err := c.Add(ctx, alice)
	assert.True(t, errors.Is(err, store.ErrDuplicateKey))
	var dupErr *store.DuplicateKeyError
	assert.True(t, errors.As(err, &dupErr))
	assert.Equal(t, "1", dupErr.ID)

	recs, err := c.SearchByField(ctx, store.FieldAge, "30")
	assert.NoError(t, err)
	assert.Equal(t, []store.Record{alice}, recs)

	unique, err := c.IsUnique(ctx, "3")
	assert.NoError(t, err)
	assert.True(t, unique)
	unique, err = c.IsUnique(ctx, "2")
	assert.NoError(t, err)
	assert.False(t, unique)

	recs, err = c.LoadAllFromFile(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []store.Record{alice, bob}, recs)

	removed, err := c.DeleteByField(ctx, store.FieldName, "Alice")
	assert.NoError(t, err)
	assert.Equal(t, []store.Record{alice}, removed)
	recs, err = c.Records(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []store.Record{bob}, recs)
	assert.Equal(t, 1, st.Len())

	// empty values are sent too
	recs, err = c.SearchByField(ctx, store.FieldAddress, "")
	assert.NoError(t, err)
	assert.Equal(t, 0, len(recs))
}

func TestClientBackupRestore(t *testing.T) {
	ctx := context.Background()
	c, st := newTestClient(t)
	assert.NoError(t, c.Add(ctx, alice))
	// relative to directory of the store file on the server
	backupPath := "backup.db.gz"
	assert.NoError(t, c.Backup(ctx, backupPath))
	_, err := os.Stat(filepath.Join(filepath.Dir(st.Path()), backupPath))
	assert.NoError(t, err)

	assert.NoError(t, c.Add(ctx, bob))
	n, err := c.RestoreFromBackup(ctx, backupPath)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = c.RestoreFromBackup(ctx, "missing.db")
	var ioErr *store.IOError
	assert.True(t, errors.As(err, &ioErr), "got %v", err)
	assert.Equal(t, "restore", ioErr.Op)

	assert.NoError(t, os.WriteFile(st.Path(), []byte("junk"), 0644))
	_, err = c.Reload(ctx)
	var loadErr *store.LoadError
	assert.True(t, errors.As(err, &loadErr), "got %v", err)
	assert.Equal(t, st.Path(), loadErr.Path)

	err = c.Backup(ctx, "")
	var badErr *api.BadRequestError
	assert.True(t, errors.As(err, &badErr), "got %v", err)
	err = c.Backup(ctx, "../escaped.db")
	assert.True(t, errors.As(err, &badErr), "got %v", err)
}

func TestClientNonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	c := New(ts.URL)
	_, err := c.Records(context.Background())
	assert.Error(t, err)
}

func TestClientUseProxy(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	var proxied atomic.Int32
	proxy := goproxy.NewProxyHttpServer()
	proxy.OnRequest().DoFunc(func(r *http.Request, pctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		proxied.Add(1)
		return r, nil
	})
	ps := httptest.NewServer(proxy)
	defer ps.Close()

	assert.Error(t, c.UseProxy("not a url"))
	assert.NoError(t, c.UseProxy(ps.URL))
	assert.NoError(t, c.Add(ctx, alice))
	recs, err := c.Records(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []store.Record{alice}, recs)
	assert.Equal(t, int32(2), proxied.Load())
}
