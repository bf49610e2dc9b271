// Package client talks to recdb server.
// Errors returned by the server are turned back into store error types
// so that errors.As works the same as with a local store.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/kjk/recdb/api"
	"github.com/kjk/recdb/httputil"
	"github.com/kjk/recdb/store"
)

type Client struct {
	// e.g. http://localhost:8420
	BaseURL string
	// if nil, http.DefaultClient is used
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		BaseURL: baseURL,
	}
}

// UseProxy sends all requests through HTTP proxy at proxyURL
func (c *Client) UseProxy(proxyURL string) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid proxy url '%s'", proxyURL)
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = http.ProxyURL(u)
	c.HTTPClient = &http.Client{Transport: tr}
	return nil
}

// error responses are JSON too so only reject non-JSON errors
func validateResponse(res *http.Response) error {
	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		return nil
	}
	return requests.DefaultValidator(res)
}

func (c *Client) builder(path string, params ...string) *requests.Builder {
	b := requests.
		URL(httputil.JoinURL(c.BaseURL, path)).
		AddValidator(validateResponse)
	if c.HTTPClient != nil {
		b = b.Client(c.HTTPClient)
	}
	for i := 0; i+1 < len(params); i += 2 {
		b = b.Param(params[i], params[i+1])
	}
	return b
}

func (c *Client) do(ctx context.Context, b *requests.Builder) (*api.Response, error) {
	var res api.Response
	if err := b.ToJSON(&res).Fetch(ctx); err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) get(ctx context.Context, path string, params ...string) (*api.Response, error) {
	return c.do(ctx, c.builder(path, params...))
}

func (c *Client) post(ctx context.Context, path string, params ...string) (*api.Response, error) {
	return c.do(ctx, c.builder(path, params...).Post())
}

// Add adds a record. Returns *store.DuplicateKeyError if id is taken.
func (c *Client) Add(ctx context.Context, rec store.Record) error {
	b := c.builder("/api/records").BodyJSON(rec).Post()
	_, err := c.do(ctx, b)
	return err
}

// LoadAllFromFile returns records as stored in the backing file
func (c *Client) LoadAllFromFile(ctx context.Context) ([]store.Record, error) {
	res, err := c.get(ctx, "/api/records", "source", api.SourceFile)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Records returns records from server's memory, sorted by id
func (c *Client) Records(ctx context.Context) ([]store.Record, error) {
	res, err := c.get(ctx, "/api/records", "source", api.SourceMemory)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

func (c *Client) SearchByField(ctx context.Context, field, value string) ([]store.Record, error) {
	res, err := c.get(ctx, "/api/search", "field", field, "value", value)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// DeleteByField returns deleted records
func (c *Client) DeleteByField(ctx context.Context, field, value string) ([]store.Record, error) {
	res, err := c.post(ctx, "/api/delete", "field", field, "value", value)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

func (c *Client) IsUnique(ctx context.Context, id string) (bool, error) {
	res, err := c.get(ctx, "/api/unique", "id", id)
	if err != nil {
		return false, err
	}
	return res.Unique, nil
}

// Backup makes the server copy its backing file to path on the server.
// path is relative to the server's backup directory. It's compressed
// if it ends with .gz, .zst or .br.
func (c *Client) Backup(ctx context.Context, path string) error {
	_, err := c.post(ctx, "/api/backup", "path", path)
	return err
}

// RestoreFromBackup makes the server restore from path created by Backup.
// Returns number of records after restore.
func (c *Client) RestoreFromBackup(ctx context.Context, path string) (int, error) {
	res, err := c.post(ctx, "/api/restore", "path", path)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Reload makes the server re-read its backing file.
// Returns number of records.
func (c *Client) Reload(ctx context.Context) (int, error) {
	res, err := c.post(ctx, "/api/reload")
	if err != nil {
		return 0, fmt.Errorf("reload: %w", err)
	}
	return res.Count, nil
}
