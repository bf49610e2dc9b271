package minioutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kjk/recdb/atomicfile"
	"github.com/kjk/recdb/log"
	"github.com/kjk/recdb/store"
	"github.com/kjk/recdb/u"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Access   string
	Secret   string
	Bucket   string
	Endpoint string
	Region   string
	// use http, e.g. for local minio server
	Insecure     bool
	RequestTrace io.Writer
}

type Client struct {
	Client *minio.Client
	config *Config
	Bucket string
}

func validateConfig(c *Config) error {
	if c == nil {
		return errors.New("must provide config")
	}
	var missing []string
	if c.Access == "" {
		missing = append(missing, "Access")
	}
	if c.Secret == "" {
		missing = append(missing, "Secret")
	}
	if c.Bucket == "" {
		missing = append(missing, "Bucket")
	}
	if c.Endpoint == "" {
		missing = append(missing, "Endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing config fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func newOptions(c *Config) *minio.Options {
	return &minio.Options{
		Creds:  credentials.NewStaticV4(c.Access, c.Secret, ""),
		Region: c.Region,
		Secure: !c.Insecure,
	}
}

// New connects to the S3 compatible service and checks that bucket exists
func New(ctx context.Context, config *Config) (*Client, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	mc, err := minio.New(config.Endpoint, newOptions(config))
	if err != nil {
		return nil, err
	}
	if config.RequestTrace != nil {
		mc.TraceOn(config.RequestTrace)
	}
	found, err := mc.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("bucket '%s' doesn't exist", config.Bucket)
	}
	return &Client{
		Client: mc,
		config: config,
		Bucket: config.Bucket,
	}, nil
}

func (c *Client) Exists(ctx context.Context, remotePath string) bool {
	_, err := c.Client.StatObject(ctx, c.Bucket, remotePath, minio.StatObjectOptions{})
	return err == nil
}

func (c *Client) Remove(ctx context.Context, remotePath string) error {
	return c.Client.RemoveObject(ctx, c.Bucket, remotePath, minio.RemoveObjectOptions{})
}

// ListObjects lists objects in the bucket whose path starts with prefix.
// Errors are sent as ObjectInfo with Err set.
func (c *Client) ListObjects(ctx context.Context, prefix string) <-chan minio.ObjectInfo {
	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}
	return c.Client.ListObjects(ctx, c.Bucket, opts)
}

// BackupStore uploads backing file of st as remotePath. The data is
// compressed if remotePath ends with .gz, .zst or .br.
func (c *Client) BackupStore(ctx context.Context, st *store.Store, remotePath string) (minio.UploadInfo, error) {
	kind := u.CompressionForPath(remotePath)
	pr, pw := io.Pipe()
	// unblocks the writer if upload fails early
	defer pr.Close()
	go func() {
		cw, err := u.NewCompressingWriter(pw, kind)
		if err == nil {
			_, err = st.BackupTo(cw)
			if err2 := cw.Close(); err == nil {
				err = err2
			}
		}
		pw.CloseWithError(err)
	}()
	opts := minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}
	// size is not known upfront when compressing
	info, err := c.Client.PutObject(ctx, c.Bucket, remotePath, pr, -1, opts)
	if err != nil {
		return info, err
	}
	log.Logf("uploaded '%s' as '%s' (%s)\n", st.Path(), remotePath, u.FormatSize(info.Size))
	return info, nil
}

// DownloadFile saves remotePath as dstPath. dstPath is written atomically.
func (c *Client) DownloadFile(ctx context.Context, dstPath string, remotePath string) error {
	obj, err := c.Client.GetObject(ctx, c.Bucket, remotePath, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()
	// ensure there's a dir for destination file
	if err = os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	_, err = atomicfile.CopyFrom(dstPath, obj)
	return err
}

// RestoreStore downloads remotePath created by BackupStore and restores
// st from it
func (c *Client) RestoreStore(ctx context.Context, st *store.Store, remotePath string) error {
	// keep the extension so that compressed backups are recognized
	f, err := os.CreateTemp("", "recdb-restore-*"+filepath.Ext(remotePath))
	if err != nil {
		return err
	}
	tmpPath := f.Name()
	f.Close()
	defer os.Remove(tmpPath)

	if err = c.DownloadFile(ctx, tmpPath, remotePath); err != nil {
		return fmt.Errorf("downloading '%s': %w", remotePath, err)
	}
	if err = st.RestoreCompressed(tmpPath); err != nil {
		return err
	}
	log.Logf("restored '%s' from '%s', %d records\n", st.Path(), remotePath, st.Len())
	return nil
}
