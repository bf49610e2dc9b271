// Package sshbackup stores record store backups on a server over SFTP
package sshbackup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kjk/recdb/log"
	"github.com/kjk/recdb/store"
	"github.com/kjk/recdb/u"
	"github.com/melbahja/goph"
	"github.com/pkg/sftp"
)

type Config struct {
	Host string
	// 22 if 0
	Port    uint
	User    string
	KeyPath string
	// passphrase of the key, if any
	KeyPassphrase string
	// backups are stored in this directory on the server
	RemoteDir string
}

type Client struct {
	RemoteDir string

	ssh  *goph.Client
	sftp *sftp.Client
}

func validateConfig(c *Config) error {
	if c == nil {
		return errors.New("must provide config")
	}
	var missing []string
	if c.Host == "" {
		missing = append(missing, "Host")
	}
	if c.User == "" {
		missing = append(missing, "User")
	}
	if c.KeyPath == "" {
		missing = append(missing, "KeyPath")
	}
	if c.RemoteDir == "" {
		missing = append(missing, "RemoteDir")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing config fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// New connects to the server. Host key is checked against ~/.ssh/known_hosts.
func New(c *Config) (*Client, error) {
	if err := validateConfig(c); err != nil {
		return nil, err
	}
	keyPath := u.ExpandTildeInPath(c.KeyPath)
	if !u.FileExists(keyPath) {
		return nil, fmt.Errorf("key file '%s' doesn't exist", keyPath)
	}
	auth, err := goph.Key(keyPath, c.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("goph.Key() failed with '%s'", err)
	}
	callback, err := goph.DefaultKnownHosts()
	if err != nil {
		return nil, err
	}
	port := c.Port
	if port == 0 {
		port = 22
	}
	client, err := goph.NewConn(&goph.Config{
		User:     c.User,
		Addr:     c.Host,
		Port:     port,
		Auth:     auth,
		Timeout:  goph.DefaultTimeout,
		Callback: callback,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s@%s:%d failed with '%s'", c.User, c.Host, port, err)
	}
	sftpClient, err := client.NewSftp()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("client.NewSftp() failed with '%s'", err)
	}
	return &Client{
		RemoteDir: c.RemoteDir,
		ssh:       client,
		sftp:      sftpClient,
	}, nil
}

func (c *Client) Close() error {
	err := c.sftp.Close()
	if err2 := c.ssh.Close(); err == nil {
		err = err2
	}
	return err
}

// RemotePath returns path on the server of a backup with a given name
func (c *Client) RemotePath(name string) string {
	return path.Join(c.RemoteDir, name)
}

// abort the transfer when ctx is cancelled. The connection can't be
// used after that.
func (c *Client) closeOnCancel(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
}

// Upload stores backing file of st as name in RemoteDir. The data is
// compressed if name ends with .gz, .zst or .br. The upload goes to
// a temporary file first so an existing backup is never half-written.
func (c *Client) Upload(ctx context.Context, st *store.Store, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := c.closeOnCancel(ctx)
	defer stop()

	if err := c.sftp.MkdirAll(c.RemoteDir); err != nil {
		return fmt.Errorf("sftp.MkdirAll('%s') failed with '%s'", c.RemoteDir, err)
	}
	remotePath := c.RemotePath(name)
	tmpPath := remotePath + ".tmp"
	f, err := c.sftp.Create(tmpPath)
	if err != nil {
		return err
	}
	cw, err := u.NewCompressingWriter(f, u.CompressionForPath(name))
	if err == nil {
		_, err = st.BackupTo(cw)
		if err2 := cw.Close(); err == nil {
			err = err2
		}
	}
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err == nil {
		err = c.sftp.PosixRename(tmpPath, remotePath)
	}
	if err != nil {
		_ = c.sftp.Remove(tmpPath)
		return err
	}
	log.Logf("uploaded '%s' to '%s'\n", st.Path(), remotePath)
	return nil
}

// Download restores st from backup name in RemoteDir
func (c *Client) Download(ctx context.Context, st *store.Store, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := c.closeOnCancel(ctx)
	defer stop()

	remotePath := c.RemotePath(name)
	rf, err := c.sftp.Open(remotePath)
	if err != nil {
		return err
	}
	defer rf.Close()

	// keep the extension so that compressed backups are recognized
	f, err := os.CreateTemp("", "recdb-restore-*"+filepath.Ext(name))
	if err != nil {
		return err
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)
	_, err = io.Copy(f, rf)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return fmt.Errorf("downloading '%s': %w", remotePath, err)
	}
	if err = st.RestoreCompressed(tmpPath); err != nil {
		return err
	}
	log.Logf("restored '%s' from '%s', %d records\n", st.Path(), remotePath, st.Len())
	return nil
}

// List returns names of files in RemoteDir, sorted
func (c *Client) List() ([]string, error) {
	files, err := c.sftp.ReadDir(c.RemoteDir)
	if err != nil {
		return nil, err
	}
	var res []string
	for _, fi := range files {
		if fi.Mode().IsRegular() && !strings.HasSuffix(fi.Name(), ".tmp") {
			res = append(res, fi.Name())
		}
	}
	sort.Strings(res)
	return res, nil
}
