package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert"
	"github.com/kjk/recdb/log"
	"github.com/kjk/recdb/server"
	"github.com/kjk/recdb/store"
)

// runCmd runs recdb with args and returns its output
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := run(context.Background(), args, &buf)
	return buf.String(), err
}

func runCmdMust(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCmd(t, args...)
	assert.NoError(t, err, "args: %v", args)
	return out
}

func TestRecordCommands(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "records.db")

	out := runCmdMust(t, "-db", db, "all")
	assert.Equal(t, "All Records:\nNo records available.\n", out)

	out = runCmdMust(t, "-db", db, "add", "-id", "1", "-name", "Alice", "-age", "30", "-address", "X")
	assert.Equal(t, "Record added: ID: 1, Name: Alice, Age: 30, Address: X\n", out)
	runCmdMust(t, "-db", db, "add", "-id", "2", "-name", "Bob", "-age", "41", "-address", "Y")

	_, err := runCmd(t, "-db", db, "add", "-id", "1", "-name", "Other", "-age", "1", "-address", "Z")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"), err.Error())
	_, err = runCmd(t, "-db", db, "add", "-id", "3", "-name", "C", "-age", "old", "-address", "Z")
	assert.Error(t, err)

	out = runCmdMust(t, "-db", db, "search", "-field", "age", "-value", "30")
	assert.Equal(t, "Search results:\nID: 1, Name: Alice, Age: 30, Address: X\n", out)
	out = runCmdMust(t, "-db", db, "search", "-field", "name", "-value", "Carol")
	assert.Equal(t, "Search results:\nNo records found for name = Carol\n", out)

	out = runCmdMust(t, "-db", db, "unique", "-id", "2")
	assert.Equal(t, "ID '2' already exists\n", out)

	out = runCmdMust(t, "-db", db, "delete", "-field", "name", "-value", "Alice")
	assert.Equal(t, "ID: 1, Name: Alice, Age: 30, Address: X\nRecords deleted.\n", out)
	out = runCmdMust(t, "-db", db, "delete", "-field", "name", "-value", "Alice")
	assert.Equal(t, "No records found for name = Alice\nRecords deleted.\n", out)

	out = runCmdMust(t, "-db", db, "all", "-memory")
	assert.Equal(t, "All Records:\nID: 2, Name: Bob, Age: 41, Address: Y\n", out)

	out = runCmdMust(t, "-db", db, "-json", "all")
	var recs []store.Record
	assert.NoError(t, json.Unmarshal([]byte(out), &recs))
	assert.Equal(t, []store.Record{store.NewRecord("2", "Bob", 41, "Y")}, recs)
}

func TestBackupRestoreCommands(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "records.db")
	backup := filepath.Join(dir, "backup.db.zst")
	runCmdMust(t, "-db", db, "add", "-id", "1", "-name", "Alice", "-age", "30", "-address", "X")

	out := runCmdMust(t, "-db", db, "backup", "-to", backup)
	assert.Equal(t, "Database backed up to "+backup+"\n", out)

	other := filepath.Join(dir, "other.db")
	out = runCmdMust(t, "-db", other, "restore", "-from", backup)
	assert.Equal(t, "Database restored from "+backup+", 1 records\n", out)
	out = runCmdMust(t, "-db", other, "all")
	assert.Equal(t, "All Records:\nID: 1, Name: Alice, Age: 30, Address: X\n", out)

	_, err := runCmd(t, "-db", db, "restore", "-from", filepath.Join(dir, "missing.db"))
	assert.Error(t, err)
	_, err = runCmd(t, "-db", db, "backup")
	assert.Error(t, err)
}

func TestJournalCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "records.db")
	jdir := filepath.Join(dir, "journal")
	runCmdMust(t, "-db", db, "-journal", jdir, "add", "-id", "1", "-name", "A", "-age", "1", "-address", "X")
	runCmdMust(t, "-db", db, "-journal", jdir, "add", "-id", "2", "-name", "B", "-age", "2", "-address", "X")
	runCmdMust(t, "-db", db, "-journal", jdir, "delete", "-field", "id", "-value", "1")

	out := runCmdMust(t, "-journal", jdir, "journal")
	assert.True(t, strings.HasSuffix(out, "3 entries, 1 records after replay\n"), out)
	out = runCmdMust(t, "-journal", jdir, "journal", "-compact")
	assert.True(t, strings.HasPrefix(out, "Compacted 3 entries\n"), out)
	assert.True(t, strings.HasSuffix(out, "1 entries, 1 records after replay\n"), out)

	_, err := runCmd(t, "journal")
	assert.Error(t, err)
}

func TestRemoteCommands(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	assert.NoError(t, err)
	ts := httptest.NewServer(server.New(st).Handler())
	defer ts.Close()

	out := runCmdMust(t, "-server", ts.URL, "add", "-id", "1", "-name", "Alice", "-age", "30", "-address", "X")
	assert.Equal(t, "Record added: ID: 1, Name: Alice, Age: 30, Address: X\n", out)
	assert.Equal(t, 1, st.Len())
	_, err = runCmd(t, "-server", ts.URL, "add", "-id", "1", "-name", "Alice", "-age", "30", "-address", "X")
	assert.Error(t, err)

	out = runCmdMust(t, "-server", ts.URL, "search", "-field", "id", "-value", "1")
	assert.Equal(t, "Search results:\nID: 1, Name: Alice, Age: 30, Address: X\n", out)
}

func TestUsageErrors(t *testing.T) {
	_, err := runCmd(t)
	assert.Error(t, err)
	out, err := runCmd(t, "frobnicate")
	assert.Error(t, err)
	assert.True(t, strings.Contains(out, "commands:"), out)
	_, err = runCmd(t, "-db", filepath.Join(t.TempDir(), "x.db"), "search", "-value", "1")
	assert.Error(t, err)
	_, err = runCmd(t, "-db", filepath.Join(t.TempDir(), "x.db"), "all", "extra")
	assert.Error(t, err)
}

func TestUnknownFieldWarns(t *testing.T) {
	var logged bytes.Buffer
	prevOut := log.Out
	log.Out = &logged
	defer func() { log.Out = prevOut }()

	db := filepath.Join(t.TempDir(), "people.db")
	runCmdMust(t, "-db", db, "add", "-id", "1", "-name", "Alice", "-age", "30", "-address", "X")
	out := runCmdMust(t, "-db", db, "search", "-field", "Name", "-value", "Alice")
	assert.Equal(t, "Search results:\nNo records found for Name = Alice\n", out)
	assert.True(t, strings.Contains(logged.String(), "search: unknown field 'Name'"), logged.String())

	logged.Reset()
	runCmdMust(t, "-db", db, "search", "-field", "name", "-value", "Alice")
	assert.Equal(t, "", logged.String())
}

func TestS3ListNeedsConfig(t *testing.T) {
	out, err := runCmd(t, "frobnicate")
	assert.Error(t, err)
	assert.True(t, strings.Contains(out, "s3-list"), out)

	_, err = runCmd(t, "-db", filepath.Join(t.TempDir(), "x.db"), "s3-list", "-prefix", "backups/")
	assert.Error(t, err)
	_, err = runCmd(t, "-db", filepath.Join(t.TempDir(), "x.db"), "s3-list", "extra")
	assert.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	out := runCmdMust(t, "-db", "people.db", "config")
	assert.True(t, strings.Contains(out, `db = "people.db"`), out)
}
