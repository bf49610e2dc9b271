package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kjk/recdb/config"
	"github.com/kjk/recdb/httputil"
	"github.com/kjk/recdb/journal"
	"github.com/kjk/recdb/log"
	"github.com/kjk/recdb/minioutil"
	"github.com/kjk/recdb/server"
	"github.com/kjk/recdb/sshbackup"
	"github.com/kjk/recdb/store"
	"github.com/kjk/recdb/u"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %w", fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%s: unexpected arguments %v", fs.Name(), fs.Args())
	}
	return nil
}

func requireFlag(fs *flag.FlagSet, name string, v string) error {
	if v == "" {
		return fmt.Errorf("%s: missing -%s", fs.Name(), name)
	}
	return nil
}

func (a *app) printRecords(recs []store.Record) {
	for _, rec := range recs {
		a.printf("%s\n", rec)
	}
}

func cmdAdd(a *app, args []string) error {
	fs := newFlagSet("add")
	id := fs.String("id", "", "id of the record, must be unique")
	name := fs.String("name", "", "name")
	age := fs.String("age", "", "age, a number")
	address := fs.String("address", "", "address")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	rec, err := store.ParseRecord(*id, *name, *age, *address)
	if err != nil {
		return err
	}
	rs, err := a.records()
	if err != nil {
		return err
	}
	if err = rs.Add(a.ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return fmt.Errorf("record with id '%s' already exists", rec.ID)
		}
		return err
	}
	if a.jsonOut {
		a.printJSON(rec)
		return nil
	}
	a.printf("Record added: %s\n", rec)
	return nil
}

func fieldValueFlags(fs *flag.FlagSet) (*string, *string) {
	field := fs.String("field", "", "one of: id, name, age, address")
	value := fs.String("value", "", "value to match exactly")
	return field, value
}

// requireField warns about unknown fields, they match no records
func requireField(fs *flag.FlagSet, field string) error {
	if err := requireFlag(fs, "field", field); err != nil {
		return err
	}
	if !store.IsValidField(field) {
		log.Logf("%s: unknown field '%s', expected one of: %s\n", fs.Name(), field, strings.Join(store.Fields, ", "))
	}
	return nil
}

func cmdDelete(a *app, args []string) error {
	fs := newFlagSet("delete")
	field, value := fieldValueFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireField(fs, *field); err != nil {
		return err
	}
	rs, err := a.records()
	if err != nil {
		return err
	}
	removed, err := rs.DeleteByField(a.ctx, *field, *value)
	if err != nil {
		return err
	}
	if a.jsonOut {
		a.printJSON(removed)
		return nil
	}
	a.printRecords(removed)
	if len(removed) == 0 {
		a.printf("No records found for %s = %s\n", *field, *value)
	}
	a.printf("Records deleted.\n")
	return nil
}

func cmdSearch(a *app, args []string) error {
	fs := newFlagSet("search")
	field, value := fieldValueFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireField(fs, *field); err != nil {
		return err
	}
	rs, err := a.records()
	if err != nil {
		return err
	}
	found, err := rs.SearchByField(a.ctx, *field, *value)
	if err != nil {
		return err
	}
	if a.jsonOut {
		a.printJSON(found)
		return nil
	}
	a.printf("Search results:\n")
	a.printRecords(found)
	if len(found) == 0 {
		a.printf("No records found for %s = %s\n", *field, *value)
	}
	return nil
}

func cmdAll(a *app, args []string) error {
	fs := newFlagSet("all")
	memory := fs.Bool("memory", false, "show records in memory instead of reading the file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	rs, err := a.records()
	if err != nil {
		return err
	}
	var recs []store.Record
	if *memory {
		recs, err = rs.Records(a.ctx)
	} else {
		recs, err = rs.LoadAllFromFile(a.ctx)
	}
	if err != nil {
		return err
	}
	if a.jsonOut {
		a.printJSON(recs)
		return nil
	}
	a.printf("All Records:\n")
	a.printRecords(recs)
	if len(recs) == 0 {
		a.printf("No records available.\n")
	}
	return nil
}

func cmdUnique(a *app, args []string) error {
	fs := newFlagSet("unique")
	id := fs.String("id", "", "id to check")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	rs, err := a.records()
	if err != nil {
		return err
	}
	unique, err := rs.IsUnique(a.ctx, *id)
	if err != nil {
		return err
	}
	if a.jsonOut {
		a.printJSON(map[string]any{"id": *id, "unique": unique})
		return nil
	}
	if unique {
		a.printf("ID '%s' is unique\n", *id)
	} else {
		a.printf("ID '%s' already exists\n", *id)
	}
	return nil
}

func cmdBackup(a *app, args []string) error {
	fs := newFlagSet("backup")
	to := fs.String("to", "", "backup file, compressed if ends with .gz, .zst or .br")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "to", *to); err != nil {
		return err
	}
	rs, err := a.records()
	if err != nil {
		return err
	}
	if err = rs.Backup(a.ctx, *to); err != nil {
		return err
	}
	a.printf("Database backed up to %s\n", *to)
	return nil
}

func cmdRestore(a *app, args []string) error {
	fs := newFlagSet("restore")
	from := fs.String("from", "", "backup file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "from", *from); err != nil {
		return err
	}
	rs, err := a.records()
	if err != nil {
		return err
	}
	n, err := rs.RestoreFromBackup(a.ctx, *from)
	if err != nil {
		return err
	}
	a.printf("Database restored from %s, %d records\n", *from, n)
	return nil
}

func cmdServe(a *app, args []string) error {
	fs := newFlagSet("serve")
	addr := fs.String("addr", "", "address to listen on (default "+config.DefaultAddr+")")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *addr != "" {
		a.cfg.Addr = *addr
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	apiServer := server.New(st)
	if a.cfg.BackupDir != "" {
		apiServer.BackupDir = a.cfg.BackupDir
	}
	srv := httputil.NewServer(a.cfg.Addr, apiServer.Handler())
	return httputil.ListenAndRun(a.ctx, srv)
}

func cmdJournal(a *app, args []string) error {
	fs := newFlagSet("journal")
	compact := fs.Bool("compact", false, "replace journal entries with a single snapshot")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if a.cfg.JournalDir == "" {
		return errors.New("journal: journal directory is not configured, use -journal")
	}
	j, err := journal.Open(a.cfg.JournalDir)
	if err != nil {
		return err
	}
	defer j.Close()
	if *compact {
		n := len(j.Entries())
		if err = j.Compact(); err != nil {
			return err
		}
		a.printf("Compacted %d entries\n", n)
	}
	entries := j.Entries()
	if a.jsonOut {
		a.printJSON(entries)
		return nil
	}
	for _, e := range entries {
		a.printf("%s %-7s %8s %s\n", e.Time().Format(time.RFC3339), e.Kind, u.FormatSize(e.Size), e.Meta)
	}
	m, err := j.Replay()
	if err != nil {
		return err
	}
	a.printf("%d entries, %d records after replay\n", len(entries), len(m))
	return nil
}

func cmdConfig(a *app, args []string) error {
	if err := parseFlags(newFlagSet("config"), args); err != nil {
		return err
	}
	d, err := a.cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = a.out.Write(d)
	return err
}

func (a *app) s3Client() (*minioutil.Client, error) {
	c := a.cfg.S3
	return minioutil.New(a.ctx, &minioutil.Config{
		Access:   c.Access,
		Secret:   c.Secret,
		Bucket:   c.Bucket,
		Endpoint: c.Endpoint,
		Region:   c.Region,
		Insecure: c.Insecure,
	})
}

func cmdS3Backup(a *app, args []string) error {
	fs := newFlagSet("s3-backup")
	to := fs.String("to", "", "path in the bucket, compressed if ends with .gz, .zst or .br")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "to", *to); err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	mc, err := a.s3Client()
	if err != nil {
		return err
	}
	if _, err = mc.BackupStore(a.ctx, st, *to); err != nil {
		return err
	}
	a.printf("Database backed up to s3://%s/%s\n", mc.Bucket, *to)
	return nil
}

func cmdS3Restore(a *app, args []string) error {
	fs := newFlagSet("s3-restore")
	from := fs.String("from", "", "path in the bucket")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "from", *from); err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	mc, err := a.s3Client()
	if err != nil {
		return err
	}
	if err = mc.RestoreStore(a.ctx, st, *from); err != nil {
		return err
	}
	a.printf("Database restored from s3://%s/%s, %d records\n", mc.Bucket, *from, st.Len())
	return nil
}

type s3Object struct {
	Key  string    `json:"key"`
	Size int64     `json:"size"`
	Time time.Time `json:"time"`
}

func cmdS3List(a *app, args []string) error {
	fs := newFlagSet("s3-list")
	prefix := fs.String("prefix", "", "only list paths starting with prefix")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	mc, err := a.s3Client()
	if err != nil {
		return err
	}
	var objects []s3Object
	for obj := range mc.ListObjects(a.ctx, *prefix) {
		if obj.Err != nil {
			return obj.Err
		}
		objects = append(objects, s3Object{Key: obj.Key, Size: obj.Size, Time: obj.LastModified})
	}
	if a.jsonOut {
		a.printJSON(objects)
		return nil
	}
	for _, o := range objects {
		a.printf("%s %8s %s\n", o.Time.UTC().Format(time.RFC3339), u.FormatSize(o.Size), o.Key)
	}
	return nil
}

func (a *app) sshClient() (*sshbackup.Client, error) {
	c := a.cfg.SSH
	return sshbackup.New(&sshbackup.Config{
		Host:          c.Host,
		Port:          c.Port,
		User:          c.User,
		KeyPath:       c.KeyPath,
		KeyPassphrase: c.KeyPassphrase,
		RemoteDir:     c.RemoteDir,
	})
}

func cmdSSHBackup(a *app, args []string) error {
	fs := newFlagSet("ssh-backup")
	name := fs.String("name", "", "file name on the server, compressed if ends with .gz, .zst or .br")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "name", *name); err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	sc, err := a.sshClient()
	if err != nil {
		return err
	}
	defer sc.Close()
	if err = sc.Upload(a.ctx, st, *name); err != nil {
		return err
	}
	a.printf("Database backed up to %s:%s\n", a.cfg.SSH.Host, sc.RemotePath(*name))
	return nil
}

func cmdSSHRestore(a *app, args []string) error {
	fs := newFlagSet("ssh-restore")
	name := fs.String("name", "", "file name on the server")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "name", *name); err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	sc, err := a.sshClient()
	if err != nil {
		return err
	}
	defer sc.Close()
	if err = sc.Download(a.ctx, st, *name); err != nil {
		return err
	}
	a.printf("Database restored from %s:%s, %d records\n", a.cfg.SSH.Host, sc.RemotePath(*name), st.Len())
	return nil
}

func cmdSSHList(a *app, args []string) error {
	if err := parseFlags(newFlagSet("ssh-list"), args); err != nil {
		return err
	}
	sc, err := a.sshClient()
	if err != nil {
		return err
	}
	defer sc.Close()
	names, err := sc.List()
	if err != nil {
		return err
	}
	if a.jsonOut {
		a.printJSON(names)
		return nil
	}
	for _, name := range names {
		a.printf("%s\n", name)
	}
	return nil
}
