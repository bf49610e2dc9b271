// Command recdb manages a single-file record store.
//
// Usage:
//
//	recdb [global flags] <command> [command flags]
//
// Record commands work on the local file given with -db, or on a running
// server when -server is given.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/kjk/recdb/client"
	"github.com/kjk/recdb/config"
	"github.com/kjk/recdb/journal"
	"github.com/kjk/recdb/log"
	"github.com/kjk/recdb/store"
	"github.com/kjk/recdb/u"
	"github.com/tidwall/pretty"
)

// records is implemented by a local store and by the HTTP client
type records interface {
	Add(ctx context.Context, rec store.Record) error
	DeleteByField(ctx context.Context, field, value string) ([]store.Record, error)
	SearchByField(ctx context.Context, field, value string) ([]store.Record, error)
	LoadAllFromFile(ctx context.Context) ([]store.Record, error)
	Records(ctx context.Context) ([]store.Record, error)
	IsUnique(ctx context.Context, id string) (bool, error)
	Backup(ctx context.Context, path string) error
	RestoreFromBackup(ctx context.Context, path string) (int, error)
}

// localStore adapts *store.Store to records
type localStore struct {
	st *store.Store
}

func (s *localStore) Add(ctx context.Context, rec store.Record) error {
	return s.st.Add(rec)
}

func (s *localStore) DeleteByField(ctx context.Context, field, value string) ([]store.Record, error) {
	return s.st.DeleteByField(field, value)
}

func (s *localStore) SearchByField(ctx context.Context, field, value string) ([]store.Record, error) {
	return s.st.SearchByField(field, value), nil
}

func (s *localStore) LoadAllFromFile(ctx context.Context) ([]store.Record, error) {
	return s.st.LoadAllFromFile()
}

func (s *localStore) Records(ctx context.Context) ([]store.Record, error) {
	return s.st.Records(), nil
}

func (s *localStore) IsUnique(ctx context.Context, id string) (bool, error) {
	return s.st.IsUnique(id), nil
}

func (s *localStore) Backup(ctx context.Context, path string) error {
	return s.st.BackupCompressed(path)
}

func (s *localStore) RestoreFromBackup(ctx context.Context, path string) (int, error) {
	if err := s.st.RestoreCompressed(path); err != nil {
		return 0, err
	}
	return s.st.Len(), nil
}

type app struct {
	ctx        context.Context
	cfg        *config.Config
	out        io.Writer
	jsonOut    bool
	serverAddr string
	proxy      string

	st *store.Store
	j  *journal.Journal
}

// openStore opens the local store, with journal attached if configured
func (a *app) openStore() (*store.Store, error) {
	if a.st != nil {
		return a.st, nil
	}
	st, err := store.Open(a.cfg.DB)
	if err != nil {
		return nil, err
	}
	if a.cfg.JournalDir != "" {
		if a.j, err = journal.Open(a.cfg.JournalDir); err != nil {
			return nil, err
		}
		a.j.Attach(st)
	}
	a.st = st
	return st, nil
}

func (a *app) records() (records, error) {
	if a.serverAddr != "" {
		c := client.New(a.serverAddr)
		if a.proxy != "" {
			if err := c.UseProxy(a.proxy); err != nil {
				return nil, err
			}
		}
		return c, nil
	}
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	return &localStore{st: st}, nil
}

func (a *app) close() {
	if a.j != nil {
		log.IfErrf(a.j.Close())
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) printJSON(v any) {
	d, err := json.Marshal(v)
	u.Must(err)
	_, _ = a.out.Write(pretty.Pretty(d))
}

type command struct {
	help string
	run  func(a *app, args []string) error
}

var commands = map[string]command{
	"add":         {"add a record", cmdAdd},
	"delete":      {"delete records where field = value", cmdDelete},
	"search":      {"show records where field = value", cmdSearch},
	"all":         {"show all records", cmdAll},
	"unique":      {"check if id is not used", cmdUnique},
	"backup":      {"copy the store file", cmdBackup},
	"restore":     {"replace the store file with a backup", cmdRestore},
	"serve":       {"run HTTP server", cmdServe},
	"journal":     {"show or compact the journal", cmdJournal},
	"config":      {"show effective config", cmdConfig},
	"s3-backup":   {"upload backup to S3", cmdS3Backup},
	"s3-restore":  {"restore from backup in S3", cmdS3Restore},
	"s3-list":     {"list backups in S3", cmdS3List},
	"ssh-backup":  {"upload backup over SSH", cmdSSHBackup},
	"ssh-restore": {"restore from backup uploaded over SSH", cmdSSHRestore},
	"ssh-list":    {"list backups uploaded over SSH", cmdSSHList},
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "usage: recdb [flags] <command> [command flags]\n\nflags:\n")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, "\ncommands:\n")
	var names []string
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-12s %s\n", name, commands[name].help)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var (
		flgDB      string
		flgConfig  string
		flgEnv     string
		flgLogDir  string
		flgJournal string
		flgServer  string
		flgProxy   string
		flgVerbose bool
		flgJSON    bool
	)
	fs := flag.NewFlagSet("recdb", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&flgDB, "db", "", "path of the store file (default "+config.DefaultDB+")")
	fs.StringVar(&flgConfig, "config", "", "path of TOML config file")
	fs.StringVar(&flgEnv, "env", "", "path of .env file with RECDB_* variables")
	fs.StringVar(&flgLogDir, "log-dir", "", "directory for log files")
	fs.StringVar(&flgJournal, "journal", "", "directory of the journal")
	fs.StringVar(&flgServer, "server", "", "address of recdb server to send record commands to")
	fs.StringVar(&flgProxy, "proxy", "", "HTTP proxy for talking to -server")
	fs.BoolVar(&flgVerbose, "v", false, "verbose logging")
	fs.BoolVar(&flgJSON, "json", false, "print records as JSON")
	if err := fs.Parse(args); err != nil {
		usage(out, fs)
		return err
	}
	if fs.NArg() == 0 {
		usage(out, fs)
		return errors.New("missing command")
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		usage(out, fs)
		return fmt.Errorf("unknown command '%s'", name)
	}

	cfg, err := config.Load(flgConfig, flgEnv)
	if err != nil {
		return err
	}
	// flags override config
	if flgDB != "" {
		cfg.DB = flgDB
	}
	if flgLogDir != "" {
		cfg.LogDir = flgLogDir
	}
	if flgJournal != "" {
		cfg.JournalDir = flgJournal
	}
	if flgVerbose {
		cfg.Verbose = true
	}

	log.Verbose = cfg.Verbose
	if cfg.LogDir != "" {
		log.Init(&log.Config{Dir: cfg.LogDir})
		defer log.Close()
	}

	a := &app{
		ctx:        ctx,
		cfg:        cfg,
		out:        out,
		jsonOut:    flgJSON,
		serverAddr: flgServer,
		proxy:      flgProxy,
	}
	defer a.close()
	return cmd.run(a, fs.Args()[1:])
}

func main() {
	// keep stdout for command output
	log.Out = os.Stderr
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		msg := err.Error()
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		fmt.Fprintf(os.Stderr, "Error: %s", msg)
		os.Exit(1)
	}
}
