// Package config loads recdb settings.
//
// Values come from, in order of increasing priority:
//   - defaults
//   - a TOML file
//   - a .env file
//   - RECDB_* environment variables
//
// Command-line flags are applied by the caller on top of that.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kjk/recdb/u"
)

const (
	DefaultDB   = "records.db"
	DefaultAddr = "localhost:8420"
	EnvPrefix   = "RECDB_"
)

type S3 struct {
	Endpoint string `toml:"endpoint"`
	Bucket   string `toml:"bucket"`
	Access   string `toml:"access"`
	Secret   string `toml:"secret"`
	Region   string `toml:"region"`
	// use http instead of https, e.g. for local minio
	Insecure bool `toml:"insecure"`
}

type SSH struct {
	Host    string `toml:"host"`
	Port    uint   `toml:"port"`
	User    string `toml:"user"`
	KeyPath string `toml:"key_path"`
	// passphrase of the key, if any
	KeyPassphrase string `toml:"key_passphrase"`
	RemoteDir     string `toml:"remote_dir"`
}

type Config struct {
	DB      string `toml:"db"`
	LogDir  string `toml:"log_dir"`
	Verbose bool   `toml:"verbose"`
	// journal is not kept if empty
	JournalDir string `toml:"journal_dir"`
	Addr       string `toml:"addr"`
	// server backups and restores are limited to this directory,
	// directory of DB if empty
	BackupDir string `toml:"backup_dir"`

	S3  S3  `toml:"s3"`
	SSH SSH `toml:"ssh"`
}

func Default() *Config {
	return &Config{
		DB:   DefaultDB,
		Addr: DefaultAddr,
		SSH: SSH{
			Port: 22,
		},
	}
}

// Decode parses TOML config. Unknown keys are an error so that
// typos don't go unnoticed.
func Decode(d []byte, c *Config) error {
	md, err := toml.Decode(string(d), c)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		var keys []string
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// Marshal returns c in TOML format
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type envVar struct {
	name string
	str  *string
	b    *bool
	n    *uint
}

func (c *Config) envVars() []envVar {
	return []envVar{
		{name: "DB", str: &c.DB},
		{name: "LOG_DIR", str: &c.LogDir},
		{name: "VERBOSE", b: &c.Verbose},
		{name: "JOURNAL_DIR", str: &c.JournalDir},
		{name: "ADDR", str: &c.Addr},
		{name: "BACKUP_DIR", str: &c.BackupDir},
		{name: "S3_ENDPOINT", str: &c.S3.Endpoint},
		{name: "S3_BUCKET", str: &c.S3.Bucket},
		{name: "S3_ACCESS", str: &c.S3.Access},
		{name: "S3_SECRET", str: &c.S3.Secret},
		{name: "S3_REGION", str: &c.S3.Region},
		{name: "S3_INSECURE", b: &c.S3.Insecure},
		{name: "SSH_HOST", str: &c.SSH.Host},
		{name: "SSH_PORT", n: &c.SSH.Port},
		{name: "SSH_USER", str: &c.SSH.User},
		{name: "SSH_KEY_PATH", str: &c.SSH.KeyPath},
		{name: "SSH_KEY_PASSPHRASE", str: &c.SSH.KeyPassphrase},
		{name: "SSH_REMOTE_DIR", str: &c.SSH.RemoteDir},
	}
}

// ApplyEnv overrides values with RECDB_* variables from env.
// Variables that are not set don't change anything.
func (c *Config) ApplyEnv(env map[string]string) error {
	for _, v := range c.envVars() {
		name := EnvPrefix + v.name
		s, ok := env[name]
		if !ok {
			continue
		}
		switch {
		case v.str != nil:
			*v.str = s
		case v.b != nil:
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("%s: '%s' is not a bool", name, s)
			}
			*v.b = b
		case v.n != nil:
			n, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				return fmt.Errorf("%s: '%s' is not a number", name, s)
			}
			*v.n = uint(n)
		}
	}
	return nil
}

// Environ returns process environment as a map
func Environ() map[string]string {
	res := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			res[k] = v
		}
	}
	return res
}

// Load builds config from defaults, optional TOML file at path, optional
// .env file at envPath and process environment. Empty path skips a file.
func Load(path string, envPath string) (*Config, error) {
	c := Default()
	if path != "" {
		d, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err = Decode(d, c); err != nil {
			return nil, fmt.Errorf("config '%s': %w", path, err)
		}
	}
	if envPath != "" {
		d, err := os.ReadFile(envPath)
		if err != nil {
			return nil, err
		}
		env, err := u.ParseEnv(d)
		if err != nil {
			return nil, fmt.Errorf("env file '%s': %w", envPath, err)
		}
		if err = c.ApplyEnv(env); err != nil {
			return nil, fmt.Errorf("env file '%s': %w", envPath, err)
		}
	}
	if err := c.ApplyEnv(Environ()); err != nil {
		return nil, err
	}
	return c, nil
}
