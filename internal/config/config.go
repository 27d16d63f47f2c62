// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads process configuration. Values are layered as
// built-in defaults, then an optional YAML file, then command-line flags
// the user actually set.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/playerdb/internal/xdg"
)

// CodeInvalidConfig marks a configuration that failed validation.
const CodeInvalidConfig = "INVALID_CONFIG"

// Storage backends.
const (
	BackendFlatFile = "flatfile"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Environment variables consulted when no connection URL is configured.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvRedisURL    = "REDIS_URL"
)

// Config is the full process configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Storage StorageConfig `koanf:"storage"`
	Save    SaveConfig    `koanf:"save"`
	Ranks   RanksConfig   `koanf:"ranks"`
	Metrics MetricsConfig `koanf:"metrics"`
	Relay   RelayConfig   `koanf:"relay"`
	Admin   AdminConfig   `koanf:"admin"`
}

// LogConfig selects the log encoding and threshold.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// StorageConfig selects and locates the record backend.
type StorageConfig struct {
	Backend     string `koanf:"backend"`
	Path        string `koanf:"path"`
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`
	KeyPrefix   string `koanf:"key_prefix"`
}

// SaveConfig controls the periodic save.
type SaveConfig struct {
	Interval   time.Duration `koanf:"interval"`
	Jitter     time.Duration `koanf:"jitter"`
	MaxBackoff time.Duration `koanf:"max_backoff"`
	MaxRetries int           `koanf:"max_retries"`
}

// RanksConfig locates the rank definitions.
type RanksConfig struct {
	// File is a YAML rank definitions document. Empty uses the built-in set.
	File string `koanf:"file"`
	// Default overrides the default rank named in the definitions.
	Default string `koanf:"default"`
}

// MetricsConfig controls the observability endpoint.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `koanf:"addr"`
}

// RelayConfig controls event forwarding to NATS.
type RelayConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Embedded      bool   `koanf:"embedded"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Administrative actions that can be made to require a reason.
const (
	ActionBan        = "ban"
	ActionUnban      = "unban"
	ActionKick       = "kick"
	ActionRankChange = "rank"
)

// AdminConfig controls administrative actions.
type AdminConfig struct {
	// RequireReason lists the actions rejected without a reason.
	RequireReason []string `koanf:"require_reason"`
}

// Requires reports whether action must carry a reason.
func (a AdminConfig) Requires(action string) bool {
	for _, r := range a.RequireReason {
		if strings.EqualFold(r, action) {
			return true
		}
	}
	return false
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Log: LogConfig{Format: "json", Level: "info"},
		Storage: StorageConfig{
			Backend:   BackendFlatFile,
			KeyPrefix: "playerdb",
		},
		Save: SaveConfig{
			Interval:   time.Minute,
			Jitter:     5 * time.Second,
			MaxBackoff: 30 * time.Second,
			MaxRetries: 5,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Relay:   RelayConfig{SubjectPrefix: "playerdb"},
	}
}

// defaultValues flattens Defaults into koanf keys.
func defaultValues() map[string]any {
	d := Defaults()
	return map[string]any{
		"log.format":           d.Log.Format,
		"log.level":            d.Log.Level,
		"storage.backend":      d.Storage.Backend,
		"storage.path":         d.Storage.Path,
		"storage.database_url": d.Storage.DatabaseURL,
		"storage.redis_url":    d.Storage.RedisURL,
		"storage.key_prefix":   d.Storage.KeyPrefix,
		"save.interval":        d.Save.Interval,
		"save.jitter":          d.Save.Jitter,
		"save.max_backoff":     d.Save.MaxBackoff,
		"save.max_retries":     d.Save.MaxRetries,
		"ranks.file":           d.Ranks.File,
		"ranks.default":        d.Ranks.Default,
		"metrics.addr":         d.Metrics.Addr,
		"relay.enabled":        d.Relay.Enabled,
		"relay.embedded":       d.Relay.Embedded,
		"relay.nats_url":       d.Relay.NATSURL,
		"relay.subject_prefix": d.Relay.SubjectPrefix,
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-format":           "log.format",
	"log-level":            "log.level",
	"storage":              "storage.backend",
	"storage-path":         "storage.path",
	"database-url":         "storage.database_url",
	"redis-url":            "storage.redis_url",
	"redis-key-prefix":     "storage.key_prefix",
	"save-interval":        "save.interval",
	"save-jitter":          "save.jitter",
	"save-max-backoff":     "save.max_backoff",
	"save-max-retries":     "save.max_retries",
	"ranks-file":           "ranks.file",
	"default-rank":         "ranks.default",
	"metrics-addr":         "metrics.addr",
	"relay":                "relay.enabled",
	"relay-embedded":       "relay.embedded",
	"nats-url":             "relay.nats_url",
	"relay-subject-prefix": "relay.subject_prefix",
	"require-reason":       "admin.require_reason",
}

// RegisterFlags adds every configuration flag to fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("storage", d.Storage.Backend, "record backend (flatfile, postgres, redis)")
	fs.String("storage-path", d.Storage.Path, "flat-file record dump (default: XDG_DATA_HOME/playerdb/players.dat)")
	fs.String("database-url", d.Storage.DatabaseURL, "PostgreSQL URL (default: $DATABASE_URL)")
	fs.String("redis-url", d.Storage.RedisURL, "Redis URL (default: $REDIS_URL)")
	fs.String("redis-key-prefix", d.Storage.KeyPrefix, "prefix for Redis keys")
	fs.Duration("save-interval", d.Save.Interval, "time between periodic saves")
	fs.Duration("save-jitter", d.Save.Jitter, "random delay added to each save interval")
	fs.Duration("save-max-backoff", d.Save.MaxBackoff, "longest wait between save retries")
	fs.Int("save-max-retries", d.Save.MaxRetries, "retries after a failed periodic save")
	fs.String("ranks-file", d.Ranks.File, "YAML rank definitions (default: built-in ranks)")
	fs.String("default-rank", d.Ranks.Default, "rank given to new players (default: from definitions)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.Bool("relay", d.Relay.Enabled, "forward player events to NATS")
	fs.Bool("relay-embedded", d.Relay.Embedded, "run an in-process NATS server for the relay")
	fs.String("nats-url", d.Relay.NATSURL, "NATS server URL for the relay")
	fs.String("relay-subject-prefix", d.Relay.SubjectPrefix, "subject prefix for relayed events")
	fs.StringSlice("require-reason", d.Admin.RequireReason, "actions that need a reason (ban, unban, kick, rank)")
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the flags in fs that were set explicitly. fs may
// be nil. Missing connection URLs are taken from the environment.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	return load(path, fs, os.Getenv)
}

func load(path string, fs *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaultValues() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.In("config").With("key", key).Wrapf(err, "set default")
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").Code(CodeInvalidConfig).With("path", path).Wrapf(err, "load config file")
		}
	}

	if fs != nil {
		// Flags left at their defaults do not override keys already set
		// by the defaults or the file.
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Code(CodeInvalidConfig).Wrapf(err, "decode config")
	}

	cfg.Storage.applyEnv(getenv)
	if err := cfg.Storage.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *StorageConfig) applyEnv(getenv func(string) string) {
	if s.DatabaseURL == "" {
		s.DatabaseURL = getenv(EnvDatabaseURL)
	}
	if s.RedisURL == "" {
		s.RedisURL = getenv(EnvRedisURL)
	}
}

// ResolveDefaults fills the flat-file path from the XDG data directory when
// the flatfile backend is selected without one.
func (s *StorageConfig) ResolveDefaults() error {
	if s.Backend != BackendFlatFile || s.Path != "" {
		return nil
	}
	p, err := xdg.RecordFile()
	if err != nil {
		return oops.In("config").Code(CodeInvalidConfig).Wrapf(err, "resolve default storage path")
	}
	s.Path = p
	return nil
}

// Problems lists what is missing for the selected backend.
func (s StorageConfig) Problems() []string {
	switch s.Backend {
	case BackendFlatFile:
		if s.Path == "" {
			return []string{"storage.path is required for the flatfile backend"}
		}
	case BackendPostgres:
		if s.DatabaseURL == "" {
			return []string{fmt.Sprintf("storage.database_url (or %s) is required for the postgres backend", EnvDatabaseURL)}
		}
	case BackendRedis:
		if s.RedisURL == "" {
			return []string{fmt.Sprintf("storage.redis_url (or %s) is required for the redis backend", EnvRedisURL)}
		}
	default:
		return []string{fmt.Sprintf("storage.backend must be flatfile, postgres or redis, got %q", s.Backend)}
	}
	return nil
}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		add("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	problems = append(problems, c.Storage.Problems()...)

	if c.Save.Interval <= 0 {
		add("save.interval must be positive, got %s", c.Save.Interval)
	}
	if c.Save.Jitter < 0 {
		add("save.jitter must not be negative, got %s", c.Save.Jitter)
	}
	if c.Save.MaxBackoff <= 0 {
		add("save.max_backoff must be positive, got %s", c.Save.MaxBackoff)
	}
	if c.Save.MaxRetries < 0 {
		add("save.max_retries must not be negative, got %d", c.Save.MaxRetries)
	}

	if c.Relay.Enabled && !c.Relay.Embedded && c.Relay.NATSURL == "" {
		add("relay.nats_url is required when the relay is enabled without an embedded server")
	}
	if c.Relay.Enabled && c.Relay.SubjectPrefix == "" {
		add("relay.subject_prefix must not be empty")
	}

	for _, action := range c.Admin.RequireReason {
		switch strings.ToLower(action) {
		case ActionBan, ActionUnban, ActionKick, ActionRankChange:
		default:
			add("admin.require_reason: unknown action %q", action)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return oops.In("config").
		Code(CodeInvalidConfig).
		With("problems", problems).
		Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}
