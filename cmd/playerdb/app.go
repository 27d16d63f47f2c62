// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/playerdb/internal/config"
	"github.com/holomush/playerdb/internal/directory"
	"github.com/holomush/playerdb/internal/logging"
	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/relay"
	"github.com/holomush/playerdb/internal/store"
	"github.com/holomush/playerdb/internal/store/flatfile"
	"github.com/holomush/playerdb/internal/store/postgres"
	"github.com/holomush/playerdb/internal/store/redis"
	"github.com/holomush/playerdb/internal/xdg"
)

const (
	configFlag  = "config"
	serviceName = "playerdb"
)

// loadConfig reads the configuration for cmd. Without --config, the XDG
// config file is used when it exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return nil, oops.In("cli").Wrap(err)
	}
	if path == "" {
		if def, defErr := xdg.ConfigFile(); defErr == nil {
			if _, statErr := os.Stat(def); statErr == nil {
				path = def
			}
		}
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the configured logger as the default and returns it.
func setupLogging(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, level, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return logger, nil
}

// loadRanks builds the rank model from the configured definitions file, or
// from the built-in ranks when none is configured.
func loadRanks(cfg config.RanksConfig) (*rank.Model, error) {
	defs := rank.DefaultDefinitions()
	if cfg.File != "" {
		loaded, err := rank.LoadDefinitions(cfg.File)
		if err != nil {
			return nil, err
		}
		defs = loaded
	}
	if cfg.Default != "" {
		defs.Default = cfg.Default
	}
	return defs.Build()
}

// openBackend connects to the storage backend cfg selects.
func openBackend(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendFlatFile:
		if err := xdg.EnsureDir(filepath.Dir(cfg.Path)); err != nil {
			return nil, err
		}
		return flatfile.New(cfg.Path, flatfile.WithLogger(logger)), nil
	case config.BackendPostgres:
		b, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendRedis:
		b, err := redis.Open(ctx, cfg.RedisURL, redis.WithKeyPrefix(cfg.KeyPrefix), redis.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, oops.In("cli").
			Code(config.CodeInvalidConfig).
			With("backend", cfg.Backend).
			Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// openDirectory loads the record directory described by cfg. The caller
// closes it.
func openDirectory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*directory.Directory, error) {
	ranks, err := loadRanks(cfg.Ranks)
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	dir := directory.New(store.New(ranks, backend, store.WithLogger(logger)), directory.WithLogger(logger))
	if _, err := dir.Load(ctx); err != nil {
		_ = dir.Close() //nolint:errcheck // the load error is the one worth reporting
		return nil, err
	}
	return dir, nil
}

func saveSchedule(cfg config.SaveConfig) directory.SaveSchedule {
	s := directory.DefaultSaveSchedule()
	s.Interval = cfg.Interval
	s.Jitter = cfg.Jitter
	s.MaxBackoff = cfg.MaxBackoff
	s.MaxRetries = uint64(max(cfg.MaxRetries, 0))
	return s
}

// startRelay connects the event relay when it is enabled. The returned
// function detaches and disconnects it; it is never nil.
func startRelay(cfg config.RelayConfig, logger *slog.Logger) (*relay.Relay, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	url := cfg.NATSURL
	var embedded *relay.EmbeddedServer
	if cfg.Embedded {
		srv, err := relay.NewEmbeddedServer()
		if err != nil {
			return nil, nil, err
		}
		if err := srv.Start(); err != nil {
			return nil, nil, err
		}
		embedded = srv
		url = srv.ClientURL()
		logger.Info("embedded NATS server started", "url", url)
	}

	conn, err := relay.Connect(url, logger)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, err
	}

	r := relay.New(conn, relay.WithSubjectPrefix(cfg.SubjectPrefix), relay.WithLogger(logger))
	return r, func() {
		r.Close()
		if err := conn.Flush(); err != nil {
			logger.Warn("flush relay connection", "error", err)
		}
		conn.Close()
		if embedded != nil {
			embedded.Shutdown()
		}
	}, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, oops.In("cli").With("path", path).Wrap(err)
	}
}
