// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/playerdb/internal/chat"
	"github.com/holomush/playerdb/internal/directory"
	"github.com/holomush/playerdb/internal/observability"
	"github.com/holomush/playerdb/internal/relay"
	"github.com/holomush/playerdb/internal/store"
)

// shutdownTimeout bounds the final save and endpoint shutdown.
const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the player directory and keep it saved",
		Long: `Load every player record, save changes on a schedule, expose metrics
and health probes, and forward player events to NATS when the relay is
enabled. A final save runs on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ready atomic.Bool
	var obsErrs <-chan error
	if cfg.Metrics.Addr != "" {
		obs := observability.NewServer(cfg.Metrics.Addr, version, ready.Load,
			store.RegisterMetrics,
			directory.RegisterMetrics,
			chat.RegisterMetrics,
			relay.RegisterMetrics,
		)
		obsErrs, err = obs.Start()
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := obs.Stop(stopCtx); stopErr != nil {
				logger.Warn("stop observability server", "error", stopErr)
			}
		}()
	}

	dir, err := openDirectory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := dir.Close(); closeErr != nil {
			logger.Warn("close record store", "error", closeErr)
		}
	}()

	rel, closeRelay, err := startRelay(cfg.Relay, logger)
	if err != nil {
		return err
	}
	defer closeRelay()
	if rel != nil {
		rel.AttachDirectory(dir.Events())
	}

	saver, err := dir.StartSaving(ctx, saveSchedule(cfg.Save))
	if err != nil {
		return err
	}

	ready.Store(true)
	logger.Info("player directory ready",
		"backend", cfg.Storage.Backend,
		"records", dir.Count(),
		"save_interval", cfg.Save.Interval,
		"relay", cfg.Relay.Enabled)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-obsErrs:
		if ok && err != nil {
			serveErr = oops.In("cli").Wrapf(err, "observability server failed")
		}
	}
	ready.Store(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := saver.Stop(stopCtx); err != nil {
		return err
	}
	logger.Info("player records saved", "records", dir.Count())
	return serveErr
}
