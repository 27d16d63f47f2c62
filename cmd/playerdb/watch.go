// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/playerdb/internal/config"
	"github.com/holomush/playerdb/internal/relay"
)

// NewWatchCmd creates the watch subcommand.
func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print relayed player events as JSON lines",
		Long: `Subscribe to the events a playerdb relay publishes on NATS and print each
one as a line of JSON until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}
	if cfg.Relay.NATSURL == "" {
		return oops.In("cli").
			Code(config.CodeInvalidConfig).
			Errorf("a NATS URL is required: set relay.nats_url or --nats-url")
	}

	conn, err := relay.Connect(cfg.Relay.NATSURL, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(cmd.OutOrStdout())
	return relay.Watch(ctx, conn, cfg.Relay.SubjectPrefix, logger, func(m relay.Message) {
		if err := enc.Encode(m); err != nil {
			logger.Warn("write relayed event", "event", m.Event, "error", err)
		}
	})
}
