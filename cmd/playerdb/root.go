// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/playerdb/internal/config"
)

// NewRootCmd creates the root command for the playerdb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playerdb",
		Short: "playerdb - player records for a block-building game server",
		Long: `playerdb keeps the persistent record of every player who has joined:
ranks, bans, mutes, statistics and login history. It can run the record
directory as a service, convert records between storage backends and
perform administrative actions from the console.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String(configFlag, "", "config file path (default: XDG_CONFIG_HOME/playerdb/config.yaml if present)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConvertCmd())
	cmd.AddCommand(NewRanksCmd())
	cmd.AddCommand(NewStatsCmd())
	cmd.AddCommand(NewAdminCmd())
	cmd.AddCommand(NewWatchCmd())

	return cmd
}
