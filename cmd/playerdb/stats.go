// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/playerdb/internal/directory"
)

// NewStatsCmd creates the stats subcommand.
func NewStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count stored player records by state and rank",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := setupLogging(cmd, cfg)
			if err != nil {
				return err
			}
			dir, err := openDirectory(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = dir.Close() }() //nolint:errcheck // nothing was written

			stats := dir.Stats()
			if asJSON {
				return printStatsJSON(cmd, stats)
			}
			return printStatsTable(cmd, dir, stats)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output statistics as JSON")
	return cmd
}

type statsOutput struct {
	Total  int            `json:"total"`
	Banned int            `json:"banned"`
	Hidden int            `json:"hidden"`
	Frozen int            `json:"frozen"`
	Muted  int            `json:"muted"`
	ByRank map[string]int `json:"by_rank"`
}

func printStatsJSON(cmd *cobra.Command, s directory.Stats) error {
	data, err := json.MarshalIndent(statsOutput{
		Total:  s.Total,
		Banned: s.Banned,
		Hidden: s.Hidden,
		Frozen: s.Frozen,
		Muted:  s.Muted,
		ByRank: s.ByRank,
	}, "", "  ")
	if err != nil {
		return oops.In("cli").Wrapf(err, "encode statistics")
	}
	cmd.Println(string(data))
	return nil
}

func printStatsTable(cmd *cobra.Command, dir *directory.Directory, s directory.Stats) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "total\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "banned\t%d\n", s.Banned)
	_, _ = fmt.Fprintf(w, "hidden\t%d\n", s.Hidden)
	_, _ = fmt.Fprintf(w, "frozen\t%d\n", s.Frozen)
	_, _ = fmt.Fprintf(w, "muted\t%d\n", s.Muted)
	for _, r := range dir.Ranks().Ranks() {
		_, _ = fmt.Fprintf(w, "rank %s\t%d\n", r.Name(), s.ByRank[r.Name()])
	}
	if err := w.Flush(); err != nil {
		return oops.In("cli").Wrapf(err, "write statistics")
	}
	return nil
}
