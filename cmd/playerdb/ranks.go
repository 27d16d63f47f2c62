// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/xdg"
)

// NewRanksCmd creates the ranks subcommand.
func NewRanksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranks",
		Short: "Inspect and create rank definitions",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "List the configured ranks, highest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ranks, err := loadRanks(cfg.Ranks)
			if err != nil {
				return err
			}
			return printRanks(cmd, ranks)
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write the built-in ranks to a definitions file",
		Long: `Write the built-in rank set to PATH (default:
XDG_CONFIG_HOME/playerdb/ranks.yaml). Point ranks.file at the result to
customise it; keep the ids so stored records still resolve.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runRanksInit(cmd, path, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	check := &cobra.Command{
		Use:   "check PATH",
		Short: "Validate a rank definitions file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := rank.LoadDefinitions(args[0])
			if err != nil {
				return err
			}
			m, err := defs.Build()
			if err != nil {
				return err
			}
			cmd.Printf("%s: %d ranks, default %s\n", args[0], m.Len(), m.DefaultRank().Name())
			return nil
		},
	}

	cmd.AddCommand(show, initCmd, check)
	return cmd
}

func runRanksInit(cmd *cobra.Command, path string, force bool) error {
	if path == "" {
		def, err := xdg.RanksFile()
		if err != nil {
			return err
		}
		path = def
	}
	exists, err := fileExists(path)
	if err != nil {
		return err
	}
	if exists && !force {
		return oops.In("cli").
			Code("FILE_EXISTS").
			With("path", path).
			Errorf("%s already exists; pass --force to replace it", path)
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	defs := rank.DefaultDefinitions()
	if err := defs.Save(path); err != nil {
		return err
	}
	cmd.Printf("Wrote %d ranks to %s\n", len(defs.Ranks), path)
	return nil
}

func printRanks(cmd *cobra.Command, ranks *rank.Model) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tID\tPREFIX\tPERMISSIONS")
	all := len(rank.AllPermissions())
	def := ranks.DefaultRank()
	for _, r := range ranks.Ranks() {
		name := r.Name()
		if r == def {
			name += " (default)"
		}
		perms := r.Permissions()
		list := "*"
		if len(perms) < all {
			names := make([]string, len(perms))
			for i, p := range perms {
				names[i] = p.String()
			}
			list = strings.Join(names, ",")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, r.ID(), r.Prefix, list)
	}
	if err := w.Flush(); err != nil {
		return oops.In("cli").Wrapf(err, "write rank table")
	}
	return nil
}
