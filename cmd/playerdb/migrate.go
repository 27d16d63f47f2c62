// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/playerdb/internal/config"
	"github.com/holomush/playerdb/internal/store/postgres"
)

// migrator is the part of *postgres.Migrator the migrate commands use.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
}

// newMigrator opens a migrator; tests replace it.
var newMigrator = func(databaseURL string) (migrator, error) {
	return postgres.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long: `Apply, roll back or inspect the player record schema of the PostgreSQL
backend. Without a subcommand, every pending migration is applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, migrateUp)
		},
	}

	var steps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps > 0 {
				return withMigrator(cmd, migrateSteps(steps))
			}
			return withMigrator(cmd, migrateUp)
		},
	}
	up.Flags().IntVar(&steps, "steps", 0, "apply at most this many migrations (0 = all)")

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration, or all of them with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all {
				return withMigrator(cmd, migrateDownAll)
			}
			return withMigrator(cmd, migrateSteps(-1))
		},
	}
	down.Flags().BoolVar(&all, "all", false, "roll back every migration, dropping all player data")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, migrateStatus)
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied after fixing a failed migration by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, func(cmd *cobra.Command, m migrator) error {
				if err := m.Force(v); err != nil {
					return err
				}
				cmd.Printf("Schema version forced to %d\n", v)
				return nil
			})
		},
	}

	cmd.AddCommand(up, down, status, force)
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(*cobra.Command, migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.DatabaseURL == "" {
		return oops.In("cli").
			Code(config.CodeInvalidConfig).
			Errorf("a database URL is required: set storage.database_url, --database-url or %s", config.EnvDatabaseURL)
	}

	m, err := newMigrator(cfg.Storage.DatabaseURL)
	if err != nil {
		return oops.In("cli").Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: close migrator: %v\n", closeErr)
		}
	}()
	return fn(cmd, m)
}

func migrateUp(cmd *cobra.Command, m migrator) error {
	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("Schema is up to date")
		return nil
	}
	if err := m.Up(); err != nil {
		return err
	}
	cmd.Printf("Applied %d migration(s)\n", len(pending))
	return nil
}

func migrateDownAll(cmd *cobra.Command, m migrator) error {
	if err := m.Down(); err != nil {
		return err
	}
	cmd.Println("All migrations rolled back")
	return nil
}

func migrateSteps(n int) func(*cobra.Command, migrator) error {
	return func(cmd *cobra.Command, m migrator) error {
		if err := m.Steps(n); err != nil {
			return err
		}
		v, _, err := m.Version()
		if err != nil {
			return err
		}
		cmd.Printf("Schema is at version %d\n", v)
		return nil
	}
}

func migrateStatus(cmd *cobra.Command, m migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	applied, err := m.AppliedMigrations()
	if err != nil {
		return err
	}
	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}

	state := "clean"
	if dirty {
		state = "dirty (fix the schema by hand, then run 'migrate force')"
	}
	cmd.Printf("Version: %d, %s\n", v, state)
	for _, a := range applied {
		cmd.Printf("  applied  %s\n", migrationLabel(a))
	}
	for _, p := range pending {
		cmd.Printf("  pending  %s\n", migrationLabel(p))
	}
	return nil
}

func migrationLabel(v uint) string {
	name, err := postgres.MigrationName(v)
	if err != nil || name == "" {
		return fmt.Sprintf("%06d", v)
	}
	return name
}

// parseForceVersion reads a schema version argument. Like Sscanf, it stops
// at the first character that is not part of an integer.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.In("cli").Code("INVALID_VERSION").With("input", s).Errorf("invalid version %q", s)
	}
	return v, nil
}
