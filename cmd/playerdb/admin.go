// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/playerdb/internal/config"
	"github.com/holomush/playerdb/internal/directory"
	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/record"
)

// adminAction applies one administrative action with the console as actor.
type adminAction func(a *record.Admin, console, target *record.Record, args []string) (string, error)

// NewAdminCmd creates the admin subcommand.
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Change stored player records as the console",
		Long: `Ban, freeze, mute, re-rank or hide a player while the game server is
offline. The console acts with the highest rank. PLAYER may be any
unambiguous prefix of a name.`,
	}

	var reason string
	var muteFor time.Duration
	simple := func(use, short string, act adminAction) *cobra.Command {
		return &cobra.Command{
			Use:   use + " PLAYER",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAdmin(cmd, args[0], args[1:], act)
			},
		}
	}

	ban := simple("ban", "Ban a player", func(a *record.Admin, c, t *record.Record, _ []string) (string, error) {
		return t.Name() + " is now banned.", a.Ban(c, t, reason)
	})
	unban := simple("unban", "Lift a ban", func(a *record.Admin, c, t *record.Record, _ []string) (string, error) {
		return t.Name() + " is no longer banned.", a.Unban(c, t, reason)
	})
	freeze := simple("freeze", "Freeze a player in place", func(a *record.Admin, c, t *record.Record, _ []string) (string, error) {
		return t.Name() + " is now frozen.", a.Freeze(c, t)
	})
	unfreeze := simple("unfreeze", "Unfreeze a player", func(a *record.Admin, c, t *record.Record, _ []string) (string, error) {
		return t.Name() + " is no longer frozen.", a.Unfreeze(c, t)
	})
	mute := simple("mute", "Mute a player", func(a *record.Admin, c, t *record.Record, _ []string) (string, error) {
		return t.Name() + " is muted for " + muteFor.String() + ".", a.Mute(c, t, muteFor)
	})
	unmute := simple("unmute", "Unmute a player", func(a *record.Admin, c, t *record.Record, _ []string) (string, error) {
		return t.Name() + " is no longer muted.", a.Unmute(c, t)
	})
	hide := simple("hide", "Hide a player from player lists", func(a *record.Admin, c, t *record.Record, _ []string) (string, error) {
		return t.Name() + " is now hidden.", a.SetHidden(c, t, true)
	})
	unhide := simple("unhide", "Make a hidden player visible", func(a *record.Admin, c, t *record.Record, _ []string) (string, error) {
		return t.Name() + " is now visible.", a.SetHidden(c, t, false)
	})

	rankCmd := &cobra.Command{
		Use:   "rank PLAYER RANK",
		Short: "Promote or demote a player",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmin(cmd, args[0], args[1:], func(a *record.Admin, c, t *record.Record, rest []string) (string, error) {
				r := a.Ranks().FindRank(rest[0])
				if r == nil {
					return "", oops.In("cli").
						Code(rank.CodeNotFound).
						With("rank", rest[0]).
						Errorf("no rank matches %q", rest[0])
				}
				return t.Name() + " is now " + r.Name() + ".", a.ChangeRank(c, t, r, reason, false)
			})
		},
	}

	for _, c := range []*cobra.Command{ban, unban, rankCmd} {
		c.Flags().StringVar(&reason, "reason", "", "reason recorded with the action")
	}
	mute.Flags().DurationVar(&muteFor, "for", 10*time.Minute, "how long the mute lasts")

	cmd.AddCommand(ban, unban, freeze, unfreeze, mute, unmute, hide, unhide, rankCmd)
	return cmd
}

func reasonPolicy(c config.AdminConfig) record.ReasonPolicy {
	return record.ReasonPolicy{
		Ban:        c.Requires(config.ActionBan),
		Unban:      c.Requires(config.ActionUnban),
		Kick:       c.Requires(config.ActionKick),
		RankChange: c.Requires(config.ActionRankChange),
	}
}

func runAdmin(cmd *cobra.Command, name string, rest []string, act adminAction) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
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

	events := record.NewEvents()
	rel, closeRelay, err := startRelay(cfg.Relay, logger)
	if err != nil {
		return err
	}
	defer closeRelay()
	if rel != nil {
		rel.AttachRecords(events)
	}

	console := dir.Console()
	target, err := dir.FindPlayerInfoOrPrintMatches(console, name)
	if err != nil {
		cmd.PrintErrln(directory.PlayerMessage(err))
		return err
	}

	admin := record.NewAdmin(dir.Ranks(), events,
		record.WithAdminLogger(logger),
		record.WithReasonPolicy(reasonPolicy(cfg.Admin)))
	done, err := act(admin, console, target, rest)
	if err != nil {
		cmd.PrintErrln(directory.PlayerMessage(err))
		return err
	}
	if err := dir.Save(ctx); err != nil {
		return err
	}
	cmd.Println(done)
	return nil
}
