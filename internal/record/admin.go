// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package record

import (
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/playerdb/internal/event"
	"github.com/holomush/playerdb/internal/rank"
)

// ReasonPolicy lists the actions that must carry a reason.
type ReasonPolicy struct {
	Ban        bool
	Unban      bool
	Kick       bool
	RankChange bool
}

// Admin performs administrative actions on records. Each action checks the
// actor's permission, publishes its cancellable event, applies the change
// only if nobody vetoed it, and then publishes the informational event.
type Admin struct {
	ranks   *rank.Model
	events  *Events
	reasons ReasonPolicy
	logger  *slog.Logger
}

// AdminOption configures an Admin.
type AdminOption func(*Admin)

// WithReasonPolicy sets which actions require a reason.
func WithReasonPolicy(p ReasonPolicy) AdminOption {
	return func(a *Admin) { a.reasons = p }
}

// WithAdminLogger sets the logger used to record completed actions.
func WithAdminLogger(l *slog.Logger) AdminOption {
	return func(a *Admin) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdmin creates an Admin over the given rank model and event buses.
func NewAdmin(ranks *rank.Model, events *Events, opts ...AdminOption) *Admin {
	a := &Admin{ranks: ranks, events: events, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Events returns the buses the admin publishes on.
func (a *Admin) Events() *Events { return a.events }

// Ranks returns the rank model permissions are checked against.
func (a *Admin) Ranks() *rank.Model { return a.ranks }

func (a *Admin) authorize(action string, perm rank.Permission, actor, target *Record) error {
	if actor == nil || target == nil {
		return errInvalid("%s requires an actor and a target", action)
	}
	if actor == target {
		return oops.In("record").
			Code(CodeSelfTarget).
			With("action", action).
			With("player", actor.Name()).
			Errorf("%s cannot target yourself", action)
	}
	if !a.ranks.CanAffect(actor.Rank(), target.Rank(), perm) {
		return ErrPermissionDenied(action, actor, target)
	}
	return nil
}

func requireReason(required bool, action, reason string) error {
	if required && strings.TrimSpace(reason) == "" {
		return oops.In("record").
			Code(CodeReasonRequired).
			With("action", action).
			Errorf("%s requires a reason", action)
	}
	return nil
}

// ChangeRank promotes or demotes target to newRank. Automatic changes are
// recorded as auto-promotions or auto-demotions.
func (a *Admin) ChangeRank(actor, target *Record, newRank *rank.Rank, reason string, automatic bool) error {
	if actor == nil || target == nil || newRank == nil {
		return errInvalid("rank change requires an actor, a target and a rank")
	}
	if a.ranks.FindRankByID(newRank.ID()) != newRank {
		return errInvalid("rank %s is not defined", newRank.Name())
	}
	if actor == target {
		return oops.In("record").
			Code(CodeSelfTarget).
			With("action", "change the rank of").
			With("player", actor.Name()).
			Errorf("cannot change your own rank")
	}

	oldRank := target.Rank()
	if oldRank == newRank {
		snap := target.Snapshot()
		return errState(CodeSameRank, &snap, "%s already has rank %s", snap.Name, newRank.Name())
	}

	promoting := oldRank == nil || newRank.IsAbove(oldRank)
	perm, kind, action := rank.PermDemote, RankChangeDemoted, "demote"
	if promoting {
		perm, kind, action = rank.PermPromote, RankChangePromoted, "promote"
	}
	if automatic {
		kind = RankChangeAutoDemoted
		if promoting {
			kind = RankChangeAutoPromoted
		}
	}

	actorRank := actor.Rank()
	if (oldRank != nil && !a.ranks.CanAffect(actorRank, oldRank, perm)) || !a.ranks.CanAffect(actorRank, newRank, perm) {
		return ErrPermissionDenied(action, actor, target)
	}
	if err := requireReason(a.reasons.RankChange, "rank change", reason); err != nil {
		return err
	}

	pending := &RankChanging{
		Target:   target,
		Actor:    actor,
		OldRank:  oldRank,
		NewRank:  newRank,
		Reason:   reason,
		Type:     kind,
		Announce: true,
	}
	if event.PublishCancellable(a.events.RankChanging, pending) {
		return ErrCancelled(a.events.RankChanging.Name())
	}
	if err := target.ProcessRankChange(newRank, actor.Name(), pending.Reason, kind); err != nil {
		return err
	}

	a.logger.Info("player rank changed",
		"player", target.Name(),
		"actor", actor.Name(),
		"from", rankName(oldRank),
		"to", newRank.Name(),
		"type", kind.String())

	a.events.RankChanged.Publish(&RankChanged{
		Target:   target,
		Actor:    actor,
		OldRank:  oldRank,
		NewRank:  newRank,
		Reason:   pending.Reason,
		Type:     kind,
		Announce: pending.Announce,
	})
	return nil
}

// Ban bans target and disconnects them if online.
func (a *Admin) Ban(actor, target *Record, reason string) error {
	if err := a.authorize("ban", rank.PermBan, actor, target); err != nil {
		return err
	}
	if target.IsBanned() {
		snap := target.Snapshot()
		return errState(CodeAlreadyBanned, &snap, "%s is already banned", snap.Name)
	}
	if err := requireReason(a.reasons.Ban, "ban", reason); err != nil {
		return err
	}

	done, err := a.pending(a.events.Banning, actor, target, reason, func(p *PendingAction) error {
		return target.ProcessBan(actor.Name(), p.Reason)
	})
	if err != nil {
		return err
	}
	actor.ProcessBanGiven()
	if s := target.Session(); s != nil {
		s.Disconnect(LeaveBanned, disconnectMessage("Banned", actor, done.Reason))
	}
	a.logger.Info("player banned", "player", target.Name(), "actor", actor.Name(), "reason", done.Reason)
	a.events.Banned.Publish(done)
	return nil
}

// Unban lifts a ban on target.
func (a *Admin) Unban(actor, target *Record, reason string) error {
	if err := a.authorize("unban", rank.PermBan, actor, target); err != nil {
		return err
	}
	if !target.IsBanned() {
		snap := target.Snapshot()
		return errState(CodeNotBanned, &snap, "%s is not banned", snap.Name)
	}
	if err := requireReason(a.reasons.Unban, "unban", reason); err != nil {
		return err
	}

	done, err := a.pending(a.events.Unbanning, actor, target, reason, func(p *PendingAction) error {
		return target.ProcessUnban(actor.Name(), p.Reason)
	})
	if err != nil {
		return err
	}
	a.logger.Info("player unbanned", "player", target.Name(), "actor", actor.Name(), "reason", done.Reason)
	a.events.Unbanned.Publish(done)
	return nil
}

// Freeze stops target from moving.
func (a *Admin) Freeze(actor, target *Record) error {
	if err := a.authorize("freeze", rank.PermFreeze, actor, target); err != nil {
		return err
	}
	if target.IsFrozen() {
		snap := target.Snapshot()
		return errState(CodeAlreadyFrozen, &snap, "%s is already frozen", snap.Name)
	}
	done, err := a.pending(a.events.Freezing, actor, target, "", func(*PendingAction) error {
		return target.ProcessFreeze(actor.Name())
	})
	if err != nil {
		return err
	}
	a.events.Frozen.Publish(done)
	return nil
}

// Unfreeze releases target.
func (a *Admin) Unfreeze(actor, target *Record) error {
	if err := a.authorize("unfreeze", rank.PermFreeze, actor, target); err != nil {
		return err
	}
	if !target.IsFrozen() {
		snap := target.Snapshot()
		return errState(CodeNotFrozen, &snap, "%s is not frozen", snap.Name)
	}
	done, err := a.pending(a.events.Unfreezing, actor, target, "", func(*PendingAction) error {
		return target.ProcessUnfreeze()
	})
	if err != nil {
		return err
	}
	a.events.Unfrozen.Publish(done)
	return nil
}

// Kick disconnects an online target and counts the kick on both records.
func (a *Admin) Kick(actor, target *Record, reason string) error {
	if err := a.authorize("kick", rank.PermKick, actor, target); err != nil {
		return err
	}
	if !target.IsOnline() {
		snap := target.Snapshot()
		return errState(CodeNotOnline, &snap, "%s is not online", snap.Name)
	}
	if err := requireReason(a.reasons.Kick, "kick", reason); err != nil {
		return err
	}

	done, err := a.pending(a.events.Kicking, actor, target, reason, func(p *PendingAction) error {
		return target.ProcessKick(actor, p.Reason)
	})
	if err != nil {
		return err
	}
	if s := target.Session(); s != nil {
		s.Disconnect(LeaveKicked, disconnectMessage("Kicked", actor, done.Reason))
	}
	a.logger.Info("player kicked", "player", target.Name(), "actor", actor.Name(), "reason", done.Reason)
	a.events.Kicked.Publish(done)
	return nil
}

// Mute silences target for duration.
func (a *Admin) Mute(actor, target *Record, duration time.Duration) error {
	if duration <= 0 {
		return errInvalid("mute duration must be positive")
	}
	if err := a.authorize("mute", rank.PermMute, actor, target); err != nil {
		return err
	}

	pending := &MuteChanging{
		Action:   Action{Target: target, Actor: actor, Announce: true},
		Duration: duration,
	}
	if event.PublishCancellable(a.events.Muting, pending) {
		return ErrCancelled(a.events.Muting.Name())
	}
	if err := target.ProcessMute(actor.Name(), pending.Duration); err != nil {
		return err
	}
	until := target.Snapshot().MutedUntil
	a.logger.Info("player muted", "player", target.Name(), "actor", actor.Name(), "until", until)
	a.events.Muted.Publish(&MuteChanged{Action: pending.Action, Duration: pending.Duration, Until: until})
	return nil
}

// Unmute lifts an active mute on target.
func (a *Admin) Unmute(actor, target *Record) error {
	if err := a.authorize("unmute", rank.PermMute, actor, target); err != nil {
		return err
	}
	if !target.IsMuted() {
		snap := target.Snapshot()
		return errState(CodeNotMuted, &snap, "%s is not muted", snap.Name)
	}
	done, err := a.pending(a.events.Unmuting, actor, target, "", func(*PendingAction) error {
		return target.ProcessUnmute()
	})
	if err != nil {
		return err
	}
	a.events.Unmuted.Publish(done)
	return nil
}

// SetHidden hides or reveals target. Players with the hide permission may
// hide themselves; hiding someone else is subject to the rank limit.
func (a *Admin) SetHidden(actor, target *Record, hidden bool) error {
	if actor == nil || target == nil {
		return errInvalid("visibility change requires an actor and a target")
	}
	if actor == target {
		if !actor.Rank().Can(rank.PermHide) {
			return ErrPermissionDenied("hide", actor, target)
		}
	} else if !a.ranks.CanAffect(actor.Rank(), target.Rank(), rank.PermHide) {
		return ErrPermissionDenied("hide", actor, target)
	}
	if target.IsHidden() == hidden {
		return nil
	}

	pending := &VisibilityChanging{Action: Action{Target: target, Actor: actor}, Hidden: hidden}
	if event.PublishCancellable(a.events.VisibilityChanging, pending) {
		return ErrCancelled(a.events.VisibilityChanging.Name())
	}
	target.ProcessSetHidden(hidden)
	a.events.VisibilityChanged.Publish(&VisibilityChanged{Action: pending.Action, Hidden: hidden})
	return nil
}

// pending publishes the cancellable event for an action and applies it.
// The returned Action carries the reason and announce flag as left by
// subscribers.
func (a *Admin) pending(bus *event.Bus[*PendingAction], actor, target *Record, reason string, apply func(*PendingAction) error) (*Action, error) {
	p := &PendingAction{Action: Action{Target: target, Actor: actor, Reason: reason, Announce: true}}
	if event.PublishCancellable(bus, p) {
		return nil, ErrCancelled(bus.Name())
	}
	if err := apply(p); err != nil {
		return nil, err
	}
	done := p.Action
	return &done, nil
}

func disconnectMessage(verb string, actor *Record, reason string) string {
	msg := verb + " by " + actor.Name()
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += ": " + reason
	}
	return msg
}

func rankName(r *rank.Rank) string {
	if r == nil {
		return ""
	}
	return r.Name()
}
