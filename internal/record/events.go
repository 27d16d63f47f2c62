// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package record

import (
	"time"

	"github.com/holomush/playerdb/internal/event"
	"github.com/holomush/playerdb/internal/rank"
)

// Action describes a completed administrative action.
type Action struct {
	Target   *Record
	Actor    *Record
	Reason   string
	Announce bool
}

// PendingAction is published before an administrative action is applied.
// Subscribers may rewrite Reason and Announce or cancel the action.
type PendingAction struct {
	event.Cancellable
	Action
}

// RankChanging is published before a rank change.
type RankChanging struct {
	event.Cancellable
	Target   *Record
	Actor    *Record
	OldRank  *rank.Rank
	NewRank  *rank.Rank
	Reason   string
	Type     RankChangeType
	Announce bool
}

// RankChanged is published after a rank change.
type RankChanged struct {
	Target   *Record
	Actor    *Record
	OldRank  *rank.Rank
	NewRank  *rank.Rank
	Reason   string
	Type     RankChangeType
	Announce bool
}

// MuteChanging is published before a mute. Subscribers may shorten or
// lengthen Duration.
type MuteChanging struct {
	event.Cancellable
	Action
	Duration time.Duration
}

// MuteChanged is published after a mute.
type MuteChanged struct {
	Action
	Duration time.Duration
	Until    time.Time
}

// VisibilityChanging is published before a player is hidden or revealed.
type VisibilityChanging struct {
	event.Cancellable
	Action
	Hidden bool
}

// VisibilityChanged is published after a player is hidden or revealed.
type VisibilityChanged struct {
	Action
	Hidden bool
}

// Events holds the buses for record state transitions.
type Events struct {
	RankChanging *event.Bus[*RankChanging]
	RankChanged  *event.Bus[*RankChanged]

	Banning    *event.Bus[*PendingAction]
	Banned     *event.Bus[*Action]
	Unbanning  *event.Bus[*PendingAction]
	Unbanned   *event.Bus[*Action]
	Freezing   *event.Bus[*PendingAction]
	Frozen     *event.Bus[*Action]
	Unfreezing *event.Bus[*PendingAction]
	Unfrozen   *event.Bus[*Action]
	Kicking    *event.Bus[*PendingAction]
	Kicked     *event.Bus[*Action]
	Unmuting   *event.Bus[*PendingAction]
	Unmuted    *event.Bus[*Action]

	Muting *event.Bus[*MuteChanging]
	Muted  *event.Bus[*MuteChanged]

	VisibilityChanging *event.Bus[*VisibilityChanging]
	VisibilityChanged  *event.Bus[*VisibilityChanged]
}

// NewEvents creates a set of empty buses.
func NewEvents() *Events {
	return &Events{
		RankChanging:       event.NewBus[*RankChanging]("rank_changing"),
		RankChanged:        event.NewBus[*RankChanged]("rank_changed"),
		Banning:            event.NewBus[*PendingAction]("banning"),
		Banned:             event.NewBus[*Action]("banned"),
		Unbanning:          event.NewBus[*PendingAction]("unbanning"),
		Unbanned:           event.NewBus[*Action]("unbanned"),
		Freezing:           event.NewBus[*PendingAction]("freezing"),
		Frozen:             event.NewBus[*Action]("frozen"),
		Unfreezing:         event.NewBus[*PendingAction]("unfreezing"),
		Unfrozen:           event.NewBus[*Action]("unfrozen"),
		Kicking:            event.NewBus[*PendingAction]("kicking"),
		Kicked:             event.NewBus[*Action]("kicked"),
		Unmuting:           event.NewBus[*PendingAction]("unmuting"),
		Unmuted:            event.NewBus[*Action]("unmuted"),
		Muting:             event.NewBus[*MuteChanging]("muting"),
		Muted:              event.NewBus[*MuteChanged]("muted"),
		VisibilityChanging: event.NewBus[*VisibilityChanging]("visibility_changing"),
		VisibilityChanged:  event.NewBus[*VisibilityChanged]("visibility_changed"),
	}
}
