// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package directory

import (
	"net/netip"

	"github.com/holomush/playerdb/internal/event"
	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/record"
)

// Creating is published before a record is created for a new player.
// Subscribers may replace StartingRank or cancel, which rejects the login.
type Creating struct {
	event.Cancellable
	Name         string
	IP           netip.Addr
	StartingRank *rank.Rank
}

// Created is published after a record was created.
type Created struct {
	Record *record.Record
}

// Events holds the directory buses.
type Events struct {
	Creating *event.Bus[*Creating]
	Created  *event.Bus[*Created]
}

// NewEvents creates empty buses.
func NewEvents() *Events {
	return &Events{
		Creating: event.NewBus[*Creating]("creating"),
		Created:  event.NewBus[*Created]("created"),
	}
}
