// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package chat

import (
	"github.com/holomush/playerdb/internal/event"
	"github.com/holomush/playerdb/internal/rank"
)

// Sending is published before delivery. Subscribers may rewrite Formatted,
// change Recipients or cancel.
type Sending struct {
	event.Cancellable
	Kind       Kind
	Sender     Player
	Target     Player
	Rank       *rank.Rank
	Text       string
	Formatted  string
	Recipients []Player
}

// Sent is published after delivery. Count is how many recipients the
// message reached.
type Sent struct {
	Kind       Kind
	Sender     Player
	Target     Player
	Rank       *rank.Rank
	Text       string
	Formatted  string
	Recipients []Player
	Count      int
}

// Events holds the chat buses.
type Events struct {
	Sending *event.Bus[*Sending]
	Sent    *event.Bus[*Sent]
}

// NewEvents creates empty buses.
func NewEvents() *Events {
	return &Events{
		Sending: event.NewBus[*Sending]("chat_sending"),
		Sent:    event.NewBus[*Sent]("chat_sent"),
	}
}
