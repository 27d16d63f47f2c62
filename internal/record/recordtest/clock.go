// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package recordtest provides test doubles for the record package.
package recordtest

import (
	"net/netip"
	"sync"
	"time"

	"github.com/holomush/playerdb/internal/record"
)

// Clock is a manually driven record.Clock, safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

var _ record.Clock = (*Clock)(nil)

// NewClock creates a Clock set to t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Session is a record.Session that remembers how it was disconnected.
type Session struct {
	Addr netip.Addr

	mu           sync.Mutex
	disconnected bool
	reason       record.LeaveReason
	message      string
}

var _ record.Session = (*Session)(nil)

// NewSession creates a session connecting from addr.
func NewSession(addr string) *Session {
	return &Session{Addr: netip.MustParseAddr(addr)}
}

// IP returns the remote address.
func (s *Session) IP() netip.Addr { return s.Addr }

// Disconnect records the disconnect request.
func (s *Session) Disconnect(reason record.LeaveReason, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
	s.reason = reason
	s.message = message
}

// Disconnected reports whether Disconnect was called, and with what.
func (s *Session) Disconnected() (bool, record.LeaveReason, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected, s.reason, s.message
}
