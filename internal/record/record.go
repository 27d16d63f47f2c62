// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package record holds the per-account player record and the operations
// that mutate it.
package record

import (
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holomush/playerdb/internal/rank"
)

// Session is the live connection linked to an online record.
type Session interface {
	IP() netip.Addr
	// Disconnect asks the session layer to close the connection.
	Disconnect(reason LeaveReason, message string)
}

// Observer is told about every mutation after the record lock is released.
type Observer func(r *Record, changes Change)

// Record is a single player account.
//
// All fields are guarded by mu. The online flag is mirrored in an atomic so
// hot paths such as recipient selection can read it without locking.
type Record struct {
	id int

	mu        sync.RWMutex
	data      Data
	dirty     bool
	session   Session
	loginTime time.Time
	observer  Observer

	online atomic.Bool
	clock  Clock
}

// Option configures a Record.
type Option func(*Record)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(r *Record) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithObserver installs the mutation observer.
func WithObserver(o Observer) Option {
	return func(r *Record) { r.observer = o }
}

// New creates a record for a newly seen account. It starts dirty so the next
// save persists it.
func New(data Data, opts ...Option) *Record {
	r := FromData(data, opts...)
	if r.data.LastModified.IsZero() {
		r.data.LastModified = r.clock.Now()
	}
	r.dirty = true
	return r
}

// FromData wraps data loaded from storage. The record starts clean.
func FromData(data Data, opts ...Option) *Record {
	r := &Record{id: data.ID, data: data, clock: SystemClock{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetObserver replaces the mutation observer.
func (r *Record) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// mutate applies fn under the lock, stamps the record, and notifies the
// observer once the lock is released.
func (r *Record) mutate(changes Change, fn func(d *Data)) {
	r.mu.Lock()
	fn(&r.data)
	r.touchLocked()
	obs := r.observer
	r.mu.Unlock()

	if obs != nil {
		obs(r, changes)
	}
}

// touchLocked marks the record modified. Callers hold mu.
func (r *Record) touchLocked() {
	r.data.LastModified = r.clock.Now()
	r.dirty = true
}

func (r *Record) notify(changes Change) {
	r.mu.RLock()
	obs := r.observer
	r.mu.RUnlock()
	if obs != nil {
		obs(r, changes)
	}
}

// ID returns the immutable account id.
func (r *Record) ID() int { return r.id }

// Name returns the account name.
func (r *Record) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.Name
}

// DisplayName returns the display name override, if any.
func (r *Record) DisplayName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.DisplayName
}

// Rank returns the current rank.
func (r *Record) Rank() *rank.Rank {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.Rank
}

// PreviousRank returns the rank held before the last change, or nil.
func (r *Record) PreviousRank() *rank.Rank {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.PreviousRank
}

// Snapshot returns a consistent copy of the record's data.
func (r *Record) Snapshot() Data {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data
}

// TakeSnapshot returns a copy of the data and clears the dirty flag,
// reporting whether it was set. A failed save must call MarkDirty.
func (r *Record) TakeSnapshot() (Data, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dirty := r.dirty
	r.dirty = false
	return r.data, dirty
}

// MarkDirty flags the record for the next save.
func (r *Record) MarkDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = true
}

// Dirty reports whether the record has unsaved changes.
func (r *Record) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

// LastModified returns the time of the last tracked mutation.
func (r *Record) LastModified() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.LastModified
}

// IsOnline reports whether a session is linked. Reads are lock-free and
// may briefly lag a concurrent login or logout.
func (r *Record) IsOnline() bool { return r.online.Load() }

// Session returns the linked session, or nil when offline.
func (r *Record) Session() Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// IsBanned reports whether the ban status is Banned.
func (r *Record) IsBanned() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.BanStatus == Banned
}

// IsMuted reports whether the mute has not yet expired.
func (r *Record) IsMuted() bool {
	r.mu.RLock()
	until := r.data.MutedUntil
	r.mu.RUnlock()
	return r.clock.Now().Before(until)
}

// IsFrozen reports whether the player is frozen.
func (r *Record) IsFrozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.IsFrozen
}

// IsHidden reports whether the player is hidden from other players.
func (r *Record) IsHidden() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.IsHidden
}

// LastIP returns the address of the last successful login.
func (r *Record) LastIP() netip.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.LastIP
}

// LastSeen returns the last time the player was online.
func (r *Record) LastSeen() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.LastSeen
}

func (r *Record) since(field func(d *Data) time.Time) time.Duration {
	r.mu.RLock()
	t := field(&r.data)
	r.mu.RUnlock()
	if t.IsZero() {
		return 0
	}
	return r.clock.Now().Sub(t)
}

// TimeSinceLastSeen returns how long ago the player was last online. Online
// players report zero.
func (r *Record) TimeSinceLastSeen() time.Duration {
	if r.IsOnline() {
		return 0
	}
	return r.since(func(d *Data) time.Time { return d.LastSeen })
}

// TimeSinceFirstLogin returns the age of the account's first login.
func (r *Record) TimeSinceFirstLogin() time.Duration {
	return r.since(func(d *Data) time.Time { return d.FirstLoginDate })
}

// TimeSinceLastLogin returns how long ago the last login happened.
func (r *Record) TimeSinceLastLogin() time.Duration {
	return r.since(func(d *Data) time.Time { return d.LastLoginDate })
}

// TimeSinceRankChange returns how long the current rank has been held.
func (r *Record) TimeSinceRankChange() time.Duration {
	return r.since(func(d *Data) time.Time { return d.RankChangeDate })
}

// TimeSinceBan returns how long ago the last ban happened.
func (r *Record) TimeSinceBan() time.Duration {
	return r.since(func(d *Data) time.Time { return d.BanDate })
}

// TimeSinceUnban returns how long ago the last unban happened.
func (r *Record) TimeSinceUnban() time.Duration {
	return r.since(func(d *Data) time.Time { return d.UnbanDate })
}

// TimeSinceFrozen returns how long ago the player was frozen.
func (r *Record) TimeSinceFrozen() time.Duration {
	return r.since(func(d *Data) time.Time { return d.FrozenOn })
}

// TimeSinceLastKick returns how long ago the player was last kicked.
func (r *Record) TimeSinceLastKick() time.Duration {
	return r.since(func(d *Data) time.Time { return d.LastKickDate })
}

// TimeSinceLastModified returns the age of the last tracked mutation.
func (r *Record) TimeSinceLastModified() time.Duration {
	return r.since(func(d *Data) time.Time { return d.LastModified })
}

// MuteRemaining returns how long the mute lasts, or zero when not muted.
func (r *Record) MuteRemaining() time.Duration {
	r.mu.RLock()
	until := r.data.MutedUntil
	r.mu.RUnlock()
	if left := until.Sub(r.clock.Now()); left > 0 {
		return left
	}
	return 0
}

// TotalTime returns the accumulated connected time, including the current
// session when online.
func (r *Record) TotalTime() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := r.data.TotalTime
	if r.session != nil && !r.loginTime.IsZero() {
		total += r.clock.Now().Sub(r.loginTime)
	}
	return total
}

// Rename changes the account name. Only letter case may change.
func (r *Record) Rename(newName string) error {
	if strings.TrimSpace(newName) == "" {
		return errInvalid("new name is required")
	}
	r.mu.Lock()
	if !strings.EqualFold(r.data.Name, newName) {
		err := errState(CodeRenameInvalid, &r.data, "cannot rename %s to %s: only letter case may change", r.data.Name, newName)
		r.mu.Unlock()
		return err
	}
	if r.data.Name == newName {
		r.mu.Unlock()
		return nil
	}
	r.data.Name = newName
	r.touchLocked()
	obs := r.observer
	r.mu.Unlock()

	if obs != nil {
		obs(r, ChangeName)
	}
	return nil
}

// SetDisplayName sets or clears (with "") the display name override.
func (r *Record) SetDisplayName(name string) {
	r.mutate(ChangeName, func(d *Data) { d.DisplayName = name })
}

// ProcessLogin links s and updates the login bookkeeping.
func (r *Record) ProcessLogin(s Session) error {
	if s == nil {
		return errInvalid("session is required")
	}
	r.mutate(ChangeSession|ChangeStats, func(d *Data) {
		now := r.clock.Now()
		d.LastIP = s.IP()
		d.LastLoginDate = now
		d.LastSeen = now
		if d.FirstLoginDate.IsZero() {
			d.FirstLoginDate = now
		}
		d.TimesVisited++
		r.session = s
		r.loginTime = now
		r.online.Store(true)
	})
	return nil
}

// ProcessLogout folds the session into total time and unlinks it.
func (r *Record) ProcessLogout(s Session, reason LeaveReason) {
	r.mutate(ChangeSession|ChangeStats, func(d *Data) {
		if s != nil && r.session != nil && r.session != s {
			// A newer session has already replaced s.
			return
		}
		now := r.clock.Now()
		if !r.loginTime.IsZero() {
			d.TotalTime += now.Sub(r.loginTime)
		}
		d.LastSeen = now
		d.LeaveReason = reason
		r.session = nil
		r.loginTime = time.Time{}
		r.online.Store(false)
	})
}

// ProcessFailedLogin records a failed login attempt from ip.
func (r *Record) ProcessFailedLogin(ip netip.Addr) error {
	if !ip.IsValid() {
		return errInvalid("a valid address is required")
	}
	r.mutate(ChangeSession, func(d *Data) {
		d.LastFailedLoginDate = r.clock.Now()
		d.LastFailedLoginIP = ip
	})
	return nil
}

// ProcessRankChange moves the record to newRank. Permission checks and
// events are the caller's responsibility.
func (r *Record) ProcessRankChange(newRank *rank.Rank, actor, reason string, kind RankChangeType) error {
	if newRank == nil {
		return errInvalid("new rank is required")
	}
	r.mutate(ChangeRank, func(d *Data) {
		d.PreviousRank = d.Rank
		d.Rank = newRank
		d.RankChangeDate = r.clock.Now()
		d.RankChangedBy = actor
		d.RankChangeReason = strings.TrimSpace(reason)
		d.RankChangeType = kind
	})
	return nil
}

// ProcessKick counts a kick of r by kicker. Both records are locked in
// ascending id order. Being kicked also unfreezes r.
func (r *Record) ProcessKick(kicker *Record, reason string) error {
	if kicker == nil {
		return errInvalid("kicker is required")
	}
	reason = strings.TrimSpace(reason)

	unlock := lockPair(r, kicker)
	kickerName := kicker.data.Name
	now := r.clock.Now()
	r.data.TimesKicked++
	r.data.LastKickDate = now
	r.data.LastKickBy = kickerName
	r.data.LastKickReason = reason
	r.data.IsFrozen = false
	r.data.FrozenBy = ""
	r.touchLocked()
	kicker.data.TimesKickedOthers++
	if kicker != r {
		kicker.touchLocked()
	}
	unlock()

	r.notify(ChangeKick | ChangeFreeze | ChangeStats)
	if kicker != r {
		kicker.notify(ChangeStats)
	}
	return nil
}

// ProcessBlockPlaced counts a single block change.
func (r *Record) ProcessBlockPlaced(b BlockType) {
	r.mutate(ChangeStats, func(d *Data) {
		if b == BlockAir {
			d.BlocksDeleted++
		} else {
			d.BlocksBuilt++
		}
	})
}

// ProcessDrawCommand counts blocks changed by a draw command.
func (r *Record) ProcessDrawCommand(count int64) {
	if count <= 0 {
		return
	}
	r.mutate(ChangeStats, func(d *Data) { d.BlocksDrawn += count })
}

// ProcessMessageWritten counts a chat message that reached someone else.
func (r *Record) ProcessMessageWritten() {
	r.mutate(ChangeStats, func(d *Data) { d.MessagesWritten++ })
}

// ProcessBan marks the account banned.
func (r *Record) ProcessBan(actor, reason string) error {
	return r.mutateChecked(ChangeBan, func(d *Data) error {
		if d.BanStatus == Banned {
			return errState(CodeAlreadyBanned, d, "%s is already banned", d.Name)
		}
		d.BanStatus = Banned
		d.BanDate = r.clock.Now()
		d.BannedBy = actor
		d.BanReason = strings.TrimSpace(reason)
		return nil
	})
}

// ProcessUnban lifts the ban.
func (r *Record) ProcessUnban(actor, reason string) error {
	return r.mutateChecked(ChangeBan, func(d *Data) error {
		if d.BanStatus != Banned {
			return errState(CodeNotBanned, d, "%s is not banned", d.Name)
		}
		d.BanStatus = NotBanned
		d.UnbanDate = r.clock.Now()
		d.UnbannedBy = actor
		d.UnbanReason = strings.TrimSpace(reason)
		return nil
	})
}

// ProcessBanGiven counts a ban issued by this player.
func (r *Record) ProcessBanGiven() {
	r.mutate(ChangeStats, func(d *Data) { d.TimesBannedOthers++ })
}

// SetBanExempt toggles immunity from address bans. Banned accounts cannot
// be made exempt.
func (r *Record) SetBanExempt(exempt bool) error {
	return r.mutateChecked(ChangeBan, func(d *Data) error {
		if d.BanStatus == Banned {
			return errState(CodeAlreadyBanned, d, "%s is banned", d.Name)
		}
		if exempt {
			d.BanStatus = BanExempt
		} else {
			d.BanStatus = NotBanned
		}
		return nil
	})
}

// ProcessFreeze freezes the player in place.
func (r *Record) ProcessFreeze(actor string) error {
	return r.mutateChecked(ChangeFreeze, func(d *Data) error {
		if d.IsFrozen {
			return errState(CodeAlreadyFrozen, d, "%s is already frozen", d.Name)
		}
		d.IsFrozen = true
		d.FrozenOn = r.clock.Now()
		d.FrozenBy = actor
		return nil
	})
}

// ProcessUnfreeze releases a frozen player.
func (r *Record) ProcessUnfreeze() error {
	return r.mutateChecked(ChangeFreeze, func(d *Data) error {
		if !d.IsFrozen {
			return errState(CodeNotFrozen, d, "%s is not frozen", d.Name)
		}
		d.IsFrozen = false
		d.FrozenBy = ""
		return nil
	})
}

// ProcessMute mutes the player for duration. An existing mute is only
// replaced if the new one lasts longer.
func (r *Record) ProcessMute(actor string, duration time.Duration) error {
	if duration <= 0 {
		return errInvalid("mute duration must be positive")
	}
	return r.mutateChecked(ChangeMute, func(d *Data) error {
		now := r.clock.Now()
		until := now.Add(duration)
		if !d.MutedUntil.Before(until) {
			return errAlreadyMuted(d)
		}
		d.MutedUntil = until
		d.MutedBy = actor
		return nil
	})
}

// ProcessUnmute lifts an active mute.
func (r *Record) ProcessUnmute() error {
	return r.mutateChecked(ChangeMute, func(d *Data) error {
		if !r.clock.Now().Before(d.MutedUntil) {
			return errState(CodeNotMuted, d, "%s is not muted", d.Name)
		}
		d.MutedUntil = time.Time{}
		d.MutedBy = ""
		return nil
	})
}

// ProcessSetHidden changes visibility to other players.
func (r *Record) ProcessSetHidden(hidden bool) {
	r.mutate(ChangeHidden, func(d *Data) { d.IsHidden = hidden })
}

// ReconcileBan clears privileged state a banned account must not keep and
// reports what was cleared. Unbanned records are left alone.
func (r *Record) ReconcileBan() (hidden, frozen, muted bool) {
	r.mu.Lock()
	if r.data.BanStatus != Banned {
		r.mu.Unlock()
		return false, false, false
	}
	now := r.clock.Now()
	hidden = r.data.IsHidden
	frozen = r.data.IsFrozen
	muted = now.Before(r.data.MutedUntil)
	if !hidden && !frozen && !muted {
		r.mu.Unlock()
		return false, false, false
	}
	r.data.IsHidden = false
	r.data.IsFrozen = false
	r.data.FrozenBy = ""
	r.data.MutedUntil = time.Time{}
	r.data.MutedBy = ""
	r.touchLocked()
	obs := r.observer
	r.mu.Unlock()

	if obs != nil {
		obs(r, ChangeHidden|ChangeFreeze|ChangeMute)
	}
	return hidden, frozen, muted
}

// mutateChecked is mutate for changes guarded by a precondition. Nothing is
// written and nobody is notified when fn returns an error.
func (r *Record) mutateChecked(changes Change, fn func(d *Data) error) error {
	r.mu.Lock()
	d := r.data
	if err := fn(&d); err != nil {
		r.mu.Unlock()
		return err
	}
	r.data = d
	r.touchLocked()
	obs := r.observer
	r.mu.Unlock()

	if obs != nil {
		obs(r, changes)
	}
	return nil
}

// SwapData exchanges everything except id and name between two offline
// records.
func SwapData(a, b *Record) error {
	if a == nil || b == nil || a == b {
		return errInvalid("two distinct records are required")
	}
	unlock := lockPair(a, b)
	if a.session != nil || b.session != nil {
		unlock()
		return errSwapOnline(&a.data, &b.data)
	}
	ad, bd := a.data, b.data
	ad.ID, ad.Name, bd.ID, bd.Name = bd.ID, bd.Name, ad.ID, ad.Name
	a.data, b.data = bd, ad
	a.online.Store(false)
	b.online.Store(false)
	a.touchLocked()
	b.touchLocked()
	unlock()

	a.notify(ChangeSwap)
	b.notify(ChangeSwap)
	return nil
}

// lockPair write-locks a and b in ascending id order and returns the unlock
// function. a and b may be the same record.
func lockPair(a, b *Record) func() {
	if a == b {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if b.id < a.id {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}
