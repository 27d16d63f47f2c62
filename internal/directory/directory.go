// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package directory is the process-wide player database. It owns the
// record store, keeps an id-sorted snapshot for lock-free iteration and
// implements the lookups used by commands and the login path.
package directory

import (
	"cmp"
	"context"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/playerdb/internal/event"
	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/internal/store"
)

// Console identity. The console is a super player and is never persisted.
const (
	ConsoleID   = 1
	ConsoleName = "(console)"
)

// SweepResult counts what the post-load consistency sweep corrected.
type SweepResult struct {
	Banned   int
	Unhidden int
	Unfrozen int
	Unmuted  int
}

// Directory wraps a store with the canonical record list.
//
// mu guards list. Every structural change rebuilds the snapshot, which
// readers load without locking. list is only touched from store listener
// callbacks and Load, both of which run with the store lock held.
type Directory struct {
	store  *store.Store
	ranks  *rank.Model
	events *Events
	logger *slog.Logger

	mu       sync.Mutex
	list     []*record.Record
	snapshot atomic.Pointer[[]*record.Record]
	console  atomic.Pointer[record.Record]
}

var _ store.Listener = (*Directory)(nil)

// Option configures a Directory.
type Option func(*Directory)

// WithEvents sets the event buses. By default the directory creates its own.
func WithEvents(e *Events) Option {
	return func(d *Directory) {
		if e != nil {
			d.events = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a directory over st and installs itself as the store's
// structural change listener.
func New(st *store.Store, opts ...Option) *Directory {
	d := &Directory{
		store:  st,
		ranks:  st.Ranks(),
		events: NewEvents(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	empty := []*record.Record{}
	d.snapshot.Store(&empty)
	st.SetListener(d)
	return d
}

// Events returns the directory buses.
func (d *Directory) Events() *Events { return d.events }

// Store returns the underlying record store.
func (d *Directory) Store() *store.Store { return d.store }

// Ranks returns the rank model.
func (d *Directory) Ranks() *rank.Model { return d.ranks }

// Load reads every record, registers the console and runs the consistency
// sweep over banned records.
func (d *Directory) Load(ctx context.Context) (SweepResult, error) {
	records, err := d.store.Load(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	d.mu.Lock()
	d.list = records
	d.publishLocked()
	d.mu.Unlock()

	console, err := d.store.AddSuperPlayer(ConsoleID, ConsoleName, d.ranks.Highest())
	if err != nil {
		return SweepResult{}, oops.In("directory").Wrapf(err, "register console")
	}
	d.console.Store(console)

	res := d.sweep(records)
	if res != (SweepResult{}) {
		d.logger.Info("consistency sweep corrected banned records",
			"banned", res.Banned,
			"unhidden", res.Unhidden,
			"unfrozen", res.Unfrozen,
			"unmuted", res.Unmuted)
	}
	d.updateGauges()
	return res, nil
}

// sweep strips hidden, frozen and muted state from banned records.
func (d *Directory) sweep(records []*record.Record) SweepResult {
	var res SweepResult
	for _, rec := range records {
		if !rec.IsBanned() {
			continue
		}
		res.Banned++
		hidden, frozen, muted := rec.ReconcileBan()
		if hidden {
			res.Unhidden++
		}
		if frozen {
			res.Unfrozen++
		}
		if muted {
			res.Unmuted++
		}
	}
	return res
}

// Save persists dirty records and refreshes the statistics gauges.
func (d *Directory) Save(ctx context.Context) error {
	err := d.store.Save(ctx)
	d.updateGauges()
	return err
}

// Close releases the store backend.
func (d *Directory) Close() error {
	return d.store.Close()
}

// Console returns the console super player, or nil before Load.
func (d *Directory) Console() *record.Record {
	return d.console.Load()
}

// RecordAdded implements store.Listener.
func (d *Directory) RecordAdded(r *record.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, found := slices.BinarySearchFunc(d.list, r.ID(), byID)
	if found {
		d.list[i] = r
	} else {
		d.list = slices.Insert(d.list, i, r)
	}
	d.publishLocked()
}

// RecordRemoved implements store.Listener.
func (d *Directory) RecordRemoved(r *record.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, found := slices.BinarySearchFunc(d.list, r.ID(), byID); found {
		d.list = slices.Delete(d.list, i, i+1)
		d.publishLocked()
	}
}

func (d *Directory) publishLocked() {
	snap := slices.Clone(d.list)
	if snap == nil {
		snap = []*record.Record{}
	}
	d.snapshot.Store(&snap)
}

func byID(r *record.Record, id int) int { return cmp.Compare(r.ID(), id) }

// List returns every stored record in id order. The slice is shared and
// must not be modified.
func (d *Directory) List() []*record.Record {
	return *d.snapshot.Load()
}

// Count returns the number of stored records.
func (d *Directory) Count() int {
	return len(*d.snapshot.Load())
}

// FindByID returns the record with the given id, including super players.
func (d *Directory) FindByID(id int) *record.Record {
	if id <= store.MaxSuperPlayerID {
		return d.store.FindByID(id)
	}
	list := *d.snapshot.Load()
	if i, found := slices.BinarySearchFunc(list, id, byID); found {
		return list[i]
	}
	return nil
}

// FindOrCreateInfoForPlayer returns the record for a connecting player,
// creating it on first sight. Creating subscribers may change the starting
// rank or cancel, which rejects the login. Created is published after the
// store lock is released.
func (d *Directory) FindOrCreateInfoForPlayer(name string, ip netip.Addr) (*record.Record, error) {
	rec, created, err := d.store.FindOrAdd(name, ip, func() (*rank.Rank, error) {
		ev := &Creating{Name: name, IP: ip, StartingRank: d.ranks.DefaultRank()}
		if event.PublishCancellable(d.events.Creating, ev) {
			return nil, record.ErrCancelled(d.events.Creating.Name())
		}
		if ev.StartingRank == nil {
			return d.ranks.DefaultRank(), nil
		}
		if d.ranks.FindRankByID(ev.StartingRank.ID()) != ev.StartingRank {
			return nil, oops.In("directory").
				Code(CodeInvalidArgument).
				With("rank", ev.StartingRank.Name()).
				Errorf("starting rank %s is not part of the rank model", ev.StartingRank.Name())
		}
		return ev.StartingRank, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		recordsCreated.Inc()
		d.logger.Info("created player record",
			"player", rec.Name(),
			"id", rec.ID(),
			"rank", rec.Rank().Name(),
			"ip", ip.String())
		d.events.Created.Publish(&Created{Record: rec})
	}
	return rec, nil
}

// FindPlayerInfoOrPrintMatches resolves name to exactly one record on
// behalf of requester. An exact name wins over prefix matches. When several
// records match, the error carries the candidate names in the order
// requester should see them.
func (d *Directory) FindPlayerInfoOrPrintMatches(requester *record.Record, name string) (*record.Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, oops.In("directory").Code(CodeInvalidArgument).Errorf("a player name is required")
	}
	if rec := d.store.FindExact(name); rec != nil {
		return rec, nil
	}
	matches := d.store.FindByPartialName(name, 0)
	switch len(matches) {
	case 0:
		return nil, errNoMatch(name)
	case 1:
		return matches[0], nil
	default:
		d.SortCandidates(requester, matches)
		return nil, errAmbiguous(name, matches)
	}
}

// Matches returns every record whose name starts with prefix, ordered for
// requester.
func (d *Directory) Matches(requester *record.Record, prefix string) []*record.Record {
	matches := d.store.FindByPartialName(strings.TrimSpace(prefix), 0)
	d.SortCandidates(requester, matches)
	return matches
}

// SortCandidates orders records the way requester should see them: players
// online and visible to requester first, then by rank from highest, then
// most recently seen. Ties fall back to id so the order is deterministic.
func (d *Directory) SortCandidates(requester *record.Record, recs []*record.Record) {
	type keyed struct {
		rec      *record.Record
		present  bool
		rank     int
		lastSeen time.Time
	}
	keys := make([]keyed, len(recs))
	for i, rec := range recs {
		keys[i] = keyed{
			rec:      rec,
			present:  rec.IsOnline() && d.CanSee(requester, rec),
			rank:     rec.Rank().Index(),
			lastSeen: rec.LastSeen(),
		}
	}
	slices.SortFunc(keys, func(a, b keyed) int {
		if a.present != b.present {
			if a.present {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		if c := b.lastSeen.Compare(a.lastSeen); c != 0 {
			return c
		}
		return cmp.Compare(a.rec.ID(), b.rec.ID())
	})
	for i := range keys {
		recs[i] = keys[i].rec
	}
}

// CanSee reports whether requester sees target as present. Hidden players
// are visible to themselves and to ranks that may hide them. A nil
// requester is an anonymous observer.
func (d *Directory) CanSee(requester, target *record.Record) bool {
	if !target.IsHidden() {
		return true
	}
	if requester == nil {
		return false
	}
	return requester == target || d.ranks.CanAffect(requester.Rank(), target.Rank(), rank.PermHide)
}

// FindExact returns the record with the given name, ignoring case.
func (d *Directory) FindExact(name string) *record.Record {
	return d.store.FindExact(name)
}

// FindByPartialName returns up to limit records whose name starts with
// prefix, in name order.
func (d *Directory) FindByPartialName(prefix string, limit int) []*record.Record {
	return d.store.FindByPartialName(prefix, limit)
}

// FindOneByPartialName resolves prefix to a single record.
func (d *Directory) FindOneByPartialName(prefix string) (*record.Record, bool) {
	return d.store.FindOneByPartialName(prefix)
}

// FindByIP returns up to limit records last seen at addr.
func (d *Directory) FindByIP(addr netip.Addr, limit int) []*record.Record {
	return d.store.FindByIP(addr, limit)
}

// FindByPattern returns up to limit records matching a name glob.
func (d *Directory) FindByPattern(pattern string, limit int) ([]*record.Record, error) {
	return d.store.FindByPattern(pattern, limit)
}

// AddUnrecognizedPlayer creates a record for a name that has never
// connected. A nil rank means the default rank.
func (d *Directory) AddUnrecognizedPlayer(name string, startingRank *rank.Rank) (*record.Record, error) {
	if startingRank == nil {
		startingRank = d.ranks.DefaultRank()
	}
	rec, err := d.store.AddUnrecognizedPlayer(name, startingRank, record.RankChangeDefault)
	if err != nil {
		return nil, err
	}
	recordsCreated.Inc()
	d.events.Created.Publish(&Created{Record: rec})
	return rec, nil
}

// MassRankChange moves every record holding from to to.
func (d *Directory) MassRankChange(actor *record.Record, from, to *rank.Rank, reason string) (int, error) {
	return d.store.MassRankChange(actor, from, to, reason)
}

// SwapInfo exchanges everything but id and name between two offline records.
func (d *Directory) SwapInfo(a, b *record.Record) error {
	return d.store.SwapInfo(a, b)
}

// Remove deletes an offline record.
func (d *Directory) Remove(rec *record.Record) error {
	return d.store.Remove(rec)
}
