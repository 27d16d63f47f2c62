// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store keeps the indexed in-memory record set and persists it
// through a pluggable Backend.
package store

import (
	"context"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/record"
)

// Id allocation. Ids up to MaxSuperPlayerID are reserved for super players
// such as the console; regular accounts start at FirstPlayerID.
const (
	MaxSuperPlayerID = 255
	FirstPlayerID    = 256
)

// Listener is told about structural changes. It is called with the store
// lock held and must not call back into the store.
type Listener interface {
	RecordAdded(r *record.Record)
	RecordRemoved(r *record.Record)
}

// Store is the record store.
//
// mu serializes load, save and every structural change so lookup-then-create
// is atomic. idx guards the indexes and is the only lock lookups take, so
// reads never wait for a save in progress. Lock order is mu, then idx.
type Store struct {
	mu       sync.Mutex
	loaded   bool
	maxID    int
	removed  []int
	listener Listener

	idx    sync.RWMutex
	byID   map[int]*record.Record
	byName map[string]*record.Record
	names  prefixIndex
	byIP   map[netip.Addr]map[int]*record.Record
	ipOf   map[int]netip.Addr
	supers map[int]*record.Record

	ranks   *rank.Model
	backend Backend
	clock   record.Clock
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock given to every record.
func WithClock(c record.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithListener installs the structural change listener.
func WithListener(l Listener) Option {
	return func(s *Store) { s.listener = l }
}

// New creates an empty, unloaded store.
func New(ranks *rank.Model, backend Backend, opts ...Option) *Store {
	s := &Store{
		maxID:   FirstPlayerID - 1,
		byID:    make(map[int]*record.Record),
		byName:  make(map[string]*record.Record),
		byIP:    make(map[netip.Addr]map[int]*record.Record),
		ipOf:    make(map[int]netip.Addr),
		supers:  make(map[int]*record.Record),
		ranks:   ranks,
		backend: backend,
		clock:   record.SystemClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetListener replaces the structural change listener.
func (s *Store) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Backend returns the persistence backend.
func (s *Store) Backend() Backend { return s.backend }

// Ranks returns the rank model records refer to.
func (s *Store) Ranks() *rank.Model { return s.ranks }

// Loaded reports whether Load has completed.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Load reads every record from the backend and freezes the rank model.
// Records with an out-of-range id, a duplicate id, or a duplicate name are
// skipped and logged. The loaded records are returned sorted by id.
func (s *Store) Load(ctx context.Context) ([]*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil, oops.In("store").Code(CodeAlreadyLoaded).Errorf("records are already loaded")
	}
	s.ranks.Freeze()

	start := time.Now()
	ds, err := s.backend.Load(ctx, s.ranks)
	if err != nil {
		return nil, oops.In("store").
			Code(CodeLoadFailed).
			With("backend", s.backend.Name()).
			Wrapf(err, "load records")
	}
	if ds == nil {
		s.logger.Info("no stored records, starting empty", "backend", s.backend.Name())
		ds = &Dataset{}
	}

	s.idx.Lock()
	highest := max(ds.MaxID, FirstPlayerID-1)
	skipped := 0
	for _, d := range ds.Records {
		if reason := s.rejectLocked(d); reason != "" {
			s.logger.Warn("skipping stored record", "reason", reason, "id", d.ID, "player", d.Name)
			skipped++
			continue
		}
		if d.Rank == nil {
			d.Rank = s.ranks.DefaultRank()
		}
		rec := record.FromData(d, record.WithClock(s.clock), record.WithObserver(s.observe))
		s.indexLocked(rec)
		highest = max(highest, d.ID)
	}
	s.maxID = highest
	records := s.sortedLocked()
	s.idx.Unlock()

	s.loaded = true
	recordsSkipped.WithLabelValues(s.backend.Name()).Add(float64(skipped))
	s.logger.Info("records loaded",
		"backend", s.backend.Name(),
		"records", len(records),
		"skipped", skipped,
		"format_version", ds.Version,
		"max_id", s.maxID,
		"duration", time.Since(start))
	return records, nil
}

// rejectLocked explains why d cannot be loaded, or returns "".
func (s *Store) rejectLocked(d record.Data) string {
	switch {
	case d.ID < FirstPlayerID:
		return "id out of range"
	case strings.TrimSpace(d.Name) == "":
		return "missing name"
	case s.byID[d.ID] != nil:
		return "duplicate id"
	case s.byName[nameKey(d.Name)] != nil:
		return "duplicate name"
	default:
		return ""
	}
}

// Save persists the record set. Dirty flags are collected first, then the
// backend writes without any record lock held. On failure the previously
// dirty records are flagged again so the next save retries them.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return oops.In("store").Code(CodeNotLoaded).Errorf("records are not loaded")
	}

	start := time.Now()
	s.idx.RLock()
	records := s.sortedLocked()
	s.idx.RUnlock()

	batch := &Batch{MaxID: s.maxID, All: make([]record.Data, 0, len(records)), Removed: slices.Clone(s.removed)}
	var dirty []*record.Record
	for _, rec := range records {
		d, changed := rec.TakeSnapshot()
		batch.All = append(batch.All, d)
		if changed {
			batch.Changed = append(batch.Changed, d)
			dirty = append(dirty, rec)
		}
	}

	if err := s.backend.Save(ctx, batch); err != nil {
		for _, rec := range dirty {
			rec.MarkDirty()
		}
		saveFailures.WithLabelValues(s.backend.Name()).Inc()
		return oops.In("store").
			Code(CodeSaveFailed).
			With("backend", s.backend.Name()).
			With("records", len(batch.All)).
			With("changed", len(batch.Changed)).
			Wrapf(err, "save records")
	}
	s.removed = nil

	elapsed := time.Since(start)
	saveDuration.WithLabelValues(s.backend.Name()).Observe(elapsed.Seconds())
	s.logger.Debug("records saved",
		"backend", s.backend.Name(),
		"records", len(batch.All),
		"changed", len(batch.Changed),
		"removed", len(batch.Removed),
		"duration", elapsed)
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	if err := s.backend.Close(); err != nil {
		return oops.In("store").With("backend", s.backend.Name()).Wrapf(err, "close backend")
	}
	return nil
}

// AddPlayer creates a record for a player seen connecting from ip.
func (s *Store) AddPlayer(name string, ip netip.Addr, startingRank *rank.Rank, kind record.RankChangeType) (*record.Record, error) {
	if !ip.IsValid() {
		return nil, oops.In("store").Code(CodeInvalidArgument).With("name", name).Errorf("a valid address is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(name, ip, startingRank, kind)
}

// AddUnrecognizedPlayer creates a record for a player who has never
// connected, such as the target of a pre-emptive ban.
func (s *Store) AddUnrecognizedPlayer(name string, startingRank *rank.Rank, kind record.RankChangeType) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(name, netip.Addr{}, startingRank, kind)
}

// FindOrAdd returns the record named name, creating it if needed. decide is
// called only on a miss, with the store lock held, and returns the starting
// rank or an error that aborts the creation. Concurrent calls for the same
// name create at most one record.
func (s *Store) FindOrAdd(name string, ip netip.Addr, decide func() (*rank.Rank, error)) (rec *record.Record, created bool, err error) {
	if err := record.ValidateName(name); err != nil {
		return nil, false, err
	}
	if !ip.IsValid() {
		return nil, false, oops.In("store").Code(CodeInvalidArgument).With("name", name).Errorf("a valid address is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.FindExact(name); existing != nil {
		return existing, false, nil
	}
	if !s.loaded {
		return nil, false, oops.In("store").Code(CodeNotLoaded).Errorf("records are not loaded")
	}
	startingRank, err := decide()
	if err != nil {
		return nil, false, err
	}
	rec, err = s.addLocked(name, ip, startingRank, record.RankChangeDefault)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *Store) addLocked(name string, ip netip.Addr, startingRank *rank.Rank, kind record.RankChangeType) (*record.Record, error) {
	if !s.loaded {
		return nil, oops.In("store").Code(CodeNotLoaded).Errorf("records are not loaded")
	}
	if err := record.ValidateName(name); err != nil {
		return nil, err
	}
	if startingRank == nil {
		return nil, oops.In("store").Code(CodeInvalidArgument).With("name", name).Errorf("a starting rank is required")
	}
	if s.FindExact(name) != nil {
		return nil, oops.In("store").
			Code(CodeDuplicateName).
			With("name", name).
			Errorf("a player named %s already exists", name)
	}

	s.maxID++
	data := record.Data{
		ID:             s.maxID,
		Name:           name,
		Rank:           startingRank,
		RankChangeType: kind,
		LastIP:         ip,
	}
	if kind != record.RankChangeDefault {
		data.RankChangeDate = s.clock.Now()
	}
	rec := record.New(data, record.WithClock(s.clock), record.WithObserver(s.observe))

	s.idx.Lock()
	s.indexLocked(rec)
	s.idx.Unlock()

	if s.listener != nil {
		s.listener.RecordAdded(rec)
	}
	return rec, nil
}

// AddSuperPlayer creates an in-memory record with a reserved id, such as
// the console. Super players are never persisted and have no name index
// entry; they are found by id only.
func (s *Store) AddSuperPlayer(id int, name string, r *rank.Rank) (*record.Record, error) {
	if id < 1 || id > MaxSuperPlayerID {
		return nil, oops.In("store").
			Code(CodeReservedID).
			With("id", id).
			Errorf("super player ids must be between 1 and %d", MaxSuperPlayerID)
	}
	if strings.TrimSpace(name) == "" || r == nil {
		return nil, oops.In("store").Code(CodeInvalidArgument).Errorf("super player requires a name and a rank")
	}

	s.idx.Lock()
	defer s.idx.Unlock()
	if _, taken := s.supers[id]; taken {
		return nil, oops.In("store").
			Code(CodeReservedID).
			With("id", id).
			Errorf("reserved id %d is already in use", id)
	}
	rec := record.FromData(record.Data{
		ID:             id,
		Name:           name,
		Rank:           r,
		RankChangeType: record.RankChangeAutoPromoted,
	}, record.WithClock(s.clock))
	s.supers[id] = rec
	return rec, nil
}

// Remove deletes an offline record from every index. The deletion is
// persisted by the next save.
func (s *Store) Remove(rec *record.Record) error {
	if rec == nil {
		return oops.In("store").Code(CodeInvalidArgument).Errorf("record is required")
	}
	if rec.IsOnline() {
		return oops.In("store").
			Code(CodeInvalidArgument).
			With("name", rec.Name()).
			Errorf("cannot remove %s while online", rec.Name())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.idx.Lock()
	if s.byID[rec.ID()] != rec {
		s.idx.Unlock()
		return oops.In("store").
			Code(CodeInvalidArgument).
			With("id", rec.ID()).
			Errorf("record %d is not in the store", rec.ID())
	}
	s.unindexLocked(rec)
	s.idx.Unlock()

	rec.SetObserver(nil)
	s.removed = append(s.removed, rec.ID())
	if s.listener != nil {
		s.listener.RecordRemoved(rec)
	}
	return nil
}

// MassRankChange moves every record holding from to to and returns how
// many records changed.
func (s *Store) MassRankChange(actor *record.Record, from, to *rank.Rank, reason string) (int, error) {
	if actor == nil || from == nil || to == nil || from == to {
		return 0, oops.In("store").Code(CodeInvalidArgument).Errorf("mass rank change requires an actor and two different ranks")
	}
	kind := record.RankChangeDemoted
	if to.IsAbove(from) {
		kind = record.RankChangePromoted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.idx.RLock()
	records := s.sortedLocked()
	s.idx.RUnlock()

	changed := 0
	for _, rec := range records {
		if rec.Rank() != from {
			continue
		}
		if err := rec.ProcessRankChange(to, actor.Name(), reason, kind); err != nil {
			return changed, err
		}
		changed++
	}
	s.logger.Info("mass rank change",
		"actor", actor.Name(),
		"from", from.Name(),
		"to", to.Name(),
		"records", changed)
	return changed, nil
}

// SwapInfo exchanges everything but id and name between two offline records.
func (s *Store) SwapInfo(a, b *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return record.SwapData(a, b)
}

// FindExact returns the record with the given name, ignoring case.
func (s *Store) FindExact(name string) *record.Record {
	s.idx.RLock()
	defer s.idx.RUnlock()
	return s.byName[nameKey(name)]
}

// FindByID returns the record with the given id, including super players.
func (s *Store) FindByID(id int) *record.Record {
	s.idx.RLock()
	defer s.idx.RUnlock()
	if rec, ok := s.byID[id]; ok {
		return rec
	}
	return s.supers[id]
}

// FindByPartialName returns up to limit records whose name starts with
// prefix, in name order. A limit of zero means no limit.
func (s *Store) FindByPartialName(prefix string, limit int) []*record.Record {
	key := nameKey(prefix)
	if key == "" {
		return nil
	}
	s.idx.RLock()
	defer s.idx.RUnlock()
	return s.names.find(key, limit)
}

// FindOneByPartialName resolves prefix to a single record. An exact name
// match wins. Zero matches returns nil; several returns nil and ambiguous.
func (s *Store) FindOneByPartialName(prefix string) (rec *record.Record, ambiguous bool) {
	key := nameKey(prefix)
	if key == "" {
		return nil, false
	}
	s.idx.RLock()
	defer s.idx.RUnlock()
	if rec, ok := s.byName[key]; ok {
		return rec, false
	}
	switch matches := s.names.find(key, 2); len(matches) {
	case 0:
		return nil, false
	case 1:
		return matches[0], false
	default:
		return nil, true
	}
}

// FindByIP returns up to limit records last seen at addr, ordered by id.
func (s *Store) FindByIP(addr netip.Addr, limit int) []*record.Record {
	if !addr.IsValid() {
		return nil
	}
	s.idx.RLock()
	set := s.byIP[addr.Unmap()]
	out := make([]*record.Record, 0, len(set))
	for _, rec := range set {
		out = append(out, rec)
	}
	s.idx.RUnlock()

	slices.SortFunc(out, func(a, b *record.Record) int { return a.ID() - b.ID() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FindByPattern returns up to limit records whose name matches a glob
// pattern ("*" and "?" wildcards), ignoring case, in name order.
func (s *Store) FindByPattern(pattern string, limit int) ([]*record.Record, error) {
	g, err := glob.Compile(nameKey(pattern))
	if err != nil {
		return nil, oops.In("store").
			Code(CodeInvalidArgument).
			With("pattern", pattern).
			Wrapf(err, "invalid name pattern")
	}
	s.idx.RLock()
	defer s.idx.RUnlock()
	var out []*record.Record
	for _, e := range s.names.entries {
		if limit > 0 && len(out) == limit {
			break
		}
		if g.Match(e.key) {
			out = append(out, e.rec)
		}
	}
	return out, nil
}

// All returns every stored record sorted by id. Super players are excluded.
func (s *Store) All() []*record.Record {
	s.idx.RLock()
	defer s.idx.RUnlock()
	return s.sortedLocked()
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.idx.RLock()
	defer s.idx.RUnlock()
	return len(s.byID)
}

// MaxID returns the highest id allocated so far.
func (s *Store) MaxID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxID
}

// observe keeps the address index in step with record mutations.
func (s *Store) observe(rec *record.Record, changes record.Change) {
	if !changes.Has(record.ChangeSession | record.ChangeSwap) {
		return
	}
	ip := rec.LastIP().Unmap()

	s.idx.Lock()
	defer s.idx.Unlock()
	if s.byID[rec.ID()] != rec {
		return
	}
	if old, ok := s.ipOf[rec.ID()]; ok && old == ip {
		return
	}
	s.unindexIPLocked(rec)
	s.indexIPLocked(rec, ip)
}

func (s *Store) indexLocked(rec *record.Record) {
	key := nameKey(rec.Name())
	s.byID[rec.ID()] = rec
	s.byName[key] = rec
	s.names.insert(key, rec)
	s.indexIPLocked(rec, rec.LastIP().Unmap())
}

func (s *Store) unindexLocked(rec *record.Record) {
	key := nameKey(rec.Name())
	delete(s.byID, rec.ID())
	delete(s.byName, key)
	s.names.remove(key)
	s.unindexIPLocked(rec)
}

func (s *Store) indexIPLocked(rec *record.Record, ip netip.Addr) {
	if !ip.IsValid() {
		return
	}
	set := s.byIP[ip]
	if set == nil {
		set = make(map[int]*record.Record)
		s.byIP[ip] = set
	}
	set[rec.ID()] = rec
	s.ipOf[rec.ID()] = ip
}

func (s *Store) unindexIPLocked(rec *record.Record) {
	ip, ok := s.ipOf[rec.ID()]
	if !ok {
		return
	}
	delete(s.ipOf, rec.ID())
	if set := s.byIP[ip]; set != nil {
		delete(set, rec.ID())
		if len(set) == 0 {
			delete(s.byIP, ip)
		}
	}
}

func (s *Store) sortedLocked() []*record.Record {
	out := make([]*record.Record, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b *record.Record) int { return a.ID() - b.ID() })
	return out
}
