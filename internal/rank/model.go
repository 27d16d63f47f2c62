// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package rank

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
)

// maxLegacyHops bounds how far ResolveID follows chained replacements.
const maxLegacyHops = 32

// Model is the ordered rank set.
//
// Structural edits (add, delete, reorder, rename) are allowed until Freeze is
// called, which happens once player records are loaded. Lookups are safe for
// concurrent use at any time.
type Model struct {
	mu         sync.RWMutex
	ranks      []*Rank // authority order, highest first
	byName     map[string]*Rank
	byID       map[string]*Rank
	byFullName map[string]*Rank
	legacy     map[string]string // deleted rank id → replacement id
	defaultID  string
	frozen     atomic.Bool
}

// NewModel creates an empty rank model.
func NewModel() *Model {
	return &Model{
		byName:     make(map[string]*Rank),
		byID:       make(map[string]*Rank),
		byFullName: make(map[string]*Rank),
		legacy:     make(map[string]string),
	}
}

// Freeze rejects all further structural edits.
func (m *Model) Freeze() { m.frozen.Store(true) }

// Frozen reports whether structural edits are rejected.
func (m *Model) Frozen() bool { return m.frozen.Load() }

// AddRank appends r below every existing rank.
func (m *Model) AddRank(r *Rank) error {
	if r == nil || strings.TrimSpace(r.name) == "" || r.id == "" {
		return oops.In("rank").Code(CodeInvalidArgument).Errorf("rank requires a name and an id")
	}
	if m.Frozen() {
		return errFrozen("add", r.name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[foldName(r.name)]; ok {
		return oops.In("rank").
			Code(CodeDuplicate).
			With("rank", r.name).
			Errorf("a rank named %q already exists", r.name)
	}
	if _, ok := m.byID[r.id]; ok {
		return oops.In("rank").
			Code(CodeDuplicate).
			With("rank_id", r.id).
			Errorf("a rank with id %q already exists", r.id)
	}
	m.ranks = append(m.ranks, r)
	m.rebuild()
	return nil
}

// DeleteRank removes target. Limits pointing at target are cleared and
// target's id is remembered as an alias of replacement, so legacy data that
// still names target resolves to replacement. Reports whether any limit was
// cleared.
func (m *Model) DeleteRank(target, replacement *Rank) (bool, error) {
	if target == nil {
		return false, oops.In("rank").Code(CodeInvalidArgument).Errorf("rank to delete is required")
	}
	if m.Frozen() {
		return false, errFrozen("delete", target.name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byID[target.id] != target {
		return false, errNotInModel(target)
	}
	if replacement == nil || replacement == target || m.byID[replacement.id] != replacement {
		return false, oops.In("rank").
			Code(CodeInvalidReplacement).
			With("rank", target.name).
			Errorf("deleting rank %q requires a different existing rank as replacement", target.name)
	}

	m.ranks = append(m.ranks[:target.index:target.index], m.ranks[target.index+1:]...)

	cleared := false
	for _, r := range m.ranks {
		for p, id := range r.limits {
			if id == target.id {
				delete(r.limits, p)
				cleared = true
			}
		}
	}
	for oldID, newID := range m.legacy {
		if newID == target.id {
			m.legacy[oldID] = replacement.id
		}
	}
	m.legacy[target.id] = replacement.id
	if m.defaultID == target.id {
		m.defaultID = replacement.id
	}

	target.index = -1
	target.nextUp, target.nextDown = nil, nil
	m.rebuild()
	return cleared, nil
}

// RaiseRank swaps r with the rank directly above it. Reports false at the top.
func (m *Model) RaiseRank(r *Rank) (bool, error) {
	return m.swap(r, -1, "raise")
}

// LowerRank swaps r with the rank directly below it. Reports false at the bottom.
func (m *Model) LowerRank(r *Rank) (bool, error) {
	return m.swap(r, 1, "lower")
}

func (m *Model) swap(r *Rank, delta int, op string) (bool, error) {
	if r == nil {
		return false, oops.In("rank").Code(CodeInvalidArgument).Errorf("rank is required")
	}
	if m.Frozen() {
		return false, errFrozen(op, r.name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byID[r.id] != r {
		return false, errNotInModel(r)
	}
	other := r.index + delta
	if other < 0 || other >= len(m.ranks) {
		return false, nil
	}
	m.ranks[r.index], m.ranks[other] = m.ranks[other], m.ranks[r.index]
	m.rebuild()
	return true, nil
}

// RenameRank changes the display name of r. The id is unaffected.
func (m *Model) RenameRank(r *Rank, newName string) error {
	if r == nil || strings.TrimSpace(newName) == "" {
		return oops.In("rank").Code(CodeInvalidArgument).Errorf("rank and new name are required")
	}
	if m.Frozen() {
		return errFrozen("rename", r.name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byID[r.id] != r {
		return errNotInModel(r)
	}
	if existing, ok := m.byName[foldName(newName)]; ok && existing != r {
		return oops.In("rank").
			Code(CodeDuplicate).
			With("rank", r.name).
			With("new_name", newName).
			Errorf("a rank named %q already exists", newName)
	}
	r.name = newName
	m.rebuild()
	return nil
}

// rebuild recomputes indices, adjacency and lookup maps. Callers hold mu.
func (m *Model) rebuild() {
	clear(m.byName)
	clear(m.byID)
	clear(m.byFullName)
	for i, r := range m.ranks {
		r.index = i
		r.nextUp, r.nextDown = nil, nil
		if i > 0 {
			r.nextUp = m.ranks[i-1]
		}
		if i < len(m.ranks)-1 {
			r.nextDown = m.ranks[i+1]
		}
		m.byName[foldName(r.name)] = r
		m.byID[r.id] = r
		m.byFullName[foldName(r.FullName())] = r
	}
}

// FindRank looks a rank up by name. An exact case-insensitive match always
// wins; otherwise a prefix shared by exactly one rank resolves to it. No
// match and an ambiguous prefix both return nil.
func (m *Model) FindRank(name string) *Rank {
	key := foldName(strings.TrimSpace(name))
	if key == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.byName[key]; ok {
		return r
	}
	var match *Rank
	for _, r := range m.ranks {
		if strings.HasPrefix(foldName(r.name), key) {
			if match != nil {
				return nil
			}
			match = r
		}
	}
	return match
}

// FindRankByID returns the live rank with the given id, or nil.
func (m *Model) FindRankByID(id string) *Rank {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byID[id]
}

// ResolveID turns a persisted rank reference into a live rank. It accepts a
// bare id or a full name ("name#id") and follows the replacements recorded
// by DeleteRank. The second result reports whether a replacement was used.
func (m *Model) ResolveID(ref string) (*Rank, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.byFullName[foldName(ref)]; ok {
		return r, false
	}
	id := ref
	if i := strings.LastIndexByte(ref, '#'); i >= 0 {
		id = ref[i+1:]
	}
	if r, ok := m.byID[id]; ok {
		return r, false
	}
	for range maxLegacyHops {
		next, ok := m.legacy[id]
		if !ok {
			return nil, false
		}
		if r, ok := m.byID[next]; ok {
			return r, true
		}
		id = next
	}
	return nil, false
}

// Parse resolves a persisted reference that may be an id, a full name, or
// (in old data) a plain rank name.
func (m *Model) Parse(ref string) *Rank {
	if r, _ := m.ResolveID(ref); r != nil {
		return r
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byName[foldName(ref)]
}

// LegacyMapping returns a copy of the deleted-id → replacement-id table.
func (m *Model) LegacyMapping() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.legacy))
	for k, v := range m.legacy {
		out[k] = v
	}
	return out
}

// AddLegacyMapping registers oldID as an alias for an existing rank.
func (m *Model) AddLegacyMapping(oldID string, replacement *Rank) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if replacement == nil || m.byID[replacement.id] != replacement {
		return oops.In("rank").
			Code(CodeInvalidReplacement).
			With("rank_id", oldID).
			Errorf("legacy rank id %q needs an existing replacement", oldID)
	}
	if _, live := m.byID[oldID]; live {
		return oops.In("rank").
			Code(CodeDuplicate).
			With("rank_id", oldID).
			Errorf("rank id %q belongs to a live rank", oldID)
	}
	m.legacy[oldID] = replacement.id
	return nil
}

// Ranks returns the ranks in authority order, highest first.
func (m *Model) Ranks() []*Rank {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Rank, len(m.ranks))
	copy(out, m.ranks)
	return out
}

// Len returns the number of ranks.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ranks)
}

// Highest returns the rank with the most authority, or nil when empty.
func (m *Model) Highest() *Rank {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ranks) == 0 {
		return nil
	}
	return m.ranks[0]
}

// Lowest returns the rank with the least authority, or nil when empty.
func (m *Model) Lowest() *Rank {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ranks) == 0 {
		return nil
	}
	return m.ranks[len(m.ranks)-1]
}

// DefaultRank returns the rank given to new players. Without an explicit
// choice this is the lowest rank.
func (m *Model) DefaultRank() *Rank {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.byID[m.defaultID]; ok {
		return r
	}
	if len(m.ranks) == 0 {
		return nil
	}
	return m.ranks[len(m.ranks)-1]
}

// SetDefaultRank selects the rank given to new players.
func (m *Model) SetDefaultRank(r *Rank) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r == nil || m.byID[r.id] != r {
		return oops.In("rank").Code(CodeNotFound).Errorf("default rank must belong to the model")
	}
	m.defaultID = r.id
	return nil
}

// MinRankWithAllPermissions returns the weakest rank holding every permission
// in perms, or nil when none does.
func (m *Model) MinRankWithAllPermissions(perms ...Permission) *Rank {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.ranks) - 1; i >= 0; i-- {
		if m.ranks[i].CanAll(perms...) {
			return m.ranks[i]
		}
	}
	return nil
}

// MinRankWithAnyPermission returns the weakest rank holding at least one
// permission in perms, or nil when none does. With no perms it returns the
// lowest rank.
func (m *Model) MinRankWithAnyPermission(perms ...Permission) *Rank {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ranks) == 0 {
		return nil
	}
	if len(perms) == 0 {
		return m.ranks[len(m.ranks)-1]
	}
	for i := len(m.ranks) - 1; i >= 0; i-- {
		if m.ranks[i].CanAny(perms...) {
			return m.ranks[i]
		}
	}
	return nil
}

// Limit returns the highest rank r may target with p. Without a configured
// limit, or when the limit no longer resolves, this is r itself.
func (m *Model) Limit(r *Rank, p Permission) *Rank {
	id, ok := r.limits[p]
	if !ok {
		return r
	}
	if limit, _ := m.ResolveID(id); limit != nil {
		return limit
	}
	return r
}

// CanAffect reports whether a holder of actor may use p on a holder of target.
func (m *Model) CanAffect(actor, target *Rank, p Permission) bool {
	if actor == nil || target == nil || !actor.Can(p) {
		return false
	}
	return target.index >= m.Limit(actor, p).index
}
