// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package rank

import (
	"time"

	"golang.org/x/text/cases"
)

// Rank is a named authority tier.
//
// Identity (id, name) and position (index, adjacency) are owned by the Model
// and only change through it. The exported settings are written while the
// rank set is being assembled and treated as read-only afterwards.
type Rank struct {
	id    string
	name  string
	index int

	nextUp   *Rank
	nextDown *Rank

	perms  permissionSet
	limits map[Permission]string // permission → rank id

	Prefix      string
	Color       string
	LegacyLevel int

	DrawLimit        int
	FillLimit        int
	CopySlots        int
	AntiGriefBlocks  int
	AntiGriefSeconds int
	IdleKickTimeout  time.Duration

	ReservedSlot               bool
	AllowSecurityCircumvention bool
}

// New creates a detached rank. A blank id is replaced with a fresh one.
func New(name, id string) *Rank {
	if id == "" {
		id = NewID()
	}
	return &Rank{
		id:     id,
		name:   name,
		index:  -1,
		limits: make(map[Permission]string),
	}
}

// ID returns the stable identifier used for every persisted reference.
func (r *Rank) ID() string { return r.id }

// Name returns the display name.
func (r *Rank) Name() string { return r.name }

// FullName returns "name#id", the unambiguous textual form of the rank.
func (r *Rank) FullName() string { return r.name + "#" + r.id }

// Index returns the authority position, 0 being the highest. Detached ranks report -1.
func (r *Rank) Index() int { return r.index }

// NextRankUp returns the rank directly above, or nil at the top.
func (r *Rank) NextRankUp() *Rank { return r.nextUp }

// NextRankDown returns the rank directly below, or nil at the bottom.
func (r *Rank) NextRankDown() *Rank { return r.nextDown }

// Can reports whether the rank holds p.
func (r *Rank) Can(p Permission) bool {
	return r != nil && r.perms.has(p)
}

// CanAll reports whether the rank holds every permission in perms.
func (r *Rank) CanAll(perms ...Permission) bool {
	for _, p := range perms {
		if !r.Can(p) {
			return false
		}
	}
	return true
}

// CanAny reports whether the rank holds at least one permission in perms.
func (r *Rank) CanAny(perms ...Permission) bool {
	for _, p := range perms {
		if r.Can(p) {
			return true
		}
	}
	return false
}

// Grant adds permissions.
func (r *Rank) Grant(perms ...Permission) *Rank {
	for _, p := range perms {
		r.perms.add(p)
	}
	return r
}

// Revoke removes permissions.
func (r *Rank) Revoke(perms ...Permission) *Rank {
	for _, p := range perms {
		r.perms.remove(p)
	}
	return r
}

// Permissions lists the held permissions in declaration order.
func (r *Rank) Permissions() []Permission {
	var out []Permission
	for _, p := range AllPermissions() {
		if r.perms.has(p) {
			out = append(out, p)
		}
	}
	return out
}

// SetLimit caps the ranks p may target at limit. A nil limit clears the cap.
// Only the id of limit is kept; it is resolved against the Model when used.
func (r *Rank) SetLimit(p Permission, limit *Rank) {
	if limit == nil {
		delete(r.limits, p)
		return
	}
	r.limits[p] = limit.id
}

// LimitID returns the raw rank id of the limit for p, if any.
func (r *Rank) LimitID(p Permission) (string, bool) {
	id, ok := r.limits[p]
	return id, ok
}

// IsAbove reports whether r has strictly more authority than other.
func (r *Rank) IsAbove(other *Rank) bool {
	return other != nil && r.index < other.index
}

// IsAtLeast reports whether r has the same or more authority than other.
func (r *Rank) IsAtLeast(other *Rank) bool {
	return other != nil && r.index <= other.index
}

func (r *Rank) String() string { return r.name }

func foldName(s string) string {
	return cases.Fold().String(s)
}
