// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"log/slog"

	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/record"
)

// Backend persists the full record set.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Load reads every record. It returns a nil Dataset when nothing has
	// been stored yet. Unreadable records are skipped and logged rather than
	// failing the whole load.
	Load(ctx context.Context, ranks RankResolver) (*Dataset, error)

	// Save persists a batch. It must either apply the batch completely or
	// leave the previously stored state intact.
	Save(ctx context.Context, batch *Batch) error

	// Close releases backend resources.
	Close() error
}

// Dataset is the result of a load.
type Dataset struct {
	// Version is the storage format version that was read.
	Version int
	// MaxID is the highest id ever allocated, which may exceed the highest
	// id still present.
	MaxID   int
	Records []record.Data
}

// Batch is what a save hands to the backend. Full-dump backends write All;
// incremental backends write Changed and delete Removed.
type Batch struct {
	MaxID   int
	All     []record.Data
	Changed []record.Data
	Removed []int
}

// RankResolver turns persisted rank references into live ranks.
// *rank.Model implements it.
type RankResolver interface {
	ResolveID(ref string) (*rank.Rank, bool)
	Parse(ref string) *rank.Rank
	DefaultRank() *rank.Rank
}

var _ RankResolver = (*rank.Model)(nil)

// ResolveRank resolves a stored rank reference for a record. Unknown
// references fall back to the default rank with a warning; an empty
// reference with allowEmpty yields nil.
func ResolveRank(ranks RankResolver, ref string, allowEmpty bool, logger *slog.Logger, playerName string) *rank.Rank {
	if ref == "" && allowEmpty {
		return nil
	}
	if r := ranks.Parse(ref); r != nil {
		return r
	}
	if allowEmpty {
		logger.Warn("unknown previous rank, clearing it", "player", playerName, "rank", ref)
		return nil
	}
	def := ranks.DefaultRank()
	logger.Warn("unknown rank, using default", "player", playerName, "rank", ref, "default", def.Name())
	return def
}

// RankRef is the persisted form of a rank reference.
func RankRef(r *rank.Rank) string {
	if r == nil {
		return ""
	}
	return r.ID()
}
