// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redis stores each record as a JSON document in Redis.
//
// Keys, relative to the configured prefix:
//
//	meta          hash with max_id and format_version
//	players       set of stored ids
//	player:<id>   one JSON document per record
package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/netip"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/internal/store"
)

// FormatVersion is written to the meta hash on every save.
const FormatVersion = 1

// DefaultKeyPrefix namespaces every key.
const DefaultKeyPrefix = "playerdb:"

const loadChunk = 500

// Backend is the Redis store.Backend.
type Backend struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ store.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(b *Backend) { b.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// Open connects to a redis:// URL and verifies the connection.
func Open(ctx context.Context, url string, opts ...Option) (*Backend, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.In("redis").Wrapf(err, "parse redis url")
	}
	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.In("redis").With("addr", ropts.Addr).Wrapf(err, "ping redis")
	}
	return NewWithClient(client, opts...), nil
}

// NewWithClient wraps an existing client. Close closes it.
func NewWithClient(client *redis.Client, opts ...Option) *Backend {
	b := &Backend{client: client, prefix: DefaultKeyPrefix, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements store.Backend.
func (b *Backend) Name() string { return "redis" }

// Close implements store.Backend.
func (b *Backend) Close() error {
	if err := b.client.Close(); err != nil {
		return oops.In("redis").Wrapf(err, "close client")
	}
	return nil
}

func (b *Backend) metaKey() string         { return b.prefix + "meta" }
func (b *Backend) indexKey() string        { return b.prefix + "players" }
func (b *Backend) playerKey(id int) string { return b.prefix + "player:" + strconv.Itoa(id) }

// document is the stored JSON shape. Ranks are stored by id.
type document struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`

	Rank             string    `json:"rank"`
	PreviousRank     string    `json:"previous_rank,omitempty"`
	RankChangeDate   time.Time `json:"rank_change_date,omitzero"`
	RankChangedBy    string    `json:"rank_changed_by,omitempty"`
	RankChangeReason string    `json:"rank_change_reason,omitempty"`
	RankChangeType   uint8     `json:"rank_change_type,omitempty"`

	BanStatus   uint8     `json:"ban_status,omitempty"`
	BanDate     time.Time `json:"ban_date,omitzero"`
	BannedBy    string    `json:"banned_by,omitempty"`
	BanReason   string    `json:"ban_reason,omitempty"`
	UnbanDate   time.Time `json:"unban_date,omitzero"`
	UnbannedBy  string    `json:"unbanned_by,omitempty"`
	UnbanReason string    `json:"unban_reason,omitempty"`

	FirstLoginDate      time.Time  `json:"first_login,omitzero"`
	LastLoginDate       time.Time  `json:"last_login,omitzero"`
	LastSeen            time.Time  `json:"last_seen,omitzero"`
	LastIP              netip.Addr `json:"last_ip,omitzero"`
	LastFailedLoginDate time.Time  `json:"last_failed_login,omitzero"`
	LastFailedLoginIP   netip.Addr `json:"last_failed_ip,omitzero"`
	LeaveReason         uint8      `json:"leave_reason,omitempty"`

	IsFrozen   bool      `json:"frozen,omitempty"`
	FrozenOn   time.Time `json:"frozen_on,omitzero"`
	FrozenBy   string    `json:"frozen_by,omitempty"`
	MutedUntil time.Time `json:"muted_until,omitzero"`
	MutedBy    string    `json:"muted_by,omitempty"`
	IsHidden   bool      `json:"hidden,omitempty"`

	LastKickDate   time.Time `json:"last_kick_date,omitzero"`
	LastKickBy     string    `json:"last_kick_by,omitempty"`
	LastKickReason string    `json:"last_kick_reason,omitempty"`

	TotalTime         time.Duration `json:"total_time_ns,omitempty"`
	BlocksBuilt       int64         `json:"blocks_built,omitempty"`
	BlocksDeleted     int64         `json:"blocks_deleted,omitempty"`
	BlocksDrawn       int64         `json:"blocks_drawn,omitempty"`
	TimesVisited      int           `json:"times_visited,omitempty"`
	MessagesWritten   int           `json:"messages_written,omitempty"`
	TimesKicked       int           `json:"times_kicked,omitempty"`
	TimesKickedOthers int           `json:"times_kicked_others,omitempty"`
	TimesBannedOthers int           `json:"times_banned_others,omitempty"`

	LastModified time.Time `json:"last_modified,omitzero"`
}

func toDocument(d record.Data) document {
	return document{
		ID:                  d.ID,
		Name:                d.Name,
		DisplayName:         d.DisplayName,
		Rank:                store.RankRef(d.Rank),
		PreviousRank:        store.RankRef(d.PreviousRank),
		RankChangeDate:      d.RankChangeDate,
		RankChangedBy:       d.RankChangedBy,
		RankChangeReason:    d.RankChangeReason,
		RankChangeType:      uint8(d.RankChangeType),
		BanStatus:           uint8(d.BanStatus),
		BanDate:             d.BanDate,
		BannedBy:            d.BannedBy,
		BanReason:           d.BanReason,
		UnbanDate:           d.UnbanDate,
		UnbannedBy:          d.UnbannedBy,
		UnbanReason:         d.UnbanReason,
		FirstLoginDate:      d.FirstLoginDate,
		LastLoginDate:       d.LastLoginDate,
		LastSeen:            d.LastSeen,
		LastIP:              d.LastIP,
		LastFailedLoginDate: d.LastFailedLoginDate,
		LastFailedLoginIP:   d.LastFailedLoginIP,
		LeaveReason:         uint8(d.LeaveReason),
		IsFrozen:            d.IsFrozen,
		FrozenOn:            d.FrozenOn,
		FrozenBy:            d.FrozenBy,
		MutedUntil:          d.MutedUntil,
		MutedBy:             d.MutedBy,
		IsHidden:            d.IsHidden,
		LastKickDate:        d.LastKickDate,
		LastKickBy:          d.LastKickBy,
		LastKickReason:      d.LastKickReason,
		TotalTime:           d.TotalTime,
		BlocksBuilt:         d.BlocksBuilt,
		BlocksDeleted:       d.BlocksDeleted,
		BlocksDrawn:         d.BlocksDrawn,
		TimesVisited:        d.TimesVisited,
		MessagesWritten:     d.MessagesWritten,
		TimesKicked:         d.TimesKicked,
		TimesKickedOthers:   d.TimesKickedOthers,
		TimesBannedOthers:   d.TimesBannedOthers,
		LastModified:        d.LastModified,
	}
}

func (doc document) data(ranks store.RankResolver, logger *slog.Logger) record.Data {
	return record.Data{
		ID:                  doc.ID,
		Name:                doc.Name,
		DisplayName:         doc.DisplayName,
		Rank:                store.ResolveRank(ranks, doc.Rank, false, logger, doc.Name),
		PreviousRank:        store.ResolveRank(ranks, doc.PreviousRank, true, logger, doc.Name),
		RankChangeDate:      utc(doc.RankChangeDate),
		RankChangedBy:       doc.RankChangedBy,
		RankChangeReason:    doc.RankChangeReason,
		RankChangeType:      record.RankChangeType(doc.RankChangeType),
		BanStatus:           record.BanStatus(doc.BanStatus),
		BanDate:             utc(doc.BanDate),
		BannedBy:            doc.BannedBy,
		BanReason:           doc.BanReason,
		UnbanDate:           utc(doc.UnbanDate),
		UnbannedBy:          doc.UnbannedBy,
		UnbanReason:         doc.UnbanReason,
		FirstLoginDate:      utc(doc.FirstLoginDate),
		LastLoginDate:       utc(doc.LastLoginDate),
		LastSeen:            utc(doc.LastSeen),
		LastIP:              doc.LastIP,
		LastFailedLoginDate: utc(doc.LastFailedLoginDate),
		LastFailedLoginIP:   doc.LastFailedLoginIP,
		LeaveReason:         record.LeaveReason(doc.LeaveReason),
		IsFrozen:            doc.IsFrozen,
		FrozenOn:            utc(doc.FrozenOn),
		FrozenBy:            doc.FrozenBy,
		MutedUntil:          utc(doc.MutedUntil),
		MutedBy:             doc.MutedBy,
		IsHidden:            doc.IsHidden,
		LastKickDate:        utc(doc.LastKickDate),
		LastKickBy:          doc.LastKickBy,
		LastKickReason:      doc.LastKickReason,
		TotalTime:           doc.TotalTime,
		BlocksBuilt:         doc.BlocksBuilt,
		BlocksDeleted:       doc.BlocksDeleted,
		BlocksDrawn:         doc.BlocksDrawn,
		TimesVisited:        doc.TimesVisited,
		MessagesWritten:     doc.MessagesWritten,
		TimesKicked:         doc.TimesKicked,
		TimesKickedOthers:   doc.TimesKickedOthers,
		TimesBannedOthers:   doc.TimesBannedOthers,
		LastModified:        utc(doc.LastModified),
	}
}

// utc normalizes decoded timestamps so zero stays zero.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}

// Load implements store.Backend. Documents that are missing or fail to
// decode are skipped and logged.
func (b *Backend) Load(ctx context.Context, ranks store.RankResolver) (*store.Dataset, error) {
	meta, err := b.client.HGetAll(ctx, b.metaKey()).Result()
	if err != nil {
		return nil, oops.In("redis").With("key", b.metaKey()).Wrapf(err, "read metadata")
	}
	members, err := b.client.SMembers(ctx, b.indexKey()).Result()
	if err != nil {
		return nil, oops.In("redis").With("key", b.indexKey()).Wrapf(err, "read player index")
	}
	if len(meta) == 0 && len(members) == 0 {
		return nil, nil
	}

	ds := &store.Dataset{}
	ds.MaxID, _ = strconv.Atoi(meta["max_id"])
	ds.Version, _ = strconv.Atoi(meta["format_version"])
	if ds.Version > FormatVersion {
		b.logger.Warn("redis data was written by a newer version", "version", ds.Version, "supported", FormatVersion)
	}

	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			b.logger.Warn("skipping malformed player index entry", "member", m)
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for chunk := range slices.Chunk(ids, loadChunk) {
		keys := make([]string, len(chunk))
		for i, id := range chunk {
			keys[i] = b.playerKey(id)
		}
		values, err := b.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, oops.In("redis").With("keys", len(keys)).Wrapf(err, "read players")
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				b.logger.Warn("player document is missing", "key", keys[i])
				continue
			}
			var doc document
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				b.logger.Warn("skipping corrupt player document", "key", keys[i], "error", err)
				continue
			}
			ds.MaxID = max(ds.MaxID, doc.ID)
			ds.Records = append(ds.Records, doc.data(ranks, b.logger))
		}
	}
	return ds, nil
}

// Save implements store.Backend. The batch is applied in one MULTI/EXEC.
func (b *Backend) Save(ctx context.Context, batch *store.Batch) error {
	docs := make([][]byte, len(batch.Changed))
	for i, d := range batch.Changed {
		raw, err := json.Marshal(toDocument(d))
		if err != nil {
			return oops.In("redis").With("player", d.Name).Wrapf(err, "encode player")
		}
		docs[i] = raw
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range batch.Removed {
			pipe.Del(ctx, b.playerKey(id))
			pipe.SRem(ctx, b.indexKey(), id)
		}
		for i, d := range batch.Changed {
			pipe.Set(ctx, b.playerKey(d.ID), docs[i], 0)
			pipe.SAdd(ctx, b.indexKey(), d.ID)
		}
		pipe.HSet(ctx, b.metaKey(), "max_id", batch.MaxID, "format_version", FormatVersion)
		return nil
	})
	if err != nil {
		return oops.In("redis").
			With("changed", len(batch.Changed)).
			With("removed", len(batch.Removed)).
			Wrapf(err, "save players")
	}
	return nil
}
