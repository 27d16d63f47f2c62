// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres stores records in PostgreSQL, one row per player.
// Saves are incremental: only changed and removed records are written, in
// a single transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"golang.org/x/text/cases"

	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/internal/store"
)

// FormatVersion is recorded in playerdb_meta on every save.
const FormatVersion = 1

// poolIface is the subset of *pgxpool.Pool the backend uses.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Backend is the PostgreSQL store.Backend.
type Backend struct {
	pool   poolIface
	close  func()
	logger *slog.Logger
}

var _ store.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// Open connects to dsn. The schema must already be migrated.
func Open(ctx context.Context, dsn string, opts ...Option) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.In("postgres").Wrapf(err, "connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.In("postgres").Wrapf(err, "ping database")
	}
	b := NewWithPool(pool, opts...)
	b.close = pool.Close
	return b, nil
}

// NewWithPool wraps an existing pool. Close does not close it.
func NewWithPool(pool poolIface, opts ...Option) *Backend {
	b := &Backend{pool: pool, close: func() {}, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements store.Backend.
func (b *Backend) Name() string { return "postgres" }

// Close implements store.Backend.
func (b *Backend) Close() error {
	b.close()
	return nil
}

// playerColumns is the select and insert column order. scanPlayer and
// playerArgs follow it.
var playerColumns = []string{
	"id", "name", "display_name",
	"rank_id", "previous_rank_id", "rank_change_date", "rank_changed_by", "rank_change_reason", "rank_change_type",
	"ban_status", "ban_date", "banned_by", "ban_reason", "unban_date", "unbanned_by", "unban_reason",
	"first_login", "last_login", "last_seen", "last_ip", "last_failed_login", "last_failed_ip", "leave_reason",
	"frozen", "frozen_on", "frozen_by", "muted_until", "muted_by", "hidden",
	"last_kick_date", "last_kick_by", "last_kick_reason",
	"total_time_ms", "blocks_built", "blocks_deleted", "blocks_drawn",
	"times_visited", "messages_written", "times_kicked", "times_kicked_others", "times_banned_others",
	"last_modified",
}

const (
	selectMeta    = `SELECT max_id, format_version FROM playerdb_meta WHERE id = 1`
	deletePlayers = `DELETE FROM players WHERE id = ANY($1)`
	upsertMeta    = `INSERT INTO playerdb_meta (id, max_id, format_version, saved_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			max_id = GREATEST(playerdb_meta.max_id, EXCLUDED.max_id),
			format_version = EXCLUDED.format_version,
			saved_at = EXCLUDED.saved_at`
)

var (
	selectPlayers = "SELECT " + strings.Join(playerColumns, ", ") + " FROM players ORDER BY id"
	upsertPlayer  = buildUpsert()
)

func buildUpsert() string {
	cols := append(append([]string{}, playerColumns...), "name_key")
	params := make([]string, len(cols))
	sets := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		params[i] = fmt.Sprintf("$%d", i+1)
		if c != "id" {
			sets = append(sets, c+" = EXCLUDED."+c)
		}
	}
	return "INSERT INTO players (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(params, ", ") +
		") ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
}

// Load implements store.Backend.
func (b *Backend) Load(ctx context.Context, ranks store.RankResolver) (*store.Dataset, error) {
	ds := &store.Dataset{}
	hasMeta := true
	err := b.pool.QueryRow(ctx, selectMeta).Scan(&ds.MaxID, &ds.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		hasMeta = false
	} else if err != nil {
		return nil, oops.In("postgres").With("operation", "read metadata").Wrap(err)
	}

	rows, err := b.pool.Query(ctx, selectPlayers)
	if err != nil {
		return nil, oops.In("postgres").With("operation", "query players").Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanPlayer(rows, ranks, b.logger)
		if err != nil {
			b.logger.Warn("skipping corrupt player row", "error", err)
			continue
		}
		ds.MaxID = max(ds.MaxID, d.ID)
		ds.Records = append(ds.Records, d)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("postgres").With("operation", "iterate players").Wrap(err)
	}

	if !hasMeta && len(ds.Records) == 0 {
		return nil, nil
	}
	if ds.Version > FormatVersion {
		b.logger.Warn("player table was written by a newer version", "version", ds.Version, "supported", FormatVersion)
	}
	return ds, nil
}

func scanPlayer(rows pgx.Rows, ranks store.RankResolver, logger *slog.Logger) (record.Data, error) {
	var (
		d                                record.Data
		rankID, previousRankID           string
		rankChangeType, banStatus, leave int
		lastIP, lastFailedIP             string
		totalTimeMS                      int64
		rankChange, ban, unban           pgtype.Timestamptz
		firstLogin, lastLogin, lastSeen  pgtype.Timestamptz
		lastFailed, frozenOn, mutedUntil pgtype.Timestamptz
		lastKick, lastModified           pgtype.Timestamptz
	)
	err := rows.Scan(
		&d.ID, &d.Name, &d.DisplayName,
		&rankID, &previousRankID, &rankChange, &d.RankChangedBy, &d.RankChangeReason, &rankChangeType,
		&banStatus, &ban, &d.BannedBy, &d.BanReason, &unban, &d.UnbannedBy, &d.UnbanReason,
		&firstLogin, &lastLogin, &lastSeen, &lastIP, &lastFailed, &lastFailedIP, &leave,
		&d.IsFrozen, &frozenOn, &d.FrozenBy, &mutedUntil, &d.MutedBy, &d.IsHidden,
		&lastKick, &d.LastKickBy, &d.LastKickReason,
		&totalTimeMS, &d.BlocksBuilt, &d.BlocksDeleted, &d.BlocksDrawn,
		&d.TimesVisited, &d.MessagesWritten, &d.TimesKicked, &d.TimesKickedOthers, &d.TimesBannedOthers,
		&lastModified,
	)
	if err != nil {
		return record.Data{}, oops.In("postgres").Wrapf(err, "scan player row")
	}

	if d.LastIP, err = parseAddr(lastIP); err != nil {
		return record.Data{}, oops.In("postgres").With("id", d.ID).With("column", "last_ip").Wrap(err)
	}
	if d.LastFailedLoginIP, err = parseAddr(lastFailedIP); err != nil {
		return record.Data{}, oops.In("postgres").With("id", d.ID).With("column", "last_failed_ip").Wrap(err)
	}

	d.Rank = store.ResolveRank(ranks, rankID, false, logger, d.Name)
	d.PreviousRank = store.ResolveRank(ranks, previousRankID, true, logger, d.Name)
	d.RankChangeType = record.RankChangeType(rankChangeType)
	d.BanStatus = record.BanStatus(banStatus)
	d.LeaveReason = record.LeaveReason(leave)
	d.TotalTime = time.Duration(totalTimeMS) * time.Millisecond

	d.RankChangeDate = fromTimestamptz(rankChange)
	d.BanDate = fromTimestamptz(ban)
	d.UnbanDate = fromTimestamptz(unban)
	d.FirstLoginDate = fromTimestamptz(firstLogin)
	d.LastLoginDate = fromTimestamptz(lastLogin)
	d.LastSeen = fromTimestamptz(lastSeen)
	d.LastFailedLoginDate = fromTimestamptz(lastFailed)
	d.FrozenOn = fromTimestamptz(frozenOn)
	d.MutedUntil = fromTimestamptz(mutedUntil)
	d.LastKickDate = fromTimestamptz(lastKick)
	d.LastModified = fromTimestamptz(lastModified)
	return d, nil
}

// playerArgs returns the upsert parameters for d in playerColumns order,
// followed by the folded name key.
func playerArgs(d record.Data, nameKey string) []any {
	return []any{
		d.ID, d.Name, d.DisplayName,
		store.RankRef(d.Rank), store.RankRef(d.PreviousRank), toTimestamptz(d.RankChangeDate),
		d.RankChangedBy, d.RankChangeReason, int(d.RankChangeType),
		int(d.BanStatus), toTimestamptz(d.BanDate), d.BannedBy, d.BanReason,
		toTimestamptz(d.UnbanDate), d.UnbannedBy, d.UnbanReason,
		toTimestamptz(d.FirstLoginDate), toTimestamptz(d.LastLoginDate), toTimestamptz(d.LastSeen),
		formatAddr(d.LastIP), toTimestamptz(d.LastFailedLoginDate), formatAddr(d.LastFailedLoginIP), int(d.LeaveReason),
		d.IsFrozen, toTimestamptz(d.FrozenOn), d.FrozenBy, toTimestamptz(d.MutedUntil), d.MutedBy, d.IsHidden,
		toTimestamptz(d.LastKickDate), d.LastKickBy, d.LastKickReason,
		d.TotalTime.Milliseconds(), d.BlocksBuilt, d.BlocksDeleted, d.BlocksDrawn,
		d.TimesVisited, d.MessagesWritten, d.TimesKicked, d.TimesKickedOthers, d.TimesBannedOthers,
		toTimestamptz(d.LastModified),
		nameKey,
	}
}

// Save implements store.Backend. Removed rows are deleted before changed
// rows are upserted so a name freed by a removal can be reused.
func (b *Backend) Save(ctx context.Context, batch *store.Batch) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return oops.In("postgres").With("operation", "begin save").Wrap(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx) //nolint:errcheck // the save error is returned instead
		}
	}()

	if len(batch.Removed) > 0 {
		if _, err := tx.Exec(ctx, deletePlayers, batch.Removed); err != nil {
			return oops.In("postgres").
				With("operation", "delete players").
				With("count", len(batch.Removed)).
				Wrap(err)
		}
	}
	for _, d := range batch.Changed {
		if _, err := tx.Exec(ctx, upsertPlayer, playerArgs(d, cases.Fold().String(d.Name))...); err != nil {
			return oops.In("postgres").
				With("operation", "upsert player").
				With("id", d.ID).
				With("player", d.Name).
				Wrap(err)
		}
	}
	if _, err := tx.Exec(ctx, upsertMeta, batch.MaxID, FormatVersion); err != nil {
		return oops.In("postgres").With("operation", "update metadata").Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.In("postgres").With("operation", "commit save").Wrap(err)
	}
	committed = true
	return nil
}

func toTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func fromTimestamptz(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time.UTC()
}

func formatAddr(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

func parseAddr(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, nil
	}
	return netip.ParseAddr(s)
}
