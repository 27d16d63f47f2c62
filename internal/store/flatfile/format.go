// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package flatfile

import (
	"net/netip"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/internal/store"
)

// Format versions.
//
//	1: timestamps in milliseconds, no moderation or kick columns
//	2: timestamps in milliseconds, all columns
//	3: timestamps in seconds
const (
	CurrentVersion = 3
	headerMagic    = "playerdb"
)

// Column counts per layout.
const (
	fieldsV1 = 32
	fieldsV2 = 42
)

// minFields is the shortest line accepted for a format version. Newer
// layouts only ever append columns, so extra trailing fields are ignored.
func minFields(version int) int {
	if version <= 1 {
		return fieldsV1
	}
	return fieldsV2
}

type timeUnit int

const (
	milliseconds timeUnit = iota
	seconds
)

func unitFor(version int) timeUnit {
	if version >= 3 {
		return seconds
	}
	return milliseconds
}

// stored is a decoded line before rank references are resolved.
type stored struct {
	data         record.Data
	rank         string
	previousRank string
}

// fieldWriter appends encoded columns.
type fieldWriter struct {
	unit   timeUnit
	fields []string
}

func (w *fieldWriter) str(s string) { w.fields = append(w.fields, s) }

func (w *fieldWriter) int(n int64) { w.fields = append(w.fields, strconv.FormatInt(n, 10)) }

func (w *fieldWriter) bool(b bool) {
	if b {
		w.str("1")
		return
	}
	w.str("0")
}

func (w *fieldWriter) time(t time.Time) {
	switch {
	case t.IsZero():
		w.str("")
	case w.unit == seconds:
		w.int(t.Unix())
	default:
		w.int(t.UnixMilli())
	}
}

func (w *fieldWriter) duration(d time.Duration) {
	if w.unit == seconds {
		w.int(int64(d / time.Second))
		return
	}
	w.int(d.Milliseconds())
}

func (w *fieldWriter) addr(a netip.Addr) {
	if !a.IsValid() {
		w.str("")
		return
	}
	w.str(a.String())
}

// encode renders d in the given layout.
func encode(d record.Data, version int) []string {
	w := &fieldWriter{unit: unitFor(version), fields: make([]string, 0, minFields(version))}
	w.str(d.Name)
	w.int(int64(d.ID))
	w.str(d.DisplayName)

	w.str(store.RankRef(d.Rank))
	w.str(store.RankRef(d.PreviousRank))
	w.time(d.RankChangeDate)
	w.str(d.RankChangedBy)
	w.str(d.RankChangeReason)
	w.int(int64(d.RankChangeType))

	w.int(int64(d.BanStatus))
	w.time(d.BanDate)
	w.str(d.BannedBy)
	w.str(d.BanReason)
	w.time(d.UnbanDate)
	w.str(d.UnbannedBy)
	w.str(d.UnbanReason)

	w.time(d.FirstLoginDate)
	w.time(d.LastLoginDate)
	w.time(d.LastSeen)
	w.addr(d.LastIP)
	w.time(d.LastFailedLoginDate)
	w.addr(d.LastFailedLoginIP)
	w.int(int64(d.LeaveReason))

	w.duration(d.TotalTime)
	w.int(d.BlocksBuilt)
	w.int(d.BlocksDeleted)
	w.int(d.BlocksDrawn)
	w.int(int64(d.TimesVisited))
	w.int(int64(d.MessagesWritten))
	w.int(int64(d.TimesKicked))
	w.int(int64(d.TimesKickedOthers))
	w.int(int64(d.TimesBannedOthers))
	if version < 2 {
		return w.fields
	}

	w.bool(d.IsFrozen)
	w.time(d.FrozenOn)
	w.str(d.FrozenBy)
	w.time(d.MutedUntil)
	w.str(d.MutedBy)
	w.bool(d.IsHidden)
	w.time(d.LastKickDate)
	w.str(d.LastKickBy)
	w.str(d.LastKickReason)
	w.time(d.LastModified)
	return w.fields
}

// fieldReader consumes columns in order. The first failure sticks and
// later reads return zero values.
type fieldReader struct {
	unit   timeUnit
	fields []string
	pos    int
	err    error
}

func (r *fieldReader) next() (string, string) {
	name := columnName(r.pos)
	if r.pos >= len(r.fields) {
		r.fail(name, "", "missing")
		return "", name
	}
	s := r.fields[r.pos]
	r.pos++
	return s, name
}

func (r *fieldReader) fail(column, value, problem string) {
	if r.err == nil {
		r.err = oops.In("flatfile").
			With("column", column).
			With("value", value).
			Errorf("column %s: %s", column, problem)
	}
}

func (r *fieldReader) str() string {
	s, _ := r.next()
	return s
}

func (r *fieldReader) int64() int64 {
	s, name := r.next()
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.fail(name, s, "not an integer")
	}
	return n
}

func (r *fieldReader) int() int { return int(r.int64()) }

func (r *fieldReader) uint8() uint8 {
	s, name := r.next()
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		r.fail(name, s, "not a small integer")
	}
	return uint8(n)
}

func (r *fieldReader) bool() bool {
	s, name := r.next()
	switch s {
	case "", "0", "false":
		return false
	case "1", "true":
		return true
	default:
		r.fail(name, s, "not a boolean")
		return false
	}
}

func (r *fieldReader) time() time.Time {
	s, name := r.next()
	if s == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.fail(name, s, "not a timestamp")
		return time.Time{}
	}
	if r.unit == seconds {
		return time.Unix(n, 0).UTC()
	}
	return time.UnixMilli(n).UTC()
}

func (r *fieldReader) duration() time.Duration {
	n := r.int64()
	if r.unit == seconds {
		return time.Duration(n) * time.Second
	}
	return time.Duration(n) * time.Millisecond
}

func (r *fieldReader) addr() netip.Addr {
	s, name := r.next()
	if s == "" {
		return netip.Addr{}
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		r.fail(name, s, "not an address")
	}
	return a
}

// decode parses one line in the given layout. Rank references are left
// unresolved.
func decode(fields []string, version int) (stored, error) {
	if len(fields) < minFields(version) {
		return stored{}, oops.In("flatfile").
			With("fields", len(fields)).
			With("required", minFields(version)).
			Errorf("truncated line: %d of %d fields", len(fields), minFields(version))
	}

	r := &fieldReader{unit: unitFor(version), fields: fields}
	var s stored
	d := &s.data
	d.Name = r.str()
	d.ID = r.int()
	d.DisplayName = r.str()

	s.rank = r.str()
	s.previousRank = r.str()
	d.RankChangeDate = r.time()
	d.RankChangedBy = r.str()
	d.RankChangeReason = r.str()
	d.RankChangeType = record.RankChangeType(r.uint8())

	d.BanStatus = record.BanStatus(r.uint8())
	d.BanDate = r.time()
	d.BannedBy = r.str()
	d.BanReason = r.str()
	d.UnbanDate = r.time()
	d.UnbannedBy = r.str()
	d.UnbanReason = r.str()

	d.FirstLoginDate = r.time()
	d.LastLoginDate = r.time()
	d.LastSeen = r.time()
	d.LastIP = r.addr()
	d.LastFailedLoginDate = r.time()
	d.LastFailedLoginIP = r.addr()
	d.LeaveReason = record.LeaveReason(r.uint8())

	d.TotalTime = r.duration()
	d.BlocksBuilt = r.int64()
	d.BlocksDeleted = r.int64()
	d.BlocksDrawn = r.int64()
	d.TimesVisited = r.int()
	d.MessagesWritten = r.int()
	d.TimesKicked = r.int()
	d.TimesKickedOthers = r.int()
	d.TimesBannedOthers = r.int()

	if version >= 2 {
		d.IsFrozen = r.bool()
		d.FrozenOn = r.time()
		d.FrozenBy = r.str()
		d.MutedUntil = r.time()
		d.MutedBy = r.str()
		d.IsHidden = r.bool()
		d.LastKickDate = r.time()
		d.LastKickBy = r.str()
		d.LastKickReason = r.str()
		d.LastModified = r.time()
	}
	if r.err != nil {
		return stored{}, r.err
	}
	return s, nil
}

var columnNames = [...]string{
	"name", "id", "display_name",
	"rank", "previous_rank", "rank_change_date", "rank_changed_by", "rank_change_reason", "rank_change_type",
	"ban_status", "ban_date", "banned_by", "ban_reason", "unban_date", "unbanned_by", "unban_reason",
	"first_login", "last_login", "last_seen", "last_ip", "last_failed_login", "last_failed_ip", "leave_reason",
	"total_time", "blocks_built", "blocks_deleted", "blocks_drawn", "times_visited", "messages_written",
	"times_kicked", "times_kicked_others", "times_banned_others",
	"frozen", "frozen_on", "frozen_by", "muted_until", "muted_by", "hidden",
	"last_kick_date", "last_kick_by", "last_kick_reason", "last_modified",
}

func columnName(i int) string {
	if i < len(columnNames) {
		return columnNames[i]
	}
	return strconv.Itoa(i)
}
