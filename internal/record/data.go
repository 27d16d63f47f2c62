// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package record

import (
	"net/netip"
	"time"

	"github.com/holomush/playerdb/internal/rank"
)

// BanStatus is the ban state of an account.
type BanStatus uint8

// Ban states.
const (
	NotBanned BanStatus = iota
	Banned
	// BanExempt accounts are never affected by IP or range bans.
	BanExempt
)

func (s BanStatus) String() string {
	switch s {
	case NotBanned:
		return "not_banned"
	case Banned:
		return "banned"
	case BanExempt:
		return "exempt"
	default:
		return "unknown"
	}
}

// RankChangeType records how the current rank was reached.
type RankChangeType uint8

// Rank change types.
const (
	RankChangeDefault RankChangeType = iota
	RankChangePromoted
	RankChangeDemoted
	RankChangeAutoPromoted
	RankChangeAutoDemoted
)

func (t RankChangeType) String() string {
	switch t {
	case RankChangeDefault:
		return "default"
	case RankChangePromoted:
		return "promoted"
	case RankChangeDemoted:
		return "demoted"
	case RankChangeAutoPromoted:
		return "auto_promoted"
	case RankChangeAutoDemoted:
		return "auto_demoted"
	default:
		return "unknown"
	}
}

// LeaveReason explains why the last session ended.
type LeaveReason uint8

// Leave reasons.
const (
	LeaveUnknown LeaveReason = iota
	LeaveClientQuit
	LeaveKicked
	LeaveBanned
	LeaveIdle
	LeaveInvalidMessage
	LeaveServerShutdown
	LeaveTimeout
)

func (r LeaveReason) String() string {
	switch r {
	case LeaveClientQuit:
		return "client_quit"
	case LeaveKicked:
		return "kicked"
	case LeaveBanned:
		return "banned"
	case LeaveIdle:
		return "idle"
	case LeaveInvalidMessage:
		return "invalid_message"
	case LeaveServerShutdown:
		return "server_shutdown"
	case LeaveTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// BlockType identifies a placed block. Placing BlockAir is a deletion.
type BlockType uint8

// BlockAir is the empty block.
const BlockAir BlockType = 0

// Data is the plain aggregate of everything persisted about an account.
// Backends serialize it; Record guards it.
type Data struct {
	ID          int
	Name        string
	DisplayName string

	Rank             *rank.Rank
	PreviousRank     *rank.Rank
	RankChangeDate   time.Time
	RankChangedBy    string
	RankChangeReason string
	RankChangeType   RankChangeType

	BanStatus   BanStatus
	BanDate     time.Time
	BannedBy    string
	BanReason   string
	UnbanDate   time.Time
	UnbannedBy  string
	UnbanReason string

	FirstLoginDate      time.Time
	LastLoginDate       time.Time
	LastSeen            time.Time
	LastIP              netip.Addr
	LastFailedLoginDate time.Time
	LastFailedLoginIP   netip.Addr
	LeaveReason         LeaveReason

	IsFrozen bool
	FrozenOn time.Time
	FrozenBy string

	MutedUntil time.Time
	MutedBy    string

	IsHidden bool

	LastKickDate   time.Time
	LastKickBy     string
	LastKickReason string

	TotalTime         time.Duration
	BlocksBuilt       int64
	BlocksDeleted     int64
	BlocksDrawn       int64
	TimesVisited      int
	MessagesWritten   int
	TimesKicked       int
	TimesKickedOthers int
	TimesBannedOthers int

	LastModified time.Time
}

// Change is a bitmask of the aspects touched by a mutation.
type Change uint32

// Mutation aspects.
const (
	ChangeName Change = 1 << iota
	ChangeRank
	ChangeBan
	ChangeFreeze
	ChangeMute
	ChangeSession
	ChangeHidden
	ChangeStats
	ChangeKick
	ChangeSwap
)

// Has reports whether any bit of other is set in c.
func (c Change) Has(other Change) bool { return c&other != 0 }
