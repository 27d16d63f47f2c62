// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package record

import (
	"time"

	"github.com/samber/oops"
)

// Error codes for record operations.
const (
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeRenameInvalid    = "RECORD_RENAME_INVALID"
	CodeSwapOnline       = "RECORD_SWAP_ONLINE"
	CodeAlreadyBanned    = "RECORD_ALREADY_BANNED"
	CodeNotBanned        = "RECORD_NOT_BANNED"
	CodeAlreadyFrozen    = "RECORD_ALREADY_FROZEN"
	CodeNotFrozen        = "RECORD_NOT_FROZEN"
	CodeAlreadyMuted     = "RECORD_ALREADY_MUTED"
	CodeNotMuted         = "RECORD_NOT_MUTED"
	CodeSameRank         = "RECORD_SAME_RANK"
	CodeSelfTarget       = "RECORD_SELF_TARGET"
	CodeNotOnline        = "RECORD_NOT_ONLINE"
	CodeReasonRequired   = "RECORD_REASON_REQUIRED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeCancelled        = "CANCELLED"
)

func errInvalid(format string, args ...any) error {
	return oops.In("record").Code(CodeInvalidArgument).Errorf(format, args...)
}

// errState reports a precondition failure. It runs with the record lock
// held, so it reads the data directly.
func errState(code string, d *Data, format string, args ...any) error {
	return oops.In("record").
		Code(code).
		With("player", d.Name).
		With("player_id", d.ID).
		Errorf(format, args...)
}

func errAlreadyMuted(d *Data) error {
	return oops.In("record").
		Code(CodeAlreadyMuted).
		With("player", d.Name).
		With("player_id", d.ID).
		With("muted_until", d.MutedUntil).
		Errorf("%s is already muted until %s", d.Name, d.MutedUntil.Format(time.RFC3339))
}

func errSwapOnline(a, b *Data) error {
	return oops.In("record").
		Code(CodeSwapOnline).
		With("player", a.Name).
		With("other", b.Name).
		Errorf("cannot swap %s and %s while either is online", a.Name, b.Name)
}

// ErrPermissionDenied reports that actor may not perform action on target.
func ErrPermissionDenied(action string, actor, target *Record) error {
	return oops.In("record").
		Code(CodePermissionDenied).
		With("action", action).
		With("actor", actor.Name()).
		With("player", target.Name()).
		Errorf("%s may not %s %s", actor.Name(), action, target.Name())
}

// ErrCancelled reports that a subscriber to the named event vetoed the action.
func ErrCancelled(eventName string) error {
	return oops.In("record").
		Code(CodeCancelled).
		With("event", eventName).
		Errorf("%s was cancelled", eventName)
}

// PlayerMessage turns an error from this package into text for the player
// who issued the action. Rejections explain the rule that was hit; anything
// else is reported as a system failure.
func PlayerMessage(err error) string {
	const systemFailure = "That failed because of a server error. Try again later."
	if err == nil {
		return systemFailure
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return systemFailure
	}
	ctx := oopsErr.Context()
	player, _ := ctx["player"].(string)

	switch oopsErr.Code() {
	case CodeInvalidArgument:
		return "Not allowed: " + oopsErr.Error()
	case CodeRenameInvalid:
		return "Not allowed: a player can only be renamed by changing letter case."
	case CodeSwapOnline:
		return "Not allowed: both players must be offline to swap their records."
	case CodeAlreadyBanned:
		return "Not allowed: " + player + " is already banned."
	case CodeNotBanned:
		return "Not allowed: " + player + " is not banned."
	case CodeAlreadyFrozen:
		return "Not allowed: " + player + " is already frozen."
	case CodeNotFrozen:
		return "Not allowed: " + player + " is not frozen."
	case CodeAlreadyMuted:
		if until, ok := ctx["muted_until"].(time.Time); ok {
			return "Not allowed: " + player + " is already muted until " + until.Format(time.RFC1123) + "."
		}
		return "Not allowed: " + player + " is already muted."
	case CodeNotMuted:
		return "Not allowed: " + player + " is not muted."
	case CodeSameRank:
		return "Not allowed: " + player + " already has that rank."
	case CodeSelfTarget:
		return "Not allowed: you cannot do that to yourself."
	case CodeNotOnline:
		return "Not allowed: " + player + " is not online."
	case CodeReasonRequired:
		return "Not allowed: a reason is required."
	case CodePermissionDenied:
		return "Not allowed: your rank cannot do that to " + player + "."
	case CodeCancelled:
		return "Not allowed: the action was blocked by a server rule."
	default:
		return systemFailure
	}
}
