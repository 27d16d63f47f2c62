// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package chat

import (
	"fmt"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/playerdb/internal/record"
)

// Error codes for chat dispatch.
const (
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeInvalidMessage   = "CHAT_INVALID_MESSAGE"
	CodeMuted            = "CHAT_MUTED"
	CodeIgnored          = "CHAT_IGNORED"
	CodeCancelled        = "CHAT_CANCELLED"
	CodePermissionDenied = "PERMISSION_DENIED"
)

func errInvalidMessage(text string, pos int, reason string) error {
	return oops.In("chat").
		Code(CodeInvalidMessage).
		With("position", pos).
		With("length", len(text)).
		Errorf("%s", reason)
}

func errMuted(sender *record.Record) error {
	return oops.In("chat").
		Code(CodeMuted).
		With("player", sender.Name()).
		With("remaining", sender.MuteRemaining()).
		Errorf("%s is muted", sender.Name())
}

func errIgnored(sender, target *record.Record) error {
	return oops.In("chat").
		Code(CodeIgnored).
		With("player", target.Name()).
		Errorf("%s is ignoring %s", target.Name(), sender.Name())
}

func errCancelled(kind Kind) error {
	return oops.In("chat").
		Code(CodeCancelled).
		With("kind", kind.String()).
		Errorf("%s message was cancelled", kind)
}

func errPermissionDenied(sender *record.Record, kind Kind) error {
	return oops.In("chat").
		Code(CodePermissionDenied).
		With("player", sender.Name()).
		With("kind", kind.String()).
		Errorf("%s may not send %s messages", sender.Name(), kind)
}

// PlayerMessage turns a dispatch error into text for the sender.
func PlayerMessage(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return record.PlayerMessage(err)
	}
	ctx := oopsErr.Context()
	player, _ := ctx["player"].(string)

	switch oopsErr.Code() {
	case CodeInvalidMessage:
		return "Not allowed: " + oopsErr.Error() + "."
	case CodeMuted:
		remaining, _ := ctx["remaining"].(time.Duration)
		return fmt.Sprintf("You are muted for %s longer.", remaining.Round(time.Second))
	case CodeIgnored:
		return fmt.Sprintf("%s is ignoring you.", player)
	case CodeCancelled:
		return "Your message was not sent."
	case CodePermissionDenied:
		kind, _ := ctx["kind"].(string)
		return fmt.Sprintf("Not allowed: you may not send %s messages.", kind)
	default:
		return record.PlayerMessage(err)
	}
}
