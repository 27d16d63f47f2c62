// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package directory

import (
	"fmt"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/playerdb/internal/record"
)

// Error codes for directory lookups.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeAmbiguousName   = "AMBIGUOUS_NAME"
	CodeNoMatch         = "NO_MATCH"
)

// MaxListedCandidates caps how many names an ambiguity message shows.
const MaxListedCandidates = 10

func errNoMatch(query string) error {
	return oops.In("directory").
		Code(CodeNoMatch).
		With("query", query).
		Errorf("no player matches %q", query)
}

func errAmbiguous(query string, candidates []*record.Record) error {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name()
	}
	return oops.In("directory").
		Code(CodeAmbiguousName).
		With("query", query).
		With("candidates", names).
		Errorf("%d players match %q", len(names), query)
}

// PlayerMessage turns a directory error into text for the requester. Codes
// it does not own are passed to record.PlayerMessage.
func PlayerMessage(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return record.PlayerMessage(err)
	}
	ctx := oopsErr.Context()
	query, _ := ctx["query"].(string)

	switch oopsErr.Code() {
	case CodeNoMatch:
		return fmt.Sprintf("No players found matching %q.", query)
	case CodeAmbiguousName:
		names, _ := ctx["candidates"].([]string)
		shown := names
		if len(shown) > MaxListedCandidates {
			shown = shown[:MaxListedCandidates]
		}
		msg := fmt.Sprintf("More than one player matches %q: %s", query, strings.Join(shown, ", "))
		if extra := len(names) - len(shown); extra > 0 {
			msg += fmt.Sprintf(" and %d more", extra)
		}
		return msg + "."
	default:
		return record.PlayerMessage(err)
	}
}
