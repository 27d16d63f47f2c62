// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package record

import (
	"regexp"

	"github.com/samber/oops"
)

// Account name constraints.
const (
	MinNameLength = 2
	MaxNameLength = 16
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]+$`)

// ValidateName checks an account name. Names are 2 to 16 characters of
// letters, digits, underscores and dots.
func ValidateName(name string) error {
	if len(name) < MinNameLength || len(name) > MaxNameLength {
		return oops.In("record").
			Code(CodeInvalidArgument).
			With("name", name).
			Errorf("name must be %d to %d characters", MinNameLength, MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return oops.In("record").
			Code(CodeInvalidArgument).
			With("name", name).
			Errorf("name may only contain letters, digits, underscores and dots")
	}
	return nil
}
