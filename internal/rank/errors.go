// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package rank

import "github.com/samber/oops"

// Error codes for rank model failures.
const (
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeModelFrozen        = "RANK_MODEL_FROZEN"
	CodeDuplicate          = "RANK_DUPLICATE"
	CodeNotFound           = "RANK_NOT_FOUND"
	CodeInvalidReplacement = "RANK_INVALID_REPLACEMENT"
	CodeInvalidDefinitions = "RANK_INVALID_DEFINITIONS"
)

func errFrozen(op, rankName string) error {
	return oops.In("rank").
		Code(CodeModelFrozen).
		With("operation", op).
		With("rank", rankName).
		Errorf("cannot %s rank %q: player records are already loaded", op, rankName)
}

func errNotInModel(r *Rank) error {
	return oops.In("rank").
		Code(CodeNotFound).
		With("rank", r.name).
		With("rank_id", r.id).
		Errorf("rank %q is not part of this model", r.name)
}
