// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

// Error codes for record store operations.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeReservedID      = "RESERVED_ID"
	CodeDuplicateName   = "DUPLICATE_NAME"
	CodeNotLoaded       = "STORE_NOT_LOADED"
	CodeAlreadyLoaded   = "STORE_ALREADY_LOADED"
	CodeSaveFailed      = "SAVE_FAILED"
	CodeLoadFailed      = "LOAD_FAILED"
)
