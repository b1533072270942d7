// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposal

import (
	"errors"
	"strings"
)

// Code classifies a [StateError].
type Code string

const (
	// CodeInvalidBatch: the batch is empty or failed validation
	// against the graph at open time. Err is the *mutation.BatchError.
	CodeInvalidBatch Code = "invalid_batch"

	// CodeInvalidPolicy: the threshold policy cannot be met or is
	// malformed.
	CodeInvalidPolicy Code = "invalid_policy"

	// CodeDuplicateApproval: the identity already approved. The
	// proposal is unchanged; callers may treat this as success.
	CodeDuplicateApproval Code = "duplicate_approval"

	// CodeStaleProposal: the batch no longer validates against the
	// current graph. Terminal: open a new proposal.
	CodeStaleProposal Code = "stale_proposal"

	// CodeNotExecutable: Execute was called before the threshold was
	// reached, or after the proposal left the executable state.
	CodeNotExecutable Code = "not_executable"

	// CodeConflict: another process saved the proposal between this
	// engine's read and its write. The engine has reloaded the
	// proposal; the call may be retried.
	CodeConflict Code = "conflict"

	CodeNotFound        Code = "not_found"
	CodeNotAuthorized   Code = "not_authorized"
	CodeInvalidApproval Code = "invalid_approval"
	CodeNotApprovable   Code = "not_approvable"
	CodeNotCancellable  Code = "not_cancellable"
	CodeExpired         Code = "expired"
)

// StateError reports a lifecycle rule violation. Callers inspect it
// with errors.As or [IsCode]:
//
//	if proposal.IsCode(err, proposal.CodeStaleProposal) { ... }
type StateError struct {
	Code       Code
	ProposalID string
	Status     Status
	Detail     string
	Err        error
}

func (e *StateError) Error() string {
	var builder strings.Builder
	builder.WriteString("proposal")
	if e.ProposalID != "" {
		builder.WriteString(" ")
		builder.WriteString(e.ProposalID)
	}
	builder.WriteString(": ")
	builder.WriteString(string(e.Code))
	if e.Status != "" {
		builder.WriteString(" (status ")
		builder.WriteString(string(e.Status))
		builder.WriteString(")")
	}
	if e.Detail != "" {
		builder.WriteString(": ")
		builder.WriteString(e.Detail)
	}
	if e.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Err.Error())
	}
	return builder.String()
}

func (e *StateError) Unwrap() error { return e.Err }

// IsCode reports whether err is (or wraps) a *StateError with the
// given code.
func IsCode(err error, code Code) bool {
	var stateErr *StateError
	if errors.As(err, &stateErr) {
		return stateErr.Code == code
	}
	return false
}
