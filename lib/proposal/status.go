// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposal

// Status is a proposal's lifecycle state.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusProposed    Status = "proposed"
	StatusApproving   Status = "approving"
	StatusExecutable  Status = "executable"
	StatusExecuted    Status = "executed"
	StatusCancelled   Status = "cancelled"
	StatusExpired     Status = "expired"
	StatusInvalidated Status = "invalidated"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusCancelled, StatusExpired, StatusInvalidated:
		return true
	}
	return false
}

// acceptsApprovals reports whether Approve may be called in this
// state.
func (s Status) acceptsApprovals() bool {
	return s == StatusProposed || s == StatusApproving
}

// IsKnown reports whether s is one of the defined statuses.
func (s Status) IsKnown() bool {
	switch s {
	case StatusDraft, StatusProposed, StatusApproving, StatusExecutable,
		StatusExecuted, StatusCancelled, StatusExpired, StatusInvalidated:
		return true
	}
	return false
}
