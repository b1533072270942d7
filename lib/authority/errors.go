// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"errors"
	"fmt"
	"strings"
)

// Reason classifies why an operation would leave the graph
// inconsistent.
type Reason string

const (
	// ReasonDanglingLink: a link or delegation would name a permission
	// that does not exist.
	ReasonDanglingLink Reason = "dangling_link"

	// ReasonUnknownParent: a permission's parent does not exist.
	ReasonUnknownParent Reason = "unknown_parent"

	// ReasonPermissionInUse: a permission still has children, links,
	// or delegations pointing at it.
	ReasonPermissionInUse Reason = "permission_in_use"

	// ReasonCycleDetected: a parent chain or delegation chain would
	// loop back on itself.
	ReasonCycleDetected Reason = "cycle_detected"

	// ReasonUnsatisfiableThreshold: the threshold is zero or exceeds
	// the authority's total weight.
	ReasonUnsatisfiableThreshold Reason = "unsatisfiable_threshold"

	ReasonUnknownAccount    Reason = "unknown_account"
	ReasonUnknownPermission Reason = "unknown_permission"
	ReasonUnknownLink       Reason = "unknown_link"

	// ReasonInvalidOperation: the operation is malformed or targets a
	// protected permission (revoking owner or active, reparenting
	// owner).
	ReasonInvalidOperation Reason = "invalid_operation"
)

// GraphError reports a graph inconsistency. Account and Permission
// name the entity the failure concerns; Detail names the conflicting
// entity when there is one (the child, link, or delegator that keeps
// a permission in use).
//
// Callers inspect it with errors.As or [IsReason]:
//
//	if authority.IsReason(err, authority.ReasonPermissionInUse) { ... }
type GraphError struct {
	Reason     Reason
	Account    AccountName
	Permission PermissionName
	Detail     string
}

func (e *GraphError) Error() string {
	var builder strings.Builder
	builder.WriteString("authority: ")
	builder.WriteString(string(e.Reason))
	if e.Account != "" {
		builder.WriteString(": ")
		builder.WriteString(string(e.Account))
		if e.Permission != "" {
			builder.WriteString("@")
			builder.WriteString(string(e.Permission))
		}
	}
	if e.Detail != "" {
		builder.WriteString(": ")
		builder.WriteString(e.Detail)
	}
	return builder.String()
}

// IsReason reports whether err is (or wraps) a *GraphError with the
// given reason.
func IsReason(err error, reason Reason) bool {
	var graphErr *GraphError
	if errors.As(err, &graphErr) {
		return graphErr.Reason == reason
	}
	return false
}

func graphError(reason Reason, account AccountName, permission PermissionName, format string, args ...any) *GraphError {
	return &GraphError{
		Reason:     reason,
		Account:    account,
		Permission: permission,
		Detail:     fmt.Sprintf(format, args...),
	}
}
