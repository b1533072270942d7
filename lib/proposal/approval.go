// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposal

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/quorum/lib/authority"
)

// Approval is one approver's consent to a proposal. A leaf approval
// carries Signature over the proposal's signing payload. A composite
// approval carries Nested approvals from the members of the delegated
// permission and no signature of its own.
type Approval struct {
	Approver  string                    `json:"approver"`
	Level     authority.PermissionLevel `json:"level,omitzero"`
	Signature []byte                    `json:"signature,omitempty"`
	Nested    []Approval                `json:"nested,omitempty"`
	SignedAt  time.Time                 `json:"signed_at"`
}

// Clone returns a deep copy.
func (a Approval) Clone() Approval {
	clone := a
	if a.Signature != nil {
		clone.Signature = append([]byte(nil), a.Signature...)
	}
	clone.Nested = cloneApprovals(a.Nested)
	return clone
}

func cloneApprovals(approvals []Approval) []Approval {
	if approvals == nil {
		return nil
	}
	clone := make([]Approval, len(approvals))
	for i, approval := range approvals {
		clone[i] = approval.Clone()
	}
	return clone
}

// Verifier checks a leaf signature. Key formats and algorithms are the
// verifier's business; the engine only passes identity, payload, and
// signature through.
type Verifier interface {
	Verify(identity string, payload, signature []byte) error
}

// approvalCheck carries what verifyApproval needs beyond the approval
// itself. graph is the open-time snapshot; it is nil only for records
// saved without one, and then claimed levels go unchecked.
type approvalCheck struct {
	payload  []byte
	verifier Verifier
	graph    *authority.Graph
}

// verifyApproval checks approval against policy and returns the weight
// it contributes. Errors are *StateError with CodeNotAuthorized or
// CodeInvalidApproval; the caller fills in the proposal id and status.
func (c approvalCheck) verifyApproval(policy ThresholdPolicy, approval Approval) (uint32, error) {
	entry, ok := policy.Entry(approval.Approver)
	if !ok {
		return 0, &StateError{
			Code:   CodeNotAuthorized,
			Detail: fmt.Sprintf("%q is not an approver for %s", approval.Approver, policyName(policy)),
		}
	}
	if approval.Level != entry.Level {
		return 0, &StateError{
			Code:   CodeNotAuthorized,
			Detail: fmt.Sprintf("%q claims level %q, policy requires %q", approval.Approver, approval.Level, entry.Level),
		}
	}
	if c.graph != nil && !approval.Level.IsZero() && !c.graph.HasPermission(approval.Level) {
		return 0, &StateError{
			Code:   CodeNotAuthorized,
			Detail: fmt.Sprintf("claimed level %s does not exist", approval.Level),
		}
	}

	if entry.Sub == nil {
		if len(approval.Nested) > 0 {
			return 0, &StateError{
				Code:   CodeInvalidApproval,
				Detail: fmt.Sprintf("%q is a key approver and cannot carry nested approvals", approval.Approver),
			}
		}
		if len(approval.Signature) == 0 {
			return 0, &StateError{
				Code:   CodeInvalidApproval,
				Detail: fmt.Sprintf("%q approval has no signature", approval.Approver),
			}
		}
		if err := c.verifier.Verify(approval.Approver, c.payload, approval.Signature); err != nil {
			return 0, &StateError{
				Code:   CodeInvalidApproval,
				Detail: fmt.Sprintf("signature from %q", approval.Approver),
				Err:    err,
			}
		}
		return entry.Weight, nil
	}

	if len(approval.Signature) > 0 {
		return 0, &StateError{
			Code:   CodeInvalidApproval,
			Detail: fmt.Sprintf("%q is a delegated permission and must approve through nested approvals", approval.Approver),
		}
	}
	seen := make(map[string]bool, len(approval.Nested))
	var collected uint64
	for _, nested := range approval.Nested {
		if seen[nested.Approver] {
			return 0, &StateError{
				Code:   CodeInvalidApproval,
				Detail: fmt.Sprintf("%q appears twice under %q", nested.Approver, approval.Approver),
			}
		}
		seen[nested.Approver] = true
		weight, err := c.verifyApproval(*entry.Sub, nested)
		if err != nil {
			return 0, err
		}
		collected += uint64(weight)
	}
	if collected < entry.Sub.Threshold {
		return 0, &StateError{
			Code: CodeInvalidApproval,
			Detail: fmt.Sprintf("nested approvals under %q weigh %d, threshold is %d",
				approval.Approver, collected, entry.Sub.Threshold),
		}
	}
	return entry.Weight, nil
}

func policyName(policy ThresholdPolicy) string {
	if policy.Level.IsZero() {
		return "this proposal"
	}
	return policy.Level.String()
}
