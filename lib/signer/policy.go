// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"time"

	"github.com/bureau-foundation/quorum/lib/proposal"
)

// FromPolicy returns one approver per top-level policy entry, each
// signing through signer. Composite entries become Composites whose
// members mirror the sub-policy.
func FromPolicy(policy proposal.ThresholdPolicy, signer Signer, timeout time.Duration) []proposal.Approver {
	approvers := make([]proposal.Approver, 0, len(policy.Entries))
	for _, entry := range policy.Entries {
		approvers = append(approvers, FromEntry(entry, signer, timeout))
	}
	return approvers
}

// FromEntry returns the approver tree for one policy entry.
func FromEntry(entry proposal.PolicyEntry, signer Signer, timeout time.Duration) proposal.Approver {
	if entry.Sub == nil {
		return &Leaf{
			Key:     entry.Identity,
			Level:   entry.Level,
			Signer:  signer,
			Timeout: timeout,
		}
	}
	composite := &Composite{
		Name:      entry.Identity,
		Level:     entry.Level,
		Threshold: entry.Sub.Threshold,
	}
	for _, member := range entry.Sub.Entries {
		composite.Members = append(composite.Members, Member{
			Approver: FromEntry(member, signer, timeout),
			Weight:   member.Weight,
		})
	}
	return composite
}
