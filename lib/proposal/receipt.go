// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposal

import (
	"context"
	"time"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/mutation"
)

// SignedBatch is the fully formed artifact of an approved proposal:
// the batch plus the approvals that authorize it.
type SignedBatch struct {
	ProposalID string          `json:"proposal_id"`
	Digest     Digest          `json:"digest"`
	Policy     ThresholdPolicy `json:"policy"`
	Batch      mutation.Batch  `json:"batch"`
	Approvals  []Approval      `json:"approvals"`
}

func (s SignedBatch) clone() SignedBatch {
	clone := s
	clone.Policy = s.Policy.Clone()
	clone.Batch = append(mutation.Batch(nil), s.Batch...)
	clone.Approvals = cloneApprovals(s.Approvals)
	return clone
}

// Broadcaster submits a signed batch to wherever the authority graph
// of record lives. It returns an opaque submission reference.
type Broadcaster interface {
	Broadcast(ctx context.Context, batch SignedBatch) (string, error)
}

// ExecuteOptions controls [Engine.Execute].
type ExecuteOptions struct {
	// Broadcast submits the signed batch and marks the proposal
	// executed. When false, Execute only builds the signed batch.
	Broadcast bool

	// Ledger, when set, replaces the graph argument: the batch is
	// validated against Ledger.Current and, after a broadcast, the
	// post-batch graph is published on top of that version.
	Ledger *authority.Ledger
}

// Receipt describes an execution or a dry run.
type Receipt struct {
	ProposalID  string      `json:"proposal_id"`
	Broadcast   bool        `json:"broadcast"`
	Submission  string      `json:"submission,omitempty"`
	SignedBatch SignedBatch `json:"signed_batch"`

	// Before is the fingerprint of the graph the batch was applied to,
	// After the fingerprint of the result.
	Before authority.Fingerprint `json:"before"`
	After  authority.Fingerprint `json:"after"`

	ExecutedAt time.Time `json:"executed_at"`
}

func (r Receipt) clone() Receipt {
	clone := r
	clone.SignedBatch = r.SignedBatch.clone()
	return clone
}
