// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/clock"
	"github.com/bureau-foundation/quorum/lib/proposal"
)

// Member is one weighted approver of a Composite.
type Member struct {
	Approver proposal.Approver
	Weight   uint32
}

// Composite approves for a delegated permission by collecting nested
// approvals from its members until their weight meets Threshold.
type Composite struct {
	// Name is the identity the policy lists for this composite.
	// Defaults to Level's "account@permission" form.
	Name string

	Level     authority.PermissionLevel
	Threshold uint64
	Members   []Member

	// Clock stamps SignedAt. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives member failures. If nil, nothing is logged.
	Logger *slog.Logger
}

// Identity returns Name, or the delegated level if Name is empty.
func (c *Composite) Identity() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Level.String()
}

type memberResult struct {
	index    int
	approval proposal.Approval
	err      error
}

// ProduceApproval asks every member concurrently. It returns as soon
// as the approving members' weight reaches the threshold and cancels
// the members still signing. If the threshold becomes unreachable it
// returns CodeThresholdNotMet with the member errors joined.
func (c *Composite) ProduceApproval(ctx context.Context, request proposal.SigningRequest) (proposal.Approval, error) {
	identity := c.Identity()
	if c.Threshold == 0 {
		return proposal.Approval{}, &SigningError{Code: CodeThresholdNotMet, Identity: identity, Err: fmt.Errorf("threshold is zero")}
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var pending uint64
	for _, member := range c.Members {
		pending += uint64(member.Weight)
	}
	if pending < c.Threshold {
		return proposal.Approval{}, &SigningError{
			Code:     CodeThresholdNotMet,
			Identity: identity,
			Err:      fmt.Errorf("members weigh %d, threshold is %d", pending, c.Threshold),
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan memberResult, len(c.Members))
	for index, member := range c.Members {
		go func() {
			approval, err := member.Approver.ProduceApproval(ctx, request)
			results <- memberResult{index: index, approval: approval, err: err}
		}()
	}

	approved := make([]*proposal.Approval, len(c.Members))
	var collected uint64
	var failures []error
	for range c.Members {
		result := <-results
		member := c.Members[result.index]
		pending -= uint64(member.Weight)
		if result.err != nil {
			logger.Warn("composite member failed",
				"composite", identity,
				"member", member.Approver.Identity(),
				"error", result.err,
			)
			failures = append(failures, result.err)
			if collected+pending < c.Threshold {
				break
			}
			continue
		}
		approved[result.index] = &result.approval
		collected += uint64(member.Weight)
		if collected >= c.Threshold {
			return c.assemble(approved), nil
		}
	}

	err := errors.Join(failures...)
	if err == nil {
		err = ctx.Err()
	}
	return proposal.Approval{}, &SigningError{
		Code:     CodeThresholdNotMet,
		Identity: identity,
		Err:      fmt.Errorf("collected weight %d of %d: %w", collected, c.Threshold, err),
	}
}

// assemble orders nested approvals by member position so the result
// does not depend on which member answered first.
func (c *Composite) assemble(approved []*proposal.Approval) proposal.Approval {
	approval := proposal.Approval{
		Approver: c.Identity(),
		Level:    c.Level,
		SignedAt: c.now(),
	}
	for _, nested := range approved {
		if nested != nil {
			approval.Nested = append(approval.Nested, *nested)
		}
	}
	return approval
}

func (c *Composite) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}
