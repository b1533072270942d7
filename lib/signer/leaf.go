// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/clock"
	"github.com/bureau-foundation/quorum/lib/proposal"
)

// Signer is the external signing capability. Sign returns a signature
// of payload by identity's key, or an error wrapping ErrSigningDenied
// or ErrSigningUnavailable. It should honor ctx.
type Signer interface {
	Sign(ctx context.Context, identity string, payload []byte) ([]byte, error)
}

// Leaf approves with one key through a Signer.
type Leaf struct {
	// Key is the signing identity, as it appears in the policy.
	Key string

	// Level is the permission level the approval claims.
	Level authority.PermissionLevel

	Signer Signer

	// Timeout bounds one signing attempt. Zero means only ctx bounds
	// it.
	Timeout time.Duration

	// Clock stamps SignedAt and runs the timeout. Defaults to the
	// real clock.
	Clock clock.Clock
}

// Identity returns the key identity.
func (l *Leaf) Identity() string { return l.Key }

type signResult struct {
	signature []byte
	err       error
}

// ProduceApproval signs request.Payload(). A signer that does not
// return before the timeout yields a CodeTimeout error even if it
// ignores ctx. The signer's context is cancelled when ProduceApproval
// returns.
func (l *Leaf) ProduceApproval(ctx context.Context, request proposal.SigningRequest) (proposal.Approval, error) {
	if l.Signer == nil {
		return proposal.Approval{}, &SigningError{Code: CodeSigningUnavailable, Identity: l.Key, Err: fmt.Errorf("no signer configured")}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var deadline <-chan time.Time
	if l.Timeout > 0 {
		deadline = l.clock().After(l.Timeout)
	}

	results := make(chan signResult, 1)
	go func() {
		signature, err := l.Signer.Sign(ctx, l.Key, request.Payload())
		results <- signResult{signature, err}
	}()

	select {
	case result := <-results:
		if result.err != nil {
			return proposal.Approval{}, classify(l.Key, result.err)
		}
		if len(result.signature) == 0 {
			return proposal.Approval{}, &SigningError{Code: CodeSigningUnavailable, Identity: l.Key, Err: fmt.Errorf("empty signature")}
		}
		return proposal.Approval{
			Approver:  l.Key,
			Level:     l.Level,
			Signature: result.signature,
			SignedAt:  l.clock().Now(),
		}, nil
	case <-deadline:
		return proposal.Approval{}, &SigningError{
			Code:     CodeTimeout,
			Identity: l.Key,
			Err:      fmt.Errorf("no signature within %s: %w", l.Timeout, context.DeadlineExceeded),
		}
	case <-ctx.Done():
		return proposal.Approval{}, classify(l.Key, ctx.Err())
	}
}

func (l *Leaf) clock() clock.Clock {
	if l.Clock == nil {
		return clock.Real()
	}
	return l.Clock
}
