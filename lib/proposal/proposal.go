// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposal

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/codec"
	"github.com/bureau-foundation/quorum/lib/mutation"
)

// Proposal is a snapshot of one proposal's state. Values returned by
// the engine are copies; mutating them has no effect on the engine.
type Proposal struct {
	ID       string
	Batch    mutation.Batch
	Policy   ThresholdPolicy
	Proposer string

	// Fingerprint is the graph fingerprint at open time.
	Fingerprint authority.Fingerprint

	// Digest is what approvers sign.
	Digest Digest

	Approvals []Approval

	// Weight is the aggregate weight of Approvals under Policy.
	Weight uint64

	Status    Status
	CreatedAt time.Time
	ExpiresAt time.Time

	// Reason records why a proposal was cancelled or invalidated.
	Reason string

	// Receipt is set once the proposal is executed.
	Receipt *Receipt

	// Revision counts persisted transitions. Stores accept a record
	// only on top of the revision before it.
	Revision uint64

	// base is the graph the proposal was opened against and result
	// the post-batch graph once executed. Both are immutable.
	base   *authority.Graph
	result *authority.Graph
}

// HasApproved reports whether identity already approved.
func (p Proposal) HasApproved(identity string) bool {
	for _, approval := range p.Approvals {
		if approval.Approver == identity {
			return true
		}
	}
	return false
}

func (p Proposal) clone() Proposal {
	clone := p
	clone.Batch = append(mutation.Batch(nil), p.Batch...)
	clone.Policy = p.Policy.Clone()
	clone.Approvals = cloneApprovals(p.Approvals)
	if p.Receipt != nil {
		receipt := p.Receipt.clone()
		clone.Receipt = &receipt
	}
	return clone
}

// Digest is the 32-byte BLAKE3 signing digest of a proposal.
type Digest [32]byte

// String returns the hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("proposal: parsing digest: %w", err)
	}
	if len(decoded) != len(d) {
		return fmt.Errorf("proposal: digest is %d bytes, want %d", len(decoded), len(d))
	}
	copy(d[:], decoded)
	return nil
}

// proposalDomainKey separates proposal digests from graph fingerprints.
// ASCII "quorum.proposal.digest", zero padded.
var proposalDomainKey = [32]byte{
	'q', 'u', 'o', 'r', 'u', 'm', '.', 'p', 'r', 'o', 'p', 'o', 's', 'a', 'l', '.',
	'd', 'i', 'g', 'e', 's', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// digestInput is the CBOR structure hashed into a proposal digest.
// Integer keys keep the encoding compact and independent of Go field
// names.
type digestInput struct {
	ProposalID  string                `cbor:"1,keyasint"`
	Batch       mutation.Batch        `cbor:"2,keyasint"`
	Policy      ThresholdPolicy       `cbor:"3,keyasint"`
	Fingerprint authority.Fingerprint `cbor:"4,keyasint"`
	ExpiresAt   time.Time             `cbor:"5,keyasint"`
}

// computeDigest binds the id, batch, policy, open-time fingerprint,
// and expiry. A signature over the digest cannot be replayed onto a
// different batch, policy, or graph.
func computeDigest(id string, batch mutation.Batch, policy ThresholdPolicy, fingerprint authority.Fingerprint, expiresAt time.Time) (Digest, error) {
	data, err := codec.Marshal(digestInput{
		ProposalID:  id,
		Batch:       batch,
		Policy:      policy,
		Fingerprint: fingerprint,
		ExpiresAt:   expiresAt.UTC(),
	})
	if err != nil {
		return Digest{}, fmt.Errorf("proposal: encoding digest input: %w", err)
	}
	hasher, err := blake3.NewKeyed(proposalDomainKey[:])
	if err != nil {
		return Digest{}, fmt.Errorf("proposal: BLAKE3 keyed hasher: %w", err)
	}
	hasher.Write(data)

	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// SigningRequest is what an approver is asked to sign.
type SigningRequest struct {
	ProposalID string
	Digest     Digest
	Batch      mutation.Batch
	Policy     ThresholdPolicy
	ExpiresAt  time.Time
}

// Payload returns the bytes to sign.
func (r SigningRequest) Payload() []byte {
	payload := r.Digest
	return payload[:]
}
