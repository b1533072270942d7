// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/codec"
	"github.com/bureau-foundation/quorum/lib/mutation"
)

// ErrRecordNotFound is returned by [Store.Load] for an unknown id.
var ErrRecordNotFound = errors.New("proposal: record not found")

// ErrRevisionConflict is returned by [Store.Save] when the stored
// record is not the revision the caller built on.
var ErrRevisionConflict = errors.New("proposal: record was saved concurrently")

// Record is the persisted form of a proposal. It is encoded with
// [EncodeRecord] (deterministic CBOR) and is also the JSON shape the
// CLI prints.
type Record struct {
	ProposalID  string                `json:"proposal_id" cbor:"proposal_id"`
	Batch       mutation.Batch        `json:"batch" cbor:"batch"`
	Policy      ThresholdPolicy       `json:"policy" cbor:"policy"`
	Fingerprint authority.Fingerprint `json:"fingerprint" cbor:"fingerprint"`
	Digest      Digest                `json:"digest" cbor:"digest"`
	Approvals   []Approval            `json:"approvals" cbor:"approvals"`
	Status      Status                `json:"status" cbor:"status"`
	Proposer    string                `json:"proposer" cbor:"proposer"`
	CreatedAt   time.Time             `json:"created_at" cbor:"created_at"`
	ExpiresAt   time.Time             `json:"expires_at" cbor:"expires_at"`
	Reason      string                `json:"reason,omitempty" cbor:"reason,omitempty"`
	Receipt     *Receipt              `json:"receipt,omitempty" cbor:"receipt,omitempty"`
	Revision    uint64                `json:"revision" cbor:"revision"`

	// Graph is the open-time snapshot and Result the post-batch graph
	// of an executed proposal. Neither appears in CLI output.
	Graph  *authority.Document `json:"-" cbor:"graph,omitempty"`
	Result *authority.Document `json:"-" cbor:"result,omitempty"`
}

// Record returns the persisted form of p.
func (p Proposal) Record() Record {
	clone := p.clone()
	return Record{
		ProposalID:  clone.ID,
		Batch:       clone.Batch,
		Policy:      clone.Policy,
		Fingerprint: clone.Fingerprint,
		Digest:      clone.Digest,
		Approvals:   clone.Approvals,
		Status:      clone.Status,
		Proposer:    clone.Proposer,
		CreatedAt:   clone.CreatedAt,
		ExpiresAt:   clone.ExpiresAt,
		Reason:      clone.Reason,
		Receipt:     clone.Receipt,
		Revision:    clone.Revision,
		Graph:       documentOf(clone.base),
		Result:      documentOf(clone.result),
	}
}

func documentOf(graph *authority.Graph) *authority.Document {
	if graph == nil {
		return nil
	}
	document := graph.Document()
	return &document
}

// Proposal rebuilds a proposal from its record. The aggregate weight
// is recomputed from the approvals; signatures are not re-verified.
// The open-time graph must match the recorded fingerprint.
func (r Record) Proposal() (Proposal, error) {
	if r.ProposalID == "" {
		return Proposal{}, fmt.Errorf("proposal: record has no id")
	}
	if !r.Status.IsKnown() {
		return Proposal{}, fmt.Errorf("proposal: record %s has unknown status %q", r.ProposalID, r.Status)
	}
	p := Proposal{
		ID:          r.ProposalID,
		Batch:       r.Batch,
		Policy:      r.Policy,
		Proposer:    r.Proposer,
		Fingerprint: r.Fingerprint,
		Digest:      r.Digest,
		Approvals:   r.Approvals,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		Reason:      r.Reason,
		Receipt:     r.Receipt,
		Revision:    r.Revision,
	}
	if r.Graph != nil {
		base, err := authority.FromDocument(*r.Graph)
		if err != nil {
			return Proposal{}, fmt.Errorf("proposal: record %s graph: %w", r.ProposalID, err)
		}
		if base.Fingerprint() != r.Fingerprint {
			return Proposal{}, fmt.Errorf("proposal: record %s graph has fingerprint %s, want %s",
				r.ProposalID, base.Fingerprint().Short(), r.Fingerprint.Short())
		}
		p.base = base
	}
	if r.Result != nil {
		result, err := authority.FromDocument(*r.Result)
		if err != nil {
			return Proposal{}, fmt.Errorf("proposal: record %s result: %w", r.ProposalID, err)
		}
		p.result = result
	}
	p = p.clone()
	p.Weight = p.Policy.weightOf(p.Approvals)
	return p, nil
}

// EncodeRecord returns the deterministic CBOR encoding of record.
func EncodeRecord(record Record) ([]byte, error) {
	data, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("proposal: encoding record %s: %w", record.ProposalID, err)
	}
	return data, nil
}

// DecodeRecord decodes a record produced by EncodeRecord.
func DecodeRecord(data []byte) (Record, error) {
	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("proposal: decoding record: %w", err)
	}
	return record, nil
}

// Store persists proposal records. Save is a compare-and-swap on
// Revision: it stores record only if the stored record's revision is
// record.Revision-1, where a missing record counts as revision 0.
// Otherwise it returns an error wrapping ErrRevisionConflict and
// changes nothing. List returns every record, in no particular order.
type Store interface {
	Save(ctx context.Context, record Record) error
	Load(ctx context.Context, id string) (Record, error)
	List(ctx context.Context) ([]Record, error)
}

// MemoryStore is a Store that keeps encoded records in a map. It
// exercises the same encoding as the durable stores and is what the
// "memory" store backend uses.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string][]byte
	revisions map[string]uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte), revisions: make(map[string]uint64)}
}

func (s *MemoryStore) Save(ctx context.Context, record Record) error {
	data, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored := s.revisions[record.ProposalID]; stored+1 != record.Revision {
		return fmt.Errorf("%w: %s is at revision %d, save is revision %d",
			ErrRevisionConflict, record.ProposalID, stored, record.Revision)
	}
	s.records[record.ProposalID] = data
	s.revisions[record.ProposalID] = record.Revision
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	data, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return DecodeRecord(data)
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		record, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
