// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/clock"
	"github.com/bureau-foundation/quorum/lib/mutation"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	grantsActive = authority.PermissionLevel{Actor: "eosio.grants", Permission: authority.Active}
	prodsActive  = authority.PermissionLevel{Actor: "eosio.prods", Permission: authority.Active}
)

// testVerifier accepts a signature that is the identity, a colon, and
// the payload.
type testVerifier struct{}

func testSignature(identity string, payload []byte) []byte {
	return append([]byte(identity+":"), payload...)
}

func (testVerifier) Verify(identity string, payload, signature []byte) error {
	if !bytes.Equal(signature, testSignature(identity, payload)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// leaf returns a correctly signed leaf approval of p.
func leaf(p Proposal, identity string, level authority.PermissionLevel) Approval {
	return Approval{
		Approver:  identity,
		Level:     level,
		Signature: testSignature(identity, p.Digest[:]),
		SignedAt:  epoch,
	}
}

// grantsGraph builds eosio, eosio.prods (active is 2-of-3 keys), and
// eosio.grants with a claim permission under active linked to
// eosio.saving::claim.
func grantsGraph(t *testing.T) *authority.Graph {
	t.Helper()
	graph, err := authority.New().AddAccount("eosio", authority.KeyAuthority("k:eosio-owner"), authority.KeyAuthority("k:eosio-active"))
	if err != nil {
		t.Fatalf("AddAccount(eosio): %v", err)
	}
	graph, err = graph.AddAccount("eosio.prods", authority.KeyAuthority("k:prods-owner"), authority.Authority{
		Threshold: 2,
		Keys: []authority.KeyWeight{
			{Key: "k:prod1", Weight: 1},
			{Key: "k:prod2", Weight: 1},
			{Key: "k:prod3", Weight: 1},
		},
	})
	if err != nil {
		t.Fatalf("AddAccount(eosio.prods): %v", err)
	}
	graph, err = graph.AddAccount("eosio.grants", authority.KeyAuthority("k:grants-owner"), authority.KeyAuthority("k:grants-active"))
	if err != nil {
		t.Fatalf("AddAccount(eosio.grants): %v", err)
	}
	graph, err = mutation.Validate(graph, mutation.Batch{
		authority.GrantPermission("eosio.grants", "claim", authority.Active, authority.KeyAuthority("k:claim")),
		authority.LinkAction("eosio.grants", "eosio.saving", "claim", "claim"),
	})
	if err != nil {
		t.Fatalf("building fixture: %v", err)
	}
	return graph
}

// retireClaim unlinks and revokes the claim permission.
func retireClaim() mutation.Batch {
	return mutation.Batch{
		authority.UnlinkAction("eosio.grants", "eosio.saving", "claim"),
		authority.RevokePermission("eosio.grants", "claim"),
	}
}

// weightedPolicy is alice (2) and bob (1), threshold 3.
func weightedPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		Threshold: 3,
		Entries: []PolicyEntry{
			{Identity: "alice", Weight: 2},
			{Identity: "bob", Weight: 1},
		},
	}
}

type testEngine struct {
	*Engine
	clock       *clock.FakeClock
	store       *MemoryStore
	broadcaster *recordingBroadcaster
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	fake := clock.Fake(epoch)
	store := NewMemoryStore()
	broadcaster := &recordingBroadcaster{}
	counter := 0
	engine, err := NewEngine(Config{
		Clock:       fake,
		Verifier:    testVerifier{},
		Store:       store,
		Broadcaster: broadcaster,
		DefaultTTL:  24 * time.Hour,
		NewID: func() string {
			counter++
			return fmt.Sprintf("proposal-%d", counter)
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &testEngine{Engine: engine, clock: fake, store: store, broadcaster: broadcaster}
}

func (e *testEngine) open(t *testing.T, graph *authority.Graph, policy ThresholdPolicy) Proposal {
	t.Helper()
	proposal, err := e.Open(context.Background(), OpenRequest{
		Batch:    retireClaim(),
		Policy:   policy,
		Graph:    graph,
		Proposer: "carol",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return proposal
}

func (e *testEngine) approve(t *testing.T, proposal Proposal, approval Approval) Proposal {
	t.Helper()
	updated, err := e.Approve(context.Background(), proposal.ID, approval)
	if err != nil {
		t.Fatalf("Approve(%s): %v", approval.Approver, err)
	}
	return updated
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	batches []SignedBatch
	fail    atomic.Bool

	// onBroadcast, if set, runs before each batch is recorded.
	onBroadcast func()
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, batch SignedBatch) (string, error) {
	if b.fail.Load() {
		return "", errors.New("endpoint unreachable")
	}
	if b.onBroadcast != nil {
		b.onBroadcast()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, batch)
	return fmt.Sprintf("tx-%d", len(b.batches)), nil
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}
