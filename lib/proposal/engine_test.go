// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/mutation"
	"github.com/bureau-foundation/quorum/lib/testutil"
)

func TestOpen(t *testing.T) {
	engine := newTestEngine(t)
	graph := grantsGraph(t)

	proposal := engine.open(t, graph, weightedPolicy())
	if proposal.Status != StatusProposed {
		t.Errorf("Status = %s, want %s", proposal.Status, StatusProposed)
	}
	if proposal.Fingerprint != graph.Fingerprint() {
		t.Errorf("Fingerprint = %s, want %s", proposal.Fingerprint.Short(), graph.Fingerprint().Short())
	}
	if !proposal.ExpiresAt.Equal(epoch.Add(24 * time.Hour)) {
		t.Errorf("ExpiresAt = %s, want %s", proposal.ExpiresAt, epoch.Add(24*time.Hour))
	}
	if proposal.Digest == (Digest{}) {
		t.Error("Digest is zero")
	}
	if len(proposal.Approvals) != 0 {
		t.Errorf("proposer was counted as an approval: %v", proposal.Approvals)
	}

	second := engine.open(t, graph, weightedPolicy())
	if second.Digest == proposal.Digest {
		t.Error("two proposals of the same batch share a digest")
	}

	if _, err := engine.store.Load(context.Background(), proposal.ID); err != nil {
		t.Errorf("opened proposal was not persisted: %v", err)
	}
}

func TestOpenRejections(t *testing.T) {
	graph := grantsGraph(t)

	reordered := retireClaim()
	reordered[0], reordered[1] = reordered[1], reordered[0]

	tests := []struct {
		name    string
		request OpenRequest
		code    Code
	}{
		{
			name:    "empty batch",
			request: OpenRequest{Policy: weightedPolicy(), Graph: graph},
			code:    CodeInvalidBatch,
		},
		{
			name:    "batch out of order",
			request: OpenRequest{Batch: reordered, Policy: weightedPolicy(), Graph: graph},
			code:    CodeInvalidBatch,
		},
		{
			name:    "unsatisfiable policy",
			request: OpenRequest{Batch: retireClaim(), Policy: NewMofN(3, "alice", "bob"), Graph: graph},
			code:    CodeInvalidPolicy,
		},
		{
			name:    "zero threshold",
			request: OpenRequest{Batch: retireClaim(), Policy: NewMofN(0, "alice"), Graph: graph},
			code:    CodeInvalidPolicy,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			engine := newTestEngine(t)
			_, err := engine.Open(context.Background(), test.request)
			if !IsCode(err, test.code) {
				t.Fatalf("Open error = %v, want code %s", err, test.code)
			}
			if len(engine.List()) != 0 {
				t.Error("rejected proposal is tracked")
			}
		})
	}

	t.Run("proposer is required", func(t *testing.T) {
		engine := newTestEngine(t)
		_, err := engine.Open(context.Background(), OpenRequest{Batch: retireClaim(), Policy: weightedPolicy(), Graph: graph})
		if err == nil {
			t.Fatal("Open without a proposer succeeded")
		}
		if len(engine.List()) != 0 {
			t.Error("rejected proposal is tracked")
		}
	})

	t.Run("invalid batch carries the failing index", func(t *testing.T) {
		engine := newTestEngine(t)
		_, err := engine.Open(context.Background(), OpenRequest{Batch: reordered, Policy: weightedPolicy(), Graph: graph})
		if index := mutation.FailedIndex(err); index != 0 {
			t.Errorf("FailedIndex = %d, want 0", index)
		}
		if !authority.IsReason(err, authority.ReasonPermissionInUse) {
			t.Errorf("error %v does not carry reason %s", err, authority.ReasonPermissionInUse)
		}
	})
}

func TestWeightedApprovalsReachThreshold(t *testing.T) {
	engine := newTestEngine(t)
	graph := grantsGraph(t)
	proposal := engine.open(t, graph, weightedPolicy())

	proposal = engine.approve(t, proposal, leaf(proposal, "alice", authority.PermissionLevel{}))
	if proposal.Status != StatusApproving || proposal.Weight != 2 {
		t.Fatalf("after alice: status %s weight %d, want approving weight 2", proposal.Status, proposal.Weight)
	}

	_, _, err := engine.Execute(context.Background(), proposal.ID, graph, ExecuteOptions{Broadcast: true})
	if !IsCode(err, CodeNotExecutable) {
		t.Fatalf("Execute below threshold error = %v, want %s", err, CodeNotExecutable)
	}

	proposal = engine.approve(t, proposal, leaf(proposal, "bob", authority.PermissionLevel{}))
	if proposal.Status != StatusExecutable || proposal.Weight != 3 {
		t.Fatalf("after bob: status %s weight %d, want executable weight 3", proposal.Status, proposal.Weight)
	}
}

func TestUnilateralApprover(t *testing.T) {
	engine := newTestEngine(t)
	policy := ThresholdPolicy{
		Threshold: 2,
		Entries: []PolicyEntry{
			{Identity: "root", Weight: 2},
			{Identity: "alice", Weight: 1},
		},
	}
	proposal := engine.open(t, grantsGraph(t), policy)
	proposal = engine.approve(t, proposal, leaf(proposal, "root", authority.PermissionLevel{}))
	if proposal.Status != StatusExecutable {
		t.Errorf("Status = %s, want %s", proposal.Status, StatusExecutable)
	}
}

func TestDuplicateApprovalIsNoOp(t *testing.T) {
	engine := newTestEngine(t)
	proposal := engine.open(t, grantsGraph(t), weightedPolicy())
	proposal = engine.approve(t, proposal, leaf(proposal, "alice", authority.PermissionLevel{}))

	again, err := engine.Approve(context.Background(), proposal.ID, leaf(proposal, "alice", authority.PermissionLevel{}))
	if !IsCode(err, CodeDuplicateApproval) {
		t.Fatalf("second approval error = %v, want %s", err, CodeDuplicateApproval)
	}
	if again.Weight != 2 || len(again.Approvals) != 1 || again.Status != StatusApproving {
		t.Errorf("duplicate changed state: weight %d, approvals %d, status %s", again.Weight, len(again.Approvals), again.Status)
	}
}

func TestApproveRejections(t *testing.T) {
	graph := grantsGraph(t)
	levelPolicy := ThresholdPolicy{
		Level:     grantsActive,
		Threshold: 1,
		Entries:   []PolicyEntry{{Identity: "k:grants-active", Level: grantsActive, Weight: 1}},
	}
	missingLevel := authority.PermissionLevel{Actor: "eosio.grants", Permission: "ghost"}
	ghostPolicy := ThresholdPolicy{
		Level:     missingLevel,
		Threshold: 1,
		Entries:   []PolicyEntry{{Identity: "k:ghost", Level: missingLevel, Weight: 1}},
	}

	tests := []struct {
		name     string
		policy   ThresholdPolicy
		approval func(Proposal) Approval
		code     Code
	}{
		{
			name:   "unknown approver",
			policy: weightedPolicy(),
			approval: func(p Proposal) Approval {
				return leaf(p, "mallory", authority.PermissionLevel{})
			},
			code: CodeNotAuthorized,
		},
		{
			name:   "wrong claimed level",
			policy: levelPolicy,
			approval: func(p Proposal) Approval {
				return leaf(p, "k:grants-active", authority.PermissionLevel{Actor: "eosio.grants", Permission: authority.Owner})
			},
			code: CodeNotAuthorized,
		},
		{
			name:   "claimed level missing from graph",
			policy: ghostPolicy,
			approval: func(p Proposal) Approval {
				return leaf(p, "k:ghost", missingLevel)
			},
			code: CodeNotAuthorized,
		},
		{
			name:   "bad signature",
			policy: weightedPolicy(),
			approval: func(p Proposal) Approval {
				approval := leaf(p, "alice", authority.PermissionLevel{})
				approval.Signature = []byte("forged")
				return approval
			},
			code: CodeInvalidApproval,
		},
		{
			name:   "missing signature",
			policy: weightedPolicy(),
			approval: func(p Proposal) Approval {
				return Approval{Approver: "alice"}
			},
			code: CodeInvalidApproval,
		},
		{
			name:   "signature over another proposal",
			policy: weightedPolicy(),
			approval: func(p Proposal) Approval {
				other := p
				other.Digest[0] ^= 0xff
				return leaf(other, "alice", authority.PermissionLevel{})
			},
			code: CodeInvalidApproval,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			engine := newTestEngine(t)
			proposal := engine.open(t, graph, test.policy)
			after, err := engine.Approve(context.Background(), proposal.ID, test.approval(proposal))
			if !IsCode(err, test.code) {
				t.Fatalf("Approve error = %v, want code %s", err, test.code)
			}
			var stateErr *StateError
			if errors.As(err, &stateErr) && stateErr.ProposalID != proposal.ID {
				t.Errorf("StateError.ProposalID = %q, want %q", stateErr.ProposalID, proposal.ID)
			}
			if after.Status != StatusProposed || len(after.Approvals) != 0 {
				t.Errorf("rejected approval changed state: status %s, approvals %d", after.Status, len(after.Approvals))
			}
		})
	}
}

func TestNestedCompositeApproval(t *testing.T) {
	// eosio.grants@active delegates weight 5 of threshold 5 to
	// eosio.prods@active, which is 2-of-3 keys.
	graph := grantsGraph(t)
	graph, err := graph.Apply(authority.GrantPermission("eosio.grants", authority.Active, authority.Owner, authority.Authority{
		Threshold: 5,
		Accounts:  []authority.LevelWeight{{Level: prodsActive, Weight: 5}},
	}))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	policy, err := PolicyForPermission(graph, grantsActive, 4)
	if err != nil {
		t.Fatalf("PolicyForPermission: %v", err)
	}

	composite := func(p Proposal, members ...string) Approval {
		approval := Approval{Approver: prodsActive.String(), Level: prodsActive, SignedAt: epoch}
		for _, member := range members {
			approval.Nested = append(approval.Nested, leaf(p, member, prodsActive))
		}
		return approval
	}

	t.Run("one of three is not enough", func(t *testing.T) {
		engine := newTestEngine(t)
		proposal := engine.open(t, graph, policy)
		_, err := engine.Approve(context.Background(), proposal.ID, composite(proposal, "k:prod1"))
		if !IsCode(err, CodeInvalidApproval) {
			t.Fatalf("Approve error = %v, want %s", err, CodeInvalidApproval)
		}
	})

	t.Run("repeated member counts once", func(t *testing.T) {
		engine := newTestEngine(t)
		proposal := engine.open(t, graph, policy)
		_, err := engine.Approve(context.Background(), proposal.ID, composite(proposal, "k:prod1", "k:prod1"))
		if !IsCode(err, CodeInvalidApproval) {
			t.Fatalf("Approve error = %v, want %s", err, CodeInvalidApproval)
		}
	})

	t.Run("signature instead of members", func(t *testing.T) {
		engine := newTestEngine(t)
		proposal := engine.open(t, graph, policy)
		_, err := engine.Approve(context.Background(), proposal.ID, leaf(proposal, prodsActive.String(), prodsActive))
		if !IsCode(err, CodeInvalidApproval) {
			t.Fatalf("Approve error = %v, want %s", err, CodeInvalidApproval)
		}
	})

	t.Run("two of three carries weight five", func(t *testing.T) {
		engine := newTestEngine(t)
		proposal := engine.open(t, graph, policy)
		proposal = engine.approve(t, proposal, composite(proposal, "k:prod1", "k:prod3"))
		if proposal.Weight != 5 || proposal.Status != StatusExecutable {
			t.Errorf("weight %d status %s, want 5 executable", proposal.Weight, proposal.Status)
		}
	})
}

func TestConcurrentApprovalsTransitionOnce(t *testing.T) {
	engine := newTestEngine(t)
	var identities []string
	for i := range 10 {
		identities = append(identities, fmt.Sprintf("approver-%d", i))
	}
	proposal := engine.open(t, grantsGraph(t), NewMofN(3, identities...))

	type result struct {
		proposal Proposal
		err      error
	}
	results := make(chan result, len(identities))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, identity := range identities {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			updated, err := engine.Approve(context.Background(), proposal.ID, leaf(proposal, identity, authority.PermissionLevel{}))
			results <- result{updated, err}
		}()
	}
	close(start)

	var accepted, transitions, refused int
	for range identities {
		got := testutil.RequireReceive(t, results, 5*time.Second, "waiting for approval result")
		switch {
		case got.err == nil:
			accepted++
			if got.proposal.Status == StatusExecutable {
				transitions++
			}
		case IsCode(got.err, CodeNotApprovable):
			refused++
		default:
			t.Errorf("unexpected error: %v", got.err)
		}
	}
	wg.Wait()

	if accepted != 3 {
		t.Errorf("accepted %d approvals, want 3", accepted)
	}
	if transitions != 1 {
		t.Errorf("%d approvals reported the executable transition, want 1", transitions)
	}
	if refused != 7 {
		t.Errorf("refused %d approvals, want 7", refused)
	}
	final, err := engine.Get(proposal.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Weight != 3 || final.Status != StatusExecutable {
		t.Errorf("final weight %d status %s, want 3 executable", final.Weight, final.Status)
	}
}

func executableProposal(t *testing.T, engine *testEngine, graph *authority.Graph) Proposal {
	t.Helper()
	proposal := engine.open(t, graph, weightedPolicy())
	proposal = engine.approve(t, proposal, leaf(proposal, "alice", authority.PermissionLevel{}))
	return engine.approve(t, proposal, leaf(proposal, "bob", authority.PermissionLevel{}))
}

func TestExecuteDryRunThenBroadcast(t *testing.T) {
	engine := newTestEngine(t)
	graph := grantsGraph(t)
	proposal := executableProposal(t, engine, graph)
	ctx := context.Background()

	preview, dryRun, err := engine.Execute(ctx, proposal.ID, graph, ExecuteOptions{})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if dryRun.Broadcast || engine.broadcaster.count() != 0 {
		t.Error("dry run broadcast the batch")
	}
	if preview.HasPermission(authority.PermissionLevel{Actor: "eosio.grants", Permission: "claim"}) {
		t.Error("dry run graph still has the revoked permission")
	}
	if len(dryRun.SignedBatch.Approvals) != 2 || len(dryRun.SignedBatch.Batch) != 2 {
		t.Errorf("signed batch has %d approvals and %d operations, want 2 and 2",
			len(dryRun.SignedBatch.Approvals), len(dryRun.SignedBatch.Batch))
	}
	if current, _ := engine.Get(proposal.ID); current.Status != StatusExecutable {
		t.Errorf("dry run changed status to %s", current.Status)
	}

	final, receipt, err := engine.Execute(ctx, proposal.ID, graph, ExecuteOptions{Broadcast: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if receipt.Submission != "tx-1" {
		t.Errorf("Submission = %q, want tx-1", receipt.Submission)
	}
	if receipt.Before != graph.Fingerprint() || receipt.After != final.Fingerprint() {
		t.Error("receipt fingerprints do not match the graphs")
	}
	if final.Fingerprint() != preview.Fingerprint() {
		t.Error("executed graph differs from the dry run")
	}
	if current, _ := engine.Get(proposal.ID); current.Status != StatusExecuted {
		t.Errorf("Status = %s, want %s", current.Status, StatusExecuted)
	}

	// Idempotent: the same receipt, no second broadcast, even against
	// a graph the batch no longer applies to.
	again, repeat, err := engine.Execute(ctx, proposal.ID, final, ExecuteOptions{Broadcast: true})
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if repeat.Submission != receipt.Submission || !repeat.ExecutedAt.Equal(receipt.ExecutedAt) {
		t.Errorf("second receipt = %+v, want %+v", repeat, receipt)
	}
	if again != final {
		t.Error("second Execute returned a different graph")
	}
	if engine.broadcaster.count() != 1 {
		t.Errorf("broadcast %d times, want 1", engine.broadcaster.count())
	}
}

func TestExecuteBroadcastFailureLeavesExecutable(t *testing.T) {
	engine := newTestEngine(t)
	graph := grantsGraph(t)
	proposal := executableProposal(t, engine, graph)
	engine.broadcaster.fail.Store(true)

	if _, _, err := engine.Execute(context.Background(), proposal.ID, graph, ExecuteOptions{Broadcast: true}); err == nil {
		t.Fatal("Execute succeeded with a failing broadcaster")
	}
	current, _ := engine.Get(proposal.ID)
	if current.Status != StatusExecutable {
		t.Errorf("Status = %s, want %s", current.Status, StatusExecutable)
	}

	engine.broadcaster.fail.Store(false)
	if _, _, err := engine.Execute(context.Background(), proposal.ID, graph, ExecuteOptions{Broadcast: true}); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestExecuteStaleProposal(t *testing.T) {
	tests := []struct {
		name string
		// drift is applied to the graph the proposal was opened on.
		drift mutation.Batch
		index int
	}{
		{
			// A second action is linked to claim, so revoking it is
			// no longer valid.
			name:  "permission gained a link",
			drift: mutation.Batch{authority.LinkAction("eosio.grants", "eosio.saving", "withdraw", "claim")},
			index: 1,
		},
		{
			// Someone else already retired claim, so the unlink the
			// batch starts with has nothing to remove.
			name:  "permission deleted",
			drift: retireClaim(),
			index: 0,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			engine := newTestEngine(t)
			graph := grantsGraph(t)
			proposal := executableProposal(t, engine, graph)

			drifted, err := mutation.Validate(graph, test.drift)
			if err != nil {
				t.Fatalf("applying drift: %v", err)
			}

			_, _, err = engine.Execute(context.Background(), proposal.ID, drifted, ExecuteOptions{Broadcast: true})
			if !IsCode(err, CodeStaleProposal) {
				t.Fatalf("Execute error = %v, want %s", err, CodeStaleProposal)
			}
			if index := mutation.FailedIndex(err); index != test.index {
				t.Errorf("FailedIndex = %d, want %d", index, test.index)
			}
			current, _ := engine.Get(proposal.ID)
			if current.Status != StatusInvalidated {
				t.Errorf("Status = %s, want %s", current.Status, StatusInvalidated)
			}

			// Invalidated is terminal, even against the original graph.
			_, _, err = engine.Execute(context.Background(), proposal.ID, graph, ExecuteOptions{Broadcast: true})
			if !IsCode(err, CodeStaleProposal) {
				t.Errorf("second Execute error = %v, want %s", err, CodeStaleProposal)
			}
			if engine.broadcaster.count() != 0 {
				t.Error("stale proposal was broadcast")
			}
		})
	}
}

func TestExecuteAfterUnrelatedDrift(t *testing.T) {
	engine := newTestEngine(t)
	graph := grantsGraph(t)
	proposal := executableProposal(t, engine, graph)

	drifted, err := graph.Apply(authority.GrantPermission("eosio", "ops", authority.Active, authority.KeyAuthority("k:ops")))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, _, err := engine.Execute(context.Background(), proposal.ID, drifted, ExecuteOptions{Broadcast: true}); err != nil {
		t.Fatalf("Execute against a drifted but compatible graph: %v", err)
	}
}

func TestCancel(t *testing.T) {
	policy := ThresholdPolicy{
		Threshold: 2,
		Entries: []PolicyEntry{
			{Identity: "root", Weight: 2},
			{Identity: "alice", Weight: 1},
			{Identity: "bob", Weight: 1},
		},
	}

	tests := []struct {
		name string
		by   string
		code Code
	}{
		{name: "proposer", by: "carol"},
		{name: "unilateral approver", by: "root"},
		{name: "partial approver", by: "alice", code: CodeNotAuthorized},
		{name: "stranger", by: "mallory", code: CodeNotAuthorized},
		{name: "anonymous", by: "", code: CodeNotAuthorized},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			engine := newTestEngine(t)
			proposal := engine.open(t, grantsGraph(t), policy)
			cancelled, err := engine.Cancel(context.Background(), proposal.ID, test.by)
			if test.code == "" {
				if err != nil {
					t.Fatalf("Cancel: %v", err)
				}
				if cancelled.Status != StatusCancelled {
					t.Errorf("Status = %s, want %s", cancelled.Status, StatusCancelled)
				}
				return
			}
			if !IsCode(err, test.code) {
				t.Fatalf("Cancel error = %v, want %s", err, test.code)
			}
			if cancelled.Status != StatusProposed {
				t.Errorf("refused cancel changed status to %s", cancelled.Status)
			}
		})
	}

	t.Run("stored record without a proposer", func(t *testing.T) {
		engine := newTestEngine(t)
		proposal := engine.open(t, grantsGraph(t), policy)
		record, err := engine.store.Load(context.Background(), proposal.ID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		record.Proposer = ""
		record.Revision++
		if err := engine.store.Save(context.Background(), record); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if _, err := engine.Cancel(context.Background(), proposal.ID, ""); !IsCode(err, CodeNotAuthorized) {
			t.Errorf("Cancel error = %v, want %s", err, CodeNotAuthorized)
		}
	})

	t.Run("after execution", func(t *testing.T) {
		engine := newTestEngine(t)
		graph := grantsGraph(t)
		proposal := executableProposal(t, engine, graph)
		if _, _, err := engine.Execute(context.Background(), proposal.ID, graph, ExecuteOptions{Broadcast: true}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if _, err := engine.Cancel(context.Background(), proposal.ID, "carol"); !IsCode(err, CodeNotCancellable) {
			t.Errorf("Cancel error = %v, want %s", err, CodeNotCancellable)
		}
	})

	t.Run("executable proposal", func(t *testing.T) {
		engine := newTestEngine(t)
		proposal := executableProposal(t, engine, grantsGraph(t))
		if _, err := engine.Cancel(context.Background(), proposal.ID, "carol"); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if _, _, err := engine.Execute(context.Background(), proposal.ID, grantsGraph(t), ExecuteOptions{Broadcast: true}); !IsCode(err, CodeNotExecutable) {
			t.Errorf("Execute after cancel error = %v, want %s", err, CodeNotExecutable)
		}
	})
}

func TestExpiry(t *testing.T) {
	engine := newTestEngine(t)
	graph := grantsGraph(t)
	first := engine.open(t, graph, weightedPolicy())
	engine.clock.Advance(time.Hour)
	second := engine.open(t, graph, weightedPolicy())

	engine.clock.Advance(23 * time.Hour)
	_, err := engine.Approve(context.Background(), first.ID, leaf(first, "alice", authority.PermissionLevel{}))
	if !IsCode(err, CodeExpired) {
		t.Fatalf("Approve after expiry error = %v, want %s", err, CodeExpired)
	}
	if current, _ := engine.Get(first.ID); current.Status != StatusExpired {
		t.Errorf("Status = %s, want %s", current.Status, StatusExpired)
	}

	if expired := engine.ExpireDue(context.Background()); len(expired) != 0 {
		t.Errorf("ExpireDue = %v before the second proposal's deadline", expired)
	}
	engine.clock.Advance(time.Hour)
	expired := engine.ExpireDue(context.Background())
	if len(expired) != 1 || expired[0] != second.ID {
		t.Errorf("ExpireDue = %v, want [%s]", expired, second.ID)
	}
	if expired := engine.ExpireDue(context.Background()); len(expired) != 0 {
		t.Errorf("second ExpireDue = %v, want none", expired)
	}

	record, err := engine.store.Load(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if record.Status != StatusExpired {
		t.Errorf("stored status = %s, want %s", record.Status, StatusExpired)
	}
}

func TestExpiredExecutableCannotExecute(t *testing.T) {
	engine := newTestEngine(t)
	graph := grantsGraph(t)
	proposal := executableProposal(t, engine, graph)
	engine.clock.Advance(48 * time.Hour)

	_, _, err := engine.Execute(context.Background(), proposal.ID, graph, ExecuteOptions{Broadcast: true})
	if !IsCode(err, CodeExpired) {
		t.Fatalf("Execute error = %v, want %s", err, CodeExpired)
	}
}

func TestUnknownProposal(t *testing.T) {
	engine := newTestEngine(t)
	if _, err := engine.Get("missing"); !IsCode(err, CodeNotFound) {
		t.Errorf("Get error = %v, want %s", err, CodeNotFound)
	}
	if _, err := engine.Approve(context.Background(), "missing", Approval{Approver: "alice"}); !IsCode(err, CodeNotFound) {
		t.Errorf("Approve error = %v, want %s", err, CodeNotFound)
	}
}

type failingApprover struct {
	identity string
	err      error
}

func (a failingApprover) Identity() string { return a.identity }

func (a failingApprover) ProduceApproval(ctx context.Context, request SigningRequest) (Approval, error) {
	return Approval{}, a.err
}

type signingApprover struct{ identity string }

func (a signingApprover) Identity() string { return a.identity }

func (a signingApprover) ProduceApproval(ctx context.Context, request SigningRequest) (Approval, error) {
	return Approval{
		Approver:  a.identity,
		Signature: testSignature(a.identity, request.Payload()),
		SignedAt:  epoch,
	}, nil
}

func TestCollect(t *testing.T) {
	engine := newTestEngine(t)
	proposal := engine.open(t, grantsGraph(t), weightedPolicy())

	timeout := context.DeadlineExceeded
	current, err := engine.Collect(context.Background(), proposal.ID, failingApprover{identity: "alice", err: timeout})
	if !errors.Is(err, timeout) {
		t.Fatalf("Collect error = %v, want %v", err, timeout)
	}
	if current.Status != StatusProposed || len(current.Approvals) != 0 {
		t.Errorf("failed approver changed state: status %s approvals %d", current.Status, len(current.Approvals))
	}

	current, err = engine.Collect(context.Background(), proposal.ID, signingApprover{identity: "alice"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if current.Weight != 2 {
		t.Errorf("Weight = %d, want 2", current.Weight)
	}
}

func TestResume(t *testing.T) {
	first := newTestEngine(t)
	graph := grantsGraph(t)
	proposal := first.open(t, graph, weightedPolicy())
	proposal = first.approve(t, proposal, leaf(proposal, "alice", authority.PermissionLevel{}))

	second, err := NewEngine(Config{
		Clock:    first.clock,
		Verifier: testVerifier{},
		Store:    first.store,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	loaded, err := second.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if loaded != 1 {
		t.Fatalf("Resume loaded %d, want 1", loaded)
	}

	resumed, err := second.Get(proposal.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resumed.Weight != 2 || resumed.Status != StatusApproving || resumed.Digest != proposal.Digest {
		t.Errorf("resumed weight %d status %s, want 2 approving with the same digest", resumed.Weight, resumed.Status)
	}
	if len(resumed.Approvals) != 1 || string(resumed.Approvals[0].Signature) != string(proposal.Approvals[0].Signature) {
		t.Errorf("resumed approvals = %+v", resumed.Approvals)
	}

	if _, err := second.Approve(context.Background(), proposal.ID, leaf(proposal, "alice", authority.PermissionLevel{})); !IsCode(err, CodeDuplicateApproval) {
		t.Errorf("re-approval after resume error = %v, want %s", err, CodeDuplicateApproval)
	}
	updated, err := second.Approve(context.Background(), proposal.ID, leaf(proposal, "bob", authority.PermissionLevel{}))
	if err != nil {
		t.Fatalf("Approve after resume: %v", err)
	}
	if updated.Status != StatusExecutable {
		t.Errorf("Status = %s, want %s", updated.Status, StatusExecutable)
	}

	if loaded, err := second.Resume(context.Background()); err != nil || loaded != 0 {
		t.Errorf("second Resume = %d, %v; want 0, nil", loaded, err)
	}

	final, receipt, err := second.Execute(context.Background(), proposal.ID, graph, ExecuteOptions{Broadcast: true})
	if err != nil {
		t.Fatalf("Execute after resume: %v", err)
	}

	// A process started after the execution returns the same result.
	third, err := NewEngine(Config{Clock: first.clock, Verifier: testVerifier{}, Store: first.store})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := third.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	again, repeat, err := third.Execute(context.Background(), proposal.ID, final, ExecuteOptions{Broadcast: true})
	if err != nil {
		t.Fatalf("Execute of a resumed executed proposal: %v", err)
	}
	if again == nil {
		t.Fatal("Execute of a resumed executed proposal returned no graph")
	}
	if again.Fingerprint() != final.Fingerprint() {
		t.Errorf("resumed graph %s, want %s", again.Fingerprint().Short(), final.Fingerprint().Short())
	}
	if repeat.After != receipt.After || !repeat.ExecutedAt.Equal(receipt.ExecutedAt) {
		t.Errorf("resumed receipt = %+v, want %+v", repeat, receipt)
	}
}

func TestResumedProposalChecksClaimedLevels(t *testing.T) {
	first := newTestEngine(t)
	missingLevel := authority.PermissionLevel{Actor: "eosio.grants", Permission: "ghost"}
	proposal := first.open(t, grantsGraph(t), ThresholdPolicy{
		Level:     missingLevel,
		Threshold: 1,
		Entries:   []PolicyEntry{{Identity: "k:ghost", Level: missingLevel, Weight: 1}},
	})

	second, err := NewEngine(Config{Clock: first.clock, Verifier: testVerifier{}, Store: first.store})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := second.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	current, err := second.Approve(context.Background(), proposal.ID, leaf(proposal, "k:ghost", missingLevel))
	if !IsCode(err, CodeNotAuthorized) {
		t.Fatalf("Approve error = %v, want %s", err, CodeNotAuthorized)
	}
	if current.Status != StatusProposed || len(current.Approvals) != 0 {
		t.Errorf("rejected approval left %s with %d approvals", current.Status, len(current.Approvals))
	}
}

// TestEnginesSharingStore runs two engines over one store, each
// holding a copy of the proposal from before the other's change.
func TestEnginesSharingStore(t *testing.T) {
	ctx := context.Background()
	first := newTestEngine(t)
	graph := grantsGraph(t)
	proposal := first.open(t, graph, weightedPolicy())

	second, err := NewEngine(Config{Clock: first.clock, Verifier: testVerifier{}, Store: first.store, Broadcaster: first.broadcaster})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := second.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	first.approve(t, proposal, leaf(proposal, "alice", authority.PermissionLevel{}))
	updated, err := second.Approve(ctx, proposal.ID, leaf(proposal, "bob", authority.PermissionLevel{}))
	if err != nil {
		t.Fatalf("Approve on second engine: %v", err)
	}
	if updated.Status != StatusExecutable || len(updated.Approvals) != 2 {
		t.Fatalf("second engine sees %s with %d approvals, want executable with 2", updated.Status, len(updated.Approvals))
	}

	// The first engine's copy is behind; cancelling acts on the stored
	// state and a later transition from either engine sees it.
	if _, err := first.Cancel(ctx, proposal.ID, "carol"); err != nil {
		t.Fatalf("Cancel on first engine: %v", err)
	}
	if _, _, err := second.Execute(ctx, proposal.ID, graph, ExecuteOptions{Broadcast: true}); !IsCode(err, CodeNotExecutable) {
		t.Errorf("Execute after cancel elsewhere: error = %v, want %s", err, CodeNotExecutable)
	}
	if first.broadcaster.count() != 0 {
		t.Error("cancelled proposal was broadcast")
	}

	record, err := first.store.Load(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if record.Status != StatusCancelled || len(record.Approvals) != 2 || record.Revision != 4 {
		t.Errorf("stored %s with %d approvals at revision %d, want cancelled with 2 at 4",
			record.Status, len(record.Approvals), record.Revision)
	}
}

// racingStore saves one competing revision ahead of the first save
// it is asked to make.
type racingStore struct {
	*MemoryStore
	race func(Record) Record
	once sync.Once
}

func (s *racingStore) Save(ctx context.Context, record Record) error {
	s.once.Do(func() {
		competing := s.race(record)
		if err := s.MemoryStore.Save(ctx, competing); err != nil {
			panic(err)
		}
	})
	return s.MemoryStore.Save(ctx, record)
}

func TestCancelConflict(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	proposal := engine.open(t, grantsGraph(t), weightedPolicy())

	// Rebuild the engine over a store that lets another writer in
	// just before the cancel is saved.
	store := &racingStore{
		MemoryStore: engine.store,
		race: func(record Record) Record {
			competing := record
			competing.Status = StatusExpired
			competing.Reason = ""
			return competing
		},
	}
	racing, err := NewEngine(Config{Clock: engine.clock, Verifier: testVerifier{}, Store: store})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := racing.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	current, err := racing.Cancel(ctx, proposal.ID, "carol")
	if !IsCode(err, CodeConflict) {
		t.Fatalf("Cancel error = %v, want %s", err, CodeConflict)
	}
	if current.Status != StatusExpired {
		t.Errorf("after conflict the engine holds %s, want the stored %s", current.Status, StatusExpired)
	}
}

func TestApproveRetriesAfterConflict(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	proposal := engine.open(t, grantsGraph(t), weightedPolicy())

	store := &racingStore{
		MemoryStore: engine.store,
		race: func(record Record) Record {
			// Another process records bob's approval first.
			competing, err := proposal.Record().Proposal()
			if err != nil {
				panic(err)
			}
			competing.Approvals = append(competing.Approvals, leaf(proposal, "bob", authority.PermissionLevel{}))
			competing.Weight = 1
			competing.Status = StatusApproving
			competing.Revision = record.Revision
			return competing.Record()
		},
	}
	racing, err := NewEngine(Config{Clock: engine.clock, Verifier: testVerifier{}, Store: store})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := racing.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	updated, err := racing.Approve(ctx, proposal.ID, leaf(proposal, "alice", authority.PermissionLevel{}))
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if updated.Status != StatusExecutable || updated.Weight != 3 || len(updated.Approvals) != 2 {
		t.Errorf("after retry: %s weight %d with %d approvals, want executable weight 3 with 2",
			updated.Status, updated.Weight, len(updated.Approvals))
	}
	stored, err := engine.store.Load(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(stored.Approvals) != 2 || stored.Revision != 3 {
		t.Errorf("stored %d approvals at revision %d, want 2 at 3", len(stored.Approvals), stored.Revision)
	}
}

func TestExecutePublishesToLedger(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	graph := grantsGraph(t)
	proposal := executableProposal(t, engine, graph)
	ledger := authority.NewLedger(graph, nil)

	if _, _, err := engine.Execute(ctx, proposal.ID, graph, ExecuteOptions{Ledger: ledger}); err == nil {
		t.Error("Execute with both a graph and a ledger succeeded")
	}

	final, receipt, err := engine.Execute(ctx, proposal.ID, nil, ExecuteOptions{Broadcast: true, Ledger: ledger})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	current := ledger.Current()
	if current.Version != 2 || current.Fingerprint != final.Fingerprint() || current.Fingerprint != receipt.After {
		t.Errorf("ledger at version %d %s, want version 2 %s", current.Version, current.Fingerprint.Short(), receipt.After.Short())
	}

	t.Run("ledger moved during execution", func(t *testing.T) {
		engine := newTestEngine(t)
		proposal := executableProposal(t, engine, graph)
		ledger := authority.NewLedger(graph, nil)
		engine.broadcaster.onBroadcast = func() {
			unrelated, err := graph.Apply(authority.GrantPermission("eosio", "ops", authority.Active, authority.KeyAuthority("k:ops")))
			if err != nil {
				panic(err)
			}
			if _, err := ledger.Publish(1, unrelated); err != nil {
				panic(err)
			}
		}

		final, receipt, err := engine.Execute(ctx, proposal.ID, nil, ExecuteOptions{Broadcast: true, Ledger: ledger})
		if !IsCode(err, CodeConflict) || !errors.Is(err, authority.ErrConcurrentUpdate) {
			t.Fatalf("Execute error = %v, want %s wrapping ErrConcurrentUpdate", err, CodeConflict)
		}
		if final == nil || receipt.Submission != "tx-1" {
			t.Errorf("broadcast results were not returned with the publish error")
		}
		if current, _ := engine.Get(proposal.ID); current.Status != StatusExecuted {
			t.Errorf("Status = %s, want %s", current.Status, StatusExecuted)
		}
	})
}

func TestReturnedProposalsAreCopies(t *testing.T) {
	engine := newTestEngine(t)
	proposal := engine.open(t, grantsGraph(t), weightedPolicy())
	proposal = engine.approve(t, proposal, leaf(proposal, "alice", authority.PermissionLevel{}))

	proposal.Approvals[0].Approver = "mallory"
	proposal.Policy.Entries[0].Weight = 100

	current, _ := engine.Get(proposal.ID)
	if current.Approvals[0].Approver != "alice" || current.Policy.Entries[0].Weight != 2 {
		t.Error("mutating a returned proposal changed engine state")
	}
}

func TestNewEngineRequiresVerifier(t *testing.T) {
	if _, err := NewEngine(Config{}); err == nil {
		t.Error("NewEngine without a verifier succeeded")
	}
}
