// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/clock"
	"github.com/bureau-foundation/quorum/lib/mutation"
)

// DefaultTTL is the proposal lifetime used when neither the request
// nor the engine config sets one.
const DefaultTTL = 72 * time.Hour

// Config configures an [Engine].
type Config struct {
	// Clock drives creation and expiry timestamps. Defaults to the
	// real clock.
	Clock clock.Clock

	// Logger receives lifecycle transitions. If nil, nothing is
	// logged.
	Logger *slog.Logger

	// Verifier checks leaf signatures. Required.
	Verifier Verifier

	// Store persists every transition. If nil, proposals live only in
	// memory.
	Store Store

	// Broadcaster submits signed batches when Execute is called with
	// Broadcast set. If nil, a broadcast execution only records the
	// transition.
	Broadcaster Broadcaster

	// DefaultTTL applies when OpenRequest.TTL is zero.
	DefaultTTL time.Duration

	// NewID generates proposal ids. Defaults to random UUIDs.
	NewID func() string
}

// saveAttempts bounds how often Approve rebuilds an approval on top of
// a record another process saved first.
const saveAttempts = 3

// OpenRequest describes a proposal to open.
type OpenRequest struct {
	Batch  mutation.Batch
	Policy ThresholdPolicy

	// Graph is the snapshot the batch is validated against. Its
	// fingerprint is bound into the proposal digest.
	Graph *authority.Graph

	// Proposer identifies who opened the proposal. It is recorded but
	// never counted as an approval.
	Proposer string

	TTL time.Duration
}

// Approver produces an approval for a signing request. The signer
// package provides leaf and composite implementations.
type Approver interface {
	Identity() string
	ProduceApproval(ctx context.Context, request SigningRequest) (Approval, error)
}

// Engine tracks proposals and enforces their lifecycle.
type Engine struct {
	clock       clock.Clock
	logger      *slog.Logger
	verifier    Verifier
	store       Store
	broadcaster Broadcaster
	defaultTTL  time.Duration
	newID       func() string

	mu        sync.RWMutex
	proposals map[string]*entry
}

// entry is one tracked proposal. mu serializes this engine's
// transitions; the store's revision check serializes them across
// engines sharing a store.
type entry struct {
	mu       sync.Mutex
	proposal Proposal
}

// NewEngine returns an engine with no proposals.
func NewEngine(config Config) (*Engine, error) {
	if config.Verifier == nil {
		return nil, fmt.Errorf("proposal: Config.Verifier is required")
	}
	if config.DefaultTTL < 0 {
		return nil, fmt.Errorf("proposal: Config.DefaultTTL must not be negative, got %s", config.DefaultTTL)
	}
	engine := &Engine{
		clock:       config.Clock,
		logger:      config.Logger,
		verifier:    config.Verifier,
		store:       config.Store,
		broadcaster: config.Broadcaster,
		defaultTTL:  config.DefaultTTL,
		newID:       config.NewID,
		proposals:   make(map[string]*entry),
	}
	if engine.clock == nil {
		engine.clock = clock.Real()
	}
	if engine.logger == nil {
		engine.logger = slog.New(slog.DiscardHandler)
	}
	if engine.defaultTTL == 0 {
		engine.defaultTTL = DefaultTTL
	}
	if engine.newID == nil {
		engine.newID = uuid.NewString
	}
	return engine, nil
}

// Open validates request.Batch against request.Graph and starts
// tracking a new proposal in the proposed state.
func (e *Engine) Open(ctx context.Context, request OpenRequest) (Proposal, error) {
	if request.Graph == nil {
		return Proposal{}, fmt.Errorf("proposal: OpenRequest.Graph is required")
	}
	if len(request.Batch) == 0 {
		return Proposal{}, &StateError{Code: CodeInvalidBatch, Detail: "batch is empty"}
	}
	if request.TTL < 0 {
		return Proposal{}, fmt.Errorf("proposal: OpenRequest.TTL must not be negative, got %s", request.TTL)
	}
	if err := request.Policy.Validate(); err != nil {
		return Proposal{}, &StateError{Code: CodeInvalidPolicy, Err: err}
	}
	if _, err := mutation.Validate(request.Graph, request.Batch); err != nil {
		return Proposal{}, &StateError{Code: CodeInvalidBatch, Err: err}
	}
	if request.Proposer == "" {
		return Proposal{}, fmt.Errorf("proposal: OpenRequest.Proposer is required")
	}

	ttl := request.TTL
	if ttl == 0 {
		ttl = e.defaultTTL
	}
	now := e.clock.Now()
	proposal := Proposal{
		ID:          e.newID(),
		Batch:       append(mutation.Batch(nil), request.Batch...),
		Policy:      request.Policy.Clone(),
		Proposer:    request.Proposer,
		Fingerprint: request.Graph.Fingerprint(),
		Status:      StatusDraft,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		base:        request.Graph,
	}
	digest, err := computeDigest(proposal.ID, proposal.Batch, proposal.Policy, proposal.Fingerprint, proposal.ExpiresAt)
	if err != nil {
		return Proposal{}, err
	}
	proposal.Digest = digest
	proposal.Status = StatusProposed

	if _, err := e.lookup(proposal.ID); err == nil {
		return Proposal{}, fmt.Errorf("proposal: id %s already in use", proposal.ID)
	}
	if err := e.persist(ctx, &proposal); err != nil {
		if IsCode(err, CodeConflict) {
			return Proposal{}, fmt.Errorf("proposal: id %s already in use: %w", proposal.ID, err)
		}
		return Proposal{}, err
	}
	e.mu.Lock()
	if _, exists := e.proposals[proposal.ID]; exists {
		e.mu.Unlock()
		return Proposal{}, fmt.Errorf("proposal: id %s already in use", proposal.ID)
	}
	e.proposals[proposal.ID] = &entry{proposal: proposal}
	e.mu.Unlock()

	e.logger.Info("proposal opened",
		"proposal_id", proposal.ID,
		"proposer", proposal.Proposer,
		"operations", len(proposal.Batch),
		"threshold", proposal.Policy.Threshold,
		"fingerprint", proposal.Fingerprint.Short(),
		"expires_at", proposal.ExpiresAt,
	)
	return proposal.clone(), nil
}

// Approve records approval. The proposal must be proposed or
// approving. A second approval from the same identity returns
// CodeDuplicateApproval and the unchanged proposal. The approval that
// brings the aggregate weight to the threshold moves the proposal to
// executable.
//
// Claimed permission levels must exist in the graph the proposal was
// opened against. If another process saves the proposal first, the
// approval is re-checked against the stored state and saved on top of
// it; CodeConflict is returned only if that keeps failing.
func (e *Engine) Approve(ctx context.Context, id string, approval Approval) (Proposal, error) {
	entry, err := e.lookup(id)
	if err != nil {
		return Proposal{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	for attempt := 1; ; attempt++ {
		next, err := e.approve(ctx, entry, approval)
		if IsCode(err, CodeConflict) && attempt < saveAttempts {
			e.logger.Debug("approval raced another writer; retrying",
				"proposal_id", id,
				"approver", approval.Approver,
				"attempt", attempt,
			)
			continue
		}
		return next, err
	}
}

// approve is one attempt of Approve. Caller holds entry.mu.
func (e *Engine) approve(ctx context.Context, entry *entry, approval Approval) (Proposal, error) {
	if err := e.refresh(ctx, entry); err != nil {
		return entry.proposal.clone(), err
	}
	if err := e.expireIfDue(ctx, entry); err != nil {
		return entry.proposal.clone(), err
	}
	current := entry.proposal
	if !current.Status.acceptsApprovals() {
		return current.clone(), stateError(current, CodeNotApprovable, "proposal is not collecting approvals", nil)
	}
	if current.HasApproved(approval.Approver) {
		return current.clone(), stateError(current, CodeDuplicateApproval,
			fmt.Sprintf("%q already approved", approval.Approver), nil)
	}

	check := approvalCheck{
		payload:  current.Digest[:],
		verifier: e.verifier,
		graph:    current.base,
	}
	weight, err := check.verifyApproval(current.Policy, approval)
	if err != nil {
		var stateErr *StateError
		if errors.As(err, &stateErr) {
			stateErr.ProposalID = current.ID
			stateErr.Status = current.Status
		}
		e.logger.Warn("approval rejected",
			"proposal_id", current.ID,
			"approver", approval.Approver,
			"error", err,
		)
		return current.clone(), err
	}

	next := current.clone()
	next.Approvals = append(next.Approvals, approval.Clone())
	next.Weight += uint64(weight)
	next.Status = StatusApproving
	if next.Weight >= next.Policy.Threshold {
		next.Status = StatusExecutable
	}
	if err := e.commit(ctx, entry, &next); err != nil {
		return entry.proposal.clone(), err
	}

	e.logger.Info("approval recorded",
		"proposal_id", next.ID,
		"approver", approval.Approver,
		"weight", next.Weight,
		"threshold", next.Policy.Threshold,
	)
	if next.Status == StatusExecutable {
		e.logger.Info("proposal executable", "proposal_id", next.ID, "approvals", len(next.Approvals))
	}
	return next.clone(), nil
}

// Collect asks approver for an approval of proposal id and submits it.
// The proposal lock is not held while the approver signs; a failed or
// timed-out approver leaves the proposal unchanged.
func (e *Engine) Collect(ctx context.Context, id string, approver Approver) (Proposal, error) {
	request, err := e.SigningRequest(id)
	if err != nil {
		return Proposal{}, err
	}
	approval, err := approver.ProduceApproval(ctx, request)
	if err != nil {
		e.logger.Warn("approver failed",
			"proposal_id", id,
			"approver", approver.Identity(),
			"error", err,
		)
		current, getErr := e.Get(id)
		if getErr != nil {
			return Proposal{}, errors.Join(err, getErr)
		}
		return current, fmt.Errorf("proposal %s: collecting approval from %s: %w", id, approver.Identity(), err)
	}
	return e.Approve(ctx, id, approval)
}

// Cancel moves the proposal to cancelled. Only the proposer or an
// approver whose weight alone meets the threshold may cancel, and only
// while the proposal is not terminal.
func (e *Engine) Cancel(ctx context.Context, id, by string) (Proposal, error) {
	entry, err := e.lookup(id)
	if err != nil {
		return Proposal{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := e.refresh(ctx, entry); err != nil {
		return entry.proposal.clone(), err
	}
	if err := e.expireIfDue(ctx, entry); err != nil {
		return entry.proposal.clone(), err
	}
	current := entry.proposal
	if current.Status.Terminal() {
		return current.clone(), stateError(current, CodeNotCancellable, "proposal is already finished", nil)
	}
	if by == "" {
		return current.clone(), stateError(current, CodeNotAuthorized, "cancelling requires an identity", nil)
	}
	if by != current.Proposer && !current.Policy.Unilateral(by) {
		return current.clone(), stateError(current, CodeNotAuthorized,
			fmt.Sprintf("%q is neither the proposer nor a unilateral approver", by), nil)
	}

	next := current.clone()
	next.Status = StatusCancelled
	next.Reason = "cancelled by " + by
	if err := e.commit(ctx, entry, &next); err != nil {
		return entry.proposal.clone(), err
	}

	e.logger.Info("proposal cancelled", "proposal_id", next.ID, "by", by)
	return next.clone(), nil
}

// Execute re-validates the batch against graph and, when
// options.Broadcast is set, submits it and marks the proposal executed.
// With options.Ledger set, graph must be nil: the batch is validated
// against the ledger's current snapshot and, once broadcast, the
// result is published on top of that snapshot.
//
// Without Broadcast the call is a dry run: it returns the post-batch
// graph and a receipt carrying the signed batch, and changes nothing.
// If the batch no longer validates the proposal becomes invalidated
// and Execute returns CodeStaleProposal. Calling Execute on an executed
// proposal returns the original result and receipt.
//
// The executed state is saved before the broadcast, so of several
// engines sharing a store only one submits; the others get
// CodeConflict. A failed broadcast returns the proposal to executable.
// If the broadcast succeeds but the submission reference cannot be
// saved, or the ledger has moved on, Execute returns the results
// together with that error.
func (e *Engine) Execute(ctx context.Context, id string, graph *authority.Graph, options ExecuteOptions) (*authority.Graph, Receipt, error) {
	entry, err := e.lookup(id)
	if err != nil {
		return nil, Receipt{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := e.refresh(ctx, entry); err != nil {
		return nil, Receipt{}, err
	}
	current := entry.proposal
	if current.Status == StatusExecuted && current.Receipt != nil {
		if current.result == nil {
			return nil, current.Receipt.clone(), stateError(current, CodeNotExecutable,
				"already executed; the post-batch graph was not recorded", nil)
		}
		return current.result, current.Receipt.clone(), nil
	}
	if err := e.expireIfDue(ctx, entry); err != nil {
		return nil, Receipt{}, err
	}
	switch current.Status {
	case StatusExecutable:
	case StatusInvalidated:
		return nil, Receipt{}, stateError(current, CodeStaleProposal, current.Reason, nil)
	default:
		return nil, Receipt{}, stateError(current, CodeNotExecutable,
			fmt.Sprintf("weight %d of %d", current.Weight, current.Policy.Threshold), nil)
	}

	var published authority.Published
	if options.Ledger != nil {
		if graph != nil {
			return nil, Receipt{}, fmt.Errorf("proposal: Execute takes a graph or ExecuteOptions.Ledger, not both")
		}
		published = options.Ledger.Current()
		graph = published.Graph
	}
	if graph == nil {
		return nil, Receipt{}, fmt.Errorf("proposal: Execute requires a graph")
	}

	before := graph.Fingerprint()
	final, err := mutation.Validate(graph, current.Batch)
	if err != nil {
		next := current.clone()
		next.Status = StatusInvalidated
		next.Reason = err.Error()
		if commitErr := e.commit(ctx, entry, &next); commitErr != nil {
			return nil, Receipt{}, errors.Join(stateError(current, CodeStaleProposal, "", err), commitErr)
		}
		e.logger.Warn("proposal invalidated",
			"proposal_id", next.ID,
			"batch_index", mutation.FailedIndex(err),
			"opened_at", current.Fingerprint.Short(),
			"current", before.Short(),
			"error", err,
		)
		return nil, Receipt{}, stateError(next, CodeStaleProposal, "", err)
	}
	if before != current.Fingerprint {
		e.logger.Info("graph changed since proposal opened; batch still valid",
			"proposal_id", current.ID,
			"opened_at", current.Fingerprint.Short(),
			"current", before.Short(),
		)
	}

	receipt := Receipt{
		ProposalID: current.ID,
		Broadcast:  options.Broadcast,
		SignedBatch: SignedBatch{
			ProposalID: current.ID,
			Digest:     current.Digest,
			Policy:     current.Policy.Clone(),
			Batch:      append(mutation.Batch(nil), current.Batch...),
			Approvals:  cloneApprovals(current.Approvals),
		},
		Before:     before,
		After:      final.Fingerprint(),
		ExecutedAt: e.clock.Now(),
	}
	if !options.Broadcast {
		e.logger.Info("proposal dry run", "proposal_id", current.ID, "after", receipt.After.Short())
		return final, receipt, nil
	}

	claimed := current.clone()
	claimed.Status = StatusExecuted
	claimedReceipt := receipt.clone()
	claimed.Receipt = &claimedReceipt
	claimed.result = final
	if err := e.commit(ctx, entry, &claimed); err != nil {
		return nil, Receipt{}, err
	}

	var recordErr error
	if e.broadcaster != nil {
		submission, err := e.broadcaster.Broadcast(ctx, receipt.SignedBatch.clone())
		if err != nil {
			broadcastErr := fmt.Errorf("proposal %s: broadcasting: %w", current.ID, err)
			released := claimed.clone()
			released.Status = StatusExecutable
			released.Receipt = nil
			released.result = nil
			if releaseErr := e.commit(ctx, entry, &released); releaseErr != nil {
				e.logger.Error("releasing execution claim", "proposal_id", current.ID, "error", releaseErr)
				return nil, Receipt{}, errors.Join(broadcastErr, releaseErr)
			}
			return nil, Receipt{}, broadcastErr
		}
		receipt.Submission = submission

		recorded := claimed.clone()
		recordedReceipt := receipt.clone()
		recorded.Receipt = &recordedReceipt
		if err := e.commit(ctx, entry, &recorded); err != nil {
			e.logger.Error("submission not recorded", "proposal_id", current.ID, "submission", submission, "error", err)
			recordErr = err
		}
	}

	var publishErr error
	if options.Ledger != nil {
		if _, err := options.Ledger.Publish(published.Version, final); err != nil {
			publishErr = stateError(claimed, CodeConflict, "graph was published concurrently", err)
			e.logger.Error("post-batch graph not published", "proposal_id", current.ID, "error", err)
		}
	}

	e.logger.Info("proposal executed",
		"proposal_id", current.ID,
		"submission", receipt.Submission,
		"before", receipt.Before.Short(),
		"after", receipt.After.Short(),
	)
	return final, receipt, errors.Join(recordErr, publishErr)
}

// ExpireDue moves every non-terminal proposal past its expiry to
// expired and returns their ids.
func (e *Engine) ExpireDue(ctx context.Context) []string {
	var expired []string
	for _, entry := range e.entries() {
		entry.mu.Lock()
		if err := e.refresh(ctx, entry); err != nil {
			e.logger.Error("reloading proposal", "proposal_id", entry.proposal.ID, "error", err)
			entry.mu.Unlock()
			continue
		}
		wasExpired := entry.proposal.Status == StatusExpired
		err := e.expireIfDue(ctx, entry)
		switch {
		case !wasExpired && IsCode(err, CodeExpired):
			expired = append(expired, entry.proposal.ID)
		case IsCode(err, CodeConflict):
			e.logger.Debug("proposal changed while expiring", "proposal_id", entry.proposal.ID)
		case err != nil && !IsCode(err, CodeExpired):
			e.logger.Error("expiring proposal", "proposal_id", entry.proposal.ID, "error", err)
		}
		entry.mu.Unlock()
	}
	sort.Strings(expired)
	return expired
}

// Get returns a copy of proposal id.
func (e *Engine) Get(id string) (Proposal, error) {
	entry, err := e.lookup(id)
	if err != nil {
		return Proposal{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.proposal.clone(), nil
}

// List returns copies of every tracked proposal, oldest first.
func (e *Engine) List() []Proposal {
	entries := e.entries()
	proposals := make([]Proposal, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		proposals = append(proposals, entry.proposal.clone())
		entry.mu.Unlock()
	}
	sort.Slice(proposals, func(i, j int) bool {
		if !proposals[i].CreatedAt.Equal(proposals[j].CreatedAt) {
			return proposals[i].CreatedAt.Before(proposals[j].CreatedAt)
		}
		return proposals[i].ID < proposals[j].ID
	})
	return proposals
}

// SigningRequest returns what approvers of proposal id must sign.
func (e *Engine) SigningRequest(id string) (SigningRequest, error) {
	proposal, err := e.Get(id)
	if err != nil {
		return SigningRequest{}, err
	}
	return SigningRequest{
		ProposalID: proposal.ID,
		Digest:     proposal.Digest,
		Batch:      proposal.Batch,
		Policy:     proposal.Policy,
		ExpiresAt:  proposal.ExpiresAt,
	}, nil
}

// Resume loads every record from the store and tracks the proposals
// not already known. It returns the number loaded. Records carry the
// open-time graph and, once executed, the post-batch graph, so a
// resumed proposal behaves as it did in the process that opened it.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, fmt.Errorf("proposal: Resume requires a Store")
	}
	records, err := e.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("proposal: listing records: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	loaded := 0
	for _, record := range records {
		if _, exists := e.proposals[record.ProposalID]; exists {
			continue
		}
		proposal, err := record.Proposal()
		if err != nil {
			return loaded, err
		}
		e.proposals[proposal.ID] = &entry{proposal: proposal}
		loaded++
	}
	e.logger.Info("proposals resumed", "loaded", loaded, "records", len(records))
	return loaded, nil
}

func (e *Engine) lookup(id string) (*entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.proposals[id]
	if !ok {
		return nil, &StateError{Code: CodeNotFound, ProposalID: id}
	}
	return entry, nil
}

func (e *Engine) entries() []*entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entries := make([]*entry, 0, len(e.proposals))
	for _, entry := range e.proposals {
		entries = append(entries, entry)
	}
	return entries
}

// expireIfDue moves entry to expired if it is past its expiry and not
// terminal. It returns a CodeExpired error if the proposal is expired
// (now or already). Caller holds entry.mu.
func (e *Engine) expireIfDue(ctx context.Context, entry *entry) error {
	current := entry.proposal
	if current.Status == StatusExpired {
		return stateError(current, CodeExpired, "", nil)
	}
	if current.Status.Terminal() || e.clock.Now().Before(current.ExpiresAt) {
		return nil
	}
	next := current.clone()
	next.Status = StatusExpired
	if err := e.commit(ctx, entry, &next); err != nil {
		return err
	}
	e.logger.Info("proposal expired", "proposal_id", next.ID, "expires_at", next.ExpiresAt)
	return stateError(next, CodeExpired, "", nil)
}

// refresh replaces entry's proposal with the stored record when
// another engine has saved a newer revision. Caller holds entry.mu.
func (e *Engine) refresh(ctx context.Context, entry *entry) error {
	if e.store == nil {
		return nil
	}
	record, err := e.store.Load(ctx, entry.proposal.ID)
	if err != nil {
		return fmt.Errorf("proposal %s: reloading record: %w", entry.proposal.ID, err)
	}
	if record.Revision <= entry.proposal.Revision {
		return nil
	}
	stored, err := record.Proposal()
	if err != nil {
		return err
	}
	e.logger.Debug("proposal reloaded",
		"proposal_id", stored.ID,
		"revision", stored.Revision,
		"status", stored.Status,
	)
	entry.proposal = stored
	return nil
}

// commit saves next on top of entry's proposal and installs it. On a
// revision conflict entry is reloaded and CodeConflict returned.
// Caller holds entry.mu.
func (e *Engine) commit(ctx context.Context, entry *entry, next *Proposal) error {
	if err := e.persist(ctx, next); err != nil {
		if IsCode(err, CodeConflict) {
			if refreshErr := e.refresh(ctx, entry); refreshErr != nil {
				return errors.Join(err, refreshErr)
			}
		}
		return err
	}
	entry.proposal = *next
	return nil
}

// persist saves next as the revision after the one it was cloned
// from.
func (e *Engine) persist(ctx context.Context, next *Proposal) error {
	next.Revision++
	if e.store == nil {
		return nil
	}
	if err := e.store.Save(ctx, next.Record()); err != nil {
		if errors.Is(err, ErrRevisionConflict) {
			return &StateError{
				Code:       CodeConflict,
				ProposalID: next.ID,
				Detail:     "saved concurrently by another process",
				Err:        err,
			}
		}
		return fmt.Errorf("proposal %s: saving record: %w", next.ID, err)
	}
	return nil
}

func stateError(proposal Proposal, code Code, detail string, err error) *StateError {
	return &StateError{
		Code:       code,
		ProposalID: proposal.ID,
		Status:     proposal.Status,
		Detail:     detail,
		Err:        err,
	}
}
