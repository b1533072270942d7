// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package proposal tracks a validated operation batch from submission
// through multi-party approval to execution.
//
// A proposal moves through these states:
//
//	draft -> proposed -> approving -> executable -> executed
//
// with side exits to cancelled (proposer or a unilateral approver),
// expired (time-based), and invalidated (the graph drifted so the
// batch no longer validates at execution time).
//
// # Policies and approvals
//
// A [ThresholdPolicy] is a snapshot value: the weighted approver set
// and threshold of the permission that must authorize the batch,
// copied out of the graph when the proposal opens. Later changes to
// the graph do not move the bar. An entry is either a leaf (a key that
// signs the proposal digest directly) or a composite (a delegated
// permission whose own sub-policy must be met by nested approvals).
// [PolicyForPermission] expands a permission's authority into that
// tree.
//
// An [Approval] carries either a signature (leaf) or nested approvals
// (composite). Signatures are opaque to this package and checked
// through a [Verifier].
//
// # Concurrency
//
// The [Engine] serializes Approve, Cancel, and Execute per proposal
// with a per-proposal mutex. The approval that first brings the
// aggregate weight to the threshold performs the transition to
// executable, exactly once. Signing happens outside any lock: Collect
// asks an [Approver] for an approval and only then takes the lock, so
// a signer that hangs or times out leaves the proposal untouched.
//
// # Persistence
//
// When configured with a [Store], the engine saves a [Record] before
// committing every transition, and [Engine.Resume] rebuilds its state
// from the store after a restart without re-collecting approvals.
package proposal
