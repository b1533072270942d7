// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package authority models a permission authority graph: accounts,
// the tree of named permissions each account owns, the weighted
// key/delegate sets that satisfy each permission, and the action
// links binding contract actions to the permission that authorizes
// them.
//
// A [Graph] is an immutable snapshot. [Graph.Apply] is a pure state
// transition: it returns a new snapshot with one [Operation] applied,
// or a [*GraphError] naming why the operation would leave the graph
// inconsistent. Callers explore a batch of operations without
// committing anything; package mutation folds Apply across a batch.
//
// # Invariants
//
// Every snapshot returned by this package satisfies:
//
//   - every account has an "owner" permission with no parent
//   - every other permission has exactly one existing parent on the
//     same account, and parent chains have no cycles
//   - every authority has threshold > 0 and total weight >= threshold,
//     with no duplicate entries
//   - every delegated account@permission entry names an existing
//     permission, and delegation chains have no cycles
//   - every action link targets an existing permission on its account
//
// [Graph.Check] audits all of them; tests replay batches and call
// Check on every intermediate snapshot.
//
// # Publication
//
// Live state is published through a [Ledger]: an append-only sequence
// of versioned snapshots swapped atomically. Readers hold a snapshot
// reference and never lock; a writer publishes a new snapshot only if
// the version it built on is still current.
package authority
