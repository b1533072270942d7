// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mutation validates ordered batches of authority graph
// operations.
//
// A batch is valid only if every operation is valid against the graph
// produced by all the operations before it, not merely if the final
// graph would be consistent. Removing delegation (unlinking an action,
// reparenting a child) must therefore come before revoking the
// permission it pointed at:
//
//	unlink eosio.grants rams.eos::mint
//	revoke eosio.grants@rams.eos        ok
//
//	revoke eosio.grants@rams.eos        permission_in_use at index 0
//	unlink eosio.grants rams.eos::mint
//
// A batch that is applied partway must never leave the live graph with
// a dangling reference, so the order is part of what gets approved.
package mutation
