// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package proposalstore provides durable implementations of
// proposal.Store.
//
// [SQLite] keeps one row per proposal in a local database file opened
// in WAL mode with a fixed-size connection pool. It is the default for
// a single operator workstation. [Redis] keeps each record under its
// own key plus a set index, for deployments where several processes
// share proposal state.
//
// Both store the deterministic CBOR encoding produced by
// proposal.EncodeRecord, so a record read back is byte-for-byte what
// was written and carries every approval unchanged.
package proposalstore
