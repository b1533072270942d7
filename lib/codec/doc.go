// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the deterministic CBOR configuration shared by
// every Quorum package that persists or signs data.
//
// Two properties matter here. Proposal records written by one process
// must decode in another (crash resume), and the bytes fed into graph
// fingerprints and proposal signing digests must be identical for
// identical logical values. The encoder therefore uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items.
//
//	data, err := codec.Marshal(record)
//	err = codec.Unmarshal(data, &record)
//
// # Struct Tag Rules
//
// Types that are only ever persisted or hashed (proposal records,
// fingerprint documents) carry `cbor` tags. Types that also appear in
// CLI JSON output or JSONC input files carry `json` tags only;
// fxamacker/cbor reads `json` tags when `cbor` tags are absent. Never
// put both tags on one field.
package codec
