// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds signing key material outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM (mlock) and
// excluded from core dumps (MADV_DONTDUMP). Close zeroes, unlocks, and
// unmaps it; any read after Close panics. The signer keyring keeps
// every ed25519 private key in a Buffer and signs straight from the
// mapped bytes, so a key never lives in garbage-collected memory after
// it is loaded.
//
// Depends on golang.org/x/sys/unix and is Linux-only.
package secret
