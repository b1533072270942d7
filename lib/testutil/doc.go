// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Quorum packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so concurrency tests fail with a message instead of hanging.
// They are the only place in the test suite that uses a real wall-clock
// timeout; everything else runs on lib/clock's fake clock.
//
// All helpers call t.Fatalf on failure.
package testutil
