// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time source for proposal expiry and
// signing deadlines. Production code injects [Real]; tests inject
// [Fake] and move time explicitly with [FakeClock.Advance], so expiry
// behavior is tested without sleeping.
package clock
