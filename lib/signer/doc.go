// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signer produces proposal approvals from signing
// capabilities.
//
// A [Signer] is the external capability: given an identity and a
// payload it returns a signature, or refuses. [Leaf] wraps one signer
// identity with a timeout. [Composite] fans a request out to weighted
// member approvers concurrently and returns as soon as enough of them
// have approved to meet its threshold; the result is one approval with
// the member approvals nested inside. Composites nest arbitrarily, so
// an approver tree can mirror a delegated permission's authority.
// [FromPolicy] builds that tree from a proposal policy.
//
// Every failure is a [*SigningError]. Timeouts and unavailable signers
// are retryable; denials and unmet thresholds are not:
//
//	approval, err := approver.ProduceApproval(ctx, request)
//	var signingErr *signer.SigningError
//	if errors.As(err, &signingErr) && signingErr.Retryable() {
//		// try again later
//	}
//
// [Ed25519Keyring] and [Ed25519Verifier] implement the signing and
// verification sides with ed25519 keys whose identity is
// "ed25519:<hex public key>".
package signer
