// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSigningDenied is returned by a Signer that refuses to sign.
	ErrSigningDenied = errors.New("signer: signing denied")

	// ErrSigningUnavailable is returned by a Signer that cannot be
	// reached or has no usable key.
	ErrSigningUnavailable = errors.New("signer: signing unavailable")
)

// Code classifies a [SigningError].
type Code string

const (
	CodeSigningDenied      Code = "signing_denied"
	CodeSigningUnavailable Code = "signing_unavailable"
	CodeTimeout            Code = "timeout"

	// CodeThresholdNotMet: a composite's members could not produce
	// enough weight. Err joins the member failures.
	CodeThresholdNotMet Code = "threshold_not_met"
)

// SigningError reports why an approver produced no approval.
type SigningError struct {
	Code     Code
	Identity string
	Err      error
}

func (e *SigningError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("signer %s: %s", e.Identity, e.Code)
	}
	return fmt.Sprintf("signer %s: %s: %v", e.Identity, e.Code, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// Retryable reports whether trying again later may succeed.
func (e *SigningError) Retryable() bool {
	return e.Code == CodeTimeout || e.Code == CodeSigningUnavailable
}

// IsCode reports whether err is (or wraps) a *SigningError with the
// given code.
func IsCode(err error, code Code) bool {
	var signingErr *SigningError
	if errors.As(err, &signingErr) {
		return signingErr.Code == code
	}
	return false
}

// classify wraps a signer failure in a SigningError.
func classify(identity string, err error) *SigningError {
	var signingErr *SigningError
	if errors.As(err, &signingErr) {
		return signingErr
	}
	code := CodeSigningUnavailable
	switch {
	case errors.Is(err, ErrSigningDenied):
		code = CodeSigningDenied
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	}
	return &SigningError{Code: code, Identity: identity, Err: err}
}
