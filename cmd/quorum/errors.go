// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/quorum/lib/proposal"
	"github.com/bureau-foundation/quorum/lib/signer"
)

// errorCategory classifies command errors for the exit message.
type errorCategory string

const (
	categoryValidation errorCategory = "validation"
	categoryNotFound   errorCategory = "not_found"
	categoryConflict   errorCategory = "conflict"
	categoryTransient  errorCategory = "transient"
	categoryInternal   errorCategory = "internal"
)

// commandError is an error returned by a subcommand, with an optional
// hint telling the operator what to do next.
type commandError struct {
	Category errorCategory
	Err      error
	Hint     string
}

func (e *commandError) Error() string {
	if e.Hint == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + "\n\n" + e.Hint
}

func (e *commandError) Unwrap() error { return e.Err }

// WithHint sets the hint and returns the receiver.
func (e *commandError) WithHint(hint string) *commandError {
	e.Hint = hint
	return e
}

func validation(format string, args ...any) *commandError {
	return &commandError{Category: categoryValidation, Err: fmt.Errorf(format, args...)}
}

func internal(format string, args ...any) *commandError {
	return &commandError{Category: categoryInternal, Err: fmt.Errorf(format, args...)}
}

// exitError exits with Code without printing anything more. The
// command has already written its own output.
type exitError struct {
	Code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *exitError) ExitCode() int {
	return e.Code
}

// classify wraps an engine or signer error in a commandError whose
// category and hint match its code.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var commandErr *commandError
	if errors.As(err, &commandErr) {
		return err
	}
	switch {
	case proposal.IsCode(err, proposal.CodeNotFound):
		return (&commandError{Category: categoryNotFound, Err: err}).
			WithHint("Run 'quorum status' to list known proposals.")
	case proposal.IsCode(err, proposal.CodeStaleProposal):
		return (&commandError{Category: categoryConflict, Err: err}).
			WithHint("The graph changed so the batch no longer applies. Rebuild the batch and open a new proposal.")
	case proposal.IsCode(err, proposal.CodeNotExecutable):
		return (&commandError{Category: categoryConflict, Err: err}).
			WithHint("Collect more approvals with 'quorum approve' before executing.")
	case proposal.IsCode(err, proposal.CodeExpired):
		return (&commandError{Category: categoryConflict, Err: err}).
			WithHint("Open a new proposal with 'quorum propose'.")
	case proposal.IsCode(err, proposal.CodeInvalidBatch),
		proposal.IsCode(err, proposal.CodeInvalidPolicy),
		proposal.IsCode(err, proposal.CodeNotAuthorized),
		proposal.IsCode(err, proposal.CodeInvalidApproval):
		return &commandError{Category: categoryValidation, Err: err}
	case proposal.IsCode(err, proposal.CodeConflict):
		return (&commandError{Category: categoryTransient, Err: err}).
			WithHint("Another quorum process changed the proposal at the same time. Check 'quorum status' and retry.")
	case signer.IsCode(err, signer.CodeThresholdNotMet):
		return (&commandError{Category: categoryValidation, Err: err}).
			WithHint("A delegated permission needs approvals from enough of its members in one run. Pass a --key for each.")
	case signer.IsCode(err, signer.CodeSigningDenied):
		return &commandError{Category: categoryValidation, Err: err}
	case signer.IsCode(err, signer.CodeTimeout), signer.IsCode(err, signer.CodeSigningUnavailable):
		return (&commandError{Category: categoryTransient, Err: err}).
			WithHint("The signer did not respond. Retry, or raise signing.timeout in quorum.yaml.")
	}
	var stateErr *proposal.StateError
	if errors.As(err, &stateErr) {
		return &commandError{Category: categoryConflict, Err: err}
	}
	return &commandError{Category: categoryInternal, Err: err}
}
