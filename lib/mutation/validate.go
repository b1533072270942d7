// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mutation

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/quorum/lib/authority"
)

// Batch is an ordered sequence of operations, applied left to right.
type Batch []authority.Operation

// BatchError reports the first operation of a batch that could not be
// applied. Err is the *authority.GraphError from Apply, so
// authority.IsReason works on a BatchError directly.
type BatchError struct {
	Index     int
	Operation authority.Operation
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("mutation: operation %d (%s): %v", e.Index, e.Operation, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// FailedIndex returns the index of the failing operation if err is (or
// wraps) a *BatchError, and -1 otherwise.
func FailedIndex(err error) int {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Index
	}
	return -1
}

// Validate applies batch to graph one operation at a time and returns
// the final graph. It stops at the first operation that Apply rejects
// and returns a *BatchError carrying its index. graph is not modified.
// An empty batch validates to graph itself.
func Validate(graph *authority.Graph, batch Batch) (*authority.Graph, error) {
	current := graph
	for index, operation := range batch {
		next, err := current.Apply(operation)
		if err != nil {
			return nil, &BatchError{Index: index, Operation: operation, Err: err}
		}
		current = next
	}
	return current, nil
}

// Trace is Validate that also returns every intermediate snapshot:
// states[i] is the graph after operation i. On failure it returns the
// states up to (not including) the failing operation along with the
// *BatchError.
func Trace(graph *authority.Graph, batch Batch) ([]*authority.Graph, error) {
	states := make([]*authority.Graph, 0, len(batch))
	current := graph
	for index, operation := range batch {
		next, err := current.Apply(operation)
		if err != nil {
			return states, &BatchError{Index: index, Operation: operation, Err: err}
		}
		states = append(states, next)
		current = next
	}
	return states, nil
}
