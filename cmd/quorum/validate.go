// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/batchfile"
	"github.com/bureau-foundation/quorum/lib/mutation"
)

func requireFlag(name, value string) error {
	if value == "" {
		return validation("--%s is required", name)
	}
	return nil
}

// readGraph takes a snapshot of the graph file at path.
func readGraph(ctx context.Context, path string) (*authority.Graph, error) {
	var source authority.Source = batchfile.FileSource{Path: path}
	graph, err := source.Snapshot(ctx)
	if err != nil {
		return nil, validation("%w", err)
	}
	return graph, nil
}

// readInputs reads the graph snapshot and batch file named by flags.
func readInputs(ctx context.Context, graphPath, batchPath string) (*authority.Graph, *batchfile.File, error) {
	if err := requireFlag("graph", graphPath); err != nil {
		return nil, nil, err
	}
	if err := requireFlag("batch", batchPath); err != nil {
		return nil, nil, err
	}
	graph, err := readGraph(ctx, graphPath)
	if err != nil {
		return nil, nil, err
	}
	file, err := batchfile.ReadBatch(batchPath)
	if err != nil {
		return nil, nil, validation("%w", err)
	}
	return graph, file, nil
}

func runValidate(ctx context.Context, inv *invocation, args []string) error {
	var graphPath, batchPath string
	var trace bool
	flagSet := inv.flagSet()
	flagSet.StringVar(&graphPath, "graph", "", "graph snapshot file (JSONC)")
	flagSet.StringVar(&batchPath, "batch", "", "batch file (JSONC)")
	flagSet.BoolVar(&trace, "trace", false, "print the graph fingerprint after every operation")
	if proceed, err := inv.parse(flagSet, args); !proceed {
		return err
	}

	graph, file, err := readInputs(ctx, graphPath, batchPath)
	if err != nil {
		return err
	}

	states, err := mutation.Trace(graph, file.Operations)
	if trace {
		fmt.Fprintf(inv.stdout, "     %-64s %s\n", "initial", graph.Fingerprint().Short())
		for index, state := range states {
			fmt.Fprintf(inv.stdout, "%3d  %-64s %s\n", index, file.Operations[index], state.Fingerprint().Short())
		}
	}
	if err != nil {
		var batchErr *mutation.BatchError
		if !errors.As(err, &batchErr) {
			return internal("%w", err)
		}
		fmt.Fprintf(inv.stdout, "rejected at operation %d (%s)\n  %v\n", batchErr.Index, batchErr.Operation, batchErr.Err)
		inv.logger.Debug("batch rejected", "batch_index", batchErr.Index, "error", batchErr.Err)
		return &exitError{Code: 1}
	}

	final := graph
	if len(states) > 0 {
		final = states[len(states)-1]
	}
	fmt.Fprintf(inv.stdout, "ok %s\n", final.Fingerprint())
	return nil
}
