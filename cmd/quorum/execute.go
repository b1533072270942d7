// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/batchfile"
	"github.com/bureau-foundation/quorum/lib/proposal"
)

func runExecute(ctx context.Context, inv *invocation, args []string) error {
	var id, graphPath, writeGraph string
	var broadcast bool
	flagSet := inv.flagSet()
	flagSet.StringVar(&id, "proposal", "", "proposal id")
	flagSet.StringVar(&graphPath, "graph", "", "current graph snapshot file (JSONC)")
	flagSet.BoolVar(&broadcast, "broadcast", false, "submit the signed batch and mark the proposal executed (default: dry run)")
	flagSet.StringVar(&writeGraph, "write-graph", "", "write the post-batch graph snapshot to this file")
	if proceed, err := inv.parse(flagSet, args); !proceed {
		return err
	}
	if err := requireFlag("proposal", id); err != nil {
		return err
	}
	if err := requireFlag("graph", graphPath); err != nil {
		return err
	}
	graph, err := readGraph(ctx, graphPath)
	if err != nil {
		return err
	}
	ledger := authority.NewLedger(graph, inv.logger)

	engine, closeStore, err := inv.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	final, receipt, err := engine.Execute(ctx, id, nil, proposal.ExecuteOptions{Broadcast: broadcast, Ledger: ledger})
	if final == nil && err != nil {
		return classify(err)
	}
	if err != nil {
		// Submitted, but the submission or the post-batch graph was
		// not recorded.
		inv.logger.Error("executed proposal not fully recorded", "proposal_id", id, "submission", receipt.Submission, "error", err)
	}

	if writeGraph != "" && final != nil {
		if writeErr := batchfile.WriteGraph(writeGraph, final); writeErr != nil {
			return internal("writing post-batch graph: %w", writeErr)
		}
		inv.logger.Info("post-batch graph written", "path", writeGraph, "fingerprint", final.Fingerprint().Short())
	}
	if outputErr := inv.writeJSON(receipt); outputErr != nil {
		return outputErr
	}
	return classify(err)
}
