// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/proposal"
)

func runPropose(ctx context.Context, inv *invocation, args []string) error {
	var graphPath, batchPath, permission, proposer string
	var ttl time.Duration
	flagSet := inv.flagSet()
	flagSet.StringVar(&graphPath, "graph", "", "graph snapshot file (JSONC)")
	flagSet.StringVar(&batchPath, "batch", "", "batch file (JSONC)")
	flagSet.StringVar(&permission, "permission", "", "account@permission whose authority must approve (default: the batch file's permission)")
	flagSet.StringVar(&proposer, "proposer", "", "who is opening the proposal")
	flagSet.DurationVar(&ttl, "ttl", 0, "proposal lifetime (default: proposal.default_ttl)")
	if proceed, err := inv.parse(flagSet, args); !proceed {
		return err
	}

	graph, file, err := readInputs(ctx, graphPath, batchPath)
	if err != nil {
		return err
	}
	if err := requireFlag("proposer", proposer); err != nil {
		return err
	}
	if ttl < 0 {
		return validation("--ttl must not be negative, got %s", ttl)
	}

	level := file.Permission
	if permission != "" {
		level, err = authority.ParsePermissionLevel(permission)
		if err != nil {
			return validation("--permission: %w", err)
		}
	}
	if level.IsZero() {
		return validation("no authorizing permission").
			WithHint("Pass --permission account@permission or set \"permission\" in the batch file.")
	}
	policy, err := proposal.PolicyForPermission(graph, level, inv.config.Proposal.MaxDelegationDepth)
	if err != nil {
		return validation("building policy for %s: %w", level, err)
	}

	engine, closeStore, err := inv.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	opened, err := engine.Open(ctx, proposal.OpenRequest{
		Batch:    file.Operations,
		Policy:   policy,
		Graph:    graph,
		Proposer: proposer,
		TTL:      ttl,
	})
	if err != nil {
		return classify(err)
	}
	return inv.writeJSON(opened.Record())
}

func runCancel(ctx context.Context, inv *invocation, args []string) error {
	var id, by string
	flagSet := inv.flagSet()
	flagSet.StringVar(&id, "proposal", "", "proposal id")
	flagSet.StringVar(&by, "by", "", "identity cancelling: the proposer or an approver that alone meets the threshold")
	if proceed, err := inv.parse(flagSet, args); !proceed {
		return err
	}
	if err := requireFlag("proposal", id); err != nil {
		return err
	}
	if err := requireFlag("by", by); err != nil {
		return err
	}

	engine, closeStore, err := inv.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cancelled, err := engine.Cancel(ctx, id, by)
	if err != nil {
		return classify(err)
	}
	return inv.writeJSON(cancelled.Record())
}
