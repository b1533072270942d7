// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/quorum/lib/codec"
	"github.com/bureau-foundation/quorum/lib/proposal"
)

func runStatus(ctx context.Context, inv *invocation, args []string) error {
	var id string
	var raw bool
	flagSet := inv.flagSet()
	flagSet.StringVar(&id, "proposal", "", "print only this proposal")
	flagSet.BoolVar(&raw, "raw", false, "print the stored CBOR records in diagnostic notation, one per line")
	if proceed, err := inv.parse(flagSet, args); !proceed {
		return err
	}

	engine, closeStore, err := inv.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	for _, expired := range engine.ExpireDue(ctx) {
		inv.logger.Info("proposal expired", "proposal_id", expired)
	}

	records := []proposal.Record{}
	if id != "" {
		found, err := engine.Get(id)
		if err != nil {
			return classify(err)
		}
		records = append(records, found.Record())
	} else {
		for _, tracked := range engine.List() {
			records = append(records, tracked.Record())
		}
	}

	if raw {
		return writeDiagnostics(inv, records)
	}
	if id != "" {
		return inv.writeJSON(records[0])
	}
	return inv.writeJSON(records)
}

func writeDiagnostics(inv *invocation, records []proposal.Record) error {
	for _, record := range records {
		encoded, err := proposal.EncodeRecord(record)
		if err != nil {
			return internal("encoding %s: %w", record.ProposalID, err)
		}
		diagnostic, err := codec.Diagnose(encoded)
		if err != nil {
			return internal("diagnosing %s: %w", record.ProposalID, err)
		}
		fmt.Fprintln(inv.stdout, diagnostic)
	}
	return nil
}
