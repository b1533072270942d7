// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import "testing"

var networkAuthority = LevelAuthority(PermissionLevel{Actor: "eosio", Permission: Active})

// grantsGraph builds the graph the foundation migration starts from:
//
//   - eosio: owner and active, each a single key
//   - eosio.grants: owner, active, and three child permissions of
//     active (rams.eos, claim, buyram), each linked to one action
func grantsGraph(t *testing.T) *Graph {
	t.Helper()
	graph, err := New().AddAccount("eosio", KeyAuthority("ed25519:eosio-owner"), KeyAuthority("ed25519:eosio-active"))
	if err != nil {
		t.Fatalf("AddAccount(eosio): %v", err)
	}
	graph, err = graph.AddAccount("eosio.grants", KeyAuthority("ed25519:grants-owner"), KeyAuthority("ed25519:grants-active"))
	if err != nil {
		t.Fatalf("AddAccount(eosio.grants): %v", err)
	}
	return mustApply(t, graph,
		GrantPermission("eosio.grants", "rams.eos", Active, KeyAuthority("ed25519:rams")),
		GrantPermission("eosio.grants", "claim", Active, KeyAuthority("ed25519:claim")),
		GrantPermission("eosio.grants", "buyram", Active, KeyAuthority("ed25519:buyram")),
		LinkAction("eosio.grants", "rams.eos", "mint", "rams.eos"),
		LinkAction("eosio.grants", "eosio.saving", "claim", "claim"),
		LinkAction("eosio.grants", "eosio", "buyram", "buyram"),
	)
}

func mustApply(t *testing.T, graph *Graph, operations ...Operation) *Graph {
	t.Helper()
	for i, operation := range operations {
		next, err := graph.Apply(operation)
		if err != nil {
			t.Fatalf("operation %d (%s): %v", i, operation, err)
		}
		graph = next
	}
	return graph
}
