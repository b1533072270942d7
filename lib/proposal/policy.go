// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposal

import (
	"fmt"

	"github.com/bureau-foundation/quorum/lib/authority"
)

// ThresholdPolicy is the weighted approver set a proposal must
// satisfy. It is a value copied out of the graph at open time; nothing
// in it points back into a live graph.
type ThresholdPolicy struct {
	// Level is the permission this policy authorizes for. Zero for
	// ad hoc policies built with NewMofN.
	Level authority.PermissionLevel `json:"level,omitzero"`

	// Threshold is the minimum aggregate weight of approving entries.
	Threshold uint64 `json:"threshold"`

	Entries []PolicyEntry `json:"entries"`
}

// PolicyEntry is one weighted approver. A leaf entry (Sub nil) is
// satisfied by a verified signature from Identity. A composite entry is
// satisfied by nested approvals that meet Sub.
type PolicyEntry struct {
	// Identity names the approver: a key identity for leaves, the
	// delegated "account@permission" for composites.
	Identity string `json:"identity"`

	// Level is the permission level an approval for this entry must
	// claim.
	Level authority.PermissionLevel `json:"level,omitzero"`

	Weight uint32           `json:"weight"`
	Sub    *ThresholdPolicy `json:"sub,omitempty"`
}

// NewMofN returns a policy requiring threshold equally weighted (weight
// 1) approvals from identities.
func NewMofN(threshold uint64, identities ...string) ThresholdPolicy {
	policy := ThresholdPolicy{Threshold: threshold}
	for _, identity := range identities {
		policy.Entries = append(policy.Entries, PolicyEntry{Identity: identity, Weight: 1})
	}
	return policy
}

// PolicyForPermission expands the authority of level in graph into a
// policy tree. Key entries become leaves. Delegations to another
// permission become composites whose sub-policy is that permission's
// authority, expanded recursively up to maxDepth levels of delegation.
func PolicyForPermission(graph *authority.Graph, level authority.PermissionLevel, maxDepth int) (ThresholdPolicy, error) {
	return expandPolicy(graph, level, maxDepth, map[authority.PermissionLevel]bool{})
}

func expandPolicy(graph *authority.Graph, level authority.PermissionLevel, depth int, path map[authority.PermissionLevel]bool) (ThresholdPolicy, error) {
	if path[level] {
		return ThresholdPolicy{}, fmt.Errorf("proposal: delegation cycle through %s", level)
	}
	permission, err := graph.Permission(level.Actor, level.Permission)
	if err != nil {
		return ThresholdPolicy{}, err
	}

	policy := ThresholdPolicy{
		Level:     level,
		Threshold: uint64(permission.Authority.Threshold),
	}
	for _, key := range permission.Authority.Keys {
		policy.Entries = append(policy.Entries, PolicyEntry{
			Identity: key.Key,
			Level:    level,
			Weight:   uint32(key.Weight),
		})
	}
	for _, delegate := range permission.Authority.Accounts {
		if depth <= 0 {
			return ThresholdPolicy{}, fmt.Errorf("proposal: delegation from %s to %s exceeds depth limit", level, delegate.Level)
		}
		path[level] = true
		sub, err := expandPolicy(graph, delegate.Level, depth-1, path)
		delete(path, level)
		if err != nil {
			return ThresholdPolicy{}, err
		}
		policy.Entries = append(policy.Entries, PolicyEntry{
			Identity: delegate.Level.String(),
			Level:    delegate.Level,
			Weight:   uint32(delegate.Weight),
			Sub:      &sub,
		})
	}
	return policy, nil
}

// Validate checks that the policy can be met: a positive threshold, at
// least that much total weight, unique identities, positive weights,
// and valid sub-policies.
func (p ThresholdPolicy) Validate() error {
	if p.Threshold == 0 {
		return fmt.Errorf("threshold must be positive")
	}
	seen := make(map[string]bool, len(p.Entries))
	var total uint64
	for _, entry := range p.Entries {
		if entry.Identity == "" {
			return fmt.Errorf("entry with empty identity")
		}
		if seen[entry.Identity] {
			return fmt.Errorf("duplicate entry %q", entry.Identity)
		}
		seen[entry.Identity] = true
		if entry.Weight == 0 {
			return fmt.Errorf("entry %q has zero weight", entry.Identity)
		}
		if entry.Sub != nil {
			if err := entry.Sub.Validate(); err != nil {
				return fmt.Errorf("entry %q: %w", entry.Identity, err)
			}
		}
		total += uint64(entry.Weight)
	}
	if total < p.Threshold {
		return fmt.Errorf("total weight %d is below threshold %d", total, p.Threshold)
	}
	return nil
}

// Entry returns the entry for identity.
func (p ThresholdPolicy) Entry(identity string) (PolicyEntry, bool) {
	for _, entry := range p.Entries {
		if entry.Identity == identity {
			return entry, true
		}
	}
	return PolicyEntry{}, false
}

// Unilateral reports whether identity's weight alone meets the
// threshold.
func (p ThresholdPolicy) Unilateral(identity string) bool {
	entry, ok := p.Entry(identity)
	return ok && uint64(entry.Weight) >= p.Threshold
}

// weightOf sums the entry weights of approvals' approvers. Approvals
// whose approver has no entry contribute nothing.
func (p ThresholdPolicy) weightOf(approvals []Approval) uint64 {
	var total uint64
	for _, approval := range approvals {
		if entry, ok := p.Entry(approval.Approver); ok {
			total += uint64(entry.Weight)
		}
	}
	return total
}

// Clone returns a deep copy.
func (p ThresholdPolicy) Clone() ThresholdPolicy {
	clone := ThresholdPolicy{Level: p.Level, Threshold: p.Threshold}
	if p.Entries != nil {
		clone.Entries = make([]PolicyEntry, len(p.Entries))
		for i, entry := range p.Entries {
			clone.Entries[i] = entry
			if entry.Sub != nil {
				sub := entry.Sub.Clone()
				clone.Entries[i].Sub = &sub
			}
		}
	}
	return clone
}
