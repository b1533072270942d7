// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import "sort"

// Apply returns the snapshot produced by applying op to g. g is never
// modified. On rejection the error is a *GraphError naming the reason
// and the entity involved.
func (g *Graph) Apply(op Operation) (*Graph, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if _, exists := g.accounts[op.Account]; !exists {
		return nil, graphError(ReasonUnknownAccount, op.Account, op.Permission, "account does not exist")
	}

	switch op.Kind {
	case KindLinkAction:
		return g.applyLink(op)
	case KindUnlinkAction:
		return g.applyUnlink(op)
	case KindGrantPermission:
		return g.applyGrant(op)
	case KindRevokePermission:
		return g.applyRevoke(op)
	case KindReparentPermission:
		return g.applyReparent(op)
	}
	// Unreachable: Validate rejects unknown kinds.
	return nil, graphError(ReasonInvalidOperation, op.Account, op.Permission, "unknown operation kind %q", op.Kind)
}

func (g *Graph) applyLink(op Operation) (*Graph, error) {
	state := g.accounts[op.Account]
	if _, exists := state.permissions[op.Permission]; !exists {
		return nil, graphError(ReasonDanglingLink, op.Account, op.Permission,
			"link %s::%s targets a permission that does not exist", op.Code, op.Type)
	}
	next := g.cloneAccount(op.Account)
	next.links[linkKey{code: op.Code, actionType: op.Type}] = op.Permission
	return g.withAccount(op.Account, next), nil
}

func (g *Graph) applyUnlink(op Operation) (*Graph, error) {
	key := linkKey{code: op.Code, actionType: op.Type}
	if _, exists := g.accounts[op.Account].links[key]; !exists {
		return nil, graphError(ReasonUnknownLink, op.Account, "", "no link for %s::%s", op.Code, op.Type)
	}
	next := g.cloneAccount(op.Account)
	delete(next.links, key)
	return g.withAccount(op.Account, next), nil
}

func (g *Graph) applyGrant(op Operation) (*Graph, error) {
	state := g.accounts[op.Account]
	level := PermissionLevel{Actor: op.Account, Permission: op.Permission}
	existing, exists := state.permissions[op.Permission]

	if op.Permission == Owner {
		if op.Parent != "" {
			return nil, graphError(ReasonInvalidOperation, op.Account, op.Permission,
				"owner is the root permission and cannot have parent %q", op.Parent)
		}
	} else {
		if op.Parent == "" {
			return nil, graphError(ReasonUnknownParent, op.Account, op.Permission, "a non-owner permission requires a parent")
		}
		if op.Parent == op.Permission {
			return nil, graphError(ReasonCycleDetected, op.Account, op.Permission, "permission cannot be its own parent")
		}
		if _, parentExists := state.permissions[op.Parent]; !parentExists {
			return nil, graphError(ReasonUnknownParent, op.Account, op.Permission, "parent %s does not exist", op.Parent)
		}
		if exists && existing.Parent != op.Parent && g.descendsFrom(op.Account, op.Parent, op.Permission) {
			return nil, graphError(ReasonCycleDetected, op.Account, op.Permission,
				"new parent %s is a descendant of %s", op.Parent, op.Permission)
		}
	}

	if err := g.checkAuthority(level, *op.Authority); err != nil {
		return nil, err
	}

	next := g.cloneAccount(op.Account)
	next.permissions[op.Permission] = Permission{
		Account:   op.Account,
		Name:      op.Permission,
		Parent:    op.Parent,
		Authority: op.Authority.normalized(),
	}
	return g.withAccount(op.Account, next), nil
}

func (g *Graph) applyRevoke(op Operation) (*Graph, error) {
	if op.Permission == Owner || op.Permission == Active {
		return nil, graphError(ReasonInvalidOperation, op.Account, op.Permission, "%s cannot be revoked", op.Permission)
	}
	state := g.accounts[op.Account]
	if _, exists := state.permissions[op.Permission]; !exists {
		return nil, graphError(ReasonUnknownPermission, op.Account, op.Permission, "permission does not exist")
	}

	if children := g.childrenOf(op.Account, op.Permission); len(children) > 0 {
		return nil, graphError(ReasonPermissionInUse, op.Account, op.Permission, "parent of %s", children[0])
	}
	for _, link := range g.Links(op.Account) {
		if link.Permission == op.Permission {
			return nil, graphError(ReasonPermissionInUse, op.Account, op.Permission, "linked to %s::%s", link.Code, link.Type)
		}
	}
	level := PermissionLevel{Actor: op.Account, Permission: op.Permission}
	if delegators := g.delegatorsOf(level); len(delegators) > 0 {
		return nil, graphError(ReasonPermissionInUse, op.Account, op.Permission, "delegated by %s", delegators[0])
	}

	next := g.cloneAccount(op.Account)
	delete(next.permissions, op.Permission)
	return g.withAccount(op.Account, next), nil
}

func (g *Graph) applyReparent(op Operation) (*Graph, error) {
	if op.Permission == Owner {
		return nil, graphError(ReasonInvalidOperation, op.Account, op.Permission, "owner cannot be reparented")
	}
	state := g.accounts[op.Account]
	existing, exists := state.permissions[op.Permission]
	if !exists {
		return nil, graphError(ReasonUnknownPermission, op.Account, op.Permission, "permission does not exist")
	}
	if _, parentExists := state.permissions[op.Parent]; !parentExists {
		return nil, graphError(ReasonUnknownParent, op.Account, op.Permission, "parent %s does not exist", op.Parent)
	}
	if op.Parent == op.Permission {
		return nil, graphError(ReasonCycleDetected, op.Account, op.Permission, "permission cannot be its own parent")
	}
	if g.descendsFrom(op.Account, op.Parent, op.Permission) {
		return nil, graphError(ReasonCycleDetected, op.Account, op.Permission,
			"new parent %s is a descendant of %s", op.Parent, op.Permission)
	}
	if existing.Parent == op.Parent {
		return g, nil
	}

	next := g.cloneAccount(op.Account)
	existing.Parent = op.Parent
	next.permissions[op.Permission] = existing
	return g.withAccount(op.Account, next), nil
}

// checkAuthority validates an authority about to be installed at
// level against g.
func (g *Graph) checkAuthority(level PermissionLevel, authority Authority) error {
	if authority.Threshold == 0 {
		return graphError(ReasonUnsatisfiableThreshold, level.Actor, level.Permission, "threshold must be greater than zero")
	}
	if total := authority.TotalWeight(); total < uint64(authority.Threshold) {
		return graphError(ReasonUnsatisfiableThreshold, level.Actor, level.Permission,
			"threshold %d exceeds total weight %d", authority.Threshold, total)
	}

	seenKeys := make(map[string]bool, len(authority.Keys))
	for _, key := range authority.Keys {
		if key.Key == "" {
			return graphError(ReasonInvalidOperation, level.Actor, level.Permission, "authority contains an empty key")
		}
		if key.Weight == 0 {
			return graphError(ReasonInvalidOperation, level.Actor, level.Permission, "key %s has zero weight", key.Key)
		}
		if seenKeys[key.Key] {
			return graphError(ReasonInvalidOperation, level.Actor, level.Permission, "duplicate key %s", key.Key)
		}
		seenKeys[key.Key] = true
	}

	seenLevels := make(map[PermissionLevel]bool, len(authority.Accounts))
	for _, delegate := range authority.Accounts {
		if delegate.Weight == 0 {
			return graphError(ReasonInvalidOperation, level.Actor, level.Permission, "delegate %s has zero weight", delegate.Level)
		}
		if seenLevels[delegate.Level] {
			return graphError(ReasonInvalidOperation, level.Actor, level.Permission, "duplicate delegate %s", delegate.Level)
		}
		seenLevels[delegate.Level] = true

		if delegate.Level == level {
			return graphError(ReasonCycleDetected, level.Actor, level.Permission, "authority delegates to itself")
		}
		if !g.HasPermission(delegate.Level) {
			return graphError(ReasonDanglingLink, level.Actor, level.Permission,
				"delegates to %s which does not exist", delegate.Level)
		}
		if g.delegationReaches(delegate.Level, level) {
			return graphError(ReasonCycleDetected, level.Actor, level.Permission,
				"delegation through %s leads back to %s", delegate.Level, level)
		}
	}
	return nil
}

// descendsFrom reports whether walking parent links up from start
// reaches target (start == target counts).
func (g *Graph) descendsFrom(account AccountName, start, target PermissionName) bool {
	permissions := g.accounts[account].permissions
	current := start
	for steps := 0; steps <= len(permissions); steps++ {
		if current == target {
			return true
		}
		permission, exists := permissions[current]
		if !exists || permission.Parent == "" {
			return false
		}
		current = permission.Parent
	}
	return false
}

// delegationReaches reports whether target is reachable from start by
// following delegation entries through g's current authorities.
func (g *Graph) delegationReaches(start, target PermissionLevel) bool {
	visited := make(map[PermissionLevel]bool)
	stack := []PermissionLevel{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == target {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		state, exists := g.accounts[current.Actor]
		if !exists {
			continue
		}
		permission, exists := state.permissions[current.Permission]
		if !exists {
			continue
		}
		for _, delegate := range permission.Authority.Accounts {
			stack = append(stack, delegate.Level)
		}
	}
	return false
}

// childrenOf returns the names of permissions whose parent is name,
// sorted.
func (g *Graph) childrenOf(account AccountName, name PermissionName) []PermissionName {
	var children []PermissionName
	for childName, permission := range g.accounts[account].permissions {
		if permission.Parent == name {
			children = append(children, childName)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
	return children
}

// delegatorsOf returns every level whose authority delegates to level,
// sorted.
func (g *Graph) delegatorsOf(level PermissionLevel) []PermissionLevel {
	var delegators []PermissionLevel
	for _, account := range g.Accounts() {
		for _, permission := range g.accounts[account].permissions {
			for _, delegate := range permission.Authority.Accounts {
				if delegate.Level == level {
					delegators = append(delegators, permission.Level())
				}
			}
		}
	}
	sort.Slice(delegators, func(i, j int) bool { return delegators[i].String() < delegators[j].String() })
	return delegators
}
