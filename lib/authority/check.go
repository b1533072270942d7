// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

// Check audits every graph invariant and returns the first violation
// as a *GraphError. Snapshots produced by Apply always pass; Check
// exists for loaded documents and for tests that replay batches.
func (g *Graph) Check() error {
	for _, account := range g.Accounts() {
		state := g.accounts[account]

		owner, exists := state.permissions[Owner]
		if !exists {
			return graphError(ReasonUnknownPermission, account, Owner, "account has no owner permission")
		}
		if owner.Parent != "" {
			return graphError(ReasonInvalidOperation, account, Owner, "owner has parent %q", owner.Parent)
		}

		for _, permission := range g.Permissions(account) {
			if permission.Name != Owner {
				if permission.Parent == "" {
					return graphError(ReasonUnknownParent, account, permission.Name, "a non-owner permission requires a parent")
				}
				if _, parentExists := state.permissions[permission.Parent]; !parentExists {
					return graphError(ReasonUnknownParent, account, permission.Name, "parent %s does not exist", permission.Parent)
				}
				if !g.rootedAtOwner(account, permission.Name) {
					return graphError(ReasonCycleDetected, account, permission.Name, "parent chain does not reach owner")
				}
			}
			if err := g.checkInstalledAuthority(permission); err != nil {
				return err
			}
		}

		for _, link := range g.Links(account) {
			if _, targetExists := state.permissions[link.Permission]; !targetExists {
				return graphError(ReasonDanglingLink, account, link.Permission,
					"link %s::%s targets a permission that does not exist", link.Code, link.Type)
			}
		}
	}
	return nil
}

// checkInstalledAuthority is checkAuthority for a permission already
// in the graph: a delegation path back to the permission itself is a
// cycle.
func (g *Graph) checkInstalledAuthority(permission Permission) error {
	level := permission.Level()
	authority := permission.Authority
	if authority.Threshold == 0 || authority.TotalWeight() < uint64(authority.Threshold) {
		return graphError(ReasonUnsatisfiableThreshold, level.Actor, level.Permission,
			"threshold %d with total weight %d", authority.Threshold, authority.TotalWeight())
	}
	for _, delegate := range authority.Accounts {
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

func (g *Graph) rootedAtOwner(account AccountName, name PermissionName) bool {
	permissions := g.accounts[account].permissions
	current := name
	for steps := 0; steps <= len(permissions); steps++ {
		if current == Owner {
			return true
		}
		permission, exists := permissions[current]
		if !exists {
			return false
		}
		current = permission.Parent
	}
	return false
}
