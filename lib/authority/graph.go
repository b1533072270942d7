// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"sort"
)

// Graph is an immutable snapshot of the authority graph. The zero
// value is not usable; start from [New] or [FromDocument].
//
// A Graph is safe for concurrent reads. Nothing in this package
// mutates a Graph after it is returned: Apply and AddAccount copy the
// account they change and share the rest.
type Graph struct {
	accounts map[AccountName]*accountState
}

type accountState struct {
	permissions map[PermissionName]Permission
	links       map[linkKey]PermissionName
}

type linkKey struct {
	code       AccountName
	actionType ActionName
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{accounts: make(map[AccountName]*accountState)}
}

// AddAccount returns a new graph containing an account with the given
// owner and active authorities. Accounts are created outside operation
// batches (account creation is not a migration step), so this is how
// graphs are assembled programmatically.
func (g *Graph) AddAccount(name AccountName, owner, active Authority) (*Graph, error) {
	if name == "" {
		return nil, graphError(ReasonInvalidOperation, name, "", "account name is empty")
	}
	if _, exists := g.accounts[name]; exists {
		return nil, graphError(ReasonInvalidOperation, name, "", "account already exists")
	}

	next := g.withAccount(name, &accountState{
		permissions: make(map[PermissionName]Permission),
		links:       make(map[linkKey]PermissionName),
	})
	state := next.accounts[name]
	for _, permission := range []Permission{
		{Account: name, Name: Owner, Authority: owner},
		{Account: name, Name: Active, Parent: Owner, Authority: active},
	} {
		if err := next.checkAuthority(permission.Level(), permission.Authority); err != nil {
			return nil, err
		}
		state.permissions[permission.Name] = Permission{
			Account:   name,
			Name:      permission.Name,
			Parent:    permission.Parent,
			Authority: permission.Authority.normalized(),
		}
	}
	return next, nil
}

// HasAccount reports whether the account exists.
func (g *Graph) HasAccount(account AccountName) bool {
	_, exists := g.accounts[account]
	return exists
}

// Accounts returns every account name in sorted order.
func (g *Graph) Accounts() []AccountName {
	names := make([]AccountName, 0, len(g.accounts))
	for name := range g.accounts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Permission returns the named permission. The error is a *GraphError
// with reason ReasonUnknownAccount or ReasonUnknownPermission.
func (g *Graph) Permission(account AccountName, name PermissionName) (Permission, error) {
	state, exists := g.accounts[account]
	if !exists {
		return Permission{}, graphError(ReasonUnknownAccount, account, name, "account does not exist")
	}
	permission, exists := state.permissions[name]
	if !exists {
		return Permission{}, graphError(ReasonUnknownPermission, account, name, "permission does not exist")
	}
	permission.Authority = permission.Authority.Clone()
	return permission, nil
}

// HasPermission reports whether account@name exists.
func (g *Graph) HasPermission(level PermissionLevel) bool {
	state, exists := g.accounts[level.Actor]
	if !exists {
		return false
	}
	_, exists = state.permissions[level.Permission]
	return exists
}

// Permissions returns every permission of the account, sorted by name.
// Returns nil for an unknown account.
func (g *Graph) Permissions(account AccountName) []Permission {
	state, exists := g.accounts[account]
	if !exists {
		return nil
	}
	permissions := make([]Permission, 0, len(state.permissions))
	for _, permission := range state.permissions {
		permission.Authority = permission.Authority.Clone()
		permissions = append(permissions, permission)
	}
	sort.Slice(permissions, func(i, j int) bool { return permissions[i].Name < permissions[j].Name })
	return permissions
}

// HasLink reports whether an action link exists for exactly
// (account, code, actionType). A wildcard link only matches a query
// for [AnyAction]; use RequiredPermission for resolution.
func (g *Graph) HasLink(account, code AccountName, actionType ActionName) bool {
	state, exists := g.accounts[account]
	if !exists {
		return false
	}
	_, exists = state.links[linkKey{code: code, actionType: actionType}]
	return exists
}

// Links returns every action link of the account, sorted by code then
// action type.
func (g *Graph) Links(account AccountName) []ActionLink {
	state, exists := g.accounts[account]
	if !exists {
		return nil
	}
	links := make([]ActionLink, 0, len(state.links))
	for key, permission := range state.links {
		links = append(links, ActionLink{
			Account:    account,
			Code:       key.code,
			Type:       key.actionType,
			Permission: permission,
		})
	}
	sortLinks(links)
	return links
}

// RequiredPermission resolves the permission that must authorize
// code::actionType on behalf of account: the exact link if one exists,
// otherwise the code's wildcard link, otherwise the account's active
// permission.
func (g *Graph) RequiredPermission(account, code AccountName, actionType ActionName) (PermissionLevel, error) {
	state, exists := g.accounts[account]
	if !exists {
		return PermissionLevel{}, graphError(ReasonUnknownAccount, account, "", "account does not exist")
	}
	if permission, linked := state.links[linkKey{code: code, actionType: actionType}]; linked {
		return PermissionLevel{Actor: account, Permission: permission}, nil
	}
	if permission, linked := state.links[linkKey{code: code, actionType: AnyAction}]; linked {
		return PermissionLevel{Actor: account, Permission: permission}, nil
	}
	return PermissionLevel{Actor: account, Permission: Active}, nil
}

// withAccount returns a shallow copy of g whose account map points
// name at state. Other accounts are shared with g.
func (g *Graph) withAccount(name AccountName, state *accountState) *Graph {
	next := &Graph{accounts: make(map[AccountName]*accountState, len(g.accounts)+1)}
	for existing, existingState := range g.accounts {
		next.accounts[existing] = existingState
	}
	next.accounts[name] = state
	return next
}

// cloneAccount returns a deep copy of the named account's state. The
// caller has already checked that the account exists.
func (g *Graph) cloneAccount(name AccountName) *accountState {
	state := g.accounts[name]
	clone := &accountState{
		permissions: make(map[PermissionName]Permission, len(state.permissions)),
		links:       make(map[linkKey]PermissionName, len(state.links)),
	}
	for permissionName, permission := range state.permissions {
		clone.permissions[permissionName] = permission
	}
	for key, target := range state.links {
		clone.links[key] = target
	}
	return clone
}

func sortLinks(links []ActionLink) {
	sort.Slice(links, func(i, j int) bool {
		if links[i].Code != links[j].Code {
			return links[i].Code < links[j].Code
		}
		return links[i].Type < links[j].Type
	})
}
