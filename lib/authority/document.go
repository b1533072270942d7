// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

// Document is the serialized form of a graph: what a node query
// export or a snapshot file contains. Document() output is sorted, so
// equal graphs produce equal documents.
type Document struct {
	Accounts []AccountDocument `json:"accounts"`
}

// AccountDocument is one account in a [Document].
type AccountDocument struct {
	Name        AccountName          `json:"name"`
	Permissions []PermissionDocument `json:"permissions"`
	Links       []LinkDocument       `json:"links,omitempty"`
}

// PermissionDocument is one permission in an [AccountDocument].
type PermissionDocument struct {
	Name      PermissionName `json:"name"`
	Parent    PermissionName `json:"parent,omitempty"`
	Authority Authority      `json:"authority"`
}

// LinkDocument is one action link in an [AccountDocument].
type LinkDocument struct {
	Code       AccountName    `json:"code"`
	Type       ActionName     `json:"type"`
	Permission PermissionName `json:"permission"`
}

// Document returns the sorted document form of g.
func (g *Graph) Document() Document {
	var document Document
	for _, account := range g.Accounts() {
		accountDocument := AccountDocument{Name: account}
		for _, permission := range g.Permissions(account) {
			accountDocument.Permissions = append(accountDocument.Permissions, PermissionDocument{
				Name:      permission.Name,
				Parent:    permission.Parent,
				Authority: permission.Authority.normalized(),
			})
		}
		for _, link := range g.Links(account) {
			accountDocument.Links = append(accountDocument.Links, LinkDocument{
				Code:       link.Code,
				Type:       link.Type,
				Permission: link.Permission,
			})
		}
		document.Accounts = append(document.Accounts, accountDocument)
	}
	return document
}

// FromDocument builds a graph from its document form and audits it
// with Check. Entry order within the document does not matter.
func FromDocument(document Document) (*Graph, error) {
	graph := New()
	for _, accountDocument := range document.Accounts {
		if accountDocument.Name == "" {
			return nil, graphError(ReasonInvalidOperation, "", "", "account name is empty")
		}
		if _, duplicate := graph.accounts[accountDocument.Name]; duplicate {
			return nil, graphError(ReasonInvalidOperation, accountDocument.Name, "", "account listed twice")
		}
		state := &accountState{
			permissions: make(map[PermissionName]Permission, len(accountDocument.Permissions)),
			links:       make(map[linkKey]PermissionName, len(accountDocument.Links)),
		}
		for _, permission := range accountDocument.Permissions {
			if permission.Name == "" {
				return nil, graphError(ReasonInvalidOperation, accountDocument.Name, "", "permission name is empty")
			}
			if _, duplicate := state.permissions[permission.Name]; duplicate {
				return nil, graphError(ReasonInvalidOperation, accountDocument.Name, permission.Name, "permission listed twice")
			}
			state.permissions[permission.Name] = Permission{
				Account:   accountDocument.Name,
				Name:      permission.Name,
				Parent:    permission.Parent,
				Authority: permission.Authority.normalized(),
			}
		}
		for _, link := range accountDocument.Links {
			key := linkKey{code: link.Code, actionType: link.Type}
			if _, duplicate := state.links[key]; duplicate {
				return nil, graphError(ReasonInvalidOperation, accountDocument.Name, link.Permission,
					"link %s::%s listed twice", link.Code, link.Type)
			}
			state.links[key] = link.Permission
		}
		graph.accounts[accountDocument.Name] = state
	}

	for _, account := range graph.Accounts() {
		for _, permission := range graph.Permissions(account) {
			if err := checkEntries(permission); err != nil {
				return nil, err
			}
		}
	}
	if err := graph.Check(); err != nil {
		return nil, err
	}
	return graph, nil
}

// checkEntries rejects duplicate or zero-weight authority entries,
// which Check does not look for because Apply never installs them.
func checkEntries(permission Permission) error {
	keys := make(map[string]bool)
	for _, key := range permission.Authority.Keys {
		if key.Key == "" || key.Weight == 0 || keys[key.Key] {
			return graphError(ReasonInvalidOperation, permission.Account, permission.Name, "invalid or duplicate key entry %q", key.Key)
		}
		keys[key.Key] = true
	}
	levels := make(map[PermissionLevel]bool)
	for _, delegate := range permission.Authority.Accounts {
		if delegate.Weight == 0 || levels[delegate.Level] {
			return graphError(ReasonInvalidOperation, permission.Account, permission.Name, "invalid or duplicate delegate %s", delegate.Level)
		}
		levels[delegate.Level] = true
	}
	return nil
}
