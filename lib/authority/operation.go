// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import "fmt"

// OperationKind tags an [Operation].
type OperationKind string

const (
	KindLinkAction         OperationKind = "link_action"
	KindUnlinkAction       OperationKind = "unlink_action"
	KindGrantPermission    OperationKind = "grant_permission"
	KindRevokePermission   OperationKind = "revoke_permission"
	KindReparentPermission OperationKind = "reparent_permission"
)

// Operation is one step of a batch. It is a tagged struct rather than
// an interface so batches encode stably in JSON files and CBOR
// records; which fields are meaningful depends on Kind:
//
//	link_action          Account, Code, Type, Permission
//	unlink_action        Account, Code, Type
//	grant_permission     Account, Permission, Parent, Authority
//	revoke_permission    Account, Permission
//	reparent_permission  Account, Permission, Parent
//
// Build operations with the constructor functions ([LinkAction],
// [GrantPermission], ...) rather than by hand.
type Operation struct {
	Kind       OperationKind  `json:"kind"`
	Account    AccountName    `json:"account"`
	Permission PermissionName `json:"permission,omitempty"`
	Parent     PermissionName `json:"parent,omitempty"`
	Code       AccountName    `json:"code,omitempty"`
	Type       ActionName     `json:"type,omitempty"`
	Authority  *Authority     `json:"authority,omitempty"`
}

// LinkAction binds code::actionType on account to permission. An
// existing link for the same (code, actionType) is re-targeted.
func LinkAction(account, code AccountName, actionType ActionName, permission PermissionName) Operation {
	return Operation{Kind: KindLinkAction, Account: account, Code: code, Type: actionType, Permission: permission}
}

// UnlinkAction removes the link for code::actionType on account.
func UnlinkAction(account, code AccountName, actionType ActionName) Operation {
	return Operation{Kind: KindUnlinkAction, Account: account, Code: code, Type: actionType}
}

// GrantPermission creates permission under parent, or replaces the
// authority (and possibly the parent) of an existing permission. The
// owner permission takes an empty parent.
func GrantPermission(account AccountName, permission, parent PermissionName, authority Authority) Operation {
	clone := authority.Clone()
	return Operation{Kind: KindGrantPermission, Account: account, Permission: permission, Parent: parent, Authority: &clone}
}

// RevokePermission deletes permission from account.
func RevokePermission(account AccountName, permission PermissionName) Operation {
	return Operation{Kind: KindRevokePermission, Account: account, Permission: permission}
}

// ReparentPermission moves permission under newParent.
func ReparentPermission(account AccountName, permission, newParent PermissionName) Operation {
	return Operation{Kind: KindReparentPermission, Account: account, Permission: permission, Parent: newParent}
}

// String renders the operation the way migration logs print it.
func (o Operation) String() string {
	switch o.Kind {
	case KindLinkAction:
		return fmt.Sprintf("link %s %s::%s -> %s", o.Account, o.Code, o.Type, o.Permission)
	case KindUnlinkAction:
		return fmt.Sprintf("unlink %s %s::%s", o.Account, o.Code, o.Type)
	case KindGrantPermission:
		return fmt.Sprintf("grant %s@%s (parent %q)", o.Account, o.Permission, o.Parent)
	case KindRevokePermission:
		return fmt.Sprintf("revoke %s@%s", o.Account, o.Permission)
	case KindReparentPermission:
		return fmt.Sprintf("reparent %s@%s -> %s", o.Account, o.Permission, o.Parent)
	default:
		return fmt.Sprintf("unknown operation %q", o.Kind)
	}
}

// Validate checks that the fields required by Kind are present. It
// does not consult any graph.
func (o Operation) Validate() error {
	if o.Account == "" {
		return graphError(ReasonInvalidOperation, "", "", "%s: account is required", o.Kind)
	}
	missing := func(field string) error {
		return graphError(ReasonInvalidOperation, o.Account, o.Permission, "%s: %s is required", o.Kind, field)
	}
	switch o.Kind {
	case KindLinkAction:
		if o.Code == "" {
			return missing("code")
		}
		if o.Type == "" {
			return missing("type")
		}
		if o.Permission == "" {
			return missing("permission")
		}
	case KindUnlinkAction:
		if o.Code == "" {
			return missing("code")
		}
		if o.Type == "" {
			return missing("type")
		}
	case KindGrantPermission:
		if o.Permission == "" {
			return missing("permission")
		}
		if o.Authority == nil {
			return missing("authority")
		}
	case KindRevokePermission:
		if o.Permission == "" {
			return missing("permission")
		}
	case KindReparentPermission:
		if o.Permission == "" {
			return missing("permission")
		}
		if o.Parent == "" {
			return missing("parent")
		}
	default:
		return graphError(ReasonInvalidOperation, o.Account, o.Permission, "unknown operation kind %q", o.Kind)
	}
	return nil
}
