// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"fmt"
	"sort"
	"strings"
)

// AccountName identifies an account.
type AccountName string

// PermissionName names a permission within an account.
type PermissionName string

// ActionName names a contract action type.
type ActionName string

const (
	// Owner is the root permission of every account. It has no parent
	// and cannot be revoked or reparented.
	Owner PermissionName = "owner"

	// Active is the default permission for actions that have no link.
	// It cannot be revoked.
	Active PermissionName = "active"

	// AnyAction is the wildcard action type: a link with this type
	// binds every action of the linked contract code.
	AnyAction ActionName = "*"
)

// PermissionLevel is an account@permission pair. Its text form is
// "account@permission", used in JSON files, CBOR records, and CLI
// flags.
type PermissionLevel struct {
	Actor      AccountName
	Permission PermissionName
}

// String returns "account@permission".
func (l PermissionLevel) String() string {
	return string(l.Actor) + "@" + string(l.Permission)
}

// IsZero reports whether l is the zero level.
func (l PermissionLevel) IsZero() bool {
	return l.Actor == "" && l.Permission == ""
}

// MarshalText implements encoding.TextMarshaler.
func (l PermissionLevel) MarshalText() ([]byte, error) {
	if l.IsZero() {
		return []byte{}, nil
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *PermissionLevel) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*l = PermissionLevel{}
		return nil
	}
	parsed, err := ParsePermissionLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParsePermissionLevel parses "account@permission".
func ParsePermissionLevel(text string) (PermissionLevel, error) {
	actor, permission, found := strings.Cut(text, "@")
	if !found || actor == "" || permission == "" || strings.Contains(permission, "@") {
		return PermissionLevel{}, fmt.Errorf("authority: invalid permission level %q (want account@permission)", text)
	}
	return PermissionLevel{Actor: AccountName(actor), Permission: PermissionName(permission)}, nil
}

// KeyWeight is a public key entry in an authority. The key is an
// opaque string; signature verification is outside this package.
type KeyWeight struct {
	Key    string `json:"key"`
	Weight uint16 `json:"weight"`
}

// LevelWeight is a delegation entry: the named permission, satisfied
// by its own authority, contributes Weight to this authority.
type LevelWeight struct {
	Level  PermissionLevel `json:"permission"`
	Weight uint16          `json:"weight"`
}

// Authority is a weighted set of keys and delegated permission levels
// plus the total weight required to satisfy it.
type Authority struct {
	Threshold uint32        `json:"threshold"`
	Keys      []KeyWeight   `json:"keys,omitempty"`
	Accounts  []LevelWeight `json:"accounts,omitempty"`
}

// TotalWeight returns the sum of every entry's weight.
func (a Authority) TotalWeight() uint64 {
	var total uint64
	for _, key := range a.Keys {
		total += uint64(key.Weight)
	}
	for _, account := range a.Accounts {
		total += uint64(account.Weight)
	}
	return total
}

// Clone returns a deep copy of a.
func (a Authority) Clone() Authority {
	clone := Authority{Threshold: a.Threshold}
	if len(a.Keys) > 0 {
		clone.Keys = append([]KeyWeight(nil), a.Keys...)
	}
	if len(a.Accounts) > 0 {
		clone.Accounts = append([]LevelWeight(nil), a.Accounts...)
	}
	return clone
}

// normalized returns a sorted deep copy of a. Sorting makes snapshot
// documents and fingerprints independent of entry order.
func (a Authority) normalized() Authority {
	clone := a.Clone()
	sort.Slice(clone.Keys, func(i, j int) bool { return clone.Keys[i].Key < clone.Keys[j].Key })
	sort.Slice(clone.Accounts, func(i, j int) bool {
		return clone.Accounts[i].Level.String() < clone.Accounts[j].Level.String()
	})
	return clone
}

// KeyAuthority returns a single-key authority with threshold 1.
func KeyAuthority(key string) Authority {
	return Authority{Threshold: 1, Keys: []KeyWeight{{Key: key, Weight: 1}}}
}

// LevelAuthority returns a single-delegate authority with threshold 1,
// e.g. LevelAuthority(PermissionLevel{"eosio", "active"}).
func LevelAuthority(level PermissionLevel) Authority {
	return Authority{Threshold: 1, Accounts: []LevelWeight{{Level: level, Weight: 1}}}
}

// Permission is a named node in an account's permission tree.
type Permission struct {
	Account   AccountName
	Name      PermissionName
	Parent    PermissionName
	Authority Authority
}

// Level returns the permission's account@permission level.
func (p Permission) Level() PermissionLevel {
	return PermissionLevel{Actor: p.Account, Permission: p.Name}
}

// ActionLink binds a contract action (or, with [AnyAction], every
// action of a contract) on an account to the permission required to
// authorize it.
type ActionLink struct {
	Account    AccountName
	Code       AccountName
	Type       ActionName
	Permission PermissionName
}

func (l ActionLink) String() string {
	return fmt.Sprintf("%s:%s::%s->%s", l.Account, l.Code, l.Type, l.Permission)
}
