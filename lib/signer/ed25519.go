// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bureau-foundation/quorum/lib/secret"
)

// ed25519Prefix starts every ed25519 key identity.
const ed25519Prefix = "ed25519:"

// IdentityFor returns the identity of an ed25519 public key.
func IdentityFor(public ed25519.PublicKey) string {
	return ed25519Prefix + hex.EncodeToString(public)
}

// ParseIdentity returns the public key named by an ed25519 identity.
func ParseIdentity(identity string) (ed25519.PublicKey, error) {
	encoded, ok := strings.CutPrefix(identity, ed25519Prefix)
	if !ok {
		return nil, fmt.Errorf("signer: identity %q is not an ed25519 key", identity)
	}
	decoded, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("signer: identity %q: %w", identity, err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signer: identity %q has %d key bytes, want %d", identity, len(decoded), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(decoded), nil
}

// Ed25519Keyring is a Signer holding ed25519 private keys by identity.
// Keys live in locked secret buffers; Close releases them.
type Ed25519Keyring struct {
	mu   sync.RWMutex
	keys map[string]*secret.Buffer
}

// NewEd25519Keyring returns an empty keyring.
func NewEd25519Keyring() *Ed25519Keyring {
	return &Ed25519Keyring{keys: make(map[string]*secret.Buffer)}
}

// Add copies private into the keyring and returns its identity.
func (k *Ed25519Keyring) Add(private ed25519.PrivateKey) (string, error) {
	key, err := secret.Copy(private)
	if err != nil {
		return "", fmt.Errorf("signer: storing key: %w", err)
	}
	identity, err := k.AddSecret(key)
	if err != nil {
		key.Close()
		return "", err
	}
	return identity, nil
}

// AddSecret takes ownership of key, a 64-byte ed25519 private key, and
// returns its identity. Adding an identity already held replaces it.
func (k *Ed25519Keyring) AddSecret(key *secret.Buffer) (string, error) {
	if key.Len() != ed25519.PrivateKeySize {
		return "", fmt.Errorf("signer: private key has %d bytes, want %d", key.Len(), ed25519.PrivateKeySize)
	}
	identity := IdentityFor(ed25519.PrivateKey(key.Bytes()).Public().(ed25519.PublicKey))
	k.mu.Lock()
	defer k.mu.Unlock()
	if previous, ok := k.keys[identity]; ok {
		previous.Close()
	}
	k.keys[identity] = key
	return identity, nil
}

// Identities returns the identities the keyring can sign for, sorted.
func (k *Ed25519Keyring) Identities() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	identities := make([]string, 0, len(k.keys))
	for identity := range k.keys {
		identities = append(identities, identity)
	}
	sort.Strings(identities)
	return identities
}

// Sign signs payload with identity's key. An identity the keyring does
// not hold is denied.
func (k *Ed25519Keyring) Sign(ctx context.Context, identity string, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[identity]
	if !ok {
		return nil, fmt.Errorf("%w: no key for %s", ErrSigningDenied, identity)
	}
	return ed25519.Sign(ed25519.PrivateKey(key.Bytes()), payload), nil
}

// Close zeroes and releases every key. The keyring is empty afterwards.
func (k *Ed25519Keyring) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var errs []error
	for identity, key := range k.keys {
		if err := key.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(k.keys, identity)
	}
	return errors.Join(errs...)
}

// Ed25519Verifier verifies signatures from ed25519 identities. It
// implements proposal.Verifier.
type Ed25519Verifier struct{}

var errBadSignature = errors.New("signer: ed25519 signature does not verify")

func (Ed25519Verifier) Verify(identity string, payload, signature []byte) error {
	public, err := ParseIdentity(identity)
	if err != nil {
		return err
	}
	if !ed25519.Verify(public, payload, signature) {
		return errBadSignature
	}
	return nil
}
