// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"

	"golang.org/x/crypto/ssh/agent"
)

func TestAgentSigner(t *testing.T) {
	sshAgent := agent.NewKeyring()
	private := newKey(t)
	if err := sshAgent.Add(agent.AddedKey{PrivateKey: private, Comment: "prod1"}); err != nil {
		t.Fatalf("adding ed25519 key to agent: %v", err)
	}
	ecdsaKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating ecdsa key: %v", err)
	}
	if err := sshAgent.Add(agent.AddedKey{PrivateKey: ecdsaKey, Comment: "not-ed25519"}); err != nil {
		t.Fatalf("adding ecdsa key to agent: %v", err)
	}

	signer := &AgentSigner{Agent: sshAgent}
	identities, err := signer.Identities()
	if err != nil {
		t.Fatalf("Identities: %v", err)
	}
	want := IdentityFor(private.Public().(ed25519.PublicKey))
	if len(identities) != 1 || identities[0] != want {
		t.Fatalf("Identities = %v, want [%s]", identities, want)
	}

	signature, err := signer.Sign(context.Background(), want, []byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := (Ed25519Verifier{}).Verify(want, []byte("payload"), signature); err != nil {
		t.Errorf("agent signature does not verify: %v", err)
	}

	stranger := IdentityFor(newKey(t).Public().(ed25519.PublicKey))
	if _, err := signer.Sign(context.Background(), stranger, []byte("payload")); !errors.Is(err, ErrSigningDenied) {
		t.Errorf("Sign for a key the agent lacks error = %v, want ErrSigningDenied", err)
	}
	if _, err := signer.Sign(context.Background(), "k:alice", []byte("payload")); !errors.Is(err, ErrSigningDenied) {
		t.Errorf("Sign for a non-ed25519 identity error = %v, want ErrSigningDenied", err)
	}
}

func TestChain(t *testing.T) {
	first := newKeyring(t)
	second := newKeyring(t)
	inFirst := addKey(t, first)
	inSecond := addKey(t, second)
	chain := Chain{first, second}

	for _, identity := range []string{inFirst, inSecond} {
		signature, err := chain.Sign(context.Background(), identity, []byte("payload"))
		if err != nil {
			t.Fatalf("Sign(%s): %v", identity, err)
		}
		if err := (Ed25519Verifier{}).Verify(identity, []byte("payload"), signature); err != nil {
			t.Errorf("Verify(%s): %v", identity, err)
		}
	}

	stranger := IdentityFor(newKey(t).Public().(ed25519.PublicKey))
	if _, err := chain.Sign(context.Background(), stranger, []byte("payload")); !errors.Is(err, ErrSigningDenied) {
		t.Errorf("Sign for an unknown key error = %v, want ErrSigningDenied", err)
	}

	unavailable := Chain{failingSigner{}, first}
	if _, err := unavailable.Sign(context.Background(), inFirst, []byte("payload")); !errors.Is(err, ErrSigningUnavailable) {
		t.Errorf("chain with a broken signer error = %v, want ErrSigningUnavailable", err)
	}
}

type failingSigner struct{}

func (failingSigner) Sign(ctx context.Context, identity string, payload []byte) ([]byte, error) {
	return nil, ErrSigningUnavailable
}
