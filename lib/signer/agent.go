// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentSigner signs with ed25519 keys held by an ssh-agent, so
// approvers can keep keys on hardware tokens or in an agent that never
// exposes them. An ssh-ed25519 signature blob is a plain ed25519
// signature over the payload, so Ed25519Verifier accepts it.
type AgentSigner struct {
	Agent agent.Agent
}

// DialAgent connects to the agent at socket, or at $SSH_AUTH_SOCK when
// socket is empty. Close the returned connection when done.
func DialAgent(socket string) (*AgentSigner, net.Conn, error) {
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}
	if socket == "" {
		return nil, nil, fmt.Errorf("signer: no ssh-agent socket (SSH_AUTH_SOCK is not set)")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, nil, fmt.Errorf("signer: connecting to ssh-agent: %w", err)
	}
	return &AgentSigner{Agent: agent.NewClient(conn)}, conn, nil
}

// Identities returns the identities of the agent's ed25519 keys.
func (s *AgentSigner) Identities() ([]string, error) {
	keys, err := s.Agent.List()
	if err != nil {
		return nil, fmt.Errorf("signer: listing ssh-agent keys: %w", err)
	}
	var identities []string
	for _, key := range keys {
		if key.Type() != ssh.KeyAlgoED25519 {
			continue
		}
		parsed, err := ssh.ParsePublicKey(key.Marshal())
		if err != nil {
			return nil, fmt.Errorf("signer: parsing ssh-agent key %s: %w", key.Comment, err)
		}
		cryptoKey, ok := parsed.(ssh.CryptoPublicKey)
		if !ok {
			continue
		}
		if public, ok := cryptoKey.CryptoPublicKey().(ed25519.PublicKey); ok {
			identities = append(identities, IdentityFor(public))
		}
	}
	return identities, nil
}

// Sign asks the agent to sign payload with identity's key. Identities
// the agent does not hold are denied.
func (s *AgentSigner) Sign(ctx context.Context, identity string, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	public, err := ParseIdentity(identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningDenied, err)
	}
	key, err := ssh.NewPublicKey(public)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningDenied, err)
	}

	held, err := s.Agent.List()
	if err != nil {
		return nil, fmt.Errorf("%w: listing ssh-agent keys: %v", ErrSigningUnavailable, err)
	}
	if !containsKey(held, key) {
		return nil, fmt.Errorf("%w: ssh-agent has no key for %s", ErrSigningDenied, identity)
	}

	signature, err := s.Agent.Sign(key, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: ssh-agent: %v", ErrSigningUnavailable, err)
	}
	if signature.Format != ssh.KeyAlgoED25519 {
		return nil, fmt.Errorf("%w: ssh-agent returned a %s signature", ErrSigningUnavailable, signature.Format)
	}
	return signature.Blob, nil
}

func containsKey(keys []*agent.Key, want ssh.PublicKey) bool {
	wire := want.Marshal()
	for _, key := range keys {
		if bytes.Equal(key.Marshal(), wire) {
			return true
		}
	}
	return false
}

// Chain tries each Signer in order and moves on when one denies the
// identity. Any other failure stops the chain.
type Chain []Signer

func (c Chain) Sign(ctx context.Context, identity string, payload []byte) ([]byte, error) {
	for _, signer := range c {
		signature, err := signer.Sign(ctx, identity, payload)
		if err == nil {
			return signature, nil
		}
		if !errors.Is(err, ErrSigningDenied) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no signer holds %s", ErrSigningDenied, identity)
}
