// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"

	"filippo.io/age"

	"github.com/bureau-foundation/quorum/lib/proposal"
	"github.com/bureau-foundation/quorum/lib/signer"
)

func runApprove(ctx context.Context, inv *invocation, args []string) error {
	var id, identity, ageIdentityFile string
	var keyPaths []string
	var useAgent bool
	flagSet := inv.flagSet()
	flagSet.StringVar(&id, "proposal", "", "proposal id")
	flagSet.StringArrayVar(&keyPaths, "key", nil, "ed25519 private key file or key directory; repeatable (default: signing.key_dir)")
	flagSet.StringVar(&ageIdentityFile, "age-identity", "", "age identity file that opens sealed keys (default: signing.age_identity_file)")
	flagSet.BoolVar(&useAgent, "ssh-agent", false, "also sign with ed25519 keys held by the ssh-agent at $SSH_AUTH_SOCK")
	flagSet.StringVar(&identity, "permission", "", "only approve for this policy entry: a key identity or a delegated account@permission")
	if proceed, err := inv.parse(flagSet, args); !proceed {
		return err
	}
	if err := requireFlag("proposal", id); err != nil {
		return err
	}
	if len(keyPaths) == 0 && !useAgent && inv.config.Signing.KeyDir != "" {
		keyPaths = []string{inv.config.Signing.KeyDir}
	}
	if len(keyPaths) == 0 && !useAgent {
		return validation("no signing keys").
			WithHint("Pass --key or --ssh-agent, or set signing.key_dir in quorum.yaml. Create a key with 'quorum keygen'.")
	}
	if ageIdentityFile == "" {
		ageIdentityFile = inv.config.Signing.AgeIdentityFile
	}
	timeout, err := inv.config.SigningTimeout()
	if err != nil {
		return validation("%w", err)
	}

	keyring, err := loadKeyring(keyPaths, ageIdentityFile)
	if err != nil {
		return err
	}
	defer keyring.Close()

	held := make(map[string]bool)
	for _, key := range keyring.Identities() {
		held[key] = true
	}
	chain := signer.Chain{keyring}
	if useAgent {
		agentSigner, conn, err := signer.DialAgent("")
		if err != nil {
			return (&commandError{Category: categoryTransient, Err: err}).
				WithHint("Start an ssh-agent and add your ed25519 key with ssh-add.")
		}
		defer conn.Close()
		agentKeys, err := agentSigner.Identities()
		if err != nil {
			return classify(err)
		}
		for _, key := range agentKeys {
			held[key] = true
		}
		chain = append(chain, agentSigner)
	}

	engine, closeStore, err := inv.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	current, err := engine.Get(id)
	if err != nil {
		return classify(err)
	}
	entries := current.Policy.Entries
	if identity != "" {
		entry, ok := current.Policy.Entry(identity)
		if !ok {
			return validation("%q is not an entry of the policy for proposal %s", identity, id)
		}
		entries = []proposal.PolicyEntry{entry}
	}

	accepted := 0
	var failures []error
	for _, entry := range entries {
		if current.Status != proposal.StatusProposed && current.Status != proposal.StatusApproving {
			break
		}
		if current.HasApproved(entry.Identity) || !canSign(entry, held) {
			continue
		}
		logger := inv.logger.With("proposal_id", id, "approver", entry.Identity)
		next, err := engine.Collect(ctx, id, signer.FromEntry(entry, chain, timeout))
		if err != nil {
			logger.Warn("approval not recorded", "error", err)
			failures = append(failures, err)
			continue
		}
		logger.Info("approval recorded", "weight", next.Weight, "threshold", next.Policy.Threshold, "status", next.Status)
		accepted++
		current = next
	}

	if accepted == 0 {
		if len(failures) > 0 {
			return classify(errors.Join(failures...))
		}
		if current.Status.Terminal() || current.Status == proposal.StatusExecutable {
			return (&commandError{Category: categoryConflict, Err: errors.New("proposal " + id + " is " + string(current.Status))}).
				WithHint("Only proposed or approving proposals accept approvals.")
		}
		return validation("none of the loaded keys can approve an outstanding entry of proposal %s", id).
			WithHint("Run 'quorum status --proposal " + id + "' to see the policy and existing approvals.")
	}
	return inv.writeJSON(current.Record())
}

// canSign reports whether any leaf under entry is one of the held key
// identities.
func canSign(entry proposal.PolicyEntry, held map[string]bool) bool {
	if entry.Sub == nil {
		return held[entry.Identity]
	}
	for _, member := range entry.Sub.Entries {
		if canSign(member, held) {
			return true
		}
	}
	return false
}

// loadKeyring loads every key path into a keyring, opening sealed keys
// with the identities in ageIdentityFile.
func loadKeyring(keyPaths []string, ageIdentityFile string) (*signer.Ed25519Keyring, error) {
	var identities []age.Identity
	if ageIdentityFile != "" {
		var err error
		identities, err = signer.ReadSealingIdentities(ageIdentityFile)
		if err != nil {
			return nil, validation("--age-identity: %w", err)
		}
	}

	keyring := signer.NewEd25519Keyring()
	for _, path := range keyPaths {
		key, err := signer.LoadPrivateKey(path, identities)
		if err != nil {
			keyring.Close()
			if errors.Is(err, signer.ErrSealedKey) {
				return nil, validation("--key %s: %w", path, err).
					WithHint("Pass --age-identity with an identity the key was sealed to, or set signing.age_identity_file.")
			}
			return nil, validation("--key %s: %w", path, err)
		}
		if _, err := keyring.AddSecret(key); err != nil {
			key.Close()
			keyring.Close()
			return nil, validation("--key %s: %w", path, err)
		}
	}
	return keyring, nil
}
