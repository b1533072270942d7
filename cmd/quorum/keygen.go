// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bureau-foundation/quorum/lib/secret"
	"github.com/bureau-foundation/quorum/lib/signer"
)

func runKeygen(ctx context.Context, inv *invocation, args []string) error {
	var outDir, ageOut string
	var sealTo []string
	flagSet := inv.flagSet()
	flagSet.StringVar(&outDir, "out", "", "directory to write the key pair into (default: signing.key_dir)")
	flagSet.StringArrayVar(&sealTo, "seal-to", nil, "age recipient (age1...) to seal the private key to; repeatable")
	flagSet.StringVar(&ageOut, "age-identity", "", "instead of a signing key, write a new age identity for sealing keys to this file")
	if proceed, err := inv.parse(flagSet, args); !proceed {
		return err
	}

	if ageOut != "" {
		recipient, err := signer.GenerateSealingIdentity(ageOut)
		if err != nil {
			return internal("%w", err)
		}
		inv.logger.Info("age identity written", "path", ageOut)
		fmt.Fprintln(inv.stdout, recipient)
		return nil
	}

	if outDir == "" {
		outDir = inv.config.Signing.KeyDir
	}
	if outDir == "" {
		return validation("--out is required when signing.key_dir is not set")
	}
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return internal("creating %s: %w", outDir, err)
	}
	public, private, err := signer.GenerateKeypair()
	if err != nil {
		return internal("%w", err)
	}
	if len(sealTo) > 0 {
		err = signer.SaveSealedKeypair(outDir, public, private, sealTo)
	} else {
		err = signer.SaveKeypair(outDir, public, private)
	}
	secret.Zero(private)
	if err != nil {
		return internal("%w", err)
	}
	identity := signer.IdentityFor(public)
	inv.logger.Info("signing key written", "dir", outDir, "identity", identity, "sealed", len(sealTo) > 0)
	fmt.Fprintln(inv.stdout, identity)
	return nil
}
