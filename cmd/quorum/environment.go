// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/quorum/lib/codec"
	"github.com/bureau-foundation/quorum/lib/config"
	"github.com/bureau-foundation/quorum/lib/proposal"
	"github.com/bureau-foundation/quorum/lib/proposalstore"
	"github.com/bureau-foundation/quorum/lib/signer"
)

// openStore opens the configured proposal store. The returned close
// function is never nil.
func (inv *invocation) openStore(ctx context.Context) (proposal.Store, func(), error) {
	cfg := inv.config
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		if err := cfg.EnsurePaths(); err != nil {
			return nil, nil, internal("%w", err)
		}
		store, err := proposalstore.OpenSQLite(proposalstore.SQLiteConfig{
			Path:   cfg.SQLitePath(),
			Logger: inv.logger,
		})
		if err != nil {
			return nil, nil, internal("%w", err)
		}
		return store, func() { store.Close() }, nil

	case config.BackendRedis:
		store, err := proposalstore.OpenRedis(ctx, proposalstore.RedisConfig{
			Addr:      cfg.Store.RedisAddr,
			Password:  cfg.Store.RedisPassword,
			DB:        cfg.Store.RedisDB,
			KeyPrefix: cfg.Store.RedisKeyPrefix,
			Logger:    inv.logger,
		})
		if err != nil {
			return nil, nil, (&commandError{Category: categoryTransient, Err: err}).
				WithHint(fmt.Sprintf("Check that Redis is reachable at %s (store.redis_addr).", cfg.Store.RedisAddr))
		}
		return store, func() { store.Close() }, nil

	default:
		inv.logger.Warn("memory store selected; proposals are lost when this command exits")
		return proposal.NewMemoryStore(), func() {}, nil
	}
}

// openEngine opens the store and returns an engine that has resumed
// every stored proposal.
func (inv *invocation) openEngine(ctx context.Context) (*proposal.Engine, func(), error) {
	store, closeStore, err := inv.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	ttl, err := inv.config.ProposalTTL()
	if err != nil {
		closeStore()
		return nil, nil, validation("%w", err)
	}
	engine, err := proposal.NewEngine(proposal.Config{
		Logger:      inv.logger,
		Verifier:    signer.Ed25519Verifier{},
		Store:       store,
		Broadcaster: &fileBroadcaster{dir: filepath.Join(inv.config.Paths.State, "submitted")},
		DefaultTTL:  ttl,
	})
	if err != nil {
		closeStore()
		return nil, nil, internal("%w", err)
	}
	if _, err := engine.Resume(ctx); err != nil {
		closeStore()
		return nil, nil, internal("%w", err)
	}
	return engine, closeStore, nil
}

// writeJSON writes value as indented JSON to the command's stdout.
func (inv *invocation) writeJSON(value any) error {
	encoder := json.NewEncoder(inv.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// fileBroadcaster hands signed batches off by writing them, CBOR
// encoded, into a spool directory that the submitting node tooling
// picks up. The submission reference is the written path.
type fileBroadcaster struct {
	dir string
}

func (b *fileBroadcaster) Broadcast(ctx context.Context, batch proposal.SignedBatch) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := codec.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("encoding signed batch: %w", err)
	}
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", b.dir, err)
	}
	path := filepath.Join(b.dir, batch.ProposalID+".cbor")
	temporary := path + ".tmp"
	if err := os.WriteFile(temporary, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", temporary, err)
	}
	if err := os.Rename(temporary, path); err != nil {
		os.Remove(temporary)
		return "", fmt.Errorf("renaming %s: %w", temporary, err)
	}
	return path, nil
}
