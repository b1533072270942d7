// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposalstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/quorum/lib/proposal"
)

// DefaultKeyPrefix namespaces the Redis keys of a store.
const DefaultKeyPrefix = "quorum:"

// RedisConfig configures [OpenRedis].
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	Logger *slog.Logger
}

// Redis is a proposal.Store backed by Redis. Each record lives at
// <prefix>proposal:<id>; the set <prefix>proposals indexes the ids.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ proposal.Store = (*Redis)(nil)

// OpenRedis connects to config.Addr and pings it.
func OpenRedis(ctx context.Context, config RedisConfig) (*Redis, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("proposalstore: Redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	pingContext, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingContext).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("proposalstore: connecting to redis at %s: %w", config.Addr, err)
	}
	store := NewRedis(client, config.KeyPrefix, config.Logger)
	store.logger.Info("proposal redis connected", "addr", config.Addr, "db", config.DB)
	return store, nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Redis{client: client, prefix: prefix, logger: logger}
}

// Close closes the client.
func (s *Redis) Close() error {
	return s.client.Close()
}

func (s *Redis) recordKey(id string) string { return s.prefix + "proposal:" + id }

func (s *Redis) indexKey() string { return s.prefix + "proposals" }

// Save writes record if the stored revision is record.Revision-1 (no
// key counts as revision 0) and indexes its id. The key is watched, so
// a write by another client between the check and the commit fails
// the transaction.
func (s *Redis) Save(ctx context.Context, record proposal.Record) error {
	if record.Revision == 0 {
		return fmt.Errorf("proposalstore: save %s: record has no revision", record.ProposalID)
	}
	data, err := proposal.EncodeRecord(record)
	if err != nil {
		return err
	}
	key := s.recordKey(record.ProposalID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := storedRevision(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored != record.Revision-1 {
			return fmt.Errorf("%w: %s stored at revision %d, saving %d",
				proposal.ErrRevisionConflict, record.ProposalID, stored, record.Revision)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.indexKey(), record.ProposalID)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s changed during save", proposal.ErrRevisionConflict, record.ProposalID)
	}
	if err != nil {
		return fmt.Errorf("proposalstore: save %s: %w", record.ProposalID, err)
	}
	return nil
}

func storedRevision(ctx context.Context, tx *redis.Tx, key string) (uint64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	record, err := proposal.DecodeRecord(data)
	if err != nil {
		return 0, err
	}
	return record.Revision, nil
}

// Load returns the record for id, or an error wrapping
// proposal.ErrRecordNotFound.
func (s *Redis) Load(ctx context.Context, id string) (proposal.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return proposal.Record{}, fmt.Errorf("%w: %s", proposal.ErrRecordNotFound, id)
	}
	if err != nil {
		return proposal.Record{}, fmt.Errorf("proposalstore: load %s: %w", id, err)
	}
	return proposal.DecodeRecord(data)
}

// List returns every indexed record, ordered by creation time. Ids in
// the index whose record is gone are skipped.
func (s *Redis) List(ctx context.Context) ([]proposal.Record, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("proposalstore: list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("proposalstore: list: %w", err)
	}

	records := make([]proposal.Record, 0, len(values))
	for i, value := range values {
		encoded, ok := value.(string)
		if !ok {
			s.logger.Warn("indexed proposal has no record", "proposal_id", ids[i])
			continue
		}
		record, err := proposal.DecodeRecord([]byte(encoded))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ProposalID < records[j].ProposalID
	})
	return records, nil
}
