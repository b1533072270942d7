// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proposalstore

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/quorum/lib/proposal"
)

// SQLiteConfig configures [OpenSQLite].
type SQLiteConfig struct {
	// Path is the database file. The parent directory must exist; the
	// file is created if missing.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 4.
	PoolSize int

	Logger *slog.Logger
}

// SQLite is a proposal.Store backed by a SQLite database.
type SQLite struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

var _ proposal.Store = (*SQLite)(nil)

const schema = `CREATE TABLE IF NOT EXISTS proposals (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	revision   INTEGER NOT NULL,
	record     BLOB NOT NULL
)`

// connectionPragmas are applied to every pooled connection. WAL lets
// readers proceed while a writer commits.
var connectionPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// OpenSQLite opens (creating if needed) the proposal database at
// config.Path. The caller must Close it.
func OpenSQLite(config SQLiteConfig) (*SQLite, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("proposalstore: SQLite path is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("proposalstore: opening %s: %w", config.Path, err)
	}
	logger.Info("proposal database opened", "path", config.Path, "pool_size", poolSize)
	return &SQLite{pool: pool, logger: logger, path: config.Path}, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	for _, pragma := range connectionPragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("proposalstore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteTransient(conn, schema, nil); err != nil {
		return fmt.Errorf("proposalstore: creating schema: %w", err)
	}
	return nil
}

// Close closes every pooled connection, waiting for borrowed ones.
func (s *SQLite) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("closing proposal database", "path", s.path, "error", err)
		return fmt.Errorf("proposalstore: closing %s: %w", s.path, err)
	}
	return nil
}

// Save inserts record at revision 1 or updates the stored record at
// record.Revision-1. Any other stored revision is a conflict. Each
// case is a single statement, so writers in other processes are
// serialized by SQLite's write lock.
func (s *SQLite) Save(ctx context.Context, record proposal.Record) error {
	if record.Revision == 0 {
		return fmt.Errorf("proposalstore: save %s: record has no revision", record.ProposalID)
	}
	data, err := proposal.EncodeRecord(record)
	if err != nil {
		return err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("proposalstore: save %s: %w", record.ProposalID, err)
	}
	defer s.pool.Put(conn)

	if record.Revision == 1 {
		err = sqlitex.Execute(conn,
			`INSERT INTO proposals (id, status, created_at, revision, record) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			&sqlitex.ExecOptions{
				Args: []any{
					record.ProposalID,
					string(record.Status),
					record.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"),
					int64(record.Revision),
					data,
				},
			})
	} else {
		err = sqlitex.Execute(conn,
			"UPDATE proposals SET status = ?, revision = ?, record = ? WHERE id = ? AND revision = ?",
			&sqlitex.ExecOptions{
				Args: []any{
					string(record.Status),
					int64(record.Revision),
					data,
					record.ProposalID,
					int64(record.Revision - 1),
				},
			})
	}
	if err != nil {
		return fmt.Errorf("proposalstore: save %s: %w", record.ProposalID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s revision %d", proposal.ErrRevisionConflict, record.ProposalID, record.Revision)
	}
	return nil
}

// Load returns the record for id, or an error wrapping
// proposal.ErrRecordNotFound.
func (s *SQLite) Load(ctx context.Context, id string) (proposal.Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return proposal.Record{}, fmt.Errorf("proposalstore: load %s: %w", id, err)
	}
	defer s.pool.Put(conn)

	var data []byte
	err = sqlitex.Execute(conn, "SELECT record FROM proposals WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			data = columnBlob(stmt, 0)
			return nil
		},
	})
	if err != nil {
		return proposal.Record{}, fmt.Errorf("proposalstore: load %s: %w", id, err)
	}
	if data == nil {
		return proposal.Record{}, fmt.Errorf("%w: %s", proposal.ErrRecordNotFound, id)
	}
	return proposal.DecodeRecord(data)
}

// List returns every record, oldest first.
func (s *SQLite) List(ctx context.Context) ([]proposal.Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("proposalstore: list: %w", err)
	}
	defer s.pool.Put(conn)

	var records []proposal.Record
	err = sqlitex.Execute(conn, "SELECT record FROM proposals ORDER BY created_at, id", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record, err := proposal.DecodeRecord(columnBlob(stmt, 0))
			if err != nil {
				return err
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("proposalstore: list: %w", err)
	}
	return records, nil
}

func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	data := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, data)
	return data
}
