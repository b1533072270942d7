// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ErrConcurrentUpdate is returned by [Ledger.Publish] when another
// writer published a snapshot after the one the caller built on.
var ErrConcurrentUpdate = errors.New("authority: graph was published concurrently")

// Source supplies the current graph snapshot. The CLI reads graph
// files through batchfile.FileSource; Ledger is the in-process Source
// that Engine.Execute validates against and publishes to.
type Source interface {
	Snapshot(ctx context.Context) (*Graph, error)
}

// Published is one entry of a [Ledger]: a snapshot and the version
// number it was published under.
type Published struct {
	Version     uint64
	Graph       *Graph
	Fingerprint Fingerprint
}

// Ledger holds the live graph as a sequence of immutable, versioned
// snapshots. Readers call Current (or Snapshot) and keep the returned
// reference for as long as they need a stable view; no lock is taken.
// Writers build a new graph from a snapshot and Publish it against the
// version they started from.
type Ledger struct {
	current atomic.Pointer[Published]
	logger  *slog.Logger
}

// NewLedger returns a ledger whose version 1 is initial. If logger is
// nil, publications are not logged.
func NewLedger(initial *Graph, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ledger := &Ledger{logger: logger}
	ledger.current.Store(&Published{
		Version:     1,
		Graph:       initial,
		Fingerprint: initial.Fingerprint(),
	})
	return ledger
}

// Current returns the latest published snapshot.
func (l *Ledger) Current() Published {
	return *l.current.Load()
}

// Snapshot implements [Source].
func (l *Ledger) Snapshot(ctx context.Context) (*Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.current.Load().Graph, nil
}

// Publish installs next as the new current snapshot if the current
// version is still expectedVersion. Otherwise it returns
// ErrConcurrentUpdate and the ledger is unchanged; the caller must
// rebuild against the newer snapshot.
func (l *Ledger) Publish(expectedVersion uint64, next *Graph) (Published, error) {
	if next == nil {
		return Published{}, fmt.Errorf("authority: publishing nil graph")
	}
	previous := l.current.Load()
	if previous.Version != expectedVersion {
		return Published{}, fmt.Errorf("%w: expected version %d, current is %d",
			ErrConcurrentUpdate, expectedVersion, previous.Version)
	}
	published := &Published{
		Version:     previous.Version + 1,
		Graph:       next,
		Fingerprint: next.Fingerprint(),
	}
	if !l.current.CompareAndSwap(previous, published) {
		return Published{}, fmt.Errorf("%w: lost race publishing version %d",
			ErrConcurrentUpdate, published.Version)
	}
	l.logger.Info("authority graph published",
		"version", published.Version,
		"fingerprint", published.Fingerprint.Short(),
	)
	return *published, nil
}
