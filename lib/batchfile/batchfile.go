// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package batchfile reads and writes the on-disk forms of authority
// graphs and operation batches. Files are JSONC: JSON with // line
// comments, /* block comments */, and trailing commas, so migration
// batches can be annotated where they are reviewed.
//
// A graph file is an authority.Document. A batch file is either a bare
// array of operations or an object:
//
//	{
//	  "description": "retire eosio.grants child permissions",
//	  "permission": "eosio.grants@owner",
//	  "operations": [
//	    {"kind": "unlink_action", "account": "eosio.grants", "code": "eosio", "type": "buyram"},
//	  ],
//	}
package batchfile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/quorum/lib/authority"
	"github.com/bureau-foundation/quorum/lib/mutation"
)

// File is a parsed batch file.
type File struct {
	Description string `json:"description,omitempty"`

	// Permission is the level that must authorize the batch. Zero if
	// the file does not say.
	Permission authority.PermissionLevel `json:"permission,omitzero"`

	Operations mutation.Batch `json:"operations"`
}

// decodeStrict unmarshals JSONC data into target, rejecting unknown
// fields so a misspelled key is an error instead of a silently
// dropped value.
func decodeStrict(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

// ParseBatch parses a JSONC batch and checks each operation's shape.
// Whether the batch applies to a graph is mutation.Validate's job.
func ParseBatch(data []byte) (*File, error) {
	var file File
	trimmed := bytes.TrimSpace(jsonc.ToJSON(data))
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := decodeStrict(data, &file.Operations); err != nil {
			return nil, fmt.Errorf("parsing batch: %w", err)
		}
	} else if err := decodeStrict(data, &file); err != nil {
		return nil, fmt.Errorf("parsing batch: %w", err)
	}
	for index, operation := range file.Operations {
		if err := operation.Validate(); err != nil {
			return nil, fmt.Errorf("parsing batch: operation %d: %w", index, err)
		}
	}
	return &file, nil
}

// ReadBatch reads and parses a batch file.
func ReadBatch(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	file, err := ParseBatch(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// ParseGraph parses a JSONC graph document and audits it.
func ParseGraph(data []byte) (*authority.Graph, error) {
	var document authority.Document
	if err := decodeStrict(data, &document); err != nil {
		return nil, fmt.Errorf("parsing graph: %w", err)
	}
	return authority.FromDocument(document)
}

// ReadGraph reads and parses a graph file.
func ReadGraph(path string) (*authority.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	graph, err := ParseGraph(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return graph, nil
}

// WriteGraph writes graph's document form to path as indented JSON.
// The file is replaced atomically.
func WriteGraph(path string, graph *authority.Graph) error {
	data, err := json.MarshalIndent(graph.Document(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

// WriteBatch writes file to path as indented JSON.
func WriteBatch(path string, file *File) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer os.Remove(temporary.Name())
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// FileSource is an authority.Source that re-reads a graph file on
// every Snapshot.
type FileSource struct {
	Path string
}

var _ authority.Source = FileSource{}

// Snapshot reads the current graph from the file.
func (s FileSource) Snapshot(ctx context.Context) (*authority.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadGraph(s.Path)
}
