// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/quorum/lib/codec"
)

// Fingerprint is a 32-byte BLAKE3 digest of a graph's document form.
// Two graphs with the same accounts, permissions, authorities, and
// links have the same fingerprint regardless of how they were built.
type Fingerprint [32]byte

// graphDomainKey separates graph fingerprints from every other BLAKE3
// digest Quorum computes. ASCII "quorum.authority.graph", zero padded.
var graphDomainKey = [32]byte{
	'q', 'u', 'o', 'r', 'u', 'm', '.', 'a', 'u', 't', 'h', 'o', 'r', 'i', 't', 'y',
	'.', 'g', 'r', 'a', 'p', 'h', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Fingerprint returns the structural fingerprint of g.
func (g *Graph) Fingerprint() Fingerprint {
	data, err := codec.Marshal(g.Document())
	if err != nil {
		// Document contains only strings, integers, and slices of
		// those; encoding cannot fail.
		panic("authority: encoding graph document: " + err.Error())
	}
	hasher, err := blake3.NewKeyed(graphDomainKey[:])
	if err != nil {
		panic("authority: BLAKE3 keyed hasher: " + err.Error())
	}
	hasher.Write(data)

	var fingerprint Fingerprint
	copy(fingerprint[:], hasher.Sum(nil))
	return fingerprint
}

// String returns the hex encoding.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex characters, for log lines.
func (f Fingerprint) Short() string {
	return f.String()[:12]
}

// IsZero reports whether f is the zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFingerprint parses a 64-character hex fingerprint.
func ParseFingerprint(text string) (Fingerprint, error) {
	var fingerprint Fingerprint
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return fingerprint, fmt.Errorf("authority: parsing fingerprint: %w", err)
	}
	if len(decoded) != len(fingerprint) {
		return fingerprint, fmt.Errorf("authority: fingerprint is %d bytes, want %d", len(decoded), len(fingerprint))
	}
	copy(fingerprint[:], decoded)
	return fingerprint, nil
}
