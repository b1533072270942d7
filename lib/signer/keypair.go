// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/bureau-foundation/quorum/lib/secret"
)

const (
	privateKeyFile = "quorum-signing-key"
	sealedKeyFile  = "quorum-signing-key.age"
	publicKeyFile  = "quorum-signing-key.pub"
)

// ageHeader starts every binary age file.
var ageHeader = []byte("age-encryption.org/v1\n")

// ErrSealedKey is returned when a key is sealed and no age identity
// that can open it was supplied.
var ErrSealedKey = errors.New("signer: signing key is sealed")

// GenerateKeypair creates a new ed25519 keypair for a leaf signer.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// SaveKeypair writes a keypair into dir. The private key file has 0600
// permissions; the public key file holds the identity string and has
// 0644.
func SaveKeypair(dir string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	privatePath := filepath.Join(dir, privateKeyFile)
	if err := os.WriteFile(privatePath, private, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return savePublicKey(dir, public)
}

// SaveSealedKeypair writes a keypair into dir with the private key
// encrypted to the given age X25519 recipients (age1...). Any one of
// the matching identities opens it.
func SaveSealedKeypair(dir string, public ed25519.PublicKey, private ed25519.PrivateKey, recipientKeys []string) error {
	if len(recipientKeys) == 0 {
		return fmt.Errorf("sealing private key: at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, recipients...)
	if err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if _, err := writer.Write(private); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, sealedKeyFile), sealed.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing sealed private key: %w", err)
	}
	return savePublicKey(dir, public)
}

func savePublicKey(dir string, public ed25519.PublicKey) error {
	publicPath := filepath.Join(dir, publicKeyFile)
	if err := os.WriteFile(publicPath, []byte(IdentityFor(public)+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// LoadPrivateKey reads a private key written by SaveKeypair or
// SaveSealedKeypair into a secret buffer. path is either a key file or
// a directory holding one; a directory's sealed key is preferred.
// Sealed keys are opened with identities and fail with ErrSealedKey
// when none is given.
func LoadPrivateKey(path string, identities []age.Identity) (*secret.Buffer, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		sealedPath := filepath.Join(path, sealedKeyFile)
		if _, err := os.Stat(sealedPath); err == nil {
			path = sealedPath
		} else {
			path = filepath.Join(path, privateKeyFile)
		}
	}
	key, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	if bytes.HasPrefix(key.Bytes(), ageHeader) {
		sealed := key
		defer sealed.Close()
		if key, err = openSealed(path, sealed.Bytes(), identities); err != nil {
			return nil, err
		}
	}
	if key.Len() != ed25519.PrivateKeySize {
		size := key.Len()
		key.Close()
		return nil, fmt.Errorf("private key %s has %d bytes, want %d", path, size, ed25519.PrivateKeySize)
	}
	return key, nil
}

func openSealed(path string, sealed []byte, identities []age.Identity) (*secret.Buffer, error) {
	if len(identities) == 0 {
		return nil, fmt.Errorf("%w: %s needs an age identity", ErrSealedKey, path)
	}
	reader, err := age.Decrypt(bytes.NewReader(sealed), identities...)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrSealedKey, path, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return secret.Take(plaintext)
}

// GenerateSealingIdentity writes a new age X25519 identity to path
// (0600) and returns its recipient string, the value to pass to
// SaveSealedKeypair.
func GenerateSealingIdentity(path string) (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating age identity: %w", err)
	}
	recipient := identity.Recipient().String()
	content := "# public key: " + recipient + "\n" + identity.String() + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("writing age identity: %w", err)
	}
	return recipient, nil
}

// ReadSealingIdentities parses an age identity file.
func ReadSealingIdentities(path string) ([]age.Identity, error) {
	content, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading age identities: %w", err)
	}
	defer content.Close()
	identities, err := age.ParseIdentities(bytes.NewReader(content.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("parsing age identities in %s: %w", path, err)
	}
	return identities, nil
}
