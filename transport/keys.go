// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/vaultbase-foundation/cosignerd/lib/secret"
)

// KeySize is the size in bytes of curve25519 keys, both private
// scalars and public points.
const KeySize = 32

// Keypair is a curve25519 static identity. The private scalar lives in
// a secret buffer (mlocked, excluded from core dumps, zeroed on
// close); the public key is safe to publish and is what peers
// configure in their allow-lists.
type Keypair struct {
	// Private is the 32-byte scalar. Owned by the Keypair; callers
	// must not close it directly.
	Private *secret.Buffer

	// Public is the corresponding public key.
	Public [KeySize]byte
}

// GenerateKeypair creates a fresh random static keypair. The caller
// must call Close when the keypair is no longer needed.
func GenerateKeypair() (*Keypair, error) {
	scalar := make([]byte, KeySize)
	if _, err := rand.Read(scalar); err != nil {
		return nil, fmt.Errorf("transport: generating static key: %w", err)
	}
	return NewKeypair(scalar)
}

// NewKeypair builds a keypair from an existing 32-byte private scalar.
// The source slice is zeroed; the protected copy in the returned
// keypair is the only remaining one.
func NewKeypair(privateScalar []byte) (*Keypair, error) {
	if len(privateScalar) != KeySize {
		secret.Zero(privateScalar)
		return nil, fmt.Errorf("transport: private key must be %d bytes, got %d", KeySize, len(privateScalar))
	}

	publicKey, err := curve25519.X25519(privateScalar, curve25519.Basepoint)
	if err != nil {
		secret.Zero(privateScalar)
		return nil, fmt.Errorf("transport: deriving public key: %w", err)
	}

	private, err := secret.NewFromBytes(privateScalar)
	if err != nil {
		return nil, fmt.Errorf("transport: protecting private key: %w", err)
	}

	keypair := &Keypair{Private: private}
	copy(keypair.Public[:], publicKey)
	return keypair, nil
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.Private != nil {
		return k.Private.Close()
	}
	return nil
}
