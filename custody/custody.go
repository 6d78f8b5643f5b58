// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package custody owns the cosigner's long-lived key material: the
// secp256k1 Bitcoin signing key and the curve25519 transport static
// key. Both are loaded (or generated on first start) from files in the
// data directory into mlocked secret buffers, and are read-only for
// the life of the process.
//
// A key file holds either the raw 32-byte secret or an age-encrypted
// wrapping of it (scrypt/passphrase recipient). Encrypted files are
// recognized by the age v1 header; the passphrase comes from the
// configured passphrase file, or from an interactive terminal prompt
// when stdin is a terminal.
//
// Private keys never leave process memory: they are not logged, not
// serialized into the ledger, and not part of any wire message. Only
// the derived public keys are published.
package custody

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"filippo.io/age"
	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/term"

	"github.com/vaultbase-foundation/cosignerd/lib/secret"
	"github.com/vaultbase-foundation/cosignerd/transport"
)

const (
	// signingKeyFile holds the secp256k1 signing secret inside the
	// data directory.
	signingKeyFile = "bitcoin_secret"

	// transportKeyFile holds the curve25519 transport static secret.
	transportKeyFile = "transport_secret"

	// ageHeader starts every age v1 ciphertext file.
	ageHeader = "age-encryption.org/v1"

	secretSize = 32
)

// Keys is the loaded key material. Construct with Load; call Close on
// shutdown to zero the private keys.
type Keys struct {
	signingSecret *secret.Buffer
	signingKey    *btcec.PrivateKey

	// SigningPublicKey is the cosigner's secp256k1 public key, the
	// one managers place in their spend descriptors.
	SigningPublicKey *btcec.PublicKey

	// Transport is the daemon's static transport identity. Its
	// public half is what managers configure to authenticate the
	// cosigner.
	Transport *transport.Keypair
}

// Options configures Load.
type Options struct {
	// DataDir is the directory holding the key files. Must exist.
	DataDir string

	// PassphraseFile optionally points at the passphrase for
	// age-encrypted key files. When empty, an interactive terminal
	// prompt is the fallback.
	PassphraseFile string

	// Logger receives key lifecycle messages (public keys only).
	// If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Load reads both keys from the data directory, generating any missing
// key file with owner-only permissions. The caller must call Close.
func Load(opts Options) (*Keys, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	signingSecret, generated, err := loadOrGenerateSecret(
		filepath.Join(opts.DataDir, signingKeyFile), opts.PassphraseFile, generateSigningSecret)
	if err != nil {
		return nil, fmt.Errorf("custody: signing key: %w", err)
	}

	signingKey, signingPublic := btcec.PrivKeyFromBytes(signingSecret.Bytes())
	if signingKey.Key.IsZero() {
		signingSecret.Close()
		return nil, fmt.Errorf("custody: signing key: %s holds a zero scalar", signingKeyFile)
	}
	if generated {
		logger.Info("generated signing key",
			"file", signingKeyFile,
			"public_key", fmt.Sprintf("%x", signingPublic.SerializeCompressed()),
		)
	}

	transportSecret, generated, err := loadOrGenerateSecret(
		filepath.Join(opts.DataDir, transportKeyFile), opts.PassphraseFile, generateTransportSecret)
	if err != nil {
		signingSecret.Close()
		return nil, fmt.Errorf("custody: transport key: %w", err)
	}

	// NewKeypair takes ownership of a heap copy and zeros it; the
	// buffer it was copied from is closed right after.
	transportKeypair, err := transport.NewKeypair(bytes.Clone(transportSecret.Bytes()))
	transportSecret.Close()
	if err != nil {
		signingSecret.Close()
		return nil, fmt.Errorf("custody: transport key: %w", err)
	}
	if generated {
		logger.Info("generated transport key",
			"file", transportKeyFile,
			"public_key", fmt.Sprintf("%x", transportKeypair.Public[:]),
		)
	}

	return &Keys{
		signingSecret:    signingSecret,
		signingKey:       signingKey,
		SigningPublicKey: signingPublic,
		Transport:        transportKeypair,
	}, nil
}

// SigningPrivateKey returns the secp256k1 private key for signing.
// The returned value shares the custodied material; callers must not
// retain it past the request being signed.
func (k *Keys) SigningPrivateKey() *btcec.PrivateKey {
	return k.signingKey
}

// Close zeros all private key material. Idempotent.
func (k *Keys) Close() error {
	var firstError error
	if k.signingSecret != nil {
		if err := k.signingSecret.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	if k.signingKey != nil {
		k.signingKey.Zero()
	}
	if k.Transport != nil {
		if err := k.Transport.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}

// generateSigningSecret produces a fresh secp256k1 private scalar.
func generateSigningSecret() ([]byte, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	serialized := key.Serialize()
	key.Zero()
	return serialized, nil
}

// generateTransportSecret produces a fresh curve25519 private scalar.
func generateTransportSecret() ([]byte, error) {
	keypair, err := transport.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	defer keypair.Close()
	return bytes.Clone(keypair.Private.Bytes()), nil
}

// loadOrGenerateSecret reads a 32-byte secret from path, decrypting it
// if age-encrypted. A missing file is generated with the provided
// generator, written with mode 0600, and fsynced before use.
func loadOrGenerateSecret(path, passphraseFile string, generate func() ([]byte, error)) (*secret.Buffer, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fresh, genErr := generate()
		if genErr != nil {
			return nil, false, genErr
		}
		if writeErr := writeSecretFile(path, fresh); writeErr != nil {
			secret.Zero(fresh)
			return nil, false, writeErr
		}
		buffer, bufErr := secret.NewFromBytes(fresh)
		if bufErr != nil {
			return nil, false, bufErr
		}
		return buffer, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}

	if bytes.HasPrefix(data, []byte(ageHeader)) {
		plaintext, decErr := decryptKeyFile(path, data, passphraseFile)
		if decErr != nil {
			return nil, false, decErr
		}
		data = plaintext
	}

	if len(data) != secretSize {
		secret.Zero(data)
		return nil, false, fmt.Errorf("%s: expected %d bytes of key material, got %d", path, secretSize, len(data))
	}

	buffer, err := secret.NewFromBytes(data)
	if err != nil {
		return nil, false, err
	}
	return buffer, false, nil
}

// decryptKeyFile unwraps an age-encrypted key file with the scrypt
// passphrase identity.
func decryptKeyFile(path string, ciphertext []byte, passphraseFile string) ([]byte, error) {
	passphrase, err := readPassphrase(path, passphraseFile)
	if err != nil {
		return nil, err
	}
	defer passphrase.Close()

	identity, err := age.NewScryptIdentity(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("building scrypt identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", path, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", path, err)
	}
	return plaintext, nil
}

// readPassphrase fetches the key-file passphrase from the configured
// file, or prompts when running on a terminal.
func readPassphrase(keyPath, passphraseFile string) (*secret.Buffer, error) {
	if passphraseFile != "" {
		passphrase, err := secret.ReadFromPath(passphraseFile)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase file: %w", err)
		}
		return passphrase, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("%s is encrypted but no passphrase_file is configured and stdin is not a terminal", keyPath)
	}

	fmt.Fprintf(os.Stderr, "Passphrase for %s: ", keyPath)
	line, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return secret.NewFromBytes(line)
}

// writeSecretFile writes freshly generated key material with
// owner-only permissions and syncs it to disk before returning.
func writeSecretFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}
