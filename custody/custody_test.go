// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package custody

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
)

func TestLoadGeneratesMissingKeys(t *testing.T) {
	dataDir := t.TempDir()

	keys, err := Load(Options{DataDir: dataDir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer keys.Close()

	if keys.SigningPublicKey == nil {
		t.Fatal("expected a signing public key")
	}
	if keys.Transport == nil {
		t.Fatal("expected a transport keypair")
	}

	for _, name := range []string{signingKeyFile, transportKeyFile} {
		info, err := os.Stat(filepath.Join(dataDir, name))
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if got := info.Mode().Perm(); got != 0o600 {
			t.Errorf("%s permissions = %o, want 600", name, got)
		}
		if info.Size() != secretSize {
			t.Errorf("%s size = %d, want %d", name, info.Size(), secretSize)
		}
	}
}

func TestLoadIsStableAcrossRestarts(t *testing.T) {
	dataDir := t.TempDir()

	first, err := Load(Options{DataDir: dataDir})
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	firstSigning := first.SigningPublicKey.SerializeCompressed()
	firstTransport := first.Transport.Public
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Load(Options{DataDir: dataDir})
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	defer second.Close()

	if !bytes.Equal(second.SigningPublicKey.SerializeCompressed(), firstSigning) {
		t.Error("signing public key changed across restart")
	}
	if second.Transport.Public != firstTransport {
		t.Error("transport public key changed across restart")
	}
}

func TestLoadDecryptsAgeEncryptedKey(t *testing.T) {
	dataDir := t.TempDir()

	// Generate plaintext keys once, then re-wrap the signing key
	// with a passphrase the way an operator would offline.
	keys, err := Load(Options{DataDir: dataDir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	wantPublic := keys.SigningPublicKey.SerializeCompressed()
	if err := keys.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	signingPath := filepath.Join(dataDir, signingKeyFile)
	plaintext, err := os.ReadFile(signingPath)
	if err != nil {
		t.Fatalf("reading signing key: %v", err)
	}

	recipient, err := age.NewScryptRecipient("correct horse")
	if err != nil {
		t.Fatalf("NewScryptRecipient: %v", err)
	}
	recipient.SetWorkFactor(10)

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		t.Fatalf("age.Encrypt: %v", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		t.Fatalf("writing ciphertext: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing ciphertext: %v", err)
	}
	if err := os.WriteFile(signingPath, ciphertext.Bytes(), 0o600); err != nil {
		t.Fatalf("writing encrypted key: %v", err)
	}

	passphrasePath := filepath.Join(t.TempDir(), "passphrase")
	if err := os.WriteFile(passphrasePath, []byte("correct horse\n"), 0o600); err != nil {
		t.Fatalf("writing passphrase file: %v", err)
	}

	reloaded, err := Load(Options{DataDir: dataDir, PassphraseFile: passphrasePath})
	if err != nil {
		t.Fatalf("Load with encrypted key: %v", err)
	}
	defer reloaded.Close()

	if !bytes.Equal(reloaded.SigningPublicKey.SerializeCompressed(), wantPublic) {
		t.Error("decrypted signing key does not match the original")
	}
}

func TestLoadEncryptedKeyWithoutPassphraseFails(t *testing.T) {
	dataDir := t.TempDir()

	keys, err := Load(Options{DataDir: dataDir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := keys.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	signingPath := filepath.Join(dataDir, signingKeyFile)
	plaintext, err := os.ReadFile(signingPath)
	if err != nil {
		t.Fatalf("reading signing key: %v", err)
	}

	recipient, err := age.NewScryptRecipient("hunter2")
	if err != nil {
		t.Fatalf("NewScryptRecipient: %v", err)
	}
	recipient.SetWorkFactor(10)

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		t.Fatalf("age.Encrypt: %v", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		t.Fatalf("writing ciphertext: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing ciphertext: %v", err)
	}
	if err := os.WriteFile(signingPath, ciphertext.Bytes(), 0o600); err != nil {
		t.Fatalf("writing encrypted key: %v", err)
	}

	// No passphrase file, and the test runner's stdin is not a
	// terminal, so loading must fail rather than hang on a prompt.
	if _, err := Load(Options{DataDir: dataDir}); err == nil {
		t.Fatal("expected an error loading an encrypted key without a passphrase source")
	}
}

func TestLoadRejectsTruncatedKeyFile(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, signingKeyFile), []byte("short"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	if _, err := Load(Options{DataDir: dataDir}); err == nil {
		t.Fatal("expected an error for a truncated key file")
	}
}
