// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testManagerKey = "89aee8b2cbb70e0a83d0f2b49b2291c4ca0ff052bcd770fecb0b8a51eb8f2525"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cosignerd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9999"
data_dir: /var/lib/cosignerd
log_level: debug
session_timeout: 10s
managers:
  - transport_key: "`+testManagerKey+`"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9999" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.SessionTimeoutDuration() != 10*time.Second {
		t.Errorf("SessionTimeoutDuration = %v, want 10s", cfg.SessionTimeoutDuration())
	}

	keys, err := cfg.ManagerKeys()
	if err != nil {
		t.Fatalf("ManagerKeys: %v", err)
	}
	want, _ := hex.DecodeString(testManagerKey)
	if len(keys) != 1 || !strings.EqualFold(hex.EncodeToString(keys[0][:]), hex.EncodeToString(want)) {
		t.Fatalf("ManagerKeys = %x", keys)
	}
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/cosignerd
managers:
  - transport_key: "`+testManagerKey+`"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel default = %q, want info", cfg.LogLevel)
	}
	if cfg.SessionTimeout != "30s" {
		t.Errorf("SessionTimeout default = %q, want 30s", cfg.SessionTimeout)
	}
}

func TestValidateRejectsMissingManagers(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/cosignerd
managers: []
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile with no managers succeeded, want error")
	}
}

func TestValidateRejectsBadManagerKey(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/cosignerd
managers:
  - transport_key: "deadbeef"
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile with short manager key succeeded, want error")
	}
}

func TestValidateRejectsDuplicateManagerKey(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/cosignerd
managers:
  - transport_key: "`+testManagerKey+`"
  - transport_key: "`+testManagerKey+`"
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile with duplicate manager keys succeeded, want error")
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := &Config{
		Listen:         "",
		DataDir:        "",
		LogLevel:       "loud",
		SessionTimeout: "soon",
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate on empty config succeeded")
	}
	for _, fragment := range []string{"listen", "data_dir", "log_level", "session_timeout", "manager"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("Validate error missing %q: %v", fragment, err)
		}
	}
}

func TestLoadRequiresEnvironment(t *testing.T) {
	t.Setenv("COSIGNERD_CONF", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without COSIGNERD_CONF succeeded, want error")
	}
}
