// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for cosignerd.
//
// Configuration is loaded from a single YAML file specified by:
//   - the --conf flag passed to the daemon, or
//   - the COSIGNERD_CONF environment variable
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides. The
// file is read once at startup and immutable thereafter.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportKeySize is the size in bytes of a curve25519 static public
// key identifying a manager on the transport.
const TransportKeySize = 32

// Config is the cosigner daemon configuration.
type Config struct {
	// Listen is the TCP address the daemon accepts manager
	// connections on, e.g. "127.0.0.1:8383".
	Listen string `yaml:"listen"`

	// DataDir holds the authorization ledger database and the key
	// files. Created with mode 0700 on first start if absent.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of "debug", "info", "warn", "error".
	// Defaults to "info".
	LogLevel string `yaml:"log_level"`

	// SessionTimeout bounds the handshake plus the single
	// request/response exchange of one connection, as a Go duration
	// string (e.g. "30s"). A stalled peer is dropped when it
	// expires. Defaults to "30s".
	SessionTimeout string `yaml:"session_timeout"`

	// PassphraseFile optionally points at a file holding the
	// passphrase for age-encrypted key files. When unset and a key
	// file is encrypted, the daemon prompts on the terminal.
	PassphraseFile string `yaml:"passphrase_file"`

	// Managers is the allow-list of parties that may request
	// signatures. At least one entry is required.
	Managers []ManagerConfig `yaml:"managers"`
}

// ManagerConfig identifies one manager by its transport static key.
type ManagerConfig struct {
	// TransportKey is the manager's curve25519 static public key,
	// hex-encoded (64 hex characters).
	TransportKey string `yaml:"transport_key"`
}

// Default returns the configuration defaults applied before the file
// is loaded. The file is still required; these only fill optional
// fields.
func Default() *Config {
	return &Config{
		Listen:         "127.0.0.1:8383",
		LogLevel:       "info",
		SessionTimeout: "30s",
	}
}

// Load loads configuration from the COSIGNERD_CONF environment
// variable. Fails if the variable is not set — there is no fallback
// discovery.
func Load() (*Config, error) {
	path := os.Getenv("COSIGNERD_CONF")
	if path == "" {
		return nil, fmt.Errorf("COSIGNERD_CONF environment variable not set; " +
			"set it to the path of your cosignerd.yaml config file, or use the --conf flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path and validates
// it. The config file is the single source of truth; environment
// variables do not override its values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and aggregates every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel))
	}

	if _, err := time.ParseDuration(c.SessionTimeout); err != nil {
		errs = append(errs, fmt.Errorf("session_timeout: %w", err))
	}

	if len(c.Managers) == 0 {
		errs = append(errs, fmt.Errorf("at least one manager is required"))
	}
	seen := make(map[string]bool, len(c.Managers))
	for i, manager := range c.Managers {
		key, err := hex.DecodeString(manager.TransportKey)
		if err != nil || len(key) != TransportKeySize {
			errs = append(errs, fmt.Errorf("managers[%d].transport_key must be %d hex-encoded bytes", i, TransportKeySize))
			continue
		}
		if seen[manager.TransportKey] {
			errs = append(errs, fmt.Errorf("managers[%d].transport_key is a duplicate", i))
		}
		seen[manager.TransportKey] = true
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ManagerKeys returns the decoded manager transport keys, in
// configuration order. Call only after Validate has succeeded.
func (c *Config) ManagerKeys() ([][TransportKeySize]byte, error) {
	keys := make([][TransportKeySize]byte, 0, len(c.Managers))
	for i, manager := range c.Managers {
		decoded, err := hex.DecodeString(manager.TransportKey)
		if err != nil || len(decoded) != TransportKeySize {
			return nil, fmt.Errorf("managers[%d].transport_key must be %d hex-encoded bytes", i, TransportKeySize)
		}
		var key [TransportKeySize]byte
		copy(key[:], decoded)
		keys = append(keys, key)
	}
	return keys, nil
}

// SessionTimeoutDuration returns the parsed session timeout. Call only
// after Validate has succeeded.
func (c *Config) SessionTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.SessionTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnsureDataDir creates the data directory with owner-only permissions
// if it does not exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data_dir %s: %w", c.DataDir, err)
	}
	return nil
}
