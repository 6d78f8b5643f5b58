// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

// Command cosignerd runs the vault cosigning daemon. It serves
// authenticated manager sessions on a TCP listener and signs each
// unvaulted output for at most one spending transaction, ever.
//
// Configuration comes from a YAML file named either by --conf or by
// the COSIGNERD_CONF environment variable. Key material lives in the
// configured data directory and is generated on first start.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vaultbase-foundation/cosignerd/config"
	"github.com/vaultbase-foundation/cosignerd/cosigner"
	"github.com/vaultbase-foundation/cosignerd/custody"
	"github.com/vaultbase-foundation/cosignerd/ledger"
)

const version = "0.1.0"

const ledgerFile = "cosignerd.sqlite3"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cosignerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	confPath := flag.String("conf", "", "path to the configuration file (default: $COSIGNERD_CONF)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("cosignerd", version)
		return nil
	}

	var cfg *config.Config
	var err error
	if *confPath != "" {
		cfg, err = config.LoadFile(*confPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	keys, err := custody.Load(custody.Options{
		DataDir:        cfg.DataDir,
		PassphraseFile: cfg.PassphraseFile,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer keys.Close()
	logger.Info("loaded keys",
		"signing_public_key", fmt.Sprintf("%x", keys.SigningPublicKey.SerializeCompressed()),
		"transport_public_key", fmt.Sprintf("%x", keys.Transport.Public[:]),
	)

	authz, err := ledger.Open(ledger.Config{
		Path:   filepath.Join(cfg.DataDir, ledgerFile),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer authz.Close()

	managers, err := cfg.ManagerKeys()
	if err != nil {
		return err
	}

	server, err := cosigner.NewServer(cosigner.ServerConfig{
		Listen:         cfg.Listen,
		Managers:       managers,
		TransportKeys:  keys.Transport,
		SigningKey:     keys.SigningPrivateKey(),
		Ledger:         authz,
		SessionTimeout: cfg.SessionTimeoutDuration(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Serve(ctx); err != nil {
		return err
	}
	logger.Info("shut down")
	return nil
}
