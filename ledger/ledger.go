// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vaultbase-foundation/cosignerd/lib/clock"
)

// ErrConflict is returned by Commit when an output is already bound to
// a different spend transaction. This is the abuse case the cosigner
// defends against; the caller reports it and must not retry.
var ErrConflict = errors.New("ledger: output already bound to a different transaction")

// schema creates the authorization table. One row per unvaulted
// output, keyed by its outpoint; rows are insert-only.
const schema = `
CREATE TABLE IF NOT EXISTS authorizations (
	txid       BLOB    NOT NULL,
	vout       INTEGER NOT NULL,
	spend_txid BLOB    NOT NULL,
	signature  BLOB    NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (txid, vout)
);
`

// Record is one persisted authorization: an unvaulted output bound to
// the txid of the spend transaction the cosigner committed to, plus
// the signature that was released for the input spending it.
type Record struct {
	OutPoint  wire.OutPoint
	SpendTxid chainhash.Hash
	Signature []byte
	CreatedAt time.Time
}

// Entry is one output binding to be committed: the outpoint and the
// signature produced for the input that spends it.
type Entry struct {
	OutPoint  wire.OutPoint
	Signature []byte
}

// Config holds the parameters for opening a ledger.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. The file is created if it does
	// not exist.
	Path string

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger

	// Clock stamps records at commit time. If nil, the real clock
	// is used.
	Clock clock.Clock
}

// Ledger is the durable authorization store. Safe for concurrent use;
// the commit path serializes on a single SQLite write transaction.
type Ledger struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	clock  clock.Clock
	path   string
}

// Open opens (creating if needed) the ledger database and applies the
// schema. The caller must call Close when the ledger is no longer
// needed.
func Open(cfg Config) (*Ledger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("ledger: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	// The daemon serves one connection at a time; a second pooled
	// connection exists only so a future concurrent server does not
	// need a storage change (commits stay atomic per outpoint
	// regardless of pool size).
	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    2,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: opening %s: %w", cfg.Path, err)
	}

	ledger := &Ledger{
		pool:   pool,
		logger: logger,
		clock:  clk,
		path:   cfg.Path,
	}

	if err := ledger.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("authorization ledger opened", "path", cfg.Path)
	return ledger, nil
}

// prepareConnection applies the ledger pragmas. synchronous=FULL is
// deliberate and load-bearing: a Commit that returns success must be
// durable before the signature it authorizes leaves the process, or a
// crash-and-retry could violate the at-most-once invariant.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("ledger: %s: %w", pragma, err)
		}
	}
	return nil
}

func (l *Ledger) ensureSchema(ctx context.Context) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("ledger: schema: %w", err)
	}
	defer l.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("ledger: creating schema: %w", err)
	}
	return nil
}

// Close closes all database connections. Blocks until in-flight
// operations finish.
func (l *Ledger) Close() error {
	if err := l.pool.Close(); err != nil {
		l.logger.Error("ledger close error", "path", l.path, "error", err)
		return fmt.Errorf("ledger: closing %s: %w", l.path, err)
	}
	return nil
}

// Lookup returns the authorization record for an outpoint, or nil if
// the output has never been bound.
func (l *Ledger) Lookup(ctx context.Context, outpoint wire.OutPoint) (*Record, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: lookup: %w", err)
	}
	defer l.pool.Put(conn)

	return lookupLocked(conn, outpoint)
}

// lookupLocked reads one record on an already-held connection. Used
// both by Lookup and by Commit's re-check inside the write transaction.
func lookupLocked(conn *sqlite.Conn, outpoint wire.OutPoint) (*Record, error) {
	var record *Record
	err := sqlitex.Execute(conn,
		`SELECT spend_txid, signature, created_at FROM authorizations WHERE txid = ? AND vout = ?`,
		&sqlitex.ExecOptions{
			Args: []any{outpoint.Hash[:], int64(outpoint.Index)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				spendTxid := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, spendTxid)
				hash, err := chainhash.NewHash(spendTxid)
				if err != nil {
					return fmt.Errorf("corrupt spend_txid for %s: %w", outpoint, err)
				}

				signature := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, signature)

				record = &Record{
					OutPoint:  outpoint,
					SpendTxid: *hash,
					Signature: signature,
					CreatedAt: time.Unix(stmt.ColumnInt64(2), 0).UTC(),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("ledger: lookup %s: %w", outpoint, err)
	}
	return record, nil
}

// Commit binds every entry's outpoint to spendTxid in a single
// IMMEDIATE transaction. Bindings are re-checked under the write lock:
// if any outpoint is already bound to a different transaction, nothing
// is inserted and ErrConflict is returned. An outpoint already bound
// to the same transaction is tolerated (a replay racing a
// crash-retry), provided the stored signature matches.
//
// When Commit returns nil, every record is on stable storage.
func (l *Ledger) Commit(ctx context.Context, spendTxid chainhash.Hash, entries []Entry) (err error) {
	if len(entries) == 0 {
		return fmt.Errorf("ledger: commit with no entries")
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("ledger: begin commit transaction: %w", err)
	}
	defer endTransaction(&err)

	createdAt := l.clock.Now().Unix()

	for _, entry := range entries {
		existing, lookupErr := lookupLocked(conn, entry.OutPoint)
		if lookupErr != nil {
			return lookupErr
		}
		if existing != nil {
			if existing.SpendTxid != spendTxid || !bytes.Equal(existing.Signature, entry.Signature) {
				l.logger.Warn("conflicting commit rejected",
					"outpoint", entry.OutPoint.String(),
					"committed_txid", existing.SpendTxid.String(),
					"requested_txid", spendTxid.String(),
				)
				return ErrConflict
			}
			continue
		}

		insertErr := sqlitex.Execute(conn,
			`INSERT INTO authorizations (txid, vout, spend_txid, signature, created_at) VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					entry.OutPoint.Hash[:],
					int64(entry.OutPoint.Index),
					spendTxid[:],
					entry.Signature,
					createdAt,
				},
			})
		if insertErr != nil {
			return fmt.Errorf("ledger: inserting record for %s: %w", entry.OutPoint, insertErr)
		}
	}

	l.logger.Info("authorization committed",
		"spend_txid", spendTxid.String(),
		"outputs", len(entries),
	)
	return nil
}
