// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger is the cosigner's durable authorization ledger: the
// record of which unvaulted outputs have been committed to which exact
// spend transaction, and the signature that was released for each.
//
// The ledger is the single piece of mutable state in the daemon and
// the whole at-most-once guarantee rests on it. Records are inserted
// exactly once per output and never updated or deleted — deleting a
// record would reopen the double-sign window the cosigner exists to
// close.
//
// Storage is a SQLite database in the data directory. Connections run
// with synchronous=FULL so that a successful [Ledger.Commit] means the
// records have reached stable storage before the corresponding
// signature is ever written to the network. Multi-output commits are a
// single IMMEDIATE transaction: either every output of a request is
// bound, or none is, and a concurrent committer for any of the same
// outputs observes either the winning binding or a conflict.
package ledger
