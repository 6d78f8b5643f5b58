// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package cosigner implements the signing service itself: decoding
// signing requests, deciding whether a spend may be signed, producing
// witness signatures, and serving authenticated manager sessions.
//
// The one rule the package exists to enforce: each unvaulted output is
// signed for at most one spending transaction, ever. Every request is
// checked against the durable authorization ledger before any
// signature is produced, and the ledger commit lands on disk before
// the signature leaves the process. Re-sending a previously authorized
// transaction returns the original signatures without signing again;
// any attempt to spend an already-bound output through a different
// transaction is rejected.
//
// Sessions are deliberately sequential. One connection is served at a
// time, one request per connection, which makes the check-sign-commit
// sequence trivially race-free without per-output locking.
package cosigner
