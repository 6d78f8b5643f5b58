// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for the cosigner's key
// material: the Bitcoin signing key, the transport static key, and any
// key-file passphrase.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, guaranteeing secret material does not persist after release.
//
// A Buffer's contents are never logged, never serialized, and never
// stored in the authorization ledger — custody of the signing key is
// process memory only.
package secret
