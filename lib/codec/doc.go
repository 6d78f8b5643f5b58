// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides cosignerd's standard CBOR encoding configuration.
//
// The manager-facing sign protocol is CBOR-only. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. Same logical data
// always produces identical bytes, which matters here because the
// replay check compares what a manager re-sends against what was
// committed.
//
// Every protocol type carries `cbor` struct tags; nothing in this
// repository serializes protocol messages as JSON.
package codec
