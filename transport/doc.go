// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the authenticated, encrypted session
// channel between a manager and the cosigner.
//
// Both sides hold long-lived curve25519 static keys and know the other
// side's public key in advance: managers are configured with the
// cosigner's key, and the cosigner is configured with the allow-list
// of manager keys. The handshake is a KK-pattern exchange — both
// statics pre-shared — built from an ephemeral key exchange, three
// Diffie-Hellman results (ephemeral/ephemeral, initiator-static/
// responder-ephemeral, initiator-ephemeral/responder-static) mixed
// through HKDF-BLAKE3 keyed by the handshake transcript hash. Each
// direction gets its own ChaCha20-Poly1305 key; possession of the
// static private keys is proven by an encrypted confirmation frame in
// each direction before any application data flows.
//
// After the handshake, [Session.ReadMessage] and [Session.WriteMessage]
// exchange length-framed AEAD messages with counter nonces. A session
// carries exactly one request and one response in the cosigner's use;
// the framing does not enforce that, the session server does.
//
// All failures are connection-level: a handshake or frame error means
// the connection is dead and must be closed. No partial message is
// ever surfaced to a caller.
package transport
