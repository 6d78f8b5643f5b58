// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/vaultbase-foundation/cosignerd/lib/secret"
)

// protocolName labels the handshake transcript and the HKDF info
// string. Changing any part of the handshake requires a new version
// suffix so old and new peers fail cleanly instead of deriving
// mismatched keys.
const protocolName = "cosignerd-kk-v1"

// MaxMessageSize caps a single plaintext message. Sign requests are a
// PSBT plus a short outpoint list; 1 MiB is far beyond any legitimate
// spend transaction.
const MaxMessageSize = 1 << 20

// ErrPeerNotAllowed is returned by Accept when the initiator's static
// key is not on the allow-list. The connection must be dropped.
var ErrPeerNotAllowed = errors.New("transport: peer static key not in allow-list")

// ErrMessageTooLarge is returned when a frame exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("transport: message exceeds size limit")

// Session is an established authenticated channel. Not safe for
// concurrent use; the cosigner's strictly sequential session server
// never shares one.
type Session struct {
	conn         net.Conn
	sendCipher   cipher.AEAD
	recvCipher   cipher.AEAD
	sendCounter  uint64
	recvCounter  uint64
	transcript   [32]byte
	remoteStatic [KeySize]byte
}

// Dial runs the initiator side of the handshake over an established
// connection. remoteStatic is the responder's configured public key.
// On failure the caller owns closing conn.
func Dial(conn net.Conn, local *Keypair, remoteStatic [KeySize]byte) (*Session, error) {
	ephemeralPrivate := make([]byte, KeySize)
	if _, err := rand.Read(ephemeralPrivate); err != nil {
		return nil, fmt.Errorf("transport: generating ephemeral key: %w", err)
	}
	defer secret.Zero(ephemeralPrivate)

	ephemeralPublic, err := curve25519.X25519(ephemeralPrivate, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("transport: deriving ephemeral public key: %w", err)
	}

	// -> e, s (the initiator's static identity travels in the clear;
	// identities are configuration on both ends, not secrets).
	var hello [2 * KeySize]byte
	copy(hello[:KeySize], ephemeralPublic)
	copy(hello[KeySize:], local.Public[:])
	if _, err := conn.Write(hello[:]); err != nil {
		return nil, fmt.Errorf("transport: sending handshake hello: %w", err)
	}

	// <- e
	var responderEphemeral [KeySize]byte
	if _, err := io.ReadFull(conn, responderEphemeral[:]); err != nil {
		return nil, fmt.Errorf("transport: reading responder ephemeral: %w", err)
	}

	// dh1 = ee, dh2 = s_i/e_r, dh3 = e_i/s_r. Proving possession of
	// the initiator static (dh2) and the responder static (dh3) is
	// what authenticates each side.
	dh1, err := curve25519.X25519(ephemeralPrivate, responderEphemeral[:])
	if err != nil {
		return nil, fmt.Errorf("transport: handshake DH: %w", err)
	}
	defer secret.Zero(dh1)
	dh2, err := curve25519.X25519(local.Private.Bytes(), responderEphemeral[:])
	if err != nil {
		return nil, fmt.Errorf("transport: handshake DH: %w", err)
	}
	defer secret.Zero(dh2)
	dh3, err := curve25519.X25519(ephemeralPrivate, remoteStatic[:])
	if err != nil {
		return nil, fmt.Errorf("transport: handshake DH: %w", err)
	}
	defer secret.Zero(dh3)

	session, err := newSession(conn, local.Public, remoteStatic, ephemeralPublic, responderEphemeral[:], dh1, dh2, dh3, true)
	if err != nil {
		return nil, err
	}

	// -> confirm, <- confirm. The initiator's confirmation frame
	// proves it holds the static key matching the identity it sent;
	// the responder's proves the same for the configured remote key.
	if err := session.WriteMessage(session.transcript[:]); err != nil {
		return nil, fmt.Errorf("transport: sending confirmation: %w", err)
	}
	confirmation, err := session.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("transport: reading responder confirmation: %w", err)
	}
	if !bytes.Equal(confirmation, session.transcript[:]) {
		return nil, fmt.Errorf("transport: responder confirmation mismatch")
	}

	return session, nil
}

// Accept runs the responder side of the handshake over an accepted
// connection. The initiator's static key must appear in allowed, and
// the initiator must prove possession of it before Accept returns.
// On failure the caller owns closing conn.
func Accept(conn net.Conn, local *Keypair, allowed [][KeySize]byte) (*Session, error) {
	// <- e, s
	var hello [2 * KeySize]byte
	if _, err := io.ReadFull(conn, hello[:]); err != nil {
		return nil, fmt.Errorf("transport: reading handshake hello: %w", err)
	}
	initiatorEphemeral := hello[:KeySize]
	var initiatorStatic [KeySize]byte
	copy(initiatorStatic[:], hello[KeySize:])

	permitted := false
	for _, key := range allowed {
		if key == initiatorStatic {
			permitted = true
			break
		}
	}
	if !permitted {
		return nil, ErrPeerNotAllowed
	}

	ephemeralPrivate := make([]byte, KeySize)
	if _, err := rand.Read(ephemeralPrivate); err != nil {
		return nil, fmt.Errorf("transport: generating ephemeral key: %w", err)
	}
	defer secret.Zero(ephemeralPrivate)

	ephemeralPublic, err := curve25519.X25519(ephemeralPrivate, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("transport: deriving ephemeral public key: %w", err)
	}

	// -> e
	if _, err := conn.Write(ephemeralPublic); err != nil {
		return nil, fmt.Errorf("transport: sending responder ephemeral: %w", err)
	}

	dh1, err := curve25519.X25519(ephemeralPrivate, initiatorEphemeral)
	if err != nil {
		return nil, fmt.Errorf("transport: handshake DH: %w", err)
	}
	defer secret.Zero(dh1)
	dh2, err := curve25519.X25519(ephemeralPrivate, initiatorStatic[:])
	if err != nil {
		return nil, fmt.Errorf("transport: handshake DH: %w", err)
	}
	defer secret.Zero(dh2)
	dh3, err := curve25519.X25519(local.Private.Bytes(), initiatorEphemeral)
	if err != nil {
		return nil, fmt.Errorf("transport: handshake DH: %w", err)
	}
	defer secret.Zero(dh3)

	session, err := newSession(conn, initiatorStatic, local.Public, initiatorEphemeral, ephemeralPublic, dh1, dh2, dh3, false)
	if err != nil {
		return nil, err
	}

	// <- confirm. Decryption succeeding at all proves the peer
	// derived the same keys, which requires the static private key
	// matching the allow-listed identity. The transcript echo binds
	// the confirmation to this exact handshake.
	confirmation, err := session.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("transport: peer authentication failed: %w", err)
	}
	if !bytes.Equal(confirmation, session.transcript[:]) {
		return nil, fmt.Errorf("transport: initiator confirmation mismatch")
	}

	// -> confirm
	if err := session.WriteMessage(session.transcript[:]); err != nil {
		return nil, fmt.Errorf("transport: sending confirmation: %w", err)
	}

	return session, nil
}

// newSession derives the directional keys and constructs the session.
// The DH inputs are ordered from the initiator's perspective;
// initiator selects which derived key is used for sending.
func newSession(conn net.Conn, initiatorStatic, responderStatic [KeySize]byte, initiatorEphemeral, responderEphemeral, dh1, dh2, dh3 []byte, initiator bool) (*Session, error) {
	transcriptHasher := blake3.New()
	transcriptHasher.Write([]byte(protocolName))
	transcriptHasher.Write(initiatorStatic[:])
	transcriptHasher.Write(responderStatic[:])
	transcriptHasher.Write(initiatorEphemeral)
	transcriptHasher.Write(responderEphemeral)

	var transcript [32]byte
	transcriptHasher.Sum(transcript[:0])

	ikm := make([]byte, 0, 3*KeySize)
	ikm = append(ikm, dh1...)
	ikm = append(ikm, dh2...)
	ikm = append(ikm, dh3...)
	defer secret.Zero(ikm)

	newHash := func() hash.Hash { return blake3.New() }
	kdf := hkdf.New(newHash, ikm, transcript[:], []byte(protocolName))

	initiatorToResponder := make([]byte, chacha20poly1305.KeySize)
	responderToInitiator := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, initiatorToResponder); err != nil {
		return nil, fmt.Errorf("transport: deriving session keys: %w", err)
	}
	if _, err := io.ReadFull(kdf, responderToInitiator); err != nil {
		return nil, fmt.Errorf("transport: deriving session keys: %w", err)
	}
	defer secret.Zero(initiatorToResponder)
	defer secret.Zero(responderToInitiator)

	sendKey, recvKey := initiatorToResponder, responderToInitiator
	remote := responderStatic
	if !initiator {
		sendKey, recvKey = responderToInitiator, initiatorToResponder
		remote = initiatorStatic
	}

	sendCipher, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return nil, fmt.Errorf("transport: creating send cipher: %w", err)
	}
	recvCipher, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return nil, fmt.Errorf("transport: creating receive cipher: %w", err)
	}

	return &Session{
		conn:         conn,
		sendCipher:   sendCipher,
		recvCipher:   recvCipher,
		transcript:   transcript,
		remoteStatic: remote,
	}, nil
}

// RemoteStatic returns the peer's static public key. For accepted
// sessions this identifies which manager is connected.
func (s *Session) RemoteStatic() [KeySize]byte {
	return s.remoteStatic
}

// WriteMessage encrypts and sends one message as a single frame.
func (s *Session) WriteMessage(plaintext []byte) error {
	if len(plaintext) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	nonce := s.nonce(s.sendCounter)
	s.sendCounter++

	ciphertext := s.sendCipher.Seal(nil, nonce, plaintext, s.transcript[:])

	frame := make([]byte, 4+len(ciphertext))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(ciphertext)))
	copy(frame[4:], ciphertext)

	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("transport: writing frame: %w", err)
	}
	return nil
}

// ReadMessage reads and decrypts one full frame. A decryption failure
// means the peer is not who the handshake claimed or the stream was
// tampered with; either way the connection is unusable.
func (s *Session) ReadMessage() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(s.conn, header[:]); err != nil {
		return nil, fmt.Errorf("transport: reading frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxMessageSize+uint32(s.recvCipher.Overhead()) {
		return nil, ErrMessageTooLarge
	}

	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(s.conn, ciphertext); err != nil {
		return nil, fmt.Errorf("transport: reading frame body: %w", err)
	}

	nonce := s.nonce(s.recvCounter)
	s.recvCounter++

	plaintext, err := s.recvCipher.Open(nil, nonce, ciphertext, s.transcript[:])
	if err != nil {
		return nil, fmt.Errorf("transport: decrypting frame: %w", err)
	}
	return plaintext, nil
}

// SetDeadline bounds all pending and future reads and writes on the
// underlying connection.
func (s *Session) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// nonce builds the 12-byte AEAD nonce for a frame counter. Counters
// are per direction; a session never comes close to reuse.
func (s *Session) nonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}
