// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package cosigner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/vaultbase-foundation/cosignerd/ledger"
	"github.com/vaultbase-foundation/cosignerd/lib/clock"
	"github.com/vaultbase-foundation/cosignerd/lib/codec"
	"github.com/vaultbase-foundation/cosignerd/transport"
)

// ServerConfig configures a Server. All fields except Logger and
// Clock are required.
type ServerConfig struct {
	// Listen is the TCP address to bind.
	Listen string

	// Managers is the transport allow-list. Connections whose static
	// key is not in this list are dropped during the handshake.
	Managers [][transport.KeySize]byte

	// TransportKeys is the daemon's static transport identity.
	TransportKeys *transport.Keypair

	// SigningKey is the cosigner's secp256k1 key.
	SigningKey *btcec.PrivateKey

	// Ledger is the durable authorization store.
	Ledger *ledger.Ledger

	// SessionTimeout bounds a whole session, handshake included. A
	// peer that stalls past the deadline is disconnected.
	SessionTimeout time.Duration

	// Logger receives session and decision events. If nil, a no-op
	// logger is used.
	Logger *slog.Logger

	// Clock stamps session deadlines. If nil, the real clock is
	// used.
	Clock clock.Clock
}

// Server accepts manager sessions and serves one signing request per
// connection, one connection at a time.
type Server struct {
	listener       net.Listener
	managers       [][transport.KeySize]byte
	transportKeys  *transport.Keypair
	signingKey     *btcec.PrivateKey
	ledger         *ledger.Ledger
	sessionTimeout time.Duration
	logger         *slog.Logger
	clock          clock.Clock
}

// NewServer binds the listen address. Call Serve to start accepting.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.TransportKeys == nil || cfg.SigningKey == nil || cfg.Ledger == nil {
		return nil, errors.New("cosigner: transport keys, signing key, and ledger are required")
	}
	if len(cfg.Managers) == 0 {
		return nil, errors.New("cosigner: at least one manager key is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("cosigner: listening on %s: %w", cfg.Listen, err)
	}

	return &Server{
		listener:       listener,
		managers:       cfg.Managers,
		transportKeys:  cfg.TransportKeys,
		signingKey:     cfg.SigningKey,
		ledger:         cfg.Ledger,
		sessionTimeout: cfg.SessionTimeout,
		logger:         logger,
		clock:          clk,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts and handles sessions until ctx is canceled. Sessions
// are strictly sequential; the accept queue is the only concurrency.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	s.logger.Info("listening", "address", s.listener.Addr().String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("cosigner: accept: %w", err)
		}
		s.serveConn(ctx, conn)
	}
}

// serveConn runs one session: handshake, one request, one response.
// Protocol failures are logged and the connection dropped; only
// requests that decode get a response.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	if s.sessionTimeout > 0 {
		if err := conn.SetDeadline(s.clock.Now().Add(s.sessionTimeout)); err != nil {
			s.logger.Warn("setting session deadline", "remote", remote, "error", err)
			return
		}
	}

	session, err := transport.Accept(conn, s.transportKeys, s.managers)
	if err != nil {
		if errors.Is(err, transport.ErrPeerNotAllowed) {
			s.logger.Warn("rejected unknown peer", "remote", remote)
		} else {
			s.logger.Debug("handshake failed", "remote", remote, "error", err)
		}
		return
	}
	peer := fmt.Sprintf("%x", session.RemoteStatic())

	payload, err := session.ReadMessage()
	if err != nil {
		s.logger.Debug("reading request", "remote", remote, "peer", peer, "error", err)
		return
	}

	decoded, err := DecodeRequest(payload)
	if err != nil {
		s.logger.Warn("undecodable request", "remote", remote, "peer", peer, "error", err)
		return
	}

	response := s.handle(ctx, peer, decoded)
	encoded, err := codec.Marshal(response)
	if err != nil {
		s.logger.Error("encoding response", "peer", peer, "error", err)
		return
	}
	if err := session.WriteMessage(encoded); err != nil {
		s.logger.Debug("writing response", "remote", remote, "peer", peer, "error", err)
	}
}

// handle runs the check-sign-commit sequence for one decoded request.
func (s *Server) handle(ctx context.Context, peer string, decoded *SignRequest) SignResponse {
	request, err := ParseRequest(decoded)
	if err != nil {
		s.logger.Warn("malformed request", "peer", peer, "error", err)
		return SignResponse{Error: ErrorMalformed}
	}
	logger := s.logger.With("peer", peer, "spend_txid", request.SpendTxid.String())

	evaluation, err := Evaluate(ctx, s.ledger, request)
	if err != nil {
		logger.Error("evaluating request", "error", err)
		return SignResponse{Error: ErrorInternal}
	}

	switch evaluation.Decision {
	case DecisionReplay:
		logger.Info("replaying recorded authorization", "inputs", len(request.Inputs))
		return SignResponse{Signatures: signaturesFromRecords(request, evaluation.Records, s.signingKey)}

	case DecisionConflict:
		logger.Warn("refused conflicting spend", "inputs", len(request.Inputs))
		return SignResponse{Error: ErrorConflict}
	}

	entries, signatures, err := Sign(request, s.signingKey)
	if err != nil {
		logger.Error("signing", "error", err)
		return SignResponse{Error: ErrorInternal}
	}

	// The commit must be durable before the signatures leave the
	// process; a response sent first could be the only record of an
	// authorization the ledger never learned about.
	if err := s.ledger.Commit(ctx, request.SpendTxid, entries); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			logger.Warn("refused conflicting spend", "inputs", len(request.Inputs))
			return SignResponse{Error: ErrorConflict}
		}
		logger.Error("committing authorization", "error", err)
		return SignResponse{Error: ErrorInternal}
	}

	logger.Info("authorized spend", "inputs", len(request.Inputs))
	return SignResponse{Signatures: signatures}
}
