// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package cosigner

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/vaultbase-foundation/cosignerd/lib/codec"
)

// KindSign is the only request kind the daemon serves.
const KindSign = "sign"

// Error codes returned in SignResponse.Error. The vocabulary is
// deliberately small; managers branch on these strings.
const (
	// ErrorConflict means at least one spent output is already bound
	// to a different spending transaction. The request must not be
	// retried.
	ErrorConflict = "conflict"

	// ErrorMalformed means the request decoded but failed semantic
	// validation.
	ErrorMalformed = "malformed"

	// ErrorInternal means the daemon could not complete the request.
	// Retrying the identical request is safe.
	ErrorInternal = "internal"
)

// ErrMalformed marks semantic validation failures in ParseRequest.
var ErrMalformed = errors.New("malformed signing request")

// OutputRef names a spent output on the wire. Txid is the 32 raw hash
// bytes in chainhash order.
type OutputRef struct {
	Txid []byte `cbor:"txid"`
	Vout uint32 `cbor:"vout"`
}

// SignRequest is the single message a manager sends per session.
type SignRequest struct {
	Kind string `cbor:"kind"`

	// Psbt is the serialized partially signed transaction. Every
	// input must carry its witness UTXO, witness script, and a
	// SIGHASH_ALL sighash type.
	Psbt []byte `cbor:"psbt"`

	// SpentOutputs lists the outputs the transaction spends, in
	// input order. It must match the transaction's inputs exactly;
	// the redundancy catches manager-side assembly bugs before any
	// ledger state is touched.
	SpentOutputs []OutputRef `cbor:"spent_outputs"`
}

// InputSignature is one witness signature in a successful response.
// Signature is DER with the sighash byte appended, ready to place in
// the input's witness stack.
type InputSignature struct {
	Txid      []byte `cbor:"txid"`
	Vout      uint32 `cbor:"vout"`
	PublicKey []byte `cbor:"public_key"`
	Signature []byte `cbor:"signature"`
}

// SignResponse is the single reply per session. Exactly one of
// Signatures or Error is set.
type SignResponse struct {
	Signatures []InputSignature `cbor:"signatures,omitempty"`
	Error      string           `cbor:"error,omitempty"`
}

// Request is a decoded and validated signing request.
type Request struct {
	// Packet is the parsed PSBT.
	Packet *psbt.Packet

	// SpendTxid is the txid of the unsigned transaction, the
	// identity under which authorizations are recorded. Witness
	// data is excluded from the txid, so the identical request
	// hashes identically regardless of which cosigners have already
	// signed.
	SpendTxid chainhash.Hash

	// Inputs holds the per-input signing context in input order.
	Inputs []RequestInput
}

// RequestInput is the signing context for one transaction input.
type RequestInput struct {
	OutPoint      wire.OutPoint
	Value         int64
	WitnessScript []byte
}

// DecodeRequest decodes the raw session payload. A decode failure here
// means the peer is not speaking the protocol; callers drop the
// connection without a response.
func DecodeRequest(payload []byte) (*SignRequest, error) {
	var request SignRequest
	if err := codec.Unmarshal(payload, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	return &request, nil
}

// ParseRequest validates a decoded request and extracts the signing
// context. All failures wrap ErrMalformed; the peer gets an
// ErrorMalformed response and may fix and resubmit.
func ParseRequest(request *SignRequest) (*Request, error) {
	if request.Kind != KindSign {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, request.Kind)
	}

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(request.Psbt), false)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing psbt: %v", ErrMalformed, err)
	}

	tx := packet.UnsignedTx
	if len(tx.TxIn) == 0 {
		return nil, fmt.Errorf("%w: transaction has no inputs", ErrMalformed)
	}
	if len(request.SpentOutputs) != len(tx.TxIn) {
		return nil, fmt.Errorf("%w: %d spent outputs listed for %d inputs",
			ErrMalformed, len(request.SpentOutputs), len(tx.TxIn))
	}

	inputs := make([]RequestInput, len(tx.TxIn))
	for i, txIn := range tx.TxIn {
		outpoint := txIn.PreviousOutPoint

		ref := request.SpentOutputs[i]
		refHash, err := chainhash.NewHash(ref.Txid)
		if err != nil {
			return nil, fmt.Errorf("%w: spent output %d: bad txid: %v", ErrMalformed, i, err)
		}
		if *refHash != outpoint.Hash || ref.Vout != outpoint.Index {
			return nil, fmt.Errorf("%w: spent output %d does not match input %d (%s)",
				ErrMalformed, i, i, outpoint)
		}

		in := packet.Inputs[i]
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("%w: input %d missing witness utxo", ErrMalformed, i)
		}
		if len(in.WitnessScript) == 0 {
			return nil, fmt.Errorf("%w: input %d missing witness script", ErrMalformed, i)
		}
		if in.SighashType != 0 && in.SighashType != txscript.SigHashAll {
			return nil, fmt.Errorf("%w: input %d requests sighash %d, only SIGHASH_ALL is served",
				ErrMalformed, i, in.SighashType)
		}

		// The witness utxo must actually be the P2WSH commitment
		// of the supplied witness script.
		scriptHash := sha256.Sum256(in.WitnessScript)
		expected, err := witnessScriptHashScript(scriptHash[:])
		if err != nil {
			return nil, fmt.Errorf("building p2wsh script: %w", err)
		}
		if !bytes.Equal(in.WitnessUtxo.PkScript, expected) {
			return nil, fmt.Errorf("%w: input %d witness script does not hash to the spent output's script",
				ErrMalformed, i)
		}

		inputs[i] = RequestInput{
			OutPoint:      outpoint,
			Value:         in.WitnessUtxo.Value,
			WitnessScript: in.WitnessScript,
		}
	}

	return &Request{
		Packet:    packet,
		SpendTxid: tx.TxHash(),
		Inputs:    inputs,
	}, nil
}

func witnessScriptHashScript(scriptHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash).
		Script()
}
