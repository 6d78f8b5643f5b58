// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package cosigner

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/vaultbase-foundation/cosignerd/ledger"
)

// Sign produces a SIGHASH_ALL witness signature for every input of the
// request with the cosigner's key. It returns both the ledger entries
// to commit and the wire-format signatures to send, in input order.
//
// Signing is deterministic (RFC 6979 nonces), so re-signing the same
// transaction after a crash between signing and committing yields
// byte-identical signatures. The ledger's identical-binding tolerance
// depends on that.
func Sign(request *Request, key *btcec.PrivateKey) ([]ledger.Entry, []InputSignature, error) {
	tx := request.Packet.UnsignedTx

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, input := range request.Inputs {
		fetcher.AddPrevOut(input.OutPoint, wire.NewTxOut(input.Value, nil))
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	publicKey := key.PubKey().SerializeCompressed()
	entries := make([]ledger.Entry, len(request.Inputs))
	signatures := make([]InputSignature, len(request.Inputs))
	for i, input := range request.Inputs {
		signature, err := txscript.RawTxInWitnessSignature(
			tx, sigHashes, i, input.Value, input.WitnessScript, txscript.SigHashAll, key)
		if err != nil {
			return nil, nil, fmt.Errorf("signing input %d (%s): %w", i, input.OutPoint, err)
		}
		entries[i] = ledger.Entry{
			OutPoint:  input.OutPoint,
			Signature: signature,
		}
		signatures[i] = InputSignature{
			Txid:      input.OutPoint.Hash[:],
			Vout:      input.OutPoint.Index,
			PublicKey: publicKey,
			Signature: signature,
		}
	}
	return entries, signatures, nil
}

// signaturesFromRecords rebuilds the response signatures for a replay
// from the ledger records, in input order.
func signaturesFromRecords(request *Request, records []*ledger.Record, key *btcec.PrivateKey) []InputSignature {
	publicKey := key.PubKey().SerializeCompressed()
	signatures := make([]InputSignature, len(records))
	for i, record := range records {
		signatures[i] = InputSignature{
			Txid:      request.Inputs[i].OutPoint.Hash[:],
			Vout:      request.Inputs[i].OutPoint.Index,
			PublicKey: publicKey,
			Signature: record.Signature,
		}
	}
	return signatures
}
