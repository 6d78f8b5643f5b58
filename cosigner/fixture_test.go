// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package cosigner

import (
	"bytes"
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/vaultbase-foundation/cosignerd/ledger"
)

const depositValue = int64(100_000_000)

func testSigningKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key
}

func testOutPoint(seed byte, vout uint32) wire.OutPoint {
	var hash chainhash.Hash
	for i := range hash {
		hash[i] = seed
	}
	return wire.OutPoint{Hash: hash, Index: vout}
}

func openTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	authz, err := ledger.Open(ledger.Config{
		Path: filepath.Join(t.TempDir(), "cosignerd.sqlite3"),
	})
	if err != nil {
		t.Fatalf("opening ledger: %v", err)
	}
	t.Cleanup(func() { authz.Close() })
	return authz
}

// depositScript builds the witness script locking a deposit to the
// cosigner's key.
func depositScript(t *testing.T, cosignerPub *btcec.PublicKey) []byte {
	t.Helper()
	script, err := txscript.NewScriptBuilder().
		AddData(cosignerPub.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		t.Fatalf("building witness script: %v", err)
	}
	return script
}

// buildSignRequest assembles a spend of the given outpoints, each a
// P2WSH deposit locked by the cosigner's key, and returns the wire
// request a manager would send.
func buildSignRequest(t *testing.T, cosignerPub *btcec.PublicKey, outpoints ...wire.OutPoint) *SignRequest {
	t.Helper()

	witnessScript := depositScript(t, cosignerPub)
	scriptHash := sha256.Sum256(witnessScript)
	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash[:]).
		Script()
	if err != nil {
		t.Fatalf("building p2wsh script: %v", err)
	}

	tx := wire.NewMsgTx(2)
	for i := range outpoints {
		tx.AddTxIn(wire.NewTxIn(&outpoints[i], nil, nil))
	}
	destination := make([]byte, 34)
	destination[1] = 32
	totalIn := depositValue * int64(len(outpoints))
	tx.AddTxOut(wire.NewTxOut(totalIn-10_000, destination))

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("building psbt: %v", err)
	}
	for i := range packet.Inputs {
		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(depositValue, pkScript)
		packet.Inputs[i].WitnessScript = witnessScript
		packet.Inputs[i].SighashType = txscript.SigHashAll
	}

	var serialized bytes.Buffer
	if err := packet.Serialize(&serialized); err != nil {
		t.Fatalf("serializing psbt: %v", err)
	}

	refs := make([]OutputRef, len(outpoints))
	for i, outpoint := range outpoints {
		refs[i] = OutputRef{Txid: bytes.Clone(outpoint.Hash[:]), Vout: outpoint.Index}
	}

	return &SignRequest{
		Kind:         KindSign,
		Psbt:         serialized.Bytes(),
		SpentOutputs: refs,
	}
}
