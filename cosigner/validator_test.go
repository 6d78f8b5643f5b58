// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package cosigner

import (
	"context"
	"testing"
)

func TestEvaluateApprovesUnboundOutputs(t *testing.T) {
	key := testSigningKey(t)
	authz := openTestLedger(t)

	request, err := ParseRequest(buildSignRequest(t, key.PubKey(), testOutPoint(0x11, 0), testOutPoint(0x22, 1)))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}

	evaluation, err := Evaluate(context.Background(), authz, request)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evaluation.Decision != DecisionApprove {
		t.Fatalf("decision = %v, want approve", evaluation.Decision)
	}
}

func TestEvaluateReplaysIdenticalRequest(t *testing.T) {
	key := testSigningKey(t)
	authz := openTestLedger(t)

	request, err := ParseRequest(buildSignRequest(t, key.PubKey(), testOutPoint(0x11, 0), testOutPoint(0x22, 1)))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	entries, _, err := Sign(request, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := authz.Commit(context.Background(), request.SpendTxid, entries); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	evaluation, err := Evaluate(context.Background(), authz, request)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evaluation.Decision != DecisionReplay {
		t.Fatalf("decision = %v, want replay", evaluation.Decision)
	}
	if len(evaluation.Records) != len(request.Inputs) {
		t.Fatalf("records = %d, want %d", len(evaluation.Records), len(request.Inputs))
	}
	for i, record := range evaluation.Records {
		if record == nil {
			t.Fatalf("record %d is nil", i)
		}
		if record.SpendTxid != request.SpendTxid {
			t.Errorf("record %d spend txid = %s, want %s", i, record.SpendTxid, request.SpendTxid)
		}
	}
}

func TestEvaluateRejectsConflictingSpend(t *testing.T) {
	key := testSigningKey(t)
	authz := openTestLedger(t)
	shared := testOutPoint(0x11, 0)

	first, err := ParseRequest(buildSignRequest(t, key.PubKey(), shared))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	entries, _, err := Sign(first, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := authz.Commit(context.Background(), first.SpendTxid, entries); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// A different transaction spending the same output plus a fresh
	// one must be refused, even though the fresh output is unbound.
	conflicting, err := ParseRequest(buildSignRequest(t, key.PubKey(), shared, testOutPoint(0x33, 2)))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}

	evaluation, err := Evaluate(context.Background(), authz, conflicting)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evaluation.Decision != DecisionConflict {
		t.Fatalf("decision = %v, want conflict", evaluation.Decision)
	}
}

func TestEvaluateTreatsPartialBindingAsConflict(t *testing.T) {
	key := testSigningKey(t)
	authz := openTestLedger(t)
	first := testOutPoint(0x11, 0)
	second := testOutPoint(0x22, 1)

	request, err := ParseRequest(buildSignRequest(t, key.PubKey(), first, second))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}

	// Bind only one of the two outputs to this transaction's txid, a
	// state the atomic commit never produces on its own.
	entries, _, err := Sign(request, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := authz.Commit(context.Background(), request.SpendTxid, entries[:1]); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	evaluation, err := Evaluate(context.Background(), authz, request)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evaluation.Decision != DecisionConflict {
		t.Fatalf("decision = %v, want conflict", evaluation.Decision)
	}
}
