// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package cosigner

import (
	"context"
	"fmt"

	"github.com/vaultbase-foundation/cosignerd/ledger"
)

// Decision is the outcome of evaluating a request against the
// authorization ledger.
type Decision int

const (
	// DecisionApprove means every spent output is unbound; the
	// transaction may be signed and the bindings recorded.
	DecisionApprove Decision = iota

	// DecisionReplay means every spent output is already bound to
	// exactly this transaction; the recorded signatures are returned
	// without signing again.
	DecisionReplay

	// DecisionConflict means at least one spent output is bound to a
	// different transaction. The request is refused.
	DecisionConflict
)

// Evaluation carries the decision and, for a replay, the stored
// records in input order.
type Evaluation struct {
	Decision Decision
	Records  []*ledger.Record
}

// Evaluate checks each spent output against the ledger.
//
// The ledger commits all of a request's bindings atomically, so a
// well-formed history has every output of a transaction either fully
// bound or fully unbound. A mix of bound and unbound outputs, or
// bindings pointing at different transactions, is treated as a
// conflict: refusing to sign is always the safe answer.
func Evaluate(ctx context.Context, authz *ledger.Ledger, request *Request) (*Evaluation, error) {
	records := make([]*ledger.Record, len(request.Inputs))
	bound := 0
	for i, input := range request.Inputs {
		record, err := authz.Lookup(ctx, input.OutPoint)
		if err != nil {
			return nil, fmt.Errorf("looking up %s: %w", input.OutPoint, err)
		}
		if record != nil {
			if record.SpendTxid != request.SpendTxid {
				return &Evaluation{Decision: DecisionConflict}, nil
			}
			bound++
		}
		records[i] = record
	}

	switch bound {
	case 0:
		return &Evaluation{Decision: DecisionApprove}, nil
	case len(request.Inputs):
		return &Evaluation{Decision: DecisionReplay, Records: records}, nil
	default:
		return &Evaluation{Decision: DecisionConflict}, nil
	}
}
