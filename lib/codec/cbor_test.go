// Copyright 2026 The Vaultbase Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Kind    string `cbor:"kind"`
	Payload []byte `cbor:"payload"`
	Index   uint32 `cbor:"index"`
}

func TestMarshalDeterministic(t *testing.T) {
	value := sample{Kind: "sign", Payload: []byte{0xde, 0xad}, Index: 7}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("deterministic encoding produced different bytes:\n%x\n%x", first, second)
	}
}

func TestRoundTrip(t *testing.T) {
	in := sample{Kind: "sign", Payload: []byte{1, 2, 3}, Index: 42}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Kind != in.Kind || out.Index != in.Index || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{
		"kind":    "sign",
		"index":   1,
		"payload": []byte{9},
		"extra":   "future field",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal with unknown field: %v", err)
	}
	if out.Kind != "sign" || out.Index != 1 {
		t.Fatalf("unexpected decode result: %+v", out)
	}
}
