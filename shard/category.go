// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package shard drives the covenant-locked pool hash-fold state
// machine: shard initialization, deposit import, and withdrawal.
package shard

import (
	"encoding/hex"
	"fmt"

	"github.com/bastiancarmy/bch-stealth-pool/primitives"
)

// CategoryMode selects how a funding txid's bytes are reshaped into a
// CashTokens category, per spec.md §9: the library's own serialization
// of 32-byte category bytes is ambiguous, so the import orchestrator
// retries across all three in order on an OP_EQUALVERIFY-class
// rejection.
type CategoryMode uint8

const (
	CategoryModeDefault CategoryMode = iota
	CategoryModeReverse
	CategoryModeRaw
)

// String renders the CategoryMode the way the import orchestrator
// names it in a diagnostic log line.
func (m CategoryMode) String() string {
	switch m {
	case CategoryModeDefault:
		return "default"
	case CategoryModeReverse:
		return "reverse"
	case CategoryModeRaw:
		return "raw"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// FallbackOrder is the category-mode retry sequence the import
// orchestrator walks on an OP_EQUALVERIFY-class broadcast rejection,
// per spec.md §4.10/§9: default, then reverse, then raw.
var FallbackOrder = []CategoryMode{CategoryModeDefault, CategoryModeReverse, CategoryModeRaw}

// DeriveCategory32FromFundingTxidHex reshapes a funding transaction's
// display-order (big-endian) txid hex string into a 32-byte category,
// per spec.md §4.6: "by library contract a deterministic reshaping of
// the funding transaction's txid bytes." The three CategoryMode values
// produce the three candidate reshapings a conformant covenant
// implementation must be able to fall back across.
func DeriveCategory32FromFundingTxidHex(fundingTxidHex string, mode CategoryMode) ([32]byte, error) {
	var category [32]byte

	raw, err := hex.DecodeString(fundingTxidHex)
	if err != nil {
		return category, fmt.Errorf("shard: invalid funding txid hex: %w", err)
	}
	if len(raw) != 32 {
		return category, fmt.Errorf("shard: funding txid must decode to 32 bytes, got %d", len(raw))
	}

	switch mode {
	case CategoryModeDefault:
		// The display hex is big-endian; the category is carried
		// internally in on-wire (little-endian) byte order.
		copy(category[:], primitives.ReverseBytes(raw))
	case CategoryModeReverse:
		// Assume the caller's txid was already in internal order.
		copy(category[:], raw)
	case CategoryModeRaw:
		// Neither a full reversal nor a straight copy: some covenant
		// builds reshape the txid word-by-word (a legacy artifact of
		// treating the hash as four 64-bit words in internal order
		// rather than one 256-bit string), so swap each 8-byte chunk
		// independently as the fallback of last resort.
		for word := 0; word < 4; word++ {
			start := word * 8
			copy(category[start:start+8], primitives.ReverseBytes(raw[start:start+8]))
		}
	default:
		return category, fmt.Errorf("shard: unknown category mode %v", mode)
	}

	return category, nil
}
