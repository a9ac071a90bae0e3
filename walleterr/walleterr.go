// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package walleterr defines the distinct error kinds the wallet core
// raises, so callers can distinguish them with errors.As instead of
// string matching.
package walleterr

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed caller input: non-hex data, a
// wrong byte length, an out-of-range index, a cross-network address,
// or an invalid paycode version.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ChainError wraps an RPC that was rejected or returned an
// unexpected shape, carrying the server's message and the RPC label.
type ChainError struct {
	Method  string
	Message string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain error (%s): %s", e.Method, e.Message)
}

// NewChainError constructs a ChainError.
func NewChainError(method, message string) *ChainError {
	return &ChainError{Method: method, Message: message}
}

// RejectedCandidate is one funding UTXO the selector considered and
// discarded, together with the reason code it failed under.
type RejectedCandidate struct {
	TxidHex string
	Vout    uint32
	Reason  string
}

// InsufficientFundsError is returned when the funding selector
// exhausts every candidate without finding one that passes.
type InsufficientFundsError struct {
	Rejected []RejectedCandidate
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %d candidate(s) rejected", len(e.Rejected))
}

// NewInsufficientFundsError constructs an InsufficientFundsError.
func NewInsufficientFundsError(rejected []RejectedCandidate) *InsufficientFundsError {
	return &InsufficientFundsError{Rejected: rejected}
}

// PolicyViolation reports a below-dust output, a shard remainder
// below shard-dust, a base-import attempted without the env unlock,
// or a covenant-push-parse mismatch.
type PolicyViolation struct {
	Policy string
	Detail string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", e.Policy, e.Detail)
}

// NewPolicyViolation constructs a PolicyViolation.
func NewPolicyViolation(policy, detail string) *PolicyViolation {
	return &PolicyViolation{Policy: policy, Detail: detail}
}

// DerivationMismatch reports that a record's on-chain hash160
// disagrees with its re-derived child key. Always fatal for that
// record, never for the whole operation — callers skip and mark.
type DerivationMismatch struct {
	TxidHex      string
	Vout         uint32
	WantHash160  string
	GotHash160   string
	DerivedIndex uint32
}

func (e *DerivationMismatch) Error() string {
	return fmt.Sprintf("derivation mismatch at %s:%d (index %d): want %s got %s",
		e.TxidHex, e.Vout, e.DerivedIndex, e.WantHash160, e.GotHash160)
}

// NewDerivationMismatch constructs a DerivationMismatch.
func NewDerivationMismatch(txidHex string, vout uint32, want, got string, index uint32) *DerivationMismatch {
	return &DerivationMismatch{TxidHex: txidHex, Vout: vout, WantHash160: want, GotHash160: got, DerivedIndex: index}
}

// BroadcastError reports rejection by the network: op_equalverify,
// mandatory-script-verify-flag-failed, script failed, or code 16. The
// import orchestrator treats this class as retryable across
// category-mode candidates.
type BroadcastError struct {
	Code    int
	Message string
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast rejected (code %d): %s", e.Code, e.Message)
}

// NewBroadcastError constructs a BroadcastError.
func NewBroadcastError(code int, message string) *BroadcastError {
	return &BroadcastError{Code: code, Message: message}
}

// IsEqualVerifyClass reports whether a BroadcastError looks like the
// OP_EQUALVERIFY rejection class the import orchestrator retries
// across category-mode candidates, per spec.md §9.
func (e *BroadcastError) IsEqualVerifyClass() bool {
	switch e.Code {
	case 16:
		return true
	}
	switch e.Message {
	case "mandatory-script-verify-flag-failed (Script failed an OP_EQUALVERIFY operation)",
		"mandatory-script-verify-flag-failed (Script evaluated without error but finished with a false/empty top stack element)":
		return true
	}
	lower := strings.ToLower(e.Message)
	for _, sub := range []string{"op_equalverify", "script failed", "mandatory-script-verify-flag-failed"} {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
