// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"errors"
	"fmt"

	"github.com/bastiancarmy/bch-stealth-pool/primitives"
	"github.com/bastiancarmy/bch-stealth-pool/secp"
)

// Authorizer produces a scriptSig for one transaction input. Each
// variant below implements the shape spec.md §4.5 assigns to it; the
// covenant (hash-fold v1.1) variant signs nothing and takes no key.
type Authorizer interface {
	Authorize(sighash []byte) ([]byte, error)
}

// ErrCovenantUnsigned reports that a v1.1 covenant input carries no
// signature. CovenantV11Authorizer takes no key, and no function in
// this package returns this error.
var ErrCovenantUnsigned = errors.New("txscript: v1.1 covenant input is not signed")

// P2PKHAuthorizer signs with a single private key and pushes
// <sig65> <pub33>.
type P2PKHAuthorizer struct {
	Priv        [32]byte
	Pub33       [33]byte
	SighashType byte
}

// Authorize implements Authorizer.
func (a P2PKHAuthorizer) Authorize(sighash []byte) ([]byte, error) {
	sigType := a.SighashType
	if sigType == 0 {
		sigType = SighashAllForkID
	}
	sig64, err := secp.Sign(a.Priv, sighash)
	if err != nil {
		return nil, fmt.Errorf("txscript: p2pkh sign: %w", err)
	}
	sig65 := append(append([]byte{}, sig64[:]...), sigType)

	out := make([]byte, 0, 1+65+1+33)
	out = append(out, primitives.PushDataPrefix(len(sig65))...)
	out = append(out, sig65...)
	out = append(out, primitives.PushDataPrefix(len(a.Pub33))...)
	out = append(out, a.Pub33[:]...)
	return out, nil
}

// P2SHAuthorizer signs with a single private key (the conventional
// non-covenant case) and pushes <sig65> <pub33> <redeemScript>.
type P2SHAuthorizer struct {
	Priv         [32]byte
	Pub33        [33]byte
	RedeemScript []byte
	SighashType  byte
}

// Authorize implements Authorizer.
func (a P2SHAuthorizer) Authorize(sighash []byte) ([]byte, error) {
	sigType := a.SighashType
	if sigType == 0 {
		sigType = SighashAllForkID
	}
	sig64, err := secp.Sign(a.Priv, sighash)
	if err != nil {
		return nil, fmt.Errorf("txscript: p2sh sign: %w", err)
	}
	sig65 := append(append([]byte{}, sig64[:]...), sigType)

	out := make([]byte, 0, 1+65+1+33+5+len(a.RedeemScript))
	out = append(out, primitives.PushDataPrefix(len(sig65))...)
	out = append(out, sig65...)
	out = append(out, primitives.PushDataPrefix(len(a.Pub33))...)
	out = append(out, a.Pub33[:]...)
	out = append(out, primitives.PushDataPrefix(len(a.RedeemScript))...)
	out = append(out, a.RedeemScript...)
	return out, nil
}

// SignCovenantInput is the legacy covenant authorizer: scriptSig =
// <amountCommitment> <pub33> <sig65> <redeemScript>. Per spec.md §9
// this shape "remains in tests but is no longer used on the live
// path" — v1.1 shard spends use CovenantV11Authorizer instead.
type SignCovenantInput struct {
	AmountCommitment int64
	Priv             [32]byte
	Pub33            [33]byte
	RedeemScript     []byte
	SighashType      byte
}

// Authorize implements Authorizer.
func (a SignCovenantInput) Authorize(sighash []byte) ([]byte, error) {
	sigType := a.SighashType
	if sigType == 0 {
		sigType = SighashAllForkID
	}
	sig64, err := secp.Sign(a.Priv, sighash)
	if err != nil {
		return nil, fmt.Errorf("txscript: legacy covenant sign: %w", err)
	}
	sig65 := append(append([]byte{}, sig64[:]...), sigType)

	amountPush := primitives.MinimalScriptNumber(a.AmountCommitment)

	out := make([]byte, 0)
	out = append(out, primitives.PushDataPrefix(len(amountPush))...)
	out = append(out, amountPush...)
	out = append(out, primitives.PushDataPrefix(len(a.Pub33))...)
	out = append(out, a.Pub33[:]...)
	out = append(out, primitives.PushDataPrefix(len(sig65))...)
	out = append(out, sig65...)
	out = append(out, primitives.PushDataPrefix(len(a.RedeemScript))...)
	out = append(out, a.RedeemScript...)
	return out, nil
}

// CovenantV11Authorizer is the hash-fold v1.1 shard-spending unlock:
// scriptSig = <noteHash32> <proofBlob32>, exactly two bare 32-byte
// direct pushes (opcode 0x20), input[0] unsigned. No signature, no
// redeem-script push — per spec.md §4.6/§9, this is the only path the
// shard engine uses on-chain.
type CovenantV11Authorizer struct {
	NoteHash  [32]byte
	ProofBlob [32]byte
}

// Authorize implements Authorizer. sighash is ignored: the v1.1
// covenant input is never signed.
func (a CovenantV11Authorizer) Authorize(sighash []byte) ([]byte, error) {
	out := make([]byte, 0, 66)
	out = append(out, 0x20)
	out = append(out, a.NoteHash[:]...)
	out = append(out, 0x20)
	out = append(out, a.ProofBlob[:]...)
	return out, nil
}

// ParsedCovenantUnlock is the result of ParseCovenantV11ScriptSig: the
// two bare 32-byte pushes of a v1.1 scriptSig.
type ParsedCovenantUnlock struct {
	NoteHash  [32]byte
	ProofBlob [32]byte
}

// ParseCovenantV11ScriptSig parses a scriptSig built by
// CovenantV11Authorizer back into its two 32-byte pushes, asserting
// push-count and push-lengths. The shard engine has no debug mode and
// does not call it on the scriptSigs it emits; the tests use it to
// check emitted unlocks.
func ParseCovenantV11ScriptSig(scriptSig []byte) (ParsedCovenantUnlock, error) {
	var out ParsedCovenantUnlock
	if len(scriptSig) != 66 {
		return out, fmt.Errorf("txscript: v1.1 covenant scriptSig must be exactly 66 bytes, got %d", len(scriptSig))
	}
	if scriptSig[0] != 0x20 || scriptSig[33] != 0x20 {
		return out, fmt.Errorf("txscript: v1.1 covenant scriptSig must be two direct 32-byte pushes")
	}
	copy(out.NoteHash[:], scriptSig[1:33])
	copy(out.ProofBlob[:], scriptSig[34:66])
	return out, nil
}
