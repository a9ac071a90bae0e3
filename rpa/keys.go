// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpa implements Reusable Payment Address key derivation: the
// scan/spend key split, shared-secret ECDH, non-hardened child
// derivation, per-payment session keys, and sender-side grinding
// against a receiver's candidate-selection prefix.
package rpa

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	dcrsecp "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/bastiancarmy/bch-stealth-pool/secp"
)

// scanToSpendTag is the domain-separation string folded into the
// scan-to-spend key derivation, per spec.md §3.
const scanToSpendTag = "bch-stealth:rpa:spend:"

// WalletKeyMaterial is the concrete product type for a wallet's three
// private keys. spendPriv is always the value DeriveSpendPriv computes
// from scanPriv — see EnforceSpendKeyInvariant.
type WalletKeyMaterial struct {
	BasePriv  [32]byte
	ScanPriv  [32]byte
	SpendPriv [32]byte
}

// DeriveSpendPriv computes spendPriv = scanPriv + H(scanToSpendTag ||
// scanPub) mod n, the hard invariant from spec.md §3/§9: a paycode
// carries only the scan key, so there is exactly one valid spend key
// per scan key.
func DeriveSpendPriv(scanPriv [32]byte) ([32]byte, error) {
	scanPub, err := secp.GetPublicKey(scanPriv, true)
	if err != nil {
		return [32]byte{}, err
	}

	h := sha256.New()
	h.Write([]byte(scanToSpendTag))
	h.Write(scanPub[:])
	tweak := h.Sum(nil)

	var scanScalar, tweakScalar dcrsecp.ModNScalar
	if overflow := scanScalar.SetByteSlice(scanPriv[:]); overflow {
		return [32]byte{}, secp.ErrInvalidPrivateKey
	}
	tweakScalar.SetByteSlice(tweak)

	sum := new(dcrsecp.ModNScalar).Set(&scanScalar)
	sum.Add(&tweakScalar)

	out := sum.Bytes()
	return *out, nil
}

// DeriveSpendPub computes the public counterpart of DeriveSpendPriv
// from a scan public key alone: spendPub = scanPub + H(scanToSpendTag
// || scanPub)·G. A sender only ever learns a receiver's scan key (via
// a decoded paycode), never its scan private key, so the one-time
// output derivation needs this public-only form of the tweak.
func DeriveSpendPub(scanPub [33]byte) ([33]byte, error) {
	var out [33]byte

	parsed, err := btcec.ParsePubKey(scanPub[:])
	if err != nil {
		return out, fmt.Errorf("rpa: invalid scan public key: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(scanToSpendTag))
	h.Write(scanPub[:])
	tweak := h.Sum(nil)

	var tweakScalar dcrsecp.ModNScalar
	tweakScalar.SetByteSlice(tweak)

	var tweakPoint dcrsecp.JacobianPoint
	dcrsecp.ScalarBaseMultNonConst(&tweakScalar, &tweakPoint)

	var scanPoint dcrsecp.JacobianPoint
	parsed.AsJacobian(&scanPoint)

	var sumPoint dcrsecp.JacobianPoint
	dcrsecp.AddNonConst(&scanPoint, &tweakPoint, &sumPoint)
	if sumPoint.Z.IsZero() {
		return out, fmt.Errorf("rpa: spend public key derivation hit the point at infinity")
	}
	sumPoint.ToAffine()

	childPub := dcrsecp.NewPublicKey(&sumPoint.X, &sumPoint.Y)
	copy(out[:], childPub.SerializeCompressed())
	return out, nil
}

// EnforceSpendKeyInvariant recomputes spendPriv from scanPriv and
// returns the corrected WalletKeyMaterial. Any caller-supplied spend
// key that disagrees with the derived value is silently replaced —
// per spec.md §9 "Derived spend key override", this is a hard
// invariant of the scheme, not a recoverable user choice. wasOverridden
// reports whether the caller's stored key disagreed so the caller can
// surface a loud warning through its own logger.
func EnforceSpendKeyInvariant(km WalletKeyMaterial) (corrected WalletKeyMaterial, wasOverridden bool, err error) {
	derived, err := DeriveSpendPriv(km.ScanPriv)
	if err != nil {
		return WalletKeyMaterial{}, false, err
	}

	wasOverridden = km.SpendPriv != derived
	corrected = km
	corrected.SpendPriv = derived
	return corrected, wasOverridden, nil
}
