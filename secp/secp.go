// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package secp wraps secp256k1 point and scalar arithmetic for the
// rest of this module, and implements the BCH variant of Schnorr
// signing used to authorize P2PKH/P2SH/covenant inputs. This is not
// BIP340 Schnorr (as implemented by btcec/v2's schnorr subpackage) —
// Bitcoin Cash's scheme signs (r, s) over a different challenge
// preimage and accepts 64- or 65-byte signatures.
package secp

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	dcrsecp "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// schnorrExtraEntropy is the 16-byte additional data RFC6979 mixes in,
// fixed by the BCH Schnorr specification.
var schnorrExtraEntropy = []byte("Schnorr+SHA256  ")

// ErrInvalidPrivateKey is returned for a zero or out-of-range scalar.
var ErrInvalidPrivateKey = errors.New("secp: invalid private key")

// ErrInvalidSignature is returned by Verify for a malformed signature.
var ErrInvalidSignature = errors.New("secp: invalid signature encoding")

// GetPublicKey derives the compressed public key for priv. BCH always
// uses compressed points; the compressed flag exists only to match the
// spec's call shape.
func GetPublicKey(priv [32]byte, compressed bool) ([33]byte, error) {
	var out [33]byte
	if !compressed {
		return out, fmt.Errorf("secp: only compressed public keys are supported")
	}
	privKey, pubKey := btcec.PrivKeyFromBytes(priv[:])
	defer privKey.Zero()
	copy(out[:], pubKey.SerializeCompressed())
	return out, nil
}

// EnsureEvenYPriv negates priv mod n when its derived point has odd y,
// guaranteeing the returned private key's public point always has even
// y. Idempotent: calling it twice yields the same result as once.
func EnsureEvenYPriv(priv [32]byte) ([32]byte, error) {
	var scalar dcrsecp.ModNScalar
	if overflow := scalar.SetByteSlice(priv[:]); overflow {
		return [32]byte{}, ErrInvalidPrivateKey
	}
	if scalar.IsZero() {
		return [32]byte{}, ErrInvalidPrivateKey
	}

	var pt dcrsecp.JacobianPoint
	dcrsecp.ScalarBaseMultNonConst(&scalar, &pt)
	pt.ToAffine()

	if pt.Y.IsOdd() {
		scalar.Negate()
	}

	out := scalar.Bytes()
	return *out, nil
}

// Sign produces a deterministic 64-byte BCH Schnorr signature (r || s)
// over sighash using priv, following:
//
//  1. k = RFC6979(priv, sighash, extra="Schnorr+SHA256  ")
//  2. R = k·G; if jacobi(R.y) != 1, k = n-k, recompute R
//  3. r = R.x (32-byte big-endian)
//  4. e = SHA256(r || pub33 || sighash) mod n
//  5. s = (k + e·priv) mod n
func Sign(priv [32]byte, sighash []byte) ([64]byte, error) {
	var sig [64]byte

	privScalar := new(dcrsecp.ModNScalar)
	if overflow := privScalar.SetByteSlice(priv[:]); overflow || privScalar.IsZero() {
		return sig, ErrInvalidPrivateKey
	}

	pub33, err := GetPublicKey(priv, true)
	if err != nil {
		return sig, err
	}

	k := dcrsecp.NonceRFC6979(priv[:], sighash, schnorrExtraEntropy, nil, 0)

	var r dcrsecp.JacobianPoint
	dcrsecp.ScalarBaseMultNonConst(k, &r)
	r.ToAffine()

	if jacobi(&r.Y) != 1 {
		k.Negate()
		dcrsecp.ScalarBaseMultNonConst(k, &r)
		r.ToAffine()
	}

	rBytes := r.X.Bytes()

	e := challengeScalar(rBytes[:], pub33[:], sighash)

	// s = k + e*priv mod n
	s := new(dcrsecp.ModNScalar).Set(e)
	s.Mul(privScalar)
	s.Add(k)

	sBytes := s.Bytes()
	copy(sig[:32], rBytes[:])
	copy(sig[32:], sBytes[:])
	return sig, nil
}

// Verify checks a BCH Schnorr signature. It accepts both the bare
// 64-byte (r,s) form and the 65-byte form used in scriptSigs, where the
// trailing byte is the sighash type and is stripped before verification.
func Verify(sig []byte, sighash []byte, pub []byte) bool {
	if len(sig) == 65 {
		sig = sig[:64]
	}
	if len(sig) != 64 {
		return false
	}

	pubKey, err := btcec.ParsePubKey(pub)
	if err != nil {
		return false
	}

	var rField dcrsecp.FieldVal
	if overflow := rField.SetByteSlice(sig[:32]); overflow {
		return false
	}
	var sScalar dcrsecp.ModNScalar
	if overflow := sScalar.SetByteSlice(sig[32:]); overflow {
		return false
	}
	if sScalar.IsZero() {
		return false
	}

	e := challengeScalar(sig[:32], pub, sighash)

	// R' = s*G - e*P
	var sG, eP, negEP, rPrime dcrsecp.JacobianPoint
	dcrsecp.ScalarBaseMultNonConst(&sScalar, &sG)

	var pubJacobian dcrsecp.JacobianPoint
	pubKey.AsJacobian(&pubJacobian)
	dcrsecp.ScalarMultNonConst(e, &pubJacobian, &eP)
	negEP = eP
	negEP.Y.Negate(1).Normalize()

	dcrsecp.AddNonConst(&sG, &negEP, &rPrime)
	if rPrime.Z.IsZero() {
		return false
	}
	rPrime.ToAffine()

	if !rPrime.X.Equals(&rField) {
		return false
	}
	return jacobi(&rPrime.Y) == 1
}

// challengeScalar computes e = SHA256(r || pub33 || sighash) mod n.
func challengeScalar(r, pub, sighash []byte) *dcrsecp.ModNScalar {
	h := sha256.New()
	h.Write(r)
	h.Write(pub)
	h.Write(sighash)
	digest := h.Sum(nil)

	e := new(dcrsecp.ModNScalar)
	e.SetByteSlice(digest)
	return e
}

// curveFieldPrime is P, the secp256k1 field prime, needed for the Jacobi
// symbol test on the y coordinate.
var curveFieldPrime, _ = new(big.Int).SetString(
	"fffffffffffffffffffffffffffffffffffffffffffffffffffffefffffc2f", 16)

// jacobi returns the Jacobi symbol of y over the field prime, used to
// decide whether a point's y coordinate is a quadratic residue (the
// BCH Schnorr convention for "even" R/R').
func jacobi(y *dcrsecp.FieldVal) int {
	yCopy := *y
	yCopy.Normalize()
	yBytes := yCopy.Bytes()
	yInt := new(big.Int).SetBytes(yBytes[:])
	return big.Jacobi(yInt, curveFieldPrime)
}
