// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpa

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	dcrsecp "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/bastiancarmy/bch-stealth-pool/primitives"
	"github.com/bastiancarmy/bch-stealth-pool/secp"
)

// ErrChildKeyIsZero is returned when a derived child scalar is zero,
// the single rejection case CKDpub/CKDpriv must observe per BIP32.
var ErrChildKeyIsZero = errors.New("rpa: derived child key is zero, pick a different index")

// RpaContext is the minimal data a receiver needs to re-derive a
// one-time private key: the sender's public key, the spent outpoint,
// and the derivation index. Stored alongside every discovered stealth
// UTXO, per spec.md §3.
type RpaContext struct {
	SenderPub33    [33]byte
	PrevoutTxidHex string
	PrevoutN       uint32
	Index          uint32
}

// OutpointString renders the RpaContext's prevout as the
// "txidHex||decimal(vout)" string the shared-secret function hashes.
func (c RpaContext) OutpointString() string {
	return c.PrevoutTxidHex + strconv.FormatUint(uint64(c.PrevoutN), 10)
}

// SharedSecret computes the symmetric ECDH-derived secret from a
// caller's private key, a counterparty's public key, and the spent
// outpoint string, per spec.md §4.4:
//
//  1. product = priv * pub; x = 33-byte big-endian affine x.
//  2. a = SHA256(x) as an integer.
//  3. b = SHA256(outpointStr) as an integer.
//  4. sharedSecret = SHA256(minimal-be-bytes(a+b)).
//
// This is symmetric: SharedSecret(senderPriv, receiverPub, op) ==
// SharedSecret(receiverPriv, senderPub, op) whenever the two keypairs
// are the matching (priv, pub) halves of an ECDH exchange.
func SharedSecret(priv32 [32]byte, pub33 [33]byte, outpointStr string) ([32]byte, error) {
	privKey, _ := btcec.PrivKeyFromBytes(priv32[:])
	defer privKey.Zero()

	pubKey, err := btcec.ParsePubKey(pub33[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("rpa: invalid counterparty public key: %w", err)
	}

	var scalar dcrsecp.ModNScalar
	if overflow := scalar.SetByteSlice(priv32[:]); overflow {
		return [32]byte{}, secp.ErrInvalidPrivateKey
	}

	var pubJacobian, product dcrsecp.JacobianPoint
	pubKey.AsJacobian(&pubJacobian)
	dcrsecp.ScalarMultNonConst(&scalar, &pubJacobian, &product)
	product.ToAffine()

	xBytes := product.X.Bytes()
	// left-pad to 33 bytes, matching the spec's "33-byte big-endian
	// integer" framing for the product's x-coordinate.
	xPadded := make([]byte, 33)
	copy(xPadded[33-len(xBytes):], xBytes[:])

	aHash := sha256.Sum256(xPadded)
	bHash := sha256.Sum256([]byte(outpointStr))

	a := new(big.Int).SetBytes(aHash[:])
	b := new(big.Int).SetBytes(bHash[:])
	sum := new(big.Int).Add(a, b)

	shared := sha256.Sum256(minimalBigEndianBytes(sum))
	return shared, nil
}

// minimalBigEndianBytes renders n as its shortest unsigned big-endian
// byte string (big.Int.Bytes already strips leading zeros, but we spell
// the intent out since the spec calls this transformation out by name).
func minimalBigEndianBytes(n *big.Int) []byte {
	return n.Bytes()
}

// CKDpub derives a non-hardened child public key from a parent public
// key, a 32-byte chain code, and an index: I = HMAC-SHA512(chainCode,
// parentPub || u32be(index)); IL = I[0:32] mod n (reject 0);
// childPub = IL*G + parentPub.
func CKDpub(parentPub33 [33]byte, chainCode [32]byte, index uint32) (childPub33 [33]byte, err error) {
	il, err := deriveIL(chainCode, parentPub33[:], index)
	if err != nil {
		return childPub33, err
	}

	parentKey, err := btcec.ParsePubKey(parentPub33[:])
	if err != nil {
		return childPub33, fmt.Errorf("rpa: invalid parent public key: %w", err)
	}

	var ilPoint, parentJacobian, childJacobian dcrsecp.JacobianPoint
	dcrsecp.ScalarBaseMultNonConst(il, &ilPoint)
	parentKey.AsJacobian(&parentJacobian)
	dcrsecp.AddNonConst(&ilPoint, &parentJacobian, &childJacobian)
	if childJacobian.Z.IsZero() {
		return childPub33, ErrChildKeyIsZero
	}
	childJacobian.ToAffine()

	childKey := dcrsecp.NewPublicKey(&childJacobian.X, &childJacobian.Y)
	copy(childPub33[:], childKey.SerializeCompressed())
	return childPub33, nil
}

// CKDpriv derives a non-hardened child private key from a parent
// private key, a 32-byte chain code, and an index, using the same IL
// as CKDpub: childPriv = (IL + parentPriv) mod n (reject 0).
func CKDpriv(parentPriv32 [32]byte, chainCode [32]byte, index uint32) (childPriv32 [32]byte, err error) {
	parentPub, err := secp.GetPublicKey(parentPriv32, true)
	if err != nil {
		return childPriv32, err
	}

	il, err := deriveIL(chainCode, parentPub[:], index)
	if err != nil {
		return childPriv32, err
	}

	var parentScalar dcrsecp.ModNScalar
	if overflow := parentScalar.SetByteSlice(parentPriv32[:]); overflow {
		return childPriv32, secp.ErrInvalidPrivateKey
	}

	child := new(dcrsecp.ModNScalar).Set(il)
	child.Add(&parentScalar)
	if child.IsZero() {
		return childPriv32, ErrChildKeyIsZero
	}

	out := child.Bytes()
	return *out, nil
}

// deriveIL computes I = HMAC-SHA512(chainCode, parentPub || u32be(index))
// and returns IL = I[0:32] mod n, rejecting a zero result.
func deriveIL(chainCode [32]byte, parentPub []byte, index uint32) (*dcrsecp.ModNScalar, error) {
	mac := hmac.New(sha512.New, chainCode[:])
	mac.Write(parentPub)
	var idxBytes [4]byte
	binary.BigEndian.PutUint32(idxBytes[:], index)
	mac.Write(idxBytes[:])
	i := mac.Sum(nil)

	il := new(dcrsecp.ModNScalar)
	il.SetByteSlice(i[:32])
	if il.IsZero() {
		return nil, ErrChildKeyIsZero
	}
	return il, nil
}

// DeriveSenderOneTimePub computes the one-time child public key and
// its HASH160 that a sender uses as the receive output for a payment
// to a paycode, per spec.md §4.4 "Sender side": CKDpub(spendPub,
// SharedSecret(priv=sender, pub=scan), index).
func DeriveSenderOneTimePub(senderPriv [32]byte, scanPub, spendPub [33]byte, prevoutTxidHex string, prevoutN, index uint32) (childPub [33]byte, childHash160 [20]byte, err error) {
	shared, err := SharedSecret(senderPriv, scanPub, prevoutTxidHex+strconv.FormatUint(uint64(prevoutN), 10))
	if err != nil {
		return childPub, childHash160, err
	}

	childPub, err = CKDpub(spendPub, shared, index)
	if err != nil {
		return childPub, childHash160, err
	}

	childHash160 = primitives.Hash160(childPub[:])
	return childPub, childHash160, nil
}

// DeriveReceiverOneTimePriv computes the one-time private key a
// receiver uses to spend a stealth output, per spec.md §4.4 "Receiver
// side": CKDpriv(spendPriv, SharedSecret(priv=scan, pub=sender), index).
// spendPriv is expected to already satisfy DeriveSpendPriv(scanPriv);
// callers should run EnforceSpendKeyInvariant before calling this.
func DeriveReceiverOneTimePriv(scanPriv, spendPriv [32]byte, senderPub33 [33]byte, ctx RpaContext) (oneTimePriv [32]byte, err error) {
	shared, err := SharedSecret(scanPriv, senderPub33, ctx.OutpointString())
	if err != nil {
		return oneTimePriv, err
	}
	return CKDpriv(spendPriv, shared, ctx.Index)
}
