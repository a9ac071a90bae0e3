// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpa

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bastiancarmy/bch-stealth-pool/addresses"
)

// grindPrefixTag is the domain-separation string folded into a
// wallet's default candidate-selection prefix, per spec.md §4.4.
const grindPrefixTag = "bch-stealth:rpa:grind:"

// DefaultGrindMax is the default number of indices a sender tries
// before giving up on finding a prefix match, per spec.md §4.4.
const DefaultGrindMax = 256

// SessionKeys are the three per-payment symmetric keys derived from a
// shared secret and the spent outpoint, per spec.md §4.4:
//
//	base      = SHA256(sharedSecret || "txid:vout")
//	amountKey = SHA256(base || "amount")[0:16]
//	memoKey   = SHA256(base || "memo")[0:16]
//	zkSeed    = SHA256(base || "zk-seed")
type SessionKeys struct {
	AmountKey [16]byte
	MemoKey   [16]byte
	ZkSeed    [32]byte
}

// DeriveSessionKeys computes SessionKeys for a single payment.
func DeriveSessionKeys(sharedSecret [32]byte, txidHex string, vout uint32) SessionKeys {
	baseInput := append(append([]byte{}, sharedSecret[:]...), []byte(txidHex+":"+strconv.FormatUint(uint64(vout), 10))...)
	base := sha256.Sum256(baseInput)

	amountFull := sha256.Sum256(append(append([]byte{}, base[:]...), []byte("amount")...))
	memoFull := sha256.Sum256(append(append([]byte{}, base[:]...), []byte("memo")...))
	zkSeed := sha256.Sum256(append(append([]byte{}, base[:]...), []byte("zk-seed")...))

	var keys SessionKeys
	copy(keys.AmountKey[:], amountFull[:16])
	copy(keys.MemoKey[:], memoFull[:16])
	keys.ZkSeed = zkSeed
	return keys
}

// DefaultGrindPrefix computes a wallet's default 8-bit (1-byte)
// candidate-selection prefix: SHA256("bch-stealth:rpa:grind:" ||
// scanPub33)[0:1].
func DefaultGrindPrefix(scanPub33 [33]byte) [1]byte {
	h := sha256.Sum256(append([]byte(grindPrefixTag), scanPub33[:]...))
	var out [1]byte
	out[0] = h[0]
	return out
}

// DefaultGrindPrefix16 computes the preferred 16-bit (2-byte) form,
// used when the RPA index server supports it.
func DefaultGrindPrefix16(scanPub33 [33]byte) [2]byte {
	h := sha256.Sum256(append([]byte(grindPrefixTag), scanPub33[:]...))
	var out [2]byte
	copy(out[:], h[:2])
	return out
}

// ResolveGrindPrefix accepts either a full CashAddr (from which
// hash160[0:2] is taken), or a raw hex string, truncating anything
// longer than 2 bytes — spec.md §4.4/§6: "rpaPrefix longer than 2
// bytes is truncated to 2", and the server-side constraint of
// accepting 2-4 hex characters (1-2 bytes).
func ResolveGrindPrefix(input string) ([]byte, error) {
	if strings.Contains(input, ":") {
		hash160, _, _, err := addresses.DecodeCashAddr(input)
		if err != nil {
			return nil, fmt.Errorf("rpa: cannot resolve grind prefix from cashaddr: %w", err)
		}
		return hash160[:2], nil
	}

	raw, err := hex.DecodeString(input)
	if err != nil {
		return nil, fmt.Errorf("rpa: grind prefix is neither a cashaddr nor valid hex: %w", err)
	}
	// Strip a leading P2PKH script prefix (76a914) if present, per
	// spec.md §6 "RPA prefix constraints".
	p2pkhPrefix := []byte{0x76, 0xa9, 0x14}
	if len(raw) > len(p2pkhPrefix) && hasPrefixBytes(raw, p2pkhPrefix) {
		raw = raw[len(p2pkhPrefix):]
	}
	if len(raw) > 2 {
		raw = raw[:2]
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("rpa: empty grind prefix")
	}
	return raw, nil
}

func hasPrefixBytes(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if b[i] != p {
			return false
		}
	}
	return true
}

// GrindResult reports the outcome of sender-side grinding.
type GrindResult struct {
	Index        uint32
	ChildPub     [33]byte
	ChildHash160 [20]byte
	Matched      bool
}

// Grind enumerates index = 0..grindMax looking for the first index
// whose childHash160 starts with expectedPrefix (preferring the
// caller's 16-bit prefix when it's 2 bytes, 8-bit when it's 1). If no
// index matches, it falls back to index 0 with Matched=false, per
// spec.md §4.4: "index=0 always attempted regardless of grinding."
func Grind(senderPriv [32]byte, scanPub, spendPub [33]byte, prevoutTxidHex string, prevoutN uint32, expectedPrefix []byte, grindMax uint32) (GrindResult, error) {
	if grindMax == 0 {
		grindMax = DefaultGrindMax
	}

	var fallback GrindResult
	for idx := uint32(0); idx < grindMax; idx++ {
		childPub, childHash160, err := DeriveSenderOneTimePub(senderPriv, scanPub, spendPub, prevoutTxidHex, prevoutN, idx)
		if err != nil {
			continue
		}
		if idx == 0 {
			fallback = GrindResult{Index: 0, ChildPub: childPub, ChildHash160: childHash160, Matched: false}
		}
		if matchesPrefix(childHash160[:], expectedPrefix) {
			return GrindResult{Index: idx, ChildPub: childPub, ChildHash160: childHash160, Matched: true}, nil
		}
	}

	if fallback.ChildPub == ([33]byte{}) {
		return GrindResult{}, fmt.Errorf("rpa: grinding failed to derive even index 0")
	}
	return fallback, nil
}

func matchesPrefix(hash, prefix []byte) bool {
	if len(prefix) > len(hash) {
		return false
	}
	for i, p := range prefix {
		if hash[i] != p {
			return false
		}
	}
	return true
}
