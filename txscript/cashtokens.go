// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"errors"
	"fmt"

	"github.com/bastiancarmy/bch-stealth-pool/primitives"
)

// tokenPrefixByte marks the start of a CashTokens prefix on a locking
// script.
const tokenPrefixByte = 0xef

// NFTCapability is the low-nibble capability a token's bitfield
// carries when the "has NFT" bit is set.
type NFTCapability uint8

const (
	CapabilityNone    NFTCapability = 0
	CapabilityMutable NFTCapability = 1
	CapabilityMinting NFTCapability = 2
)

const (
	bitfieldHasAmount     = 0x10
	bitfieldHasNFT        = 0x20
	bitfieldHasCommitment = 0x40
	bitfieldCapabilityBit = 0x0f
)

// ErrInvalidToken is returned when a Token value fails one of
// spec.md §4.5's structural validations.
var ErrInvalidToken = errors.New("txscript: invalid cashtokens token")

// Token is the decoded form of a CashTokens prefix.
type Token struct {
	Category   [32]byte
	HasNFT     bool
	Capability NFTCapability
	Commitment []byte // 1..40 bytes, only when HasNFT
	HasAmount  bool
	Amount     uint64 // 1..2^63-1, only when HasAmount
}

// validate enforces spec.md §4.5's bitfield invariants: commitment
// length in [1,40]; amount in [1, 2^63-1]; capability set only with
// NFT; commitment only with NFT; at least one of (NFT, amount).
func (t Token) validate() error {
	if !t.HasNFT && !t.HasAmount {
		return fmt.Errorf("%w: token must carry an NFT, an amount, or both", ErrInvalidToken)
	}
	if t.HasAmount && (t.Amount == 0 || t.Amount > (1<<63)-1) {
		return fmt.Errorf("%w: amount %d out of range [1, 2^63-1]", ErrInvalidToken, t.Amount)
	}
	if !t.HasNFT {
		if t.Capability != CapabilityNone {
			return fmt.Errorf("%w: capability set without NFT", ErrInvalidToken)
		}
		if len(t.Commitment) != 0 {
			return fmt.Errorf("%w: commitment set without NFT", ErrInvalidToken)
		}
		return nil
	}
	if len(t.Commitment) < 1 || len(t.Commitment) > 40 {
		return fmt.Errorf("%w: commitment length %d out of range [1,40]", ErrInvalidToken, len(t.Commitment))
	}
	return nil
}

func (t Token) bitfield() byte {
	var b byte
	if t.HasAmount {
		b |= bitfieldHasAmount
	}
	if t.HasNFT {
		b |= bitfieldHasNFT
		if len(t.Commitment) > 0 {
			b |= bitfieldHasCommitment
		}
		b |= byte(t.Capability) & bitfieldCapabilityBit
	}
	return b
}

// EncodeTokenPrefix serializes a Token as the on-wire CashTokens
// prefix: 0xef || category32 || bitfield || [commitmentLen commitment]
// || [amountVarInt].
func EncodeTokenPrefix(t Token) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+32+1+1+40+9)
	out = append(out, tokenPrefixByte)
	out = append(out, t.Category[:]...)
	out = append(out, t.bitfield())
	if t.HasNFT && len(t.Commitment) > 0 {
		out = append(out, byte(len(t.Commitment)))
		out = append(out, t.Commitment...)
	}
	if t.HasAmount {
		out = primitives.PutVarInt(out, t.Amount)
	}
	return out, nil
}

// DecodeTokenPrefix parses a CashTokens prefix starting at data[0] ==
// 0xef, returning the decoded Token and the number of bytes consumed.
func DecodeTokenPrefix(data []byte) (Token, int, error) {
	var t Token
	if len(data) < 1+32+1 || data[0] != tokenPrefixByte {
		return t, 0, fmt.Errorf("%w: missing 0xef prefix byte", ErrInvalidToken)
	}

	off := 1
	copy(t.Category[:], data[off:off+32])
	off += 32

	bitfield := data[off]
	off++

	t.HasAmount = bitfield&bitfieldHasAmount != 0
	t.HasNFT = bitfield&bitfieldHasNFT != 0
	hasCommitment := bitfield&bitfieldHasCommitment != 0
	t.Capability = NFTCapability(bitfield & bitfieldCapabilityBit)

	if t.HasNFT && hasCommitment {
		if off >= len(data) {
			return t, 0, fmt.Errorf("%w: truncated commitment length", ErrInvalidToken)
		}
		commitLen := int(data[off])
		off++
		if commitLen < 1 || commitLen > 40 || off+commitLen > len(data) {
			return t, 0, fmt.Errorf("%w: truncated or out-of-range commitment", ErrInvalidToken)
		}
		t.Commitment = append([]byte{}, data[off:off+commitLen]...)
		off += commitLen
	}

	if t.HasAmount {
		amount, n, err := primitives.ReadVarInt(data, off)
		if err != nil {
			return t, 0, fmt.Errorf("%w: truncated amount varint: %v", ErrInvalidToken, err)
		}
		t.Amount = amount
		off += n
	}

	if err := t.validate(); err != nil {
		return t, 0, err
	}
	return t, off, nil
}

// AddTokenToScript prepends a CashTokens prefix to a locking script.
func AddTokenToScript(t Token, locking []byte) ([]byte, error) {
	prefix, err := EncodeTokenPrefix(t)
	if err != nil {
		return nil, err
	}
	return append(prefix, locking...), nil
}

// SplitResult is the output of SplitTokenPrefix.
type SplitResult struct {
	Prefix  *Token // nil when rawSpk carries no CashTokens prefix
	Locking []byte
}

// SplitTokenPrefix separates a raw scriptPubKey into its CashTokens
// prefix (if any) and its underlying locking script, per spec.md
// §4.5: when rawSpk[0] == 0xef, scan forward from position 1 for the
// first occurrence of a P2PKH or P2SH start pattern; if neither is
// found, prefix is nil and locking is the entire input.
func SplitTokenPrefix(rawSpk []byte) SplitResult {
	if len(rawSpk) == 0 || rawSpk[0] != tokenPrefixByte {
		return SplitResult{Prefix: nil, Locking: rawSpk}
	}

	for i := 1; i < len(rawSpk); i++ {
		rest := rawSpk[i:]
		if IsP2PKH(rest) || IsP2SH(rest) {
			token, consumed, err := DecodeTokenPrefix(rawSpk[:i])
			if err != nil || consumed != i {
				continue
			}
			tokenCopy := token
			return SplitResult{Prefix: &tokenCopy, Locking: rest}
		}
	}

	return SplitResult{Prefix: nil, Locking: rawSpk}
}
