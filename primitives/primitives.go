// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package primitives provides the byte-level building blocks shared by
// every other package in this module: little-endian/big-endian integer
// codecs, BIP-style varints, minimal script numbers, push-data prefixes,
// and the two hash functions the wire format is built from.
package primitives

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Bytes32, Bytes20, Pub33 and Priv32 are the fixed-size byte vectors the
// spec names explicitly. They are plain arrays so callers get value
// semantics and can use them as map keys.
type (
	Bytes32 = [32]byte
	Bytes20 = [20]byte
	Pub33   = [33]byte
	Priv32  = [32]byte
)

// Sats is satoshi amounts. Treated as an unsigned 64-bit integer; the
// API boundary (JSON store) promotes it to a decimal string when it
// exceeds 2^53, see store.Sats.
type Sats = uint64

// LEUint16 encodes n as 2 little-endian bytes.
func LEUint16(n uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, n)
	return b
}

// LEUint32 encodes n as 4 little-endian bytes.
func LEUint32(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

// LEUint64 encodes n as 8 little-endian bytes.
func LEUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

// BEUint16 encodes n as 2 big-endian bytes.
func BEUint16(n uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, n)
	return b
}

// BEUint32 encodes n as 4 big-endian bytes.
func BEUint32(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}

// ReadLEUint32 decodes 4 little-endian bytes starting at offset off.
func ReadLEUint32(b []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(b) {
		return 0, fmt.Errorf("primitives: short buffer reading u32 at offset %d (len %d)", off, len(b))
	}
	return binary.LittleEndian.Uint32(b[off : off+4]), nil
}

// ReadLEUint64 decodes 8 little-endian bytes starting at offset off.
func ReadLEUint64(b []byte, off int) (uint64, error) {
	if off < 0 || off+8 > len(b) {
		return 0, fmt.Errorf("primitives: short buffer reading u64 at offset %d (len %d)", off, len(b))
	}
	return binary.LittleEndian.Uint64(b[off : off+8]), nil
}

// PutVarInt appends the BIP-style compact-size encoding of n to dst and
// returns the extended slice.
func PutVarInt(dst []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(dst, byte(n))
	case n <= 0xffff:
		dst = append(dst, 0xfd)
		return append(dst, LEUint16(uint16(n))...)
	case n <= 0xffffffff:
		dst = append(dst, 0xfe)
		return append(dst, LEUint32(uint32(n))...)
	default:
		dst = append(dst, 0xff)
		return append(dst, LEUint64(n)...)
	}
}

// ReadVarInt decodes a compact-size integer starting at offset off,
// returning the value and the number of bytes consumed.
func ReadVarInt(b []byte, off int) (uint64, int, error) {
	if off < 0 || off >= len(b) {
		return 0, 0, fmt.Errorf("primitives: short buffer reading varint at offset %d", off)
	}
	switch prefix := b[off]; {
	case prefix < 0xfd:
		return uint64(prefix), 1, nil
	case prefix == 0xfd:
		if off+3 > len(b) {
			return 0, 0, fmt.Errorf("primitives: short buffer reading varint16")
		}
		return uint64(binary.LittleEndian.Uint16(b[off+1 : off+3])), 3, nil
	case prefix == 0xfe:
		if off+5 > len(b) {
			return 0, 0, fmt.Errorf("primitives: short buffer reading varint32")
		}
		return uint64(binary.LittleEndian.Uint32(b[off+1 : off+5])), 5, nil
	default:
		if off+9 > len(b) {
			return 0, 0, fmt.Errorf("primitives: short buffer reading varint64")
		}
		return binary.LittleEndian.Uint64(b[off+1 : off+9]), 9, nil
	}
}

// VarIntSize returns the number of bytes PutVarInt would emit for n.
func VarIntSize(n uint64) int {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// MinimalScriptNumber produces the shortest signed-two's-complement
// script-number encoding of n, matching the Bitcoin Script CScriptNum
// rules: little-endian magnitude, sign bit in the top bit of the last
// byte, an extra zero byte pushed when the magnitude's top bit would
// otherwise be mistaken for the sign bit.
func MinimalScriptNumber(n int64) []byte {
	if n == 0 {
		return nil
	}

	neg := n < 0
	absVal := n
	if neg {
		absVal = -n
	}

	var result []byte
	for absVal > 0 {
		result = append(result, byte(absVal&0xff))
		absVal >>= 8
	}

	if result[len(result)-1]&0x80 != 0 {
		if neg {
			result = append(result, 0x80)
		} else {
			result = append(result, 0x00)
		}
	} else if neg {
		result[len(result)-1] |= 0x80
	}

	return result
}

// PushDataPrefix emits the smallest opcode+length prefix that a script
// builder must use to push n bytes of data: direct push for n<0x4c,
// otherwise OP_PUSHDATA1/2/4 with a little-endian length field.
func PushDataPrefix(n int) []byte {
	switch {
	case n < 0x4c:
		return []byte{byte(n)}
	case n <= 0xff:
		return []byte{0x4c, byte(n)}
	case n <= 0xffff:
		return append([]byte{0x4d}, LEUint16(uint16(n))...)
	default:
		return append([]byte{0x4e}, LEUint32(uint32(n))...)
	}
}

// DoubleSHA256 returns SHA256(SHA256(x)).
func DoubleSHA256(x []byte) Bytes32 {
	var out Bytes32
	copy(out[:], chainhash.DoubleHashB(x))
	return out
}

// Hash160 returns RIPEMD160(SHA256(x)).
func Hash160(x []byte) Bytes20 {
	var out Bytes20
	copy(out[:], btcutil.Hash160(x))
	return out
}

// Concat returns the concatenation of every byte slice passed, whether
// given as variadic arguments or as a single slice-of-slices — both
// forms are equivalent per the spec.
func Concat(parts ...[]byte) []byte {
	return ConcatSlices(parts)
}

// ConcatSlices is the slice-of-slices form of Concat.
func ConcatSlices(parts [][]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// HexToBytes32 decodes a big-endian hex string into a Bytes32, erroring
// on anything but exactly 32 bytes.
func HexToBytes32(s string) (Bytes32, error) {
	var out Bytes32
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("primitives: invalid hex: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("primitives: expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// ReverseBytes returns a reversed copy of b, used to flip between txid
// display endianness (big-endian hex) and on-wire endianness
// (little-endian bytes).
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
