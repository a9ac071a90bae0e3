// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package addresses implements the CashAddr address codec and the RPA
// paycode envelope used to publish a wallet's scan public key.
package addresses

import (
	"fmt"
	"strings"

	"github.com/bastiancarmy/bch-stealth-pool/chaincfg"
)

// AddressType distinguishes the two script templates CashAddr can
// encode.
type AddressType uint8

const (
	// P2PKH is a pay-to-public-key-hash address.
	P2PKH AddressType = iota
	// P2SH is a pay-to-script-hash address.
	P2SH
)

const cashAddrCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var cashAddrCharsetRev = func() [128]int8 {
	var rev [128]int8
	for i := range rev {
		rev[i] = -1
	}
	for i, c := range cashAddrCharset {
		rev[c] = int8(i)
	}
	return rev
}()

// ErrInvalidCashAddr is returned for any malformed or checksum-invalid
// CashAddr string.
type ErrInvalidCashAddr struct{ Reason string }

func (e *ErrInvalidCashAddr) Error() string {
	return fmt.Sprintf("addresses: invalid cashaddr: %s", e.Reason)
}

// EncodeCashAddr encodes a 20-byte hash as a CashAddr string for the
// given type and network prefix.
func EncodeCashAddr(hash160 [20]byte, addrType AddressType, prefix string) (string, error) {
	versionByte := byte(0)
	switch addrType {
	case P2PKH:
		versionByte = 0x00
	case P2SH:
		versionByte = 0x08
	default:
		return "", &ErrInvalidCashAddr{Reason: "unknown address type"}
	}

	payload := append([]byte{versionByte}, hash160[:]...)
	fiveBit, err := convertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}

	checksum := cashAddrChecksum(prefix, fiveBit)
	combined := append(fiveBit, checksum...)

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte(':')
	for _, v := range combined {
		sb.WriteByte(cashAddrCharset[v])
	}
	return sb.String(), nil
}

// DecodeCashAddr decodes a CashAddr string, validating its checksum and
// returning the raw 20-byte hash, its address type, and the
// human-readable prefix it was encoded under (for cross-network
// checking by callers).
func DecodeCashAddr(address string) (hash160 [20]byte, addrType AddressType, prefix string, err error) {
	addr := address
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return hash160, 0, "", &ErrInvalidCashAddr{Reason: "missing prefix separator"}
	}
	prefix = strings.ToLower(addr[:idx])
	data := strings.ToLower(addr[idx+1:])
	if data == "" {
		return hash160, 0, "", &ErrInvalidCashAddr{Reason: "empty payload"}
	}

	fiveBit := make([]byte, len(data))
	for i, c := range data {
		if c > 127 || cashAddrCharsetRev[c] == -1 {
			return hash160, 0, "", &ErrInvalidCashAddr{Reason: "invalid character"}
		}
		fiveBit[i] = byte(cashAddrCharsetRev[c])
	}

	if len(fiveBit) < 8 {
		return hash160, 0, "", &ErrInvalidCashAddr{Reason: "payload too short"}
	}
	payloadBits, checksumBits := fiveBit[:len(fiveBit)-8], fiveBit[len(fiveBit)-8:]

	if polyMod(append(expandPrefix(prefix), append(payloadBits, checksumBits...)...)) != 0 {
		return hash160, 0, "", &ErrInvalidCashAddr{Reason: "checksum mismatch"}
	}

	payload, err := convertBits(payloadBits, 5, 8, false)
	if err != nil {
		return hash160, 0, "", &ErrInvalidCashAddr{Reason: err.Error()}
	}
	if len(payload) != 21 {
		return hash160, 0, "", &ErrInvalidCashAddr{Reason: fmt.Sprintf("unexpected payload length %d", len(payload))}
	}

	switch payload[0] {
	case 0x00:
		addrType = P2PKH
	case 0x08:
		addrType = P2SH
	default:
		return hash160, 0, "", &ErrInvalidCashAddr{Reason: "unsupported version byte"}
	}

	copy(hash160[:], payload[1:])
	return hash160, addrType, prefix, nil
}

// NetworkPrefix returns the conventional prefix string for a network,
// per spec.md §4.3.
func NetworkPrefix(params *chaincfg.Params) string {
	return chaincfg.CashAddrPrefixFor(params)
}

func cashAddrChecksum(prefix string, payload []byte) []byte {
	data := append(expandPrefix(prefix), payload...)
	data = append(data, 0, 0, 0, 0, 0, 0, 0, 0)
	mod := polyMod(data)

	checksum := make([]byte, 8)
	for i := 0; i < 8; i++ {
		checksum[i] = byte((mod >> uint(5*(7-i))) & 31)
	}
	return checksum
}

func expandPrefix(prefix string) []byte {
	out := make([]byte, 0, len(prefix)+1)
	for _, c := range prefix {
		out = append(out, byte(c)&0x1f)
	}
	out = append(out, 0)
	return out
}

// polyMod implements the BCH CashAddr checksum polynomial over GF(2^5).
func polyMod(v []byte) uint64 {
	c := uint64(1)
	for _, d := range v {
		c0 := byte(c >> 35)
		c = ((c & 0x07ffffffff) << 5) ^ uint64(d)

		if c0&0x01 != 0 {
			c ^= 0x98f2bc8e61
		}
		if c0&0x02 != 0 {
			c ^= 0x79b76d99e2
		}
		if c0&0x04 != 0 {
			c ^= 0xf33e5fb3c4
		}
		if c0&0x08 != 0 {
			c ^= 0xae2eabe2a8
		}
		if c0&0x10 != 0 {
			c ^= 0x1e4f43e470
		}
	}
	return c ^ 1
}

// convertBits regroups a bitstream from one base to another, as used
// by bech32/CashAddr (8<->5).
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc := uint32(0)
	bits := uint(0)
	var out []byte
	maxVal := uint32(1<<toBits) - 1

	for _, value := range data {
		if uint32(value)>>fromBits != 0 {
			return nil, fmt.Errorf("addresses: invalid data range for bit conversion")
		}
		acc = (acc << fromBits) | uint32(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte((acc>>bits)&maxVal))
		}
	}

	if pad {
		if bits > 0 {
			out = append(out, byte((acc<<(toBits-bits))&maxVal))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxVal) != 0 {
		return nil, fmt.Errorf("addresses: invalid padding in bit conversion")
	}

	return out, nil
}
