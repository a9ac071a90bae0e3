// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addresses

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/bastiancarmy/bch-stealth-pool/chaincfg"
)

// paycodePayloadVersion is the inner payload's own version byte
// (distinct from the outer base58check version byte), fixed at 0x01.
const paycodePayloadVersion = 0x01

// paycodePayloadLen is the padded total payload length carried inside
// the base58check envelope: 1 (version) + 1 (flags) + 33 (pub) +
// 32 (chain code) + 13 (pad) = 80.
const paycodePayloadLen = 80

// ErrInvalidPaycode is returned for any malformed paycode string.
type ErrInvalidPaycode struct{ Reason string }

func (e *ErrInvalidPaycode) Error() string {
	return fmt.Sprintf("addresses: invalid paycode: %s", e.Reason)
}

// EncodePaycode wraps a compressed scan public key and chain code into
// the "PM..." paycode envelope: base58check(version=0x47,
// payload=0x01 0x00 || scanPub33 || chainCode32 || pad_to_80).
func EncodePaycode(scanPub [33]byte, chainCode [32]byte) (string, error) {
	if _, err := btcec.ParsePubKey(scanPub[:]); err != nil {
		return "", &ErrInvalidPaycode{Reason: "scan public key not on curve"}
	}

	payload := make([]byte, 0, paycodePayloadLen)
	payload = append(payload, paycodePayloadVersion, 0x00)
	payload = append(payload, scanPub[:]...)
	payload = append(payload, chainCode[:]...)
	for len(payload) < paycodePayloadLen {
		payload = append(payload, 0x00)
	}

	encoded := base58.CheckEncode(payload, chaincfg.PaycodeVersion)
	return chaincfg.PaycodeStringPrefix + encoded, nil
}

// DecodePaycode parses a paycode string back into its scan public key
// and chain code, rejecting any envelope whose embedded point is not
// on the secp256k1 curve.
func DecodePaycode(paycode string) (scanPub [33]byte, chainCode [32]byte, err error) {
	if !strings.HasPrefix(paycode, chaincfg.PaycodeStringPrefix) {
		return scanPub, chainCode, &ErrInvalidPaycode{Reason: "missing PM prefix"}
	}
	body := strings.TrimPrefix(paycode, chaincfg.PaycodeStringPrefix)

	payload, version, err := base58.CheckDecode(body)
	if err != nil {
		return scanPub, chainCode, &ErrInvalidPaycode{Reason: "base58check decode failed: " + err.Error()}
	}
	if version != chaincfg.PaycodeVersion {
		return scanPub, chainCode, &ErrInvalidPaycode{Reason: fmt.Sprintf("unexpected version byte 0x%02x", version)}
	}
	if len(payload) < 2+33+32 {
		return scanPub, chainCode, &ErrInvalidPaycode{Reason: "payload too short"}
	}
	if payload[0] != paycodePayloadVersion {
		return scanPub, chainCode, &ErrInvalidPaycode{Reason: "unexpected inner payload version"}
	}

	copy(scanPub[:], payload[2:35])
	copy(chainCode[:], payload[35:67])

	if _, err := btcec.ParsePubKey(scanPub[:]); err != nil {
		return scanPub, chainCode, &ErrInvalidPaycode{Reason: "embedded public key not on curve"}
	}

	return scanPub, chainCode, nil
}

// IsPaycode reports whether s looks like a paycode string (cheap
// prefix check used by orchestrators to disambiguate destinations from
// CashAddr strings, per spec.md §4.10).
func IsPaycode(s string) bool {
	return strings.HasPrefix(s, chaincfg.PaycodeStringPrefix)
}
