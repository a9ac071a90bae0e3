// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txscript builds and parses Bitcoin Cash locking/unlocking
// scripts, CashTokens prefixes, and raw transactions, and signs inputs
// with the wallet's BCH-Schnorr authorizer variants.
package txscript

import (
	"github.com/bastiancarmy/bch-stealth-pool/primitives"
)

const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqualVerify = 0x88
	opCheckSig    = 0xac
	opEqual       = 0x87
)

// P2PKH builds the standard pay-to-public-key-hash locking script:
// OP_DUP OP_HASH160 <20> <h160> OP_EQUALVERIFY OP_CHECKSIG.
func P2PKH(h160 [20]byte) []byte {
	script := make([]byte, 0, 25)
	script = append(script, opDup, opHash160, 0x14)
	script = append(script, h160[:]...)
	script = append(script, opEqualVerify, opCheckSig)
	return script
}

// P2SH builds the standard pay-to-script-hash locking script:
// OP_HASH160 <20> <h20> OP_EQUAL.
func P2SH(h20 [20]byte) []byte {
	script := make([]byte, 0, 23)
	script = append(script, opHash160, 0x14)
	script = append(script, h20[:]...)
	script = append(script, opEqual)
	return script
}

// IsP2PKH reports whether script begins with the canonical P2PKH
// pattern, used by SplitTokenPrefix to locate the locking script that
// follows a CashTokens prefix.
func IsP2PKH(script []byte) bool {
	return len(script) >= 3 && script[0] == opDup && script[1] == opHash160 && script[2] == 0x14
}

// IsP2SH reports whether script begins with the canonical P2SH
// pattern.
func IsP2SH(script []byte) bool {
	return len(script) >= 2 && script[0] == opHash160 && script[1] == 0x14
}

// MinimalScriptNumber re-exports primitives.MinimalScriptNumber under
// the name the covenant's amount-commitment push uses in spec prose.
func MinimalScriptNumber(n int64) []byte {
	return primitives.MinimalScriptNumber(n)
}
