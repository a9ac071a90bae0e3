// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg defines the per-network parameters this module
// needs: the CashAddr human-readable prefix, the P2PKH/P2SH version
// bytes used by base58check display, and the paycode envelope version.
package chaincfg

// Params holds the constants that vary between Bitcoin Cash networks.
type Params struct {
	// Name identifies the network, e.g. "mainnet", "testnet3", "regtest".
	Name string

	// CashAddrPrefix is the human-readable part of a CashAddr, e.g.
	// "bitcoincash" or "bchtest".
	CashAddrPrefix string

	// PubKeyHashAddrID is the base58check version byte for legacy
	// P2PKH display (unused by CashAddr itself, kept for completeness
	// and for any legacy-format bridging a front-end may need).
	PubKeyHashAddrID byte

	// ScriptHashAddrID is the base58check version byte for legacy
	// P2SH display.
	ScriptHashAddrID byte
}

// PaycodeVersion is the base58check version byte wrapping every
// paycode envelope, fixed across networks per spec.md §4.3/§6.
const PaycodeVersion byte = 0x47

// PaycodeStringPrefix is prepended to the base58check payload, giving
// paycodes their recognizable "PM..." shape.
const PaycodeStringPrefix = "PM"

// MainNetParams are the parameters for the Bitcoin Cash main network.
var MainNetParams = Params{
	Name:             "mainnet",
	CashAddrPrefix:   "bitcoincash",
	PubKeyHashAddrID: 0x00,
	ScriptHashAddrID: 0x05,
}

// TestNet3Params are the parameters for the public BCH testnet.
var TestNet3Params = Params{
	Name:             "testnet3",
	CashAddrPrefix:   "bchtest",
	PubKeyHashAddrID: 0x6f,
	ScriptHashAddrID: 0xc4,
}

// RegressionNetParams are the parameters for a local regtest network.
var RegressionNetParams = Params{
	Name:             "regtest",
	CashAddrPrefix:   "bchreg",
	PubKeyHashAddrID: 0x6f,
	ScriptHashAddrID: 0xc4,
}

// CashAddrPrefixFor returns the CashAddr human-readable prefix for a
// network by name, defaulting to the testnet prefix for anything that
// isn't mainnet — spec.md §4.3: "network → prefix is
// {mainnet→bitcoincash, else→bchtest}".
func CashAddrPrefixFor(params *Params) string {
	if params != nil && params.Name == MainNetParams.Name {
		return MainNetParams.CashAddrPrefix
	}
	return TestNet3Params.CashAddrPrefix
}
