// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"github.com/bastiancarmy/bch-stealth-pool/primitives"
)

// SighashAllForkID is the default sighash byte: SIGHASH_ALL | SIGHASH_FORKID.
const SighashAllForkID = 0x41

// PrevoutInfo describes the input being signed: the script code used
// for signing, the prevout's value, and (when the prevout carries a
// CashTokens prefix) the raw prefix bytes that must be folded into the
// preimage.
type PrevoutInfo struct {
	ScriptCode     []byte
	Value          uint64
	TokenPrefixRaw []byte // nil unless the prevout's scriptPubKey started with 0xef
}

// PreimageInputs collects everything BuildPreimage needs beyond the
// single input under signature: every input's outpoint/sequence (for
// hashPrevouts/hashSequence) and every output (for hashOutputs).
type PreimageInputs struct {
	Version     uint32
	Inputs      []TxIn
	Outputs     []TxOut
	InputIndex  int
	Prevout     PrevoutInfo
	Locktime    uint32
	SighashType uint32
}

// BuildPreimage assembles the BCH HF-20230515 CashTokens-aware sighash
// preimage for PreimageInputs.InputIndex, per spec.md §4.5:
//
//	version || hashPrevouts || hashSequence || outpoint_i ||
//	[prevTokenPrefix] || varint(scriptCode.len) || scriptCode ||
//	value_i(u64le) || sequence_i || hashOutputs || locktime ||
//	sighashType(u32le)
func BuildPreimage(in PreimageInputs) []byte {
	if in.SighashType == 0 {
		in.SighashType = SighashAllForkID
	}

	hashPrevouts := hashOutpoints(in.Inputs)
	hashSequence := hashSequences(in.Inputs)
	hashOutputs := hashTxOutputs(in.Outputs)

	txIn := in.Inputs[in.InputIndex]

	out := make([]byte, 0, 256)
	out = append(out, primitives.LEUint32(in.Version)...)
	out = append(out, hashPrevouts[:]...)
	out = append(out, hashSequence[:]...)
	out = append(out, txIn.PrevTxidLE[:]...)
	out = append(out, primitives.LEUint32(txIn.PrevVout)...)
	if len(in.Prevout.TokenPrefixRaw) > 0 {
		out = append(out, in.Prevout.TokenPrefixRaw...)
	}
	out = primitives.PutVarInt(out, uint64(len(in.Prevout.ScriptCode)))
	out = append(out, in.Prevout.ScriptCode...)
	out = append(out, primitives.LEUint64(in.Prevout.Value)...)
	out = append(out, primitives.LEUint32(txIn.Sequence)...)
	out = append(out, hashOutputs[:]...)
	out = append(out, primitives.LEUint32(in.Locktime)...)
	out = append(out, primitives.LEUint32(in.SighashType)...)
	return out
}

// hashOutpoints computes hashPrevouts: double-SHA256 of every input's
// concatenated (prevTxidLE || prevVout).
func hashOutpoints(inputs []TxIn) primitives.Bytes32 {
	buf := make([]byte, 0, len(inputs)*36)
	for _, in := range inputs {
		buf = append(buf, in.PrevTxidLE[:]...)
		buf = append(buf, primitives.LEUint32(in.PrevVout)...)
	}
	return primitives.DoubleSHA256(buf)
}

// hashSequences computes hashSequence: double-SHA256 of every input's
// concatenated sequence number.
func hashSequences(inputs []TxIn) primitives.Bytes32 {
	buf := make([]byte, 0, len(inputs)*4)
	for _, in := range inputs {
		buf = append(buf, primitives.LEUint32(in.Sequence)...)
	}
	return primitives.DoubleSHA256(buf)
}

// hashTxOutputs computes hashOutputs: double-SHA256 of every output's
// concatenated (value || varint(spk.len) || spk).
func hashTxOutputs(outputs []TxOut) primitives.Bytes32 {
	buf := make([]byte, 0, len(outputs)*40)
	for _, o := range outputs {
		buf = append(buf, primitives.LEUint64(o.Value)...)
		buf = primitives.PutVarInt(buf, uint64(len(o.ScriptPubKey)))
		buf = append(buf, o.ScriptPubKey...)
	}
	return primitives.DoubleSHA256(buf)
}
