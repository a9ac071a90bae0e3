// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package shard

import (
	"crypto/sha256"

	"github.com/bastiancarmy/bch-stealth-pool/primitives"
)

// Version1_1 identifies the hash-fold covenant's "bare push-only"
// unlocking ABI, per spec.md §4.6/§9.
const Version1_1 uint16 = 0x0101

// ComputeFold is the pool hash-fold reducer: a deterministic 32-byte
// function over (stateIn, category, noteHash, limbs). Per spec.md §1
// Non-goals, this is explicitly a cryptographic-soundness placeholder
// — the core computes and carries this commitment, it does not prove
// anything about it.
func ComputeFold(version uint16, stateIn [32]byte, category [32]byte, noteHash [32]byte, limbs [][]byte, mode CategoryMode, capByte byte) [32]byte {
	buf := make([]byte, 0, 2+32+32+32+1+1+32*len(limbs))
	buf = append(buf, primitives.LEUint16(version)...)
	buf = append(buf, stateIn[:]...)
	buf = append(buf, category[:]...)
	buf = append(buf, noteHash[:]...)
	buf = append(buf, byte(mode))
	buf = append(buf, capByte)
	for _, limb := range limbs {
		buf = append(buf, limb...)
	}
	return primitives.DoubleSHA256(buf)
}

// ShardSelectionNoteHash computes the note hash used to pick a
// deposit's target shard when the caller doesn't supply one
// explicitly, per spec.md §4.6: SHA256(txidBytes || vout(u32le)).
func ShardSelectionNoteHash(txidBytes [32]byte, vout uint32) [32]byte {
	buf := append(append([]byte{}, txidBytes[:]...), primitives.LEUint32(vout)...)
	return sha256.Sum256(buf)
}

// ShardIndexFromNoteHash picks shardIndex = noteHash[0] mod
// shardCount.
func ShardIndexFromNoteHash(noteHash [32]byte, shardCount uint16) uint16 {
	return uint16(noteHash[0]) % shardCount
}

// ImportNoteHash computes the noteHash fold-input for
// importDepositToShard, per spec.md §8 scenario 3:
// HASH256(depositTxidBE || depositVout(u32le)). Unlike
// ShardSelectionNoteHash this takes the txid in display (big-endian)
// order and double-hashes, matching the scenario's literal formula.
func ImportNoteHash(depositTxidBE [32]byte, depositVout uint32) [32]byte {
	buf := append(append([]byte{}, depositTxidBE[:]...), primitives.LEUint32(depositVout)...)
	return primitives.DoubleSHA256(buf)
}

// WithdrawNoteHash computes the nullifier-ish placeholder noteHash for
// withdrawFromShard, per spec.md §4.6:
// SHA256(stateIn || receiverHash160 || SHA256(amountLow32(u32le))).
func WithdrawNoteHash(stateIn [32]byte, receiverHash160 [20]byte, amountSats uint64) [32]byte {
	amountLow32 := primitives.LEUint32(uint32(amountSats))
	innerHash := sha256.Sum256(amountLow32)

	buf := make([]byte, 0, 32+20+32)
	buf = append(buf, stateIn[:]...)
	buf = append(buf, receiverHash160[:]...)
	buf = append(buf, innerHash[:]...)
	return sha256.Sum256(buf)
}

// WithdrawProofBlob computes proofBlob = SHA256(noteHash || 0x02), the
// fixed tag byte for withdraw-class shard spends.
func WithdrawProofBlob(noteHash [32]byte) [32]byte {
	buf := append(append([]byte{}, noteHash[:]...), 0x02)
	return sha256.Sum256(buf)
}
