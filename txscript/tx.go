// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"fmt"

	"github.com/bastiancarmy/bch-stealth-pool/primitives"
)

// TxIn is one transaction input in BCH consensus wire order.
type TxIn struct {
	PrevTxidLE [32]byte // little-endian (on-wire) txid bytes
	PrevVout   uint32
	ScriptSig  []byte
	Sequence   uint32
}

// TxOut is one transaction output.
type TxOut struct {
	Value        uint64
	ScriptPubKey []byte
}

// Tx is a raw, unsigned-or-signed Bitcoin Cash transaction.
type Tx struct {
	Version  uint32
	Inputs   []TxIn
	Outputs  []TxOut
	Locktime uint32
}

// Serialize renders the transaction in BCH consensus wire format
// (no segwit): version(u32le) || varint(nInputs) || inputs ||
// varint(nOutputs) || outputs || locktime(u32le).
func (tx *Tx) Serialize() []byte {
	out := make([]byte, 0, 4+9+9+4)
	out = append(out, primitives.LEUint32(tx.Version)...)
	out = primitives.PutVarInt(out, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		out = append(out, in.PrevTxidLE[:]...)
		out = append(out, primitives.LEUint32(in.PrevVout)...)
		out = primitives.PutVarInt(out, uint64(len(in.ScriptSig)))
		out = append(out, in.ScriptSig...)
		out = append(out, primitives.LEUint32(in.Sequence)...)
	}
	out = primitives.PutVarInt(out, uint64(len(tx.Outputs)))
	for _, o := range tx.Outputs {
		out = append(out, primitives.LEUint64(o.Value)...)
		out = primitives.PutVarInt(out, uint64(len(o.ScriptPubKey)))
		out = append(out, o.ScriptPubKey...)
	}
	out = append(out, primitives.LEUint32(tx.Locktime)...)
	return out
}

// Hash computes the transaction's txid: double-SHA256 of the
// serialized wire bytes. Note the wire/internal byte order is
// little-endian; display hex is the reverse (big-endian).
func (tx *Tx) Hash() primitives.Bytes32 {
	return primitives.DoubleSHA256(tx.Serialize())
}

// TxidHex renders tx.Hash() in the conventional display order
// (reversed, hex-encoded).
func (tx *Tx) TxidHex() string {
	h := tx.Hash()
	reversed := primitives.ReverseBytes(h[:])
	return fmt.Sprintf("%x", reversed)
}

// Deserialize parses a raw BCH transaction from consensus wire bytes.
func Deserialize(data []byte) (*Tx, error) {
	tx := &Tx{}
	off := 0

	version, err := primitives.ReadLEUint32(data, off)
	if err != nil {
		return nil, fmt.Errorf("txscript: truncated version: %w", err)
	}
	tx.Version = version
	off += 4

	nIn, n, err := primitives.ReadVarInt(data, off)
	if err != nil {
		return nil, fmt.Errorf("txscript: truncated input count: %w", err)
	}
	off += n

	tx.Inputs = make([]TxIn, 0, nIn)
	for i := uint64(0); i < nIn; i++ {
		var in TxIn
		if len(data) < off+36 {
			return nil, fmt.Errorf("txscript: truncated input %d prevout", i)
		}
		copy(in.PrevTxidLE[:], data[off:off+32])
		off += 32
		prevVout, err := primitives.ReadLEUint32(data, off)
		if err != nil {
			return nil, fmt.Errorf("txscript: truncated input %d prevout vout: %w", i, err)
		}
		in.PrevVout = prevVout
		off += 4

		sigLen, n, err := primitives.ReadVarInt(data, off)
		if err != nil {
			return nil, fmt.Errorf("txscript: truncated input %d scriptSig length: %w", i, err)
		}
		off += n
		if uint64(len(data)) < uint64(off)+sigLen {
			return nil, fmt.Errorf("txscript: truncated input %d scriptSig", i)
		}
		in.ScriptSig = append([]byte{}, data[off:off+int(sigLen)]...)
		off += int(sigLen)

		sequence, err := primitives.ReadLEUint32(data, off)
		if err != nil {
			return nil, fmt.Errorf("txscript: truncated input %d sequence: %w", i, err)
		}
		in.Sequence = sequence
		off += 4

		tx.Inputs = append(tx.Inputs, in)
	}

	nOut, n, err := primitives.ReadVarInt(data, off)
	if err != nil {
		return nil, fmt.Errorf("txscript: truncated output count: %w", err)
	}
	off += n

	tx.Outputs = make([]TxOut, 0, nOut)
	for i := uint64(0); i < nOut; i++ {
		var o TxOut
		value, err := primitives.ReadLEUint64(data, off)
		if err != nil {
			return nil, fmt.Errorf("txscript: truncated output %d value: %w", i, err)
		}
		o.Value = value
		off += 8

		spkLen, n, err := primitives.ReadVarInt(data, off)
		if err != nil {
			return nil, fmt.Errorf("txscript: truncated output %d script length: %w", i, err)
		}
		off += n
		if uint64(len(data)) < uint64(off)+spkLen {
			return nil, fmt.Errorf("txscript: truncated output %d script", i)
		}
		o.ScriptPubKey = append([]byte{}, data[off:off+int(spkLen)]...)
		off += int(spkLen)

		tx.Outputs = append(tx.Outputs, o)
	}

	locktime, err := primitives.ReadLEUint32(data, off)
	if err != nil {
		return nil, fmt.Errorf("txscript: truncated locktime: %w", err)
	}
	tx.Locktime = locktime

	return tx, nil
}
