// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package scan implements the stateless scan engine (C9): tip-bounded
// txid enumeration through an external RPA-history oracle, per-tx
// candidate matching across a derivation index space, and result
// dedup, per spec.md §4.9.
package scan

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/bastiancarmy/bch-stealth-pool/chainrpc"
	"github.com/bastiancarmy/bch-stealth-pool/primitives"
	"github.com/bastiancarmy/bch-stealth-pool/rpa"
	"github.com/bastiancarmy/bch-stealth-pool/secp"
	"github.com/bastiancarmy/bch-stealth-pool/txscript"
)

// DefaultMaxRoleIndex and MaxRoleIndexCap bound the per-output
// derivation-index search space, per spec.md §4.9/§6
// (BCH_STEALTH_MAX_ROLE_INDEX).
const (
	DefaultMaxRoleIndex = 2048
	MaxRoleIndexCap     = 65536
)

// progressTickEvery is how often OnProgress fires while walking txids,
// per spec.md §4.9 "progress tick every 25".
const progressTickEvery = 25

// Config is the scanning wallet's fixed key material and index bound.
type Config struct {
	ScanPriv     [32]byte
	SpendPriv    [32]byte
	ScanPub33    [33]byte
	MaxRoleIndex uint32 // 0 selects DefaultMaxRoleIndex
}

// resolveMaxRoleIndex applies the default/cap rule from spec.md §4.9.
func (c Config) resolveMaxRoleIndex() uint32 {
	max := c.MaxRoleIndex
	if max == 0 {
		max = DefaultMaxRoleIndex
	}
	if max > MaxRoleIndexCap {
		max = MaxRoleIndexCap
	}
	return max
}

// Candidate is one recovered stealth output.
type Candidate struct {
	TxidHex    string
	Vout       uint32
	ValueSats  uint64
	Hash160Hex string
	RpaContext rpa.RpaContext
}

func (c Candidate) outpointKey() string {
	return fmt.Sprintf("%s:%d", c.TxidHex, c.Vout)
}

// Input is one scan request, per spec.md §4.9.
type Input struct {
	StartHeight      int64
	EndHeight        int64 // inclusive; the history query uses EndHeight+1
	IncludeMempool   bool
	Hints            []uint32 // indices tried before the sequential sweep
	StopOnFirstMatch bool     // set when scanning a single known txid
	OnProgress       func(scanned, total int)
}

// Scan runs the full engine described in spec.md §4.9 and returns the
// deduplicated stealth-UTXO candidates it recovered.
func Scan(ctx context.Context, oracle chainrpc.Oracle, cfg Config, in Input) ([]Candidate, error) {
	prefix := rpa.DefaultGrindPrefix16(cfg.ScanPub33)
	prefixHex := hex.EncodeToString(prefix[:])

	history, err := oracle.RpaGetHistory(ctx, prefixHex, in.StartHeight, in.EndHeight+1)
	if err != nil {
		return nil, fmt.Errorf("scan: rpa history: %w", err)
	}
	txids := dedupeTxids(history, nil)

	if in.IncludeMempool {
		mempool, err := oracle.RpaGetMempool(ctx, prefixHex)
		if err != nil {
			return nil, fmt.Errorf("scan: rpa mempool: %w", err)
		}
		txids = dedupeTxids(mempool, txids)
	}

	maxRoleIndex := cfg.resolveMaxRoleIndex()
	searchOrder := buildIndexSearchOrder(in.Hints, maxRoleIndex)

	var results []Candidate
	seen := map[string]bool{}

	for i, txidHex := range txids {
		if in.OnProgress != nil && i%progressTickEvery == 0 {
			in.OnProgress(i, len(txids))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := oracle.TransactionGet(ctx, chainrpc.TransactionGetRequest{TxidHex: txidHex})
		if err != nil {
			return nil, fmt.Errorf("scan: fetch tx %s: %w", txidHex, err)
		}
		raw, err := chainrpc.DecodeTolerant(resp.HexRaw)
		if err != nil {
			return nil, fmt.Errorf("scan: decode tx %s: %w", txidHex, err)
		}
		tx, err := txscript.Deserialize(raw)
		if err != nil {
			return nil, fmt.Errorf("scan: parse tx %s: %w", txidHex, err)
		}

		senderPub, prevoutTxidHex, prevoutN, ok := extractSenderCandidate(tx)
		if !ok {
			continue
		}

		matchedAny := false
		for vout, out := range tx.Outputs {
			h160, isP2PKH := p2pkhHash160(out.ScriptPubKey)
			if !isP2PKH {
				continue
			}

			for _, idx := range searchOrder {
				rpaCtx := rpa.RpaContext{
					SenderPub33:    senderPub,
					PrevoutTxidHex: prevoutTxidHex,
					PrevoutN:       prevoutN,
					Index:          idx,
				}
				oneTimePriv, err := rpa.DeriveReceiverOneTimePriv(cfg.ScanPriv, cfg.SpendPriv, senderPub, rpaCtx)
				if err != nil {
					continue
				}
				pub, err := secp.GetPublicKey(oneTimePriv, true)
				if err != nil {
					continue
				}
				gotHash160 := primitives.Hash160(pub[:])
				if !bytes.Equal(gotHash160[:], h160) {
					continue
				}

				c := Candidate{
					TxidHex:    txidHex,
					Vout:       uint32(vout),
					ValueSats:  out.Value,
					Hash160Hex: hex.EncodeToString(h160),
					RpaContext: rpaCtx,
				}
				if !seen[c.outpointKey()] {
					seen[c.outpointKey()] = true
					results = append(results, c)
				}
				matchedAny = true
				break
			}
		}

		if matchedAny && in.StopOnFirstMatch {
			break
		}
	}

	return results, nil
}

// dedupeTxids appends entries' txids onto existing, preserving order
// and skipping any txid already present.
func dedupeTxids(entries []chainrpc.HistoryEntry, existing []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(existing)+len(entries))
	for _, txid := range existing {
		if !seen[txid] {
			seen[txid] = true
			out = append(out, txid)
		}
	}
	for _, e := range entries {
		if !seen[e.TxidHex] {
			seen[e.TxidHex] = true
			out = append(out, e.TxidHex)
		}
	}
	return out
}

// buildIndexSearchOrder puts any caller-supplied hints first, then the
// sequential sweep 0..maxRoleIndex, deduplicated, per spec.md §4.9
// "optionally take hints ... first".
func buildIndexSearchOrder(hints []uint32, maxRoleIndex uint32) []uint32 {
	order := make([]uint32, 0, len(hints)+int(maxRoleIndex)+1)
	seen := map[uint32]bool{}
	for _, h := range hints {
		if h <= maxRoleIndex && !seen[h] {
			seen[h] = true
			order = append(order, h)
		}
	}
	for idx := uint32(0); idx <= maxRoleIndex; idx++ {
		if !seen[idx] {
			order = append(order, idx)
		}
	}
	return order
}

// p2pkhHash160 returns the hash160 payload of a P2PKH output script,
// unwrapping a CashTokens prefix first if present.
func p2pkhHash160(scriptPubKey []byte) (h160 []byte, ok bool) {
	split := txscript.SplitTokenPrefix(scriptPubKey)
	if !txscript.IsP2PKH(split.Locking) {
		return nil, false
	}
	return split.Locking[3:23], true
}

// extractSenderCandidate reads the plausible sender pubkey and spent
// outpoint off a tx's first input, per spec.md §4.9 "conventionally,
// the sender's pubkey is the first input's signer and the outpoint is
// that input's prevout".
func extractSenderCandidate(tx *txscript.Tx) (senderPub33 [33]byte, prevoutTxidHex string, prevoutN uint32, ok bool) {
	if len(tx.Inputs) == 0 {
		return senderPub33, "", 0, false
	}
	in0 := tx.Inputs[0]
	pub, ok := extractP2PKHPubkey(in0.ScriptSig)
	if !ok {
		return senderPub33, "", 0, false
	}
	return pub, hex.EncodeToString(primitives.ReverseBytes(in0.PrevTxidLE[:])), in0.PrevVout, true
}

// extractP2PKHPubkey parses a standard <sig> <pubkey> scriptSig,
// requiring both elements to be single-byte-length pushes (covers
// every non-OP_PUSHDATA1+ signature/compressed-pubkey spend).
func extractP2PKHPubkey(scriptSig []byte) (pub33 [33]byte, ok bool) {
	if len(scriptSig) < 2 {
		return pub33, false
	}
	pos := 0
	sigLen := int(scriptSig[pos])
	pos++
	if sigLen == 0 || sigLen > 75 || pos+sigLen > len(scriptSig) {
		return pub33, false
	}
	pos += sigLen

	if pos >= len(scriptSig) {
		return pub33, false
	}
	pubLen := int(scriptSig[pos])
	pos++
	if pubLen != 33 || pos+pubLen != len(scriptSig) {
		return pub33, false
	}
	copy(pub33[:], scriptSig[pos:pos+pubLen])
	return pub33, true
}
