// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package funding implements the funding-UTXO selector: preference
// ordering between base and stealth sources, on-chain
// confirmation/derivation re-checks, token-UTXO exclusion, and
// structured rejection reporting, per spec.md §4.8.
package funding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/bastiancarmy/bch-stealth-pool/chainrpc"
	"github.com/bastiancarmy/bch-stealth-pool/primitives"
	"github.com/bastiancarmy/bch-stealth-pool/rpa"
	"github.com/bastiancarmy/bch-stealth-pool/secp"
	"github.com/bastiancarmy/bch-stealth-pool/store"
	"github.com/bastiancarmy/bch-stealth-pool/txscript"
	"github.com/bastiancarmy/bch-stealth-pool/walleterr"
)

// Preference names the two funding-source classes, per spec.md §4.8.
type Preference string

const (
	PreferenceBase    Preference = "base"
	PreferenceStealth Preference = "stealth"
)

// DefaultPreferenceOrder and ReversedPreferenceOrder are the two
// env-overridable preference orders spec.md §4.8/§6 names
// (BCH_STEALTH_FUNDING_PREFER).
var (
	DefaultPreferenceOrder  = []Preference{PreferenceBase, PreferenceStealth}
	ReversedPreferenceOrder = []Preference{PreferenceStealth, PreferenceBase}
)

// SelectInput collects a funding selection request, per spec.md §4.8.
type SelectInput struct {
	Preferences        []Preference
	MinSats            uint64
	MinConfirmations   int64
	IncludeUnconfirmed bool
	RequireVout0       bool
	AllowTokens        bool
	DisallowedPurposes map[string]bool

	// BaseScripthashHex is the Electrum-style scripthash to query for
	// base-address candidate UTXOs; see ComputeScripthash.
	BaseScripthashHex string

	// StealthCandidates are the caller's own stealth-UTXO records
	// (store.State.StealthUtxos, filtered to unspent/owned by the
	// caller before calling Select).
	StealthCandidates []store.StealthUtxoRecord
	ScanPriv          [32]byte
	SpendPriv         [32]byte
}

// Selected is a winning funding candidate.
type Selected struct {
	Source       Preference
	TxidHex      string
	Vout         uint32
	ValueSats    uint64
	ScriptPubKey []byte
	OneTimePriv  *[32]byte // set only when Source == PreferenceStealth
}

// ComputeScripthash renders the Electrum-style scripthash for a P2PKH
// hash160: reverse(sha256(scriptPubKey)), hex-encoded.
func ComputeScripthash(h160 [20]byte) string {
	spk := txscript.P2PKH(h160)
	sum := sha256.Sum256(spk)
	return hex.EncodeToString(primitives.ReverseBytes(sum[:]))
}

func reject(txidHex string, vout uint32, reason string) walleterr.RejectedCandidate {
	return walleterr.RejectedCandidate{TxidHex: txidHex, Vout: vout, Reason: reason}
}

// Select runs the four-step funding selector, per spec.md §4.8: gather
// candidates across the preference order, confirm and filter each, and
// pick the largest-value passer across the whole combined set.
func Select(ctx context.Context, oracle chainrpc.Oracle, in SelectInput) (*Selected, error) {
	prefs := in.Preferences
	if len(prefs) == 0 {
		prefs = DefaultPreferenceOrder
	}

	var all []Selected
	var rejected []walleterr.RejectedCandidate

	for _, pref := range prefs {
		var candidates []Selected
		var prefRejections []walleterr.RejectedCandidate
		var err error

		switch pref {
		case PreferenceBase:
			candidates, prefRejections, err = collectBaseCandidates(ctx, oracle, in)
		case PreferenceStealth:
			candidates, prefRejections, err = collectStealthCandidates(ctx, oracle, in)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		all = append(all, candidates...)
		rejected = append(rejected, prefRejections...)
	}

	if len(all) == 0 {
		return nil, walleterr.NewInsufficientFundsError(rejected)
	}

	best := all[0]
	for _, c := range all[1:] {
		if c.ValueSats > best.ValueSats {
			best = c
		}
	}
	return &best, nil
}

// confirmationsAt returns confirmations for a UTXO at the given block
// height (0 or negative means unconfirmed/mempool), using the oracle's
// current tip.
func confirmationsAt(ctx context.Context, oracle chainrpc.Oracle, height int64) (int64, error) {
	if height <= 0 {
		return 0, nil
	}
	tip, err := oracle.HeadersGetTip(ctx)
	if err != nil {
		return 0, fmt.Errorf("funding: get tip: %w", err)
	}
	return tip.Height - height + 1, nil
}

// fetchOutputScript fetches txidHex's raw transaction and returns
// output vout's full scriptPubKey, whether it carries a CashTokens
// prefix, and whether its underlying locking script is P2PKH.
func fetchOutputScript(ctx context.Context, oracle chainrpc.Oracle, txidHex string, vout uint32) (spk []byte, hasToken bool, isP2PKH bool, err error) {
	resp, err := oracle.TransactionGet(ctx, chainrpc.TransactionGetRequest{TxidHex: txidHex})
	if err != nil {
		return nil, false, false, fmt.Errorf("funding: fetch tx %s: %w", txidHex, err)
	}
	raw, err := chainrpc.DecodeTolerant(resp.HexRaw)
	if err != nil {
		return nil, false, false, fmt.Errorf("funding: decode tx %s: %w", txidHex, err)
	}
	tx, err := txscript.Deserialize(raw)
	if err != nil {
		return nil, false, false, fmt.Errorf("funding: parse tx %s: %w", txidHex, err)
	}
	if int(vout) >= len(tx.Outputs) {
		return nil, false, false, fmt.Errorf("funding: vout %d out of range for tx %s", vout, txidHex)
	}

	rawSpk := tx.Outputs[vout].ScriptPubKey
	split := txscript.SplitTokenPrefix(rawSpk)
	return rawSpk, split.Prefix != nil, txscript.IsP2PKH(split.Locking), nil
}

func collectBaseCandidates(ctx context.Context, oracle chainrpc.Oracle, in SelectInput) ([]Selected, []walleterr.RejectedCandidate, error) {
	if in.BaseScripthashHex == "" {
		return nil, nil, nil
	}

	unspent, err := oracle.ScripthashListUnspent(ctx, in.BaseScripthashHex)
	if err != nil {
		return nil, nil, fmt.Errorf("funding: list base unspent: %w", err)
	}

	var candidates []Selected
	var rejections []walleterr.RejectedCandidate

	for _, u := range unspent {
		if in.RequireVout0 && u.Vout != 0 {
			rejections = append(rejections, reject(u.TxidHex, u.Vout, "require-vout0"))
			continue
		}
		if u.ValueSats < in.MinSats {
			rejections = append(rejections, reject(u.TxidHex, u.Vout, "below-min-sats"))
			continue
		}

		confirmations, err := confirmationsAt(ctx, oracle, u.Height)
		if err != nil {
			return nil, nil, err
		}
		if u.Height <= 0 {
			if !in.IncludeUnconfirmed {
				rejections = append(rejections, reject(u.TxidHex, u.Vout, "unconfirmed"))
				continue
			}
		} else if confirmations < in.MinConfirmations {
			rejections = append(rejections, reject(u.TxidHex, u.Vout, "unconfirmed"))
			continue
		}

		spk, hasToken, isP2PKH, err := fetchOutputScript(ctx, oracle, u.TxidHex, u.Vout)
		if err != nil {
			rejections = append(rejections, reject(u.TxidHex, u.Vout, "spent"))
			continue
		}
		if !isP2PKH {
			rejections = append(rejections, reject(u.TxidHex, u.Vout, "non-p2pkh"))
			continue
		}
		if hasToken && !in.AllowTokens {
			rejections = append(rejections, reject(u.TxidHex, u.Vout, "token-utxo-excluded"))
			continue
		}

		candidates = append(candidates, Selected{
			Source:       PreferenceBase,
			TxidHex:      u.TxidHex,
			Vout:         u.Vout,
			ValueSats:    u.ValueSats,
			ScriptPubKey: spk,
		})
	}

	return candidates, rejections, nil
}

func collectStealthCandidates(ctx context.Context, oracle chainrpc.Oracle, in SelectInput) ([]Selected, []walleterr.RejectedCandidate, error) {
	var candidates []Selected
	var rejections []walleterr.RejectedCandidate

	for _, rec := range in.StealthCandidates {
		if rec.SpentTxidHex != "" {
			rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "spent"))
			continue
		}
		if in.DisallowedPurposes[rec.Purpose] {
			continue
		}
		if uint64(rec.ValueSats) < in.MinSats {
			rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "below-min-sats"))
			continue
		}
		if in.RequireVout0 && rec.Vout != 0 {
			rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "require-vout0"))
			continue
		}
		if rec.RpaContext.SenderPub33Hex == "" || rec.RpaContext.PrevoutTxidHex == "" {
			rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "missing-rpaContext.senderPub33"))
			continue
		}

		rpaCtx, err := rec.RpaContext.ToRpaContext()
		if err != nil {
			rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "missing-rpaContext.invalid"))
			continue
		}

		oneTimePriv, err := rpa.DeriveReceiverOneTimePriv(in.ScanPriv, in.SpendPriv, rpaCtx.SenderPub33, rpaCtx)
		if err != nil {
			rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "derivation-mismatch"))
			continue
		}
		pub, err := secp.GetPublicKey(oneTimePriv, true)
		if err != nil {
			rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "derivation-mismatch"))
			continue
		}
		wantHash160, err := hex.DecodeString(rec.Hash160Hex)
		if err != nil || len(wantHash160) != 20 {
			rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "derivation-mismatch"))
			continue
		}
		gotHash160 := primitives.Hash160(pub[:])
		if !bytes.Equal(gotHash160[:], wantHash160) {
			rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "derivation-mismatch"))
			continue
		}

		var h160Array [20]byte
		copy(h160Array[:], wantHash160)
		scripthashHex := ComputeScripthash(h160Array)

		unspent, err := oracle.ScripthashListUnspent(ctx, scripthashHex)
		if err != nil {
			return nil, nil, fmt.Errorf("funding: list stealth unspent: %w", err)
		}
		var onChain *chainrpc.UnspentEntry
		for i := range unspent {
			if unspent[i].TxidHex == rec.TxidHex && unspent[i].Vout == rec.Vout {
				onChain = &unspent[i]
				break
			}
		}
		if onChain == nil {
			rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "spent"))
			continue
		}

		if !in.AllowTokens {
			_, hasToken, isP2PKH, err := fetchOutputScript(ctx, oracle, rec.TxidHex, rec.Vout)
			if err != nil {
				rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "spent"))
				continue
			}
			if hasToken {
				rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "token-utxo-excluded"))
				continue
			}
			if !isP2PKH {
				rejections = append(rejections, reject(rec.TxidHex, rec.Vout, "non-p2pkh"))
				continue
			}
		}

		otp := oneTimePriv
		candidates = append(candidates, Selected{
			Source:       PreferenceStealth,
			TxidHex:      rec.TxidHex,
			Vout:         rec.Vout,
			ValueSats:    uint64(rec.ValueSats),
			ScriptPubKey: txscript.P2PKH(h160Array),
			OneTimePriv:  &otp,
		})
	}

	return candidates, rejections, nil
}
