// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bastiancarmy/bch-stealth-pool/addresses"
	"github.com/bastiancarmy/bch-stealth-pool/chainrpc"
	"github.com/bastiancarmy/bch-stealth-pool/funding"
	"github.com/bastiancarmy/bch-stealth-pool/primitives"
	"github.com/bastiancarmy/bch-stealth-pool/rpa"
	"github.com/bastiancarmy/bch-stealth-pool/secp"
	"github.com/bastiancarmy/bch-stealth-pool/shard"
	"github.com/bastiancarmy/bch-stealth-pool/store"
	"github.com/bastiancarmy/bch-stealth-pool/txscript"
	"github.com/bastiancarmy/bch-stealth-pool/walleterr"
)

// feeRatePerByte is the sats-per-byte floor applied when the oracle's
// fee estimate is unavailable or unusable, per spec.md §4.9.
const feeRatePerByte = 1

// importPollCount and importPollInterval bound the wait for a deposit's
// outpoint to surface as unspent before Import proceeds, per spec.md
// §4.10.
const (
	importPollCount    = 12
	importPollInterval = 750 * time.Millisecond
)

// Wallet holds the derived key material, addresses, and chain oracle
// every orchestrator operates against.
type Wallet struct {
	Keys rpa.WalletKeyMaterial

	BasePub33   [33]byte
	BaseHash160 [20]byte
	ScanPub33   [33]byte
	SpendPub33  [33]byte

	RedeemScript   []byte
	CashAddrPrefix string

	Oracle chainrpc.Oracle
	Config Config
}

// New builds a Wallet from its private key material, enforcing the
// scan/spend key invariant (spec.md §3/§9) before deriving every
// public address form.
func New(oracle chainrpc.Oracle, keys rpa.WalletKeyMaterial, redeemScript []byte, cashAddrPrefix string, cfg Config) (*Wallet, error) {
	corrected, wasOverridden, err := rpa.EnforceSpendKeyInvariant(keys)
	if err != nil {
		return nil, fmt.Errorf("wallet: enforce spend key invariant: %w", err)
	}
	if wasOverridden {
		log.Warnf("stored spend key disagreed with scanPriv-derived spend key; using the derived key")
	}

	basePub, err := secp.GetPublicKey(corrected.BasePriv, true)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive base public key: %w", err)
	}
	scanPub, err := secp.GetPublicKey(corrected.ScanPriv, true)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive scan public key: %w", err)
	}
	spendPub, err := secp.GetPublicKey(corrected.SpendPriv, true)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive spend public key: %w", err)
	}

	return &Wallet{
		Keys:           corrected,
		BasePub33:      basePub,
		BaseHash160:    primitives.Hash160(basePub[:]),
		ScanPub33:      scanPub,
		SpendPub33:     spendPub,
		RedeemScript:   redeemScript,
		CashAddrPrefix: cashAddrPrefix,
		Oracle:         oracle,
		Config:         cfg,
	}, nil
}

// estimateTxSize approximates the serialized size of a transaction
// with nInputs P2PKH inputs and nOutputs outputs, the standard
// 10 + 148*n + 34*m rule of thumb.
func estimateTxSize(nInputs, nOutputs int) int {
	return 10 + 148*nInputs + 34*nOutputs
}

// estimateFee asks the oracle for a fee rate and applies it to an
// estimated transaction size, falling back to feeRatePerByte and
// flooring the result through shard.ApplyFloor, per spec.md §4.9.
func (w *Wallet) estimateFee(ctx context.Context, nInputs, nOutputs int) (uint64, error) {
	size := estimateTxSize(nInputs, nOutputs)

	rate := float64(feeRatePerByte)
	est, err := w.Oracle.EstimateFee(ctx)
	if err != nil || est.SatsPerByte <= 0 {
		log.Debugf("estimateFee: falling back to %d sat/byte: %v", feeRatePerByte, err)
	} else {
		rate = est.SatsPerByte
	}

	requested := uint64(rate * float64(size))
	floor := uint64(feeRatePerByte * size)
	return shard.ApplyFloor(requested, floor, 0).TotalFee, nil
}

// unspentStealthRecords filters the store's stealth-UTXO records down
// to those not yet marked spent.
func unspentStealthRecords(env *store.Envelope) []store.StealthUtxoRecord {
	all := env.Data.Pool.State.StealthUtxos
	out := make([]store.StealthUtxoRecord, 0, len(all))
	for _, rec := range all {
		if rec.SpentTxidHex == "" {
			out = append(out, rec)
		}
	}
	return out
}

// selectFunding runs the funding selector against both the wallet's
// base address and its unspent stealth UTXOs, per spec.md §4.8.
func (w *Wallet) selectFunding(ctx context.Context, env *store.Envelope, minSats uint64) (*funding.Selected, error) {
	return funding.Select(ctx, w.Oracle, funding.SelectInput{
		Preferences:       w.Config.FundingPreference,
		MinSats:           minSats,
		BaseScripthashHex: funding.ComputeScripthash(w.BaseHash160),
		StealthCandidates: unspentStealthRecords(env),
		ScanPriv:          w.Keys.ScanPriv,
		SpendPriv:         w.Keys.SpendPriv,
	})
}

// signerFor returns the signing key and its public counterpart for a
// selected funding candidate: the recovered one-time key for a
// stealth source, or the wallet's base key otherwise.
func (w *Wallet) signerFor(sel *funding.Selected) ([32]byte, [33]byte, error) {
	if sel.Source == funding.PreferenceStealth {
		if sel.OneTimePriv == nil {
			return [32]byte{}, [33]byte{}, fmt.Errorf("wallet: stealth candidate missing its one-time key")
		}
		pub, err := secp.GetPublicKey(*sel.OneTimePriv, true)
		if err != nil {
			return [32]byte{}, [33]byte{}, err
		}
		return *sel.OneTimePriv, pub, nil
	}
	return w.Keys.BasePriv, w.BasePub33, nil
}

// deriveOneTimeOutput derives a one-time payment output under the
// given scan/spend public keys, optionally grinding against the
// wallet's default candidate-selection prefix, per spec.md §4.4/§4.10.
func (w *Wallet) deriveOneTimeOutput(senderPriv [32]byte, scanPub, spendPub [33]byte, prevoutTxidHex string, prevoutN uint32, grind bool) (childPub [33]byte, childHash160 [20]byte, index uint32, err error) {
	if !grind {
		childPub, childHash160, err = rpa.DeriveSenderOneTimePub(senderPriv, scanPub, spendPub, prevoutTxidHex, prevoutN, 0)
		return childPub, childHash160, 0, err
	}

	prefix := rpa.DefaultGrindPrefix16(scanPub)
	result, err := rpa.Grind(senderPriv, scanPub, spendPub, prevoutTxidHex, prevoutN, prefix[:], rpa.DefaultGrindMax)
	if err != nil {
		return childPub, childHash160, 0, err
	}
	if !result.Matched {
		log.Debugf("grind: no index under %d matched the candidate-selection prefix, using index 0", rpa.DefaultGrindMax)
	}
	return result.ChildPub, result.ChildHash160, result.Index, nil
}

// tryRecoverOwnStealthOutput reports whether a just-derived payment
// output actually belongs to this wallet: re-deriving it under our own
// scan/spend keys recovers the same hash160 exactly when the
// destination paycode was our own, since SharedSecret is symmetric.
func (w *Wallet) tryRecoverOwnStealthOutput(ctxP rpa.RpaContext, wantHash160 [20]byte) bool {
	priv, err := rpa.DeriveReceiverOneTimePriv(w.Keys.ScanPriv, w.Keys.SpendPriv, ctxP.SenderPub33, ctxP)
	if err != nil {
		return false
	}
	pub, err := secp.GetPublicKey(priv, true)
	if err != nil {
		return false
	}
	return primitives.Hash160(pub[:]) == wantHash160
}

// resolveDestination classifies a send/withdraw destination string:
// a "PM..." paycode decodes to a stealth scan/spend pair, anything
// else parses as a CashAddr restricted to P2PKH, per spec.md §4.10.
func (w *Wallet) resolveDestination(dest string) (isStealth bool, scanPub, spendPub [33]byte, hash160 [20]byte, err error) {
	if addresses.IsPaycode(dest) {
		scanPub, _, err = addresses.DecodePaycode(dest)
		if err != nil {
			return false, scanPub, spendPub, hash160, walleterr.NewValidationError("dest", "invalid paycode: "+err.Error())
		}
		spendPub, err = rpa.DeriveSpendPub(scanPub)
		if err != nil {
			return false, scanPub, spendPub, hash160, err
		}
		return true, scanPub, spendPub, hash160, nil
	}

	h160, addrType, _, decodeErr := addresses.DecodeCashAddr(dest)
	if decodeErr != nil {
		return false, scanPub, spendPub, hash160, walleterr.NewValidationError("dest", "not a paycode or valid cashaddr: "+decodeErr.Error())
	}
	if addrType != addresses.P2PKH {
		return false, scanPub, spendPub, hash160, walleterr.NewValidationError("dest", "only P2PKH cashaddr destinations are supported")
	}
	return false, scanPub, spendPub, h160, nil
}

// signInput builds the BCH CashTokens-aware preimage for inputIndex,
// hashes it, and stores the authorizer's scriptSig. Mirrors the
// shard package's own signP2PKHInput, generalized over any
// txscript.Authorizer since that helper is unexported.
func signInput(tx *txscript.Tx, inputIndex int, scriptCode []byte, value uint64, auth txscript.Authorizer) error {
	preimage := txscript.BuildPreimage(txscript.PreimageInputs{
		Version:    tx.Version,
		Inputs:     tx.Inputs,
		Outputs:    tx.Outputs,
		InputIndex: inputIndex,
		Prevout:    txscript.PrevoutInfo{ScriptCode: scriptCode, Value: value},
		Locktime:   tx.Locktime,
	})
	sighash := primitives.DoubleSHA256(preimage)

	scriptSig, err := auth.Authorize(sighash[:])
	if err != nil {
		return fmt.Errorf("wallet: sign input %d: %w", inputIndex, err)
	}
	tx.Inputs[inputIndex].ScriptSig = scriptSig
	return nil
}

// txidHexToLE decodes a display-order (big-endian) txid hex string
// into its on-wire (little-endian) byte order.
func txidHexToLE(txidHex string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(txidHex)
	if err != nil {
		return out, walleterr.NewValidationError("txid", "not valid hex: "+err.Error())
	}
	if len(raw) != 32 {
		return out, walleterr.NewValidationError("txid", fmt.Sprintf("expected 32 bytes, got %d", len(raw)))
	}
	copy(out[:], primitives.ReverseBytes(raw))
	return out, nil
}

// findShardPointer looks up the stored pointer for a shard index.
func findShardPointer(env *store.Envelope, index uint16) (*shard.ShardPointer, error) {
	shards := env.Data.Pool.State.Shards
	for i := range shards {
		if shards[i].Index == index {
			return &shards[i], nil
		}
	}
	return nil, walleterr.NewValidationError("shardIndex", fmt.Sprintf("no shard pointer at index %d", index))
}

// readShardStateFromChain fetches the shard's current prevout and
// returns its token commitment, which is always stateIn for the next
// fold, per spec.md §4.6/§9: "StateIn must be read from the on-chain
// shard prevout, not the store."
func (w *Wallet) readShardStateFromChain(ctx context.Context, pointer shard.ShardPointer) ([32]byte, error) {
	var out [32]byte

	resp, err := w.Oracle.TransactionGet(ctx, chainrpc.TransactionGetRequest{TxidHex: pointer.TxidHex})
	if err != nil {
		return out, fmt.Errorf("wallet: fetch shard prevout tx %s: %w", pointer.TxidHex, err)
	}
	raw, err := chainrpc.DecodeTolerant(resp.HexRaw)
	if err != nil {
		return out, fmt.Errorf("wallet: decode shard prevout tx %s: %w", pointer.TxidHex, err)
	}
	tx, err := txscript.Deserialize(raw)
	if err != nil {
		return out, fmt.Errorf("wallet: parse shard prevout tx %s: %w", pointer.TxidHex, err)
	}
	if int(pointer.Vout) >= len(tx.Outputs) {
		return out, fmt.Errorf("wallet: shard vout %d out of range for tx %s", pointer.Vout, pointer.TxidHex)
	}

	split := txscript.SplitTokenPrefix(tx.Outputs[pointer.Vout].ScriptPubKey)
	if split.Prefix == nil || len(split.Prefix.Commitment) != 32 {
		return out, fmt.Errorf("wallet: shard prevout %s:%d carries no 32-byte token commitment", pointer.TxidHex, pointer.Vout)
	}
	copy(out[:], split.Prefix.Commitment)
	return out, nil
}

// poolCategory decodes the pool's stored 32-byte category.
func poolCategory(env *store.Envelope) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(env.Data.Pool.State.CategoryHex)
	if err != nil || len(raw) != 32 {
		return out, walleterr.NewValidationError("categoryHex", "stored pool category is missing or malformed")
	}
	copy(out[:], raw)
	return out, nil
}

// poolRedeemScript decodes the pool's stored redeem script.
func poolRedeemScript(env *store.Envelope) ([]byte, error) {
	raw, err := hex.DecodeString(env.Data.Pool.State.RedeemScriptHex)
	if err != nil {
		return nil, walleterr.NewValidationError("redeemScriptHex", "stored redeem script is invalid hex")
	}
	return raw, nil
}

// nowRFC3339 stamps a record timestamp; callers pass this through
// rather than calling time.Now directly so every timestamp in one
// orchestrator call agrees.
func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ---------------------------------------------------------------------
// InitPool
// ---------------------------------------------------------------------

// InitOptions collects initPool's parameters.
type InitOptions struct {
	ShardCount     uint16
	ShardValueSats uint64
}

// InitResult is InitPool's output.
type InitResult struct {
	Tx      *txscript.Tx
	TxidHex string
	State   shard.PoolState
}

// InitPool funds the genesis shard transaction and records the
// resulting pool state, supplementing spec.md §4.10's four named
// orchestrators with the setup step they all depend on.
func (w *Wallet) InitPool(ctx context.Context, env *store.Envelope, opts InitOptions) (*InitResult, error) {
	fee, err := w.estimateFee(ctx, 1, int(opts.ShardCount)+1)
	if err != nil {
		return nil, err
	}

	totalNeeded := uint64(opts.ShardCount)*opts.ShardValueSats + fee
	sel, err := w.selectFunding(ctx, env, totalNeeded)
	if err != nil {
		return nil, err
	}

	signerPriv, signerPub, err := w.signerFor(sel)
	if err != nil {
		return nil, err
	}

	mode := resolveCategoryMode(w.Config.CategoryMode)

	result, err := shard.InitShards(shard.InitShardsInput{
		ShardCount:     opts.ShardCount,
		ShardValueSats: opts.ShardValueSats,
		FundingTxidHex: sel.TxidHex,
		FundingVout:    sel.Vout,
		FundingValue:   sel.ValueSats,
		FundingScript:  sel.ScriptPubKey,
		OwnerBaseH160:  w.BaseHash160,
		OwnerBasePub33: w.BasePub33,
		RedeemScript:   w.RedeemScript,
		FeeFloor:       fee,
		CategoryMode:   mode,
	}, func(sighash []byte) ([]byte, error) {
		auth := txscript.P2PKHAuthorizer{Priv: signerPriv, Pub33: signerPub}
		return auth.Authorize(sighash)
	})
	if err != nil {
		return nil, err
	}

	resp, err := w.Oracle.TransactionBroadcast(ctx, hex.EncodeToString(result.Tx.Serialize()))
	if err != nil {
		return nil, fmt.Errorf("wallet: init broadcast: %w", err)
	}
	log.Infof("pool init broadcast as %s", resp.TxidHex)

	now := nowRFC3339()
	if sel.Source == funding.PreferenceStealth {
		store.MarkStealthSpent(env, sel.TxidHex, sel.Vout, result.Tx.TxidHex(), now)
	}
	env.Data.Pool.State.PoolState = result.State
	if env.CreatedAt == "" {
		env.CreatedAt = now
	}
	env.UpdatedAt = now
	if env.SchemaVersion == 0 {
		env.SchemaVersion = 1
	}

	return &InitResult{Tx: result.Tx, TxidHex: result.Tx.TxidHex(), State: result.State}, nil
}

// ---------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------

// SendOptions collects send's options, per spec.md §4.10.
type SendOptions struct {
	DryRun bool
	Grind  bool
}

// SendResult is send's output.
type SendResult struct {
	Tx        *txscript.Tx
	TxidHex   string
	Broadcast bool
}

// Send resolves dest, selects a funding UTXO, derives a stealth or
// plain payment output, and broadcasts unless DryRun, per spec.md
// §4.10: "if stealth, derive payment and change under sender→receiver
// and sender→self respectively."
func (w *Wallet) Send(ctx context.Context, env *store.Envelope, dest string, sats uint64, opts SendOptions) (*SendResult, error) {
	if sats == 0 {
		return nil, walleterr.NewValidationError("sats", "must be positive")
	}

	destStealth, destScanPub, destSpendPub, destHash160, err := w.resolveDestination(dest)
	if err != nil {
		return nil, err
	}

	fee, err := w.estimateFee(ctx, 1, 2)
	if err != nil {
		return nil, err
	}

	sel, err := w.selectFunding(ctx, env, sats+fee)
	if err != nil {
		return nil, err
	}

	signerPriv, signerPub, err := w.signerFor(sel)
	if err != nil {
		return nil, err
	}

	var paymentScript []byte
	var paymentHash160 [20]byte
	var paymentRpaCtx *rpa.RpaContext
	if destStealth {
		_, childHash160, idx, err := w.deriveOneTimeOutput(signerPriv, destScanPub, destSpendPub, sel.TxidHex, sel.Vout, opts.Grind)
		if err != nil {
			return nil, err
		}
		paymentHash160 = childHash160
		paymentScript = txscript.P2PKH(childHash160)
		c := rpa.RpaContext{SenderPub33: signerPub, PrevoutTxidHex: sel.TxidHex, PrevoutN: sel.Vout, Index: idx}
		paymentRpaCtx = &c
	} else {
		paymentHash160 = destHash160
		paymentScript = txscript.P2PKH(destHash160)
	}

	payoutDustFloor := shard.Dust(len(paymentScript))
	if sats < payoutDustFloor {
		return nil, walleterr.NewPolicyViolation("send-output-below-dust", fmt.Sprintf("payment value %d below dust floor %d", sats, payoutDustFloor))
	}

	if sel.ValueSats < sats+fee {
		return nil, walleterr.NewInsufficientFundsError(nil)
	}
	remainder := sel.ValueSats - sats - fee

	outputs := []txscript.TxOut{{Value: sats, ScriptPubKey: paymentScript}}

	var changeRpaCtx *rpa.RpaContext
	var changeHash160 [20]byte
	var changeScript []byte
	if destStealth {
		_, childHash160, err := rpa.DeriveSenderOneTimePub(signerPriv, w.ScanPub33, w.SpendPub33, sel.TxidHex, sel.Vout, 1)
		if err != nil {
			return nil, err
		}
		changeHash160 = childHash160
		changeScript = txscript.P2PKH(childHash160)
		c := rpa.RpaContext{SenderPub33: signerPub, PrevoutTxidHex: sel.TxidHex, PrevoutN: sel.Vout, Index: 1}
		changeRpaCtx = &c
	} else {
		changeHash160 = w.BaseHash160
		changeScript = txscript.P2PKH(w.BaseHash160)
	}

	changeDustFloor := shard.Dust(len(changeScript))
	if remainder >= changeDustFloor {
		outputs = append(outputs, txscript.TxOut{Value: remainder, ScriptPubKey: changeScript})
	} else {
		log.Debugf("send: change %d below dust floor %d, absorbing into fee", remainder, changeDustFloor)
		changeRpaCtx = nil
	}

	fundingTxidLE, err := txidHexToLE(sel.TxidHex)
	if err != nil {
		return nil, err
	}

	tx := &txscript.Tx{
		Version:  2,
		Inputs:   []txscript.TxIn{{PrevTxidLE: fundingTxidLE, PrevVout: sel.Vout, Sequence: 0xffffffff}},
		Outputs:  outputs,
		Locktime: 0,
	}

	auth := txscript.P2PKHAuthorizer{Priv: signerPriv, Pub33: signerPub}
	if err := signInput(tx, 0, sel.ScriptPubKey, sel.ValueSats, auth); err != nil {
		return nil, err
	}

	txidHex := tx.TxidHex()
	result := &SendResult{Tx: tx, TxidHex: txidHex}

	if opts.DryRun {
		log.Debugf("send: dry run, not broadcasting %s", txidHex)
		return result, nil
	}

	resp, err := w.Oracle.TransactionBroadcast(ctx, hex.EncodeToString(tx.Serialize()))
	if err != nil {
		return nil, fmt.Errorf("wallet: broadcast: %w", err)
	}
	log.Infof("send broadcast as %s", resp.TxidHex)
	result.Broadcast = true

	now := nowRFC3339()
	if sel.Source == funding.PreferenceStealth {
		store.MarkStealthSpent(env, sel.TxidHex, sel.Vout, txidHex, now)
	}
	if paymentRpaCtx != nil && w.tryRecoverOwnStealthOutput(*paymentRpaCtx, paymentHash160) {
		store.UpsertStealthUtxo(env, store.StealthUtxoRecord{
			TxidHex:    txidHex,
			Vout:       0,
			ValueSats:  store.Sats(sats),
			Hash160Hex: hex.EncodeToString(paymentHash160[:]),
			RpaContext: store.RpaContextToJSON(*paymentRpaCtx),
			Purpose:    "send-self",
		})
	}
	if changeRpaCtx != nil {
		store.UpsertStealthUtxo(env, store.StealthUtxoRecord{
			TxidHex:    txidHex,
			Vout:       1,
			ValueSats:  store.Sats(remainder),
			Hash160Hex: hex.EncodeToString(changeHash160[:]),
			RpaContext: store.RpaContextToJSON(*changeRpaCtx),
			Purpose:    "change",
		})
	}

	return result, nil
}

// ---------------------------------------------------------------------
// Deposit
// ---------------------------------------------------------------------

// DepositMode selects whether the deposit's receiver output is a
// stealth derivation or a plain base-address payment, per spec.md
// §4.10/§9 (BCH_STEALTH_ALLOW_BASE_IMPORT).
type DepositMode uint8

const (
	DepositModeRpa DepositMode = iota
	DepositModeBase
)

// ChangeMode selects how deposit's change output is derived, per
// spec.md §4.10.
type ChangeMode uint8

const (
	ChangeModeAuto ChangeMode = iota
	ChangeModeTransparent
	ChangeModeStealth
)

// DepositOptions collects deposit's options, per spec.md §4.10.
type DepositOptions struct {
	Mode       DepositMode
	ChangeMode ChangeMode
}

// DepositResult is deposit's output.
type DepositResult struct {
	Tx      *txscript.Tx
	TxidHex string
	Record  store.DepositRecord
}

// Deposit is a self-send: the receiver output is a stealth-to-self
// derivation unless Mode is DepositModeBase, which requires
// Config.AllowBaseImport, per spec.md §4.10.
func (w *Wallet) Deposit(ctx context.Context, env *store.Envelope, amount uint64, opts DepositOptions) (*DepositResult, error) {
	if amount == 0 {
		return nil, walleterr.NewValidationError("amount", "must be positive")
	}
	if opts.Mode == DepositModeBase && !w.Config.AllowBaseImport {
		return nil, walleterr.NewPolicyViolation("base-import-not-unlocked", "depositMode=base requires BCH_STEALTH_ALLOW_BASE_IMPORT=1")
	}

	fee, err := w.estimateFee(ctx, 1, 2)
	if err != nil {
		return nil, err
	}

	sel, err := w.selectFunding(ctx, env, amount+fee)
	if err != nil {
		return nil, err
	}

	signerPriv, signerPub, err := w.signerFor(sel)
	if err != nil {
		return nil, err
	}

	var receiverScript []byte
	var receiverHash160 [20]byte
	var receiverRpaCtx *rpa.RpaContext

	if opts.Mode == DepositModeBase {
		receiverHash160 = w.BaseHash160
		receiverScript = txscript.P2PKH(w.BaseHash160)
	} else {
		_, childHash160, idx, err := w.deriveOneTimeOutput(signerPriv, w.ScanPub33, w.SpendPub33, sel.TxidHex, sel.Vout, false)
		if err != nil {
			return nil, err
		}
		receiverHash160 = childHash160
		receiverScript = txscript.P2PKH(childHash160)
		c := rpa.RpaContext{SenderPub33: signerPub, PrevoutTxidHex: sel.TxidHex, PrevoutN: sel.Vout, Index: idx}
		receiverRpaCtx = &c
	}

	payoutDustFloor := shard.Dust(len(receiverScript))
	if amount < payoutDustFloor {
		return nil, walleterr.NewPolicyViolation("deposit-output-below-dust", fmt.Sprintf("deposit value %d below dust floor %d", amount, payoutDustFloor))
	}
	if sel.ValueSats < amount+fee {
		return nil, walleterr.NewInsufficientFundsError(nil)
	}
	remainder := sel.ValueSats - amount - fee

	outputs := []txscript.TxOut{{Value: amount, ScriptPubKey: receiverScript}}

	useStealthChange := opts.ChangeMode == ChangeModeStealth ||
		(opts.ChangeMode == ChangeModeAuto && opts.Mode == DepositModeRpa)

	var changeRpaCtx *rpa.RpaContext
	var changeHash160 [20]byte
	var changeScript []byte
	if useStealthChange {
		_, childHash160, err := rpa.DeriveSenderOneTimePub(signerPriv, w.ScanPub33, w.SpendPub33, sel.TxidHex, sel.Vout, 1)
		if err != nil {
			return nil, err
		}
		changeHash160 = childHash160
		changeScript = txscript.P2PKH(childHash160)
		c := rpa.RpaContext{SenderPub33: signerPub, PrevoutTxidHex: sel.TxidHex, PrevoutN: sel.Vout, Index: 1}
		changeRpaCtx = &c
	} else {
		changeHash160 = w.BaseHash160
		changeScript = txscript.P2PKH(w.BaseHash160)
	}

	changeDustFloor := shard.Dust(len(changeScript))
	if remainder >= changeDustFloor {
		outputs = append(outputs, txscript.TxOut{Value: remainder, ScriptPubKey: changeScript})
	} else {
		log.Debugf("deposit: change %d below dust floor %d, absorbing into fee", remainder, changeDustFloor)
		changeRpaCtx = nil
	}

	fundingTxidLE, err := txidHexToLE(sel.TxidHex)
	if err != nil {
		return nil, err
	}

	tx := &txscript.Tx{
		Version:  2,
		Inputs:   []txscript.TxIn{{PrevTxidLE: fundingTxidLE, PrevVout: sel.Vout, Sequence: 0xffffffff}},
		Outputs:  outputs,
		Locktime: 0,
	}

	auth := txscript.P2PKHAuthorizer{Priv: signerPriv, Pub33: signerPub}
	if err := signInput(tx, 0, sel.ScriptPubKey, sel.ValueSats, auth); err != nil {
		return nil, err
	}

	resp, err := w.Oracle.TransactionBroadcast(ctx, hex.EncodeToString(tx.Serialize()))
	if err != nil {
		return nil, fmt.Errorf("wallet: deposit broadcast: %w", err)
	}
	log.Infof("deposit broadcast as %s", resp.TxidHex)

	txidHex := tx.TxidHex()
	now := nowRFC3339()

	if sel.Source == funding.PreferenceStealth {
		store.MarkStealthSpent(env, sel.TxidHex, sel.Vout, txidHex, now)
	}
	if receiverRpaCtx != nil {
		store.UpsertStealthUtxo(env, store.StealthUtxoRecord{
			TxidHex:    txidHex,
			Vout:       0,
			ValueSats:  store.Sats(amount),
			Hash160Hex: hex.EncodeToString(receiverHash160[:]),
			RpaContext: store.RpaContextToJSON(*receiverRpaCtx),
			Purpose:    "deposit",
		})
	}
	if changeRpaCtx != nil {
		store.UpsertStealthUtxo(env, store.StealthUtxoRecord{
			TxidHex:    txidHex,
			Vout:       uint32(len(outputs) - 1),
			ValueSats:  store.Sats(remainder),
			Hash160Hex: hex.EncodeToString(changeHash160[:]),
			RpaContext: store.RpaContextToJSON(*changeRpaCtx),
			Purpose:    "change",
		})
	}

	rec := store.DepositRecord{
		TxidHex:   txidHex,
		Vout:      0,
		ValueSats: store.Sats(amount),
		CreatedAt: now,
	}
	if receiverRpaCtx != nil {
		rec.RpaContext = store.RpaContextToJSON(*receiverRpaCtx)
	}
	store.UpsertDeposit(env, rec)
	env.Data.Pool.State.LastDeposit = txidHex

	return &DepositResult{Tx: tx, TxidHex: txidHex, Record: rec}, nil
}

// ---------------------------------------------------------------------
// Import
// ---------------------------------------------------------------------

// ImportOptions collects import's options, per spec.md §4.10.
type ImportOptions struct {
	// DepositTxidHex overrides the default "latest unimported deposit"
	// selection.
	DepositTxidHex string
	// ShardIndex overrides the index the deposit's noteHash would
	// otherwise select.
	ShardIndex *uint16
}

// ImportResult is import's output.
type ImportResult struct {
	Tx           *txscript.Tx
	TxidHex      string
	ShardIndex   uint16
	CategoryMode shard.CategoryMode
	Pointer      shard.ShardPointer
}

// depositHash160 recovers the hash160 a deposit record's output pays
// to: the wallet's base hash160 for a base-mode deposit, or the
// re-derived stealth one-time hash160 otherwise.
func (w *Wallet) depositHash160(dep store.DepositRecord) ([20]byte, error) {
	if dep.RpaContext.SenderPub33Hex == "" {
		return w.BaseHash160, nil
	}
	rpaCtx, err := dep.RpaContext.ToRpaContext()
	if err != nil {
		return [20]byte{}, err
	}
	priv, err := rpa.DeriveReceiverOneTimePriv(w.Keys.ScanPriv, w.Keys.SpendPriv, rpaCtx.SenderPub33, rpaCtx)
	if err != nil {
		return [20]byte{}, err
	}
	pub, err := secp.GetPublicKey(priv, true)
	if err != nil {
		return [20]byte{}, err
	}
	return primitives.Hash160(pub[:]), nil
}

// pickDeposit selects the deposit import acts on: the caller's
// explicit override, or the most recently recorded unimported deposit,
// per spec.md §4.10.
func pickDeposit(env *store.Envelope, depositTxidHex string) (*store.DepositRecord, error) {
	deposits := env.Data.Pool.State.Deposits
	if depositTxidHex != "" {
		for i := range deposits {
			if deposits[i].TxidHex == depositTxidHex {
				return &deposits[i], nil
			}
		}
		return nil, walleterr.NewValidationError("depositTxid", "no matching deposit record found")
	}
	for i := len(deposits) - 1; i >= 0; i-- {
		if deposits[i].ImportTxidHex == "" {
			return &deposits[i], nil
		}
	}
	return nil, walleterr.NewValidationError("depositTxid", "no unimported deposit found")
}

// waitForDepositVisible polls the deposit's scripthash until its
// outpoint appears unspent, per spec.md §4.10: "waits for the outpoint
// to be visible as unspent (12 polls, 750 ms)."
func (w *Wallet) waitForDepositVisible(ctx context.Context, dep store.DepositRecord, hash160 [20]byte) error {
	scripthash := funding.ComputeScripthash(hash160)

	for attempt := 0; attempt < importPollCount; attempt++ {
		unspent, err := w.Oracle.ScripthashListUnspent(ctx, scripthash)
		if err == nil {
			for _, u := range unspent {
				if u.TxidHex == dep.TxidHex && u.Vout == dep.Vout {
					return nil
				}
			}
		}

		if attempt == importPollCount-1 {
			break
		}
		timer := time.NewTimer(importPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return walleterr.NewChainError("scripthash.listunspent",
		fmt.Sprintf("deposit %s:%d not visible as unspent after %d polls", dep.TxidHex, dep.Vout, importPollCount))
}

// Import folds the latest unimported deposit (or an explicit override)
// into its target shard, retrying across shard.FallbackOrder's
// category modes on an OP_EQUALVERIFY-class broadcast rejection, per
// spec.md §4.10/§9.
func (w *Wallet) Import(ctx context.Context, env *store.Envelope, opts ImportOptions) (*ImportResult, error) {
	dep, err := pickDeposit(env, opts.DepositTxidHex)
	if err != nil {
		return nil, err
	}

	depositHash160, err := w.depositHash160(*dep)
	if err != nil {
		return nil, err
	}

	if err := w.waitForDepositVisible(ctx, *dep, depositHash160); err != nil {
		return nil, err
	}

	var depositPriv [32]byte
	var depositPub33 [33]byte
	if dep.RpaContext.SenderPub33Hex == "" {
		depositPriv, depositPub33 = w.Keys.BasePriv, w.BasePub33
	} else {
		rpaCtx, err := dep.RpaContext.ToRpaContext()
		if err != nil {
			return nil, err
		}
		depositPriv, err = rpa.DeriveReceiverOneTimePriv(w.Keys.ScanPriv, w.Keys.SpendPriv, rpaCtx.SenderPub33, rpaCtx)
		if err != nil {
			return nil, err
		}
		depositPub33, err = secp.GetPublicKey(depositPriv, true)
		if err != nil {
			return nil, err
		}
	}

	category, err := poolCategory(env)
	if err != nil {
		return nil, err
	}
	redeemScript, err := poolRedeemScript(env)
	if err != nil {
		return nil, err
	}

	depositTxidLE, err := txidHexToLE(dep.TxidHex)
	if err != nil {
		return nil, err
	}

	shardCount := env.Data.Pool.State.ShardCount
	shardIndex := uint16(0)
	if opts.ShardIndex != nil {
		shardIndex = *opts.ShardIndex
	} else {
		selectionHash := shard.ShardSelectionNoteHash(depositTxidLE, dep.Vout)
		shardIndex = shard.ShardIndexFromNoteHash(selectionHash, shardCount)
	}

	pointer, err := findShardPointer(env, shardIndex)
	if err != nil {
		return nil, err
	}

	stateIn, err := w.readShardStateFromChain(ctx, *pointer)
	if err != nil {
		return nil, err
	}

	fee, err := w.estimateFee(ctx, 2, 1)
	if err != nil {
		return nil, err
	}

	depositScript := txscript.P2PKH(depositHash160)

	var lastErr error
	for _, mode := range categoryModesToTry(w.Config.CategoryMode) {
		idx := shardIndex
		result, err := shard.ImportDepositToShard(shard.ImportDepositToShardInput{
			ShardIndex:     &idx,
			ShardCount:     shardCount,
			Category:       category,
			StateIn:        stateIn,
			ShardTxidHex:   pointer.TxidHex,
			ShardVout:      pointer.Vout,
			ShardValue:     pointer.ValueSats,
			DepositTxidHex: dep.TxidHex,
			DepositTxidLE:  depositTxidLE,
			DepositVout:    dep.Vout,
			DepositValue:   uint64(dep.ValueSats),
			DepositScript:  depositScript,
			DepositPriv:    depositPriv,
			DepositPub33:   depositPub33,
			RedeemScript:   redeemScript,
			Fee:            fee,
			CategoryMode:   mode,
		})
		if err != nil {
			lastErr = err
			break
		}

		resp, broadcastErr := w.Oracle.TransactionBroadcast(ctx, hex.EncodeToString(result.Tx.Serialize()))
		if broadcastErr == nil {
			if mode != shard.CategoryModeDefault {
				log.Infof("import succeeded with non-default category mode %s", mode)
			}
			log.Infof("import broadcast as %s", resp.TxidHex)

			dep.ImportTxidHex = result.Tx.TxidHex()
			store.UpsertDeposit(env, *dep)
			store.UpsertShardPointer(env, result.NewPointer)
			env.Data.Pool.State.LastImport = result.Tx.TxidHex()

			return &ImportResult{
				Tx:           result.Tx,
				TxidHex:      result.Tx.TxidHex(),
				ShardIndex:   result.ShardIndex,
				CategoryMode: mode,
				Pointer:      result.NewPointer,
			}, nil
		}

		var bErr *walleterr.BroadcastError
		if errors.As(broadcastErr, &bErr) && bErr.IsEqualVerifyClass() {
			log.Warnf("import broadcast rejected under category mode %s, retrying next mode: %v", mode, bErr)
			lastErr = bErr
			continue
		}
		return nil, fmt.Errorf("wallet: import broadcast: %w", broadcastErr)
	}

	return nil, fmt.Errorf("wallet: import failed across all category modes: %w", lastErr)
}

// ---------------------------------------------------------------------
// Withdraw
// ---------------------------------------------------------------------

// WithdrawResult is withdraw's output.
type WithdrawResult struct {
	Tx      *txscript.Tx
	TxidHex string
	Pointer shard.ShardPointer
}

// Withdraw pays a destination out of a shard, advancing the shard's
// covenant state, per spec.md §4.10: stateIn is always read from the
// on-chain shard prevout, and the fee input comes from the funding
// selector.
func (w *Wallet) Withdraw(ctx context.Context, env *store.Envelope, dest string, shardIndex uint16, amountSats uint64) (*WithdrawResult, error) {
	if amountSats == 0 {
		return nil, walleterr.NewValidationError("amount", "must be positive")
	}

	destStealth, destScanPub, destSpendPub, destHash160, err := w.resolveDestination(dest)
	if err != nil {
		return nil, err
	}

	pointer, err := findShardPointer(env, shardIndex)
	if err != nil {
		return nil, err
	}

	stateIn, err := w.readShardStateFromChain(ctx, *pointer)
	if err != nil {
		return nil, err
	}

	category, err := poolCategory(env)
	if err != nil {
		return nil, err
	}
	redeemScript, err := poolRedeemScript(env)
	if err != nil {
		return nil, err
	}

	fee, err := w.estimateFee(ctx, 2, 3)
	if err != nil {
		return nil, err
	}

	sel, err := w.selectFunding(ctx, env, fee)
	if err != nil {
		return nil, err
	}

	feePriv, feePub, err := w.signerFor(sel)
	if err != nil {
		return nil, err
	}

	var receiverHash160 [20]byte
	var receiverRpaCtx *rpa.RpaContext
	if destStealth {
		_, childHash160, idx, err := w.deriveOneTimeOutput(feePriv, destScanPub, destSpendPub, sel.TxidHex, sel.Vout, false)
		if err != nil {
			return nil, err
		}
		receiverHash160 = childHash160
		c := rpa.RpaContext{SenderPub33: feePub, PrevoutTxidHex: sel.TxidHex, PrevoutN: sel.Vout, Index: idx}
		receiverRpaCtx = &c
	} else {
		receiverHash160 = destHash160
	}

	mode := resolveCategoryMode(w.Config.CategoryMode)

	result, err := shard.WithdrawFromShard(shard.WithdrawFromShardInput{
		Category:        category,
		StateIn:         stateIn,
		ShardTxidHex:    pointer.TxidHex,
		ShardVout:       pointer.Vout,
		ShardValue:      pointer.ValueSats,
		ReceiverHash160: receiverHash160,
		AmountSats:      amountSats,
		FeeTxidHex:      sel.TxidHex,
		FeeVout:         sel.Vout,
		FeeValue:        sel.ValueSats,
		FeeScript:       sel.ScriptPubKey,
		FeePriv:         feePriv,
		FeePub33:        feePub,
		Fee:             fee,
		ChangeHash160:   w.BaseHash160,
		RedeemScript:    redeemScript,
		CategoryMode:    mode,
	})
	if err != nil {
		return nil, err
	}

	resp, err := w.Oracle.TransactionBroadcast(ctx, hex.EncodeToString(result.Tx.Serialize()))
	if err != nil {
		return nil, fmt.Errorf("wallet: withdraw broadcast: %w", err)
	}
	log.Infof("withdraw broadcast as %s", resp.TxidHex)

	txidHex := result.Tx.TxidHex()
	now := nowRFC3339()

	newPointer := result.NewPointer
	newPointer.Index = shardIndex // WithdrawFromShard leaves Index unset
	store.UpsertShardPointer(env, newPointer)
	if sel.Source == funding.PreferenceStealth {
		store.MarkStealthSpent(env, sel.TxidHex, sel.Vout, txidHex, now)
	}
	if receiverRpaCtx != nil {
		store.UpsertStealthUtxo(env, store.StealthUtxoRecord{
			TxidHex:    txidHex,
			Vout:       1,
			ValueSats:  store.Sats(amountSats),
			Hash160Hex: hex.EncodeToString(receiverHash160[:]),
			RpaContext: store.RpaContextToJSON(*receiverRpaCtx),
			Purpose:    "withdraw",
		})
	}
	env.Data.Pool.State.Withdrawals = append(env.Data.Pool.State.Withdrawals, store.WithdrawalRecord{
		TxidHex:    txidHex,
		ShardIndex: shardIndex,
		AmountSats: store.Sats(amountSats),
		DestHex:    dest,
		CreatedAt:  now,
	})
	env.Data.Pool.State.LastWithdraw = txidHex

	return &WithdrawResult{Tx: result.Tx, TxidHex: txidHex, Pointer: newPointer}, nil
}
