// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package shard

import (
	"encoding/hex"
	"fmt"

	"github.com/bastiancarmy/bch-stealth-pool/primitives"
	"github.com/bastiancarmy/bch-stealth-pool/txscript"
	"github.com/bastiancarmy/bch-stealth-pool/walleterr"
)

// ShardPointer tracks one shard's current on-chain outpoint, value,
// and commitment, per spec.md §3.
type ShardPointer struct {
	Index         uint16 `json:"index"`
	TxidHex       string `json:"txid"`
	Vout          uint32 `json:"vout"`
	ValueSats     uint64 `json:"valueSats"`
	CommitmentHex string `json:"commitmentHex"`
}

// PoolState is the per-wallet shard pool, per spec.md §3.
type PoolState struct {
	PoolIDHex       string         `json:"poolIdHex"`
	PoolVersion     string         `json:"poolVersion"`
	ShardCount      uint16         `json:"shardCount"`
	Network         string         `json:"network"`
	CategoryHex     string         `json:"categoryHex"`
	RedeemScriptHex string         `json:"redeemScriptHex"`
	Shards          []ShardPointer `json:"shards"`
}

// InitShardsInput collects initShards's parameters, per spec.md §4.6.
type InitShardsInput struct {
	ShardCount      uint16
	ShardValueSats  uint64
	FundingTxidHex  string // display-order hex of the funding prevout's txid
	FundingVout     uint32
	FundingValue    uint64
	FundingScript   []byte // the funding P2PKH's locking script (scriptCode for signing)
	OwnerBaseH160   [20]byte
	OwnerBasePub33  [33]byte
	RedeemScript    []byte
	FeeFloor        uint64
	FeeSafetyMargin uint64
	CategoryMode    CategoryMode
}

// InitShardsResult is initShards's output.
type InitShardsResult struct {
	Tx    *txscript.Tx
	State PoolState
}

// InitShards emits the genesis transaction for a new shard pool: one
// covenant-locked, CashTokens-carrying output per shard plus a change
// output to the owner's base address, per spec.md §4.6.
func InitShards(in InitShardsInput, sign func(sighash []byte) ([]byte, error)) (*InitShardsResult, error) {
	if in.ShardCount < 2 || in.ShardCount >= 1<<16-1 {
		return nil, walleterr.NewValidationError("shardCount", "must be in [2, 65535)")
	}

	category, err := DeriveCategory32FromFundingTxidHex(in.FundingTxidHex, in.CategoryMode)
	if err != nil {
		return nil, err
	}

	poolID := primitives.Hash160(in.OwnerBasePub33[:])

	fee := ApplyFloor(0, in.FeeFloor, in.FeeSafetyMargin).TotalFee
	totalShardValue := uint64(in.ShardCount) * in.ShardValueSats
	if in.FundingValue < totalShardValue+fee {
		return nil, walleterr.NewPolicyViolation("init-shards-underfunded",
			fmt.Sprintf("funding value %d insufficient for %d shards at %d sats plus fee %d", in.FundingValue, in.ShardCount, in.ShardValueSats, fee))
	}
	changeValue := in.FundingValue - totalShardValue - fee

	outputs := make([]txscript.TxOut, 0, in.ShardCount+1)
	shards := make([]ShardPointer, 0, in.ShardCount)
	redeemHash := primitives.Hash160(in.RedeemScript)

	for i := uint16(0); i < in.ShardCount; i++ {
		commitBuf := make([]byte, 0, 20+32+2+2)
		commitBuf = append(commitBuf, poolID[:]...)
		commitBuf = append(commitBuf, category[:]...)
		commitBuf = append(commitBuf, primitives.BEUint16(i)...)
		commitBuf = append(commitBuf, primitives.BEUint16(in.ShardCount)...)
		commitment := primitives.DoubleSHA256(commitBuf)

		token := txscript.Token{
			Category:   category,
			HasNFT:     true,
			Capability: txscript.CapabilityMutable,
			Commitment: commitment[:],
		}
		spk, err := txscript.AddTokenToScript(token, txscript.P2SH(redeemHash))
		if err != nil {
			return nil, fmt.Errorf("shard: encode shard %d token prefix: %w", i, err)
		}

		outputs = append(outputs, txscript.TxOut{Value: in.ShardValueSats, ScriptPubKey: spk})
		shards = append(shards, ShardPointer{
			Index:         i,
			ValueSats:     in.ShardValueSats,
			CommitmentHex: hex.EncodeToString(commitment[:]),
		})
	}

	outputs = append(outputs, txscript.TxOut{Value: changeValue, ScriptPubKey: txscript.P2PKH(in.OwnerBaseH160)})

	fundingTxidLE, err := displayHexToLE(in.FundingTxidHex)
	if err != nil {
		return nil, err
	}

	tx := &txscript.Tx{
		Version: 2,
		Inputs: []txscript.TxIn{
			{PrevTxidLE: fundingTxidLE, PrevVout: in.FundingVout, Sequence: 0xffffffff},
		},
		Outputs:  outputs,
		Locktime: 0,
	}

	if err := signP2PKHInput(tx, 0, in.FundingScript, in.FundingValue, sign); err != nil {
		return nil, err
	}

	for i := range shards {
		shards[i].TxidHex = tx.TxidHex()
		shards[i].Vout = uint32(i)
	}

	state := PoolState{
		PoolIDHex:       hex.EncodeToString(poolID[:]),
		PoolVersion:     "1.1",
		ShardCount:      in.ShardCount,
		CategoryHex:     hex.EncodeToString(category[:]),
		RedeemScriptHex: hex.EncodeToString(in.RedeemScript),
		Shards:          shards,
	}

	return &InitShardsResult{Tx: tx, State: state}, nil
}

// ImportDepositToShardInput collects importDepositToShard's
// parameters, per spec.md §4.6.
type ImportDepositToShardInput struct {
	ShardIndex       *uint16 // nil to compute from noteHash
	ShardCount       uint16
	Category         [32]byte
	StateIn          [32]byte
	ShardTxidHex     string
	ShardVout        uint32
	ShardValue       uint64
	ShardScript      []byte // the shard's own locking script (for signing, unused under v1.1)
	DepositTxidHex   string
	DepositTxidLE    [32]byte
	DepositVout      uint32
	DepositValue     uint64
	DepositScript    []byte
	DepositPriv      [32]byte
	DepositPub33     [33]byte
	RedeemScript     []byte
	WitnessPrevout   *txscript.TxIn
	Fee              uint64
	CategoryMode     CategoryMode
}

// ImportDepositToShardResult is importDepositToShard's output.
type ImportDepositToShardResult struct {
	Tx         *txscript.Tx
	ShardIndex uint16
	NewPointer ShardPointer
}

// ImportDepositToShard folds a deposit's value and a note event into
// a target shard's covenant commitment, per spec.md §4.6.
func ImportDepositToShard(in ImportDepositToShardInput) (*ImportDepositToShardResult, error) {
	shardIndex := uint16(0)
	if in.ShardIndex != nil {
		shardIndex = *in.ShardIndex
	} else {
		selectionHash := ShardSelectionNoteHash(in.DepositTxidLE, in.DepositVout)
		shardIndex = ShardIndexFromNoteHash(selectionHash, in.ShardCount)
	}

	outValue := in.ShardValue + in.DepositValue - in.Fee
	redeemHash := primitives.Hash160(in.RedeemScript)

	depositTxidBE, err := displayHexToBE(in.DepositTxidHex)
	if err != nil {
		return nil, err
	}
	noteHash := ImportNoteHash(depositTxidBE, in.DepositVout)
	stateOut := ComputeFold(Version1_1, in.StateIn, in.Category, noteHash, nil, in.CategoryMode, 0x01)

	token := txscript.Token{
		Category:   in.Category,
		HasNFT:     true,
		Capability: txscript.CapabilityMutable,
		Commitment: stateOut[:],
	}
	spk, err := txscript.AddTokenToScript(token, txscript.P2SH(redeemHash))
	if err != nil {
		return nil, fmt.Errorf("shard: encode import commitment: %w", err)
	}

	dustFloor := ShardDust(len(spk))
	if outValue < dustFloor {
		return nil, walleterr.NewPolicyViolation("shard-output-below-dust",
			fmt.Sprintf("resulting shard value %d below dust floor %d", outValue, dustFloor))
	}

	shardTxidLE, err := displayHexToLE(in.ShardTxidHex)
	if err != nil {
		return nil, err
	}
	depositTxidLE, err := displayHexToLE(in.DepositTxidHex)
	if err != nil {
		return nil, err
	}

	inputs := []txscript.TxIn{
		{PrevTxidLE: shardTxidLE, PrevVout: in.ShardVout, Sequence: 0xffffffff},
		{PrevTxidLE: depositTxidLE, PrevVout: in.DepositVout, Sequence: 0xffffffff},
	}
	if in.WitnessPrevout != nil {
		inputs = append(inputs, *in.WitnessPrevout)
	}

	tx := &txscript.Tx{
		Version:  2,
		Inputs:   inputs,
		Outputs:  []txscript.TxOut{{Value: outValue, ScriptPubKey: spk}},
		Locktime: 0,
	}

	// Input[0] (the shard) is unsigned under the v1.1 covenant ABI.
	covenantAuth := txscript.CovenantV11Authorizer{NoteHash: noteHash, ProofBlob: stateOut}
	unlockBlob, err := covenantAuth.Authorize(nil)
	if err != nil {
		return nil, err
	}
	tx.Inputs[0].ScriptSig = unlockBlob

	if err := signP2PKHInput(tx, 1, in.DepositScript, in.DepositValue, func(sighash []byte) ([]byte, error) {
		auth := txscript.P2PKHAuthorizer{Priv: in.DepositPriv, Pub33: in.DepositPub33}
		return auth.Authorize(sighash)
	}); err != nil {
		return nil, err
	}

	return &ImportDepositToShardResult{
		Tx:         tx,
		ShardIndex: shardIndex,
		NewPointer: ShardPointer{
			Index:         shardIndex,
			TxidHex:       tx.TxidHex(),
			Vout:          0,
			ValueSats:     outValue,
			CommitmentHex: hex.EncodeToString(stateOut[:]),
		},
	}, nil
}

// WithdrawFromShardInput collects withdrawFromShard's parameters, per
// spec.md §4.6.
type WithdrawFromShardInput struct {
	Category        [32]byte
	StateIn         [32]byte // must be read from the on-chain shard prevout, not the store
	ShardTxidHex    string
	ShardVout       uint32
	ShardValue      uint64
	ReceiverHash160 [20]byte
	AmountSats      uint64
	FeeTxidHex      string
	FeeVout         uint32
	FeeValue        uint64
	FeeScript       []byte
	FeePriv         [32]byte
	FeePub33        [33]byte
	Fee             uint64
	ChangeHash160   [20]byte
	RedeemScript    []byte
	CategoryMode    CategoryMode
}

// WithdrawFromShardResult is withdrawFromShard's output.
type WithdrawFromShardResult struct {
	Tx         *txscript.Tx
	NewPointer ShardPointer
}

// WithdrawFromShard pays a receiver out of a shard while advancing
// the covenant's hash-fold state, per spec.md §4.6. "Close-if-dust" is
// recognized but always rejected pending covenant support.
func WithdrawFromShard(in WithdrawFromShardInput) (*WithdrawFromShardResult, error) {
	if in.AmountSats == 0 || in.AmountSats > in.ShardValue {
		return nil, walleterr.NewValidationError("amount", "must be positive and not exceed shard value")
	}

	remainder := in.ShardValue - in.AmountSats
	redeemHash := primitives.Hash160(in.RedeemScript)

	noteHash := WithdrawNoteHash(in.StateIn, in.ReceiverHash160, in.AmountSats)
	proofBlob := WithdrawProofBlob(noteHash)
	stateOut := ComputeFold(Version1_1, in.StateIn, in.Category, noteHash, nil, in.CategoryMode, 0x02)

	token := txscript.Token{
		Category:   in.Category,
		HasNFT:     true,
		Capability: txscript.CapabilityMutable,
		Commitment: stateOut[:],
	}
	contSpk, err := txscript.AddTokenToScript(token, txscript.P2SH(redeemHash))
	if err != nil {
		return nil, fmt.Errorf("shard: encode withdraw continuation: %w", err)
	}

	shardDustFloor := ShardDust(len(contSpk))
	if remainder < shardDustFloor {
		return nil, walleterr.NewPolicyViolation("shard-remainder-below-dust",
			fmt.Sprintf("remainder %d below shard-dust floor %d (close-if-dust is rejected)", remainder, shardDustFloor))
	}

	payoutScript := txscript.P2PKH(in.ReceiverHash160)
	payoutDustFloor := Dust(len(payoutScript))
	outputs := []txscript.TxOut{
		{Value: remainder, ScriptPubKey: contSpk},
	}
	if in.AmountSats >= payoutDustFloor {
		outputs = append(outputs, txscript.TxOut{Value: in.AmountSats, ScriptPubKey: payoutScript})
	}

	feeChangeScript := txscript.P2PKH(in.ChangeHash160)
	feeChangeValue := in.FeeValue - in.Fee
	if in.AmountSats < payoutDustFloor {
		feeChangeValue += in.AmountSats // below-dust payout value absorbed into fee change, per spec.md §8
	}
	feeChangeDustFloor := Dust(len(feeChangeScript))
	if feeChangeValue >= feeChangeDustFloor {
		outputs = append(outputs, txscript.TxOut{Value: feeChangeValue, ScriptPubKey: feeChangeScript})
	}

	shardTxidLE, err := displayHexToLE(in.ShardTxidHex)
	if err != nil {
		return nil, err
	}
	feeTxidLE, err := displayHexToLE(in.FeeTxidHex)
	if err != nil {
		return nil, err
	}

	tx := &txscript.Tx{
		Version: 2,
		Inputs: []txscript.TxIn{
			{PrevTxidLE: shardTxidLE, PrevVout: in.ShardVout, Sequence: 0xffffffff},
			{PrevTxidLE: feeTxidLE, PrevVout: in.FeeVout, Sequence: 0xffffffff},
		},
		Outputs:  outputs,
		Locktime: 0,
	}

	covenantAuth := txscript.CovenantV11Authorizer{NoteHash: noteHash, ProofBlob: proofBlob}
	unlockBlob, err := covenantAuth.Authorize(nil)
	if err != nil {
		return nil, err
	}
	tx.Inputs[0].ScriptSig = unlockBlob

	if err := signP2PKHInput(tx, 1, in.FeeScript, in.FeeValue, func(sighash []byte) ([]byte, error) {
		auth := txscript.P2PKHAuthorizer{Priv: in.FeePriv, Pub33: in.FeePub33}
		return auth.Authorize(sighash)
	}); err != nil {
		return nil, err
	}

	return &WithdrawFromShardResult{
		Tx: tx,
		NewPointer: ShardPointer{
			TxidHex:       tx.TxidHex(),
			Vout:          0,
			ValueSats:     remainder,
			CommitmentHex: hex.EncodeToString(stateOut[:]),
		},
	}, nil
}

// signP2PKHInput signs the given input index with the BCH
// CashTokens-aware preimage and stores the resulting scriptSig.
func signP2PKHInput(tx *txscript.Tx, inputIndex int, scriptCode []byte, value uint64, sign func(sighash []byte) ([]byte, error)) error {
	preimage := txscript.BuildPreimage(txscript.PreimageInputs{
		Version:    tx.Version,
		Inputs:     tx.Inputs,
		Outputs:    tx.Outputs,
		InputIndex: inputIndex,
		Prevout:    txscript.PrevoutInfo{ScriptCode: scriptCode, Value: value},
		Locktime:   tx.Locktime,
	})
	sighash := primitives.DoubleSHA256(preimage)

	scriptSig, err := sign(sighash[:])
	if err != nil {
		return fmt.Errorf("shard: sign input %d: %w", inputIndex, err)
	}
	tx.Inputs[inputIndex].ScriptSig = scriptSig
	return nil
}

// displayHexToLE decodes a display-order (big-endian) txid hex string
// into its on-wire (little-endian) byte order.
func displayHexToLE(txidHex string) ([32]byte, error) {
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

// displayHexToBE decodes a display-order txid hex string into bytes
// in that same (big-endian) order, without the LE flip.
func displayHexToBE(txidHex string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(txidHex)
	if err != nil {
		return out, walleterr.NewValidationError("txid", "not valid hex: "+err.Error())
	}
	if len(raw) != 32 {
		return out, walleterr.NewValidationError("txid", fmt.Sprintf("expected 32 bytes, got %d", len(raw)))
	}
	copy(out[:], raw)
	return out, nil
}
