// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/bastiancarmy/bch-stealth-pool/addresses"
	"github.com/bastiancarmy/bch-stealth-pool/chainrpc"
	"github.com/bastiancarmy/bch-stealth-pool/funding"
	"github.com/bastiancarmy/bch-stealth-pool/primitives"
	"github.com/bastiancarmy/bch-stealth-pool/rpa"
	"github.com/bastiancarmy/bch-stealth-pool/secp"
	"github.com/bastiancarmy/bch-stealth-pool/store"
	"github.com/bastiancarmy/bch-stealth-pool/txscript"
)

// fakeOracle is a hand-mutated chainrpc.Oracle double: tests poke its
// maps directly between wallet calls to simulate confirmation, the
// same pattern the scan package's fakeOracle uses.
type fakeOracle struct {
	rawTx      map[string]string
	unspent    map[string][]chainrpc.UnspentEntry
	tipHeight  int64
	feeRate    float64
	broadcasts []string
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		rawTx:     map[string]string{},
		unspent:   map[string][]chainrpc.UnspentEntry{},
		tipHeight: 5000,
		feeRate:   1.0,
	}
}

func (f *fakeOracle) HeadersSubscribe(ctx context.Context) (chainrpc.HeaderTip, error) {
	return chainrpc.HeaderTip{Height: f.tipHeight}, nil
}
func (f *fakeOracle) HeadersGetTip(ctx context.Context) (chainrpc.HeaderTip, error) {
	return chainrpc.HeaderTip{Height: f.tipHeight}, nil
}
func (f *fakeOracle) ScripthashGetHistory(ctx context.Context, scripthashHex string) ([]chainrpc.HistoryEntry, error) {
	return nil, nil
}
func (f *fakeOracle) ScripthashListUnspent(ctx context.Context, scripthashHex string) ([]chainrpc.UnspentEntry, error) {
	return f.unspent[scripthashHex], nil
}
func (f *fakeOracle) TransactionGet(ctx context.Context, req chainrpc.TransactionGetRequest) (chainrpc.TransactionGetResponse, error) {
	raw, ok := f.rawTx[req.TxidHex]
	if !ok {
		return chainrpc.TransactionGetResponse{}, simpleError("tx not found: " + req.TxidHex)
	}
	return chainrpc.TransactionGetResponse{HexRaw: raw}, nil
}
func (f *fakeOracle) TransactionBroadcast(ctx context.Context, rawHex string) (chainrpc.BroadcastResponse, error) {
	f.broadcasts = append(f.broadcasts, rawHex)
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return chainrpc.BroadcastResponse{}, err
	}
	tx, err := txscript.Deserialize(raw)
	if err != nil {
		return chainrpc.BroadcastResponse{}, err
	}
	return chainrpc.BroadcastResponse{TxidHex: tx.TxidHex()}, nil
}
func (f *fakeOracle) RpaGetHistory(ctx context.Context, prefixHex string, startHeight, endHeightExclusive int64) ([]chainrpc.HistoryEntry, error) {
	return nil, nil
}
func (f *fakeOracle) RpaGetMempool(ctx context.Context, prefixHex string) ([]chainrpc.HistoryEntry, error) {
	return nil, nil
}
func (f *fakeOracle) EstimateFee(ctx context.Context) (chainrpc.FeeEstimate, error) {
	return chainrpc.FeeEstimate{SatsPerByte: f.feeRate}, nil
}

// registerTx stores a transaction's raw hex under its own txid so
// later TransactionGet calls can find it.
func (f *fakeOracle) registerTx(tx *txscript.Tx) string {
	txid := tx.TxidHex()
	f.rawTx[txid] = hex.EncodeToString(tx.Serialize())
	return txid
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func randPrivKeypair(t *testing.T) (priv [32]byte, pub [33]byte) {
	pk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	copy(priv[:], pk.Serialize())
	pub, err = secp.GetPublicKey(priv, true)
	require.NoError(t, err)
	return priv, pub
}

func newTestWallet(t *testing.T, oracle chainrpc.Oracle) (*Wallet, [32]byte, [33]byte, [20]byte) {
	basePriv, _ := randPrivKeypair(t)
	scanPriv, _ := randPrivKeypair(t)

	keys := rpa.WalletKeyMaterial{BasePriv: basePriv, ScanPriv: scanPriv}
	redeemScript := []byte{0x51} // OP_1, placeholder covenant redeem script

	w, err := New(oracle, keys, redeemScript, "bchtest", Config{
		FundingPreference: funding.DefaultPreferenceOrder,
	})
	require.NoError(t, err)

	return w, w.Keys.BasePriv, w.BasePub33, w.BaseHash160
}

func TestWalletNewEnforcesSpendKeyInvariant(t *testing.T) {
	oracle := newFakeOracle()
	basePriv, _ := randPrivKeypair(t)
	scanPriv, _ := randPrivKeypair(t)

	w, err := New(oracle, rpa.WalletKeyMaterial{
		BasePriv:  basePriv,
		ScanPriv:  scanPriv,
		SpendPriv: [32]byte{0xff}, // deliberately wrong, must be overridden
	}, []byte{0x51}, "bchtest", Config{})
	require.NoError(t, err)

	wantSpendPriv, err := rpa.DeriveSpendPriv(scanPriv)
	require.NoError(t, err)
	require.Equal(t, wantSpendPriv, w.Keys.SpendPriv)

	wantSpendPub, err := rpa.DeriveSpendPub(w.ScanPub33)
	require.NoError(t, err)
	require.Equal(t, wantSpendPub, w.SpendPub33)
}

func TestWalletSendDryRunToBaseDestination(t *testing.T) {
	oracle := newFakeOracle()
	w, _, _, baseH160 := newTestWallet(t, oracle)

	seedTx := &txscript.Tx{
		Version: 2,
		Inputs:  []txscript.TxIn{{PrevTxidLE: [32]byte{0x01}, ScriptSig: []byte{0x00}}},
		Outputs: []txscript.TxOut{{Value: 100000, ScriptPubKey: txscript.P2PKH(baseH160)}},
	}
	seedTxid := oracle.registerTx(seedTx)
	baseScripthash := funding.ComputeScripthash(baseH160)
	oracle.unspent[baseScripthash] = []chainrpc.UnspentEntry{
		{TxidHex: seedTxid, Vout: 0, ValueSats: 100000, Height: 100},
	}

	_, destPub := randPrivKeypair(t)
	destH160 := primitives.Hash160(destPub[:])
	destAddr, err := addresses.EncodeCashAddr(destH160, addresses.P2PKH, "bchtest")
	require.NoError(t, err)

	result, err := w.Send(context.Background(), &store.Envelope{}, destAddr, 20000, SendOptions{DryRun: true})
	require.NoError(t, err)
	require.False(t, result.Broadcast)
	require.Len(t, result.Tx.Outputs, 2) // payment + base change
	require.Equal(t, uint64(20000), result.Tx.Outputs[0].Value)
	require.Equal(t, txscript.P2PKH(destH160), result.Tx.Outputs[0].ScriptPubKey)
	require.Empty(t, oracle.broadcasts, "dry run must not broadcast")
}

func TestWalletPoolLifecycleInitDepositImportWithdraw(t *testing.T) {
	oracle := newFakeOracle()
	w, _, _, baseH160 := newTestWallet(t, oracle)
	baseScripthash := funding.ComputeScripthash(baseH160)

	seedTx := &txscript.Tx{
		Version: 2,
		Inputs:  []txscript.TxIn{{PrevTxidLE: [32]byte{0x02}, ScriptSig: []byte{0x00}}},
		Outputs: []txscript.TxOut{{Value: 200000, ScriptPubKey: txscript.P2PKH(baseH160)}},
	}
	seedTxid := oracle.registerTx(seedTx)
	oracle.unspent[baseScripthash] = []chainrpc.UnspentEntry{
		{TxidHex: seedTxid, Vout: 0, ValueSats: 200000, Height: 100},
	}

	env := &store.Envelope{}

	// --- InitPool ---
	initResult, err := w.InitPool(context.Background(), env, InitOptions{ShardCount: 4, ShardValueSats: 10000})
	require.NoError(t, err)
	require.Len(t, initResult.Tx.Outputs, 5) // 4 shards + base change
	require.Len(t, env.Data.Pool.State.Shards, 4)
	require.NotEmpty(t, env.Data.Pool.State.CategoryHex)
	require.NotEmpty(t, env.Data.Pool.State.RedeemScriptHex)

	initTxid := oracle.registerTx(initResult.Tx)
	require.Equal(t, initResult.TxidHex, initTxid)

	changeVout := uint32(len(initResult.Tx.Outputs) - 1)
	changeValue := initResult.Tx.Outputs[changeVout].Value
	oracle.unspent[baseScripthash] = []chainrpc.UnspentEntry{
		{TxidHex: initTxid, Vout: changeVout, ValueSats: changeValue, Height: 101},
	}

	// --- Deposit (RPA receiver output, transparent change so the
	// next step's funding selection stays simple) ---
	depositResult, err := w.Deposit(context.Background(), env, 30000, DepositOptions{
		Mode:       DepositModeRpa,
		ChangeMode: ChangeModeTransparent,
	})
	require.NoError(t, err)
	require.Len(t, depositResult.Tx.Outputs, 2)
	require.Equal(t, store.Sats(30000), depositResult.Record.ValueSats)
	require.NotEmpty(t, env.Data.Pool.State.Deposits)

	depositTxid := oracle.registerTx(depositResult.Tx)
	depositScripthash := funding.ComputeScripthash(mustHash160FromScript(t, depositResult.Tx.Outputs[0].ScriptPubKey))
	oracle.unspent[depositScripthash] = []chainrpc.UnspentEntry{
		{TxidHex: depositTxid, Vout: 0, ValueSats: 30000, Height: 102},
	}
	baseChangeValue := depositResult.Tx.Outputs[1].Value
	oracle.unspent[baseScripthash] = []chainrpc.UnspentEntry{
		{TxidHex: depositTxid, Vout: 1, ValueSats: baseChangeValue, Height: 102},
	}

	// --- Import ---
	importResult, err := w.Import(context.Background(), env, ImportOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, importResult.TxidHex)

	updatedDeposit := env.Data.Pool.State.Deposits[0]
	require.Equal(t, importResult.TxidHex, updatedDeposit.ImportTxidHex)

	importTxid := oracle.registerTx(importResult.Tx)
	require.Equal(t, importResult.TxidHex, importTxid)

	// --- Withdraw ---
	_, destPub := randPrivKeypair(t)
	destH160 := primitives.Hash160(destPub[:])
	destAddr, err := addresses.EncodeCashAddr(destH160, addresses.P2PKH, "bchtest")
	require.NoError(t, err)

	withdrawResult, err := w.Withdraw(context.Background(), env, destAddr, importResult.ShardIndex, 5000)
	require.NoError(t, err)
	require.NotEmpty(t, withdrawResult.TxidHex)
	require.Len(t, env.Data.Pool.State.Withdrawals, 1)
	require.Equal(t, store.Sats(5000), env.Data.Pool.State.Withdrawals[0].AmountSats)

	for i, ptr := range env.Data.Pool.State.Shards {
		if ptr.Index == importResult.ShardIndex {
			require.Equal(t, withdrawResult.Pointer.CommitmentHex, env.Data.Pool.State.Shards[i].CommitmentHex)
		}
	}
}

// mustHash160FromScript strips a P2PKH script down to its carried
// hash160, for re-deriving the scripthash the test oracle indexes
// deposit outputs under.
func mustHash160FromScript(t *testing.T, script []byte) [20]byte {
	require.True(t, txscript.IsP2PKH(script), "expected a P2PKH script")
	var out [20]byte
	// P2PKH locking script: OP_DUP OP_HASH160 <0x14> <20 bytes> OP_EQUALVERIFY OP_CHECKSIG
	require.Len(t, script, 25)
	copy(out[:], script[3:23])
	return out
}
