// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package funding

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/bastiancarmy/bch-stealth-pool/chainrpc"
	"github.com/bastiancarmy/bch-stealth-pool/primitives"
	"github.com/bastiancarmy/bch-stealth-pool/rpa"
	"github.com/bastiancarmy/bch-stealth-pool/secp"
	"github.com/bastiancarmy/bch-stealth-pool/store"
	"github.com/bastiancarmy/bch-stealth-pool/txscript"
	"github.com/bastiancarmy/bch-stealth-pool/walleterr"
)

// fakeOracle is a hand-rolled chainrpc.Oracle test double keyed by
// scripthash and txid, with a fixed tip height.
type fakeOracle struct {
	tipHeight int64
	unspent   map[string][]chainrpc.UnspentEntry
	rawTxByID map[string]string // txidHex -> raw hex
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		tipHeight: 1000,
		unspent:   map[string][]chainrpc.UnspentEntry{},
		rawTxByID: map[string]string{},
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
	raw, ok := f.rawTxByID[req.TxidHex]
	if !ok {
		return chainrpc.TransactionGetResponse{}, errNotFound
	}
	return chainrpc.TransactionGetResponse{HexRaw: raw}, nil
}
func (f *fakeOracle) TransactionBroadcast(ctx context.Context, rawHex string) (chainrpc.BroadcastResponse, error) {
	return chainrpc.BroadcastResponse{}, nil
}
func (f *fakeOracle) RpaGetHistory(ctx context.Context, prefixHex string, startHeight, endHeightExclusive int64) ([]chainrpc.HistoryEntry, error) {
	return nil, nil
}
func (f *fakeOracle) RpaGetMempool(ctx context.Context, prefixHex string) ([]chainrpc.HistoryEntry, error) {
	return nil, nil
}
func (f *fakeOracle) EstimateFee(ctx context.Context) (chainrpc.FeeEstimate, error) {
	return chainrpc.FeeEstimate{SatsPerByte: 1.0}, nil
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

const errNotFound = simpleError("tx not found")

func txid32(b byte) string {
	var h [32]byte
	h[0] = b
	return hex.EncodeToString(h[:])
}

// registerBaseUTXO registers a confirmed P2PKH UTXO for h160 at height,
// returning the txid it was registered under.
func (f *fakeOracle) registerBaseUTXO(t *testing.T, h160 [20]byte, vout uint32, value uint64, height int64, txIDByte byte) string {
	txid := txid32(txIDByte)
	scripthash := ComputeScripthash(h160)
	f.unspent[scripthash] = append(f.unspent[scripthash], chainrpc.UnspentEntry{
		TxidHex: txid, Vout: vout, ValueSats: value, Height: height,
	})

	// Fill every output up to vout so the UTXO sits at its registered index.
	outputs := make([]txscript.TxOut, vout+1)
	for i := range outputs {
		outputs[i] = txscript.TxOut{Value: value, ScriptPubKey: txscript.P2PKH(h160)}
	}
	tx := &txscript.Tx{Version: 2, Outputs: outputs}
	f.rawTxByID[txid] = hex.EncodeToString(tx.Serialize())
	return txid
}

func randKeypair(t *testing.T) (priv [32]byte, pub33 [33]byte) {
	pk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	copy(priv[:], pk.Serialize())
	pub, err := secp.GetPublicKey(priv, true)
	require.NoError(t, err)
	return priv, pub
}

func TestSelectPrefersLargestBaseCandidate(t *testing.T) {
	oracle := newFakeOracle()
	priv, pub := randKeypair(t)
	h160 := primitives.Hash160(pub[:])
	oracle.registerBaseUTXO(t, h160, 0, 5000, 900, 0x01)
	oracle.registerBaseUTXO(t, h160, 1, 9000, 900, 0x02)

	_ = priv
	got, err := Select(context.Background(), oracle, SelectInput{
		BaseScripthashHex: ComputeScripthash(h160),
		MinSats:           1000,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(9000), got.ValueSats)
	require.Equal(t, PreferenceBase, got.Source)
}

func TestSelectRejectsBelowMinSats(t *testing.T) {
	oracle := newFakeOracle()
	_, pub := randKeypair(t)
	h160 := primitives.Hash160(pub[:])
	oracle.registerBaseUTXO(t, h160, 0, 500, 900, 0x03)

	_, err := Select(context.Background(), oracle, SelectInput{
		BaseScripthashHex: ComputeScripthash(h160),
		MinSats:           1000,
	})
	require.Error(t, err)
	var insufficient *walleterr.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Rejected, 1)
	require.Equal(t, "below-min-sats", insufficient.Rejected[0].Reason)
}

func TestSelectRejectsUnconfirmedUnlessIncluded(t *testing.T) {
	oracle := newFakeOracle()
	_, pub := randKeypair(t)
	h160 := primitives.Hash160(pub[:])
	oracle.registerBaseUTXO(t, h160, 0, 5000, 0, 0x04) // height 0 == mempool

	_, err := Select(context.Background(), oracle, SelectInput{
		BaseScripthashHex: ComputeScripthash(h160),
		MinSats:           1000,
	})
	require.Error(t, err)
	var insufficient *walleterr.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "unconfirmed", insufficient.Rejected[0].Reason)

	got, err := Select(context.Background(), oracle, SelectInput{
		BaseScripthashHex:  ComputeScripthash(h160),
		MinSats:            1000,
		IncludeUnconfirmed: true,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(5000), got.ValueSats)
}

func TestSelectRejectsRequireVout0(t *testing.T) {
	oracle := newFakeOracle()
	_, pub := randKeypair(t)
	h160 := primitives.Hash160(pub[:])
	oracle.registerBaseUTXO(t, h160, 1, 5000, 900, 0x05)

	_, err := Select(context.Background(), oracle, SelectInput{
		BaseScripthashHex: ComputeScripthash(h160),
		MinSats:           1000,
		RequireVout0:      true,
	})
	require.Error(t, err)
	var insufficient *walleterr.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "require-vout0", insufficient.Rejected[0].Reason)
}

func TestSelectExcludesTokenCarryingUnlessAllowed(t *testing.T) {
	oracle := newFakeOracle()
	_, pub := randKeypair(t)
	h160 := primitives.Hash160(pub[:])

	var category [32]byte
	category[0] = 0xaa
	locking := txscript.P2PKH(h160)
	tokenSpk, err := txscript.AddTokenToScript(txscript.Token{Category: category, HasAmount: true, Amount: 5000}, locking)
	require.NoError(t, err)

	txid := txid32(0x06)
	scripthash := ComputeScripthash(h160)
	oracle.unspent[scripthash] = []chainrpc.UnspentEntry{{TxidHex: txid, Vout: 0, ValueSats: 5000, Height: 900}}
	tx := &txscript.Tx{Version: 2, Outputs: []txscript.TxOut{{Value: 5000, ScriptPubKey: tokenSpk}}}
	oracle.rawTxByID[txid] = hex.EncodeToString(tx.Serialize())

	_, err = Select(context.Background(), oracle, SelectInput{
		BaseScripthashHex: scripthash,
		MinSats:           1000,
	})
	require.Error(t, err)
	var insufficient *walleterr.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "token-utxo-excluded", insufficient.Rejected[0].Reason)

	got, err := Select(context.Background(), oracle, SelectInput{
		BaseScripthashHex: scripthash,
		MinSats:           1000,
		AllowTokens:       true,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(5000), got.ValueSats)
}

func TestSelectStealthCandidateMatchingDerivation(t *testing.T) {
	oracle := newFakeOracle()

	scanPk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var scanPriv [32]byte
	copy(scanPriv[:], scanPk.Serialize())
	spendPriv, err := rpa.DeriveSpendPriv(scanPriv)
	require.NoError(t, err)

	scanPub, err := secp.GetPublicKey(scanPriv, true)
	require.NoError(t, err)
	spendPub, err := secp.GetPublicKey(spendPriv, true)
	require.NoError(t, err)

	senderPk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var senderPriv [32]byte
	copy(senderPriv[:], senderPk.Serialize())

	prevoutTxidHex := txid32(0x09)
	childPub, childHash160, err := rpa.DeriveSenderOneTimePub(senderPriv, scanPub, spendPub, prevoutTxidHex, 0, 3)
	require.NoError(t, err)

	senderPub, err := secp.GetPublicKey(senderPriv, true)
	require.NoError(t, err)

	depositTxid := txid32(0x0a)
	scripthash := ComputeScripthash(childHash160)
	oracle.unspent[scripthash] = []chainrpc.UnspentEntry{{TxidHex: depositTxid, Vout: 0, ValueSats: 7000, Height: 900}}
	tx := &txscript.Tx{Version: 2, Outputs: []txscript.TxOut{{Value: 7000, ScriptPubKey: txscript.P2PKH(childHash160)}}}
	oracle.rawTxByID[depositTxid] = hex.EncodeToString(tx.Serialize())

	rec := store.StealthUtxoRecord{
		TxidHex:    depositTxid,
		Vout:       0,
		ValueSats:  7000,
		Hash160Hex: hex.EncodeToString(childHash160[:]),
		RpaContext: store.RpaContextToJSON(rpa.RpaContext{
			SenderPub33:    senderPub,
			PrevoutTxidHex: prevoutTxidHex,
			PrevoutN:       0,
			Index:          3,
		}),
	}

	got, err := Select(context.Background(), oracle, SelectInput{
		Preferences:       []Preference{PreferenceStealth},
		MinSats:           1000,
		StealthCandidates: []store.StealthUtxoRecord{rec},
		ScanPriv:          scanPriv,
		SpendPriv:         spendPriv,
	})
	require.NoError(t, err)
	require.Equal(t, PreferenceStealth, got.Source)
	require.NotNil(t, got.OneTimePriv)

	gotPub, err := secp.GetPublicKey(*got.OneTimePriv, true)
	require.NoError(t, err)
	require.Equal(t, childPub, gotPub)
}

func TestSelectStealthCandidateRejectsBadHash160(t *testing.T) {
	oracle := newFakeOracle()

	scanPk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var scanPriv [32]byte
	copy(scanPriv[:], scanPk.Serialize())
	spendPriv, err := rpa.DeriveSpendPriv(scanPriv)
	require.NoError(t, err)

	senderPk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var senderPriv [32]byte
	copy(senderPriv[:], senderPk.Serialize())
	senderPub, err := secp.GetPublicKey(senderPriv, true)
	require.NoError(t, err)

	rec := store.StealthUtxoRecord{
		TxidHex:    txid32(0x0b),
		Vout:       0,
		ValueSats:  7000,
		Hash160Hex: hex.EncodeToString(make([]byte, 20)), // wrong hash160
		RpaContext: store.RpaContextToJSON(rpa.RpaContext{
			SenderPub33:    senderPub,
			PrevoutTxidHex: txid32(0x0c),
			PrevoutN:       0,
			Index:          1,
		}),
	}

	_, err = Select(context.Background(), oracle, SelectInput{
		Preferences:       []Preference{PreferenceStealth},
		MinSats:           1000,
		StealthCandidates: []store.StealthUtxoRecord{rec},
		ScanPriv:          scanPriv,
		SpendPriv:         spendPriv,
	})
	require.Error(t, err)
	var insufficient *walleterr.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "derivation-mismatch", insufficient.Rejected[0].Reason)
}

func TestSelectStealthCandidateAlreadySpentIsRejected(t *testing.T) {
	oracle := newFakeOracle()
	rec := store.StealthUtxoRecord{
		TxidHex:      txid32(0x0d),
		Vout:         0,
		ValueSats:    7000,
		SpentTxidHex: txid32(0x0e),
	}

	_, err := Select(context.Background(), oracle, SelectInput{
		Preferences:       []Preference{PreferenceStealth},
		MinSats:           1000,
		StealthCandidates: []store.StealthUtxoRecord{rec},
	})
	require.Error(t, err)
	var insufficient *walleterr.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "spent", insufficient.Rejected[0].Reason)
}
