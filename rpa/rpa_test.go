package rpa

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/bastiancarmy/bch-stealth-pool/primitives"
	"github.com/bastiancarmy/bch-stealth-pool/secp"
)

func randPriv(t *rapid.T, label string) [32]byte {
	var priv [32]byte
	for {
		b := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, label)
		copy(priv[:], b)
		if k, err := secp.EnsureEvenYPriv(priv); err == nil {
			return k
		}
	}
}

func TestDeriveSpendPrivInvariantEnforced(t *testing.T) {
	scanPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var scanBytes [32]byte
	copy(scanBytes[:], scanPriv.Serialize())

	derived, err := DeriveSpendPriv(scanBytes)
	require.NoError(t, err)

	km := WalletKeyMaterial{ScanPriv: scanBytes, SpendPriv: [32]byte{0xff}}
	corrected, wasOverridden, err := EnforceSpendKeyInvariant(km)
	require.NoError(t, err)
	require.True(t, wasOverridden)
	require.Equal(t, derived, corrected.SpendPriv)

	km2 := WalletKeyMaterial{ScanPriv: scanBytes, SpendPriv: derived}
	_, wasOverridden2, err := EnforceSpendKeyInvariant(km2)
	require.NoError(t, err)
	require.False(t, wasOverridden2)
}

func TestSenderReceiverOneTimeKeyRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		senderPriv := randPriv(t, "senderPriv")
		scanPriv := randPriv(t, "scanPriv")

		spendPriv, err := DeriveSpendPriv(scanPriv)
		require.NoError(t, err)

		scanPub, err := secp.GetPublicKey(scanPriv, true)
		require.NoError(t, err)
		spendPub, err := secp.GetPublicKey(spendPriv, true)
		require.NoError(t, err)
		senderPub, err := secp.GetPublicKey(senderPriv, true)
		require.NoError(t, err)

		txidHex := rapid.StringOfN(rapid.RuneFrom([]rune("0123456789abcdef")), 64, 64, 64).Draw(t, "txid")
		vout := rapid.Uint32Range(0, 16).Draw(t, "vout")
		index := rapid.Uint32Range(0, 32).Draw(t, "index")

		childPub, childHash160, err := DeriveSenderOneTimePub(senderPriv, scanPub, spendPub, txidHex, vout, index)
		require.NoError(t, err)

		ctx := RpaContext{SenderPub33: senderPub, PrevoutTxidHex: txidHex, PrevoutN: vout, Index: index}
		oneTimePriv, err := DeriveReceiverOneTimePriv(scanPriv, spendPriv, senderPub, ctx)
		require.NoError(t, err)

		gotPub, err := secp.GetPublicKey(oneTimePriv, true)
		require.NoError(t, err)
		require.Equal(t, childPub, gotPub)

		require.Equal(t, primitives.Hash160(gotPub[:]), childHash160)
	})
}

func TestSharedSecretIsSymmetric(t *testing.T) {
	aliceK, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bobK, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var alicePriv, bobPriv [32]byte
	copy(alicePriv[:], aliceK.Serialize())
	copy(bobPriv[:], bobK.Serialize())

	var alicePub, bobPub [33]byte
	copy(alicePub[:], aliceK.PubKey().SerializeCompressed())
	copy(bobPub[:], bobK.PubKey().SerializeCompressed())

	aliceSide, err := SharedSecret(alicePriv, bobPub, "outpoint1")
	require.NoError(t, err)
	bobSide, err := SharedSecret(bobPriv, alicePub, "outpoint1")
	require.NoError(t, err)
	require.Equal(t, aliceSide, bobSide)
}

func TestDeriveSessionKeysDistinctOutputs(t *testing.T) {
	var shared [32]byte
	copy(shared[:], []byte("some shared secret material 123"))

	keys := DeriveSessionKeys(shared, "abcd", 0)
	require.NotEqual(t, keys.AmountKey[:], keys.MemoKey[:])
	require.NotEqual(t, keys.ZkSeed[:16], keys.AmountKey[:])
}

func TestGrindFallsBackToIndexZero(t *testing.T) {
	senderK, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	scanK, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var senderPriv, scanPriv [32]byte
	copy(senderPriv[:], senderK.Serialize())
	copy(scanPriv[:], scanK.Serialize())

	spendPriv, err := DeriveSpendPriv(scanPriv)
	require.NoError(t, err)

	scanPub, err := secp.GetPublicKey(scanPriv, true)
	require.NoError(t, err)
	spendPub, err := secp.GetPublicKey(spendPriv, true)
	require.NoError(t, err)

	// An unsatisfiable 4-byte prefix forces every candidate index to miss.
	impossible := []byte{0xde, 0xad, 0xbe, 0xef}
	result, err := Grind(senderPriv, scanPub, spendPub, "aa", 0, impossible, 4)
	require.NoError(t, err)
	require.False(t, result.Matched)
	require.Equal(t, uint32(0), result.Index)
}

func TestResolveGrindPrefixTruncatesAndStripsScriptPrefix(t *testing.T) {
	raw, err := ResolveGrindPrefix("76a914aabbccdd")
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0xbb}, raw)
}

func TestAmountEncryptionRoundTrip(t *testing.T) {
	var key [16]byte
	copy(key[:], []byte("0123456789abcdef"))

	blob, err := EncryptAmount(key, 123456789)
	require.NoError(t, err)

	got, err := DecryptAmount(key, blob)
	require.NoError(t, err)
	require.Equal(t, uint64(123456789), got)
}

func TestDecryptAmountRejectsShortBlob(t *testing.T) {
	var key [16]byte
	_, err := DecryptAmount(key, []byte{0x01, 0x02})
	require.Error(t, err)
}

// TestDeriveSpendPubMatchesPrivateDerivation checks the public-only
// spend-key tweak a sender computes from a decoded paycode agrees with
// the private derivation the receiver's own wallet uses: a sender only
// ever learns a scan public key, never a scan private key, so these
// two paths must land on the same point.
func TestDeriveSpendPubMatchesPrivateDerivation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scanPriv := randPriv(t, "scanPriv")

		spendPriv, err := DeriveSpendPriv(scanPriv)
		require.NoError(t, err)
		wantSpendPub, err := secp.GetPublicKey(spendPriv, true)
		require.NoError(t, err)

		scanPub, err := secp.GetPublicKey(scanPriv, true)
		require.NoError(t, err)
		gotSpendPub, err := DeriveSpendPub(scanPub)
		require.NoError(t, err)

		require.Equal(t, wantSpendPub, gotSpendPub)
	})
}
