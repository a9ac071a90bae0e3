package secp

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func testPriv(b byte) [32]byte {
	var priv [32]byte
	for i := range priv {
		priv[i] = b
	}
	priv[31] = b + 1 // avoid accidental all-zero / curve-order edge cases
	return priv
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv := testPriv(0x11)
	pub, err := GetPublicKey(priv, true)
	require.NoError(t, err)

	msg := sha256.Sum256([]byte("shard withdraw preimage"))
	sig, err := Sign(priv, msg[:])
	require.NoError(t, err)

	require.True(t, Verify(sig[:], msg[:], pub[:]))
}

func TestVerifyRejectsBitFlips(t *testing.T) {
	priv := testPriv(0x22)
	pub, err := GetPublicKey(priv, true)
	require.NoError(t, err)

	msg := sha256.Sum256([]byte("shard import preimage"))
	sig, err := Sign(priv, msg[:])
	require.NoError(t, err)
	require.True(t, Verify(sig[:], msg[:], pub[:]))

	flippedMsg := msg
	flippedMsg[0] ^= 0x01
	require.False(t, Verify(sig[:], flippedMsg[:], pub[:]))

	flippedSig := sig
	flippedSig[63] ^= 0x01
	require.False(t, Verify(flippedSig[:], msg[:], pub[:]))
}

func TestVerifyAccepts65ByteForm(t *testing.T) {
	priv := testPriv(0x33)
	pub, err := GetPublicKey(priv, true)
	require.NoError(t, err)

	msg := sha256.Sum256([]byte("shard init preimage"))
	sig, err := Sign(priv, msg[:])
	require.NoError(t, err)

	sig65 := append(sig[:], 0x41) // SIGHASH_ALL|FORKID
	require.True(t, Verify(sig65, msg[:], pub[:]))
}

func TestEnsureEvenYPrivIdempotent(t *testing.T) {
	priv := testPriv(0x44)
	once, err := EnsureEvenYPriv(priv)
	require.NoError(t, err)
	twice, err := EnsureEvenYPriv(once)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}
