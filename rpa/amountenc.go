// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// amountPlaintextLen is the width of the little-endian satoshi value
// the legacy helper encrypts.
const amountPlaintextLen = 8

// ErrAmountCiphertextTooShort is returned when a blob handed to
// DecryptAmount is shorter than an IV plus the 8-byte amount ciphertext.
var ErrAmountCiphertextTooShort = errors.New("rpa: amount ciphertext too short")

// EncryptAmount is the legacy amount-encryption helper: AES-128-CTR
// under amountKey, with a fresh random IV prepended to the ciphertext.
// It is the one place in the wallet, besides mnemonic generation, that
// spec.md §5 permits to consume non-deterministic randomness — callers
// must never place it on a path that needs reproducible output.
func EncryptAmount(amountKey [16]byte, amountSats uint64) ([]byte, error) {
	block, err := aes.NewCipher(amountKey[:])
	if err != nil {
		return nil, fmt.Errorf("rpa: amount cipher init: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("rpa: amount IV generation: %w", err)
	}

	plaintext := make([]byte, amountPlaintextLen)
	binary.LittleEndian.PutUint64(plaintext, amountSats)

	ciphertext := make([]byte, amountPlaintextLen)
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptAmount reverses EncryptAmount. Deterministic given the blob:
// the only randomness was the IV, which travels with the ciphertext.
func DecryptAmount(amountKey [16]byte, blob []byte) (uint64, error) {
	if len(blob) < aes.BlockSize+amountPlaintextLen {
		return 0, ErrAmountCiphertextTooShort
	}

	block, err := aes.NewCipher(amountKey[:])
	if err != nil {
		return 0, fmt.Errorf("rpa: amount cipher init: %w", err)
	}

	iv := blob[:aes.BlockSize]
	ciphertext := blob[aes.BlockSize : aes.BlockSize+amountPlaintextLen]

	plaintext := make([]byte, amountPlaintextLen)
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	return binary.LittleEndian.Uint64(plaintext), nil
}
