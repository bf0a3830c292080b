// Copyright 2024 The Secure AISGen authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package aescbc implements the AES-128 modes used by secure boot images:
// plain CBC for block aligned structures and CBC with ciphertext stealing
// for section payloads of arbitrary length.
package aescbc

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeySize is the only key length accepted by the boot ROM.
	KeySize   = 16
	BlockSize = aes.BlockSize
)

// ErrShortInput is returned when ciphertext stealing is asked to process
// less than one block.
var ErrShortInput = errors.New("input shorter than one AES block")

// ParseKey converts a 32 character hexadecimal string into a key.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2*KeySize {
		return nil, fmt.Errorf("AES key must be %d hex characters, got %d", 2*KeySize, len(s))
	}
	k, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid AES key: %w", err)
	}
	return k, nil
}

func newCipher(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid AES key length %d", len(key))
	}
	return aes.NewCipher(key)
}

// DeriveIV returns the IV paired with key: the key encrypted under itself
// with a single ECB block operation.
func DeriveIV(key []byte) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, BlockSize)
	block.Encrypt(iv, key)
	return iv, nil
}

// EncryptCBC encrypts block aligned plaintext without padding.
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	if len(plaintext)%BlockSize != 0 {
		return nil, fmt.Errorf("plaintext length %d is not a multiple of %d", len(plaintext), BlockSize)
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// DecryptCBC reverses EncryptCBC.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of %d", len(ciphertext), BlockSize)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// EncryptCTS encrypts plaintext in CBC mode with ciphertext stealing, so the
// ciphertext has exactly the plaintext length.
//
// Block aligned input is plain CBC. Otherwise the final partial block is
// zero padded and chained as usual, then the last two ciphertext blocks are
// swapped and the (now) last one truncated to the partial length.
func EncryptCTS(key, iv, plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	if n < BlockSize {
		return nil, ErrShortInput
	}
	r := n % BlockSize
	if r == 0 {
		return EncryptCBC(key, iv, plaintext)
	}

	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}

	full := n - r
	padded := make([]byte, full+BlockSize)
	copy(padded, plaintext)

	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	out := make([]byte, n)
	copy(out, ct[:full-BlockSize])
	copy(out[full-BlockSize:], ct[full:])
	copy(out[full:], ct[full-BlockSize:full-BlockSize+r])

	return out, nil
}

// DecryptCTS reverses EncryptCTS.
func DecryptCTS(key, iv, ciphertext []byte) ([]byte, error) {
	n := len(ciphertext)
	if n < BlockSize {
		return nil, ErrShortInput
	}
	r := n % BlockSize
	if r == 0 {
		return DecryptCBC(key, iv, ciphertext)
	}

	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}

	// ciphertext: C[0..m) | Cn (one block) | Cn-1* (r bytes)
	m := n - BlockSize - r
	prev := iv
	if m > 0 {
		prev = ciphertext[m-BlockSize : m]
	}

	d := make([]byte, BlockSize)
	block.Decrypt(d, ciphertext[m:m+BlockSize])

	cn1 := make([]byte, BlockSize)
	copy(cn1, ciphertext[m+BlockSize:])
	copy(cn1[r:], d[r:])

	out := make([]byte, n)
	if m > 0 {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out[:m], ciphertext[:m])
	}

	pn1 := make([]byte, BlockSize)
	block.Decrypt(pn1, cn1)
	for i := range pn1 {
		pn1[i] ^= prev[i]
	}
	copy(out[m:], pn1)

	for i := 0; i < r; i++ {
		out[m+BlockSize+i] = d[i] ^ cn1[i]
	}

	return out, nil
}
