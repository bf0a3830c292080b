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

// Package rsakey loads customer RSA signing keys and derives the public key
// structures the boot ROM uses to verify them.
package rsakey

import (
	"crypto"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// VerifyStructHeaderSize is the size of the fixed fields preceding the
// modulus in a public key verification struct.
const VerifyStructHeaderSize = 8

// MPKSize is the length of the folded public key hash.
const MPKSize = 16

// Load reads a private key from a PEM file. PKCS#1, PKCS#8 and OpenSSH
// encodings are accepted; passphrase is only used for encrypted keys.
func Load(path string, passphrase []byte) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	k, err := Parse(b, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return k, nil
}

// Parse decodes a PEM encoded RSA private key.
func Parse(b []byte, passphrase []byte) (*rsa.PrivateKey, error) {
	raw, err := ssh.ParseRawPrivateKey(b)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		if len(passphrase) == 0 {
			return nil, errors.New("key is encrypted and no passphrase was given")
		}
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(b, passphrase)
	}
	if err != nil {
		return nil, err
	}

	switch k := raw.(type) {
	case *rsa.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", raw)
	}
}

// Bits returns the modulus size of k.
func Bits(k *rsa.PublicKey) int {
	return k.N.BitLen()
}

// VerifyStruct serialises the public key as expected by the boot ROM:
//
//	exponent   uint32
//	pad        uint16
//	modLength  uint16 (bytes)
//	modulus    [modLength]byte, least significant byte first
//
// All fields are little-endian.
func VerifyStruct(k *rsa.PublicKey) []byte {
	size := k.Size()
	buf := make([]byte, VerifyStructHeaderSize+size)

	binary.LittleEndian.PutUint32(buf[0:], uint32(k.E))
	binary.LittleEndian.PutUint16(buf[4:], 0)
	binary.LittleEndian.PutUint16(buf[6:], uint16(size))

	mod := k.N.FillBytes(make([]byte, size))
	for i := range mod {
		buf[VerifyStructHeaderSize+i] = mod[size-1-i]
	}

	return buf
}

// MPK returns the 128-bit fingerprint of a verification struct: the first
// 16 bytes of its digest XORed with the next 16. Digest bytes past 32 do
// not contribute.
func MPK(verifyStruct []byte, h crypto.Hash) ([]byte, error) {
	if !h.Available() {
		return nil, fmt.Errorf("hash %v not available", h)
	}
	d := h.New()
	d.Write(verifyStruct)
	sum := d.Sum(nil)

	mpk := make([]byte, MPKSize)
	copy(mpk, sum)
	for i, b := range sum[MPKSize:min(2*MPKSize, len(sum))] {
		mpk[i] ^= b
	}
	return mpk, nil
}
