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

package aisgen

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/transparency-dev/secure-aisgen/ais"
	"github.com/transparency-dev/secure-aisgen/internal/aescbc"
	"k8s.io/klog/v2"
)

// minGenericSignatureSize is the encrypted digest block for SHA-1 and
// SHA-256 digests.
const minGenericSignatureSize = 32

// genericSignatureSize is the digest rounded up to whole AES blocks, never
// less than 32 bytes.
func genericSignatureSize(h ais.HashAlgorithm) int {
	n := (h.Hash().Size() + aescbc.BlockSize - 1) &^ (aescbc.BlockSize - 1)
	return max(n, minGenericSignatureSize)
}

// signatureBlock computes the signature over data with the active key.
//
// CUSTOM images carry an RSA PKCS #1 v1.5 signature in reverse byte order.
// GENERIC images carry the digest followed by random filler, encrypted in
// CBC mode with the active customer key.
func (g *generator) signatureBlock(data []byte) ([]byte, error) {
	h := g.hash.Hash()
	d := h.New()
	d.Write(data)
	digest := d.Sum(nil)

	switch g.secure {
	case ais.SecureCustom:
		sig, err := rsa.SignPKCS1v15(rand.Reader, g.rsa, h, digest)
		if err != nil {
			return nil, errorf(CryptoError, "RSA signature: %v", err)
		}
		reverse(sig)
		return sig, nil
	case ais.SecureGeneric:
		buf := make([]byte, genericSignatureSize(g.hash))
		if err := g.random(buf); err != nil {
			return nil, err
		}
		copy(buf, digest)
		sig, err := aescbc.EncryptCBC(g.key, g.iv, buf)
		if err != nil {
			return nil, errorf(CryptoError, "encrypting digest: %v", err)
		}
		return sig, nil
	}
	return nil, errorf(CryptoError, "cannot sign with security type %v", g.secure)
}

// sign appends a signature over the shadow stream to the image and
// empties the shadow stream.
func (g *generator) sign() error {
	data := g.stream.Shadow()
	g.dump(fmt.Sprintf("sig_data_%d.bin", g.signatures), data)

	sig, err := g.signatureBlock(data)
	if err != nil {
		return err
	}

	klog.V(1).Infof("Signature %d over %d bytes at image offset 0x%x", g.signatures, len(data), g.stream.Len())
	g.stream.Write(sig, false)
	g.stream.ResetShadow()
	g.signatures++

	return nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
