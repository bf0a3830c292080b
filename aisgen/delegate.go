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
	"crypto/rsa"
	"encoding/binary"

	"github.com/transparency-dev/secure-aisgen/ais"
	"github.com/transparency-dev/secure-aisgen/internal/aescbc"
	"github.com/transparency-dev/secure-aisgen/internal/rsakey"
	"k8s.io/klog/v2"
)

// Delegate key certificate layout, for an RSA modulus of n bytes:
//
//	[0:4]           magic
//	[4:8]           certificate length, 48+n
//	[8:16]          random
//	[16:32]         delegate AES key
//	[32:40+n]       delegate public key verification struct
//	[40+n:44+n]     flags
//	[44+n:48+n]     flags
const (
	certKeyOffset    = 16
	certVerifyOffset = 32
	certFixedSize    = 48
)

func certSize(modulus int) int {
	return certFixedSize + modulus
}

// buildCertificate assembles a plaintext delegate key certificate.
func (g *generator) buildCertificate(key []byte, pub *rsa.PublicKey) ([]byte, error) {
	n := pub.Size()
	cert := make([]byte, certSize(n))
	if err := g.random(cert); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(cert[0:], ais.DelegateCertMagic)
	binary.LittleEndian.PutUint32(cert[4:], uint32(len(cert)))
	copy(cert[certKeyOffset:], key)
	copy(cert[certVerifyOffset:], rsakey.VerifyStruct(pub))
	binary.LittleEndian.PutUint32(cert[40+n:], 0)
	binary.LittleEndian.PutUint32(cert[44+n:], 0)
	return cert, nil
}

// signatureOrder moves the first 16 bytes of a certificate after the rest,
// which is the order the boot ROM hashes and decrypts it in.
func signatureOrder(cert []byte) []byte {
	out := make([]byte, 0, len(cert))
	out = append(out, cert[certKeyOffset:]...)
	return append(out, cert[:certKeyOffset]...)
}

// setDelegateKey hands signing and encryption over to a new key pair with a
// certificate signed and encrypted under the active keys.
//
// Key problems are returned as KeyError and leave the active keys in place.
func (g *generator) setDelegateKey(keyPath, aesKey string) error {
	if g.secure != ais.SecureCustom {
		klog.Warningf("Delegate keys need %v security, ignoring SetDelegateKey", ais.SecureCustom)
		return nil
	}

	k, err := rsakey.Load(keyPath, g.opts.KeyPassphrase)
	if err != nil {
		return errorf(KeyError, "delegate RSA key: %v", err)
	}
	if got, want := rsakey.Bits(&k.PublicKey), rsakey.Bits(&g.rsa.PublicKey); got != want {
		return errorf(KeyError, "delegate RSA key is %d bits, active key is %d bits", got, want)
	}
	key, err := aescbc.ParseKey(aesKey)
	if err != nil {
		return errorf(KeyError, "delegate AES key: %v", err)
	}
	iv, err := aescbc.DeriveIV(key)
	if err != nil {
		return wrap(CryptoError, err)
	}

	cert, err := g.buildCertificate(key, &k.PublicKey)
	if err != nil {
		return err
	}
	enc, err := aescbc.EncryptCBC(g.key, g.iv, cert)
	if err != nil {
		return errorf(CryptoError, "encrypting delegate certificate: %v", err)
	}

	plain := signatureOrder(cert)
	encOrdered := signatureOrder(enc)
	g.dump("delegatedata.bin", cert)
	g.dump("delegatedata_sigorder.bin", plain)
	g.dump("encDelegateKeyData.bin", enc)
	g.dump("encDelegateKeyData_sigorder.bin", encOrdered)

	if err := g.emit(&ais.InstallDelegateKey{Plaintext: plain, Ciphertext: encOrdered}); err != nil {
		return err
	}
	if err := g.sign(); err != nil {
		return err
	}

	g.rsa, g.key, g.iv = k, key, iv
	klog.Infof("Delegate key from %q installed", keyPath)

	return nil
}

// removeDelegateKey restores the root keys.
func (g *generator) removeDelegateKey() error {
	if g.secure != ais.SecureCustom {
		klog.Warningf("Delegate keys need %v security, ignoring RemoveDelegateKey", ais.SecureCustom)
		return nil
	}
	if err := g.emit(&ais.RemoveDelegateKey{}); err != nil {
		return err
	}
	g.rsa, g.key, g.iv = g.rootRSA, g.rootKey, g.rootIV
	klog.Infof("Root key restored")
	return nil
}
