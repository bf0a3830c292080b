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

package aescbc

import (
	"bytes"
	"crypto/aes"
	"encoding/hex"
	"errors"
	"math/rand"
	"testing"
)

var (
	testKey = mustHex("000102030405060708090a0b0c0d0e0f")
	testIV  = mustHex("f0e0d0c0b0a090807060504030201000")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestCTSRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := BlockSize; n <= 8*BlockSize+1; n++ {
		pt := make([]byte, n)
		rng.Read(pt)

		ct, err := EncryptCTS(testKey, testIV, pt)
		if err != nil {
			t.Fatalf("EncryptCTS(%d): %v", n, err)
		}
		if len(ct) != n {
			t.Fatalf("EncryptCTS(%d) returned %d bytes", n, len(ct))
		}
		if bytes.Equal(ct, pt) {
			t.Fatalf("EncryptCTS(%d) returned the plaintext", n)
		}
		got, err := DecryptCTS(testKey, testIV, ct)
		if err != nil {
			t.Fatalf("DecryptCTS(%d): %v", n, err)
		}
		if !bytes.Equal(got, pt) {
			t.Fatalf("round trip of %d bytes: got %x, want %x", n, got, pt)
		}
	}
}

func TestCTSAlignedIsCBC(t *testing.T) {
	pt := bytes.Repeat([]byte{0xa5}, 4*BlockSize)
	cts, err := EncryptCTS(testKey, testIV, pt)
	if err != nil {
		t.Fatalf("EncryptCTS: %v", err)
	}
	cbc, err := EncryptCBC(testKey, testIV, pt)
	if err != nil {
		t.Fatalf("EncryptCBC: %v", err)
	}
	if !bytes.Equal(cts, cbc) {
		t.Fatalf("aligned CTS differs from CBC:\n%x\n%x", cts, cbc)
	}
}

// Unaligned input is zero padded CBC with the last two blocks swapped and
// the final one truncated.
func TestCTSLayout(t *testing.T) {
	pt := bytes.Repeat([]byte{0x3c}, 5*BlockSize+7)
	cts, err := EncryptCTS(testKey, testIV, pt)
	if err != nil {
		t.Fatalf("EncryptCTS: %v", err)
	}
	padded := make([]byte, 6*BlockSize)
	copy(padded, pt)
	cbc, err := EncryptCBC(testKey, testIV, padded)
	if err != nil {
		t.Fatalf("EncryptCBC: %v", err)
	}
	if !bytes.Equal(cts[:4*BlockSize], cbc[:4*BlockSize]) {
		t.Errorf("leading blocks differ")
	}
	if !bytes.Equal(cts[4*BlockSize:5*BlockSize], cbc[5*BlockSize:]) {
		t.Errorf("last block was not moved forward")
	}
	if !bytes.Equal(cts[5*BlockSize:], cbc[4*BlockSize:4*BlockSize+7]) {
		t.Errorf("stolen tail differs")
	}
}

func TestShortInput(t *testing.T) {
	for _, n := range []int{0, 1, BlockSize - 1} {
		if _, err := EncryptCTS(testKey, testIV, make([]byte, n)); !errors.Is(err, ErrShortInput) {
			t.Errorf("EncryptCTS(%d bytes): got %v, want ErrShortInput", n, err)
		}
		if _, err := DecryptCTS(testKey, testIV, make([]byte, n)); !errors.Is(err, ErrShortInput) {
			t.Errorf("DecryptCTS(%d bytes): got %v, want ErrShortInput", n, err)
		}
	}
}

func TestCBCRejectsUnaligned(t *testing.T) {
	if _, err := EncryptCBC(testKey, testIV, make([]byte, 17)); err == nil {
		t.Fatal("EncryptCBC accepted unaligned input")
	}
	if _, err := DecryptCBC(testKey, testIV, make([]byte, 17)); err == nil {
		t.Fatal("DecryptCBC accepted unaligned input")
	}
}

func TestDeriveIV(t *testing.T) {
	iv, err := DeriveIV(testKey)
	if err != nil {
		t.Fatalf("DeriveIV: %v", err)
	}
	block, _ := aes.NewCipher(testKey)
	want := make([]byte, BlockSize)
	block.Encrypt(want, testKey)
	if !bytes.Equal(iv, want) {
		t.Fatalf("got %x, want %x", iv, want)
	}
}

func TestParseKey(t *testing.T) {
	for _, test := range []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{
			name: "valid",
			in:   "000102030405060708090a0b0c0d0e0f",
			want: testKey,
		}, {
			name: "surrounding space",
			in:   "  000102030405060708090A0B0C0D0E0F ",
			want: testKey,
		}, {
			name:    "short",
			in:      "0001020304",
			wantErr: true,
		}, {
			name:    "not hex",
			in:      "zz0102030405060708090a0b0c0d0e0f",
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseKey(test.in)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}
			if !bytes.Equal(got, test.want) {
				t.Fatalf("got %x, want %x", got, test.want)
			}
		})
	}
}
