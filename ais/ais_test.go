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

package ais

import (
	"bytes"
	"crypto"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func le(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

func TestEmit(t *testing.T) {
	for _, test := range []struct {
		name       string
		cmd        Command
		wantImage  []byte
		wantShadow []byte
	}{
		{
			name:       "section load pads to word",
			cmd:        &LoadSection{Addr: 0x1000, Data: []byte{1, 2, 3, 4, 5}},
			wantImage:  append(le(0x58535901, 0x1000, 8), 1, 2, 3, 4, 5, 0, 0, 0),
			wantShadow: append(le(0x58535901, 0x1000, 8), 1, 2, 3, 4, 5, 0, 0, 0),
		}, {
			name:       "encrypted section signs plaintext",
			cmd:        &LoadEncryptedSection{Addr: 0x2000, Plaintext: []byte{1, 1, 1, 1}, Ciphertext: []byte{9, 9, 9, 9}},
			wantImage:  append(le(0x58535921, 0x2000, 4), 9, 9, 9, 9),
			wantShadow: append(le(0x58535921, 0x2000, 4), 1, 1, 1, 1),
		}, {
			name:       "set",
			cmd:        &SetMemory{Type: SetInt, Addr: 0x01c14120, Data: 0x83e70b13, Sleep: 7},
			wantImage:  le(0x58535907, 2, 0x01c14120, 0x83e70b13, 7),
			wantShadow: le(0x58535907, 2, 0x01c14120, 0x83e70b13, 7),
		}, {
			name:      "fill is not signed",
			cmd:       &FillSection{Addr: 0x3000, Size: 0x100, Type: 2, Pattern: 0xdeadbeef},
			wantImage: le(0x5853590a, 0x3000, 0x100, 2, 0xdeadbeef),
		}, {
			name:      "crc toggles are not signed",
			cmd:       &EnableCRCCheck{},
			wantImage: le(0x58535903),
		}, {
			name:      "request crc",
			cmd:       &CRCRequest{CRC: 0x12345678, Seek: -12},
			wantImage: le(0x58535902, 0x12345678, 0xfffffff4),
		}, {
			name:       "function exec",
			cmd:        &ExecFunction{Index: 3, Args: []uint32{0xa, 0xb}},
			wantImage:  le(0x5853590d, 0x00020003, 0xa, 0xb),
			wantShadow: le(0x5853590d, 0x00020003, 0xa, 0xb),
		}, {
			name:       "delegate key",
			cmd:        &InstallDelegateKey{Plaintext: []byte{1, 2, 3, 4}, Ciphertext: []byte{5, 6, 7, 8}},
			wantImage:  append(le(0x58535924), 5, 6, 7, 8),
			wantShadow: append(le(0x58535924), 1, 2, 3, 4),
		}, {
			name:       "exit mode",
			cmd:        &SetExitMode{Mode: ExitSecureNoSK},
			wantImage:  le(0x58535923, 2),
			wantShadow: le(0x58535923, 2),
		}, {
			name:       "read wait",
			cmd:        &WaitRead{Addr: 0x10, Mask: 0xff, Data: 0x1},
			wantImage:  le(0x58535914, 0x10, 0xff, 0x1),
			wantShadow: le(0x58535914, 0x10, 0xff, 0x1),
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			s := NewStream(binary.LittleEndian, true)
			if err := s.Emit(test.cmd); err != nil {
				t.Fatalf("Emit: %v", err)
			}
			if diff := cmp.Diff(test.wantImage, s.Bytes()); diff != "" {
				t.Errorf("image diff: %s", diff)
			}
			if diff := cmp.Diff(test.wantShadow, s.Shadow(), cmp.Comparer(bytes.Equal)); diff != "" {
				t.Errorf("shadow diff: %s", diff)
			}
		})
	}
}

func TestEmitBigEndian(t *testing.T) {
	s := NewStream(binary.BigEndian, true)
	s.Preamble()
	if err := s.Emit(&JumpAndClose{Addr: 0x11223344}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	want := []byte{0x41, 0x50, 0x49, 0x54, 0x58, 0x53, 0x59, 0x06, 0x11, 0x22, 0x33, 0x44}
	if !bytes.Equal(s.Bytes(), want) {
		t.Fatalf("got %x, want %x", s.Bytes(), want)
	}
	// The preamble is not signed.
	if !bytes.Equal(s.Shadow(), want[4:]) {
		t.Fatalf("shadow %x, want %x", s.Shadow(), want[4:])
	}
}

func TestMirrorDisabled(t *testing.T) {
	s := NewStream(binary.LittleEndian, false)
	if err := s.Emit(&JumpTo{Addr: 1}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	s.WriteWord(1, true)
	if len(s.Shadow()) != 0 {
		t.Fatalf("shadow written while mirroring is disabled: %x", s.Shadow())
	}
}

func TestResetShadow(t *testing.T) {
	s := NewStream(binary.LittleEndian, true)
	s.WriteWord(0x1234, true)
	s.WriteSplit([]byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})
	if got, want := s.Shadow(), le(0x1234, 0x08070605); !bytes.Equal(got, want) {
		t.Fatalf("shadow %x, want %x", got, want)
	}
	s.ResetShadow()
	if len(s.Shadow()) != 0 {
		t.Fatal("shadow not empty after reset")
	}
	if s.Len() != 8 {
		t.Fatalf("image length %d, want 8", s.Len())
	}
}

func TestDecode(t *testing.T) {
	const sigSize = 128
	l := Layout{Order: binary.LittleEndian, Secure: SecureCustom, SignatureSize: sigSize}
	sig := bytes.Repeat([]byte{0x5a}, sigSize)

	s := NewStream(l.Order, true)
	s.Preamble()
	cmds := []Command{
		&LoadSecureKey{Key: bytes.Repeat([]byte{1}, 8+sigSize)},
		&SetExitMode{Mode: ExitNonSecure},
		&LoadSection{Addr: 0x1000, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		&LoadEncryptedSection{Addr: 0x2000, Ciphertext: bytes.Repeat([]byte{3}, 20)},
		&SetMemory{Type: SetInt, Addr: 4, Data: 5, Sleep: 6},
		&FillSection{Addr: 0x3000, Size: 4, Type: 2, Pattern: 7},
		&EnableCRCCheck{},
		&CRCRequest{CRC: 1, Seek: -12},
		&DisableCRCCheck{},
		&InstallDelegateKey{Ciphertext: bytes.Repeat([]byte{2}, 48+sigSize)},
		&RemoveDelegateKey{},
		&ExecFunction{Index: 1, Args: []uint32{2, 3, 4}},
		&EnableFastBoot{},
		&WaitRead{Addr: 1, Mask: 2, Data: 3},
		&EnableSeqRead{},
		&RegisterFinalFunction{Addr: 0x4000},
		&JumpTo{Addr: 0x5000},
		&JumpAndClose{Addr: 0x6000},
	}
	var want []Command
	for _, c := range cmds {
		if err := s.Emit(c); err != nil {
			t.Fatalf("Emit(%v): %v", c.Opcode(), err)
		}
		want = append(want, c)
		if signatureFollows(c.Opcode()) {
			s.Write(sig, false)
			want = append(want, nil)
		}
	}

	entries, err := Decode(s.Bytes(), l)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if want[i] == nil {
			if !bytes.Equal(e.Signature, sig) {
				t.Errorf("entry %d: signature %x", i, e.Signature)
			}
			continue
		}
		if e.Command == nil || e.Command.Opcode() != want[i].Opcode() {
			t.Fatalf("entry %d: got %v, want %v", i, e, want[i].Opcode())
		}
		if got, w := e.Command.Payload(l.Order), want[i].Payload(l.Order); !bytes.Equal(got, w) {
			t.Errorf("entry %d (%v): payload %x, want %x", i, e.Command.Opcode(), got, w)
		}
	}

	listing := Print(entries, l)
	for _, w := range []string{"SetDelegateKey", "Signatures .............: 6", "addr=0x00006000"} {
		if !strings.Contains(listing, w) {
			t.Errorf("listing lacks %q:\n%s", w, listing)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	l := Layout{Order: binary.LittleEndian}
	for _, test := range []struct {
		name  string
		image []byte
	}{
		{name: "empty"},
		{name: "bad magic", image: le(0x12345678)},
		{name: "unknown opcode", image: le(0x41504954, 0x58535999)},
		{name: "truncated section", image: le(0x41504954, 0x58535901, 0x1000, 16, 1)},
		{name: "trailing bytes", image: le(0x41504954, 0x58535906, 0, 0)},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Decode(test.image, l)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("got %v, want DecodeError", err)
			}
		})
	}
}

func TestParseEnums(t *testing.T) {
	if v, err := ParseSecureType("generic"); err != nil || v != SecureGeneric {
		t.Errorf("ParseSecureType(generic) = %v, %v", v, err)
	}
	if v, err := ParseExitType("SecureNoSK"); err != nil || v != ExitSecureNoSK {
		t.Errorf("ParseExitType(SecureNoSK) = %v, %v", v, err)
	}
	if v, err := ParseSetType("4"); err != nil || v != SetBits {
		t.Errorf("ParseSetType(4) = %v, %v", v, err)
	}
	if v, err := ParseBootMode("mmc_sd"); err != nil || v != BootMMCSD {
		t.Errorf("ParseBootMode(mmc_sd) = %v, %v", v, err)
	}
	if v, err := ParseHashAlgorithm("SHA384"); err != nil || v.Hash() != crypto.SHA384 {
		t.Errorf("ParseHashAlgorithm(SHA384) = %v, %v", v, err)
	}
	for _, bad := range []string{"", "SHA3", "9"} {
		if _, err := ParseHashAlgorithm(bad); err == nil {
			t.Errorf("ParseHashAlgorithm(%q) succeeded", bad)
		}
	}
	if got := Opcode(0x58535924).String(); got != "SetDelegateKey" {
		t.Errorf("String() = %q", got)
	}
}

func TestWords(t *testing.T) {
	for _, test := range []struct {
		name      string
		v         any
		want      []byte
		wantPanic bool
	}{
		{
			name: "word",
			v:    uint32(0x01020304),
			want: le(0x01020304),
		}, {
			name: "struct",
			v:    &FillSection{Addr: 0x80000000, Size: 0x10, Pattern: 0xdeadbeef},
			want: le(0x80000000, 0x10, 0, 0xdeadbeef),
		}, {
			name:      "platform sized int",
			v:         []int{1},
			wantPanic: true,
		}, {
			name:      "string",
			v:         "AIS",
			wantPanic: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			defer func() {
				if r := recover(); (r != nil) != test.wantPanic {
					t.Errorf("words(%T): recovered %v, want panic %v", test.v, r, test.wantPanic)
				}
			}()
			got := words(binary.LittleEndian, test.v)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("words diff (-want +got):\n%s", diff)
			}
		})
	}
}
