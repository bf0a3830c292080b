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
	"encoding/binary"
	"fmt"
)

// Layout describes what a decoder cannot infer from the image itself.
type Layout struct {
	Order  binary.ByteOrder
	Secure SecureType
	// SignatureSize is the RSA modulus size in bytes for CUSTOM images and
	// the encrypted digest block size for GENERIC ones.
	SignatureSize int
}

func (l Layout) keySize() int {
	if l.Secure == SecureCustom {
		return 8 + l.SignatureSize
	}
	return 32
}

func (l Layout) certSize() int {
	return 48 + l.SignatureSize
}

// Entry is a decoded command or signature.
type Entry struct {
	Offset int
	// Command is nil for signature blocks.
	Command   Command
	Signature []byte
}

// DecodeError reports malformed input at Offset.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("offset 0x%x: %s", e.Offset, e.Msg)
}

type decoder struct {
	l   Layout
	buf []byte
	off int
}

func (d *decoder) fail(format string, a ...any) error {
	return &DecodeError{Offset: d.off, Msg: fmt.Sprintf(format, a...)}
}

func (d *decoder) bytes(n int) ([]byte, error) {
	if n < 0 || d.off+n > len(d.buf) {
		return nil, d.fail("truncated: need %d bytes, %d left", n, len(d.buf)-d.off)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) word() (uint32, error) {
	b, err := d.bytes(4)
	if err != nil {
		return 0, err
	}
	return d.l.Order.Uint32(b), nil
}

func (d *decoder) words(v any) error {
	b, err := d.bytes(binary.Size(v))
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(b), d.l.Order, v)
}

// Decode walks a generated image. The image must start with the magic
// number and end with a JumpClose command and, in secure images, its
// signature.
func Decode(image []byte, l Layout) ([]Entry, error) {
	d := &decoder{l: l, buf: image}

	magic, err := d.word()
	if err != nil {
		return nil, err
	}
	if Opcode(magic) != MagicNumber {
		return nil, &DecodeError{Msg: fmt.Sprintf("bad magic 0x%08x", magic)}
	}

	var entries []Entry
	for d.off < len(d.buf) {
		start := d.off
		c, err := d.command()
		if err != nil {
			return entries, err
		}
		entries = append(entries, Entry{Offset: start, Command: c})

		if l.Secure != SecureNone && signatureFollows(c.Opcode()) {
			start = d.off
			sig, err := d.bytes(l.SignatureSize)
			if err != nil {
				return entries, err
			}
			entries = append(entries, Entry{Offset: start, Signature: sig})
		}

		if c.Opcode() == JumpClose {
			break
		}
	}
	if d.off != len(d.buf) {
		return entries, d.fail("%d trailing bytes after JumpClose", len(d.buf)-d.off)
	}

	return entries, nil
}

func (d *decoder) command() (Command, error) {
	w, err := d.word()
	if err != nil {
		return nil, err
	}

	switch op := Opcode(w); op {
	case SectionLoad, EncSectionLoad:
		var hdr [2]uint32
		if err := d.words(&hdr); err != nil {
			return nil, err
		}
		data, err := d.bytes(int(hdr[1]))
		if err != nil {
			return nil, err
		}
		if op == EncSectionLoad {
			return &LoadEncryptedSection{Addr: hdr[0], Ciphertext: data}, nil
		}
		return &LoadSection{Addr: hdr[0], Data: data}, nil
	case Set:
		c := &SetMemory{}
		return c, d.words(c)
	case SectionFill:
		c := &FillSection{}
		return c, d.words(c)
	case Jump:
		c := &JumpTo{}
		return c, d.words(&c.Addr)
	case JumpClose:
		c := &JumpAndClose{}
		return c, d.words(&c.Addr)
	case EnableCRC:
		return &EnableCRCCheck{}, nil
	case DisableCRC:
		return &DisableCRCCheck{}, nil
	case RequestCRC:
		c := &CRCRequest{}
		return c, d.words(c)
	case SecureKeyLoad:
		k, err := d.bytes(d.l.keySize())
		return &LoadSecureKey{Key: k}, err
	case SetSecExitMode:
		c := &SetExitMode{}
		return c, d.words(&c.Mode)
	case SetDelegateKey:
		cert, err := d.bytes(d.l.certSize())
		return &InstallDelegateKey{Ciphertext: cert}, err
	case RemDelegateKey:
		return &RemoveDelegateKey{}, nil
	case FunctionExec:
		hdr, err := d.word()
		if err != nil {
			return nil, err
		}
		c := &ExecFunction{Index: uint16(hdr), Args: make([]uint32, hdr>>16)}
		return c, d.words(c.Args)
	case FastBoot:
		return &EnableFastBoot{}, nil
	case ReadWait:
		c := &WaitRead{}
		return c, d.words(c)
	case SeqReadEnable:
		return &EnableSeqRead{}, nil
	case FinalFxnReg:
		c := &RegisterFinalFunction{}
		return c, d.words(&c.Addr)
	default:
		d.off -= 4
		return nil, d.fail("unsupported opcode %v", op)
	}
}
