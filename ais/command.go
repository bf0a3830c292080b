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

// Command is a single AIS command.
type Command interface {
	// Opcode returns the leading command word.
	Opcode() Opcode
	// Signed reports whether the command belongs to the trust chain, in
	// which case its bytes are covered by the next signature.
	Signed() bool
	// Payload returns the bytes following the opcode in the image.
	Payload(order binary.ByteOrder) []byte
}

// SignedPayloader is implemented by commands whose signed form differs
// from the bytes written to the image, such as encrypted sections.
type SignedPayloader interface {
	SignedPayload(order binary.ByteOrder) []byte
}

// Signature blocks follow these commands in a secure image.
func signatureFollows(op Opcode) bool {
	switch op {
	case Set, Jump, JumpClose, ReadWait, FunctionExec, SetDelegateKey:
		return true
	}
	return false
}

// words serialises fixed size payload fields. It panics if v has no fixed
// size encoding.
func words(order binary.ByteOrder, v any) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, order, v); err != nil {
		panic(fmt.Sprintf("ais: encoding %T: %v", v, err))
	}
	return buf.Bytes()
}

func padWord(b []byte) []byte {
	if len(b)%4 == 0 {
		return b
	}
	p := make([]byte, (len(b)+3)&^3)
	copy(p, b)
	return p
}

// LoadSection copies Data to Addr. Data is zero padded to a whole word and
// the size field holds the padded length.
type LoadSection struct {
	Addr uint32
	Data []byte
}

func (c *LoadSection) Opcode() Opcode { return SectionLoad }
func (c *LoadSection) Signed() bool   { return true }

func (c *LoadSection) Payload(order binary.ByteOrder) []byte {
	d := padWord(c.Data)
	return append(words(order, [2]uint32{c.Addr, uint32(len(d))}), d...)
}

func (c *LoadSection) String() string {
	return fmt.Sprintf("addr=0x%08x size=0x%x", c.Addr, len(padWord(c.Data)))
}

// LoadEncryptedSection copies Ciphertext to Addr, decrypted by the ROM.
// Plaintext is what the signature covers.
type LoadEncryptedSection struct {
	Addr       uint32
	Plaintext  []byte
	Ciphertext []byte
}

func (c *LoadEncryptedSection) Opcode() Opcode { return EncSectionLoad }
func (c *LoadEncryptedSection) Signed() bool   { return true }

func (c *LoadEncryptedSection) Payload(order binary.ByteOrder) []byte {
	return append(words(order, [2]uint32{c.Addr, uint32(len(c.Ciphertext))}), c.Ciphertext...)
}

func (c *LoadEncryptedSection) SignedPayload(order binary.ByteOrder) []byte {
	return append(words(order, [2]uint32{c.Addr, uint32(len(c.Plaintext))}), c.Plaintext...)
}

func (c *LoadEncryptedSection) String() string {
	return fmt.Sprintf("addr=0x%08x size=0x%x", c.Addr, len(c.Ciphertext))
}

// SetMemory writes Data to Addr with the access width given by Type, then
// waits Sleep cycles.
type SetMemory struct {
	Type  SetType
	Addr  uint32
	Data  uint32
	Sleep uint32
}

func (c *SetMemory) Opcode() Opcode { return Set }
func (c *SetMemory) Signed() bool   { return true }
func (c *SetMemory) Payload(order binary.ByteOrder) []byte {
	return words(order, c)
}

func (c *SetMemory) String() string {
	return fmt.Sprintf("type=%v addr=0x%08x data=0x%08x sleep=%d", c.Type, c.Addr, c.Data, c.Sleep)
}

// FillSection fills Size bytes at Addr with Pattern.
type FillSection struct {
	Addr    uint32
	Size    uint32
	Type    uint32
	Pattern uint32
}

func (c *FillSection) Opcode() Opcode                        { return SectionFill }
func (c *FillSection) Signed() bool                          { return false }
func (c *FillSection) Payload(order binary.ByteOrder) []byte { return words(order, c) }

func (c *FillSection) String() string {
	return fmt.Sprintf("addr=0x%08x size=0x%x type=%d pattern=0x%08x", c.Addr, c.Size, c.Type, c.Pattern)
}

// JumpTo branches to Addr and keeps parsing afterwards.
type JumpTo struct {
	Addr uint32
}

func (c *JumpTo) Opcode() Opcode                        { return Jump }
func (c *JumpTo) Signed() bool                          { return true }
func (c *JumpTo) Payload(order binary.ByteOrder) []byte { return words(order, c.Addr) }
func (c *JumpTo) String() string                        { return fmt.Sprintf("addr=0x%08x", c.Addr) }

// JumpAndClose ends the image and branches to the entry point.
type JumpAndClose struct {
	Addr uint32
}

func (c *JumpAndClose) Opcode() Opcode                        { return JumpClose }
func (c *JumpAndClose) Signed() bool                          { return true }
func (c *JumpAndClose) Payload(order binary.ByteOrder) []byte { return words(order, c.Addr) }
func (c *JumpAndClose) String() string                        { return fmt.Sprintf("addr=0x%08x", c.Addr) }

// EnableCRCCheck turns on CRC accumulation over loaded sections.
type EnableCRCCheck struct{}

func (c *EnableCRCCheck) Opcode() Opcode                  { return EnableCRC }
func (c *EnableCRCCheck) Signed() bool                    { return false }
func (c *EnableCRCCheck) Payload(binary.ByteOrder) []byte { return nil }

// DisableCRCCheck turns CRC accumulation off.
type DisableCRCCheck struct{}

func (c *DisableCRCCheck) Opcode() Opcode                  { return DisableCRC }
func (c *DisableCRCCheck) Signed() bool                    { return false }
func (c *DisableCRCCheck) Payload(binary.ByteOrder) []byte { return nil }

// CRCRequest compares the accumulated CRC against CRC, seeking Seek bytes
// in the image on mismatch.
type CRCRequest struct {
	CRC  uint32
	Seek int32
}

func (c *CRCRequest) Opcode() Opcode                        { return RequestCRC }
func (c *CRCRequest) Signed() bool                          { return false }
func (c *CRCRequest) Payload(order binary.ByteOrder) []byte { return words(order, c) }
func (c *CRCRequest) String() string                        { return fmt.Sprintf("crc=0x%08x seek=%d", c.CRC, c.Seek) }

// LoadSecureKey installs the customer key data: a generic key header or a
// public key verification struct.
type LoadSecureKey struct {
	Key []byte
}

func (c *LoadSecureKey) Opcode() Opcode                  { return SecureKeyLoad }
func (c *LoadSecureKey) Signed() bool                    { return true }
func (c *LoadSecureKey) Payload(binary.ByteOrder) []byte { return c.Key }
func (c *LoadSecureKey) String() string                  { return fmt.Sprintf("size=%d", len(c.Key)) }

// SetExitMode selects the security state left behind by the boot loader.
type SetExitMode struct {
	Mode ExitType
}

func (c *SetExitMode) Opcode() Opcode                        { return SetSecExitMode }
func (c *SetExitMode) Signed() bool                          { return true }
func (c *SetExitMode) Payload(order binary.ByteOrder) []byte { return words(order, uint32(c.Mode)) }
func (c *SetExitMode) String() string                        { return fmt.Sprintf("mode=%v", c.Mode) }

// InstallDelegateKey carries a delegate key certificate. Both forms are in
// signature order; Ciphertext goes to the image and Plaintext is signed.
type InstallDelegateKey struct {
	Plaintext  []byte
	Ciphertext []byte
}

func (c *InstallDelegateKey) Opcode() Opcode                        { return SetDelegateKey }
func (c *InstallDelegateKey) Signed() bool                          { return true }
func (c *InstallDelegateKey) Payload(binary.ByteOrder) []byte       { return c.Ciphertext }
func (c *InstallDelegateKey) SignedPayload(binary.ByteOrder) []byte { return c.Plaintext }
func (c *InstallDelegateKey) String() string                        { return fmt.Sprintf("size=%d", len(c.Ciphertext)) }

// RemoveDelegateKey reverts to the root key.
type RemoveDelegateKey struct{}

func (c *RemoveDelegateKey) Opcode() Opcode                  { return RemDelegateKey }
func (c *RemoveDelegateKey) Signed() bool                    { return true }
func (c *RemoveDelegateKey) Payload(binary.ByteOrder) []byte { return nil }

// ExecFunction calls ROM function Index with Args.
type ExecFunction struct {
	Index uint16
	Args  []uint32
}

func (c *ExecFunction) Opcode() Opcode { return FunctionExec }
func (c *ExecFunction) Signed() bool   { return true }

func (c *ExecFunction) Payload(order binary.ByteOrder) []byte {
	w := append([]uint32{uint32(len(c.Args))<<16 | uint32(c.Index)}, c.Args...)
	return words(order, w)
}

func (c *ExecFunction) String() string {
	return fmt.Sprintf("index=%d args=%#x", c.Index, c.Args)
}

// EnableFastBoot switches the boot peripheral to its fast configuration.
type EnableFastBoot struct{}

func (c *EnableFastBoot) Opcode() Opcode                  { return FastBoot }
func (c *EnableFastBoot) Signed() bool                    { return false }
func (c *EnableFastBoot) Payload(binary.ByteOrder) []byte { return nil }

// WaitRead polls Addr until the bits in Mask equal Data.
type WaitRead struct {
	Addr uint32
	Mask uint32
	Data uint32
}

func (c *WaitRead) Opcode() Opcode                        { return ReadWait }
func (c *WaitRead) Signed() bool                          { return true }
func (c *WaitRead) Payload(order binary.ByteOrder) []byte { return words(order, c) }

func (c *WaitRead) String() string {
	return fmt.Sprintf("addr=0x%08x mask=0x%08x data=0x%08x", c.Addr, c.Mask, c.Data)
}

// EnableSeqRead enables sequential reads from the boot peripheral.
type EnableSeqRead struct{}

func (c *EnableSeqRead) Opcode() Opcode                  { return SeqReadEnable }
func (c *EnableSeqRead) Signed() bool                    { return false }
func (c *EnableSeqRead) Payload(binary.ByteOrder) []byte { return nil }

// RegisterFinalFunction registers a function the ROM calls before
// branching to the entry point.
type RegisterFinalFunction struct {
	Addr uint32
}

func (c *RegisterFinalFunction) Opcode() Opcode                        { return FinalFxnReg }
func (c *RegisterFinalFunction) Signed() bool                          { return true }
func (c *RegisterFinalFunction) Payload(order binary.ByteOrder) []byte { return words(order, c.Addr) }
func (c *RegisterFinalFunction) String() string                        { return fmt.Sprintf("addr=0x%08x", c.Addr) }
