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

// Package ais implements the Application Image Script boot image format:
// the command opcodes and enumerations understood by the boot ROM, command
// serialisation into paired image/signature streams, and decoding.
package ais

import (
	"crypto"
	"fmt"
	"strconv"
	"strings"

	// register the digests selectable by HashAlgorithm
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Opcode is the first word of every command.
type Opcode uint32

const (
	MagicNumber Opcode = 0x41504954

	SectionLoad    Opcode = 0x58535901
	RequestCRC     Opcode = 0x58535902
	EnableCRC      Opcode = 0x58535903
	DisableCRC     Opcode = 0x58535904
	Jump           Opcode = 0x58535905
	JumpClose      Opcode = 0x58535906
	Set            Opcode = 0x58535907
	StartOver      Opcode = 0x58535908
	CmpSectionLoad Opcode = 0x58535909
	SectionFill    Opcode = 0x5853590a
	Ping           Opcode = 0x5853590b
	Get            Opcode = 0x5853590c
	FunctionExec   Opcode = 0x5853590d
	FastBoot       Opcode = 0x58535913
	ReadWait       Opcode = 0x58535914
	FinalFxnReg    Opcode = 0x58535915

	SecureKeyLoad  Opcode = 0x58535920
	EncSectionLoad Opcode = 0x58535921
	SecSectionLoad Opcode = 0x58535922
	SetSecExitMode Opcode = 0x58535923
	SetDelegateKey Opcode = 0x58535924
	RemDelegateKey Opcode = 0x58535925

	SeqReadEnable Opcode = 0x58535963

	// Host start words used by the serial boot handshake.
	XmtStartWord Opcode = 0x58535441
	RcvStartWord Opcode = 0x52535454
)

var opcodeNames = map[Opcode]string{
	MagicNumber:    "Magic",
	SectionLoad:    "SectionLoad",
	RequestCRC:     "RequestCRC",
	EnableCRC:      "EnableCRC",
	DisableCRC:     "DisableCRC",
	Jump:           "Jump",
	JumpClose:      "JumpClose",
	Set:            "Set",
	StartOver:      "StartOver",
	CmpSectionLoad: "CmpSectionLoad",
	SectionFill:    "SectionFill",
	Ping:           "Ping",
	Get:            "Get",
	FunctionExec:   "FunctionExec",
	FastBoot:       "FastBoot",
	ReadWait:       "ReadWait",
	FinalFxnReg:    "FinalFxnReg",
	SecureKeyLoad:  "SecureKeyLoad",
	EncSectionLoad: "EncSectionLoad",
	SecSectionLoad: "SecSectionLoad",
	SetSecExitMode: "SetSecExitMode",
	SetDelegateKey: "SetDelegateKey",
	RemDelegateKey: "RemDelegateKey",
	SeqReadEnable:  "SeqReadEnable",
	XmtStartWord:   "XmtStartWord",
	RcvStartWord:   "RcvStartWord",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Opcode(0x%08x)", uint32(o))
}

// Magic values of the fixed structures embedded in secure images. These are
// always stored little-endian.
const (
	GenericKeyMagic      uint32 = 0xbe40c0de
	DelegateCertMagic    uint32 = 0x70adce87
	LoadModuleMagic      uint32 = 0x70adc0de
	LegacySignedMagic    uint32 = 0x5194c0de
	LegacyEncryptedMagic uint32 = 0x034cc0de
)

// parseEnum matches s against names case-insensitively, also accepting the
// numeric value.
func parseEnum(kind string, s string, names []string) (int, error) {
	s = strings.TrimSpace(s)
	for i, n := range names {
		if strings.EqualFold(s, n) {
			return i, nil
		}
	}
	if v, err := strconv.ParseUint(s, 0, 32); err == nil && int(v) < len(names) {
		return int(v), nil
	}
	return 0, fmt.Errorf("invalid %s %q", kind, s)
}

func enumName(names []string, v int) string {
	if v >= 0 && v < len(names) {
		return names[v]
	}
	return strconv.Itoa(v)
}

// SetType selects the access width of a Set command.
type SetType uint32

const (
	SetByte SetType = iota
	SetShort
	SetInt
	SetField
	SetBits
)

var setTypeNames = []string{"BYTE", "SHORT", "INT", "FIELD", "BITS"}

func (t SetType) String() string { return enumName(setTypeNames, int(t)) }

// ParseSetType accepts a type name or its numeric value.
func ParseSetType(s string) (SetType, error) {
	v, err := parseEnum("set type", s, setTypeNames)
	return SetType(v), err
}

// SecureType is the trust model of an image.
type SecureType int

const (
	SecureNone SecureType = iota
	SecureCustom
	SecureGeneric
)

var secureTypeNames = []string{"NONE", "CUSTOM", "GENERIC"}

func (t SecureType) String() string { return enumName(secureTypeNames, int(t)) }

func ParseSecureType(s string) (SecureType, error) {
	v, err := parseEnum("security type", s, secureTypeNames)
	return SecureType(v), err
}

// ExitType is the security state the boot loader leaves the device in.
type ExitType uint32

const (
	ExitNonSecure ExitType = iota
	ExitSecureWithSK
	ExitSecureNoSK
	ExitNone
)

var exitTypeNames = []string{"NONSECURE", "SECUREWITHSK", "SECURENOSK", "NONE"}

func (t ExitType) String() string { return enumName(exitTypeNames, int(t)) }

func ParseExitType(s string) (ExitType, error) {
	v, err := parseEnum("boot exit type", s, exitTypeNames)
	return ExitType(v), err
}

// HashAlgorithm is the digest selector recorded in generic key headers.
type HashAlgorithm uint32

const (
	SHA1 HashAlgorithm = iota
	SHA256
	SHA384
	SHA512
)

var hashNames = []string{"SHA1", "SHA256", "SHA384", "SHA512"}

func (h HashAlgorithm) String() string { return enumName(hashNames, int(h)) }

// Hash returns the matching crypto.Hash.
func (h HashAlgorithm) Hash() crypto.Hash {
	switch h {
	case SHA256:
		return crypto.SHA256
	case SHA384:
		return crypto.SHA384
	case SHA512:
		return crypto.SHA512
	}
	return crypto.SHA1
}

func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	v, err := parseEnum("hash algorithm", s, hashNames)
	return HashAlgorithm(v), err
}

// BootMode is the peripheral the ROM boots from.
type BootMode int

const (
	BootNone BootMode = iota
	BootSPIMaster
	BootI2CMaster
	BootEMIFA
	BootNAND
	BootEMAC
	BootUART
	BootPCI
	BootHPI
	BootUSB
	BootMMCSD
	BootVLYNQ
	BootRaw
	BootLegacy
)

var bootModeNames = []string{
	"NONE", "SPIMASTER", "I2CMASTER", "EMIFA", "NAND", "EMAC", "UART",
	"PCI", "HPI", "USB", "MMC_SD", "VLYNQ", "RAW", "LEGACY",
}

func (m BootMode) String() string { return enumName(bootModeNames, int(m)) }

func ParseBootMode(s string) (BootMode, error) {
	v, err := parseEnum("boot mode", s, bootModeNames)
	return BootMode(v), err
}
