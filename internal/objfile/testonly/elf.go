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

// Package testonly builds small executables for tests.
package testonly

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// Section describes an allocated PROGBITS section.
type Section struct {
	Name string
	Addr uint32
	Data []byte
}

// Symbol is a global symbol defined in the first section.
type Symbol struct {
	Name  string
	Value uint32
}

// Image describes a 32-bit ARM executable.
type Image struct {
	Order    binary.ByteOrder
	Entry    uint32
	Sections []Section
	Symbols  []Symbol
}

// WriteELF writes img to a temporary file and returns its path.
func WriteELF(t *testing.T, name string, img Image) string {
	t.Helper()

	order := img.Order
	if order == nil {
		order = binary.LittleEndian
	}

	var shstrtab, strtab strtabBuilder
	shstrtab.add("")
	strtab.add("")

	body := &bytes.Buffer{}
	off := func() uint32 { return uint32(binary.Size(elf.Header32{})) + uint32(body.Len()) }
	align := func() {
		for body.Len()%4 != 0 {
			body.WriteByte(0)
		}
	}

	shdrs := []elf.Section32{{}}
	for _, s := range img.Sections {
		align()
		shdrs = append(shdrs, elf.Section32{
			Name:      shstrtab.add(s.Name),
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:      s.Addr,
			Off:       off(),
			Size:      uint32(len(s.Data)),
			Addralign: 4,
		})
		body.Write(s.Data)
	}

	align()
	symOff := off()
	binary.Write(body, order, elf.Sym32{})
	for _, s := range img.Symbols {
		binary.Write(body, order, elf.Sym32{
			Name:  strtab.add(s.Name),
			Value: s.Value,
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: 1,
		})
	}
	symSize := off() - symOff

	strOff := off()
	body.Write(strtab.Bytes())

	symtabIdx := uint32(len(shdrs))
	shdrs = append(shdrs,
		elf.Section32{
			Name:      shstrtab.add(".symtab"),
			Type:      uint32(elf.SHT_SYMTAB),
			Off:       symOff,
			Size:      symSize,
			Link:      symtabIdx + 1,
			Info:      1,
			Addralign: 4,
			Entsize:   uint32(binary.Size(elf.Sym32{})),
		},
		elf.Section32{
			Name:      shstrtab.add(".strtab"),
			Type:      uint32(elf.SHT_STRTAB),
			Off:       strOff,
			Size:      uint32(strtab.Len()),
			Addralign: 1,
		},
	)
	shstrIdx := len(shdrs)
	nameOff := shstrtab.add(".shstrtab")
	shdrs = append(shdrs, elf.Section32{
		Name:      nameOff,
		Type:      uint32(elf.SHT_STRTAB),
		Off:       off(),
		Size:      uint32(shstrtab.Len()),
		Addralign: 1,
	})
	body.Write(shstrtab.Bytes())

	align()
	shoff := off()
	for _, sh := range shdrs {
		binary.Write(body, order, sh)
	}

	data := byte(elf.ELFDATA2LSB)
	if order == binary.BigEndian {
		data = byte(elf.ELFDATA2MSB)
	}
	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_ARM),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Shoff:     shoff,
		Ehsize:    uint16(binary.Size(elf.Header32{})),
		Phentsize: uint16(binary.Size(elf.Prog32{})),
		Shentsize: uint16(binary.Size(elf.Section32{})),
		Shnum:     uint16(len(shdrs)),
		Shstrndx:  uint16(shstrIdx),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = data
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	out := &bytes.Buffer{}
	binary.Write(out, order, hdr)
	out.Write(body.Bytes())

	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, out.Bytes(), 0o644); err != nil {
		t.Fatalf("Failed to write ELF: %v", err)
	}
	return p
}

// WriteBinary writes data to a temporary file and returns its path.
func WriteBinary(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("Failed to write binary: %v", err)
	}
	return p
}

type strtabBuilder struct {
	bytes.Buffer
}

func (b *strtabBuilder) add(s string) uint32 {
	off := uint32(b.Len())
	b.WriteString(s)
	b.WriteByte(0)
	return off
}
