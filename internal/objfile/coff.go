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

package objfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"k8s.io/klog/v2"
)

// TI COFF version 1 and 2 identifiers.
const (
	coffV1 = 0x00c1
	coffV2 = 0x00c2
)

// Section header flags, SPRAAO8
const (
	stypDSECT  = 0x0001
	stypNOLOAD = 0x0002
	stypCOPY   = 0x0010
	stypBSS    = 0x0080
)

const (
	coffFileHeaderSize = 22
	coffOptHeaderSize  = 28
	coffSymbolSize     = 18
)

type coffFileHeader struct {
	Version    uint16
	NumSects   uint16
	Timestamp  int32
	SymPtr     uint32
	NumSyms    uint32
	OptHdrSize uint16
	Flags      uint16
	TargetID   uint16
}

type coffOptHeader struct {
	Magic    uint16
	Version  uint16
	TextSize uint32
	DataSize uint32
	BSSSize  uint32
	Entry    uint32
	TextAddr uint32
	DataAddr uint32
}

type coffSectionHeader struct {
	Name     [8]byte
	PAddr    uint32
	VAddr    uint32
	Size     uint32
	RawPtr   uint32
	RelocPtr uint32
	LinePtr  uint32
	NumReloc uint32
	NumLines uint32
	Flags    uint32
	Reserved uint16
	MemPage  uint16
}

type coffSymbol struct {
	Name    [8]byte
	Value   uint32
	Section int16
	Type    uint16
	Class   uint8
	NumAux  uint8
}

func isCOFF(magic []byte) bool {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		switch order.Uint16(magic) {
		case coffV1, coffV2:
			return true
		}
	}
	return false
}

func newCOFF(path string, r io.ReaderAt) (*File, error) {
	magic := make([]byte, 2)
	if _, err := r.ReadAt(magic, 0); err != nil {
		return nil, err
	}
	var order binary.ByteOrder = binary.LittleEndian
	if v := binary.BigEndian.Uint16(magic); v == coffV1 || v == coffV2 {
		order = binary.BigEndian
	}

	var fh coffFileHeader
	if err := binary.Read(io.NewSectionReader(r, 0, coffFileHeaderSize), order, &fh); err != nil {
		return nil, fmt.Errorf("file header: %w", err)
	}

	f := &File{
		Path:    path,
		Kind:    COFF,
		Order:   order,
		symbols: make(map[string]uint32),
	}

	if fh.OptHdrSize >= coffOptHeaderSize {
		var oh coffOptHeader
		if err := binary.Read(io.NewSectionReader(r, coffFileHeaderSize, coffOptHeaderSize), order, &oh); err != nil {
			return nil, fmt.Errorf("optional header: %w", err)
		}
		f.Entry = oh.Entry
		f.HasEntry = true
	}

	strtab, err := coffStringTable(r, order, fh)
	if err != nil {
		return nil, err
	}

	shSize := int64(binary.Size(coffSectionHeader{}))
	base := int64(coffFileHeaderSize) + int64(fh.OptHdrSize)
	for i := 0; i < int(fh.NumSects); i++ {
		var sh coffSectionHeader
		if err := binary.Read(io.NewSectionReader(r, base+int64(i)*shSize, shSize), order, &sh); err != nil {
			return nil, fmt.Errorf("section header %d: %w", i, err)
		}
		if sh.Size == 0 || sh.RawPtr == 0 || sh.Flags&(stypDSECT|stypNOLOAD|stypCOPY|stypBSS) != 0 {
			continue
		}
		if sh.Size > 0xffffffff-3 {
			return nil, fmt.Errorf("section %d too large", i)
		}
		f.Sections = append(f.Sections, &Section{
			Name:     coffName(sh.Name, strtab, order),
			LoadAddr: sh.PAddr,
			RunAddr:  sh.VAddr,
			Size:     roundWord(sh.Size),
			r:        r,
			off:      int64(sh.RawPtr),
			length:   int64(sh.Size),
		})
	}

	for i := uint32(0); i < fh.NumSyms; i++ {
		var sym coffSymbol
		off := int64(fh.SymPtr) + int64(i)*coffSymbolSize
		if err := binary.Read(io.NewSectionReader(r, off, coffSymbolSize), order, &sym); err != nil {
			return nil, fmt.Errorf("symbol %d: %w", i, err)
		}
		if sym.Section > 0 {
			f.symbols[coffName(sym.Name, strtab, order)] = sym.Value
		}
		i += uint32(sym.NumAux)
	}

	klog.V(1).Infof("%s: COFF, %d loadable sections, entry 0x%08x", path, len(f.Sections), f.Entry)

	return f, nil
}

// coffStringTable returns the string table following the symbol table,
// including its leading length word so that name offsets index it directly.
func coffStringTable(r io.ReaderAt, order binary.ByteOrder, fh coffFileHeader) ([]byte, error) {
	if fh.NumSyms == 0 {
		return nil, nil
	}
	off := int64(fh.SymPtr) + int64(fh.NumSyms)*coffSymbolSize
	l := make([]byte, 4)
	if _, err := r.ReadAt(l, off); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("string table: %w", err)
	}
	size := order.Uint32(l)
	if size < 4 {
		return nil, nil
	}
	tab := make([]byte, size)
	if _, err := r.ReadAt(tab, off); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("string table: %w", err)
	}
	return tab, nil
}

func coffName(raw [8]byte, strtab []byte, order binary.ByteOrder) string {
	if order.Uint32(raw[:4]) == 0 {
		off := order.Uint32(raw[4:])
		if int(off) >= len(strtab) {
			return ""
		}
		s := strtab[off:]
		if n := bytes.IndexByte(s, 0); n >= 0 {
			s = s[:n]
		}
		return string(s)
	}
	if n := bytes.IndexByte(raw[:], 0); n >= 0 {
		return string(raw[:n])
	}
	return string(raw[:])
}
