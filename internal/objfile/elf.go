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
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"k8s.io/klog/v2"
)

func newELF(path string, r io.ReaderAt) (*File, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}

	if ef.Entry > 0xffffffff {
		return nil, fmt.Errorf("entry point 0x%x outside the 32-bit address space", ef.Entry)
	}

	f := &File{
		Path:     path,
		Kind:     ELF,
		Order:    ef.ByteOrder,
		Entry:    uint32(ef.Entry),
		HasEntry: true,
		symbols:  make(map[string]uint32),
	}

	for _, s := range ef.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Type == elf.SHT_NOBITS || s.Size == 0 {
			continue
		}
		if s.Addr+s.Size > 1<<32 || s.Size > 0xffffffff-3 {
			return nil, fmt.Errorf("section %s outside the 32-bit address space", s.Name)
		}
		f.Sections = append(f.Sections, &Section{
			Name:     s.Name,
			LoadAddr: loadAddr(ef, s),
			RunAddr:  uint32(s.Addr),
			Size:     roundWord(uint32(s.Size)),
			r:        r,
			off:      int64(s.Offset),
			length:   int64(s.Size),
		})
	}

	syms, err := ef.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	for _, s := range syms {
		if s.Name == "" || s.Section == elf.SHN_UNDEF {
			continue
		}
		f.symbols[s.Name] = uint32(s.Value)
	}

	klog.V(1).Infof("%s: ELF, %d loadable sections, entry 0x%08x", path, len(f.Sections), f.Entry)

	return f, nil
}

// loadAddr maps a section to its load address through the PT_LOAD segment
// containing it, falling back to its run address.
func loadAddr(ef *elf.File, s *elf.Section) uint32 {
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if s.Offset >= p.Off && s.Offset+s.Size <= p.Off+p.Filesz {
			return uint32(p.Paddr + (s.Offset - p.Off))
		}
	}
	return uint32(s.Addr)
}
