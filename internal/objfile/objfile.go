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

// Package objfile extracts loadable sections, symbols and entry points from
// the input images of a boot image: ELF and TI COFF executables, and raw
// binaries placed at a caller supplied address.
package objfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Kind identifies the input format.
type Kind int

const (
	Binary Kind = iota
	ELF
	COFF
)

func (k Kind) String() string {
	switch k {
	case Binary:
		return "binary"
	case ELF:
		return "ELF"
	case COFF:
		return "COFF"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrUnknownFormat is returned by Open for files which are neither ELF
// nor COFF.
var ErrUnknownFormat = errors.New("unrecognised object file format")

// Section is a loadable section. Its contents are read on demand from the
// owning File, which must still be open.
type Section struct {
	Name     string
	LoadAddr uint32
	RunAddr  uint32
	// Size is the number of bytes to load, rounded up to a whole word.
	Size uint32

	r      io.ReaderAt
	off    int64
	length int64
}

// Data returns the section contents, zero padded to Size.
func (s *Section) Data() ([]byte, error) {
	buf := make([]byte, s.Size)
	if s.length == 0 {
		return buf, nil
	}
	if _, err := s.r.ReadAt(buf[:s.length], s.off); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading section %s: %w", s.Name, err)
	}
	return buf, nil
}

// File is an open input image.
type File struct {
	Path  string
	Kind  Kind
	Order binary.ByteOrder
	// Entry is the image entry point, valid when HasEntry is set.
	Entry    uint32
	HasEntry bool
	Sections []*Section

	symbols map[string]uint32
	closer  io.Closer
}

// Symbol resolves a global symbol to its address.
func (f *File) Symbol(name string) (uint32, bool) {
	a, ok := f.symbols[name]
	return a, ok
}

// Section returns the named section or nil.
func (f *File) Section(name string) *Section {
	for _, s := range f.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Close releases the underlying file.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}

// Open detects the format of an executable image and parses it.
func Open(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	magic := make([]byte, 4)
	if _, err := io.ReadFull(fd, magic); err != nil {
		fd.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}

	var f *File
	switch {
	case bytes.Equal(magic, []byte("\x7fELF")):
		f, err = newELF(path, fd)
	case isCOFF(magic):
		f, err = newCOFF(path, fd)
	default:
		err = ErrUnknownFormat
	}
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.closer = fd

	return f, nil
}

// OpenBinary wraps a raw binary as a single little-endian section loaded at
// addr and named after the file.
func OpenBinary(path string, addr uint32) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	if fi.Size() > 0xffffffff-3 {
		fd.Close()
		return nil, fmt.Errorf("%s: binary too large (%d bytes)", path, fi.Size())
	}

	return &File{
		Path:  path,
		Kind:  Binary,
		Order: binary.LittleEndian,
		Sections: []*Section{
			{
				Name:     filepath.Base(path),
				LoadAddr: addr,
				RunAddr:  addr,
				Size:     roundWord(uint32(fi.Size())),
				r:        fd,
				length:   fi.Size(),
			},
		},
		closer: fd,
	}, nil
}

func roundWord(n uint32) uint32 {
	return (n + 3) &^ 3
}
