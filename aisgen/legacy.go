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
	"github.com/transparency-dev/secure-aisgen/ais"
	"github.com/transparency-dev/secure-aisgen/internal/aescbc"
	"github.com/transparency-dev/secure-aisgen/internal/objfile"
	"github.com/transparency-dev/secure-aisgen/internal/rsakey"
	"k8s.io/klog/v2"
)

const sectionLegacyInput = "LegacyInputFile"

const (
	legacyHeaderSize = 16
	legacyBlockSize  = 1024
	legacyMaxSize    = 16 * 1024
	legacyEntryMask  = 0x00ffffff
)

// legacySecureDataSize is the size of the trailer holding the installed
// key data and the signature.
func (g *generator) legacySecureDataSize() uint32 {
	if g.secure == ais.SecureCustom {
		return uint32(2*g.rsa.Size() + rsakey.VerifyStructHeaderSize)
	}
	return uint32(genericKeyHeaderSize + genericSignatureSize(g.hash))
}

// buildLegacy writes a fixed layout image:
//
//	word 0   size and bus width
//	word 1   magic, signed or encrypted
//	word 2   entry point
//	word 3   secure data size
//	payload  padded so the image is a whole number of KiB
//	key data
//	signature
func (g *generator) buildLegacy() error {
	all := g.doc.All(sectionLegacyInput)
	if len(all) == 0 {
		return errorf(ConfigurationError, "legacy boot needs a %s section", sectionLegacyInput)
	}
	if len(all) > 1 {
		klog.Warningf("%d %s sections, using the first", len(all), sectionLegacyInput)
	}
	s := all[0]

	path := s.String("FILENAME")
	if path == "" {
		return errorf(ConfigurationError, "%s/FILENAME must be specified", s.Name)
	}
	load, err := s.Uint32("LOADADDRESS", 0)
	if err != nil {
		return wrap(ConfigurationError, err)
	}
	entry, err := s.Uint32("ENTRYPOINTADDRESS", 0)
	if err != nil {
		return wrap(ConfigurationError, err)
	}
	if entry == 0 {
		return errorf(ConfigurationError, "%s/ENTRYPOINTADDRESS must be specified", s.Name)
	}
	encrypt := s.Bool("ENCRYPT")

	f, err := objfile.OpenBinary(path, load)
	if err != nil {
		return wrap(InputError, err)
	}
	defer f.Close()
	data, err := f.Sections[0].Data()
	if err != nil {
		return wrap(InputError, err)
	}

	secSize := g.legacySecureDataSize()
	total := roundUp(legacyHeaderSize+uint32(len(data))+secSize, legacyBlockSize)
	payload := make([]byte, total-legacyHeaderSize-secSize)
	copy(payload, data)
	if total > legacyMaxSize {
		klog.Warningf("Legacy image is %d bytes, more than the %d bytes the ROM can load", total, legacyMaxSize)
	}
	if err := g.ranges.Add(path, load, uint32(len(payload))); err != nil {
		return wrap(InputError, err)
	}

	if e := entry & legacyEntryMask; e < load || e > load+uint32(len(payload)) {
		return errorf(ConfigurationError, "entry point 0x%08x is outside the loaded image at 0x%08x-0x%08x", entry, load, load+uint32(len(payload)))
	}

	var width uint32
	if g.busWidth == 16 {
		width = 1
	}
	magic := ais.LegacySignedMagic
	if encrypt {
		magic = ais.LegacyEncryptedMagic
	}
	g.stream.WriteWord((((total>>10)-1)&0xffff)<<8|width, true)
	g.stream.WriteWord(magic, true)
	g.stream.WriteWord(entry, true)
	g.stream.WriteWord(secSize, true)

	if encrypt {
		enc, err := aescbc.EncryptCTS(g.key, g.iv, payload)
		if err != nil {
			return errorf(CryptoError, "encrypting legacy payload: %v", err)
		}
		g.stream.WriteSplit(enc, payload)
	} else {
		g.stream.Write(payload, true)
	}
	g.stream.Write(g.secureKeyData, true)

	klog.Infof("Legacy image: %d byte payload at 0x%08x, entry 0x%08x", len(data), load, entry)
	return g.sign()
}

func roundUp(n, m uint32) uint32 {
	return (n + m - 1) / m * m
}
