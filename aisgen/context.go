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
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/transparency-dev/secure-aisgen/ais"
	"github.com/transparency-dev/secure-aisgen/config"
	"github.com/transparency-dev/secure-aisgen/internal/memrange"
	"github.com/transparency-dev/secure-aisgen/internal/objfile"
	"k8s.io/klog/v2"
)

// Options configure a generation run beyond the policy document.
type Options struct {
	// Device is the target profile, the generic one when nil.
	Device *Device
	// BootMode overrides the policy boot mode when not ais.BootNone.
	BootMode ais.BootMode
	// DebugDir receives intermediate buffers when set.
	DebugDir string
	// KeyPassphrase decrypts passphrase protected RSA keys.
	KeyPassphrase []byte
	// Rand supplies padding and filler bytes, crypto/rand when nil.
	Rand io.Reader
}

// Input is an input file named outside the policy document.
type Input struct {
	Path string
	// Addr is the load address of a raw binary, valid when HasAddr is set.
	Addr    uint32
	HasAddr bool
}

// ParseInput parses "file" or "file@address", where address is decimal or
// 0x prefixed hexadecimal.
func ParseInput(arg string) (Input, error) {
	i := strings.LastIndex(arg, "@")
	if i < 0 {
		return Input{Path: arg}, nil
	}
	a, err := config.ParseUint32(arg[i+1:])
	if err != nil {
		return Input{}, fmt.Errorf("invalid load address in %q: %w", arg, err)
	}
	if i == 0 {
		return Input{}, fmt.Errorf("missing file name in %q", arg)
	}
	return Input{Path: arg[:i], Addr: a, HasAddr: true}, nil
}

func (in Input) String() string {
	if in.HasAddr {
		return fmt.Sprintf("%s@0x%08x", in.Path, in.Addr)
	}
	return in.Path
}

// Image is a finished boot image.
type Image struct {
	Bytes []byte
	// Layout allows the image to be decoded again.
	Layout ais.Layout
	// MPK is the public key fingerprint of CUSTOM images.
	MPK []byte
	// Ranges lists the memory claimed by loaded sections.
	Ranges []memrange.Range
}

// generator is the state of one generation run.
type generator struct {
	doc  *config.Document
	dev  *Device
	opts Options
	rand io.Reader

	bootMode ais.BootMode
	busWidth int
	order    binary.ByteOrder
	entry    uint32
	entrySet bool
	closed   bool

	secure          ais.SecureType
	exit            ais.ExitType
	hash            ais.HashAlgorithm
	encryptAll      bool
	encryptSections []string
	jtagForceOff    bool

	// active key material, replaced by delegate keys
	key []byte
	iv  []byte
	rsa *rsa.PrivateKey

	rootKey []byte
	rootIV  []byte
	rootRSA *rsa.PrivateKey

	kek           []byte
	keyHeader     []byte
	secureKeyData []byte
	mpk           []byte

	stream     *ais.Stream
	ranges     memrange.Tracker
	files      []*objfile.File
	loaded     map[string]bool
	signatures int
}

func newGenerator(doc *config.Document, opts Options) *generator {
	dev := opts.Device
	if dev == nil {
		dev = devices["generic"]
	}
	r := opts.Rand
	if r == nil {
		r = rand.Reader
	}
	return &generator{
		doc:      doc,
		dev:      dev,
		opts:     opts,
		rand:     r,
		order:    dev.Order,
		busWidth: dev.BusWidth,
		entry:    0xffffffff,
		hash:     ais.SHA1,
		exit:     ais.ExitNone,
		loaded:   make(map[string]bool),
	}
}

// random fills b from the run's randomness source.
func (g *generator) random(b []byte) error {
	if _, err := io.ReadFull(g.rand, b); err != nil {
		return errorf(CryptoError, "random source: %v", err)
	}
	return nil
}

// dump writes a diagnostic copy of b when a debug directory is set.
func (g *generator) dump(name string, b []byte) {
	if g.opts.DebugDir == "" {
		return
	}
	p := filepath.Join(g.opts.DebugDir, name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		klog.Warningf("Failed to write debug dump %q: %v", p, err)
		return
	}
	klog.V(1).Infof("Wrote %d bytes to %q", len(b), p)
}

func (g *generator) emit(c ais.Command) error {
	return wrap(FormatError, g.stream.Emit(c))
}

// symbol resolves name across every file loaded so far.
func (g *generator) symbol(name string) (uint32, bool) {
	for _, f := range g.files {
		if a, ok := f.Symbol(name); ok {
			return a, true
		}
	}
	return 0, false
}

func (g *generator) setEntry(a uint32) {
	g.entry = a
	g.entrySet = true
}

func (g *generator) layout() ais.Layout {
	l := ais.Layout{
		Order:  g.order,
		Secure: g.secure,
	}
	switch g.secure {
	case ais.SecureCustom:
		l.SignatureSize = g.rsa.Size()
	case ais.SecureGeneric:
		l.SignatureSize = genericSignatureSize(g.hash)
	}
	return l
}
