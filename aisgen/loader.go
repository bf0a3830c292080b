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
	"errors"
	"path/filepath"

	"github.com/transparency-dev/secure-aisgen/ais"
	"github.com/transparency-dev/secure-aisgen/internal/aescbc"
	"github.com/transparency-dev/secure-aisgen/internal/memrange"
	"github.com/transparency-dev/secure-aisgen/internal/objfile"
	"k8s.io/klog/v2"
)

const (
	// bootSetupSection holds early initialisation code and is loaded first.
	bootSetupSection = ".TIBoot"
	// bootSetupSymbol is called once bootSetupSection has been loaded.
	bootSetupSymbol = "_TIBootSetup"
)

// loadFile emits a load command for every section of f and registers the
// memory each one occupies. The file is closed on return.
//
// Every section is read, encrypted and checked against claimed memory
// before the first command is emitted, so a failed file leaves the image
// untouched.
func (g *generator) loadFile(f *objfile.File, forceEncrypt bool) error {
	defer f.Close()

	abs, err := filepath.Abs(f.Path)
	if err != nil {
		abs = f.Path
	}
	if g.loaded[abs] {
		return errorf(InputError, "%s has already been loaded", f.Path)
	}
	if f.Order != g.order {
		return errorf(InputError, "%s is %v, the device is %v", f.Path, f.Order, g.order)
	}

	ranges := g.ranges.Clone()
	var cmds []ais.Command
	sections := bootSetupFirst(f.Sections)
	for _, s := range sections {
		c, err := g.stageSection(&ranges, f, s, forceEncrypt || g.shouldEncrypt(s.Name))
		if err != nil {
			return err
		}
		cmds = append(cmds, c)
	}

	klog.Infof("Loading %v file %q", f.Kind, f.Path)
	g.ranges = ranges
	g.files = append(g.files, f)
	g.loaded[abs] = true

	for i, s := range sections {
		if err := g.emit(cmds[i]); err != nil {
			return err
		}
		if s.Name != bootSetupSection {
			continue
		}
		a, ok := f.Symbol(bootSetupSymbol)
		if !ok {
			klog.Warningf("%s has a %s section but no %s symbol, not jumping to it", f.Path, bootSetupSection, bootSetupSymbol)
			continue
		}
		if err := g.emit(&ais.JumpTo{Addr: a}); err != nil {
			return err
		}
		if err := g.sign(); err != nil {
			return err
		}
	}
	return nil
}

// stageSection reads s, claims its memory in ranges and returns the command
// loading it.
func (g *generator) stageSection(ranges *memrange.Tracker, f *objfile.File, s *objfile.Section, encrypt bool) (ais.Command, error) {
	data, err := s.Data()
	if err != nil {
		return nil, wrap(InputError, err)
	}

	if err := ranges.Add(f.Path+":"+s.Name, s.LoadAddr, s.Size); err != nil {
		var oe *memrange.OverlapError
		if errors.As(err, &oe) {
			return nil, wrap(OverlapError, err)
		}
		return nil, wrap(InputError, err)
	}

	if !encrypt {
		klog.V(1).Infof("Section %s: %d bytes at 0x%08x", s.Name, len(data), s.LoadAddr)
		return &ais.LoadSection{Addr: s.LoadAddr, Data: data}, nil
	}

	enc, err := aescbc.EncryptCTS(g.key, g.iv, data)
	if err != nil {
		return nil, errorf(CryptoError, "encrypting section %s of %s: %v", s.Name, f.Path, err)
	}
	klog.V(1).Infof("Section %s: %d encrypted bytes at 0x%08x", s.Name, len(data), s.LoadAddr)
	return &ais.LoadEncryptedSection{Addr: s.LoadAddr, Plaintext: data, Ciphertext: enc}, nil
}

// bootSetupFirst returns the sections with the boot setup section, if any,
// moved to the front.
func bootSetupFirst(sections []*objfile.Section) []*objfile.Section {
	out := make([]*objfile.Section, 0, len(sections))
	for _, s := range sections {
		if s.Name == bootSetupSection {
			out = append(out, s)
		}
	}
	for _, s := range sections {
		if s.Name != bootSetupSection {
			out = append(out, s)
		}
	}
	return out
}
