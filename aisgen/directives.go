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
	"strings"

	"github.com/transparency-dev/secure-aisgen/ais"
	"github.com/transparency-dev/secure-aisgen/config"
	"github.com/transparency-dev/secure-aisgen/internal/objfile"
	"k8s.io/klog/v2"
)

// directive emits the commands for one policy section.
type directive func(g *generator, s *config.Section) error

var directives = map[string]directive{
	"INPUTFILE":             (*generator).inputFileSection,
	"AIS_ENABLECRC":         emitOnly(func(*config.Section) (ais.Command, error) { return &ais.EnableCRCCheck{}, nil }),
	"AIS_DISABLECRC":        emitOnly(func(*config.Section) (ais.Command, error) { return &ais.DisableCRCCheck{}, nil }),
	"AIS_REQUESTCRC":        emitOnly(requestCRC),
	"AIS_JUMP":              (*generator).jumpSection,
	"AIS_JUMPCLOSE":         (*generator).jumpCloseSection,
	"AIS_SET":               emitSigned(setMemory),
	"AIS_SECTIONFILL":       emitOnly(sectionFill),
	"AIS_FASTBOOT":          emitOnly(func(*config.Section) (ais.Command, error) { return &ais.EnableFastBoot{}, nil }),
	"AIS_READWAIT":          emitSigned(readWait),
	"AIS_SEQREADENABLE":     emitOnly(func(*config.Section) (ais.Command, error) { return &ais.EnableSeqRead{}, nil }),
	"AIS_FINALFUNCTIONREG":  (*generator).finalFunctionSection,
	"AIS_SETDELEGATEKEY":    (*generator).setDelegateKeySection,
	"AIS_REMOVEDELEGATEKEY": func(g *generator, _ *config.Section) error { return g.removeDelegateKey() },
}

// consumed sections are read during policy resolution.
var consumed = map[string]bool{
	strings.ToUpper(sectionGeneral):      true,
	strings.ToUpper(sectionSecurity):     true,
	strings.ToUpper(sectionSecureLegacy): true,
	strings.ToUpper(sectionLegacyInput):  true,
}

func emitOnly(build func(*config.Section) (ais.Command, error)) directive {
	return func(g *generator, s *config.Section) error {
		c, err := build(s)
		if err != nil {
			return wrap(ConfigurationError, err)
		}
		return g.emit(c)
	}
}

func emitSigned(build func(*config.Section) (ais.Command, error)) directive {
	return func(g *generator, s *config.Section) error {
		if err := emitOnly(build)(g, s); err != nil {
			return err
		}
		return g.sign()
	}
}

// runDirectives processes the command sections in document order.
func (g *generator) runDirectives() error {
	for _, s := range g.doc.Sections {
		name := strings.ToUpper(s.Name)
		if consumed[name] {
			continue
		}
		if g.closed {
			klog.Warningf("Image already closed, ignoring section %s", s.Name)
			continue
		}
		d, ok := directives[name]
		if !ok {
			if f, idx, ok := g.dev.ROMFunction(s.Name); ok {
				d = romFunction(f, idx)
			}
		}
		if d == nil {
			klog.V(1).Infof("Ignoring section %s", s.Name)
			continue
		}
		klog.V(1).Infof("Processing section %s", s.Name)
		if err := d(g, s); err != nil {
			return err
		}
	}
	return nil
}

// location resolves key as a number or, failing that, as a symbol of a
// loaded file.
func (g *generator) location(s *config.Section, key string) (uint32, error) {
	v := s.String(key)
	if v == "" {
		return 0, errorf(ConfigurationError, "%s/%s must be specified", s.Name, key)
	}
	if a, err := config.ParseUint32(v); err == nil {
		return a, nil
	}
	if a, ok := g.symbol(v); ok {
		return a, nil
	}
	return 0, errorf(FormatError, "%s/%s: symbol %q not found", s.Name, key, v)
}

func (g *generator) inputFileSection(s *config.Section) error {
	path := s.String("FILENAME")
	if path == "" {
		return errorf(ConfigurationError, "%s/FILENAME must be specified", s.Name)
	}

	var (
		f   *objfile.File
		err error
	)
	if s.Has("LOADADDRESS") {
		a, perr := s.Uint32("LOADADDRESS", 0)
		if perr != nil {
			return wrap(ConfigurationError, perr)
		}
		f, err = objfile.OpenBinary(path, a)
	} else {
		f, err = objfile.Open(path)
	}
	if err != nil {
		klog.Warningf("Skipping input file %q: %v", path, err)
		return nil
	}

	entry, hasEntry := f.Entry, f.HasEntry
	if err := g.loadFile(f, s.Bool("ENCRYPT")); err != nil {
		if IsKind(err, InputError) {
			klog.Warningf("Skipping input file %q: %v", path, err)
			return nil
		}
		return err
	}

	// An ENTRYPOINTADDRESS of 0 is the same as leaving it out.
	a, err := s.Uint32("ENTRYPOINTADDRESS", 0)
	if err != nil {
		return wrap(ConfigurationError, err)
	}
	switch {
	case a != 0:
		g.setEntry(a)
	case s.Bool("USEENTRYPOINT"):
		if !hasEntry {
			klog.Warningf("%s has no entry point to use", path)
			break
		}
		g.setEntry(entry)
	}
	return nil
}

func requestCRC(s *config.Section) (ais.Command, error) {
	crc, err := s.Uint32("CRCVALUE", 0)
	if err != nil {
		return nil, err
	}
	seek, err := s.Int32("SEEKVALUE", -12)
	if err != nil {
		return nil, err
	}
	return &ais.CRCRequest{CRC: crc, Seek: seek}, nil
}

func (g *generator) jumpSection(s *config.Section) error {
	a, err := g.location(s, "LOCATION")
	if err != nil {
		if IsKind(err, FormatError) {
			klog.Warningf("Skipping jump: %v", err)
			return nil
		}
		return err
	}
	if err := g.emit(&ais.JumpTo{Addr: a}); err != nil {
		return err
	}
	return g.sign()
}

func (g *generator) jumpCloseSection(s *config.Section) error {
	if s.Has("ENTRYPOINT") {
		a, err := g.location(s, "ENTRYPOINT")
		switch {
		case IsKind(err, FormatError):
			klog.Warningf("%v", err)
		case err != nil:
			return err
		default:
			g.setEntry(a)
		}
	}
	return g.close()
}

func setMemory(s *config.Section) (ais.Command, error) {
	var (
		c   ais.SetMemory
		err error
	)
	if v := s.String("TYPE"); v != "" {
		if c.Type, err = ais.ParseSetType(v); err != nil {
			return nil, err
		}
	}
	if c.Addr, err = s.Uint32("ADDRESS", 0); err != nil {
		return nil, err
	}
	if c.Data, err = s.Uint32("DATA", 0); err != nil {
		return nil, err
	}
	if c.Sleep, err = s.Uint32("SLEEP", 0); err != nil {
		return nil, err
	}
	return &c, nil
}

func sectionFill(s *config.Section) (ais.Command, error) {
	var (
		c   ais.FillSection
		err error
	)
	if c.Addr, err = s.Uint32("ADDRESS", 0); err != nil {
		return nil, err
	}
	if c.Size, err = s.Uint32("SIZE", 0); err != nil {
		return nil, err
	}
	if c.Type, err = s.Uint32("TYPE", 0); err != nil {
		return nil, err
	}
	if c.Pattern, err = s.Uint32("PATTERN", 0); err != nil {
		return nil, err
	}
	return &c, nil
}

func readWait(s *config.Section) (ais.Command, error) {
	var (
		c   ais.WaitRead
		err error
	)
	if c.Addr, err = s.Uint32("ADDRESS", 0); err != nil {
		return nil, err
	}
	if c.Mask, err = s.Uint32("MASK", 0xffffffff); err != nil {
		return nil, err
	}
	if c.Data, err = s.Uint32("DATA", 0xffffffff); err != nil {
		return nil, err
	}
	return &c, nil
}

func (g *generator) finalFunctionSection(s *config.Section) error {
	name := s.String("FINALFXNSYMBOLNAME")
	if name == "" {
		return errorf(ConfigurationError, "%s/FINALFXNSYMBOLNAME must be specified", s.Name)
	}
	a, ok := g.symbol(name)
	if !ok {
		klog.Warningf("Final function %q not found, not registering it", name)
		return nil
	}
	return g.emit(&ais.RegisterFinalFunction{Addr: a})
}

func (g *generator) setDelegateKeySection(s *config.Section) error {
	err := g.setDelegateKey(s.String("RSAKEYFILENAME"), s.String("ENCRYPTIONKEY"))
	if IsKind(err, KeyError) {
		klog.Warningf("Keeping the active key: %v", err)
		return nil
	}
	return err
}

// romFunction calls a boot ROM routine with arguments named by the device
// profile.
func romFunction(f *ROMFunction, idx uint16) directive {
	return func(g *generator, s *config.Section) error {
		args := make([]uint32, 0, len(f.Args))
		for _, k := range f.Args {
			if !s.Has(k) {
				return errorf(ConfigurationError, "%s/%s must be specified", s.Name, k)
			}
			v, err := s.Uint32(k, 0)
			if err != nil {
				return wrap(ConfigurationError, err)
			}
			args = append(args, v)
		}
		if err := g.emit(&ais.ExecFunction{Index: idx, Args: args}); err != nil {
			return err
		}
		return g.sign()
	}
}
