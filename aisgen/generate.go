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

// Package aisgen assembles signed and encrypted AIS boot images from a
// security policy and a set of executable images.
package aisgen

import (
	"github.com/transparency-dev/secure-aisgen/ais"
	"github.com/transparency-dev/secure-aisgen/config"
	"github.com/transparency-dev/secure-aisgen/internal/objfile"
	"k8s.io/klog/v2"
)

// Generate builds a boot image from the policy doc and the inputs.
//
// Any returned error is an *Error, and no image is produced.
func Generate(doc *config.Document, inputs []Input, opts Options) (*Image, error) {
	g := newGenerator(doc, opts)
	defer g.release()

	if err := g.resolveGeneral(); err != nil {
		return nil, err
	}
	if err := g.resolveSecurity(); err != nil {
		return nil, err
	}
	if err := g.buildSecureKeyData(); err != nil {
		return nil, err
	}
	klog.Infof("Generating %v image for %s: boot mode %v, %v, exit %v", g.secure, g.dev.Name, g.bootMode, g.hash, g.exit)

	g.stream = ais.NewStream(g.order, true)
	if g.bootMode == ais.BootLegacy {
		if len(inputs) > 0 {
			klog.Warningf("Legacy images take their input from %s, ignoring %d input files", sectionLegacyInput, len(inputs))
		}
		if err := g.buildLegacy(); err != nil {
			return nil, err
		}
	} else if err := g.buildStandard(inputs); err != nil {
		return nil, err
	}

	img := &Image{
		Bytes:  g.stream.Bytes(),
		Layout: g.layout(),
		MPK:    g.mpk,
		Ranges: g.ranges.Ranges(),
	}
	klog.Infof("Image is %d bytes with %d signatures", len(img.Bytes), g.signatures)
	return img, nil
}

func (g *generator) buildStandard(inputs []Input) error {
	g.stream.Preamble()
	if err := g.emit(&ais.LoadSecureKey{Key: g.secureKeyData}); err != nil {
		return err
	}
	if err := g.emit(&ais.SetExitMode{Mode: g.exit}); err != nil {
		return err
	}

	if err := g.runDirectives(); err != nil {
		return err
	}

	for _, in := range inputs {
		if g.closed {
			klog.Warningf("Image already closed, ignoring input %v", in)
			continue
		}
		if err := g.loadInput(in); err != nil {
			return err
		}
	}

	if g.closed {
		return nil
	}
	return g.close()
}

// loadInput loads a command line input. Unlike policy inputs, failures are
// fatal.
func (g *generator) loadInput(in Input) error {
	var (
		f   *objfile.File
		err error
	)
	if in.HasAddr {
		f, err = objfile.OpenBinary(in.Path, in.Addr)
	} else {
		f, err = objfile.Open(in.Path)
	}
	if err != nil {
		return wrap(InputError, err)
	}

	entry, hasEntry := f.Entry, f.HasEntry
	if err := g.loadFile(f, false); err != nil {
		return err
	}
	if !in.HasAddr && !g.entrySet && hasEntry {
		klog.Infof("Entry point 0x%08x from %s", entry, in.Path)
		g.setEntry(entry)
	}
	return nil
}

// close ends the image with a signed jump to the entry point.
func (g *generator) close() error {
	entry := g.entry
	switch {
	case !g.entrySet:
		klog.Warningf("No entry point could be resolved, jumping to 0")
		entry = 0
	case entry == 0:
		klog.Warningf("Entry point is 0")
	}

	if err := g.emit(&ais.JumpAndClose{Addr: entry}); err != nil {
		return err
	}
	if err := g.sign(); err != nil {
		return err
	}
	g.closed = true
	return nil
}

// release closes every input file still open.
func (g *generator) release() {
	for _, f := range g.files {
		if err := f.Close(); err != nil {
			klog.Warningf("Closing %s: %v", f.Path, err)
		}
	}
}
