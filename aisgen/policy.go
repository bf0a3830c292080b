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
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/transparency-dev/secure-aisgen/ais"
	"github.com/transparency-dev/secure-aisgen/internal/aescbc"
	"github.com/transparency-dev/secure-aisgen/internal/rsakey"
	"k8s.io/klog/v2"
)

// Policy section names.
const (
	sectionGeneral      = "General"
	sectionSecurity     = "Security"
	sectionSecureLegacy = "SecureLegacy"
)

// encryptAllSentinel in ENCRYPTSECTIONS selects every section.
const encryptAllSentinel = "ALL"

const genericKeyHeaderSize = 32

// resolveGeneral applies the General section and the boot mode override.
func (g *generator) resolveGeneral() error {
	if s := g.doc.Find(sectionGeneral); s != nil {
		if v := s.String("BOOTMODE"); v != "" {
			m, err := ais.ParseBootMode(v)
			if err != nil {
				return wrap(ConfigurationError, err)
			}
			g.bootMode = m
		}
		w, err := s.Uint32("BUSWIDTH", uint32(g.busWidth))
		if err != nil {
			return wrap(ConfigurationError, err)
		}
		if w != 8 && w != 16 {
			return errorf(ConfigurationError, "bus width must be 8 or 16, got %d", w)
		}
		g.busWidth = int(w)
		if s.Has("ENTRYPOINT") {
			e, err := s.Uint32("ENTRYPOINT", 0)
			if err != nil {
				return wrap(ConfigurationError, err)
			}
			g.setEntry(e)
		}
	}

	if g.opts.BootMode != ais.BootNone {
		g.bootMode = g.opts.BootMode
	}
	if g.bootMode == ais.BootNone {
		g.bootMode = g.dev.BootMode
	}
	return nil
}

// resolveSecurity interprets the security section into the generator state.
// Settings are applied in a fixed order: the RSA key is loaded after the
// hash selection and may override it.
func (g *generator) resolveSecurity() error {
	sec := g.doc.Find(sectionSecurity)
	if sec == nil {
		sec = g.doc.Find(sectionSecureLegacy)
		if sec == nil {
			return errorf(ConfigurationError, "policy has neither a %s nor a %s section", sectionSecurity, sectionSecureLegacy)
		}
		g.bootMode = ais.BootLegacy
	}

	if v := sec.String("SECURITYTYPE"); v != "" {
		t, err := ais.ParseSecureType(v)
		if err != nil {
			return wrap(ConfigurationError, err)
		}
		g.secure = t
	}

	if v := sec.String("BOOTEXITTYPE"); v != "" {
		t, err := ais.ParseExitType(v)
		if err != nil {
			return wrap(ConfigurationError, err)
		}
		g.exit = t
	}

	if v := sec.String("ENCRYPTSECTIONS"); v != "" {
		if err := g.parseEncryptSections(v); err != nil {
			return err
		}
	}

	if v := sec.String("ENCRYPTIONKEY"); v != "" {
		k, err := aescbc.ParseKey(v)
		if err != nil {
			return errorf(ConfigurationError, "ENCRYPTIONKEY: %v", err)
		}
		iv, err := aescbc.DeriveIV(k)
		if err != nil {
			return wrap(CryptoError, err)
		}
		g.key, g.iv = k, iv
		g.rootKey, g.rootIV = k, iv
	}

	if v := sec.String("KEYENCRYPTIONKEY"); v != "" {
		k, err := aescbc.ParseKey(v)
		if err != nil {
			return errorf(ConfigurationError, "KEYENCRYPTIONKEY: %v", err)
		}
		g.kek = k
	}

	g.jtagForceOff = strings.EqualFold(sec.String("GENERICJTAGFORCEOFF"), "TRUE")

	if v := sec.String("GENERICSHASELECTION"); v != "" {
		h, err := ais.ParseHashAlgorithm(v)
		if err != nil {
			return wrap(ConfigurationError, err)
		}
		g.hash = h
	}

	if v := sec.String("GENKEYHEADERFILENAME"); v != "" {
		b, err := os.ReadFile(v)
		if err != nil {
			return errorf(InputError, "key header file: %v", err)
		}
		if len(b) < genericKeyHeaderSize {
			return errorf(ConfigurationError, "key header file %q holds %d bytes, need %d", v, len(b), genericKeyHeaderSize)
		}
		g.keyHeader = b[:genericKeyHeaderSize]
	}

	if v := sec.String("RSAKEYFILENAME"); v != "" {
		k, err := rsakey.Load(v, g.opts.KeyPassphrase)
		if err != nil {
			return errorf(KeyError, "RSA key: %v", err)
		}
		if rsakey.Bits(&k.PublicKey) == 2048 && g.hash != ais.SHA256 {
			klog.Infof("2048-bit RSA key selects %v in place of %v", ais.SHA256, g.hash)
			g.hash = ais.SHA256
		}
		g.rsa, g.rootRSA = k, k
	}

	return g.validate()
}

func (g *generator) parseEncryptSections(v string) error {
	var names []string
	for _, n := range strings.Split(v, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	for _, n := range names {
		if strings.EqualFold(n, encryptAllSentinel) {
			if len(names) != 1 {
				return errorf(ConfigurationError, "ENCRYPTSECTIONS: %s cannot be combined with section names", encryptAllSentinel)
			}
			g.encryptAll = true
			return nil
		}
	}
	g.encryptSections = names
	return nil
}

func (g *generator) validate() error {
	if g.secure == ais.SecureNone {
		return errorf(ConfigurationError, "SECURITYTYPE must be %v or %v", ais.SecureCustom, ais.SecureGeneric)
	}
	if g.key == nil {
		return errorf(ConfigurationError, "ENCRYPTIONKEY must be specified")
	}
	if g.secure == ais.SecureCustom {
		if g.rsa == nil {
			return errorf(ConfigurationError, "%v security requires RSAKEYFILENAME", g.secure)
		}
		if b := rsakey.Bits(&g.rsa.PublicKey); b != 1024 && b != 2048 {
			return errorf(KeyError, "RSA key must be 1024 or 2048 bits, got %d", b)
		}
	}
	if g.bootMode != ais.BootLegacy && g.exit == ais.ExitNone {
		return errorf(ConfigurationError, "BOOTEXITTYPE must be specified")
	}
	if g.secure == ais.SecureGeneric {
		if g.kek == nil && g.keyHeader == nil {
			klog.Warningf("Neither KEYENCRYPTIONKEY nor GENKEYHEADERFILENAME is set, the customer key is sent in plaintext")
		}
		if g.bootMode != ais.BootLegacy && !g.encryptAll && len(g.encryptSections) == 0 {
			klog.Warningf("No sections are marked for encryption")
		}
	}
	return nil
}

// shouldEncrypt reports whether a section is on the encryption list.
func (g *generator) shouldEncrypt(name string) bool {
	if g.encryptAll {
		return true
	}
	for _, n := range g.encryptSections {
		if n == name {
			return true
		}
	}
	return false
}

// buildSecureKeyData derives the key data installed by SecureKeyLoad and
// carried by legacy images.
func (g *generator) buildSecureKeyData() error {
	switch g.secure {
	case ais.SecureGeneric:
		d, err := g.genericKeyHeader()
		if err != nil {
			return err
		}
		g.secureKeyData = d
	case ais.SecureCustom:
		vs := rsakey.VerifyStruct(&g.rsa.PublicKey)
		g.dump("rpk_struct.bin", vs)
		mpk, err := rsakey.MPK(vs, g.hash.Hash())
		if err != nil {
			return wrap(CryptoError, err)
		}
		g.dump("mpk.bin", mpk)
		g.secureKeyData = vs
		g.mpk = mpk
	default:
		return errorf(ConfigurationError, "no key data for security type %v", g.secure)
	}
	return nil
}

// genericKeyHeader builds the 32-byte GENERIC key header:
//
//	[0:4]   magic
//	[4:8]   JTAG force off flag
//	[8:12]  hash selector
//	[12:16] random
//	[16:32] customer encryption key
//
// wrapped with the key encryption key when one is set. A header file given
// by the policy replaces it.
func (g *generator) genericKeyHeader() ([]byte, error) {
	hdr := make([]byte, genericKeyHeaderSize)
	if err := g.random(hdr); err != nil {
		return nil, err
	}
	var jtag uint32
	if g.jtagForceOff {
		jtag = 1
	}
	binary.LittleEndian.PutUint32(hdr[0:], ais.GenericKeyMagic)
	binary.LittleEndian.PutUint32(hdr[4:], jtag)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(g.hash))
	copy(hdr[16:], g.key)
	g.dump("gen_keyhdr_unencrypted.bin", hdr)

	switch {
	case g.kek != nil:
		iv, err := aescbc.DeriveIV(g.kek)
		if err != nil {
			return nil, wrap(CryptoError, err)
		}
		enc, err := aescbc.EncryptCBC(g.kek, iv, hdr)
		if err != nil {
			return nil, wrap(CryptoError, fmt.Errorf("wrapping key header: %w", err))
		}
		g.dump("gen_keyhdr_encrypted.bin", enc)
		return enc, nil
	case g.keyHeader != nil:
		klog.Infof("Using the key header from GENKEYHEADERFILENAME")
		return g.keyHeader, nil
	}
	return hdr, nil
}
