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
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/transparency-dev/secure-aisgen/ais"
	"github.com/transparency-dev/secure-aisgen/config"
	"github.com/transparency-dev/secure-aisgen/internal/aescbc"
)

func TestResolvePolicyErrors(t *testing.T) {
	for _, test := range []struct {
		name     string
		doc      func(t *testing.T) *config.Document
		wantKind Kind
	}{
		{
			name:     "no security section",
			doc:      func(*testing.T) *config.Document { return &config.Document{} },
			wantKind: ConfigurationError,
		}, {
			name: "no security type",
			doc: func(*testing.T) *config.Document {
				d := &config.Document{}
				d.Add("Security").Set("BOOTEXITTYPE", "NONSECURE").Set("ENCRYPTIONKEY", testAESKey)
				return d
			},
			wantKind: ConfigurationError,
		}, {
			name: "no encryption key",
			doc: func(*testing.T) *config.Document {
				d := &config.Document{}
				d.Add("Security").Set("SECURITYTYPE", "GENERIC").Set("BOOTEXITTYPE", "NONSECURE")
				return d
			},
			wantKind: ConfigurationError,
		}, {
			name: "short encryption key",
			doc: func(*testing.T) *config.Document {
				d := genericDoc()
				d.Find("Security").Set("ENCRYPTIONKEY", "0011")
				return d
			},
			wantKind: ConfigurationError,
		}, {
			name: "no exit type",
			doc: func(*testing.T) *config.Document {
				d := &config.Document{}
				d.Add("Security").Set("SECURITYTYPE", "GENERIC").Set("ENCRYPTIONKEY", testAESKey)
				return d
			},
			wantKind: ConfigurationError,
		}, {
			name: "custom without RSA key",
			doc: func(*testing.T) *config.Document {
				d := genericDoc()
				d.Find("Security").Set("SECURITYTYPE", "CUSTOM")
				return d
			},
			wantKind: ConfigurationError,
		}, {
			name: "unreadable RSA key",
			doc: func(t *testing.T) *config.Document {
				d := customDoc(t, rsaKey(t, 1024, 0))
				d.Find("Security").Set("RSAKEYFILENAME", filepath.Join(t.TempDir(), "missing.pem"))
				return d
			},
			wantKind: KeyError,
		}, {
			name: "ALL combined with names",
			doc: func(*testing.T) *config.Document {
				d := genericDoc()
				d.Find("Security").Set("ENCRYPTSECTIONS", ".text,ALL")
				return d
			},
			wantKind: ConfigurationError,
		}, {
			name: "bad bus width",
			doc: func(*testing.T) *config.Document {
				d := genericDoc()
				d.Add("General").Set("BUSWIDTH", "32")
				return d
			},
			wantKind: ConfigurationError,
		}, {
			name: "bad boot mode",
			doc: func(*testing.T) *config.Document {
				d := genericDoc()
				d.Add("General").Set("BOOTMODE", "FLOPPY")
				return d
			},
			wantKind: ConfigurationError,
		}, {
			name: "short key header file",
			doc: func(t *testing.T) *config.Document {
				p := filepath.Join(t.TempDir(), "hdr.bin")
				if err := os.WriteFile(p, make([]byte, 16), 0o644); err != nil {
					t.Fatal(err)
				}
				d := genericDoc()
				d.Find("Security").Set("GENKEYHEADERFILENAME", p)
				return d
			},
			wantKind: ConfigurationError,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			g := newGenerator(test.doc(t), Options{Rand: testRand()})
			err := g.resolveGeneral()
			if err == nil {
				err = g.resolveSecurity()
			}
			if !IsKind(err, test.wantKind) {
				t.Fatalf("got %v, want a %v", err, test.wantKind)
			}
		})
	}
}

func TestResolveGeneral(t *testing.T) {
	for _, test := range []struct {
		name      string
		general   map[string]string
		override  ais.BootMode
		wantMode  ais.BootMode
		wantWidth int
		wantEntry uint32
	}{
		{
			name:      "device defaults",
			wantMode:  ais.BootUART,
			wantWidth: 8,
			wantEntry: 0xffffffff,
		}, {
			name:      "policy settings",
			general:   map[string]string{"BOOTMODE": "NAND", "BUSWIDTH": "16", "ENTRYPOINT": "0xc0000000"},
			wantMode:  ais.BootNAND,
			wantWidth: 16,
			wantEntry: 0xc0000000,
		}, {
			name:      "override wins",
			general:   map[string]string{"BOOTMODE": "NAND"},
			override:  ais.BootSPIMaster,
			wantMode:  ais.BootSPIMaster,
			wantWidth: 8,
			wantEntry: 0xffffffff,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			doc := genericDoc()
			if test.general != nil {
				s := doc.Add("General")
				for k, v := range test.general {
					s.Set(k, v)
				}
			}
			g := newGenerator(doc, Options{BootMode: test.override})
			if err := g.resolveGeneral(); err != nil {
				t.Fatalf("resolveGeneral: %v", err)
			}
			if g.bootMode != test.wantMode || g.busWidth != test.wantWidth || g.entry != test.wantEntry {
				t.Errorf("got mode %v width %d entry 0x%x, want %v %d 0x%x", g.bootMode, g.busWidth, g.entry, test.wantMode, test.wantWidth, test.wantEntry)
			}
		})
	}
}

func TestShouldEncrypt(t *testing.T) {
	g := newGenerator(genericDoc(), Options{})
	if err := g.parseEncryptSections(" .text , .data,"); err != nil {
		t.Fatalf("parseEncryptSections: %v", err)
	}
	for name, want := range map[string]bool{".text": true, ".data": true, ".bss": false, ".TEXT": false} {
		if got := g.shouldEncrypt(name); got != want {
			t.Errorf("shouldEncrypt(%q) = %t, want %t", name, got, want)
		}
	}

	if err := g.parseEncryptSections("all"); err != nil {
		t.Fatalf("parseEncryptSections: %v", err)
	}
	if !g.shouldEncrypt(".anything") {
		t.Errorf("ALL does not select every section")
	}
}

func TestGenericKeyHeader(t *testing.T) {
	key, _ := testKeyIV(t, testAESKey)
	kek, kekIV := testKeyIV(t, delegateAESKey)

	for _, test := range []struct {
		name string
		kek  string
	}{
		{name: "plaintext"},
		{name: "wrapped", kek: delegateAESKey},
	} {
		t.Run(test.name, func(t *testing.T) {
			doc := genericDoc()
			sec := doc.Find("Security").Set("GENERICJTAGFORCEOFF", "TRUE").Set("GENERICSHASELECTION", "SHA256")
			if test.kek != "" {
				sec.Set("KEYENCRYPTIONKEY", test.kek)
			}
			g := newGenerator(doc, Options{Rand: testRand()})
			if err := g.resolveSecurity(); err != nil {
				t.Fatalf("resolveSecurity: %v", err)
			}
			hdr, err := g.genericKeyHeader()
			if err != nil {
				t.Fatalf("genericKeyHeader: %v", err)
			}
			if test.kek != "" {
				if hdr, err = aescbc.DecryptCBC(kek, kekIV, hdr); err != nil {
					t.Fatalf("DecryptCBC: %v", err)
				}
			}
			if got := binary.LittleEndian.Uint32(hdr[0:]); got != ais.GenericKeyMagic {
				t.Errorf("magic = 0x%08x", got)
			}
			if got := binary.LittleEndian.Uint32(hdr[4:]); got != 1 {
				t.Errorf("JTAG flag = %d, want 1", got)
			}
			if got := binary.LittleEndian.Uint32(hdr[8:]); got != uint32(ais.SHA256) {
				t.Errorf("hash selector = %d, want %d", got, ais.SHA256)
			}
			if !bytes.Equal(hdr[16:32], key) {
				t.Errorf("key = %x, want %x", hdr[16:32], key)
			}
		})
	}
}
