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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const policy = `
- General:
    BootMode: UART
    BusWidth: 16
- Security:
    securityType: GENERIC
    EncryptionKey: "000102030405060708090a0b0c0d0e0f"
    GenericJTAGForceOff: yes
- InputFile:
    FileName: a.out
- AIS_EnableCRC:
- InputFile:
    FileName: b.out
    LoadAddress: 0xC0000000
- AIS_RequestCRC:
    CRCValue: 0xDEADBEEF
    SeekValue: 0xFFFFFFF4
`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(policy))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var names []string
	for _, s := range d.Sections {
		names = append(names, s.Name)
	}
	want := []string{"General", "Security", "InputFile", "AIS_EnableCRC", "InputFile", "AIS_RequestCRC"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("section names diff: %s", diff)
	}

	sec := d.Find("SECURITY")
	if sec == nil {
		t.Fatal("Find(SECURITY) = nil")
	}
	if got := sec.String("SECURITYTYPE"); got != "GENERIC" {
		t.Errorf("SECURITYTYPE = %q", got)
	}
	if !sec.Bool("genericjtagforceoff") {
		t.Error("GENERICJTAGFORCEOFF not true")
	}
	if diff := cmp.Diff([]string{"securityType", "EncryptionKey", "GenericJTAGForceOff"}, sec.Keys()); diff != "" {
		t.Errorf("keys diff: %s", diff)
	}

	inputs := d.All("inputfile")
	if len(inputs) != 2 {
		t.Fatalf("All(inputfile) returned %d sections", len(inputs))
	}
	if v, err := inputs[1].Uint32("LOADADDRESS", 0); err != nil || v != 0xc0000000 {
		t.Errorf("LOADADDRESS = 0x%x, %v", v, err)
	}
	if v, err := inputs[0].Uint32("LOADADDRESS", 0xffffffff); err != nil || v != 0xffffffff {
		t.Errorf("default LOADADDRESS = 0x%x, %v", v, err)
	}

	crc := d.Find("AIS_RequestCRC")
	if v, err := crc.Int32("SEEKVALUE", -12); err != nil || v != -12 {
		t.Errorf("SEEKVALUE = %d, %v", v, err)
	}
	if v, err := crc.Uint32("CRCVALUE", 0); err != nil || v != 0xdeadbeef {
		t.Errorf("CRCVALUE = 0x%x, %v", v, err)
	}
	if len(d.Find("AIS_EnableCRC").Keys()) != 0 {
		t.Error("empty section has keys")
	}
}

func TestParseErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		in   string
	}{
		{name: "mapping at top level", in: "General:\n  BootMode: UART\n"},
		{name: "two names in one item", in: "- General: {}\n  Security: {}\n"},
		{name: "nested values", in: "- General:\n    BootMode:\n      - UART\n"},
		{name: "scalar section", in: "- General: UART\n"},
		{name: "repeated key", in: "- General:\n    BootMode: UART\n    bootmode: SPI\n"},
		{name: "bad yaml", in: "- General: [\n"},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Parse([]byte(test.in)); err == nil {
				t.Fatal("Parse succeeded")
			}
		})
	}
}

func TestNumbers(t *testing.T) {
	s := NewSection("test").Set("hex", "0x10").Set("dec", "10").Set("bad", "ten").Set("neg", "-3")
	for _, test := range []struct {
		key     string
		want    uint32
		wantErr bool
	}{
		{key: "hex", want: 16},
		{key: "dec", want: 10},
		{key: "bad", wantErr: true},
		{key: "neg", wantErr: true},
		{key: "unset", want: 42},
	} {
		t.Run(test.key, func(t *testing.T) {
			got, err := s.Uint32(test.key, 42)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}
			if got != test.want {
				t.Fatalf("got %d, want %d", got, test.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(p, []byte(policy), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	d, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(d.Sections) != 6 {
		t.Fatalf("got %d sections, want 6", len(d.Sections))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}
