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
	"sort"
	"strings"

	"github.com/transparency-dev/secure-aisgen/ais"
)

// ROMFunction is a boot ROM routine callable with FunctionExec. Its index
// is its position in the device table.
type ROMFunction struct {
	// Name is also the name of the policy section invoking it.
	Name string
	// Args lists the section keys supplying the arguments, in order.
	Args []string
}

// Device describes a target boot ROM.
type Device struct {
	Name     string
	Order    binary.ByteOrder
	BootMode ais.BootMode
	// BusWidth is the default boot peripheral width in bits.
	BusWidth     int
	ROMFunctions []ROMFunction
}

// ROMFunction returns the named ROM function and its index.
func (d *Device) ROMFunction(name string) (*ROMFunction, uint16, bool) {
	for i := range d.ROMFunctions {
		if strings.EqualFold(d.ROMFunctions[i].Name, name) {
			return &d.ROMFunctions[i], uint16(i), true
		}
	}
	return nil, 0, false
}

var devices = map[string]*Device{
	"generic": {
		Name:     "generic",
		Order:    binary.LittleEndian,
		BootMode: ais.BootUART,
		BusWidth: 8,
	},
	"omap-l138": {
		Name:     "omap-l138",
		Order:    binary.LittleEndian,
		BootMode: ais.BootUART,
		BusWidth: 8,
		ROMFunctions: []ROMFunction{
			{Name: "PLL0CONFIG", Args: []string{"PLL0CFG0", "PLL0CFG1"}},
			{Name: "EMIF3DDRCONFIG", Args: []string{"PLL1CFG0", "PLL1CFG1", "DDRPHYC1R", "SDCR", "SDTIMR", "SDTIMR2", "SDRCR", "CLK2XSRC"}},
			{Name: "EMIFASDRAMCONFIG", Args: []string{"SDBCR", "SDTIMR", "SDRSRPDEXIT", "SDRCR", "DIV4P5_CLK_ENABLE"}},
			{Name: "EMIFAASYNCCONFIG", Args: []string{"A1CR", "A2CR", "A3CR", "A4CR", "NANDFCR"}},
			{Name: "PLLANDCLOCKCONFIG", Args: []string{"PLL0CFG0", "PLL0CFG1", "PERIPHCLKCFG"}},
			{Name: "PSCCONFIG", Args: []string{"LPSCCONFIG"}},
			{Name: "PINMUXCONFIG", Args: []string{"REGNUM", "MASK", "VALUE"}},
		},
	},
}

// LookupDevice returns a device profile by name.
func LookupDevice(name string) (*Device, error) {
	d, ok := devices[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown device %q, known devices: %s", name, strings.Join(DeviceNames(), ", "))
	}
	return d, nil
}

// DeviceNames lists the known device profiles.
func DeviceNames() []string {
	var n []string
	for k := range devices {
		n = append(n, k)
	}
	sort.Strings(n)
	return n
}
