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
//
// The aisdump tool lists the commands and signature blocks of an AIS boot
// image.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/transparency-dev/secure-aisgen/ais"
	"k8s.io/klog/v2"
)

type Config struct {
	image string

	secure    string
	sigSize   int
	bigEndian bool
}

var conf *Config

func init() {
	conf = &Config{}

	flag.StringVar(&conf.image, "i", "", "boot image to decode")
	flag.StringVar(&conf.secure, "s", "GENERIC", "security type: NONE, CUSTOM or GENERIC")
	flag.IntVar(&conf.sigSize, "n", 0, "signature size in bytes (default 32 for GENERIC, 128 for CUSTOM)")
	flag.BoolVar(&conf.bigEndian, "b", false, "image is big-endian")
}

func layout() (ais.Layout, error) {
	t, err := ais.ParseSecureType(conf.secure)
	if err != nil {
		return ais.Layout{}, err
	}

	l := ais.Layout{
		Order:         binary.LittleEndian,
		Secure:        t,
		SignatureSize: conf.sigSize,
	}
	if conf.bigEndian {
		l.Order = binary.BigEndian
	}
	if l.SignatureSize == 0 {
		switch t {
		case ais.SecureGeneric:
			l.SignatureSize = 32
		case ais.SecureCustom:
			l.SignatureSize = 128
		}
	}

	return l, nil
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if len(conf.image) == 0 {
		flag.PrintDefaults()
		os.Exit(2)
	}

	l, err := layout()
	if err != nil {
		klog.Exitf("%v", err)
	}

	b, err := os.ReadFile(conf.image)
	if err != nil {
		klog.Exitf("Failed to read image: %v", err)
	}

	entries, err := ais.Decode(b, l)
	fmt.Print(ais.Print(entries, l))
	if err != nil {
		klog.Exitf("Failed to decode image: %v", err)
	}
}
