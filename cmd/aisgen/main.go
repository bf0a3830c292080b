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
// The aisgen tool builds a signed, and optionally encrypted, AIS boot image
// from a security policy and a list of executables.
//
//	aisgen -cfg policy.yaml -o boot.ais app.out table.bin@0x80000000
package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/coreos/go-semver/semver"
	"github.com/transparency-dev/secure-aisgen/ais"
	"github.com/transparency-dev/secure-aisgen/aisgen"
	"github.com/transparency-dev/secure-aisgen/config"
	"k8s.io/klog/v2"
)

// Populated at build time with -ldflags -X.
var (
	Version  = "0.0.0-dev"
	Revision string
	Build    string
)

const passphraseEnv = "AISGEN_KEY_PASSPHRASE"

var (
	cfgFile     = flag.String("cfg", "", "Security policy and command sections, in YAML.")
	outputFile  = flag.String("o", "", "File to write the boot image to.")
	deviceName  = flag.String("device", "generic", fmt.Sprintf("Target device, one of: %s.", strings.Join(aisgen.DeviceNames(), ", ")))
	bootMode    = flag.String("bootmode", "", "Boot mode, overrides the policy.")
	debugDir    = flag.String("debug_dir", "", "Directory to dump intermediate key and signature buffers to.")
	printMPK    = flag.Bool("mpk", false, "Print the hash of the customer public key to burn into the device.")
	showVersion = flag.Bool("version", false, "Print the version and exit.")
	progress    = flag.Bool("progress", true, "Show progress while writing the image.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] input[@address]...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	v := versionOrDie()
	if *showVersion {
		fmt.Println(v)
		return
	}
	klog.Infof("%s", v)
	if *cfgFile == "" || *outputFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	doc, err := config.Load(*cfgFile)
	if err != nil {
		klog.Exitf("Failed to load policy: %v", err)
	}
	opts := optionsOrDie()
	inputs := inputsOrDie(flag.Args())

	img, err := aisgen.Generate(doc, inputs, opts)
	if err != nil {
		klog.Exitf("Failed to generate image: %v", err)
	}

	if *printMPK {
		if img.MPK == nil {
			klog.Warningf("Only CUSTOM images have an MPK")
		} else {
			fmt.Println(hex.EncodeToString(img.MPK))
		}
	}

	if err := writeImage(*outputFile, img.Bytes); err != nil {
		klog.Exitf("Failed to write image: %v", err)
	}
	klog.Infof("Wrote %d bytes of boot image to %q", len(img.Bytes), *outputFile)
}

func versionOrDie() string {
	v, err := semver.NewVersion(Version)
	if err != nil {
		klog.Exitf("Invalid version %q: %v", Version, err)
	}
	s := "aisgen " + v.String()
	if Revision != "" {
		s += " (" + Revision + ")"
	}
	if Build != "" {
		s += " built " + Build
	}
	return s
}

func optionsOrDie() aisgen.Options {
	dev, err := aisgen.LookupDevice(*deviceName)
	if err != nil {
		klog.Exitf("%v", err)
	}
	opts := aisgen.Options{
		Device:   dev,
		DebugDir: *debugDir,
	}
	if *bootMode != "" {
		if opts.BootMode, err = ais.ParseBootMode(*bootMode); err != nil {
			klog.Exitf("%v", err)
		}
	}
	if p, ok := os.LookupEnv(passphraseEnv); ok {
		opts.KeyPassphrase = []byte(p)
	}
	if *debugDir != "" {
		if err := os.MkdirAll(*debugDir, 0o755); err != nil {
			klog.Exitf("Failed to create debug directory: %v", err)
		}
	}
	return opts
}

func inputsOrDie(args []string) []aisgen.Input {
	inputs := make([]aisgen.Input, 0, len(args))
	for _, a := range args {
		in, err := aisgen.ParseInput(a)
		if err != nil {
			klog.Exitf("%v", err)
		}
		inputs = append(inputs, in)
	}
	return inputs
}

func writeImage(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	var w io.Writer = f
	var bar *pb.ProgressBar
	if *progress {
		bar = pb.Full.Start64(int64(len(b)))
		w = bar.NewProxyWriter(f)
	}
	_, err = io.Copy(w, bytes.NewReader(b))
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
