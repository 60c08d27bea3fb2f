// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command roc-ctp arms or reads back a CRU's local CTP (Central
// Trigger Processor) emulator through BAR2, independently of any DMA
// channel, for bench setups with no real trigger link attached.
package main // import "github.com/go-lpc/roc/cmd/roc-ctp"

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-lpc/roc/ctp"
	"github.com/go-lpc/roc/internal/bar"
)

func main() {
	var (
		pciAddr = flag.String("pci", "/sys/bus/pci/devices/0000:01:00.0", "sysfs PCI device directory")
		bar2Sz  = flag.Int64("bar2-size", 1<<20, "BAR2 window size, in bytes")
		mode    = flag.String("mode", "", "trigger mode: manual|periodic|continuous|fixed|hc|cal (empty: read back only)")
		freq    = flag.Uint("freq", 0, "trigger frequency divider (periodic|hc|cal)")
		bcMax   = flag.Uint("bc-max", 0, "maximum bunch-crossing count")
		hbMax   = flag.Uint("hb-max", 0, "maximum heartbeat count")
		hbKeep  = flag.Uint("hb-keep", 0, "heartbeats kept per prescaler window")
		hbDrop  = flag.Uint("hb-drop", 0, "heartbeats dropped per prescaler window")
		eox     = flag.Bool("eox", false, "arm end-of-x-over idle mode instead of a trigger")
		single  = flag.Bool("single", false, "pulse a single manual trigger instead of arming a mode")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: roc-ctp [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.SetPrefix("roc-ctp: ")
	log.SetFlags(0)

	if err := run(*pciAddr, *bar2Sz, *mode, uint32(*freq), uint32(*bcMax), uint32(*hbMax), uint32(*hbKeep), uint32(*hbDrop), *eox, *single); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(pciAddr string, bar2Sz int64, mode string, freq, bcMax, hbMax, hbKeep, hbDrop uint32, eox, single bool) error {
	bar2, closeBar2, err := bar.Open(pciAddr, 2, bar2Sz)
	if err != nil {
		return fmt.Errorf("could not open BAR2: %w", err)
	}
	defer closeBar2()

	emu := ctp.New(bar2)

	if mode == "" && !eox && !single {
		info, err := emu.Read()
		if err != nil {
			return fmt.Errorf("could not read CTP registers: %w", err)
		}
		log.Printf("mode=%s bc-max=%d hb-max=%d hb-keep=%d hb-drop=%d",
			info.Mode, info.BCMax, info.HBMax, info.HBKeep, info.HBDrop)
		return nil
	}

	info := ctp.Info{
		BCMax:                 bcMax,
		HBMax:                 hbMax,
		HBKeep:                hbKeep,
		HBDrop:                hbDrop,
		Frequency:             freq,
		GenerateEox:           eox,
		GenerateSingleTrigger: single,
	}
	if mode != "" {
		m, err := parseMode(mode)
		if err != nil {
			return err
		}
		info.Mode = m
	}

	if err := emu.Emulate(info); err != nil {
		return fmt.Errorf("could not emulate CTP: %w", err)
	}
	log.Printf("armed mode=%s", info.Mode)
	return nil
}

func parseMode(s string) (ctp.TriggerMode, error) {
	switch s {
	case "manual":
		return ctp.Manual, nil
	case "periodic":
		return ctp.Periodic, nil
	case "continuous":
		return ctp.Continuous, nil
	case "fixed":
		return ctp.Fixed, nil
	case "hc":
		return ctp.Hc, nil
	case "cal":
		return ctp.Cal, nil
	default:
		return 0, fmt.Errorf("roc-ctp: unknown trigger mode %q", s)
	}
}
