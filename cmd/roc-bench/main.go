// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command roc-bench drives one DMA channel of a CRORC or CRU card
// end-to-end: push superpages, drain completions, and report
// throughput, optionally alerting an operator by email and recording
// the run in a MySQL registry.
package main // import "github.com/go-lpc/roc/cmd/roc-bench"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/sbinet/pmon"

	"github.com/go-lpc/roc/buffer"
	"github.com/go-lpc/roc/card"
	"github.com/go-lpc/roc/card/crorc"
	"github.com/go-lpc/roc/card/cru"
	"github.com/go-lpc/roc/ctp"
	"github.com/go-lpc/roc/engine"
	"github.com/go-lpc/roc/internal/alert"
	"github.com/go-lpc/roc/internal/bar"
	"github.com/go-lpc/roc/internal/rundb"
)

func main() {
	var (
		cardType  = flag.String("card", "crorc", "card family: crorc|cru")
		pciAddr   = flag.String("pci", "/sys/bus/pci/devices/0000:01:00.0", "sysfs PCI device directory")
		barIdx    = flag.Int("bar", 0, "BAR index to map")
		barSize   = flag.Int64("bar-size", 1<<20, "BAR window size, in bytes")
		bar2Size  = flag.Int64("bar2-size", 1<<20, "BAR2 window size, in bytes (cru only)")
		channel   = flag.Int("channel", 0, "DMA channel number")
		link      = flag.Uint("link", 0, "CRU link number (cru only)")
		ctpMode   = flag.String("ctp", "", "CRU CTP emulator trigger mode: manual|periodic|continuous|fixed|hc|cal (empty disables it)")
		dataSrc   = flag.String("source", "internal", "data source: internal|diu|siu|fee|ddg")
		pageSize  = flag.Uint64("page-size", 8192, "DMA page size, in bytes")
		npages    = flag.Int("pages", 0, "number of superpages to stream (0: until interrupted)")
		stateDir  = flag.String("state-dir", "/var/run/roc", "directory for per-channel lock files")
		errSample = flag.String("error-sample", "", "path to write bounded error-sample dumps to")
		maxErrs   = flag.Int("max-error-samples", 16, "maximum number of error samples to record")
		rundbDSN  = flag.String("rundb-dsn", "", "MySQL DSN for run history (empty disables it)")
		doMon     = flag.Bool("pmon", false, "self-monitor CPU/RSS with pmon")
		monFreq   = flag.Duration("pmon-freq", time.Second, "pmon sampling frequency")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: roc-bench [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.SetPrefix("roc-bench: ")
	log.SetFlags(0)

	cfg := benchConfig{
		cardType:  *cardType,
		pciAddr:   *pciAddr,
		barIdx:    *barIdx,
		barSize:   *barSize,
		bar2Size:  *bar2Size,
		channel:   *channel,
		link:      uint32(*link),
		ctpMode:   *ctpMode,
		dataSrc:   *dataSrc,
		pageSize:  *pageSize,
		npages:    *npages,
		stateDir:  *stateDir,
		errSample: *errSample,
		maxErrs:   *maxErrs,
		rundbDSN:  *rundbDSN,
		doMon:     *doMon,
		monFreq:   *monFreq,
	}
	if err := run(cfg); err != nil {
		log.Fatalf("%+v", err)
	}
}

type benchConfig struct {
	cardType  string
	pciAddr   string
	barIdx    int
	barSize   int64
	bar2Size  int64
	channel   int
	link      uint32
	ctpMode   string
	dataSrc   string
	pageSize  uint64
	npages    int
	stateDir  string
	errSample string
	maxErrs   int
	rundbDSN  string
	doMon     bool
	monFreq   time.Duration
}

func run(cfg benchConfig) error {
	msg := log.New(os.Stderr, "roc-bench: ", 0)

	ctl, emu, ctpMode, closeBars, err := buildControl(cfg, msg)
	if err != nil {
		return fmt.Errorf("could not build card control: %w", err)
	}
	defer closeBars()

	buf, err := buffer.WithFallback("/dev/hugepages/roc-bench", 64<<20, 0xcafe0000)
	if err != nil {
		return fmt.Errorf("could not allocate data buffer: %w", err)
	}
	defer buf.Close()

	var samples *sampleWriter
	if cfg.errSample != "" {
		samples, err = newSampleWriter(cfg.errSample, cfg.maxErrs)
		if err != nil {
			return fmt.Errorf("could not open error-sample file: %w", err)
		}
		defer samples.Close()
	}

	mailer := alert.New(alert.ConfigFromEnv(), msg, 5)

	var reg *rundb.DB
	var runID int64
	if cfg.rundbDSN != "" {
		reg, err = rundb.Open(cfg.rundbDSN)
		if err != nil {
			return fmt.Errorf("could not open run registry: %w", err)
		}
		defer reg.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		runID, err = reg.Start(ctx, cfg.pciAddr, cfg.channel, cfg.cardType, time.Now())
		cancel()
		if err != nil {
			msg.Printf("could not record run start: %+v", err)
			reg = nil
		}
	}

	cancel := &atomic.Bool{}
	ds, err := parseDataSource(cfg.dataSrc)
	if err != nil {
		return err
	}

	eng, err := engine.New(
		engine.WithCardType(cardTypeOf(cfg.cardType)),
		engine.WithCardID(cfg.pciAddr),
		engine.WithChannel(cfg.channel),
		engine.WithDmaPageSize(cfg.pageSize),
		engine.WithDataSource(ds),
		engine.WithStateDir(cfg.stateDir),
		engine.WithBuffer(buf),
		engine.WithControl(ctl),
		engine.WithCancel(cancel),
		engine.WithLogger(msg),
		engine.WithOnFault(func(key, reason string) { mailer.Faulted(key, reason) }),
	)
	if err != nil {
		return fmt.Errorf("could not build engine: %w", err)
	}
	defer eng.Close()

	if emu != nil {
		engine.WithCTP(eng, emu)
		engine.WithCTPMode(eng, ctpMode)
	}

	if cfg.doMon {
		stop, err := monitor(cfg.monFreq)
		if err != nil {
			msg.Printf("could not start pmon: %+v", err)
		} else {
			defer stop()
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)
	go func() {
		<-stop
		msg.Printf("interrupted, draining...")
		cancel.Store(true)
	}()

	if err := eng.StartDma(); err != nil {
		return fmt.Errorf("could not start DMA: %w", err)
	}

	stats, err := stream(eng, buf, cfg, cancel, samples)
	stopErr := eng.StopDma()
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("could not stop DMA: %w", stopErr)
	}

	msg.Printf("superpages: pushed=%d popped=%d bytes=%d errors=%d",
		stats.pushed, stats.popped, stats.bytes, stats.errors)

	if reg != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		finalState := eng.State().String()
		if err := reg.Stop(ctx, runID, time.Now(), int64(stats.popped), int64(stats.bytes), finalState); err != nil {
			msg.Printf("could not record run stop: %+v", err)
		}
		done()
	}

	return nil
}

func buildControl(cfg benchConfig, msg *log.Logger) (card.Control, *ctp.Emulator, ctp.TriggerMode, func() error, error) {
	bar0, closeBar0, err := bar.Open(cfg.pciAddr, cfg.barIdx, cfg.barSize)
	if err != nil {
		return nil, nil, 0, nil, err
	}

	if cfg.cardType != "cru" {
		return crorc.New(bar0, msg), nil, 0, closeBar0, nil
	}

	ctl := cru.New(bar0, cfg.link, msg)
	if cfg.ctpMode == "" {
		return ctl, nil, 0, closeBar0, nil
	}

	bar2, closeBar2, err := bar.Open(cfg.pciAddr, 2, cfg.bar2Size)
	if err != nil {
		_ = closeBar0()
		return nil, nil, 0, nil, fmt.Errorf("could not open BAR2 for CTP emulator: %w", err)
	}
	mode, err := parseCTPMode(cfg.ctpMode)
	if err != nil {
		_ = closeBar0()
		_ = closeBar2()
		return nil, nil, 0, nil, err
	}

	closeBoth := func() error {
		err := closeBar2()
		if berr := closeBar0(); err == nil {
			err = berr
		}
		return err
	}
	return ctl, ctp.New(bar2), mode, closeBoth, nil
}

func parseCTPMode(s string) (ctp.TriggerMode, error) {
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
		return 0, fmt.Errorf("roc-bench: unknown CTP trigger mode %q", s)
	}
}

func cardTypeOf(s string) engine.CardType {
	if s == "cru" {
		return engine.CRU
	}
	return engine.CRORC
}

func parseDataSource(s string) (card.DataSource, error) {
	switch s {
	case "internal":
		return card.Internal, nil
	case "diu":
		return card.Diu, nil
	case "siu":
		return card.Siu, nil
	case "fee":
		return card.Fee, nil
	case "ddg":
		return card.Ddg, nil
	default:
		return 0, fmt.Errorf("roc-bench: unknown data source %q", s)
	}
}

func monitor(freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not start pmon: %w", err)
	}
	f, err := os.Create("roc-bench-pmon.log")
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		if err := p.Run(); err != nil {
			log.Printf("pmon: %+v", err)
		}
	}()

	return func() {
		_ = p.Kill()
		_ = f.Close()
	}, nil
}
