// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rocsh is an interactive shell for driving one DMA channel
// by hand: start/stop the channel, push and pop superpages one at a
// time, and inspect queue state, without writing a benchmark.
package main // import "github.com/go-lpc/roc/cmd/rocsh"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/peterh/liner"

	"github.com/go-lpc/roc/buffer"
	"github.com/go-lpc/roc/card"
	"github.com/go-lpc/roc/card/crorc"
	"github.com/go-lpc/roc/card/cru"
	"github.com/go-lpc/roc/engine"
	"github.com/go-lpc/roc/internal/bar"
)

func main() {
	var (
		cardType = flag.String("card", "crorc", "card family: crorc|cru")
		pciAddr  = flag.String("pci", "/sys/bus/pci/devices/0000:01:00.0", "sysfs PCI device directory")
		barIdx   = flag.Int("bar", 0, "BAR index to map")
		barSize  = flag.Int64("bar-size", 1<<20, "BAR window size, in bytes")
		channel  = flag.Int("channel", 0, "DMA channel number")
		link     = flag.Uint("link", 0, "CRU link number (cru only)")
		pageSize = flag.Uint64("page-size", 8192, "DMA page size, in bytes")
		stateDir = flag.String("state-dir", "/var/run/roc", "directory for per-channel lock files")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rocsh [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.SetPrefix("rocsh: ")
	log.SetFlags(0)

	if err := run(*cardType, *pciAddr, *barIdx, *barSize, *channel, uint32(*link), *pageSize, *stateDir); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(cardType, pciAddr string, barIdx int, barSize int64, channel int, link uint32, pageSize uint64, stateDir string) error {
	msg := log.New(os.Stderr, "rocsh: ", 0)

	bar0, closeBar, err := bar.Open(pciAddr, barIdx, barSize)
	if err != nil {
		return fmt.Errorf("could not open BAR%d: %w", barIdx, err)
	}
	defer closeBar()

	var ctl card.Control
	var ct engine.CardType
	switch cardType {
	case "cru":
		ctl, ct = cru.New(bar0, link, msg), engine.CRU
	default:
		ctl, ct = crorc.New(bar0, msg), engine.CRORC
	}

	buf, err := buffer.WithFallback(fmt.Sprintf("/dev/hugepages/rocsh-%d", channel), 16<<20, 0xdead0000)
	if err != nil {
		return fmt.Errorf("could not allocate data buffer: %w", err)
	}
	defer buf.Close()

	cancel := &atomic.Bool{}
	eng, err := engine.New(
		engine.WithCardType(ct),
		engine.WithCardID(pciAddr),
		engine.WithChannel(channel),
		engine.WithDmaPageSize(pageSize),
		engine.WithDataSource(card.Internal),
		engine.WithStateDir(stateDir),
		engine.WithBuffer(buf),
		engine.WithControl(ctl),
		engine.WithCancel(cancel),
		engine.WithLogger(msg),
	)
	if err != nil {
		return fmt.Errorf("could not build engine: %w", err)
	}
	defer eng.Close()

	sh := &shell{eng: eng, pageSize: pageSize, slots: buf.Size() / pageSize}
	return sh.loop(os.Stdin, os.Stdout)
}

type shell struct {
	eng      engine.Engine
	pageSize uint64
	slots    uint64
	next     uint64
}

func (sh *shell) loop(in io.Reader, out io.Writer) error {
	st := liner.NewLiner()
	defer st.Close()
	st.SetCtrlCAborts(true)

	for {
		line, err := st.Prompt("rocsh> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		st.AppendHistory(line)

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if err := sh.dispatch(fields[0], fields[1:], out); err != nil {
			if err == errQuit {
				return nil
			}
			fmt.Fprintf(out, "error: %+v\n", err)
		}
	}
}

var errQuit = fmt.Errorf("rocsh: quit")

func (sh *shell) dispatch(cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "help":
		fmt.Fprint(out, helpText)
	case "start":
		return sh.eng.StartDma()
	case "stop":
		return sh.eng.StopDma()
	case "reset":
		level := card.ResetInternalDiuSiu
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid reset level %q: %w", args[0], err)
			}
			level = card.ResetLevel(n)
		}
		return sh.eng.ResetChannel(level)
	case "push":
		sp := engine.Superpage{Offset: sh.next * sh.pageSize, Size: sh.pageSize}
		if err := sh.eng.PushSuperpage(sp); err != nil {
			return err
		}
		sh.next = (sh.next + 1) % sh.slots
		fmt.Fprintf(out, "pushed offset=%d size=%d\n", sp.Offset, sp.Size)
	case "fill":
		return sh.eng.FillSuperpages()
	case "pop":
		sp, err := sh.eng.PopSuperpage()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "popped offset=%d received=%d\n", sp.Offset, sp.Received)
	case "status":
		fmt.Fprintf(out, "state=%s transfer-avail=%d ready-size=%d superpage-queue=%d/%d\n",
			sh.eng.State(), sh.eng.GetTransferQueueAvailable(), sh.eng.GetReadyQueueSize(),
			sh.eng.GetSuperpageQueueCount(), sh.eng.GetSuperpageQueueCount()+sh.eng.GetSuperpageQueueAvailable())
	case "quit", "exit":
		return errQuit
	default:
		fmt.Fprintf(out, "unknown command %q (try \"help\")\n", cmd)
	}
	return nil
}

const helpText = `commands:
  start            start the DMA channel
  stop             stop the DMA channel
  reset [level]    reset the channel (default: internal+DIU+SIU)
  push             push one superpage carved from the shell's data buffer
  fill             drive descriptor-ring completion detection
  pop              pop one completed superpage
  status           print engine/queue state
  help             print this text
  quit, exit       leave the shell
`
