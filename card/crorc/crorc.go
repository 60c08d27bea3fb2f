// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crorc implements card.Control for the CRORC card family:
// fixed 8 KiB DMA pages, a DIU/SIU optical link stack, and a cascading
// reset protocol with mandatory settling pauses.
package crorc // import "github.com/go-lpc/roc/card/crorc"

import (
	"log"
	"time"

	"github.com/go-lpc/roc/card"
	"github.com/go-lpc/roc/internal/bar"
	"github.com/go-lpc/roc/rocerr"
)

// PageSize is the card family's single supported DMA page size.
const PageSize = 8192

// Register byte offsets on BAR0, named after the reset/status bit
// groups the original protocol addresses them by.
const (
	regReset  = 0x10 // write: reset bit mask
	regStatus = 0x14 // read: link/status bits
	regDDL    = 0x18 // write: DDL command word
	regDiu    = 0x1c // read/write: DIU command/readback
	regSiu    = 0x20 // read/write: SIU command/readback
	regLoop   = 0x24 // write: loopback enable bits
	regGen    = 0x28 // write: data generator control
	regRxFifo = 0x30 // write: free FIFO push {busAddrLo, words, slot}
	regRxCSR  = 0x34 // read: free FIFO status
	regTrig   = 0x38 // write: trigger command
	regRcvAdr = 0x3c // write: ready FIFO bus address
	regRcvCmd = 0x40 // write: start/stop data receiver
)

const (
	bitResetRORC = 1 << 0
	bitResetDIU  = 1 << 1
	bitResetSIU  = 1 << 2
	bitResetFF   = 1 << 3

	bitStatusNoSignal  = 1 << 0
	bitStatusLinkUp    = 1 << 1
	bitRxFifoNotEmpty  = 1 << 0
	bitRxFifoCmdStart  = 1 << 0
	bitRxFifoCmdStop   = 0
	bitGenCmdStart     = 1 << 0
	bitGenCmdStop      = 0
	bitLoopOn          = 1 << 0

	// cmdRandCIFST is the DIU/SIU "clear status" command word the
	// original protocol issues once the link is confirmed up, so a
	// stale status word left over from the just-finished reset isn't
	// mistaken for a fresh one.
	cmdRandCIFST = 1 << 4
)

// RESPONSE_TIME in the original protocol's terms: the microsecond
// budget a bounded poll loop gets before it reports LinkTimeout.
const responseTime = 10 * time.Millisecond

const pollInterval = 100 * time.Microsecond

// Control drives a CRORC card's BAR0 register window.
type Control struct {
	bar *bar.Bar
	msg *log.Logger

	loopbackOn bool
	cfg        card.DiuConfig // set by InitDiuVersion; scales poll-loop deadlines
}

// New returns a Control bound to bar0, logging diagnostics to msg.
func New(bar0 *bar.Bar, msg *log.Logger) *Control {
	return &Control{bar: bar0, msg: msg}
}

func (c *Control) op(name string) string { return "card/crorc." + name }

// InitDiuVersion probes the DIU register to learn the link hardware
// version, required before any poll-loop timeout can be translated
// into a loop count.
func (c *Control) InitDiuVersion() (card.DiuConfig, error) {
	v := c.bar.Read32(regDiu)
	if err := c.bar.Err(); err != nil {
		return card.DiuConfig{}, rocerr.Wrap(rocerr.ProtocolError, c.op("InitDiuVersion"), err)
	}
	cfg := card.DiuConfig{Version: v, PciLoopPerUsec: 1}
	c.cfg = cfg
	return cfg, nil
}

// ArmDdl runs the arm sequence for the requested reset level: reset
// the RORC core, optionally cascade into DIU/SIU, then settle.
func (c *Control) ArmDdl(level card.ResetLevel, cfg card.DiuConfig) error {
	c.bar.Write32(regReset, bitResetRORC)
	if level.AtLeast(card.ResetInternalDiu) {
		c.bar.Write32(regReset, bitResetDIU)
		if level.AtLeast(card.ResetInternalDiuSiu) {
			time.Sleep(card.SettlePause)
			c.bar.Write32(regReset, bitResetSIU)
			c.bar.Write32(regReset, bitResetDIU)
		}
	}
	c.bar.Write32(regReset, bitResetRORC)
	time.Sleep(card.SettlePause)

	if level.AtLeast(card.ResetInternalDiuSiu) {
		if err := c.AssertLinkUp(); err != nil {
			return rocerr.Wrap(rocerr.LinkDown, c.op("ArmDdl"), err)
		}
		if err := c.SiuCommand(cmdRandCIFST); err != nil {
			return err
		}
		if err := c.DiuCommand(cmdRandCIFST); err != nil {
			return err
		}
	}
	time.Sleep(card.SettlePause)

	c.bar.Write32(regReset, bitResetFF)
	time.Sleep(card.SettlePause)
	if err := c.AssertFreeFifoEmpty(); err != nil {
		return err
	}

	if err := c.bar.Err(); err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, c.op("ArmDdl"), err)
	}
	return nil
}

// ResetCommand writes the reset bit mask for a single level, without
// the full arm cascade ArmDdl runs. It returns without a settle pause.
func (c *Control) ResetCommand(level card.ResetLevel, cfg card.DiuConfig) error {
	var bits uint32
	switch level {
	case card.ResetInternal:
		bits = bitResetRORC
	case card.ResetInternalDiu:
		bits = bitResetRORC | bitResetDIU
	case card.ResetInternalDiuSiu:
		bits = bitResetRORC | bitResetDIU | bitResetSIU
	}
	c.bar.Write32(regReset, bits)
	if err := c.bar.Err(); err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, c.op("ResetCommand"), err)
	}
	return nil
}

func (c *Control) SetLoopbackOff() error {
	c.loopbackOn = false
	c.bar.Write32(regLoop, 0)
	return c.barErr("SetLoopbackOff")
}

func (c *Control) SetLoopbackOn() error {
	c.loopbackOn = true
	c.bar.Write32(regLoop, bitLoopOn)
	return c.barErr("SetLoopbackOn")
}

func (c *Control) SetDiuLoopback(cfg card.DiuConfig) error {
	c.bar.Write32(regDiu, bitLoopOn)
	return c.barErr("SetDiuLoopback")
}

func (c *Control) SetSiuLoopback(cfg card.DiuConfig) error {
	c.bar.Write32(regSiu, bitLoopOn)
	return c.barErr("SetSiuLoopback")
}

// AssertLinkUp polls the status register until the link reports
// signal present, or returns LinkDown once the DiuConfig-scaled
// response-time budget has elapsed.
func (c *Control) AssertLinkUp() error {
	deadline := time.Now().Add(c.cfg.Timeout(responseTime))
	for {
		status := c.bar.Read32(regStatus)
		if err := c.bar.Err(); err != nil {
			return rocerr.Wrap(rocerr.ProtocolError, c.op("AssertLinkUp"), err)
		}
		if status&bitStatusNoSignal == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return rocerr.New(rocerr.LinkDown, c.op("AssertLinkUp"))
		}
		time.Sleep(pollInterval)
	}
}

func (c *Control) SiuCommand(cmd uint32) error {
	c.bar.Write32(regSiu, cmd)
	return c.barErr("SiuCommand")
}

func (c *Control) DiuCommand(cmd uint32) error {
	c.bar.Write32(regDiu, cmd)
	return c.barErr("DiuCommand")
}

// StartDataReceiver points the ready FIFO at busAddr and enables the
// receiver.
func (c *Control) StartDataReceiver(busAddr uintptr) error {
	c.bar.Write32(regRcvAdr, uint32(busAddr))
	c.bar.Write32(regRcvCmd, bitRxFifoCmdStart)
	return c.barErr("StartDataReceiver")
}

func (c *Control) StopDataReceiver() error {
	c.bar.Write32(regRcvCmd, bitRxFifoCmdStop)
	return c.barErr("StopDataReceiver")
}

func (c *Control) ArmDataGenerator(pageSize uint32) error {
	if pageSize != PageSize {
		return rocerr.New(rocerr.InvalidParameter, c.op("ArmDataGenerator"))
	}
	c.bar.Write32(regGen, pageSize)
	return c.barErr("ArmDataGenerator")
}

func (c *Control) StartDataGenerator() error {
	if c.loopbackOn {
		time.Sleep(card.SettlePause)
	}
	c.bar.Write32(regGen, bitGenCmdStart)
	return c.barErr("StartDataGenerator")
}

func (c *Control) StopDataGenerator() error {
	c.bar.Write32(regGen, bitGenCmdStop)
	return c.barErr("StopDataGenerator")
}

func (c *Control) StartTrigger(cfg card.DiuConfig, cmd card.TriggerCommand) error {
	c.bar.Write32(regTrig, uint32(cmd))
	return c.barErr("StartTrigger")
}

func (c *Control) StopTrigger(cfg card.DiuConfig) error {
	c.bar.Write32(regTrig, 0)
	return c.barErr("StopTrigger")
}

// PushRxFreeFifo submits one free page to slot slotIdx of the ready
// FIFO, busAddr/words describing the destination superpage chunk.
func (c *Control) PushRxFreeFifo(busAddr uintptr, words uint32, slotIdx int) error {
	c.bar.Write32(regRxFifo, uint32(busAddr))
	c.bar.Write32(regRxFifo+4, words)
	c.bar.Write32(regRxFifo+8, uint32(slotIdx))
	return c.barErr("PushRxFreeFifo")
}

// AssertFreeFifoEmpty polls the free FIFO status register until it
// reports empty.
func (c *Control) AssertFreeFifoEmpty() error {
	deadline := time.Now().Add(responseTime)
	for {
		status := c.bar.Read32(regRxCSR)
		if err := c.bar.Err(); err != nil {
			return rocerr.Wrap(rocerr.ProtocolError, c.op("AssertFreeFifoEmpty"), err)
		}
		if status&bitRxFifoNotEmpty == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return rocerr.New(rocerr.LinkTimeout, c.op("AssertFreeFifoEmpty"))
		}
		time.Sleep(pollInterval)
	}
}

func (c *Control) barErr(op string) error {
	if err := c.bar.Err(); err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, c.op(op), err)
	}
	return nil
}

var _ card.Control = (*Control)(nil)
