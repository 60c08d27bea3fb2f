// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cru implements card.Control for the CRU card family: a
// multi-link endpoint with configurable DMA page sizes and a local
// CTP emulator reachable through BAR2.
package cru // import "github.com/go-lpc/roc/card/cru"

import (
	"log"
	"time"

	"github.com/go-lpc/roc/card"
	"github.com/go-lpc/roc/internal/bar"
	"github.com/go-lpc/roc/rocerr"
)

// Register byte offsets on BAR0 for the link this Control drives. A
// real multi-link endpoint has one block of these per link; Control
// is constructed already bound to one link's block via linkOffset.
const (
	regReset    = 0x00
	regStatus   = 0x04
	regGen      = 0x08
	regSrc      = 0x0c
	regPush     = 0x10 // {busAddrLo, words}
	regSPCount  = 0x18
	regSPSize   = 0x1c
	regTrig     = 0x20
	regRcvAdr   = 0x24
	regRcvCmd   = 0x28
)

const linkBlockSize = 0x40

const (
	bitResetLink = 1 << 0
	bitStatusNoSignal = 1 << 0
	bitGenEnable      = 1 << 0
	bitRcvStart       = 1 << 0
	bitRcvStop        = 0
)

const responseTime = 10 * time.Millisecond
const pollInterval = 100 * time.Microsecond

// Control drives one link of a CRU card's BAR0 register window.
type Control struct {
	bar  *bar.Bar
	link uint32
	msg  *log.Logger

	sizeIndexCounter uint32
}

// New returns a Control bound to bar0 for the given link index.
func New(bar0 *bar.Bar, link uint32, msg *log.Logger) *Control {
	return &Control{bar: bar0, link: link, msg: msg}
}

func (c *Control) off(reg int64) int64 { return reg + int64(c.link)*linkBlockSize }

func (c *Control) op(name string) string { return "card/cru." + name }

func (c *Control) InitDiuVersion() (card.DiuConfig, error) {
	// CRU has no discrete DIU module; the link status register
	// stands in for the version probe so the shared Control contract
	// still has something meaningful to read before timeouts are
	// computed.
	v := c.bar.Read32(c.off(regStatus))
	if err := c.bar.Err(); err != nil {
		return card.DiuConfig{}, rocerr.Wrap(rocerr.ProtocolError, c.op("InitDiuVersion"), err)
	}
	return card.DiuConfig{Version: v, PciLoopPerUsec: 1}, nil
}

func (c *Control) ArmDdl(level card.ResetLevel, cfg card.DiuConfig) error {
	c.bar.Write32(c.off(regReset), bitResetLink)
	time.Sleep(card.SettlePause)
	if level.AtLeast(card.ResetInternalDiuSiu) {
		if err := c.AssertLinkUp(); err != nil {
			return rocerr.Wrap(rocerr.LinkDown, c.op("ArmDdl"), err)
		}
	}
	return c.barErr("ArmDdl")
}

func (c *Control) ResetCommand(level card.ResetLevel, cfg card.DiuConfig) error {
	c.bar.Write32(c.off(regReset), bitResetLink)
	return c.barErr("ResetCommand")
}

func (c *Control) SetLoopbackOff() error { return nil }
func (c *Control) SetLoopbackOn() error  { return nil }

func (c *Control) SetDiuLoopback(cfg card.DiuConfig) error {
	return rocerr.New(rocerr.UnsupportedFeature, c.op("SetDiuLoopback"))
}

func (c *Control) SetSiuLoopback(cfg card.DiuConfig) error {
	return rocerr.New(rocerr.UnsupportedFeature, c.op("SetSiuLoopback"))
}

// AssertLinkUp polls the link's status register until it reports
// signal present.
func (c *Control) AssertLinkUp() error {
	deadline := time.Now().Add(responseTime)
	for {
		status := c.bar.Read32(c.off(regStatus))
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
	return rocerr.New(rocerr.UnsupportedFeature, c.op("SiuCommand"))
}

func (c *Control) DiuCommand(cmd uint32) error {
	return rocerr.New(rocerr.UnsupportedFeature, c.op("DiuCommand"))
}

func (c *Control) StartDataReceiver(busAddr uintptr) error {
	c.bar.Write32(c.off(regRcvAdr), uint32(busAddr))
	c.bar.Write32(c.off(regRcvCmd), bitRcvStart)
	return c.barErr("StartDataReceiver")
}

func (c *Control) StopDataReceiver() error {
	c.bar.Write32(c.off(regRcvCmd), bitRcvStop)
	return c.barErr("StopDataReceiver")
}

func (c *Control) ArmDataGenerator(pageSize uint32) error {
	c.bar.Write32(c.off(regGen), pageSize)
	c.sizeIndexCounter = 0
	return c.barErr("ArmDataGenerator")
}

func (c *Control) StartDataGenerator() error {
	c.bar.Write32(c.off(regGen), bitGenEnable)
	return c.barErr("StartDataGenerator")
}

func (c *Control) StopDataGenerator() error {
	c.bar.Write32(c.off(regGen), 0)
	return c.barErr("StopDataGenerator")
}

func (c *Control) StartTrigger(cfg card.DiuConfig, cmd card.TriggerCommand) error {
	c.bar.Write32(c.off(regTrig), uint32(cmd))
	return c.barErr("StartTrigger")
}

func (c *Control) StopTrigger(cfg card.DiuConfig) error {
	c.bar.Write32(c.off(regTrig), 0)
	return c.barErr("StopTrigger")
}

// PushRxFreeFifo submits a superpage descriptor to this link: busAddr
// and words describe the destination region. slotIdx is not written to
// the link; only the bus address and word count are.
func (c *Control) PushRxFreeFifo(busAddr uintptr, words uint32, slotIdx int) error {
	c.bar.Write32(c.off(regPush), uint32(busAddr))
	c.bar.Write32(c.off(regPush)+4, words)
	return c.barErr("PushRxFreeFifo")
}

// SuperpageSize reads the link's reported superpage size off the
// LINK_SUPERPAGE_SIZE FIFO. A write of any value pops the FIFO; the
// readback packs the size in bits [0:23] and a running index in bits
// [24:31]. PCIe writes can reach the host out of order relative to the
// read, so a stale entry's index may lag this link's expected counter;
// the original protocol re-reads until the index catches up, bounded
// here by responseTime instead of looping forever. On a match, the
// counter advances mod 256 and the reported size is returned.
func (c *Control) SuperpageSize() (uint32, error) {
	deadline := time.Now().Add(responseTime)
	for {
		c.bar.Write32(c.off(regSPSize), 0xbadcafe)
		fifo := c.bar.Read32(c.off(regSPSize))
		if err := c.bar.Err(); err != nil {
			return 0, rocerr.Wrap(rocerr.ProtocolError, c.op("SuperpageSize"), err)
		}

		size := fifo & 0xffffff
		index := fifo >> 24
		if index == c.sizeIndexCounter {
			c.sizeIndexCounter = (index + 1) % 256
			return size, nil
		}
		if time.Now().After(deadline) {
			return 0, rocerr.New(rocerr.LinkTimeout, c.op("SuperpageSize"))
		}
		time.Sleep(pollInterval)
	}
}

func (c *Control) AssertFreeFifoEmpty() error {
	count := c.bar.Read32(c.off(regSPCount))
	if err := c.bar.Err(); err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, c.op("AssertFreeFifoEmpty"), err)
	}
	if count != 0 {
		return rocerr.New(rocerr.LinkTimeout, c.op("AssertFreeFifoEmpty"))
	}
	return nil
}

func (c *Control) barErr(op string) error {
	if err := c.bar.Err(); err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, c.op(op), err)
	}
	return nil
}

var _ card.Control = (*Control)(nil)
