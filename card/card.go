// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package card defines the capability set the DMA channel engine
// drives to control a readout card: reset levels, link arming, data
// generator and trigger control, and status reads. Concrete
// implementations live in card/crorc and card/cru.
package card // import "github.com/go-lpc/roc/card"

import "time"

// ResetLevel orders the cascading reset stages a channel can request.
// Level ordering is total: None < Internal < InternalDiu < InternalDiuSiu.
type ResetLevel int

const (
	ResetNone ResetLevel = iota
	ResetInternal
	ResetInternalDiu
	ResetInternalDiuSiu
)

func (l ResetLevel) String() string {
	switch l {
	case ResetNone:
		return "none"
	case ResetInternal:
		return "internal"
	case ResetInternalDiu:
		return "internal-diu"
	case ResetInternalDiuSiu:
		return "internal-diu-siu"
	default:
		return "unknown"
	}
}

// AtLeast reports whether l is at least as strong as other.
func (l ResetLevel) AtLeast(other ResetLevel) bool { return l >= other }

// DataSource selects where a channel's data originates.
type DataSource int

const (
	Internal DataSource = iota
	Diu
	Siu
	Fee
	Ddg
)

func (s DataSource) String() string {
	switch s {
	case Internal:
		return "internal"
	case Diu:
		return "diu"
	case Siu:
		return "siu"
	case Fee:
		return "fee"
	case Ddg:
		return "ddg"
	default:
		return "unknown"
	}
}

// GeneratorPattern selects the internal data generator's test pattern.
type GeneratorPattern int

const (
	Incremental GeneratorPattern = iota
	Alternating
	Constant
	Random
)

func (p GeneratorPattern) String() string {
	switch p {
	case Incremental:
		return "incremental"
	case Alternating:
		return "alternating"
	case Constant:
		return "constant"
	case Random:
		return "random"
	default:
		return "unknown"
	}
}

// DiuConfig is the link configuration read back once per channel by
// initDiuVersion: the DIU hardware version and the card's clock, used
// to translate a microsecond timeout into a register poll-loop count.
type DiuConfig struct {
	Version        uint32
	PciLoopPerUsec int64
}

// Timeout converts a response-time budget (RESPONSE_TIME) into a
// concrete poll-loop deadline, scaled by this DiuConfig's clock rate
// (PciLoopPerUsec). A zero or negative PciLoopPerUsec means no DIU
// version has been probed yet, so responseTime is returned unscaled.
func (c DiuConfig) Timeout(responseTime time.Duration) time.Duration {
	if c.PciLoopPerUsec <= 0 {
		return responseTime
	}
	return responseTime * time.Duration(c.PciLoopPerUsec)
}

// TriggerCommand selects the handshake issued to start streaming once
// a channel leaves PendingStart.
type TriggerCommand int

const (
	TriggerRdyrx TriggerCommand = iota
	TriggerStbrd
)

// Control is the capability set a card family's control surface must
// implement. Every method is a precise register sequence with
// bounded poll-and-timeout semantics; failures are reported as
// *rocerr.Error values of Kind LinkTimeout, LinkDown, or
// ProtocolError, or InvalidParameter / UnsupportedFeature for a
// request the card family cannot serve.
type Control interface {
	InitDiuVersion() (DiuConfig, error)
	ArmDdl(level ResetLevel, cfg DiuConfig) error
	ResetCommand(level ResetLevel, cfg DiuConfig) error
	SetLoopbackOff() error
	SetLoopbackOn() error
	SetDiuLoopback(cfg DiuConfig) error
	SetSiuLoopback(cfg DiuConfig) error
	AssertLinkUp() error
	SiuCommand(cmd uint32) error
	DiuCommand(cmd uint32) error

	StartDataReceiver(busAddr uintptr) error
	StopDataReceiver() error

	ArmDataGenerator(pageSize uint32) error
	StartDataGenerator() error
	StopDataGenerator() error

	StartTrigger(cfg DiuConfig, cmd TriggerCommand) error
	StopTrigger(cfg DiuConfig) error

	PushRxFreeFifo(busAddr uintptr, words uint32, slotIdx int) error
	AssertFreeFifoEmpty() error
}

// SettlePause is the mandatory settling delay the original protocol
// requires after every loopback/DIU/SIU register write. It is a
// protocol requirement, not a tunable optimization.
const SettlePause = 100 * time.Millisecond
