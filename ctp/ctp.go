// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ctp implements the CRU's local Central Trigger Processor
// emulator: a BAR2 register tuple a CRU engine can drive for
// self-tests and bench runs without a real CTP link attached.
package ctp // import "github.com/go-lpc/roc/ctp"

import (
	"github.com/go-lpc/roc/internal/bar"
)

// TriggerMode selects how the emulator paces triggers.
type TriggerMode int

const (
	Manual TriggerMode = iota
	Periodic
	Continuous
	Fixed
	Hc
	Cal
)

func (m TriggerMode) String() string {
	switch m {
	case Manual:
		return "manual"
	case Periodic:
		return "periodic"
	case Continuous:
		return "continuous"
	case Fixed:
		return "fixed"
	case Hc:
		return "hc"
	case Cal:
		return "cal"
	default:
		return "unknown"
	}
}

// Info is the parameter tuple emulateCtp consumes.
type Info struct {
	BCMax               uint32
	HBMax               uint32
	HBKeep              uint32
	HBDrop              uint32
	Mode                TriggerMode
	Frequency           uint32
	GenerateEox         bool
	GenerateSingleTrigger bool
}

// fixedBunchCrossings mirrors the original protocol's hard-coded
// bunch-crossing table used by Fixed trigger mode.
var fixedBunchCrossings = []uint32{
	0x10, 0x14d, 0x29a, 0x3e7, 0x534, 0x681, 0x7ce, 0x91b, 0xa68,
}

// Register byte offsets on BAR2.
const (
	regIdleMode   = 0x00
	regManualTrig = 0x04
	regReset      = 0x08
	regPhysDiv    = 0x0c
	regHcDiv      = 0x10
	regCalDiv     = 0x14
	regFixedBC    = 0x18 // one word per entry, regFixedBC..regFixedBC+4*(n-1)
	regMode       = 0x40
	regBCMax      = 0x44
	regHBMax      = 0x48
	regPrescaler  = 0x4c // {hbKeep: low 16, hbDrop: high 16}

	// Pattern player block, a separate downstream-data source from the
	// trigger emulation above.
	regDownstreamSelect = 0x60
	regPlayerConfig     = 0x64
	regPlayerIdle       = 0x68
	regPlayerSync       = 0x6c
	regPlayerReset      = 0x70
	regPlayerSyncFrame  = 0x74 // {syncLength: low 16, syncDelay: high 16}
	regPlayerResetLen   = 0x78
	regPlayerTrigSelect = 0x7c // {syncTriggerSelect: low 16, resetTriggerSelect: high 16}
	regPlayerSyncAtStart = 0x80
	regPlayerTrigReset  = 0x84
	regPlayerTrigSync   = 0x88
)

// downstreamPattern selects the pattern player as a link's downstream
// data source, as opposed to the CTP emulator or a real CTP link.
const downstreamPattern = 1

const defaultDiv = 5

// Emulator drives BAR2's CTP emulation register block.
type Emulator struct {
	bar2 *bar.Bar
}

// New returns an Emulator bound to bar2, which must be the card's BAR
// index 2.
func New(bar2 *bar.Bar) *Emulator {
	return &Emulator{bar2: bar2}
}

// Emulate writes the documented register tuple for info. When
// GenerateEox is set, it only arms the idle/end-of-x-over mode; when
// GenerateSingleTrigger is set, it only pulses a manual trigger;
// otherwise it configures and then enables periodic/fixed emulation,
// matching the original protocol's three mutually exclusive branches.
func (e *Emulator) Emulate(info Info) error {
	switch {
	case info.GenerateEox:
		e.bar2.Write32(regIdleMode, 1)
		return e.bar2.Err()
	case info.GenerateSingleTrigger:
		e.bar2.Write32(regManualTrig, 1)
		return e.bar2.Err()
	}

	e.bar2.Write32(regReset, 1)

	mode := info.Mode
	switch info.Mode {
	case Periodic:
		e.bar2.Write32(regPhysDiv, info.Frequency)
		e.bar2.Write32(regHcDiv, defaultDiv)
		e.bar2.Write32(regCalDiv, defaultDiv)
	case Hc:
		mode = Periodic
		e.bar2.Write32(regPhysDiv, defaultDiv)
		e.bar2.Write32(regHcDiv, info.Frequency)
		e.bar2.Write32(regCalDiv, defaultDiv)
	case Cal:
		mode = Periodic
		e.bar2.Write32(regPhysDiv, defaultDiv)
		e.bar2.Write32(regHcDiv, defaultDiv)
		e.bar2.Write32(regCalDiv, info.Frequency)
	case Fixed:
		mode = Periodic
		e.bar2.Write32(regPhysDiv, defaultDiv)
		for i, bc := range fixedBunchCrossings {
			e.bar2.Write32(regFixedBC+int64(i)*4, bc)
		}
	}

	e.bar2.Write32(regMode, uint32(mode))
	e.bar2.Write32(regBCMax, info.BCMax)
	e.bar2.Write32(regHBMax, info.HBMax)
	e.bar2.Write32(regPrescaler, info.HBKeep|(info.HBDrop<<16))

	e.bar2.Write32(regReset, 0)

	return e.bar2.Err()
}

// PatternPlayerInfo configures the CRU's local downstream pattern
// player: a fixed idle/sync/reset pattern generator driven independent
// of both the CTP emulator above and a real CTP link, used for link
// self-tests.
type PatternPlayerInfo struct {
	IdlePattern  uint32
	SyncPattern  uint32
	ResetPattern uint32

	SyncLength uint32
	SyncDelay  uint32

	ResetLength uint32

	SyncTriggerSelect  uint32
	ResetTriggerSelect uint32

	SyncAtStart  bool
	TriggerReset bool
	TriggerSync  bool
}

// PatternPlayer configures and arms the pattern player, mirroring the
// original protocol's patternPlayer sequence: select the pattern
// player as the link's downstream data source, load whichever of the
// idle/sync/reset patterns were requested, configure sync/reset
// framing and trigger selects, then optionally fire a one-shot
// reset/sync pulse.
func (e *Emulator) PatternPlayer(info PatternPlayerInfo) error {
	e.bar2.Write32(regDownstreamSelect, downstreamPattern)
	e.bar2.Write32(regPlayerConfig, 1)

	if info.IdlePattern != 0 {
		e.bar2.Write32(regPlayerIdle, info.IdlePattern)
	}
	if info.SyncPattern != 0 {
		e.bar2.Write32(regPlayerSync, info.SyncPattern)
	}
	if info.ResetPattern != 0 {
		e.bar2.Write32(regPlayerReset, info.ResetPattern)
	}

	e.bar2.Write32(regPlayerSyncFrame, info.SyncLength|(info.SyncDelay<<16))
	e.bar2.Write32(regPlayerResetLen, info.ResetLength)
	e.bar2.Write32(regPlayerTrigSelect, info.SyncTriggerSelect|(info.ResetTriggerSelect<<16))

	e.bar2.Write32(regPlayerConfig, 0)

	if info.SyncAtStart {
		e.bar2.Write32(regPlayerSyncAtStart, 1)
	}
	if info.TriggerReset {
		e.bar2.Write32(regPlayerTrigReset, 1)
	}
	if info.TriggerSync {
		e.bar2.Write32(regPlayerTrigSync, 1)
	}

	return e.bar2.Err()
}

// Read reads back the register tuple Emulate last wrote, for
// self-test verification (spec.md scenario S6).
func (e *Emulator) Read() (Info, error) {
	prescaler := e.bar2.Read32(regPrescaler)
	info := Info{
		Mode:   TriggerMode(e.bar2.Read32(regMode)),
		BCMax:  e.bar2.Read32(regBCMax),
		HBMax:  e.bar2.Read32(regHBMax),
		HBKeep: prescaler & 0xffff,
		HBDrop: prescaler >> 16,
	}
	return info, e.bar2.Err()
}
