// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"github.com/go-lpc/roc/card"
	"github.com/go-lpc/roc/ctp"
	"github.com/go-lpc/roc/rocerr"
)

// superpageSizer is implemented by card/cru.Control; engine stays
// agnostic of the concrete card.Control type, so it reaches this
// capability through a type assertion rather than importing card/cru
// directly.
type superpageSizer interface {
	SuperpageSize() (uint32, error)
}

// cruEngine implements Engine for the CRU family: a configurable DMA
// page size and, optionally, a local CTP emulator driven through
// BAR2 instead of a real trigger link.
type cruEngine struct {
	core    *core
	ctp     *ctp.Emulator    // nil unless WithCTP was called on this engine
	ctpMode ctp.TriggerMode
}

var _ Engine = (*cruEngine)(nil)

// WithCTP attaches a CTP emulator to an already-built CRU Engine, for
// callers (typically cmd/roc-bench with --ctp) that want self-test triggers instead
// of a real CTP link. It is a no-op on a CRORC engine's Parameters.
func WithCTP(e Engine, emu *ctp.Emulator) {
	if ce, ok := e.(*cruEngine); ok {
		ce.ctp = emu
	}
}

// CTP returns the attached CTP emulator, or nil if none was set with
// WithCTP.
func CTP(e Engine) *ctp.Emulator {
	ce, ok := e.(*cruEngine)
	if !ok {
		return nil
	}
	return ce.ctp
}

// WithCTPMode sets the trigger mode startFamily arms the CTP emulator
// with. It takes effect when the deferred start in FillSuperpages
// arms the emulator. Defaults to ctp.Continuous.
func WithCTPMode(e Engine, mode ctp.TriggerMode) {
	if ce, ok := e.(*cruEngine); ok {
		ce.ctpMode = mode
	}
}

func (e *cruEngine) resetLevelFor() card.ResetLevel {
	return card.ResetInternalDiuSiu
}

// startFamily starts the internal generator when the data source is
// Internal, whether or not a CTP emulator is attached; otherwise it
// asserts the link up, arms the attached CTP emulator (if any) in the
// mode set with WithCTPMode, and issues the Rdyrx trigger.
func (e *cruEngine) startFamily() error {
	switch e.core.dataSource {
	case card.Internal:
		if err := e.core.ctl.ArmDataGenerator(uint32(e.core.pageSize)); err != nil {
			return err
		}
		return e.core.ctl.StartDataGenerator()
	default:
		if err := e.core.ctl.AssertLinkUp(); err != nil {
			return err
		}
		if e.ctp != nil {
			if err := e.ctp.Emulate(ctp.Info{Mode: e.ctpMode}); err != nil {
				return err
			}
		}
		return e.core.ctl.StartTrigger(e.core.diuCfg, card.TriggerRdyrx)
	}
}

// verifySize cross-checks a completed superpage's byte length against
// the link's superpage-size-index FIFO, when the attached card.Control
// exposes one (card/cru.Control does; the fake control doubles used in
// tests don't, and are skipped). A mismatch means the Ready FIFO
// completion and the size FIFO disagree about what the card actually
// wrote, which the original protocol treats as a sign PCIe reordering
// was not fully absorbed by the per-link index retry.
func (e *cruEngine) verifySize(length uint32) error {
	sz, ok := e.core.ctl.(superpageSizer)
	if !ok {
		return nil
	}
	reported, err := sz.SuperpageSize()
	if err != nil {
		return err
	}
	if reported != length {
		return rocerr.New(rocerr.ProtocolError, "card/cru: reported superpage size mismatch")
	}
	return nil
}

func (e *cruEngine) stopFamily() error {
	switch e.core.dataSource {
	case card.Internal:
		return e.core.ctl.StopDataGenerator()
	default:
		return e.core.ctl.StopTrigger(e.core.diuCfg)
	}
}

func (e *cruEngine) StartDma() error                    { return e.core.startDma(e) }
func (e *cruEngine) StopDma() error                     { return e.core.stopDma(e) }
func (e *cruEngine) ResetChannel(l card.ResetLevel) error { return e.core.resetChannel(l) }
func (e *cruEngine) PushSuperpage(sp Superpage) error   { return e.core.pushSuperpage(sp) }
func (e *cruEngine) FillSuperpages() error              { return e.core.fillSuperpages(e) }
func (e *cruEngine) GetSuperpage() (Superpage, error)   { return e.core.getSuperpage() }
func (e *cruEngine) PopSuperpage() (Superpage, error)   { return e.core.popSuperpage() }
func (e *cruEngine) GetTransferQueueAvailable() int     { return e.core.getTransferQueueAvailable() }
func (e *cruEngine) GetReadyQueueSize() int             { return e.core.getReadyQueueSize() }
func (e *cruEngine) IsTransferQueueEmpty() bool         { return e.core.isTransferQueueEmpty() }
func (e *cruEngine) IsReadyQueueFull() bool             { return e.core.isReadyQueueFull() }
func (e *cruEngine) GetSuperpageQueueCount() int        { return e.core.getSuperpageQueueCount() }
func (e *cruEngine) GetSuperpageQueueAvailable() int    { return e.core.getSuperpageQueueAvailable() }
func (e *cruEngine) State() State                       { return e.core.State() }
func (e *cruEngine) Close() error                       { return e.core.close(e) }
