// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"github.com/go-lpc/roc/card"
	"github.com/go-lpc/roc/rocerr"
)

// crorcEngine implements Engine for the CRORC family: fixed-page-size
// DMA, a DIU/SIU link stack, and a generator-or-trigger deferred
// start depending on data source.
type crorcEngine struct {
	core *core
}

var _ Engine = (*crorcEngine)(nil)

func (e *crorcEngine) resetLevelFor() card.ResetLevel {
	switch e.core.dataSource {
	case card.Siu, card.Fee:
		return card.ResetInternalDiuSiu
	case card.Diu:
		return card.ResetInternalDiu
	default:
		return card.ResetInternal
	}
}

// startFamily mirrors startPendingDma: the internal generator is
// armed and started when the data source is local, otherwise the
// link is asserted up and the configured trigger handshake (Rdyrx or
// Stbrd) is issued.
func (e *crorcEngine) startFamily() error {
	if e.core.dataSource == card.Ddg {
		return rocerr.New(rocerr.UnsupportedFeature, "card/crorc: data source Ddg is not supported")
	}

	switch e.core.dataSource {
	case card.Internal, card.Diu:
		if err := e.core.ctl.ArmDataGenerator(uint32(e.core.pageSize)); err != nil {
			return err
		}
		return e.core.ctl.StartDataGenerator()
	default:
		if err := e.core.ctl.AssertLinkUp(); err != nil {
			return err
		}
		cmd := card.TriggerRdyrx
		if e.core.stbrd {
			cmd = card.TriggerStbrd
		}
		return e.core.ctl.StartTrigger(e.core.diuCfg, cmd)
	}
}

// verifySize is a no-op: CRORC reports completion length only through
// the descriptor ring, with no separate per-link size-index FIFO to
// cross-check against.
func (e *crorcEngine) verifySize(length uint32) error { return nil }

func (e *crorcEngine) stopFamily() error {
	switch e.core.dataSource {
	case card.Internal, card.Diu:
		return e.core.ctl.StopDataGenerator()
	default:
		return e.core.ctl.StopTrigger(e.core.diuCfg)
	}
}

func (e *crorcEngine) StartDma() error                    { return e.core.startDma(e) }
func (e *crorcEngine) StopDma() error                     { return e.core.stopDma(e) }
func (e *crorcEngine) ResetChannel(l card.ResetLevel) error { return e.core.resetChannel(l) }
func (e *crorcEngine) PushSuperpage(sp Superpage) error   { return e.core.pushSuperpage(sp) }
func (e *crorcEngine) FillSuperpages() error              { return e.core.fillSuperpages(e) }
func (e *crorcEngine) GetSuperpage() (Superpage, error)   { return e.core.getSuperpage() }
func (e *crorcEngine) PopSuperpage() (Superpage, error)   { return e.core.popSuperpage() }
func (e *crorcEngine) GetTransferQueueAvailable() int     { return e.core.getTransferQueueAvailable() }
func (e *crorcEngine) GetReadyQueueSize() int             { return e.core.getReadyQueueSize() }
func (e *crorcEngine) IsTransferQueueEmpty() bool         { return e.core.isTransferQueueEmpty() }
func (e *crorcEngine) IsReadyQueueFull() bool             { return e.core.isReadyQueueFull() }
func (e *crorcEngine) GetSuperpageQueueCount() int        { return e.core.getSuperpageQueueCount() }
func (e *crorcEngine) GetSuperpageQueueAvailable() int    { return e.core.getSuperpageQueueAvailable() }
func (e *crorcEngine) State() State                       { return e.core.State() }
func (e *crorcEngine) Close() error                       { return e.core.close(e) }
