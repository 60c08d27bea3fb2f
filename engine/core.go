// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-lpc/roc/buffer"
	"github.com/go-lpc/roc/card"
	"github.com/go-lpc/roc/internal/ring"
	"github.com/go-lpc/roc/lock"
	"github.com/go-lpc/roc/queue"
	"github.com/go-lpc/roc/rocerr"
)

// family is implemented separately by crorcEngine and cruEngine: the
// two places the card families genuinely differ once the shared
// card.Control contract is in place.
type family interface {
	// startFamily executes the deferred generator/trigger start the
	// first FillSuperpages call performs after StartDma.
	startFamily() error
	// stopFamily undoes startFamily; called from StopDma.
	stopFamily() error
	// resetLevelFor picks the reset level a plain StartDma should
	// arm to, based on the configured data source.
	resetLevelFor() card.ResetLevel
	// verifySize checks a just-completed superpage's byte length
	// against any family-specific reported-size accounting. CRORC has
	// none and always returns nil; CRU cross-checks against the
	// per-link superpage-size-index FIFO when the underlying
	// card.Control exposes it.
	verifySize(length uint32) error
}

// core holds the state and logic shared by every card family: queues,
// descriptor ring, channel lock, and the push/fill/pop state machine.
// Concrete engines embed core and add the family-specific deferred
// start/stop behavior.
type core struct {
	msg        *log.Logger
	cardID     string
	channel    int
	pageSize   uint64
	dataSource card.DataSource
	genPattern card.GeneratorPattern
	stbrd      bool

	ctl   card.Control
	buf   buffer.Provider
	rng   *ring.Ring
	ringM buffer.Provider
	lk    *lock.Lock

	transferQ *queue.Queue[Superpage]
	readyQ    *queue.Queue[Superpage]

	cancel *atomic.Bool
	state  State
	diuCfg card.DiuConfig

	onFault func(key, reason string)
	faulted bool // guards onFault so it fires once per fault, not once per FillSuperpages call
}

func (c *core) key() string {
	return fmt.Sprintf("%s/%d", c.cardID, c.channel)
}

func (c *core) State() State { return c.state }

// StartDma probes the link, arms it to the level its data source
// requires, points the data receiver at the descriptor ring, clears
// both queues and the ring, and moves to PendingStart. It never
// starts the generator or trigger itself: that is FillSuperpages'
// job, on its first call that observes admitted work.
func (c *core) startDma(f family) error {
	if c.state != Stopped {
		return rocerr.New(rocerr.InvalidParameter, "engine.StartDma: channel not Stopped")
	}

	cfg, err := c.ctl.InitDiuVersion()
	if err != nil {
		return rocerr.Wrap(rocerr.LinkTimeout, "engine.StartDma", err)
	}
	c.diuCfg = cfg

	if err := c.ctl.ArmDdl(f.resetLevelFor(), c.diuCfg); err != nil {
		return rocerr.Wrap(rocerr.LinkDown, "engine.StartDma", err)
	}

	busAddr, err := c.rng.BusAddr()
	if err != nil {
		return rocerr.Wrap(rocerr.BufferTooSmall, "engine.StartDma", err)
	}
	if err := c.ctl.StartDataReceiver(busAddr); err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, "engine.StartDma", err)
	}

	if err := c.rng.Reset(); err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, "engine.StartDma", err)
	}
	c.transferQ.Reset()
	c.readyQ.Reset()

	c.state = PendingStart
	return nil
}

// StopDma is idempotent: stopping an already-Stopped channel is a
// no-op. Any partially filled superpage in the ring is left there,
// neither completed nor popped.
func (c *core) stopDma(f family) error {
	if c.state == Stopped {
		return nil
	}
	if err := f.stopFamily(); err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, "engine.StopDma", err)
	}
	if err := c.ctl.StopDataReceiver(); err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, "engine.StopDma", err)
	}
	c.state = Stopped
	return nil
}

// ResetChannel runs the cascading reset for level, returning the
// channel to Stopped. Repeating the same level is equivalent to
// running it once, since every step it takes is itself idempotent
// register state, not accumulated state. At InternalDiuSiu, DIU and
// SIU are reset as two distinct ResetCommand calls, each followed by
// its own settle pause, matching deviceResetChannel's
// resetCommand(DIU)/sleep/resetCommand(SIU)/sleep cascade rather than
// folding both into a single combined write.
func (c *core) resetChannel(level card.ResetLevel) error {
	cfg, err := c.ctl.InitDiuVersion()
	if err != nil {
		return rocerr.Wrap(rocerr.LinkTimeout, "engine.ResetChannel", err)
	}
	c.diuCfg = cfg

	if level.AtLeast(card.ResetInternalDiuSiu) {
		if err := c.ctl.ResetCommand(card.ResetInternalDiu, c.diuCfg); err != nil {
			return rocerr.Wrap(rocerr.ProtocolError, "engine.ResetChannel", err)
		}
		time.Sleep(card.SettlePause)

		if err := c.ctl.ResetCommand(card.ResetInternalDiuSiu, c.diuCfg); err != nil {
			return rocerr.Wrap(rocerr.ProtocolError, "engine.ResetChannel", err)
		}
		time.Sleep(card.SettlePause)

		if err := c.ctl.AssertLinkUp(); err != nil {
			return rocerr.Wrap(rocerr.LinkDown, "engine.ResetChannel", err)
		}
	} else {
		if err := c.ctl.ResetCommand(level, c.diuCfg); err != nil {
			return rocerr.Wrap(rocerr.ProtocolError, "engine.ResetChannel", err)
		}
		time.Sleep(card.SettlePause)
	}

	if err := c.rng.Reset(); err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, "engine.ResetChannel", err)
	}
	c.transferQ.Reset()
	c.readyQ.Reset()
	c.state = Stopped
	c.faulted = false
	return nil
}

// pushSuperpage validates sp, translates its offset to a bus address,
// submits a descriptor, and appends sp to the transfer queue.
func (c *core) pushSuperpage(sp Superpage) error {
	if c.state == Faulted {
		return rocerr.New(rocerr.ProtocolError, "engine.PushSuperpage: channel is Faulted")
	}
	if c.pageSize == 0 || sp.Size%c.pageSize != 0 {
		return rocerr.New(rocerr.InvalidParameter, "engine.PushSuperpage: size not a multiple of the DMA page size")
	}
	if c.transferQ.Full() {
		return rocerr.New(rocerr.QueueFull, "engine.PushSuperpage: transfer queue full")
	}

	busAddr, err := buffer.Bus(c.buf, sp.Offset, sp.Size)
	if err != nil {
		return rocerr.Wrap(rocerr.InvalidParameter, "engine.PushSuperpage", err)
	}

	slot, err := c.rng.Push()
	if err != nil {
		return rocerr.Wrap(rocerr.QueueFull, "engine.PushSuperpage", err)
	}

	words := uint32(sp.Size / 4)
	if err := c.ctl.PushRxFreeFifo(busAddr, words, slot); err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, "engine.PushSuperpage", err)
	}

	sp.Received = 0
	sp.Ready = false
	_ = c.transferQ.Push(sp) // capacity already checked above

	return nil
}

// fillSuperpages executes the deferred start, then drains as many
// strictly in-order whole completions as are available into the
// ready queue. A cancellation flag raised before the deferred start
// has fired (spec.md's injectable SIGINT-style token) suppresses that
// start: the channel stays PendingStart rather than arming a
// generator or trigger that would immediately need to be torn down.
// Once Running, a later cancellation never cuts a drain pass short —
// every already-arrived completion still reaches the ready queue, so
// a client polling FillSuperpages/PopSuperpage in a loop (as
// cmd/roc-bench does after a cancel) keeps receiving completions
// until it has drained what it pushed.
func (c *core) fillSuperpages(f family) error {
	if c.state == PendingStart && !c.transferQ.Empty() {
		if c.cancel != nil && c.cancel.Load() {
			return nil
		}
		if err := f.startFamily(); err != nil {
			kind := rocerr.LinkDown
			var rerr *rocerr.Error
			if errors.As(err, &rerr) && rerr.Kind == rocerr.UnsupportedFeature {
				kind = rocerr.UnsupportedFeature
			}
			return rocerr.Wrap(kind, "engine.FillSuperpages", err)
		}
		c.state = Running
	}

	for c.rng.Size() > 0 && !c.readyQ.Full() {
		slot := c.rng.Back()
		status, length, raw, err := c.rng.Probe(slot)
		if err != nil {
			return rocerr.Wrap(rocerr.ProtocolError, "engine.FillSuperpages", err)
		}

		switch status {
		case ring.WholeArrived:
			if err := c.rng.Advance(); err != nil {
				return rocerr.Wrap(rocerr.ProtocolError, "engine.FillSuperpages", err)
			}
			if err := f.verifySize(length); err != nil {
				return rocerr.Wrap(rocerr.ProtocolError, "engine.FillSuperpages", err)
			}
			sp, err := c.transferQ.Pop()
			if err != nil {
				return rocerr.Wrap(rocerr.ProtocolError, "engine.FillSuperpages", err)
			}
			sp.Received = uint64(length)
			sp.Ready = true
			_ = c.readyQ.Push(sp) // bounded by the loop condition above

		case ring.PartArrived, ring.NoneArrived:
			return nil

		default: // ring.Error
			c.state = Faulted
			if !c.faulted {
				c.faulted = true
				if c.onFault != nil {
					c.onFault(c.key(), "descriptor error bit set")
				}
			}
			return rocerr.NewDataArrival("engine.FillSuperpages", slot, raw, length)
		}
	}

	return nil
}

func (c *core) getSuperpage() (Superpage, error) {
	sp, err := c.readyQ.Front()
	if err != nil {
		return Superpage{}, rocerr.Wrap(rocerr.Empty, "engine.GetSuperpage", err)
	}
	return sp, nil
}

func (c *core) popSuperpage() (Superpage, error) {
	sp, err := c.readyQ.Pop()
	if err != nil {
		return Superpage{}, rocerr.Wrap(rocerr.Empty, "engine.PopSuperpage", err)
	}
	return sp, nil
}

func (c *core) getTransferQueueAvailable() int { return c.transferQ.Available() }
func (c *core) getReadyQueueSize() int         { return c.readyQ.Len() }
func (c *core) isTransferQueueEmpty() bool     { return c.transferQ.Empty() }
func (c *core) isReadyQueueFull() bool         { return c.readyQ.Full() }

func (c *core) getSuperpageQueueCount() int {
	return c.transferQ.Len() + c.readyQ.Len()
}

func (c *core) getSuperpageQueueAvailable() int {
	return c.transferQ.Available() + c.readyQ.Available()
}

func (c *core) close(f family) error {
	_ = c.stopDma(f)
	err := c.ringM.Close()
	if lerr := c.lk.Release(); err == nil {
		err = lerr
	}
	if err != nil {
		return rocerr.Wrap(rocerr.ProtocolError, "engine.Close", err)
	}
	return nil
}
