// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"errors"
	"sync"

	"github.com/go-lpc/roc/card"
)

var (
	errLinkDown = errors.New("fake: link down")
	errFifoFull = errors.New("fake: free fifo full")
)

// fakeControl is a card.Control double in the teacher's fake-device
// style (eda/fake_device_test.go): in-memory bookkeeping instead of a
// mocking framework, with knobs the tests flip directly.
type fakeControl struct {
	mu sync.Mutex

	linkDown   bool
	fifoFull   bool
	started    bool
	generating bool
	triggering bool
	resets     []card.ResetLevel
	pushes     []fakePush

	// Arrivals are not modelled here: FillSuperpages reads the ring
	// directly, so tests stage them by writing into the ring's backing
	// memory (see setArrival in engine_test.go).
}

type fakePush struct {
	busAddr uintptr
	words   uint32
	slot    int
}

var _ card.Control = (*fakeControl)(nil)

func (f *fakeControl) InitDiuVersion() (card.DiuConfig, error) {
	return card.DiuConfig{Version: 0x42}, nil
}

func (f *fakeControl) ArmDdl(level card.ResetLevel, cfg card.DiuConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, level)
	return nil
}

func (f *fakeControl) ResetCommand(level card.ResetLevel, cfg card.DiuConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, level)
	return nil
}

func (f *fakeControl) SetLoopbackOff() error { return nil }
func (f *fakeControl) SetLoopbackOn() error  { return nil }

func (f *fakeControl) SetDiuLoopback(cfg card.DiuConfig) error { return nil }
func (f *fakeControl) SetSiuLoopback(cfg card.DiuConfig) error { return nil }

func (f *fakeControl) AssertLinkUp() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkDown {
		return errLinkDown
	}
	return nil
}

func (f *fakeControl) SiuCommand(cmd uint32) error { return nil }
func (f *fakeControl) DiuCommand(cmd uint32) error { return nil }

func (f *fakeControl) StartDataReceiver(busAddr uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeControl) StopDataReceiver() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	return nil
}

func (f *fakeControl) ArmDataGenerator(pageSize uint32) error { return nil }

func (f *fakeControl) StartDataGenerator() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generating = true
	return nil
}

func (f *fakeControl) StopDataGenerator() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generating = false
	return nil
}

func (f *fakeControl) StartTrigger(cfg card.DiuConfig, cmd card.TriggerCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggering = true
	return nil
}

func (f *fakeControl) StopTrigger(cfg card.DiuConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggering = false
	return nil
}

func (f *fakeControl) PushRxFreeFifo(busAddr uintptr, words uint32, slotIdx int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fifoFull {
		return errFifoFull
	}
	f.pushes = append(f.pushes, fakePush{busAddr, words, slotIdx})
	return nil
}

func (f *fakeControl) AssertFreeFifoEmpty() error { return nil }

func (f *fakeControl) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeControl) isGenerating() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generating
}

func (f *fakeControl) isTriggering() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggering
}
