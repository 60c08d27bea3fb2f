// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cru

import (
	"io"
	"log"
	"sync"
	"testing"

	"github.com/go-lpc/roc/card"
	"github.com/go-lpc/roc/internal/bar"
)

type fakeBAR struct {
	mu   sync.Mutex
	regs map[int64]uint32
}

func newFakeBAR() *fakeBAR { return &fakeBAR{regs: map[int64]uint32{}} }

func (f *fakeBAR) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.regs[off]
	p[0] = byte(v)
	p[1] = byte(v >> 8)
	p[2] = byte(v >> 16)
	p[3] = byte(v >> 24)
	return 4, nil
}

func (f *fakeBAR) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[off] = uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
	return 4, nil
}

func newTestControl(rw *fakeBAR, link uint32) *Control {
	return New(bar.New(0, rw), link, log.New(io.Discard, "", 0))
}

func TestLinkOffsetIsolatesRegisters(t *testing.T) {
	rw := newFakeBAR()
	c0 := newTestControl(rw, 0)
	c1 := newTestControl(rw, 1)

	if err := c0.StartDataReceiver(0x1000); err != nil {
		t.Fatalf("c0: %+v", err)
	}
	if err := c1.StartDataReceiver(0x2000); err != nil {
		t.Fatalf("c1: %+v", err)
	}

	if got, want := rw.regs[c0.off(regRcvAdr)], uint32(0x1000); got != want {
		t.Fatalf("link0: got=0x%x, want=0x%x", got, want)
	}
	if got, want := rw.regs[c1.off(regRcvAdr)], uint32(0x2000); got != want {
		t.Fatalf("link1: got=0x%x, want=0x%x", got, want)
	}
}

func TestDiuSiuUnsupported(t *testing.T) {
	c := newTestControl(newFakeBAR(), 0)
	if err := c.SetDiuLoopback(card.DiuConfig{}); err == nil {
		t.Fatalf("expected UnsupportedFeature")
	}
	if err := c.SiuCommand(0); err == nil {
		t.Fatalf("expected UnsupportedFeature")
	}
}

// sizeFifoBAR models the LINK_SUPERPAGE_SIZE register as a real FIFO:
// each read pops the next canned entry, and writes are pure pop
// triggers that never land in backing storage — the card's readback
// is independent of the dummy value SuperpageSize writes, unlike the
// plain read/write registers fakeBAR models elsewhere in this file.
type sizeFifoBAR struct {
	*fakeBAR
	queue []uint32 // consumed in order, one entry per read
	next  int
	pin   uint32 // returned once queue is drained
}

func (f *sizeFifoBAR) ReadAt(p []byte, off int64) (int, error) {
	v := f.pin
	if f.next < len(f.queue) {
		v = f.queue[f.next]
		f.next++
	}
	p[0] = byte(v)
	p[1] = byte(v >> 8)
	p[2] = byte(v >> 16)
	p[3] = byte(v >> 24)
	return 4, nil
}

func (f *sizeFifoBAR) WriteAt(p []byte, off int64) (int, error) {
	return len(p), nil
}

func TestSuperpageSizeRetriesUntilIndexMatches(t *testing.T) {
	rw := &sizeFifoBAR{
		fakeBAR: newFakeBAR(),
		queue: []uint32{
			(7 << 24) | 0x001000, // stale FIFO entry: index 7, link expects 0
			(0 << 24) | 0x002000, // the entry the link was actually waiting for
		},
	}
	c := New(bar.New(0, rw), 0, log.New(io.Discard, "", 0))

	size, err := c.SuperpageSize()
	if err != nil {
		t.Fatalf("SuperpageSize: %+v", err)
	}
	if got, want := size, uint32(0x2000); got != want {
		t.Fatalf("got size=0x%x, want=0x%x", got, want)
	}
	if got, want := c.sizeIndexCounter, uint32(1); got != want {
		t.Fatalf("got counter=%d, want=%d", got, want)
	}
}

func TestSuperpageSizeTimesOutOnPersistentMismatch(t *testing.T) {
	// every readback reports index 5, which this link's counter (0)
	// never matches.
	rw := &sizeFifoBAR{fakeBAR: newFakeBAR(), pin: (5 << 24) | 0x003000}
	c := New(bar.New(0, rw), 0, log.New(io.Discard, "", 0))

	if _, err := c.SuperpageSize(); err == nil {
		t.Fatalf("expected LinkTimeout on persistent index mismatch")
	}
}
