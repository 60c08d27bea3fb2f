// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/go-lpc/roc/buffer"
	"github.com/go-lpc/roc/card"
	"github.com/go-lpc/roc/internal/ring"
)

// fakeBigBuffer stands in for the large pinned region superpages are
// carved out of; the ring's own backing memory is allocated
// internally by newCore and is reached through core.ringM instead.
type fakeBigBuffer struct {
	mem []byte
}

func newFakeBigBuffer(size uint64) *fakeBigBuffer {
	return &fakeBigBuffer{mem: make([]byte, size)}
}

func (f *fakeBigBuffer) Addr() uintptr { return 0 }
func (f *fakeBigBuffer) Size() uint64  { return uint64(len(f.mem)) }
func (f *fakeBigBuffer) SGL() []buffer.Entry {
	return []buffer.Entry{{BusAddr: 0xcafe0000, Size: uint64(len(f.mem))}}
}
func (f *fakeBigBuffer) Close() error                            { return nil }
func (f *fakeBigBuffer) ReadAt(p []byte, off int64) (int, error) { return copy(p, f.mem[off:]), nil }
func (f *fakeBigBuffer) WriteAt(p []byte, off int64) (int, error) {
	return copy(f.mem[off:], p), nil
}

// setArrival writes directly into a channel's ring backing memory, as
// firmware would on completing (or partially completing, or failing)
// a descriptor.
func setArrival(c *core, slot int, words uint32, status int32) {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], words)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(status))
	_, _ = c.ringM.WriteAt(buf[:], int64(slot*8))
}

func newTestEngine(t *testing.T, ctl *fakeControl, opts ...Option) (*crorcEngine, *core) {
	t.Helper()
	base := []Option{
		WithCardType(CRORC),
		WithCardID("0000:01:00.0"),
		WithChannel(0),
		WithStateDir(t.TempDir()),
		WithControl(ctl),
		WithBuffer(newFakeBigBuffer(1 << 20)),
		WithDataSource(card.Internal),
		WithRingCapacity(4),
		WithTransferQueueCapacity(4),
		WithReadyQueueCapacity(4),
	}
	e, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("could not build engine: %+v", err)
	}
	ce := e.(*crorcEngine)
	return ce, ce.core
}

func mustStart(t *testing.T, e Engine) {
	t.Helper()
	if err := e.StartDma(); err != nil {
		t.Fatalf("StartDma: %+v", err)
	}
}

// S1: a single superpage pushed, filled, and popped under internal
// loopback completes with Received == Size and Ready set.
func TestSingleSuperpageRoundTrip(t *testing.T) {
	ctl := &fakeControl{}
	e, c := newTestEngine(t, ctl)
	mustStart(t, e)

	sp := Superpage{Offset: 0, Size: 8192}
	if err := e.PushSuperpage(sp); err != nil {
		t.Fatalf("PushSuperpage: %+v", err)
	}

	if err := e.FillSuperpages(); err != nil {
		t.Fatalf("FillSuperpages (deferred start): %+v", err)
	}
	if !ctl.isGenerating() {
		t.Fatalf("expected the generator to have been armed and started")
	}
	if e.State() != Running {
		t.Fatalf("state: got=%v, want=%v", e.State(), Running)
	}

	if _, err := e.GetSuperpage(); unwrapKind(err) != Empty {
		t.Fatalf("expected Empty before arrival, got %+v", err)
	}

	setArrival(c, 0, 8192/4, ring.DTSW)
	if err := e.FillSuperpages(); err != nil {
		t.Fatalf("FillSuperpages (after arrival): %+v", err)
	}

	got, err := e.PopSuperpage()
	if err != nil {
		t.Fatalf("PopSuperpage: %+v", err)
	}
	if !got.Ready || !got.IsFilled() {
		t.Fatalf("superpage not fully handled: %+v", got)
	}
	if got.Received != 8192 {
		t.Fatalf("received: got=%d, want=8192", got.Received)
	}
}

// Conservation: a superpage whose size is not a multiple of the
// channel's DMA page size is rejected before it ever touches the
// ring.
func TestPushSuperpageRejectsWrongSize(t *testing.T) {
	e, _ := newTestEngine(t, &fakeControl{})
	mustStart(t, e)

	if err := e.PushSuperpage(Superpage{Size: 100}); err == nil {
		t.Fatalf("expected an InvalidParameter error")
	}
}

// S2: backpressure. Once the transfer queue's bound is hit,
// PushSuperpage fails instead of blocking.
func TestPushSuperpageBackpressure(t *testing.T) {
	e, _ := newTestEngine(t, &fakeControl{}, WithTransferQueueCapacity(2), WithRingCapacity(2))
	mustStart(t, e)

	for i := 0; i < 2; i++ {
		if err := e.PushSuperpage(Superpage{Offset: uint64(i) * 8192, Size: 8192}); err != nil {
			t.Fatalf("push %d: %+v", i, err)
		}
	}
	if err := e.PushSuperpage(Superpage{Offset: 2 * 8192, Size: 8192}); unwrapKind(err) != QueueFull {
		t.Fatalf("expected QueueFull, got %+v", err)
	}
}

// S5: strict in-order completion. If the back slot has not arrived,
// a later slot having arrived must not be surfaced.
func TestFillSuperpagesStrictOrdering(t *testing.T) {
	ctl := &fakeControl{}
	e, c := newTestEngine(t, ctl, WithRingCapacity(4), WithTransferQueueCapacity(4), WithReadyQueueCapacity(4))
	mustStart(t, e)

	for i := 0; i < 2; i++ {
		if err := e.PushSuperpage(Superpage{Offset: uint64(i) * 8192, Size: 8192}); err != nil {
			t.Fatalf("push %d: %+v", i, err)
		}
	}
	if err := e.FillSuperpages(); err != nil {
		t.Fatalf("deferred start: %+v", err)
	}

	// Slot 1 (front of the two) arrives whole; slot 0 (back) has not.
	setArrival(c, 1, 8192/4, ring.DTSW)
	if err := e.FillSuperpages(); err != nil {
		t.Fatalf("FillSuperpages: %+v", err)
	}
	if e.GetReadyQueueSize() != 0 {
		t.Fatalf("out-of-order arrival must not be surfaced: ready queue size=%d", e.GetReadyQueueSize())
	}

	setArrival(c, 0, 8192/4, ring.DTSW)
	if err := e.FillSuperpages(); err != nil {
		t.Fatalf("FillSuperpages: %+v", err)
	}
	if e.GetReadyQueueSize() != 2 {
		t.Fatalf("expected both superpages ready once in order, got=%d", e.GetReadyQueueSize())
	}
}

// Error-bit promotion: a descriptor with the error bit set faults the
// channel and is surfaced as a DataArrival error.
func TestFillSuperpagesErrorBitFaultsChannel(t *testing.T) {
	ctl := &fakeControl{}
	e, c := newTestEngine(t, ctl)
	mustStart(t, e)

	if err := e.PushSuperpage(Superpage{Size: 8192}); err != nil {
		t.Fatalf("PushSuperpage: %+v", err)
	}
	if err := e.FillSuperpages(); err != nil {
		t.Fatalf("deferred start: %+v", err)
	}

	setArrival(c, 0, 8192/4, int32(ring.DTSW)|math.MinInt32)
	err := e.FillSuperpages()
	if unwrapKind(err) != DataArrival {
		t.Fatalf("expected DataArrival, got %+v", err)
	}
	if e.State() != Faulted {
		t.Fatalf("state: got=%v, want=%v", e.State(), Faulted)
	}

	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *rocerr.Error, got %T", err)
	}
	if rerr.Slot != 0 {
		t.Fatalf("slot: got=%d, want=0", rerr.Slot)
	}
	if rerr.Status != ring.DTSW|(1<<31) {
		t.Fatalf("status: got=0x%x, want=0x%x", rerr.Status, ring.DTSW|(1<<31))
	}
	if rerr.Length != 8192/4 {
		t.Fatalf("length: got=%d, want=%d", rerr.Length, 8192/4)
	}

	if err := e.PushSuperpage(Superpage{Size: 8192}); unwrapKind(err) != ProtocolError {
		t.Fatalf("expected pushes to a Faulted channel to be rejected, got %+v", err)
	}
	if err := e.StopDma(); err != nil {
		t.Fatalf("StopDma on a Faulted channel must still succeed: %+v", err)
	}
}

// S4: reset cascade. ResetChannel at the link-stack level asserts the
// link and returns the channel to Stopped; repeating it succeeds again.
func TestResetChannelCascadeIsIdempotent(t *testing.T) {
	ctl := &fakeControl{}
	e, _ := newTestEngine(t, ctl)
	mustStart(t, e)

	if err := e.ResetChannel(card.ResetInternalDiuSiu); err != nil {
		t.Fatalf("ResetChannel: %+v", err)
	}
	if e.State() != Stopped {
		t.Fatalf("state: got=%v, want=%v", e.State(), Stopped)
	}
	if err := e.ResetChannel(card.ResetInternalDiuSiu); err != nil {
		t.Fatalf("second ResetChannel: %+v", err)
	}
}

// TestFillSuperpagesSkipsDeferredStartWhenCancelled is spec.md's
// injectable SIGINT-style token (§5, §8 S3): if the flag is already
// raised before the deferred start has fired, FillSuperpages must not
// arm the generator/trigger, and the channel stays PendingStart.
func TestFillSuperpagesSkipsDeferredStartWhenCancelled(t *testing.T) {
	ctl := &fakeControl{}
	cancel := &atomic.Bool{}
	e, _ := newTestEngine(t, ctl, WithCancel(cancel))
	mustStart(t, e)

	if err := e.PushSuperpage(Superpage{Size: 8192}); err != nil {
		t.Fatalf("PushSuperpage: %+v", err)
	}

	cancel.Store(true)
	if err := e.FillSuperpages(); err != nil {
		t.Fatalf("FillSuperpages: %+v", err)
	}
	if e.State() != PendingStart {
		t.Fatalf("state: got=%v, want=%v", e.State(), PendingStart)
	}
	if ctl.isGenerating() {
		t.Fatalf("generator should not have started once cancelled")
	}
}

// TestResetChannelCascadeResetsDiuThenSiu is spec.md scenario S4:
// resetting at InternalDiuSiu must issue two distinct ResetCommand
// calls, DIU before SIU, rather than folding both into one write.
func TestResetChannelCascadeResetsDiuThenSiu(t *testing.T) {
	ctl := &fakeControl{}
	e, _ := newTestEngine(t, ctl)
	mustStart(t, e)

	if err := e.ResetChannel(card.ResetInternalDiuSiu); err != nil {
		t.Fatalf("ResetChannel: %+v", err)
	}

	// mustStart's ArmDdl also appends to ctl.resets, so only the
	// trailing two calls (from ResetChannel itself) are checked.
	got := ctl.resets
	if len(got) < 2 {
		t.Fatalf("expected at least 2 reset calls, got %v", got)
	}
	last := got[len(got)-2:]
	want := []card.ResetLevel{card.ResetInternalDiu, card.ResetInternalDiuSiu}
	if last[0] != want[0] || last[1] != want[1] {
		t.Fatalf("reset call sequence: got=%v, want=%v", last, want)
	}
}

// S3: StopDma mid-stream (as a SIGINT handler would trigger) is
// idempotent and leaves the channel Stopped.
func TestStopDmaIdempotent(t *testing.T) {
	ctl := &fakeControl{}
	e, _ := newTestEngine(t, ctl)
	mustStart(t, e)

	if err := e.PushSuperpage(Superpage{Size: 8192}); err != nil {
		t.Fatalf("PushSuperpage: %+v", err)
	}
	if err := e.FillSuperpages(); err != nil {
		t.Fatalf("deferred start: %+v", err)
	}
	if !ctl.isGenerating() {
		t.Fatalf("expected the generator running before StopDma")
	}

	if err := e.StopDma(); err != nil {
		t.Fatalf("StopDma: %+v", err)
	}
	if ctl.isGenerating() {
		t.Fatalf("expected the generator stopped")
	}
	if err := e.StopDma(); err != nil {
		t.Fatalf("second StopDma must be a no-op: %+v", err)
	}
}

// Bounded queues: GetSuperpageQueueAvailable tracks both queues'
// combined headroom.
func TestSuperpageQueueAccounting(t *testing.T) {
	e, _ := newTestEngine(t, &fakeControl{}, WithTransferQueueCapacity(3), WithReadyQueueCapacity(3), WithRingCapacity(3))
	mustStart(t, e)

	if got, want := e.GetSuperpageQueueAvailable(), 6; got != want {
		t.Fatalf("available: got=%d, want=%d", got, want)
	}
	if err := e.PushSuperpage(Superpage{Size: 8192}); err != nil {
		t.Fatalf("PushSuperpage: %+v", err)
	}
	if got, want := e.GetSuperpageQueueCount(), 1; got != want {
		t.Fatalf("count: got=%d, want=%d", got, want)
	}
	if got, want := e.GetSuperpageQueueAvailable(), 5; got != want {
		t.Fatalf("available after push: got=%d, want=%d", got, want)
	}
}

// unwrapKind pulls the rocerr.Kind out of an error returned by the
// engine, for tests that only care about the kind and not the
// wrapping chain.
func unwrapKind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
