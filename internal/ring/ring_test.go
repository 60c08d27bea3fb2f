// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ring

import (
	"math"
	"sync"
	"testing"

	"github.com/go-lpc/roc/buffer"
)

// fakeMem is an in-memory buffer.Provider used by tests, in the
// teacher's fake-device style (eda/fake_device_test.go): a plain
// byte slice behind a mutex rather than a mocking framework.
type fakeMem struct {
	mu  sync.Mutex
	mem []byte
}

func newFakeMem(n int) *fakeMem { return &fakeMem{mem: make([]byte, n)} }

func (f *fakeMem) Addr() uintptr { return 0 }
func (f *fakeMem) Size() uint64  { return uint64(len(f.mem)) }
func (f *fakeMem) SGL() []buffer.Entry {
	return []buffer.Entry{{BusAddr: 0xcafe0000, Size: uint64(len(f.mem))}}
}
func (f *fakeMem) Close() error { return nil }
func (f *fakeMem) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(p, f.mem[off:])
	return n, nil
}
func (f *fakeMem) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(f.mem[off:], p)
	return n, nil
}

// setStatus writes directly into a slot's status/length words as if
// firmware had just completed a descriptor.
func setStatus(f *fakeMem, slot int, length uint32, status int32) {
	off := int64(slot * descriptorSize)
	buf := make([]byte, descriptorSize)
	putU32 := func(b []byte, v uint32) {
		b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
	putU32(buf[0:4], length)
	putU32(buf[4:8], uint32(status))
	_, _ = f.WriteAt(buf, off)
}

func TestRingResetAndPushAdvance(t *testing.T) {
	mem := newFakeMem(4 * descriptorSize)
	r, err := New(mem, 4)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}

	if got, want := r.Size(), 0; got != want {
		t.Fatalf("invalid initial size: got=%d, want=%d", got, want)
	}

	for i := 0; i < 4; i++ {
		status, _, _, err := r.Probe(i)
		if err != nil {
			t.Fatalf("could not probe slot %d: %+v", i, err)
		}
		if status != NoneArrived {
			t.Fatalf("slot %d: got=%v, want=%v", i, status, NoneArrived)
		}
	}

	slot, err := r.Push()
	if err != nil {
		t.Fatalf("could not push: %+v", err)
	}
	if slot != 0 {
		t.Fatalf("invalid slot: got=%d, want=0", slot)
	}
	if got, want := r.Size(), 1; got != want {
		t.Fatalf("invalid size after push: got=%d, want=%d", got, want)
	}

	setStatus(mem, 0, 2048/4, DTSW)
	status, length, _, err := r.Probe(0)
	if err != nil {
		t.Fatalf("could not probe slot 0: %+v", err)
	}
	if status != WholeArrived {
		t.Fatalf("invalid status: got=%v, want=%v", status, WholeArrived)
	}
	if length != 2048 {
		t.Fatalf("invalid length: got=%d, want=2048", length)
	}

	if err := r.Advance(); err != nil {
		t.Fatalf("could not advance: %+v", err)
	}
	if got, want := r.Size(), 0; got != want {
		t.Fatalf("invalid size after advance: got=%d, want=%d", got, want)
	}

	status, _, _, err = r.Probe(0)
	if err != nil {
		t.Fatalf("could not probe slot 0 after advance: %+v", err)
	}
	if status != NoneArrived {
		t.Fatalf("slot not reset after advance: got=%v", status)
	}
}

func TestRingFull(t *testing.T) {
	mem := newFakeMem(2 * descriptorSize)
	r, err := New(mem, 2)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}

	if _, err := r.Push(); err != nil {
		t.Fatalf("push 1: %+v", err)
	}
	if _, err := r.Push(); err != nil {
		t.Fatalf("push 2: %+v", err)
	}
	if _, err := r.Push(); err == nil {
		t.Fatalf("expected ring-full error")
	}
}

func TestRingErrorBit(t *testing.T) {
	mem := newFakeMem(1 * descriptorSize)
	r, err := New(mem, 1)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}
	if _, err := r.Push(); err != nil {
		t.Fatalf("push: %+v", err)
	}

	setStatus(mem, 0, 100, DTSW|math.MinInt32)
	status, _, _, err := r.Probe(0)
	if err != nil {
		t.Fatalf("probe: %+v", err)
	}
	if status != Error {
		t.Fatalf("invalid status: got=%v, want=%v", status, Error)
	}
}

func TestRingTooSmall(t *testing.T) {
	mem := newFakeMem(1)
	_, err := New(mem, 4)
	if err == nil {
		t.Fatalf("expected an error for undersized backing memory")
	}
}
