// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package queue

import (
	"fmt"
	"sync/atomic"
)

// SPSC is a lock-free, fixed-capacity ring buffer of byte offsets,
// safe for exactly one producer goroutine calling Push and exactly one
// consumer goroutine calling Pop concurrently. It is not part of the
// engine: it is the recommended building block for client code that
// wants to push superpage offsets from one goroutine while another
// drains ready superpages, without hand-rolling the index arithmetic
// the Descriptor Ring already needs internally.
type SPSC struct {
	buf  []uint64
	mask uint64

	head atomic.Uint64 // next slot producer writes
	tail atomic.Uint64 // next slot consumer reads
}

// NewSPSC returns a ring of the given capacity, which must be a power
// of two.
func NewSPSC(capacity int) (*SPSC, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("queue: SPSC capacity must be a power of two, got %d", capacity)
	}
	return &SPSC{
		buf:  make([]uint64, capacity),
		mask: uint64(capacity - 1),
	}, nil
}

// Push enqueues v. It reports false if the ring is full.
func (s *SPSC) Push(v uint64) bool {
	head := s.head.Load()
	tail := s.tail.Load()
	if head-tail == uint64(len(s.buf)) {
		return false
	}
	s.buf[head&s.mask] = v
	s.head.Store(head + 1)
	return true
}

// Pop dequeues the oldest value. It reports false if the ring is
// empty.
func (s *SPSC) Pop() (uint64, bool) {
	tail := s.tail.Load()
	head := s.head.Load()
	if tail == head {
		return 0, false
	}
	v := s.buf[tail&s.mask]
	s.tail.Store(tail + 1)
	return v, true
}

// Len returns a snapshot of the number of queued values. Under
// concurrent use by the producer and consumer it is advisory only.
func (s *SPSC) Len() int {
	return int(s.head.Load() - s.tail.Load())
}

// Cap returns the ring's fixed capacity.
func (s *SPSC) Cap() int { return len(s.buf) }
