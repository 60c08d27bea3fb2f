// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ring implements the firmware-visible descriptor ring (the
// "Ready FIFO"): a fixed-capacity ring of completion records the card
// writes into as superpages are filled.
package ring // import "github.com/go-lpc/roc/internal/ring"

import (
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/roc/buffer"
)

// DTSW is the completion-status sentinel indicating "whole transfer
// written" in the low byte of a descriptor's status word.
const DTSW = 0x1

// errorBit is bit 31 of a descriptor's status word.
const errorBit = 1 << 31

// Status is the outcome of probing a descriptor slot.
type Status int

const (
	// NoneArrived: status word is -1 (untouched).
	NoneArrived Status = iota
	// PartArrived: status word is 0 (partial arrival).
	PartArrived
	// WholeArrived: status word's low byte is DTSW, error bit clear.
	WholeArrived
	// Error: the error bit is set, or the status word is unrecognized.
	Error
)

func (s Status) String() string {
	switch s {
	case NoneArrived:
		return "none-arrived"
	case PartArrived:
		return "part-arrived"
	case WholeArrived:
		return "whole-arrived"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

const descriptorSize = 8 // {length uint32, status int32}

// Ring is a fixed-capacity ring of {length, status} descriptors, laid
// out in DMA-coherent memory obtained from a buffer.Provider (in
// practice a buffer.Heap, never a hugepage-backed region: hugepage
// rounding would mis-size the ring, per spec.md §4.3).
type Ring struct {
	mem buffer.Provider
	cap int

	front int // next slot firmware will write
	back  int // next slot the engine will inspect
	size  int
}

// New returns a Ring of capacity cap backed by mem. mem must be at
// least cap*8 bytes.
func New(mem buffer.Provider, cap int) (*Ring, error) {
	if mem.Size() < uint64(cap*descriptorSize) {
		return nil, fmt.Errorf(
			"ring: backing memory too small: have=%d, need=%d",
			mem.Size(), cap*descriptorSize,
		)
	}
	r := &Ring{mem: mem, cap: cap}
	if err := r.Reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// Cap returns the ring's fixed capacity R.
func (r *Ring) Cap() int { return r.cap }

// Size returns the number of slots currently between back and front.
func (r *Ring) Size() int { return r.size }

// Front returns the next slot index firmware will write.
func (r *Ring) Front() int { return r.front }

// Back returns the next slot index the engine will inspect.
func (r *Ring) Back() int { return r.back }

// BusAddr returns the bus address of the ring's backing memory, for
// handing to the card's "start data receiver" register.
func (r *Ring) BusAddr() (uintptr, error) {
	return buffer.Bus(r.mem, 0, r.mem.Size())
}

// Reset clears every slot to NoneArrived and resets front/back/size
// to zero.
func (r *Ring) Reset() error {
	for i := 0; i < r.cap; i++ {
		if err := r.resetSlot(i); err != nil {
			return fmt.Errorf("ring: could not reset slot %d: %w", i, err)
		}
	}
	r.front, r.back, r.size = 0, 0, 0
	return nil
}

func (r *Ring) resetSlot(i int) error {
	var buf [descriptorSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], 0)
	binary.LittleEndian.PutUint32(buf[4:8], 0xffffffff) // status = -1
	// WriteAt's own synchronization (a syscall boundary for mmap'd
	// memory, or a mutex for a fake in-memory provider in tests)
	// stands in for the release fence spec.md's design notes call
	// for: the zero-fill must be visible before firmware is told
	// this slot is free again.
	_, err := r.mem.WriteAt(buf[:], int64(i*descriptorSize))
	return err
}

// Push reserves the front slot for a new submission. It returns the
// slot index used and advances front. The caller is responsible for
// telling the firmware about this slot (bus address and word count)
// via the card's submission register; Push writes nothing into the
// ring's backing memory and only updates this side's cursors.
func (r *Ring) Push() (slot int, err error) {
	if r.size >= r.cap {
		return 0, fmt.Errorf("ring: full (cap=%d)", r.cap)
	}
	slot = r.front
	r.front = (r.front + 1) % r.cap
	r.size++
	return slot, nil
}

// Probe inspects slot back (or any slot index, for testing) and
// returns its arrival status; its length (in bytes for WholeArrived,
// the card's raw 32-bit word count for Error, zero otherwise); and the
// raw status word as written by the card.
func (r *Ring) Probe(slot int) (Status, uint32, uint32, error) {
	// ReadAt must happen-before interpreting a status firmware may
	// have just written; this is the acquire side of the fence
	// spec.md's design notes call for.
	var buf [descriptorSize]byte
	_, err := r.mem.ReadAt(buf[:], int64(slot*descriptorSize))
	if err != nil {
		return Error, 0, 0, fmt.Errorf("ring: could not read slot %d: %w", slot, err)
	}

	length := binary.LittleEndian.Uint32(buf[0:4])
	raw := binary.LittleEndian.Uint32(buf[4:8])
	status := int32(raw)

	switch {
	case status == -1:
		return NoneArrived, 0, raw, nil
	case status == 0:
		return PartArrived, 0, raw, nil
	case (uint32(status) & 0xff) == DTSW && uint32(status)&errorBit == 0:
		return WholeArrived, length * 4, raw, nil
	default:
		return Error, length, raw, nil
	}
}

// Advance pops the back slot (which must have been observed
// WholeArrived by the caller), resetting it to NoneArrived and
// advancing back.
func (r *Ring) Advance() error {
	if r.size == 0 {
		return fmt.Errorf("ring: advance on empty ring")
	}
	if err := r.resetSlot(r.back); err != nil {
		return fmt.Errorf("ring: could not reset slot %d on advance: %w", r.back, err)
	}
	r.back = (r.back + 1) % r.cap
	r.size--
	return nil
}
