// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buffer owns the big pinned, DMA-mappable region that an
// engine hands out to the card in superpage-sized chunks. It is
// opaque to the engine: the engine only ever asks for the base
// address, the total size, and the scatter/gather table.
package buffer // import "github.com/go-lpc/roc/buffer"

import (
	"fmt"
)

// Entry is one scatter/gather list entry: a contiguous run that is
// addressable both from user-space (userAddr) and from the card
// (busAddr).
type Entry struct {
	UserAddr uintptr
	BusAddr  uintptr
	Size     uint64
}

// Provider owns a contiguous, pinned region of memory and exposes it
// as a base address, a size, and an ordered scatter/gather list.
//
// The region need not be bus-contiguous across Entry boundaries: the
// IOMMU may coalesce it into a single Entry, or it may not. Callers
// must not assume contiguity between entries.
type Provider interface {
	// Addr returns the user-space base address of the region.
	Addr() uintptr
	// Size returns the total size, in bytes, of the region.
	Size() uint64
	// SGL returns the ordered scatter/gather list covering the
	// region.
	SGL() []Entry
	// ReadAt/WriteAt give byte-level access to the region itself,
	// e.g. for the Descriptor Ring's backing store.
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	// Close releases the underlying mapping.
	Close() error
}

// Bus translates a byte offset into the region into the bus address
// the card should use to reach it. It fails if the offset does not
// fall within exactly one scatter/gather entry, or if the requested
// [offset, offset+size) run straddles an entry boundary: the engine
// must not assume contiguity in bus space across scatter/gather
// entries, so a straddling superpage is rejected rather than guessed
// at.
func Bus(p Provider, off, size uint64) (uintptr, error) {
	var base uint64
	for _, e := range p.SGL() {
		end := base + e.Size
		if off >= base && off < end {
			if off+size > end {
				return 0, fmt.Errorf(
					"buffer: offset=%d size=%d straddles scatter/gather entry boundary at %d",
					off, size, end,
				)
			}
			return e.BusAddr + uintptr(off-base), nil
		}
		base = end
	}
	return 0, fmt.Errorf("buffer: offset=%d out of range (size=%d)", off, p.Size())
}
