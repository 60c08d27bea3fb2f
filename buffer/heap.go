// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buffer

import (
	"fmt"
	"unsafe"

	"github.com/go-lpc/roc/internal/mmap"
	"golang.org/x/sys/unix"
)

// Heap is a small, non-huge-page Provider. It backs the Descriptor
// Ring deliberately: a hugepage-backed region may be rounded up to a
// much larger size than requested, which would mis-size a ring that
// is supposed to be exactly R*sizeof(descriptor) bytes.
type Heap struct {
	h    *mmap.Handle
	sgl  []Entry
	base uintptr
}

// NewHeap anonymously mmaps size bytes of DMA-coherent-enough memory
// (PROT_READ|PROT_WRITE, MAP_SHARED|MAP_ANONYMOUS) and records
// busAddr as its single scatter/gather entry's bus address. Real bus
// address resolution, like for Hugepage, is the job of the externally
// injected PCI/IOMMU layer.
func NewHeap(size uint64, busAddr uintptr) (*Heap, error) {
	data, err := unix.Mmap(
		-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		return nil, fmt.Errorf("buffer: could not mmap %d bytes of heap memory: %w", size, err)
	}

	var base uintptr
	if len(data) > 0 {
		base = uintptr(unsafe.Pointer(&data[0]))
	}

	return &Heap{
		h:    mmap.HandleFrom(data),
		base: base,
		sgl:  []Entry{{UserAddr: base, BusAddr: busAddr, Size: size}},
	}, nil
}

func (b *Heap) Addr() uintptr                            { return b.base }
func (b *Heap) Size() uint64                              { return uint64(b.h.Len()) }
func (b *Heap) SGL() []Entry                              { return b.sgl }
func (b *Heap) Close() error                              { return b.h.Close() }
func (b *Heap) ReadAt(p []byte, off int64) (int, error)   { return b.h.ReadAt(p, off) }
func (b *Heap) WriteAt(p []byte, off int64) (int, error)  { return b.h.WriteAt(p, off) }

var (
	_ Provider = (*Heap)(nil)
	_ Provider = (*Hugepage)(nil)
)
