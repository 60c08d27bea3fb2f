// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buffer

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/go-lpc/roc/internal/mmap"
	"golang.org/x/sys/unix"
)

// pageSize identifies the hugepage size a mapping is backed by.
type pageSize int

const (
	// OneGiBPage maps with MAP_HUGETLB and the 1 GiB size flag.
	// Buffers backed by 1 GiB hugepages are, in practice, a single
	// scatter/gather entry.
	OneGiBPage pageSize = 1 << 30
	// TwoMiBPage maps with MAP_HUGETLB and the 2 MiB size flag.
	// Buffers backed by 2 MiB hugepages typically produce many
	// scatter/gather entries.
	TwoMiBPage pageSize = 2 << 20
)

func (p pageSize) flag() int {
	switch p {
	case OneGiBPage:
		return unix.MAP_HUGETLB | (30 << unix.MAP_HUGE_SHIFT)
	case TwoMiBPage:
		return unix.MAP_HUGETLB | (21 << unix.MAP_HUGE_SHIFT)
	default:
		return 0
	}
}

// Hugepage is a Provider backed by one or more hugetlbfs-mapped
// files, each contributing one scatter/gather entry. The bus address
// of each entry is provided by the caller (the actual bus-address
// resolution is the job of the IOMMU/PCI layer that this module
// treats as an injected external collaborator, per spec.md §1).
type Hugepage struct {
	size pageSize
	h    *mmap.Handle
	sgl  []Entry
	base uintptr
	f    *os.File
}

// NewHugepage mmaps count pages of the given size from an already
// hugetlbfs-backed file fname, and builds a one-entry scatter/gather
// list using busAddr as the single entry's bus address. Multi-entry
// hugepage buffers (the common case for 2 MiB pages) are assembled by
// a higher-level allocator that knows the real per-page bus
// addresses; NewHugepage only deals with the common single-entry
// case and is the building block for that allocator.
func NewHugepage(fname string, size pageSize, count int, busAddr uintptr) (*Hugepage, error) {
	total := int(size) * count
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("buffer: could not open hugepage file %q: %w", fname, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
		}
	}()

	err = f.Truncate(int64(total))
	if err != nil {
		return nil, fmt.Errorf("buffer: could not size hugepage file %q to %d: %w", fname, total, err)
	}

	data, err := unix.Mmap(
		int(f.Fd()), 0, total,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|size.flag(),
	)
	if err != nil {
		return nil, fmt.Errorf("buffer: could not mmap %q (size=%d, hugepage=%d): %w", fname, total, size, err)
	}

	h := mmap.HandleFrom(data)
	var base uintptr
	if len(data) > 0 {
		base = uintptr(unsafe.Pointer(&data[0]))
	}

	return &Hugepage{
		size: size,
		h:    h,
		f:    f,
		base: base,
		sgl:  []Entry{{UserAddr: base, BusAddr: busAddr, Size: uint64(total)}},
	}, nil
}

func (b *Hugepage) Addr() uintptr       { return b.base }
func (b *Hugepage) Size() uint64        { return uint64(b.h.Len()) }
func (b *Hugepage) SGL() []Entry        { return b.sgl }
func (b *Hugepage) Close() error        { err := b.h.Close(); _ = b.f.Close(); return err }
func (b *Hugepage) ReadAt(p []byte, off int64) (int, error)  { return b.h.ReadAt(p, off) }
func (b *Hugepage) WriteAt(p []byte, off int64) (int, error) { return b.h.WriteAt(p, off) }

// WithFallback tries to allocate a 1 GiB hugepage-backed buffer of
// the requested size first, falling back to 2 MiB hugepages if the
// 1 GiB allocation fails (typically because the system has no free
// 1 GiB pages reserved). This "try big, then fall back" policy
// belongs to the allocator, not to the engine: the engine only ever
// sees a buffer.Provider.
func WithFallback(fname string, size uint64, busAddr uintptr) (Provider, error) {
	count1G := int((size + uint64(OneGiBPage) - 1) / uint64(OneGiBPage))
	if b, err := NewHugepage(fname, OneGiBPage, count1G, busAddr); err == nil {
		return b, nil
	}

	count2M := int((size + uint64(TwoMiBPage) - 1) / uint64(TwoMiBPage))
	b, err := NewHugepage(fname, TwoMiBPage, count2M, busAddr)
	if err != nil {
		return nil, fmt.Errorf("buffer: could not allocate %d bytes with either 1GiB or 2MiB hugepages: %w", size, err)
	}
	return b, nil
}
