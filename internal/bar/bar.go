// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bar provides 32-bit read/write access to a memory-mapped
// PCIe BAR (Base Address Register) window. It knows nothing about the
// meaning of any particular register; card control packages build on
// top of it.
package bar // import "github.com/go-lpc/roc/internal/bar"

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/go-lpc/roc/internal/mmap"
	"golang.org/x/sys/unix"
)

// rwer is the minimal surface bar.Bar needs from the backing memory:
// a mmap'd region addressable by byte offset.
type rwer interface {
	io.ReaderAt
	io.WriterAt
}

// Bar is a 32-bit little-endian register window over a single BAR
// index of a card.
type Bar struct {
	index int
	rw    rwer

	err atomic.Pointer[error]
	buf [4]byte
}

// New returns a Bar bound to BAR index idx, backed by rw.
func New(idx int, rw rwer) *Bar {
	return &Bar{index: idx, rw: rw}
}

// Open mmaps the sysfs resource file for BAR idx of the PCI device at
// addr (e.g. "/sys/bus/pci/devices/0000:01:00.0/resource0") and
// returns a Bar bound to it. size is the BAR's byte length, as
// reported by the device's "resource" file. The caller is
// responsible for closing the returned *os.File's mapping via the
// returned close func once the Bar is no longer needed.
func Open(addr string, idx int, size int64) (*Bar, func() error, error) {
	path := fmt.Sprintf("%s/resource%d", addr, idx)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("bar: could not open %q: %w", path, err)
	}

	data, err := unix.Mmap(
		int(f.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("bar: could not mmap %q: %w", path, err)
	}

	h := mmap.HandleFrom(data)
	closeFn := func() error {
		err := h.Close()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return New(idx, h), closeFn, nil
}

// Index returns the BAR index this accessor was bound to.
func (b *Bar) Index() int { return b.index }

// Err returns the first read/write error encountered, if any. Once a
// Bar has seen an error, Read32 returns zero and Write32 does nothing
// for the rest of its life (there is no Reset: the caller is expected
// to tear the Bar down and reconstruct it).
func (b *Bar) Err() error {
	p := b.err.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (b *Bar) setErr(err error) {
	b.err.Store(&err)
}

// Read32 reads the 32-bit register at byte offset off.
//
// A release/acquire pair on the first error guards against a caller
// observing a half-completed multi-register read sequence: once an
// error has been recorded, every subsequent Read32/Write32 is a no-op
// until the Bar is discarded.
func (b *Bar) Read32(off int64) uint32 {
	if err := b.Err(); err != nil {
		return 0
	}

	var buf [4]byte
	_, err := b.rw.ReadAt(buf[:], off)
	if err != nil {
		b.setErr(fmt.Errorf("bar: could not read register bar=%d off=0x%x: %w", b.index, off, err))
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// Write32 writes v to the 32-bit register at byte offset off.
func (b *Bar) Write32(off int64, v uint32) {
	if err := b.Err(); err != nil {
		return
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := b.rw.WriteAt(buf[:], off)
	if err != nil {
		b.setErr(fmt.Errorf("bar: could not write register bar=%d off=0x%x: %w", b.index, off, err))
	}
}

// Reg32 is a single bound 32-bit register: a read/write pair closed
// over a fixed offset, so card control code can pass registers around
// as values instead of repeating the offset at every call site.
type Reg32 struct {
	r func() uint32
	w func(v uint32)
}

// NewReg32 binds a Reg32 to byte offset off on b.
func NewReg32(b *Bar, off int64) Reg32 {
	return Reg32{
		r: func() uint32 { return b.Read32(off) },
		w: func(v uint32) { b.Write32(off, v) },
	}
}

// R reads the bound register.
func (r Reg32) R() uint32 { return r.r() }

// W writes v to the bound register.
func (r Reg32) W(v uint32) { r.w(v) }

// Bit32 returns bit i of v.
func Bit32(v uint32, i uint) uint32 {
	return (v >> i) & 0x1
}

// SetBit32 returns v with bit i set to the low bit of b.
func SetBit32(v uint32, i uint, b uint32) uint32 {
	if b&0x1 != 0 {
		return v | (1 << i)
	}
	return v &^ (1 << i)
}
