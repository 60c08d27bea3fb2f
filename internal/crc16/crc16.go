// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crc16 implements the CRC-16/CCITT-FALSE checksum as a
// hash.Hash16, for stamping bounded side-files (error samples, run
// logs) so a truncated or corrupted file is detectable offline.
package crc16 // import "github.com/go-lpc/roc/internal/crc16"

import (
	"encoding/binary"
	"hash"
)

const (
	poly    = 0x1021
	initVal = 0xFFFF
)

var table = func() [256]uint16 {
	var t [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

type digest struct {
	sum uint16
}

// Hash16 is the common interface implemented by all 16-bit hash
// functions.
type Hash16 interface {
	hash.Hash
	Sum16() uint16
}

// New returns a new Hash16 computing the CRC-16/CCITT-FALSE
// checksum. seed is unused; it exists so callers can write
// crc16.New(nil), mirroring the constructor shape of other hash
// packages in the standard library.
func New(seed []byte) Hash16 {
	return &digest{sum: initVal}
}

func (d *digest) Write(p []byte) (int, error) {
	for _, b := range p {
		d.sum = (d.sum << 8) ^ table[byte(d.sum>>8)^b]
	}
	return len(p), nil
}

func (d *digest) Sum(b []byte) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, d.Sum16())
	return append(b, buf...)
}

func (d *digest) Sum16() uint16  { return d.sum }
func (d *digest) Reset()         { d.sum = initVal }
func (d *digest) Size() int      { return 2 }
func (d *digest) BlockSize() int { return 1 }
