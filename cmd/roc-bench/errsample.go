// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-lpc/roc/buffer"
	"github.com/go-lpc/roc/internal/crc16"
)

// sampleWriter appends bounded error-sample records to a side file: a
// sequence number, the offset and size of the data carved out of the
// DMA buffer, the raw bytes, and a trailing CRC-16/CCITT-FALSE
// checksum over them, so a truncated or corrupted file is detectable
// offline without needing the original run to cross-check against.
type sampleWriter struct {
	f     *os.File
	max   int
	count int
}

func newSampleWriter(path string, max int) (*sampleWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("errsample: could not create %q: %w", path, err)
	}
	if max <= 0 {
		max = 16
	}
	return &sampleWriter{f: f, max: max}, nil
}

// Write records one sample of size bytes read from buf at offset. It
// is a no-op once max samples have been recorded.
func (w *sampleWriter) Write(buf buffer.Provider, offset, size uint64) error {
	if w.count >= w.max {
		return nil
	}

	data := make([]byte, size)
	if _, err := buf.ReadAt(data, int64(offset)); err != nil {
		return fmt.Errorf("errsample: could not read sample data: %w", err)
	}

	var hdr [24]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(w.count))
	binary.BigEndian.PutUint64(hdr[8:16], offset)
	binary.BigEndian.PutUint64(hdr[16:24], size)

	crc := crc16.New(nil)
	_, _ = crc.Write(hdr[:])
	_, _ = crc.Write(data)

	if _, err := w.f.Write(hdr[:]); err != nil {
		return fmt.Errorf("errsample: could not write sample header: %w", err)
	}
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("errsample: could not write sample data: %w", err)
	}
	if _, err := w.f.Write(crc.Sum(nil)); err != nil {
		return fmt.Errorf("errsample: could not write sample checksum: %w", err)
	}

	w.count++
	return nil
}

func (w *sampleWriter) Close() error {
	return w.f.Close()
}
