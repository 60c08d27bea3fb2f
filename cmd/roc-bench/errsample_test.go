// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-lpc/roc/buffer"
)

type fakeBuffer struct {
	mem []byte
}

func (f *fakeBuffer) Addr() uintptr                            { return 0 }
func (f *fakeBuffer) Size() uint64                             { return uint64(len(f.mem)) }
func (f *fakeBuffer) SGL() []buffer.Entry                      { return nil }
func (f *fakeBuffer) Close() error                             { return nil }
func (f *fakeBuffer) ReadAt(p []byte, off int64) (int, error)  { return copy(p, f.mem[off:]), nil }
func (f *fakeBuffer) WriteAt(p []byte, off int64) (int, error) { return copy(f.mem[off:], p), nil }

func TestSampleWriterRecordsUpToMax(t *testing.T) {
	buf := &fakeBuffer{mem: make([]byte, 64)}
	for i := range buf.mem {
		buf.mem[i] = byte(i)
	}

	path := filepath.Join(t.TempDir(), "samples.bin")
	w, err := newSampleWriter(path, 2)
	if err != nil {
		t.Fatalf("newSampleWriter: %+v", err)
	}

	for i := 0; i < 3; i++ {
		if err := w.Write(buf, 0, 16); err != nil {
			t.Fatalf("Write: %+v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %+v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %+v", err)
	}
	const recordSize = 24 + 16 + 2 // header + data + crc16
	if got, want := info.Size(), int64(2*recordSize); got != want {
		t.Fatalf("unexpected sample file size: got=%d, want=%d (max=2 enforced)", got, want)
	}
}
