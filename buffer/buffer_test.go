// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buffer

import "testing"

type fakeProvider struct {
	sgl []Entry
}

func (f *fakeProvider) Addr() uintptr { return f.sgl[0].UserAddr }
func (f *fakeProvider) Size() uint64 {
	var sz uint64
	for _, e := range f.sgl {
		sz += e.Size
	}
	return sz
}
func (f *fakeProvider) SGL() []Entry                             { return f.sgl }
func (f *fakeProvider) Close() error                             { return nil }
func (f *fakeProvider) ReadAt(p []byte, off int64) (int, error)  { return 0, nil }
func (f *fakeProvider) WriteAt(p []byte, off int64) (int, error) { return 0, nil }

func TestBus(t *testing.T) {
	p := &fakeProvider{
		sgl: []Entry{
			{UserAddr: 0x1000, BusAddr: 0x80000000, Size: 4096},
			{UserAddr: 0x2000, BusAddr: 0x90000000, Size: 4096},
		},
	}

	for _, tc := range []struct {
		name    string
		off     uint64
		size    uint64
		want    uintptr
		wantErr bool
	}{
		{name: "start-of-first-entry", off: 0, size: 4096, want: 0x80000000},
		{name: "mid-second-entry", off: 4096 + 100, size: 10, want: 0x90000000 + 100},
		{name: "straddle", off: 4000, size: 200, wantErr: true},
		{name: "out-of-range", off: 9000, size: 10, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Bus(p, tc.off, tc.size)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %+v", err)
			}
			if got != tc.want {
				t.Fatalf("invalid bus address: got=0x%x, want=0x%x", got, tc.want)
			}
		})
	}
}
