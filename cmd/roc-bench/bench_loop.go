// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-lpc/roc/buffer"
	"github.com/go-lpc/roc/engine"
)

type benchStats struct {
	pushed, popped uint64
	bytes          uint64
	errors         uint64
}

// stream pushes superpages carved cyclically out of buf, drains
// completions, and records a sample of the data behind any arrival
// error, until npages have round-tripped (npages == 0: until cancel
// is set). Once cancel is set, no further superpage is pushed and the
// loop ends when every pushed superpage has been popped, or at once
// if the channel is not Running.
func stream(eng engine.Engine, buf buffer.Provider, cfg benchConfig, cancel *atomic.Bool, samples *sampleWriter) (benchStats, error) {
	var stats benchStats

	slots := int(buf.Size() / cfg.pageSize)
	if slots == 0 {
		return stats, fmt.Errorf("roc-bench: data buffer too small for one page of size %d", cfg.pageSize)
	}
	nextOffset := uint64(0)
	lastPushedOffset := uint64(0)

	for {
		canceled := cancel.Load()
		if canceled && (stats.popped >= stats.pushed || eng.State() != engine.Running) {
			break
		}

		pushed := false
		if !canceled && (cfg.npages == 0 || int(stats.pushed) < cfg.npages) && eng.GetTransferQueueAvailable() > 0 {
			sp := engine.Superpage{Offset: nextOffset, Size: cfg.pageSize}
			if err := eng.PushSuperpage(sp); err != nil {
				if !isQueueFull(err) {
					return stats, fmt.Errorf("could not push superpage: %w", err)
				}
			} else {
				stats.pushed++
				lastPushedOffset = sp.Offset
				nextOffset = (nextOffset + cfg.pageSize) % (uint64(slots) * cfg.pageSize)
				pushed = true
			}
		}

		if err := eng.FillSuperpages(); err != nil {
			if eng.State() == engine.Faulted {
				recordFault(eng, buf, samples, lastPushedOffset, cfg.pageSize, &stats)
				return stats, fmt.Errorf("channel faulted: %w", err)
			}
			return stats, fmt.Errorf("could not fill superpages: %w", err)
		}

		drained := false
		for eng.GetReadyQueueSize() > 0 {
			sp, err := eng.PopSuperpage()
			if err != nil {
				break
			}
			stats.popped++
			stats.bytes += sp.Received
			drained = true
		}

		if !pushed && !drained {
			time.Sleep(time.Millisecond)
		}

		if cfg.npages > 0 && int(stats.popped) >= cfg.npages {
			break
		}
	}

	return stats, nil
}

func isQueueFull(err error) bool {
	var e *engine.Error
	return errors.As(err, &e) && e.Kind == engine.QueueFull
}

func recordFault(eng engine.Engine, buf buffer.Provider, samples *sampleWriter, offset, size uint64, stats *benchStats) {
	stats.errors++
	if samples == nil {
		return
	}
	if err := samples.Write(buf, offset, size); err != nil {
		fmt.Printf("roc-bench: could not record error sample: %+v\n", err)
	}
}
