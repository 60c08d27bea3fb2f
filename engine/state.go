// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

// State is one of the channel's four lifecycle states.
type State int

const (
	// Stopped: no DMA in flight. The initial state, and the state
	// StopDma and a successful ResetChannel return to.
	Stopped State = iota
	// PendingStart: StartDma has run but the data generator or
	// trigger has not yet been armed; it is armed on the first
	// FillSuperpages call that observes a non-empty transfer queue.
	PendingStart
	// Running: the deferred start has executed and the channel is
	// actively streaming.
	Running
	// Faulted: a hard arrival error was observed. Only StopDma and
	// ResetChannel are valid from here.
	Faulted
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case PendingStart:
		return "pending-start"
	case Running:
		return "running"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}
