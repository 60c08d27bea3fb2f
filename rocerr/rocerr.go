// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rocerr defines the tagged error kind shared by every layer
// of the driver core, from card control up to the engine's public
// API, so callers can use errors.As to branch on failure category
// without depending on the engine package itself.
package rocerr // import "github.com/go-lpc/roc/rocerr"

import "fmt"

// Kind tags the category of a failure.
type Kind int

const (
	// Unknown is the zero Kind; it should never be seen in practice.
	Unknown Kind = iota
	// InvalidParameter marks a rejected argument: unsupported page
	// size, a size that is not a multiple of the page size, and
	// similar validation failures.
	InvalidParameter
	// QueueFull marks a push rejected because the transfer queue or
	// descriptor ring has no room.
	QueueFull
	// Empty marks a pop/front on an empty ready queue.
	Empty
	// LockBusy marks a channel lock held by another live process.
	LockBusy
	// LockStale marks a channel lock recovery that failed even after
	// the single stale-lock retry.
	LockStale
	// LinkTimeout marks a bounded poll loop that never observed the
	// expected register state.
	LinkTimeout
	// LinkDown marks a link that reports "no signal" after a reset.
	LinkDown
	// ProtocolError marks a card control sequence that received an
	// unexpected register value outside of a timeout.
	ProtocolError
	// DataArrival marks a hard error surfaced by the descriptor ring
	// (error bit set, or unrecognized status word).
	DataArrival
	// UnsupportedFeature marks a capability requested of a card
	// family that does not implement it.
	UnsupportedFeature
	// BufferTooSmall marks a buffer.Provider region too small for
	// the ring or superpage it was asked to back.
	BufferTooSmall
)

func (k Kind) String() string {
	switch k {
	case InvalidParameter:
		return "invalid-parameter"
	case QueueFull:
		return "queue-full"
	case Empty:
		return "empty"
	case LockBusy:
		return "lock-busy"
	case LockStale:
		return "lock-stale"
	case LinkTimeout:
		return "link-timeout"
	case LinkDown:
		return "link-down"
	case ProtocolError:
		return "protocol-error"
	case DataArrival:
		return "data-arrival"
	case UnsupportedFeature:
		return "unsupported-feature"
	case BufferTooSmall:
		return "buffer-too-small"
	default:
		return "unknown"
	}
}

// Error is a tagged, wrapped error. Every package in this module
// returns it as a *Error, so callers anywhere in the stack can use
// errors.As with a *rocerr.Error target without an import cycle back
// into the engine package.
//
// Slot, Status, and Length are only meaningful on a DataArrival error:
// the descriptor ring slot that reported the hard error, its raw
// status word, and the length the card recorded alongside it, in
// 32-bit words. Every other Kind leaves them zero.
type Error struct {
	Kind   Kind
	Op     string // e.g. "engine.PushSuperpage", "card/crorc.ArmDdl"
	Err    error  // wrapped cause, may be nil
	Slot   int
	Status uint32
	Length uint32
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Kind == DataArrival {
		msg = fmt.Sprintf("%s (slot=%d, status=0x%x, length=%d)", msg, e.Slot, e.Status, e.Length)
	}
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds an *Error wrapping err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewDataArrival builds a DataArrival *Error carrying the descriptor
// ring slot, raw status word, and reported length of the completion
// that faulted the channel.
func NewDataArrival(op string, slot int, status, length uint32) *Error {
	return &Error{Kind: DataArrival, Op: op, Slot: slot, Status: status, Length: length}
}
