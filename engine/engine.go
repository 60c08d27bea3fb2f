// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package engine implements the DMA channel engine: the state
// machine that accepts client superpages, drives a card through the
// card.Control capability set, detects per-descriptor completion, and
// hands filled superpages back to the client under strict ordering
// and backpressure rules.
package engine // import "github.com/go-lpc/roc/engine"

import (
	"errors"
	"log"
	"os"
	"sync/atomic"

	"github.com/go-lpc/roc/buffer"
	"github.com/go-lpc/roc/card"
	"github.com/go-lpc/roc/ctp"
	"github.com/go-lpc/roc/internal/ring"
	"github.com/go-lpc/roc/lock"
	"github.com/go-lpc/roc/queue"
	"github.com/go-lpc/roc/rocerr"
)

// ErrorKind and Error are aliases of the shared tagged-error type
// every layer below engine (card control, the channel lock, the
// descriptor ring) also uses, so callers never import rocerr
// directly.
type ErrorKind = rocerr.Kind
type Error = rocerr.Error

// Error kinds, re-exported from rocerr for callers of this package.
const (
	Unknown            = rocerr.Unknown
	InvalidParameter   = rocerr.InvalidParameter
	QueueFull          = rocerr.QueueFull
	Empty              = rocerr.Empty
	LockBusy           = rocerr.LockBusy
	LockStale          = rocerr.LockStale
	LinkTimeout        = rocerr.LinkTimeout
	LinkDown           = rocerr.LinkDown
	ProtocolError      = rocerr.ProtocolError
	DataArrival        = rocerr.DataArrival
	UnsupportedFeature = rocerr.UnsupportedFeature
	BufferTooSmall     = rocerr.BufferTooSmall
)

// CardType selects which concrete engine New builds.
type CardType int

const (
	CRORC CardType = iota
	CRU
)

func (t CardType) String() string {
	switch t {
	case CRORC:
		return "crorc"
	case CRU:
		return "cru"
	default:
		return "unknown"
	}
}

// Default queue/ring capacities, card-specific in the original
// protocol but a reasonable single default here absent a concrete
// card's documented value.
const (
	DefaultRingCapacity          = 128
	DefaultTransferQueueCapacity = 128
	DefaultReadyQueueCapacity    = 128
)

// Superpage is a client-owned region inside the engine's big buffer.
type Superpage struct {
	Offset   uint64
	Size     uint64
	Received uint64
	Ready    bool
}

// IsReady reports whether the superpage has been fully handled by the
// card and is waiting in, or has come out of, the ready queue.
func (sp Superpage) IsReady() bool { return sp.Ready }

// IsFilled reports whether received has caught up with size.
func (sp Superpage) IsFilled() bool { return sp.Received >= sp.Size }

// Engine is the public contract both card families implement.
type Engine interface {
	// StartDma arms the link and descriptor ring and moves the
	// channel into PendingStart. It does not yet start the data
	// generator or trigger: see FillSuperpages.
	StartDma() error
	// StopDma stops the generator/trigger and the data receiver and
	// returns the channel to Stopped. Idempotent.
	StopDma() error
	// ResetChannel runs the cascading reset protocol up to level and
	// returns the channel to Stopped. Idempotent for a fixed level.
	ResetChannel(level card.ResetLevel) error

	// PushSuperpage admits sp into the transfer queue and writes its
	// descriptor submission. Non-blocking.
	PushSuperpage(sp Superpage) error
	// FillSuperpages drains completed descriptors into the ready
	// queue, executing the deferred start on its first call after
	// StartDma that finds a superpage in the transfer queue. Must be
	// called regularly by the client.
	FillSuperpages() error
	// GetSuperpage returns the ready queue's head without removing
	// it.
	GetSuperpage() (Superpage, error)
	// PopSuperpage removes and returns the ready queue's head.
	PopSuperpage() (Superpage, error)

	GetTransferQueueAvailable() int
	GetReadyQueueSize() int
	IsTransferQueueEmpty() bool
	IsReadyQueueFull() bool
	GetSuperpageQueueCount() int
	GetSuperpageQueueAvailable() int

	// State returns the channel's current state.
	State() State
	// Close releases the channel lock and any resources the engine
	// itself allocated (the descriptor ring's backing memory). It
	// does not close the big buffer, which the caller owns.
	Close() error
}

// Parameters configures a new Engine. Build one with functional
// options, mirroring the teacher's own Option pattern.
type Parameters struct {
	CardType    CardType
	CardID      string
	Channel     int
	DmaPageSize uint64

	GeneratorPattern card.GeneratorPattern
	DataSource       card.DataSource
	ReadoutMode      string
	StbrdEnabled     bool

	StateDir    string
	RingBusAddr uintptr

	TransferQueueCapacity int
	ReadyQueueCapacity    int
	RingCapacity          int

	Buffer  buffer.Provider
	Control card.Control
	Cancel  *atomic.Bool
	Logger  *log.Logger

	// OnFault, if set, is called with the channel's CardID/Channel key
	// and a short reason each time FillSuperpages promotes the channel
	// to Faulted (once per fault; a successful ResetChannel re-arms it).
	// Typically wired to an internal/alert.Mailer.
	OnFault func(key, reason string)
}

// Option mutates Parameters at construction time.
type Option func(*Parameters)

func WithCardType(t CardType) Option { return func(p *Parameters) { p.CardType = t } }
func WithCardID(id string) Option    { return func(p *Parameters) { p.CardID = id } }
func WithChannel(ch int) Option      { return func(p *Parameters) { p.Channel = ch } }
func WithDmaPageSize(n uint64) Option {
	return func(p *Parameters) { p.DmaPageSize = n }
}
func WithGeneratorPattern(g card.GeneratorPattern) Option {
	return func(p *Parameters) { p.GeneratorPattern = g }
}
func WithDataSource(s card.DataSource) Option {
	return func(p *Parameters) { p.DataSource = s }
}
func WithReadoutMode(m string) Option { return func(p *Parameters) { p.ReadoutMode = m } }
func WithStbrdEnabled(b bool) Option  { return func(p *Parameters) { p.StbrdEnabled = b } }
func WithStateDir(dir string) Option  { return func(p *Parameters) { p.StateDir = dir } }
func WithRingBusAddr(addr uintptr) Option {
	return func(p *Parameters) { p.RingBusAddr = addr }
}
func WithTransferQueueCapacity(n int) Option {
	return func(p *Parameters) { p.TransferQueueCapacity = n }
}
func WithReadyQueueCapacity(n int) Option {
	return func(p *Parameters) { p.ReadyQueueCapacity = n }
}
func WithRingCapacity(n int) Option { return func(p *Parameters) { p.RingCapacity = n } }
func WithBuffer(b buffer.Provider) Option {
	return func(p *Parameters) { p.Buffer = b }
}
func WithControl(c card.Control) Option { return func(p *Parameters) { p.Control = c } }

// WithCancel injects the cancellation token an external SIGINT-style
// handler sets once to request a drain-and-stop. The engine never
// owns or installs a signal handler itself.
func WithCancel(c *atomic.Bool) Option { return func(p *Parameters) { p.Cancel = c } }
func WithLogger(l *log.Logger) Option  { return func(p *Parameters) { p.Logger = l } }

// WithOnFault installs a callback the engine invokes, with the
// channel's CardID/Channel key and a reason, once per transition to
// Faulted.
func WithOnFault(f func(key, reason string)) Option {
	return func(p *Parameters) { p.OnFault = f }
}

func newParameters(opts ...Option) Parameters {
	p := Parameters{
		DmaPageSize:           8192,
		TransferQueueCapacity: DefaultTransferQueueCapacity,
		ReadyQueueCapacity:    DefaultReadyQueueCapacity,
		RingCapacity:          DefaultRingCapacity,
		Logger:                log.New(os.Stdout, "engine: ", 0),
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// New builds an Engine for the card family named by opts'
// WithCardType (CRORC by default), acquiring the channel's exclusive
// lock and allocating the descriptor ring's backing memory.
func New(opts ...Option) (Engine, error) {
	p := newParameters(opts...)

	if p.Control == nil {
		return nil, rocerr.New(rocerr.InvalidParameter, "engine.New: missing Control")
	}
	if p.Buffer == nil {
		return nil, rocerr.New(rocerr.InvalidParameter, "engine.New: missing Buffer")
	}
	if p.Cancel == nil {
		p.Cancel = &atomic.Bool{}
	}

	c, err := newCore(p)
	if err != nil {
		return nil, err
	}

	switch p.CardType {
	case CRU:
		return &cruEngine{core: c, ctpMode: ctp.Continuous}, nil
	default:
		return &crorcEngine{core: c}, nil
	}
}

func newCore(p Parameters) (*core, error) {
	if p.StateDir == "" {
		return nil, rocerr.New(rocerr.InvalidParameter, "engine.New: missing StateDir")
	}

	l, err := lock.Acquire(lock.Path(p.StateDir, p.CardID, p.Channel))
	if err != nil {
		kind := rocerr.LockBusy
		var lerr *rocerr.Error
		if errors.As(err, &lerr) {
			kind = lerr.Kind
		}
		return nil, rocerr.Wrap(kind, "engine.New", err)
	}

	ringMem, err := buffer.NewHeap(uint64(p.RingCapacity*8), p.RingBusAddr)
	if err != nil {
		_ = l.Release()
		return nil, rocerr.Wrap(rocerr.BufferTooSmall, "engine.New", err)
	}

	rng, err := ring.New(ringMem, p.RingCapacity)
	if err != nil {
		_ = ringMem.Close()
		_ = l.Release()
		return nil, rocerr.Wrap(rocerr.BufferTooSmall, "engine.New", err)
	}

	return &core{
		msg:        p.Logger,
		cardID:     p.CardID,
		channel:    p.Channel,
		pageSize:   p.DmaPageSize,
		dataSource: p.DataSource,
		genPattern: p.GeneratorPattern,
		stbrd:      p.StbrdEnabled,

		ctl:   p.Control,
		buf:   p.Buffer,
		rng:   rng,
		ringM: ringMem,
		lk:    l,

		transferQ: queue.New[Superpage](p.TransferQueueCapacity),
		readyQ:    queue.New[Superpage](p.ReadyQueueCapacity),

		cancel:  p.Cancel,
		state:   Stopped,
		onFault: p.OnFault,
	}, nil
}
