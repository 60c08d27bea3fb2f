// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package queue implements the bounded FIFOs the DMA channel engine
// uses to track admitted and completed superpages, plus an optional
// lock-free single-producer/single-consumer ring for client code that
// wants to split pushing and popping across two goroutines.
package queue // import "github.com/go-lpc/roc/queue"

import "fmt"

// Queue is a fixed-capacity FIFO. The zero value is not usable; create
// one with New.
type Queue[T any] struct {
	buf  []T
	cap  int
	head int // next element to pop
	size int
}

// New returns an empty Queue with the given capacity.
func New[T any](cap int) *Queue[T] {
	return &Queue[T]{buf: make([]T, cap), cap: cap}
}

// Cap returns the queue's fixed capacity.
func (q *Queue[T]) Cap() int { return q.cap }

// Len returns the number of elements currently queued.
func (q *Queue[T]) Len() int { return q.size }

// Available returns how many more elements may be pushed before Push
// returns an error.
func (q *Queue[T]) Available() int { return q.cap - q.size }

// Full reports whether the queue is at capacity.
func (q *Queue[T]) Full() bool { return q.size == q.cap }

// Empty reports whether the queue holds no elements.
func (q *Queue[T]) Empty() bool { return q.size == 0 }

// Push appends v at the back of the queue. It fails if the queue is
// full.
func (q *Queue[T]) Push(v T) error {
	if q.Full() {
		return fmt.Errorf("queue: full (cap=%d)", q.cap)
	}
	tail := (q.head + q.size) % q.cap
	q.buf[tail] = v
	q.size++
	return nil
}

// Front returns the element at the head of the queue without removing
// it. It fails if the queue is empty.
func (q *Queue[T]) Front() (T, error) {
	var zero T
	if q.Empty() {
		return zero, fmt.Errorf("queue: empty")
	}
	return q.buf[q.head], nil
}

// Pop removes and returns the element at the head of the queue. It
// fails if the queue is empty.
func (q *Queue[T]) Pop() (T, error) {
	v, err := q.Front()
	if err != nil {
		return v, err
	}
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % q.cap
	q.size--
	return v, nil
}

// Reset empties the queue without allocating.
func (q *Queue[T]) Reset() {
	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head, q.size = 0, 0
}
