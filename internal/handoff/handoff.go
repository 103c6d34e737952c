// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package handoff provides the bounded queue used to move items from one
// reactor thread to another. Pushing an item transfers its ownership: the
// pusher must not touch it again once Push succeeds.
package handoff

import (
	"errors"
	"sync"

	"go.uber.org/atomic"
)

var (
	// ErrQueueFull is returned when the queue already holds its capacity.
	ErrQueueFull = errors.New("handoff queue is full")
	// ErrQueueClosed is returned when pushing into a closed queue.
	ErrQueueClosed = errors.New("handoff queue is closed")
)

// Queue is a bounded, mutex protected FIFO. A capacity <= 0 means unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	spare    []T
	capacity int
	closed   bool
	pending  atomic.Int64
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{capacity: capacity}
}

// Push appends item. The lock is held only for the append.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	q.pending.Inc()
	q.mu.Unlock()
	return nil
}

// Drain calls f for every queued item in FIFO order while holding the queue
// lock, so a concurrent Push either lands before the drain starts or waits for
// it to finish. f must not call back into the queue. Drain returns the number
// of items handed to f.
func (q *Queue[T]) Drain(f func(T)) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n == 0 {
		return 0
	}
	var zero T
	for i := range q.items {
		f(q.items[i])
		q.items[i] = zero
	}
	// Swap buffers to reuse the backing arrays across drains.
	q.items, q.spare = q.spare[:0], q.items[:0]
	q.pending.Sub(int64(n))
	return n
}

// Close rejects further pushes and returns the items still queued, whose
// ownership moves to the caller.
func (q *Queue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	left := q.items
	q.items = nil
	q.pending.Store(0)
	return left
}

// Pending returns the number of queued items without taking the lock.
func (q *Queue[T]) Pending() int {
	return int(q.pending.Load())
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}
