// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package outbound provides the per-connection queue of pending write
// buffers with partial-send tracking.
//
// The queue is not safe for concurrent use, it belongs to the reactor that
// owns the connection.
package outbound

import (
	"errors"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/treactor/internal/cache/mcache"
)

// SendFunc writes p to the socket, returning the number of bytes accepted
// by the kernel. A would-block condition is reported as unix.EAGAIN.
type SendFunc func(p []byte) (int, error)

// item is one outbound buffer, sent <= len(buf) always holds.
type item struct {
	buf    []byte
	sent   int
	pooled bool
}

func (it *item) remaining() []byte {
	return it.buf[it.sent:]
}

// Queue is a FIFO of outbound buffers.
type Queue struct {
	q        *queue.Queue
	buffered int
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{q: queue.New()}
}

// Push appends buf with zero bytes sent. The queue owns buf from now on,
// pooled buffers are returned to mcache once flushed or discarded.
// Push reports whether the queue transitioned from empty to non-empty.
// Empty buffers are ignored.
func (q *Queue) Push(buf []byte, pooled bool) bool {
	if len(buf) == 0 {
		return false
	}
	wasEmpty := q.q.Length() == 0
	q.q.Add(&item{buf: buf, pooled: pooled})
	q.buffered += len(buf)
	return wasEmpty
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	return q.q.Length()
}

// Buffered returns the number of bytes still to be sent.
func (q *Queue) Buffered() int {
	return q.buffered
}

// Empty reports whether nothing is pending.
func (q *Queue) Empty() bool {
	return q.q.Length() == 0
}

// Drain sends queued bytes in FIFO order until the queue is empty, send
// would block, or send fails. It returns the number of bytes written, whether
// the queue is now empty, and the hard error if any. Would-block is not an
// error: the remaining items stay queued with their progress recorded.
func (q *Queue) Drain(send SendFunc) (written int, empty bool, err error) {
	for q.q.Length() > 0 {
		it := q.q.Peek().(*item)
		n, err := send(it.remaining())
		if n > 0 {
			it.sent += n
			q.buffered -= n
			written += n
		}
		if it.sent == len(it.buf) {
			q.pop()
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return written, false, nil
			}
			return written, false, err
		}
		if n <= 0 {
			// Nothing accepted without an error, wait for the next writable event.
			return written, false, nil
		}
	}
	return written, true, nil
}

func (q *Queue) pop() {
	it := q.q.Remove().(*item)
	if it.pooled {
		mcache.Free(it.buf)
	}
}

// Discard drops every pending item and returns how many bytes were dropped.
func (q *Queue) Discard() int {
	dropped := q.buffered
	for q.q.Length() > 0 {
		q.pop()
	}
	q.buffered = 0
	return dropped
}
