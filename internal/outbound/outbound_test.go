// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package outbound_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/treactor/internal/cache/mcache"
	"trpc.group/trpc-go/treactor/internal/outbound"
)

// throttledSink accepts at most budget bytes, then reports EAGAIN until refilled.
type throttledSink struct {
	out    bytes.Buffer
	budget int
	calls  int
}

func (s *throttledSink) send(p []byte) (int, error) {
	s.calls++
	if s.budget == 0 {
		return -1, unix.EAGAIN
	}
	n := len(p)
	if n > s.budget {
		n = s.budget
	}
	s.out.Write(p[:n])
	s.budget -= n
	return n, nil
}

func TestPushReportsTransition(t *testing.T) {
	q := outbound.New()
	assert.True(t, q.Empty())
	assert.False(t, q.Push(nil, false))
	assert.True(t, q.Push([]byte("a"), false))
	assert.False(t, q.Push([]byte("bc"), false))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 3, q.Buffered())
}

func TestDrainAll(t *testing.T) {
	q := outbound.New()
	q.Push([]byte("hello "), false)
	q.Push([]byte("world"), false)
	sink := &throttledSink{budget: 1 << 20}
	n, empty, err := q.Drain(sink.send)
	assert.Nil(t, err)
	assert.True(t, empty)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", sink.out.String())
	assert.Equal(t, 0, q.Buffered())
}

func TestDrainPartialKeepsProgress(t *testing.T) {
	q := outbound.New()
	q.Push([]byte("0123456789"), false)
	sink := &throttledSink{budget: 4}
	n, empty, err := q.Drain(sink.send)
	assert.Nil(t, err)
	assert.False(t, empty)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 6, q.Buffered())

	sink.budget = 100
	n, empty, err = q.Drain(sink.send)
	assert.Nil(t, err)
	assert.True(t, empty)
	assert.Equal(t, 6, n)
	assert.Equal(t, "0123456789", sink.out.String())
}

func TestDrainHardError(t *testing.T) {
	q := outbound.New()
	q.Push([]byte("abc"), false)
	broken := errors.New("broken pipe")
	_, empty, err := q.Drain(func(p []byte) (int, error) { return -1, broken })
	assert.Equal(t, broken, err)
	assert.False(t, empty)
	assert.Equal(t, 3, q.Discard())
	assert.True(t, q.Empty())
}

func TestDrainZeroWrite(t *testing.T) {
	q := outbound.New()
	q.Push([]byte("abc"), false)
	n, empty, err := q.Drain(func(p []byte) (int, error) { return 0, nil })
	assert.Nil(t, err)
	assert.False(t, empty)
	assert.Zero(t, n)
}

func TestDiscardPooled(t *testing.T) {
	q := outbound.New()
	buf := mcache.Malloc(16)
	copy(buf, "pooled")
	q.Push(buf, true)
	q.Push([]byte("plain"), false)
	assert.Equal(t, 21, q.Discard())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Buffered())
}

// Every byte pushed is delivered exactly once and in FIFO order, whatever
// the would-block pattern of the socket.
func TestDrainPreservesOrderUnderPartialSends(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		q := outbound.New()
		var want bytes.Buffer
		items := 1 + rnd.Intn(20)
		for i := 0; i < items; i++ {
			p := make([]byte, 1+rnd.Intn(300))
			rnd.Read(p)
			want.Write(p)
			q.Push(p, false)
		}
		sink := &throttledSink{}
		total := 0
		for guard := 0; !q.Empty(); guard++ {
			require.Less(t, guard, 100000)
			sink.budget = rnd.Intn(64)
			n, _, err := q.Drain(sink.send)
			require.Nil(t, err)
			total += n
		}
		assert.Equal(t, want.Len(), total)
		assert.Equal(t, want.Bytes(), sink.out.Bytes())
	}
}
