//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package treactor

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/treactor/codec"
	"trpc.group/trpc-go/treactor/log"
)

func TestDefaultOptions(t *testing.T) {
	opts := newOptions()
	assert.Equal(t, runtime.NumCPU(), opts.workers)
	assert.Equal(t, LeastLoaded, opts.balancer)
	assert.Equal(t, time.Second, opts.tickInterval)
	assert.Equal(t, time.Duration(0), opts.idleTimeout)
	assert.Equal(t, defaultReadBufferSize, opts.readBufferSize)
	assert.Equal(t, defaultHandoffQueueSize, opts.handoffQueueSize)
	assert.True(t, opts.noDelay)
	assert.Equal(t, defaultTCPKeepAlive, opts.keepAlive)
	assert.Nil(t, opts.codec)
}

func TestTReactorOptions(t *testing.T) {
	opened, closed, data, msg, tick := 0, 0, 0, 0, 0
	opts := newOptions(
		WithWorkers(3),
		WithBalancer(RoundRobin),
		WithTickInterval(10*time.Millisecond),
		WithIdleTimeout(time.Minute),
		WithReadBufferSize(-1),
		WithHandoffQueueSize(8),
		WithCodec(codec.LengthPrefixed{MaxPayload: 1024}),
		WithOnOpened(func(*Conn) { opened++ }),
		WithOnClosed(func(*Conn) { closed++ }),
		WithOnData(func(*Conn, []byte) { data++ }),
		WithOnMessage(func(*Conn, []byte) { msg++ }),
		WithAsyncHandler(func(p []byte) []byte { return p }),
		WithOnTick(func(*Reactor, time.Time) { tick++ }),
		WithNoDelay(false),
		WithKeepAlive(0),
		WithSocketBuffers(1<<16, 1<<17),
		WithReusePort(true),
		WithTerminalCondition(func() bool { return true }),
		WithLogger(log.Named("test")),
	)
	assert.Equal(t, 3, opts.workers)
	assert.Equal(t, RoundRobin, opts.balancer)
	assert.Equal(t, 10*time.Millisecond, opts.tickInterval)
	assert.Equal(t, time.Minute, opts.idleTimeout)
	// Non positive sizes fall back to the default.
	assert.Equal(t, defaultReadBufferSize, opts.readBufferSize)
	assert.Equal(t, 8, opts.handoffQueueSize)
	assert.Equal(t, defaultHandoffQueueSize, newOptions(WithHandoffQueueSize(0)).handoffQueueSize)
	assert.Equal(t, defaultHandoffQueueSize, newOptions(WithHandoffQueueSize(-1)).handoffQueueSize)
	assert.Equal(t, codec.LengthPrefixed{MaxPayload: 1024}, opts.codec)
	assert.False(t, opts.noDelay)
	assert.Equal(t, time.Duration(0), opts.keepAlive)
	assert.Equal(t, 1<<16, opts.socket.RecvBuffer)
	assert.Equal(t, 1<<17, opts.socket.SendBuffer)
	assert.True(t, opts.socket.ReusePort)
	assert.True(t, opts.terminal())
	assert.NotNil(t, opts.logger)

	opts.onOpened(nil)
	opts.onClosed(nil)
	opts.onData(nil, nil)
	opts.onMessage(nil, nil)
	opts.onTick(nil, time.Time{})
	assert.Equal(t, []int{1, 1, 1, 1, 1}, []int{opened, closed, data, msg, tick})
	assert.Equal(t, []byte("x"), opts.asyncHandler([]byte("x")))
}
