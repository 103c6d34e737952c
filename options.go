//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 Tencent.
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
	"time"

	"trpc.group/trpc-go/treactor/codec"
	"trpc.group/trpc-go/treactor/internal/socket"
	"trpc.group/trpc-go/treactor/log"
)

const (
	defaultTickInterval     = time.Second
	defaultReadBufferSize   = 64 << 10
	defaultHandoffQueueSize = 4096
	defaultTCPKeepAlive     = 15 * time.Second
)

// OnOpened fires on the reactor thread once a connection is registered.
type OnOpened func(c *Conn)

// OnClosed fires on the reactor thread after a connection is torn down.
// The socket is already closed, but Err and the counters are still readable.
type OnClosed func(c *Conn)

// OnData fires for every chunk read from a connection. p is only valid
// during the call.
type OnData func(c *Conn, p []byte)

// OnMessage fires on the reactor thread for every message decoded by the
// codec. payload is only valid during the call.
type OnMessage func(c *Conn, payload []byte)

// AsyncHandler runs on the business goroutine pool for every decoded
// message. A non nil reply is encoded and written back on the reactor thread.
type AsyncHandler func(payload []byte) (reply []byte)

// OnTick fires on the reactor thread on every tick, after the connections
// have been sampled.
type OnTick func(r *Reactor, now time.Time)

// Option treactor option.
type Option struct {
	f func(*options)
}

type options struct {
	workers          int
	balancer         string
	tickInterval     time.Duration
	idleTimeout      time.Duration
	readBufferSize   int
	handoffQueueSize int
	codec            codec.Codec
	onOpened         OnOpened
	onClosed         OnClosed
	onData           OnData
	onMessage        OnMessage
	asyncHandler     AsyncHandler
	onTick           OnTick
	noDelay          bool
	keepAlive        time.Duration
	socket           socket.Config
	terminal         func() bool
	logger           log.Logger
}

func (o *options) setDefault() {
	o.workers = runtime.NumCPU()
	o.balancer = LeastLoaded
	o.tickInterval = defaultTickInterval
	o.readBufferSize = defaultReadBufferSize
	o.handoffQueueSize = defaultHandoffQueueSize
	o.noDelay = true
	o.keepAlive = defaultTCPKeepAlive
}

func newOptions(opt ...Option) options {
	opts := options{}
	opts.setDefault()
	for _, o := range opt {
		o.f(&opts)
	}
	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}
	if opts.handoffQueueSize <= 0 {
		opts.handoffQueueSize = defaultHandoffQueueSize
	}
	return opts
}

// WithWorkers sets the number of worker reactors of a Server. With zero
// workers the acceptor reactor serves the connections itself.
func WithWorkers(n int) Option {
	return Option{func(op *options) {
		op.workers = n
	}}
}

// WithBalancer selects the registered LoadBalance used to pick a worker.
func WithBalancer(name string) Option {
	return Option{func(op *options) {
		op.balancer = name
	}}
}

// WithTickInterval sets the period of the reactor tick which samples
// statistics and checks idle connections, zero disables the tick.
func WithTickInterval(d time.Duration) Option {
	return Option{func(op *options) {
		op.tickInterval = d
	}}
}

// WithIdleTimeout closes connections without any read or write for d.
// It is checked on each tick, so the effective precision is the tick interval.
func WithIdleTimeout(d time.Duration) Option {
	return Option{func(op *options) {
		op.idleTimeout = d
	}}
}

// WithReadBufferSize sets the size of the buffer each reactor reads into.
func WithReadBufferSize(size int) Option {
	return Option{func(op *options) {
		op.readBufferSize = size
	}}
}

// WithHandoffQueueSize bounds the number of connections waiting to be
// adopted by a worker reactor. Non positive sizes keep the default.
func WithHandoffQueueSize(size int) Option {
	return Option{func(op *options) {
		op.handoffQueueSize = size
	}}
}

// WithCodec sets the codec splitting connection data into messages
// delivered to OnMessage and AsyncHandler.
func WithCodec(c codec.Codec) Option {
	return Option{func(op *options) {
		op.codec = c
	}}
}

// WithOnOpened registers the OnOpened hook.
func WithOnOpened(f OnOpened) Option {
	return Option{func(op *options) {
		op.onOpened = f
	}}
}

// WithOnClosed registers the OnClosed hook.
func WithOnClosed(f OnClosed) Option {
	return Option{func(op *options) {
		op.onClosed = f
	}}
}

// WithOnData registers the raw data hook.
func WithOnData(f OnData) Option {
	return Option{func(op *options) {
		op.onData = f
	}}
}

// WithOnMessage registers the message hook, it requires a codec.
func WithOnMessage(f OnMessage) Option {
	return Option{func(op *options) {
		op.onMessage = f
	}}
}

// WithAsyncHandler registers a handler run on the business goroutine pool,
// it requires a codec.
func WithAsyncHandler(f AsyncHandler) Option {
	return Option{func(op *options) {
		op.asyncHandler = f
	}}
}

// WithOnTick registers the tick hook.
func WithOnTick(f OnTick) Option {
	return Option{func(op *options) {
		op.onTick = f
	}}
}

// WithNoDelay sets TCP_NODELAY on accepted and dialed connections,
// true by default.
func WithNoDelay(noDelay bool) Option {
	return Option{func(op *options) {
		op.noDelay = noDelay
	}}
}

// WithKeepAlive sets the tcp keep alive interval, zero disables it.
func WithKeepAlive(keepAlive time.Duration) Option {
	return Option{func(op *options) {
		op.keepAlive = keepAlive
	}}
}

// WithSocketBuffers sets SO_RCVBUF and SO_SNDBUF, values <= 0 keep the
// system defaults.
func WithSocketBuffers(recv, send int) Option {
	return Option{func(op *options) {
		op.socket.RecvBuffer = recv
		op.socket.SendBuffer = send
	}}
}

// WithReusePort enables SO_REUSEPORT on listeners.
func WithReusePort(reuse bool) Option {
	return Option{func(op *options) {
		op.socket.ReusePort = reuse
	}}
}

// WithTerminalCondition makes Run return once f reports true. f is
// evaluated on the reactor thread before every wait.
func WithTerminalCondition(f func() bool) Option {
	return Option{func(op *options) {
		op.terminal = f
	}}
}

// WithLogger replaces the logger of the reactors.
func WithLogger(l log.Logger) Option {
	return Option{func(op *options) {
		op.logger = l
	}}
}
