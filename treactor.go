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

// Package treactor provides a readiness driven TCP reactor: one event loop
// per OS thread, a connection registry owned by that loop, and a balancer
// that moves accepted connections between loops through a handoff queue.
package treactor

import (
	"errors"

	"trpc.group/trpc-go/treactor/internal/poller"
)

// Handle identifies a registered descriptor. It is only unique within the
// reactor owning it.
type Handle int

// Interest is the readiness a handle is watched for.
type Interest = poller.Interest

// Interest values.
const (
	Readable     = poller.Readable
	Writable     = poller.Writable
	ReadWritable = poller.ReadWritable
)

// Job is a function executed on the reactor thread.
type Job func()

var (
	// ErrConnClosed is returned by operations on a closed connection.
	ErrConnClosed = errors.New("conn is closed")
	// ErrPeerClosed is recorded when the peer closes its side of the connection.
	ErrPeerClosed = errors.New("connection closed by peer")
	// ErrIdleTimeout is recorded when a connection stays idle too long.
	ErrIdleTimeout = errors.New("connection idle timeout")
	// ErrReactorStopped is returned when posting to a reactor that no longer runs.
	ErrReactorStopped = errors.New("reactor is stopped")
	// ErrHandoffQueueFull is returned when the picked worker cannot take
	// another connection.
	ErrHandoffQueueFull = errors.New("handoff queue is full")
	// ErrNoWorker is returned when every worker reactor is dead.
	ErrNoWorker = errors.New("no alive worker reactor")
	// ErrServerClosed is returned by Serve after Stop.
	ErrServerClosed = errors.New("server is closed")
)

// eventHandler is the capability set the reactor dispatches to. Connections,
// listeners and relay sources implement it.
type eventHandler interface {
	onReadable() error
	onWritable() error
	// onHangup is called once the handle reported a hangup or one of the
	// callbacks above failed. err is nil for a plain hangup.
	onHangup(err error)
}
