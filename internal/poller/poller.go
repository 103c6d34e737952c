// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package poller wraps the readiness mechanism of the operating system:
// epoll on linux, kqueue on BSD and darwin. Descriptors are registered
// edge-triggered, so the consumer must drain them until EAGAIN.
package poller

import (
	"fmt"
	"time"
)

// DefaultEventCount is the size of the event batch returned by one Wait.
const DefaultEventCount = 128

// Interest is the set of readiness conditions a descriptor is watched for.
type Interest uint8

// Interest bits.
const (
	Readable Interest = 1 << iota
	Writable

	ReadWritable = Readable | Writable
)

// String implements fmt.Stringer.
func (i Interest) String() string {
	switch i {
	case 0:
		return "None"
	case Readable:
		return "Readable"
	case Writable:
		return "Writable"
	case ReadWritable:
		return "ReadWritable"
	default:
		return fmt.Sprintf("Interest(%d)", uint8(i))
	}
}

// Kind tells what produced an Event.
type Kind uint8

// Event kinds.
const (
	// IO is readiness of a registered descriptor.
	IO Kind = iota
	// Wake is a Wake call from another goroutine. The wake primitive has
	// already been drained when the event is returned.
	Wake
	// Tick is one or more expirations of the periodic ticker.
	Tick
)

// Event is one readiness report.
type Event struct {
	FD       int
	Kind     Kind
	Readable bool
	Writable bool
	// Hangup is set on peer hangup or a socket error.
	Hangup bool
}

// Poller monitors file descriptors. All methods except Wake must be called
// from the goroutine that calls Wait.
type Poller interface {
	// Add registers fd with the given interest.
	Add(fd int, in Interest) error

	// Mod replaces the interest of a registered fd.
	Mod(fd int, in Interest) error

	// Del removes fd from the poller. It never closes fd.
	Del(fd int) error

	// Wait blocks until at least one event is ready or msec elapses, -1 waits
	// forever. The returned slice is reused by the next Wait. An interrupted
	// wait returns an error satisfying errors.Is(err, unix.EINTR).
	Wait(msec int) ([]Event, error)

	// Wake makes a blocked or the next Wait return a Wake event. It is safe
	// for concurrent use and coalesces: many calls before the next Wait
	// produce a single Wake event.
	Wake() error

	// SetTicker arms a periodic Tick event every d, d <= 0 disarms it.
	SetTicker(d time.Duration) error

	// Close releases the readiness context and its helper descriptors.
	Close() error
}

// New creates the poller of the running platform with room for eventCount
// events per Wait.
func New(eventCount int) (Poller, error) {
	if eventCount <= 0 {
		eventCount = DefaultEventCount
	}
	return newPoller(eventCount)
}
