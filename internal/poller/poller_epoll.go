// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux
// +build linux

package poller

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/treactor/metrics"
)

const (
	rflags = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLPRI | unix.EPOLLET
	wflags = unix.EPOLLOUT | unix.EPOLLET
	hflags = unix.EPOLLHUP | unix.EPOLLRDHUP | unix.EPOLLERR
)

type epoll struct {
	fd       int
	wakeFD   int
	tickFD   int
	notified atomic.Bool
	buf      []byte
	raw      []unix.EpollEvent
	events   []Event
}

func newPoller(eventCount int) (Poller, error) {
	// Provide EPOLL_CLOEXEC flag for consistency with Go runtime.
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	// Provide EFD_CLOEXEC flag for consistency with Go runtime.
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	ep := &epoll{
		fd:     fd,
		wakeFD: efd,
		tickFD: -1,
		buf:    make([]byte, 8),
		raw:    make([]unix.EpollEvent, eventCount),
		events: make([]Event, 0, eventCount),
	}
	// The eventfd stays level-triggered, it is drained on every wake.
	if err := ep.ctl(unix.EPOLL_CTL_ADD, efd, unix.EPOLLIN); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "register eventfd"), ep.Close())
	}
	return ep, nil
}

func flags(in Interest) uint32 {
	var ev uint32
	if in&Readable != 0 {
		ev |= rflags
	}
	if in&Writable != 0 {
		ev |= wflags
	}
	return ev
}

// Add registers fd with the given interest.
func (ep *epoll) Add(fd int, in Interest) error {
	return errors.Wrap(ep.ctl(unix.EPOLL_CTL_ADD, fd, flags(in)),
		fmt.Sprintf("interest: %s", in))
}

// Mod replaces the interest of fd.
func (ep *epoll) Mod(fd int, in Interest) error {
	return errors.Wrap(ep.ctl(unix.EPOLL_CTL_MOD, fd, flags(in)),
		fmt.Sprintf("interest: %s, connection may be closed", in))
}

// Del removes fd.
func (ep *epoll) Del(fd int) error {
	return errors.Wrap(ep.ctl(unix.EPOLL_CTL_DEL, fd, 0), "connection may be closed")
}

func (ep *epoll) ctl(op, fd int, events uint32) error {
	var evt *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		evt = &unix.EpollEvent{Events: events, Fd: int32(fd)}
	}
	if err := unix.EpollCtl(ep.fd, op, fd, evt); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// Wait blocks for at most msec milliseconds.
func (ep *epoll) Wait(msec int) ([]Event, error) {
	n, err := unix.EpollWait(ep.fd, ep.raw, msec)
	metrics.Add(metrics.PollWait, 1)
	if err != nil {
		return nil, os.NewSyscallError("epoll_wait", err)
	}
	metrics.Add(metrics.PollEvents, uint64(n))
	ep.events = ep.events[:0]
	for i := 0; i < n; i++ {
		raw := ep.raw[i]
		fd := int(raw.Fd)
		switch fd {
		case ep.wakeFD:
			ep.drainWake()
			ep.events = append(ep.events, Event{FD: fd, Kind: Wake})
		case ep.tickFD:
			// The expiration count is not used, a missed tick is just a late one.
			_, _ = unix.Read(ep.tickFD, ep.buf)
			ep.events = append(ep.events, Event{FD: fd, Kind: Tick})
		default:
			ep.events = append(ep.events, Event{
				FD:       fd,
				Kind:     IO,
				Readable: raw.Events&(unix.EPOLLIN|unix.EPOLLPRI|hflags) != 0,
				Writable: raw.Events&unix.EPOLLOUT != 0,
				Hangup:   raw.Events&hflags != 0,
			})
		}
	}
	return ep.events, nil
}

func (ep *epoll) drainWake() {
	// Reset before reading so a Wake racing with the drain re-arms the eventfd.
	ep.notified.Store(false)
	for {
		if _, err := unix.Read(ep.wakeFD, ep.buf); err != unix.EINTR {
			return
		}
	}
}

// Wake wakes the goroutine blocked in Wait.
func (ep *epoll) Wake() error {
	if !ep.notified.CompareAndSwap(false, true) {
		return nil
	}
	one := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	for {
		_, err := unix.Write(ep.wakeFD, one)
		if err == nil || err == unix.EAGAIN {
			// EAGAIN means the counter is saturated and a wake is pending anyway.
			metrics.Add(metrics.PollWakeups, 1)
			return nil
		}
		if err != unix.EINTR {
			return os.NewSyscallError("write", err)
		}
	}
}

// SetTicker arms or disarms the timerfd.
func (ep *epoll) SetTicker(d time.Duration) error {
	if d <= 0 {
		if ep.tickFD < 0 {
			return nil
		}
		var spec unix.ItimerSpec
		return os.NewSyscallError("timerfd_settime", unix.TimerfdSettime(ep.tickFD, 0, &spec, nil))
	}
	if ep.tickFD < 0 {
		tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
		if err != nil {
			return os.NewSyscallError("timerfd_create", err)
		}
		if err := ep.ctl(unix.EPOLL_CTL_ADD, tfd, unix.EPOLLIN); err != nil {
			unix.Close(tfd)
			return errors.Wrap(err, "register timerfd")
		}
		ep.tickFD = tfd
	}
	ts := unix.NsecToTimespec(d.Nanoseconds())
	spec := unix.ItimerSpec{Interval: ts, Value: ts}
	return os.NewSyscallError("timerfd_settime", unix.TimerfdSettime(ep.tickFD, 0, &spec, nil))
}

// Close releases the epoll fd, the eventfd and the timerfd.
func (ep *epoll) Close() error {
	err := os.NewSyscallError("close", unix.Close(ep.fd))
	err = multierr.Append(err, os.NewSyscallError("close", unix.Close(ep.wakeFD)))
	if ep.tickFD >= 0 {
		err = multierr.Append(err, os.NewSyscallError("close", unix.Close(ep.tickFD)))
	}
	return err
}
