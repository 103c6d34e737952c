// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

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

// Identifiers of the user and timer filters. Filters are keyed by
// (ident, filter), so they never collide with descriptor registrations.
const (
	wakeIdent = 0
	tickIdent = 1
)

type kqueue struct {
	fd       int
	ticking  bool
	notified atomic.Bool
	raw      []unix.Kevent_t
	events   []Event
}

func newPoller(eventCount int) (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	// Provide FD_CLOEXEC flag for consistency with Go runtime.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("fcntl", err)
	}
	k := &kqueue{
		fd:     fd,
		raw:    make([]unix.Kevent_t, eventCount),
		events: make([]Event, 0, eventCount),
	}
	var wake unix.Kevent_t
	unix.SetKevent(&wake, wakeIdent, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if err := k.kevent(wake); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "register user event"), k.Close())
	}
	return k, nil
}

func (k *kqueue) kevent(changes ...unix.Kevent_t) error {
	for {
		_, err := unix.Kevent(k.fd, changes, nil, nil)
		if err != unix.EINTR {
			return os.NewSyscallError("kevent", err)
		}
	}
}

func change(fd, filter, flags int) unix.Kevent_t {
	var evt unix.Kevent_t
	unix.SetKevent(&evt, fd, filter, flags)
	return evt
}

func writeFlags(in Interest) int {
	if in&Writable != 0 {
		return unix.EV_ADD | unix.EV_CLEAR | unix.EV_ENABLE
	}
	return unix.EV_ADD | unix.EV_CLEAR | unix.EV_DISABLE
}

// Add registers both filters of fd, the write filter disabled unless asked for.
func (k *kqueue) Add(fd int, in Interest) error {
	readFlags := unix.EV_ADD | unix.EV_CLEAR | unix.EV_ENABLE
	if in&Readable == 0 {
		readFlags = unix.EV_ADD | unix.EV_CLEAR | unix.EV_DISABLE
	}
	return errors.Wrap(k.kevent(
		change(fd, unix.EVFILT_READ, readFlags),
		change(fd, unix.EVFILT_WRITE, writeFlags(in)),
	), fmt.Sprintf("interest: %s", in))
}

// Mod enables or disables the filters of fd.
func (k *kqueue) Mod(fd int, in Interest) error {
	readFlags := unix.EV_ENABLE
	if in&Readable == 0 {
		readFlags = unix.EV_DISABLE
	}
	return errors.Wrap(k.kevent(
		change(fd, unix.EVFILT_READ, readFlags|unix.EV_CLEAR),
		change(fd, unix.EVFILT_WRITE, writeFlags(in)),
	), fmt.Sprintf("interest: %s, connection may be closed", in))
}

// Del removes both filters of fd.
func (k *kqueue) Del(fd int) error {
	return errors.Wrap(k.kevent(
		change(fd, unix.EVFILT_READ, unix.EV_DELETE),
		change(fd, unix.EVFILT_WRITE, unix.EV_DELETE),
	), "connection may be closed")
}

// Wait blocks for at most msec milliseconds.
func (k *kqueue) Wait(msec int) ([]Event, error) {
	var ts *unix.Timespec
	if msec >= 0 {
		t := unix.NsecToTimespec(int64(msec) * int64(time.Millisecond))
		ts = &t
	}
	n, err := unix.Kevent(k.fd, nil, k.raw, ts)
	metrics.Add(metrics.PollWait, 1)
	if err != nil {
		return nil, os.NewSyscallError("kevent", err)
	}
	metrics.Add(metrics.PollEvents, uint64(n))
	k.events = k.events[:0]
	for i := 0; i < n; i++ {
		raw := k.raw[i]
		switch raw.Filter {
		case unix.EVFILT_USER:
			// EV_CLEAR already reset the user event.
			k.notified.Store(false)
			k.events = append(k.events, Event{FD: -1, Kind: Wake})
		case unix.EVFILT_TIMER:
			k.events = append(k.events, Event{FD: -1, Kind: Tick})
		default:
			hangup := raw.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0
			// A hangup seen on the write filter may come before the read
			// filter event: buffered data must be drained before teardown.
			k.events = append(k.events, Event{
				FD:       int(raw.Ident),
				Kind:     IO,
				Readable: raw.Filter == unix.EVFILT_READ || hangup,
				Writable: raw.Filter == unix.EVFILT_WRITE && !hangup,
				Hangup:   hangup,
			})
		}
	}
	return k.events, nil
}

// Wake triggers the user event.
func (k *kqueue) Wake() error {
	if !k.notified.CompareAndSwap(false, true) {
		return nil
	}
	var evt unix.Kevent_t
	unix.SetKevent(&evt, wakeIdent, unix.EVFILT_USER, 0)
	evt.Fflags = unix.NOTE_TRIGGER
	metrics.Add(metrics.PollWakeups, 1)
	return k.kevent(evt)
}

// SetTicker arms or disarms the timer filter.
func (k *kqueue) SetTicker(d time.Duration) error {
	if d <= 0 {
		if !k.ticking {
			return nil
		}
		k.ticking = false
		return k.kevent(change(tickIdent, unix.EVFILT_TIMER, unix.EV_DELETE))
	}
	evt := change(tickIdent, unix.EVFILT_TIMER, unix.EV_ADD|unix.EV_ENABLE)
	// Default unit of EVFILT_TIMER data is milliseconds.
	msec := d.Milliseconds()
	if msec < 1 {
		msec = 1
	}
	evt.Data = keventData(msec)
	if err := k.kevent(evt); err != nil {
		return err
	}
	k.ticking = true
	return nil
}

// Close releases the kqueue fd.
func (k *kqueue) Close() error {
	return os.NewSyscallError("close", unix.Close(k.fd))
}
