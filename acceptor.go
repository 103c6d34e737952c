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
	"net"
	"time"

	"github.com/pkg/errors"
	"trpc.group/trpc-go/treactor/internal/netutil"
	"trpc.group/trpc-go/treactor/internal/socket"
	"trpc.group/trpc-go/treactor/metrics"
)

// errListenerHangup is recorded when the listener reports a hangup without
// a pending socket error.
var errListenerHangup = errors.New("listener hangup")

// acceptRetryDelay is how long the acceptor waits before draining a backlog
// left behind when the process ran out of descriptors.
var acceptRetryDelay = 100 * time.Millisecond

// acceptor is the listener role of a reactor. Accepted connections are
// handed to bal, or registered on the acceptor's own reactor when bal is nil.
type acceptor struct {
	r      *Reactor
	ln     *socket.Listener
	bal    *balancer
	accept func(fd int) (int, net.Addr, error)
	// retrying is set while a drain retry is scheduled.
	retrying bool
	closed   bool
}

// Listen opens a listener and accepts its connections on r. It must be
// called before Run or on the reactor thread.
func (r *Reactor) Listen(network, address string) (net.Addr, error) {
	ln, err := socket.Listen(network, address, r.opts.socket)
	if err != nil {
		return nil, err
	}
	if err := r.serve(ln, nil); err != nil {
		ln.Close()
		return nil, err
	}
	return ln.Addr(), nil
}

func (r *Reactor) serve(ln *socket.Listener, bal *balancer) error {
	a := &acceptor{r: r, ln: ln, bal: bal, accept: netutil.Accept}
	if err := r.register(Handle(ln.FD()), Readable, a); err != nil {
		return errors.Wrap(err, "register listener")
	}
	r.log.Debugf("%s accepting on %s", r.name, ln.Addr())
	return nil
}

// onReadable drains the backlog: one edge-triggered notification stands for
// every connection that arrived since the previous one.
func (a *acceptor) onReadable() error {
	for {
		fd, raddr, err := a.accept(a.ln.FD())
		if err != nil {
			switch {
			case netutil.IsWouldBlock(err):
				metrics.Add(metrics.AcceptDrains, 1)
				return nil
			case netutil.IsTemporaryAccept(err):
				continue
			case netutil.IsResourceExhausted(err):
				// The pending connections stay in the backlog. No new edge
				// comes for them, so the drain is retried later.
				metrics.Add(metrics.AcceptFails, 1)
				a.r.log.Warnf("accept on %s: %v, retry in %s", a.ln.Addr(), err, acceptRetryDelay)
				a.retryLater()
				return nil
			default:
				metrics.Add(metrics.AcceptFails, 1)
				return errors.Wrap(err, "accept")
			}
		}
		metrics.Add(metrics.AcceptCalls, 1)
		a.accepted(fd, raddr)
	}
}

func (a *acceptor) retryLater() {
	if a.retrying {
		return
	}
	a.retrying = true
	time.AfterFunc(acceptRetryDelay, func() {
		if err := a.r.Post(a.retry); err != nil {
			a.r.log.Debugf("retry accept on %s: %v", a.ln.Addr(), err)
		}
	})
}

func (a *acceptor) retry() {
	a.retrying = false
	if a.closed {
		return
	}
	if err := a.onReadable(); err != nil {
		a.onHangup(err)
	}
}

func (a *acceptor) accepted(fd int, raddr net.Addr) {
	c := newConn(netFD{fd: fd, laddr: a.ln.Addr(), raddr: raddr})
	opts := &a.r.opts
	if err := c.nfd.tune(opts.noDelay, opts.keepAlive); err != nil {
		a.r.log.Debugf("tune conn from %s: %v", c.peer, err)
	}
	if a.bal == nil {
		// registerConn closes the socket on failure.
		a.r.registerConn(c)
		return
	}
	if err := a.bal.handoff(c); err != nil {
		metrics.Add(metrics.HandoffFails, 1)
		a.r.log.Warnf("hand off conn from %s: %v", c.peer, err)
		c.nfd.close()
	}
}

func (a *acceptor) onWritable() error {
	return nil
}

// onHangup closes the listener. Anything but a reactor stop is fatal for
// the accepting reactor.
func (a *acceptor) onHangup(err error) {
	if a.closed {
		return
	}
	a.closed = true
	fd := a.ln.FD()
	if err == nil {
		if err = netutil.SocketError(fd); err == nil {
			err = errListenerHangup
		}
	}
	a.r.unregisterRole(Handle(fd))
	if cerr := a.ln.Close(); cerr != nil {
		a.r.log.Debugf("close listener %s: %v", a.ln.Addr(), cerr)
	}
	if err == ErrReactorStopped {
		return
	}
	a.r.log.Errorf("listener %s failed: %v", a.ln.Addr(), err)
	a.r.fail(errors.Wrapf(err, "listener %s", a.ln.Addr()))
}
