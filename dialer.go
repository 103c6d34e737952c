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
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"trpc.group/trpc-go/treactor/internal/socket"
)

// DialOption configures Dial, DialAsync and Connect.
type DialOption struct {
	f func(*dialOptions)
}

type dialOptions struct {
	handshake        func(rw io.ReadWriter) error
	handshakeTimeout time.Duration
	acceptTimeout    time.Duration
}

// WithHandshake runs f on the freshly connected socket before it is
// registered in the reactor. f reads and writes synchronously, a positive
// timeout bounds the whole exchange. f must not read past its own messages,
// the rest of the stream belongs to the reactor.
func WithHandshake(timeout time.Duration, f func(rw io.ReadWriter) error) DialOption {
	return DialOption{func(op *dialOptions) {
		op.handshakeTimeout = timeout
		op.handshake = f
	}}
}

// WithAcceptTimeout bounds the wait for the peer when Connect listens,
// zero waits forever.
func WithAcceptTimeout(timeout time.Duration) DialOption {
	return DialOption{func(op *dialOptions) {
		op.acceptTimeout = timeout
	}}
}

func newDialOptions(opt ...DialOption) dialOptions {
	var opts dialOptions
	for _, o := range opt {
		o.f(&opts)
	}
	return opts
}

// Dial connects to the address on the named network within the timeout and
// registers the connection in r. Valid networks are "tcp", "tcp4" and "tcp6".
// It must be called before r.Run or on r's thread.
func Dial(r *Reactor, network, address string, timeout time.Duration, opt ...DialOption) (*Conn, error) {
	c, err := dial(r, network, address, timeout, newDialOptions(opt...))
	if err != nil {
		return nil, err
	}
	return attachDialed(r, c)
}

// DialAsync dials on a separate goroutine and registers the connection on
// r's thread, where done is then called. If r is stopped before, done is
// called from the dialing goroutine with ErrReactorStopped.
func DialAsync(r *Reactor, network, address string, timeout time.Duration,
	done func(*Conn, error), opt ...DialOption) {
	opts := newDialOptions(opt...)
	go func() {
		c, err := dial(r, network, address, timeout, opts)
		perr := r.Post(func() {
			if err != nil {
				done(nil, err)
				return
			}
			done(attachDialed(r, c))
		})
		if perr != nil {
			if c != nil {
				c.nfd.close()
			}
			done(nil, perr)
		}
	}()
}

// Connect is the entry point of point to point tools: it listens on
// host:port and takes the first peer when isListener is set, and connects to
// host:port otherwise. The port must be within 1-65535.
func Connect(r *Reactor, isListener bool, host string, port int, timeout time.Duration,
	opt ...DialOption) (*Conn, error) {
	opts := newDialOptions(opt...)
	h, err := socket.Create(isListener, host, port, timeout, r.opts.socket)
	if err != nil {
		return nil, err
	}
	var s *socket.Socket
	switch v := h.(type) {
	case *socket.Socket:
		s = v
	case *socket.Listener:
		r.log.Infof("waiting for a peer on %s", v.Addr())
		s, err = v.Accept(opts.acceptTimeout)
		v.Close()
		if err != nil {
			return nil, err
		}
	}
	c, err := newDialedConn(r, s, opts)
	if err != nil {
		return nil, err
	}
	return attachDialed(r, c)
}

func dial(r *Reactor, network, address string, timeout time.Duration, opts dialOptions) (*Conn, error) {
	s, err := socket.Dial(network, address, timeout, r.opts.socket)
	if err != nil {
		return nil, err
	}
	return newDialedConn(r, s, opts)
}

func newDialedConn(r *Reactor, s *socket.Socket, opts dialOptions) (*Conn, error) {
	if opts.handshake != nil {
		if err := handshake(s.Conn(), opts); err != nil {
			s.Close()
			return nil, err
		}
	}
	c := newConn(netFD{
		sock:  s,
		fd:    s.FD(),
		laddr: s.LocalAddr(),
		raddr: s.RemoteAddr(),
	})
	if err := c.nfd.tune(r.opts.noDelay, r.opts.keepAlive); err != nil {
		r.log.Debugf("tune conn to %s: %v", c.peer, err)
	}
	return c, nil
}

func attachDialed(r *Reactor, c *Conn) (*Conn, error) {
	if err := r.registerConn(c); err != nil {
		return nil, errors.Wrapf(err, "register conn to %s", c.peer)
	}
	return c, nil
}

func handshake(nc net.Conn, opts dialOptions) error {
	if opts.handshakeTimeout > 0 {
		if err := nc.SetDeadline(time.Now().Add(opts.handshakeTimeout)); err != nil {
			return errors.Wrap(err, "set handshake deadline")
		}
	}
	if err := opts.handshake(nc); err != nil {
		return errors.Wrapf(err, "handshake with %s", nc.RemoteAddr())
	}
	if err := nc.SetDeadline(time.Time{}); err != nil {
		return errors.Wrap(err, "clear handshake deadline")
	}
	return nil
}
