// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package socket creates the listening and connecting sockets handed to
// reactors. The sockets are created by the net package, so they are already
// non-blocking and close-on-exec, and their descriptors are extracted for
// readiness polling while the net object keeps the ownership.
package socket

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	goreuseport "github.com/kavu/go_reuseport"
	"trpc.group/trpc-go/treactor/internal/netutil"
)

// Config holds socket level tuning.
type Config struct {
	// RecvBuffer and SendBuffer set SO_RCVBUF / SO_SNDBUF, <= 0 keeps the default.
	RecvBuffer int
	SendBuffer int
	// ReusePort enables SO_REUSEPORT on listeners so several listeners,
	// typically one per reactor, can share an address.
	ReusePort bool
}

func (c Config) control(_, _ string, rc syscall.RawConn) error {
	var err error
	if cerr := rc.Control(func(fd uintptr) {
		if err = netutil.SetReuseAddr(int(fd), true); err != nil {
			return
		}
		err = netutil.SetBuffers(int(fd), c.RecvBuffer, c.SendBuffer)
	}); cerr != nil {
		return cerr
	}
	return err
}

// Listener is a listening socket with its descriptor.
type Listener struct {
	ln net.Listener
	fd int
}

// FD returns the listening descriptor. It stays valid until Close.
func (l *Listener) FD() int {
	return l.fd
}

// Addr returns the local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Network returns the network of the listener, e.g. "tcp".
func (l *Listener) Network() string {
	return l.ln.Addr().Network()
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Listen binds and listens on address. SO_REUSEADDR is always set.
func Listen(network, address string, cfg Config) (*Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("network %s is not support", network)
	}
	var (
		ln  net.Listener
		err error
	)
	if cfg.ReusePort {
		ln, err = goreuseport.Listen(network, address)
	} else {
		lc := net.ListenConfig{Control: cfg.control}
		ln, err = lc.Listen(context.Background(), network, address)
	}
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, address, err)
	}
	fd, err := netutil.GetFD(ln)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("listener get fd error: %w", err)
	}
	if cfg.ReusePort {
		// go_reuseport has no control hook, tune after the fact.
		if err := netutil.SetBuffers(fd, cfg.RecvBuffer, cfg.SendBuffer); err != nil {
			ln.Close()
			return nil, err
		}
	}
	return &Listener{ln: ln, fd: fd}, nil
}

// Accept waits for one incoming connection, at most timeout when it is
// positive.
func (l *Listener) Accept(timeout time.Duration) (*Socket, error) {
	if tl, ok := l.ln.(*net.TCPListener); ok && timeout > 0 {
		if err := tl.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("listener set deadline error: %w", err)
		}
	}
	c, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept on %s error: %w", l.ln.Addr(), err)
	}
	fd, err := netutil.GetFD(c)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("accepted conn get fd error: %w", err)
	}
	return &Socket{conn: c, fd: fd}, nil
}

// Socket is a connected socket with its descriptor.
type Socket struct {
	conn net.Conn
	fd   int
}

// FD returns the connected descriptor. It stays valid until Close.
func (s *Socket) FD() int {
	return s.fd
}

// LocalAddr returns the local address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the peer address.
func (s *Socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Conn returns the underlying net.Conn, for synchronous handshakes performed
// before the socket is registered in a reactor.
func (s *Socket) Conn() net.Conn {
	return s.conn
}

// Close closes the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Dial connects to address synchronously within timeout.
func Dial(network, address string, timeout time.Duration, cfg Config) (*Socket, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("network %s is not support", network)
	}
	d := net.Dialer{
		Timeout: timeout,
		Control: func(network, address string, rc syscall.RawConn) error {
			var err error
			if cerr := rc.Control(func(fd uintptr) {
				err = netutil.SetBuffers(int(fd), cfg.RecvBuffer, cfg.SendBuffer)
			}); cerr != nil {
				return cerr
			}
			return err
		},
	}
	c, err := d.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("dial network %s, address %s with timeout %+v error: %w", network, address, timeout, err)
	}
	fd, err := netutil.GetFD(c)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("dial get fd error: %w", err)
	}
	return &Socket{conn: c, fd: fd}, nil
}

// Handle is either a *Listener or a *Socket.
type Handle interface {
	FD() int
	Close() error
}

// Create is the single entry point for the executables: it listens on
// host:port when isListener is set, and connects to it otherwise.
func Create(isListener bool, host string, port int, timeout time.Duration, cfg Config) (Handle, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d, expected 1-65535", port)
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))
	if isListener {
		return Listen("tcp", address, cfg)
	}
	return Dial("tcp", address, timeout, cfg)
}
