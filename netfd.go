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

	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/treactor/internal/netutil"
	"trpc.group/trpc-go/treactor/metrics"
)

type goSockCloser interface {
	Close() error
}

// netFD owns one socket descriptor. It is confined to the reactor thread.
type netFD struct {
	// sock is the net package object owning fd for listened and dialed
	// sockets, nil for accepted ones which are closed with unix.Close.
	sock   goSockCloser
	laddr  net.Addr
	raddr  net.Addr
	fd     int
	closed bool
}

func (nfd *netFD) LocalAddr() net.Addr {
	return nfd.laddr
}

func (nfd *netFD) RemoteAddr() net.Addr {
	return nfd.raddr
}

func (nfd *netFD) read(p []byte) (int, error) {
	n, err := unix.Read(nfd.fd, p)
	for err == unix.EINTR {
		n, err = unix.Read(nfd.fd, p)
	}
	metrics.Add(metrics.ConnReads, 1)
	if n > 0 {
		metrics.Add(metrics.ConnReadBytes, uint64(n))
	}
	return n, err
}

func (nfd *netFD) write(p []byte) (int, error) {
	n, err := unix.Write(nfd.fd, p)
	for err == unix.EINTR {
		n, err = unix.Write(nfd.fd, p)
	}
	metrics.Add(metrics.ConnWrites, 1)
	if n > 0 {
		metrics.Add(metrics.ConnWriteBytes, uint64(n))
	}
	return n, err
}

// tune applies the per connection socket options.
func (nfd *netFD) tune(noDelay bool, keepAlive time.Duration) error {
	if err := netutil.SetNoDelay(nfd.fd, noDelay); err != nil {
		return err
	}
	if keepAlive <= 0 {
		return nil
	}
	secs := int(keepAlive / time.Second)
	if secs < 1 {
		secs = 1
	}
	return netutil.SetKeepAlive(nfd.fd, secs)
}

func (nfd *netFD) shutdownWrite() error {
	return unix.Shutdown(nfd.fd, unix.SHUT_WR)
}

// close releases the descriptor exactly once.
func (nfd *netFD) close() error {
	if nfd.closed {
		return nil
	}
	nfd.closed = true
	if nfd.sock != nil {
		return nfd.sock.Close()
	}
	return unix.Close(nfd.fd)
}
