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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

// Package netutil provides the socket level helpers used by the reactor:
// accepting, descriptor extraction, address conversion and socket options.
package netutil

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrInvalidFD is returned when a socket does not expose a usable descriptor.
var ErrInvalidFD = errors.New("invalid file descriptor")

// GetFD returns the integer Unix file descriptor referencing a socket created
// by the net package. The socket keeps the ownership of the descriptor, it must
// be closed through the socket and never through unix.Close.
func GetFD(socket interface{}) (int, error) {
	conn, ok := socket.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("type %T doesn't implement syscall.Conn interface", socket)
	}
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("get raw connection fail %w", err)
	}
	fd := -1
	if err := rawConn.Control(func(sysfd uintptr) { fd = int(sysfd) }); err != nil {
		return -1, err
	}
	if fd < 0 {
		return -1, ErrInvalidFD
	}
	return fd, nil
}

// IsWouldBlock reports whether err means the non-blocking operation has to be
// retried once the descriptor becomes ready again.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// IsTemporaryAccept reports whether an accept error concerns only the
// connection being accepted, so draining the backlog may continue.
func IsTemporaryAccept(err error) bool {
	switch {
	case errors.Is(err, unix.ECONNABORTED), errors.Is(err, unix.EINTR), errors.Is(err, unix.EPROTO):
		return true
	default:
		return false
	}
}

// IsResourceExhausted reports whether an accept error is caused by descriptor
// or memory limits of the process or system.
func IsResourceExhausted(err error) bool {
	switch {
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE),
		errors.Is(err, unix.ENOBUFS), errors.Is(err, unix.ENOMEM):
		return true
	default:
		return false
	}
}
