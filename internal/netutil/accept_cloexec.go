// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

//go:build dragonfly || freebsd || linux
// +build dragonfly freebsd linux

package netutil

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Accept accepts one pending connection on the non-blocking listening socket
// fd. The returned descriptor is non-blocking and close-on-exec, peer is the
// remote address. unix.EAGAIN means the backlog is empty.
func Accept(fd int) (int, net.Addr, error) {
	ns, sa, err := unix.Accept4(fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
	switch err {
	case nil:
		return ns, SockaddrToTCPAddr(sa), nil
	case syscall.ENOSYS, syscall.EINVAL, syscall.EACCES, syscall.EFAULT:
		// Kernels without accept4 report one of these, fall back to accept.
	default:
		return -1, nil, err
	}
	ns, sa, err = unix.Accept(fd)
	if err != nil {
		return -1, nil, err
	}
	unix.CloseOnExec(ns)
	if err := unix.SetNonblock(ns, true); err != nil {
		unix.Close(ns)
		return -1, nil, err
	}
	return ns, SockaddrToTCPAddr(sa), nil
}
