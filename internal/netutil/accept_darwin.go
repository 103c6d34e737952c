// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build darwin
// +build darwin

package netutil

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Accept accepts one pending connection on the non-blocking listening socket
// fd. Darwin has no accept4, so the flags are applied under ForkLock to keep
// the descriptor from leaking into a concurrently forked child.
func Accept(fd int) (int, net.Addr, error) {
	syscall.ForkLock.RLock()
	ns, sa, err := unix.Accept(fd)
	if err == nil {
		unix.CloseOnExec(ns)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, nil, err
	}
	if err := unix.SetNonblock(ns, true); err != nil {
		unix.Close(ns)
		return -1, nil, err
	}
	return ns, SockaddrToTCPAddr(sa), nil
}
