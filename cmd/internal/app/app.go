// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package app holds the process boundary helpers shared by the executables.
package app

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/treactor/internal/stat"
	"trpc.group/trpc-go/treactor/log"
)

// ParsePort parses a TCP port, which must be within 1-65535.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %d, expected 1-65535", port)
	}
	return port, nil
}

// NotifyStop calls stop on the first SIGINT or SIGTERM. The returned
// function releases the handler.
func NotifyStop(stop func()) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			log.Infof("received %s, stopping", sig)
			stop()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// RaiseFileLimit lifts the soft limit of open descriptors to the hard one.
func RaiseFileLimit() {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		log.Warnf("getrlimit: %v", err)
		return
	}
	if rl.Cur == rl.Max {
		return
	}
	rl.Cur = rl.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		log.Warnf("setrlimit: %v", err)
	}
}

// Throughput renders n bytes moved during secs seconds, e.g.
// "1.00 MiB (8.39 Mbit/s)".
func Throughput(n uint64, secs float64) string {
	if secs <= 0 {
		return stat.FormatBytes(n)
	}
	return fmt.Sprintf("%s (%s)", stat.FormatBytes(n), stat.FormatBitrate(float64(n)*8/secs))
}

// Rate renders a bitrate.
func Rate(bps float64) string {
	return stat.FormatBitrate(bps)
}
