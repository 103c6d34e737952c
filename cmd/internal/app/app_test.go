// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package app_test

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/treactor/cmd/internal/app"
)

func TestParsePort(t *testing.T) {
	for _, s := range []string{"0", "65536", "-1", "http", ""} {
		_, err := app.ParsePort(s)
		assert.NotNil(t, err, s)
	}
	for s, want := range map[string]int{"1": 1, "8080": 8080, "65535": 65535} {
		port, err := app.ParsePort(s)
		assert.Nil(t, err)
		assert.Equal(t, want, port)
	}
}

func TestNotifyStop(t *testing.T) {
	stopped := make(chan struct{})
	release := app.NotifyStop(func() { close(stopped) })
	defer release()
	assert.Nil(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop not called")
	}
}

func TestThroughput(t *testing.T) {
	assert.Equal(t, "1.00 MiB (8.39 Mbit/s)", app.Throughput(1<<20, 1))
	assert.Equal(t, "512 B", app.Throughput(512, 0))
	app.RaiseFileLimit()
}
