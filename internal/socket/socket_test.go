// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package socket_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/treactor/internal/socket"
)

func TestListenAndDial(t *testing.T) {
	cfg := socket.Config{RecvBuffer: 128 * 1024, SendBuffer: 128 * 1024}
	ln, err := socket.Listen("tcp", "127.0.0.1:0", cfg)
	require.Nil(t, err)
	defer ln.Close()
	assert.True(t, ln.FD() > 0)
	assert.Equal(t, "tcp", ln.Network())

	s, err := socket.Dial("tcp", ln.Addr().String(), time.Second, cfg)
	require.Nil(t, err)
	defer s.Close()
	assert.True(t, s.FD() > 0)
	assert.Equal(t, ln.Addr().String(), s.RemoteAddr().String())
	assert.NotNil(t, s.LocalAddr())
	assert.NotNil(t, s.Conn())
}

func TestListenReusePort(t *testing.T) {
	cfg := socket.Config{ReusePort: true}
	ln1, err := socket.Listen("tcp", "127.0.0.1:0", cfg)
	require.Nil(t, err)
	defer ln1.Close()
	ln2, err := socket.Listen("tcp", ln1.Addr().String(), cfg)
	require.Nil(t, err)
	defer ln2.Close()
	assert.NotEqual(t, ln1.FD(), ln2.FD())
}

func TestListenErrors(t *testing.T) {
	_, err := socket.Listen("udp", "127.0.0.1:0", socket.Config{})
	assert.NotNil(t, err)
	_, err = socket.Listen("tcp", "256.0.0.1:0", socket.Config{})
	assert.NotNil(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	defer ln.Close()
	_, err = socket.Listen("tcp", ln.Addr().String(), socket.Config{})
	assert.NotNil(t, err)
}

func TestDialErrors(t *testing.T) {
	_, err := socket.Dial("udp", "127.0.0.1:1", time.Second, socket.Config{})
	assert.NotNil(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	addr := ln.Addr().String()
	ln.Close()
	_, err = socket.Dial("tcp", addr, time.Second, socket.Config{})
	assert.NotNil(t, err)
}

func TestCreate(t *testing.T) {
	_, err := socket.Create(true, "127.0.0.1", 0, time.Second, socket.Config{})
	assert.NotNil(t, err)
	_, err = socket.Create(true, "127.0.0.1", 65536, time.Second, socket.Config{})
	assert.NotNil(t, err)

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	h, err := socket.Create(true, "127.0.0.1", port, time.Second, socket.Config{})
	require.Nil(t, err)
	defer h.Close()
	_, ok := h.(*socket.Listener)
	assert.True(t, ok)

	c, err := socket.Create(false, "127.0.0.1", port, time.Second, socket.Config{})
	require.Nil(t, err)
	defer c.Close()
	_, ok = c.(*socket.Socket)
	assert.True(t, ok)
}

func TestListenerAccept(t *testing.T) {
	ln, err := socket.Listen("tcp", "127.0.0.1:0", socket.Config{})
	require.Nil(t, err)
	defer ln.Close()

	_, err = ln.Accept(20 * time.Millisecond)
	assert.NotNil(t, err)

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			defer c.Close()
			c.Write([]byte("x"))
		}
	}()
	s, err := ln.Accept(time.Second)
	require.Nil(t, err)
	defer s.Close()
	assert.True(t, s.FD() > 0)
	assert.Equal(t, ln.Addr().String(), s.LocalAddr().String())
}
