// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package treactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkers(t *testing.T, loads []int64, opt ...Option) []*Reactor {
	opts := newOptions(append([]Option{WithTickInterval(0)}, opt...)...)
	ws := make([]*Reactor, len(loads))
	for i, l := range loads {
		w, err := newReactor("reactor", i, opts)
		require.Nil(t, err)
		w.load.Store(l)
		ws[i] = w
	}
	t.Cleanup(func() {
		for _, w := range ws {
			w.close()
		}
	})
	return ws
}

func TestLeastLoadedHandoff(t *testing.T) {
	ws := newWorkers(t, []int64{3, 1, 4, 1})
	b, err := newBalancer(LeastLoaded, ws)
	require.Nil(t, err)
	assert.Equal(t, LeastLoaded, b.lb.Name())
	assert.Equal(t, 4, b.lb.Len())

	// Ties go to the lowest index.
	assert.Equal(t, ws[1], b.lb.Pick())

	fd, _ := socketPair(t)
	require.Nil(t, b.handoff(newConn(netFD{fd: fd})))
	assert.Equal(t, int64(2), ws[1].Load())
	assert.Equal(t, 1, ws[1].pending.Pending())
	assert.Equal(t, ws[3], b.lb.Pick())

	// Adoption registers the conn, the load was already counted.
	opened := 0
	ws[1].opts.onOpened = func(*Conn) { opened++ }
	ws[1].onWake()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, ws[1].Conns())
	assert.Equal(t, int64(2), ws[1].Load())
	assert.Equal(t, 0, ws[1].pending.Pending())
}

func TestLeastLoadedSkipsDeadWorkers(t *testing.T) {
	ws := newWorkers(t, []int64{3, 1, 4, 2})
	b, err := newBalancer(LeastLoaded, ws)
	require.Nil(t, err)
	ws[1].alive.Store(false)
	assert.Equal(t, ws[3], b.lb.Pick())
	for _, w := range ws {
		w.alive.Store(false)
	}
	assert.Nil(t, b.lb.Pick())
	fd, _ := socketPair(t)
	c := newConn(netFD{fd: fd})
	assert.Equal(t, ErrNoWorker, b.handoff(c))
	assert.Equal(t, int64(1), ws[1].Load())
	c.nfd.close()
}

func TestHandoffQueueFull(t *testing.T) {
	ws := newWorkers(t, []int64{0}, WithHandoffQueueSize(1))
	b, err := newBalancer(LeastLoaded, ws)
	require.Nil(t, err)
	fd1, _ := socketPair(t)
	fd2, _ := socketPair(t)
	require.Nil(t, b.handoff(newConn(netFD{fd: fd1})))
	c2 := newConn(netFD{fd: fd2})
	assert.Equal(t, ErrHandoffQueueFull, b.handoff(c2))
	assert.Equal(t, int64(1), ws[0].Load())
	c2.nfd.close()

	// Closing the worker releases the pending conn and its load.
	ws[0].close()
	assert.Equal(t, int64(0), ws[0].Load())
	fd3, _ := socketPair(t)
	c3 := newConn(netFD{fd: fd3})
	ws[0].alive.Store(true)
	assert.Equal(t, ErrReactorStopped, b.handoff(c3))
	c3.nfd.close()
}

func TestRoundRobin(t *testing.T) {
	ws := newWorkers(t, []int64{0, 0, 0})
	b, err := newBalancer(RoundRobin, ws)
	require.Nil(t, err)
	assert.Equal(t, RoundRobin, b.lb.Name())
	ws[2].alive.Store(false)
	seen := map[*Reactor]int{}
	for i := 0; i < 6; i++ {
		seen[b.lb.Pick()]++
	}
	assert.Equal(t, 3, seen[ws[0]])
	assert.Equal(t, 3, seen[ws[1]])
	assert.Equal(t, 0, seen[ws[2]])

	n := 0
	b.lb.Iterate(func(i int, w *Reactor) bool {
		assert.Equal(t, ws[i], w)
		n++
		return i < 1
	})
	assert.Equal(t, 2, n)
}

func TestBalanceBuilderRegistry(t *testing.T) {
	assert.NotNil(t, GetBalanceBuilder(LeastLoaded))
	assert.NotNil(t, GetBalanceBuilder(RoundRobin))
	assert.Nil(t, GetBalanceBuilder("unknown"))
	_, err := newBalancer("unknown", nil)
	assert.NotNil(t, err)
	assert.Panics(t, func() { RegisterBalanceBuilder("nil", nil) })
	assert.Panics(t, func() {
		RegisterBalanceBuilder("", func() LoadBalance { return &leastLoadedLB{} })
	})
	assert.Nil(t, (&roundRobinLB{}).Pick())
}
