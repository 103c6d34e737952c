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
	"go.uber.org/atomic"
)

// RoundRobin denotes the name of loadbalance.
const RoundRobin string = "RoundRobinLB"

func init() {
	RegisterBalanceBuilder(RoundRobin, func() LoadBalance { return &roundRobinLB{} })
}

type roundRobinLB struct {
	workers  []*Reactor
	accepted atomic.Uint64
}

// Name returns loadbalance type.
func (r *roundRobinLB) Name() string {
	return RoundRobin
}

// Register registers a worker.
func (r *roundRobinLB) Register(w *Reactor) {
	r.workers = append(r.workers, w)
}

// Pick picks the next alive worker in turn.
func (r *roundRobinLB) Pick() *Reactor {
	n := uint64(len(r.workers))
	if n == 0 {
		return nil
	}
	start := r.accepted.Inc()
	for i := uint64(0); i < n; i++ {
		if w := r.workers[(start+i)%n]; w.Alive() {
			return w
		}
	}
	return nil
}

// Len returns the number of workers.
func (r *roundRobinLB) Len() int {
	return len(r.workers)
}

// Iterate iterates the workers and invokes function f, if f returns false, iteration will stop.
func (r *roundRobinLB) Iterate(f func(int, *Reactor) bool) {
	for index, w := range r.workers {
		if !f(index, w) {
			break
		}
	}
}
