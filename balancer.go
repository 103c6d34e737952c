// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

package treactor

import (
	"fmt"
	"reflect"
	"sync"

	"trpc.group/trpc-go/treactor/internal/handoff"
	"trpc.group/trpc-go/treactor/metrics"
)

var (
	lbs    = make(map[string]BalanceBuilder)
	lbsMux = sync.RWMutex{}
)

// BalanceBuilder is used to create LoadBalance object.
type BalanceBuilder func() LoadBalance

// LoadBalance picks the worker reactor of a newly accepted connection.
type LoadBalance interface {
	// Name returns the name of Loadbalance.
	Name() string

	// Register registers a worker reactor.
	Register(*Reactor)

	// Pick picks an alive worker according to the balancing policy, nil when
	// every worker is dead.
	Pick() *Reactor

	// Iterate iterates the workers and invokes function f, if f returns false, iteration will stop.
	Iterate(func(int, *Reactor) bool)

	// Len returns the number of workers.
	Len() int
}

// GetBalanceBuilder gets BalanceBuilder.
func GetBalanceBuilder(name string) BalanceBuilder {
	lbsMux.RLock()
	builder := lbs[name]
	lbsMux.RUnlock()
	return builder
}

// RegisterBalanceBuilder registers BalanceBuilder.
func RegisterBalanceBuilder(name string, builder BalanceBuilder) {
	lbv := reflect.ValueOf(builder)
	if builder == nil || lbv.Kind() == reflect.Ptr && lbv.IsNil() {
		panic("loadbalance: register nil loadbalance")
	}
	if name == "" {
		panic("loadbalance: register empty name of loadbalance")
	}
	lbsMux.Lock()
	lbs[name] = builder
	lbsMux.Unlock()
}

// LeastLoaded denotes the name of the least loaded policy.
const LeastLoaded string = "LeastLoadedLB"

func init() {
	RegisterBalanceBuilder(LeastLoaded, func() LoadBalance { return &leastLoadedLB{} })
}

// leastLoadedLB picks the alive worker with the smallest load, the lowest
// index on ties.
type leastLoadedLB struct {
	workers []*Reactor
}

// Name returns loadbalance type.
func (l *leastLoadedLB) Name() string {
	return LeastLoaded
}

// Register registers a worker.
func (l *leastLoadedLB) Register(r *Reactor) {
	l.workers = append(l.workers, r)
}

// Pick picks a worker according to loadbalance algorithm.
func (l *leastLoadedLB) Pick() *Reactor {
	var (
		best     *Reactor
		bestLoad int64
	)
	for _, w := range l.workers {
		if !w.Alive() {
			continue
		}
		if load := w.Load(); best == nil || load < bestLoad {
			best, bestLoad = w, load
		}
	}
	return best
}

// Len returns the number of workers.
func (l *leastLoadedLB) Len() int {
	return len(l.workers)
}

// Iterate iterates the workers and invokes function f, if f returns false, iteration will stop.
func (l *leastLoadedLB) Iterate(f func(int, *Reactor) bool) {
	for index, w := range l.workers {
		if !f(index, w) {
			break
		}
	}
}

// balancer moves accepted connections to worker reactors.
type balancer struct {
	lb LoadBalance
}

func newBalancer(name string, workers []*Reactor) (*balancer, error) {
	builder := GetBalanceBuilder(name)
	if builder == nil {
		return nil, fmt.Errorf("loadbalance %q is not registered", name)
	}
	lb := builder()
	for _, w := range workers {
		lb.Register(w)
	}
	return &balancer{lb: lb}, nil
}

// handoff pushes c to the picked worker and wakes it. The worker load is
// counted before the worker adopts c, so that a burst of accepts spreads
// evenly. On error the caller still owns c and must close it.
func (b *balancer) handoff(c *Conn) error {
	w := b.lb.Pick()
	if w == nil {
		return ErrNoWorker
	}
	w.load.Inc()
	if err := w.pending.Push(c); err != nil {
		w.load.Dec()
		if err == handoff.ErrQueueFull {
			return ErrHandoffQueueFull
		}
		return ErrReactorStopped
	}
	metrics.Add(metrics.HandoffPushed, 1)
	// From here on c belongs to w, its shutdown releases c if the wake fails.
	if err := w.wake(); err != nil {
		w.log.Debugf("wake %s: %v", w.name, err)
	}
	return nil
}
