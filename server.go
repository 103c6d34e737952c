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
	"context"
	"fmt"
	"net"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"trpc.group/trpc-go/treactor/internal/socket"
	"trpc.group/trpc-go/treactor/log"
)

const (
	serverIdle int32 = iota
	serverServing
	serverStopped
)

// Server is the multi worker topology: one acceptor reactor owning the
// listener, and worker reactors owning the connections. With zero workers
// the acceptor serves the connections itself.
type Server struct {
	opts     options
	addr     net.Addr
	acceptor *Reactor
	workers  []*Reactor
	log      log.Logger
	state    atomic.Int32
	done     chan struct{}
}

// NewServer listens on address and builds the reactors. Nothing runs
// before Serve.
func NewServer(address string, opt ...Option) (*Server, error) {
	opts := newOptions(opt...)
	if opts.workers < 0 {
		opts.workers = 0
	}
	ln, err := socket.Listen("tcp", address, opts.socket)
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts: opts,
		addr: ln.Addr(),
		log:  opts.logger,
		done: make(chan struct{}),
	}
	if s.log == nil {
		s.log = log.Named("server")
	}
	if err := s.build(ln); err != nil {
		ln.Close()
		for _, r := range s.reactors() {
			r.close()
		}
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ln *socket.Listener) error {
	for i := 0; i < s.opts.workers; i++ {
		w, err := newReactor(fmt.Sprintf("reactor-%d", i), i, s.opts)
		if err != nil {
			return err
		}
		s.workers = append(s.workers, w)
	}
	aopts := s.opts
	if len(s.workers) > 0 {
		// The acceptor owns no connection to sample.
		aopts.tickInterval = 0
		aopts.onTick = nil
	}
	a, err := newReactor("acceptor", -1, aopts)
	if err != nil {
		return err
	}
	s.acceptor = a
	var bal *balancer
	if len(s.workers) > 0 {
		if bal, err = newBalancer(s.opts.balancer, s.workers); err != nil {
			return err
		}
	}
	return a.serve(ln, bal)
}

// Serve runs every reactor on its own goroutine until ctx is done, Stop is
// called or the acceptor fails. A failing worker only takes itself down,
// the balancer skips it from then on. Serve returns the acceptor error,
// ctx.Err() or ErrServerClosed.
func (s *Server) Serve(ctx context.Context) error {
	if !s.state.CompareAndSwap(serverIdle, serverServing) {
		return ErrServerClosed
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			if err := w.Run(); err != nil {
				s.log.Errorf("worker %s is dead: %v", w.Name(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer s.stopWorkers()
		return s.acceptor.Run()
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.done:
		case <-s.acceptor.Done():
		}
		s.acceptor.Stop()
		return nil
	})
	s.log.Infof("treactor server started on %s, number of workers: %d, balancer: %s",
		s.addr, len(s.workers), s.opts.balancer)
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrServerClosed
}

func (s *Server) stopWorkers() {
	for _, w := range s.workers {
		w.Stop()
	}
}

// Stop makes Serve return. A server that never served releases its
// reactors and listener right away. It may be called more than once.
func (s *Server) Stop() {
	if s.state.CompareAndSwap(serverIdle, serverStopped) {
		close(s.done)
		for _, r := range s.reactors() {
			r.close()
		}
		return
	}
	if s.state.CompareAndSwap(serverServing, serverStopped) {
		close(s.done)
	}
}

// Close stops the server and waits until every reactor released its
// resources. It reports the fatal errors of the reactors that failed.
func (s *Server) Close() error {
	s.Stop()
	for _, r := range s.reactors() {
		<-r.Done()
	}
	var errs error
	for _, r := range s.reactors() {
		errs = multierr.Append(errs, r.fatal)
	}
	return errs
}

func (s *Server) reactors() []*Reactor {
	rs := make([]*Reactor, 0, len(s.workers)+1)
	if s.acceptor != nil {
		rs = append(rs, s.acceptor)
	}
	return append(rs, s.workers...)
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Workers returns the worker reactors, empty when the acceptor serves the
// connections itself.
func (s *Server) Workers() []*Reactor {
	return append([]*Reactor(nil), s.workers...)
}

// WorkerStats is a snapshot of one reactor.
type WorkerStats struct {
	Name          string
	Index         int
	Alive         bool
	Conns         int
	Load          int64
	BytesReceived uint64
	BytesSent     uint64
}

// Stats is a snapshot of the whole server.
type Stats struct {
	Conns         int
	BytesReceived uint64
	BytesSent     uint64
	Workers       []WorkerStats
}

// Stats aggregates the counters of every reactor. It is safe for concurrent
// use, the values are read from atomics and may be slightly stale.
func (s *Server) Stats() Stats {
	var st Stats
	for _, r := range s.reactors() {
		ws := WorkerStats{
			Name:          r.Name(),
			Index:         r.Index(),
			Alive:         r.Alive(),
			Conns:         r.Conns(),
			Load:          r.Load(),
			BytesReceived: r.BytesReceived(),
			BytesSent:     r.BytesSent(),
		}
		st.Conns += ws.Conns
		st.BytesReceived += ws.BytesReceived
		st.BytesSent += ws.BytesSent
		if r != s.acceptor || len(s.workers) == 0 {
			st.Workers = append(st.Workers, ws)
		}
	}
	return st
}
