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
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/treactor/internal/handoff"
	"trpc.group/trpc-go/treactor/internal/poller"
	"trpc.group/trpc-go/treactor/internal/stat"
	"trpc.group/trpc-go/treactor/log"
	"trpc.group/trpc-go/treactor/metrics"
)

// Reactor is one event loop. Run pins it to an OS thread; every connection
// it owns is only touched from that thread. Stop, Post and the read-only
// accessors may be called from any goroutine.
type Reactor struct {
	opts   options
	name   string
	index  int
	poller poller.Poller
	log    log.Logger

	// Owned by the reactor thread.
	conns    map[Handle]*Conn
	roles    map[Handle]role
	batch    uint64
	readBuf  []byte
	jobBuf   []Job
	opened   []*Conn
	now      time.Time
	terminal func() bool
	fatal    error

	pending *handoff.Queue[*Conn]
	jobs    *handoff.Queue[Job]

	recv     stat.Sampler
	sent     stat.Sampler
	recvRate float64
	sendRate float64

	nconns  atomic.Int64
	load    atomic.Int64
	stopped atomic.Bool
	running atomic.Bool
	alive   atomic.Bool

	// wakeMu orders wakeups from other goroutines with the poller close.
	wakeMu sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewReactor creates a standalone reactor. Connections are added with
// Listen or Dial before or during Run.
func NewReactor(opt ...Option) (*Reactor, error) {
	return newReactor("reactor", 0, newOptions(opt...))
}

func newReactor(name string, index int, opts options) (*Reactor, error) {
	p, err := poller.New(poller.DefaultEventCount)
	if err != nil {
		return nil, errors.Wrap(err, "create readiness context")
	}
	if opts.tickInterval > 0 {
		if err := p.SetTicker(opts.tickInterval); err != nil {
			p.Close()
			return nil, errors.Wrap(err, "arm reactor tick")
		}
	}
	logger := opts.logger
	if logger == nil {
		logger = log.Named(name)
	}
	r := &Reactor{
		opts:     opts,
		name:     name,
		index:    index,
		poller:   p,
		log:      logger,
		conns:    make(map[Handle]*Conn),
		roles:    make(map[Handle]role),
		readBuf:  make([]byte, opts.readBufferSize),
		now:      time.Now(),
		terminal: opts.terminal,
		pending:  handoff.New[*Conn](opts.handoffQueueSize),
		jobs:     handoff.New[Job](0),
		done:     make(chan struct{}),
	}
	r.alive.Store(true)
	return r, nil
}

// Name returns the reactor name used in logs.
func (r *Reactor) Name() string {
	return r.name
}

// Index returns the position of the reactor in its server's worker pool.
func (r *Reactor) Index() int {
	return r.index
}

// Conns returns the number of registered connections.
func (r *Reactor) Conns() int {
	return int(r.nconns.Load())
}

// Load returns the tracked load: registered connections plus connections
// handed to this reactor and not adopted yet.
func (r *Reactor) Load() int64 {
	return r.load.Load()
}

// Alive reports whether the reactor can still take connections.
func (r *Reactor) Alive() bool {
	return r.alive.Load()
}

// BytesReceived returns the bytes read by all connections of the reactor.
func (r *Reactor) BytesReceived() uint64 {
	return r.recv.Total()
}

// BytesSent returns the bytes written by all connections of the reactor.
func (r *Reactor) BytesSent() uint64 {
	return r.sent.Total()
}

// Rates returns the receive and send bitrates computed on the last tick.
// It must be called on the reactor thread, e.g. from OnTick.
func (r *Reactor) Rates() (recv, send float64) {
	return r.recvRate, r.sendRate
}

// Done is closed once Run has returned and the reactor released its resources.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

// ModifyInterest replaces the interest of a registered handle.
func (r *Reactor) ModifyInterest(h Handle, in Interest) error {
	return r.poller.Mod(int(h), in)
}

// Unregister removes h from the readiness mechanism. It never closes the
// underlying descriptor.
func (r *Reactor) Unregister(h Handle) error {
	return r.poller.Del(int(h))
}

// role is a registered handle other than a connection.
type role struct {
	ev eventHandler
	// batch is the wait that was being dispatched when the role registered.
	batch uint64
}

func (r *Reactor) register(h Handle, in Interest, ev eventHandler) error {
	if err := r.poller.Add(int(h), in); err != nil {
		return err
	}
	r.roles[h] = role{ev: ev, batch: r.batch}
	return nil
}

func (r *Reactor) unregisterRole(h Handle) {
	if _, ok := r.roles[h]; !ok {
		return
	}
	delete(r.roles, h)
	if err := r.Unregister(h); err != nil {
		r.log.Debugf("unregister handle %d: %v", h, err)
	}
}

// setTerminal replaces the terminal condition. Reactor thread only.
func (r *Reactor) setTerminal(f func() bool) {
	r.terminal = f
}

// fail terminates Run with err.
func (r *Reactor) fail(err error) {
	if r.fatal == nil {
		r.fatal = err
	}
}

// Post runs job on the reactor thread. Jobs run in posting order.
func (r *Reactor) Post(job Job) error {
	if job == nil {
		return nil
	}
	if err := r.jobs.Push(job); err != nil {
		return ErrReactorStopped
	}
	return r.wake()
}

// Stop makes Run return. It may be called from any goroutine and more than once.
func (r *Reactor) Stop() {
	if r.stopped.CompareAndSwap(false, true) {
		if err := r.wake(); err != nil && err != ErrReactorStopped {
			r.log.Warnf("wake on stop: %v", err)
		}
	}
}

func (r *Reactor) wake() error {
	r.wakeMu.RLock()
	defer r.wakeMu.RUnlock()
	if r.closed {
		return ErrReactorStopped
	}
	return r.poller.Wake()
}

// Run drives the event loop on the calling goroutine, locked to its OS
// thread, until Stop is called, the terminal condition holds or the wait
// fails. Interrupted waits are retried. On return every connection is torn
// down and the readiness context is closed.
func (r *Reactor) Run() error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("reactor is already running")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err := r.loop()
	if err != nil {
		r.log.Errorf("%s terminated: %v", r.name, err)
	}
	r.shutdown()
	return err
}

func (r *Reactor) loop() error {
	r.log.Debugf("%s started", r.name)
	for !r.stopped.Load() {
		if r.terminal != nil && r.terminal() {
			return nil
		}
		events, err := r.poller.Wait(-1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return errors.Wrap(err, "reactor wait")
		}
		r.now = time.Now()
		r.batch++
		r.dispatch(events)
		if r.fatal != nil {
			return r.fatal
		}
	}
	return nil
}

func (r *Reactor) dispatch(events []poller.Event) {
	for i := range events {
		ev := &events[i]
		switch ev.Kind {
		case poller.Wake:
			r.onWake()
		case poller.Tick:
			r.onTick(r.now)
		default:
			r.onIO(ev)
		}
	}
}

// lookup returns the handler registered for h and the batch it registered in.
func (r *Reactor) lookup(h Handle) (eventHandler, uint64) {
	if c, ok := r.conns[h]; ok {
		return c, c.batch
	}
	if ro, ok := r.roles[h]; ok {
		return ro.ev, ro.batch
	}
	return nil, 0
}

func (r *Reactor) onIO(ev *poller.Event) {
	h, batch := r.lookup(Handle(ev.FD))
	if h == nil {
		// Torn down earlier in the same batch.
		return
	}
	if batch == r.batch {
		// The event was collected before the handler registered: it belongs
		// to a descriptor closed earlier in this batch whose number got
		// reused. The registration reports the current readiness on the
		// next wait.
		return
	}
	var err error
	if ev.Writable {
		err = h.onWritable()
	}
	if err == nil && ev.Readable {
		err = h.onReadable()
	}
	if err != nil || ev.Hangup {
		h.onHangup(err)
	}
}

// onWake adopts the handed off connections, then runs the posted jobs.
func (r *Reactor) onWake() {
	if n := r.pending.Drain(r.adopt); n > 0 {
		metrics.Add(metrics.HandoffDrained, uint64(n))
		for i, c := range r.opened {
			r.opened[i] = nil
			r.fireOpened(c)
		}
		r.opened = r.opened[:0]
	}
	r.runJobs()
}

// adopt registers a handed off connection. It runs under the handoff queue
// lock, the load was already counted by the balancer.
func (r *Reactor) adopt(c *Conn) {
	if err := r.attach(c); err != nil {
		r.load.Dec()
		return
	}
	r.opened = append(r.opened, c)
}

// registerConn registers a connection created on this reactor.
func (r *Reactor) registerConn(c *Conn) error {
	r.load.Inc()
	if err := r.attach(c); err != nil {
		r.load.Dec()
		return err
	}
	r.fireOpened(c)
	return nil
}

// attach inserts c in the registry and the readiness mechanism. On failure
// the socket is closed and the error recorded on c.
func (r *Reactor) attach(c *Conn) error {
	c.bind(r)
	c.batch = r.batch
	if err := r.poller.Add(c.nfd.fd, Readable); err != nil {
		metrics.Add(metrics.ConnRegisterFails, 1)
		c.err = err
		c.state = stateClosed
		c.active.Store(false)
		c.nfd.close()
		r.log.Warnf("register conn %s from %s: %v", c.id, c.peer, err)
		return err
	}
	r.conns[c.Handle()] = c
	r.nconns.Inc()
	metrics.Add(metrics.ConnsCreate, 1)
	return nil
}

func (r *Reactor) fireOpened(c *Conn) {
	if c.state != stateOpen {
		return
	}
	r.log.Debugf("conn %s opened, peer %s", c.id, c.peer)
	if f := r.opts.onOpened; f != nil {
		f(c)
	}
}

func (r *Reactor) runJobs() {
	r.jobs.Drain(func(j Job) {
		r.jobBuf = append(r.jobBuf, j)
	})
	for i, j := range r.jobBuf {
		r.jobBuf[i] = nil
		r.runJob(j)
	}
	r.jobBuf = r.jobBuf[:0]
}

func (r *Reactor) runJob(j Job) {
	defer func() {
		if e := recover(); e != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			r.log.Errorf("%s: job panic: %v\n%s", r.name, e, buf)
		}
	}()
	metrics.Add(metrics.JobsRun, 1)
	j()
}

// onTick samples every connection and closes the idle ones.
func (r *Reactor) onTick(now time.Time) {
	metrics.Add(metrics.PollTicks, 1)
	for _, c := range r.conns {
		c.sample(now)
		if c.idle.Expired(now) {
			r.log.Debugf("conn %s, peer %s: no activity for %s", c.id, c.peer, r.opts.idleTimeout)
			c.teardown(ErrIdleTimeout)
		}
	}
	recv, okRecv := r.recv.Sample(now)
	send, okSend := r.sent.Sample(now)
	if okRecv && okSend {
		r.recvRate, r.sendRate = recv, send
		if len(r.conns) > 0 {
			r.log.Debugf("%s conns %d, recv %s, send %s", r.name, len(r.conns),
				stat.FormatBitrate(recv), stat.FormatBitrate(send))
		}
	}
	if f := r.opts.onTick; f != nil {
		f(r, now)
	}
}

// close releases a reactor whose Run was never called. It reports false
// when Run owns the reactor already.
func (r *Reactor) close() bool {
	if !r.running.CompareAndSwap(false, true) {
		return false
	}
	r.stopped.Store(true)
	r.shutdown()
	return true
}

// shutdown releases everything the reactor owns.
func (r *Reactor) shutdown() {
	r.alive.Store(false)
	// Jobs posted before the close still run, so their resources get
	// registered and then released below.
	for _, j := range r.jobs.Close() {
		r.runJob(j)
	}
	for _, c := range r.conns {
		c.teardown(ErrReactorStopped)
	}
	for h, ro := range r.roles {
		delete(r.roles, h)
		r.poller.Del(int(h))
		ro.ev.onHangup(ErrReactorStopped)
	}
	for _, c := range r.pending.Close() {
		c.nfd.close()
		r.load.Dec()
	}
	r.wakeMu.Lock()
	r.closed = true
	r.wakeMu.Unlock()
	if err := r.poller.Close(); err != nil {
		r.log.Warnf("close poller: %v", err)
	}
	close(r.done)
	r.log.Debugf("%s stopped, received %d bytes, sent %d bytes", r.name, r.recv.Total(), r.sent.Total())
}

// String implements fmt.Stringer.
func (r *Reactor) String() string {
	return fmt.Sprintf("%s(conns=%d, load=%d)", r.name, r.Conns(), r.Load())
}
