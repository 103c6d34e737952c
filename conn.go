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
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"trpc.group/trpc-go/treactor/codec"
	"trpc.group/trpc-go/treactor/internal/cache/mcache"
	"trpc.group/trpc-go/treactor/internal/netutil"
	"trpc.group/trpc-go/treactor/internal/outbound"
	"trpc.group/trpc-go/treactor/internal/stat"
	"trpc.group/trpc-go/treactor/internal/timer"
	"trpc.group/trpc-go/treactor/metrics"
)

type connState int32

const (
	stateOpen connState = iota
	stateClosing
	stateClosed
)

// errNoCodec is returned by WriteMessage on a reactor without codec.
var errNoCodec = errors.New("no codec configured")

// Conn is one entry of a reactor's connection registry. Unless stated
// otherwise its methods must be called on the owning reactor thread, from a
// hook or a posted Job.
type Conn struct {
	r        *Reactor
	nfd      netFD
	batch    uint64
	id       string
	peer     string
	out      *outbound.Queue
	codec    codec.Codec
	dec      codec.Decoder
	idle     timer.Timer
	recv     stat.Sampler
	sent     stat.Sampler
	recvRate float64
	sendRate float64
	err      error
	metaData any
	onData   OnData
	onClosed OnClosed
	state    connState
	// writing tells whether write interest is enabled, which holds exactly
	// while the outbound queue is not empty.
	writing    bool
	closeWrite bool
	wrShut     bool
	// halfClose keeps the connection open for writing after the peer's FIN,
	// rdEOF records that FIN.
	halfClose bool
	rdEOF     bool
	active    atomic.Bool
}

func newConn(nfd netFD) *Conn {
	c := &Conn{
		nfd:  nfd,
		id:   uuid.NewString(),
		peer: netutil.AddrString(nfd.raddr),
		out:  outbound.New(),
	}
	c.active.Store(true)
	return c
}

// bind makes r the owner of c.
func (c *Conn) bind(r *Reactor) {
	c.r = r
	if r.opts.codec != nil {
		c.codec = r.opts.codec
		c.dec = c.codec.NewDecoder()
	}
	c.idle = timer.New(r.opts.idleTimeout)
	c.idle.Touch(r.now)
}

// ID returns the unique id of the connection, used to correlate logs.
func (c *Conn) ID() string {
	return c.id
}

// Handle returns the handle of the connection within its reactor.
func (c *Conn) Handle() Handle {
	return Handle(c.nfd.fd)
}

// Peer returns the remote address as a string.
func (c *Conn) Peer() string {
	return c.peer
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.nfd.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nfd.RemoteAddr()
}

// Reactor returns the owning reactor.
func (c *Conn) Reactor() *Reactor {
	return c.r
}

// IsActive reports whether the connection is open. Safe for concurrent use.
func (c *Conn) IsActive() bool {
	return c.active.Load()
}

// Err returns the error that closed the connection, nil while it is open
// or after an explicit Close.
func (c *Conn) Err() error {
	return c.err
}

// BytesReceived returns the bytes read so far. Safe for concurrent use.
func (c *Conn) BytesReceived() uint64 {
	return c.recv.Total()
}

// BytesSent returns the bytes written so far. Safe for concurrent use.
func (c *Conn) BytesSent() uint64 {
	return c.sent.Total()
}

// Rates returns the receive and send bitrates computed on the last tick.
func (c *Conn) Rates() (recv, send float64) {
	return c.recvRate, c.sendRate
}

// Buffered returns the number of bytes waiting in the outbound queue.
func (c *Conn) Buffered() int {
	return c.out.Buffered()
}

// SetIdleTimeout replaces the reactor idle timeout for this connection,
// zero disables it.
func (c *Conn) SetIdleTimeout(d time.Duration) {
	if d <= 0 {
		c.idle.Stop()
		return
	}
	c.idle.Reset(d, c.r.now)
}

// SetMetaData sets meta data.
func (c *Conn) SetMetaData(m any) {
	c.metaData = m
}

// GetMetaData gets meta data.
func (c *Conn) GetMetaData() any {
	return c.metaData
}

// SetOnData replaces the reactor wide OnData hook for this connection.
func (c *Conn) SetOnData(f OnData) {
	c.onData = f
}

// SetOnClosed replaces the reactor wide OnClosed hook for this connection.
func (c *Conn) SetOnClosed(f OnClosed) {
	c.onClosed = f
}

// Write queues a copy of p and sends as much as the socket accepts right
// away. The rest is sent when the socket becomes writable.
func (c *Conn) Write(p []byte) error {
	if c.state != stateOpen || c.closeWrite {
		return ErrConnClosed
	}
	if len(p) == 0 {
		return nil
	}
	return c.enqueue(mcache.Copy(p), true)
}

// WriteMessage encodes payload with the reactor codec and writes it.
func (c *Conn) WriteMessage(payload []byte) error {
	if c.state != stateOpen || c.closeWrite {
		return ErrConnClosed
	}
	if c.codec == nil {
		return errNoCodec
	}
	b, err := c.codec.Encode(payload)
	if err != nil {
		return err
	}
	return c.enqueue(b, false)
}

func (c *Conn) enqueue(b []byte, pooled bool) error {
	if !c.out.Push(b, pooled) {
		// Write interest is already enabled.
		return nil
	}
	return c.flush()
}

// flush drains the outbound queue and keeps write interest in sync with it.
func (c *Conn) flush() error {
	n, empty, err := c.out.Drain(c.nfd.write)
	c.accountSent(n)
	if err != nil {
		err = os.NewSyscallError("write", err)
		c.teardown(err)
		return err
	}
	if !empty {
		metrics.Add(metrics.ConnWriteBlocks, 1)
		return c.setWriting(true)
	}
	if err := c.setWriting(false); err != nil {
		return err
	}
	if c.closeWrite {
		return c.shutdownWrite()
	}
	return nil
}

func (c *Conn) setWriting(on bool) error {
	if c.writing == on {
		return nil
	}
	in := Readable
	if on {
		in = ReadWritable
	}
	if err := c.r.ModifyInterest(c.Handle(), in); err != nil {
		c.teardown(err)
		return err
	}
	c.writing = on
	if on {
		metrics.Add(metrics.ConnWriteInterestOn, 1)
	} else {
		metrics.Add(metrics.ConnWriteInterestOff, 1)
	}
	return nil
}

// SetHalfClose makes the peer's FIN close only the reading side: queued and
// later writes still go out, and the connection is torn down once its own
// sending side is shut down with CloseWrite. By default the FIN tears the
// connection down.
func (c *Conn) SetHalfClose(on bool) {
	c.halfClose = on
}

// CloseWrite shuts down the sending side once the outbound queue is drained.
// Reading goes on until the peer's FIN, which tears the connection down. If
// the peer closed its side first under SetHalfClose, the connection is torn
// down once the shutdown is done.
func (c *Conn) CloseWrite() error {
	if c.state != stateOpen {
		return ErrConnClosed
	}
	c.closeWrite = true
	if c.out.Empty() {
		return c.shutdownWrite()
	}
	return nil
}

func (c *Conn) shutdownWrite() error {
	if c.wrShut {
		return nil
	}
	c.wrShut = true
	if err := c.nfd.shutdownWrite(); err != nil {
		err = os.NewSyscallError("shutdown", err)
		c.teardown(err)
		return err
	}
	if c.rdEOF {
		c.teardown(ErrPeerClosed)
	}
	return nil
}

// Close tears the connection down. It is idempotent.
func (c *Conn) Close() error {
	c.teardown(nil)
	return nil
}

func (c *Conn) accountSent(n int) {
	if n <= 0 {
		return
	}
	c.sent.Add(n)
	c.r.sent.Add(n)
	c.idle.Touch(c.r.now)
}

func (c *Conn) onReadable() error {
	buf := c.r.readBuf
	for c.state == stateOpen && !c.rdEOF {
		n, err := c.nfd.read(buf)
		if err != nil {
			if netutil.IsWouldBlock(err) {
				return nil
			}
			return os.NewSyscallError("read", err)
		}
		if n == 0 {
			if !c.halfClose || c.wrShut {
				return ErrPeerClosed
			}
			c.rdEOF = true
			return nil
		}
		c.recv.Add(n)
		c.r.recv.Add(n)
		c.idle.Touch(c.r.now)
		if err := c.deliver(buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) deliver(p []byte) error {
	if f := c.dataHook(); f != nil {
		f(c, p)
	}
	if c.dec == nil || c.state != stateOpen {
		return nil
	}
	return c.dec.Feed(p, c.onMessage)
}

func (c *Conn) dataHook() OnData {
	if c.onData != nil {
		return c.onData
	}
	return c.r.opts.onData
}

func (c *Conn) onMessage(payload []byte) error {
	if c.state != stateOpen {
		return ErrConnClosed
	}
	if f := c.r.opts.onMessage; f != nil {
		f(c, payload)
	}
	if f := c.r.opts.asyncHandler; f != nil {
		return c.submit(f, payload)
	}
	return nil
}

// submit runs f on the business pool and writes its reply back on the
// reactor thread, if the connection is still open by then.
func (c *Conn) submit(f AsyncHandler, payload []byte) error {
	req := append([]byte(nil), payload...)
	r := c.r
	return doTask(func() {
		reply := f(req)
		if reply == nil {
			return
		}
		if err := r.Post(func() {
			if c.state != stateOpen {
				return
			}
			if err := c.WriteMessage(reply); err != nil {
				r.log.Debugf("conn %s write reply: %v", c.id, err)
			}
		}); err != nil {
			r.log.Debugf("conn %s drop reply: %v", c.id, err)
		}
	})
}

func (c *Conn) onWritable() error {
	if c.state != stateOpen || c.out.Empty() {
		return nil
	}
	return c.flush()
}

func (c *Conn) onHangup(err error) {
	if c.state != stateOpen {
		return
	}
	if err == nil {
		if err = netutil.SocketError(c.nfd.fd); err == nil {
			if c.rdEOF && !c.wrShut {
				// Only the peer's sending side is gone.
				return
			}
			err = ErrPeerClosed
		}
	}
	c.teardown(err)
}

// teardown moves the connection from open to closed. It unregisters the
// handle, drops the outbound queue, removes the registry entry, closes the
// socket and releases the load slot, in that order. Later calls are no-ops.
func (c *Conn) teardown(err error) {
	if c.state != stateOpen {
		return
	}
	c.state = stateClosing
	c.active.Store(false)
	if c.err == nil {
		c.err = err
	}
	r := c.r
	if e := r.Unregister(c.Handle()); e != nil {
		r.log.Debugf("conn %s unregister: %v", c.id, e)
	}
	c.writing = false
	if dropped := c.out.Discard(); dropped > 0 {
		r.log.Debugf("conn %s dropped %d unsent bytes", c.id, dropped)
	}
	delete(r.conns, c.Handle())
	r.nconns.Dec()
	if e := c.nfd.close(); e != nil {
		r.log.Debugf("conn %s close: %v", c.id, e)
	}
	r.load.Dec()
	c.state = stateClosed
	metrics.Add(metrics.ConnsClose, 1)
	if err != nil && err != ErrReactorStopped && err != ErrPeerClosed {
		r.log.Debugf("conn %s, peer %s closed: %v", c.id, c.peer, err)
	}
	if f := c.closedHook(); f != nil {
		f(c)
	}
}

func (c *Conn) closedHook() OnClosed {
	if c.onClosed != nil {
		return c.onClosed
	}
	return c.r.opts.onClosed
}

func (c *Conn) sample(now time.Time) {
	if bps, ok := c.recv.Sample(now); ok {
		c.recvRate = bps
	}
	if bps, ok := c.sent.Sample(now); ok {
		c.sendRate = bps
	}
}
