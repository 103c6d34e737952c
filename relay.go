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
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/treactor/internal/stat"
)

const relayChunkSize = 64 << 10

// Relay joins a local data source with one connection: whatever the source
// yields is written to the connection, whatever the connection receives is
// written to the sink. The reactor stops once the source reached EOF and
// the connection is closed.
type Relay struct {
	r    *Reactor
	c    *Conn
	src  *os.File
	fd   int
	sink io.Writer

	// polled is false when the source is read by a pump goroutine.
	polled  bool
	srcEOF  bool
	srcErr  error
	sinkErr error
	in      stat.Sampler
	out     stat.Sampler
}

// NewRelay wires src and sink to c. It must be called before r.Run or on
// r's thread. Sources the readiness mechanism refuses, such as regular
// files, are read by a goroutine posting their chunks to r. That path has
// no backpressure: a slow peer lets the outbound queue grow. c is switched to
// half close, so a peer done sending still receives the rest of src.
func NewRelay(r *Reactor, c *Conn, src *os.File, sink io.Writer) (*Relay, error) {
	if c.Reactor() != r {
		return nil, errors.New("relay conn belongs to another reactor")
	}
	rl := &Relay{
		r:    r,
		c:    c,
		src:  src,
		fd:   int(src.Fd()),
		sink: sink,
	}
	if err := rl.watchSource(); err != nil {
		return nil, err
	}
	c.SetOnData(rl.onData)
	c.SetHalfClose(true)
	prev := r.terminal
	r.setTerminal(func() bool {
		return rl.Done() || prev != nil && prev()
	})
	return rl, nil
}

func (rl *Relay) watchSource() error {
	if err := unix.SetNonblock(rl.fd, true); err != nil {
		return os.NewSyscallError("set nonblock", err)
	}
	err := rl.r.register(Handle(rl.fd), Readable, rl)
	if err == nil {
		rl.polled = true
		return nil
	}
	unix.SetNonblock(rl.fd, false)
	if !errors.Is(err, unix.EPERM) {
		return errors.Wrap(err, "register relay source")
	}
	rl.r.log.Debugf("relay source %s is not pollable, reading it on a goroutine", rl.src.Name())
	go rl.pump()
	return nil
}

// Done reports whether the source reached EOF and the connection is closed.
// Reactor thread only.
func (rl *Relay) Done() bool {
	return rl.srcEOF && !rl.c.IsActive()
}

// Conn returns the relayed connection.
func (rl *Relay) Conn() *Conn {
	return rl.c
}

// BytesIn returns the bytes read from the source.
func (rl *Relay) BytesIn() uint64 {
	return rl.in.Total()
}

// BytesOut returns the bytes written to the sink.
func (rl *Relay) BytesOut() uint64 {
	return rl.out.Total()
}

// Err returns the first source or sink failure.
func (rl *Relay) Err() error {
	if rl.srcErr != nil {
		return rl.srcErr
	}
	return rl.sinkErr
}

func (rl *Relay) onData(_ *Conn, p []byte) {
	if rl.sinkErr != nil {
		return
	}
	n, err := rl.sink.Write(p)
	rl.out.Add(n)
	if err != nil {
		rl.sinkErr = errors.Wrap(err, "relay sink")
		rl.r.log.Warnf("relay sink: %v", err)
	}
}

// forward writes a chunk of the source to the connection. Chunks read after
// the connection closed are dropped.
func (rl *Relay) forward(p []byte) {
	rl.in.Add(len(p))
	if !rl.c.IsActive() {
		return
	}
	if err := rl.c.Write(p); err != nil {
		rl.r.log.Debugf("relay forward: %v", err)
	}
}

func (rl *Relay) onReadable() error {
	buf := rl.r.readBuf
	for !rl.srcEOF {
		n, err := unix.Read(rl.fd, buf)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return nil
		case err != nil:
			return os.NewSyscallError("read", err)
		case n == 0:
			rl.sourceDone(nil)
			return nil
		}
		rl.forward(buf[:n])
	}
	return nil
}

func (rl *Relay) onWritable() error {
	return nil
}

// onHangup sees a pipe whose writer is gone. The pending data was read by
// onReadable in the same dispatch, so the source is done.
func (rl *Relay) onHangup(err error) {
	if rl.srcEOF {
		return
	}
	if err == ErrReactorStopped {
		rl.srcEOF = true
		rl.release()
		return
	}
	if err == nil {
		// Hangup with readable data still buffered in the kernel.
		if err = rl.onReadable(); err == nil && !rl.srcEOF {
			rl.sourceDone(nil)
			return
		}
	}
	if err != nil {
		rl.sourceDone(err)
	}
}

// sourceDone stops reading the source and half closes the connection once
// its outbound queue is drained.
func (rl *Relay) sourceDone(err error) {
	if rl.srcEOF {
		return
	}
	rl.srcEOF = true
	if err != nil && err != io.EOF {
		rl.srcErr = errors.Wrap(err, "relay source")
		rl.r.log.Warnf("relay source: %v", err)
	}
	rl.release()
	if rl.c.IsActive() {
		if err := rl.c.CloseWrite(); err != nil {
			rl.r.log.Debugf("relay close write: %v", err)
		}
	}
}

func (rl *Relay) release() {
	if !rl.polled {
		return
	}
	rl.polled = false
	rl.r.unregisterRole(Handle(rl.fd))
	unix.SetNonblock(rl.fd, false)
}

// pump reads a source that cannot be polled and posts its chunks.
func (rl *Relay) pump() {
	buf := make([]byte, relayChunkSize)
	for {
		n, err := rl.src.Read(buf)
		if n > 0 {
			p := append([]byte(nil), buf[:n]...)
			if rl.r.Post(func() { rl.forward(p) }) != nil {
				return
			}
		}
		if err != nil {
			rl.r.Post(func() { rl.sourceDone(err) })
			return
		}
	}
}
