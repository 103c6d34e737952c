// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Command client sends length-prefixed messages to an echo server and
// waits for every reply:
//
//	client [flags] host port
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	_ "go.uber.org/automaxprocs"
	"trpc.group/trpc-go/treactor"
	"trpc.group/trpc-go/treactor/cmd/internal/app"
	"trpc.group/trpc-go/treactor/codec"
	"trpc.group/trpc-go/treactor/log"
)

var (
	conns      = flag.Int("c", 1, "number of connections")
	messages   = flag.Int("n", 1000, "messages per connection")
	size       = flag.Int("size", 64, "payload size of each message")
	timeout    = flag.Duration("timeout", 5*time.Second, "connect and handshake timeout")
	maxPayload = flag.Int("max-payload", codec.DefaultMaxPayload, "maximum reply payload")
	handshake  = flag.Bool("handshake", true, "exchange a hello message before streaming")
	verbose    = flag.Bool("v", false, "debug logging")
)

var helloMessage = []byte("treactor hello")

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] host port\n", os.Args[0])
	flag.PrintDefaults()
}

// session tracks the replies of one connection.
type session struct {
	replies int
	bad     int
}

func hello(rw io.ReadWriter) error {
	if err := codec.WriteFrame(rw, helloMessage); err != nil {
		return err
	}
	p, err := codec.ReadFrame(rw, *maxPayload)
	if err != nil {
		return err
	}
	if !bytes.Equal(p, helloMessage) {
		return errors.New("server did not echo the hello message")
	}
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = usage
	flag.Parse()
	var (
		port int
		err  error
	)
	switch {
	case flag.NArg() != 2:
		err = errors.New("wrong number of arguments")
	case *conns < 1 || *messages < 0 || *size < 0:
		err = errors.New("-c must be positive, -n and -size not negative")
	default:
		port, err = app.ParsePort(flag.Arg(1))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		return 1
	}
	if *verbose {
		log.SetLevel("debug")
	}
	defer log.Sync()
	app.RaiseFileLimit()

	var (
		finished, failed int
		payload          = bytes.Repeat([]byte{'x'}, *size)
	)
	onMessage := func(c *treactor.Conn, p []byte) {
		s := c.GetMetaData().(*session)
		s.replies++
		if len(p) != len(payload) {
			s.bad++
		}
		if s.replies == *messages {
			c.Close()
		}
	}
	onClosed := func(c *treactor.Conn) {
		finished++
		s := c.GetMetaData().(*session)
		if s.replies < *messages || s.bad > 0 {
			failed++
			log.Warnf("conn %s: %d/%d replies, %d malformed, err: %v", c.ID(), s.replies, *messages, s.bad, c.Err())
		}
	}
	r, err := treactor.NewReactor(
		treactor.WithCodec(codec.LengthPrefixed{MaxPayload: *maxPayload}),
		treactor.WithOnMessage(onMessage),
		treactor.WithOnClosed(onClosed),
		treactor.WithTerminalCondition(func() bool { return finished == *conns }),
	)
	if err != nil {
		log.Errorf("create reactor: %v", err)
		return 1
	}
	var dialOpts []treactor.DialOption
	if *handshake {
		dialOpts = append(dialOpts, treactor.WithHandshake(*timeout, hello))
	}
	addr := net.JoinHostPort(flag.Arg(0), strconv.Itoa(port))
	var cs []*treactor.Conn
	for i := 0; i < *conns; i++ {
		c, err := treactor.Dial(r, "tcp", addr, *timeout, dialOpts...)
		if err != nil {
			log.Errorf("%v", err)
			r.Stop()
			r.Run()
			return 1
		}
		c.SetMetaData(&session{})
		cs = append(cs, c)
	}

	start := time.Now()
	for _, c := range cs {
		if *messages == 0 {
			c.Close()
			continue
		}
		for i := 0; i < *messages; i++ {
			if err := c.WriteMessage(payload); err != nil {
				log.Errorf("conn %s write: %v", c.ID(), err)
				break
			}
		}
	}
	release := app.NotifyStop(r.Stop)
	defer release()
	err = r.Run()
	secs := time.Since(start).Seconds()

	var sent, received uint64
	replies := 0
	for _, c := range cs {
		sent += c.BytesSent()
		received += c.BytesReceived()
		replies += c.GetMetaData().(*session).replies
	}
	log.Infof("%d conns, %d replies in %.2fs (%.0f msg/s), sent %s, received %s",
		len(cs), replies, secs, float64(replies)/secs,
		app.Throughput(sent, secs), app.Throughput(received, secs))
	if err != nil {
		log.Errorf("client: %v", err)
		return 1
	}
	if failed > 0 || finished < len(cs) {
		return 1
	}
	return 0
}
