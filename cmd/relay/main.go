// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Command relay joins stdin and stdout with one TCP connection, either
// dialed or accepted:
//
//	relay [flags] host port
//	relay -l [flags] [host] port
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "go.uber.org/automaxprocs"
	"trpc.group/trpc-go/treactor"
	"trpc.group/trpc-go/treactor/cmd/internal/app"
	"trpc.group/trpc-go/treactor/log"
)

var (
	listen        = flag.Bool("l", false, "listen for one peer instead of connecting")
	timeout       = flag.Duration("timeout", 5*time.Second, "connect timeout")
	acceptTimeout = flag.Duration("accept-timeout", 0, "how long to wait for the peer in listen mode, 0 waits forever")
	tick          = flag.Duration("tick", time.Second, "statistics sampling interval")
	recvBuf       = flag.Int("rcvbuf", 0, "socket receive buffer size, 0 keeps the system default")
	sendBuf       = flag.Int("sndbuf", 0, "socket send buffer size, 0 keeps the system default")
	verbose       = flag.Bool("v", false, "debug logging")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] host port\n       %s -l [flags] [host] port\n",
		os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func parseArgs(args []string, listen bool) (string, int, error) {
	var host, port string
	switch {
	case len(args) == 2:
		host, port = args[0], args[1]
	case len(args) == 1 && listen:
		host, port = "0.0.0.0", args[0]
	default:
		return "", 0, errors.New("wrong number of arguments")
	}
	p, err := app.ParsePort(port)
	return host, p, err
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = usage
	flag.Parse()
	host, port, err := parseArgs(flag.Args(), *listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		return 1
	}
	if *verbose {
		log.SetLevel("debug")
	}
	defer log.Sync()

	r, err := treactor.NewReactor(
		treactor.WithTickInterval(*tick),
		treactor.WithSocketBuffers(*recvBuf, *sendBuf),
		treactor.WithOnTick(func(r *treactor.Reactor, _ time.Time) {
			recv, send := r.Rates()
			log.Debugf("recv %s, send %s", app.Rate(recv), app.Rate(send))
		}),
	)
	if err != nil {
		log.Errorf("create reactor: %v", err)
		return 1
	}
	c, err := treactor.Connect(r, *listen, host, port, *timeout, treactor.WithAcceptTimeout(*acceptTimeout))
	if err != nil {
		log.Errorf("%v", err)
		r.Stop()
		r.Run()
		return 1
	}
	log.Infof("connected to %s", c.Peer())
	rl, err := treactor.NewRelay(r, c, os.Stdin, os.Stdout)
	if err != nil {
		log.Errorf("%v", err)
		r.Stop()
		r.Run()
		return 1
	}

	release := app.NotifyStop(r.Stop)
	defer release()
	start := time.Now()
	err = r.Run()
	secs := time.Since(start).Seconds()
	log.Infof("sent %s, received %s in %.2fs",
		app.Throughput(c.BytesSent(), secs), app.Throughput(c.BytesReceived(), secs), secs)
	if err != nil {
		log.Errorf("relay: %v", err)
		return 1
	}
	if err := rl.Err(); err != nil {
		log.Errorf("%v", err)
		return 1
	}
	return 0
}
