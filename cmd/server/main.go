// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Command server runs a multi worker echo server. In codec mode every
// length-prefixed message is echoed back by the business goroutine pool,
// in raw mode the bytes are echoed as they arrive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	_ "go.uber.org/automaxprocs"
	"trpc.group/trpc-go/treactor"
	"trpc.group/trpc-go/treactor/cmd/internal/app"
	"trpc.group/trpc-go/treactor/codec"
	"trpc.group/trpc-go/treactor/log"
	"trpc.group/trpc-go/treactor/metrics"
)

var (
	host        = flag.String("host", "0.0.0.0", "listening host")
	port        = flag.String("port", "9990", "listening port")
	workers     = flag.Int("workers", runtime.NumCPU(), "number of worker reactors, 0 serves on the acceptor")
	balancer    = flag.String("balancer", treactor.LeastLoaded, "worker balancer: "+treactor.LeastLoaded+" or "+treactor.RoundRobin)
	mode        = flag.String("mode", "codec", "echo mode: codec or raw")
	maxPayload  = flag.Int("max-payload", codec.DefaultMaxPayload, "maximum message payload in codec mode")
	idle        = flag.Duration("idle", 0, "close connections idle for this long, 0 disables")
	tick        = flag.Duration("tick", time.Second, "statistics sampling interval")
	reusePort   = flag.Bool("reuseport", false, "set SO_REUSEPORT on the listener")
	report      = flag.Duration("report", 0, "log the message rate at this interval, 0 disables")
	showMetrics = flag.Bool("metrics", false, "dump the reactor metrics on exit, at debug level")
	verbose     = flag.Bool("v", false, "debug logging")
)

var msgRate = gometrics.NewRegisteredMeter("messages", nil)

// metricsLogger feeds go-metrics reports to the treactor logger.
type metricsLogger struct{}

func (metricsLogger) Printf(format string, v ...interface{}) {
	log.Infof(format, v...)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = usage
	flag.Parse()
	p, err := app.ParsePort(*port)
	if err == nil && flag.NArg() > 0 {
		err = errors.New("unexpected arguments")
	}
	if err == nil && *mode != "codec" && *mode != "raw" {
		err = fmt.Errorf("unknown mode %q", *mode)
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

	opts := []treactor.Option{
		treactor.WithWorkers(*workers),
		treactor.WithBalancer(*balancer),
		treactor.WithIdleTimeout(*idle),
		treactor.WithTickInterval(*tick),
		treactor.WithReusePort(*reusePort),
	}
	if *mode == "raw" {
		opts = append(opts, treactor.WithOnData(func(c *treactor.Conn, p []byte) {
			if err := c.Write(p); err != nil {
				log.Debugf("conn %s echo: %v", c.ID(), err)
			}
		}))
	} else {
		opts = append(opts,
			treactor.WithCodec(codec.LengthPrefixed{MaxPayload: *maxPayload}),
			treactor.WithAsyncHandler(func(payload []byte) []byte {
				msgRate.Mark(1)
				return payload
			}),
		)
	}
	s, err := treactor.NewServer(net.JoinHostPort(*host, strconv.Itoa(p)), opts...)
	if err != nil {
		log.Errorf("create server: %v", err)
		return 1
	}
	if *report > 0 {
		go gometrics.Log(gometrics.DefaultRegistry, *report, metricsLogger{})
	}

	release := app.NotifyStop(s.Stop)
	defer release()
	start := time.Now()
	err = s.Serve(context.Background())
	printStats(s.Stats(), time.Since(start).Seconds())
	if *showMetrics {
		metrics.ShowMetrics()
	}
	if err != nil && !errors.Is(err, treactor.ErrServerClosed) {
		log.Errorf("serve: %v", err)
		return 1
	}
	return 0
}

func printStats(st treactor.Stats, secs float64) {
	log.Infof("served for %.2fs, received %s, sent %s, messages %d",
		secs, app.Throughput(st.BytesReceived, secs), app.Throughput(st.BytesSent, secs), msgRate.Count())
	for _, w := range st.Workers {
		log.Infof("  %s: alive %t, conns %d, received %d bytes, sent %d bytes",
			w.Name, w.Alive, w.Conns, w.BytesReceived, w.BytesSent)
	}
}
