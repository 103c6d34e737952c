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

// Package metrics provides treactor runtime monitoring data, such as the
// efficiency of accept drains, handoffs and partial writes, which is a good
// tool for performance tuning.
package metrics

import (
	"time"

	"go.uber.org/atomic"
	"trpc.group/trpc-go/treactor/log"
)

// All metrics definitions.
const (
	// The following constants are connection metrics.

	ConnsCreate = iota
	ConnsClose
	ConnReads
	ConnReadBytes
	ConnWrites
	ConnWriteBytes
	ConnWriteBlocks
	ConnWriteInterestOn
	ConnWriteInterestOff
	ConnRegisterFails

	// The following constants are acceptor and balancer metrics.

	AcceptCalls
	AcceptDrains
	AcceptFails
	HandoffPushed
	HandoffDrained
	HandoffFails

	// The following constants are poller metrics.

	PollWait
	PollEvents
	PollWakeups
	PollTicks
	JobsRun

	// The following constants are business pool metrics.

	TaskAssigned
	TaskFails

	// Keep it last.

	Max
)

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	now := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = now[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	showAll(GetAll())
}

func showAll(m [Max]uint64) {
	log.Debug("######### treactor metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	showConnMetrics(m)
	showAcceptMetrics(m)
	showPollMetrics(m)
	log.Debugf("%-59s: %d", "# TASK - number of tasks assigned", m[TaskAssigned])
	log.Debugf("%-59s: %d", "# TASK - number of rejected tasks", m[TaskFails])
}

func showConnMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# CONN - number of connections created", m[ConnsCreate])
	log.Debugf("%-59s: %d", "# CONN - number of connections closed", m[ConnsClose])
	log.Debugf("%-59s: %d", "# CONN - number of failed registrations", m[ConnRegisterFails])
	log.Debugf("%-59s: %d", "# CONN - number of read system calls", m[ConnReads])
	if m[ConnReads] > 0 {
		log.Debugf("%-59s: %dB", "# CONN - read efficiency", m[ConnReadBytes]/m[ConnReads])
	}
	log.Debugf("%-59s: %d", "# CONN - number of write system calls", m[ConnWrites])
	log.Debugf("%-59s: %d", "# CONN - number of writes that would block", m[ConnWriteBlocks])
	if m[ConnWrites] > 0 {
		log.Debugf("%-59s: %dB", "# CONN - write efficiency", m[ConnWriteBytes]/m[ConnWrites])
	}
	log.Debugf("%-59s: %d", "# CONN - number of times write interest switched on", m[ConnWriteInterestOn])
	log.Debugf("%-59s: %d", "# CONN - number of times write interest switched off", m[ConnWriteInterestOff])
}

func showAcceptMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# ACCEPT - number of accept system calls", m[AcceptCalls])
	log.Debugf("%-59s: %d", "# ACCEPT - number of accept drains", m[AcceptDrains])
	log.Debugf("%-59s: %d", "# ACCEPT - number of failed accepts", m[AcceptFails])
	if m[AcceptDrains] > 0 {
		log.Debugf("%-59s: %.2f", "# ACCEPT - average accepts per drain",
			float64(m[AcceptCalls]-m[AcceptFails])/float64(m[AcceptDrains]))
	}
	log.Debugf("%-59s: %d", "# HANDOFF - number of items pushed", m[HandoffPushed])
	log.Debugf("%-59s: %d", "# HANDOFF - number of items drained", m[HandoffDrained])
	log.Debugf("%-59s: %d", "# HANDOFF - number of failed handoffs", m[HandoffFails])
}

func showPollMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# POLL - number of wait returns", m[PollWait])
	log.Debugf("%-59s: %d", "# POLL - number of total events", m[PollEvents])
	log.Debugf("%-59s: %d", "# POLL - number of wakeups", m[PollWakeups])
	log.Debugf("%-59s: %d", "# POLL - number of ticks", m[PollTicks])
	log.Debugf("%-59s: %d", "# POLL - number of posted jobs run", m[JobsRun])
	if m[PollWait] > 0 {
		log.Debugf("%-59s: %.2f", "# POLL - average events number per wait",
			float32(m[PollEvents])/float32(m[PollWait]))
	}
}
