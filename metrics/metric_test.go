// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/treactor/metrics"
)

func TestMetrics(t *testing.T) {
	before := metrics.Get(metrics.AcceptCalls)
	metrics.Add(metrics.AcceptCalls, 1)
	assert.Equal(t, before+1, metrics.Get(metrics.AcceptCalls))
	metrics.Add(metrics.AcceptCalls, 1)
	assert.Equal(t, before+2, metrics.Get(metrics.AcceptCalls))
	metrics.Add(metrics.Max+1, 1)
	metrics.Add(metrics.AcceptDrains, 1)
	metrics.Add(metrics.PollWait, 9)
	metrics.Add(metrics.PollEvents, 99)
	metrics.Add(metrics.ConnWrites, 191)
	metrics.Add(metrics.ConnWriteBytes, 1191)
	metrics.Add(metrics.ConnReads, 191)
	metrics.Add(metrics.ConnReadBytes, 1191)
	assert.Equal(t, uint64(0), metrics.Get(metrics.Max+1))
	all := metrics.GetAll()
	assert.Equal(t, metrics.Get(metrics.PollEvents), all[metrics.PollEvents])
	metrics.ShowMetrics()
	metrics.ShowMetricsOfPeriod(time.Millisecond)
}
