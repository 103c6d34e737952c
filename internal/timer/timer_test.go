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

package timer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/treactor/internal/timer"
)

func TestTimerNormal(t *testing.T) {
	now := time.Unix(1000, 0)
	t1 := timer.New(10 * time.Millisecond)
	assert.True(t, t1.IsZero())
	assert.False(t, t1.Expired(now))

	t1.Touch(now)
	assert.Equal(t, now.Add(10*time.Millisecond), t1.Deadline())
	assert.False(t, t1.Expired(now.Add(10*time.Millisecond)))
	assert.True(t, t1.Expired(now.Add(11*time.Millisecond)))

	// Activity slides the deadline.
	t1.Touch(now.Add(8 * time.Millisecond))
	assert.False(t, t1.Expired(now.Add(11*time.Millisecond)))

	t1.Reset(time.Second, now)
	assert.False(t, t1.Expired(now.Add(500*time.Millisecond)))
	assert.True(t, t1.Expired(now.Add(2*time.Second)))

	t1.Stop()
	assert.True(t, t1.IsZero())
	t1.Touch(now)
	assert.True(t, t1.IsZero())
}

func TestTimerDisabled(t *testing.T) {
	var t1 timer.Timer
	t1.Touch(time.Now())
	assert.True(t, t1.IsZero())
	assert.False(t, t1.Expired(time.Now().Add(time.Hour)))
}
