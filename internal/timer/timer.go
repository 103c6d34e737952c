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

// Package timer provides deadlines that are checked by a reactor tick
// instead of a runtime timer per connection.
package timer

import "time"

// Timer is a sliding deadline. The zero value is disabled.
type Timer struct {
	timeout  time.Duration
	deadline time.Time
}

// New creates a timer that expires timeout after the last Touch.
// A timeout <= 0 disables it.
func New(timeout time.Duration) Timer {
	return Timer{timeout: timeout}
}

// Touch pushes the deadline to now plus the timeout.
func (t *Timer) Touch(now time.Time) {
	if t.timeout > 0 {
		t.deadline = now.Add(t.timeout)
	}
}

// Reset changes the timeout and restarts the deadline from now.
func (t *Timer) Reset(timeout time.Duration, now time.Time) {
	t.timeout = timeout
	t.deadline = time.Time{}
	t.Touch(now)
}

// Stop disables the timer.
func (t *Timer) Stop() {
	t.timeout = 0
	t.deadline = time.Time{}
}

// Expired returns whether the deadline is set and lies before now.
func (t *Timer) Expired(now time.Time) bool {
	return !t.deadline.IsZero() && t.deadline.Before(now)
}

// IsZero returns whether the timer is in no timeout state.
func (t *Timer) IsZero() bool {
	return t.deadline.IsZero()
}

// Deadline returns the current deadline, zero when disabled.
func (t *Timer) Deadline() time.Time {
	return t.deadline
}
