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

// Package stat tracks cumulative byte counters and derives bitrates from the
// deltas observed between periodic samples.
package stat

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// unitThreshold is the factor between two consecutive bitrate units.
const unitThreshold = 1000

var units = []string{"bit/s", "Kbit/s", "Mbit/s", "Gbit/s", "Tbit/s"}

// Sampler counts bytes and computes the bitrate between two samples.
//
// Add may be called from any goroutine. Sample must be called from a single
// goroutine, the owning reactor's tick.
type Sampler struct {
	total atomic.Uint64

	lastTotal uint64
	lastTime  time.Time
	rate      float64
	hasBase   bool
}

// Add increases the cumulative counter by n bytes.
func (s *Sampler) Add(n int) {
	if n > 0 {
		s.total.Add(uint64(n))
	}
}

// Total returns the cumulative number of bytes.
func (s *Sampler) Total() uint64 {
	return s.total.Load()
}

// Sample records a snapshot taken at now and returns the bitrate in bits per
// second since the previous snapshot. ok is false when no rate can be
// computed: on the first call, which only establishes the baseline, and when
// now is not after the previous snapshot, in which case the baseline is kept.
func (s *Sampler) Sample(now time.Time) (bps float64, ok bool) {
	total := s.total.Load()
	if !s.hasBase {
		s.lastTotal, s.lastTime, s.hasBase = total, now, true
		return 0, false
	}
	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	var delta uint64
	if total > s.lastTotal {
		delta = total - s.lastTotal
	}
	s.rate = float64(delta) * 8 / elapsed
	s.lastTotal, s.lastTime = total, now
	return s.rate, true
}

// Rate returns the bitrate computed by the last successful Sample.
func (s *Sampler) Rate() float64 {
	return s.rate
}

// FormatBitrate renders bps with the largest unit keeping the value under
// 1000, e.g. 8000 => "8.00 Kbit/s".
func FormatBitrate(bps float64) string {
	i := 0
	for bps >= unitThreshold && i < len(units)-1 {
		bps /= unitThreshold
		i++
	}
	return fmt.Sprintf("%.2f %s", bps, units[i])
}

// FormatBytes renders a byte count with binary units, e.g. 1536 => "1.50 KiB".
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTP"[exp])
}
