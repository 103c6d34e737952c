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

// Package mcache provides size-class pools for byte slices, used for reactor
// read buffers and for copies of outbound payloads.
package mcache

import (
	"math/bits"
	"sync"
)

// 2**24 > 10M
const maxSize = 25

// caches[i] stores slices of capacity 2**i.
var caches [maxSize]sync.Pool

func init() {
	for i := 0; i < maxSize; i++ {
		size := 1 << i
		caches[i].New = func() any {
			return make([]byte, 0, size)
		}
	}
}

// Malloc returns a byte slice of length size whose capacity is the next power
// of two. Recycle it with Free. Sizes beyond the largest class are allocated
// directly and never pooled.
func Malloc(size int) []byte {
	idx := CalIndex(size)
	if idx >= maxSize {
		return make([]byte, size)
	}
	return caches[idx].Get().([]byte)[:size]
}

// Copy returns a pooled copy of p.
func Copy(p []byte) []byte {
	b := Malloc(len(p))
	copy(b, p)
	return b
}

// Free recycles a byte slice obtained from Malloc or Copy.
// Slices whose capacity is not a size class are left to the GC.
func Free(p []byte) {
	c := cap(p)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	idx := CalIndex(c)
	if idx >= maxSize {
		return
	}
	caches[idx].Put(p[:0])
}

// CalIndex returns the index of the smallest size class holding capacity.
func CalIndex(capacity int) int {
	if capacity <= 1 {
		return 0
	}
	return bits.Len(uint(capacity - 1))
}
