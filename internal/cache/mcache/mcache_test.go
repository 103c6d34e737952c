// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package mcache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/treactor/internal/cache/mcache"
)

func TestMalloc(t *testing.T) {
	s := mcache.Malloc(400)
	defer mcache.Free(s)
	assert.Equal(t, 400, len(s))
	assert.Equal(t, 512, cap(s))

	s = mcache.Malloc(4096)
	defer mcache.Free(s)
	assert.Equal(t, 4096, len(s))
	assert.Equal(t, 4096, cap(s))

	big := mcache.Malloc(1 << 25)
	assert.Equal(t, 1<<25, len(big))
	mcache.Free(big)

	zero := mcache.Malloc(0)
	assert.Equal(t, 0, len(zero))
}

func TestCopy(t *testing.T) {
	p := []byte("payload")
	c := mcache.Copy(p)
	assert.Equal(t, p, c)
	p[0] = 'P'
	assert.Equal(t, byte('p'), c[0])
	mcache.Free(c)

	// Not a size class: ignored.
	mcache.Free(make([]byte, 3))
}

func TestCalIndex(t *testing.T) {
	assert.Equal(t, 0, mcache.CalIndex(0))
	assert.Equal(t, 0, mcache.CalIndex(1))
	assert.Equal(t, 1, mcache.CalIndex(2))
	assert.Equal(t, 3, mcache.CalIndex(5))
	assert.Equal(t, 12, mcache.CalIndex(4096))
	assert.Equal(t, 13, mcache.CalIndex(4097))
}

func BenchmarkCache4096(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		mcache.Free(mcache.Malloc(4096))
	}
}
