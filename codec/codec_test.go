// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package codec_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/treactor/codec"
)

func payload(size int) []byte {
	p := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(p)
	return p
}

func collect(d codec.Decoder, chunks ...[]byte) ([][]byte, error) {
	var out [][]byte
	for _, c := range chunks {
		err := d.Feed(c, func(p []byte) error {
			out = append(out, append([]byte(nil), p...))
			return nil
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func TestRoundTripSizes(t *testing.T) {
	const max = 1 << 20
	c := codec.LengthPrefixed{MaxPayload: max}
	for _, size := range []int{0, 1, 65536, max} {
		p := payload(size)
		framed, err := c.Encode(p)
		require.Nil(t, err)
		require.Equal(t, codec.HeaderLen+size, len(framed))

		msgs, err := collect(c.NewDecoder(), framed)
		require.Nil(t, err)
		require.Len(t, msgs, 1, "size %d", size)
		assert.Equal(t, size, len(msgs[0]))
		assert.True(t, bytes.Equal(p, msgs[0]))
	}
}

func TestOversizeRejected(t *testing.T) {
	const max = 1024
	c := codec.LengthPrefixed{MaxPayload: max}
	_, err := c.Encode(payload(max + 1))
	assert.True(t, errors.Is(err, codec.ErrPayloadTooLarge))

	var head [codec.HeaderLen]byte
	binary.BigEndian.PutUint32(head[:], max+1)
	msgs, err := collect(c.NewDecoder(), head[:])
	assert.True(t, errors.Is(err, codec.ErrPayloadTooLarge))
	assert.Empty(t, msgs)
}

func TestSplitAcrossChunks(t *testing.T) {
	c := codec.LengthPrefixed{}
	var stream []byte
	var want [][]byte
	for _, size := range []int{3, 0, 700, 1, 5000} {
		p := payload(size)
		want = append(want, p)
		framed, err := c.Encode(p)
		require.Nil(t, err)
		stream = append(stream, framed...)
	}
	rnd := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		d := c.NewDecoder()
		var chunks [][]byte
		for rest := stream; len(rest) > 0; {
			n := 1 + rnd.Intn(64)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		msgs, err := collect(d, chunks...)
		require.Nil(t, err)
		require.Equal(t, len(want), len(msgs))
		for i := range want {
			assert.True(t, bytes.Equal(want[i], msgs[i]), "message %d", i)
		}
		assert.Zero(t, d.Buffered())
	}
}

func TestEmitErrorStopsFeed(t *testing.T) {
	c := codec.LengthPrefixed{}
	a, _ := c.Encode([]byte("a"))
	b, _ := c.Encode([]byte("b"))
	d := c.NewDecoder()
	stop := errors.New("stop")
	calls := 0
	err := d.Feed(append(a, b...), func([]byte) error {
		calls++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, len(b), d.Buffered())

	msgs, err := collect(d, nil)
	require.Nil(t, err)
	assert.Equal(t, [][]byte{[]byte("b")}, msgs)
}

func TestReadWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.Nil(t, codec.WriteFrame(&buf, []byte("hello")))
	require.Nil(t, codec.WriteFrame(&buf, nil))
	p, err := codec.ReadFrame(&buf, 0)
	require.Nil(t, err)
	assert.Equal(t, []byte("hello"), p)
	p, err = codec.ReadFrame(&buf, 0)
	require.Nil(t, err)
	assert.Empty(t, p)
	_, err = codec.ReadFrame(&buf, 0)
	assert.Equal(t, io.EOF, err)

	require.Nil(t, codec.WriteFrame(&buf, payload(10)))
	_, err = codec.ReadFrame(&buf, 9)
	assert.True(t, errors.Is(err, codec.ErrPayloadTooLarge))
}
