// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package codec splits the byte stream of a connection into messages.
package codec

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// HeaderLen is the length of the big-endian payload length prefix.
const HeaderLen = 4

// DefaultMaxPayload bounds the payload length a decoder accepts.
const DefaultMaxPayload = 16 << 20

// ErrPayloadTooLarge is returned for a length prefix above the maximum.
var ErrPayloadTooLarge = errors.New("codec: payload too large")

// Codec creates per-connection decoders and encodes outgoing payloads.
type Codec interface {
	// NewDecoder returns a decoder holding the partial message state of one
	// connection.
	NewDecoder() Decoder

	// Encode returns the framed form of payload.
	Encode(payload []byte) ([]byte, error)
}

// Decoder consumes stream chunks and emits complete messages.
type Decoder interface {
	// Feed consumes p and calls emit once per complete message. The payload
	// passed to emit is only valid during the call. An error from emit stops
	// the feed and is returned.
	Feed(p []byte, emit func(payload []byte) error) error

	// Buffered returns the number of bytes held for an incomplete message.
	Buffered() int
}

// LengthPrefixed frames each payload with a 4-byte big-endian length.
type LengthPrefixed struct {
	// MaxPayload is the largest accepted payload, DefaultMaxPayload when <= 0.
	MaxPayload int
}

func (c LengthPrefixed) max() int {
	if c.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	return c.MaxPayload
}

// NewDecoder implements Codec.
func (c LengthPrefixed) NewDecoder() Decoder {
	return &lengthDecoder{max: c.max()}
}

// Encode implements Codec.
func (c LengthPrefixed) Encode(payload []byte) ([]byte, error) {
	if len(payload) > c.max() {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "encode %d bytes", len(payload))
	}
	b := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint32(b, uint32(len(payload)))
	copy(b[HeaderLen:], payload)
	return b, nil
}

type lengthDecoder struct {
	max int
	buf []byte
}

// Feed implements Decoder.
func (d *lengthDecoder) Feed(p []byte, emit func([]byte) error) error {
	if len(d.buf) > 0 {
		d.buf = append(d.buf, p...)
		p = d.buf
	}
	for len(p) >= HeaderLen {
		size := binary.BigEndian.Uint32(p)
		if uint64(size) > uint64(d.max) {
			d.buf = d.buf[:0]
			return errors.Wrapf(ErrPayloadTooLarge, "length prefix %d, max %d", size, d.max)
		}
		end := HeaderLen + int(size)
		if len(p) < end {
			break
		}
		if err := emit(p[HeaderLen:end]); err != nil {
			d.keep(p[end:])
			return err
		}
		p = p[end:]
	}
	d.keep(p)
	return nil
}

// keep retains the unconsumed tail, which may alias d.buf.
func (d *lengthDecoder) keep(rest []byte) {
	if len(rest) == 0 {
		d.buf = d.buf[:0]
		return
	}
	if len(d.buf) > 0 {
		d.buf = d.buf[:copy(d.buf, rest)]
		return
	}
	d.buf = append(d.buf[:0], rest...)
}

// Buffered implements Decoder.
func (d *lengthDecoder) Buffered() int {
	return len(d.buf)
}

// WriteFrame writes payload with its length prefix to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var head [HeaderLen]byte
	binary.BigEndian.PutUint32(head[:], uint32(len(payload)))
	if _, err := w.Write(head[:]); err != nil {
		return errors.Wrap(err, "write frame header")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "write frame payload")
	}
	return nil
}

// ReadFrame reads one length-prefixed payload from r. A max <= 0 means
// DefaultMaxPayload.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxPayload
	}
	var head [HeaderLen]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(head[:])
	if uint64(size) > uint64(max) {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "length prefix %d, max %d", size, max)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}
	return payload, nil
}
