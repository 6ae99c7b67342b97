// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package buffer implements the cursor-based byte buffer every codec in
// this repository reads and writes through, plus the cumulation buffer
// used by the byte-to-message framework.
package buffer

import (
	"encoding/binary"
	"errors"
)

// ErrNotEnoughData is the sentinel returned by the read* family when fewer
// than the requested bytes are readable. Readers never see partial data.
var ErrNotEnoughData = errors.New("buffer: not enough readable data")

// ByteBuf is a contiguous mutable byte region with independent reader and
// writer cursors: 0 <= readerIndex <= writerIndex <= len(buf). It is the
// Go realization of the generic byte buffer collaborator every codec in
// this package relies on.
//
// Grounded on internal/zerocopy.buffer (single-cursor read-only buffer over
// a borrowed slice) and internal/bufbytes.Bytes (size-aware append),
// generalized here into a full read/write cursor pair with the integer
// accessors the frame codecs need.
type ByteBuf struct {
	buf    []byte
	r      int
	w      int
	minGrow int
}

// New returns an empty ByteBuf that grows in minGrow-sized steps. A
// minGrow <= 0 defaults to common.ReadWriteBlockSize-style growth of 4096.
func New(minGrow int) *ByteBuf {
	if minGrow <= 0 {
		minGrow = 4096
	}
	return &ByteBuf{minGrow: minGrow}
}

// NewFromBytes wraps an existing slice as the buffer's backing storage,
// already fully readable (writerIndex = len(p)).
func NewFromBytes(p []byte) *ByteBuf {
	return &ByteBuf{buf: p, w: len(p)}
}

// ReaderIndex returns the current read cursor.
func (b *ByteBuf) ReaderIndex() int { return b.r }

// WriterIndex returns the current write cursor.
func (b *ByteBuf) WriterIndex() int { return b.w }

// Readable returns the number of bytes available for reading.
func (b *ByteBuf) Readable() int { return b.w - b.r }

// Bytes returns the readable view [readerIndex, writerIndex) without
// advancing the reader. The returned slice aliases the buffer; callers
// must not retain it across a further Write.
func (b *ByteBuf) Bytes() []byte {
	return b.buf[b.r:b.w]
}

// DiscardRead shifts any readable bytes down to offset 0 and resets the
// reader cursor, reclaiming the space consumed by prior reads.
func (b *ByteBuf) DiscardRead() {
	if b.r == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.r:b.w])
	b.buf = b.buf[:n]
	b.w = n
	b.r = 0
}

// WriteBytes appends p, growing the backing array as needed.
func (b *ByteBuf) WriteBytes(p []byte) {
	b.ensure(len(p))
	b.w += copy(b.buf[b.w:b.w+len(p)], p)
}

func (b *ByteBuf) ensure(n int) {
	need := b.w + n
	if need <= cap(b.buf) {
		b.buf = b.buf[:need]
		return
	}
	grow := b.minGrow
	if n > grow {
		grow = n
	}
	nb := make([]byte, need, cap(b.buf)+grow)
	copy(nb, b.buf[:b.w])
	b.buf = nb
}

// ReadBytes returns the next n readable bytes and advances the reader. It
// returns ErrNotEnoughData (no partial slice) if fewer than n bytes are
// readable.
func (b *ByteBuf) ReadBytes(n int) ([]byte, error) {
	if b.Readable() < n {
		return nil, ErrNotEnoughData
	}
	p := b.buf[b.r : b.r+n]
	b.r += n
	return p, nil
}

// GetSlice is the non-consuming counterpart of ReadBytes: it returns the n
// bytes starting at absolute offset at without moving the reader cursor.
func (b *ByteBuf) GetSlice(at, n int) ([]byte, error) {
	if at < 0 || at+n > b.w {
		return nil, ErrNotEnoughData
	}
	return b.buf[at : at+n], nil
}

// SkipRead advances the reader cursor by n without returning the bytes
// (used once a length field has been peeked and is to be consumed).
func (b *ByteBuf) SkipRead(n int) error {
	if b.Readable() < n {
		return ErrNotEnoughData
	}
	b.r += n
	return nil
}

// Integer helpers. Width is derived from the Go type; 24-bit values use the
// non-standard Write24/Read24 pair below since there is no built-in uint24.

func (b *ByteBuf) WriteUint8(v uint8) {
	b.ensure(1)
	b.buf[b.w] = v
	b.w++
}

func (b *ByteBuf) ReadUint8() (uint8, error) {
	p, err := b.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *ByteBuf) WriteUint16(v uint16, order binary.ByteOrder) {
	b.ensure(2)
	order.PutUint16(b.buf[b.w:b.w+2], v)
	b.w += 2
}

func (b *ByteBuf) ReadUint16(order binary.ByteOrder) (uint16, error) {
	p, err := b.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(p), nil
}

// Write24Uint writes the low 24 bits of v as three bytes in the given
// endianness. v must be in [0, 2^24).
func (b *ByteBuf) Write24Uint(v uint32, order binary.ByteOrder) {
	b.ensure(3)
	var tmp [4]byte
	order.PutUint32(tmp[:], v)
	if order == binary.BigEndian {
		copy(b.buf[b.w:b.w+3], tmp[1:4])
	} else {
		copy(b.buf[b.w:b.w+3], tmp[0:3])
	}
	b.w += 3
}

// Read24Uint reads three bytes as a 24-bit unsigned integer.
func (b *ByteBuf) Read24Uint(order binary.ByteOrder) (uint32, error) {
	p, err := b.ReadBytes(3)
	if err != nil {
		return 0, err
	}
	var tmp [4]byte
	if order == binary.BigEndian {
		copy(tmp[1:4], p)
	} else {
		copy(tmp[0:3], p)
	}
	return order.Uint32(tmp[:]), nil
}

func (b *ByteBuf) WriteUint32(v uint32, order binary.ByteOrder) {
	b.ensure(4)
	order.PutUint32(b.buf[b.w:b.w+4], v)
	b.w += 4
}

func (b *ByteBuf) ReadUint32(order binary.ByteOrder) (uint32, error) {
	p, err := b.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(p), nil
}

func (b *ByteBuf) WriteUint64(v uint64, order binary.ByteOrder) {
	b.ensure(8)
	order.PutUint64(b.buf[b.w:b.w+8], v)
	b.w += 8
}

func (b *ByteBuf) ReadUint64(order binary.ByteOrder) (uint64, error) {
	p, err := b.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(p), nil
}

// PeekLengthField reads a widthBytes-wide unsigned integer at the current
// reader position without consuming it, for the length-field decoder's
// peek-before-commit protocol. widthBytes must be one of {1,2,3,4,8}.
func (b *ByteBuf) PeekLengthField(widthBytes int, order binary.ByteOrder) (uint64, error) {
	p, err := b.GetSlice(b.r, widthBytes)
	if err != nil {
		return 0, err
	}
	switch widthBytes {
	case 1:
		return uint64(p[0]), nil
	case 2:
		return uint64(order.Uint16(p)), nil
	case 3:
		var tmp [4]byte
		if order == binary.BigEndian {
			copy(tmp[1:4], p)
		} else {
			copy(tmp[0:3], p)
		}
		return uint64(order.Uint32(tmp[:])), nil
	case 4:
		return uint64(order.Uint32(p)), nil
	case 8:
		return order.Uint64(p), nil
	default:
		return 0, errors.New("buffer: unsupported length field width")
	}
}
