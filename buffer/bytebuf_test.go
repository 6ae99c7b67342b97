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

package buffer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadBytesRoundTrip(t *testing.T) {
	b := New(4)
	b.WriteBytes([]byte("hello"))
	b.WriteBytes([]byte(" world"))

	assert.Equal(t, 11, b.Readable())
	assert.Equal(t, 0, b.ReaderIndex())
	assert.Equal(t, 11, b.WriterIndex())

	got, err := b.ReadBytes(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	assert.Equal(t, 6, b.Readable())

	got, err = b.ReadBytes(6)
	require.NoError(t, err)
	assert.Equal(t, []byte(" world"), got)
	assert.Equal(t, 0, b.Readable())
}

func TestReadBytesNotEnoughData(t *testing.T) {
	b := New(4)
	b.WriteBytes([]byte("ab"))

	_, err := b.ReadBytes(3)
	assert.ErrorIs(t, err, ErrNotEnoughData)
	// A failed read must not consume anything.
	assert.Equal(t, 2, b.Readable())
}

func TestSkipReadAdvancesWithoutReturningBytes(t *testing.T) {
	b := New(4)
	b.WriteBytes([]byte("0123456789"))

	require.NoError(t, b.SkipRead(4))
	assert.Equal(t, 4, b.ReaderIndex())
	got, err := b.ReadBytes(6)
	require.NoError(t, err)
	assert.Equal(t, []byte("456789"), got)

	assert.ErrorIs(t, b.SkipRead(1), ErrNotEnoughData)
}

func TestGetSliceDoesNotMoveReaderCursor(t *testing.T) {
	b := New(4)
	b.WriteBytes([]byte("abcdef"))
	_, _ = b.ReadBytes(2)

	p, err := b.GetSlice(2, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("cde"), p)
	assert.Equal(t, 2, b.ReaderIndex(), "GetSlice must not advance the reader")

	_, err = b.GetSlice(4, 10)
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestDiscardReadReclaimsConsumedSpace(t *testing.T) {
	b := New(4)
	b.WriteBytes([]byte("0123456789"))
	_, _ = b.ReadBytes(7)

	b.DiscardRead()
	assert.Equal(t, 0, b.ReaderIndex())
	assert.Equal(t, 3, b.WriterIndex())
	assert.Equal(t, []byte("789"), b.Bytes())

	// A no-op DiscardRead (reader already at 0) must not disturb the buffer.
	b.DiscardRead()
	assert.Equal(t, []byte("789"), b.Bytes())
}

func TestWriteBytesGrowsPastMinGrowStep(t *testing.T) {
	b := New(2)
	big := make([]byte, 97)
	for i := range big {
		big[i] = byte(i)
	}
	b.WriteBytes(big)
	assert.Equal(t, 97, b.Readable())
	got, err := b.ReadBytes(97)
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func TestNewFromBytesIsFullyReadable(t *testing.T) {
	b := NewFromBytes([]byte("preloaded"))
	assert.Equal(t, 9, b.Readable())
	got, err := b.ReadBytes(9)
	require.NoError(t, err)
	assert.Equal(t, []byte("preloaded"), got)
}

func TestIntegerRoundTrips(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		b := New(4)
		b.WriteUint8(0xAB)
		b.WriteUint16(0x1234, order)
		b.Write24Uint(0xABCDEF, order)
		b.WriteUint32(0xDEADBEEF, order)
		b.WriteUint64(0x0102030405060708, order)

		u8, err := b.ReadUint8()
		require.NoError(t, err)
		assert.Equal(t, uint8(0xAB), u8)

		u16, err := b.ReadUint16(order)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x1234), u16)

		u24, err := b.Read24Uint(order)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xABCDEF), u24)

		u32, err := b.ReadUint32(order)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xDEADBEEF), u32)

		u64, err := b.ReadUint64(order)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x0102030405060708), u64)
	}
}

func TestPeekLengthFieldAllWidths(t *testing.T) {
	widths := []int{1, 2, 3, 4, 8}
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		for _, w := range widths {
			b := New(4)
			switch w {
			case 1:
				b.WriteUint8(200)
			case 2:
				b.WriteUint16(50000, order)
			case 3:
				b.Write24Uint(1<<20, order)
			case 4:
				b.WriteUint32(1<<30, order)
			case 8:
				b.WriteUint64(1<<40, order)
			}
			b.WriteBytes([]byte("trailing"))

			v, err := b.PeekLengthField(w, order)
			require.NoError(t, err)
			assert.NotZero(t, v)
			// Peek must not consume: the field is still readable afterward.
			assert.Equal(t, 0, b.ReaderIndex())
		}
	}
}
