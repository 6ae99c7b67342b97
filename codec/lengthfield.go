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

package codec

import (
	"encoding/binary"
	"math"

	"github.com/packetd/netpipe/buffer"
	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

const maxPayloadLength = math.MaxInt32

// LengthFieldDecoder implements the length-field-based frame decoder of
// decoder: a lengthFieldWidth-byte unsigned length field in the given
// endianness, followed by that many payload bytes.
type LengthFieldDecoder struct {
	width int
	order binary.ByteOrder
}

// NewLengthFieldDecoder returns a Decoder for a length field of the given
// width (1, 2, 3, 4 or 8 bytes) and endianness.
func NewLengthFieldDecoder(width int, order binary.ByteOrder) *LengthFieldDecoder {
	switch width {
	case 1, 2, 3, 4, 8:
	default:
		panic("codec: unsupported length field width")
	}
	return &LengthFieldDecoder{width: width, order: order}
}

func (d *LengthFieldDecoder) Decode(buf *buffer.ByteBuf) ([]byte, bool, error) {
	if buf.Readable() < d.width {
		return nil, false, nil
	}

	length, err := buf.PeekLengthField(d.width, d.order)
	if err != nil {
		return nil, false, err
	}
	if length > maxPayloadLength {
		return nil, false, perr.Newf(perr.KindLengthFieldOverflow,
			"length field value %d exceeds max payload length %d", length, maxPayloadLength)
	}

	total := d.width + int(length)
	if buf.Readable() < total {
		return nil, false, nil
	}

	if err := buf.SkipRead(d.width); err != nil {
		return nil, false, err
	}
	payload, err := buf.ReadBytes(int(length))
	if err != nil {
		return nil, false, err
	}
	return append([]byte{}, payload...), true, nil
}

func (d *LengthFieldDecoder) DecodeLast(buf *buffer.ByteBuf, seenEOF bool) ([]byte, bool, error) {
	return nil, false, nil
}

// LengthFieldPrepender is the outbound encoder counterpart: it prepends
// each payload's length in the configured field width/endianness. Installed
// as a pipeline.Handler so it sits on the outbound (write) path.
type LengthFieldPrepender struct {
	pipeline.BaseHandler

	width int
	order binary.ByteOrder
}

func NewLengthFieldPrepender(width int, order binary.ByteOrder) *LengthFieldPrepender {
	switch width {
	case 1, 2, 3, 4, 8:
	default:
		panic("codec: unsupported length field width")
	}
	return &LengthFieldPrepender{width: width, order: order}
}

// maxValue returns the largest payload length this prepender will encode.
// For widths 1-3 that's simply the field's own range, since it can never
// reach maxPayloadLength. Widths 4 and 8 can represent values far past
// maxPayloadLength, so they're capped there too — otherwise a prepender
// could emit a frame its own decoder, or any LengthFieldDecoder of the
// same width on the receiving end, would reject outright with
// KindLengthFieldOverflow.
func (p *LengthFieldPrepender) maxValue() uint64 {
	switch p.width {
	case 1:
		return math.MaxUint8
	case 2:
		return math.MaxUint16
	case 3:
		return 1<<24 - 1
	case 4:
		return min(uint64(math.MaxUint32), uint64(maxPayloadLength))
	default:
		return min(uint64(math.MaxUint64), uint64(maxPayloadLength))
	}
}

func (p *LengthFieldPrepender) HandlerWrite(ctx pipeline.Context, msg []byte, promise *pipeline.WritePromise) {
	if uint64(len(msg)) > p.maxValue() {
		promise.Fail(perr.Newf(perr.KindLengthFieldOverflow,
			"payload length %d exceeds %d-byte length field", len(msg), p.width))
		return
	}

	out := buffer.New(p.width + len(msg))
	switch p.width {
	case 1:
		out.WriteUint8(uint8(len(msg)))
	case 2:
		out.WriteUint16(uint16(len(msg)), p.order)
	case 3:
		out.Write24Uint(uint32(len(msg)), p.order)
	case 4:
		out.WriteUint32(uint32(len(msg)), p.order)
	case 8:
		out.WriteUint64(uint64(len(msg)), p.order)
	}
	out.WriteBytes(msg)

	p.BaseHandler.HandlerWrite(ctx, out.Bytes(), promise)
}
