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

// Package codec implements the stateful byte-to-message decoders and
// message-to-byte encoders of the pipeline: fixed-length, length-field,
// line and content-length framing.
package codec

import (
	"github.com/packetd/netpipe/buffer"
	"github.com/packetd/netpipe/pipeline"
)

// Decoder is the byte-to-message framework contract: repeatedly
// invoked against the cumulation buffer, it either reports that more data
// is needed or produces a frame.
//
// Grounded on protocol/decoder.Decoder (Decode(r, t) -> []*role.Object),
// generalized from "decode everything available and free the wrapped
// buffer" to an incremental, resumable per-call contract suited to a
// streaming TCP pipeline rather than a one-shot captured segment.
type Decoder interface {
	// Decode consumes as much of buf as forms one complete frame and
	// returns it. ok=false means more data is required before a frame can
	// be produced; buf's reader cursor must not advance in that case.
	Decode(buf *buffer.ByteBuf) (frame []byte, ok bool, err error)

	// DecodeLast is called once when the channel goes inactive (seenEOF
	// true) or the handler is removed (seenEOF false), to flush any
	// last frame decodable from the remaining bytes.
	DecodeLast(buf *buffer.ByteBuf, seenEOF bool) (frame []byte, ok bool, err error)
}

// ByteToMessageDecoder is the generic Handler that owns the cumulation
// buffer and drives a Decoder through its decode loop. Concrete frame codecs
// are plugged in via NewDecoderHandler.
type ByteToMessageDecoder struct {
	pipeline.BaseHandler

	decoder Decoder
	cum     *buffer.ByteBuf
}

// NewDecoderHandler returns a pipeline.Handler that frames inbound bytes
// using decoder.
func NewDecoderHandler(decoder Decoder) *ByteToMessageDecoder {
	return &ByteToMessageDecoder{decoder: decoder, cum: buffer.New(0)}
}

func (d *ByteToMessageDecoder) Read(ctx pipeline.Context, msg any) {
	p, ok := msg.([]byte)
	if !ok {
		ctx.FireRead(msg)
		return
	}

	d.cum.WriteBytes(p)
	d.decodeLoop(ctx)
}

func (d *ByteToMessageDecoder) decodeLoop(ctx pipeline.Context) {
	for {
		frame, ok, err := d.decoder.Decode(d.cum)
		if err != nil {
			ctx.FireErrorCaught(err)
			return
		}
		if !ok {
			break
		}
		ctx.FireRead(frame)
	}
	// Opportunistically reclaim space consumed by prior reads once the
	// reader has advanced past half the buffer.
	if d.cum.ReaderIndex() > 0 && d.cum.ReaderIndex()*2 >= d.cum.WriterIndex() {
		d.cum.DiscardRead()
	}
}

func (d *ByteToMessageDecoder) Inactive(ctx pipeline.Context) {
	d.flushLast(ctx, true)
	ctx.FireInactive()
}

func (d *ByteToMessageDecoder) HandlerRemoved(ctx pipeline.Context) {
	d.flushLast(ctx, false)
}

func (d *ByteToMessageDecoder) flushLast(ctx pipeline.Context, seenEOF bool) {
	frame, ok, err := d.decoder.DecodeLast(d.cum, seenEOF)
	if err != nil {
		ctx.FireErrorCaught(err)
		return
	}
	if ok {
		ctx.FireRead(frame)
	}
	if d.cum.Readable() > 0 {
		ctx.FireErrorCaught(perrLeftOver(d.cum.Bytes()))
	}
}
