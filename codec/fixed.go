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

import "github.com/packetd/netpipe/buffer"

// FixedLengthDecoder slices off exactly frameLength bytes per frame, per
// frame decoder.
type FixedLengthDecoder struct {
	frameLength int
}

// NewFixedLengthDecoder returns a Decoder for fixed-width frames. Panics if
// frameLength < 1, a programmer error rather than a runtime condition.
func NewFixedLengthDecoder(frameLength int) *FixedLengthDecoder {
	if frameLength < 1 {
		panic("codec: frameLength must be >= 1")
	}
	return &FixedLengthDecoder{frameLength: frameLength}
}

func (d *FixedLengthDecoder) Decode(buf *buffer.ByteBuf) ([]byte, bool, error) {
	if buf.Readable() < d.frameLength {
		return nil, false, nil
	}
	p, err := buf.ReadBytes(d.frameLength)
	if err != nil {
		return nil, false, err
	}
	return append([]byte{}, p...), true, nil
}

func (d *FixedLengthDecoder) DecodeLast(buf *buffer.ByteBuf, seenEOF bool) ([]byte, bool, error) {
	return nil, false, nil
}
