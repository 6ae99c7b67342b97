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
	"bytes"

	"github.com/packetd/netpipe/buffer"
)

// LineDecoder treats '\n' (optionally preceded by '\r') as the frame
// terminator.
//
// Grounded on internal/splitio.Scanner's zero-copy bytes.IndexByte scan for
// '\n', adapted here from scanning a whole borrowed []byte in one shot to
// scanning the live cumulation buffer incrementally as bytes arrive.
type LineDecoder struct{}

func NewLineDecoder() *LineDecoder { return &LineDecoder{} }

func (d *LineDecoder) Decode(buf *buffer.ByteBuf) ([]byte, bool, error) {
	view := buf.Bytes()
	idx := bytes.IndexByte(view, '\n')
	if idx < 0 {
		return nil, false, nil
	}

	end := idx
	if end > 0 && view[end-1] == '\r' {
		end--
	}
	line := append([]byte{}, view[:end]...)
	if err := buf.SkipRead(idx + 1); err != nil {
		return nil, false, err
	}
	return line, true, nil
}

func (d *LineDecoder) DecodeLast(buf *buffer.ByteBuf, seenEOF bool) ([]byte, bool, error) {
	return nil, false, nil
}
