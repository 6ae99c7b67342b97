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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/netpipe/buffer"
	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

// errorCatcher records whatever error a decoder fires via FireErrorCaught,
// since ByteToMessageDecoder is exercised directly (not through a Channel)
// in these tests.
type errorCatcher struct {
	pipeline.BaseHandler
	err error
}

func (e *errorCatcher) ErrorCaught(_ pipeline.Context, err error) {
	e.err = err
}

// directCtx is a minimal pipeline.Context stub that forwards FireRead to a
// recorder and FireErrorCaught to an errorCatcher, with every other method
// a no-op — enough surface for ByteToMessageDecoder, which calls only
// these two plus FireInactive.
type directCtx struct {
	pipeline.Context
	frames *[][]byte
	caught *errorCatcher
}

func (c *directCtx) FireRead(msg any) {
	*c.frames = append(*c.frames, msg.([]byte))
}

func (c *directCtx) FireErrorCaught(err error) {
	c.caught.err = err
}

func (c *directCtx) FireInactive() {}

func TestByteToMessageDecoderDiscardsConsumedSpaceAfterHalfway(t *testing.T) {
	d := NewDecoderHandler(NewFixedLengthDecoder(4))
	var frames [][]byte
	catcher := &errorCatcher{}
	ctx := &directCtx{frames: &frames, caught: catcher}

	d.Read(ctx, []byte("aaaabbbb"))
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("aaaa"), frames[0])
	assert.Equal(t, []byte("bbbb"), frames[1])
	// Both frames consumed and the reader caught up to the writer, so the
	// reclaim heuristic should have reset the cumulation buffer to empty.
	assert.Equal(t, 0, d.cum.Readable())
	assert.Equal(t, 0, d.cum.ReaderIndex())
}

func TestByteToMessageDecoderFlushesLeftoverBytesOnRemoval(t *testing.T) {
	d := NewDecoderHandler(NewFixedLengthDecoder(4))
	var frames [][]byte
	catcher := &errorCatcher{}
	ctx := &directCtx{frames: &frames, caught: catcher}

	d.Read(ctx, []byte("aaaabb"))
	require.Len(t, frames, 1)

	d.HandlerRemoved(ctx)
	require.Error(t, catcher.err)
	kind, ok := perr.KindOf(catcher.err)
	require.True(t, ok)
	assert.Equal(t, perr.KindLeftOverBytes, kind)
}

func TestByteToMessageDecoderNoLeftoverWhenFullyConsumed(t *testing.T) {
	d := NewDecoderHandler(NewFixedLengthDecoder(4))
	var frames [][]byte
	catcher := &errorCatcher{}
	ctx := &directCtx{frames: &frames, caught: catcher}

	d.Read(ctx, []byte("aaaa"))
	require.Len(t, frames, 1)

	d.HandlerRemoved(ctx)
	assert.NoError(t, catcher.err)
}

func TestByteToMessageDecoderPropagatesDecodeError(t *testing.T) {
	d := NewDecoderHandler(NewLengthFieldDecoder(8, binary.BigEndian))
	var frames [][]byte
	catcher := &errorCatcher{}
	ctx := &directCtx{frames: &frames, caught: catcher}

	big := buffer.New(8)
	big.WriteUint64(uint64(maxPayloadLength)+1, binary.BigEndian)
	raw := big.Bytes()

	d.Read(ctx, raw)
	require.Error(t, catcher.err)
	kind, ok := perr.KindOf(catcher.err)
	require.True(t, ok)
	assert.Equal(t, perr.KindLengthFieldOverflow, kind)
}
