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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/netpipe/buffer"
	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

// triggerHandler issues a single write on channel-active, standing in for
// whatever real handler would hand a frame to the encoder beneath it.
type triggerHandler struct {
	pipeline.BaseHandler
	payload []byte
	promise *pipeline.WritePromise
}

func (t *triggerHandler) Active(ctx pipeline.Context) {
	t.promise = ctx.WriteAndFlush(t.payload)
	ctx.FireActive()
}

func waitPromise(t *testing.T, p *pipeline.WritePromise) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !p.IsDone() {
		if time.Now().After(deadline) {
			t.Fatal("write promise never resolved")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLengthFieldPrependerDecoderRoundTrip(t *testing.T) {
	payload := []byte("round trip payload")
	for _, width := range []int{1, 2, 3, 4, 8} {
		for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
			a, b := net.Pipe()
			ch := pipeline.NewChannel(a, 4096)
			trigger := &triggerHandler{payload: payload}
			ch.Pipeline().AddHandler("prepend", NewLengthFieldPrepender(width, order))
			ch.Pipeline().AddHandler("trigger", trigger)
			go ch.Serve()

			encoded := make([]byte, width+len(payload))
			_, err := readFull(b, encoded)
			require.NoError(t, err)
			_ = b.Close()

			buf := buffer.NewFromBytes(encoded)
			d := NewLengthFieldDecoder(width, order)
			frame, ok, derr := d.Decode(buf)
			require.NoError(t, derr)
			require.True(t, ok)
			assert.Equal(t, payload, frame)
		}
	}
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestLengthFieldDecoderWaitsForFullFrame(t *testing.T) {
	buf := buffer.New(4)
	buf.WriteUint32(10, binary.BigEndian)
	buf.WriteBytes([]byte("short"))

	d := NewLengthFieldDecoder(4, binary.BigEndian)
	_, ok, err := d.Decode(buf)
	require.NoError(t, err)
	assert.False(t, ok, "must not produce a frame until all 10 payload bytes arrive")

	buf.WriteBytes([]byte("more!"))
	frame, ok, err := d.Decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("shortmore!"), frame)
}

func TestLengthFieldDecoderRejectsLengthPastMaxPayload(t *testing.T) {
	buf := buffer.New(4)
	buf.WriteUint64(uint64(maxPayloadLength)+1, binary.BigEndian)

	d := NewLengthFieldDecoder(8, binary.BigEndian)
	_, ok, err := d.Decode(buf)
	assert.False(t, ok)
	require.Error(t, err)
	kind, isKind := perr.KindOf(err)
	require.True(t, isKind)
	assert.Equal(t, perr.KindLengthFieldOverflow, kind)
}

func TestLengthFieldPrependerMaxValueCappedAtMaxPayloadLength(t *testing.T) {
	p4 := NewLengthFieldPrepender(4, binary.BigEndian)
	assert.Equal(t, uint64(maxPayloadLength), p4.maxValue(),
		"a 4-byte field can address past INT32_MAX, but the decoder caps every width there")

	p8 := NewLengthFieldPrepender(8, binary.BigEndian)
	assert.Equal(t, uint64(maxPayloadLength), p8.maxValue())

	p1 := NewLengthFieldPrepender(1, binary.BigEndian)
	assert.Equal(t, uint64(255), p1.maxValue(), "narrow widths are already below maxPayloadLength")
}

func TestLengthFieldPrependerFailsOversizedPayload(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() { _ = b.Close() })
	ch := pipeline.NewChannel(a, 4096)
	trigger := &triggerHandler{payload: make([]byte, 300)}
	ch.Pipeline().AddHandler("prepend", NewLengthFieldPrepender(1, binary.BigEndian))
	ch.Pipeline().AddHandler("trigger", trigger)
	go ch.Serve()

	deadline := time.Now().Add(2 * time.Second)
	for trigger.promise == nil {
		if time.Now().After(deadline) {
			t.Fatal("trigger never issued its write")
		}
		time.Sleep(time.Millisecond)
	}
	waitPromise(t, trigger.promise)

	var gotErr error
	trigger.promise.OnComplete(func(_ struct{}, e error) { gotErr = e })
	require.Error(t, gotErr)
	kind, isKind := perr.KindOf(gotErr)
	require.True(t, isKind)
	assert.Equal(t, perr.KindLengthFieldOverflow, kind)
}
