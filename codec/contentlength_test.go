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
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/netpipe/buffer"
	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

func TestContentLengthDecoderStrictTerminator(t *testing.T) {
	d := NewContentLengthDecoder(0)
	buf := buffer.New(4)
	buf.WriteBytes([]byte("Content-Length: 5\r\n\r\nhello"))

	frame, ok, err := d.Decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), frame)
}

func TestContentLengthDecoderLaxTerminator(t *testing.T) {
	d := NewContentLengthDecoder(0)
	buf := buffer.New(4)
	buf.WriteBytes([]byte("Content-Length: 3\n\nabc"))

	frame, ok, err := d.Decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), frame)
}

func TestContentLengthDecoderWaitsForBody(t *testing.T) {
	d := NewContentLengthDecoder(0)
	buf := buffer.New(4)
	buf.WriteBytes([]byte("Content-Length: 10\r\n\r\nshort"))

	_, ok, err := d.Decode(buf)
	require.NoError(t, err)
	assert.False(t, ok)

	buf.WriteBytes([]byte("enough!!!!"))
	frame, ok, err := d.Decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("shortenough!!!!"), frame)
}

func TestContentLengthDecoderMissingHeader(t *testing.T) {
	d := NewContentLengthDecoder(0)
	buf := buffer.New(4)
	buf.WriteBytes([]byte("X-Other: 1\r\n\r\nbody"))

	_, ok, err := d.Decode(buf)
	assert.False(t, ok)
	require.Error(t, err)
	kind, isKind := perr.KindOf(err)
	require.True(t, isKind)
	assert.Equal(t, perr.KindMissingRequiredHeader, kind)
}

func TestContentLengthDecoderBadLengthValue(t *testing.T) {
	d := NewContentLengthDecoder(0)
	buf := buffer.New(4)
	buf.WriteBytes([]byte("Content-Length: not-a-number\r\n\r\nbody"))

	_, ok, err := d.Decode(buf)
	assert.False(t, ok)
	require.Error(t, err)
	kind, isKind := perr.KindOf(err)
	require.True(t, isKind)
	assert.Equal(t, perr.KindBadLengthValue, kind)
}

func TestContentLengthDecoderEnforcesMaxHeaderBytes(t *testing.T) {
	d := NewContentLengthDecoder(8)
	buf := buffer.New(4)
	buf.WriteBytes([]byte("Content-Length-That-Never-Terminates"))

	_, ok, err := d.Decode(buf)
	assert.False(t, ok)
	require.Error(t, err)
	kind, isKind := perr.KindOf(err)
	require.True(t, isKind)
	assert.Equal(t, perr.KindMissingRequiredHeader, kind)
}

func TestContentLengthEncoderPrependsHeaderAndRoundTrips(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() { _ = b.Close() })
	ch := pipeline.NewChannel(a, 4096)
	trigger := &triggerHandler{payload: []byte("payload body")}
	ch.Pipeline().AddHandler("encode", NewContentLengthEncoder())
	ch.Pipeline().AddHandler("trigger", trigger)
	go ch.Serve()

	want := []byte("Content-Length: 12\r\n\r\npayload body")
	got := make([]byte, len(want))
	_, err := readFull(b, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	buf := buffer.NewFromBytes(got)
	frame, ok, derr := NewContentLengthDecoder(0).Decode(buf)
	require.NoError(t, derr)
	require.True(t, ok)
	assert.Equal(t, []byte("payload body"), frame)
}
