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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/netpipe/buffer"
)

func TestFixedLengthDecoderProducesExactFrames(t *testing.T) {
	d := NewFixedLengthDecoder(4)
	buf := buffer.New(4)
	buf.WriteBytes([]byte("abcdefgh"))

	frame, ok, err := d.Decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abcd"), frame)

	frame, ok, err = d.Decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("efgh"), frame)

	_, ok, err = d.Decode(buf)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFixedLengthDecoderWaitsForMoreBytes(t *testing.T) {
	d := NewFixedLengthDecoder(5)
	buf := buffer.New(4)
	buf.WriteBytes([]byte("abc"))

	_, ok, err := d.Decode(buf)
	require.NoError(t, err)
	assert.False(t, ok)

	buf.WriteBytes([]byte("de"))
	frame, ok, err := d.Decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abcde"), frame)
}

func TestNewFixedLengthDecoderPanicsOnNonPositiveLength(t *testing.T) {
	assert.Panics(t, func() { NewFixedLengthDecoder(0) })
	assert.Panics(t, func() { NewFixedLengthDecoder(-1) })
}
