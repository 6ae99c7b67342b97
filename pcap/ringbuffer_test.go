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

package pcap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferEvictsOnFragmentCap(t *testing.T) {
	r := NewRingBuffer(3, 0)
	for i := 0; i < 10; i++ {
		r.AddFragment([]byte{byte(i)})
		assert.LessOrEqual(t, r.Len(), 3)
	}
	assert.Equal(t, 3, r.Len())
}

func TestRingBufferEvictsOnByteCap(t *testing.T) {
	r := NewRingBuffer(0, 10)
	for i := 0; i < 20; i++ {
		r.AddFragment([]byte{1, 2, 3})
		assert.LessOrEqual(t, r.TotalBytes(), 10)
	}
}

func TestRingBufferEmitPrependsHeaderOnce(t *testing.T) {
	r := NewRingBuffer(0, 0)
	r.AddFragment([]byte("one"))
	r.AddFragment([]byte("two"))

	out := r.Emit()
	require.True(t, bytes.HasPrefix(out, FileHeader()))
	require.True(t, bytes.HasSuffix(out, []byte("onetwo")))

	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Emit())
}

func TestRingBufferEmitDoesNotDuplicateExistingHeader(t *testing.T) {
	r := NewRingBuffer(0, 0)
	r.AddFragment(FileHeader())
	r.AddFragment([]byte("rec"))

	out := r.Emit()
	assert.Equal(t, 1, bytes.Count(out, []byte{0xD4, 0xC3, 0xB2, 0xA1}))
}
