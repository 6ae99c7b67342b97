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
	"sync"
)

// RingBuffer retains the last maxFragments / maxBytes worth of captured
// records, evicting from the front on overflow, and can emit them as one
// complete PCAP file on demand.
//
// Grounded on internal/pubsub.channel's bounded single-consumer queue
// discipline, generalized here to a deque of byte fragments with dual size
// caps instead of a fixed-capacity message queue.
type RingBuffer struct {
	mu           sync.Mutex
	maxFragments int
	maxBytes     int
	fragments    [][]byte
	totalBytes   int
}

// NewRingBuffer returns a RingBuffer bounded by maxFragments fragments and
// maxBytes total bytes. A non-positive bound means that axis is unbounded.
func NewRingBuffer(maxFragments, maxBytes int) *RingBuffer {
	return &RingBuffer{maxFragments: maxFragments, maxBytes: maxBytes}
}

// AddFragment appends buf, then evicts from the front until both caps hold.
func (r *RingBuffer) AddFragment(buf []byte) {
	cp := append([]byte{}, buf...)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fragments = append(r.fragments, cp)
	r.totalBytes += len(cp)
	for r.overLocked() {
		r.totalBytes -= len(r.fragments[0])
		r.fragments = r.fragments[1:]
	}
}

func (r *RingBuffer) overLocked() bool {
	if r.maxFragments > 0 && len(r.fragments) > r.maxFragments {
		return true
	}
	if r.maxBytes > 0 && r.totalBytes > r.maxBytes {
		return true
	}
	return false
}

// Emit returns a complete PCAP file: the global header followed by every
// currently retained fragment, then clears the buffer. Calling Emit again
// with no intervening AddFragment returns an empty slice. If empty, Emit
// also returns an empty slice (no header-only file).
func (r *RingBuffer) Emit() []byte {
	r.mu.Lock()
	fragments := r.fragments
	r.fragments = nil
	r.totalBytes = 0
	r.mu.Unlock()

	if len(fragments) == 0 {
		return nil
	}

	header := FileHeader()
	var out bytes.Buffer
	if !bytes.Equal(fragments[0], header) {
		out.Write(header)
	}
	for _, f := range fragments {
		out.Write(f)
	}
	return out.Bytes()
}

// Len and TotalBytes report the current occupancy, for tests and metrics.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fragments)
}

func (r *RingBuffer) TotalBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalBytes
}
