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

package httpcompress

import (
	"net/http"
	"sync"
)

// RequestCompressor streams one outbound request body through a fixed
// algorithm, injecting Content-Encoding on the head. Unlike
// ResponseCompressor there is nothing to negotiate: the algorithm is
// configured once, matching the source's request-compressor contract.
type RequestCompressor struct {
	alg string

	mu     sync.Mutex
	stream compressStream
}

// NewRequestCompressor returns a RequestCompressor fixed to alg (AlgGzip
// or AlgDeflate).
func NewRequestCompressor(alg string) *RequestCompressor {
	return &RequestCompressor{alg: alg}
}

// RewriteHead injects Content-Encoding and starts a fresh stream for the
// request body that follows.
func (c *RequestCompressor) RewriteHead(head *RequestHead) *RequestHead {
	stream, err := newCompressStream(c.alg)
	if err != nil {
		return head
	}
	if head.Header == nil {
		head.Header = http.Header{}
	}
	head.Header.Set("Content-Encoding", c.alg)

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	return head
}

// WriteChunk compresses one body chunk, flushing immediately so output is
// never held back waiting for more input. Per the resolved open question
// on finalize-vs-flush ambiguity in the source API, this flushes with a
// sync-flush equivalent (the stream's Write always flushes); only End
// finalizes the stream.
func (c *RequestCompressor) WriteChunk(p []byte) ([]byte, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return p, nil
	}
	return stream.Write(p)
}

// End finalizes the stream at the explicit end-of-body terminator, never
// on an intermediate flush.
func (c *RequestCompressor) End() ([]byte, error) {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()
	if stream == nil {
		return nil, nil
	}
	return stream.Finish()
}
