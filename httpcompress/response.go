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
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/http/httpguts"

	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

// ResponseCompressor negotiates a response's compression algorithm from
// the request's Accept-Encoding header, rewrites the response head
// accordingly, and streams the body through the chosen algorithm.
//
// One ResponseCompressor is created per connection and reused across the
// connection's requests/responses (HTTP/1 keep-alive): ObserveRequestHead
// and RewriteHead are called once per round-trip.
type ResponseCompressor struct {
	predicate Predicate

	mu          sync.Mutex
	wanted      string // negotiated from the most recent request's Accept-Encoding
	active      string // algorithm actually applied to the in-flight response, "" if none
	stream      compressStream
	precomputed []byte // full compressed body, set by RewriteHead's single-write path
	pending     []*pipeline.WritePromise
}

// NewResponseCompressor returns a ResponseCompressor. predicate may be nil
// (equivalent to always CompressIfPossible).
func NewResponseCompressor(predicate Predicate) *ResponseCompressor {
	return &ResponseCompressor{predicate: predicate}
}

// removeConnectionHeaders deletes every header field named by a token in
// a Connection header, then the Connection header itself — the hop-by-hop
// stripping RFC 7230 §6.1 requires of anything that rewrites a message
// before forwarding it, which is exactly what RewriteHead does to the
// headers it doesn't itself own.
func removeConnectionHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, sf := range strings.Split(f, ",") {
			if sf = strings.TrimSpace(sf); sf != "" && httpguts.ValidHeaderFieldName(sf) {
				h.Del(sf)
			}
		}
	}
	h.Del("Connection")
}

// ObserveRequestHead records the negotiated algorithm for the response
// that will answer this request. An Accept-Encoding value that isn't a
// syntactically valid header field value (a malformed or injected request)
// negotiates to AlgIdentity rather than being handed to the token parser.
func (c *ResponseCompressor) ObserveRequestHead(head *RequestHead) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := head.Header.Get("Accept-Encoding")
	if !httpguts.ValidHeaderFieldValue(v) {
		c.wanted = AlgIdentity
		return
	}
	c.wanted = negotiate(v)
}

// RewriteHead applies status-exclusion, the negotiated algorithm and the
// predicate hook (in that order, per the negotiation contract), mutating
// head's headers in place and returning it. Call this once, before any
// WriteChunk, for each response.
//
// body carries the caller's write-shape intent. When the whole response
// body is already available as a single buffer (body non-nil), RewriteHead
// compresses it immediately and keeps Content-Length, set to the actual
// compressed size — real HTTP/1 servers do the same when they aren't
// streaming. A subsequent WriteChunk/End pair replays the precomputed
// bytes rather than compressing again. Pass nil when the body will instead
// arrive as a stream of chunks of unknown total length; RewriteHead then
// strips Content-Length and switches to chunked Transfer-Encoding, since
// only chunked framing can delimit a body whose length isn't known until
// it ends.
func (c *ResponseCompressor) RewriteHead(head *ResponseHead, body []byte) (*ResponseHead, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = ""
	c.stream = nil
	c.precomputed = nil

	if bodyExcluded(head.StatusCode) {
		return head, nil
	}
	alg := c.wanted
	if alg == "" || alg == AlgIdentity {
		return head, nil
	}
	if c.predicate != nil && c.predicate(head) == DoNotCompress {
		return head, nil
	}

	stream, err := newCompressStream(alg)
	if err != nil {
		return head, nil
	}

	if head.Header == nil {
		head.Header = http.Header{}
	}
	removeConnectionHeaders(head.Header)

	if body != nil {
		compressed, err := stream.Write(body)
		if err != nil {
			return head, err
		}
		trailer, err := stream.Finish()
		if err != nil {
			return head, err
		}
		full := append(compressed, trailer...)

		head.Header.Del("Transfer-Encoding")
		head.Header.Set("Content-Length", strconv.Itoa(len(full)))
		head.Header.Set("Content-Encoding", alg)

		c.active = alg
		c.precomputed = full
		return head, nil
	}

	head.Header.Del("Content-Length")
	head.Header.Set("Transfer-Encoding", "chunked")
	head.Header.Set("Content-Encoding", alg)

	c.active = alg
	c.stream = stream
	return head, nil
}

// WriteChunk compresses p, flushing so the output is immediately safe to
// write to the wire. If RewriteHead took the single-write path, the
// precomputed compressed body is returned instead (and p, which must be
// the same buffer already handed to RewriteHead, is not recompressed). If
// no algorithm was negotiated for this response, p is returned unchanged.
func (c *ResponseCompressor) WriteChunk(p []byte) ([]byte, error) {
	c.mu.Lock()
	if c.precomputed != nil {
		out := c.precomputed
		c.precomputed = nil
		c.mu.Unlock()
		return out, nil
	}
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return p, nil
	}
	return stream.Write(p)
}

// End finalizes the in-flight response's compression stream, returning
// any trailing bytes. Safe to call even if no algorithm was negotiated, or
// if the single-write path already emitted everything via WriteChunk
// (returns nil, nil either way).
func (c *ResponseCompressor) End() ([]byte, error) {
	c.mu.Lock()
	stream := c.stream
	precomputed := c.precomputed
	c.active = ""
	c.stream = nil
	c.precomputed = nil
	c.mu.Unlock()

	if precomputed != nil {
		return precomputed, nil
	}
	if stream == nil {
		return nil, nil
	}
	return stream.Finish()
}

// Track registers a write promise issued while a compressed chunk is
// outstanding, so Remove can fail it if the compressor is torn down
// before the write completes.
func (c *ResponseCompressor) Track(p *pipeline.WritePromise) {
	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	p.OnComplete(func(_ struct{}, _ error) {
		c.mu.Lock()
		for i, q := range c.pending {
			if q == p {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	})
}

// Remove fails every write still tracked and not yet complete with
// KindUncompressedWritesPending, matching the teardown behavior a handler
// removal triggers mid-compression.
func (c *ResponseCompressor) Remove() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, p := range pending {
		p.Fail(perr.New(perr.KindUncompressedWritesPending, "response compressor removed mid-stream"))
	}
}
