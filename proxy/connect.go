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

// Package proxy implements the client side of an HTTP CONNECT tunnel
// handshake as an installable pipeline.Handler: issue the CONNECT
// request on Active, parse the raw response bytes as they arrive, and
// settle a future once the tunnel is established or the handshake fails.
//
// Grounded on correlator.Ordered for the enqueue-then-settle-a-promise
// shape and on protocol/phttp/decoder.go for line-oriented HTTP/1 header
// scanning (bufio.Scanner-style blank-line detection), adapted here to a
// handler that parses only a status line and headers, never a body.
package proxy

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

type state int

const (
	stateInitial state = iota
	stateAwaitingResponse
	stateEstablished
	stateFailed
)

// EstablishedPromise settles once the CONNECT handshake completes or
// fails; a successful completion carries no value.
type EstablishedPromise = pipeline.Promise[struct{}]

// Handler issues a CONNECT request on channel-active and removes itself
// from the pipeline once the tunnel is established.
type Handler struct {
	pipeline.BaseHandler

	targetHost string
	targetPort int
	headers    map[string]string
	deadline   time.Time

	mu          sync.Mutex
	st          state
	buf         bytes.Buffer
	established *EstablishedPromise
	timer       *time.Timer
}

// New returns a CONNECT handler for targetHost:targetPort. headers may be
// nil; every entry (e.g. "Proxy-Authorization") is sent verbatim as a
// request header, including entries with an empty value.
// deadline is an absolute instant after which the handshake fails with
// KindProxyTimeout if it has not already settled.
func New(targetHost string, targetPort int, headers map[string]string, deadline time.Time) *Handler {
	return &Handler{
		targetHost:  targetHost,
		targetPort:  targetPort,
		headers:     headers,
		deadline:    deadline,
		established: pipeline.NewPromise[struct{}](),
	}
}

// Established returns the future that settles once the tunnel is usable.
func (h *Handler) Established() *EstablishedPromise {
	return h.established
}

func (h *Handler) Active(ctx pipeline.Context) {
	h.mu.Lock()
	h.st = stateAwaitingResponse
	h.mu.Unlock()

	req := h.buildRequest()
	ctx.WriteAndFlush(req)

	if d := time.Until(h.deadline); d > 0 {
		h.timer = time.AfterFunc(d, func() {
			ctx.Channel().Execute(func() {
				h.fail(ctx, perr.New(perr.KindProxyTimeout, "CONNECT handshake deadline elapsed"))
			})
		})
	}

	ctx.FireActive()
}

func (h *Handler) buildRequest() []byte {
	authority := fmt.Sprintf("%s:%d", h.targetHost, h.targetPort)
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", authority)
	fmt.Fprintf(&b, "Host: %s\r\n", authority)
	for k, v := range h.headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (h *Handler) Read(ctx pipeline.Context, msg any) {
	p, ok := msg.([]byte)
	if !ok {
		ctx.FireRead(msg)
		return
	}

	h.mu.Lock()
	if h.st != stateAwaitingResponse {
		h.mu.Unlock()
		ctx.FireRead(msg)
		return
	}
	h.buf.Write(p)
	headerEnd := findHeaderEnd(h.buf.Bytes())
	h.mu.Unlock()

	if headerEnd < 0 {
		return // still waiting for the full status line + headers
	}
	h.handleResponse(ctx, headerEnd)
}

func (h *Handler) handleResponse(ctx pipeline.Context, headerEnd int) {
	h.mu.Lock()
	raw := h.buf.Bytes()[:headerEnd]
	rest := append([]byte{}, h.buf.Bytes()[headerEnd:]...)
	h.mu.Unlock()

	statusCode, err := parseStatusLine(raw)
	if err != nil {
		h.fail(ctx, perr.Wrap(perr.KindInvalidProxyResponse, err, "malformed CONNECT response"))
		return
	}

	switch {
	case statusCode == http.StatusProxyAuthRequired:
		h.fail(ctx, perr.New(perr.KindProxyAuthRequired, "proxy requires authentication"))
	case statusCode >= 200 && statusCode < 300:
		// A 2xx CONNECT response carries no Content-Length or
		// Transfer-Encoding of its own — RFC 7231 §4.3.6 says it has no
		// body, so there's nothing to delimit. Tunnel bytes the far end
		// started sending the instant it wrote the response can legitimately
		// land in the same buffered read as the header; rest is exactly
		// that, and establish forwards it downstream unmodified instead of
		// treating its presence as malformed.
		h.establish(ctx, rest)
	default:
		h.fail(ctx, perr.Newf(perr.KindInvalidProxyResponse, "unexpected CONNECT response status %d", statusCode))
	}
}

func (h *Handler) establish(ctx pipeline.Context, rest []byte) {
	h.mu.Lock()
	if h.st != stateAwaitingResponse {
		h.mu.Unlock()
		return
	}
	h.st = stateEstablished
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()

	ctx.Channel().Pipeline().RemoveHandler(ctx.Name())
	h.established.Succeed(struct{}{})
	if len(rest) > 0 {
		ctx.FireRead(rest)
	}
}

func (h *Handler) fail(ctx pipeline.Context, err error) {
	h.mu.Lock()
	if h.st == stateEstablished || h.st == stateFailed {
		h.mu.Unlock()
		return
	}
	h.st = stateFailed
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()

	h.established.Fail(err)
	ctx.Close()
}

// findHeaderEnd returns the index just past the blank line terminating
// the status line + headers, or -1 if not yet complete.
func findHeaderEnd(buf []byte) int {
	if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
		return i + 4
	}
	if i := bytes.Index(buf, []byte("\n\n")); i >= 0 {
		return i + 2
	}
	return -1
}

func parseStatusLine(raw []byte) (int, error) {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	line, err := r.ReadLine()
	if err != nil {
		return 0, err
	}
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return 0, fmt.Errorf("proxy: malformed status line %q", line)
	}
	return strconv.Atoi(fields[1])
}
