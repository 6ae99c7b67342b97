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

// Package correlator implements the duplex request/response matcher: an
// ordered variant that pairs the oldest outstanding request with the next
// inbound response, and a keyed variant that pairs by an application-level
// identifier.
//
// Grounded on protocol/role.Matcher (SingleMatcher/ListMatcher/FuzzyMatcher):
// the teacher matches an offline-captured Request/Response Object stream
// after the fact. Here the matching happens live, on the wire, and each
// match resolves a caller-held Promise instead of producing a *role.Pair
// for a downstream exporter.
package correlator

import (
	"sync"

	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

// ResponsePromise settles with the matched response payload, or fails with
// one of the correlator error kinds.
type ResponsePromise = pipeline.Promise[[]byte]

// entry is one outstanding request: the promise to settle once its response
// arrives.
type entry struct {
	promise *ResponsePromise
}

// Ordered is the request/response correlator: a response always matches the
// oldest outstanding request, the right model for a non-pipelined or
// strictly in-order protocol.
type Ordered struct {
	pipeline.BaseHandler

	mu      sync.Mutex
	ctx     pipeline.Context
	pending []*entry
	failed  error
}

func NewOrdered() *Ordered {
	return &Ordered{}
}

func (o *Ordered) HandlerAdded(ctx pipeline.Context) {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()
}

// WriteRequest submits payload as a new outstanding request and returns the
// promise that settles with its matched response. If the correlator has
// already entered the failed state (a prior error or channel-inactive), the
// promise fails immediately and payload is never written downstream.
func (o *Ordered) WriteRequest(payload []byte) *ResponsePromise {
	p := pipeline.NewPromise[[]byte]()

	o.mu.Lock()
	if o.failed != nil {
		err := o.failed
		o.mu.Unlock()
		p.Fail(err)
		return p
	}
	o.pending = append(o.pending, &entry{promise: p})
	ctx := o.ctx
	o.mu.Unlock()

	ctx.WriteAndFlush(payload).OnComplete(func(_ struct{}, err error) {
		if err != nil {
			o.failOne(p, err)
		}
	})
	return p
}

func (o *Ordered) failOne(target *ResponsePromise, err error) {
	o.mu.Lock()
	for i, e := range o.pending {
		if e.promise == target {
			o.pending = append(o.pending[:i], o.pending[i+1:]...)
			break
		}
	}
	o.mu.Unlock()
	target.Fail(err)
}

func (o *Ordered) Read(ctx pipeline.Context, msg any) {
	resp, ok := msg.([]byte)
	if !ok {
		ctx.FireRead(msg)
		return
	}

	o.mu.Lock()
	if len(o.pending) == 0 {
		o.mu.Unlock()
		err := perr.New(perr.KindResponseBufferEmpty, "response received with no outstanding request")
		ctx.FireErrorCaught(err)
		ctx.Close()
		return
	}
	e := o.pending[0]
	o.pending = o.pending[1:]
	o.mu.Unlock()

	e.promise.Succeed(resp)
}

func (o *Ordered) ErrorCaught(ctx pipeline.Context, err error) {
	o.failAll(err)
	ctx.FireErrorCaught(err)
}

func (o *Ordered) Inactive(ctx pipeline.Context) {
	o.failAll(perr.New(perr.KindClosedBeforeResponse, "channel closed before receiving response"))
	ctx.FireInactive()
}

func (o *Ordered) failAll(err error) {
	o.mu.Lock()
	o.failed = err
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, e := range pending {
		e.promise.Fail(err)
	}
}
