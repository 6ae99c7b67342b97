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

package correlator

import (
	"sync"

	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

// Keyed is the identifier-matched correlator variant, for protocols that
// support pipelining or multiplexing (HTTP/2, gRPC, JSON-RPC): each request
// carries an id and its response is matched by that id regardless of
// arrival order.
//
// Grounded on protocol/role.ListMatcher's matchFunc-keyed pending list,
// generalized from an offline list scan to a map lookup since ids here are
// assumed unique among outstanding requests.
type Keyed struct {
	pipeline.BaseHandler

	requestID  func(payload []byte) string
	responseID func(payload []byte) (id string, ok bool)

	mu      sync.Mutex
	ctx     pipeline.Context
	pending map[string]*entry
	failed  error
}

// NewKeyed returns a Keyed correlator. requestID extracts the correlation
// id from an outbound request payload; responseID extracts it from an
// inbound response payload, returning ok=false when the payload carries no
// recognizable id (treated as a protocol violation).
func NewKeyed(requestID func([]byte) string, responseID func([]byte) (string, bool)) *Keyed {
	return &Keyed{
		requestID:  requestID,
		responseID: responseID,
		pending:    make(map[string]*entry),
	}
}

func (k *Keyed) HandlerAdded(ctx pipeline.Context) {
	k.mu.Lock()
	k.ctx = ctx
	k.mu.Unlock()
}

// WriteRequest submits payload, deriving its id via requestID.
func (k *Keyed) WriteRequest(payload []byte) *ResponsePromise {
	id := k.requestID(payload)
	p := pipeline.NewPromise[[]byte]()

	k.mu.Lock()
	if k.failed != nil {
		err := k.failed
		k.mu.Unlock()
		p.Fail(err)
		return p
	}
	k.pending[id] = &entry{promise: p}
	ctx := k.ctx
	k.mu.Unlock()

	ctx.WriteAndFlush(payload).OnComplete(func(_ struct{}, err error) {
		if err != nil {
			k.mu.Lock()
			delete(k.pending, id)
			k.mu.Unlock()
			p.Fail(err)
		}
	})
	return p
}

func (k *Keyed) Read(ctx pipeline.Context, msg any) {
	resp, ok := msg.([]byte)
	if !ok {
		ctx.FireRead(msg)
		return
	}

	id, ok := k.responseID(resp)
	if !ok {
		err := perr.New(perr.KindResponseForUnknownID, "response carries no recognizable correlation id")
		ctx.FireErrorCaught(err)
		ctx.Close()
		return
	}

	k.mu.Lock()
	e, found := k.pending[id]
	if found {
		delete(k.pending, id)
	}
	k.mu.Unlock()

	if !found {
		err := perr.Newf(perr.KindResponseForUnknownID, "response for unknown request id %q", id)
		ctx.FireErrorCaught(err)
		ctx.Close()
		return
	}
	e.promise.Succeed(resp)
}

func (k *Keyed) ErrorCaught(ctx pipeline.Context, err error) {
	k.failAll(err)
	ctx.FireErrorCaught(err)
}

func (k *Keyed) Inactive(ctx pipeline.Context) {
	k.failAll(perr.New(perr.KindClosedBeforeResponse, "channel closed before receiving response"))
	ctx.FireInactive()
}

func (k *Keyed) failAll(err error) {
	k.mu.Lock()
	k.failed = err
	pending := k.pending
	k.pending = make(map[string]*entry)
	k.mu.Unlock()

	for _, e := range pending {
		e.promise.Fail(err)
	}
}
