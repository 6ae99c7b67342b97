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

package pipeline

import (
	"net"
	"sync"
)

// entry is one node of the doubly-linked handler chain. Inbound events walk
// next pointers toward the tail; outbound events (and the Context methods a
// handler calls to issue them) walk prev pointers toward the head.
//
// This replaces the teacher's pipeline.Pipeline (a config-driven, one-shot
// Range over named batch Processors) with an event-driven chain: the HOW
// (an ordered list of named, independently pluggable stages looked up from
// a registry-like config) is kept, the WHAT (applying a transform function
// to a completed record) is replaced by per-event dispatch to a live
// Handler chain.
type entry struct {
	name    string
	handler Handler
	prev    *entry
	next    *entry
}

// Pipeline is the ordered chain of handlers for one Channel.
type Pipeline struct {
	mu   sync.Mutex
	ch   *Channel
	head *entry
	tail *entry
}

func newPipeline(ch *Channel) *Pipeline {
	head := &entry{name: "$head"}
	tail := &entry{name: "$tail"}
	head.next = tail
	tail.prev = head
	return &Pipeline{ch: ch, head: head, tail: tail}
}

// AddHandler appends handler under name at the tail of the chain (just
// before the sentinel tail), synchronous on the Channel's owning loop.
func (p *Pipeline) AddHandler(name string, h Handler) {
	p.ch.runSync(func() {
		p.mu.Lock()
		e := &entry{name: name, handler: h}
		last := p.tail.prev
		last.next = e
		e.prev = last
		e.next = p.tail
		p.tail.prev = e
		p.mu.Unlock()

		h.HandlerAdded(&handlerCtx{pipeline: p, entry: e})
	})
}

// RemoveHandler detaches the named handler, running its cleanup protocol
// (HandlerRemoved) with exclusive access to its state before unlinking it,
// so any residual bytes are detected and surfaced before state is freed.
func (p *Pipeline) RemoveHandler(name string) {
	p.ch.runSync(func() {
		p.mu.Lock()
		e := p.find(name)
		if e == nil {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		h := e.handler
		h.HandlerRemoved(&handlerCtx{pipeline: p, entry: e})

		p.mu.Lock()
		e.prev.next = e.next
		e.next.prev = e.prev
		p.mu.Unlock()
	})
}

func (p *Pipeline) find(name string) *entry {
	for e := p.head.next; e != p.tail; e = e.next {
		if e.name == name {
			return e
		}
	}
	return nil
}

// handlerCtx is the Context bound to one entry. FireX methods continue
// inbound dispatch from entry.next; outbound methods continue from
// entry.prev, terminating at the Channel's real I/O once the head sentinel
// is reached.
type handlerCtx struct {
	pipeline *Pipeline
	entry    *entry
}

func (c *handlerCtx) Channel() *Channel { return c.pipeline.ch }
func (c *handlerCtx) Name() string      { return c.entry.name }

func (c *handlerCtx) nextInbound() *entry {
	if e := c.entry.next; e != c.pipeline.tail {
		return e
	}
	return nil
}

func (c *handlerCtx) nextOutbound() *entry {
	if e := c.entry.prev; e != c.pipeline.head {
		return e
	}
	return nil
}

func (c *handlerCtx) FireRegistered() {
	if n := c.nextInbound(); n != nil {
		n.handler.Registered(&handlerCtx{pipeline: c.pipeline, entry: n})
	}
}

func (c *handlerCtx) FireActive() {
	if n := c.nextInbound(); n != nil {
		n.handler.Active(&handlerCtx{pipeline: c.pipeline, entry: n})
	}
}

func (c *handlerCtx) FireInactive() {
	if n := c.nextInbound(); n != nil {
		n.handler.Inactive(&handlerCtx{pipeline: c.pipeline, entry: n})
	}
}

func (c *handlerCtx) FireRead(msg any) {
	if n := c.nextInbound(); n != nil {
		n.handler.Read(&handlerCtx{pipeline: c.pipeline, entry: n}, msg)
	}
}

func (c *handlerCtx) FireReadComplete() {
	if n := c.nextInbound(); n != nil {
		n.handler.ReadComplete(&handlerCtx{pipeline: c.pipeline, entry: n})
	}
}

func (c *handlerCtx) FireWritabilityChanged(writable bool) {
	if n := c.nextInbound(); n != nil {
		n.handler.WritabilityChanged(&handlerCtx{pipeline: c.pipeline, entry: n}, writable)
	}
}

func (c *handlerCtx) FireUserEvent(evt any) {
	if n := c.nextInbound(); n != nil {
		n.handler.UserEventTriggered(&handlerCtx{pipeline: c.pipeline, entry: n}, evt)
	}
}

func (c *handlerCtx) FireErrorCaught(err error) {
	if n := c.nextInbound(); n != nil {
		n.handler.ErrorCaught(&handlerCtx{pipeline: c.pipeline, entry: n}, err)
		return
	}
	// No handler observed the error: at least surface it through the
	// channel's own logger hook so it is never silently dropped.
	c.pipeline.ch.onUnhandledError(err)
}

func (c *handlerCtx) Bind(addr net.Addr) {
	if n := c.nextOutbound(); n != nil {
		n.handler.HandlerBind(&handlerCtx{pipeline: c.pipeline, entry: n}, addr)
		return
	}
	c.pipeline.ch.doBind(addr)
}

func (c *handlerCtx) Connect(addr net.Addr) {
	if n := c.nextOutbound(); n != nil {
		n.handler.HandlerConnect(&handlerCtx{pipeline: c.pipeline, entry: n}, addr)
		return
	}
	c.pipeline.ch.doConnect(addr)
}

func (c *handlerCtx) Write(msg []byte) *WritePromise {
	promise := NewPromise[struct{}]()
	if n := c.nextOutbound(); n != nil {
		n.handler.HandlerWrite(&handlerCtx{pipeline: c.pipeline, entry: n}, msg, promise)
		return promise
	}
	c.pipeline.ch.doWrite(msg, promise)
	return promise
}

func (c *handlerCtx) Flush() {
	if n := c.nextOutbound(); n != nil {
		n.handler.HandlerFlush(&handlerCtx{pipeline: c.pipeline, entry: n})
		return
	}
	c.pipeline.ch.doFlush()
}

func (c *handlerCtx) WriteAndFlush(msg []byte) *WritePromise {
	p := c.Write(msg)
	c.Flush()
	return p
}

func (c *handlerCtx) Close() *WritePromise {
	promise := NewPromise[struct{}]()
	if n := c.nextOutbound(); n != nil {
		n.handler.HandlerClose(&handlerCtx{pipeline: c.pipeline, entry: n}, promise)
		return promise
	}
	c.pipeline.ch.doClose(promise, CloseLocal)
	return promise
}
