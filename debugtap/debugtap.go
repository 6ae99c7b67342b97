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

// Package debugtap provides purely observational pipeline handlers: every
// event that reaches them is tagged by kind and forwarded to a user
// callback unchanged, then passed through downstream untouched.
//
// Grounded on pipeline.Kind (the event-kind enum already shared by every
// handler's error-caught/user-event plumbing) and on logger.Logger's
// leveled-callback idiom, generalized here from a fixed log sink to an
// arbitrary user callback.
package debugtap

import (
	"net"

	"github.com/packetd/netpipe/pipeline"
)

// Event is one observed inbound or outbound occurrence, tagged by kind.
// Fields irrelevant to a given kind are left at their zero value.
type Event struct {
	Kind     pipeline.Kind
	Addr     net.Addr
	Data     []byte
	Mode     pipeline.CloseMode
	UserEvt  any
	Writable bool
	Err      error
}

// Sink receives one tagged Event at a time, in arrival order.
type Sink func(Event)

// Inbound forwards every inbound event to sink, tagged by kind, then
// fires it onward unchanged.
type Inbound struct {
	pipeline.BaseHandler
	sink Sink
}

func NewInbound(sink Sink) *Inbound { return &Inbound{sink: sink} }

func (h *Inbound) Registered(ctx pipeline.Context) {
	h.sink(Event{Kind: pipeline.Registered})
	ctx.FireRegistered()
}

func (h *Inbound) Active(ctx pipeline.Context) {
	h.sink(Event{Kind: pipeline.Active})
	ctx.FireActive()
}

func (h *Inbound) Inactive(ctx pipeline.Context) {
	h.sink(Event{Kind: pipeline.Inactive})
	ctx.FireInactive()
}

func (h *Inbound) Read(ctx pipeline.Context, msg any) {
	if p, ok := msg.([]byte); ok {
		h.sink(Event{Kind: pipeline.Read, Data: p})
	} else {
		h.sink(Event{Kind: pipeline.Read})
	}
	ctx.FireRead(msg)
}

func (h *Inbound) ReadComplete(ctx pipeline.Context) {
	h.sink(Event{Kind: pipeline.ReadComplete})
	ctx.FireReadComplete()
}

func (h *Inbound) WritabilityChanged(ctx pipeline.Context, writable bool) {
	h.sink(Event{Kind: pipeline.WritabilityChanged, Writable: writable})
	ctx.FireWritabilityChanged(writable)
}

func (h *Inbound) UserEventTriggered(ctx pipeline.Context, evt any) {
	h.sink(Event{Kind: pipeline.UserEvent, UserEvt: evt})
	ctx.FireUserEvent(evt)
}

func (h *Inbound) ErrorCaught(ctx pipeline.Context, err error) {
	h.sink(Event{Kind: pipeline.ErrorCaught, Err: err})
	ctx.FireErrorCaught(err)
}

// Outbound forwards every outbound operation to sink, tagged by kind,
// then forwards it toward the head unchanged.
//
// Close carries CloseLocal: by construction, only a locally-initiated
// close ever travels the outbound direction — a peer-initiated or
// error-triggered close surfaces through the inbound Inactive event
// instead, which Inbound already tags separately.
type Outbound struct {
	pipeline.BaseHandler
	sink Sink
}

func NewOutbound(sink Sink) *Outbound { return &Outbound{sink: sink} }

func (h *Outbound) HandlerBind(ctx pipeline.Context, addr net.Addr) {
	h.sink(Event{Kind: pipeline.Bind, Addr: addr})
	ctx.Bind(addr)
}

func (h *Outbound) HandlerConnect(ctx pipeline.Context, addr net.Addr) {
	h.sink(Event{Kind: pipeline.Connect, Addr: addr})
	ctx.Connect(addr)
}

func (h *Outbound) HandlerWrite(ctx pipeline.Context, msg []byte, promise *pipeline.WritePromise) {
	h.sink(Event{Kind: pipeline.Write, Data: msg})
	h.BaseHandler.HandlerWrite(ctx, msg, promise)
}

func (h *Outbound) HandlerFlush(ctx pipeline.Context) {
	h.sink(Event{Kind: pipeline.Flush})
	ctx.Flush()
}

func (h *Outbound) HandlerClose(ctx pipeline.Context, promise *pipeline.WritePromise) {
	h.sink(Event{Kind: pipeline.CloseRequested, Mode: pipeline.CloseLocal})
	h.BaseHandler.HandlerClose(ctx, promise)
}
