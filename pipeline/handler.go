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

import "net"

// WritePromise is the promise type returned by outbound write/close
// operations; it carries no value, only success-or-failure.
type WritePromise = Promise[struct{}]

// Context is the per-handler view of its position in the chain. A handler
// reached by an inbound event forwards it by calling the matching Fire*
// method on ctx, which dispatches to the next handler toward the tail; a
// handler reached by an outbound call forwards by calling the matching
// method on ctx, which dispatches to the next handler toward the head.
//
// This realizes the channel-object collaborator contract plus the
// per-handler forwarding primitives: a handler either consumes an event,
// transforms it, or forwards it unchanged.
type Context interface {
	// Channel returns the owning Channel.
	Channel() *Channel

	// Name returns this handler's name in the chain, as passed to
	// AddHandler.
	Name() string

	// Inbound forwarding, toward the tail.
	FireRegistered()
	FireActive()
	FireInactive()
	FireRead(msg any)
	FireReadComplete()
	FireWritabilityChanged(writable bool)
	FireUserEvent(evt any)
	FireErrorCaught(err error)

	// Outbound forwarding, toward the head, and terminal I/O operations.
	Bind(addr net.Addr)
	Connect(addr net.Addr)
	Write(msg []byte) *WritePromise
	Flush()
	WriteAndFlush(msg []byte) *WritePromise
	Close() *WritePromise
}

// Handler is the capability set every pipeline element implements. A
// handler embeds BaseHandler and overrides only the events it cares about;
// every method it does not override simply forwards the event unchanged,
// forwarding every event it does not specifically handle unchanged.
//
// Grounded on the teacher's small-interface-plus-embedding idiom seen
// across sniffer.Sniffer/protocol.Decoder factories, generalized here from
// a single-method capability to the full pipeline event set.
type Handler interface {
	HandlerAdded(ctx Context)
	HandlerRemoved(ctx Context)

	Registered(ctx Context)
	Active(ctx Context)
	Inactive(ctx Context)
	Read(ctx Context, msg any)
	ReadComplete(ctx Context)
	WritabilityChanged(ctx Context, writable bool)
	UserEventTriggered(ctx Context, evt any)
	ErrorCaught(ctx Context, err error)

	HandlerBind(ctx Context, addr net.Addr)
	HandlerConnect(ctx Context, addr net.Addr)
	HandlerWrite(ctx Context, msg []byte, promise *WritePromise)
	HandlerFlush(ctx Context)
	HandlerClose(ctx Context, promise *WritePromise)
}

// BaseHandler implements Handler with pure pass-through behavior. Concrete
// handlers embed BaseHandler and override only what they need; its methods
// have pointer receivers, so the handler is passed to AddHandler as a
// pointer.
type BaseHandler struct{}

func (*BaseHandler) HandlerAdded(ctx Context)   {}
func (*BaseHandler) HandlerRemoved(ctx Context) {}

func (*BaseHandler) Registered(ctx Context) { ctx.FireRegistered() }
func (*BaseHandler) Active(ctx Context)     { ctx.FireActive() }
func (*BaseHandler) Inactive(ctx Context)    { ctx.FireInactive() }
func (*BaseHandler) Read(ctx Context, msg any) {
	ctx.FireRead(msg)
}
func (*BaseHandler) ReadComplete(ctx Context) { ctx.FireReadComplete() }
func (*BaseHandler) WritabilityChanged(ctx Context, writable bool) {
	ctx.FireWritabilityChanged(writable)
}
func (*BaseHandler) UserEventTriggered(ctx Context, evt any) { ctx.FireUserEvent(evt) }
func (*BaseHandler) ErrorCaught(ctx Context, err error)      { ctx.FireErrorCaught(err) }

func (*BaseHandler) HandlerBind(ctx Context, addr net.Addr)    { ctx.Bind(addr) }
func (*BaseHandler) HandlerConnect(ctx Context, addr net.Addr) { ctx.Connect(addr) }
func (*BaseHandler) HandlerWrite(ctx Context, msg []byte, promise *WritePromise) {
	p := ctx.Write(msg)
	p.OnComplete(func(_ struct{}, err error) {
		if err != nil {
			promise.Fail(err)
		} else {
			promise.Succeed(struct{}{})
		}
	})
}
func (*BaseHandler) HandlerFlush(ctx Context) { ctx.Flush() }
func (*BaseHandler) HandlerClose(ctx Context, promise *WritePromise) {
	p := ctx.Close()
	p.OnComplete(func(_ struct{}, err error) {
		if err != nil {
			promise.Fail(err)
		} else {
			promise.Succeed(struct{}{})
		}
	})
}
