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
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/packetd/netpipe/internal/rescue"
	"github.com/packetd/netpipe/logger"
)

// Channel wraps one net.Conn with a single owning goroutine (the event
// loop) and the Handler chain that processes its events. Reads
// dispatch inbound head-to-tail; writes dispatch outbound tail-to-head.
//
// Grounded on connstream/tcp.go (one struct owning all mutable state for a
// single stream, written from one processing path) and internal/zerocopy's
// Reader/Writer split, generalized here from a one-shot TCP-stream-to-L7
// decode pass into a persistent, handler-chain-driven connection.
type Channel struct {
	conn net.Conn

	pipeline *Pipeline

	started atomic.Bool
	active  atomic.Bool
	busy    atomic.Bool

	tasks chan func()
	reads chan []byte
	stop  chan struct{}

	writeMu  sync.Mutex
	outbuf   *bytebufferpool.ByteBuffer
	pending  []*WritePromise

	readSize int
	onError  func(err error)
}

// NewChannel returns a Channel ready to have handlers installed via
// Pipeline().AddHandler before Serve is called.
func NewChannel(conn net.Conn, readSize int) *Channel {
	if readSize <= 0 {
		readSize = 4096
	}
	ch := &Channel{
		conn:     conn,
		tasks:    make(chan func(), 64),
		reads:    make(chan []byte, 16),
		stop:     make(chan struct{}),
		outbuf:   bytebufferpool.Get(),
		readSize: readSize,
	}
	ch.pipeline = newPipeline(ch)
	return ch
}

// Pipeline returns the handler chain.
func (ch *Channel) Pipeline() *Pipeline { return ch.pipeline }

func (ch *Channel) LocalAddr() net.Addr  { return ch.conn.LocalAddr() }
func (ch *Channel) RemoteAddr() net.Addr { return ch.conn.RemoteAddr() }
func (ch *Channel) IsActive() bool       { return ch.active.Load() }

// FireUserEvent delivers evt as an inbound user event starting at the
// chain's first handler, dispatched on the owning loop. Safe to call from
// any goroutine (e.g. the quiescing helper broadcasting to a tracked
// child from the listener's own goroutine).
func (ch *Channel) FireUserEvent(evt any) {
	ch.Execute(func() {
		ch.pipeline.fireInboundFromHead(func(h Handler, ctx Context) { h.UserEventTriggered(ctx, evt) })
	})
}

// Close closes the channel from outside the handler chain (e.g. a child
// reacting to a QuiesceEvent). On the loop it flushes pending writes and
// shuts the channel down directly; unlike ctx.Close() from a handler, it
// does not pass through any handler's HandlerClose.
func (ch *Channel) Close() *WritePromise {
	promise := NewPromise[struct{}]()
	ch.Execute(func() {
		ch.doClose(promise, CloseLocal)
	})
	return promise
}

// SetErrorHook installs the fallback observer invoked when an error reaches
// the head of the chain with no handler left to consume it.
func (ch *Channel) SetErrorHook(fn func(err error)) { ch.onError = fn }

func (ch *Channel) onUnhandledError(err error) {
	if ch.onError != nil {
		ch.onError(err)
		return
	}
	logger.Warnf("unhandled pipeline error on %s: %v", ch.RemoteAddr(), err)
}

// Execute runs fn on the Channel's loop. If the calling goroutine is
// already the loop goroutine (a handler forwarding work from within one of
// its own callbacks, e.g. a proxy handler removing itself), fn runs
// immediately and synchronously; otherwise it is queued and runs on the
// loop's next iteration.
//
// Grounded on internal/pubsub.channel's single-consumer dispatch
// discipline: a buffered channel of closures drained by one goroutine.
func (ch *Channel) Execute(fn func()) {
	if ch.busy.Load() {
		fn()
		return
	}
	select {
	case ch.tasks <- fn:
	case <-ch.stop:
	}
}

// runSync runs fn on the loop and blocks the caller until it has applied,
// used by AddHandler/RemoveHandler, which must run synchronously on the
// owning loop.
func (ch *Channel) runSync(fn func()) {
	if !ch.started.Load() {
		fn()
		return
	}
	done := make(chan struct{})
	ch.Execute(func() {
		fn()
		close(done)
	})
	<-done
}

// Serve starts the read-ahead goroutine and the owning loop, then fires
// Registered and Active. It blocks until the channel closes.
func (ch *Channel) Serve() {
	defer rescue.HandleCrash("serve")

	ch.started.Store(true)
	go ch.readLoop()

	ch.busy.Store(true)
	ch.pipeline.fireInboundFromHead(func(h Handler, ctx Context) { h.Registered(ctx) })
	ch.active.Store(true)
	ch.pipeline.fireInboundFromHead(func(h Handler, ctx Context) { h.Active(ctx) })
	ch.busy.Store(false)

	ch.loop()
}

func (ch *Channel) readLoop() {
	defer rescue.HandleCrash("readLoop")

	buf := make([]byte, ch.readSize)
	for {
		n, err := ch.conn.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case ch.reads <- cp:
			case <-ch.stop:
				return
			}
		}
		if err != nil {
			close(ch.reads)
			return
		}
	}
}

func (ch *Channel) loop() {
	for {
		select {
		case <-ch.stop:
			return

		case fn, ok := <-ch.tasks:
			if !ok {
				return
			}
			ch.busy.Store(true)
			fn()
			ch.busy.Store(false)

		case p, ok := <-ch.reads:
			ch.busy.Store(true)
			if !ok {
				ch.shutdown(CloseRemote)
				ch.busy.Store(false)
				return
			}
			ch.pipeline.fireInboundFromHead(func(h Handler, ctx Context) { h.Read(ctx, p) })
			ch.pipeline.fireInboundFromHead(func(h Handler, ctx Context) { h.ReadComplete(ctx) })
			ch.busy.Store(false)
		}
	}
}

func (ch *Channel) shutdown(mode CloseMode) {
	if !ch.active.CompareAndSwap(true, false) {
		return
	}
	ch.pipeline.fireInboundFromHead(func(h Handler, ctx Context) { h.Inactive(ctx) })
	close(ch.stop)
	_ = ch.conn.Close()
}

// doBind/doConnect are terminal no-ops for an already-accepted/dialed
// net.Conn; they exist so a handler chain built for a not-yet-connected
// transport can still issue these outbound events without a type switch.
func (ch *Channel) doBind(addr net.Addr)    {}
func (ch *Channel) doConnect(addr net.Addr) {}

func (ch *Channel) doWrite(msg []byte, promise *WritePromise) {
	ch.writeMu.Lock()
	ch.outbuf.Write(msg)
	ch.pending = append(ch.pending, promise)
	ch.writeMu.Unlock()
}

func (ch *Channel) doFlush() {
	ch.writeMu.Lock()
	if ch.outbuf.Len() == 0 {
		ch.writeMu.Unlock()
		return
	}
	b := ch.outbuf.Bytes()
	pending := ch.pending
	ch.pending = nil
	_, err := ch.conn.Write(b)
	ch.outbuf.Reset()
	ch.writeMu.Unlock()

	for _, p := range pending {
		if err != nil {
			p.Fail(err)
		} else {
			p.Succeed(struct{}{})
		}
	}
}

func (ch *Channel) doClose(promise *WritePromise, mode CloseMode) {
	ch.doFlush()
	ch.shutdown(mode)
	promise.Succeed(struct{}{})
}

// fireInboundFromHead dispatches an inbound event starting at the chain's
// first real handler (head.next).
func (p *Pipeline) fireInboundFromHead(dispatch func(h Handler, ctx Context)) {
	p.mu.Lock()
	e := p.head.next
	p.mu.Unlock()
	if e == p.tail {
		return
	}
	dispatch(e.handler, &handlerCtx{pipeline: p, entry: e})
}
