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

// Package quiesce implements the server-wide graceful shutdown coordinator:
// it tracks every accepted child connection, closes the listener first,
// then broadcasts a quiesce signal and completes once every tracked child
// has closed itself.
//
// Grounded on internal/pubsub.PubSub's id -> subscriber map
// (sync.RWMutex-guarded) for the tracked-child registry, and on
// internal/pubsub.channel's single-slot-with-waiters discipline for the
// shutdown Promise.
package quiesce

import (
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

type state int32

const (
	running state = iota
	shuttingDown
	shutDown
)

// Helper is the quiescing coordinator for one listener. It is safe to call
// from any goroutine; all bookkeeping is guarded by an internal mutex so
// concurrently accepted connections never race with a shutdown in
// progress.
type Helper struct {
	listenerClose func() error

	mu              sync.Mutex
	st              state
	children        map[uuid.UUID]*pipeline.Channel
	shutdownPromise *pipeline.Promise[struct{}]
}

// New returns a Helper that, on shutdown, closes the listener via
// listenerClose before quiescing any tracked child.
func New(listenerClose func() error) *Helper {
	h := &Helper{
		listenerClose: listenerClose,
		children:      make(map[uuid.UUID]*pipeline.Channel),
	}
	runtime.SetFinalizer(h, finalizeUnused)
	return h
}

// finalizeUnused backstops the case where the application drops its last
// reference to a Helper while a shutdown promise is still outstanding: the
// tracked children will never be observed closing again, so the promise
// would otherwise hang forever. Discard should be called explicitly
// wherever possible; this finalizer only catches the cases that slip
// through. Go has no deterministic destructors, so unlike the originating
// API this is a best-effort GC-triggered backstop, not a guarantee.
func finalizeUnused(h *Helper) {
	h.mu.Lock()
	promise := h.shutdownPromise
	h.mu.Unlock()
	if promise != nil && !promise.IsDone() {
		promise.Fail(perr.New(perr.KindUnusedQuiescingHelper, "quiescing helper dropped before shutdown completed"))
	}
}

// Discard releases h, failing any outstanding shutdown promise with
// UnusedQuiescingHelperError instead of leaving it pending forever. Call
// this on an ordinary (non-quiesced) teardown path so the failure is
// observed deterministically rather than at an unpredictable GC pass.
func (h *Helper) Discard() {
	runtime.SetFinalizer(h, nil)
	finalizeUnused(h)
}

// TrackedCount returns the number of currently tracked children.
func (h *Helper) TrackedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.children)
}

// addChild registers ch under id. If the helper is already shutting down or
// shut down, ch is signaled to quiesce immediately, matching "new children
// added after this point also receive the event immediately."
func (h *Helper) addChild(id uuid.UUID, ch *pipeline.Channel) {
	h.mu.Lock()
	h.children[id] = ch
	mustQuiesceNow := h.st != running
	h.mu.Unlock()

	if mustQuiesceNow {
		ch.FireUserEvent(pipeline.QuiesceEvent{})
	}
}

// removeChild deregisters id. If this empties the tracked set while a
// shutdown is in progress, the shutdown promise succeeds.
func (h *Helper) removeChild(id uuid.UUID) {
	h.mu.Lock()
	delete(h.children, id)
	var toSucceed *pipeline.Promise[struct{}]
	if h.st == shuttingDown && len(h.children) == 0 {
		h.st = shutDown
		toSucceed = h.shutdownPromise
	}
	h.mu.Unlock()

	if toSucceed != nil {
		toSucceed.Succeed(struct{}{})
	}
}

// InitiateShutdown drives promise through the state machine: running ->
// shutting_down (closing the listener, then broadcasting QuiesceEvent to
// every tracked child) -> shut_down once every tracked child has closed,
// at which point promise succeeds. Calling it again once already shut down
// succeeds promise immediately.
func (h *Helper) InitiateShutdown(promise *pipeline.Promise[struct{}]) {
	h.mu.Lock()
	switch h.st {
	case shutDown:
		h.mu.Unlock()
		promise.Succeed(struct{}{})
		return
	case shuttingDown:
		// Already in progress under a different promise: chain this one
		// onto the same outcome rather than starting a second listener
		// close.
		existing := h.shutdownPromise
		h.mu.Unlock()
		existing.OnComplete(func(_ struct{}, err error) {
			if err != nil {
				promise.Fail(err)
			} else {
				promise.Succeed(struct{}{})
			}
		})
		return
	}

	h.st = shuttingDown
	h.shutdownPromise = promise
	children := make([]*pipeline.Channel, 0, len(h.children))
	for _, ch := range h.children {
		children = append(children, ch)
	}
	h.mu.Unlock()

	if h.listenerClose != nil {
		if err := h.listenerClose(); err != nil {
			promise.Fail(err)
			return
		}
	}

	for _, ch := range children {
		ch.FireUserEvent(pipeline.QuiesceEvent{})
	}

	h.mu.Lock()
	empty := len(h.children) == 0
	if empty {
		h.st = shutDown
	}
	h.mu.Unlock()
	if empty {
		promise.Succeed(struct{}{})
	}
}

// Shutdown is the convenience form of InitiateShutdown that allocates and
// returns the promise.
func (h *Helper) Shutdown() *pipeline.Promise[struct{}] {
	p := pipeline.NewPromise[struct{}]()
	h.InitiateShutdown(p)
	return p
}

// ChildHandler is installed on every accepted child's pipeline; it
// registers the child with Helper on add and deregisters it on inactive.
// Applications react to the QuiesceEvent user event themselves (e.g.
// finish the in-flight request, then Close()); ChildHandler only tracks
// membership, it does not decide when to close.
type ChildHandler struct {
	pipeline.BaseHandler

	helper *Helper
	id     uuid.UUID
}

// NewChildHandler returns a ChildHandler bound to h.
func (h *Helper) NewChildHandler() *ChildHandler {
	return &ChildHandler{helper: h}
}

func (c *ChildHandler) HandlerAdded(ctx pipeline.Context) {
	c.id = uuid.New()
	c.helper.addChild(c.id, ctx.Channel())
}

func (c *ChildHandler) Inactive(ctx pipeline.Context) {
	c.helper.removeChild(c.id)
	ctx.FireInactive()
}
