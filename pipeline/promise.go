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
	"sync"
	"sync/atomic"
)

// Promise is a single-slot result cell plus an ordered list of callbacks
// executed on completion. Callbacks run on whichever goroutine calls
// Succeed or Fail; a Promise that is already complete when a new callback
// is registered runs it synchronously on the registering goroutine.
//
// Grounded on internal/pubsub.channel: a uuid-identified, close-once
// single-slot holder, generalized here from a queue of N values to exactly
// one (value, error) outcome with observer callbacks instead of a blocking
// pop.
type Promise[T any] struct {
	mu        sync.Mutex
	done      atomic.Bool
	value     T
	err       error
	callbacks []func(T, error)
}

// NewPromise returns a pending Promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{}
}

// Succeed completes the promise with value. Only the first call to Succeed
// or Fail has an effect.
func (p *Promise[T]) Succeed(value T) {
	p.complete(value, nil)
}

// Fail completes the promise with err.
func (p *Promise[T]) Fail(err error) {
	var zero T
	p.complete(zero, err)
}

func (p *Promise[T]) complete(value T, err error) {
	if !p.done.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	p.value = value
	p.err = err
	cbs := p.callbacks
	p.callbacks = nil
	p.mu.Unlock()

	for _, cb := range cbs {
		cb(value, err)
	}
}

// OnComplete registers cb to run once the promise completes. If the
// promise is already complete, cb runs synchronously before OnComplete
// returns.
func (p *Promise[T]) OnComplete(cb func(value T, err error)) {
	p.mu.Lock()
	if p.done.Load() {
		value, err := p.value, p.err
		p.mu.Unlock()
		cb(value, err)
		return
	}
	p.callbacks = append(p.callbacks, cb)
	p.mu.Unlock()
}

// IsDone reports whether the promise has already completed.
func (p *Promise[T]) IsDone() bool {
	return p.done.Load()
}
