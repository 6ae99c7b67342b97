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

package quiesce_test

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
	"github.com/packetd/netpipe/quiesce"
)

// closeOnQuiesce closes its channel as soon as it observes a QuiesceEvent,
// the simplest possible application policy.
type closeOnQuiesce struct {
	pipeline.BaseHandler
	quiesced *int32
}

func (c *closeOnQuiesce) UserEventTriggered(ctx pipeline.Context, evt any) {
	if _, ok := evt.(pipeline.QuiesceEvent); ok {
		atomic.AddInt32(c.quiesced, 1)
		ctx.Close()
		return
	}
	ctx.FireUserEvent(evt)
}

func TestQuiesceAllChildren(t *testing.T) {
	const n = 128
	var listenerClosed atomic.Bool
	h := quiesce.New(func() error {
		listenerClosed.Store(true)
		return nil
	})

	var quiescedCount int32
	var ends []net.Conn
	for i := 0; i < n; i++ {
		a, b := net.Pipe()
		ends = append(ends, b)
		ch := pipeline.NewChannel(a, 4096)
		ch.Pipeline().AddHandler("quiesce-child", h.NewChildHandler())
		ch.Pipeline().AddHandler("close-on-quiesce", &closeOnQuiesce{quiesced: &quiescedCount})
		go ch.Serve()
	}
	// Allow Serve's Registered/Active to run before asserting the count.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, n, h.TrackedCount())

	promise := h.Shutdown()
	assert.True(t, listenerClosed.Load())

	deadline := time.Now().Add(5 * time.Second)
	for !promise.IsDone() {
		if time.Now().After(deadline) {
			t.Fatal("shutdown promise never resolved")
		}
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, int32(n), atomic.LoadInt32(&quiescedCount))
	assert.Equal(t, 0, h.TrackedCount())

	for _, end := range ends {
		_ = end.Close()
	}
}

func TestShutdownAgainAfterShutDownSucceedsImmediately(t *testing.T) {
	h := quiesce.New(func() error { return nil })
	first := h.Shutdown()
	deadline := time.Now().Add(time.Second)
	for !first.IsDone() {
		if time.Now().After(deadline) {
			t.Fatal("first shutdown never resolved")
		}
		time.Sleep(time.Millisecond)
	}

	second := h.Shutdown()
	require.True(t, second.IsDone())
}

func TestChildAddedDuringShutdownQuiescesImmediately(t *testing.T) {
	h := quiesce.New(func() error { return nil })

	a0, b0 := net.Pipe()
	defer b0.Close()
	ch0 := pipeline.NewChannel(a0, 4096)
	ch0.Pipeline().AddHandler("quiesce-child", h.NewChildHandler())
	go ch0.Serve()
	time.Sleep(10 * time.Millisecond)

	_ = h.Shutdown()

	var quiescedCount int32
	a1, b1 := net.Pipe()
	defer b1.Close()
	ch1 := pipeline.NewChannel(a1, 4096)
	ch1.Pipeline().AddHandler("quiesce-child", h.NewChildHandler())
	ch1.Pipeline().AddHandler("close-on-quiesce", &closeOnQuiesce{quiesced: &quiescedCount})
	go ch1.Serve()

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&quiescedCount) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("late-added child never saw QuiesceEvent")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDiscardWhileShuttingDownFailsOutstandingPromise(t *testing.T) {
	h := quiesce.New(func() error { return nil })

	a, b := net.Pipe()
	defer b.Close()
	ch := pipeline.NewChannel(a, 4096)
	ch.Pipeline().AddHandler("quiesce-child", h.NewChildHandler())
	go ch.Serve()
	time.Sleep(10 * time.Millisecond)

	promise := h.Shutdown()
	// The only tracked child never closes, so the shutdown promise would
	// hang forever without Discard.
	h.Discard()

	require.True(t, promise.IsDone())
	var err error
	promise.OnComplete(func(_ struct{}, e error) { err = e })
	require.Error(t, err)
	kind, ok := perr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, perr.KindUnusedQuiescingHelper, kind)
}
