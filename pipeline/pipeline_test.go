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

package pipeline_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/netpipe/pipeline"
)

// orderRecorder appends its name to a shared slice on every inbound Read,
// then forwards, so tests can assert the chain visits handlers in the order
// they were added.
type orderRecorder struct {
	pipeline.BaseHandler
	name  string
	order *[]string
}

func (r *orderRecorder) Read(ctx pipeline.Context, msg any) {
	*r.order = append(*r.order, r.name)
	ctx.FireRead(msg)
}

func TestInboundEventsVisitHandlersHeadToTail(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() { _ = b.Close() })
	ch := pipeline.NewChannel(a, 4096)

	var order []string
	ch.Pipeline().AddHandler("first", &orderRecorder{name: "first", order: &order})
	ch.Pipeline().AddHandler("second", &orderRecorder{name: "second", order: &order})
	ch.Pipeline().AddHandler("third", &orderRecorder{name: "third", order: &order})
	go ch.Serve()

	_, err := b.Write([]byte("x"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for len(order) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("handlers did not all observe the read, got %v", order)
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

// outboundRecorder appends its name on every outbound write, so tests can
// assert outbound events travel tail-to-head (reverse of AddHandler order).
type outboundRecorder struct {
	pipeline.BaseHandler
	name  string
	order *[]string
}

func (r *outboundRecorder) HandlerWrite(ctx pipeline.Context, msg []byte, promise *pipeline.WritePromise) {
	*r.order = append(*r.order, r.name)
	r.BaseHandler.HandlerWrite(ctx, msg, promise)
}

type activeWriter struct {
	pipeline.BaseHandler
	payload []byte
}

func (a *activeWriter) Active(ctx pipeline.Context) {
	ctx.WriteAndFlush(a.payload)
	ctx.FireActive()
}

func TestOutboundEventsVisitHandlersTailToHead(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() { _ = b.Close() })
	ch := pipeline.NewChannel(a, 4096)

	var order []string
	ch.Pipeline().AddHandler("outer", &outboundRecorder{name: "outer", order: &order})
	ch.Pipeline().AddHandler("inner", &outboundRecorder{name: "inner", order: &order})
	ch.Pipeline().AddHandler("trigger", &activeWriter{payload: []byte("hi")})
	go ch.Serve()

	buf := make([]byte, 2)
	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf[:n]))

	// trigger sits closest to the tail; its write walks toward the head
	// through inner, then outer, before reaching the real connection.
	assert.Equal(t, []string{"inner", "outer"}, order)
}

func TestRemoveHandlerDetachesFromChain(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() { _ = b.Close() })
	ch := pipeline.NewChannel(a, 4096)

	var order []string
	ch.Pipeline().AddHandler("observed", &orderRecorder{name: "observed", order: &order})
	go ch.Serve()

	ch.Pipeline().RemoveHandler("observed")

	_, err := b.Write([]byte("y"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, order, "removed handler must not observe further events")
}

func TestUnhandledErrorReachesErrorHook(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() { _ = b.Close() })
	ch := pipeline.NewChannel(a, 4096)

	errCh := make(chan error, 1)
	ch.SetErrorHook(func(err error) { errCh <- err })

	ch.Pipeline().AddHandler("raiser", &errorRaiser{})
	go ch.Serve()

	_, err := b.Write([]byte("z"))
	require.NoError(t, err)

	select {
	case got := <-errCh:
		assert.True(t, errors.Is(got, boom))
	case <-time.After(2 * time.Second):
		t.Fatal("error hook never invoked")
	}
}

var boom = errors.New("boom")

type errorRaiser struct {
	pipeline.BaseHandler
}

func (errorRaiser) Read(ctx pipeline.Context, _ any) {
	ctx.FireErrorCaught(boom)
}

func TestCloseResolvesPromiseAndDeactivatesChannel(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() { _ = b.Close() })
	ch := pipeline.NewChannel(a, 4096)
	ch.Pipeline().AddHandler("trigger", &activeWriter{payload: []byte("flushed")})
	go ch.Serve()

	buf := make([]byte, 7)
	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "flushed", string(buf[:n]))

	promise := ch.Close()
	deadline := time.Now().Add(2 * time.Second)
	for !promise.IsDone() {
		if time.Now().After(deadline) {
			t.Fatal("close promise never resolved")
		}
		time.Sleep(time.Millisecond)
	}
	assert.False(t, ch.IsActive())
}
