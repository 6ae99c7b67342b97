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

package correlator_test

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/netpipe/correlator"
	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

// loopbackChannel returns a Channel backed by one end of an in-memory
// net.Pipe, with nothing else installed on its pipeline.
func loopbackChannel(t *testing.T) (*pipeline.Channel, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	ch := pipeline.NewChannel(a, 4096)
	go ch.Serve()
	t.Cleanup(func() { _ = b.Close() })
	return ch, b
}

func TestOrderedMatchesOldestFirst(t *testing.T) {
	ch, peer := loopbackChannel(t)
	corr := correlator.NewOrdered()
	ch.Pipeline().AddHandler("correlator", corr)

	go func() {
		buf := make([]byte, 64)
		for i := 0; i < 2; i++ {
			n, err := peer.Read(buf)
			require.NoError(t, err)
			_ = n
		}
		_, _ = peer.Write([]byte("resp-1"))
		_, _ = peer.Write([]byte("resp-2"))
	}()

	p1 := corr.WriteRequest([]byte("req-1"))
	p2 := corr.WriteRequest([]byte("req-2"))

	waitDone(t, p1)
	waitDone(t, p2)

	v1, err1 := valueOf(p1)
	v2, err2 := valueOf(p2)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, "resp-1", string(v1))
	assert.Equal(t, "resp-2", string(v2))
}

func TestOrderedResponseWithNoOutstandingRequestFails(t *testing.T) {
	ch, peer := loopbackChannel(t)
	corr := correlator.NewOrdered()
	ch.Pipeline().AddHandler("correlator", corr)

	var caught error
	ch.SetErrorHook(func(err error) { caught = err })

	_, _ = peer.Write([]byte("unexpected"))
	time.Sleep(50 * time.Millisecond)

	kind, ok := perr.KindOf(caught)
	require.True(t, ok)
	assert.Equal(t, perr.KindResponseBufferEmpty, kind)
}

func TestOrderedFailsPendingOnInactive(t *testing.T) {
	ch, peer := loopbackChannel(t)
	corr := correlator.NewOrdered()
	ch.Pipeline().AddHandler("correlator", corr)

	p := corr.WriteRequest([]byte("req"))
	_ = peer.Close()

	waitDone(t, p)
	_, err := valueOf(p)
	require.Error(t, err)
	kind, ok := perr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, perr.KindClosedBeforeResponse, kind)
}

func TestKeyedMatchesByIDRegardlessOfOrder(t *testing.T) {
	ch, peer := loopbackChannel(t)
	corr := correlator.NewKeyed(requestIDOf, responseIDOf)
	ch.Pipeline().AddHandler("correlator", corr)

	const n = 8
	promises := make([]*correlator.ResponsePromise, n)
	for i := 0; i < n; i++ {
		promises[i] = corr.WriteRequest([]byte(fmt.Sprintf("id=%d req", i)))
	}

	go func() {
		buf := make([]byte, 4096)
		for i := 0; i < n; i++ {
			_, err := peer.Read(buf)
			require.NoError(t, err)
		}
		// Deliver responses in reverse order.
		for i := n - 1; i >= 0; i-- {
			_, _ = peer.Write([]byte(fmt.Sprintf("id=%d resp", i)))
		}
	}()

	for i, p := range promises {
		waitDone(t, p)
		v, err := valueOf(p)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("id=%d resp", i), string(v))
	}
}

func requestIDOf(payload []byte) string {
	var id int
	_, _ = fmt.Sscanf(string(payload), "id=%d req", &id)
	return fmt.Sprintf("%d", id)
}

func responseIDOf(payload []byte) (string, bool) {
	var id int
	if _, err := fmt.Sscanf(string(payload), "id=%d resp", &id); err != nil {
		return "", false
	}
	return fmt.Sprintf("%d", id), true
}

func waitDone(t *testing.T, p *correlator.ResponsePromise) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !p.IsDone() {
		if time.Now().After(deadline) {
			t.Fatal("promise never completed")
		}
		time.Sleep(time.Millisecond)
	}
}

func valueOf(p *correlator.ResponsePromise) ([]byte, error) {
	var v []byte
	var e error
	p.OnComplete(func(value []byte, err error) {
		v, e = value, err
	})
	return v, e
}
