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

package proxy_test

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
	"github.com/packetd/netpipe/proxy"
)

func loopback(t *testing.T) (*pipeline.Channel, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	ch := pipeline.NewChannel(a, 4096)
	t.Cleanup(func() { _ = b.Close() })
	return ch, b
}

func waitDone(t *testing.T, p *proxy.EstablishedPromise) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !p.IsDone() {
		if time.Now().After(deadline) {
			t.Fatal("established promise never resolved")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConnectSuccess(t *testing.T) {
	ch, peer := loopback(t)
	h := proxy.New("example.com", 443, nil, time.Now().Add(time.Second))
	ch.Pipeline().AddHandler("connect", h)
	go ch.Serve()

	reader := bufio.NewReader(peer)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "CONNECT example.com:443 HTTP/1.1")
	for {
		l, err := reader.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
	}

	_, err = peer.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	require.NoError(t, err)

	waitDone(t, h.Established())
	var gotErr error
	h.Established().OnComplete(func(_ struct{}, e error) { gotErr = e })
	assert.NoError(t, gotErr)
}

func TestConnectProxyAuthRequired(t *testing.T) {
	ch, peer := loopback(t)
	h := proxy.New("example.com", 443, nil, time.Now().Add(time.Second))
	ch.Pipeline().AddHandler("connect", h)
	go ch.Serve()

	_, _ = bufio.NewReader(peer).ReadString('\n')
	_, err := peer.Write([]byte("HTTP/1.1 407 Proxy Authentication Required\r\n\r\n"))
	require.NoError(t, err)

	waitDone(t, h.Established())
	var gotErr error
	h.Established().OnComplete(func(_ struct{}, e error) { gotErr = e })
	require.Error(t, gotErr)
	kind, ok := perr.KindOf(gotErr)
	require.True(t, ok)
	assert.Equal(t, perr.KindProxyAuthRequired, kind)
}

func TestConnectInvalidStatus(t *testing.T) {
	ch, peer := loopback(t)
	h := proxy.New("swift.org", 443, nil, time.Now().Add(time.Second))
	ch.Pipeline().AddHandler("connect", h)
	go ch.Serve()

	_, _ = bufio.NewReader(peer).ReadString('\n')
	_, err := peer.Write([]byte("HTTP/1.1 500 Internal Server Error\r\n\r\n"))
	require.NoError(t, err)

	waitDone(t, h.Established())
	var gotErr error
	h.Established().OnComplete(func(_ struct{}, e error) { gotErr = e })
	require.Error(t, gotErr)
	kind, ok := perr.KindOf(gotErr)
	require.True(t, ok)
	assert.Equal(t, perr.KindInvalidProxyResponse, kind)
}

// sinkHandler records every []byte it sees flow past the connect handler,
// standing in for "the next hop" a real tunnel consumer would be.
type sinkHandler struct {
	pipeline.BaseHandler
	mu   sync.Mutex
	seen [][]byte
}

func (s *sinkHandler) Read(ctx pipeline.Context, msg any) {
	if p, ok := msg.([]byte); ok {
		s.mu.Lock()
		s.seen = append(s.seen, append([]byte{}, p...))
		s.mu.Unlock()
		return
	}
	ctx.FireRead(msg)
}

func (s *sinkHandler) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte{}, s.seen...)
}

func TestConnectCoalescedTunnelBytesFlowThrough(t *testing.T) {
	ch, peer := loopback(t)
	h := proxy.New("example.com", 443, nil, time.Now().Add(time.Second))
	sink := &sinkHandler{}
	ch.Pipeline().AddHandler("connect", h)
	ch.Pipeline().AddHandler("sink", sink)
	go ch.Serve()

	reader := bufio.NewReader(peer)
	_, err := reader.ReadString('\n')
	require.NoError(t, err)
	for {
		l, err := reader.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
	}

	// The response header and the first tunnel bytes arrive in the same
	// write, and therefore the same buffered read on the handler side.
	tunnelBytes := []byte("tls client hello goes here")
	_, err = peer.Write(append([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"), tunnelBytes...))
	require.NoError(t, err)

	waitDone(t, h.Established())
	var gotErr error
	h.Established().OnComplete(func(_ struct{}, e error) { gotErr = e })
	assert.NoError(t, gotErr)

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("tunnel bytes never reached the downstream handler")
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, tunnelBytes, sink.snapshot()[0])
}

func TestConnectDeadlineElapses(t *testing.T) {
	ch, peer := loopback(t)
	h := proxy.New("example.com", 443, nil, time.Now().Add(20*time.Millisecond))
	ch.Pipeline().AddHandler("connect", h)
	go ch.Serve()
	// Drain the CONNECT request so Active's blocking write completes; the
	// peer then never answers, so the deadline is what settles this.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := peer.Read(buf); err != nil {
				return
			}
		}
	}()

	waitDone(t, h.Established())
	var gotErr error
	h.Established().OnComplete(func(_ struct{}, e error) { gotErr = e })
	require.Error(t, gotErr)
	kind, ok := perr.KindOf(gotErr)
	require.True(t, ok)
	assert.Equal(t, perr.KindProxyTimeout, kind)
}
