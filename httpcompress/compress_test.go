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

package httpcompress

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

func roundTrip(t *testing.T, alg string, chunks [][]byte) []byte {
	t.Helper()
	c := NewRequestCompressor(alg)
	head := c.RewriteHead(&RequestHead{Method: "POST", Header: http.Header{}})
	assert.Equal(t, alg, head.Header.Get("Content-Encoding"))

	d := NewDecompressor(alg, Limit{})
	var plain []byte
	for _, chunk := range chunks {
		compressed, err := c.WriteChunk(chunk)
		require.NoError(t, err)
		out, err := d.Feed(compressed)
		require.NoError(t, err)
		plain = append(plain, out...)
	}
	trailer, err := c.End()
	require.NoError(t, err)
	out, err := d.Feed(trailer)
	require.NoError(t, err)
	plain = append(plain, out...)

	out, err = d.End()
	require.NoError(t, err)
	plain = append(plain, out...)
	return plain
}

func TestGzipRoundTripSingleChunk(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to pad the stream")
	got := roundTrip(t, AlgGzip, [][]byte{data})
	assert.Equal(t, data, got)
}

func TestDeflateRoundTripDripFed(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to pad the stream")
	var chunks [][]byte
	for _, b := range data {
		chunks = append(chunks, []byte{b})
	}
	got := roundTrip(t, AlgDeflate, chunks)
	assert.Equal(t, data, got)
}

func TestResponseCompressorStripsContentLengthAndSetsChunked(t *testing.T) {
	c := NewResponseCompressor(nil)
	c.ObserveRequestHead(&RequestHead{Header: http.Header{"Accept-Encoding": {"gzip"}}})

	head := &ResponseHead{StatusCode: 200, Header: http.Header{"Content-Length": {"123"}}}
	_, err := c.RewriteHead(head, nil)
	require.NoError(t, err)

	assert.Empty(t, head.Header.Get("Content-Length"))
	assert.Equal(t, "chunked", head.Header.Get("Transfer-Encoding"))
	assert.Equal(t, "gzip", head.Header.Get("Content-Encoding"))
}

func TestResponseCompressorSingleWriteKeepsContentLength(t *testing.T) {
	c := NewResponseCompressor(nil)
	c.ObserveRequestHead(&RequestHead{Header: http.Header{"Accept-Encoding": {"gzip"}}})

	body := []byte("the quick brown fox jumps over the lazy dog")
	head := &ResponseHead{StatusCode: 200, Header: http.Header{"Content-Length": {strconv.Itoa(len(body))}}}
	_, err := c.RewriteHead(head, body)
	require.NoError(t, err)

	assert.Empty(t, head.Header.Get("Transfer-Encoding"))
	assert.Equal(t, "gzip", head.Header.Get("Content-Encoding"))
	require.NotEmpty(t, head.Header.Get("Content-Length"))

	compressed, err := c.WriteChunk(body)
	require.NoError(t, err)
	assert.Equal(t, head.Header.Get("Content-Length"), strconv.Itoa(len(compressed)))

	trailer, err := c.End()
	require.NoError(t, err)
	assert.Empty(t, trailer)

	d := NewDecompressor(AlgGzip, Limit{})
	out, err := d.Feed(compressed)
	require.NoError(t, err)
	final, err := d.End()
	require.NoError(t, err)
	assert.Equal(t, body, append(out, final...))
}

func TestResponseCompressorStripsConnectionHeaders(t *testing.T) {
	c := NewResponseCompressor(nil)
	c.ObserveRequestHead(&RequestHead{Header: http.Header{"Accept-Encoding": {"gzip"}}})

	head := &ResponseHead{
		StatusCode: 200,
		Header: http.Header{
			"Connection": {"X-Internal-Debug"},
			"X-Internal-Debug": {"secret"},
		},
	}
	_, err := c.RewriteHead(head, nil)
	require.NoError(t, err)

	assert.Empty(t, head.Header.Get("Connection"))
	assert.Empty(t, head.Header.Get("X-Internal-Debug"))
}

func TestResponseCompressorExcludesNoContentStatus(t *testing.T) {
	c := NewResponseCompressor(nil)
	c.ObserveRequestHead(&RequestHead{Header: http.Header{"Accept-Encoding": {"gzip"}}})

	head := &ResponseHead{StatusCode: http.StatusNoContent, Header: http.Header{"Content-Length": {"0"}}}
	_, err := c.RewriteHead(head, nil)
	require.NoError(t, err)

	assert.Equal(t, "0", head.Header.Get("Content-Length"))
	assert.Empty(t, head.Header.Get("Content-Encoding"))
}

func TestResponseCompressorPredicateCanVeto(t *testing.T) {
	c := NewResponseCompressor(func(head *ResponseHead) Decision { return DoNotCompress })
	c.ObserveRequestHead(&RequestHead{Header: http.Header{"Accept-Encoding": {"gzip"}}})

	head := &ResponseHead{StatusCode: 200, Header: http.Header{}}
	_, err := c.RewriteHead(head, nil)
	require.NoError(t, err)

	assert.Empty(t, head.Header.Get("Content-Encoding"))
}

func TestResponseCompressorObserveRequestHeadRejectsInvalidAcceptEncoding(t *testing.T) {
	c := NewResponseCompressor(nil)
	c.ObserveRequestHead(&RequestHead{Header: http.Header{"Accept-Encoding": {"gzip\x00"}}})

	head := &ResponseHead{StatusCode: 200, Header: http.Header{}}
	_, err := c.RewriteHead(head, nil)
	require.NoError(t, err)

	assert.Empty(t, head.Header.Get("Content-Encoding"))
}

func TestResponseCompressorRemoveFailsPendingWrites(t *testing.T) {
	c := NewResponseCompressor(nil)
	c.ObserveRequestHead(&RequestHead{Header: http.Header{"Accept-Encoding": {"gzip"}}})
	_, err := c.RewriteHead(&ResponseHead{StatusCode: 200, Header: http.Header{}}, nil)
	require.NoError(t, err)

	p := pipeline.NewPromise[struct{}]()
	c.Track(p)
	c.Remove()

	require.True(t, p.IsDone())
	var err error
	p.OnComplete(func(_ struct{}, e error) { err = e })
	require.Error(t, err)
	kind, ok := perr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, perr.KindUncompressedWritesPending, kind)
}

func TestDecompressorSizeLimitAborts(t *testing.T) {
	c := NewRequestCompressor(AlgGzip)
	c.RewriteHead(&RequestHead{Header: http.Header{}})
	compressed, err := c.WriteChunk([]byte("this payload is definitely longer than four bytes"))
	require.NoError(t, err)
	trailer, err := c.End()
	require.NoError(t, err)
	compressed = append(compressed, trailer...)

	d := NewDecompressor(AlgGzip, Limit{Kind: LimitSize, N: 4})
	_, err = d.Feed(compressed)
	require.Error(t, err)
	kind, ok := perr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, perr.KindDecompressionLimit, kind)
}

func TestDecompressorFallsBackToActualFormat(t *testing.T) {
	// Announce deflate but actually send gzip-wrapped bytes, as some
	// real servers do.
	c := NewRequestCompressor(AlgGzip)
	c.RewriteHead(&RequestHead{Header: http.Header{}})
	data := []byte("mismatched wrapper")
	compressed, err := c.WriteChunk(data)
	require.NoError(t, err)
	trailer, err := c.End()
	require.NoError(t, err)
	compressed = append(compressed, trailer...)

	d := NewDecompressor(AlgDeflate, Limit{})
	out, err := d.Feed(compressed)
	require.NoError(t, err)
	final, err := d.End()
	require.NoError(t, err)
	assert.Equal(t, data, append(out, final...))
}
