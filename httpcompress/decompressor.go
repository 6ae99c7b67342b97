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
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/packetd/netpipe/perr"
)

// LimitKind selects how a Decompressor bounds expansion.
type LimitKind int

const (
	LimitNone LimitKind = iota
	LimitSize
	LimitRatio
)

// Limit bounds the amount of plaintext a Decompressor will produce.
type Limit struct {
	Kind LimitKind
	N    int     // for LimitSize: max total expanded bytes
	R    float64 // for LimitRatio: max expanded bytes per compressed byte seen
}

// Decompressor expands a gzip or deflate byte stream, attempting the
// other wrapper format if the announced one fails to decode (some
// sources advertise deflate but actually emit a gzip-wrapped stream), and
// enforcing a size or ratio limit incrementally.
//
// Simplification versus a true incremental zlib binding: each Feed
// re-decodes the entire buffer accumulated so far rather than resuming
// an in-flight inflate state, since the retrieval pack carries no
// incremental zlib reader that also supports format fallback. A stream
// that has not yet reached its end marker does not decode, so Feed
// returns no plaintext until the complete stream is buffered; the
// concatenated output equals what a streaming decoder would produce.
type Decompressor struct {
	announced string
	limit     Limit

	buf      bytes.Buffer
	emitted  int
	resolved string // format that actually decoded once known
	done     bool
	failed   error
}

// NewDecompressor returns a Decompressor expecting announced ("gzip" or
// "deflate") but tolerant of the other format actually being on the
// wire.
func NewDecompressor(announced string, limit Limit) *Decompressor {
	return &Decompressor{announced: announced, limit: limit}
}

// Feed appends p to the buffered compressed input and returns any newly
// decoded plaintext. Returns a *perr.Error with KindDecompressionLimit or
// KindDecompressionMalformed on failure; the Decompressor must not be fed
// further input after an error.
func (d *Decompressor) Feed(p []byte) ([]byte, error) {
	if d.failed != nil {
		return nil, d.failed
	}
	d.buf.Write(p)
	return d.tryDecode(false)
}

// End signals no more compressed input is coming. A truncated stream
// (one that never reached its natural end marker) is reported here as
// KindDecompressionMalformed.
func (d *Decompressor) End() ([]byte, error) {
	if d.failed != nil {
		return nil, d.failed
	}
	return d.tryDecode(true)
}

func (d *Decompressor) tryDecode(final bool) ([]byte, error) {
	formats := []string{d.announced}
	if d.resolved != "" {
		formats = []string{d.resolved}
	} else if other := otherFormat(d.announced); other != "" {
		formats = []string{d.announced, other}
		// gzip's magic bytes are unambiguous; deflate has none, so when
		// they're present prefer gzip first rather than risk flate
		// successfully (and wrongly) parsing a gzip header as a raw
		// deflate bitstream.
		if looksLikeGzip(d.buf.Bytes()) && d.announced != AlgGzip {
			formats = []string{AlgGzip, d.announced}
		}
	}

	var lastErr error
	for _, format := range formats {
		out, consumed, err := decodeAll(format, d.buf.Bytes())
		if err != nil {
			lastErr = err
			continue
		}
		if len(out) < d.emitted {
			lastErr = io.ErrUnexpectedEOF
			continue
		}
		fresh := out[d.emitted:]
		if limitErr := d.checkLimit(len(out)); limitErr != nil {
			d.failed = limitErr
			return nil, limitErr
		}
		d.resolved = format
		d.emitted = len(out)
		if consumed < d.buf.Len() {
			// trailing garbage after a complete stream
			err := perr.New(perr.KindDecompressionMalformed, "trailing garbage after compressed stream")
			d.failed = err
			return fresh, err
		}
		return fresh, nil
	}

	if final {
		err := perr.Wrap(perr.KindDecompressionMalformed, lastErr, "truncated compressed stream")
		d.failed = err
		return nil, err
	}
	// Not final: insufficient data yet is expected and not an error.
	return nil, nil
}

func (d *Decompressor) checkLimit(totalOut int) error {
	switch d.limit.Kind {
	case LimitSize:
		if totalOut > d.limit.N {
			return perr.Newf(perr.KindDecompressionLimit, "decompressed %d bytes exceeds limit %d", totalOut, d.limit.N)
		}
	case LimitRatio:
		compressedSeen := d.buf.Len()
		if compressedSeen > 0 && float64(totalOut) > d.limit.R*float64(compressedSeen) {
			return perr.Newf(perr.KindDecompressionLimit, "decompressed %d bytes exceeds ratio %.2f of %d compressed bytes", totalOut, d.limit.R, compressedSeen)
		}
	}
	return nil
}

func looksLikeGzip(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == 0x1f && buf[1] == 0x8b
}

func otherFormat(alg string) string {
	switch alg {
	case AlgGzip:
		return AlgDeflate
	case AlgDeflate:
		return AlgGzip
	default:
		return ""
	}
}

// decodeAll attempts to fully decode buf under format, returning the
// plaintext and how many of buf's bytes the decoder actually consumed
// (used to detect trailing garbage).
func decodeAll(format string, buf []byte) ([]byte, int, error) {
	cr := &countingReader{r: bytes.NewReader(buf)}
	var out []byte
	var err error
	switch format {
	case AlgGzip:
		var gz *gzip.Reader
		gz, err = gzip.NewReader(cr)
		if err == nil {
			gz.Multistream(false)
			out, err = io.ReadAll(gz)
		}
	case AlgDeflate:
		fr := flate.NewReader(cr)
		out, err = io.ReadAll(fr)
		fr.Close()
	default:
		return nil, 0, io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, 0, err
	}
	return out, cr.n, nil
}

type countingReader struct {
	r *bytes.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// ReadByte makes countingReader a flate.Reader, so gzip and flate read
// from it directly instead of through a read-ahead bufio.Reader, and n
// counts only the bytes the decoder actually consumed.
func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}
