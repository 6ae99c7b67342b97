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
	"fmt"
)

// compressStream is the only place this package hands bytes to the
// underlying compression library. gzip uses the RFC 1952 wrapper (zlib
// windowBits 16+15 in the source API); deflate is a raw RFC 1951 deflate
// stream with no zlib (RFC 1950) header or checksum. The standard library exposes no windowBits knob, so
// both are the library's fixed default window, which is the largest this
// format supports and therefore a strict superset of what window=15
// requires.
type compressStream interface {
	// Write compresses p and returns whatever compressed bytes are ready
	// to emit now. Every call flushes, so a chunk is never held back
	// waiting for more input (avoids head-of-line blocking).
	Write(p []byte) ([]byte, error)
	// Finish finalizes the stream and returns any trailing bytes.
	Finish() ([]byte, error)
}

func newCompressStream(alg string) (compressStream, error) {
	switch alg {
	case AlgGzip:
		return newGzipStream(), nil
	case AlgDeflate:
		return newDeflateStream(), nil
	default:
		return nil, fmt.Errorf("httpcompress: unsupported algorithm %q", alg)
	}
}

type gzipStream struct {
	buf *bytes.Buffer
	zw  *gzip.Writer
}

func newGzipStream() *gzipStream {
	buf := &bytes.Buffer{}
	return &gzipStream{buf: buf, zw: gzip.NewWriter(buf)}
}

func (s *gzipStream) Write(p []byte) ([]byte, error) {
	if _, err := s.zw.Write(p); err != nil {
		return nil, err
	}
	if err := s.zw.Flush(); err != nil {
		return nil, err
	}
	return s.drain(), nil
}

func (s *gzipStream) Finish() ([]byte, error) {
	if err := s.zw.Close(); err != nil {
		return nil, err
	}
	return s.drain(), nil
}

func (s *gzipStream) drain() []byte {
	out := append([]byte{}, s.buf.Bytes()...)
	s.buf.Reset()
	return out
}

type deflateStream struct {
	buf *bytes.Buffer
	zw  *flate.Writer
}

func newDeflateStream() *deflateStream {
	buf := &bytes.Buffer{}
	zw, _ := flate.NewWriter(buf, flate.DefaultCompression)
	return &deflateStream{buf: buf, zw: zw}
}

func (s *deflateStream) Write(p []byte) ([]byte, error) {
	if _, err := s.zw.Write(p); err != nil {
		return nil, err
	}
	if err := s.zw.Flush(); err != nil {
		return nil, err
	}
	return s.drain(), nil
}

func (s *deflateStream) Finish() ([]byte, error) {
	if err := s.zw.Close(); err != nil {
		return nil, err
	}
	return s.drain(), nil
}

func (s *deflateStream) drain() []byte {
	out := append([]byte{}, s.buf.Bytes()...)
	s.buf.Reset()
	return out
}
