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

package codec

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/packetd/netpipe/buffer"
	"github.com/packetd/netpipe/perr"
	"github.com/packetd/netpipe/pipeline"
)

// ContentLengthDecoder frames JSON-RPC-style messages: a run of ASCII
// "Name: Value\r\n" headers terminated by a blank line, followed by exactly
// Content-Length body bytes. It tolerates a missing space after the colon
// and bare '\n' line endings, the compatibility concessions real language
// servers rely on.
type ContentLengthDecoder struct {
	maxHeaderBytes int
}

// NewContentLengthDecoder returns a Decoder for the Content-Length framing.
// maxHeaderBytes <= 0 means no bound on how much header text is buffered
// while searching for the terminating blank line.
func NewContentLengthDecoder(maxHeaderBytes int) *ContentLengthDecoder {
	return &ContentLengthDecoder{maxHeaderBytes: maxHeaderBytes}
}

// findHeaderEnd returns the index just past the blank-line terminator
// ("\r\n\r\n" or lax "\n\n"), or -1 if not yet seen.
func findHeaderEnd(view []byte) int {
	if idx := bytes.Index(view, []byte("\r\n\r\n")); idx >= 0 {
		return idx + 4
	}
	if idx := bytes.Index(view, []byte("\n\n")); idx >= 0 {
		return idx + 2
	}
	return -1
}

// headerLines splits the raw header block into "Name: Value<term>" lines,
// keeping each line's original terminator (the lax "\n"-only form included)
// so an illegal value can be reported with its exact raw text.
func headerLines(header []byte) []string {
	var lines []string
	start := 0
	for i := 0; i < len(header); i++ {
		if header[i] == '\n' {
			lines = append(lines, string(header[start:i+1]))
			start = i + 1
		}
	}
	return lines
}

func parseContentLength(header []byte) (int, error) {
	for _, line := range headerLines(header) {
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			continue
		}
		name, value, found := strings.Cut(trimmed, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "content-length") {
			continue
		}
		raw := line[len(name)+1:]
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, perr.Newf(perr.KindBadLengthValue,
				"illegal Content-Length header value %q", raw)
		}
		return n, nil
	}
	return 0, perr.New(perr.KindMissingRequiredHeader, "missing Content-Length header")
}

func (d *ContentLengthDecoder) Decode(buf *buffer.ByteBuf) ([]byte, bool, error) {
	view := buf.Bytes()
	headerEnd := findHeaderEnd(view)
	if headerEnd < 0 {
		if d.maxHeaderBytes > 0 && len(view) > d.maxHeaderBytes {
			return nil, false, perr.New(perr.KindMissingRequiredHeader,
				"no blank-line header terminator within max header size")
		}
		return nil, false, nil
	}

	length, err := parseContentLength(view[:headerEnd])
	if err != nil {
		return nil, false, err
	}

	if len(view) < headerEnd+length {
		return nil, false, nil
	}

	body := append([]byte{}, view[headerEnd:headerEnd+length]...)
	if err := buf.SkipRead(headerEnd + length); err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (d *ContentLengthDecoder) DecodeLast(buf *buffer.ByteBuf, seenEOF bool) ([]byte, bool, error) {
	return nil, false, nil
}

// ContentLengthEncoder prepends "Content-Length: N\r\n\r\n" to every
// outbound payload.
type ContentLengthEncoder struct {
	pipeline.BaseHandler
}

func NewContentLengthEncoder() *ContentLengthEncoder {
	return &ContentLengthEncoder{}
}

func (e *ContentLengthEncoder) HandlerWrite(ctx pipeline.Context, msg []byte, promise *pipeline.WritePromise) {
	var out bytes.Buffer
	out.WriteString("Content-Length: ")
	out.WriteString(strconv.Itoa(len(msg)))
	out.WriteString("\r\n\r\n")
	out.Write(msg)
	e.BaseHandler.HandlerWrite(ctx, out.Bytes(), promise)
}
