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

// Package perr names the error behaviors shared by every pipeline handler:
// codecs, the correlator, the quiescing helper, the compressor and the
// CONNECT proxy handler all close over the same small taxonomy so that a
// caller can branch on behavior (Closes, Advisory) rather than on type.
package perr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind tags the behavior an error carries, per the propagation policy:
// wire-corrupting errors always close the connection, advisory errors do
// not.
type Kind int

const (
	KindLeftOverBytes Kind = iota
	KindLengthFieldOverflow
	KindBadLengthValue
	KindMissingRequiredHeader
	KindResponseBufferEmpty
	KindResponseForUnknownID
	KindClosedBeforeResponse
	KindDecompressionLimit
	KindDecompressionMalformed
	KindProxyAuthRequired
	KindInvalidProxyResponse
	KindProxyTimeout
	KindUncompressedWritesPending
	KindUnusedQuiescingHelper
)

func (k Kind) String() string {
	switch k {
	case KindLeftOverBytes:
		return "left-over-bytes"
	case KindLengthFieldOverflow:
		return "length-field-overflow"
	case KindBadLengthValue:
		return "bad-length-value"
	case KindMissingRequiredHeader:
		return "missing-required-header"
	case KindResponseBufferEmpty:
		return "response-buffer-empty"
	case KindResponseForUnknownID:
		return "response-for-unknown-id"
	case KindClosedBeforeResponse:
		return "closed-before-response"
	case KindDecompressionLimit:
		return "decompression-limit"
	case KindDecompressionMalformed:
		return "decompression-malformed"
	case KindProxyAuthRequired:
		return "proxy-auth-required"
	case KindInvalidProxyResponse:
		return "invalid-proxy-response"
	case KindProxyTimeout:
		return "proxy-timeout"
	case KindUncompressedWritesPending:
		return "uncompressed-writes-pending"
	case KindUnusedQuiescingHelper:
		return "unused-quiescing-helper"
	default:
		return "unknown"
	}
}

// Error is the concrete error value carried by every handler in this
// repository. It keeps the pkg/errors stack trace of wherever it was
// constructed, matching protocol/phttp/decoder.go's newError idiom in the
// teacher.
type Error struct {
	kind  Kind
	cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, cause: errors.New(msg)}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, cause: errors.New(fmt.Sprintf(format, args...))}
}

func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{kind: kind, cause: errors.Wrap(cause, msg)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Kind() Kind {
	return e.kind
}

// Closes reports whether the error kind implies the wire is corrupt and the
// connection must close, as opposed to an advisory error (left-over-bytes)
// that is only reported.
func (e *Error) Closes() bool {
	return e.kind != KindLeftOverBytes
}

// LeftOverBytesError carries the residual bytes that were still buffered
// when a codec was removed from the pipeline or saw the channel go
// inactive.
type LeftOverBytesError struct {
	*Error
	Residue []byte
}

func NewLeftOverBytes(residue []byte) *LeftOverBytesError {
	return &LeftOverBytesError{
		Error:   Newf(KindLeftOverBytes, "%d left-over byte(s) on removal", len(residue)),
		Residue: residue,
	}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.kind, true
	}
	return 0, false
}
