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

package correlator

import (
	"time"

	"github.com/packetd/netpipe/common/socket"
)

// RoundTrip adapts one matched request/response exchange into
// socket.RoundTrip so it can flow, as a common.Record, through the same
// processor/exporter path the teacher built for its passive-capture
// round trips.
type RoundTrip struct {
	request    []byte
	response   []byte
	remoteAddr string
	err        error
	start      time.Time
	end        time.Time
}

func (rt *RoundTrip) Proto() socket.L7Proto { return socket.L7ProtoPipeline }

func (rt *RoundTrip) Request() any { return rt.request }

func (rt *RoundTrip) Response() any { return rt.response }

func (rt *RoundTrip) Duration() time.Duration { return rt.end.Sub(rt.start) }

func (rt *RoundTrip) Validate() bool { return rt.err == nil && rt.response != nil }

// RemoteAddr is the peer address of the Channel the exchange happened on,
// as set by the caller of Track; empty if the caller didn't know it.
func (rt *RoundTrip) RemoteAddr() string { return rt.remoteAddr }

// Track records request and invokes emit with the completed RoundTrip once
// promise settles, successfully or not. It writes nothing and never settles
// promise itself; promise may come from a correlator's WriteRequest or be
// created and settled by the caller. A
// failed promise still produces a RoundTrip, with Validate()==false and
// Response()==nil, so a Sinker can observe and count failed exchanges.
// remoteAddr is stamped onto the RoundTrip for downstream labeling; pass
// "" if unavailable.
func Track(request []byte, remoteAddr string, promise *ResponsePromise, emit func(*RoundTrip)) {
	start := time.Now()
	promise.OnComplete(func(resp []byte, err error) {
		emit(&RoundTrip{
			request:    request,
			response:   resp,
			remoteAddr: remoteAddr,
			err:        err,
			start:      start,
			end:        time.Now(),
		})
	})
}
