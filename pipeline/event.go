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

package pipeline

import "net"

// Kind tags an event flowing through a Pipeline. Inbound events travel
// head-to-tail; outbound events travel tail-to-head.
type Kind int

const (
	// Inbound kinds.
	Registered Kind = iota
	Active
	Inactive
	Read
	ReadComplete
	WritabilityChanged
	UserEvent
	ErrorCaught

	// Outbound kinds.
	Register
	Bind
	Connect
	Write
	Flush
	CloseRequested
)

func (k Kind) String() string {
	names := [...]string{
		"registered", "active", "inactive", "read", "read-complete",
		"writability-changed", "user-event", "error",
		"register", "bind", "connect", "write", "flush", "close",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// CloseMode distinguishes why a channel closed, surfaced to debug event
// recorders on the close event.
type CloseMode int

const (
	CloseLocal CloseMode = iota
	CloseRemote
	CloseError
)

// QuiesceEvent is the user event the quiescing helper broadcasts to
// every tracked child once a shutdown has been initiated.
type QuiesceEvent struct{}

// BindAddr/ConnectAddr wrap the outbound bind/connect payload.
type BindAddr struct{ Addr net.Addr }
type ConnectAddr struct{ Addr net.Addr }
