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

// Package socket holds the small, protocol-agnostic vocabulary shared by
// the pipeline's round-trip export path (correlator -> processor ->
// exporter): a RoundTrip envelope and the L7Proto it is tagged with.
//
// The teacher's socket package additionally carried a Tuple/IPV/L4Proto
// bookkeeping layer and per-application-protocol L7Proto values
// (mysql/redis/postgresql/...) for its passive packet-capture pool. This
// repository has no packet-capture pool — every "application protocol" is
// just bytes flowing through a pipeline.Channel — so that bookkeeping has
// no component left to serve; see DESIGN.md for the full accounting of
// what was dropped and why.
package socket

// L7Proto tags the protocol a RoundTrip was exchanged under.
type L7Proto string

// L7ProtoPipeline is the single L7Proto this repository's correlator
// round trips are tagged with: the pipeline doesn't distinguish which
// application protocol the bytes it correlates happen to carry.
const L7ProtoPipeline L7Proto = "pipeline"
