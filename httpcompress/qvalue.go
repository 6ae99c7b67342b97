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
	"math"
	"strconv"
	"strings"
)

// AlgGzip, AlgDeflate and AlgIdentity are the only coding names this
// package negotiates or streams.
const (
	AlgGzip     = "gzip"
	AlgDeflate  = "deflate"
	AlgIdentity = "identity"
)

type qEntry struct {
	name string
	q    float64
}

// negotiate parses an Accept-Encoding header value and picks the
// highest-q entry among {gzip, deflate, *->gzip, identity}. It returns
// AlgIdentity (meaning "do not compress") if nothing usable is offered.
//
// Per-entry q-value errors (NaN, +-Inf, out of [0,1], non-numeric) drop
// just that entry rather than the whole header. An exact q=0 refuses that
// coding.
func negotiate(header string) string {
	entries := parseAcceptEncoding(header)
	if len(entries) == 0 {
		return AlgIdentity
	}

	best := ""
	bestQ := -1.0
	sawStar := false
	starQ := 0.0
	for _, e := range entries {
		name := e.name
		if name == "*" {
			sawStar = true
			starQ = e.q
			continue
		}
		if name != AlgGzip && name != AlgDeflate && name != AlgIdentity {
			continue
		}
		if e.q > bestQ {
			best, bestQ = name, e.q
		}
	}
	if sawStar && starQ > bestQ {
		// "*" maps to gzip per the negotiation contract.
		best, bestQ = AlgGzip, starQ
	}
	if best == "" || bestQ <= 0 {
		return AlgIdentity
	}
	return best
}

func parseAcceptEncoding(header string) []qEntry {
	var out []qEntry
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := part
		q := 1.0
		if i := strings.IndexByte(part, ';'); i >= 0 {
			name = strings.TrimSpace(part[:i])
			params := part[i+1:]
			val, ok := parseQParam(params)
			if !ok {
				continue
			}
			q = val
		}
		name = strings.ToLower(name)
		out = append(out, qEntry{name: name, q: q})
	}
	return out
}

// parseQParam extracts the q value from a ";q=0.8" style parameter list,
// rejecting NaN, +-Inf, out-of-[0,1] and non-numeric tokens.
func parseQParam(params string) (float64, bool) {
	for _, p := range strings.Split(params, ";") {
		p = strings.TrimSpace(p)
		name, val, found := strings.Cut(p, "=")
		if !found || strings.TrimSpace(name) != "q" {
			continue
		}
		val = strings.TrimSpace(val)
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 1 {
			return 0, false
		}
		return f, true
	}
	return 1, true
}
