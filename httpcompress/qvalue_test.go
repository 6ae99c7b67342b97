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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateHighestQWins(t *testing.T) {
	got := negotiate("deflate;q=0.5, gzip;q=0.8, *;q=0.3")
	assert.Equal(t, AlgGzip, got)
}

func TestNegotiateRejectsNaN(t *testing.T) {
	got := negotiate("deflate;q=NaN, gzip;q=0.3")
	assert.Equal(t, AlgGzip, got)
}

func TestNegotiateRejectsOutOfRangeAndInf(t *testing.T) {
	got := negotiate("deflate;q=2.0, gzip;q=Infinity, identity;q=0.4")
	assert.Equal(t, AlgIdentity, got)
}

func TestNegotiateExactZeroRefuses(t *testing.T) {
	got := negotiate("gzip;q=0")
	assert.Equal(t, AlgIdentity, got)
}

func TestNegotiateEmptyHeaderMeansIdentity(t *testing.T) {
	assert.Equal(t, AlgIdentity, negotiate(""))
}

func TestNegotiateStarMapsToGzip(t *testing.T) {
	assert.Equal(t, AlgGzip, negotiate("*;q=1.0"))
}
