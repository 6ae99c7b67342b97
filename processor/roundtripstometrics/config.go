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

package roundtripstometrics

import (
	"github.com/packetd/netpipe/internal/labels"
	"github.com/packetd/netpipe/internal/metricstorage"
)

// Config is decoded from the processor's raw config map with mapstructure
// (see New).
//
// The teacher carried one CommonConfig per application protocol (http,
// redis, mysql, ...), each with its own RequireLabels. This repository's
// correlator produces one round-trip shape, so that fans in to a single
// CommonConfig.
type Config struct {
	Pipeline CommonConfig `config:"pipeline" mapstructure:"pipeline"`
}

type CommonConfig struct {
	RequireLabels []string `config:"requireLabels" mapstructure:"requireLabels"`
}

func matchCommonLabels(required []string, remoteAddr string) labels.Labels {
	var lbs labels.Labels
	for _, label := range required {
		switch label {
		case "network.peer.address":
			lbs = append(lbs, labels.Label{Name: "peer_address", Value: remoteAddr})
		}
	}
	return lbs
}

type commonMetrics struct {
	requestTotal           string
	requestDurationSeconds string
	requestBodySizeBytes   string
	responseBodySizeBytes  string
}

func generateCommonMetrics(cm commonMetrics, lbs labels.Labels, secs float64, reqSize, rspSize int) []metricstorage.ConstMetric {
	return []metricstorage.ConstMetric{
		metricstorage.NewCounterConstMetric(cm.requestTotal, 1, lbs),
		metricstorage.NewHistogramConstMetric(cm.requestDurationSeconds, secs, metricstorage.UnitSeconds, lbs),
		metricstorage.NewHistogramConstMetric(cm.requestBodySizeBytes, float64(reqSize), metricstorage.UnitBytes, lbs),
		metricstorage.NewHistogramConstMetric(cm.responseBodySizeBytes, float64(rspSize), metricstorage.UnitBytes, lbs),
	}
}
