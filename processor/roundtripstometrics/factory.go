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

// Package roundtripstometrics converts a correlator round trip into a
// batch of constant metrics (request count, duration, body sizes).
//
// Grounded on the teacher's own roundtripstometrics: it kept one
// converter per application protocol registered into a converters map
// keyed by socket.L7Proto. This repository's correlator only ever
// produces socket.L7ProtoPipeline round trips, so the map collapses to a
// single registration; generateCommonMetrics/matchCommonLabels (config.go)
// are unchanged from the teacher.
package roundtripstometrics

import (
	"github.com/mitchellh/mapstructure"

	"github.com/packetd/netpipe/common"
	"github.com/packetd/netpipe/common/socket"
	"github.com/packetd/netpipe/internal/metricstorage"
	"github.com/packetd/netpipe/processor"
)

const Name = "roundtripstometrics"

func init() {
	processor.Register(Name, New)
	register(socket.L7ProtoPipeline, newPipelineConverter)
}

type converter interface {
	Proto() socket.L7Proto
	Convert(rt socket.RoundTrip) []metricstorage.ConstMetric
}

var converters = map[socket.L7Proto]func(config Config) converter{}

func register(proto socket.L7Proto, converter func(config Config) converter) {
	converters[proto] = converter
}

type Factory struct {
	converters map[socket.L7Proto]converter
}

func New(conf map[string]any) (processor.Processor, error) {
	cfg := &Config{}
	if err := mapstructure.Decode(conf, cfg); err != nil {
		return nil, err
	}

	impl := make(map[socket.L7Proto]converter)
	for k, f := range converters {
		impl[k] = f(*cfg)
	}
	factory := &Factory{
		converters: impl,
	}
	return factory, nil
}

func (f *Factory) Name() string {
	return Name
}

func (f *Factory) Process(record *common.Record) (*common.Record, error) {
	rt := record.Data.(socket.RoundTrip)
	impl, ok := f.converters[rt.Proto()]
	if !ok {
		return nil, nil
	}

	data := impl.Convert(rt)
	return &common.Record{
		RecordType: common.RecordMetrics,
		Data:       &common.MetricsData{Data: data},
	}, nil
}

func (f *Factory) Clean() {}

var pipelineMetrics = commonMetrics{
	requestTotal:           "pipeline_roundtrips_total",
	requestDurationSeconds: "pipeline_roundtrip_duration_seconds",
	requestBodySizeBytes:   "pipeline_request_body_bytes",
	responseBodySizeBytes:  "pipeline_response_body_bytes",
}

type pipelineConverter struct {
	config CommonConfig
}

func newPipelineConverter(config Config) converter {
	return &pipelineConverter{config: config.Pipeline}
}

func (c *pipelineConverter) Proto() socket.L7Proto {
	return socket.L7ProtoPipeline
}

func (c *pipelineConverter) Convert(rt socket.RoundTrip) []metricstorage.ConstMetric {
	req, _ := rt.Request().([]byte)
	rsp, _ := rt.Response().([]byte)

	var remoteAddr string
	type addressed interface{ RemoteAddr() string }
	if a, ok := rt.(addressed); ok {
		remoteAddr = a.RemoteAddr()
	}

	lbs := matchCommonLabels(c.config.RequireLabels, remoteAddr)
	return generateCommonMetrics(pipelineMetrics, lbs, rt.Duration().Seconds(), len(req), len(rsp))
}
