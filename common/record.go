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

package common

import (
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/packetd/netpipe/internal/metricstorage"
)

// RecordType 标识一条 Record 承载的数据类型 决定了 Exporter/Sinker 如何解读
// Record.Data
type RecordType string

const (
	// RecordMetrics Record 承载 *MetricsData
	RecordMetrics RecordType = "metrics"

	// RecordTraces Record 承载 *TracesData
	RecordTraces RecordType = "traces"

	// RecordRoundTrips Record 承载一次请求/响应往返（实现了
	// socket.RoundTrip 接口）
	RecordRoundTrips RecordType = "roundtrips"
)

// Record 是贯穿 Pipeline/Exporter 的统一数据信封 Data 的具体类型由
// RecordType 决定
type Record struct {
	RecordType RecordType
	Data       any
}

// NewRecord 构造一个 Record
func NewRecord(rt RecordType, data any) *Record {
	return &Record{RecordType: rt, Data: data}
}

// MetricsData 承载一组待合并进 metricstorage.Storage 的常量指标
type MetricsData struct {
	Data []metricstorage.ConstMetric
}

// TracesData 承载一个待导出的 Span
type TracesData struct {
	Data ptrace.Span
}
