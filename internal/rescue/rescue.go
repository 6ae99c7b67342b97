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

// Package rescue recovers panics out of the goroutines pipeline.Channel
// spawns per accepted connection (its event loop and its read-ahead
// goroutine), so one bad handler or a misbehaving codec can't take the
// whole process down with it — only the connection it was serving.
package rescue

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/netpipe/common"
	"github.com/packetd/netpipe/logger"
)

// panicTotal is labeled by component (pipeline.Channel passes "serve" or
// "readLoop") so a spike in one can be told apart from the other: a
// "readLoop" panic means a net.Conn misbehaved, a "serve" panic means a
// pipeline.Handler did.
var panicTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "panic_total",
		Help:      "panics recovered per pipeline component",
	},
	[]string{"component"},
)

var PanicHandlers = []func(string, any){
	incPanicCounter,
	logPanic,
}

func incPanicCounter(component string, _ any) {
	panicTotal.WithLabelValues(component).Inc()
}

func logPanic(component string, r any) {
	const size = 64 << 10
	stacktrace := make([]byte, size)
	stacktrace = stacktrace[:runtime.Stack(stacktrace, false)]
	if _, ok := r.(string); ok {
		logger.Errorf("Observed a panic in %s: %s\n%s", component, r, stacktrace)
	} else {
		logger.Errorf("Observed a panic in %s: %#v (%v)\n%s", component, r, r, stacktrace)
	}
}

// HandleCrash recovers a panic in the calling goroutine, attributing it to
// component in both the counter and the log line. Callers defer it directly
// at the top of the goroutine they want isolated.
func HandleCrash(component string) {
	if r := recover(); r != nil {
		for _, fn := range PanicHandlers {
			fn(component, r)
		}
	}
}
