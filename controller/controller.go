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

// Package controller wires every other package into one running process:
// it owns the listening socket, accepts connections into pipeline.Channels,
// installs the configured handler chain on each, and drives the
// processor/exporter path that turns a matched round trip into exported
// metrics, traces and sink records.
//
// Grounded on controller/controller.go: New wires logger -> storage ->
// exporter -> server in the same order, Start spawns background loops and
// the admin server, setupServer registers the same /metrics and /-/reload
// routes, and Reload/Stop follow the same shape. The teacher's
// sniffer.Sniffer/portPools/roundtrips-channel fan-in (built around
// passively captured L4 packets) is replaced by a net.Listener accept loop
// and a quiesce.Helper tracking one pipeline.Channel per accepted
// connection, per this repository's event-driven model of a "round trip."
package controller

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	json "github.com/goccy/go-json"

	"github.com/packetd/netpipe/codec"
	"github.com/packetd/netpipe/common"
	"github.com/packetd/netpipe/common/socket"
	"github.com/packetd/netpipe/confengine"
	"github.com/packetd/netpipe/correlator"
	"github.com/packetd/netpipe/debugtap"
	"github.com/packetd/netpipe/exporter"
	_ "github.com/packetd/netpipe/exporter/sinker/metrics"
	_ "github.com/packetd/netpipe/exporter/sinker/roundtrips"
	_ "github.com/packetd/netpipe/exporter/sinker/traces"
	"github.com/packetd/netpipe/internal/metricstorage"
	"github.com/packetd/netpipe/internal/pubsub"
	"github.com/packetd/netpipe/internal/sigs"
	"github.com/packetd/netpipe/logger"
	"github.com/packetd/netpipe/pcap"
	"github.com/packetd/netpipe/pipeline"
	"github.com/packetd/netpipe/processor"
	_ "github.com/packetd/netpipe/processor/roundtripstometrics"
	_ "github.com/packetd/netpipe/processor/roundtripstotraces"
	"github.com/packetd/netpipe/quiesce"
	"github.com/packetd/netpipe/server"
)

// FramingKind selects the byte-to-message codec installed on every
// accepted connection's read side.
type FramingKind string

const (
	FramingLine          FramingKind = "line"
	FramingLengthField   FramingKind = "lengthField"
	FramingFixedLength   FramingKind = "fixedLength"
	FramingContentLength FramingKind = "contentLength"
)

// Config is the controller's own configuration, unpacked from the
// top-level "controller" key.
type Config struct {
	// Address is the listener's bind address, e.g. ":9500".
	Address string `config:"address"`

	// Framing selects the decoder installed ahead of the echo handler on
	// every accepted connection.
	Framing FramingKind `config:"framing"`

	// LengthFieldWidth/LengthFieldLittleEndian configure FramingLengthField.
	LengthFieldWidth        int  `config:"lengthFieldWidth"`
	LengthFieldLittleEndian bool `config:"lengthFieldLittleEndian"`

	// FixedLength configures FramingFixedLength.
	FixedLength int `config:"fixedLength"`

	// ContentLengthMaxHeaderBytes configures FramingContentLength.
	ContentLengthMaxHeaderBytes int `config:"contentLengthMaxHeaderBytes"`

	// ReadBufferSize sizes each Channel's read-ahead buffer; defaults to
	// common.ReadWriteBlockSize.
	ReadBufferSize int `config:"readBufferSize"`

	// Capture turns on pcap synthesis plus the per-connection ring buffer
	// the admin server can dump on demand.
	Capture             bool `config:"capture"`
	CaptureMaxFragments int  `config:"captureMaxFragments"`
	CaptureMaxBytes     int  `config:"captureMaxBytes"`

	// Debug turns on debugtap logging of every pipeline event, at debug
	// level, for every accepted connection.
	Debug bool `config:"debug"`

	// EventStream turns on publishing every pipeline event to the
	// in-process event bus the admin server's /-/events route streams to
	// subscribers.
	EventStream bool `config:"eventStream"`

	// Processors lists, in order, the processor names every produced
	// common.Record is run through before being exported. Each stage may
	// itself emit a derived Record (e.g. roundtripstometrics turning a
	// RoundTrip into MetricsData), which is exported in turn but not fed
	// back through the chain a second time.
	Processors []string `config:"processors"`
}

func (c *Config) setDefaults() {
	if c.Address == "" {
		c.Address = ":9500"
	}
	if c.Framing == "" {
		c.Framing = FramingLine
	}
	if c.LengthFieldWidth == 0 {
		c.LengthFieldWidth = 4
	}
	if c.ContentLengthMaxHeaderBytes == 0 {
		c.ContentLengthMaxHeaderBytes = 8192
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = common.ReadWriteBlockSize
	}
	if c.CaptureMaxFragments == 0 {
		c.CaptureMaxFragments = 1024
	}
	if c.CaptureMaxBytes == 0 {
		c.CaptureMaxBytes = 8 << 20
	}
	if len(c.Processors) == 0 {
		c.Processors = []string{"roundtripstometrics", "roundtripstotraces"}
	}
}

// Controller owns the listening socket and every connection accepted on
// it, and the metrics/traces/round-trip export path fed by them.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg       Config
	buildInfo common.BuildInfo

	storage *metricstorage.Storage
	exp     *exporter.Exporter
	procMgr *processor.Manager
	svr     *server.Server

	listener net.Listener
	helper   *quiesce.Helper
	stopping atomic.Bool
	events   *pubsub.PubSub

	mu          sync.Mutex
	ringBuffers map[string]*pcap.RingBuffer
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}
	if opts.Filename == "" {
		opts.Filename = fmt.Sprintf("%s.log", common.App)
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = 5
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize == 0 {
		opts.MaxSize = 128
	}
	logger.SetOptions(opts)
	return nil
}

// New wires logger, metrics storage, exporter, processor manager and the
// admin HTTP server from conf, and binds the listening socket. It does not
// start accepting connections; call Start for that.
func New(conf *confengine.Config, buildInfo common.BuildInfo) (*Controller, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	var cfg Config
	if err := conf.UnpackChild("controller", &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	storage, err := metricstorage.New(conf)
	if err != nil {
		return nil, err
	}

	exp, err := exporter.New(conf, storage)
	if err != nil {
		return nil, err
	}

	procMgr, err := processor.NewManager(conf)
	if err != nil {
		return nil, err
	}

	svr, err := server.New(conf)
	if err != nil {
		return nil, err
	}

	l, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		buildInfo:   buildInfo,
		storage:     storage,
		exp:         exp,
		procMgr:     procMgr,
		svr:         svr,
		listener:    l,
		ringBuffers: make(map[string]*pcap.RingBuffer),
		events:      pubsub.New(),
	}
	c.helper = quiesce.New(l.Close)
	if svr != nil {
		c.setupServer()
	}
	return c, nil
}

// Start begins accepting connections, starts the exporter's background
// sink loops and, if configured, the admin HTTP server. It returns once
// the accept loop goroutine has been launched; it does not block.
func (c *Controller) Start() error {
	c.exp.Start()

	if c.svr != nil {
		go func() {
			if err := c.svr.ListenAndServe(); err != nil {
				logger.Errorf("admin server stopped: %v", err)
			}
		}()
	}

	go c.acceptLoop()
	logger.Infof("%s %s listening on %s", common.App, c.buildInfo.Version, c.cfg.Address)
	return nil
}

func (c *Controller) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if c.stopping.Load() {
				return
			}
			logger.Warnf("accept failed: %v", err)
			return
		}
		go c.serveConn(conn)
	}
}

// serveConn builds one Channel for conn, installs the configured handler
// chain, tracks it with the quiescing helper, and runs its event loop
// until the connection closes. This is the per-connection analogue of the
// teacher's per-packet sniffer.Sniffer callback.
func (c *Controller) serveConn(conn net.Conn) {
	cfg := c.snapshotConfig()

	ch := pipeline.NewChannel(conn, cfg.ReadBufferSize)
	pl := ch.Pipeline()

	if cfg.Debug {
		pl.AddHandler("debug-in", debugtap.NewInbound(func(e debugtap.Event) {
			logger.Debugf("conn %s inbound %s", conn.RemoteAddr(), e.Kind)
		}))
	}

	if cfg.EventStream {
		remote := conn.RemoteAddr().String()
		pl.AddHandler("events-in", debugtap.NewInbound(func(e debugtap.Event) {
			c.publishEvent(remote, e.Kind, len(e.Data))
		}))
		pl.AddHandler("events-out", debugtap.NewOutbound(func(e debugtap.Event) {
			c.publishEvent(remote, e.Kind, len(e.Data))
		}))
	}

	var ring *pcap.RingBuffer
	if cfg.Capture {
		ring = pcap.NewRingBuffer(cfg.CaptureMaxFragments, cfg.CaptureMaxBytes)
		c.mu.Lock()
		c.ringBuffers[conn.RemoteAddr().String()] = ring
		c.mu.Unlock()
		capture := pcap.New(pcap.ModeServer, pcap.WhenCompleted, ring.AddFragment, nil)
		pl.AddHandler("capture", capture)
	}

	pl.AddHandler("framing", newFramingHandler(cfg))
	pl.AddHandler("quiesce", c.helper.NewChildHandler())
	pl.AddHandler("echo", newEchoHandler(c, conn.RemoteAddr().String()))

	ch.SetErrorHook(func(err error) {
		logger.Warnf("conn %s pipeline error: %v", conn.RemoteAddr(), err)
	})

	defer func() {
		if ring != nil {
			c.mu.Lock()
			delete(c.ringBuffers, conn.RemoteAddr().String())
			c.mu.Unlock()
		}
	}()

	ch.Serve()
}

func (c *Controller) snapshotConfig() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func newFramingHandler(cfg Config) pipeline.Handler {
	switch cfg.Framing {
	case FramingLengthField:
		var order binary.ByteOrder = binary.BigEndian
		if cfg.LengthFieldLittleEndian {
			order = binary.LittleEndian
		}
		return codec.NewDecoderHandler(codec.NewLengthFieldDecoder(cfg.LengthFieldWidth, order))
	case FramingFixedLength:
		return codec.NewDecoderHandler(codec.NewFixedLengthDecoder(cfg.FixedLength))
	case FramingContentLength:
		return codec.NewDecoderHandler(codec.NewContentLengthDecoder(cfg.ContentLengthMaxHeaderBytes))
	default:
		return codec.NewDecoderHandler(codec.NewLineDecoder())
	}
}

// echoHandler is the terminal handler of the demo chain: it echoes every
// framed request back to its sender and tracks the exchange as a
// correlator round trip, which flows into the processor/exporter path
// exactly as a matched request/response pair would for a real application
// protocol.
//
// It deliberately does not install correlator.Ordered/Keyed as a pipeline
// handler: both settle their promises by dequeuing against their own
// inbound Read, which presumes a client topology (write a request, await
// the peer's response on the same read path). An accept-side handler's
// inbound reads are requests, not responses, so it pairs each request with
// its own outbound write's completion directly and hands the result to
// correlator.Track, which is agnostic to how its promise is settled.
//
// A production deployment wires application-specific handlers ahead of
// this one; it stands in for "the next hop" the way the teacher's own
// controller stood between sniffer.Sniffer and the exporter.
type echoHandler struct {
	pipeline.BaseHandler

	ctrl       *Controller
	remoteAddr string
}

func newEchoHandler(ctrl *Controller, remoteAddr string) *echoHandler {
	return &echoHandler{ctrl: ctrl, remoteAddr: remoteAddr}
}

func (h *echoHandler) Read(ctx pipeline.Context, msg any) {
	frame, ok := msg.([]byte)
	if !ok {
		ctx.FireRead(msg)
		return
	}

	response := pipeline.NewPromise[[]byte]()
	correlator.Track(frame, h.remoteAddr, response, func(rt *correlator.RoundTrip) {
		h.ctrl.processRecord(common.NewRecord(common.RecordRoundTrips, socket.RoundTrip(rt)))
	})

	write := ctx.WriteAndFlush(frame)
	write.OnComplete(func(_ struct{}, err error) {
		if err != nil {
			response.Fail(err)
			return
		}
		response.Succeed(frame)
	})
}

// processRecord is this repository's analogue of the teacher's
// pipeline.Pipeline.Range: it runs record through the configured ordered
// processor list, exporting both the original record and any record a
// processor derives from it.
//
// Grounded on controller/controller.go's consumeRoundTrip, which exported
// the raw round trip before handing it to pl.Range for derived metrics and
// traces.
func (c *Controller) processRecord(record *common.Record) {
	c.exp.Export(record)

	for _, name := range c.snapshotConfig().Processors {
		proc, ok := c.procMgr.Get(name)
		if !ok {
			continue
		}
		derived, err := proc.Process(record)
		if err != nil {
			logger.Warnf("processor %s failed: %v", name, err)
			continue
		}
		if derived != nil {
			c.exp.Export(derived)
		}
	}
}

// setupServer registers the admin HTTP routes: Prometheus scraping,
// per-connection PCAP ring-buffer dumps, and a reload trigger.
//
// Grounded on controller/controller.go's setupServer, which registered
// /metrics, /protocol/metrics and /-/reload in the same style; the
// per-connection /-/ringbuffer/{conn} route has no teacher analogue since
// the teacher captured from real interfaces rather than synthesizing a
// capture per Channel.
func (c *Controller) setupServer() {
	c.svr.RegisterGetRoute("/metrics", func(w http.ResponseWriter, r *http.Request) {
		c.recordUptimeMetric()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		c.storage.WritePrometheus(w)
	})

	c.svr.RegisterGetRoute("/-/ringbuffer/{conn}", func(w http.ResponseWriter, r *http.Request) {
		conn := mux.Vars(r)["conn"]
		c.mu.Lock()
		ring, ok := c.ringBuffers[conn]
		c.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
		_, _ = w.Write(ring.Emit())
	})

	c.svr.RegisterGetRoute("/-/events", c.streamEvents)

	c.svr.RegisterPostRoute("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := sigs.SelfReload(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}

// connEvent is the JSON-serializable shape published to subscribers of
// /-/events; debugtap.Event itself carries raw payload bytes and net.Addr
// values that aren't meaningful to stream to a remote client.
type connEvent struct {
	RemoteAddr string `json:"remoteAddr"`
	Kind       string `json:"kind"`
	Bytes      int    `json:"bytes"`
}

func (c *Controller) publishEvent(remoteAddr string, kind pipeline.Kind, n int) {
	c.events.Publish(connEvent{RemoteAddr: remoteAddr, Kind: kind.String(), Bytes: n})
}

// streamEvents serves a newline-delimited JSON feed of connEvent records as
// they are published, until the request context is cancelled (the client
// disconnects) or a write to the client fails. While nothing is published
// it polls the subscription every 15 seconds and keeps the stream open.
//
// Grounded on internal/pubsub.PubSub's Subscribe/PopTimeout polling loop,
// adapted here from a fixed in-process consumer to an HTTP response body.
func (c *Controller) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	q := c.events.Subscribe(64)
	defer c.events.Unsubscribe(q)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		msg, ok := q.PopTimeout(15 * time.Second)
		if !ok {
			continue
		}
		if err := enc.Encode(msg); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (c *Controller) recordUptimeMetric() {
	c.storage.Update(metricstorage.NewGaugeConstMetric(
		fmt.Sprintf("%s_uptime_seconds", common.App),
		float64(time.Now().Unix()-common.Started()),
		nil,
	))
}

// Reload re-derives the controller's own Config from conf. It does not
// rebind the listener or reconstruct already-running connections; it only
// takes effect for connections accepted afterward, matching the teacher's
// Reload, which likewise updated in-place config rather than tearing down
// the sniffer.
func (c *Controller) Reload(conf *confengine.Config) error {
	var cfg Config
	if err := conf.UnpackChild("controller", &cfg); err != nil {
		return err
	}
	cfg.setDefaults()

	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

// Stop closes the listener and quiesces every tracked connection through
// the quiescing helper, waits up to 10 seconds for every child to close,
// then cleans up the processors, cancels the background loops and closes
// the exporter. The admin HTTP server is not shut down.
func (c *Controller) Stop() {
	c.stopping.Store(true)
	promise := c.helper.Shutdown()
	settled := make(chan struct{})
	promise.OnComplete(func(_ struct{}, err error) {
		if err != nil {
			logger.Warnf("quiescing shutdown failed: %v", err)
		}
		close(settled)
	})

	select {
	case <-settled:
	case <-time.After(10 * time.Second):
		logger.Warnf("quiescing shutdown timed out with %d connection(s) still tracked", c.helper.TrackedCount())
	}

	c.helper.Discard()
	c.procMgr.Close()
	c.cancel()
	if err := c.exp.Close(); err != nil {
		logger.Warnf("exporter close: %v", err)
	}
}
