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

package pcap

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/packetd/netpipe/pipeline"
)

// Mode tells Capture which side of the captured TCP connection the local
// net.Conn plays, so the synthesized handshake runs in the right direction.
type Mode int

const (
	// ModeClient: the local side is the TCP client; it sends the initial
	// SYN.
	ModeClient Mode = iota
	// ModeServer: the local side is the TCP server; the remote side sends
	// the initial SYN, observed just before the first inbound read.
	ModeServer
)

// EmitPolicy controls when an outbound write is recorded.
type EmitPolicy int

const (
	// WhenCompleted (the default) defers recording an outbound write
	// until its flush has actually succeeded.
	WhenCompleted EmitPolicy = iota
	// WhenIssued records a write as soon as it is accepted by the
	// pipeline, even if it is never flushed.
	WhenIssued
)

// ipv4MTU/ipv6MTU bound a single TCP segment's application payload so the
// synthesized packet never exceeds the wire format's 16-bit IP total/
// payload length field.
const (
	ipv4MTU = 65535 - 40 // 20-byte IPv4 header + 20-byte TCP header, no options
	ipv6MTU = 65535 - 60 // 40-byte IPv6 header + 20-byte TCP header, no options
)

// Sink receives one complete PCAP record (16-byte record header plus
// family-prefixed IP packet) at a time. Capture performs no I/O itself;
// RingBuffer.AddFragment is the typical sink.
type Sink func(record []byte)

// Capture is the pipeline.Handler that fabricates a PCAP-visible TCP/IP
// conversation from the application bytes flowing through one Channel.
type Capture struct {
	pipeline.BaseHandler

	mode   Mode
	policy EmitPolicy
	sink   Sink
	now    func() time.Time

	mu            sync.Mutex
	local, remote net.Addr
	family        uint32
	seqOut        uint32
	seqIn         uint32
	handshakeDone bool
	closedLocally bool
	torn          bool
}

// New returns a Capture handler. now defaults to time.Now when nil (tests
// may inject a fixed clock for deterministic timestamps).
func New(mode Mode, policy EmitPolicy, sink Sink, now func() time.Time) *Capture {
	if now == nil {
		now = time.Now
	}
	return &Capture{mode: mode, policy: policy, sink: sink, now: now}
}

func (c *Capture) HandlerAdded(ctx pipeline.Context) {
	ch := ctx.Channel()
	c.SetAddrs(fakeableAddr(ch.LocalAddr(), "127.0.0.1:1"), fakeableAddr(ch.RemoteAddr(), "127.0.0.1:2"))
}

// SetAddrs overrides the local/remote addresses Capture synthesizes
// packets against. HandlerAdded calls this with the real or faked
// Channel addresses; tests that need deterministic addresses can call it
// directly before exercising the handshake.
func (c *Capture) SetAddrs(local, remote net.Addr) {
	c.mu.Lock()
	c.local, c.remote = local, remote
	c.family = familyOf(local)
	c.mu.Unlock()
}

func fakeableAddr(addr net.Addr, fallback string) net.Addr {
	if addr != nil {
		if _, _, err := net.SplitHostPort(addr.String()); err == nil {
			return addr
		}
	}
	fake, _ := net.ResolveTCPAddr("tcp", fallback)
	return fake
}

func familyOf(addr net.Addr) uint32 {
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil {
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			return familyIPv6
		}
	}
	return familyIPv4
}

func (c *Capture) Active(ctx pipeline.Context) {
	if c.mode == ModeClient {
		c.ensureHandshake()
	}
	ctx.FireActive()
}

// ensureHandshake synthesizes SYN / SYN-ACK / ACK exactly once.
func (c *Capture) ensureHandshake() {
	c.mu.Lock()
	if c.handshakeDone {
		c.mu.Unlock()
		return
	}
	c.handshakeDone = true
	c.mu.Unlock()

	c.emitSegment(c.local, c.remote, c.seqOut, c.seqIn, true, false, false, nil)
	c.seqOut++
	c.emitSegment(c.remote, c.local, c.seqIn, c.seqOut, true, true, false, nil)
	c.seqIn++
	c.emitSegment(c.local, c.remote, c.seqOut, c.seqIn, false, true, false, nil)
}

func (c *Capture) Read(ctx pipeline.Context, msg any) {
	if c.mode == ModeServer {
		c.ensureHandshake()
	}
	if p, ok := msg.([]byte); ok && len(p) > 0 {
		c.recordDirection(c.remote, c.local, &c.seqIn, c.seqOut, p)
	}
	ctx.FireRead(msg)
}

func (c *Capture) HandlerWrite(ctx pipeline.Context, msg []byte, promise *pipeline.WritePromise) {
	record := func() {
		c.recordDirection(c.local, c.remote, &c.seqOut, c.seqIn, msg)
	}
	if c.policy == WhenIssued {
		record()
		c.BaseHandler.HandlerWrite(ctx, msg, promise)
		return
	}
	c.BaseHandler.HandlerWrite(ctx, msg, promise)
	promise.OnComplete(func(_ struct{}, err error) {
		if err == nil {
			record()
		}
	})
}

func (c *Capture) HandlerClose(ctx pipeline.Context, promise *pipeline.WritePromise) {
	c.mu.Lock()
	c.closedLocally = true
	c.mu.Unlock()
	c.BaseHandler.HandlerClose(ctx, promise)
}

func (c *Capture) Inactive(ctx pipeline.Context) {
	c.teardown()
	ctx.FireInactive()
}

// teardown synthesizes FIN / FIN-ACK / ACK in the direction of whichever
// side closed first: local if this side issued the close, remote
// otherwise (the channel went inactive because the peer closed or the
// connection errored).
func (c *Capture) teardown() {
	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		return
	}
	c.torn = true
	initiatorLocal := c.closedLocally
	c.mu.Unlock()

	if initiatorLocal {
		c.emitSegment(c.local, c.remote, c.seqOut, c.seqIn, false, true, true, nil)
		c.seqOut++
		c.emitSegment(c.remote, c.local, c.seqIn, c.seqOut, false, true, true, nil)
		c.seqIn++
		c.emitSegment(c.local, c.remote, c.seqOut, c.seqIn, false, true, false, nil)
	} else {
		c.emitSegment(c.remote, c.local, c.seqIn, c.seqOut, false, true, true, nil)
		c.seqIn++
		c.emitSegment(c.local, c.remote, c.seqOut, c.seqIn, false, true, true, nil)
		c.seqOut++
		c.emitSegment(c.remote, c.local, c.seqIn, c.seqOut, false, true, false, nil)
	}
}

// recordDirection splits payload into MTU-sized segments and emits one
// record per segment in the src->dst direction, advancing *seq by each
// segment's length.
func (c *Capture) recordDirection(src, dst net.Addr, seq *uint32, ack uint32, payload []byte) {
	mtu := ipv4MTU
	if c.family == familyIPv6 {
		mtu = ipv6MTU
	}
	for len(payload) > 0 {
		n := len(payload)
		if n > mtu {
			n = mtu
		}
		chunk := payload[:n]
		payload = payload[n:]
		c.emitSegment(src, dst, *seq, ack, false, true, false, chunk)
		*seq += uint32(n)
	}
}

func (c *Capture) emitSegment(src, dst net.Addr, seq, ack uint32, syn, ackFlag, fin bool, payload []byte) {
	if c.sink == nil {
		return
	}
	pkt, err := buildPacket(src, dst, seq, ack, syn, ackFlag, fin, payload)
	if err != nil {
		return
	}
	now := c.now()
	rec := record(uint32(now.Unix()), uint32(now.Nanosecond()/1000), c.family, pkt)
	c.sink(rec)
}

func buildPacket(src, dst net.Addr, seq, ack uint32, syn, ackFlag, fin bool, payload []byte) ([]byte, error) {
	srcIP, srcPort := hostPort(src)
	dstIP, dstPort := hostPort(dst)

	tcp := layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     seq,
		Ack:     ack,
		SYN:     syn,
		ACK:     ackFlag,
		FIN:     fin,
		PSH:     len(payload) > 0,
		Window:  65535,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if v4 := srcIP.To4(); v4 != nil {
		ip := layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Id:       1,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    srcIP,
			DstIP:    dstIP,
		}
		if err := tcp.SetNetworkLayerForChecksum(&ip); err != nil {
			return nil, err
		}
		if err := gopacket.SerializeLayers(buf, opts, &ip, &tcp, gopacket.Payload(payload)); err != nil {
			return nil, err
		}
		return append([]byte{}, buf.Bytes()...), nil
	}

	ip := layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolTCP,
		SrcIP:      srcIP,
		DstIP:      dstIP,
	}
	if err := tcp.SetNetworkLayerForChecksum(&ip); err != nil {
		return nil, err
	}
	if err := gopacket.SerializeLayers(buf, opts, &ip, &tcp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return append([]byte{}, buf.Bytes()...), nil
}

func hostPort(addr net.Addr) (net.IP, uint16) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP, uint16(tcp.Port)
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return net.IPv4(127, 0, 0, 1), 0
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1)
	}
	var port uint16
	if n, err := strconv.Atoi(portStr); err == nil {
		port = uint16(n)
	}
	return ip, port
}
