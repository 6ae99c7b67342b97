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

// Package pcap synthesizes a well-formed packet capture of the bytes a
// pipeline.Channel exchanges, by fabricating a TCP/IP handshake, per-write
// MTU-sized segments and a teardown, plus a bounded ring buffer that keeps
// the most recent fragments for on-demand emission.
//
// Grounded on sniffer/libpcap (the teacher's own libpcap-backed capture
// pipeline, consumed here only for its file-format constants) and on
// github.com/gopacket/gopacket/layers for well-formed IPv4/IPv6/TCP
// serialization — the teacher's own packet-capture dependency, exercised
// here on the write path instead of the read path.
package pcap

import "encoding/binary"

// File header layout: 24 bytes, little-endian, DLT_NULL (BSD loopback)
// link type so each record's payload is prefixed with a 4-byte address
// family instead of an Ethernet header.
const (
	fileMagic        uint32 = 0xA1B2C3D4
	fileVersionMajor  uint16 = 2
	fileVersionMinor  uint16 = 4
	fileSnaplen      uint32 = 0xFFFFFFFF
	fileLinkTypeNull uint32 = 0 // DLT_NULL

	// Address-family values DLT_NULL prefixes each packet with: the BSD
	// AF_INET value and the NetBSD/OpenBSD AF_INET6 value (Darwin's is 30,
	// FreeBSD's 28), independent of this host's own AF_* values.
	familyIPv4 uint32 = 2
	familyIPv6 uint32 = 24

	fileHeaderLen   = 24
	recordHeaderLen = 16
	familyPrefixLen = 4
)

// FileHeader returns the 24-byte PCAP global header every emitted capture
// must begin with exactly once.
func FileHeader() []byte {
	b := make([]byte, fileHeaderLen)
	binary.LittleEndian.PutUint32(b[0:4], fileMagic)
	binary.LittleEndian.PutUint16(b[4:6], fileVersionMajor)
	binary.LittleEndian.PutUint16(b[6:8], fileVersionMinor)
	// thiszone, sigfigs: 0
	binary.LittleEndian.PutUint32(b[16:20], fileSnaplen)
	binary.LittleEndian.PutUint32(b[20:24], fileLinkTypeNull)
	return b
}

// record returns one PCAP record: a 16-byte per-record header followed by
// a 4-byte address-family prefix and the raw IP packet.
func record(tsSec, tsUsec uint32, family uint32, ipPacket []byte) []byte {
	payload := make([]byte, familyPrefixLen+len(ipPacket))
	binary.LittleEndian.PutUint32(payload[0:4], family)
	copy(payload[4:], ipPacket)

	b := make([]byte, recordHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(b[0:4], tsSec)
	binary.LittleEndian.PutUint32(b[4:8], tsUsec)
	binary.LittleEndian.PutUint32(b[8:12], uint32(len(payload)))
	binary.LittleEndian.PutUint32(b[12:16], uint32(len(payload)))
	copy(b[recordHeaderLen:], payload)
	return b
}
