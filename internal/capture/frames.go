// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package capture

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame builders shared by the synthetic source, the load generator, and the
// tests. They serialize full Ethernet/IPv4 frames through gopacket so the
// engine's hand-rolled parser is always exercised against real header layouts.

// FrameSpec describes one frame to build.
type FrameSpec struct {
	SrcIP   uint32
	DstIP   uint32
	Proto   layers.IPProtocol
	SrcPort uint16
	DstPort uint16
	SYN     bool
	ACK     bool
	Payload int // payload bytes (zero-filled)
}

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

func ipBytes(ip uint32) net.IP {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ip)
	return net.IP(b[:])
}

// BuildFrame serializes the spec into an Ethernet II frame.
func BuildFrame(spec FrameSpec) []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: spec.Proto,
		SrcIP:    ipBytes(spec.SrcIP),
		DstIP:    ipBytes(spec.DstIP),
	}
	payload := gopacket.Payload(make([]byte, spec.Payload))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var err error
	switch spec.Proto {
	case layers.IPProtocolUDP:
		udp := &layers.UDP{SrcPort: layers.UDPPort(spec.SrcPort), DstPort: layers.UDPPort(spec.DstPort)}
		_ = udp.SetNetworkLayerForChecksum(ip)
		err = gopacket.SerializeLayers(buf, opts, eth, ip, udp, payload)
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(spec.SrcPort),
			DstPort: layers.TCPPort(spec.DstPort),
			SYN:     spec.SYN,
			ACK:     spec.ACK,
			Window:  65535,
		}
		_ = tcp.SetNetworkLayerForChecksum(ip)
		err = gopacket.SerializeLayers(buf, opts, eth, ip, tcp, payload)
	case layers.IPProtocolICMPv4:
		icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
		err = gopacket.SerializeLayers(buf, opts, eth, ip, icmp, payload)
	default:
		err = gopacket.SerializeLayers(buf, opts, eth, ip, payload)
	}
	if err != nil {
		// Builders are only fed static specs; a serialization failure is a
		// programming error.
		panic(err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

// BuildUDP is shorthand for a UDP frame.
func BuildUDP(src, dst uint32, srcPort, dstPort uint16, payload int) []byte {
	return BuildFrame(FrameSpec{SrcIP: src, DstIP: dst, Proto: layers.IPProtocolUDP, SrcPort: srcPort, DstPort: dstPort, Payload: payload})
}

// BuildTCP is shorthand for a TCP frame with explicit flags.
func BuildTCP(src, dst uint32, srcPort, dstPort uint16, syn, ack bool, payload int) []byte {
	return BuildFrame(FrameSpec{SrcIP: src, DstIP: dst, Proto: layers.IPProtocolTCP, SrcPort: srcPort, DstPort: dstPort, SYN: syn, ACK: ack, Payload: payload})
}

// BuildICMP is shorthand for an ICMP echo request.
func BuildICMP(src, dst uint32, payload int) []byte {
	return BuildFrame(FrameSpec{SrcIP: src, DstIP: dst, Proto: layers.IPProtocolICMPv4, Payload: payload})
}
