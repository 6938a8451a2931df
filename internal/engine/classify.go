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

package engine

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/google/gopacket/layers"
)

// httpPorts are the TCP destination ports counted as HTTP indicators.
var httpPorts = [...]uint16{80, 443, 8080}

// tcpProto aliases the gopacket constant the worker switches on.
const tcpProto = layers.IPProtocolTCP

// PacketMeta is the parse result for one frame. Fields are only meaningful
// when OK is true; a false OK means the frame was malformed or not IPv4 and
// belongs in the other/malformed counters.
type PacketMeta struct {
	OK      bool
	SrcIP   uint32 // big-endian address as a native integer
	DstPort uint16
	// FamMask has one bit per protocol Family (1<<FamilyUDP etc.); a SYN to
	// port 80 sets both the SYN and HTTP bits.
	FamMask uint8
	Proto   layers.IPProtocol
	SYN     bool
	ACK     bool
	HTTP    bool
	Length  int
}

// ethernet/IPv4 fixed offsets. The parser reads headers in place instead of
// going through gopacket's decoder: the hot path must not allocate, and these
// offsets are stable for untagged Ethernet II frames.
const (
	ethHeaderLen  = 14
	ethTypeOffset = 12
	ipv4MinHeader = 20
)

// ParseFrame decodes Ethernet → IPv4 → {UDP,TCP,ICMP} headers from a raw
// frame. Anything it cannot parse comes back with OK=false.
func ParseFrame(data []byte) PacketMeta {
	m := PacketMeta{Length: len(data)}
	if len(data) < ethHeaderLen+ipv4MinHeader {
		return m
	}
	if layers.EthernetType(binary.BigEndian.Uint16(data[ethTypeOffset:])) != layers.EthernetTypeIPv4 {
		return m
	}
	ip := data[ethHeaderLen:]
	if ip[0]>>4 != 4 {
		return m
	}
	ihl := int(ip[0]&0x0f) * 4
	if ihl < ipv4MinHeader || len(ip) < ihl {
		return m
	}
	m.SrcIP = binary.BigEndian.Uint32(ip[12:16])
	m.Proto = layers.IPProtocol(ip[9])
	l4 := ip[ihl:]

	switch m.Proto {
	case layers.IPProtocolUDP:
		if len(l4) < 8 {
			return m
		}
		m.FamMask = 1 << FamilyUDP
		m.DstPort = binary.BigEndian.Uint16(l4[2:4])
	case layers.IPProtocolTCP:
		if len(l4) < 20 {
			return m
		}
		m.DstPort = binary.BigEndian.Uint16(l4[2:4])
		flags := l4[13]
		m.SYN = flags&0x02 != 0
		m.ACK = flags&0x10 != 0
		if m.SYN {
			m.FamMask |= 1 << FamilySYN
		}
		for _, p := range httpPorts {
			if m.DstPort == p {
				m.HTTP = true
				m.FamMask |= 1 << FamilyHTTP
				break
			}
		}
	case layers.IPProtocolICMPv4:
		m.FamMask = 1 << FamilyICMP
	}
	m.OK = true
	return m
}

// Classifier holds the immutable classification tables: CIDR membership for
// the baseline and attack networks and the server-port set that defines the
// bytes-in/bytes-out direction split.
type Classifier struct {
	baseline []netip.Prefix
	attack   []netip.Prefix

	// serverPorts is a dense lookup so direction attribution is one load.
	serverPorts [1 << 16]bool
}

// NewClassifier parses the configured CIDRs. IPv4 prefixes only for now; the
// parallel prefix slices admit an IPv6 pair without restructuring.
func NewClassifier(baselineCIDRs, attackCIDRs []string, serverPorts []uint16) (*Classifier, error) {
	c := &Classifier{}
	var err error
	if c.baseline, err = parsePrefixes(baselineCIDRs); err != nil {
		return nil, fmt.Errorf("baseline networks: %w", err)
	}
	if c.attack, err = parsePrefixes(attackCIDRs); err != nil {
		return nil, fmt.Errorf("attack networks: %w", err)
	}
	for _, p := range serverPorts {
		c.serverPorts[p] = true
	}
	return c, nil
}

func parsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, s := range cidrs {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, err
		}
		if !p.Addr().Is4() {
			return nil, fmt.Errorf("prefix %s is not IPv4", s)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// Classify maps a source address to its traffic class by prefix membership.
func (c *Classifier) Classify(srcIP uint32) Class {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], srcIP)
	addr := netip.AddrFrom4(b)
	for _, p := range c.baseline {
		if p.Contains(addr) {
			return ClassBaseline
		}
	}
	for _, p := range c.attack {
		if p.Contains(addr) {
			return ClassAttack
		}
	}
	return ClassOther
}

// IsServerPort reports whether traffic to the port counts as bytes-in.
func (c *Classifier) IsServerPort(port uint16) bool { return c.serverPorts[port] }
