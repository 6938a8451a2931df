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

// Package main is floodgen, the capture-file generator used to exercise the
// detection engine. It writes a PCAP containing a baseline phase (mixed
// benign traffic from the baseline network) optionally followed by an attack
// phase (amplification, UDP, SYN, ICMP, or HTTP flood from the attack
// network). Replay the result through octoguard with -pcap.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"net/netip"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/m-lab/go/rtx"

	"octoguard/internal/capture"
)

var (
	outPath      = flag.String("out", "flood.pcap", "Output capture file")
	baselineCIDR = flag.String("baseline_cidr", "10.0.0.0/16", "Baseline (benign) source network")
	attackCIDR   = flag.String("attack_cidr", "172.16.0.0/16", "Attack source network")
	victimIP     = flag.String("victim", "192.168.1.10", "Destination address for all traffic")
	baselineSecs = flag.Float64("baseline_secs", 2.0, "Baseline phase duration (seconds of capture time)")
	baselinePPS  = flag.Int("baseline_pps", 50000, "Baseline packet rate")
	attackType   = flag.String("attack", "amplification", "Attack phase: none, amplification, udp, syn, icmp, http")
	attackSecs   = flag.Float64("attack_secs", 1.0, "Attack phase duration (seconds of capture time)")
	attackPPS    = flag.Int("attack_pps", 200000, "Attack packet rate")
	attackIPs    = flag.Int("attack_ips", 1, "Number of distinct attack source addresses")
	seed         = flag.Int64("seed", 1, "PRNG seed, for reproducible captures")
)

// addrAt picks the n-th host inside a prefix, wrapping within the host bits.
func addrAt(p netip.Prefix, n uint32) uint32 {
	a := p.Addr().As4()
	base := binary.BigEndian.Uint32(a[:])
	hostBits := 32 - p.Bits()
	if hostBits <= 0 {
		return base
	}
	span := uint32(1)<<hostBits - 2 // skip network and broadcast
	if span == 0 {
		span = 1
	}
	return base + 1 + n%span
}

func main() {
	flag.Parse()

	basePfx, err := netip.ParsePrefix(*baselineCIDR)
	rtx.Must(err, "Invalid baseline CIDR %q", *baselineCIDR)
	atkPfx, err := netip.ParsePrefix(*attackCIDR)
	rtx.Must(err, "Invalid attack CIDR %q", *attackCIDR)
	victim, err := netip.ParseAddr(*victimIP)
	rtx.Must(err, "Invalid victim address %q", *victimIP)
	v4 := victim.As4()
	dst := binary.BigEndian.Uint32(v4[:])

	f, err := os.Create(*outPath)
	rtx.Must(err, "Failed to create %q", *outPath)
	defer f.Close()
	w := pcapgo.NewWriter(f)
	rtx.Must(w.WriteFileHeader(65536, layers.LinkTypeEthernet), "Failed to write capture header")

	rng := rand.New(rand.NewSource(*seed))
	ts := time.Unix(0, 0)
	written := 0
	emit := func(frame []byte, at time.Time) {
		ci := gopacket.CaptureInfo{Timestamp: at, CaptureLength: len(frame), Length: len(frame)}
		rtx.Must(w.WritePacket(ci, frame), "Failed to write packet %d", written)
		written++
	}

	// Baseline: a benign mix — mostly TCP to server ports with ACKs both
	// ways, a little DNS-ish UDP, a trickle of ICMP.
	ts = writeBaseline(emit, rng, basePfx, dst, ts)

	switch *attackType {
	case "none":
	case "amplification", "udp", "syn", "icmp", "http":
		writeAttack(emit, rng, atkPfx, dst, ts)
	default:
		fmt.Fprintf(os.Stderr, "unknown attack type %q\n", *attackType)
		os.Exit(1)
	}

	fmt.Printf("wrote %d packets to %s\n", written, *outPath)
}

func writeBaseline(emit func([]byte, time.Time), rng *rand.Rand, pfx netip.Prefix, dst uint32, ts time.Time) time.Time {
	n := int(*baselineSecs * float64(*baselinePPS))
	gap := time.Duration(float64(time.Second) / float64(*baselinePPS))
	for i := 0; i < n; i++ {
		src := addrAt(pfx, uint32(rng.Intn(2000)))
		var frame []byte
		switch r := rng.Intn(100); {
		case r < 5:
			frame = capture.BuildUDP(src, dst, uint16(20000+rng.Intn(20000)), 53, 64)
		case r < 10:
			frame = capture.BuildICMP(src, dst, 56)
		default:
			// Established-flow segments toward a server port, with matching
			// response-direction traffic so bytes in and out stay near parity.
			if rng.Intn(2) == 0 {
				frame = capture.BuildTCP(src, dst, uint16(30000+rng.Intn(20000)), 443, false, true, 512)
			} else {
				frame = capture.BuildTCP(dst, src, 443, uint16(30000+rng.Intn(20000)), false, true, 512)
			}
		}
		emit(frame, ts)
		ts = ts.Add(gap)
	}
	return ts
}

func writeAttack(emit func([]byte, time.Time), rng *rand.Rand, pfx netip.Prefix, dst uint32, ts time.Time) {
	n := int(*attackSecs * float64(*attackPPS))
	gap := time.Duration(float64(time.Second) / float64(*attackPPS))
	for i := 0; i < n; i++ {
		src := addrAt(pfx, uint32(rng.Intn(*attackIPs)))
		var frame []byte
		switch *attackType {
		case "amplification":
			// Large responses leaving the mirror toward non-server ports:
			// the bytes-out side of an amplification event.
			frame = capture.BuildUDP(src, dst, 123, uint16(40000+rng.Intn(20000)), 1200)
		case "udp":
			frame = capture.BuildUDP(src, dst, uint16(50000+rng.Intn(10000)), uint16(1024+rng.Intn(60000)), 128)
		case "syn":
			frame = capture.BuildTCP(src, dst, uint16(rng.Intn(65535)), 443, true, false, 0)
		case "icmp":
			frame = capture.BuildICMP(src, dst, 56)
		case "http":
			frame = capture.BuildTCP(src, dst, uint16(40000+rng.Intn(20000)), 80, false, true, 256)
		}
		emit(frame, ts)
		ts = ts.Add(gap)
	}
}
