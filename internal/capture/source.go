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

// Package capture provides the traffic sources the engine polls: a PCAP file
// replayer, a live AF_PACKET handle on Linux, and a scripted synthetic source
// for tests. All sources present the same burst-receive
// surface and emulate NIC receive-side hashing by steering each source
// address deterministically to one queue.
package capture

import (
	"context"
	"encoding/binary"
	"hash/maphash"
)

// Descriptor is one received frame: the raw bytes and the capture timestamp.
// Buffers handed out by RxBurst are owned by the worker until the next call
// for the same queue.
type Descriptor struct {
	Data  []byte
	Nanos int64
}

// BurstSource is the burst-receive contract the workers poll. RxBurst fills
// out with up to len(out) descriptors for the given queue and returns the
// count; zero means no traffic is pending, which is normal. A source returns
// a nil error until it is exhausted or closed, then io.EOF.
type BurstSource interface {
	RxBurst(ctx context.Context, queue int, out []Descriptor) (int, error)
	Queues() int
	Close() error
}

// NICStats mirrors the receive counters a NIC (or its software stand-in)
// reports. Drops never make a run fail; they surface in the statistics log.
type NICStats struct {
	RxPackets uint64
	RxDropped uint64
	RxErrors  uint64
	NoBuffer  uint64
}

// NICStatser is implemented by sources that can report receive counters.
type NICStatser interface {
	NICStats() NICStats
}

// rssSeed fixes the queue-steering hash across sources so replay and synth
// traffic land on the same queues for the same addresses.
var rssSeed = maphash.MakeSeed()

// QueueFor steers a source address to a queue. It stands in for NIC
// receive-side hashing: each flow's updates converge on exactly one worker
// shard, which is the correctness precondition for lock-free shard writes.
func QueueFor(srcIP uint32, queues int) int {
	if queues <= 1 {
		return 0
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], srcIP)
	return int(maphash.Bytes(rssSeed, b[:]) % uint64(queues))
}

// srcIPOf extracts the IPv4 source address from an Ethernet frame for queue
// steering. Frames that do not parse go to queue 0.
func srcIPOf(frame []byte) (uint32, bool) {
	if len(frame) < 14+20 {
		return 0, false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != 0x0800 {
		return 0, false
	}
	return binary.BigEndian.Uint32(frame[14+12 : 14+16]), true
}
