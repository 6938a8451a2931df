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

// Package engine implements the detection core: per-worker shards, the packet
// classifier, the coordinator-side detector with its rule set, and the
// statistics reporter. This file holds the process-wide aggregate counters
// shared by all workers.
package engine

import (
	"sync/atomic"
)

// Aggregates is the set of 64-bit counters every worker increments on every
// packet, regardless of sampling. Increments use relaxed-equivalent atomic
// adds; the coordinator reads them tick-by-tick into a Snapshot. All counters
// are monotonically non-decreasing for the lifetime of the process, except
// the arrival timestamps which only move forward in practice because packet
// timestamps do.
//
// Initialized once at startup, never torn down. Do not put a mutex here: the
// adds are the per-packet hot path.
type Aggregates struct {
	TotalPackets atomic.Uint64

	BaselinePackets atomic.Uint64
	AttackPackets   atomic.Uint64
	OtherPackets    atomic.Uint64

	UDPPackets   atomic.Uint64
	TCPPackets   atomic.Uint64
	ICMPPackets  atomic.Uint64
	OtherProto   atomic.Uint64
	SYNPackets   atomic.Uint64
	ACKPackets   atomic.Uint64
	HTTPPackets  atomic.Uint64
	MalformedPkt atomic.Uint64

	BytesIn  atomic.Uint64
	BytesOut atomic.Uint64

	// firstAttackNanos anchors the detection-latency clock to the first packet
	// classified as attack. Set exactly once per run via compare-and-swap;
	// window resets do not touch it.
	firstAttackNanos atomic.Int64

	// lastArrivalNanos is the capture timestamp of the most recent packet.
	// The reporter uses packet-arrival bounds, not wall clock, to compute
	// throughput so that idle gaps in replayed traffic do not depress Gbps.
	lastArrivalNanos  atomic.Int64
	firstArrivalNanos atomic.Int64
}

// Snapshot is a coordinator-local copy of the aggregate counters, taken at
// the top of every fast tick. The copy is not a consistent cut across
// counters; staleness is bounded by one in-flight burst, which the
// conservative detection rules tolerate.
type Snapshot struct {
	TotalPackets uint64

	BaselinePackets uint64
	AttackPackets   uint64
	OtherPackets    uint64

	UDPPackets  uint64
	TCPPackets  uint64
	ICMPPackets uint64
	OtherProto  uint64
	SYNPackets  uint64
	ACKPackets  uint64
	HTTPPackets uint64
	Malformed   uint64

	BytesIn  uint64
	BytesOut uint64

	FirstAttackNanos int64
	FirstArrival     int64
	LastArrival      int64
}

// Snapshot loads every counter once. Called on the coordinator only.
func (a *Aggregates) Snapshot() Snapshot {
	return Snapshot{
		TotalPackets:     a.TotalPackets.Load(),
		BaselinePackets:  a.BaselinePackets.Load(),
		AttackPackets:    a.AttackPackets.Load(),
		OtherPackets:     a.OtherPackets.Load(),
		UDPPackets:       a.UDPPackets.Load(),
		TCPPackets:       a.TCPPackets.Load(),
		ICMPPackets:      a.ICMPPackets.Load(),
		OtherProto:       a.OtherProto.Load(),
		SYNPackets:       a.SYNPackets.Load(),
		ACKPackets:       a.ACKPackets.Load(),
		HTTPPackets:      a.HTTPPackets.Load(),
		Malformed:        a.MalformedPkt.Load(),
		BytesIn:          a.BytesIn.Load(),
		BytesOut:         a.BytesOut.Load(),
		FirstAttackNanos: a.firstAttackNanos.Load(),
		FirstArrival:     a.firstArrivalNanos.Load(),
		LastArrival:      a.lastArrivalNanos.Load(),
	}
}

// MarkFirstAttack records the arrival timestamp of the first attack-class
// packet. Only the first call per run wins.
func (a *Aggregates) MarkFirstAttack(ns int64) {
	a.firstAttackNanos.CompareAndSwap(0, ns)
}

// FirstAttack returns the anchor timestamp, or zero if no attack-class packet
// has been seen.
func (a *Aggregates) FirstAttack() int64 { return a.firstAttackNanos.Load() }

// MarkArrival records a packet capture timestamp. The last-arrival store may
// race between workers; any of the racing values is a valid window bound.
func (a *Aggregates) MarkArrival(ns int64) {
	a.firstArrivalNanos.CompareAndSwap(0, ns)
	a.lastArrivalNanos.Store(ns)
}
