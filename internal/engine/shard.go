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
	"container/heap"
	"sync/atomic"

	"octoguard"
)

// Class is the traffic class a source address maps to by CIDR membership.
type Class uint8

const (
	ClassBaseline Class = iota
	ClassAttack
	ClassOther

	// sketchedClasses counts the classes that carry sketches. Other-class
	// traffic is counted in aggregates only.
	sketchedClasses = 2
)

// String returns the class name used in log lines.
func (c Class) String() string {
	switch c {
	case ClassBaseline:
		return "baseline"
	case ClassAttack:
		return "attack"
	default:
		return "other"
	}
}

// Family selects which per-protocol sketch an update lands in. FamilyAll is
// always updated; the protocol-specific family is updated alongside it so the
// rules can estimate per-IP per-protocol rates from the same shard.
type Family uint8

const (
	FamilyAll Family = iota
	FamilyUDP
	FamilySYN
	FamilyICMP
	FamilyHTTP

	familyCount
)

// familyLabels name the sketches for reports.
var familyLabels = [familyCount]string{"all", "udp", "syn", "icmp", "http"}

// ipSlots is the size of the fixed per-class heavy-hitter candidate array.
const ipSlots = 1 << 16

// fold16 collapses a 32-bit source address into a candidate-array index.
// Collisions are tolerated: candidates are re-estimated against the sketch,
// which exposes the conservative minimum-row count.
func fold16(ip uint32) uint16 { return uint16(ip ^ ip>>16) }

// shardBuf is one buffer of a double-buffered shard: the per-class, per-family
// sketches plus the candidate arrays. Exactly one goroutine writes a buffer at
// any time — the owning worker while it is active, the coordinator after the
// swap.
type shardBuf struct {
	sketches [sketchedClasses][familyCount]*octoguard.Sketch

	// ipCounts enumerates heavy-hitter candidates per class; ipLast remembers
	// the last full address folded into each slot so candidates can be
	// reconstructed without per-flow state.
	ipCounts [sketchedClasses][]uint32
	ipLast   [sketchedClasses][]uint32
}

func newShardBuf(depth, width int, label string) *shardBuf {
	b := &shardBuf{}
	for c := 0; c < sketchedClasses; c++ {
		cls := Class(c)
		for f := Family(0); f < familyCount; f++ {
			b.sketches[c][f] = octoguard.MustSketch(depth, width, label+"/"+cls.String()+"/"+familyLabels[f])
		}
		b.ipCounts[c] = make([]uint32, ipSlots)
		b.ipLast[c] = make([]uint32, ipSlots)
	}
	return b
}

func (b *shardBuf) reset() {
	for c := 0; c < sketchedClasses; c++ {
		for f := Family(0); f < familyCount; f++ {
			b.sketches[c][f].Reset()
		}
		clear(b.ipCounts[c])
		clear(b.ipLast[c])
	}
}

// updateIP records a sampled packet: the FamilyAll sketch, every protocol
// family set in famMask, and the candidate array (FamilyAll only — protocol
// families are estimate refiners, not candidate sources).
func (b *shardBuf) updateIP(class Class, famMask uint8, ip uint32, inc uint32) {
	b.sketches[class][FamilyAll].Update(ip, inc)
	for f := FamilyUDP; f < familyCount; f++ {
		if famMask&(1<<f) != 0 {
			b.sketches[class][f].Update(ip, inc)
		}
	}
	slot := fold16(ip)
	b.ipCounts[class][slot] += inc
	b.ipLast[class][slot] = ip
}

func (b *shardBuf) addBytes(class Class, n uint64) {
	b.sketches[class][FamilyAll].AddBytes(n)
}

// mergeFrom overwrites b with the element-wise sum of the given buffers.
// ipLast keeps the most recent non-zero writer per slot.
func (b *shardBuf) mergeFrom(others []*shardBuf) {
	for c := 0; c < sketchedClasses; c++ {
		for f := Family(0); f < familyCount; f++ {
			srcs := make([]*octoguard.Sketch, 0, len(others))
			for _, o := range others {
				srcs = append(srcs, o.sketches[c][f])
			}
			b.sketches[c][f].MergeFrom(srcs...)
		}
		counts := b.ipCounts[c]
		last := b.ipLast[c]
		clear(counts)
		clear(last)
		for _, o := range others {
			oc := o.ipCounts[c]
			ol := o.ipLast[c]
			for i := range counts {
				counts[i] += oc[i]
				if ol[i] != 0 {
					last[i] = ol[i]
				}
			}
		}
	}
}

// Shard is the per-worker bundle of sketches and candidate counters.
//
// It is double-buffered: the worker loads the active buffer pointer once per
// packet and writes it without synchronization. At merge time the coordinator
// swaps in the spare (zeroed) buffer and merges the retired one. A write that
// lands in the retired buffer during the swap is lost from exactly one window
// — a bounded under-count inside the conservative-update tolerance.
type Shard struct {
	active atomic.Pointer[shardBuf]
	spare  *shardBuf // coordinator-owned between swaps

	// totalUpdates and totalBytes are lifetime scalars for the per-worker
	// throughput report; sampled-and-scaled like the sketch contents.
	totalUpdates atomic.Uint64
	totalBytes   atomic.Uint64

	// pad keeps neighboring shards out of each other's cache lines when
	// allocated as a slice.
	_ [128 - 8*4]byte
}

// NewShard builds a double-buffered shard with the given sketch shape.
func NewShard(depth, width int, label string) *Shard {
	s := &Shard{}
	s.active.Store(newShardBuf(depth, width, label))
	s.spare = newShardBuf(depth, width, label)
	return s
}

// UpdateIP applies one sampled, scaled increment on the worker hot path.
func (s *Shard) UpdateIP(class Class, famMask uint8, ip uint32, inc uint32) {
	if class >= sketchedClasses {
		return
	}
	s.active.Load().updateIP(class, famMask, ip, inc)
	s.totalUpdates.Add(uint64(inc))
}

// AddBytes accumulates scaled byte counts for the worker's class sketch.
func (s *Shard) AddBytes(class Class, n uint64) {
	if class >= sketchedClasses {
		return
	}
	s.active.Load().addBytes(class, n)
	s.totalBytes.Add(n)
}

// swap retires the active buffer and publishes the zeroed spare. Coordinator
// only. The caller must hand the returned buffer back via release once merged.
func (s *Shard) swap() *shardBuf {
	return s.active.Swap(s.spare)
}

// release zeroes a retired buffer and stores it as the next spare.
func (s *Shard) release(b *shardBuf) {
	b.reset()
	s.spare = b
}

// TotalUpdates returns the lifetime scaled update count for this shard.
func (s *Shard) TotalUpdates() uint64 { return s.totalUpdates.Load() }

// TotalBytes returns the lifetime scaled byte count for this shard.
func (s *Shard) TotalBytes() uint64 { return s.totalBytes.Load() }

// Candidate is one heavy-hitter candidate: a source address and its
// conservative sketched count for the current window.
type Candidate struct {
	IP    uint32
	Count uint32
}

// candidateHeap is a K-element min-heap keyed by count.
type candidateHeap []Candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].Count < h[j].Count }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// heavyHitters scans the candidate array once, keeping the top-K by
// approximate count, then refines each survivor with a sketch query so the
// returned counts are conservative estimates. Results are unordered.
func (b *shardBuf) heavyHitters(class Class, k int) []Candidate {
	if int(class) >= sketchedClasses || k <= 0 {
		return nil
	}
	counts := b.ipCounts[class]
	last := b.ipLast[class]
	h := make(candidateHeap, 0, k)
	for i, c := range counts {
		if c == 0 {
			continue
		}
		if len(h) < k {
			heap.Push(&h, Candidate{IP: last[i], Count: c})
			continue
		}
		if c > h[0].Count {
			h[0] = Candidate{IP: last[i], Count: c}
			heap.Fix(&h, 0)
		}
	}
	sk := b.sketches[class][FamilyAll]
	out := make([]Candidate, len(h))
	for i := range h {
		out[i] = Candidate{IP: h[i].IP, Count: sk.Query(h[i].IP)}
	}
	return out
}

// query exposes a per-family sketch estimate for a candidate address.
func (b *shardBuf) query(class Class, fam Family, ip uint32) uint32 {
	if int(class) >= sketchedClasses {
		return 0
	}
	return b.sketches[class][fam].Query(ip)
}
