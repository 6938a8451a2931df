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

// Package octoguard provides the probabilistic counting primitive underneath
// the detection engine: a Count-Min Sketch with Conservative-Update reads.
// The sketch tracks per-source-IP frequencies in constant memory, so the hot
// path never allocates and never touches a per-flow hash table.
//
// A Sketch is exclusively owned by a single writer (a receive worker or the
// coordinator's merged view). Update and Query contain no atomics, locks, or
// fences; cross-goroutine coherence is the owner's problem, handled one level
// up by buffer swapping at merge time.
package octoguard

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// Sketch shape limits. Depth is the number of independent hash rows; more
// rows tighten the error probability, fewer rows cost fewer cache lines per
// update. The ranges mirror what the detection rules were tuned against.
const (
	MinDepth = 4
	MaxDepth = 8
	MinWidth = 1 << 8
	MaxWidth = 1 << 22
)

// seedBase is the fixed origin for per-row seed derivation. Runs are
// reproducible: the same key stream always lands in the same buckets.
const seedBase uint64 = 0x6f63746f67756172 // "octoguar"

// Sketch is a D×W array of 32-bit counters with one seeded hash per row.
//
// The estimate returned by Query is the minimum across rows (Conservative
// Update). Collisions only add to buckets, so query(k) is never below
// true_count(k); it exceeds it when every row's bucket for k is shared.
// Counters are laid out as a single flat slice, row-major, so an update
// touches exactly D cache lines and the merge loop is a straight sum.
type Sketch struct {
	counters []uint32 // len = depth*width, row-major
	seeds    []uint64 // len = depth
	depth    int
	width    int
	mask     uint64 // width-1; width is a power of two

	totalUpdates uint64
	totalBytes   uint64
	label        string
}

// NewSketch creates a zeroed sketch of the given shape. Width must be a power
// of two within [MinWidth, MaxWidth]; depth must lie in [MinDepth, MaxDepth].
// The label is carried through merges and reports for identification only.
func NewSketch(depth, width int, label string) (*Sketch, error) {
	if depth < MinDepth || depth > MaxDepth {
		return nil, fmt.Errorf("sketch depth %d outside [%d,%d]", depth, MinDepth, MaxDepth)
	}
	if width < MinWidth || width > MaxWidth || bits.OnesCount(uint(width)) != 1 {
		return nil, fmt.Errorf("sketch width %d must be a power of two in [%d,%d]", width, MinWidth, MaxWidth)
	}
	s := &Sketch{
		counters: make([]uint32, depth*width),
		seeds:    make([]uint64, depth),
		depth:    depth,
		width:    width,
		mask:     uint64(width - 1),
		label:    label,
	}
	seed := seedBase
	for i := range s.seeds {
		seed = splitmix64(seed)
		s.seeds[i] = seed
	}
	return s, nil
}

// MustSketch is NewSketch that panics on a bad shape. Shapes come from
// validated configuration, so this is a startup-only concern.
func MustSketch(depth, width int, label string) *Sketch {
	s, err := NewSketch(depth, width, label)
	if err != nil {
		panic(err)
	}
	return s
}

// Update adds inc to one bucket per row for the given key.
// No atomics: the sketch is single-writer by contract.
func (s *Sketch) Update(key uint32, inc uint32) {
	h := hashKey(key)
	base := 0
	for i := 0; i < s.depth; i++ {
		col := splitmix64(h^s.seeds[i]) & s.mask
		s.counters[base+int(col)] += inc
		base += s.width
	}
	s.totalUpdates += uint64(inc)
}

// Query returns the Conservative-Update estimate for key: the minimum bucket
// value across rows. The result is never below the true count fed to Update;
// collisions can make it larger.
func (s *Sketch) Query(key uint32) uint32 {
	h := hashKey(key)
	min := uint32(1<<32 - 1)
	base := 0
	for i := 0; i < s.depth; i++ {
		col := splitmix64(h^s.seeds[i]) & s.mask
		if c := s.counters[base+int(col)]; c < min {
			min = c
		}
		base += s.width
	}
	return min
}

// AddBytes accumulates the byte scalar carried alongside the counters.
func (s *Sketch) AddBytes(n uint64) { s.totalBytes += n }

// Reset zeroes every counter and both scalars. Seeds and label survive, so a
// reset sketch observes the same bucket mapping as before.
func (s *Sketch) Reset() {
	clear(s.counters)
	s.totalUpdates = 0
	s.totalBytes = 0
}

// MergeFrom overwrites the receiver with the bucket-wise sum of the given
// sketches. Counter addition is commutative and associative, so the merged
// view is independent of worker ordering. All inputs must share the
// receiver's shape; the constructor enforces that per deployment, so a
// mismatch here is a programming error and panics via bounds checking.
func (s *Sketch) MergeFrom(others ...*Sketch) {
	clear(s.counters)
	s.totalUpdates = 0
	s.totalBytes = 0
	for _, o := range others {
		if o == nil {
			continue
		}
		dst := s.counters
		src := o.counters[:len(dst)]
		for i := range dst {
			dst[i] += src[i]
		}
		s.totalUpdates += o.totalUpdates
		s.totalBytes += o.totalBytes
	}
}

// TotalUpdates returns the sum of all increments since the last Reset.
func (s *Sketch) TotalUpdates() uint64 { return s.totalUpdates }

// TotalBytes returns the byte scalar accumulated via AddBytes.
func (s *Sketch) TotalBytes() uint64 { return s.totalBytes }

// Label returns the identification string given at construction.
func (s *Sketch) Label() string { return s.label }

// Depth returns the number of hash rows.
func (s *Sketch) Depth() int { return s.depth }

// Width returns the number of buckets per row.
func (s *Sketch) Width() int { return s.width }

// hashKey computes the base hash for a 4-byte key. Per-row independence comes
// from mixing the base hash with a distinct seed per row, not from hashing
// the key D times.
func hashKey(key uint32) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], key)
	return xxhash.Sum64(b[:])
}

// splitmix64 is the finalizer used both for seed derivation and per-row
// column selection. One multiply-shift round is enough to decorrelate rows.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
