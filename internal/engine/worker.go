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
	"context"
	"errors"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/m-lab/go/logx"

	"octoguard/internal/capture"
)

// logMalformed rate-limits the malformed-frame diagnostic; under a garbage
// flood the counter carries the signal, not the log.
var logMalformed = logx.NewLogEvery(nil, 60*time.Second)

// burstSize is how many descriptors a worker pulls per poll. Matches the
// burst granularity the aggregate-counter staleness bound is stated against.
const burstSize = 64

// Worker owns one receive queue and one shard. It polls the burst source,
// classifies every frame, bumps the shared aggregate counters, and — once per
// S frames — feeds the sampled, S-scaled update into its private shard.
//
// The loop never blocks and never allocates after construction. It yields the
// processor only on an empty burst so co-scheduled goroutines make progress.
type Worker struct {
	id    int
	src   capture.BurstSource
	cls   *Classifier
	agg   *Aggregates
	shard *Shard

	sampleEvery uint32
	countdown   uint32

	burst []capture.Descriptor

	// packets processed by this worker, read by the per-worker throughput
	// report. Only this worker writes it.
	packets atomic.Uint64
}

// NewWorker wires a worker to its queue, shard, and the shared tables.
// sampleEvery is the sampling factor S; 1 disables sampling.
func NewWorker(id int, src capture.BurstSource, cls *Classifier, agg *Aggregates, shard *Shard, sampleEvery uint32) *Worker {
	if sampleEvery == 0 {
		sampleEvery = 1
	}
	return &Worker{
		id:          id,
		src:         src,
		cls:         cls,
		agg:         agg,
		shard:       shard,
		sampleEvery: sampleEvery,
		countdown:   sampleEvery,
		burst:       make([]capture.Descriptor, burstSize),
	}
}

// Run polls the receive queue until the context is cancelled or the source is
// exhausted. The current burst is always drained before returning, so no
// received packet is dropped on shutdown.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := w.src.RxBurst(ctx, w.id, w.burst)
		for i := 0; i < n; i++ {
			d := &w.burst[i]
			w.Handle(d.Data, d.Nanos)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if n == 0 {
			// Zero-length burst is normal; yield instead of sleeping so the
			// poll cadence stays microsecond-scale.
			runtime.Gosched()
		}
	}
}

// Handle processes one frame. Exported so deterministic tests can drive a
// worker without a source.
func (w *Worker) Handle(data []byte, nanos int64) {
	w.packets.Add(1)
	w.agg.TotalPackets.Add(1)
	w.agg.MarkArrival(nanos)

	m := ParseFrame(data)
	if !m.OK {
		w.agg.MalformedPkt.Add(1)
		w.agg.OtherPackets.Add(1)
		w.agg.OtherProto.Add(1)
		logMalformed.Printf("worker %d: unparseable frame, %d bytes", w.id, len(data))
		return
	}

	class := w.cls.Classify(m.SrcIP)
	switch class {
	case ClassBaseline:
		w.agg.BaselinePackets.Add(1)
	case ClassAttack:
		w.agg.AttackPackets.Add(1)
		if w.agg.FirstAttack() == 0 {
			w.agg.MarkFirstAttack(nanos)
		}
	default:
		w.agg.OtherPackets.Add(1)
	}

	switch {
	case m.FamMask&(1<<FamilyUDP) != 0:
		w.agg.UDPPackets.Add(1)
	case m.FamMask&(1<<FamilyICMP) != 0:
		w.agg.ICMPPackets.Add(1)
	case m.Proto == tcpProto:
		w.agg.TCPPackets.Add(1)
	default:
		w.agg.OtherProto.Add(1)
	}
	if m.SYN {
		w.agg.SYNPackets.Add(1)
	}
	if m.ACK {
		w.agg.ACKPackets.Add(1)
	}
	if m.HTTP {
		w.agg.HTTPPackets.Add(1)
	}
	if w.cls.IsServerPort(m.DstPort) {
		w.agg.BytesIn.Add(uint64(m.Length))
	} else {
		w.agg.BytesOut.Add(uint64(m.Length))
	}

	// Sampling: every S-th frame updates the sketch with increment S, which
	// keeps the estimator unbiased while cutting sketch work by S×. Skipped
	// frames still updated every aggregate above.
	w.countdown--
	if w.countdown != 0 {
		return
	}
	w.countdown = w.sampleEvery
	if class >= sketchedClasses {
		return
	}
	s := w.sampleEvery
	w.shard.UpdateIP(class, m.FamMask, m.SrcIP, s)
	w.shard.AddBytes(class, uint64(m.Length)*uint64(s))
}

// Packets returns the number of frames this worker has processed.
func (w *Worker) Packets() uint64 { return w.packets.Load() }
