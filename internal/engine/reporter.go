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
	"sort"
	"time"

	"octoguard/internal/capture"
)

// reportTopIPs bounds the sketched top-IP list carried on a STATS line.
const reportTopIPs = 8

// topByCount returns up to k rates ordered by descending sketched count.
func topByCount(rates []IPRate, k int) []IPRate {
	if len(rates) == 0 {
		return nil
	}
	out := make([]IPRate, len(rates))
	copy(out, rates)
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// WorkerThroughput is one worker's share of the run for the comparison block.
type WorkerThroughput struct {
	Worker  int
	Packets uint64
	Bytes   uint64 // sampled-and-scaled shard bytes
}

// Comparison is the block appended to exactly one report, after the first
// detection: the headline numbers an operator compares against protocol-level
// mitigations and slower window-based detectors.
type Comparison struct {
	Detection   Detection
	NsPerPacket float64 // run wall time over packets processed
	PerWorker   []WorkerThroughput
}

// Report is the structured snapshot the statistics reporter emits every slow
// tick. Counters are cumulative; the Gbps figure covers only the elapsed
// report window and is bounded by packet arrival timestamps, not wall-clock
// ticks, so idle gaps in replayed traffic do not depress it.
type Report struct {
	Timestamp time.Time

	Snap       Snapshot
	BytesRatio float64

	// TopAttack is the attack-class heavy-hitter view from the most recent
	// detection tick, highest sketched count first.
	TopAttack []IPRate

	WindowPackets uint64
	WindowBytes   uint64
	WindowGbps    float64

	NIC capture.NICStats

	Alert Alert

	// Comparison is non-nil on exactly one report per run.
	Comparison *Comparison
}

// Report runs one slow-tick cycle: builds the snapshot report, publishes it
// to the sink, and rolls the report window.
func (d *Detector) Report(now time.Time) {
	snap := d.agg.Snapshot()

	r := Report{
		Timestamp:     now,
		Snap:          snap,
		WindowPackets: snap.TotalPackets - d.reportStart.TotalPackets,
		WindowBytes:   (snap.BytesIn - d.reportStart.BytesIn) + (snap.BytesOut - d.reportStart.BytesOut),
		Alert:         d.alert,
		TopAttack:     topByCount(d.lastAttack, reportTopIPs),
	}
	in := snap.BytesIn
	if in == 0 {
		in = 1
	}
	r.BytesRatio = float64(snap.BytesOut) / float64(in)

	// Arrival-bounded throughput: the window opens at the last arrival seen
	// by the previous report (or the first arrival ever) and closes at the
	// newest arrival. Sub-millisecond windows report zero.
	wstart := d.prevReportArrival
	if wstart == 0 {
		wstart = snap.FirstArrival
	}
	if snap.LastArrival > wstart && r.WindowPackets > 0 {
		durNs := snap.LastArrival - wstart
		if durNs >= int64(time.Millisecond) {
			r.WindowGbps = float64(r.WindowBytes) * 8 / (float64(durNs) / 1e9) / 1e9
		}
	}
	d.prevReportArrival = snap.LastArrival

	if d.opts.NIC != nil {
		r.NIC = d.opts.NIC.NICStats()
		metricNICDrops.Set(float64(r.NIC.RxDropped))
	}
	metricWindowGbps.Set(r.WindowGbps)

	if d.detectionTriggered && !d.comparisonReported {
		d.comparisonReported = true
		c := &Comparison{Detection: d.detection}
		if snap.TotalPackets > 0 {
			c.NsPerPacket = float64(now.Sub(d.startTime).Nanoseconds()) / float64(snap.TotalPackets)
		}
		for i, w := range d.workers {
			var bytes uint64
			if i < len(d.shards) {
				bytes = d.shards[i].TotalBytes()
			}
			c.PerWorker = append(c.PerWorker, WorkerThroughput{Worker: i, Packets: w.Packets(), Bytes: bytes})
		}
		r.Comparison = c
	}

	if d.opts.Sink != nil {
		d.opts.Sink.OnStats(r)
	}

	d.reportStart = snap
	d.reportStartTime = now
}
