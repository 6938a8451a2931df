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
	"time"

	"octoguard/internal/capture"
	"octoguard/internal/predict"
)

// Detection is the one-shot record published when the alert level first
// reaches High. It freezes the latency measurement against the first
// attack-class packet and the amplification factor at that moment.
type Detection struct {
	LatencyMS     float64
	Amplification float64
	TotalBytes    uint64
	TotalPackets  uint64
}

// EventSink consumes the detector's output stream. Implementations must be
// bounded in latency; they run on the coordinator between ticks.
type EventSink interface {
	OnStats(Report)
	OnAlert(Alert)
	OnDetect(Detection)
}

// DetectorOptions configure the coordinator loop.
type DetectorOptions struct {
	Thresholds Thresholds
	FastTick   time.Duration // detection cadence; default 50ms
	StatsTick  time.Duration // reporting cadence; default 5s

	Predictor       predict.Predictor // nil disables ML augmentation
	PredictorBudget time.Duration     // default 3ms

	Sink EventSink
	NIC  capture.NICStatser // optional; nil reports zero NIC counters
}

// Detector is the single-threaded coordinator. On every fast tick it
// snapshots the aggregates, swap-merges all worker shards into its merged
// view, recomputes window rates, evaluates the rules, and publishes the
// alert; on the slower cadence it emits a statistics report.
//
// All state below is owned by the coordinator goroutine. Tick and Report are
// exported so tests can drive the state machine deterministically; Run is the
// production loop.
type Detector struct {
	opts    DetectorOptions
	agg     *Aggregates
	shards  []*Shard
	workers []*Worker
	merged  *shardBuf

	now func() time.Time

	// fast-window state
	windowStart     Snapshot
	windowStartTime time.Time
	prevAttack      map[uint32]uint32 // previous tick's attack candidate counts, for the burst rule
	lastAttack      []IPRate          // candidates from the most recent tick
	alert           Alert

	// detection state; the triggered transition is monotonic and the latency
	// is written at most once per run.
	detectionTriggered bool
	detection          Detection

	// report-window state
	reportStart        Snapshot
	reportStartTime    time.Time
	prevReportArrival  int64
	startTime          time.Time
	comparisonReported bool
}

// NewDetector builds a coordinator over the given shards. Sketch shape is
// taken from the shards' configuration via the supplied depth and width.
func NewDetector(agg *Aggregates, shards []*Shard, workers []*Worker, depth, width int, opts DetectorOptions) *Detector {
	if opts.FastTick <= 0 {
		opts.FastTick = 50 * time.Millisecond
	}
	if opts.StatsTick <= 0 {
		opts.StatsTick = 5 * time.Second
	}
	if opts.PredictorBudget <= 0 {
		opts.PredictorBudget = 3 * time.Millisecond
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	d := &Detector{
		opts:    opts,
		agg:     agg,
		shards:  shards,
		workers: workers,
		merged:  newShardBuf(depth, width, "merged"),
		now:     time.Now,
	}
	now := d.now()
	d.windowStartTime = now
	d.reportStartTime = now
	d.startTime = now
	d.prevAttack = map[uint32]uint32{}
	return d
}

// SetClock overrides the wall clock. Tests only.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
	t := now()
	d.windowStartTime = t
	d.reportStartTime = t
	d.startTime = t
}

// Run dispatches fast and slow ticks until the context is cancelled, then
// performs one final merge and one final report so nothing observed is lost.
func (d *Detector) Run(ctx context.Context) {
	fast := time.NewTicker(d.opts.FastTick)
	defer fast.Stop()
	slow := time.NewTicker(d.opts.StatsTick)
	defer slow.Stop()
	for {
		select {
		case <-fast.C:
			d.Tick(d.now())
		case <-slow.C:
			d.Report(d.now())
		case <-ctx.Done():
			final := d.now()
			d.Tick(final)
			d.Report(final)
			return
		}
	}
}

// Alert returns the alert record published by the most recent fast tick.
func (d *Detector) Alert() Alert { return d.alert }

// Detected reports whether the one-way detection transition has happened,
// and the frozen detection record if so.
func (d *Detector) Detected() (Detection, bool) { return d.detection, d.detectionTriggered }

// LastAttackRates returns the attack-class heavy-hitter candidates from the
// most recent fast tick, with their per-protocol rate estimates.
func (d *Detector) LastAttackRates() []IPRate { return d.lastAttack }

// Tick runs one fast detection cycle at the given time.
func (d *Detector) Tick(now time.Time) {
	snap := d.agg.Snapshot()

	// Swap every worker's active buffer for its zeroed spare, merge the
	// retired buffers, then hand them back. Writes racing the swap land in a
	// retiring buffer and are dropped from exactly one window — an accepted
	// under-count inside the conservative-update tolerance.
	mergeStart := time.Now()
	retired := make([]*shardBuf, len(d.shards))
	for i, s := range d.shards {
		retired[i] = s.swap()
	}
	d.merged.mergeFrom(retired)
	for i, s := range d.shards {
		s.release(retired[i])
	}
	metricMergeSeconds.Observe(time.Since(mergeStart).Seconds())

	ws := d.windowStats(snap, now)
	attack := d.rates(ClassAttack, ws.Duration)
	baseline := d.rates(ClassBaseline, ws.Duration)

	// Burst rule context: fold in the previous tick's counts so two adjacent
	// 50 ms ticks approximate the 100 ms sub-window.
	nextPrev := make(map[uint32]uint32, len(attack))
	for i := range attack {
		attack[i].BurstCount = attack[i].Count + d.prevAttack[attack[i].IP]
		nextPrev[attack[i].IP] = attack[i].Count
	}
	d.prevAttack = nextPrev
	d.lastAttack = attack

	alert := EvaluateRules(d.opts.Thresholds, ws, attack, baseline)
	alert = d.augment(alert, ws)

	if alert.Level != d.alert.Level && d.opts.Sink != nil {
		d.opts.Sink.OnAlert(alert)
	}
	d.alert = alert
	publishTickMetrics(snap, ws, alert)

	if alert.Level >= LevelHigh && !d.detectionTriggered {
		d.detectionTriggered = true
		lat := 0.0
		if snap.FirstAttackNanos > 0 {
			lat = float64(now.UnixNano()-snap.FirstAttackNanos) / 1e6
		}
		d.detection = Detection{
			LatencyMS:     lat,
			Amplification: ws.BytesRatio,
			TotalBytes:    snap.BytesIn + snap.BytesOut,
			TotalPackets:  snap.TotalPackets,
		}
		metricDetectionLatency.Set(lat)
		if d.opts.Sink != nil {
			d.opts.Sink.OnDetect(d.detection)
		}
	}

	// Roll the window.
	d.windowStart = snap
	d.windowStartTime = now
}

// windowStats derives the per-window deltas and rates from a snapshot.
func (d *Detector) windowStats(snap Snapshot, now time.Time) WindowStats {
	dur := now.Sub(d.windowStartTime).Seconds()
	ws := WindowStats{
		Duration:        dur,
		Packets:         snap.TotalPackets - d.windowStart.TotalPackets,
		BaselinePackets: snap.BaselinePackets - d.windowStart.BaselinePackets,
		AttackPackets:   snap.AttackPackets - d.windowStart.AttackPackets,
		OtherPackets:    snap.OtherPackets - d.windowStart.OtherPackets,
		UDPPackets:      snap.UDPPackets - d.windowStart.UDPPackets,
		TCPPackets:      snap.TCPPackets - d.windowStart.TCPPackets,
		ICMPPackets:     snap.ICMPPackets - d.windowStart.ICMPPackets,
		SYNPackets:      snap.SYNPackets - d.windowStart.SYNPackets,
		HTTPPackets:     snap.HTTPPackets - d.windowStart.HTTPPackets,
		BytesIn:         snap.BytesIn - d.windowStart.BytesIn,
		BytesOut:        snap.BytesOut - d.windowStart.BytesOut,
	}
	in := ws.BytesIn
	if in == 0 {
		in = 1
	}
	ws.BytesRatio = float64(ws.BytesOut) / float64(in)
	if dur > 0 {
		ws.GlobalPPS = float64(ws.Packets) / dur
	}
	return ws
}

// rates enumerates heavy-hitter candidates for a class from the merged view
// and attaches per-protocol PPS estimates from the family sketches.
func (d *Detector) rates(class Class, durSeconds float64) []IPRate {
	cands := d.merged.heavyHitters(class, d.opts.Thresholds.TopK)
	if len(cands) == 0 {
		return nil
	}
	inv := 0.0
	if durSeconds > 0 {
		inv = 1 / durSeconds
	}
	out := make([]IPRate, 0, len(cands))
	for _, c := range cands {
		if c.Count == 0 {
			continue
		}
		out = append(out, IPRate{
			IP:      c.IP,
			Count:   c.Count,
			PPS:     float64(c.Count) * inv,
			UDPPPS:  float64(d.merged.query(class, FamilyUDP, c.IP)) * inv,
			SYNPPS:  float64(d.merged.query(class, FamilySYN, c.IP)) * inv,
			ICMPPPS: float64(d.merged.query(class, FamilyICMP, c.IP)) * inv,
			HTTPPPS: float64(d.merged.query(class, FamilyHTTP, c.IP)) * inv,
		})
	}
	return out
}

// augment applies the hybrid rule/ML matrix: both fire → Critical; rules
// only → unchanged; ML alone at high confidence → at least Medium. Predictor
// errors or budget overruns elide the augmentation for this tick and leave
// the rule-only alert standing.
func (d *Detector) augment(alert Alert, ws WindowStats) Alert {
	if d.opts.Predictor == nil {
		return alert
	}
	start := time.Now()
	pred, err := d.opts.Predictor.Predict(BuildFeatures(ws))
	if err != nil || time.Since(start) > d.opts.PredictorBudget {
		metricMLElided.Inc()
		return alert
	}
	alert.PredictedClass = pred.Class
	alert.Confidence = pred.Confidence
	alert.Probs = pred.Probs

	mlAttack := pred.Class != "" && pred.Class != "benign" && pred.Confidence >= d.opts.Thresholds.MLConfidence
	rulesFired := alert.Level >= LevelHigh
	switch {
	case rulesFired && mlAttack:
		alert.Level = LevelCritical
		alert.Reason += "; ml=" + pred.Class
	case !rulesFired && mlAttack && alert.Level < LevelMedium:
		alert.Level = LevelMedium
		if alert.Reason != "" {
			alert.Reason += "; "
		}
		alert.Reason += "anomaly ml=" + pred.Class
	}
	return alert
}
