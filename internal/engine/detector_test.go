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
	"errors"
	"sync"
	"testing"
	"time"

	"octoguard/internal/predict"
)

// recordingSink captures every published event for assertions.
type recordingSink struct {
	mu      sync.Mutex
	stats   []Report
	alerts  []Alert
	detects []Detection
}

func (r *recordingSink) OnStats(s Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, s)
}

func (r *recordingSink) OnAlert(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingSink) OnDetect(d Detection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detects = append(r.detects, d)
}

// testClock is a manually advanced wall clock.
type testClock struct{ t time.Time }

func newTestClock() *testClock { return &testClock{t: time.Unix(1000, 0)} }
func (c *testClock) Now() time.Time {
	return c.t
}
func (c *testClock) Advance(d time.Duration) time.Time {
	c.t = c.t.Add(d)
	return c.t
}

// testDetector builds a one-worker detector harness around a fake clock.
func testDetector(t *testing.T, opts DetectorOptions) (*Detector, *Worker, *recordingSink, *testClock) {
	t.Helper()
	sink := &recordingSink{}
	opts.Sink = sink
	agg := &Aggregates{}
	shard := NewShard(4, 1<<14, "w0")
	cls := testClassifier(t)
	w := NewWorker(0, nil, cls, agg, shard, 1)
	d := NewDetector(agg, []*Shard{shard}, []*Worker{w}, 4, 1<<14, opts)
	clock := newTestClock()
	d.SetClock(clock.Now)
	return d, w, sink, clock
}

func TestDetector_QuietTickPublishesNothing(t *testing.T) {
	d, _, sink, clock := testDetector(t, DetectorOptions{})
	d.Tick(clock.Advance(50 * time.Millisecond))
	if d.Alert().Level != LevelNone {
		t.Errorf("alert level = %v, want None", d.Alert().Level)
	}
	if len(sink.alerts) != 0 || len(sink.detects) != 0 {
		t.Errorf("quiet tick published %d alerts, %d detects", len(sink.alerts), len(sink.detects))
	}
}

// feedUDPFlood pushes n UDP frames from one attack source through the worker.
func feedUDPFlood(w *Worker, clock *testClock, src uint32, n int) {
	frame := buildUDPFrame(src)
	for i := 0; i < n; i++ {
		w.Handle(frame, clock.Now().UnixNano())
	}
}

// buildUDPFrame is a tiny local builder so the detector tests do not depend
// on serialization; the frame layout matches ParseFrame's expectations.
func buildUDPFrame(src uint32) []byte {
	frame := make([]byte, 14+20+8+100)
	frame[12], frame[13] = 0x08, 0x00 // IPv4
	ip := frame[14:]
	ip[0] = 0x45
	ip[9] = 17 // UDP
	ip[12], ip[13], ip[14], ip[15] = byte(src>>24), byte(src>>16), byte(src>>8), byte(src)
	l4 := ip[20:]
	l4[2], l4[3] = 0xC3, 0x50 // dst port 50000
	return frame
}

func TestDetector_UDPFloodFiresWithinOneTick(t *testing.T) {
	d, w, sink, clock := testDetector(t, DetectorOptions{})

	// 2000 packets over a 50ms window is a 40k PPS estimate — far over the
	// 5000 PPS per-IP bar.
	feedUDPFlood(w, clock, attackIP, 2000)
	d.Tick(clock.Advance(50 * time.Millisecond))

	if d.Alert().Level != LevelHigh {
		t.Fatalf("alert level = %v, want High; reason=%q", d.Alert().Level, d.Alert().Reason)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("published %d alerts, want 1", len(sink.alerts))
	}
	if len(sink.detects) != 1 {
		t.Fatalf("published %d detects, want 1", len(sink.detects))
	}
	det, ok := d.Detected()
	if !ok {
		t.Fatal("detection not triggered")
	}
	if det.LatencyMS <= 0 || det.LatencyMS > 51 {
		t.Errorf("detection latency = %.2fms, want (0, 51]", det.LatencyMS)
	}
}

// TestDetector_DetectionIsIdempotent keeps the flood running across ticks and
// checks the one-way transition happens exactly once with a frozen latency.
func TestDetector_DetectionIsIdempotent(t *testing.T) {
	d, w, sink, clock := testDetector(t, DetectorOptions{})

	feedUDPFlood(w, clock, attackIP, 2000)
	d.Tick(clock.Advance(50 * time.Millisecond))
	first, _ := d.Detected()

	for i := 0; i < 10; i++ {
		feedUDPFlood(w, clock, attackIP, 2000)
		d.Tick(clock.Advance(50 * time.Millisecond))
	}
	last, ok := d.Detected()
	if !ok {
		t.Fatal("detection lost")
	}
	if last != first {
		t.Errorf("detection record changed: %+v -> %+v", first, last)
	}
	if len(sink.detects) != 1 {
		t.Errorf("DETECT published %d times, want exactly once", len(sink.detects))
	}
}

// TestDetector_WindowResets verifies the shard view is per-window: a flood in
// window 1 must not keep the alert up in an idle window 2.
func TestDetector_WindowResets(t *testing.T) {
	d, w, sink, clock := testDetector(t, DetectorOptions{})

	feedUDPFlood(w, clock, attackIP, 2000)
	d.Tick(clock.Advance(50 * time.Millisecond))
	if d.Alert().Level != LevelHigh {
		t.Fatalf("window 1 level = %v, want High", d.Alert().Level)
	}

	d.Tick(clock.Advance(50 * time.Millisecond))
	if d.Alert().Level != LevelNone {
		t.Errorf("idle window level = %v, want None; reason=%q", d.Alert().Level, d.Alert().Reason)
	}
	// The drop back to None is a level change and publishes.
	if len(sink.alerts) != 2 {
		t.Errorf("published %d alerts, want 2 (raise + clear)", len(sink.alerts))
	}
}

// TestDetector_AggregatesMonotonic drives baseline UDP traffic across several
// ticks and checks the cumulative counters only grow.
func TestDetector_AggregatesMonotonic(t *testing.T) {
	d, w, _, clock := testDetector(t, DetectorOptions{})
	var prev Snapshot
	for i := 0; i < 5; i++ {
		feedUDPFlood(w, clock, baseIP, 500)
		d.Tick(clock.Advance(50 * time.Millisecond))
		cur := d.agg.Snapshot()
		if cur.TotalPackets < prev.TotalPackets ||
			cur.BaselinePackets < prev.BaselinePackets ||
			cur.UDPPackets < prev.UDPPackets ||
			cur.BytesOut < prev.BytesOut {
			t.Fatalf("aggregate counter regressed: %+v -> %+v", prev, cur)
		}
		prev = cur
	}
}

// TestDetector_BurstRuleSpansTwoTicks checks the 100 ms sub-window: a rate
// below the per-tick flood bars but over the two-tick burst budget fires Low.
func TestDetector_BurstRuleSpansTwoTicks(t *testing.T) {
	opts := DetectorOptions{Thresholds: DefaultThresholds()}
	// Mute the per-tick rules: the per-IP UDP bar, and R1, which the
	// all-bytes-out flood would otherwise trip on the first tick.
	opts.Thresholds.UDPPerIPPPS = 1e9
	opts.Thresholds.Amplification = 1e12
	opts.Thresholds.BurstCount = 3000
	d, w, _, clock := testDetector(t, opts)

	feedUDPFlood(w, clock, attackIP, 2000)
	d.Tick(clock.Advance(50 * time.Millisecond))
	if d.Alert().Level != LevelNone {
		t.Fatalf("first tick level = %v, want None (2000 < 3000)", d.Alert().Level)
	}
	feedUDPFlood(w, clock, attackIP, 2000)
	d.Tick(clock.Advance(50 * time.Millisecond))
	if d.Alert().Level != LevelLow {
		t.Errorf("second tick level = %v, want Low (2000+2000 > 3000)", d.Alert().Level)
	}
}

func TestDetector_MLHybridMatrix(t *testing.T) {
	t.Run("BothFire_Critical", func(t *testing.T) {
		opts := DetectorOptions{Predictor: predict.Fixed{Out: predict.Prediction{Class: "udp_flood", Confidence: 0.95}}}
		d, w, _, clock := testDetector(t, opts)
		feedUDPFlood(w, clock, attackIP, 2000)
		d.Tick(clock.Advance(50 * time.Millisecond))
		if d.Alert().Level != LevelCritical {
			t.Errorf("level = %v, want Critical when rules and ML agree", d.Alert().Level)
		}
	})

	t.Run("RulesOnly_StaysHigh", func(t *testing.T) {
		// The predictor insists everything is benign; the rule verdict stands.
		opts := DetectorOptions{Predictor: predict.Fixed{Out: predict.Prediction{Class: "benign", Confidence: 0.9}}}
		d, w, _, clock := testDetector(t, opts)
		feedUDPFlood(w, clock, attackIP, 2000)
		d.Tick(clock.Advance(50 * time.Millisecond))
		if d.Alert().Level != LevelHigh {
			t.Errorf("level = %v, want High when only rules fire", d.Alert().Level)
		}
	})

	t.Run("MLOnly_Medium", func(t *testing.T) {
		opts := DetectorOptions{Predictor: predict.Fixed{Out: predict.Prediction{Class: "anomaly", Confidence: 0.8}}}
		d, w, _, clock := testDetector(t, opts)
		feedUDPFlood(w, clock, baseIP, 100) // benign trickle, no rule fires
		d.Tick(clock.Advance(50 * time.Millisecond))
		if d.Alert().Level != LevelMedium {
			t.Errorf("level = %v, want Medium for a confident ML-only verdict", d.Alert().Level)
		}
	})

	t.Run("MLLowConfidence_Ignored", func(t *testing.T) {
		opts := DetectorOptions{Predictor: predict.Fixed{Out: predict.Prediction{Class: "anomaly", Confidence: 0.5}}}
		d, w, _, clock := testDetector(t, opts)
		feedUDPFlood(w, clock, baseIP, 100)
		d.Tick(clock.Advance(50 * time.Millisecond))
		if d.Alert().Level != LevelNone {
			t.Errorf("level = %v, want None for low-confidence ML", d.Alert().Level)
		}
	})

	t.Run("PredictorError_Elided", func(t *testing.T) {
		opts := DetectorOptions{Predictor: failingPredictor{}}
		d, w, _, clock := testDetector(t, opts)
		feedUDPFlood(w, clock, attackIP, 2000)
		d.Tick(clock.Advance(50 * time.Millisecond))
		if d.Alert().Level != LevelHigh {
			t.Errorf("level = %v, want rule-only High when the predictor errors", d.Alert().Level)
		}
		if d.Alert().PredictedClass != "" {
			t.Errorf("augmentation present after predictor error: %q", d.Alert().PredictedClass)
		}
	})
}

type failingPredictor struct{}

func (failingPredictor) Predict([]float64) (predict.Prediction, error) {
	return predict.Prediction{}, errors.New("model exploded")
}

func TestBuildFeatures_ShapeAndGuards(t *testing.T) {
	f := BuildFeatures(WindowStats{})
	if len(f) != FeatureCount {
		t.Fatalf("feature vector length = %d, want %d", len(f), FeatureCount)
	}
	for i, v := range f {
		if v != 0 {
			t.Errorf("idle window feature[%d] = %v, want 0", i, v)
		}
	}
}
