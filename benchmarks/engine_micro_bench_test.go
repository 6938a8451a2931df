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

// Package benchmarks holds cross-package microbenchmarks for the hot path:
// the per-packet worker cost and the per-tick merge cost. Run with
// `go test -bench . ./benchmarks`.
package benchmarks

import (
	"testing"
	"time"

	"octoguard"
	"octoguard/internal/capture"
	"octoguard/internal/engine"
)

func benchClassifier(b *testing.B) *engine.Classifier {
	b.Helper()
	cls, err := engine.NewClassifier([]string{"10.0.0.0/16"}, []string{"172.16.0.0/16"}, []uint16{80, 443})
	if err != nil {
		b.Fatal(err)
	}
	return cls
}

// BenchmarkWorkerHandle measures the full per-packet path: parse, classify,
// aggregate updates, and the sampled sketch update.
func BenchmarkWorkerHandle(b *testing.B) {
	agg := &engine.Aggregates{}
	shard := engine.NewShard(4, 1<<14, "bench")
	w := engine.NewWorker(0, nil, benchClassifier(b), agg, shard, 32)
	frames := [][]byte{
		capture.BuildUDP(0x0A000001, 0xC0A8010A, 40000, 53, 100),
		capture.BuildTCP(0x0A000002, 0xC0A8010A, 40001, 443, false, true, 512),
		capture.BuildTCP(0xAC100001, 0xC0A8010A, 40002, 80, true, false, 0),
		capture.BuildICMP(0xAC100002, 0xC0A8010A, 56),
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Handle(frames[i&3], int64(i+1))
	}
}

// BenchmarkShardMerge measures the coordinator's per-tick cost of merging
// four worker shards.
func BenchmarkShardMerge(b *testing.B) {
	const workers = 4
	agg := &engine.Aggregates{}
	shards := make([]*engine.Shard, workers)
	pool := make([]*engine.Worker, workers)
	cls := benchClassifier(b)
	frame := capture.BuildUDP(0xAC100001, 0xC0A8010A, 1, 2, 64)
	for i := range shards {
		shards[i] = engine.NewShard(4, 1<<14, "bench")
		pool[i] = engine.NewWorker(i, nil, cls, agg, shards[i], 1)
		for j := 0; j < 10000; j++ {
			pool[i].Handle(frame, int64(j+1))
		}
	}
	det := engine.NewDetector(agg, shards, pool, 4, 1<<14, engine.DetectorOptions{})
	now := time.Unix(9000, 0)
	det.SetClock(func() time.Time { return now })
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		now = now.Add(50 * time.Millisecond)
		det.Tick(now)
	}
}

// BenchmarkSketchUpdateParallelShards checks that private shards scale:
// separate sketches written from one goroutine each have no shared state.
func BenchmarkSketchUpdateParallelShards(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		s := octoguard.MustSketch(4, 1<<14, "bench")
		i := uint32(0)
		for pb.Next() {
			i++
			s.Update(i&1023, 1)
		}
	})
}
