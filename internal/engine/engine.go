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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"octoguard/internal/capture"
)

// Options assemble a full engine: worker fan-out, sketch shape, sampling,
// optional core pinning, and the detector configuration.
type Options struct {
	Workers     int
	SketchDepth int
	SketchWidth int
	SampleEvery uint32

	// WorkerCores pins worker i to WorkerCores[i] when the list is non-empty
	// (length must then equal Workers). CoordinatorCore pins the detector
	// loop; -1 leaves it floating. Pinning is best-effort and Linux-only.
	WorkerCores     []int
	CoordinatorCore int

	Detector DetectorOptions

	Logger *slog.Logger
}

// Engine wires the capture source, the worker pool, and the coordinator into
// one runnable unit. It owns nothing outside the detection core: the source,
// sinks, and predictor are constructed by the caller and passed in.
type Engine struct {
	src     capture.BurstSource
	cls     *Classifier
	agg     *Aggregates
	shards  []*Shard
	workers []*Worker
	det     *Detector
	opts    Options
	log     *slog.Logger
}

// New validates the options and builds the shards, workers, and detector.
func New(src capture.BurstSource, cls *Classifier, opts Options) (*Engine, error) {
	if opts.Workers <= 0 {
		return nil, fmt.Errorf("engine needs at least one worker, got %d", opts.Workers)
	}
	if len(opts.WorkerCores) > 0 && len(opts.WorkerCores) != opts.Workers {
		return nil, fmt.Errorf("worker core list has %d entries for %d workers", len(opts.WorkerCores), opts.Workers)
	}
	if opts.SampleEvery == 0 {
		opts.SampleEvery = 32
	}
	// A zero-valued Options must not silently pin the coordinator to CPU 0.
	// Explicit core-0 pinning always comes with a worker core list.
	if opts.CoordinatorCore == 0 && len(opts.WorkerCores) == 0 {
		opts.CoordinatorCore = -1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Engine{src: src, cls: cls, agg: &Aggregates{}, opts: opts, log: opts.Logger}
	for i := 0; i < opts.Workers; i++ {
		shard := NewShard(opts.SketchDepth, opts.SketchWidth, fmt.Sprintf("worker-%d", i))
		e.shards = append(e.shards, shard)
		e.workers = append(e.workers, NewWorker(i, src, cls, e.agg, shard, opts.SampleEvery))
	}
	e.det = NewDetector(e.agg, e.shards, e.workers, opts.SketchDepth, opts.SketchWidth, opts.Detector)
	return e, nil
}

// Detector exposes the coordinator, mainly for status surfaces and tests.
func (e *Engine) Detector() *Detector { return e.det }

// Workers exposes the worker pool so harnesses can drive frames directly.
func (e *Engine) Workers() []*Worker { return e.workers }

// Aggregates exposes the shared counters.
func (e *Engine) Aggregates() *Aggregates { return e.agg }

// Run starts one goroutine per worker plus the coordinator loop and blocks
// until the context is cancelled or the source is exhausted. The coordinator
// always gets a final tick and report before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(e.workers))
	for i, w := range e.workers {
		wg.Add(1)
		core := -1
		if len(e.opts.WorkerCores) > 0 {
			core = e.opts.WorkerCores[i]
		}
		go func(w *Worker, core int) {
			defer wg.Done()
			if core >= 0 {
				if err := pinToCore(core); err != nil {
					e.log.Warn("worker core pinning failed", "worker", w.id, "core", core, "err", err)
				}
			}
			if err := w.Run(runCtx); err != nil {
				errCh <- fmt.Errorf("worker %d: %w", w.id, err)
			}
		}(w, core)
	}

	// When every worker drains (replay sources are finite), stop the
	// coordinator too.
	go func() {
		wg.Wait()
		cancel()
	}()

	if e.opts.CoordinatorCore >= 0 {
		if err := pinToCore(e.opts.CoordinatorCore); err != nil {
			e.log.Warn("coordinator core pinning failed", "core", e.opts.CoordinatorCore, "err", err)
		}
	}
	e.det.Run(runCtx)
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// Uptime is how long the engine has been running, for status surfaces.
func (e *Engine) Uptime() time.Duration { return time.Since(e.det.startTime) }
