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

// Package main is the octoguard appliance binary: it observes a one-way
// mirror of network traffic (a live interface or a PCAP replay), maintains
// per-source frequency sketches across a pool of receive workers, and emits
// multi-level anomaly alerts with a detection latency anchored to the first
// attack packet.
//
// Startup failures (capture attach, bad configuration, model load) abort
// with a diagnostic and a non-zero exit. Runtime anomalies — NIC drops,
// predictor errors — surface in the log stream and never change the exit
// status.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"octoguard/internal/capture"
	"octoguard/internal/config"
	"octoguard/internal/engine"
	"octoguard/internal/logging"
	"octoguard/internal/predict"
	"octoguard/internal/sinks"
	"octoguard/internal/telemetry"
)

var (
	configPath = flag.String("config", "octoguard.yaml", "Path to the YAML configuration file")
	ifaceFlag  = flag.String("interface", "", "Override: capture from this network interface")
	pcapFlag   = flag.String("pcap", "", "Override: replay this capture file instead of a live interface")
	pacedFlag  = flag.Bool("paced", false, "Override: honor capture timestamps during replay")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	cfg, err := config.Load(*configPath)
	rtx.Must(err, "Failed to load config %q", *configPath)
	if *ifaceFlag != "" {
		cfg.Capture.Interface = *ifaceFlag
		cfg.Capture.PCAPPath = ""
	}
	if *pcapFlag != "" {
		cfg.Capture.PCAPPath = *pcapFlag
		cfg.Capture.Interface = ""
	}
	if *pacedFlag {
		cfg.Capture.Paced = true
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	// Traffic source. One of the two is set; Validate enforced that.
	var src capture.BurstSource
	var nic capture.NICStatser
	if cfg.Capture.Interface != "" {
		live, err := capture.OpenLive(cfg.Capture.Interface, cfg.Workers.Count)
		rtx.Must(err, "Failed to open interface %q", cfg.Capture.Interface)
		src = live
		nic = capture.IfaceStats{Iface: cfg.Capture.Interface}
		log.Info("capturing live", "interface", cfg.Capture.Interface, "queues", cfg.Workers.Count)
	} else {
		pc, err := capture.OpenPCAP(cfg.Capture.PCAPPath, cfg.Workers.Count, cfg.Capture.Paced)
		rtx.Must(err, "Failed to open capture file %q", cfg.Capture.PCAPPath)
		src = pc
		nic = pc
		log.Info("replaying capture", "path", cfg.Capture.PCAPPath, "paced", cfg.Capture.Paced)
	}
	defer src.Close()

	cls, err := engine.NewClassifier(cfg.Networks.BaselineCIDRs, cfg.Networks.AttackCIDRs, cfg.Networks.ServerPorts)
	rtx.Must(err, "Failed to build classifier")

	// Detection output stream.
	var sinkList sinks.Multi
	if cfg.Output.StdoutEnabled() {
		sinkList = append(sinkList, sinks.NewDetectionLog(os.Stdout))
	}
	var fileLog *sinks.DetectionLog
	if cfg.Output.LogPath != "" {
		fileLog, err = sinks.OpenDetectionLog(cfg.Output.LogPath)
		rtx.Must(err, "Failed to open detection log %q", cfg.Output.LogPath)
		sinkList = append(sinkList, fileLog)
		defer fileLog.Close()
	}
	if cfg.Output.RedisAddr != "" {
		pub, err := sinks.NewRedisPublisher(context.Background(), cfg.Output.RedisAddr, cfg.Output.RedisChannel)
		rtx.Must(err, "Failed to connect alert publisher to %q", cfg.Output.RedisAddr)
		sinkList = append(sinkList, pub)
		defer pub.Close()
		log.Info("publishing alerts", "redis", cfg.Output.RedisAddr, "channel", cfg.Output.RedisChannel)
	}

	// Optional ML augmentation. A missing or malformed model is a startup
	// failure; a predictor that misbehaves at runtime is handled per tick.
	var predictor predict.Predictor
	if cfg.ML.ModelPath != "" {
		model, err := predict.LoadLinear(cfg.ML.ModelPath)
		rtx.Must(err, "Failed to load ML model %q", cfg.ML.ModelPath)
		predictor = model
		log.Info("ml augmentation enabled", "model", cfg.ML.ModelPath, "classes", model.Classes)
	}

	fastTick, err := cfg.Detection.FastTick()
	rtx.Must(err, "Invalid fast tick")
	statsTick, err := cfg.Detection.StatsTick()
	rtx.Must(err, "Invalid stats tick")

	eng, err := engine.New(src, cls, engine.Options{
		Workers:         cfg.Workers.Count,
		SketchDepth:     cfg.Sketch.Depth,
		SketchWidth:     cfg.Sketch.Width,
		SampleEvery:     cfg.Sampling.Every,
		WorkerCores:     cfg.Workers.Cores,
		CoordinatorCore: cfg.Workers.CoordinatorCPU(),
		Logger:          log,
		Detector: engine.DetectorOptions{
			Thresholds: thresholdsFromConfig(cfg.Detection),
			FastTick:   fastTick,
			StatsTick:  statsTick,
			Predictor:  predictor,
			Sink:       sinkList,
			NIC:        nic,
		},
	})
	rtx.Must(err, "Failed to assemble engine")

	if cfg.Telemetry.MetricsAddr != "" {
		srv, telErr := telemetry.Start(cfg.Telemetry.MetricsAddr, eng)
		defer srv.Close()
		go func() {
			if err := <-telErr; err != nil {
				log.Error("telemetry listener failed", "addr", cfg.Telemetry.MetricsAddr, "err", err)
			}
		}()
		log.Info("telemetry listening", "addr", cfg.Telemetry.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// systemd integration: announce readiness and keep the watchdog fed.
	// Both are no-ops outside a systemd unit.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go func() {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	log.Info("octoguard running",
		"workers", cfg.Workers.Count,
		"sketch_depth", cfg.Sketch.Depth,
		"sketch_width", cfg.Sketch.Width,
		"sample_every", cfg.Sampling.Every,
		"fast_tick", fastTick,
		"stats_tick", statsTick,
	)

	err = eng.Run(ctx)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		log.Error("engine stopped with error", "err", err)
	}
	for _, s := range sinkList {
		if dl, ok := s.(*sinks.DetectionLog); ok {
			_ = dl.Flush()
		}
	}
	log.Info("octoguard stopped")
}

// thresholdsFromConfig overlays configured values on the shipped defaults;
// zero config values keep the default.
func thresholdsFromConfig(d config.DetectionConfig) engine.Thresholds {
	th := engine.DefaultThresholds()
	if d.Amplification > 0 {
		th.Amplification = d.Amplification
	}
	if d.AttackRatioMin > 0 {
		th.AttackRatioMin = d.AttackRatioMin
	}
	if d.MinWindowPackets > 0 {
		th.MinWindowPackets = d.MinWindowPackets
	}
	if d.UDPPerIPPPS > 0 {
		th.UDPPerIPPPS = d.UDPPerIPPPS
	}
	if d.SYNPerIPPPS > 0 {
		th.SYNPerIPPPS = d.SYNPerIPPPS
	}
	if d.ICMPPerIPPPS > 0 {
		th.ICMPPerIPPPS = d.ICMPPerIPPPS
	}
	if d.HTTPPerIPPPS > 0 {
		th.HTTPPerIPPPS = d.HTTPPerIPPPS
	}
	if d.HeavyHitterCount > 0 {
		th.HeavyHitterCount = d.HeavyHitterCount
	}
	if d.HeavyHitterIPLimit > 0 {
		th.HeavyHitterIPLimit = d.HeavyHitterIPLimit
	}
	if d.BaselineUDPPerIPPPS > 0 {
		th.BaselineUDPPerIPPPS = d.BaselineUDPPerIPPPS
	}
	if d.BurstCount > 0 {
		th.BurstCount = d.BurstCount
	}
	if d.MLConfidence > 0 {
		th.MLConfidence = d.MLConfidence
	}
	if d.TopK > 0 {
		th.TopK = d.TopK
	}
	return th
}
