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

// Package config loads and validates the engine configuration. The file is
// YAML; durations are written as strings ("50ms", "5s") and parsed with
// time.ParseDuration. Configuration is immutable after startup — the engine
// never re-reads it.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface.
type Config struct {
	Capture   CaptureConfig   `yaml:"capture"`
	Workers   WorkersConfig   `yaml:"workers"`
	Networks  NetworksConfig  `yaml:"networks"`
	Sketch    SketchConfig    `yaml:"sketch"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Detection DetectionConfig `yaml:"detection"`
	ML        MLConfig        `yaml:"ml"`
	Output    OutputConfig    `yaml:"output"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CaptureConfig selects the traffic source. Exactly one of Interface or
// PCAPPath must be set.
type CaptureConfig struct {
	Interface string `yaml:"interface"`
	PCAPPath  string `yaml:"pcap_path"`
	Paced     bool   `yaml:"paced"` // honor capture timestamps during replay
}

// WorkersConfig sizes the worker pool. Cores, when present, must list one
// CPU per worker; CoordinatorCore of -1 leaves the coordinator floating.
type WorkersConfig struct {
	Count           int   `yaml:"count"`
	Cores           []int `yaml:"cores"`
	CoordinatorCore *int  `yaml:"coordinator_core"` // pointer: "not set" differs from core 0
}

// NetworksConfig defines the traffic classes and the direction split.
type NetworksConfig struct {
	BaselineCIDRs []string `yaml:"baseline_cidrs"`
	AttackCIDRs   []string `yaml:"attack_cidrs"`
	ServerPorts   []uint16 `yaml:"server_ports"`
}

// SketchConfig is the Count-Min shape.
type SketchConfig struct {
	Depth int `yaml:"depth"`
	Width int `yaml:"width"`
}

// SamplingConfig sets the sketch sampling factor S: the sketch is updated
// once per S packets with increment S.
type SamplingConfig struct {
	Every uint32 `yaml:"every"`
}

// DetectionConfig carries the tick cadences and the threshold table.
// Threshold zero values mean "use the shipped default".
type DetectionConfig struct {
	FastTickStr  string `yaml:"fast_tick"`
	StatsTickStr string `yaml:"stats_tick"`

	Amplification       float64 `yaml:"amplification_threshold"`
	AttackRatioMin      float64 `yaml:"attack_ratio_min"`
	MinWindowPackets    uint64  `yaml:"min_window_packets"`
	UDPPerIPPPS         float64 `yaml:"udp_per_ip_pps"`
	SYNPerIPPPS         float64 `yaml:"syn_per_ip_pps"`
	ICMPPerIPPPS        float64 `yaml:"icmp_per_ip_pps"`
	HTTPPerIPPPS        float64 `yaml:"http_per_ip_pps"`
	HeavyHitterCount    uint32  `yaml:"heavy_hitter_count"`
	HeavyHitterIPLimit  int     `yaml:"heavy_hitter_ip_limit"`
	BaselineUDPPerIPPPS float64 `yaml:"baseline_udp_per_ip_pps"`
	BurstCount          uint32  `yaml:"burst_count"`
	MLConfidence        float64 `yaml:"ml_confidence"`
	TopK                int     `yaml:"top_k"`
}

// MLConfig points at the optional model file.
type MLConfig struct {
	ModelPath string `yaml:"model_path"`
}

// OutputConfig selects the detection log sinks.
type OutputConfig struct {
	LogPath      string `yaml:"log_path"`
	Stdout       *bool  `yaml:"stdout"` // pointer: default true when unset
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// TelemetryConfig exposes Prometheus.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoggingConfig shapes the process log.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FastTick parses the fast-tick period, defaulting to 50ms.
func (d *DetectionConfig) FastTick() (time.Duration, error) {
	return parseDuration(d.FastTickStr, 50*time.Millisecond, "detection.fast_tick")
}

// StatsTick parses the reporting period, defaulting to 5s.
func (d *DetectionConfig) StatsTick() (time.Duration, error) {
	return parseDuration(d.StatsTickStr, 5*time.Second, "detection.stats_tick")
}

func parseDuration(s string, def time.Duration, field string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", field, v)
	}
	return v, nil
}

// StdoutEnabled defaults to true when output.stdout is not set.
func (o *OutputConfig) StdoutEnabled() bool {
	return o.Stdout == nil || *o.Stdout
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in everything a minimal config omits.
func (c *Config) ApplyDefaults() {
	if c.Workers.Count == 0 {
		c.Workers.Count = 4
	}
	if c.Sketch.Depth == 0 {
		c.Sketch.Depth = 4
	}
	if c.Sketch.Width == 0 {
		c.Sketch.Width = 1 << 14
	}
	if c.Sampling.Every == 0 {
		c.Sampling.Every = 32
	}
	if len(c.Networks.ServerPorts) == 0 {
		c.Networks.ServerPorts = []uint16{80, 443, 8080}
	}
	if c.Output.RedisChannel == "" {
		c.Output.RedisChannel = "octoguard:alerts"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate rejects configurations the engine cannot start with. Everything
// here is a fatal startup error by design.
func (c *Config) Validate() error {
	if c.Capture.Interface == "" && c.Capture.PCAPPath == "" {
		return fmt.Errorf("capture: one of interface or pcap_path is required")
	}
	if c.Capture.Interface != "" && c.Capture.PCAPPath != "" {
		return fmt.Errorf("capture: interface and pcap_path are mutually exclusive")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count)
	}
	if len(c.Workers.Cores) > 0 && len(c.Workers.Cores) != c.Workers.Count {
		return fmt.Errorf("workers.cores lists %d cores for %d workers", len(c.Workers.Cores), c.Workers.Count)
	}
	if len(c.Networks.BaselineCIDRs) == 0 || len(c.Networks.AttackCIDRs) == 0 {
		return fmt.Errorf("networks: baseline_cidrs and attack_cidrs are both required")
	}
	for _, s := range append(append([]string{}, c.Networks.BaselineCIDRs...), c.Networks.AttackCIDRs...) {
		if _, err := netip.ParsePrefix(s); err != nil {
			return fmt.Errorf("networks: invalid CIDR %q: %w", s, err)
		}
	}
	if _, err := c.Detection.FastTick(); err != nil {
		return err
	}
	if _, err := c.Detection.StatsTick(); err != nil {
		return err
	}
	return nil
}

// CoordinatorCPU returns the configured coordinator core, or -1 when unset.
func (w *WorkersConfig) CoordinatorCPU() int {
	if w.CoordinatorCore == nil {
		return -1
	}
	return *w.CoordinatorCore
}
