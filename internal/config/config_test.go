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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "octoguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
capture:
  pcap_path: /tmp/replay.pcap
networks:
  baseline_cidrs: ["10.0.0.0/16"]
  attack_cidrs: ["172.16.0.0/16"]
`

func TestLoad_MinimalGetsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers.Count != 4 {
		t.Errorf("workers.count default = %d, want 4", cfg.Workers.Count)
	}
	if cfg.Sketch.Depth != 4 || cfg.Sketch.Width != 1<<14 {
		t.Errorf("sketch default = (%d, %d)", cfg.Sketch.Depth, cfg.Sketch.Width)
	}
	if cfg.Sampling.Every != 32 {
		t.Errorf("sampling default = %d, want 32", cfg.Sampling.Every)
	}
	if ft, _ := cfg.Detection.FastTick(); ft != 50*time.Millisecond {
		t.Errorf("fast tick default = %v, want 50ms", ft)
	}
	if st, _ := cfg.Detection.StatsTick(); st != 5*time.Second {
		t.Errorf("stats tick default = %v, want 5s", st)
	}
	if !cfg.Output.StdoutEnabled() {
		t.Error("stdout should default on")
	}
	if cfg.Workers.CoordinatorCPU() != -1 {
		t.Errorf("coordinator core default = %d, want -1", cfg.Workers.CoordinatorCPU())
	}
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
capture:
  interface: eth1
workers:
  count: 2
  cores: [2, 3]
  coordinator_core: 0
networks:
  baseline_cidrs: ["10.0.0.0/16"]
  attack_cidrs: ["172.16.0.0/16"]
  server_ports: [80, 443]
sketch:
  depth: 6
  width: 65536
sampling:
  every: 100
detection:
  fast_tick: 25ms
  stats_tick: 2s
  amplification_threshold: 3.0
output:
  stdout: false
  log_path: /var/log/octoguard.jsonl
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capture.Interface != "eth1" {
		t.Errorf("interface = %q", cfg.Capture.Interface)
	}
	if cfg.Workers.CoordinatorCPU() != 0 {
		t.Errorf("coordinator core = %d, want 0 (explicit zero must survive)", cfg.Workers.CoordinatorCPU())
	}
	if ft, _ := cfg.Detection.FastTick(); ft != 25*time.Millisecond {
		t.Errorf("fast tick = %v", ft)
	}
	if cfg.Output.StdoutEnabled() {
		t.Error("explicit stdout: false ignored")
	}
	if cfg.Detection.Amplification != 3.0 {
		t.Errorf("amplification threshold = %v", cfg.Detection.Amplification)
	}
}

func TestLoad_Rejections(t *testing.T) {
	cases := map[string]string{
		"NoSource": `
networks:
  baseline_cidrs: ["10.0.0.0/16"]
  attack_cidrs: ["172.16.0.0/16"]
`,
		"BothSources": `
capture: {interface: eth0, pcap_path: /x.pcap}
networks:
  baseline_cidrs: ["10.0.0.0/16"]
  attack_cidrs: ["172.16.0.0/16"]
`,
		"MissingNetworks": `
capture: {pcap_path: /x.pcap}
`,
		"BadCIDR": `
capture: {pcap_path: /x.pcap}
networks:
  baseline_cidrs: ["10.0.0.0/33"]
  attack_cidrs: ["172.16.0.0/16"]
`,
		"CoreCountMismatch": `
capture: {pcap_path: /x.pcap}
workers: {count: 4, cores: [1, 2]}
networks:
  baseline_cidrs: ["10.0.0.0/16"]
  attack_cidrs: ["172.16.0.0/16"]
`,
		"BadTick": `
capture: {pcap_path: /x.pcap}
detection: {fast_tick: sometimes}
networks:
  baseline_cidrs: ["10.0.0.0/16"]
  attack_cidrs: ["172.16.0.0/16"]
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config accepted")
	}
}
