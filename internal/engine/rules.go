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
	"fmt"
	"strings"
)

// Level is the alert severity. Levels only matter relative to each other:
// the rule engine reports the maximum among the rules that fire.
type Level uint8

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

// String returns the level name used in ALERT lines.
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "Low"
	case LevelMedium:
		return "Medium"
	case LevelHigh:
		return "High"
	case LevelCritical:
		return "Critical"
	default:
		return "None"
	}
}

// Alert is the record published after every fast tick: the maximum level
// among the fired rules, the cumulative reason string, and — when a predictor
// is configured — the ML augmentation.
type Alert struct {
	Level  Level
	Reason string

	// ML augmentation; PredictedClass is empty when the predictor did not run
	// or failed for this tick.
	PredictedClass string
	Confidence     float64
	Probs          []float64
}

// Thresholds is the detection threshold table. The split between baseline and
// attack thresholds is the primary false-positive control: baseline hosts are
// expected to burst legitimately and get substantially higher limits.
type Thresholds struct {
	Amplification    float64 // bytes-out / bytes-in ratio
	AttackRatioMin   float64 // minimum attack-class share of window packets
	MinWindowPackets uint64  // floor below which R1 stays quiet

	UDPPerIPPPS  float64
	SYNPerIPPPS  float64
	ICMPPerIPPPS float64
	HTTPPerIPPPS float64

	HeavyHitterCount   uint32 // per-IP window count that makes a heavy hitter
	HeavyHitterIPLimit int    // how many heavy hitters escalate to an alert

	BaselineUDPPerIPPPS float64

	BurstCount uint32 // per-IP count within a 100 ms sub-window

	MLConfidence float64 // minimum confidence for an ML-only anomaly
	TopK         int     // heavy-hitter candidates enumerated per class
}

// DefaultThresholds returns the table the engine ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Amplification:       2.2,
		AttackRatioMin:      0.05,
		MinWindowPackets:    500,
		UDPPerIPPPS:         5000,
		SYNPerIPPPS:         3000,
		ICMPPerIPPPS:        3000,
		HTTPPerIPPPS:        2500,
		HeavyHitterCount:    5000,
		HeavyHitterIPLimit:  5,
		BaselineUDPPerIPPPS: 10000,
		BurstCount:          10000,
		MLConfidence:        0.75,
		TopK:                32,
	}
}

// WindowStats are the rates and deltas recomputed from the aggregate
// snapshot on every fast tick.
type WindowStats struct {
	Duration float64 // seconds, wall clock

	Packets         uint64
	BaselinePackets uint64
	AttackPackets   uint64
	OtherPackets    uint64
	UDPPackets      uint64
	TCPPackets      uint64
	ICMPPackets     uint64
	SYNPackets      uint64
	HTTPPackets     uint64
	BytesIn         uint64
	BytesOut        uint64

	BytesRatio float64 // bytes_out / max(1, bytes_in)
	GlobalPPS  float64
}

// IPRate is one heavy-hitter candidate with its per-protocol rate estimates,
// all derived from conservative sketch queries over the window.
type IPRate struct {
	IP    uint32
	Count uint32 // sketched window count, all protocols

	PPS     float64
	UDPPPS  float64
	SYNPPS  float64
	ICMPPPS float64
	HTTPPPS float64

	// BurstCount is the candidate's count across the current and previous
	// fast ticks, approximating a 100 ms sub-window at the default cadence.
	BurstCount uint32
}

// ipString formats a candidate address for reason strings.
func ipString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

// EvaluateRules runs R1–R8 in order over the window. Every firing rule
// appends a reason segment; the returned level is the maximum among them.
func EvaluateRules(th Thresholds, ws WindowStats, attack, baseline []IPRate) Alert {
	var segs []string
	level := LevelNone
	fire := func(l Level, seg string) {
		segs = append(segs, seg)
		if l > level {
			level = l
		}
	}

	// R1 amplification: the byte ratio alone is too twitchy on small windows,
	// so it is gated on attack share and a packet floor.
	attackShare := 0.0
	if ws.Packets > 0 {
		attackShare = float64(ws.AttackPackets) / float64(ws.Packets)
	}
	if ws.BytesRatio > th.Amplification && attackShare >= th.AttackRatioMin && ws.Packets >= th.MinWindowPackets {
		fire(LevelHigh, fmt.Sprintf("amplification ratio=%.2f share=%.2f", ws.BytesRatio, attackShare))
	}

	// R2–R5 per-IP protocol floods on the attack network.
	for _, r := range attack {
		switch {
		case r.UDPPPS > th.UDPPerIPPPS:
			fire(LevelHigh, fmt.Sprintf("udp-flood ip=%s pps=%.0f", ipString(r.IP), r.UDPPPS))
		case r.SYNPPS > th.SYNPerIPPPS:
			fire(LevelHigh, fmt.Sprintf("syn-flood ip=%s pps=%.0f", ipString(r.IP), r.SYNPPS))
		case r.ICMPPPS > th.ICMPPerIPPPS:
			fire(LevelHigh, fmt.Sprintf("icmp-flood ip=%s pps=%.0f", ipString(r.IP), r.ICMPPPS))
		case r.HTTPPPS > th.HTTPPerIPPPS:
			fire(LevelHigh, fmt.Sprintf("http-flood ip=%s pps=%.0f", ipString(r.IP), r.HTTPPPS))
		}
	}

	// R6 heavy-hitter population on the attack network.
	heavy := 0
	for _, r := range attack {
		if r.Count > th.HeavyHitterCount {
			heavy++
		}
	}
	if heavy > th.HeavyHitterIPLimit {
		fire(LevelMedium, fmt.Sprintf("heavy-hitters count=%d", heavy))
	}

	// R7 baseline-network UDP, at a deliberately higher bar.
	for _, r := range baseline {
		if r.UDPPPS > th.BaselineUDPPerIPPPS {
			fire(LevelMedium, fmt.Sprintf("baseline-udp ip=%s pps=%.0f", ipString(r.IP), r.UDPPPS))
		}
	}

	// R8 per-IP burst within the 100 ms sub-window.
	for _, r := range attack {
		if r.BurstCount > th.BurstCount {
			fire(LevelLow, fmt.Sprintf("burst ip=%s count=%d", ipString(r.IP), r.BurstCount))
		}
	}

	return Alert{Level: level, Reason: strings.Join(segs, "; ")}
}
