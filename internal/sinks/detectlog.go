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

// Package sinks carries the detection output stream to its destinations:
// a buffered line log (file or stdout), an optional Redis channel, and a
// fan-out combinator. Each line is a type tag followed by a JSON object, so
// downstream parsers match on the tag and unmarshal by field name — field
// ordering is whatever encoding/json produces.
package sinks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"octoguard/internal/engine"
)

// Line type tags.
const (
	TagStats  = "STATS"
	TagAlert  = "ALERT"
	TagDetect = "DETECT"
)

// statsLine is the STATS schema. Cumulative counters plus the last window.
type statsLine struct {
	TS            int64   `json:"ts_ms"`
	TotalPkts     uint64  `json:"total_pkts"`
	BaselinePkts  uint64  `json:"baseline_pkts"`
	AttackPkts    uint64  `json:"attack_pkts"`
	OtherPkts     uint64  `json:"other_pkts"`
	UDPPkts       uint64  `json:"udp_pkts"`
	TCPPkts       uint64  `json:"tcp_pkts"`
	ICMPPkts      uint64  `json:"icmp_pkts"`
	OtherProto    uint64  `json:"other_proto_pkts"`
	SYNPkts       uint64  `json:"syn_pkts"`
	HTTPPkts      uint64  `json:"http_pkts"`
	BytesIn       uint64  `json:"bytes_in"`
	BytesOut      uint64  `json:"bytes_out"`
	BytesRatio    float64 `json:"bytes_ratio"`
	WindowPkts    uint64  `json:"window_pkts"`
	WindowGbps    float64 `json:"window_gbps"`
	NICRxDropped  uint64  `json:"nic_rx_dropped"`
	NICRxErrors   uint64  `json:"nic_rx_errors"`
	AlertLevel    string  `json:"alert_level"`
	AlertReason   string  `json:"alert_reason,omitempty"`
	MLClass       string  `json:"ml_class,omitempty"`
	MLConfidence  float64 `json:"ml_confidence,omitempty"`

	TopIPs     []topIP          `json:"top_ips,omitempty"`
	Comparison *comparisonBlock `json:"comparison,omitempty"`
}

type topIP struct {
	IP    string  `json:"ip"`
	Count uint32  `json:"count"`
	PPS   float64 `json:"pps"`
}

type comparisonBlock struct {
	DetectionLatencyMS float64            `json:"detection_latency_ms"`
	Amplification      float64            `json:"amplification_at_detection"`
	TotalBytes         uint64             `json:"total_bytes_at_detection"`
	TotalPkts          uint64             `json:"total_pkts_at_detection"`
	NsPerPacket        float64            `json:"ns_per_pkt"`
	Workers            []workerThroughput `json:"workers"`
}

type workerThroughput struct {
	Worker  int    `json:"worker"`
	Packets uint64 `json:"pkts"`
	Bytes   uint64 `json:"bytes"`
}

type alertLine struct {
	TS     int64  `json:"ts_ms"`
	Level  string `json:"level"`
	Reason string `json:"reason"`
}

type detectLine struct {
	TS            int64   `json:"ts_ms"`
	LatencyMS     float64 `json:"detection_latency_ms"`
	Amplification float64 `json:"amplification_factor"`
	TotalBytes    uint64  `json:"total_bytes"`
	TotalPkts     uint64  `json:"total_pkts"`
}

// DetectionLog writes tagged JSON lines through a buffered writer. Safe for
// concurrent use, though in practice only the coordinator writes it.
type DetectionLog struct {
	mu        sync.Mutex
	w         *bufio.Writer
	closer    io.Closer
	lastFlush time.Time
}

// NewDetectionLog wraps an arbitrary writer (typically os.Stdout).
func NewDetectionLog(w io.Writer) *DetectionLog {
	return &DetectionLog{w: bufio.NewWriterSize(w, 1<<16), lastFlush: time.Now()}
}

// OpenDetectionLog opens (or creates) a log file in append mode.
func OpenDetectionLog(path string) (*DetectionLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open detection log: %w", err)
	}
	l := NewDetectionLog(f)
	l.closer = f
	return l, nil
}

func (l *DetectionLog) write(tag string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.WriteString(tag)
	l.w.WriteByte(' ')
	l.w.Write(payload)
	l.w.WriteByte('\n')
	// Alerts and detections must be visible immediately; stats can ride the
	// periodic flush.
	if tag != TagStats || time.Since(l.lastFlush) > time.Second {
		l.w.Flush()
		l.lastFlush = time.Now()
	}
}

// OnStats emits a STATS line.
func (l *DetectionLog) OnStats(r engine.Report) {
	line := statsLine{
		TS:           r.Timestamp.UnixMilli(),
		TotalPkts:    r.Snap.TotalPackets,
		BaselinePkts: r.Snap.BaselinePackets,
		AttackPkts:   r.Snap.AttackPackets,
		OtherPkts:    r.Snap.OtherPackets,
		UDPPkts:      r.Snap.UDPPackets,
		TCPPkts:      r.Snap.TCPPackets,
		ICMPPkts:     r.Snap.ICMPPackets,
		OtherProto:   r.Snap.OtherProto,
		SYNPkts:      r.Snap.SYNPackets,
		HTTPPkts:     r.Snap.HTTPPackets,
		BytesIn:      r.Snap.BytesIn,
		BytesOut:     r.Snap.BytesOut,
		BytesRatio:   r.BytesRatio,
		WindowPkts:   r.WindowPackets,
		WindowGbps:   r.WindowGbps,
		NICRxDropped: r.NIC.RxDropped,
		NICRxErrors:  r.NIC.RxErrors,
		AlertLevel:   r.Alert.Level.String(),
		AlertReason:  r.Alert.Reason,
		MLClass:      r.Alert.PredictedClass,
		MLConfidence: r.Alert.Confidence,
	}
	for _, ip := range r.TopAttack {
		line.TopIPs = append(line.TopIPs, topIP{
			IP:    fmt.Sprintf("%d.%d.%d.%d", byte(ip.IP>>24), byte(ip.IP>>16), byte(ip.IP>>8), byte(ip.IP)),
			Count: ip.Count,
			PPS:   ip.PPS,
		})
	}
	if c := r.Comparison; c != nil {
		block := &comparisonBlock{
			DetectionLatencyMS: c.Detection.LatencyMS,
			Amplification:      c.Detection.Amplification,
			TotalBytes:         c.Detection.TotalBytes,
			TotalPkts:          c.Detection.TotalPackets,
			NsPerPacket:        c.NsPerPacket,
		}
		for _, w := range c.PerWorker {
			block.Workers = append(block.Workers, workerThroughput{Worker: w.Worker, Packets: w.Packets, Bytes: w.Bytes})
		}
		line.Comparison = block
	}
	l.write(TagStats, line)
}

// OnAlert emits an ALERT line.
func (l *DetectionLog) OnAlert(a engine.Alert) {
	l.write(TagAlert, alertLine{TS: time.Now().UnixMilli(), Level: a.Level.String(), Reason: a.Reason})
}

// OnDetect emits the run's single DETECT line.
func (l *DetectionLog) OnDetect(d engine.Detection) {
	l.write(TagDetect, detectLine{
		TS:            time.Now().UnixMilli(),
		LatencyMS:     d.LatencyMS,
		Amplification: d.Amplification,
		TotalBytes:    d.TotalBytes,
		TotalPkts:     d.TotalPackets,
	})
}

// Flush forces buffered lines out.
func (l *DetectionLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Flush()
}

// Close flushes and closes the underlying file, when there is one.
func (l *DetectionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.w.Flush()
	if l.closer != nil {
		if cerr := l.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Multi fans events out to several sinks in order.
type Multi []engine.EventSink

// OnStats forwards to every sink.
func (m Multi) OnStats(r engine.Report) {
	for _, s := range m {
		s.OnStats(r)
	}
}

// OnAlert forwards to every sink.
func (m Multi) OnAlert(a engine.Alert) {
	for _, s := range m {
		s.OnAlert(a)
	}
}

// OnDetect forwards to every sink.
func (m Multi) OnDetect(d engine.Detection) {
	for _, s := range m {
		s.OnDetect(d)
	}
}
