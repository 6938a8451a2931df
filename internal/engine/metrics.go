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

// Prometheus mirrors of the engine state. Everything here is written from
// the coordinator's tick, never from the packet hot path — the hot path only
// touches the atomic aggregates, and the tick copies them out.
package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricPackets = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "octoguard_packets_total",
		Help: "Cumulative packets observed, by traffic class.",
	}, []string{"class"})
	metricProtoPackets = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "octoguard_proto_packets_total",
		Help: "Cumulative packets observed, by protocol.",
	}, []string{"proto"})
	metricBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "octoguard_bytes_total",
		Help: "Cumulative bytes observed, by direction (in = toward a configured server port).",
	}, []string{"direction"})
	metricAlertLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "octoguard_alert_level",
		Help: "Current alert level (0 none .. 4 critical).",
	})
	metricWindowGbps = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "octoguard_window_gbps",
		Help: "Throughput over the last reporting window, packet-arrival bounded.",
	})
	metricBytesRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "octoguard_bytes_ratio",
		Help: "bytes-out / bytes-in over the last detection window.",
	})
	metricNICDrops = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "octoguard_nic_rx_dropped_total",
		Help: "Receive drops reported by the NIC or capture source.",
	})
	metricDetectionLatency = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "octoguard_detection_latency_ms",
		Help: "Latency from first attack packet to first High alert; 0 until detection.",
	})
	metricMergeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "octoguard_shard_merge_seconds",
		Help:    "Duration of the per-tick shard merge.",
		Buckets: prometheus.ExponentialBuckets(10e-6, 4, 8),
	})
	metricMLElided = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "octoguard_ml_elided_total",
		Help: "Fast ticks where the ML augmentation was skipped (error or over budget).",
	})
)

func init() {
	// Register eagerly. If no Prometheus endpoint is exposed, the
	// registration is harmless.
	prometheus.MustRegister(metricPackets, metricProtoPackets, metricBytes,
		metricAlertLevel, metricWindowGbps, metricBytesRatio, metricNICDrops,
		metricDetectionLatency, metricMergeSeconds, metricMLElided)
}

// publishTickMetrics copies the tick's snapshot into the Prometheus mirrors.
func publishTickMetrics(snap Snapshot, ws WindowStats, alert Alert) {
	metricPackets.WithLabelValues("baseline").Set(float64(snap.BaselinePackets))
	metricPackets.WithLabelValues("attack").Set(float64(snap.AttackPackets))
	metricPackets.WithLabelValues("other").Set(float64(snap.OtherPackets))
	metricProtoPackets.WithLabelValues("udp").Set(float64(snap.UDPPackets))
	metricProtoPackets.WithLabelValues("tcp").Set(float64(snap.TCPPackets))
	metricProtoPackets.WithLabelValues("icmp").Set(float64(snap.ICMPPackets))
	metricProtoPackets.WithLabelValues("other").Set(float64(snap.OtherProto))
	metricBytes.WithLabelValues("in").Set(float64(snap.BytesIn))
	metricBytes.WithLabelValues("out").Set(float64(snap.BytesOut))
	metricAlertLevel.Set(float64(alert.Level))
	metricBytesRatio.Set(ws.BytesRatio)
}
