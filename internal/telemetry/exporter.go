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

// Package telemetry exposes the Prometheus metrics endpoint and a small
// JSON status surface for operators. Both are read-only views over state
// the engine already maintains; nothing here touches the hot path.
package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"octoguard/internal/engine"
)

// Server wraps the optional telemetry HTTP listener.
type Server struct {
	httpServer *http.Server
}

// Start serves /metrics, /healthz, and /status on addr in a background
// goroutine. A listen failure is reported through the returned channel once;
// telemetry failing must not take the engine down.
func Start(addr string, eng *engine.Engine) (*Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		alert := eng.Detector().Alert()
		det, triggered := eng.Detector().Detected()
		snap := eng.Aggregates().Snapshot()
		status := map[string]interface{}{
			"uptime_s":     eng.Uptime().Seconds(),
			"total_pkts":   snap.TotalPackets,
			"attack_pkts":  snap.AttackPackets,
			"alert_level":  alert.Level.String(),
			"alert_reason": alert.Reason,
			"detected":     triggered,
		}
		if triggered {
			status["detection_latency_ms"] = det.LatencyMS
			status["amplification_at_detection"] = det.Amplification
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return &Server{httpServer: srv}, errCh
}

// Close shuts the listener down.
func (s *Server) Close() error { return s.httpServer.Close() }
