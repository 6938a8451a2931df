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

//go:build !linux

package capture

import (
	"context"
	"fmt"
	"io"
)

// LiveSource requires AF_PACKET; only the Linux build provides it. This stub
// keeps the type assignable so callers compile everywhere; OpenLive is the
// only constructor and always fails here.
type LiveSource struct{}

// OpenLive always fails off Linux; use a PCAP replay instead.
func OpenLive(iface string, queues int) (*LiveSource, error) {
	return nil, fmt.Errorf("live capture on %s: only supported on linux", iface)
}

// RxBurst is unreachable: OpenLive never returns a usable handle here.
func (s *LiveSource) RxBurst(context.Context, int, []Descriptor) (int, error) { return 0, io.EOF }

// Queues is unreachable; see RxBurst.
func (s *LiveSource) Queues() int { return 0 }

// Close is unreachable; see RxBurst.
func (s *LiveSource) Close() error { return nil }

// NICStats is unreachable; see RxBurst.
func (s *LiveSource) NICStats() NICStats { return NICStats{} }
