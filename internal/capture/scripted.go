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

package capture

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// ScriptedSource is a deterministic in-memory burst source. Frames pushed
// via Inject are steered to queues by the same receive-side hash the other
// sources use, then handed out burst by burst. It backs the end-to-end
// scenario tests and the worker tests.
type ScriptedSource struct {
	mu     sync.Mutex
	queues [][]Descriptor
	heads  []int
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64

	// Capacity bounds each queue; zero means unbounded. Overflow is counted
	// as a drop, mirroring a NIC running out of descriptors.
	Capacity int
}

// NewScriptedSource creates a source with the given queue count.
func NewScriptedSource(queues int) *ScriptedSource {
	if queues <= 0 {
		queues = 1
	}
	return &ScriptedSource{
		queues: make([][]Descriptor, queues),
		heads:  make([]int, queues),
	}
}

// Inject steers one frame to its queue. Returns false on overflow.
func (s *ScriptedSource) Inject(frame []byte, nanos int64) bool {
	q := 0
	if ip, ok := srcIPOf(frame); ok {
		q = QueueFor(ip, len(s.queues))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Capacity > 0 && len(s.queues[q])-s.heads[q] >= s.Capacity {
		s.dropped.Add(1)
		return false
	}
	s.queues[q] = append(s.queues[q], Descriptor{Data: frame, Nanos: nanos})
	return true
}

// Finish marks the script complete: once every queue drains, RxBurst
// returns io.EOF.
func (s *ScriptedSource) Finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// RxBurst hands out up to len(out) pending frames for the queue.
func (s *ScriptedSource) RxBurst(_ context.Context, queue int, out []Descriptor) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if queue < 0 || queue >= len(s.queues) {
		return 0, io.EOF
	}
	pending := s.queues[queue][s.heads[queue]:]
	n := len(pending)
	if n == 0 {
		if s.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	if n > len(out) {
		n = len(out)
	}
	copy(out, pending[:n])
	s.heads[queue] += n
	s.delivered.Add(uint64(n))
	return n, nil
}

// Queues returns the queue count.
func (s *ScriptedSource) Queues() int { return len(s.queues) }

// Close finishes the script.
func (s *ScriptedSource) Close() error {
	s.Finish()
	return nil
}

// NICStats reports the software stand-ins for the NIC counters.
func (s *ScriptedSource) NICStats() NICStats {
	return NICStats{
		RxPackets: s.delivered.Load(),
		RxDropped: s.dropped.Load(),
		NoBuffer:  s.dropped.Load(),
	}
}
