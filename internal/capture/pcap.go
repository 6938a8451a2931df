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
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcapgo"
)

// pcapQueueDepth bounds each per-queue channel. A full queue drops the frame
// and counts it, the same failure mode as a NIC with no free descriptors.
const pcapQueueDepth = 4096

// PCAPSource replays a capture file through the burst interface. A reader
// goroutine decodes records and steers them to per-queue channels by source
// hash; workers drain their queue without ever blocking. With Paced set the
// reader honors inter-packet gaps from the capture timestamps, otherwise it
// replays as fast as the queues absorb.
type PCAPSource struct {
	f      *os.File
	r      *pcapgo.Reader
	chans  []chan Descriptor
	closed chan struct{}
	once   sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64

	// Paced selects timestamp-faithful replay.
	Paced bool
}

// OpenPCAP opens a capture file and starts the reader.
func OpenPCAP(path string, queues int, paced bool) (*PCAPSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	if queues <= 0 {
		queues = 1
	}
	s := &PCAPSource{
		f:      f,
		r:      r,
		chans:  make([]chan Descriptor, queues),
		closed: make(chan struct{}),
		Paced:  paced,
	}
	for i := range s.chans {
		s.chans[i] = make(chan Descriptor, pcapQueueDepth)
	}
	go s.read()
	return s, nil
}

// read decodes records until EOF or Close, steering each to its queue.
func (s *PCAPSource) read() {
	defer func() {
		for _, ch := range s.chans {
			close(ch)
		}
	}()
	var prev time.Time
	for {
		select {
		case <-s.closed:
			return
		default:
		}
		data, ci, err := s.r.ReadPacketData()
		if err != nil {
			// io.EOF ends the replay; a torn trailing record does too.
			return
		}
		if s.Paced {
			if !prev.IsZero() {
				if gap := ci.Timestamp.Sub(prev); gap > 0 && gap < time.Second {
					time.Sleep(gap)
				}
			}
			prev = ci.Timestamp
		}
		q := 0
		if ip, ok := srcIPOf(data); ok {
			q = QueueFor(ip, len(s.chans))
		}
		d := Descriptor{Data: data, Nanos: ci.Timestamp.UnixNano()}
		select {
		case s.chans[q] <- d:
		default:
			s.dropped.Add(1)
		}
	}
}

// RxBurst drains up to len(out) frames from the queue without blocking.
func (s *PCAPSource) RxBurst(_ context.Context, queue int, out []Descriptor) (int, error) {
	if queue < 0 || queue >= len(s.chans) {
		return 0, io.EOF
	}
	ch := s.chans[queue]
	n := 0
	for n < len(out) {
		select {
		case d, ok := <-ch:
			if !ok {
				if n > 0 {
					s.delivered.Add(uint64(n))
					return n, nil
				}
				return 0, io.EOF
			}
			out[n] = d
			n++
		default:
			s.delivered.Add(uint64(n))
			return n, nil
		}
	}
	s.delivered.Add(uint64(n))
	return n, nil
}

// Queues returns the queue count.
func (s *PCAPSource) Queues() int { return len(s.chans) }

// Close stops the reader. Safe to call more than once.
func (s *PCAPSource) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.f.Close()
	})
	return nil
}

// NICStats reports replay counters in NIC terms.
func (s *PCAPSource) NICStats() NICStats {
	return NICStats{
		RxPackets: s.delivered.Load(),
		RxDropped: s.dropped.Load(),
		NoBuffer:  s.dropped.Load(),
	}
}
