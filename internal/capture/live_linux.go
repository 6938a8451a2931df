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
	"sync"
	"sync/atomic"

	"github.com/google/gopacket/pcapgo"
)

// LiveSource receives from an AF_PACKET socket on a network interface and
// fans frames out to per-queue channels by source hash, standing in for NIC
// receive-side steering. Linux only.
type LiveSource struct {
	handle *pcapgo.EthernetHandle
	chans  []chan Descriptor
	closed chan struct{}
	once   sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// OpenLive attaches to the interface in promiscuous mode.
func OpenLive(iface string, queues int) (*LiveSource, error) {
	h, err := pcapgo.NewEthernetHandle(iface)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", iface, err)
	}
	if err := h.SetPromiscuous(true); err != nil {
		h.Close()
		return nil, fmt.Errorf("promiscuous mode on %s: %w", iface, err)
	}
	if queues <= 0 {
		queues = 1
	}
	s := &LiveSource{
		handle: h,
		chans:  make([]chan Descriptor, queues),
		closed: make(chan struct{}),
	}
	for i := range s.chans {
		s.chans[i] = make(chan Descriptor, pcapQueueDepth)
	}
	go s.read()
	return s, nil
}

func (s *LiveSource) read() {
	defer func() {
		for _, ch := range s.chans {
			close(ch)
		}
	}()
	for {
		select {
		case <-s.closed:
			return
		default:
		}
		data, ci, err := s.handle.ReadPacketData()
		if err != nil {
			return
		}
		// The socket reuses its buffer; copy before publishing.
		frame := append([]byte(nil), data...)
		q := 0
		if ip, ok := srcIPOf(frame); ok {
			q = QueueFor(ip, len(s.chans))
		}
		select {
		case s.chans[q] <- Descriptor{Data: frame, Nanos: ci.Timestamp.UnixNano()}:
		default:
			s.dropped.Add(1)
		}
	}
}

// RxBurst drains up to len(out) frames from the queue without blocking.
func (s *LiveSource) RxBurst(_ context.Context, queue int, out []Descriptor) (int, error) {
	if queue < 0 || queue >= len(s.chans) {
		return 0, io.EOF
	}
	n := 0
	for n < len(out) {
		select {
		case d, ok := <-s.chans[queue]:
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
func (s *LiveSource) Queues() int { return len(s.chans) }

// Close detaches from the interface.
func (s *LiveSource) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.handle.Close()
	})
	return nil
}

// NICStats merges socket-level counters with the fan-out drop count.
func (s *LiveSource) NICStats() NICStats {
	st := NICStats{
		RxPackets: s.delivered.Load(),
		NoBuffer:  s.dropped.Load(),
		RxDropped: s.dropped.Load(),
	}
	if sock, err := s.handle.Stats(); err == nil {
		st.RxPackets = uint64(sock.Packets)
		st.RxDropped += uint64(sock.Drops)
	}
	return st
}
