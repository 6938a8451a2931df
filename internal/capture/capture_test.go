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
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func TestQueueFor_DeterministicAndSpread(t *testing.T) {
	const queues = 4
	for ip := uint32(1); ip < 100; ip++ {
		a := QueueFor(ip, queues)
		b := QueueFor(ip, queues)
		if a != b {
			t.Fatalf("QueueFor(%d) unstable: %d vs %d", ip, a, b)
		}
		if a < 0 || a >= queues {
			t.Fatalf("QueueFor(%d) = %d out of range", ip, a)
		}
	}
	// Many sources must land on more than one queue.
	seen := map[int]bool{}
	for ip := uint32(1); ip < 1000; ip++ {
		seen[QueueFor(ip, queues)] = true
	}
	if len(seen) != queues {
		t.Errorf("1000 sources used %d of %d queues", len(seen), queues)
	}
}

func TestScriptedSource_SteersByFlowAndDrains(t *testing.T) {
	src := NewScriptedSource(4)
	frames := map[uint32]int{}
	for ip := uint32(1); ip <= 50; ip++ {
		for j := 0; j < 10; j++ {
			src.Inject(BuildUDP(0x0A000000+ip, 0xC0A80101, 1000, 53, 10), int64(j))
			frames[0x0A000000+ip]++
		}
	}
	src.Finish()

	got := 0
	out := make([]Descriptor, 16)
	for q := 0; q < src.Queues(); q++ {
		for {
			n, err := src.RxBurst(context.Background(), q, out)
			got += n
			if err != nil {
				if !errors.Is(err, io.EOF) {
					t.Fatalf("RxBurst: %v", err)
				}
				break
			}
			if n == 0 {
				t.Fatal("finished source returned (0, nil)")
			}
			// Flow affinity: every frame on this queue hashes here.
			for i := 0; i < n; i++ {
				ip, ok := srcIPOf(out[i].Data)
				if !ok {
					t.Fatal("injected frame failed to parse")
				}
				if QueueFor(ip, src.Queues()) != q {
					t.Fatalf("frame from %x delivered to queue %d", ip, q)
				}
			}
		}
	}
	if got != 500 {
		t.Errorf("drained %d frames, want 500", got)
	}
	if st := src.NICStats(); st.RxPackets != 500 || st.RxDropped != 0 {
		t.Errorf("stats = %+v, want 500 delivered, 0 dropped", st)
	}
}

func TestScriptedSource_CapacityDropsCount(t *testing.T) {
	src := NewScriptedSource(1)
	src.Capacity = 10
	frame := BuildUDP(0x0A000001, 0xC0A80101, 1, 2, 0)
	accepted := 0
	for i := 0; i < 25; i++ {
		if src.Inject(frame, int64(i)) {
			accepted++
		}
	}
	if accepted != 10 {
		t.Errorf("accepted %d frames, want 10", accepted)
	}
	if st := src.NICStats(); st.RxDropped != 15 {
		t.Errorf("dropped = %d, want 15", st.RxDropped)
	}
}

// TestPCAPSource_RoundTrip writes a capture with the pcapgo writer and reads
// it back through the replay source.
func TestPCAPSource_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	base := time.Unix(1700000000, 0)
	const total = 300
	for i := 0; i < total; i++ {
		frame := BuildUDP(0x0A000000+uint32(i%7), 0xC0A80101, 4000, 53, 32)
		ci := gopacket.CaptureInfo{Timestamp: base.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(frame), Length: len(frame)}
		if err := w.WritePacket(ci, frame); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	src, err := OpenPCAP(path, 2, false)
	if err != nil {
		t.Fatalf("OpenPCAP: %v", err)
	}
	defer src.Close()

	got := 0
	deadline := time.Now().Add(10 * time.Second)
	out := make([]Descriptor, 32)
	eof := make([]bool, src.Queues())
	for (!eof[0] || !eof[1]) && time.Now().Before(deadline) {
		for q := 0; q < src.Queues(); q++ {
			if eof[q] {
				continue
			}
			n, err := src.RxBurst(context.Background(), q, out)
			got += n
			for i := 0; i < n; i++ {
				if out[i].Nanos < base.UnixNano() {
					t.Fatalf("capture timestamp lost: %d", out[i].Nanos)
				}
			}
			if errors.Is(err, io.EOF) {
				eof[q] = true
			}
		}
	}
	if got != total {
		t.Errorf("replayed %d frames, want %d", got, total)
	}
}

func TestOpenPCAP_MissingFile(t *testing.T) {
	if _, err := OpenPCAP(filepath.Join(t.TempDir(), "absent.pcap"), 1, false); err == nil {
		t.Error("OpenPCAP succeeded on a missing file")
	}
}

func TestBuildFrame_ParsesBackViaGopacket(t *testing.T) {
	frame := BuildTCP(0x0A000001, 0xC0A80101, 1234, 443, true, false, 64)
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		t.Fatal("built frame has no TCP layer")
	}
	tcp := tcpLayer.(*layers.TCP)
	if !tcp.SYN || tcp.ACK || tcp.DstPort != 443 {
		t.Errorf("flags/port mismatch: syn=%v ack=%v dst=%v", tcp.SYN, tcp.ACK, tcp.DstPort)
	}
	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if ip.SrcIP.String() != "10.0.0.1" {
		t.Errorf("src = %s, want 10.0.0.1", ip.SrcIP)
	}
}
