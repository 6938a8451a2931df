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
	gnet "github.com/shirou/gopsutil/v3/net"
)

// IfaceStats reads kernel interface counters for a named NIC, so live runs
// report interface-level packet, drop and error counts.
// Read failures degrade to zeros: NIC statistics are advisory and never fail
// a run.
type IfaceStats struct {
	Iface string
}

// NICStats returns the interface's receive counters.
func (s IfaceStats) NICStats() NICStats {
	counters, err := gnet.IOCounters(true)
	if err != nil {
		return NICStats{}
	}
	for _, c := range counters {
		if c.Name == s.Iface {
			return NICStats{
				RxPackets: c.PacketsRecv,
				RxDropped: c.Dropin,
				RxErrors:  c.Errin,
			}
		}
	}
	return NICStats{}
}
