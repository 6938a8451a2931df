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

// FeatureCount is the fixed length of the window feature vector handed to
// the predictor. Models are trained against this exact layout.
const FeatureCount = 13

// BuildFeatures flattens a window into the fixed feature vector:
// raw counts first, derived ratios last. Ratio denominators are clamped to 1
// so an idle window produces zeros instead of NaNs.
func BuildFeatures(ws WindowStats) []float64 {
	totalBytes := ws.BytesIn + ws.BytesOut
	f := make([]float64, 0, FeatureCount)
	f = append(f,
		float64(ws.Packets),
		float64(totalBytes),
		float64(ws.UDPPackets),
		float64(ws.TCPPackets),
		float64(ws.ICMPPackets),
		float64(ws.SYNPackets),
		float64(ws.HTTPPackets),
		float64(ws.BaselinePackets),
		float64(ws.AttackPackets),
		float64(ws.UDPPackets)/nz(ws.TCPPackets),
		float64(ws.SYNPackets)/nz(ws.Packets),
		float64(ws.BaselinePackets)/nz(ws.AttackPackets),
		float64(totalBytes)/nz(ws.Packets),
	)
	return f
}

func nz(v uint64) float64 {
	if v == 0 {
		return 1
	}
	return float64(v)
}
