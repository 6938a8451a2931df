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

package predict

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeModel(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadLinear(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		path := writeModel(t, `{
			"classes": ["benign", "udp_flood"],
			"weights": [[0.1, -0.2], [-0.1, 0.4]],
			"bias": [0.5, -0.5]
		}`)
		m, err := LoadLinear(path)
		if err != nil {
			t.Fatalf("LoadLinear: %v", err)
		}
		if len(m.Classes) != 2 {
			t.Errorf("classes = %v", m.Classes)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := LoadLinear(filepath.Join(t.TempDir(), "absent.json")); err == nil {
			t.Error("missing model loaded")
		}
	})

	t.Run("BadJSON", func(t *testing.T) {
		if _, err := LoadLinear(writeModel(t, `{not json`)); err == nil {
			t.Error("malformed model loaded")
		}
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		cases := map[string]string{
			"BiasShort":   `{"classes":["a","b"],"weights":[[1],[1]],"bias":[0]}`,
			"WeightsShort": `{"classes":["a","b"],"weights":[[1]],"bias":[0,0]}`,
			"RaggedRows":  `{"classes":["a","b"],"weights":[[1,2],[1]],"bias":[0,0]}`,
			"NoClasses":   `{"classes":[],"weights":[],"bias":[]}`,
		}
		for name, body := range cases {
			t.Run(name, func(t *testing.T) {
				if _, err := LoadLinear(writeModel(t, body)); err == nil {
					t.Error("bad shape accepted")
				}
			})
		}
	})
}

func TestLinear_Predict(t *testing.T) {
	m := &Linear{
		Classes: []string{"benign", "udp_flood"},
		Weights: [][]float64{{1, 0}, {0, 1}},
		Bias:    []float64{0, 0},
	}

	p, err := m.Predict([]float64{5, 0})
	if err != nil {
		t.Fatal(err)
	}
	if p.Class != "benign" {
		t.Errorf("class = %q, want benign", p.Class)
	}
	sum := 0.0
	for _, v := range p.Probs {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %v, want 1", sum)
	}
	if p.Confidence != p.Probs[0] {
		t.Errorf("confidence %v != argmax probability %v", p.Confidence, p.Probs[0])
	}

	p, _ = m.Predict([]float64{0, 5})
	if p.Class != "udp_flood" || p.Confidence <= 0.5 {
		t.Errorf("flood vector predicted (%q, %v)", p.Class, p.Confidence)
	}

	if _, err := m.Predict([]float64{1, 2, 3}); err == nil {
		t.Error("wrong-width feature vector accepted")
	}
}

func TestLinear_SoftmaxStability(t *testing.T) {
	// Huge scores must not overflow to NaN.
	m := &Linear{
		Classes: []string{"a", "b"},
		Weights: [][]float64{{1000}, {-1000}},
		Bias:    []float64{0, 0},
	}
	p, err := m.Predict([]float64{1000})
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(p.Confidence) || p.Class != "a" {
		t.Errorf("prediction = (%q, %v)", p.Class, p.Confidence)
	}
}

func TestNoOpAndFixed(t *testing.T) {
	if p, err := (NoOp{}).Predict(nil); err != nil || p.Class != "" {
		t.Errorf("NoOp = (%+v, %v)", p, err)
	}
	f := Fixed{Out: Prediction{Class: "benign", Confidence: 0.9}}
	if p, _ := f.Predict(nil); p.Class != "benign" || p.Confidence != 0.9 {
		t.Errorf("Fixed = %+v", p)
	}
}
