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

// Package predict defines the synchronous ML prediction hook the detector
// may invoke once per fast tick, plus the shipped implementations: a
// linear-softmax model loaded from a JSON file, a no-op, and a fixed-output
// predictor for exercising the alert matrix. Any
// implementation must stay inside the fast-tick latency budget; the detector
// measures the call and drops the augmentation for the tick when it runs
// long or errors.
package predict

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Prediction is the classifier output for one feature vector.
type Prediction struct {
	Class      string
	Confidence float64
	Probs      []float64
}

// Predictor is the single polymorphic hook in the engine. Gradient-boosted
// trees, a lookup table, or a no-op all fit behind it as long as Predict
// returns within the budget.
type Predictor interface {
	Predict(features []float64) (Prediction, error)
}

// NoOp is the disabled predictor: it reports nothing with zero confidence.
type NoOp struct{}

// Predict always returns an empty prediction.
func (NoOp) Predict([]float64) (Prediction, error) { return Prediction{}, nil }

// Linear is a multinomial logistic model: one weight vector and bias per
// class, softmax over the scores. Small enough to evaluate in nanoseconds,
// which keeps the predictor far inside the tick budget.
type Linear struct {
	Classes []string    `json:"classes"`
	Weights [][]float64 `json:"weights"` // [class][feature]
	Bias    []float64   `json:"bias"`
}

// LoadLinear reads a JSON model file. Model load errors are startup errors;
// the file is the only thing the engine ever reads from disk.
func LoadLinear(path string) (*Linear, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var m Linear
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if len(m.Classes) == 0 || len(m.Weights) != len(m.Classes) || len(m.Bias) != len(m.Classes) {
		return nil, fmt.Errorf("model shape mismatch: %d classes, %d weight rows, %d biases",
			len(m.Classes), len(m.Weights), len(m.Bias))
	}
	for i, w := range m.Weights {
		if len(w) != len(m.Weights[0]) {
			return nil, fmt.Errorf("weight row %d has %d features, row 0 has %d", i, len(w), len(m.Weights[0]))
		}
	}
	return &m, nil
}

// Predict scores the feature vector against every class and softmaxes.
func (m *Linear) Predict(features []float64) (Prediction, error) {
	if len(m.Weights) > 0 && len(features) != len(m.Weights[0]) {
		return Prediction{}, fmt.Errorf("feature vector has %d entries, model expects %d", len(features), len(m.Weights[0]))
	}
	scores := make([]float64, len(m.Classes))
	maxScore := math.Inf(-1)
	for c := range m.Classes {
		s := m.Bias[c]
		for f, x := range features {
			s += m.Weights[c][f] * x
		}
		scores[c] = s
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	for c, s := range scores {
		scores[c] = math.Exp(s - maxScore)
		sum += scores[c]
	}
	best := 0
	for c := range scores {
		scores[c] /= sum
		if scores[c] > scores[best] {
			best = c
		}
	}
	return Prediction{Class: m.Classes[best], Confidence: scores[best], Probs: scores}, nil
}

// Fixed always returns the same prediction. Useful for exercising the hybrid
// alert matrix without a trained model.
type Fixed struct {
	Out Prediction
}

// Predict returns the configured prediction.
func (f Fixed) Predict([]float64) (Prediction, error) { return f.Out, nil }
