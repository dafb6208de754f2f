// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package costmodel

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// maxSamplesPerRace bounds a single simulated race; hitting it counts as a failure.
const maxSamplesPerRace = 100000

// Simulation is the empirical outcome of Simulate.
type Simulation struct {
	Trials int `json:"trials"`
	// StepSuccessRate is the fraction of races won by the correct answer.
	StepSuccessRate float64 `json:"step_success_rate"`
	// SuccessProbability extrapolates StepSuccessRate over all steps.
	SuccessProbability float64 `json:"success_probability"`
	// MeanSamplesPerStep and StdDevSamplesPerStep describe race length.
	MeanSamplesPerStep   float64 `json:"mean_samples_per_step"`
	StdDevSamplesPerStep float64 `json:"stddev_samples_per_step"`
}

// Simulate runs trials first-to-ahead-by-k races in which every sample is correct
// with probability p and otherwise votes for a single wrong answer, the worst case
// the closed-form model assumes. The seed makes runs reproducible.
func Simulate(steps, k int, p float64, trials int, seed uint64) (*Simulation, error) {
	if err := validate(steps, p); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("costmodel: k must be >= 1 (got %d)", k)
	}
	if trials < 1 {
		return nil, fmt.Errorf("costmodel: trials must be >= 1 (got %d)", trials)
	}

	sample := distuv.Bernoulli{P: p, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}

	wins := 0
	lengths := make([]float64, trials)
	for i := 0; i < trials; i++ {
		margin, drawn := 0, 0
		for drawn < maxSamplesPerRace && margin < k && margin > -k {
			if sample.Rand() == 1 {
				margin++
			} else {
				margin--
			}
			drawn++
		}
		if margin >= k {
			wins++
		}
		lengths[i] = float64(drawn)
	}

	stepRate := float64(wins) / float64(trials)
	mean, std := stat.MeanStdDev(lengths, nil)
	if trials == 1 {
		std = 0
	}
	return &Simulation{
		Trials:               trials,
		StepSuccessRate:      stepRate,
		SuccessProbability:   math.Pow(stepRate, float64(steps)),
		MeanSamplesPerStep:   mean,
		StdDevSamplesPerStep: std,
	}, nil
}
