// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package costmodel

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMinK_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		steps  int
		p      float64
		target float64
		want   error
	}{
		{"p at one half", 10, 0.5, 0.9, ErrInvalidSuccessRate},
		{"p below one half", 10, 0.3, 0.9, ErrInvalidSuccessRate},
		{"p above one", 10, 1.2, 0.9, ErrInvalidSuccessRate},
		{"p NaN", 10, math.NaN(), 0.9, ErrInvalidSuccessRate},
		{"target zero", 10, 0.9, 0, ErrInvalidTarget},
		{"target one", 10, 0.9, 1, ErrInvalidTarget},
		{"target negative", 10, 0.9, -0.5, ErrInvalidTarget},
		{"zero steps", 0, 0.9, 0.9, ErrInvalidSteps},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CalculateMinK(tt.steps, tt.p, tt.target)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCalculateMinK_KnownValues(t *testing.T) {
	k, err := CalculateMinK(1, 1.0, 0.99)
	require.NoError(t, err)
	assert.Equal(t, 1, k, "perfect oracle needs margin 1")

	// One step, p=0.9, target 0.99: ln(1/0.99 - 1) / ln(1/9) = 2.09, so k = 3.
	k, err = CalculateMinK(1, 0.9, 0.99)
	require.NoError(t, err)
	assert.Equal(t, 3, k)

	// Loose target still requires at least one vote.
	k, err = CalculateMinK(1, 0.99, 0.01)
	require.NoError(t, err)
	assert.Equal(t, 1, k)
}

func TestCalculateMinK_LogarithmicGrowth(t *testing.T) {
	prev := 0
	for _, steps := range []int{1_000, 10_000, 100_000, 1_000_000} {
		k, err := CalculateMinK(steps, 0.99, 0.95)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, k, 1)
		assert.LessOrEqual(t, k, 5, "steps=%d", steps)
		assert.GreaterOrEqual(t, k, prev)
		prev = k
	}
}

func TestExpectedSamplesPerStep(t *testing.T) {
	assert.InDelta(t, 3.0/0.8, ExpectedSamplesPerStep(3, 0.9), 1e-12)
	assert.Equal(t, 3.0, ExpectedSamplesPerStep(3, 1.0))
	assert.True(t, math.IsInf(ExpectedSamplesPerStep(3, 0.5), 1))
}

func TestSuccessProbability(t *testing.T) {
	assert.Equal(t, 0.0, SuccessProbability(10, 3, 0.5))
	assert.Equal(t, 0.0, SuccessProbability(10, 3, 0.2))
	assert.Equal(t, 0.0, SuccessProbability(10, 3, 1.0))

	// p=0.75, k=2: ratio (1/3)^2 = 1/9, one step -> 9/10.
	assert.InDelta(t, 0.9, SuccessProbability(1, 2, 0.75), 1e-12)
	assert.InDelta(t, math.Pow(0.9, 5), SuccessProbability(5, 2, 0.75), 1e-12)
}

func TestSuccessProbability_MeetsTargetAtMinK(t *testing.T) {
	for _, steps := range []int{1, 10, 1000, 100000} {
		for _, p := range []float64{0.6, 0.8, 0.95, 0.999} {
			k, err := CalculateMinK(steps, p, 0.9)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, SuccessProbability(steps, k, p), 0.9-1e-9, "steps=%d p=%g k=%d", steps, p, k)
			if k > 1 {
				assert.Less(t, SuccessProbability(steps, k-1, p), 0.9, "k-1 should miss the target")
			}
		}
	}
}

func TestEstimateCost(t *testing.T) {
	est, err := EstimateCost(EstimateConfig{
		Steps:                1000,
		SuccessRate:          0.99,
		TargetReliability:    0.95,
		CostPerMillionInput:  1.0,
		CostPerMillionOutput: 2.0,
		AvgInputTokens:       1000,
		AvgOutputTokens:      500,
		CallLatency:          2 * time.Second,
	})
	require.NoError(t, err)

	k, err := CalculateMinK(1000, 0.99, 0.95)
	require.NoError(t, err)

	assert.Equal(t, k, est.RequiredK)
	assert.Equal(t, int64(k*1000), est.APICalls)
	assert.Equal(t, int64(k*1000*1000), est.InputTokens)
	assert.Equal(t, int64(k*1000*500), est.OutputTokens)
	assert.Equal(t, est.InputTokens+est.OutputTokens, est.TotalTokens)
	assert.InDelta(t, float64(k)*1000*(1000*1.0+500*2.0)/1e6, est.Cost, 1e-9)
	assert.Equal(t, min(k, MaxParallelism), est.Parallelism)
	assert.Equal(t, time.Duration(float64(est.APICalls)/float64(est.Parallelism)*float64(2*time.Second)), est.EstimatedTime)
	assert.InDelta(t, SuccessProbability(1000, k, 0.99), est.SuccessProbability, 1e-12)
	assert.GreaterOrEqual(t, est.SuccessProbability, 0.95)
}

func TestEstimateCost_Defaults(t *testing.T) {
	est, err := EstimateCost(EstimateConfig{Steps: 10, SuccessRate: 0.9, TargetReliability: 0.9})
	require.NoError(t, err)

	assert.Equal(t, est.APICalls*DefaultAvgInputTokens, est.InputTokens)
	assert.Equal(t, est.APICalls*DefaultAvgOutputTokens, est.OutputTokens)
	assert.Equal(t, 0.0, est.Cost)
	assert.Greater(t, est.EstimatedTime, time.Duration(0))
}

func TestEstimateCost_Invalid(t *testing.T) {
	_, err := EstimateCost(EstimateConfig{Steps: 10, SuccessRate: 0.4, TargetReliability: 0.9})
	assert.ErrorIs(t, err, ErrInvalidSuccessRate)

	_, err = EstimateCost(EstimateConfig{Steps: 10, SuccessRate: 0.9, TargetReliability: 1.5})
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestEstimateCost_RejectsNegativeInputs(t *testing.T) {
	base := EstimateConfig{Steps: 10, SuccessRate: 0.9, TargetReliability: 0.9}
	tests := []struct {
		name   string
		mutate func(*EstimateConfig)
	}{
		{"negative input price", func(c *EstimateConfig) { c.CostPerMillionInput = -1 }},
		{"negative output price", func(c *EstimateConfig) { c.CostPerMillionOutput = -0.5 }},
		{"NaN input price", func(c *EstimateConfig) { c.CostPerMillionInput = math.NaN() }},
		{"negative input tokens", func(c *EstimateConfig) { c.AvgInputTokens = -100 }},
		{"negative output tokens", func(c *EstimateConfig) { c.AvgOutputTokens = -1 }},
		{"negative latency", func(c *EstimateConfig) { c.CallLatency = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			est, err := EstimateCost(cfg)
			assert.ErrorIs(t, err, ErrInvalidEstimate)
			assert.Nil(t, est)
		})
	}

	est, err := EstimateCost(base)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, est.Cost, 0.0)
}

func TestSimulate(t *testing.T) {
	sim, err := Simulate(1, 3, 0.8, 20000, 42)
	require.NoError(t, err)

	// Gambler's ruin: per-step win probability equals the closed form for one step.
	assert.InDelta(t, SuccessProbability(1, 3, 0.8), sim.StepSuccessRate, 0.01)
	assert.InDelta(t, 4.85, sim.MeanSamplesPerStep, 0.3)
	assert.Greater(t, sim.StdDevSamplesPerStep, 0.0)

	again, err := Simulate(1, 3, 0.8, 20000, 42)
	require.NoError(t, err)
	assert.Equal(t, sim, again, "same seed must reproduce the run")

	multi, err := Simulate(10, 3, 0.8, 20000, 42)
	require.NoError(t, err)
	assert.InDelta(t, math.Pow(multi.StepSuccessRate, 10), multi.SuccessProbability, 1e-12)
}

func TestSimulate_Invalid(t *testing.T) {
	_, err := Simulate(1, 3, 0.5, 10, 1)
	assert.ErrorIs(t, err, ErrInvalidSuccessRate)
	_, err = Simulate(1, 0, 0.9, 10, 1)
	assert.Error(t, err)
	_, err = Simulate(1, 3, 0.9, 0, 1)
	assert.Error(t, err)

	sim, err := Simulate(1, 2, 1.0, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sim.StepSuccessRate)
	assert.Equal(t, 2.0, sim.MeanSamplesPerStep)
	assert.Equal(t, 0.0, sim.StdDevSamplesPerStep)
}
