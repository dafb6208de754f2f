// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package costmodel provides the closed-form reliability and cost model behind the
// voting engine. Given a per-sample success rate p > 0.5 it derives the vote margin
// k needed to reach a target end-to-end reliability over many steps, the expected
// sampling effort, and the resulting spend. All functions are pure.
package costmodel

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidSuccessRate is returned when p <= 0.5 (voting cannot converge) or p > 1.
	ErrInvalidSuccessRate = errors.New("costmodel: success rate must be in (0.5, 1]")
	// ErrInvalidTarget is returned when the target reliability is outside (0, 1).
	ErrInvalidTarget = errors.New("costmodel: target reliability must be in (0, 1)")
	// ErrInvalidSteps is returned when the step count is below 1.
	ErrInvalidSteps = errors.New("costmodel: steps must be >= 1")
	// ErrInvalidEstimate is returned when a price, token size or latency is out of range.
	ErrInvalidEstimate = errors.New("costmodel: invalid estimate configuration")
)

var structValidator = validator.New()

const (
	// MaxParallelism caps the per-step concurrency assumed by time estimates.
	MaxParallelism = 10

	// DefaultCallLatency is the per-call latency assumed when none is configured.
	DefaultCallLatency = time.Second
	// DefaultAvgInputTokens is the prompt size assumed when none is configured.
	DefaultAvgInputTokens = 500
	// DefaultAvgOutputTokens is the completion size assumed when none is configured.
	DefaultAvgOutputTokens = 200
)

func validate(steps int, p float64) error {
	if steps < 1 {
		return fmt.Errorf("%w (got %d)", ErrInvalidSteps, steps)
	}
	if math.IsNaN(p) || p <= 0.5 || p > 1 {
		return fmt.Errorf("%w (got %g)", ErrInvalidSuccessRate, p)
	}
	return nil
}

// CalculateMinK returns the smallest vote margin k for which a task of steps
// independent steps, each sampled with per-call success rate p, completes without
// error with probability at least target:
//
//	k = max(1, ceil(ln(target^(-1/steps) - 1) / ln((1-p)/p)))
//
// k grows logarithmically in steps.
func CalculateMinK(steps int, p, target float64) (int, error) {
	if err := validate(steps, p); err != nil {
		return 0, err
	}
	if math.IsNaN(target) || target <= 0 || target >= 1 {
		return 0, fmt.Errorf("%w (got %g)", ErrInvalidTarget, target)
	}
	if p >= 1 {
		return 1, nil
	}

	// target^(-1/steps) - 1, computed with Expm1 so large step counts keep precision.
	perStepSlack := math.Expm1(-math.Log(target) / float64(steps))
	k := math.Ceil(math.Log(perStepSlack) / math.Log((1-p)/p))
	if math.IsNaN(k) || k < 1 {
		return 1, nil
	}
	return int(k), nil
}

// ExpectedSamplesPerStep is the approximate number of samples a first-to-ahead-by-k
// race draws per step at high p: k / (2p - 1). It returns +Inf when p <= 0.5.
func ExpectedSamplesPerStep(k int, p float64) float64 {
	if p <= 0.5 {
		return math.Inf(1)
	}
	return float64(k) / (2*p - 1)
}

// SuccessProbability is the probability that every one of steps voting rounds with
// margin k selects the correct answer:
//
//	(1 + ((1-p)/p)^k)^(-steps)
//
// It returns 0 when p <= 0.5 or p >= 1.
func SuccessProbability(steps, k int, p float64) float64 {
	if p <= 0.5 || p >= 1 {
		return 0
	}
	ratio := math.Pow((1-p)/p, float64(k))
	return math.Pow(1+ratio, -float64(steps))
}

// EstimateConfig holds the inputs of a cost estimate.
type EstimateConfig struct {
	Steps                int           `yaml:"steps" json:"steps" validate:"gte=1"`
	SuccessRate          float64       `yaml:"success-rate" json:"success_rate" validate:"gt=0.5,lte=1"`
	TargetReliability    float64       `yaml:"target-reliability" json:"target_reliability" validate:"gt=0,lt=1"`
	CostPerMillionInput  float64       `yaml:"cost-per-million-input" json:"cost_per_million_input" validate:"gte=0"`
	CostPerMillionOutput float64       `yaml:"cost-per-million-output" json:"cost_per_million_output" validate:"gte=0"`
	AvgInputTokens       int           `yaml:"avg-input-tokens" json:"avg_input_tokens" validate:"gte=0"`
	AvgOutputTokens      int           `yaml:"avg-output-tokens" json:"avg_output_tokens" validate:"gte=0"`
	CallLatency          time.Duration `yaml:"call-latency" json:"call_latency" validate:"gte=0"`
}

func (c EstimateConfig) withDefaults() EstimateConfig {
	if c.AvgInputTokens == 0 {
		c.AvgInputTokens = DefaultAvgInputTokens
	}
	if c.AvgOutputTokens == 0 {
		c.AvgOutputTokens = DefaultAvgOutputTokens
	}
	if c.CallLatency == 0 {
		c.CallLatency = DefaultCallLatency
	}
	return c
}

// Validate checks every field against its tag. Reliability inputs report the
// same sentinels as CalculateMinK; all other fields report ErrInvalidEstimate.
func (c EstimateConfig) Validate() error {
	if err := validate(c.Steps, c.SuccessRate); err != nil {
		return err
	}
	if math.IsNaN(c.TargetReliability) || c.TargetReliability <= 0 || c.TargetReliability >= 1 {
		return fmt.Errorf("%w (got %g)", ErrInvalidTarget, c.TargetReliability)
	}
	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s must satisfy %s=%s (got %v)", ErrInvalidEstimate, fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidEstimate, err)
	}
	return nil
}

// Estimate is the derived cost of running a task under the voting protocol.
type Estimate struct {
	// RequiredK is the minimum vote margin for the target reliability.
	RequiredK int `json:"required_k"`
	// APICalls is RequiredK * Steps.
	APICalls int64 `json:"api_calls"`
	// InputTokens and OutputTokens are APICalls times the average token sizes.
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	// TotalTokens is InputTokens + OutputTokens.
	TotalTokens int64 `json:"total_tokens"`
	// Cost is the monetary cost in the unit of the configured prices.
	Cost float64 `json:"cost"`
	// Parallelism is the assumed per-step concurrency, min(RequiredK, MaxParallelism).
	Parallelism int `json:"parallelism"`
	// EstimatedTime is the wall-clock estimate at the configured call latency.
	EstimatedTime time.Duration `json:"estimated_time"`
	// SuccessProbability is the end-to-end success probability at RequiredK.
	SuccessProbability float64 `json:"success_probability"`
	// ExpectedSamplesPerStep is the first-to-ahead-by-k expectation at RequiredK.
	ExpectedSamplesPerStep float64 `json:"expected_samples_per_step"`
}

// EstimateCost derives RequiredK from the reliability inputs and prices the run.
func EstimateCost(cfg EstimateConfig) (*Estimate, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k, err := CalculateMinK(cfg.Steps, cfg.SuccessRate, cfg.TargetReliability)
	if err != nil {
		return nil, err
	}

	calls := int64(k) * int64(cfg.Steps)
	inputTokens := calls * int64(cfg.AvgInputTokens)
	outputTokens := calls * int64(cfg.AvgOutputTokens)
	cost := float64(inputTokens)/1e6*cfg.CostPerMillionInput + float64(outputTokens)/1e6*cfg.CostPerMillionOutput

	parallelism := min(k, MaxParallelism)
	rounds := float64(calls) / float64(parallelism)

	return &Estimate{
		RequiredK:              k,
		APICalls:               calls,
		InputTokens:            inputTokens,
		OutputTokens:           outputTokens,
		TotalTokens:            inputTokens + outputTokens,
		Cost:                   cost,
		Parallelism:            parallelism,
		EstimatedTime:          time.Duration(rounds * float64(cfg.CallLatency)),
		SuccessProbability:     SuccessProbability(cfg.Steps, k, cfg.SuccessRate),
		ExpectedSamplesPerStep: ExpectedSamplesPerStep(k, cfg.SuccessRate),
	}, nil
}
