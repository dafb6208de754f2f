// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vote

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Strategy selects the termination rule of a voting run.
type Strategy string

const (
	// FirstToK declares the first candidate with k votes the winner.
	FirstToK Strategy = "first-to-k"
	// FirstToAheadByK declares a winner once the leader is k votes ahead of the runner-up.
	FirstToAheadByK Strategy = "first-to-ahead-by-k"
)

// Defaults applied by DefaultConfig and WithDefaults.
const (
	DefaultK                 = 3
	DefaultMaxSamples        = 100
	DefaultInitialBatch      = DefaultK
	DefaultContinuationBatch = 2
	DefaultMaxConcurrency    = 10
	DefaultStrategy          = FirstToAheadByK
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("vote: invalid config")

var validate = validator.New()

// Config holds the immutable parameters of one voting run.
type Config struct {
	// K is the vote margin required to win.
	K int `yaml:"k" json:"k" validate:"gte=1"`
	// MaxSamples is the hard cap on oracle calls.
	MaxSamples int `yaml:"max-samples" json:"max_samples" validate:"gte=1"`
	// Parallel draws samples in concurrent batches instead of one at a time.
	Parallel bool `yaml:"parallel" json:"parallel"`
	// InitialBatch is the size of the first parallel batch; at least K samples are drawn.
	InitialBatch int `yaml:"initial-batch" json:"initial_batch" validate:"gte=0"`
	// ContinuationBatch is the size of every later parallel batch.
	ContinuationBatch int `yaml:"continuation-batch" json:"continuation_batch" validate:"gte=0"`
	// MaxConcurrency caps simultaneous in-flight oracle calls.
	MaxConcurrency int `yaml:"max-concurrency" json:"max_concurrency" validate:"gte=1"`
	// Strategy is the termination rule.
	Strategy Strategy `yaml:"strategy" json:"strategy" validate:"oneof=first-to-k first-to-ahead-by-k"`
	// EarlyTermination stops as soon as the leader can no longer lose.
	EarlyTermination bool `yaml:"early-termination" json:"early_termination"`
}

// DefaultConfig returns the configuration used when a caller supplies none.
func DefaultConfig() Config {
	return Config{
		K:                 DefaultK,
		MaxSamples:        DefaultMaxSamples,
		Parallel:          true,
		InitialBatch:      DefaultInitialBatch,
		ContinuationBatch: DefaultContinuationBatch,
		MaxConcurrency:    DefaultMaxConcurrency,
		Strategy:          DefaultStrategy,
		EarlyTermination:  true,
	}
}

// WithDefaults fills zero numeric fields and an empty strategy from DefaultConfig.
// Boolean switches are taken as given.
func (c Config) WithDefaults() Config {
	if c.K == 0 {
		c.K = DefaultK
	}
	if c.MaxSamples == 0 {
		c.MaxSamples = DefaultMaxSamples
	}
	if c.InitialBatch == 0 {
		c.InitialBatch = c.K
	}
	if c.ContinuationBatch == 0 {
		c.ContinuationBatch = DefaultContinuationBatch
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Strategy == "" {
		c.Strategy = DefaultStrategy
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s must satisfy %s=%s (got %v)", ErrInvalidConfig, fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// initialBatchSize is the number of samples drawn before the first termination check.
func (c Config) initialBatchSize() int {
	if !c.Parallel {
		return 1
	}
	return max(c.InitialBatch, c.K)
}

// continuationBatchSize is the number of samples drawn by every later round.
func (c Config) continuationBatchSize() int {
	if !c.Parallel {
		return 1
	}
	return max(c.ContinuationBatch, 1)
}
