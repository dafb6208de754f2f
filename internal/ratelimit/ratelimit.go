// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ratelimit wraps an oracle call with token-bucket throttling, a bound on
// in-flight calls and exponential-backoff retries on transient failures. The
// wrapped call keeps the signature of the original.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config controls a Limiter. Zero values disable the corresponding mechanism.
type Config struct {
	// RequestsPerSecond is the sustained call rate; 0 means unlimited.
	RequestsPerSecond float64 `yaml:"requests-per-second" json:"requests_per_second" validate:"gte=0"`
	// Burst is the token bucket size; defaults to 1 when a rate is set.
	Burst int `yaml:"burst" json:"burst" validate:"gte=0"`
	// MaxConcurrent caps in-flight calls across every wrapped function; 0 means unlimited.
	MaxConcurrent int `yaml:"max-concurrent" json:"max_concurrent" validate:"gte=0"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max-retries" json:"max_retries" validate:"gte=0"`
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `yaml:"initial-backoff" json:"initial_backoff" validate:"gte=0"`
	// MaxBackoff caps every delay, including server-supplied retry hints.
	MaxBackoff time.Duration `yaml:"max-backoff" json:"max_backoff" validate:"gte=0"`
	// Multiplier grows the delay between consecutive retries.
	Multiplier float64 `yaml:"multiplier" json:"multiplier" validate:"gte=0"`
}

// DefaultConfig returns conservative defaults for hosted LLM APIs.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             10,
		MaxConcurrent:     10,
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		Multiplier:        2,
	}
}

// Stats counts limiter activity.
type Stats struct {
	Attempts int64 `json:"attempts"`
	Retries  int64 `json:"retries"`
	Failures int64 `json:"failures"`
}

// Limiter is shared by every call it wraps.
type Limiter struct {
	cfg     Config
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	attempts atomic.Int64
	retries  atomic.Int64
	failures atomic.Int64
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	l := &Limiter{cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.MaxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	if l.cfg.Multiplier < 1 {
		l.cfg.Multiplier = 1
	}
	return l
}

// Stats returns the current counters.
func (l *Limiter) Stats() Stats {
	return Stats{
		Attempts: l.attempts.Load(),
		Retries:  l.retries.Load(),
		Failures: l.failures.Load(),
	}
}

// Wrap returns call guarded by l.
func Wrap[I, O any](l *Limiter, call func(context.Context, I) (O, error)) func(context.Context, I) (O, error) {
	return func(ctx context.Context, input I) (O, error) {
		var zero O
		var lastErr error

		for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
			if attempt > 0 {
				delay := l.backoff(attempt, lastErr)
				log.WithFields(log.Fields{
					"attempt": attempt + 1,
					"delay":   delay,
				}).WithError(lastErr).Debug("ratelimit: retrying transient failure")
				l.retries.Add(1)

				select {
				case <-ctx.Done():
					return zero, ctx.Err()
				case <-time.After(delay):
				}
			}

			out, err := callOnce(ctx, l, call, input)
			if err == nil {
				return out, nil
			}
			lastErr = err
			if !IsTransient(err) || ctx.Err() != nil {
				break
			}
		}

		l.failures.Add(1)
		return zero, lastErr
	}
}

func callOnce[I, O any](ctx context.Context, l *Limiter, call func(context.Context, I) (O, error), input I) (O, error) {
	var zero O
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return zero, err
		}
		defer l.sem.Release(1)
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("ratelimit: %w", err)
		}
	}
	l.attempts.Add(1)
	return call(ctx, input)
}

// backoff returns the delay before retry number attempt (1-based). A larger
// server-supplied retry hint wins; both are capped at MaxBackoff.
func (l *Limiter) backoff(attempt int, lastErr error) time.Duration {
	delay := time.Duration(float64(l.cfg.InitialBackoff) * math.Pow(l.cfg.Multiplier, float64(attempt-1)))
	var hinted interface{ RetryAfter() time.Duration }
	if errors.As(lastErr, &hinted) && hinted.RetryAfter() > delay {
		delay = hinted.RetryAfter()
	}
	if l.cfg.MaxBackoff > 0 && delay > l.cfg.MaxBackoff {
		delay = l.cfg.MaxBackoff
	}
	return delay
}

// IsTransient reports whether err is worth retrying. Errors opt in by implementing
// Transient() bool; network timeouts are transient; cancellation never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
