// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package vote implements the consensus engine: it samples a stochastic oracle
// repeatedly, discards red-flagged responses, groups the rest by canonical key and
// stops once one candidate holds the required vote margin or the sample budget is
// spent.
package vote

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/traylinx/switchAIVote/internal/canonical"
	"github.com/traylinx/switchAIVote/internal/redflag"
)

// ErrNoValidSamples is returned when the budget is exhausted without a single
// response surviving the red-flag gate.
var ErrNoValidSamples = errors.New("vote: no valid samples")

// Oracle produces one candidate response for input. It may be called concurrently.
type Oracle[I, O any] func(ctx context.Context, input I) (O, error)

// Outcome classifies one drawn sample.
type Outcome string

const (
	OutcomeVote    Outcome = "vote"
	OutcomeFlagged Outcome = "flagged"
	OutcomeError   Outcome = "error"
)

// Status classifies a finished run.
type Status string

const (
	StatusConverged Status = "converged"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Observer receives per-sample and per-run events. Implementations must be safe for
// concurrent use when shared between runs.
type Observer interface {
	ObserveSample(outcome, rule string, latency time.Duration)
	ObserveRun(status string, samples, flagged int, elapsed time.Duration)
}

// Sample describes one oracle call after it has been gated and canonicalized.
type Sample[O any] struct {
	RunID    string
	Index    int
	Outcome  Outcome
	Response O
	// Key is the canonical key for votes and empty otherwise.
	Key string
	// Rule names the red-flag rule that discarded the sample.
	Rule    string
	Err     error
	Latency time.Duration
}

// Options configure a single call to Vote. The zero value is usable.
type Options[O any] struct {
	// Config overrides DefaultConfig; zero numeric fields keep their defaults.
	Config *Config
	// RedFlags discards responses before they are counted.
	RedFlags redflag.Gate
	// Serializer maps responses to canonical keys. Defaults to canonical.Exact.
	Serializer canonical.Serializer
	// MetaOf supplies red-flag metadata such as the token count of a response.
	MetaOf func(response O) *redflag.ResponseMeta
	// OnSample is invoked once per sample from the aggregation loop, never concurrently.
	OnSample func(Sample[O])
	Observer Observer
}

// Result is the outcome of a run that produced at least one valid vote.
type Result[O any] struct {
	RunID string `json:"run_id"`
	// Winner is the retained raw response of the leading candidate.
	Winner    O      `json:"winner"`
	WinnerKey string `json:"winner_key"`
	// Confidence is the winner's share of valid votes.
	Confidence     float64        `json:"confidence"`
	TotalSamples   int            `json:"total_samples"`
	FlaggedSamples int            `json:"flagged_samples"`
	Votes          map[string]int `json:"votes"`
	Candidates     []Candidate    `json:"candidates"`
	// Converged is false when the budget ran out before any candidate won.
	Converged bool `json:"converged"`
	// Advisory explains a non-converged result.
	Advisory string        `json:"advisory,omitempty"`
	Duration time.Duration `json:"duration"`
}

type draw[O any] struct {
	response O
	err      error
	latency  time.Duration
}

type run[I, O any] struct {
	cfg     Config
	oracle  Oracle[I, O]
	input   I
	opts    Options[O]
	ser     canonical.Serializer
	tally   *Tally[O]
	logger  *log.Entry
	id      string
	started time.Time

	drawn   int
	flagged int
}

// Vote samples oracle with input until a candidate wins under the configured
// strategy or MaxSamples responses have been drawn.
//
// A run that spends its budget with at least one valid vote returns a Result with
// Converged set to false and an Advisory. A run without valid votes returns
// ErrNoValidSamples. Cancelling ctx is observed between batches; the in-flight
// batch is allowed to finish.
func Vote[I, O any](ctx context.Context, oracle Oracle[I, O], input I, opts Options[O]) (*Result[O], error) {
	if oracle == nil {
		return nil, fmt.Errorf("%w: oracle is nil", ErrInvalidConfig)
	}
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = opts.Config.WithDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ser := opts.Serializer
	if ser == nil {
		ser = canonical.Exact()
	}

	id := uuid.NewString()[:8]
	r := &run[I, O]{
		cfg:     cfg,
		oracle:  oracle,
		input:   input,
		opts:    opts,
		ser:     ser,
		tally:   NewTally[O](),
		logger:  log.WithField("run_id", id),
		id:      id,
		started: time.Now(),
	}
	return r.loop(ctx)
}

func (r *run[I, O]) loop(ctx context.Context) (*Result[O], error) {
	r.logger.WithFields(log.Fields{
		"k":           r.cfg.K,
		"max_samples": r.cfg.MaxSamples,
		"strategy":    r.cfg.Strategy,
		"parallel":    r.cfg.Parallel,
	}).Debug("vote: run started")

	batch := r.cfg.initialBatchSize()
	for {
		if err := ctx.Err(); err != nil {
			r.finish(StatusCancelled)
			return nil, fmt.Errorf("vote: run %s cancelled after %d samples: %w", r.id, r.drawn, err)
		}

		n := min(batch, r.cfg.MaxSamples-r.drawn)
		draws := r.drawBatch(ctx, n)
		for i, d := range draws {
			r.fold(r.drawn+i, d)
		}
		r.drawn += n

		ranked := r.tally.Ranked()
		if leader, ok := decide(r.cfg.Strategy, r.cfg.K, ranked); ok {
			return r.converged(leader, ranked), nil
		}
		if r.cfg.EarlyTermination {
			if leader, ok := guaranteed(r.cfg.Strategy, r.cfg.K, ranked, r.cfg.MaxSamples-r.drawn); ok {
				r.logger.WithField("leader_votes", leader.Votes).Debug("vote: leader cannot be overtaken")
				return r.converged(leader, ranked), nil
			}
		}
		if r.drawn >= r.cfg.MaxSamples {
			return r.exhausted(ranked)
		}
		batch = r.cfg.continuationBatchSize()
	}
}

// drawBatch issues n oracle calls. Each call writes only its own slot, so results
// keep batch order regardless of completion order.
func (r *run[I, O]) drawBatch(ctx context.Context, n int) []draw[O] {
	draws := make([]draw[O], n)
	if n == 1 || !r.cfg.Parallel {
		for i := range draws {
			draws[i] = r.call(ctx)
		}
		return draws
	}

	g := new(errgroup.Group)
	g.SetLimit(r.cfg.MaxConcurrency)
	for i := range draws {
		g.Go(func() error {
			draws[i] = r.call(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return draws
}

// call invokes the oracle once. A panicking oracle counts as a failed sample.
func (r *run[I, O]) call(ctx context.Context) (d draw[O]) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithField("panic", rec).Errorf("vote: oracle panicked\n%s", debug.Stack())
			d = draw[O]{err: fmt.Errorf("vote: oracle panicked: %v", rec)}
		}
		d.latency = time.Since(start)
	}()
	resp, err := r.oracle(ctx, r.input)
	return draw[O]{response: resp, err: err}
}

// fold classifies one draw and records it. It runs only on the aggregation loop.
func (r *run[I, O]) fold(index int, d draw[O]) {
	s := Sample[O]{RunID: r.id, Index: index, Latency: d.latency}

	switch {
	case d.err != nil:
		s.Outcome = OutcomeError
		s.Err = d.err
		r.flagged++
		r.logger.WithError(d.err).WithField("sample", index).Debug("vote: oracle call failed")

	default:
		s.Response = d.response
		text := canonical.Text(d.response)
		if rule, hit := r.opts.RedFlags.Check(text, r.meta(d, text)); hit {
			s.Outcome = OutcomeFlagged
			s.Rule = rule.Name()
			r.flagged++
			r.logger.WithFields(log.Fields{"sample": index, "rule": s.Rule}).Debug("vote: response red-flagged")
			break
		}
		s.Outcome = OutcomeVote
		s.Key = r.ser.Serialize(d.response)
		r.tally.Add(s.Key, d.response)
	}

	if r.opts.Observer != nil {
		r.opts.Observer.ObserveSample(string(s.Outcome), s.Rule, s.Latency)
	}
	if r.opts.OnSample != nil {
		r.opts.OnSample(s)
	}
}

func (r *run[I, O]) meta(d draw[O], text string) *redflag.ResponseMeta {
	var meta *redflag.ResponseMeta
	if r.opts.MetaOf != nil {
		meta = r.opts.MetaOf(d.response)
	}
	if meta == nil {
		meta = &redflag.ResponseMeta{}
	}
	if meta.RawText == "" {
		meta.RawText = text
	}
	if meta.Latency == 0 {
		meta.Latency = d.latency
	}
	return meta
}

func (r *run[I, O]) result(leader Candidate, ranked []Candidate) *Result[O] {
	winner, _ := r.tally.Representative(leader.Key)
	return &Result[O]{
		RunID:          r.id,
		Winner:         winner,
		WinnerKey:      leader.Key,
		Confidence:     float64(leader.Votes) / float64(r.tally.Total()),
		TotalSamples:   r.drawn,
		FlaggedSamples: r.flagged,
		Votes:          r.tally.Counts(),
		Candidates:     ranked,
		Duration:       time.Since(r.started),
	}
}

func (r *run[I, O]) converged(leader Candidate, ranked []Candidate) *Result[O] {
	res := r.result(leader, ranked)
	res.Converged = true
	r.finish(StatusConverged)
	r.logger.WithFields(log.Fields{
		"samples":    res.TotalSamples,
		"flagged":    res.FlaggedSamples,
		"votes":      leader.Votes,
		"candidates": len(ranked),
		"confidence": fmt.Sprintf("%.2f", res.Confidence),
	}).Info("vote: converged")
	return res
}

func (r *run[I, O]) exhausted(ranked []Candidate) (*Result[O], error) {
	if len(ranked) == 0 {
		r.finish(StatusFailed)
		r.logger.WithFields(log.Fields{"samples": r.drawn, "flagged": r.flagged}).Error("vote: no valid samples")
		return nil, fmt.Errorf("%w: all %d samples of run %s were flagged or failed", ErrNoValidSamples, r.drawn, r.id)
	}

	res := r.result(ranked[0], ranked)
	res.Advisory = advisory(r.cfg, ranked, r.tally.Total(), r.flagged)
	r.finish(StatusExhausted)
	r.logger.WithFields(log.Fields{
		"samples":    res.TotalSamples,
		"flagged":    res.FlaggedSamples,
		"candidates": len(ranked),
	}).Warn("vote: budget exhausted without convergence")
	return res, nil
}

func (r *run[I, O]) finish(status Status) {
	if r.opts.Observer != nil {
		r.opts.Observer.ObserveRun(string(status), r.drawn, r.flagged, time.Since(r.started))
	}
}

func advisory(cfg Config, ranked []Candidate, valid, flagged int) string {
	msg := fmt.Sprintf("no candidate reached margin k=%d under %s within %d samples; the leader holds %d of %d valid votes across %d candidates.",
		cfg.K, cfg.Strategy, cfg.MaxSamples, ranked[0].Votes, valid, len(ranked))
	if flagged*2 > cfg.MaxSamples {
		msg += " Most samples were red-flagged; review the red-flag rules or the prompt."
	} else {
		msg += " Increase max-samples, narrow the prompt, or request structured output to reduce answer spread."
	}
	return msg
}
