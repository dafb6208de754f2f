// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics tracks voting runs: sample outcomes, red-flag hits, oracle latency
// and run results. A Tracker is created by its owner, passed to the engine as an
// observer and optionally exported to Prometheus.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/stat"
)

// DefaultMaxLatencySamples is the latency window used when New is given no size.
const DefaultMaxLatencySamples = 1000

// Tracker aggregates observations from any number of concurrent runs.
type Tracker struct {
	// Counters
	samples     atomic.Int64
	votes       atomic.Int64
	flagged     atomic.Int64
	errors      atomic.Int64
	runs        atomic.Int64
	converged   atomic.Int64
	exhausted   atomic.Int64
	failed      atomic.Int64
	cancelled   atomic.Int64
	activeRuns  atomic.Int64
	runDuration atomic.Int64

	flagsByRuleMu sync.RWMutex
	flagsByRule   map[string]int64

	// Latency window (milliseconds)
	latencyMu      sync.RWMutex
	latencySamples []float64
	maxSamples     int

	promSamples  *prometheus.CounterVec
	promFlags    *prometheus.CounterVec
	promRuns     *prometheus.CounterVec
	promLatency  prometheus.Histogram
	promDuration prometheus.Histogram

	startTime time.Time
}

// New creates a Tracker that keeps the most recent maxSamples latency measurements.
func New(maxSamples int) *Tracker {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxLatencySamples
	}

	return &Tracker{
		flagsByRule:    make(map[string]int64),
		latencySamples: make([]float64, 0, maxSamples),
		maxSamples:     maxSamples,
		promSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchaivote",
			Name:      "samples_total",
			Help:      "Oracle samples by outcome.",
		}, []string{"outcome"}),
		promFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchaivote",
			Name:      "red_flags_total",
			Help:      "Samples discarded by red-flag rule.",
		}, []string{"rule"}),
		promRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "switchaivote",
			Name:      "runs_total",
			Help:      "Finished voting runs by status.",
		}, []string{"status"}),
		promLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "switchaivote",
			Name:      "oracle_latency_seconds",
			Help:      "Latency of individual oracle calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		promDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "switchaivote",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of voting runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		startTime: time.Now(),
	}
}

// Register exports the tracker's collectors to reg.
func (t *Tracker) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{t.promSamples, t.promFlags, t.promRuns, t.promLatency, t.promDuration} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveSample records one sample. outcome is "vote", "flagged" or "error"; rule
// names the red-flag rule for flagged samples.
func (t *Tracker) ObserveSample(outcome, rule string, latency time.Duration) {
	t.samples.Add(1)
	switch outcome {
	case "vote":
		t.votes.Add(1)
	case "flagged":
		t.flagged.Add(1)
		if rule != "" {
			t.flagsByRuleMu.Lock()
			t.flagsByRule[rule]++
			t.flagsByRuleMu.Unlock()
			t.promFlags.WithLabelValues(rule).Inc()
		}
	case "error":
		t.errors.Add(1)
	}
	t.promSamples.WithLabelValues(outcome).Inc()

	if latency > 0 {
		t.recordLatency(latency)
		t.promLatency.Observe(latency.Seconds())
	}
}

// ObserveRun records a finished run.
func (t *Tracker) ObserveRun(status string, _, _ int, elapsed time.Duration) {
	t.runs.Add(1)
	switch status {
	case "converged":
		t.converged.Add(1)
	case "exhausted":
		t.exhausted.Add(1)
	case "failed":
		t.failed.Add(1)
	case "cancelled":
		t.cancelled.Add(1)
	}
	t.runDuration.Add(int64(elapsed))
	t.promRuns.WithLabelValues(status).Inc()
	t.promDuration.Observe(elapsed.Seconds())
}

// RunStarted and RunFinished maintain the active-runs gauge.
func (t *Tracker) RunStarted()  { t.activeRuns.Add(1) }
func (t *Tracker) RunFinished() { t.activeRuns.Add(-1) }

func (t *Tracker) recordLatency(latency time.Duration) {
	t.latencyMu.Lock()
	defer t.latencyMu.Unlock()

	t.latencySamples = append(t.latencySamples, float64(latency)/float64(time.Millisecond))
	if len(t.latencySamples) > t.maxSamples {
		t.latencySamples = t.latencySamples[len(t.latencySamples)-t.maxSamples:]
	}
}

// Snapshot returns a point-in-time copy of all counters and latency statistics.
func (t *Tracker) Snapshot() *Snapshot {
	t.flagsByRuleMu.RLock()
	flags := make(map[string]int64, len(t.flagsByRule))
	for k, v := range t.flagsByRule {
		flags[k] = v
	}
	t.flagsByRuleMu.RUnlock()

	t.latencyMu.RLock()
	latency := latencyStats(t.latencySamples)
	t.latencyMu.RUnlock()

	var meanRun time.Duration
	if runs := t.runs.Load(); runs > 0 {
		meanRun = time.Duration(t.runDuration.Load() / runs)
	}

	return &Snapshot{
		Samples:         t.samples.Load(),
		Votes:           t.votes.Load(),
		Flagged:         t.flagged.Load(),
		Errors:          t.errors.Load(),
		Runs:            t.runs.Load(),
		Converged:       t.converged.Load(),
		Exhausted:       t.exhausted.Load(),
		Failed:          t.failed.Load(),
		Cancelled:       t.cancelled.Load(),
		ActiveRuns:      t.activeRuns.Load(),
		FlagsByRule:     flags,
		Latency:         latency,
		MeanRunDuration: meanRun,
		UptimeSeconds:   int64(time.Since(t.startTime).Seconds()),
		Timestamp:       time.Now(),
	}
}

// latencyStats must be called with latencyMu held.
func latencyStats(samples []float64) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		std = 0
	}
	return LatencyStats{
		MeanMs:   mean,
		StdDevMs: std,
		MinMs:    sorted[0],
		MaxMs:    sorted[len(sorted)-1],
		P50Ms:    stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95Ms:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Samples:  int64(len(sorted)),
	}
}

// Snapshot is a serializable view of a Tracker.
type Snapshot struct {
	Samples   int64 `json:"samples"`
	Votes     int64 `json:"votes"`
	Flagged   int64 `json:"flagged"`
	Errors    int64 `json:"errors"`
	Runs      int64 `json:"runs"`
	Converged int64 `json:"converged"`
	Exhausted int64 `json:"exhausted"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`

	ActiveRuns int64 `json:"active_runs"`

	FlagsByRule map[string]int64 `json:"flags_by_rule"`
	Latency     LatencyStats     `json:"latency"`

	MeanRunDuration time.Duration `json:"mean_run_duration"`
	UptimeSeconds   int64         `json:"uptime_seconds"`
	Timestamp       time.Time     `json:"timestamp"`
}

// LatencyStats summarizes the latency window.
type LatencyStats struct {
	MeanMs   float64 `json:"mean_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
	Samples  int64   `json:"samples"`
}

// FlagRate is the share of samples that were red-flagged or failed, in [0, 1].
func (s *Snapshot) FlagRate() float64 {
	if s.Samples == 0 {
		return 0
	}
	return float64(s.Flagged+s.Errors) / float64(s.Samples)
}

// ConvergenceRate is the share of finished runs that converged, in [0, 1].
func (s *Snapshot) ConvergenceRate() float64 {
	if s.Runs == 0 {
		return 0
	}
	return float64(s.Converged) / float64(s.Runs)
}
