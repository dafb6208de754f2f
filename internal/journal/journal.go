// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package journal appends one JSON line per voting run, and optionally per
// sample, to a rotating file for later review. The journal is write-only; runs
// never read it back.
package journal

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry kinds.
const (
	KindRun    = "run"
	KindSample = "sample"
)

// maxTextLen bounds response text stored per entry.
const maxTextLen = 2048

// Entry is one journal line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	RunID     string    `json:"run_id"`
	Command   string    `json:"command,omitempty"`
	Model     string    `json:"model,omitempty"`

	// Run fields.
	Status         string         `json:"status,omitempty"`
	WinnerKey      string         `json:"winner_key,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`
	TotalSamples   int            `json:"total_samples,omitempty"`
	FlaggedSamples int            `json:"flagged_samples,omitempty"`
	Votes          map[string]int `json:"votes,omitempty"`
	Advisory       string         `json:"advisory,omitempty"`
	DurationMs     int64          `json:"duration_ms,omitempty"`

	// Sample fields.
	Index     int    `json:"index,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Rule      string `json:"rule,omitempty"`
	Text      string `json:"text,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`

	Error string `json:"error,omitempty"`
}

// Config controls the journal file.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path" validate:"required_if=Enabled true"`
	// Samples also journals every individual sample.
	Samples    bool `yaml:"samples" json:"samples"`
	MaxSizeMB  int  `yaml:"max-size-mb" json:"max_size_mb" validate:"gte=0"`
	MaxBackups int  `yaml:"max-backups" json:"max_backups" validate:"gte=0"`
	MaxAgeDays int  `yaml:"max-age-days" json:"max_age_days" validate:"gte=0"`
	Compress   bool `yaml:"compress" json:"compress"`
}

// Journal writes entries. A disabled journal accepts and drops everything.
type Journal struct {
	mu      sync.Mutex
	encoder *json.Encoder
	file    *lumberjack.Logger
	enabled bool
	samples bool
	path    string
}

// Open creates the journal described by cfg.
func Open(cfg Config) (*Journal, error) {
	if !cfg.Enabled {
		return &Journal{}, nil
	}

	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 10
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = 30
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, err
	}

	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &Journal{
		encoder: json.NewEncoder(file),
		file:    file,
		enabled: true,
		samples: cfg.Samples,
		path:    cfg.Path,
	}, nil
}

// Enabled reports whether entries are written.
func (j *Journal) Enabled() bool { return j.enabled }

// SamplesEnabled reports whether per-sample entries are written.
func (j *Journal) SamplesEnabled() bool { return j.enabled && j.samples }

// Path returns the journal file path, empty when disabled.
func (j *Journal) Path() string { return j.path }

// Write appends entry. Safe for concurrent use.
func (j *Journal) Write(entry Entry) {
	if !j.enabled {
		return
	}
	if entry.Kind == KindSample && !j.samples {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Text = truncate(entry.Text)
	entry.WinnerKey = truncate(entry.WinnerKey)

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.encoder.Encode(entry); err != nil {
		log.WithFields(log.Fields{
			"run_id": entry.RunID,
			"kind":   entry.Kind,
		}).WithError(err).Error("journal: failed to write entry")
	}
}

// Close flushes and closes the file.
func (j *Journal) Close() error {
	if !j.enabled || j.file == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Rotate starts a new file.
func (j *Journal) Rotate() error {
	if !j.enabled || j.file == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Rotate()
}

func truncate(s string) string {
	if len(s) <= maxTextLen {
		return s
	}
	return s[:maxTextLen] + "..."
}
