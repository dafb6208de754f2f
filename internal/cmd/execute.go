// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/traylinx/switchAIVote/internal/config"
	"github.com/traylinx/switchAIVote/internal/journal"
	"github.com/traylinx/switchAIVote/internal/metrics"
	"github.com/traylinx/switchAIVote/internal/provider"
	"github.com/traylinx/switchAIVote/internal/ratelimit"
	"github.com/traylinx/switchAIVote/internal/redflag"
	"github.com/traylinx/switchAIVote/internal/tokens"
	"github.com/traylinx/switchAIVote/internal/vote"
)

var errNotConverged = errors.New("voting did not converge")

type executeOptions struct {
	promptFile string
	model      string
	k          int
	maxSamples int
	strategy   string
	sequential bool
}

// executeOutput is printed on stdout after a run.
type executeOutput struct {
	*vote.Result[string]
	Model     string          `json:"model"`
	RateLimit ratelimit.Stats `json:"rate_limit"`
}

func newExecuteCommand(root *rootOptions) *cobra.Command {
	o := &executeOptions{}
	c := &cobra.Command{
		Use:   "execute [prompt]",
		Short: "Sample the configured model until one answer wins the vote",
		Long: `Sends the prompt to the configured OpenAI-compatible endpoint repeatedly and
votes over the canonicalized answers. The prompt is taken from the argument,
--prompt-file, or stdin. The result is printed as JSON. The exit status is 2
when the sample budget ran out before a winner emerged.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, o.promptFile, c.InOrStdin())
			if err != nil {
				return err
			}
			cfg := root.cfg
			if err := o.apply(c, cfg); err != nil {
				return err
			}
			return runExecute(c.Context(), cfg, prompt, c.OutOrStdout())
		},
	}

	flags := c.Flags()
	flags.StringVarP(&o.promptFile, "prompt-file", "f", "", "read the prompt from a file ('-' for stdin)")
	flags.StringVarP(&o.model, "model", "m", "", "override the configured model")
	flags.IntVar(&o.k, "k", 0, "override the vote margin")
	flags.IntVar(&o.maxSamples, "max-samples", 0, "override the sample budget")
	flags.StringVar(&o.strategy, "strategy", "", "override the strategy (first-to-k, first-to-ahead-by-k)")
	flags.BoolVar(&o.sequential, "sequential", false, "draw one sample at a time")
	return c
}

func (o *executeOptions) apply(c *cobra.Command, cfg *config.Config) error {
	flags := c.Flags()
	if flags.Changed("model") {
		cfg.Provider.Model = strings.TrimSpace(o.model)
	}
	if flags.Changed("k") {
		cfg.Vote.K = o.k
	}
	if flags.Changed("max-samples") {
		cfg.Vote.MaxSamples = o.maxSamples
	}
	if flags.Changed("strategy") {
		cfg.Vote.Strategy = vote.Strategy(strings.ToLower(strings.TrimSpace(o.strategy)))
	}
	if o.sequential {
		cfg.Vote.Parallel = false
	}
	if err := cfg.Vote.Validate(); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	return nil
}

func readPrompt(args []string, promptFile string, stdin io.Reader) (string, error) {
	var prompt string
	switch {
	case len(args) == 1:
		prompt = args[0]
	case promptFile != "" && promptFile != "-":
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file: %w", err)
		}
		prompt = string(data)
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		prompt = string(data)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}
	return prompt, nil
}

// runExecute wires the provider, rate limiter, red-flag gate, serializer,
// tracker and journal around a single vote.
func runExecute(ctx context.Context, cfg *config.Config, prompt string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	gate, err := cfg.Gate()
	if err != nil {
		return err
	}

	client := provider.New(cfg.Provider, nil)
	limiter := ratelimit.New(cfg.RateLimit)
	oracle := vote.Oracle[string, string](ratelimit.Wrap(limiter, client.Generate))

	estimator := tokens.NewEstimator(cfg.Tokens.Method)
	tracker := metrics.New(0)

	jr, err := journal.Open(cfg.Journal)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := jr.Close(); errClose != nil {
			log.Errorf("failed to close journal: %v", errClose)
		}
	}()

	var runID string
	opts := vote.Options[string]{
		Config:     &cfg.Vote,
		RedFlags:   gate,
		Serializer: cfg.Serializer(),
		MetaOf: func(response string) *redflag.ResponseMeta {
			return &redflag.ResponseMeta{TokenCount: estimator.Count(response)}
		},
		Observer: tracker,
		OnSample: func(s vote.Sample[string]) {
			runID = s.RunID
			if !jr.SamplesEnabled() {
				return
			}
			entry := journal.Entry{
				Kind:      journal.KindSample,
				RunID:     s.RunID,
				Command:   "execute",
				Model:     client.Model(),
				Index:     s.Index,
				Outcome:   string(s.Outcome),
				Rule:      s.Rule,
				Text:      s.Response,
				LatencyMs: s.Latency.Milliseconds(),
			}
			if s.Err != nil {
				entry.Error = s.Err.Error()
			}
			jr.Write(entry)
		},
	}

	started := time.Now()
	tracker.RunStarted()
	res, voteErr := vote.Vote(ctx, oracle, prompt, opts)
	tracker.RunFinished()

	jr.Write(runEntry(runID, client.Model(), res, voteErr, time.Since(started)))
	if cfg.MetricsFile != "" {
		if err := writeMetricsFile(cfg.MetricsFile, tracker); err != nil {
			log.Errorf("failed to write metrics file: %v", err)
		}
	}
	snap := tracker.Snapshot()
	log.WithFields(log.Fields{
		"samples":      snap.Samples,
		"flag_rate":    fmt.Sprintf("%.2f", snap.FlagRate()),
		"p95_ms":       fmt.Sprintf("%.0f", snap.Latency.P95Ms),
		"rate_retries": limiter.Stats().Retries,
	}).Debug("execute: run statistics")

	if voteErr != nil {
		return voteErr
	}

	if err := writeJSON(out, executeOutput{Result: res, Model: client.Model(), RateLimit: limiter.Stats()}); err != nil {
		return err
	}
	if !res.Converged {
		return &ExitError{Code: ExitNegative, Err: errNotConverged}
	}
	return nil
}

func runEntry(runID, model string, res *vote.Result[string], err error, elapsed time.Duration) journal.Entry {
	entry := journal.Entry{
		Kind:       journal.KindRun,
		RunID:      runID,
		Command:    "execute",
		Model:      model,
		DurationMs: elapsed.Milliseconds(),
	}
	switch {
	case err != nil:
		entry.Status = string(vote.StatusFailed)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			entry.Status = string(vote.StatusCancelled)
		}
		entry.Error = err.Error()
	case res != nil:
		entry.RunID = res.RunID
		entry.Status = string(vote.StatusConverged)
		if !res.Converged {
			entry.Status = string(vote.StatusExhausted)
		}
		entry.WinnerKey = res.WinnerKey
		entry.Confidence = res.Confidence
		entry.TotalSamples = res.TotalSamples
		entry.FlaggedSamples = res.FlaggedSamples
		entry.Votes = res.Votes
		entry.Advisory = res.Advisory
	}
	return entry
}

func writeMetricsFile(path string, tracker *metrics.Tracker) error {
	reg := prometheus.NewRegistry()
	if err := tracker.Register(reg); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}
