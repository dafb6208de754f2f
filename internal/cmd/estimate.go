// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/traylinx/switchAIVote/internal/config"
	"github.com/traylinx/switchAIVote/internal/costmodel"
	"github.com/traylinx/switchAIVote/internal/tokens"
)

type estimateOptions struct {
	steps        int
	successRate  float64
	target       float64
	promptFile   string
	inputTokens  int
	outputTokens int
}

type estimateOutput struct {
	Assumptions   costmodel.EstimateConfig `json:"assumptions"`
	Estimate      *costmodel.Estimate      `json:"estimate"`
	EstimatedTime string                   `json:"estimated_time_human"`
}

func newEstimateCommand(root *rootOptions) *cobra.Command {
	o := &estimateOptions{}
	c := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the vote margin, calls, tokens and cost for a multi-step task",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ec, err := o.build(root.cfg)
			if err != nil {
				return err
			}
			return runEstimate(ec, c.OutOrStdout())
		},
	}

	flags := c.Flags()
	flags.IntVar(&o.steps, "steps", 1, "number of dependent steps in the task")
	flags.Float64VarP(&o.successRate, "success-rate", "p", 0.9, "per-sample probability of a correct answer")
	flags.Float64VarP(&o.target, "target", "t", 0.95, "required end-to-end reliability")
	flags.StringVarP(&o.promptFile, "prompt-file", "f", "", "derive the input token assumption from this prompt")
	flags.IntVar(&o.inputTokens, "input-tokens", 0, "override the average input tokens per call")
	flags.IntVar(&o.outputTokens, "output-tokens", 0, "override the average output tokens per call")
	return c
}

func (o *estimateOptions) build(cfg *config.Config) (costmodel.EstimateConfig, error) {
	ec := costmodel.EstimateConfig{
		Steps:                o.steps,
		SuccessRate:          o.successRate,
		TargetReliability:    o.target,
		CostPerMillionInput:  cfg.Cost.CostPerMillionInput,
		CostPerMillionOutput: cfg.Cost.CostPerMillionOutput,
		AvgInputTokens:       cfg.Cost.AvgInputTokens,
		AvgOutputTokens:      cfg.Cost.AvgOutputTokens,
		CallLatency:          cfg.Cost.CallLatency,
	}
	if o.promptFile != "" {
		data, err := os.ReadFile(o.promptFile)
		if err != nil {
			return ec, fmt.Errorf("failed to read prompt file: %w", err)
		}
		ec.AvgInputTokens = tokens.NewEstimator(cfg.Tokens.Method).Count(string(data))
	}
	if o.inputTokens > 0 {
		ec.AvgInputTokens = o.inputTokens
	}
	if o.outputTokens > 0 {
		ec.AvgOutputTokens = o.outputTokens
	}
	return ec, nil
}

func runEstimate(ec costmodel.EstimateConfig, out io.Writer) error {
	est, err := costmodel.EstimateCost(ec)
	if err != nil {
		return err
	}
	return writeJSON(out, estimateOutput{
		Assumptions:   ec,
		Estimate:      est,
		EstimatedTime: est.EstimatedTime.String(),
	})
}
