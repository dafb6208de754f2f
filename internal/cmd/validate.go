// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/traylinx/switchAIVote/internal/costmodel"
)

type validateOptions struct {
	steps       int
	k           int
	successRate float64
	target      float64
	simulate    bool
	trials      int
	seed        uint64
}

type validateOutput struct {
	Steps              int                   `json:"steps"`
	K                  int                   `json:"k"`
	SuccessRate        float64               `json:"success_rate"`
	Target             float64               `json:"target"`
	SuccessProbability float64               `json:"success_probability"`
	MeetsTarget        bool                  `json:"meets_target"`
	RequiredK          int                   `json:"required_k"`
	Simulation         *costmodel.Simulation `json:"simulation,omitempty"`
}

func newValidateCommand(root *rootOptions) *cobra.Command {
	o := &validateOptions{}
	c := &cobra.Command{
		Use:   "validate",
		Short: "Check whether a vote margin reaches a target reliability",
		Long: `Computes the end-to-end success probability of a task with the given number
of steps when every step is voted with margin k at per-sample success rate p.
The exit status is 2 when the probability is below the target.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if !c.Flags().Changed("k") {
				o.k = root.cfg.Vote.K
			}
			return runValidate(o, c.OutOrStdout())
		},
	}

	flags := c.Flags()
	flags.IntVar(&o.steps, "steps", 1, "number of dependent steps in the task")
	flags.IntVar(&o.k, "k", 0, "vote margin (defaults to the configured k)")
	flags.Float64VarP(&o.successRate, "success-rate", "p", 0.9, "per-sample probability of a correct answer")
	flags.Float64VarP(&o.target, "target", "t", 0.95, "required end-to-end reliability")
	flags.BoolVar(&o.simulate, "simulate", false, "cross-check with a Monte Carlo simulation")
	flags.IntVar(&o.trials, "trials", 10000, "simulated races")
	flags.Uint64Var(&o.seed, "seed", 1, "simulation seed")
	return c
}

func runValidate(o *validateOptions, out io.Writer) error {
	if o.k < 1 {
		return fmt.Errorf("k must be >= 1 (got %d)", o.k)
	}
	requiredK, err := costmodel.CalculateMinK(o.steps, o.successRate, o.target)
	if err != nil {
		return err
	}
	if o.successRate >= 1 {
		return fmt.Errorf("%w: success probability is undefined at p=1", costmodel.ErrInvalidSuccessRate)
	}

	prob := costmodel.SuccessProbability(o.steps, o.k, o.successRate)
	res := validateOutput{
		Steps:              o.steps,
		K:                  o.k,
		SuccessRate:        o.successRate,
		Target:             o.target,
		SuccessProbability: prob,
		MeetsTarget:        prob >= o.target,
		RequiredK:          requiredK,
	}
	if o.simulate {
		sim, err := costmodel.Simulate(o.steps, o.k, o.successRate, o.trials, o.seed)
		if err != nil {
			return err
		}
		res.Simulation = sim
		log.WithFields(log.Fields{
			"analytic":  prob,
			"simulated": sim.SuccessProbability,
		}).Debug("validate: simulation finished")
	}

	if err := writeJSON(out, res); err != nil {
		return err
	}
	if !res.MeetsTarget {
		return &ExitError{Code: ExitNegative}
	}
	return nil
}
