// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cmd implements the switchaivote command-line interface: running a
// voting round against an OpenAI-compatible endpoint and answering cost and
// reliability questions about the protocol.
package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/traylinx/switchAIVote/internal/buildinfo"
	"github.com/traylinx/switchAIVote/internal/config"
	"github.com/traylinx/switchAIVote/internal/logging"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitNegative = 2
)

// DefaultConfigPath is read when --config is not given; it may be absent.
const DefaultConfigPath = "config.yaml"

// ExitError carries a process exit code. A nil Err means the command already
// reported its outcome and only the code matters.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by the root command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

type rootOptions struct {
	configPath string
	envFiles   []string
	debug      bool

	cfg *config.Config
}

// NewRootCommand assembles the CLI.
func NewRootCommand() *cobra.Command {
	o := &rootOptions{}
	root := &cobra.Command{
		Use:           "switchaivote",
		Short:         "Error-correcting consensus voting over stochastic LLM samples",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			return o.load(c)
		},
	}
	root.SetVersionTemplate(buildinfo.String() + "\n")

	flags := root.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", DefaultConfigPath, "path to the YAML configuration file")
	flags.StringSliceVar(&o.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the configuration")
	flags.BoolVar(&o.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newExecuteCommand(o),
		newEstimateCommand(o),
		newValidateCommand(o),
		newVersionCommand(),
	)
	return root
}

func (o *rootOptions) load(c *cobra.Command) error {
	logging.SetupBaseLogger()

	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return err
	}
	optional := !c.Flags().Changed("config")
	cfg, err := config.LoadConfigOptional(o.configPath, optional)
	if err != nil {
		return err
	}
	if o.debug {
		cfg.Debug = true
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogsDir); err != nil {
		return err
	}
	logging.SetDebug(cfg.Debug)
	log.WithField("config", o.configPath).Debug("configuration loaded")

	o.cfg = cfg
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// Version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(c *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(c.OutOrStdout(), buildinfo.String())
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
