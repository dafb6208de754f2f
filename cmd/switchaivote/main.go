// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main is the entry point of the switchaivote CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIVote/internal/buildinfo"
	"github.com/traylinx/switchAIVote/internal/cmd"
	"github.com/traylinx/switchAIVote/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.NewRootCommand().ExecuteContext(ctx)
	cancel()

	code := cmd.ExitCode(err)
	var exitErr *cmd.ExitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.Err == nil) {
		fmt.Fprintln(os.Stderr, "switchaivote:", err)
	}
	logging.Close()
	if code != cmd.ExitOK {
		log.Exit(code)
	}
}
