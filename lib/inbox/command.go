// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package inbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jadbio/jadbio-go/lib/cli"
	"github.com/jadbio/jadbio-go/lib/cmd"
	"github.com/jadbio/jadbio-go/sdk/go/ctxlog"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"github.com/prometheus/client_golang/prometheus"
)

// Command runs an inbox Service until interrupted.
var Command cmd.Handler = command{}

type command struct{}

func (command) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s: %s\n", prog, err)
		}
	}()
	flags, common := cli.CommonFlagSet()
	var cfg Config
	var projectID, analysisID string
	flags.StringVar(&cfg.Dir, "dir", "", "Watch `directory` for new CSV files")
	flags.StringVar(&cfg.OutputDir, "output", "", "Write predictions to `directory` (default: same as --dir)")
	flags.Alias("o", "output")
	flags.StringVar(&cfg.Pattern, "pattern", "*.csv", "Only process files matching `glob`")
	flags.StringVar(&projectID, "project", "", "Upload datasets to project `id`")
	flags.StringVar(&analysisID, "analysis", "", "Predict with the model from analysis `id`")
	flags.StringVar(&cfg.ModelKey, "model", "best", "Model `key`")
	flags.Alias("m", "model")
	flags.IntVar(&cfg.SignatureIndex, "signature", 0, "Signature `index`")
	flags.StringVar(&cfg.DatasetOptions.Separator, "separator", ",", "Field separator in input files")
	flags.BoolVar(&cfg.DatasetOptions.SamplesInColumns, "samples-in-columns", false, "Input files have one sample per column")
	flags.IntVar(&cfg.Workers, "workers", 2, "Process up to `N` files at once")
	flags.DurationVar(&cfg.SettleDelay, "settle-delay", 0, "Wait this long after the last write before processing a file (default 1s)")
	flags.BoolVar(&cfg.Cleanup, "cleanup", false, "Delete uploaded datasets and predictions after writing output")
	flags.StringVar(&cfg.Listen, "listen", "", "Serve /status and /metrics at `address`")
	flags.StringVar(&cfg.ManagementToken, "management-token", os.Getenv("JADBIO_MANAGEMENT_TOKEN"), "Bearer `token` required for /status and /metrics (default $JADBIO_MANAGEMENT_TOKEN)")
	if ok, code := cmd.ParseFlags(flags, prog, args, "", stderr); !ok {
		return code
	} else if err = common.Check(); err != nil {
		return 2
	}
	cfg.ProjectID = jadbio.ID(projectID)
	cfg.AnalysisID = jadbio.ID(analysisID)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	s, err := common.NewSession(ctx, stdin, stdout, stderr, true)
	if err != nil {
		return 1
	}
	ctx = ctxlog.Context(ctx, s.Logger)
	reg := prometheus.NewRegistry()
	s.Client.Metrics = jadbio.NewMetrics(s.Client, reg)
	svc := &Service{
		Client:   s.Client,
		Config:   cfg,
		Logger:   s.Logger,
		Registry: reg,
	}
	if err = svc.Run(ctx); err != nil {
		return 1
	}
	return 0
}
