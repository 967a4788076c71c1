// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"io"

	"github.com/jadbio/jadbio-go/lib/cmd"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"github.com/jadbio/jadbio-go/sdk/go/util"
	"rsc.io/getopt"
)

var Prediction = cmd.Multi(map[string]cmd.Handler{
	"create": predictionCreate(),
	"check":  predictionCheck(),
	"get": &apiCommand{
		args:  "prediction-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.GetPrediction(ctx, jadbio.ID(args[0]))
		},
	},
	"list": predictionList(),
	"status": &apiCommand{
		args:  "prediction-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.GetPredictionStatus(ctx, jadbio.ID(args[0]))
		},
	},
	"result": predictionResult(),
	"delete": &apiCommand{
		args:  "prediction-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.DeletePrediction(ctx, jadbio.ID(args[0]))
		},
	},
	"wait": &apiCommand{
		args:  "prediction-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.WaitForPrediction(ctx, jadbio.ID(args[0]), s.waitOptions())
		},
	},
})

type predictFlags struct {
	modelKey       string
	signatureIndex int
}

func (pf *predictFlags) define(flags *getopt.FlagSet) {
	flags.StringVar(&pf.modelKey, "model", "best", "Model `key`")
	flags.Alias("m", "model")
	flags.IntVar(&pf.signatureIndex, "signature", 0, "Signature `index`")
}

func predictionCreate() *apiCommand {
	var pf predictFlags
	var wait bool
	return &apiCommand{
		args:  "analysis-id dataset-id",
		nargs: 2,
		flags: func(flags *getopt.FlagSet) {
			pf.define(flags)
			waitFlag(flags, &wait)
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			pid, err := s.Client.PredictOutcome(ctx, jadbio.ID(args[0]), jadbio.ID(args[1]), pf.modelKey, pf.signatureIndex)
			if err != nil {
				return nil, err
			}
			if !wait {
				return idResult{"predictionId": pid}, nil
			}
			return s.Client.WaitForPrediction(ctx, pid, s.waitOptions())
		},
	}
}

func predictionCheck() *apiCommand {
	var pf predictFlags
	return &apiCommand{
		args:  "analysis-id dataset-id",
		nargs: 2,
		flags: pf.define,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.CheckPredictOutcome(ctx, jadbio.ID(args[0]), jadbio.ID(args[1]), pf.modelKey, pf.signatureIndex)
		},
	}
}

func predictionList() *apiCommand {
	var lf listFlags
	return &apiCommand{
		args:  "analysis-id",
		nargs: 1,
		flags: lf.define,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			if lf.all {
				return s.Client.AllPredictions(ctx, jadbio.ID(args[0]))
			}
			return s.Client.ListPredictions(ctx, jadbio.ID(args[0]), lf.opts)
		},
	}
}

// predictionResult writes the result CSV to stdout, or to a file.
func predictionResult() *apiCommand {
	var output string
	return &apiCommand{
		args:  "prediction-id",
		nargs: 1,
		flags: func(flags *getopt.FlagSet) {
			flags.StringVar(&output, "output", "", "Write CSV to `file` instead of stdout")
			flags.Alias("o", "output")
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			if output == "" {
				return nil, s.Client.WritePredictionResult(ctx, jadbio.ID(args[0]), s.stdout)
			}
			return nil, util.WriteFileAtomic(output, func(w io.Writer) error {
				return s.Client.WritePredictionResult(ctx, jadbio.ID(args[0]), w)
			})
		},
	}
}
