// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jadbio/jadbio-go/lib/cmd"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"rsc.io/getopt"
)

var Analysis = cmd.Multi(map[string]cmd.Handler{
	"create": analysisCreate(),
	"check":  analysisCheck(),
	"get": &apiCommand{
		args:  "analysis-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.GetAnalysis(ctx, jadbio.ID(args[0]))
		},
	},
	"list": analysisList(),
	"status": &apiCommand{
		args:  "analysis-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.GetAnalysisStatus(ctx, jadbio.ID(args[0]))
		},
	},
	"result": &apiCommand{
		args:  "analysis-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.GetAnalysisResult(ctx, jadbio.ID(args[0]))
		},
	},
	"delete": &apiCommand{
		args:  "analysis-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.DeleteAnalysis(ctx, jadbio.ID(args[0]))
		},
	},
	"wait": &apiCommand{
		args:  "analysis-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.WaitForAnalysis(ctx, jadbio.ID(args[0]), s.waitOptions())
		},
	},
	"predictions": analysisModelCommand(func(ctx context.Context, s *Session, aid jadbio.ID, modelKey string) (interface{}, error) {
		csv, err := s.Client.AnalysisModelPredictions(ctx, aid, modelKey)
		if err != nil {
			return nil, err
		}
		_, err = fmt.Fprint(s.stdout, csv)
		return nil, err
	}),
	"plots": analysisModelCommand(func(ctx context.Context, s *Session, aid jadbio.ID, modelKey string) (interface{}, error) {
		return s.Client.AvailablePlots(ctx, aid, modelKey)
	}),
	"plot":   analysisPlot(),
	"extras": analysisExtras(),
})

// analysisModelCommand returns a command that takes an analysis id
// and a --model flag.
func analysisModelCommand(run func(ctx context.Context, s *Session, aid jadbio.ID, modelKey string) (interface{}, error)) *apiCommand {
	var modelKey string
	return &apiCommand{
		args:  "analysis-id",
		nargs: 1,
		flags: func(flags *getopt.FlagSet) {
			flags.StringVar(&modelKey, "model", "best", "Model `key`")
			flags.Alias("m", "model")
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return run(ctx, s, jadbio.ID(args[0]), modelKey)
		},
	}
}

type analyzeFlags struct {
	name                  string
	classification        string
	regression            string
	survivalEvent         string
	survivalTime          string
	thoroughness          string
	cores                 int
	grouping              string
	models                string
	featureSelection      string
	maxSignatureSize      int
	maxVisualized         int
	extraModels           string
	extraFeatureSelectors string
	preprocessing         string
}

func (af *analyzeFlags) define(flags *getopt.FlagSet) {
	*af = analyzeFlags{}
	flags.StringVar(&af.name, "name", "", "Analysis `name`")
	flags.StringVar(&af.classification, "classification", "", "Classify samples by this `feature`")
	flags.StringVar(&af.regression, "regression", "", "Predict the value of this `feature`")
	flags.StringVar(&af.survivalEvent, "survival-event", "", "Survival analysis event `feature` (requires --survival-time)")
	flags.StringVar(&af.survivalTime, "survival-time", "", "Survival analysis time-to-event `feature`")
	flags.StringVar(&af.thoroughness, "thoroughness", "", "preliminary, typical, or extensive")
	flags.IntVar(&af.cores, "cores", 0, "Number of compute cores")
	flags.StringVar(&af.grouping, "grouping", "", "Grouping `feature`")
	flags.StringVar(&af.models, "models", "", "Models considered: all or interpretable")
	flags.StringVar(&af.featureSelection, "feature-selection", "", "mostRelevant or mostRelevantOrAll")
	flags.IntVar(&af.maxSignatureSize, "max-signature-size", 0, "Maximum number of features in a signature")
	flags.IntVar(&af.maxVisualized, "max-visualized", 0, "Maximum number of signatures to visualize")
	flags.StringVar(&af.extraModels, "extra-models", "", "JSON `file` listing extra models to train")
	flags.StringVar(&af.extraFeatureSelectors, "extra-feature-selectors", "", "JSON `file` listing extra feature selectors")
	flags.StringVar(&af.preprocessing, "preprocessing", "", "Custom preprocessing script `file` (.R or .py)")
}

func (af *analyzeFlags) params() (jadbio.AnalyzeParams, error) {
	p := jadbio.AnalyzeParams{
		Name:                        af.name,
		Thoroughness:                af.thoroughness,
		CoreCount:                   af.cores,
		GroupingFeature:             af.grouping,
		ModelsConsidered:            af.models,
		FeatureSelection:            af.featureSelection,
		MaxSignatureSize:            af.maxSignatureSize,
		MaxVisualizedSignatureCount: af.maxVisualized,
	}
	switch {
	case af.classification != "":
		p.Outcome = jadbio.ClassificationOutcome(af.classification)
	case af.regression != "":
		p.Outcome = jadbio.RegressionOutcome(af.regression)
	case af.survivalEvent != "" || af.survivalTime != "":
		p.Outcome = jadbio.SurvivalOutcome(af.survivalEvent, af.survivalTime)
	default:
		return p, errors.New("one of --classification, --regression, or --survival-event is required")
	}
	if af.extraModels != "" {
		if err := readJSONFile(af.extraModels, &p.ExtraModels); err != nil {
			return p, err
		}
	}
	if af.extraFeatureSelectors != "" {
		if err := readJSONFile(af.extraFeatureSelectors, &p.ExtraFeatureSelectors); err != nil {
			return p, err
		}
	}
	if af.preprocessing != "" {
		script, err := os.ReadFile(af.preprocessing)
		if err != nil {
			return p, err
		}
		typ := jadbio.ScriptPython
		if strings.EqualFold(filepath.Ext(af.preprocessing), ".r") {
			typ = jadbio.ScriptR
		}
		p.Preprocessing = []jadbio.PreprocessingScript{{Type: typ, Script: string(script)}}
	}
	return p, nil
}

func readJSONFile(path string, dst interface{}) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(buf, dst); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func analysisCreate() *apiCommand {
	var af analyzeFlags
	var wait bool
	return &apiCommand{
		args:  "dataset-id",
		nargs: 1,
		flags: func(flags *getopt.FlagSet) {
			af.define(flags)
			waitFlag(flags, &wait)
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			params, err := af.params()
			if err != nil {
				return nil, err
			}
			aid, err := s.Client.AnalyzeDataset(ctx, jadbio.ID(args[0]), params)
			if err != nil {
				return nil, err
			}
			if !wait {
				return idResult{"analysisId": aid}, nil
			}
			s.Logger.WithField("AnalysisID", aid).Info("analysis started")
			if _, err := s.Client.WaitForAnalysis(ctx, aid, s.waitOptions()); err != nil {
				return nil, err
			}
			return s.Client.GetAnalysisResult(ctx, aid)
		},
	}
}

func analysisCheck() *apiCommand {
	var af analyzeFlags
	return &apiCommand{
		args:  "dataset-id",
		nargs: 1,
		flags: af.define,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			params, err := af.params()
			if err != nil {
				return nil, err
			}
			return s.Client.CheckAnalyzeDataset(ctx, jadbio.ID(args[0]), params)
		},
	}
}

func analysisList() *apiCommand {
	var lf listFlags
	return &apiCommand{
		args:  "project-id",
		nargs: 1,
		flags: lf.define,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			if lf.all {
				return s.Client.AllAnalyses(ctx, jadbio.ID(args[0]))
			}
			return s.Client.ListAnalyses(ctx, jadbio.ID(args[0]), lf.opts)
		},
	}
}

func analysisPlot() *apiCommand {
	var modelKey string
	return &apiCommand{
		args:  "analysis-id [plot-key]",
		nargs: -1,
		flags: func(flags *getopt.FlagSet) {
			flags.StringVar(&modelKey, "model", "best", "Model `key`")
			flags.Alias("m", "model")
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			switch len(args) {
			case 1:
				return s.Client.GetPlots(ctx, jadbio.ID(args[0]), modelKey)
			case 2:
				return s.Client.GetPlot(ctx, jadbio.ID(args[0]), modelKey, args[1])
			default:
				return nil, errors.New("usage: analysis plot [options] analysis-id [plot-key]")
			}
		},
	}
}

func analysisExtras() *apiCommand {
	var featureSelectors bool
	return &apiCommand{
		args:  "outcome-type",
		nargs: 1,
		flags: func(flags *getopt.FlagSet) {
			flags.BoolVar(&featureSelectors, "feature-selectors", false, "List extra feature selectors instead of models")
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			if featureSelectors {
				return s.Client.ExtraFeatureSelectors(ctx, args[0])
			}
			return s.Client.ExtraModels(ctx, args[0])
		},
	}
}
