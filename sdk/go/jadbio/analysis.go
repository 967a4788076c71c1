// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"
)

// Analysis parameter values.
const (
	ThoroughnessPreliminary = "preliminary"
	ThoroughnessTypical     = "typical"
	ThoroughnessExtensive   = "extensive"

	ModelsAll           = "all"
	ModelsInterpretable = "interpretable"

	FeatureSelectionMostRelevant      = "mostRelevant"
	FeatureSelectionMostRelevantOrAll = "mostRelevantOrAll"

	OutcomeRegression     = "regression"
	OutcomeClassification = "classification"
	OutcomeSurvival       = "survival"

	ScriptR      = "R"
	ScriptPython = "PYTHON"

	maxAnalysisNameLength = 120
)

var (
	thoroughnessValues     = []string{ThoroughnessPreliminary, ThoroughnessTypical, ThoroughnessExtensive}
	modelsConsideredValues = []string{ModelsAll, ModelsInterpretable}
	featureSelectionValues = []string{FeatureSelectionMostRelevant, FeatureSelectionMostRelevantOrAll}
	outcomeTypes           = []string{OutcomeRegression, OutcomeClassification, OutcomeSurvival}
	scriptTypes            = []string{ScriptR, ScriptPython}
)

// Outcome names the feature(s) to predict, and thereby the kind of
// analysis. Exactly one field must be set.
type Outcome struct {
	Regression     string    `json:"regression,omitempty"`
	Classification string    `json:"classification,omitempty"`
	Survival       *Survival `json:"survival,omitempty"`
}

// Survival identifies the event and time-to-event features of a
// survival analysis.
type Survival struct {
	Event       string `json:"event"`
	TimeToEvent string `json:"timeToEvent"`
}

// RegressionOutcome returns an Outcome predicting the given feature.
func RegressionOutcome(feature string) Outcome {
	return Outcome{Regression: feature}
}

// ClassificationOutcome returns an Outcome predicting the given
// feature.
func ClassificationOutcome(feature string) Outcome {
	return Outcome{Classification: feature}
}

// SurvivalOutcome returns an Outcome for a survival analysis.
func SurvivalOutcome(event, timeToEvent string) Outcome {
	return Outcome{Survival: &Survival{Event: event, TimeToEvent: timeToEvent}}
}

// Type returns OutcomeRegression, OutcomeClassification,
// OutcomeSurvival, or "" if no outcome is set.
func (o Outcome) Type() string {
	switch {
	case o.Regression != "":
		return OutcomeRegression
	case o.Classification != "":
		return OutcomeClassification
	case o.Survival != nil:
		return OutcomeSurvival
	default:
		return ""
	}
}

func (o Outcome) validate(op string) error {
	n := 0
	if o.Regression != "" {
		n++
	}
	if o.Classification != "" {
		n++
	}
	if o.Survival != nil {
		n++
		if o.Survival.Event == "" || o.Survival.TimeToEvent == "" {
			return validationErrorf(op, "outcome", "survival outcome needs both event and timeToEvent features")
		}
	}
	if n != 1 {
		return validationErrorf(op, "outcome", "exactly one of regression, classification, survival must be given")
	}
	return nil
}

// PreprocessingScript is a custom preprocessing step run by the
// server before feature selection.
type PreprocessingScript struct {
	// ScriptR or ScriptPython.
	Type   string `json:"type"`
	Script string `json:"script"`
}

// AnalyzeParams configures a new analysis. Zero values select the
// server's defaults.
type AnalyzeParams struct {
	// Human-readable name, at most 120 characters.
	Name    string
	Outcome Outcome
	// Default ThoroughnessPreliminary.
	Thoroughness string
	// Compute cores to use. Default 1.
	CoreCount int
	// An identifier feature grouping samples that must not be
	// split between training and test sets.
	GroupingFeature string
	// Default ModelsAll.
	ModelsConsidered string
	// Default FeatureSelectionMostRelevant.
	FeatureSelection string
	// Zero means server default (25).
	MaxSignatureSize int
	// Zero means server default (5).
	MaxVisualizedSignatureCount int

	// Extra algorithms to train on top of the ones the server
	// selects. See (*Client)ExtraModels.
	ExtraModels           []ExtraAlgorithm
	ExtraFeatureSelectors []ExtraAlgorithm

	// Custom preprocessing scripts. Cannot be combined with
	// extra algorithms.
	Preprocessing []PreprocessingScript
}

// AnalysisParameters are the parameters of an existing analysis, as
// reported by the server.
type AnalysisParameters struct {
	DatasetID                   ID               `json:"datasetId"`
	Name                        string           `json:"name"`
	Outcome                     Outcome          `json:"outcome"`
	Thoroughness                string           `json:"thoroughness"`
	CoreCount                   int              `json:"coreCount"`
	GroupingFeature             string           `json:"groupingFeature,omitempty"`
	ModelsConsidered            string           `json:"modelsConsidered"`
	FeatureSelection            string           `json:"featureSelection"`
	MaxSignatureSize            int              `json:"maxSignatureSize,omitempty"`
	MaxVisualizedSignatureCount int              `json:"maxVisualizedSignatureCount,omitempty"`
	ExtraModels                 []ExtraAlgorithm `json:"extraModels,omitempty"`
	ExtraFeatureSelectors       []ExtraAlgorithm `json:"extraFeatureSelectors,omitempty"`
}

type analyzeRequest struct {
	Outcome                     Outcome               `json:"outcome"`
	ModelsConsidered            string                `json:"modelsConsidered"`
	FeatureSelection            string                `json:"featureSelection"`
	Thoroughness                string                `json:"thoroughness"`
	CoreCount                   int                   `json:"coreCount"`
	Name                        string                `json:"name"`
	MaxVisualizedSignatureCount int                   `json:"maxVisualizedSignatureCount,omitempty"`
	MaxSignatureSize            int                   `json:"maxSignatureSize,omitempty"`
	GroupingFeature             string                `json:"groupingFeature,omitempty"`
	ExtraModels                 []ExtraAlgorithm      `json:"extraModels,omitempty"`
	ExtraFeatureSelectors       []ExtraAlgorithm      `json:"extraFeatureSelectors,omitempty"`
	Preprocessing               []PreprocessingScript `json:"preprocessing,omitempty"`
}

// Analysis is an AutoML analysis of a dataset.
type Analysis struct {
	AnalysisID ID                 `json:"analysisId"`
	ProjectID  ID                 `json:"projectId"`
	Parameters AnalysisParameters `json:"parameters"`
	State      string             `json:"state"`
}

// AnalysisStatus is an Analysis plus timing and progress.
type AnalysisStatus struct {
	Analysis
	StartTime              *time.Time `json:"startTime,omitempty"`
	ExecutionTimeInSeconds float64    `json:"executionTimeInSeconds,omitempty"`
	// Progress is a percentage, when reported.
	Progress float64 `json:"progress,omitempty"`
}

// Model is one of the models found by an analysis.
type Model struct {
	Preprocessing    string                 `json:"preprocessing"`
	FeatureSelection string                 `json:"featureSelection"`
	Model            string                 `json:"model"`
	Signatures       [][]string             `json:"signatures"`
	Performance      map[string]interface{} `json:"performance"`
	// ModelView is a model-specific representation (e.g.
	// coefficients of a linear model), if available.
	ModelView json.RawMessage `json:"modelView,omitempty"`
}

// AnalysisResult is the result of a finished analysis. Models are
// keyed by model key ("best", "interpretable", ...).
type AnalysisResult struct {
	MLEngine               string             `json:"mlEngine"`
	AnalysisID             ID                 `json:"analysisId"`
	ProjectID              ID                 `json:"projectId"`
	Parameters             AnalysisParameters `json:"parameters"`
	Models                 map[string]Model   `json:"models"`
	StartTime              *time.Time         `json:"startTime,omitempty"`
	ExecutionTimeInSeconds float64            `json:"executionTimeInSeconds,omitempty"`
}

func (p AnalyzeParams) request(op string) (analyzeRequest, error) {
	req := analyzeRequest{
		Outcome:                     p.Outcome,
		ModelsConsidered:            p.ModelsConsidered,
		FeatureSelection:            p.FeatureSelection,
		Thoroughness:                p.Thoroughness,
		CoreCount:                   p.CoreCount,
		Name:                        p.Name,
		MaxVisualizedSignatureCount: p.MaxVisualizedSignatureCount,
		MaxSignatureSize:            p.MaxSignatureSize,
		GroupingFeature:             p.GroupingFeature,
		ExtraModels:                 p.ExtraModels,
		ExtraFeatureSelectors:       p.ExtraFeatureSelectors,
		Preprocessing:               p.Preprocessing,
	}
	if req.ModelsConsidered == "" {
		req.ModelsConsidered = ModelsAll
	}
	if req.FeatureSelection == "" {
		req.FeatureSelection = FeatureSelectionMostRelevant
	}
	if req.Thoroughness == "" {
		req.Thoroughness = ThoroughnessPreliminary
	}
	if req.CoreCount == 0 {
		req.CoreCount = 1
	}

	if req.Name == "" {
		return req, validationErrorf(op, "name", "must not be empty")
	}
	if n := utf8.RuneCountInString(req.Name); n > maxAnalysisNameLength {
		return req, validationErrorf(op, "name", "can have at most %d characters, got %d", maxAnalysisNameLength, n)
	}
	if err := req.Outcome.validate(op); err != nil {
		return req, err
	}
	if err := checkEnum(op, "thoroughness", req.Thoroughness, thoroughnessValues); err != nil {
		return req, err
	}
	if err := checkEnum(op, "modelsConsidered", req.ModelsConsidered, modelsConsideredValues); err != nil {
		return req, err
	}
	if err := checkEnum(op, "featureSelection", req.FeatureSelection, featureSelectionValues); err != nil {
		return req, err
	}
	if req.CoreCount < 1 {
		return req, validationErrorf(op, "coreCount", "must be positive, got %d", req.CoreCount)
	}
	if req.MaxSignatureSize < 0 {
		return req, validationErrorf(op, "maxSignatureSize", "must be positive, got %d", req.MaxSignatureSize)
	}
	if req.MaxVisualizedSignatureCount < 0 {
		return req, validationErrorf(op, "maxVisualizedSignatureCount", "must be positive, got %d", req.MaxVisualizedSignatureCount)
	}
	for _, alg := range append(append([]ExtraAlgorithm(nil), req.ExtraModels...), req.ExtraFeatureSelectors...) {
		if alg.Name == "" {
			return req, validationErrorf(op, "extra algorithm", "name must not be empty")
		}
	}
	for _, pp := range req.Preprocessing {
		if err := checkEnum(op, "preprocessing type", pp.Type, scriptTypes); err != nil {
			return req, err
		}
	}
	if len(req.Preprocessing) > 0 && p.hasExtras() {
		return req, validationErrorf(op, "", "custom preprocessing cannot be combined with extra models or feature selectors")
	}
	return req, nil
}

func (p AnalyzeParams) hasExtras() bool {
	return len(p.ExtraModels) > 0 || len(p.ExtraFeatureSelectors) > 0
}

// AnalyzeDataset starts an analysis of a dataset and returns the
// analysis id. Parameters with extra algorithms are sent to the
// extra/analyze endpoint and parameters with preprocessing scripts
// to analyzeCustomPreprocessing.
func (c *Client) AnalyzeDataset(ctx context.Context, datasetID ID, params AnalyzeParams) (ID, error) {
	const op = "Analyze dataset"
	req, err := params.request(op)
	if err != nil {
		return "", err
	}
	path := "dataset/" + datasetID.pathSegment()
	switch {
	case len(params.Preprocessing) > 0:
		path += "/analyzeCustomPreprocessing"
	case params.hasExtras():
		path += "/extra/analyze"
	default:
		path += "/analyze"
	}
	var resp struct {
		AnalysisID ID `json:"analysisId"`
	}
	err = c.RequestAndDecodeContext(ctx, op, &resp, http.MethodPost, path, nil, req)
	return resp.AnalysisID, err
}

// CheckAnalyzeDataset reports the errors and warnings that
// AnalyzeDataset would encounter with the same arguments, without
// starting an analysis. There is no check endpoint for custom
// preprocessing.
func (c *Client) CheckAnalyzeDataset(ctx context.Context, datasetID ID, params AnalyzeParams) (CheckResult, error) {
	const op = "Analyze dataset check"
	var cr CheckResult
	req, err := params.request(op)
	if err != nil {
		return cr, err
	}
	if len(params.Preprocessing) > 0 {
		return cr, validationErrorf(op, "preprocessing", "cannot check an analysis with custom preprocessing")
	}
	path := "dataset/" + datasetID.pathSegment()
	if params.hasExtras() {
		path += "/extra/check/analyze"
	} else {
		path += "/check/analyze"
	}
	err = c.RequestAndDecodeContext(ctx, op, &cr, http.MethodPost, path, nil, req)
	return cr, err
}

// GetAnalysis returns an analysis.
func (c *Client) GetAnalysis(ctx context.Context, analysisID ID) (Analysis, error) {
	var a Analysis
	err := c.RequestAndDecodeContext(ctx, "Get analysis", &a, http.MethodGet, "analysis/"+analysisID.pathSegment(), nil, nil)
	return a, err
}

// ListAnalyses returns a page of the analyses in a project.
func (c *Client) ListAnalyses(ctx context.Context, projectID ID, opts ListOptions) (AnalysisList, error) {
	const op = "Get analyses"
	var list AnalysisList
	opts = opts.withDefaults()
	if err := opts.validate(op); err != nil {
		return list, err
	}
	err := c.RequestAndDecodeContext(ctx, op, &list, http.MethodGet, "analyses/all/"+projectID.pathSegment()+"/"+opts.pathSuffix(), nil, nil)
	return list, err
}

// GetAnalysisStatus returns the state, timing, and progress of an
// analysis.
func (c *Client) GetAnalysisStatus(ctx context.Context, analysisID ID) (AnalysisStatus, error) {
	var st AnalysisStatus
	err := c.RequestAndDecodeContext(ctx, "Get analysis status", &st, http.MethodGet, "analysis/"+analysisID.pathSegment()+"/status", nil, nil)
	return st, err
}

// GetAnalysisResult returns the result of a finished analysis.
// Results are immutable, so they are served from c.Cache when
// possible.
func (c *Client) GetAnalysisResult(ctx context.Context, analysisID ID) (AnalysisResult, error) {
	key := cacheKeyAnalysisResult(analysisID)
	if v, ok := c.Cache.get(key); ok {
		return v.(AnalysisResult), nil
	}
	var res AnalysisResult
	err := c.RequestAndDecodeContext(ctx, "Get analysis result", &res, http.MethodGet, "analysis/"+analysisID.pathSegment()+"/result", nil, nil)
	if err != nil {
		return res, err
	}
	c.Cache.add(key, res)
	return res, nil
}

// AnalysisModelPredictions returns the out-of-sample predictions of
// one model of a finished analysis, as CSV text.
func (c *Client) AnalysisModelPredictions(ctx context.Context, analysisID ID, modelKey string) (string, error) {
	const op = "Get analysis model predictions"
	if modelKey == "" {
		return "", validationErrorf(op, "model key", "must not be empty")
	}
	var raw json.RawMessage
	err := c.RequestAndDecodeContext(ctx, op, &raw, http.MethodGet, "analysis/"+analysisID.pathSegment()+"/model/"+url.PathEscape(modelKey)+"/predictions", nil, nil)
	if err != nil {
		return "", err
	}
	var csv string
	if json.Unmarshal(raw, &csv) == nil {
		return csv, nil
	}
	return string(raw), nil
}

// DeleteAnalysis deletes an analysis and returns it.
func (c *Client) DeleteAnalysis(ctx context.Context, analysisID ID) (Analysis, error) {
	var a Analysis
	err := c.RequestAndDecodeContext(ctx, "Delete analysis", &a, http.MethodPost, "analysis/"+analysisID.pathSegment()+"/delete", nil, nil)
	c.Cache.remove(cacheKeyAnalysisResult(analysisID))
	return a, err
}
