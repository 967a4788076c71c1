// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
)

// PredictionParameters identify the model and dataset of a
// prediction.
type PredictionParameters struct {
	AnalysisID     ID     `json:"analysisId"`
	ModelKey       string `json:"modelKey"`
	SignatureIndex int    `json:"signatureIndex"`
	DatasetID      ID     `json:"datasetId"`
}

// Prediction applies a model found by an analysis to an unlabeled
// dataset.
type Prediction struct {
	PredictionID ID                   `json:"predictionId"`
	ProjectID    ID                   `json:"projectId"`
	Parameters   PredictionParameters `json:"parameters"`
	State        string               `json:"state"`
}

// PredictionStatus is the state of a prediction.
type PredictionStatus struct {
	PredictionID ID     `json:"predictionId"`
	State        string `json:"state"`
}

type predictRequest struct {
	ModelKey       string `json:"modelKey"`
	SignatureIndex int    `json:"signatureIndex"`
}

func validatePredict(op, modelKey string, signatureIndex int) error {
	if modelKey == "" {
		return validationErrorf(op, "model key", "must not be empty")
	}
	if signatureIndex < 0 {
		return validationErrorf(op, "signature index", "must be non-negative, got %d", signatureIndex)
	}
	return nil
}

// PredictOutcome starts predicting the outcome of datasetID with the
// model modelKey (and its signatureIndex'th signature) of a finished
// analysis. It returns the prediction id.
func (c *Client) PredictOutcome(ctx context.Context, analysisID, datasetID ID, modelKey string, signatureIndex int) (ID, error) {
	const op = "Predict outcome"
	if err := validatePredict(op, modelKey, signatureIndex); err != nil {
		return "", err
	}
	var resp struct {
		PredictionID ID `json:"predictionId"`
	}
	err := c.RequestAndDecodeContext(ctx, op, &resp, http.MethodPost, "analysis/"+analysisID.pathSegment()+"/predict/"+datasetID.pathSegment(), nil, predictRequest{
		ModelKey:       modelKey,
		SignatureIndex: signatureIndex,
	})
	return resp.PredictionID, err
}

// CheckPredictOutcome reports the errors and warnings PredictOutcome
// would encounter, without starting a prediction.
func (c *Client) CheckPredictOutcome(ctx context.Context, analysisID, datasetID ID, modelKey string, signatureIndex int) (CheckResult, error) {
	const op = "Check Predict outcome"
	var cr CheckResult
	if err := validatePredict(op, modelKey, signatureIndex); err != nil {
		return cr, err
	}
	err := c.RequestAndDecodeContext(ctx, op, &cr, http.MethodPost, "analysis/"+analysisID.pathSegment()+"/check/predict/"+datasetID.pathSegment(), nil, predictRequest{
		ModelKey:       modelKey,
		SignatureIndex: signatureIndex,
	})
	return cr, err
}

// GetPrediction returns a prediction.
func (c *Client) GetPrediction(ctx context.Context, predictionID ID) (Prediction, error) {
	var p Prediction
	err := c.RequestAndDecodeContext(ctx, "Get prediction", &p, http.MethodGet, "prediction/"+predictionID.pathSegment(), nil, nil)
	return p, err
}

// ListPredictions returns a page of the predictions made with the
// models of an analysis.
func (c *Client) ListPredictions(ctx context.Context, analysisID ID, opts ListOptions) (PredictionList, error) {
	const op = "Get predictions"
	var list PredictionList
	opts = opts.withDefaults()
	if err := opts.validate(op); err != nil {
		return list, err
	}
	err := c.RequestAndDecodeContext(ctx, op, &list, http.MethodGet, "analysis/"+analysisID.pathSegment()+"/predictions/"+opts.pathSuffix(), nil, nil)
	return list, err
}

// GetPredictionStatus returns the state of a prediction.
func (c *Client) GetPredictionStatus(ctx context.Context, predictionID ID) (PredictionStatus, error) {
	var st PredictionStatus
	err := c.RequestAndDecodeContext(ctx, "Get prediction status", &st, http.MethodGet, "prediction/"+predictionID.pathSegment()+"/status", nil, nil)
	return st, err
}

// WritePredictionResult copies the CSV result of a finished
// prediction to w.
func (c *Client) WritePredictionResult(ctx context.Context, predictionID ID, w io.Writer) error {
	return c.RequestRaw(ctx, "Get prediction result", w, http.MethodGet, "prediction/"+predictionID.pathSegment()+"/result", url.Values{"format": {"csv"}}, nil)
}

// PredictionResult returns the CSV result of a finished prediction.
func (c *Client) PredictionResult(ctx context.Context, predictionID ID) (string, error) {
	var buf bytes.Buffer
	err := c.WritePredictionResult(ctx, predictionID, &buf)
	return buf.String(), err
}

// DeletePrediction deletes a prediction and returns it.
func (c *Client) DeletePrediction(ctx context.Context, predictionID ID) (Prediction, error) {
	var p Prediction
	err := c.RequestAndDecodeContext(ctx, "Delete prediction", &p, http.MethodPost, "prediction/"+predictionID.pathSegment()+"/delete", nil, nil)
	return p, err
}
