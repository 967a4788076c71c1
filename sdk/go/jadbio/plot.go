// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// PlotNames lists the plots computed for one model of an analysis.
type PlotNames struct {
	AnalysisID ID       `json:"analysisId"`
	ModelKey   string   `json:"modelKey"`
	Plots      []string `json:"plots"`
}

// Plot holds the raw values of one plot, keyed by plot name.
type Plot struct {
	AnalysisID ID                         `json:"analysisId"`
	ModelKey   string                     `json:"modelKey"`
	Plot       map[string]json.RawMessage `json:"plot"`
}

// Plots holds the raw values of all plots of a model. Each element
// maps one plot name to its values.
type Plots struct {
	AnalysisID ID                           `json:"analysisId"`
	ModelKey   string                       `json:"modelKey"`
	Plots      []map[string]json.RawMessage `json:"plots"`
}

// AvailablePlots returns the names of the plots computed for a model
// of an analysis.
func (c *Client) AvailablePlots(ctx context.Context, analysisID ID, modelKey string) (PlotNames, error) {
	const op = "Available plots"
	var pn PlotNames
	if modelKey == "" {
		return pn, validationErrorf(op, "model key", "must not be empty")
	}
	err := c.RequestAndDecodeContext(ctx, op, &pn, http.MethodGet, "analysis/"+analysisID.pathSegment()+"/availablePlots", url.Values{"modelKey": {modelKey}}, nil)
	return pn, err
}

// GetPlot returns the raw values of one plot.
func (c *Client) GetPlot(ctx context.Context, analysisID ID, modelKey, plotKey string) (Plot, error) {
	const op = "Get plot"
	var p Plot
	if modelKey == "" || plotKey == "" {
		return p, validationErrorf(op, "", "model key and plot key must not be empty")
	}
	err := c.RequestAndDecodeContext(ctx, op, &p, http.MethodGet, "analysis/"+analysisID.pathSegment()+"/getPlot", url.Values{"modelKey": {modelKey}, "plotKey": {plotKey}}, nil)
	return p, err
}

// GetPlots returns the raw values of all plots of a model.
func (c *Client) GetPlots(ctx context.Context, analysisID ID, modelKey string) (Plots, error) {
	const op = "Get plots"
	var p Plots
	if modelKey == "" {
		return p, validationErrorf(op, "model key", "must not be empty")
	}
	err := c.RequestAndDecodeContext(ctx, op, &p, http.MethodGet, "analysis/"+analysisID.pathSegment()+"/getPlots", url.Values{"modelKey": {modelKey}}, nil)
	return p, err
}
