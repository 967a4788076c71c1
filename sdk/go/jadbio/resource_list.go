// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"strconv"
)

const (
	// MaxListCount is the largest page size the server accepts.
	MaxListCount = 100

	// DefaultListCount is used when ListOptions.Count is zero.
	DefaultListCount = 10
)

// ListOptions selects a page of an ordered, zero-indexed list.
type ListOptions struct {
	Offset int
	// Count is the maximum number of items to return. Zero means
	// DefaultListCount.
	Count int
}

func (opts ListOptions) withDefaults() ListOptions {
	if opts.Count == 0 {
		opts.Count = DefaultListCount
	}
	return opts
}

func (opts ListOptions) validate(op string) error {
	if opts.Offset < 0 {
		return validationErrorf(op, "offset", "must be non-negative, got %d", opts.Offset)
	}
	if opts.Count < 0 {
		return validationErrorf(op, "count", "must be non-negative, got %d", opts.Count)
	}
	if opts.Count > MaxListCount {
		return validationErrorf(op, "count", "can be at most %d, got %d", MaxListCount, opts.Count)
	}
	return nil
}

// pathSuffix returns "{offset}/{count}" for list endpoints.
func (opts ListOptions) pathSuffix() string {
	return strconv.Itoa(opts.Offset) + "/" + strconv.Itoa(opts.Count)
}

// ProjectList is a page of projects.
type ProjectList struct {
	Offset     int       `json:"offset"`
	TotalCount int       `json:"totalCount"`
	Items      []Project `json:"data"`
}

// DatasetList is a page of the datasets in a project.
type DatasetList struct {
	ProjectID  ID        `json:"projectId"`
	Offset     int       `json:"offset"`
	TotalCount int       `json:"totalCount"`
	Items      []Dataset `json:"data"`
}

// AnalysisList is a page of the analyses in a project.
type AnalysisList struct {
	ProjectID  ID         `json:"projectId"`
	Offset     int        `json:"offset"`
	TotalCount int        `json:"totalCount"`
	Items      []Analysis `json:"data"`
}

// PredictionList is a page of the predictions made with an
// analysis's models.
type PredictionList struct {
	AnalysisID ID           `json:"analysisId"`
	Offset     int          `json:"offset"`
	TotalCount int          `json:"totalCount"`
	Items      []Prediction `json:"data"`
}
