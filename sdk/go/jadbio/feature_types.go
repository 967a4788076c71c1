// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"net/http"
)

// Feature types.
const (
	FeatureNumerical   = "numerical"
	FeatureCategorical = "categorical"
	FeatureTimeToEvent = "timeToEvent"
	FeatureEvent       = "event"
	FeatureIdentifier  = "identifier"
)

var (
	featureTypes        = []string{FeatureNumerical, FeatureCategorical, FeatureTimeToEvent, FeatureEvent, FeatureIdentifier}
	deducedFeatureTypes = []string{FeatureCategorical, FeatureIdentifier}
)

// FeatureMatcher selects features of a dataset. Exactly one field
// must be set.
type FeatureMatcher struct {
	// Exact feature names.
	ByName []string `json:"byName,omitempty"`
	// Zero-based column indices.
	ByIndex []int `json:"byIndex,omitempty"`
	// One of the Feature* types.
	ByCurrentType string `json:"byCurrentType,omitempty"`
	// FeatureCategorical or FeatureIdentifier: matches features
	// whose type the server deduced on a best-effort basis.
	ByDeducedType string `json:"byDeducedType,omitempty"`
}

// FeatureTypeChange sets the type of the matched features. When a
// feature is matched by several changes, the last one wins.
type FeatureTypeChange struct {
	Matcher FeatureMatcher `json:"matcher"`
	NewType string         `json:"newType"`
}

// CheckResult is the outcome of a dry-run ("check") request.
type CheckResult struct {
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// OK reports whether the check found no errors.
func (cr CheckResult) OK() bool {
	return len(cr.Errors) == 0
}

type changeFeatureTypesRequest struct {
	NewName string              `json:"newName"`
	Changes []FeatureTypeChange `json:"changes"`
}

func (m FeatureMatcher) validate(op string) error {
	n := 0
	if len(m.ByName) > 0 {
		n++
	}
	if len(m.ByIndex) > 0 {
		n++
		for _, idx := range m.ByIndex {
			if idx < 0 {
				return validationErrorf(op, "matcher", "byIndex entries must be non-negative, got %d", idx)
			}
		}
	}
	if m.ByCurrentType != "" {
		n++
		if err := checkEnum(op, "byCurrentType", m.ByCurrentType, featureTypes); err != nil {
			return err
		}
	}
	if m.ByDeducedType != "" {
		n++
		if err := checkEnum(op, "byDeducedType", m.ByDeducedType, deducedFeatureTypes); err != nil {
			return err
		}
	}
	if n != 1 {
		return validationErrorf(op, "matcher", "exactly one of byName, byIndex, byCurrentType, byDeducedType must be given")
	}
	return nil
}

func validateFeatureTypeChanges(op, newName string, changes []FeatureTypeChange) error {
	if err := validateDatasetName(op, newName); err != nil {
		return err
	}
	if len(changes) == 0 {
		return validationErrorf(op, "changes", "must not be empty")
	}
	for _, ch := range changes {
		if err := ch.Matcher.validate(op); err != nil {
			return err
		}
		if err := checkEnum(op, "newType", ch.NewType, featureTypes); err != nil {
			return err
		}
	}
	return nil
}

// ChangeFeatureTypes starts a task that creates a copy of a dataset,
// named newName, with the given feature type changes applied. It
// returns the task id.
func (c *Client) ChangeFeatureTypes(ctx context.Context, datasetID ID, newName string, changes []FeatureTypeChange) (ID, error) {
	const op = "Change feature types"
	if err := validateFeatureTypeChanges(op, newName, changes); err != nil {
		return "", err
	}
	var resp struct {
		TaskID ID `json:"taskId"`
	}
	err := c.RequestAndDecodeContext(ctx, op, &resp, http.MethodPost, "dataset/"+datasetID.pathSegment()+"/changeFeatureTypes", nil, changeFeatureTypesRequest{
		NewName: newName,
		Changes: changes,
	})
	return resp.TaskID, err
}

// CheckChangeFeatureTypes reports the errors and warnings that
// ChangeFeatureTypes would encounter, without creating anything.
func (c *Client) CheckChangeFeatureTypes(ctx context.Context, datasetID ID, newName string, changes []FeatureTypeChange) (CheckResult, error) {
	const op = "Check change feature types"
	var cr CheckResult
	if err := validateFeatureTypeChanges(op, newName, changes); err != nil {
		return cr, err
	}
	err := c.RequestAndDecodeContext(ctx, op, &cr, http.MethodPost, "dataset/"+datasetID.pathSegment()+"/check/changeFeatureTypes", nil, changeFeatureTypesRequest{
		NewName: newName,
		Changes: changes,
	})
	return cr, err
}
