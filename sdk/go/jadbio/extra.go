// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
)

// ExtraAlgorithm selects an additional model or feature selector to
// train, with explicit hyper-parameters.
type ExtraAlgorithm struct {
	Name       string
	Parameters map[string]interface{}
}

type extraAlgorithmParam struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

type extraAlgorithmWire struct {
	Name       string                `json:"name"`
	Parameters []extraAlgorithmParam `json:"parameters"`
}

// MarshalJSON encodes parameters as a list of {key, value} objects,
// sorted by key.
func (a ExtraAlgorithm) MarshalJSON() ([]byte, error) {
	w := extraAlgorithmWire{Name: a.Name, Parameters: []extraAlgorithmParam{}}
	for k, v := range a.Parameters {
		w.Parameters = append(w.Parameters, extraAlgorithmParam{Key: k, Value: v})
	}
	sort.Slice(w.Parameters, func(i, j int) bool { return w.Parameters[i].Key < w.Parameters[j].Key })
	return json.Marshal(w)
}

// UnmarshalJSON accepts parameters either as a list of {key, value}
// objects or as a plain object.
func (a *ExtraAlgorithm) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name       string          `json:"name"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Name = raw.Name
	a.Parameters = map[string]interface{}{}
	if len(raw.Parameters) == 0 || string(raw.Parameters) == "null" {
		return nil
	}
	var list []extraAlgorithmParam
	if err := json.Unmarshal(raw.Parameters, &list); err == nil {
		for _, p := range list {
			a.Parameters[p.Key] = p.Value
		}
		return nil
	}
	return json.Unmarshal(raw.Parameters, &a.Parameters)
}

// AlgorithmDescription describes an extra model or feature selector
// and its hyper-parameters.
type AlgorithmDescription struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Type        string                 `json:"type"`
	Parameters  []AlgorithmParamDetail `json:"parameters"`
}

// AlgorithmParamDetail describes one hyper-parameter.
type AlgorithmParamDetail struct {
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Type           interface{}   `json:"type"`
	DefaultValue   interface{}   `json:"defaultValue"`
	PossibleValues []interface{} `json:"possibleValues,omitempty"`
}

// ExtraModels returns the extra models available for analyses with
// the given outcome type (OutcomeRegression, OutcomeClassification,
// or OutcomeSurvival).
func (c *Client) ExtraModels(ctx context.Context, outcomeType string) ([]AlgorithmDescription, error) {
	return c.extraAlgorithms(ctx, "Get Extra Models", outcomeType, "models", "extraModels")
}

// ExtraFeatureSelectors returns the extra feature selectors available
// for analyses with the given outcome type.
func (c *Client) ExtraFeatureSelectors(ctx context.Context, outcomeType string) ([]AlgorithmDescription, error) {
	return c.extraAlgorithms(ctx, "Get Extra FS", outcomeType, "featureSelectors", "extraFeatureSelectors")
}

func (c *Client) extraAlgorithms(ctx context.Context, op, outcomeType, kind, field string) ([]AlgorithmDescription, error) {
	if err := checkEnum(op, "outcome type", outcomeType, outcomeTypes); err != nil {
		return nil, err
	}
	key := cacheKeyExtra(kind, outcomeType)
	if v, ok := c.Cache.get(key); ok {
		return v.([]AlgorithmDescription), nil
	}
	var resp map[string][]AlgorithmDescription
	err := c.RequestAndDecodeContext(ctx, op, &resp, http.MethodGet, "analysis/extra/"+url.PathEscape(outcomeType)+"/"+kind, nil, nil)
	if err != nil {
		return nil, err
	}
	algs := resp[field]
	c.Cache.add(key, algs)
	return algs, nil
}
