// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/ghodss/yaml"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
)

// Keys tried, in order, when printing a result with --format=id.
var idKeys = []string{"predictionId", "analysisId", "taskId", "datasetId", "projectId", "id"}

func printResult(w io.Writer, format string, v interface{}) error {
	switch format {
	case "yaml":
		buf, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(buf)
		return err
	case "id":
		ids, err := resultIDs(v)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(w, id)
		}
		return nil
	case "text":
		return printText(w, v)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// resultIDs returns the id of v, or the ids of the items in v if v is
// a list (a slice, or an object with a "data" array).
func resultIDs(v interface{}) ([]interface{}, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if err := json.Unmarshal(buf, &decoded); err != nil {
		return nil, err
	}
	if decoded == nil {
		// empty list
		return nil, nil
	}
	items, isList := decoded.([]interface{})
	obj, isObj := decoded.(map[string]interface{})
	if isObj {
		items, isList = obj["data"].([]interface{})
	}
	if isList {
		ids := []interface{}{}
		for _, item := range items {
			if item, ok := item.(map[string]interface{}); ok {
				if id, ok := firstID(item); ok {
					ids = append(ids, id)
				}
			}
		}
		return ids, nil
	}
	if isObj {
		if id, ok := firstID(obj); ok {
			return []interface{}{id}, nil
		}
	}
	return nil, fmt.Errorf("result has no id")
}

func firstID(obj map[string]interface{}) (interface{}, bool) {
	for _, k := range idKeys {
		if id, ok := obj[k]; ok && id != nil && id != "" {
			return id, true
		}
	}
	return nil, false
}

func printText(w io.Writer, v interface{}) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	switch v := v.(type) {
	case jadbio.ProjectList:
		for _, p := range v.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ProjectID, p.Name, p.Description)
		}
	case []jadbio.Project:
		for _, p := range v {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ProjectID, p.Name, p.Description)
		}
	case jadbio.Dataset:
		printDataset(tw, v)
	case jadbio.DatasetList:
		for _, ds := range v.Items {
			printDataset(tw, ds)
		}
	case []jadbio.Dataset:
		for _, ds := range v {
			printDataset(tw, ds)
		}
	case jadbio.AnalysisList:
		for _, a := range v.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", a.AnalysisID, a.Parameters.Name, a.State)
		}
	case []jadbio.Analysis:
		for _, a := range v {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", a.AnalysisID, a.Parameters.Name, a.State)
		}
	case jadbio.PredictionList:
		for _, p := range v.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.PredictionID, p.Parameters.ModelKey, p.State)
		}
	case []jadbio.Prediction:
		for _, p := range v {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.PredictionID, p.Parameters.ModelKey, p.State)
		}
	case jadbio.CheckResult:
		for _, e := range v.Errors {
			fmt.Fprintf(tw, "error\t%s\n", e)
		}
		for _, e := range v.Warnings {
			fmt.Fprintf(tw, "warning\t%s\n", e)
		}
		for _, e := range v.Suggestions {
			fmt.Fprintf(tw, "suggestion\t%s\n", e)
		}
	default:
		return printResult(w, "yaml", v)
	}
	return tw.Flush()
}

func printDataset(w io.Writer, ds jadbio.Dataset) {
	fmt.Fprintf(w, "%s\t%s\t%s samples\t%s features\t%s\n",
		ds.DatasetID, ds.Name,
		humanize.Comma(ds.SampleCount),
		humanize.Comma(ds.FeatureCount),
		humanize.Bytes(uint64(ds.SizeInBytes)))
}
