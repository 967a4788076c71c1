// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// eachPage calls fetch for successive pages of MaxListCount items
// until totalCount items have been seen or a page comes back empty.
func eachPage(ctx context.Context, fetch func(ListOptions) (n, total int, err error)) error {
	opts := ListOptions{Offset: 0, Count: MaxListCount}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, total, err := fetch(opts)
		if err != nil {
			return err
		}
		opts.Offset += n
		if n == 0 || opts.Offset >= total {
			return nil
		}
	}
}

// AllProjects returns every project owned by the user.
func (c *Client) AllProjects(ctx context.Context) ([]Project, error) {
	var all []Project
	err := eachPage(ctx, func(opts ListOptions) (int, int, error) {
		page, err := c.ListProjects(ctx, opts)
		all = append(all, page.Items...)
		return len(page.Items), page.TotalCount, err
	})
	return all, err
}

// AllDatasets returns every dataset in a project.
func (c *Client) AllDatasets(ctx context.Context, projectID ID) ([]Dataset, error) {
	var all []Dataset
	err := eachPage(ctx, func(opts ListOptions) (int, int, error) {
		page, err := c.ListDatasets(ctx, projectID, opts)
		all = append(all, page.Items...)
		return len(page.Items), page.TotalCount, err
	})
	return all, err
}

// AllAnalyses returns every analysis in a project.
func (c *Client) AllAnalyses(ctx context.Context, projectID ID) ([]Analysis, error) {
	var all []Analysis
	err := eachPage(ctx, func(opts ListOptions) (int, int, error) {
		page, err := c.ListAnalyses(ctx, projectID, opts)
		all = append(all, page.Items...)
		return len(page.Items), page.TotalCount, err
	})
	return all, err
}

// AllPredictions returns every prediction made with an analysis's
// models.
func (c *Client) AllPredictions(ctx context.Context, analysisID ID) ([]Prediction, error) {
	var all []Prediction
	err := eachPage(ctx, func(opts ListOptions) (int, int, error) {
		page, err := c.ListPredictions(ctx, analysisID, opts)
		all = append(all, page.Items...)
		return len(page.Items), page.TotalCount, err
	})
	return all, err
}

// NewFileID returns a random alphanumeric file id for UploadFile.
func NewFileID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// UploadDataset uploads a local file, creates a dataset from it in
// projectID, waits for the dataset creation task, and returns the new
// dataset id.
func (c *Client) UploadDataset(ctx context.Context, projectID ID, name, path string, opts DatasetOptions) (ID, error) {
	const op = "Upload dataset"
	if err := validateDatasetName(op, name); err != nil {
		return "", err
	}
	fileID := NewFileID()
	size, err := c.UploadFileFromPath(ctx, fileID, path)
	if err != nil {
		return "", err
	}
	taskID, err := c.CreateDataset(ctx, fileID, projectID, name, size, opts)
	if err != nil {
		return "", err
	}
	c.logger(ctx).WithField("TaskID", taskID).WithField("Path", path).Info("waiting for dataset creation")
	ts, err := c.WaitForTask(ctx, taskID, WaitOptions{})
	if err != nil {
		return "", err
	}
	return ts.createdDataset(op)
}

func (ts TaskStatus) createdDataset(op string) (ID, error) {
	if ts.DatasetID != "" {
		return ts.DatasetID, nil
	}
	if len(ts.DatasetIDs) > 0 {
		return ts.DatasetIDs[0], nil
	}
	return "", fmt.Errorf("%s: %w", op, errNoDatasetID)
}

var errNoDatasetID = errors.New("task finished without reporting a dataset id")
