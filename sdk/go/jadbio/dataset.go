// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"unicode/utf8"
)

// Dataset is a tabular dataset attached to a project.
type Dataset struct {
	DatasetID    ID     `json:"datasetId"`
	ProjectID    ID     `json:"projectId"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SampleCount  int64  `json:"sampleCount"`
	FeatureCount int64  `json:"featureCount"`
	SizeInBytes  int64  `json:"sizeInBytes"`
}

// DatasetOptions describe the layout of an uploaded file. The zero
// value means a comma-separated file with samples in rows, a header
// row of feature names, and a first column of sample names.
type DatasetOptions struct {
	// Separator defaults to ",".
	Separator        string
	SamplesInColumns bool
	NoFeatureHeaders bool
	NoSampleHeaders  bool
	Description      string
}

type createDatasetRequest struct {
	FileSizeInBytes   int64  `json:"fileSizeInBytes"`
	Separator         string `json:"separator"`
	HasSamplesInRows  bool   `json:"hasSamplesInRows"`
	HasFeatureHeaders bool   `json:"hasFeatureHeaders"`
	HasSampleHeaders  bool   `json:"hasSampleHeaders"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	ProjectID         ID     `json:"projectId"`
}

const (
	minDatasetNameLength     = 3
	maxDatasetNameLength     = 60
	maxDatasetDescriptionLen = 255
)

func validateDatasetName(op, name string) error {
	if n := utf8.RuneCountInString(name); n < minDatasetNameLength || n > maxDatasetNameLength {
		return validationErrorf(op, "name", "must have %d to %d characters, got %d", minDatasetNameLength, maxDatasetNameLength, n)
	}
	return nil
}

// UploadFile uploads the content of r under the client-chosen file id
// (alphanumeric). Reusing a file id overwrites the earlier upload.
func (c *Client) UploadFile(ctx context.Context, fileID string, r io.Reader) error {
	const op = "Upload file"
	if err := validateFileID(op, fileID); err != nil {
		return err
	}
	return c.RequestRaw(ctx, op, nil, http.MethodPost, "file/"+url.PathEscape(fileID)+"/upload", nil, r)
}

// UploadFileFromPath uploads the named local file under fileID, and
// returns its size in bytes (needed by CreateDataset).
func (c *Client) UploadFileFromPath(ctx context.Context, fileID, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("Upload file: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("Upload file: %w", err)
	}
	if err := c.UploadFile(ctx, fileID, f); err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func validateFileID(op, fileID string) error {
	if fileID == "" {
		return validationErrorf(op, "file id", "must not be empty")
	}
	for _, r := range fileID {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return validationErrorf(op, "file id", "must be alphanumeric, got %q", fileID)
		}
	}
	return nil
}

// CreateDataset starts a task that creates a dataset in projectID
// from a previously uploaded file. size must match the size of the
// uploaded file. It returns the task id; the new dataset id is
// reported by GetTaskStatus once the task finishes.
func (c *Client) CreateDataset(ctx context.Context, fileID string, projectID ID, name string, size int64, opts DatasetOptions) (ID, error) {
	const op = "Create dataset"
	if err := validateFileID(op, fileID); err != nil {
		return "", err
	}
	if err := validateDatasetName(op, name); err != nil {
		return "", err
	}
	if n := utf8.RuneCountInString(opts.Description); n > maxDatasetDescriptionLen {
		return "", validationErrorf(op, "description", "can have at most %d characters, got %d", maxDatasetDescriptionLen, n)
	}
	if size < 0 {
		return "", validationErrorf(op, "file size", "must be non-negative, got %d", size)
	}
	sep := opts.Separator
	if sep == "" {
		sep = ","
	}
	var resp struct {
		TaskID ID `json:"taskId"`
	}
	err := c.RequestAndDecodeContext(ctx, op, &resp, http.MethodPost, "file/"+url.PathEscape(fileID)+"/createDataset", nil, createDatasetRequest{
		FileSizeInBytes:   size,
		Separator:         sep,
		HasSamplesInRows:  !opts.SamplesInColumns,
		HasFeatureHeaders: !opts.NoFeatureHeaders,
		HasSampleHeaders:  !opts.NoSampleHeaders,
		Name:              name,
		Description:       opts.Description,
		ProjectID:         projectID,
	})
	return resp.TaskID, err
}

// GetDataset returns a dataset the user can read.
func (c *Client) GetDataset(ctx context.Context, datasetID ID) (Dataset, error) {
	var ds Dataset
	err := c.RequestAndDecodeContext(ctx, "Get dataset", &ds, http.MethodGet, "dataset/"+datasetID.pathSegment(), nil, nil)
	return ds, err
}

// AttachDataset attaches an existing dataset (from any readable
// project) to projectID under a new name, and returns the attached
// dataset.
func (c *Client) AttachDataset(ctx context.Context, datasetID, projectID ID, name string) (Dataset, error) {
	const op = "Attach dataset"
	var ds Dataset
	if err := validateDatasetName(op, name); err != nil {
		return ds, err
	}
	err := c.RequestAndDecodeContext(ctx, op, &ds, http.MethodPost, "dataset/"+datasetID.pathSegment()+"/attachToProject/"+projectID.pathSegment(), nil, []byte(name))
	return ds, err
}

// ListDatasets returns a page of the datasets in a project.
func (c *Client) ListDatasets(ctx context.Context, projectID ID, opts ListOptions) (DatasetList, error) {
	const op = "Get datasets"
	var list DatasetList
	opts = opts.withDefaults()
	if err := opts.validate(op); err != nil {
		return list, err
	}
	err := c.RequestAndDecodeContext(ctx, op, &list, http.MethodGet, "datasets/"+projectID.pathSegment()+"/"+opts.pathSuffix(), nil, nil)
	return list, err
}

// DeleteDataset deletes a dataset along with its analyses and
// predictions, and returns the deleted dataset.
func (c *Client) DeleteDataset(ctx context.Context, datasetID ID) (Dataset, error) {
	var ds Dataset
	err := c.RequestAndDecodeContext(ctx, "Delete dataset", &ds, http.MethodPost, "dataset/"+datasetID.pathSegment()+"/delete", nil, nil)
	return ds, err
}
