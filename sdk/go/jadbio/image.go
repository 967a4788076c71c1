// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
)

// DefaultImageTargetFile is the target CSV uploaded by
// ImageUploadInit when no path is given.
const DefaultImageTargetFile = "target.csv"

type imageUploadAttributes struct {
	ProjectID         ID     `json:"projectId"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	HasFeatureHeaders bool   `json:"hasFeatureHeaders"`
}

// ImageSample is one image of an image dataset.
type ImageSample struct {
	SampleID string
	Path     string
}

// ImageDataset describes a complete image dataset upload.
type ImageDataset struct {
	ProjectID         ID
	Name              string
	Description       string
	TargetCSV         string
	HasFeatureHeaders bool
	Samples           []ImageSample
}

type multipartField struct {
	name     string
	filename string // empty for a plain form field
	data     []byte
}

func encodeMultipart(fields []multipartField) (typedBody, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		var w io.Writer
		var err error
		if f.filename == "" {
			w, err = mw.CreateFormField(f.name)
		} else {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.name, f.filename))
			h.Set("Content-Type", "text/plain")
			w, err = mw.CreatePart(h)
		}
		if err != nil {
			return typedBody{}, err
		}
		if _, err := w.Write(f.data); err != nil {
			return typedBody{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return typedBody{}, err
	}
	return typedBody{contentType: mw.FormDataContentType(), data: buf.Bytes()}, nil
}

// ImageUploadInit starts an image dataset upload in projectID. The
// target CSV (DefaultImageTargetFile if targetCSV is empty) holds the
// outcome of each sample. It returns the upload task id, to be
// passed to ImageUploadAddSample and ImageUploadCommit.
func (c *Client) ImageUploadInit(ctx context.Context, projectID ID, name, targetCSV string, hasFeatureHeaders bool, description string) (ID, error) {
	const op = "Image Upload init"
	if err := validateDatasetName(op, name); err != nil {
		return "", err
	}
	if targetCSV == "" {
		targetCSV = DefaultImageTargetFile
	}
	target, err := os.ReadFile(targetCSV)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	attrs, err := json.Marshal(imageUploadAttributes{
		ProjectID:         projectID,
		Name:              name,
		Description:       description,
		HasFeatureHeaders: hasFeatureHeaders,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	body, err := encodeMultipart([]multipartField{
		{name: "attributes", data: attrs},
		{name: "file", filename: "target.csv", data: target},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var resp struct {
		TaskID ID `json:"taskId"`
	}
	err = c.RequestAndDecodeContext(ctx, op, &resp, http.MethodPost, "image/initUpload", nil, body)
	return resp.TaskID, err
}

// ImageUploadAddSample adds one image file to an image upload.
func (c *Client) ImageUploadAddSample(ctx context.Context, taskID ID, sampleID, path string) error {
	const op = "Image Sample Upload"
	if sampleID == "" {
		return validationErrorf(op, "sample id", "must not be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	body, err := encodeMultipart([]multipartField{
		{name: "sampleId", data: []byte(sampleID)},
		{name: "file", filename: filepath.Base(path), data: data},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return c.RequestAndDecodeContext(ctx, op, nil, http.MethodPost, "image/"+taskID.pathSegment()+"/add", nil, body)
}

// ImageUploadCommit finishes an image upload. The server then builds
// the dataset; poll the task with GetTaskStatus or WaitForTask.
func (c *Client) ImageUploadCommit(ctx context.Context, taskID ID) error {
	return c.RequestAndDecodeContext(ctx, "Image Upload Commit", nil, http.MethodGet, "image/"+taskID.pathSegment()+"/commit", nil, nil)
}

// UploadImageDataset runs a whole image upload (init, add each
// sample, commit) and returns the task id.
func (c *Client) UploadImageDataset(ctx context.Context, ds ImageDataset) (ID, error) {
	taskID, err := c.ImageUploadInit(ctx, ds.ProjectID, ds.Name, ds.TargetCSV, ds.HasFeatureHeaders, ds.Description)
	if err != nil {
		return "", err
	}
	log := c.logger(ctx).WithField("TaskID", taskID)
	for i, s := range ds.Samples {
		if err := c.ImageUploadAddSample(ctx, taskID, s.SampleID, s.Path); err != nil {
			return taskID, err
		}
		log.WithField("SampleID", s.SampleID).Debugf("uploaded image %d/%d", i+1, len(ds.Samples))
	}
	return taskID, c.ImageUploadCommit(ctx, taskID)
}
