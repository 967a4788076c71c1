// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"net/http"
	"strings"
)

// States reported for tasks, analyses, and predictions.
const (
	StateFinished = "finished"
	StateRunning  = "running"
)

var failureStates = []string{"failed", "aborted", "error", "cancelled", "canceled"}

// IsFinished reports whether state means the work completed
// successfully.
func IsFinished(state string) bool {
	return strings.EqualFold(state, StateFinished)
}

// IsFailed reports whether state means the work ended without a
// result.
func IsFailed(state string) bool {
	for _, s := range failureStates {
		if strings.EqualFold(state, s) {
			return true
		}
	}
	return false
}

// TaskStatus is the status of an asynchronous server-side task
// (dataset creation, feature type change, image upload).
type TaskStatus struct {
	TaskID     ID     `json:"taskId"`
	State      string `json:"state"`
	DatasetID  ID     `json:"datasetId,omitempty"`
	DatasetIDs []ID   `json:"datasetIds,omitempty"`
}

// GetTaskStatus returns the status of a task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID ID) (TaskStatus, error) {
	var ts TaskStatus
	err := c.RequestAndDecodeContext(ctx, "Get task", &ts, http.MethodGet, "task/"+taskID.pathSegment()+"/status", nil, nil)
	return ts, err
}
