// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"net/http"
)

// Project is a JADBio project.
type Project struct {
	ProjectID   ID     `json:"projectId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateProject creates a new project and returns its id.
func (c *Client) CreateProject(ctx context.Context, name, description string) (ID, error) {
	const op = "Create project"
	if name == "" {
		return "", validationErrorf(op, "name", "must not be empty")
	}
	var resp struct {
		ProjectID ID `json:"projectId"`
	}
	err := c.RequestAndDecodeContext(ctx, op, &resp, http.MethodPost, "createProject", nil, createProjectRequest{
		Name:        name,
		Description: description,
	})
	return resp.ProjectID, err
}

// GetProject returns a project the user can read.
func (c *Client) GetProject(ctx context.Context, projectID ID) (Project, error) {
	var p Project
	err := c.RequestAndDecodeContext(ctx, "Get project", &p, http.MethodGet, "project/"+projectID.pathSegment(), nil, nil)
	return p, err
}

// ListProjects returns a page of the projects owned by the user.
func (c *Client) ListProjects(ctx context.Context, opts ListOptions) (ProjectList, error) {
	const op = "Get projects"
	var list ProjectList
	opts = opts.withDefaults()
	if err := opts.validate(op); err != nil {
		return list, err
	}
	err := c.RequestAndDecodeContext(ctx, op, &list, http.MethodGet, "projects/owned/"+opts.pathSuffix(), nil, nil)
	return list, err
}

// DeleteProject deletes a project owned by the user, along with all
// of its datasets, analyses, and predictions. It returns the deleted
// project.
func (c *Client) DeleteProject(ctx context.Context, projectID ID) (Project, error) {
	var p Project
	err := c.RequestAndDecodeContext(ctx, "Delete project", &p, http.MethodPost, "project/"+projectID.pathSegment()+"/delete", nil, nil)
	return p, err
}
