// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package jadbio is a client library for the JADBio AutoML public
// REST API (v1).
//
// The client is a thin layer over HTTP: GET requests are read-only
// and idempotent, POST requests create, mutate, or delete
// resources. Model training, feature selection, and prediction all
// run on the server; this package only builds requests, carries the
// session token, decodes the {status, payload} response envelope
// into Go types, and offers a few conveniences (pagination, polling
// long-running tasks, uploading a dataset in one call).
//
// A typical session:
//
//	client := jadbio.NewClient("https://app.jadbio.com")
//	err := client.Login(ctx, "user@example.com", "secret")
//	pid, err := client.CreateProject(ctx, "iris", "")
//	did, err := client.UploadDataset(ctx, pid, "iris", "iris.csv", jadbio.DatasetOptions{})
//	aid, err := client.AnalyzeDataset(ctx, did, jadbio.AnalyzeParams{
//		Name:    "iris analysis",
//		Outcome: jadbio.ClassificationOutcome("variable1"),
//	})
//	_, err = client.WaitForAnalysis(ctx, aid, jadbio.WaitOptions{})
//	result, err := client.GetAnalysisResult(ctx, aid)
package jadbio
