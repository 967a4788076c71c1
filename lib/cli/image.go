// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jadbio/jadbio-go/lib/cmd"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"rsc.io/getopt"
)

var Image = cmd.Multi(map[string]cmd.Handler{
	"upload": imageUpload(),
})

// imageSamples expands glob patterns (with ** support) into samples
// named after each file's base name without extension.
func imageSamples(patterns []string) ([]jadbio.ImageSample, error) {
	seen := map[string]string{}
	var samples []jadbio.ImageSample
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%q: no matching files", pattern)
		}
		sort.Strings(matches)
		for _, path := range matches {
			id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if prev, ok := seen[id]; ok {
				if prev == path {
					continue
				}
				return nil, fmt.Errorf("sample id %q used by both %s and %s", id, prev, path)
			}
			seen[id] = path
			samples = append(samples, jadbio.ImageSample{SampleID: id, Path: path})
		}
	}
	return samples, nil
}

func imageUpload() *apiCommand {
	var ds jadbio.ImageDataset
	var wait bool
	return &apiCommand{
		args:  "project-id name image-glob [image-glob ...]",
		nargs: -1,
		flags: func(flags *getopt.FlagSet) {
			ds = jadbio.ImageDataset{}
			flags.StringVar(&ds.TargetCSV, "target", jadbio.DefaultImageTargetFile, "CSV `file` with the target value of each sample")
			flags.StringVar(&ds.Description, "description", "", "Dataset description")
			flags.Alias("d", "description")
			flags.BoolVar(&ds.HasFeatureHeaders, "feature-headers", false, "Target file has a header row")
			waitFlag(flags, &wait)
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			if len(args) < 3 {
				return nil, fmt.Errorf("need project-id, name, and at least one image-glob")
			}
			ds.ProjectID = jadbio.ID(args[0])
			ds.Name = args[1]
			samples, err := imageSamples(args[2:])
			if err != nil {
				return nil, err
			}
			ds.Samples = samples
			s.Logger.Infof("uploading %d images", len(samples))
			tid, err := s.Client.UploadImageDataset(ctx, ds)
			if err != nil {
				return nil, err
			}
			if !wait {
				return idResult{"taskId": tid}, nil
			}
			return s.Client.WaitForTask(ctx, tid, s.waitOptions())
		},
	}
}
