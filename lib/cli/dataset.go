// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jadbio/jadbio-go/lib/cmd"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"rsc.io/getopt"
)

var Dataset = cmd.Multi(map[string]cmd.Handler{
	"upload": datasetUpload(),
	"get": &apiCommand{
		args:  "dataset-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.GetDataset(ctx, jadbio.ID(args[0]))
		},
	},
	"list": datasetList(),
	"delete": &apiCommand{
		args:  "dataset-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.DeleteDataset(ctx, jadbio.ID(args[0]))
		},
	},
	"attach":       datasetAttach(),
	"change-types": datasetChangeTypes(),
})

var Task = cmd.Multi(map[string]cmd.Handler{
	"status": &apiCommand{
		args:  "task-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.GetTaskStatus(ctx, jadbio.ID(args[0]))
		},
	},
	"wait": &apiCommand{
		args:  "task-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.WaitForTask(ctx, jadbio.ID(args[0]), s.waitOptions())
		},
	},
})

// defaultDatasetName derives a dataset name from a file name.
func defaultDatasetName(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for len([]rune(name)) < 3 {
		name += "_"
	}
	return name
}

func datasetUpload() *apiCommand {
	var name string
	var opts jadbio.DatasetOptions
	return &apiCommand{
		args:  "project-id file",
		nargs: 2,
		flags: func(flags *getopt.FlagSet) {
			opts = jadbio.DatasetOptions{}
			flags.StringVar(&name, "name", "", "Dataset `name` (default: file name without extension)")
			flags.StringVar(&opts.Description, "description", "", "Dataset description")
			flags.Alias("d", "description")
			flags.StringVar(&opts.Separator, "separator", ",", "Field separator")
			flags.BoolVar(&opts.SamplesInColumns, "samples-in-columns", false, "File has one sample per column")
			flags.BoolVar(&opts.NoFeatureHeaders, "no-feature-headers", false, "File has no feature name header")
			flags.BoolVar(&opts.NoSampleHeaders, "no-sample-headers", false, "File has no sample name column")
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			path := args[1]
			fi, err := os.Stat(path)
			if err != nil {
				return nil, err
			}
			if name == "" {
				name = defaultDatasetName(path)
			}
			s.Logger.Infof("uploading %s (%s)", path, humanize.Bytes(uint64(fi.Size())))
			id, err := s.Client.UploadDataset(ctx, jadbio.ID(args[0]), name, path, opts)
			if err != nil {
				return nil, err
			}
			return idResult{"datasetId": id}, nil
		},
	}
}

func datasetList() *apiCommand {
	var lf listFlags
	return &apiCommand{
		args:  "project-id",
		nargs: 1,
		flags: lf.define,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			if lf.all {
				return s.Client.AllDatasets(ctx, jadbio.ID(args[0]))
			}
			return s.Client.ListDatasets(ctx, jadbio.ID(args[0]), lf.opts)
		},
	}
}

func datasetAttach() *apiCommand {
	var name string
	return &apiCommand{
		args:  "dataset-id project-id",
		nargs: 2,
		flags: func(flags *getopt.FlagSet) {
			flags.StringVar(&name, "name", "", "Name of the copy (default: same as the original)")
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			did, pid := jadbio.ID(args[0]), jadbio.ID(args[1])
			if name == "" {
				ds, err := s.Client.GetDataset(ctx, did)
				if err != nil {
					return nil, err
				}
				name = ds.Name
			}
			return s.Client.AttachDataset(ctx, did, pid, name)
		},
	}
}

type featureTypeFlags struct {
	byName        string
	byIndex       string
	byCurrentType string
	byDeducedType string
	newType       string
}

func (ff *featureTypeFlags) define(flags *getopt.FlagSet) {
	*ff = featureTypeFlags{}
	flags.StringVar(&ff.byName, "by-name", "", "Comma-separated feature `names` to change")
	flags.StringVar(&ff.byIndex, "by-index", "", "Comma-separated feature `indexes` to change")
	flags.StringVar(&ff.byCurrentType, "by-current-type", "", "Change all features of this `type`")
	flags.StringVar(&ff.byDeducedType, "by-deduced-type", "", "Change all features the server deduced as this `type`")
	flags.StringVar(&ff.newType, "type", "", "New feature `type`: numerical, categorical, identifier, ...")
	flags.Alias("t", "type")
}

func (ff *featureTypeFlags) change() (jadbio.FeatureTypeChange, error) {
	ch := jadbio.FeatureTypeChange{NewType: ff.newType}
	if ff.newType == "" {
		return ch, errors.New("--type is required")
	}
	if ff.byName != "" {
		ch.Matcher.ByName = strings.Split(ff.byName, ",")
	}
	if ff.byIndex != "" {
		for _, s := range strings.Split(ff.byIndex, ",") {
			i, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return ch, fmt.Errorf("invalid --by-index value %q", s)
			}
			ch.Matcher.ByIndex = append(ch.Matcher.ByIndex, i)
		}
	}
	ch.Matcher.ByCurrentType = ff.byCurrentType
	ch.Matcher.ByDeducedType = ff.byDeducedType
	return ch, nil
}

func datasetChangeTypes() *apiCommand {
	var ff featureTypeFlags
	var check, wait bool
	return &apiCommand{
		args:  "dataset-id new-name",
		nargs: 2,
		flags: func(flags *getopt.FlagSet) {
			ff.define(flags)
			flags.BoolVar(&check, "check", false, "Only check whether the change would succeed")
			waitFlag(flags, &wait)
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			ch, err := ff.change()
			if err != nil {
				return nil, err
			}
			did, newName := jadbio.ID(args[0]), args[1]
			changes := []jadbio.FeatureTypeChange{ch}
			if check {
				return s.Client.CheckChangeFeatureTypes(ctx, did, newName, changes)
			}
			tid, err := s.Client.ChangeFeatureTypes(ctx, did, newName, changes)
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
