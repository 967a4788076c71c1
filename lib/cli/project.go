// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"

	"github.com/jadbio/jadbio-go/lib/cmd"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"rsc.io/getopt"
)

var Project = cmd.Multi(map[string]cmd.Handler{
	"create": projectCreate(),
	"get": &apiCommand{
		args:  "project-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.GetProject(ctx, jadbio.ID(args[0]))
		},
	},
	"list": projectList(),
	"delete": &apiCommand{
		args:  "project-id",
		nargs: 1,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			return s.Client.DeleteProject(ctx, jadbio.ID(args[0]))
		},
	},
})

func projectCreate() *apiCommand {
	var description string
	return &apiCommand{
		args:  "name",
		nargs: 1,
		flags: func(flags *getopt.FlagSet) {
			flags.StringVar(&description, "description", "", "Project description")
			flags.Alias("d", "description")
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			id, err := s.Client.CreateProject(ctx, args[0], description)
			if err != nil {
				return nil, err
			}
			return idResult{"projectId": id}, nil
		},
	}
}

func projectList() *apiCommand {
	var lf listFlags
	return &apiCommand{
		nargs: 0,
		flags: lf.define,
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			if lf.all {
				return s.Client.AllProjects(ctx)
			}
			return s.Client.ListProjects(ctx, lf.opts)
		},
	}
}
