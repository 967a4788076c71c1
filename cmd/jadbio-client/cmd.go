// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/jadbio/jadbio-go/lib/cli"
	"github.com/jadbio/jadbio-go/lib/cmd"
	"github.com/jadbio/jadbio-go/lib/inbox"
)

var (
	handler = cmd.Multi(map[string]cmd.Handler{
		"version":   cmd.Version,
		"-version":  cmd.Version,
		"--version": cmd.Version,

		"login":          cli.Login,
		"server-version": cli.ServerVersion,

		"project":    cli.Project,
		"dataset":    cli.Dataset,
		"task":       cli.Task,
		"analysis":   cli.Analysis,
		"prediction": cli.Prediction,
		"image":      cli.Image,

		"inbox": inbox.Command,
	})
)

// fixLegacyArgs moves the command and subcommand in front of any
// common flags, so "jadbio-client -f yaml project list" means
// "jadbio-client project list -f yaml".
func fixLegacyArgs(args []string) []string {
	flags, _ := cli.CommonFlagSet()
	args = cmd.SubcommandToFront(args, flags)
	if len(args) < 2 {
		return args
	}
	flags, _ = cli.CommonFlagSet()
	return append([]string{args[0]}, cmd.SubcommandToFront(args[1:], flags)...)
}

func main() {
	os.Exit(handler.RunCommand(os.Args[0], fixLegacyArgs(os.Args[1:]), os.Stdin, os.Stdout, os.Stderr))
}
