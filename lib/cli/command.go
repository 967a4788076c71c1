// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the jadbio-client subcommands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jadbio/jadbio-go/lib/cmd"
	"github.com/jadbio/jadbio-go/sdk/go/ctxlog"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"rsc.io/getopt"
)

// apiCommand is a subcommand that makes API calls and prints the
// result.
type apiCommand struct {
	// Positional arguments, for the usage message.
	args string
	// Required number of positional arguments. -1 means any
	// number.
	nargs int
	// Don't log in before calling run.
	noAuth bool
	// Define command-specific flags.
	flags func(*getopt.FlagSet)
	// Return a result to print (nil prints nothing).
	run func(ctx context.Context, s *Session, args []string) (interface{}, error)
}

func (ac *apiCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s: %s\n", prog, err)
		}
	}()
	flags, common := CommonFlagSet()
	if ac.flags != nil {
		ac.flags(flags)
	}
	if ok, code := cmd.ParseFlags(flags, prog, args, ac.args, stderr); !ok {
		return code
	} else if ac.nargs >= 0 && flags.NArg() != ac.nargs {
		fmt.Fprintf(stderr, "usage: %s [options] %s\n", prog, ac.args)
		return 2
	} else if err = common.Check(); err != nil {
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	var s *Session
	s, err = common.NewSession(ctx, stdin, stdout, stderr, !ac.noAuth)
	if err != nil {
		return 1
	}
	ctx = ctxlog.Context(ctx, s.Logger)

	var result interface{}
	result, err = ac.run(ctx, s, flags.Args())
	if err != nil {
		return 1
	}
	if result == nil {
		return 0
	}
	err = printResult(stdout, common.Format, result)
	if err != nil {
		err = fmt.Errorf("encoding: %w", err)
		return 1
	}
	return 0
}

// listFlags adds --offset, --count, and --all.
type listFlags struct {
	opts jadbio.ListOptions
	all  bool
}

func (lf *listFlags) define(flags *getopt.FlagSet) {
	*lf = listFlags{}
	flags.IntVar(&lf.opts.Offset, "offset", 0, "Skip the first `n` items")
	flags.IntVar(&lf.opts.Count, "count", jadbio.DefaultListCount, "Return at most `n` items (max 100)")
	flags.Alias("n", "count")
	flags.BoolVar(&lf.all, "all", false, "Return all items, ignoring --offset and --count")
	flags.Alias("a", "all")
}

// waitFlag adds --wait, which makes a command wait for the work it
// started.
func waitFlag(flags *getopt.FlagSet, wait *bool) {
	flags.BoolVar(wait, "wait", false, "Wait for the server to finish before exiting")
	flags.Alias("w", "wait")
}

// waitOptions logs progress changes at info level.
func (s *Session) waitOptions() jadbio.WaitOptions {
	last := -1.0
	return jadbio.WaitOptions{
		OnPoll: func(state string, progress float64) {
			if progress > 0 && progress != last {
				s.Logger.WithField("State", state).Infof("progress %s%%", strconv.FormatFloat(progress, 'f', -1, 64))
				last = progress
			}
		},
	}
}

// idResult is printed by commands that create something.
type idResult map[string]jadbio.ID
