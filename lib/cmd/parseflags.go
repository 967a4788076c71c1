// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"flag"
	"fmt"
	"io"
)

// ParseFlags parses args with f, and prints usage or error messages
// to stderr.
//
// positional is the text shown after "[options]" in the usage
// message, or "" if no positional arguments are accepted.
//
// Help is requested either by flag.ErrHelp (a standard flag set given
// -h or -help) or, for flag sets that don't treat -help specially
// (like rsc.io/getopt), by a bool flag named "help" that is set.
//
// If ok is false the caller should exit with exitCode: 0 after
// printing help, 2 after a usage error.
func ParseFlags(f FlagSet, prog string, args []string, positional string, stderr io.Writer) (ok bool, exitCode int) {
	f.Init(prog, flag.ContinueOnError)
	f.SetOutput(io.Discard)
	err := f.Parse(args)
	if errors.Is(err, flag.ErrHelp) || (err == nil && helpFlagSet(f)) {
		fmt.Fprintf(stderr, "Usage: %s [options] %s\n", prog, positional)
		f.SetOutput(stderr)
		f.PrintDefaults()
		return false, 0
	} else if err != nil {
		fmt.Fprintf(stderr, "error parsing command line arguments: %s (try --help)\n", err)
		return false, 2
	} else if f.NArg() > 0 && positional == "" {
		fmt.Fprintf(stderr, "unrecognized command line arguments: %v (try --help)\n", f.Args())
		return false, 2
	}
	return true, 0
}

func helpFlagSet(f FlagSet) bool {
	fs, ok := f.(interface{ Lookup(string) *flag.Flag })
	if !ok {
		return false
	}
	h := fs.Lookup("help")
	return h != nil && h.Value.String() == "true"
}
