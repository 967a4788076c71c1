// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"flag"
	"fmt"

	"rsc.io/getopt"
)

// Output formats accepted by --format.
var outputFormats = map[string]bool{"json": true, "yaml": true, "id": true, "text": true}

// CommonFlags are accepted by every subcommand that talks to the
// API.
type CommonFlags struct {
	Format  string
	Config  string
	Host    string
	Verbose bool
	Help    bool
}

// Check returns an error if the flag values are invalid.
func (cf *CommonFlags) Check() error {
	if !outputFormats[cf.Format] {
		return fmt.Errorf("unknown output format %q (try json, yaml, id, or text)", cf.Format)
	}
	return nil
}

// CommonFlagSet returns a new flag set with the common flags
// defined, and the values they will be parsed into.
func CommonFlagSet() (*getopt.FlagSet, *CommonFlags) {
	values := &CommonFlags{Format: "json"}
	flags := getopt.NewFlagSet("", flag.ContinueOnError)
	flags.StringVar(&values.Format, "format", values.Format, "Output format: json, yaml, id, or text")
	flags.Alias("f", "format")
	flags.StringVar(&values.Config, "config", "", "Load settings from `file` instead of ~/.config/jadbio/settings.yml")
	flags.StringVar(&values.Host, "host", "", "API host (overrides settings file and JADBIO_API_HOST)")
	flags.BoolVar(&values.Verbose, "verbose", false, "Print debug messages on stderr")
	flags.Alias("v", "verbose")
	flags.BoolVar(&values.Help, "help", false, "Show this help message")
	flags.Alias("h", "help")
	return flags, values
}
