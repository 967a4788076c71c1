// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package cmdtest provides tools for testing command line tools.
package cmdtest

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/jadbio/jadbio-go/lib/cmd"
	check "gopkg.in/check.v1"
)

// LeakCheck redirects os.Stdout and os.Stderr to temp files, and
// returns a func (to be deferred by the caller) that restores them
// and fails the test if anything was written there. Commands should
// only write to the stdout and stderr passed to RunCommand.
//
//	func (s *Suite) TestSomething(c *check.C) {
//		defer cmdtest.LeakCheck(c)()
//		// ...
//	}
func LeakCheck(c *check.C) func() {
	stdout, stderr := os.Stdout, os.Stderr
	tmpfiles := map[string]*os.File{}
	for _, name := range []string{"stdout", "stderr"} {
		f, err := os.CreateTemp(c.MkDir(), name)
		c.Assert(err, check.IsNil)
		tmpfiles[name] = f
	}
	os.Stdout, os.Stderr = tmpfiles["stdout"], tmpfiles["stderr"]
	return func() {
		os.Stdout, os.Stderr = stdout, stderr
		for name, f := range tmpfiles {
			_, err := f.Seek(0, io.SeekStart)
			c.Assert(err, check.IsNil)
			leaked, err := io.ReadAll(f)
			c.Assert(err, check.IsNil)
			f.Close()
			c.Check(string(leaked), check.Equals, "", check.Commentf("leaked to os.%s", name))
		}
	}
}

// Result is the outcome of a Run.
type Result struct {
	Code   int
	Stdout string
	Stderr string
}

// Run runs h with the given args and stdin, checking that nothing
// leaks to os.Stdout or os.Stderr.
func Run(c *check.C, h cmd.Handler, prog string, args []string, stdin string) Result {
	defer LeakCheck(c)()
	var stdout, stderr bytes.Buffer
	code := h.RunCommand(prog, args, strings.NewReader(stdin), &stdout, &stderr)
	c.Logf("%s %q => %d\nstderr: %s", prog, args, code, stderr.String())
	return Result{Code: code, Stdout: stdout.String(), Stderr: stderr.String()}
}
