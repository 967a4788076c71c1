// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package util has file helpers shared by the command line tools.
package util

import (
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic calls write with a temporary file in the same
// directory as path, and renames the temporary file to path if write
// succeeds. Otherwise the temporary file is removed and path is left
// untouched.
//
// The temporary file name starts with "." so directory watchers can
// ignore it.
func WriteFileAtomic(path string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
