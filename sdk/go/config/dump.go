// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/ghodss/yaml"
	"github.com/jadbio/jadbio-go/sdk/go/util"
)

// Dump writes the given config to w as YAML.
func Dump(w io.Writer, cfg interface{}) error {
	y, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(y)
	return err
}

// DumpFile writes cfg to configPath in the format LoadFile would
// expect for that path. The file is replaced atomically and has mode
// 0600.
func DumpFile(cfg interface{}, configPath string) error {
	var buf bytes.Buffer
	var err error
	switch formatOf(configPath) {
	case "toml":
		err = toml.NewEncoder(&buf).Encode(cfg)
	case "json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		err = enc.Encode(cfg)
	default:
		err = Dump(&buf, cfg)
	}
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return err
	}
	return util.WriteFileAtomic(configPath, func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
}
