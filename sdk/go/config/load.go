// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ghodss/yaml"
)

// LoadFile loads configuration from the file given by configPath and
// decodes it into cfg.
//
// The format is chosen by file extension: ".toml" is TOML, ".json" is
// JSON, anything else is YAML. YAML is converted to JSON before
// decoding, so json struct tags and json.Unmarshaler implementations
// apply to YAML files too.
func LoadFile(cfg interface{}, configPath string) error {
	buf, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	return Load(cfg, buf, formatOf(configPath), configPath)
}

// Load decodes buf (in the given format: "yaml", "toml", or "json")
// into cfg. The label is used in error messages.
func Load(cfg interface{}, buf []byte, format, label string) error {
	var err error
	switch format {
	case "toml":
		var md toml.MetaData
		md, err = toml.Decode(string(buf), cfg)
		if err == nil {
			if undec := md.Undecoded(); len(undec) > 0 {
				err = fmt.Errorf("unknown key %q", undec[0].String())
			}
		}
	case "json":
		err = json.Unmarshal(buf, cfg)
	case "yaml", "":
		err = yaml.Unmarshal(buf, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return fmt.Errorf("error decoding config %q: %w", label, err)
	}
	return nil
}

func formatOf(configPath string) string {
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}
