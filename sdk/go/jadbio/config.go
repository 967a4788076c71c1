// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/jadbio/jadbio-go/sdk/go/config"
)

// Config holds client settings, typically loaded from
// ~/.config/jadbio/settings.yml (or .toml, .json).
type Config struct {
	// API host, e.g. "https://app.jadbio.com".
	Host     string `json:",omitempty" toml:",omitempty"`
	Username string `json:",omitempty" toml:",omitempty"`
	Password string `json:",omitempty" toml:",omitempty"`
	// Session token. If set, Username and Password are not
	// needed.
	Token        string   `json:",omitempty" toml:",omitempty"`
	Insecure     bool     `json:",omitempty" toml:",omitempty"`
	Timeout      Duration `json:",omitempty" toml:",omitempty"`
	PollInterval Duration `json:",omitempty" toml:",omitempty"`
	// Number of immutable results to keep in memory. Negative
	// disables the cache.
	CacheSize int    `json:",omitempty" toml:",omitempty"`
	LogLevel  string `json:",omitempty" toml:",omitempty"`
	LogFormat string `json:",omitempty" toml:",omitempty"`
}

// DefaultConfig returns the settings used for anything not given in
// the settings file or environment.
func DefaultConfig() Config {
	return Config{
		Host:         DefaultHost,
		Timeout:      Duration(5 * time.Minute),
		PollInterval: Duration(DefaultPollInterval),
		CacheSize:    256,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// DefaultConfigPath returns the default settings file path,
// $XDG_CONFIG_HOME/jadbio/settings.yml or
// ~/.config/jadbio/settings.yml.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "jadbio", "settings.yml")
}

// LoadConfig loads settings from path (or DefaultConfigPath if path
// is empty), applies JADBIO_* environment overrides, and fills
// anything still unset from DefaultConfig. A missing file is only an
// error if path was given explicitly.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	if path != "" {
		err := config.LoadFile(&cfg, path)
		if err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := mergo.Merge(&cfg, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("error applying default config: %w", err)
	}
	return &cfg, nil
}

// SaveToken stores token in the settings file at path, creating the
// file if needed, and removes any saved password. Other settings
// already in the file are kept. Environment overrides and defaults
// are not written.
func SaveToken(path, token string) error {
	var cfg Config
	err := config.LoadFile(&cfg, path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	cfg.Token = token
	cfg.Password = ""
	return config.DumpFile(cfg, path)
}

func (cfg *Config) applyEnv() {
	for env, dst := range map[string]*string{
		"JADBIO_API_HOST":  &cfg.Host,
		"JADBIO_API_TOKEN": &cfg.Token,
		"JADBIO_USERNAME":  &cfg.Username,
		"JADBIO_PASSWORD":  &cfg.Password,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	switch strings.ToLower(os.Getenv("JADBIO_API_HOST_INSECURE")) {
	case "1", "yes", "true":
		cfg.Insecure = true
	}
}
