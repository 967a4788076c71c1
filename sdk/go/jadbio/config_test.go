// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"os"
	"path/filepath"
	"time"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&configSuite{})

type configSuite struct {
	savedEnv map[string]string
}

var configEnvVars = []string{"JADBIO_API_HOST", "JADBIO_API_TOKEN", "JADBIO_USERNAME", "JADBIO_PASSWORD", "JADBIO_API_HOST_INSECURE", "XDG_CONFIG_HOME"}

func (s *configSuite) SetUpTest(c *check.C) {
	s.savedEnv = map[string]string{}
	for _, k := range configEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			s.savedEnv[k] = v
		}
		os.Unsetenv(k)
	}
	// Don't pick up a real settings file from the user's home
	// directory.
	os.Setenv("XDG_CONFIG_HOME", c.MkDir())
}

func (s *configSuite) TearDownTest(c *check.C) {
	for _, k := range configEnvVars {
		if v, ok := s.savedEnv[k]; ok {
			os.Setenv(k, v)
		} else {
			os.Unsetenv(k)
		}
	}
}

func (s *configSuite) TestDefaults(c *check.C) {
	cfg, err := LoadConfig("")
	c.Assert(err, check.IsNil)
	c.Check(*cfg, check.DeepEquals, DefaultConfig())
	c.Check(DefaultConfigPath(), check.Equals, filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "jadbio", "settings.yml"))
}

func (s *configSuite) TestMissingExplicitFile(c *check.C) {
	_, err := LoadConfig(filepath.Join(c.MkDir(), "nonexistent.yml"))
	c.Check(os.IsNotExist(err), check.Equals, true, check.Commentf("%v", err))
}

func (s *configSuite) TestYAML(c *check.C) {
	path := filepath.Join(c.MkDir(), "settings.yml")
	err := os.WriteFile(path, []byte(`
Host: https://app.example.com
Username: alice@example.com
Password: hunter2
Timeout: 30s
PollInterval: 250ms
CacheSize: -1
`), 0600)
	c.Assert(err, check.IsNil)
	cfg, err := LoadConfig(path)
	c.Assert(err, check.IsNil)
	c.Check(cfg.Host, check.Equals, "https://app.example.com")
	c.Check(cfg.Username, check.Equals, "alice@example.com")
	c.Check(cfg.Password, check.Equals, "hunter2")
	c.Check(cfg.Timeout.Duration(), check.Equals, 30*time.Second)
	c.Check(cfg.PollInterval.Duration(), check.Equals, 250*time.Millisecond)
	c.Check(cfg.CacheSize, check.Equals, -1)
	c.Check(cfg.LogLevel, check.Equals, "info")

	client, err := NewClientFromConfig(cfg)
	c.Assert(err, check.IsNil)
	c.Check(client.APIHost, check.Equals, "app.example.com")
	c.Check(client.Timeout, check.Equals, 30*time.Second)
	c.Check(client.PollInterval, check.Equals, 250*time.Millisecond)
	c.Check(client.Cache, check.IsNil)
}

func (s *configSuite) TestTOML(c *check.C) {
	path := filepath.Join(c.MkDir(), "settings.toml")
	err := os.WriteFile(path, []byte(`
Host = "localhost:8443"
Token = "tok123"
Insecure = true
Timeout = "1m"
`), 0600)
	c.Assert(err, check.IsNil)
	cfg, err := LoadConfig(path)
	c.Assert(err, check.IsNil)
	c.Check(cfg.Host, check.Equals, "localhost:8443")
	c.Check(cfg.Token, check.Equals, "tok123")
	c.Check(cfg.Insecure, check.Equals, true)
	c.Check(cfg.Timeout.Duration(), check.Equals, time.Minute)
	c.Check(cfg.CacheSize, check.Equals, 256)

	client, err := NewClientFromConfig(cfg)
	c.Assert(err, check.IsNil)
	c.Check(client.Scheme, check.Equals, "https")
	c.Check(client.APIHost, check.Equals, "localhost:8443")
	c.Check(client.AuthToken, check.Equals, "tok123")
	c.Check(client.Insecure, check.Equals, true)
	c.Check(client.Cache, check.NotNil)

	err = os.WriteFile(path, []byte("Hostname = \"x\"\n"), 0600)
	c.Assert(err, check.IsNil)
	_, err = LoadConfig(path)
	c.Check(err, check.ErrorMatches, `error decoding config .*: unknown key "Hostname"`)
}

func (s *configSuite) TestEnvOverridesFile(c *check.C) {
	path := filepath.Join(c.MkDir(), "settings.json")
	err := os.WriteFile(path, []byte(`{"Host":"https://file.example","Username":"file-user"}`), 0600)
	c.Assert(err, check.IsNil)
	os.Setenv("JADBIO_API_HOST", "https://env.example")
	os.Setenv("JADBIO_API_TOKEN", "envtoken")
	os.Setenv("JADBIO_API_HOST_INSECURE", "yes")
	cfg, err := LoadConfig(path)
	c.Assert(err, check.IsNil)
	c.Check(cfg.Host, check.Equals, "https://env.example")
	c.Check(cfg.Username, check.Equals, "file-user")
	c.Check(cfg.Token, check.Equals, "envtoken")
	c.Check(cfg.Insecure, check.Equals, true)

	client := NewClientFromEnv()
	c.Check(client.APIHost, check.Equals, "env.example")
	c.Check(client.AuthToken, check.Equals, "envtoken")
	c.Check(client.Insecure, check.Equals, true)
}

func (s *configSuite) TestNoHost(c *check.C) {
	_, err := NewClientFromConfig(&Config{})
	c.Check(err, check.ErrorMatches, `no host in config`)
}

func (s *configSuite) TestSaveToken(c *check.C) {
	path := filepath.Join(c.MkDir(), "settings.yml")
	c.Assert(os.WriteFile(path, []byte("Host: https://file.example\nUsername: u\nPassword: p\nPollInterval: 1ms\n"), 0600), check.IsNil)
	os.Setenv("JADBIO_API_HOST", "https://env.example")
	os.Setenv("JADBIO_API_HOST_INSECURE", "1")

	c.Assert(SaveToken(path, "tok1"), check.IsNil)
	buf, err := os.ReadFile(path)
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, "Host: https://file.example\nPollInterval: 1ms\nToken: tok1\nUsername: u\n")

	// New file
	path = filepath.Join(c.MkDir(), "new", "settings.json")
	c.Assert(SaveToken(path, "tok2"), check.IsNil)
	buf, err = os.ReadFile(path)
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, "{\n  \"Token\": \"tok2\"\n}\n")
}
