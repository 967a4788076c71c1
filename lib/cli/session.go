// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jadbio/jadbio-go/sdk/go/ctxlog"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// A Session is a configured client along with the terminal it was
// started from.
type Session struct {
	Client *jadbio.Client
	Config *jadbio.Config
	Logger logrus.FieldLogger

	configPath string
	stdin      *bufio.Reader
	tty        *os.File
	stdout     io.Writer
	stderr     io.Writer
}

// NewSession loads the settings file, applies flag overrides, and
// returns a client. If login is true and no token is configured, it
// logs in, prompting for missing credentials.
func (cf *CommonFlags) NewSession(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, login bool) (*Session, error) {
	cfg, err := jadbio.LoadConfig(cf.Config)
	if err != nil {
		return nil, err
	}
	if cf.Host != "" {
		cfg.Host = cf.Host
	}
	level := cfg.LogLevel
	if cf.Verbose {
		level = "debug"
	}
	if _, err := logrus.ParseLevel(level); err != nil {
		return nil, fmt.Errorf("invalid LogLevel %q", level)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid LogFormat %q", cfg.LogFormat)
	}
	logger := ctxlog.New(stderr, cfg.LogFormat, level)
	client, err := jadbio.NewClientFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	client.Logger = logger
	s := &Session{
		Client: client,
		Config: cfg,
		Logger: logger,

		configPath: cf.Config,
		stdin:      bufio.NewReader(stdin),
		stdout:     stdout,
		stderr:     stderr,
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		s.tty = f
	}
	if login && cfg.Token == "" {
		if err := s.login(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) login(ctx context.Context) error {
	var err error
	if s.Config.Username == "" {
		s.Config.Username, err = s.prompt("Username", false)
		if err != nil {
			return err
		}
	}
	if s.Config.Password == "" {
		s.Config.Password, err = s.prompt("Password", true)
		if err != nil {
			return err
		}
	}
	if s.Config.Username == "" {
		return errors.New("no token or username configured")
	}
	return s.Client.Login(ctx, s.Config.Username, s.Config.Password)
}

// prompt reads one line from stdin. Secrets are read without echo
// when stdin is a terminal.
func (s *Session) prompt(label string, secret bool) (string, error) {
	if s.tty != nil {
		fmt.Fprintf(s.stderr, "%s: ", label)
		if secret {
			buf, err := term.ReadPassword(int(s.tty.Fd()))
			fmt.Fprintln(s.stderr)
			return string(buf), err
		}
	}
	line, err := s.stdin.ReadString('\n')
	if errors.Is(err, io.EOF) && line != "" {
		err = nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
