// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"

	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"rsc.io/getopt"
)

// Login logs in with a username and password, prints the session
// token, and optionally saves it to the settings file.
var Login = loginCommand()

// ServerVersion prints the server's API version and checks that it
// is compatible with this client.
var ServerVersion = &apiCommand{
	noAuth: true,
	run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
		v, err := s.Client.CheckVersion(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"server": v.String(), "client": jadbio.APIVersion}, nil
	},
}

func loginCommand() *apiCommand {
	var save bool
	return &apiCommand{
		noAuth: true,
		flags: func(flags *getopt.FlagSet) {
			flags.BoolVar(&save, "save", false, "Save the session token (not the password) to the settings file")
		},
		run: func(ctx context.Context, s *Session, args []string) (interface{}, error) {
			s.Config.Token = ""
			if err := s.login(ctx); err != nil {
				return nil, err
			}
			token := s.Client.AuthToken
			if save {
				if err := s.saveToken(token); err != nil {
					return nil, err
				}
			}
			return map[string]string{"token": token}, nil
		},
	}
}

func (s *Session) saveToken(token string) error {
	path := s.configPath
	if path == "" {
		path = jadbio.DefaultConfigPath()
	}
	if err := jadbio.SaveToken(path, token); err != nil {
		return err
	}
	s.Logger.WithField("Path", path).Info("saved session token")
	return nil
}
