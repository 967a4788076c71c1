// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/blang/semver/v4"
)

type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

// Login authenticates with a username (or email) and password, and
// stores the returned session token in c, replacing any previous
// token.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.RequestAndDecodeContext(ctx, "Login", &resp, http.MethodPost, "login", nil, loginRequest{
		UsernameOrEmail: username,
		Password:        password,
	})
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return errors.New("Login: server returned an empty token")
	}
	c.setToken(resp.Token)
	return nil
}

// LoginFromConfig logs in with the credentials in cfg, unless c
// already has a token.
func (c *Client) LoginFromConfig(ctx context.Context, cfg *Config) error {
	if c.token() != "" {
		return nil
	}
	if cfg.Username == "" {
		return errors.New("no token or username configured")
	}
	return c.Login(ctx, cfg.Username, cfg.Password)
}

// Logout forgets the session token. Subsequent requests are sent
// without credentials until the next Login.
func (c *Client) Logout(ctx context.Context) {
	c.setToken("")
	c.logger(ctx).Debug("session token discarded")
	if tr, ok := c.httpClient().Transport.(interface{ CloseIdleConnections() }); ok {
		tr.CloseIdleConnections()
	}
}

// Version returns the full version of the deployed API, e.g.
// "1.0-beta". The major version is implied by the request path.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	err := c.RequestAndDecodeContext(ctx, "Get version", &resp, http.MethodGet, "version", nil, nil)
	return resp.Version, err
}

// CheckVersion returns an error if the server's API version is not
// compatible with this package.
func (c *Client) CheckVersion(ctx context.Context) (semver.Version, error) {
	s, err := c.Version(ctx)
	if err != nil {
		return semver.Version{}, err
	}
	v, err := ParseAPIVersion(s)
	if err != nil {
		return v, err
	}
	if want := apiMajorVersion(); v.Major != want {
		return v, fmt.Errorf("server API version %s is not compatible with client API version %s", s, APIVersion)
	}
	return v, nil
}

// ParseAPIVersion parses a server version string like "1.0-beta" or
// "1.2.3". Missing minor/patch numbers are taken to be zero.
func ParseAPIVersion(s string) (semver.Version, error) {
	core, pre, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(s), "v"), "-")
	v, err := semver.ParseTolerant(core)
	if err != nil {
		return semver.Version{}, fmt.Errorf("cannot parse API version %q: %w", s, err)
	}
	if pre != "" {
		for _, part := range strings.Split(pre, ".") {
			prv, err := semver.NewPRVersion(part)
			if err != nil {
				return semver.Version{}, fmt.Errorf("cannot parse API version %q: %w", s, err)
			}
			v.Pre = append(v.Pre, prv)
		}
	}
	return v, nil
}

func apiMajorVersion() uint64 {
	v, err := semver.ParseTolerant(APIVersion)
	if err != nil {
		panic(err)
	}
	return v.Major
}
