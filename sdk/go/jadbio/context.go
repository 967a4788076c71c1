// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"

	"github.com/jadbio/jadbio-go/sdk/go/ctxlog"
	"github.com/sirupsen/logrus"
)

type contextKeyRequestID struct{}
type contextKeyAuthorization struct{}

// ContextWithRequestID returns a child context that (when used with
// any Client method) sends the given X-Request-Id header value.
func ContextWithRequestID(ctx context.Context, reqid string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID{}, reqid)
}

// ContextWithAuthorization returns a child context that (when used
// with any Client method) sends the given Authorization header value
// instead of "Bearer " + the Client's AuthToken.
func ContextWithAuthorization(ctx context.Context, value string) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization{}, value)
}

func (c *Client) logger(ctx context.Context) logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return ctxlog.FromContext(ctx)
}
