// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package health serves named health checks as JSON.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"sync"
	"time"
)

// Func is a health-check function: it returns nil when healthy, an
// error when not.
type Func func(context.Context) error

// Routes is a map of check name to health-check Func.
type Routes map[string]Func

// Response is the JSON body of a health-check response.
type Response struct {
	Health string `json:"health"`
	Error  string `json:"error,omitempty"`
}

// Handler responds to a request for ".../{name}" by running
// Routes[name] and reporting {"health":"OK"} or
// {"health":"ERROR","error":"error text"}. Unknown names get 404.
//
// Handler does not authenticate requests. Wrap it with
// auth.RequireLiteralToken or similar.
//
// Fields of a Handler should not be changed after the Handler is
// first used.
type Handler struct {
	// If "ping" is not listed here, it is added automatically and
	// always reports healthy.
	Routes Routes

	// Maximum time to wait for a check. Default 10s.
	Timeout time.Duration

	// If non-nil, Log is called with the result of each check.
	Log func(name string, err error)

	setupOnce sync.Once
	routes    Routes
}

func (h *Handler) setup() {
	h.routes = Routes{"ping": func(context.Context) error { return nil }}
	for name, fn := range h.Routes {
		h.routes[name] = fn
	}
	if h.Timeout <= 0 {
		h.Timeout = 10 * time.Second
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.setupOnce.Do(h.setup)
	name := path.Base(r.URL.Path)
	fn, ok := h.routes[name]
	if !ok {
		http.Error(w, "no such health check", http.StatusNotFound)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	err := fn(ctx)
	if h.Log != nil {
		h.Log(name, err)
	}
	resp := Response{Health: "OK"}
	if err != nil {
		resp = Response{Health: "ERROR", Error: err.Error()}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
