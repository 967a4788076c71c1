// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/jadbio/jadbio-go/sdk/go/auth"
	"github.com/jadbio/jadbio-go/sdk/go/ctxlog"
	"github.com/jadbio/jadbio-go/sdk/go/health"
	"github.com/jadbio/jadbio-go/sdk/go/httpserver"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Files  []FileStatus   `json:"files"`
	Counts map[string]int `json:"counts"`
}

// Handler returns the management API handler: /status, /metrics, and
// /_health/{ping,api}.
func (svc *Service) Handler() http.Handler {
	svc.setupOnce.Do(svc.setup)
	var h http.Handler
	if svc.Config.ManagementToken == "" {
		h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Management API authentication is not configured", http.StatusForbidden)
		})
	} else {
		mux := httprouter.New()
		mux.HandlerFunc("GET", "/status", svc.serveStatus)
		metricsH := promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{
			ErrorLog: svc.Logger,
		})
		mux.Handler("GET", "/metrics", metricsH)
		mux.Handler("GET", "/_health/:check", &health.Handler{
			Routes: health.Routes{"api": svc.checkAPI},
			Log: func(name string, err error) {
				if err != nil {
					svc.Logger.WithError(err).WithField("Check", name).Warn("health check failed")
				}
			},
		})
		h = auth.RequireLiteralToken(svc.Config.ManagementToken, mux)
	}
	return httpserver.AddRequestIDs(handlers.CombinedLoggingHandler(ctxlog.LogWriter(svc.Logger.Info), h))
}

func (svc *Service) checkAPI(ctx context.Context) error {
	_, err := svc.Client.CheckVersion(ctx)
	return err
}

func (svc *Service) serveStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Files: svc.Status(), Counts: map[string]int{}}
	for _, fs := range resp.Files {
		resp.Counts[fs.State]++
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		svc.Logger.WithError(err).Warn("error encoding status response")
	}
}

// serve starts the management server on Config.Listen, and stops it
// when ctx is done.
func (svc *Service) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", svc.Config.Listen)
	if err != nil {
		return err
	}
	svc.mtx.Lock()
	svc.addr = ln.Addr().String()
	svc.mtx.Unlock()
	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			svc.Logger.WithError(err).Error("management server failed")
		}
	}()
	svc.Logger.WithField("Address", svc.addr).Info("listening")
	return nil
}

// Addr returns the address the management server is listening on,
// or "" if it has not started.
func (svc *Service) Addr() string {
	svc.mtx.Lock()
	defer svc.mtx.Unlock()
	return svc.addr
}
