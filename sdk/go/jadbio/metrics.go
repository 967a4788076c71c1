// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects per-operation request statistics for a Client.
// A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	limit    prometheus.GaugeFunc
}

type contextKeyOperation struct{}

// NewMetrics returns a Metrics for c and registers its collectors
// with reg (if reg is not nil). The caller should assign the result
// to c.Metrics.
func NewMetrics(c *Client, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jadbio",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Number of API requests, by operation, method, and response status class.",
		}, []string{"operation", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jadbio",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Time spent on API requests including retries, by operation.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		limit: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "jadbio",
			Subsystem: "client",
			Name:      "concurrent_request_limit",
			Help:      "Current concurrency limit imposed by 503 backoff (0 = unlimited).",
		}, func() float64 { return float64(c.getRequestLimiter().Limit()) }),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.limit)
	}
	return m
}

func (m *Metrics) observe(ctx context.Context, method string, resp *http.Response, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	op, _ := ctx.Value(contextKeyOperation{}).(string)
	if op == "" {
		op = "other"
	}
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode/100) + "xx"
	}
	m.requests.WithLabelValues(op, method, code).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func contextWithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, contextKeyOperation{}, op)
}
