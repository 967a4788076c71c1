// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package inbox

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	files      *prometheus.CounterVec
	queued     prometheus.Gauge
	inProgress prometheus.Gauge
	duration   prometheus.Observer
}

func newMetrics(reg *prometheus.Registry) *metrics {
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jadbio",
		Subsystem: "inbox",
		Name:      "processing_seconds",
		Help:      "Time from dequeueing a file to writing (or failing to write) its predictions.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
	m := &metrics{
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jadbio",
			Subsystem: "inbox",
			Name:      "files_total",
			Help:      "Number of input files processed, by result (success or failure).",
		}, []string{"result"}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jadbio",
			Subsystem: "inbox",
			Name:      "queued",
			Help:      "Number of files waiting for a worker.",
		}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jadbio",
			Subsystem: "inbox",
			Name:      "in_progress",
			Help:      "Number of files being processed.",
		}),
		duration: duration,
	}
	reg.MustRegister(m.files, m.queued, m.inProgress, duration)
	return m
}
