// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import "github.com/prometheus/client_golang/prometheus"

var saveDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "playerdb_save_duration_seconds",
		Help:    "Time taken to persist the record set",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"backend"},
)

var saveFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "playerdb_save_failures_total",
		Help: "Total number of failed saves",
	},
	[]string{"backend"},
)

var recordsSkipped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "playerdb_load_skipped_records_total",
		Help: "Stored records skipped on load because they were unreadable or conflicting",
	},
	[]string{"backend"},
)

// RegisterMetrics registers store metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(saveDuration)
	reg.MustRegister(saveFailures)
	reg.MustRegister(recordsSkipped)
}
