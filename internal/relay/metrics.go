// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package relay

import "github.com/prometheus/client_golang/prometheus"

var relayed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "playerdb_relay_published_total",
		Help: "Total number of events published to the relay",
	},
	[]string{"event"},
)

var relayFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "playerdb_relay_failures_total",
		Help: "Total number of events the relay failed to publish",
	},
	[]string{"event"},
)

// RegisterMetrics registers relay metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(relayed)
	reg.MustRegister(relayFailures)
}
