// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package chat

import "github.com/prometheus/client_golang/prometheus"

// Status labels for message metrics.
const (
	StatusSent      = "sent"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// MessagesTotal counts chat messages by kind and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var MessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "playerdb_chat_messages_total",
		Help: "Total number of chat messages by kind and outcome",
	},
	[]string{"kind", "status"},
)

// DeliveryFailures counts recipients a message could not be delivered to.
var DeliveryFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "playerdb_chat_delivery_failures_total",
		Help: "Total number of failed deliveries to a single recipient",
	},
	[]string{"kind"},
)

// RegisterMetrics registers chat metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(MessagesTotal)
	reg.MustRegister(DeliveryFailures)
}
