// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package relay

import "github.com/prometheus/client_golang/prometheus"

// RelayFailuresFor exposes the failure counter for one event to tests.
func RelayFailuresFor(eventName string) prometheus.Counter {
	return relayFailures.WithLabelValues(eventName)
}
