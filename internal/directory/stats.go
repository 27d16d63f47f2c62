// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package directory

import "github.com/prometheus/client_golang/prometheus"

// Stats summarizes the record set.
type Stats struct {
	Total  int
	Online int
	Banned int
	Hidden int
	Frozen int
	Muted  int
	ByRank map[string]int
}

// Stats counts records by state and by rank name. Super players are not
// counted.
func (d *Directory) Stats() Stats {
	s := Stats{ByRank: make(map[string]int, d.ranks.Len())}
	for _, r := range d.ranks.Ranks() {
		s.ByRank[r.Name()] = 0
	}
	for _, rec := range d.List() {
		s.Total++
		if rec.IsOnline() {
			s.Online++
		}
		if rec.IsBanned() {
			s.Banned++
		}
		if rec.IsHidden() {
			s.Hidden++
		}
		if rec.IsFrozen() {
			s.Frozen++
		}
		if rec.IsMuted() {
			s.Muted++
		}
		s.ByRank[rec.Rank().Name()]++
	}
	return s
}

var recordGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "playerdb_records",
		Help: "Number of player records by state",
	},
	[]string{"state"},
)

var rankGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "playerdb_records_by_rank",
		Help: "Number of player records holding each rank",
	},
	[]string{"rank"},
)

var recordsCreated = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "playerdb_records_created_total",
		Help: "Total number of player records created",
	},
)

// RegisterMetrics registers directory metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(recordGauge)
	reg.MustRegister(rankGauge)
	reg.MustRegister(recordsCreated)
}

func (d *Directory) updateGauges() {
	s := d.Stats()
	recordGauge.WithLabelValues("total").Set(float64(s.Total))
	recordGauge.WithLabelValues("online").Set(float64(s.Online))
	recordGauge.WithLabelValues("banned").Set(float64(s.Banned))
	recordGauge.WithLabelValues("hidden").Set(float64(s.Hidden))
	recordGauge.WithLabelValues("frozen").Set(float64(s.Frozen))
	recordGauge.WithLabelValues("muted").Set(float64(s.Muted))
	rankGauge.Reset()
	for name, n := range s.ByRank {
		rankGauge.WithLabelValues(name).Set(float64(n))
	}
}
