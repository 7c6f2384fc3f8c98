// Package metrics exposes poll-cycle counters in Prometheus exposition
// format, served by the ops HTTP server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bot's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	Cycles          *prometheus.CounterVec
	FillsProcessed  prometheus.Counter
	FillsSkipped    prometheus.Counter
	LotsCreated     prometheus.Counter
	MatchesRecorded prometheus.Counter
	UnmatchedCloses prometheus.Counter
	Posted          prometheus.Counter
	PostFailures    prometheus.Counter
	ConsecutiveErrs prometheus.Gauge
}

// New creates and registers the bot metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_cycles_total",
				Help: "Poll cycles by result",
			},
			[]string{"result"}, // ok|error
		),
		FillsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_fills_processed_total",
			Help: "Brokerage fills ingested",
		}),
		FillsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_fills_skipped_total",
			Help: "Malformed order payloads skipped",
		}),
		LotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_lots_created_total",
			Help: "Cost basis lots created",
		}),
		MatchesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_lot_matches_total",
			Help: "Lot matches recorded",
		}),
		UnmatchedCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_unmatched_closes_total",
			Help: "Closing fills with no open lots",
		}),
		Posted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_notifications_posted_total",
			Help: "Trade notifications delivered",
		}),
		PostFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_notification_failures_total",
			Help: "Trade notification delivery failures",
		}),
		ConsecutiveErrs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_consecutive_cycle_errors",
			Help: "Current consecutive failed poll cycles",
		}),
	}

	m.registry.MustRegister(
		m.Cycles,
		m.FillsProcessed,
		m.FillsSkipped,
		m.LotsCreated,
		m.MatchesRecorded,
		m.UnmatchedCloses,
		m.Posted,
		m.PostFailures,
		m.ConsecutiveErrs,
	)

	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
