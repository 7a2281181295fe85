// Package metrics exposes Prometheus instrumentation for the scoring
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsRecordedTotal counts scored events by kind.
	EventsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskd_events_recorded_total",
			Help: "Total number of violation events scored, by kind",
		},
		[]string{"kind"},
	)

	// EventsDiscardedTotal counts events discarded for bypassed sessions.
	EventsDiscardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskd_events_discarded_total",
			Help: "Total number of violation events discarded due to bypass, by kind",
		},
		[]string{"kind"},
	)

	// DispatchesTotal counts level transitions fired, by resulting level.
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskd_dispatches_total",
			Help: "Total number of level transition dispatches, by resulting level",
		},
		[]string{"level"},
	)

	// LiveSessions tracks the number of sessions currently held.
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskd_live_sessions",
			Help: "Number of sessions currently tracked by the accumulator",
		},
	)

	// SessionsEvictedTotal counts idle-session evictions.
	SessionsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "riskd_sessions_evicted_total",
			Help: "Total number of sessions evicted for idleness",
		},
	)

	// ProbeSignalsTotal counts automation probe signals, by signal name.
	ProbeSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskd_probe_signals_total",
			Help: "Total number of automation probe signals fired, by signal",
		},
		[]string{"signal"},
	)
)
