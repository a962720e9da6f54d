package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sessions tracks tenant sessions by connection state.
	Sessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bioscout_sessions",
			Help: "Number of tenant sessions by state",
		},
		[]string{"state"},
	)

	// Reconnects counts supervised reconnect attempts by outcome.
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bioscout_session_reconnects_total",
			Help: "Total number of session reconnect attempts",
		},
		[]string{"result"}, // "ok", "error", "gave_up"
	)

	// Pairings counts pairing code requests by outcome.
	Pairings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bioscout_pairings_total",
			Help: "Total number of pairing code requests",
		},
		[]string{"result"}, // "issued", "error", "completed"
	)
)

func noteTransition(from, to State) {
	if from == to {
		return
	}
	if from != "" {
		Sessions.WithLabelValues(string(from)).Dec()
	}
	if to != "" {
		Sessions.WithLabelValues(string(to)).Inc()
	}
}
