package maintenance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bioscout_maintenance_runs_total",
			Help: "Total number of maintenance task runs",
		},
		[]string{"task", "result"}, // "ok", "error", "skipped"
	)

	Items = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bioscout_maintenance_items_total",
			Help: "Total number of entries touched by maintenance tasks",
		},
		[]string{"task"},
	)
)
