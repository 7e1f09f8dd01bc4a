// Package metrics holds the Prometheus collectors for ingestion and view runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestedRows counts fact rows upserted, by source.
	IngestedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubepulse_ingested_rows_total",
			Help: "Fact rows upserted into the snapshot table",
		},
		[]string{"source"},
	)

	// ViewDuration tracks how long each derived view takes to compute.
	ViewDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tubepulse_view_duration_seconds",
			Help:    "Duration of derived view computations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"view"},
	)

	// ViewFailures counts failed view computations by kind.
	ViewFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubepulse_view_failures_total",
			Help: "Failed derived view computations",
		},
		[]string{"view", "kind"},
	)

	// LastSuccess is the unix time of the last pipeline run with no failed step.
	LastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tubepulse_last_success_timestamp_seconds",
			Help: "Unix time of the last fully successful pipeline run",
		},
	)
)

// ObserveView records one view computation.
func ObserveView(view string, d time.Duration, failKind string) {
	ViewDuration.WithLabelValues(view).Observe(d.Seconds())
	if failKind != "" {
		ViewFailures.WithLabelValues(view, failKind).Inc()
	}
}
