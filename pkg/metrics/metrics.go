// Package metrics provides Prometheus metrics for the listings service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed tracks upstream records handled per reconciliation
	// outcome: created, updated, unchanged, failed.
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listings",
			Subsystem: "refresh",
			Name:      "records_processed_total",
			Help:      "Total number of upstream records processed by outcome",
		},
		[]string{"outcome"},
	)

	// RefreshJobsTotal tracks refresh jobs by their terminal status
	RefreshJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listings",
			Subsystem: "refresh",
			Name:      "jobs_total",
			Help:      "Total number of refresh jobs by terminal status",
		},
		[]string{"status"},
	)

	// RefreshDuration tracks the duration of a full reconciliation pass
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "listings",
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Duration of full reconciliation passes in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// FetchRequestsTotal tracks outbound fetches against the upstream feed
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listings",
			Subsystem: "upstream",
			Name:      "fetch_requests_total",
			Help:      "Total number of upstream fetch attempts by result",
		},
		[]string{"result"},
	)
)
