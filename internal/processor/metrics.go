package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsProcessed counts processed documents.
	// Labels: outcome (resolved, no_reference, guard, error)
	DocumentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refmerge",
			Subsystem: "processor",
			Name:      "documents_total",
			Help:      "Total number of processed documents by outcome",
		},
		[]string{"outcome"},
	)

	// SinkFailures counts sink errors.
	// Labels: sink (index, events, ...)
	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refmerge",
			Subsystem: "processor",
			Name:      "sink_failures_total",
			Help:      "Total number of sink failures by sink",
		},
		[]string{"sink"},
	)

	// PoolInFlight tracks documents currently being processed by pools.
	PoolInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "refmerge",
			Subsystem: "processor",
			Name:      "pool_in_flight",
			Help:      "Number of documents currently being processed by worker pools",
		},
	)
)
