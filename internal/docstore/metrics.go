package docstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: provider (chromem, qdrant), operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refmerge",
			Subsystem: "docstore",
			Name:      "operations_total",
			Help:      "Total number of document store operations",
		},
		[]string{"provider", "operation", "result"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "refmerge",
			Subsystem: "docstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of document store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// HealthStatus indicates current health status (1=healthy, 0=degraded).
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "refmerge",
			Subsystem: "docstore",
			Name:      "health_status",
			Help:      "Current health status (1=healthy, 0=degraded)",
		},
	)

	// RateLimitWaits counts lookups that had to wait for the rate limiter.
	RateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "refmerge",
			Subsystem: "docstore",
			Name:      "rate_limit_waits_total",
			Help:      "Total number of lookups delayed by the rate limiter",
		},
	)

	// QuarantineOperations counts quarantined chromem collections.
	// Labels: result (success, error)
	QuarantineOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refmerge",
			Subsystem: "docstore",
			Name:      "quarantine_operations_total",
			Help:      "Total number of quarantine operations",
		},
		[]string{"result"},
	)
)

// observe records the outcome of one operation started at start.
func observe(provider, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(provider, operation, result).Inc()
	OperationDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

// RecordHealthCheckResult updates HealthStatus.
func RecordHealthCheckResult(err error) {
	if err != nil {
		HealthStatus.Set(0)
		return
	}
	HealthStatus.Set(1)
}
