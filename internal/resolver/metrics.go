package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LookupsTotal counts foreign key lookups.
	// Labels: result (found, miss, error)
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refmerge",
			Subsystem: "resolver",
			Name:      "lookups_total",
			Help:      "Total number of foreign key lookups by result",
		},
		[]string{"result"},
	)

	// BranchesTotal counts how traversal branches ended.
	// Labels: outcome (terminal, dead_end, cycle, depth_exceeded)
	BranchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refmerge",
			Subsystem: "resolver",
			Name:      "branches_total",
			Help:      "Total number of traversal branches by outcome",
		},
		[]string{"outcome"},
	)

	// ResolutionDuration tracks how long a top-level resolution takes.
	ResolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "refmerge",
			Subsystem: "resolver",
			Name:      "resolution_duration_seconds",
			Help:      "Duration of top-level reference resolutions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func (r Report) record() {
	LookupsTotal.WithLabelValues("found").Add(float64(r.Lookups - r.Misses - r.Failures))
	LookupsTotal.WithLabelValues("miss").Add(float64(r.Misses))
	LookupsTotal.WithLabelValues("error").Add(float64(r.Failures))
	BranchesTotal.WithLabelValues("terminal").Add(float64(r.Terminals))
	BranchesTotal.WithLabelValues("dead_end").Add(float64(r.DeadEnds))
	BranchesTotal.WithLabelValues("cycle").Add(float64(r.CyclesSkipped))
	BranchesTotal.WithLabelValues("depth_exceeded").Add(float64(r.DepthExceeded))
}
