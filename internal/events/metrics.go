package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PublishedTotal counts published merge events.
// Labels: result (ok, error)
var PublishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "refmerge",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total number of merge events published by result",
	},
	[]string{"result"},
)
