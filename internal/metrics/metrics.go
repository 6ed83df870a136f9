// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QIDORequests counts QIDO-RS probes by dialect path and outcome
	// (ok, unauthorized, error).
	QIDORequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pacs_gateway",
		Name:      "qido_requests_total",
		Help:      "QIDO-RS requests by dialect path and outcome",
	}, []string{"dialect", "outcome"})

	// ResolveLayer counts which fallback layer finally settled each field
	// during metadata resolution.
	ResolveLayer = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pacs_gateway",
		Name:      "resolve_layer_total",
		Help:      "Metadata resolutions by deepest layer reached",
	}, []string{"layer"})

	// ResolveDuration observes end-to-end resolution latency.
	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pacs_gateway",
		Name:      "resolve_duration_seconds",
		Help:      "End-to-end study metadata resolution latency",
		Buckets:   prometheus.DefBuckets,
	})

	// MWLAssociations counts accepted and rejected worklist associations.
	MWLAssociations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pacs_gateway",
		Name:      "mwl_associations_total",
		Help:      "DICOM associations on the worklist port by outcome",
	}, []string{"outcome"})

	// MWLMatches observes worklist entries returned per C-FIND.
	MWLMatches = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pacs_gateway",
		Name:      "mwl_matches_per_query",
		Help:      "Worklist entries returned per C-FIND query",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})

	// ConnectionTests counts PACS connection tests by protocol and outcome.
	ConnectionTests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pacs_gateway",
		Name:      "connection_tests_total",
		Help:      "PACS connection tests by protocol and outcome",
	}, []string{"protocol", "outcome"})
)
