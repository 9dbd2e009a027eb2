// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"path", "method", "status"})

	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "face_match_total",
		Help: "Face match attempts by outcome",
	}, []string{"outcome"})

	MatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "face_match_duration_seconds",
		Help:    "Time spent comparing a probe against the identity snapshot",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	DescriptorsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "face_descriptor_skipped_total",
		Help: "Identities skipped because their stored descriptors could not be parsed",
	})

	SnapshotLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_snapshot_loads_total",
		Help: "Identity snapshot reads by source",
	}, []string{"source"})
)

// Outcome labels for MatchesTotal.
const (
	OutcomeMatched      = "matched"
	OutcomeNoMatch      = "no_match"
	OutcomeInvalidProbe = "invalid_probe"
)
