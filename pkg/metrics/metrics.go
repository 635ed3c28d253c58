// Package metrics exposes the ceremony's Prometheus collectors, the same
// promauto package-level style the teacher uses throughout its own
// pkg/metrics: one counter per named check outcome, a histogram of
// signing-oracle latency, and a gauge of bundles processed in the current
// run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ksrsign"

var (
	// ChecksTotal counts policy checks run, partitioned by check code and
	// outcome ("pass", "fail", "disabled").
	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Count of policy checks run, partitioned by check code and outcome",
		},
		[]string{"code", "outcome"},
	)

	// OracleSignSeconds tracks signing-oracle Sign() call latency.
	OracleSignSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_sign_seconds",
			Help:      "Latency of signing-oracle Sign() calls",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// BundlesProcessed tracks how many bundles the Schema Engine has
	// signed in the current ceremony.
	BundlesProcessed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bundles_processed",
			Help:      "Number of bundles processed by the Schema Engine in the current ceremony",
		},
	)
)
