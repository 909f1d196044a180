// Package metrics provides Prometheus metrics collection for the gateway.
// It tracks request counts by mode and cache tag, cache behavior for the three
// engines, and background task outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shield"

var (
	// RequestsTotal counts requests by mode and final status code class.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests handled",
		},
		[]string{"mode", "status"},
	)

	// CacheResults counts cache decision outcomes by tag (HIT, MISS, SWR, BYPASS,
	// R2-HIT, R2-MISS).
	CacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_results_total",
			Help:      "Cache decision outcomes by status tag",
		},
		[]string{"tag"},
	)

	// SemanticLookups counts semantic cache lookups by result (hit, miss, orphaned, error).
	SemanticLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semantic_lookups_total",
			Help:      "Semantic cache lookup outcomes",
		},
		[]string{"result"},
	)

	// MirrorWrites counts background mirror writes by outcome.
	MirrorWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_writes_total",
			Help:      "Background object storage mirror writes",
		},
		[]string{"outcome"},
	)

	// GateDenials counts security gate denials by rule.
	GateDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_denials_total",
			Help:      "Security gate denials by rule",
		},
		[]string{"rule"},
	)

	// TaskFailures counts deferred background task failures by task name.
	TaskFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Deferred background task failures",
		},
		[]string{"task"},
	)

	// RequestDuration tracks end-to-end request latency by mode.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	// UpstreamDuration tracks inference gateway call latency by provider.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream inference gateway latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)
)
