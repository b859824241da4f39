package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/knoguchi/scholarag/internal/apperror"
)

var (
	// CacheLookups counts cache reads by result (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholarag",
			Name:      "cache_lookups_total",
			Help:      "Total number of cache lookups",
		},
		[]string{"endpoint", "result"},
	)

	// CacheWrites counts cache writes by result (ok, error).
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholarag",
			Name:      "cache_writes_total",
			Help:      "Total number of cache writes",
		},
		[]string{"endpoint", "result"},
	)

	// PipelineErrors counts terminal pipeline errors by code.
	PipelineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholarag",
			Name:      "pipeline_errors_total",
			Help:      "Total number of pipeline errors",
		},
		[]string{"code"},
	)

	// StageDuration measures retrieval, rerank, generation and enrichment.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scholarag",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)

// recordError counts err when it is a pipeline error.
func recordError(err error) {
	if appErr, ok := apperror.As(err); ok {
		PipelineErrors.WithLabelValues(appErr.Kind.String()).Inc()
	}
}
