package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ingestTotal counts file ingestions by outcome (ok, failed).
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_ingest_files_total",
		Help: "Total file ingestions by outcome",
	}, []string{"outcome"})

	// ingestDuration tracks the wall time of one Ingest call, retries included.
	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codegraph_ingest_duration_seconds",
		Help:    "File ingestion duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	})

	// ingestRetries counts transactions retried after a store failure.
	ingestRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codegraph_ingest_retries_total",
		Help: "Total ingestion transactions retried after a store failure",
	})

	// skippedFacts counts invalid facts skipped during ingestion.
	skippedFacts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_ingest_skipped_facts_total",
		Help: "Total invalid facts skipped by entity kind",
	}, []string{"kind"})

	// entityWrites counts row writes by operation.
	entityWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_entity_writes_total",
		Help: "Total entity row writes by operation",
	}, []string{"op"})

	// projections counts projections by root kind.
	projections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_projections_total",
		Help: "Total projections by root entity kind",
	}, []string{"root_kind"})
)
