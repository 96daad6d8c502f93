// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

// Package metrics holds the Prometheus instrumentation for repair and
// restore jobs. Collectors register on the default registry; the CLI serves
// them on /metrics when metrics.listen is set.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomtom215/propfix/internal/models"
)

var (
	// Entity outcomes
	EntitiesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propfix_entities_processed_total",
			Help: "Entities processed by job kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: repair|restore
	)

	OCCRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propfix_occ_retries_total",
			Help: "Conditional writes retried after a version conflict",
		},
		[]string{"kind"},
	)

	ThreeWayMerges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propfix_three_way_merges_total",
			Help: "Retries that switched to a three-way merge because the entity diverged from its baseline",
		},
	)

	ThreeWayKeysSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propfix_three_way_keys_skipped_total",
			Help: "Repair keys dropped because a concurrent writer changed them since the baseline",
		},
	)

	// Batch Committer
	Commits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propfix_commits_total",
			Help: "Chunk transactions committed (or rolled back in dry-run)",
		},
		[]string{"kind", "result"}, // result: committed|rolled_back|failed
	)

	ChunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propfix_chunk_duration_seconds",
			Help:    "Time to apply and commit one chunk",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Extraction
	DiffSourceQueries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "propfix_diff_source_query_duration_seconds",
			Help:    "Duration of one event log sub-window query",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	CandidatesExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propfix_candidates_extracted_total",
			Help: "Entities with at least one candidate change after accumulation",
		},
	)

	// Audit
	AuditInserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propfix_audit_inserts_total",
			Help: "Backup entry inserts by result",
		},
		[]string{"result"}, // inserted|duplicate|error
	)

	AuditPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propfix_audit_pruned_total",
			Help: "Backup entries deleted by retention pruning",
		},
	)

	// Propagation
	Publishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propfix_publishes_total",
			Help: "Downstream publishes by result",
		},
		[]string{"result"}, // ok|error|queued|circuit_open
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "propfix_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// WAL outbox
	WALPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "propfix_wal_pending_entries",
			Help: "Publishes waiting in the outbox",
		},
	)

	WALRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propfix_wal_retries_total",
			Help: "Outbox republish attempts by result",
		},
		[]string{"result"}, // success|failure|expired
	)

	// Scopes
	ScopeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propfix_scope_duration_seconds",
			Help:    "Wall time to process one scope",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"kind"},
	)

	ScopeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propfix_scope_failures_total",
			Help: "Scopes that ended with an unrecoverable error",
		},
		[]string{"kind"},
	)
)

// RecordOutcome counts one entity outcome.
func RecordOutcome(kind models.JobKind, outcome models.Outcome) {
	EntitiesProcessed.WithLabelValues(string(kind), string(outcome)).Inc()
}

// RecordOCCRetry counts a retry after a version conflict.
func RecordOCCRetry(kind models.JobKind) {
	OCCRetries.WithLabelValues(string(kind)).Inc()
}

// RecordThreeWayMerge counts a three-way merge and the keys it left to the
// concurrent writer.
func RecordThreeWayMerge(skippedKeys int) {
	ThreeWayMerges.Inc()
	if skippedKeys > 0 {
		ThreeWayKeysSkipped.Add(float64(skippedKeys))
	}
}

// RecordChunk records one chunk transaction.
func RecordChunk(kind models.JobKind, duration time.Duration, dryRun bool, err error) {
	ChunkDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
	result := "committed"
	switch {
	case err != nil:
		result = "failed"
	case dryRun:
		result = "rolled_back"
	}
	Commits.WithLabelValues(string(kind), result).Inc()
}

// RecordDiffQuery records one event log query.
func RecordDiffQuery(duration time.Duration) {
	DiffSourceQueries.Observe(duration.Seconds())
}

// RecordCandidates counts entities carrying candidates after accumulation.
func RecordCandidates(n int) {
	CandidatesExtracted.Add(float64(n))
}

// RecordAuditInsert records a backup insert result.
func RecordAuditInsert(inserted bool, err error) {
	switch {
	case err != nil:
		AuditInserts.WithLabelValues("error").Inc()
	case inserted:
		AuditInserts.WithLabelValues("inserted").Inc()
	default:
		AuditInserts.WithLabelValues("duplicate").Inc()
	}
}

// Publish results.
const (
	PublishOK          = "ok"
	PublishError       = "error"
	PublishQueued      = "queued"
	PublishCircuitOpen = "circuit_open"
)

// RecordPublish records a publish result.
func RecordPublish(result string) {
	Publishes.WithLabelValues(result).Inc()
}

// SetCircuitBreakerState exports a breaker state (0 closed, 1 half-open, 2 open).
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordWALRetry records an outbox retry result.
func RecordWALRetry(result string) {
	WALRetries.WithLabelValues(result).Inc()
}

// RecordScope records a finished scope.
func RecordScope(kind models.JobKind, duration time.Duration, failed bool) {
	ScopeDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
	if failed {
		ScopeFailures.WithLabelValues(string(kind)).Inc()
	}
}
