// Package metrics provides Prometheus metrics for the sorrel matching engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sorrel"

var (
	// CandidatesGenerated tracks candidates returned by the index
	CandidatesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "candidates_generated_total",
			Help:      "Total number of candidates returned by the candidate index",
		},
	)

	// CandidatesDropped tracks candidates cut by the per-employee cap
	CandidatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "candidates_dropped_total",
			Help:      "Total number of candidates dropped by the max_candidates cap",
		},
	)

	// PairsScored tracks pairs evaluated by the engine, including cache hits
	PairsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "pairs_scored_total",
			Help:      "Total number of candidate pairs scored",
		},
		[]string{"source"},
	)

	// MatchesEmitted tracks persisted matches by action (created, updated, unchanged, refreshed)
	MatchesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "matches_emitted_total",
			Help:      "Total number of matches persisted by action",
		},
		[]string{"action", "risk_level"},
	)

	// MatchesSuppressed tracks matches dropped by the anomaly filter
	MatchesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "anomaly",
			Name:      "suppressed_total",
			Help:      "Total number of matches suppressed by reason",
		},
		[]string{"reason"},
	)

	// BelowMinimum tracks pairs discarded under the minimum threshold
	BelowMinimum = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "below_minimum_total",
			Help:      "Total number of pairs discarded below the minimum confidence",
		},
	)

	// CacheLookups tracks pair cache hits and misses
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of pair cache lookups by result",
		},
		[]string{"result"},
	)

	// BatchDuration tracks batch processing latency
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch processing in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	// PairFailures tracks pairs that failed after retries
	PairFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "pair_failures_total",
			Help:      "Total number of pairs that failed after all retries",
		},
	)

	// EmployeesSkipped tracks employees skipped after candidate lookup failures
	EmployeesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "employees_skipped_total",
			Help:      "Total number of employees skipped during a run",
		},
		[]string{"reason"},
	)

	// NormalizationErrors tracks identifiers rejected during normalization
	NormalizationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "normalization_errors_total",
			Help:      "Total number of identifiers marked absent due to normalization errors",
		},
		[]string{"identifier"},
	)

	// EmployeesIngested tracks ingested employees by outcome
	EmployeesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "employees_total",
			Help:      "Total number of employee records ingested by outcome",
		},
		[]string{"outcome"},
	)

	// RunDuration tracks matching run duration
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Duration of matching runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"mode", "status"},
	)

	// IndexSize tracks the number of employees in the candidate index
	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "employees",
			Help:      "Number of employees in the candidate index",
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordCandidates records the result of one candidate lookup
func RecordCandidates(generated, dropped int) {
	CandidatesGenerated.Add(float64(generated))
	if dropped > 0 {
		CandidatesDropped.Add(float64(dropped))
	}
}

// RecordPairScored records a scored pair; cached reports whether the outcome
// came from the pair cache
func RecordPairScored(cached bool) {
	if cached {
		PairsScored.WithLabelValues("cache").Inc()
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	PairsScored.WithLabelValues("engine").Inc()
	CacheLookups.WithLabelValues("miss").Inc()
}

// RecordMatch records a persisted match
func RecordMatch(action, riskLevel string) {
	MatchesEmitted.WithLabelValues(action, riskLevel).Inc()
}

// RecordSuppressed records an anomaly suppression
func RecordSuppressed(reason string) {
	MatchesSuppressed.WithLabelValues(reason).Inc()
}

// RecordBatch records batch latency
func RecordBatch(mode string, durationSeconds float64) {
	BatchDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordRun records a finished run
func RecordRun(mode, status string, durationSeconds float64) {
	RunDuration.WithLabelValues(mode, status).Observe(durationSeconds)
}

// RecordNormalizationError records an identifier rejected during normalization
func RecordNormalizationError(identifier string) {
	NormalizationErrors.WithLabelValues(identifier).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
