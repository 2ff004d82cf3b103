// Package metrics exposes Prometheus collectors for the test-plan core
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// scoringDuration measures one scoring pass.
	scoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskplan",
		Subsystem: "scoring",
		Name:      "duration_seconds",
		Help:      "Duration of a scoring pass",
		Buckets:   prometheus.DefBuckets,
	})

	// scoringSkipped counts candidates dropped because their metrics were invalid.
	scoringSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riskplan",
		Subsystem: "scoring",
		Name:      "skipped_total",
		Help:      "Candidates skipped during scoring",
	})

	// reasoningFailures counts reasoning calls that failed or returned unusable output.
	// Labels: operation (classify, select, narrate, warn, rationale, filters)
	reasoningFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskplan",
		Subsystem: "reasoning",
		Name:      "failures_total",
		Help:      "Reasoning service failures by operation",
	}, []string{"operation"})

	// changeDecisions counts change-detector outcomes.
	// Labels: decision (no_save, first, major, minor, fallback)
	changeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskplan",
		Subsystem: "changedetect",
		Name:      "decisions_total",
		Help:      "Change detector decisions",
	}, []string{"decision"})

	// versionsCommitted counts committed test-plan versions.
	versionsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riskplan",
		Subsystem: "versions",
		Name:      "committed_total",
		Help:      "Test plan versions committed",
	})

	// envelopes counts normalized responses.
	// Labels: operation, status (ok, failed)
	envelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskplan",
		Subsystem: "dispatch",
		Name:      "envelopes_total",
		Help:      "Normalized response envelopes by operation and status",
	}, []string{"operation", "status"})

	// llmTokens counts tokens exchanged with LLM providers.
	// Labels: provider, direction (input, output)
	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskplan",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Tokens exchanged with LLM providers",
	}, []string{"provider", "direction"})

	// activeSessions tracks the number of cached sessions.
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskplan",
		Subsystem: "session",
		Name:      "active",
		Help:      "Sessions currently held in memory",
	})

	// jobsProcessed counts messages handled by the workers.
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskplan",
		Subsystem: "worker",
		Name:      "jobs_total",
		Help:      "Worker messages by kind and outcome",
	}, []string{"kind", "outcome"})
)

// ObserveScoring records the duration of a scoring pass
func ObserveScoring(d time.Duration, skipped int) {
	scoringDuration.Observe(d.Seconds())
	if skipped > 0 {
		scoringSkipped.Add(float64(skipped))
	}
}

// ReasoningFailed records a failed reasoning call
func ReasoningFailed(operation string) {
	reasoningFailures.WithLabelValues(operation).Inc()
}

// ChangeDecision records a change-detector decision
func ChangeDecision(decision string) {
	changeDecisions.WithLabelValues(decision).Inc()
}

// VersionCommitted records a committed version
func VersionCommitted() {
	versionsCommitted.Inc()
}

// Envelope records a normalized response
func Envelope(operation string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	envelopes.WithLabelValues(operation, status).Inc()
}

// SetActiveSessions updates the session gauge
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// LLMTokens records token usage of one completion
func LLMTokens(provider string, input, output int) {
	llmTokens.WithLabelValues(provider, "input").Add(float64(input))
	llmTokens.WithLabelValues(provider, "output").Add(float64(output))
}

// JobProcessed records one worker message and how it ended (ack, nak, term)
func JobProcessed(kind, outcome string) {
	jobsProcessed.WithLabelValues(kind, outcome).Inc()
}
