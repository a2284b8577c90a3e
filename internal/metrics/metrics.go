// Package metrics exports Prometheus collectors for endpoint probing, fee
// estimation and submission outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "oracle_submit"

	probesTotalMetric        = "probes_total"
	probeDurationMetric      = "probe_duration_seconds"
	selectionsTotalMetric    = "selections_total"
	feeQuotesTotalMetric     = "fee_quotes_total"
	submissionsTotalMetric   = "submissions_total"
	confirmationsTotalMetric = "confirmations_total"
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		probesTotal,
		probeDuration,
		selectionsTotal,
		feeQuotesTotal,
		submissionsTotal,
		confirmationsTotal,
	)
}

var (
	// probesTotal counts endpoint liveness probes.
	// Labels:
	//   - endpoint: endpoint host (never the full URL)
	//   - outcome: live | dead | timeout
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      probesTotalMetric,
			Help:      "Endpoint liveness probes by outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	// probeDuration tracks probe latency regardless of outcome.
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      probeDurationMetric,
			Help:      "Endpoint probe latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"endpoint"},
	)

	// selectionsTotal counts selector results.
	// Labels:
	//   - phase: parallel | sequential | exhausted
	selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      selectionsTotalMetric,
			Help:      "Endpoint selections by the phase that produced the winner.",
		},
		[]string{"phase"},
	)

	// feeQuotesTotal counts fee quotes by source (network | fallback).
	feeQuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      feeQuotesTotalMetric,
			Help:      "Fee quotes by source.",
		},
		[]string{"source"},
	)

	// submissionsTotal counts terminal submission outcomes.
	// Labels:
	//   - status: accepted | timed_out | rejected | no_endpoint | simulated
	//   - kind: diagnose kind for failures, empty otherwise
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      submissionsTotalMetric,
			Help:      "Submission workflow outcomes.",
		},
		[]string{"status", "kind"},
	)

	// confirmationsTotal counts confirmation waits (succeeded | reverted | timeout | error).
	confirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      confirmationsTotalMetric,
			Help:      "Confirmation waits by result.",
		},
		[]string{"result"},
	)
)

// ObserveProbe records one probe attempt.
func ObserveProbe(endpoint, outcome string, d time.Duration) {
	probesTotal.WithLabelValues(endpoint, outcome).Inc()
	probeDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveSelection records how a selection ended.
func ObserveSelection(phase string) { selectionsTotal.WithLabelValues(phase).Inc() }

// ObserveFeeQuote records where a fee quote came from.
func ObserveFeeQuote(source string) { feeQuotesTotal.WithLabelValues(source).Inc() }

// ObserveSubmission records a terminal workflow outcome.
func ObserveSubmission(status, kind string) { submissionsTotal.WithLabelValues(status, kind).Inc() }

// ObserveConfirmation records the result of a confirmation wait.
func ObserveConfirmation(result string) { confirmationsTotal.WithLabelValues(result).Inc() }

// Registry exposes the collector registry, mainly for tests.
func Registry() *prometheus.Registry { return registry }

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
