package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder receives ingestion outcomes. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	// Observe records the duration and outcome of a named operation.
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	// FileProcessed records the final status of one cohort file.
	FileProcessed(status string, parsed, matched, rowsSkipped, cellsRejected int)
	// Retry records a retried transfer attempt for op.
	Retry(op string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (NopMetrics) FileProcessed(string, int, int, int, int)             {}
func (NopMetrics) Retry(string)                                         {}

// PrometheusRecorder publishes ingestion counters and latency histograms.
type PrometheusRecorder struct {
	files         *prometheus.CounterVec
	parsed        prometheus.Counter
	matched       prometheus.Counter
	cellsRejected prometheus.Counter
	rowsSkipped   prometheus.Counter
	retries       *prometheus.CounterVec
	durations     *prometheus.HistogramVec
}

// NewPrometheusRecorder creates the collectors and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusRecorder{
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohortingest",
			Name:      "files_total",
			Help:      "Cohort files processed, by final status.",
		}, []string{"status"}),
		parsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cohortingest",
			Name:      "patients_parsed_total",
			Help:      "Per-patient expression records parsed from matrices.",
		}),
		matched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cohortingest",
			Name:      "patients_matched_total",
			Help:      "Expression records joined to clinical data.",
		}),
		cellsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cohortingest",
			Name:      "cells_rejected_total",
			Help:      "Matrix cells omitted because they did not parse as finite numbers.",
		}),
		rowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cohortingest",
			Name:      "rows_skipped_total",
			Help:      "Matrix rows skipped (non-target gene or too few columns).",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohortingest",
			Name:      "transfer_retries_total",
			Help:      "Retried storage transfers, by operation.",
		}, []string{"op"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cohortingest",
			Name:      "operation_duration_seconds",
			Help:      "Latency of ingestion operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}
	for _, c := range []prometheus.Collector{r.files, r.parsed, r.matched, r.cellsRejected, r.rowsSkipped, r.retries, r.durations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe records an operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// FileProcessed records the outcome of one cohort file.
func (r *PrometheusRecorder) FileProcessed(status string, parsed, matched, rowsSkipped, cellsRejected int) {
	r.files.WithLabelValues(status).Inc()
	r.parsed.Add(float64(parsed))
	r.matched.Add(float64(matched))
	r.rowsSkipped.Add(float64(rowsSkipped))
	r.cellsRejected.Add(float64(cellsRejected))
}

// Retry counts one retried attempt.
func (r *PrometheusRecorder) Retry(op string) {
	r.retries.WithLabelValues(op).Inc()
}
