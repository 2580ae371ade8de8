// Package metrics exposes Prometheus collectors for the import engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "importer"

// Row outcomes.
const (
	RowProcessed = "processed"
	RowSkipped   = "skipped"
	RowDuplicate = "duplicate"
)

type Metrics struct {
	jobsSubmitted  *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobDuration    prometheus.Histogram
	jobsInFlight   prometheus.Gauge
	rows           *prometheus.CounterVec
	attachments    *prometheus.CounterVec
	suggestions    *prometheus.CounterVec
	reaperRequeued prometheus.Counter
	queueRetries   prometheus.Counter
	registry       prometheus.Gatherer
}

// New registers the collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Import submissions by admission result.",
		}, []string{"result"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Imports that reached a terminal status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock time spent processing one import.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Imports currently being processed.",
		}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Statement rows by outcome.",
		}, []string{"outcome"}),
		attachments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_attachments_total",
			Help:      "Transactions auto-attached to a reconciliation, by import format.",
		}, []string{"format"}),
		suggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_suggestions_total",
			Help:      "Categorization attempts by source and whether they were auto-applied.",
		}, []string{"source", "applied"}),
		reaperRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_requeued_total",
			Help:      "Stale imports handed back to the queue.",
		}),
		queueRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_retries_total",
			Help:      "Import attempts retried after a worker error.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.jobsSubmitted,
		m.jobsFinished,
		m.jobDuration,
		m.jobsInFlight,
		m.rows,
		m.attachments,
		m.suggestions,
		m.reaperRequeued,
		m.queueRetries,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) JobSubmitted(result string) {
	if m == nil {
		return
	}
	m.jobsSubmitted.WithLabelValues(result).Inc()
}

// JobStarted marks an import in flight and returns the func that records its
// terminal status and duration.
func (m *Metrics) JobStarted() func(status string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.jobsInFlight.Inc()
	return func(status string) {
		m.jobsInFlight.Dec()
		m.jobDuration.Observe(time.Since(start).Seconds())
		m.jobsFinished.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) Row(outcome string) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReconciliationAttached(format string) {
	if m == nil {
		return
	}
	m.attachments.WithLabelValues(format).Inc()
}

func (m *Metrics) Suggestion(source string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.suggestions.WithLabelValues(source, label).Inc()
}

func (m *Metrics) Requeued() {
	if m == nil {
		return
	}
	m.reaperRequeued.Inc()
}

func (m *Metrics) Retried() {
	if m == nil {
		return
	}
	m.queueRetries.Inc()
}
