// Package metrics provides Prometheus metrics for the pipeline stages.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	Records        *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	RecordDuration *prometheus.HistogramVec
	ListedObjects  prometheus.Histogram
	ListedPages    prometheus.Histogram
	SubmittedJobs  *prometheus.CounterVec
}

// New registers the pipeline collectors on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vodpipeline"
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Event records handled, by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_failures_total",
				Help:      "Failed event records, by stage and error kind",
			},
			[]string{"stage", "kind"},
		),
		RecordDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "record_duration_seconds",
				Help:      "Time spent handling one event record",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"stage"},
		),
		ListedObjects: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "manifest_objects",
				Help:      "Objects written into a listing manifest",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		ListedPages: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "listing_pages",
				Help:      "Listing pages fetched per manifest",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		SubmittedJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submitted_jobs_total",
				Help:      "Jobs submitted to external services",
			},
			[]string{"service"},
		),
	}

	reg.MustRegister(
		m.Records,
		m.Failures,
		m.RecordDuration,
		m.ListedObjects,
		m.ListedPages,
		m.SubmittedJobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRecord counts one handled record and its latency.
func (m *Metrics) ObserveRecord(stage, outcome string, elapsed time.Duration) {
	m.Records.WithLabelValues(stage, outcome).Inc()
	m.RecordDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveFailure counts one failed record.
func (m *Metrics) ObserveFailure(stage, kind string) {
	m.Failures.WithLabelValues(stage, kind).Inc()
}

// ObserveListing records the shape of one completed listing.
func (m *Metrics) ObserveListing(pages, objects int) {
	m.ListedPages.Observe(float64(pages))
	m.ListedObjects.Observe(float64(objects))
}

// ObserveSubmission counts one job accepted by an external service.
func (m *Metrics) ObserveSubmission(service string) {
	m.SubmittedJobs.WithLabelValues(service).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
