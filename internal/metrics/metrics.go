// Package metrics defines the Prometheus collectors for indexing and search
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fusearch"

// Metrics holds all collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	DocumentsWrittenTotal   *prometheus.CounterVec
	ExtractionFailuresTotal *prometheus.CounterVec
	WriteFailuresTotal      prometheus.Counter
	IndexRunsTotal          *prometheus.CounterVec
	IndexRunDuration        *prometheus.HistogramVec
	DocumentCount           *prometheus.GaugeVec
	SearchQueriesTotal      *prometheus.CounterVec
	SearchLatency           prometheus.Histogram
	SearchResultsCount      prometheus.Histogram
}

// New creates the collectors and registers them, with the Go runtime and
// process collectors, on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DocumentsWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_written_total",
				Help:      "Documents passed to the store by upsert result (inserted, replaced, unchanged).",
			},
			[]string{"result"},
		),
		ExtractionFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_failures_total",
				Help:      "Files indexed with empty content because extraction failed, by reason (error, timeout).",
			},
			[]string{"reason"},
		),
		WriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_failures_total",
				Help:      "Documents skipped because the store rejected the write.",
			},
		),
		IndexRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_runs_total",
				Help:      "Indexing runs by status (ok, error, canceled).",
			},
			[]string{"status"},
		),
		IndexRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "index_run_duration_seconds",
				Help:      "Duration of indexing runs per root.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"root"},
		),
		DocumentCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "documents",
				Help:      "Documents in the index per root.",
			},
			[]string{"root"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_queries_total",
				Help:      "Search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_latency_seconds",
				Help:      "Search query latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results_count",
				Help:      "Number of results returned per search query.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.DocumentsWrittenTotal,
		m.ExtractionFailuresTotal,
		m.WriteFailuresTotal,
		m.IndexRunsTotal,
		m.IndexRunDuration,
		m.DocumentCount,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordWrite counts one document handed to the store.
func (m *Metrics) RecordWrite(result string) {
	if m == nil {
		return
	}
	m.DocumentsWrittenTotal.WithLabelValues(result).Inc()
}

// RecordExtractionFailure counts one failed extraction.
func (m *Metrics) RecordExtractionFailure(timeout bool) {
	if m == nil {
		return
	}
	reason := "error"
	if timeout {
		reason = "timeout"
	}
	m.ExtractionFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordWriteFailure counts one rejected write.
func (m *Metrics) RecordWriteFailure() {
	if m == nil {
		return
	}
	m.WriteFailuresTotal.Inc()
}

// ObserveRun records a finished indexing run and the resulting document
// count of root.
func (m *Metrics) ObserveRun(root, status string, d time.Duration, documents int) {
	if m == nil {
		return
	}
	m.IndexRunsTotal.WithLabelValues(status).Inc()
	m.IndexRunDuration.WithLabelValues(root).Observe(d.Seconds())
	if status == "ok" {
		m.DocumentCount.WithLabelValues(root).Set(float64(documents))
	}
}

// ObserveSearch records one query. Its signature matches search.Observer.
func (m *Metrics) ObserveSearch(query string, results int, d time.Duration, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.SearchQueriesTotal.WithLabelValues("error").Inc()
		return
	case results == 0:
		m.SearchQueriesTotal.WithLabelValues("zero_result").Inc()
	default:
		m.SearchQueriesTotal.WithLabelValues("hit").Inc()
	}
	m.SearchLatency.Observe(d.Seconds())
	m.SearchResultsCount.Observe(float64(results))
}
