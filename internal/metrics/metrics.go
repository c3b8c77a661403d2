// Package metrics exposes Prometheus metrics for question answering and
// index builds. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rag"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Questions      *prometheus.CounterVec
	AnswerDuration *prometheus.HistogramVec
	IndexBuilds    *prometheus.CounterVec
	BuildDuration  *prometheus.HistogramVec
	IndexedChunks  *prometheus.GaugeVec
	SkippedDocs    *prometheus.CounterVec
}

// New creates the metrics and registers them with a new registry that also
// carries the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Questions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "questions_total",
				Help:      "Questions answered, by category and answer status",
			},
			[]string{"category", "status"},
		),
		AnswerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "answer_duration_seconds",
				Help:      "Time to answer a question, retrieval and generation included",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"category"},
		),
		IndexBuilds: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_builds_total",
				Help:      "Index builds by category and result",
			},
			[]string{"category", "result"},
		),
		BuildDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "index_build_duration_seconds",
				Help:      "Index build duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"category"},
		),
		IndexedChunks: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "indexed_chunks",
				Help:      "Chunks held by the open index of each category",
			},
			[]string{"category"},
		),
		SkippedDocs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skipped_documents_total",
				Help:      "Documents skipped during ingestion because they could not be read",
			},
			[]string{"category"},
		),
	}
}

// ObserveAnswer records one answered question.
func (m *Metrics) ObserveAnswer(category, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Questions.WithLabelValues(category, status).Inc()
	m.AnswerDuration.WithLabelValues(category).Observe(d.Seconds())
}

// ObserveBuild records an index build attempt. result is "ok" or "error".
func (m *Metrics) ObserveBuild(category, result string, d time.Duration, skipped int) {
	if m == nil {
		return
	}
	m.IndexBuilds.WithLabelValues(category, result).Inc()
	m.BuildDuration.WithLabelValues(category).Observe(d.Seconds())
	if skipped > 0 {
		m.SkippedDocs.WithLabelValues(category).Add(float64(skipped))
	}
}

// SetIndexedChunks records the size of an opened index.
func (m *Metrics) SetIndexedChunks(category string, n int) {
	if m == nil {
		return
	}
	m.IndexedChunks.WithLabelValues(category).Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
