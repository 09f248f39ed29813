// Package metrics holds the Prometheus counters of collection runs and
// enrichment. Every method is safe on a nil *Metrics, so components take
// an optional collector without branching.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scout"

// Metrics is one registry and the collectors registered on it.
type Metrics struct {
	Registry *prometheus.Registry

	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram
	Targets     *prometheus.CounterVec
	Records     *prometheus.CounterVec
	Enrichment  *prometheus.CounterVec
	Backfill    *prometheus.CounterVec
	Recycles    prometheus.Counter
}

// New builds a private registry with Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Collection runs by terminal task state",
		}, []string{"state"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one collection run",
			Buckets:   []float64{30, 60, 300, 600, 1800, 3600, 7200, 14400},
		}),
		Targets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_total",
			Help:      "Targets processed by status and failure class",
		}, []string{"status", "class"}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Extracted records by ingestion outcome",
		}, []string{"outcome"}),
		Enrichment: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_total",
			Help:      "Inline analyses by result status",
		}, []string{"status"}),
		Backfill: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_records_total",
			Help:      "Backfill analyses by result status",
		}, []string{"status"}),
		Recycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_checkpoints_total",
			Help:      "Browser checkpoints taken between targets",
		}),
	}
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) RunFinished(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(state).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// TargetFinished counts one target. class is empty on success.
func (m *Metrics) TargetFinished(status, class string) {
	if m == nil {
		return
	}
	if class == "" {
		class = "none"
	}
	m.Targets.WithLabelValues(status, class).Inc()
}

func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Enriched(status string) {
	if m == nil {
		return
	}
	m.Enrichment.WithLabelValues(status).Inc()
}

// BackfillDone adds one scan's counters.
func (m *Metrics) BackfillDone(analyzed, failed int) {
	if m == nil {
		return
	}
	m.Backfill.WithLabelValues("ok").Add(float64(analyzed))
	m.Backfill.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) Checkpoint() {
	if m == nil {
		return
	}
	m.Recycles.Inc()
}
