package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
)

// Metrics holds the import pipeline's prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	rows   *prometheus.CounterVec
	jobs   *prometheus.CounterVec
	active prometheus.Gauge
	chunk  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Imported rows by outcome.",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "import",
			Name:      "jobs_total",
			Help:      "Finished import jobs by terminal status.",
		}, []string{"status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "import",
			Name:      "jobs_active",
			Help:      "Import jobs currently running.",
		}),
		chunk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "import",
			Name:      "chunk_commit_seconds",
			Help:      "Time to insert one chunk, including retries and row fallback.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	reg.MustRegister(m.rows, m.jobs, m.active, m.chunk)
	return m
}

func (m *Metrics) jobStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) jobFinished(status repository.JobStatus) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.jobs.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) rowsInvalid(n int) {
	if m == nil || n == 0 {
		return
	}
	m.rows.WithLabelValues("invalid").Add(float64(n))
}

func (m *Metrics) rowsCommitted(inserted, failed, skipped int) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues("inserted").Add(float64(inserted))
	m.rows.WithLabelValues("failed").Add(float64(failed))
	m.rows.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) chunkCommitted(d time.Duration) {
	if m == nil {
		return
	}
	m.chunk.Observe(d.Seconds())
}
