package core

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the ingestion and expert counters.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"

	rowAccepted = "accepted"
	rowSkipped  = "skipped"
	rowRejected = "rejected"
)

// ingestMetrics holds Prometheus metrics for ingestion and expert review.
type ingestMetrics struct {
	once sync.Once

	ingestions    *prometheus.CounterVec
	rows          *prometheus.CounterVec
	ingestSeconds prometheus.Histogram
	expertUpdates *prometheus.CounterVec
}

var metrics ingestMetrics

func (m *ingestMetrics) init() {
	m.once.Do(func() {
		m.ingestions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnmaster_ingestions_total",
			Help: "File ingestions by outcome",
		}, []string{"outcome"})
		m.rows = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnmaster_rows_total",
			Help: "Data rows seen by committed ingestions, by outcome",
		}, []string{"outcome"})

		buckets := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
		m.ingestSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vulnmaster_ingest_duration_seconds",
			Help:    "Wall time of a whole-file ingestion",
			Buckets: buckets,
		})

		m.expertUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnmaster_expert_updates_total",
			Help: "Expert assessment submissions by outcome",
		}, []string{"outcome"})

		prometheus.MustRegister(m.ingestions, m.rows, m.ingestSeconds, m.expertUpdates)
	})
}

func recordIngestSuccess(res *IngestResult) {
	metrics.init()
	metrics.ingestions.WithLabelValues(outcomeSuccess).Inc()
	metrics.rows.WithLabelValues(rowAccepted).Add(float64(res.Accepted))
	metrics.rows.WithLabelValues(rowSkipped).Add(float64(res.Skipped))
	metrics.rows.WithLabelValues(rowRejected).Add(float64(res.Rejected))
	metrics.ingestSeconds.Observe(res.Duration.Seconds())
}

func recordIngestFailure() {
	metrics.init()
	metrics.ingestions.WithLabelValues(outcomeFailure).Inc()
}

func recordExpertUpdate(err error) {
	metrics.init()
	if err != nil {
		metrics.expertUpdates.WithLabelValues(outcomeFailure).Inc()
		return
	}
	metrics.expertUpdates.WithLabelValues(outcomeSuccess).Inc()
}
