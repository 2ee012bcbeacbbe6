package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts answers by path and observes retrieval and latency.
type Metrics struct {
	Answers     *prometheus.CounterVec
	Retained    prometheus.Histogram
	Latency     *prometheus.HistogramVec
	Errors      *prometheus.CounterVec
	IndexedDocs prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fundrag",
			Name:      "answers_total",
			Help:      "Answers returned, by the pipeline stage that produced them.",
		}, []string{"path"}),
		Retained: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fundrag",
			Name:      "retrieval_retained_documents",
			Help:      "Documents retained after the distance threshold.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 15, 25},
		}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fundrag",
			Name:      "answer_duration_seconds",
			Help:      "Time to answer one question, by path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fundrag",
			Name:      "pipeline_errors_total",
			Help:      "Errors contained by the orchestrator, by stage.",
		}, []string{"stage"}),
		IndexedDocs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fundrag",
			Name:      "index_documents",
			Help:      "Documents in the loaded index.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Answers, m.Retained, m.Latency, m.Errors, m.IndexedDocs)
	}
	return m
}
