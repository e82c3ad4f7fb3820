package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records run outcomes. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	attempts *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "receipt_tracker",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Extraction runs by outcome and failure kind.",
		}, []string{"outcome", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "receipt_tracker",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of extraction runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "receipt_tracker",
			Subsystem: "pipeline",
			Name:      "model_attempts_total",
			Help:      "Model invocations by attempt and result.",
		}, []string{"attempt", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.duration, m.attempts)
	}
	return m
}

func (m *Metrics) observeRun(res Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	m.runs.WithLabelValues(outcome, res.Kind).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) observeAttempt(attempt, result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(attempt, result).Inc()
}
