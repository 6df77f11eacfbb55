// Package metrics exposes Prometheus collectors for the verification
// pipeline. All methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the pipeline collectors.
type Metrics struct {
	Outcomes      *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	UploadBytes   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agegate_pipeline_outcomes_total",
			Help: "Verification runs by final status and error kind",
		}, []string{"status", "kind"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agegate_stage_duration_seconds",
			Help:    "Duration of long-running pipeline stages",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}), // stage: "extraction", "upload", "persist"
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agegate_upload_bytes_total",
			Help: "Bytes of document images stored after passing the age gate",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Outcomes, m.StageDuration, m.UploadBytes)
	}
	return m
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// IncOutcome counts a finished run.
func (m *Metrics) IncOutcome(status, kind string) {
	if m != nil {
		m.Outcomes.WithLabelValues(status, kind).Inc()
	}
}

// AddUploadBytes counts stored bytes.
func (m *Metrics) AddUploadBytes(n int64) {
	if m != nil {
		m.UploadBytes.Add(float64(n))
	}
}
