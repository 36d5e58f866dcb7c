// Package metrics exposes Prometheus instrumentation for pipeline stages.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts stage runs and their durations. A nil Recorder is a no-op.
type Recorder struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rows     *prometheus.CounterVec
}

// NewRecorder registers the stage collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "debiflow",
			Name:      "stage_runs_total",
			Help:      "Pipeline stage invocations by stage and terminal status.",
		}, []string{"stage", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "debiflow",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "debiflow",
			Name:      "stage_rows_written_total",
			Help:      "Rows written to output datasets by stage.",
		}, []string{"stage"}),
	}
	reg.MustRegister(r.runs, r.duration, r.rows)
	return r
}

// ObserveStage records one finished stage run.
func (r *Recorder) ObserveStage(stage, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(stage, status).Inc()
	r.duration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// AddRows counts rows written by a stage.
func (r *Recorder) AddRows(stage string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rows.WithLabelValues(stage).Add(float64(n))
}
