// Package telemetry sets up tracing and Prometheus metrics for the gateway.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/polyglot-pipe/internal/pipeline"
)

// Metrics holds the pipeline's Prometheus collectors. It implements
// pipeline.Observer.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	StageTotal    *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. sessions, if
// non-nil, is sampled for the live session gauge.
func NewMetrics(reg prometheus.Registerer, sessions func() int) (*Metrics, error) {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipegate_pipeline_runs_total",
				Help: "Pipeline runs by final state",
			},
			[]string{"state"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipegate_pipeline_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		StageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipegate_stage_results_total",
				Help: "Stage executions by stage and result",
			},
			[]string{"stage", "result"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipegate_stage_duration_seconds",
				Help:    "Stage execution duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"stage"},
		),
	}

	collectors := []prometheus.Collector{m.RunsTotal, m.RunDuration, m.StageTotal, m.StageDuration}
	if sessions != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "pipegate_sessions_active",
				Help: "Live sessions held in the identifier registry",
			},
			func() float64 { return float64(sessions()) },
		))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// StageDone records one stage execution.
func (m *Metrics) StageDone(stage string, result pipeline.Result, err error, elapsed time.Duration) {
	outcome := result.String()
	if err != nil {
		outcome = "error"
	}
	m.StageTotal.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RunDone records one pipeline run.
func (m *Metrics) RunDone(state pipeline.State, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(state.String()).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

var _ pipeline.Observer = (*Metrics)(nil)
