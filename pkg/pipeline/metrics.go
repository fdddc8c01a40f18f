package pipeline

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/conveyor/pkg/metrics"
)

var (
	// Builds dominate the early stages; production verification is
	// bounded by its deadline.
	stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "conveyor",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages, in seconds.",
		Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1200},
	}, []string{fluxmetrics.LabelStage, fluxmetrics.LabelSuccess})

	runDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "conveyor",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Duration of pipeline runs from trigger to finish, in seconds.",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600, 4 * 3600, 24 * 3600},
	}, []string{fluxmetrics.LabelTrigger, fluxmetrics.LabelStatus})

	activeRuns = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "conveyor",
		Subsystem: "pipeline",
		Name:      "active_runs_count",
		Help:      "Count of runs that have not finished.",
	}, []string{})

	queueLength = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "conveyor",
		Subsystem: "pipeline",
		Name:      "deploy_queue_length_count",
		Help:      "Count of production deployments waiting in the queue, per environment.",
	}, []string{fluxmetrics.LabelEnvironment})

	queueDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "conveyor",
		Subsystem: "pipeline",
		Name:      "queue_duration_seconds",
		Help:      "Duration of time spent in a queue before being picked up, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{fluxmetrics.LabelOperation})
)
