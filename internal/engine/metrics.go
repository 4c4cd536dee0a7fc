package engine

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for run status.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_engine_runs_total",
			Help: "Total number of app runs by worker type and status.",
		},
		[]string{"worker", "status"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anvil_engine_run_seconds",
			Help:    "Duration of app runs from slot check to output collection, in seconds.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"worker"},
	)

	appsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_engine_apps_loaded_total",
			Help: "Total number of manifests loaded by source kind.",
		},
		[]string{"source"},
	)

	cleanupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_engine_cleanup_failures_total",
			Help: "Total number of working directories that could not be removed.",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(appsLoaded)
	prometheus.MustRegister(cleanupFailures)

	for _, w := range []string{"docker", "web"} {
		runsTotal.WithLabelValues(w, statusSucceeded)
		runsTotal.WithLabelValues(w, statusFailed)
	}
}
