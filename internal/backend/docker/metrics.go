package docker

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for command status.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
)

var (
	buildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anvil_docker_build_seconds",
			Help:    "Duration of docker image builds, in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	buildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_docker_builds_total",
			Help: "Total number of docker image builds.",
		},
		[]string{"status"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anvil_docker_run_seconds",
			Help:    "Duration of docker container runs, in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_docker_runs_total",
			Help: "Total number of docker container runs.",
		},
		[]string{"status"},
	)

	activeContainers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anvil_docker_active_containers",
			Help: "Number of containers currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(buildDuration)
	prometheus.MustRegister(buildsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(activeContainers)

	// Pre-initialize label combinations so they appear in /metrics
	// with value 0 from startup.
	for _, s := range []string{statusSucceeded, statusFailed} {
		buildsTotal.WithLabelValues(s)
		runsTotal.WithLabelValues(s)
	}
}
