package web

import "github.com/prometheus/client_golang/prometheus"

var (
	pollRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_web_poll_rounds_total",
			Help: "Total number of completed output poll rounds.",
		},
	)

	pollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_web_poll_errors_total",
			Help: "Total number of poll rounds aborted by an error.",
		},
	)

	activeWatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anvil_web_active_watches",
			Help: "Number of web runs currently waiting for outputs.",
		},
	)
)

func init() {
	prometheus.MustRegister(pollRounds)
	prometheus.MustRegister(pollErrors)
	prometheus.MustRegister(activeWatches)
}
