package delegate

import "github.com/prometheus/client_golang/prometheus"

var (
	delegationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offload_delegations_total",
			Help: "Total number of settled delegations by task, mode and final state.",
		},
		[]string{"task", "mode", "state"},
	)

	delegationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offload_delegation_duration_seconds",
			Help:    "Duration from delegation call to settlement, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	delegationsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "offload_delegations_in_flight",
			Help: "Number of delegations with a running worker context.",
		},
	)

	streamSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offload_stream_steps_total",
			Help: "Total number of intermediate stream steps delivered, by task.",
		},
		[]string{"task"},
	)
)

func init() {
	prometheus.MustRegister(delegationsTotal)
	prometheus.MustRegister(delegationDuration)
	prometheus.MustRegister(delegationsInFlight)
	prometheus.MustRegister(streamSteps)
}
