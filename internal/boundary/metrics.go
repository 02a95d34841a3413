package boundary

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for spawn results.
const (
	resultOK     = "ok"
	resultFailed = "failed"
)

var (
	spawnedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offload_boundary_spawned_total",
			Help: "Total number of worker contexts spawned, by boundary and result.",
		},
		[]string{"boundary", "result"},
	)

	activeContexts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offload_boundary_active_contexts",
			Help: "Number of worker contexts currently running.",
		},
		[]string{"boundary"},
	)

	spawnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offload_boundary_spawn_seconds",
			Help:    "Duration from spawn request to start frame sent, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"boundary"},
	)
)

func init() {
	prometheus.MustRegister(spawnedTotal)
	prometheus.MustRegister(activeContexts)
	prometheus.MustRegister(spawnDuration)
}

// ObserveSpawn records a spawn attempt that took seconds and failed if err is set.
func ObserveSpawn(boundary string, seconds float64, err error) {
	spawnDuration.WithLabelValues(boundary).Observe(seconds)
	if err != nil {
		spawnedTotal.WithLabelValues(boundary, resultFailed).Inc()
		return
	}
	spawnedTotal.WithLabelValues(boundary, resultOK).Inc()
}
