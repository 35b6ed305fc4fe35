package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	readingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagwatch_readings_total",
			Help: "Readings processed by the telemetry engine.",
		},
		[]string{"stream"},
	)
	changesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagwatch_changes_detected_total",
			Help: "Records with at least one changed axis.",
		},
		[]string{"stream"},
	)
	resetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagwatch_state_resets_total",
			Help: "Administrative resets of all stream state.",
		},
	)
	thresholdGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagwatch_change_threshold",
			Help: "Current change threshold.",
		},
	)
)

func init() {
	prometheus.MustRegister(readingsTotal)
	prometheus.MustRegister(changesTotal)
	prometheus.MustRegister(resetsTotal)
	prometheus.MustRegister(thresholdGauge)
	thresholdGauge.Set(DefaultThreshold)
}
