package device

import "github.com/prometheus/client_golang/prometheus"

var (
	stepResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagwatch_device_setup_steps_total",
			Help: "Device setup steps run, by step and result.",
		},
		[]string{"step", "result"},
	)

	readErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tagwatch_device_read_errors_total",
		Help: "Poll reads that failed and skipped their tick.",
	})

	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagwatch_device_state",
			Help: "1 for the device sequencer's current state.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(stepResultsTotal, readErrorsTotal, stateGauge)
}
