package live

import "github.com/prometheus/client_golang/prometheus"

var (
	clientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tagwatch_live_clients",
		Help: "Connected live subscribers.",
	})

	droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tagwatch_live_dropped_total",
		Help: "Records not delivered to a subscriber because it was not open or its buffer was full.",
	})

	controlTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagwatch_live_control_messages_total",
			Help: "Inbound subscriber control messages, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(clientsGauge, droppedTotal, controlTotal)
}
