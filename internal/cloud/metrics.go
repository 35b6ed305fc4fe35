package cloud

import "github.com/prometheus/client_golang/prometheus"

var publishTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tagwatch_cloud_publish_total",
		Help: "Change records offered to the cloud gate, by result (attempted, suppressed or dropped).",
	},
	[]string{"result"},
)

var connectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "tagwatch_cloud_connected",
	Help: "1 while the cloud publisher holds a broker connection.",
})

func init() {
	prometheus.MustRegister(publishTotal, connectedGauge)
}
