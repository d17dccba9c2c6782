package residency

import "github.com/prometheus/client_golang/prometheus"

var (
	metricLoads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vidgend",
		Subsystem: "residency",
		Name:      "loads_total",
		Help:      "Total number of model weight loads",
	})

	metricEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vidgend",
		Subsystem: "residency",
		Name:      "evictions_total",
		Help:      "Total number of LRU evictions",
	})

	metricResident = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vidgend",
		Subsystem: "residency",
		Name:      "resident_models",
		Help:      "Models currently resident in accelerator memory",
	})
)

func init() {
	prometheus.MustRegister(metricLoads, metricEvictions, metricResident)
}
