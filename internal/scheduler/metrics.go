package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	metricJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidgend",
			Subsystem: "scheduler",
			Name:      "jobs_total",
			Help:      "Jobs finished, by terminal state",
		},
		[]string{"state"},
	)

	metricJobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vidgend",
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Wall time from dispatch to terminal state",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	})

	metricQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vidgend",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Jobs currently waiting in the admission queue",
	})

	metricRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vidgend",
		Subsystem: "scheduler",
		Name:      "rejections_total",
		Help:      "Submissions rejected with Overloaded backpressure",
	})
)

func init() {
	prometheus.MustRegister(metricJobs, metricJobDuration, metricQueueDepth, metricRejections)
}
