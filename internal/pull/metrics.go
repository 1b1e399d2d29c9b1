package pull

import "github.com/prometheus/client_golang/prometheus"

var (
	pullBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hapied",
		Subsystem: "pull",
		Name:      "bytes_total",
		Help:      "Total bytes downloaded across all pulls.",
	})
	pullsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hapied",
		Subsystem: "pull",
		Name:      "active",
		Help:      "Number of in-flight pull jobs.",
	})
	pullOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hapied",
		Subsystem: "pull",
		Name:      "outcomes_total",
		Help:      "Terminal pull outcomes by kind.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(pullBytesTotal, pullsActive, pullOutcomes)
}
