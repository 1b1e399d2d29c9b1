package registry

import "github.com/prometheus/client_golang/prometheus"

var transitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hapied",
		Subsystem: "registry",
		Name:      "transitions_total",
		Help:      "Total committed model state transitions",
	},
	[]string{"to"},
)

func init() {
	prometheus.MustRegister(transitionsTotal)
}
