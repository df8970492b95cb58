package blockassembly

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlockAssemblyCandidates prometheus.Counter
	prometheusBlockAssemblySolutions  *prometheus.CounterVec
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlockAssemblyCandidates = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "blockassembly",
			Name:      "candidates",
			Help:      "Number of mining candidates handed out",
		},
	)

	prometheusBlockAssemblySolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "blockassembly",
			Name:      "solutions",
			Help:      "Number of mining solutions submitted, by block status",
		},
		[]string{"status"},
	)
}
