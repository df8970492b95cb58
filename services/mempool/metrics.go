package mempool

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusMempoolSize     prometheus.Gauge
	prometheusMempoolAdded    prometheus.Counter
	prometheusMempoolRejected *prometheus.CounterVec
	prometheusMempoolRemoved  *prometheus.CounterVec
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusMempoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "powledger",
			Subsystem: "mempool",
			Name:      "size",
			Help:      "Number of transactions in the mempool",
		},
	)

	prometheusMempoolAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "mempool",
			Name:      "added",
			Help:      "Number of transactions admitted to the mempool",
		},
	)

	prometheusMempoolRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "mempool",
			Name:      "rejected",
			Help:      "Number of transactions refused by the mempool, by error code",
		},
		[]string{"code"},
	)

	prometheusMempoolRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "mempool",
			Name:      "removed",
			Help:      "Number of transactions removed from the mempool, by reason",
		},
		[]string{"reason"},
	)
}
