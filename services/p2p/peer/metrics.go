package peer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusPeerMessagesReceived *prometheus.CounterVec
	prometheusPeerMessagesSent     *prometheus.CounterVec
	prometheusPeerBytesReceived    prometheus.Counter
	prometheusPeerBytesSent        prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusPeerMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "p2p",
			Name:      "messages_received",
			Help:      "Number of messages received from peers",
		},
		[]string{"kind"},
	)

	prometheusPeerMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "p2p",
			Name:      "messages_sent",
			Help:      "Number of messages sent to peers",
		},
		[]string{"kind"},
	)

	prometheusPeerBytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "p2p",
			Name:      "bytes_received",
			Help:      "Number of bytes received from peers",
		},
	)

	prometheusPeerBytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "p2p",
			Name:      "bytes_sent",
			Help:      "Number of bytes sent to peers",
		},
	)
}
