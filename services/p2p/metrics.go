package p2p

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusP2PPeers       prometheus.Gauge
	prometheusP2PDisconnects *prometheus.CounterVec
	prometheusP2PBans        prometheus.Counter
	prometheusP2PRelayed     *prometheus.CounterVec
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusP2PPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "powledger",
			Subsystem: "p2p",
			Name:      "peers",
			Help:      "Number of established peer sessions",
		},
	)

	prometheusP2PDisconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "p2p",
			Name:      "disconnects",
			Help:      "Number of peer sessions ended, by cause",
		},
		[]string{"reason"},
	)

	prometheusP2PBans = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "p2p",
			Name:      "bans",
			Help:      "Number of hosts banned for misbehaviour",
		},
	)

	prometheusP2PRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "p2p",
			Name:      "relayed",
			Help:      "Number of inventory items announced to peers",
		},
		[]string{"type"},
	)
}
