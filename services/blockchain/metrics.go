package blockchain

import (
	"sync"

	"github.com/bsv-blockchain/powledger/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlockchainProcessBlock         prometheus.Histogram
	prometheusBlockchainHeight               prometheus.Gauge
	prometheusBlockchainOrphans              prometheus.Gauge
	prometheusBlockchainReorgs               prometheus.Counter
	prometheusBlockchainNotificationsDropped prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlockchainProcessBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "powledger",
			Subsystem: "blockchain",
			Name:      "process_block",
			Help:      "Histogram of the time taken to process a block, orphans included",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusBlockchainHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "powledger",
			Subsystem: "blockchain",
			Name:      "height",
			Help:      "Height of the canonical tip",
		},
	)

	prometheusBlockchainOrphans = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "powledger",
			Subsystem: "blockchain",
			Name:      "orphans",
			Help:      "Number of blocks held while their parent is unknown",
		},
	)

	prometheusBlockchainReorgs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "blockchain",
			Name:      "reorgs",
			Help:      "Number of chain reorganizations",
		},
	)

	prometheusBlockchainNotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "blockchain",
			Name:      "notifications_dropped",
			Help:      "Number of notifications dropped because a subscriber was full",
		},
	)
}
