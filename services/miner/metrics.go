package miner

import (
	"sync"

	"github.com/bsv-blockchain/powledger/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlockMined prometheus.Histogram
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlockMined = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "powledger",
			Subsystem: "miner",
			Name:      "block_mined",
			Help:      "Histogram of the time taken to mine a block",
			Buckets:   util.MetricsBucketsSeconds,
		},
	)
}
