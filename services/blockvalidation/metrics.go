package blockvalidation

import (
	"sync"

	"github.com/bsv-blockchain/powledger/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlockValidationValidateBlock prometheus.Histogram
	prometheusBlockValidationBlocks        *prometheus.CounterVec
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlockValidationValidateBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "powledger",
			Subsystem: "blockvalidation",
			Name:      "validate_block",
			Help:      "Histogram of calls to ValidateBlock",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusBlockValidationBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "blockvalidation",
			Name:      "blocks",
			Help:      "Number of blocks validated, by outcome",
		},
		[]string{"status"},
	)
}
