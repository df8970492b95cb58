package blockpersister

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlockPersisterSave       prometheus.Histogram
	prometheusBlockPersisterSaveErrors prometheus.Counter
	prometheusBlockPersisterHeight     prometheus.Gauge
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlockPersisterSave = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "powledger",
			Subsystem: "blockpersister",
			Name:      "save",
			Help:      "Duration of saving the canonical chain",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	prometheusBlockPersisterSaveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "powledger",
			Subsystem: "blockpersister",
			Name:      "save_errors",
			Help:      "Number of failed saves",
		},
	)

	prometheusBlockPersisterHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "powledger",
			Subsystem: "blockpersister",
			Name:      "height",
			Help:      "Height of the last saved tip",
		},
	)
}
