// Package usql wraps database/sql so every statement is timed.
package usql

import (
	"context"
	"database/sql"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusSQLDuration *prometheus.HistogramVec
	metricsOnce           sync.Once
)

func initPrometheusMetrics() {
	metricsOnce.Do(func() {
		prometheusSQLDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "powledger",
				Subsystem: "sql",
				Name:      "duration_seconds",
				Help:      "Duration of sql statements",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"op"},
		)
	})
}

type DB struct {
	*sql.DB
}

func Open(driverName, dataSourceName string) (*DB, error) {
	initPrometheusMetrics()

	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	timer := prometheus.NewTimer(prometheusSQLDuration.WithLabelValues("query"))
	defer timer.ObserveDuration()

	return db.DB.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	timer := prometheus.NewTimer(prometheusSQLDuration.WithLabelValues("query_row"))
	defer timer.ObserveDuration()

	return db.DB.QueryRowContext(ctx, query, args...)
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	timer := prometheus.NewTimer(prometheusSQLDuration.WithLabelValues("exec"))
	defer timer.ObserveDuration()

	return db.DB.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction whose commit is timed.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}

	return &Tx{tx}, nil
}

type Tx struct {
	*sql.Tx
}

func (tx *Tx) Commit() error {
	timer := prometheus.NewTimer(prometheusSQLDuration.WithLabelValues("commit"))
	defer timer.ObserveDuration()

	return tx.Tx.Commit()
}
