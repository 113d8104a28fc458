// Package observability exports vecdb operation metrics to Prometheus.
package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/vecdb"
)

// LatencyBuckets suit embedded index operations, ranging from 50µs to 5s.
var LatencyBuckets = []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// Collector implements vecdb.MetricsCollector with Prometheus metrics.
type Collector struct {
	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	QueryK           *prometheus.HistogramVec
	SnapshotBytes    *prometheus.GaugeVec
	RecoveredEntries *prometheus.CounterVec
	TruncatedLogs    *prometheus.CounterVec
	CollectionSize   *prometheus.GaugeVec
}

var _ vecdb.MetricsCollector = (*Collector)(nil)

// NewCollector creates the metrics and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vecdb_operations_total",
				Help: "Operations by collection, kind and status",
			},
			[]string{"collection", "op", "status"},
		),
		OperationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vecdb_operation_duration_seconds",
				Help:    "Operation duration",
				Buckets: LatencyBuckets,
			},
			[]string{"collection", "op"},
		),
		QueryK: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vecdb_query_k",
				Help:    "Requested neighbors per query",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"collection"},
		),
		SnapshotBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vecdb_snapshot_bytes",
				Help: "Size of the newest snapshot",
			},
			[]string{"collection"},
		),
		RecoveredEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vecdb_recovered_entries_total",
				Help: "WAL entries replayed at open",
			},
			[]string{"collection"},
		),
		TruncatedLogs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vecdb_wal_truncations_total",
				Help: "Corrupt WAL tails cut off at open",
			},
			[]string{"collection"},
		),
		CollectionSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vecdb_collection_records",
				Help: "Live records per collection",
			},
			[]string{"collection"},
		),
	}

	for _, m := range []prometheus.Collector{
		c.Operations,
		c.OperationLatency,
		c.QueryK,
		c.SnapshotBytes,
		c.RecoveredEntries,
		c.TruncatedLogs,
		c.CollectionSize,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) observe(collection, op string, d time.Duration, err error) {
	c.Operations.WithLabelValues(collection, op, status(err)).Inc()
	c.OperationLatency.WithLabelValues(collection, op).Observe(d.Seconds())
}

// RecordUpsert implements vecdb.MetricsCollector.
func (c *Collector) RecordUpsert(collection string, d time.Duration, err error) {
	c.observe(collection, "upsert", d, err)
}

// RecordDelete implements vecdb.MetricsCollector.
func (c *Collector) RecordDelete(collection string, d time.Duration, err error) {
	c.observe(collection, "delete", d, err)
}

// RecordQuery implements vecdb.MetricsCollector.
func (c *Collector) RecordQuery(collection string, k int, d time.Duration, err error) {
	c.observe(collection, "query", d, err)
	c.QueryK.WithLabelValues(collection).Observe(float64(k))
}

// RecordSnapshot implements vecdb.MetricsCollector.
func (c *Collector) RecordSnapshot(collection string, size int64, d time.Duration, err error) {
	c.observe(collection, "snapshot", d, err)
	if err == nil {
		c.SnapshotBytes.WithLabelValues(collection).Set(float64(size))
	}
}

// RecordRecovery implements vecdb.MetricsCollector.
func (c *Collector) RecordRecovery(collection string, replayed int, truncated bool, _ time.Duration) {
	c.RecoveredEntries.WithLabelValues(collection).Add(float64(replayed))
	if truncated {
		c.TruncatedLogs.WithLabelValues(collection).Inc()
	}
}

// SetCollectionSize implements vecdb.MetricsCollector. Dropped collections
// lose their series.
func (c *Collector) SetCollectionSize(collection string, count int) {
	if count < 0 {
		c.CollectionSize.DeleteLabelValues(collection)
		c.SnapshotBytes.DeleteLabelValues(collection)
		return
	}
	c.CollectionSize.WithLabelValues(collection).Set(float64(count))
}

// status maps an operation error to a low-cardinality label.
func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, vecdb.ErrNotFound):
		return "not_found"
	case errors.Is(err, vecdb.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, &vecdb.ErrDimensionMismatch{}), errors.Is(err, vecdb.ErrZeroVector), errors.Is(err, vecdb.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, vecdb.ErrCancelled):
		return "cancelled"
	case errors.Is(err, vecdb.ErrResourceExhausted):
		return "exhausted"
	default:
		return "error"
	}
}
