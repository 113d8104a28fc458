package vecdb

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; see
// observability/prometheus for a Prometheus implementation.
type MetricsCollector interface {
	// RecordUpsert is called after each upsert.
	RecordUpsert(collection string, duration time.Duration, err error)

	// RecordDelete is called after each delete.
	RecordDelete(collection string, duration time.Duration, err error)

	// RecordQuery is called after each query. k is the number of neighbors requested.
	RecordQuery(collection string, k int, duration time.Duration, err error)

	// RecordSnapshot is called after each snapshot with the stored size in bytes.
	RecordSnapshot(collection string, size int64, duration time.Duration, err error)

	// RecordRecovery is called once per collection opened from disk.
	RecordRecovery(collection string, replayed int, truncated bool, duration time.Duration)

	// SetCollectionSize reports the live record count after a mutation. A
	// negative count means the collection was dropped.
	SetCollectionSize(collection string, count int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordUpsert(string, time.Duration, error)          {}
func (NoopMetricsCollector) RecordDelete(string, time.Duration, error)          {}
func (NoopMetricsCollector) RecordQuery(string, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordSnapshot(string, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordRecovery(string, int, bool, time.Duration)    {}
func (NoopMetricsCollector) SetCollectionSize(string, int)                      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	UpsertCount      atomic.Int64
	UpsertErrors     atomic.Int64
	UpsertTotalNanos atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	QueryCount       atomic.Int64
	QueryErrors      atomic.Int64
	QueryTotalNanos  atomic.Int64
	SnapshotCount    atomic.Int64
	SnapshotErrors   atomic.Int64
	SnapshotBytes    atomic.Int64
	RecoveredEntries atomic.Int64
	TruncatedLogs    atomic.Int64
}

// RecordUpsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpsert(_ string, duration time.Duration, err error) {
	b.UpsertCount.Add(1)
	b.UpsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.UpsertErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ string, _ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(_ string, _ int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(_ string, size int64, _ time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
		return
	}
	b.SnapshotBytes.Add(size)
}

// RecordRecovery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRecovery(_ string, replayed int, truncated bool, _ time.Duration) {
	b.RecoveredEntries.Add(int64(replayed))
	if truncated {
		b.TruncatedLogs.Add(1)
	}
}

// SetCollectionSize implements MetricsCollector.
func (b *BasicMetricsCollector) SetCollectionSize(string, int) {}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		UpsertCount:      b.UpsertCount.Load(),
		UpsertErrors:     b.UpsertErrors.Load(),
		UpsertAvgNanos:   avg(b.UpsertTotalNanos.Load(), b.UpsertCount.Load()),
		DeleteCount:      b.DeleteCount.Load(),
		DeleteErrors:     b.DeleteErrors.Load(),
		QueryCount:       b.QueryCount.Load(),
		QueryErrors:      b.QueryErrors.Load(),
		QueryAvgNanos:    avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		SnapshotCount:    b.SnapshotCount.Load(),
		SnapshotErrors:   b.SnapshotErrors.Load(),
		SnapshotBytes:    b.SnapshotBytes.Load(),
		RecoveredEntries: b.RecoveredEntries.Load(),
		TruncatedLogs:    b.TruncatedLogs.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	UpsertCount      int64
	UpsertErrors     int64
	UpsertAvgNanos   int64
	DeleteCount      int64
	DeleteErrors     int64
	QueryCount       int64
	QueryErrors      int64
	QueryAvgNanos    int64
	SnapshotCount    int64
	SnapshotErrors   int64
	SnapshotBytes    int64
	RecoveredEntries int64
	TruncatedLogs    int64
}
