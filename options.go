package vecdb

import (
	"log/slog"
	"time"

	"github.com/hupe1980/vecdb/blobstore"
	"github.com/hupe1980/vecdb/index/hnsw"
	"github.com/hupe1980/vecdb/snapshot"
)

// Defaults applied by Open.
const (
	DefaultSnapshotEvery  = 10_000
	DefaultSnapshotRetain = snapshot.DefaultRetain
)

// ResourceLimits bounds memory and background work across all collections.
// Zero values mean unlimited.
type ResourceLimits struct {
	// MemoryLimitBytes caps the vector bytes held by all collections.
	MemoryLimitBytes int64
	// MaxBackgroundJobs caps concurrent snapshots and archive uploads.
	MaxBackgroundJobs int
	// IOBytesPerSec throttles snapshot and archive IO.
	IOBytesPerSec int
}

// WALOptions controls retries of failed WAL appends.
type WALOptions struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type options struct {
	persistent         bool
	telemetry          bool
	allowReset         bool
	workers            int
	logger             *Logger
	metricsCollector   MetricsCollector
	snapshotEvery      uint64
	snapshotInterval   time.Duration
	compression        snapshot.Compression
	snapshotRetain     int
	wal                WALOptions
	limits             ResourceLimits
	archive            *blobstore.Archive
	restoreFromArchive bool
	tombstoneRetention time.Duration
	now                func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithPersistence turns the WAL and snapshots on or off. With persistence off
// the storage root is never touched and all data is lost on Close.
func WithPersistence(enabled bool) Option {
	return func(o *options) {
		o.persistent = enabled
	}
}

// WithTelemetry turns metrics reporting on or off. When off, the configured
// MetricsCollector is never called.
func WithTelemetry(enabled bool) Option {
	return func(o *options) {
		o.telemetry = enabled
	}
}

// WithAllowReset enables DB.Reset.
func WithAllowReset(enabled bool) Option {
	return func(o *options) {
		o.allowReset = enabled
	}
}

// WithWorkers sets the size of each collection's request worker pool. n <= 0 uses
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := vecdb.NewJSONLogger(slog.LevelInfo)
//	db, _ := vecdb.Open(ctx, "./data", vecdb.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vecdb.BasicMetricsCollector{}
//	db, _ := vecdb.Open(ctx, "./data", vecdb.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Upserts: %d, Avg latency: %dns\n", stats.UpsertCount, stats.UpsertAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithSnapshotEvery takes a background snapshot of a collection after n WAL
// entries. Zero disables count-based snapshots.
func WithSnapshotEvery(n uint64) Option {
	return func(o *options) {
		o.snapshotEvery = n
	}
}

// WithSnapshotInterval takes periodic background snapshots of every
// collection with unsnapshotted writes. Zero disables it.
func WithSnapshotInterval(d time.Duration) Option {
	return func(o *options) {
		o.snapshotInterval = d
	}
}

// WithSnapshotCompression selects the snapshot body codec.
func WithSnapshotCompression(c snapshot.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithSnapshotRetain sets how many snapshot files are kept per collection.
func WithSnapshotRetain(n int) Option {
	return func(o *options) {
		o.snapshotRetain = n
	}
}

// WithWALOptions configures retries of failed WAL appends. Zero fields keep
// the defaults.
func WithWALOptions(w WALOptions) Option {
	return func(o *options) {
		o.wal = w
	}
}

// WithResourceLimits bounds memory, background jobs and snapshot IO.
func WithResourceLimits(l ResourceLimits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithArchive uploads every durable snapshot to archive. When restore is true,
// collections found in the archive but missing under the storage root are
// restored at Open.
func WithArchive(archive *blobstore.Archive, restore bool) Option {
	return func(o *options) {
		o.archive = archive
		o.restoreFromArchive = restore
	}
}

// WithTombstoneRetention keeps deleted records for d before Compact purges them.
func WithTombstoneRetention(d time.Duration) Option {
	return func(o *options) {
		o.tombstoneRetention = d
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// DefaultOptions returns the options used by Open before any Option is applied.
func DefaultOptions() []Option {
	return []Option{
		WithPersistence(true),
		WithTelemetry(true),
		WithAllowReset(false),
		WithSnapshotEvery(DefaultSnapshotEvery),
		WithSnapshotCompression(snapshot.CompressionLZ4),
		WithSnapshotRetain(DefaultSnapshotRetain),
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		now:              time.Now,
	}
	for _, fn := range append(DefaultOptions(), optFns...) {
		if fn != nil {
			fn(&o)
		}
	}
	if !o.telemetry {
		o.metricsCollector = NoopMetricsCollector{}
	}
	return o
}

type collectionOptions struct {
	m              int
	efConstruction int
	ef             int
	seed           uint64
}

// CollectionOption configures the index of a new collection.
type CollectionOption func(*collectionOptions)

// WithM sets the maximum number of graph neighbors per node on upper layers.
// Layer 0 allows twice as many.
func WithM(m int) CollectionOption {
	return func(o *collectionOptions) {
		o.m = m
	}
}

// WithEFConstruction sets the candidate list size used while inserting.
func WithEFConstruction(ef int) CollectionOption {
	return func(o *collectionOptions) {
		o.efConstruction = ef
	}
}

// WithEF sets the default search width. Query can override it per call.
func WithEF(ef int) CollectionOption {
	return func(o *collectionOptions) {
		o.ef = ef
	}
}

// WithSeed seeds the level generator of the graph. Equal seeds and insertion
// orders build identical graphs.
func WithSeed(seed uint64) CollectionOption {
	return func(o *collectionOptions) {
		o.seed = seed
	}
}

func applyCollectionOptions(optFns []CollectionOption) collectionOptions {
	o := collectionOptions{
		m:              hnsw.DefaultM,
		efConstruction: hnsw.DefaultEFConstruction,
		ef:             hnsw.DefaultEF,
		seed:           hnsw.DefaultSeed,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
