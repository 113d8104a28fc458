package vecdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/internal/collection"
	"github.com/hupe1980/vecdb/internal/fs"
	"github.com/hupe1980/vecdb/internal/resource"
	"github.com/hupe1980/vecdb/metadata"
	"github.com/hupe1980/vecdb/snapshot"
)

// Metric selects the distance function of a collection.
type Metric = distance.Metric

// Supported metrics.
const (
	MetricEuclidean = distance.MetricEuclidean
	MetricCosine    = distance.MetricCosine
	MetricDot       = distance.MetricDot
)

// Record is a stored vector with its metadata.
type Record struct {
	ID       string
	Vector   []float32
	Metadata metadata.Document
}

// QueryResult is a single nearest-neighbor hit.
type QueryResult struct {
	ID       string
	Distance float32
	Metadata metadata.Document
	// Vector is only set with QueryOptions.IncludeVectors.
	Vector []float32
}

// QueryOptions contains options for Query.
type QueryOptions struct {
	// EF is the search width. Zero uses the collection default.
	EF int
	// Filter restricts results to records whose metadata matches every filter.
	Filter *metadata.FilterSet
	// IncludeVectors copies the stored vectors into the results.
	IncludeVectors bool
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	Name            string
	Dimension       int
	Metric          Metric
	M               int
	EFConstruction  int
	EF              int
	CreatedAt       time.Time
	Count           int
	Tombstones      int
	LastSeq         uint64
	LastSnapshotSeq uint64
	WALBytes        int64
	IndexNodes      int
	IndexMaxLevel   int
}

// SnapshotInfo describes a durable snapshot.
type SnapshotInfo struct {
	Collection string
	Seq        uint64
	Path       string
	Size       int64
}

// DB is an embedded vector database holding named collections.
// All methods are safe for concurrent use.
type DB struct {
	root      string
	opts      options
	logger    *Logger
	metrics   MetricsCollector
	resources *resource.Controller

	mu          sync.RWMutex
	collections map[string]*collection.Collection

	archiveMu sync.Mutex
	archived  map[string]uint64
	dropped   map[*collection.Collection]struct{}
	bg        sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open opens the database stored under root, recovering every collection
// found there. With persistence off, root is ignored and the database starts empty.
//
// Example:
//
//	db, err := vecdb.Open(ctx, "./data", vecdb.WithLogger(vecdb.NewTextLogger(slog.LevelInfo)))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(ctx context.Context, root string, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)
	if opts.persistent && root == "" {
		return nil, fmt.Errorf("%w: storage root is required with persistence", ErrInvalidArgument)
	}

	db := &DB{
		root:    root,
		opts:    opts,
		logger:  opts.logger,
		metrics: opts.metricsCollector,
		resources: resource.NewController(resource.Config{
			MemoryLimitBytes:  opts.limits.MemoryLimitBytes,
			MaxBackgroundJobs: int64(opts.limits.MaxBackgroundJobs),
			IOBytesPerSec:     int64(opts.limits.IOBytesPerSec),
		}),
		collections: make(map[string]*collection.Collection),
		archived:    make(map[string]uint64),
		dropped:     make(map[*collection.Collection]struct{}),
	}

	if opts.persistent {
		if err := db.recover(ctx); err != nil {
			return nil, translateError(err)
		}
	}

	db.logger.InfoContext(ctx, "database opened",
		"root", root,
		"persistent", opts.persistent,
		"collections", len(db.collections),
	)
	return db, nil
}

func (db *DB) recover(ctx context.Context) error {
	if err := fs.Default.MkdirAll(db.root, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}

	if db.opts.archive != nil && db.opts.restoreFromArchive {
		if err := db.restoreMissing(ctx); err != nil {
			return err
		}
	}

	entries, err := fs.Default.ReadDir(db.root)
	if err != nil {
		return fmt.Errorf("read storage root: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		ok, err := fs.Exists(fs.Default, filepath.Join(db.root, name, collection.ConfigFile))
		if err != nil {
			return err
		}
		if !ok {
			db.logger.WarnContext(ctx, "skipping directory without collection descriptor", "dir", name)
			continue
		}

		g.Go(func() error {
			c, rec, err := collection.Open(ctx, db.collectionOptions(name))
			if err != nil {
				return fmt.Errorf("open collection %s: %w", name, err)
			}
			db.reportRecovery(ctx, c.Name(), rec)

			mu.Lock()
			db.collections[c.Name()] = c
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, c := range db.collections {
			_ = c.Close()
		}
		return err
	}
	return nil
}

func (db *DB) reportRecovery(ctx context.Context, name string, rec collection.Recovery) {
	if rec.Truncated {
		db.logger.LogCorruptLog(ctx, name, rec.LastSeq, rec.TruncatedBytes, rec.Reason)
	}
	db.logger.LogRecovery(ctx, name, rec.SnapshotSeq, rec.Replayed, rec.Duration)
	db.metrics.RecordRecovery(name, rec.Replayed, rec.Truncated, rec.Duration)
}

func (db *DB) restoreMissing(ctx context.Context) error {
	names, err := db.opts.archive.Collections(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if collection.ValidateName(name) != nil {
			continue
		}
		dir := filepath.Join(db.root, name)
		ok, err := fs.Exists(fs.Default, filepath.Join(dir, collection.ConfigFile))
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		snap, err := db.opts.archive.Restore(ctx, name, dir)
		if err != nil {
			return fmt.Errorf("restore collection %s: %w", name, err)
		}
		db.logger.InfoContext(ctx, "collection restored from archive", "collection", name, "snapshot", snap)
	}
	return nil
}

func (db *DB) collectionOptions(name string) collection.Options {
	opts := collection.Options{
		Persistent:        db.opts.persistent,
		SnapshotEvery:     db.opts.snapshotEvery,
		SnapshotInterval:  db.opts.snapshotInterval,
		Compression:       db.opts.compression,
		SnapshotRetain:    db.opts.snapshotRetain,
		WALMaxRetries:     db.opts.wal.MaxRetries,
		WALInitialBackoff: db.opts.wal.InitialBackoff,
		WALMaxBackoff:     db.opts.wal.MaxBackoff,
		Workers:           db.opts.workers,
		Resources:         db.resources,
		Logger:            db.logger.WithCollection(name).Logger,
		OnSnapshot:        db.onSnapshot,
		Now:               db.opts.now,
	}
	if db.opts.persistent {
		opts.Dir = filepath.Join(db.root, name)
	}
	return opts
}

func (db *DB) onSnapshot(ctx context.Context, c *collection.Collection, info snapshot.Info, took time.Duration) {
	db.metrics.RecordSnapshot(c.Name(), info.Size, took, nil)
	db.logger.LogSnapshot(ctx, c.Name(), info.Seq, info.Size, nil)
	if db.opts.archive != nil {
		db.archiveSnapshot(c, info)
	}
}

// archiveSnapshot uploads info in the background. Uploads run one at a time
// so LATEST never moves backwards.
func (db *DB) archiveSnapshot(c *collection.Collection, info snapshot.Info) {
	db.bg.Add(1)
	go func() {
		defer db.bg.Done()

		ctx := context.Background()
		if err := db.resources.AcquireJob(ctx); err != nil {
			return
		}
		defer db.resources.ReleaseJob()

		db.archiveMu.Lock()
		defer db.archiveMu.Unlock()

		name := c.Name()
		if _, gone := db.dropped[c]; gone {
			return
		}
		if last, ok := db.archived[name]; ok && info.Seq <= last {
			return
		}

		start := time.Now()
		err := db.opts.archive.Upload(ctx, name, filepath.Join(c.Dir(), collection.ConfigFile), info.Path)
		if err != nil {
			db.logger.ErrorContext(ctx, "snapshot archive upload failed",
				"collection", name,
				"seq", info.Seq,
				"error", err,
			)
			return
		}
		db.archived[name] = info.Seq
		db.logger.InfoContext(ctx, "snapshot archived",
			"collection", name,
			"seq", info.Seq,
			"duration", time.Since(start),
		)
	}()
}

type result[T any] struct {
	val T
	err error
}

// run executes fn on the worker pool of c. Mutations always run to completion
// once queued; reads are abandoned when ctx is cancelled. A deadline still
// waits for the read, which then returns its best results so far.
func run[T any](ctx context.Context, db *DB, c *collection.Collection, abandon bool, fn func() (T, error)) (T, error) {
	var zero T
	if db.closed.Load() {
		return zero, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return zero, translateError(err)
	}

	done := make(chan result[T], 1)
	if err := c.Submit(ctx, func() {
		v, err := fn()
		done <- result[T]{val: v, err: err}
	}); err != nil {
		return zero, translateError(err)
	}

	if !abandon {
		r := <-done
		return r.val, r.err
	}

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r := <-done
			return r.val, r.err
		}
		return zero, translateError(ctx.Err())
	}
}

func (db *DB) get(name string) (*collection.Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed.Load() {
		return nil, ErrClosed
	}
	c, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: collection %q", ErrNotFound, name)
	}
	return c, nil
}

// locked runs fn with the collection map write-locked. Catalog changes do not
// go through any collection's worker pool.
func (db *DB) locked(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed.Load() {
		return ErrClosed
	}
	return fn()
}

// CreateCollection creates an empty collection for vectors of dimension dim.
// It returns ErrAlreadyExists when the name is taken.
func (db *DB) CreateCollection(ctx context.Context, name string, dim int, metric Metric, optFns ...CollectionOption) error {
	co := applyCollectionOptions(optFns)
	cfg := collection.Config{
		Name:           name,
		Dimension:      dim,
		Metric:         metric,
		M:              co.m,
		EFConstruction: co.efConstruction,
		EF:             co.ef,
		Seed:           co.seed,
		CreatedAt:      db.opts.now().UTC(),
	}

	err := db.locked(ctx, func() error {
		if _, ok := db.collections[name]; ok {
			return fmt.Errorf("%w: collection %q", ErrAlreadyExists, name)
		}
		c, err := collection.Create(cfg, db.collectionOptions(name))
		if err != nil {
			return err
		}
		db.collections[name] = c
		return nil
	})
	if err != nil {
		return translateError(err)
	}

	db.logger.InfoContext(ctx, "collection created",
		"collection", name,
		"dimension", dim,
		"metric", metric.String(),
	)
	db.metrics.SetCollectionSize(name, 0)
	return nil
}

// DropCollection closes the collection and removes its data, including any
// archived snapshots.
func (db *DB) DropCollection(ctx context.Context, name string) error {
	var c *collection.Collection
	err := db.locked(ctx, func() error {
		var ok bool
		if c, ok = db.collections[name]; !ok {
			return fmt.Errorf("%w: collection %q", ErrNotFound, name)
		}
		delete(db.collections, name)
		return nil
	})
	if err == nil {
		// Queued requests of c drain before its files are removed.
		err = db.destroy(ctx, c)
	}
	if err != nil {
		return translateError(err)
	}

	db.logger.InfoContext(ctx, "collection dropped", "collection", name)
	db.metrics.SetCollectionSize(name, -1)
	return nil
}

func (db *DB) destroy(ctx context.Context, c *collection.Collection) error {
	err := c.Destroy()
	if db.opts.archive != nil {
		db.archiveMu.Lock()
		db.dropped[c] = struct{}{}
		delete(db.archived, c.Name())
		if rerr := db.opts.archive.Remove(ctx, c.Name()); rerr != nil {
			db.logger.ErrorContext(ctx, "archive removal failed", "collection", c.Name(), "error", rerr)
		}
		db.archiveMu.Unlock()
	}
	return err
}

// ListCollections returns the collection names in ascending order.
func (db *DB) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Collection returns a description of the named collection.
func (db *DB) Collection(name string) (CollectionInfo, error) {
	c, err := db.get(name)
	if err != nil {
		return CollectionInfo{}, err
	}

	info := c.Info()
	return CollectionInfo{
		Name:            info.Name,
		Dimension:       info.Dimension,
		Metric:          info.Metric,
		M:               info.M,
		EFConstruction:  info.EFConstruction,
		EF:              info.Config.EF,
		CreatedAt:       info.CreatedAt,
		Count:           info.Count,
		Tombstones:      info.Tombstones,
		LastSeq:         info.LastSeq,
		LastSnapshotSeq: info.LastSnapshotSeq,
		WALBytes:        info.WALBytes,
		IndexNodes:      info.Index.Nodes,
		IndexMaxLevel:   info.Index.MaxLevel,
	}, nil
}

// Upsert inserts or replaces the record id in collection and returns its id.
// An empty id is replaced by a generated UUID. The record is durable when
// Upsert returns without error.
func (db *DB) Upsert(ctx context.Context, coll, id string, vector []float32, meta metadata.Document) (string, error) {
	start := time.Now()
	if id == "" {
		id = uuid.NewString()
	}

	res, err := db.upsert(ctx, coll, id, vector, meta)
	err = translateError(err)

	db.metrics.RecordUpsert(coll, time.Since(start), err)
	db.logger.LogUpsert(ctx, coll, id, res.Seq, err)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (db *DB) upsert(ctx context.Context, coll, id string, vector []float32, meta metadata.Document) (collection.UpsertResult, error) {
	c, err := db.get(coll)
	if err != nil {
		return collection.UpsertResult{}, err
	}
	return run(ctx, db, c, false, func() (collection.UpsertResult, error) {
		res, err := c.Upsert(ctx, id, vector, meta)
		if err == nil && res.Created {
			db.metrics.SetCollectionSize(coll, c.Count())
		}
		return res, err
	})
}

// Delete removes the record id from collection. It returns ErrNotFound when
// the record does not exist.
func (db *DB) Delete(ctx context.Context, coll, id string) error {
	start := time.Now()

	c, err := db.get(coll)
	if err == nil {
		_, err = run(ctx, db, c, false, func() (uint64, error) {
			seq, err := c.Delete(ctx, id)
			if err == nil {
				db.metrics.SetCollectionSize(coll, c.Count())
			}
			return seq, err
		})
	}
	err = translateError(err)

	db.metrics.RecordDelete(coll, time.Since(start), err)
	db.logger.LogDelete(ctx, coll, id, err)
	return err
}

// Query returns up to k records of collection nearest to vector, ascending by
// distance.
//
// Example:
//
//	results, err := db.Query(ctx, "docs", q, 10, func(o *vecdb.QueryOptions) {
//	    o.Filter = metadata.NewFilterSet(metadata.Eq("lang", metadata.String("en")))
//	})
func (db *DB) Query(ctx context.Context, coll string, vector []float32, k int, optFns ...func(o *QueryOptions)) ([]QueryResult, error) {
	start := time.Now()

	var qo QueryOptions
	for _, fn := range optFns {
		fn(&qo)
	}

	results, err := db.query(ctx, coll, collection.Query{
		Vector:        vector,
		K:             k,
		EF:            qo.EF,
		Filter:        qo.Filter,
		IncludeVector: qo.IncludeVectors,
	})
	err = translateError(err)

	db.metrics.RecordQuery(coll, k, time.Since(start), err)
	db.logger.LogQuery(ctx, coll, k, len(results), err)
	return results, err
}

func (db *DB) query(ctx context.Context, coll string, q collection.Query) ([]QueryResult, error) {
	c, err := db.get(coll)
	if err != nil {
		return nil, err
	}
	hits, err := run(ctx, db, c, true, func() ([]collection.Result, error) {
		return c.Search(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	out := make([]QueryResult, len(hits))
	for i, h := range hits {
		out[i] = QueryResult{ID: h.ID, Distance: h.Distance, Metadata: h.Metadata, Vector: h.Vector}
	}
	return out, nil
}

// GetRecord returns a copy of the live record id in collection.
func (db *DB) GetRecord(ctx context.Context, coll, id string) (Record, error) {
	c, err := db.get(coll)
	if err != nil {
		return Record{}, err
	}
	rec, err := run(ctx, db, c, true, func() (Record, error) {
		r, err := c.Get(id)
		if err != nil {
			return Record{}, err
		}
		return Record{ID: r.ID, Vector: slices.Clone(r.Vector), Metadata: r.Metadata.Clone()}, nil
	})
	return rec, translateError(err)
}

// Count returns the number of live records in collection.
func (db *DB) Count(ctx context.Context, coll string) (int, error) {
	c, err := db.get(coll)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, translateError(err)
	}
	return c.Count(), nil
}

// Snapshot makes the current state of collection durable in a snapshot and
// truncates the WAL it covers. With persistence off it returns a zero SnapshotInfo.
func (db *DB) Snapshot(ctx context.Context, coll string) (SnapshotInfo, error) {
	c, err := db.get(coll)
	if err != nil {
		return SnapshotInfo{}, err
	}

	info, err := run(ctx, db, c, false, func() (snapshot.Info, error) {
		if err := db.resources.AcquireJob(ctx); err != nil {
			return snapshot.Info{}, err
		}
		defer db.resources.ReleaseJob()
		return c.Snapshot(ctx)
	})
	if err != nil {
		err = translateError(err)
		db.metrics.RecordSnapshot(coll, 0, 0, err)
		db.logger.LogSnapshot(ctx, coll, 0, 0, err)
		return SnapshotInfo{}, err
	}
	return SnapshotInfo{Collection: coll, Seq: info.Seq, Path: info.Path, Size: info.Size}, nil
}

// Compact purges deleted records older than the tombstone retention from
// collection and returns how many were removed.
func (db *DB) Compact(ctx context.Context, coll string) (int, error) {
	c, err := db.get(coll)
	if err != nil {
		return 0, err
	}
	n, err := run(ctx, db, c, false, func() (int, error) {
		return c.Compact(ctx, db.opts.tombstoneRetention)
	})
	return n, translateError(err)
}

// Reset drops every collection. It returns ErrResetDisabled unless the
// database was opened with WithAllowReset(true).
func (db *DB) Reset(ctx context.Context) error {
	if !db.opts.allowReset {
		return ErrResetDisabled
	}

	var dropped map[string]*collection.Collection
	err := db.locked(ctx, func() error {
		dropped = db.collections
		db.collections = make(map[string]*collection.Collection)
		return nil
	})
	if err != nil {
		return translateError(err)
	}

	var errs []error
	for name, c := range dropped {
		if err := db.destroy(ctx, c); err != nil {
			errs = append(errs, err)
		}
		db.metrics.SetCollectionSize(name, -1)
	}
	if err := errors.Join(errs...); err != nil {
		return translateError(err)
	}

	db.logger.WarnContext(ctx, "database reset")
	return nil
}

// Close waits for queued requests, closes every collection and waits for
// pending archive uploads. It is safe to call more than once.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	db.closeOnce.Do(func() {
		db.closed.Store(true)

		db.mu.Lock()
		var errs []error
		for _, c := range db.collections {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		db.collections = make(map[string]*collection.Collection)
		db.mu.Unlock()

		db.bg.Wait()
		db.closeErr = translateError(errors.Join(errs...))
		db.logger.Info("database closed", "root", db.root)
	})
	return db.closeErr
}
