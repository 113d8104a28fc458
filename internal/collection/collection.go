package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/index/hnsw"
	"github.com/hupe1980/vecdb/internal/fs"
	"github.com/hupe1980/vecdb/internal/pool"
	"github.com/hupe1980/vecdb/internal/resource"
	"github.com/hupe1980/vecdb/metadata"
	"github.com/hupe1980/vecdb/snapshot"
	"github.com/hupe1980/vecdb/store"
	"github.com/hupe1980/vecdb/wal"
)

// WALFile is the name of the log inside a collection directory.
const WALFile = "wal.log"

var (
	// ErrClosed is returned for operations on a closed collection.
	ErrClosed = errors.New("collection: closed")

	// ErrInvalidArgument reports an unusable request parameter.
	ErrInvalidArgument = errors.New("collection: invalid argument")

	// ErrExists is returned by Create when the directory already holds a collection.
	ErrExists = errors.New("collection: already exists")
)

// State is the lifecycle state of a collection.
type State int32

const (
	StateRecovering State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRecovering:
		return "recovering"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// Options configures how a collection is stored and maintained.
type Options struct {
	// Dir is the collection directory. Unused when Persistent is false.
	Dir        string
	Persistent bool
	FileSystem fs.FileSystem

	// SnapshotEvery triggers a background snapshot after that many WAL entries. Zero disables it.
	SnapshotEvery uint64
	// SnapshotInterval triggers periodic snapshots. Zero disables it.
	SnapshotInterval time.Duration
	Compression      snapshot.Compression
	// SnapshotRetain is the number of snapshot files kept on disk.
	SnapshotRetain int

	WALMaxRetries     uint64
	WALInitialBackoff time.Duration
	WALMaxBackoff     time.Duration

	// Workers is the size of the collection's request pool. n <= 0 uses GOMAXPROCS.
	Workers int

	Resources *resource.Controller
	Logger    *slog.Logger

	// OnSnapshot runs after a snapshot became durable, outside any collection lock.
	// took covers capture, compression and the durable write.
	OnSnapshot func(ctx context.Context, c *Collection, info snapshot.Info, took time.Duration)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.FileSystem == nil {
		o.FileSystem = fs.Default
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.SnapshotRetain < 1 {
		o.SnapshotRetain = snapshot.DefaultRetain
	}
	if o.WALMaxRetries == 0 {
		o.WALMaxRetries = wal.DefaultOptions().MaxRetries
	}
	if o.WALInitialBackoff == 0 {
		o.WALInitialBackoff = wal.DefaultOptions().InitialBackoff
	}
	if o.WALMaxBackoff == 0 {
		o.WALMaxBackoff = wal.DefaultOptions().MaxBackoff
	}
}

// Collection is a named set of records sharing a dimension and metric.
type Collection struct {
	cfg  Config
	opts Options

	mu    sync.RWMutex
	store *store.Store
	index *hnsw.HNSW
	wal   *wal.WAL
	snaps *snapshot.Manager

	workers *pool.Workers

	state       atomic.Int32
	sinceSnap   atomic.Uint64
	lastSnapSeq atomic.Uint64
	snapRunning atomic.Bool
	snapMu      sync.Mutex
	reservedMem atomic.Int64
	stop        chan struct{}
	bg          sync.WaitGroup
	closeOnce   sync.Once
	closeErr    error
}

func newCollection(cfg Config, opts Options) (*Collection, error) {
	idx, err := hnsw.New(cfg.indexOptions)
	if err != nil {
		return nil, err
	}
	c := &Collection{
		cfg:   cfg,
		opts:  opts,
		store: store.New(cfg.Dimension),
		index: idx,
		stop:  make(chan struct{}),
	}
	c.state.Store(int32(StateRecovering))
	if opts.Persistent {
		c.snaps = snapshot.NewManager(opts.Dir, func(o *snapshot.Options) {
			o.FileSystem = opts.FileSystem
			o.Compression = opts.Compression
			o.Retain = opts.SnapshotRetain
			o.Resources = opts.Resources
			o.Logger = opts.Logger
		})
	}
	return c, nil
}

func (c *Collection) openWAL() error {
	w, err := wal.Open(filepath.Join(c.opts.Dir, WALFile), func(o *wal.Options) {
		o.FileSystem = c.opts.FileSystem
		o.MaxRetries = c.opts.WALMaxRetries
		o.InitialBackoff = c.opts.WALInitialBackoff
		o.MaxBackoff = c.opts.WALMaxBackoff
		o.Logger = c.opts.Logger
	})
	if err != nil {
		return err
	}
	c.wal = w
	return nil
}

// Create makes a new, empty collection. With persistence on, the directory is
// created and the descriptor written before the collection is returned.
func Create(cfg Config, opts Options) (*Collection, error) {
	opts.setDefaults()
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c, err := newCollection(cfg, opts)
	if err != nil {
		return nil, err
	}

	if opts.Persistent {
		cfgPath := filepath.Join(opts.Dir, ConfigFile)
		exists, err := fs.Exists(opts.FileSystem, cfgPath)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrExists, opts.Dir)
		}
		// Without a descriptor the directory is the remains of an interrupted
		// drop. Its WAL and snapshots must not leak into the new collection.
		if err := clearStale(opts); err != nil {
			return nil, err
		}
		if err := opts.FileSystem.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("collection: create dir: %w", err)
		}
		if err := c.openWAL(); err != nil {
			return nil, err
		}
		if err := SaveConfig(opts.FileSystem, cfgPath, cfg); err != nil {
			_ = c.wal.Close()
			return nil, fmt.Errorf("collection: save config: %w", err)
		}
		if err := fs.SyncDir(opts.FileSystem, filepath.Dir(opts.Dir)); err != nil {
			_ = c.wal.Close()
			return nil, fmt.Errorf("collection: sync parent dir: %w", err)
		}
	}

	c.ready()
	return c, nil
}

func clearStale(opts Options) error {
	entries, err := opts.FileSystem.ReadDir(opts.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("collection: read dir: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	opts.Logger.Warn("removing leftover files of a dropped collection", "dir", opts.Dir, "files", len(entries))
	if err := opts.FileSystem.RemoveAll(opts.Dir); err != nil {
		return fmt.Errorf("collection: remove stale dir: %w", err)
	}
	return nil
}

func (c *Collection) ready() {
	c.workers = pool.NewWorkers(c.opts.Workers)
	c.state.Store(int32(StateReady))
	if c.opts.Persistent && c.opts.SnapshotInterval > 0 {
		c.bg.Add(1)
		go c.snapshotLoop(c.opts.SnapshotInterval)
	}
}

// Config returns the collection descriptor.
func (c *Collection) Config() Config { return c.cfg }

// Name returns the collection name.
func (c *Collection) Name() string { return c.cfg.Name }

// Dir returns the collection directory.
func (c *Collection) Dir() string { return c.opts.Dir }

// State returns the lifecycle state.
func (c *Collection) State() State { return State(c.state.Load()) }

// Submit runs job on the collection's worker pool. Jobs of one collection
// never wait behind jobs of another.
func (c *Collection) Submit(ctx context.Context, job func()) error {
	if c.workers == nil {
		return fmt.Errorf("%w: %s is %s", ErrClosed, c.cfg.Name, c.State())
	}
	if err := c.workers.Submit(ctx, job); err != nil {
		if errors.Is(err, pool.ErrClosed) {
			return fmt.Errorf("%w: %s", ErrClosed, c.cfg.Name)
		}
		return err
	}
	return nil
}

// Pending returns the number of queued or running requests.
func (c *Collection) Pending() int64 {
	if c.workers == nil {
		return 0
	}
	return c.workers.Pending()
}

func (c *Collection) checkReady() error {
	if c.State() != StateReady {
		return fmt.Errorf("%w: %s is %s", ErrClosed, c.cfg.Name, c.State())
	}
	return nil
}

func (c *Collection) recordBytes() int64 {
	return int64(c.cfg.Dimension) * 4
}

// UpsertResult reports the outcome of an upsert.
type UpsertResult struct {
	Seq     uint64
	Created bool
}

// Upsert inserts the record or replaces the record with the same id.
func (c *Collection) Upsert(ctx context.Context, id string, vec []float32, meta metadata.Document) (UpsertResult, error) {
	if id == "" {
		return UpsertResult{}, fmt.Errorf("%w: empty id", ErrInvalidArgument)
	}
	if err := distance.Validate(vec, c.cfg.Dimension, c.cfg.Metric); err != nil {
		return UpsertResult{}, err
	}
	if err := meta.Validate(); err != nil {
		return UpsertResult{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := ctx.Err(); err != nil {
		return UpsertResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkReady(); err != nil {
		return UpsertResult{}, err
	}

	existing, known := c.store.GetAny(id)
	if !known {
		if err := c.opts.Resources.ReserveMemory(c.recordBytes()); err != nil {
			return UpsertResult{}, err
		}
		c.reservedMem.Add(c.recordBytes())
	}

	entry := &wal.Entry{
		Kind:       wal.KindUpsert,
		Timestamp:  c.opts.Now().UnixNano(),
		Collection: c.cfg.Name,
		ID:         id,
		Vector:     vec,
		Metadata:   meta,
	}
	seq, err := c.append(ctx, entry)
	if err != nil {
		if !known {
			c.opts.Resources.ReleaseMemory(c.recordBytes())
			c.reservedMem.Add(-c.recordBytes())
		}
		return UpsertResult{}, err
	}

	if err := c.applyUpsert(id, vec, meta); err != nil {
		return UpsertResult{}, err
	}
	c.afterWrite()

	return UpsertResult{Seq: seq, Created: !known || existing.Deleted}, nil
}

// Delete tombstones the record with id.
func (c *Collection) Delete(ctx context.Context, id string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkReady(); err != nil {
		return 0, err
	}
	if _, err := c.store.Get(id); err != nil {
		return 0, err
	}

	entry := &wal.Entry{
		Kind:       wal.KindDelete,
		Timestamp:  c.opts.Now().UnixNano(),
		Collection: c.cfg.Name,
		ID:         id,
	}
	seq, err := c.append(ctx, entry)
	if err != nil {
		return 0, err
	}
	if err := c.applyDelete(id, entry.Timestamp); err != nil {
		return 0, err
	}
	c.afterWrite()
	return seq, nil
}

// Compact purges tombstones older than retention. It returns the number of
// records physically removed.
func (c *Collection) Compact(ctx context.Context, retention time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkReady(); err != nil {
		return 0, err
	}

	cutoff := c.opts.Now().Add(-retention).UnixNano()
	if c.store.Purgeable(cutoff) == 0 {
		return 0, nil
	}

	entry := &wal.Entry{
		Kind:       wal.KindCompact,
		Timestamp:  c.opts.Now().UnixNano(),
		Collection: c.cfg.Name,
		Cutoff:     cutoff,
	}
	if _, err := c.append(ctx, entry); err != nil {
		return 0, err
	}
	purged := c.applyCompact(cutoff)
	c.afterWrite()

	c.opts.Logger.Info("collection compacted", "collection", c.cfg.Name, "purged", purged, "cutoff", cutoff)
	return purged, nil
}

// append makes entry durable. In-memory collections only number it.
func (c *Collection) append(ctx context.Context, e *wal.Entry) (uint64, error) {
	if c.wal == nil {
		return 0, nil
	}
	return c.wal.Append(ctx, e)
}

func (c *Collection) applyUpsert(id string, vec []float32, meta metadata.Document) error {
	_, slot, err := c.store.Put(store.Record{ID: id, Vector: vec, Metadata: meta})
	if err != nil {
		return err
	}
	if c.index.Contains(slot) {
		c.index.Delete(slot)
	}
	// The graph shares the store's copy; vec belongs to the caller.
	rec, _ := c.store.BySlot(slot)
	return c.index.Insert(slot, rec.Vector)
}

func (c *Collection) applyDelete(id string, ts int64) error {
	_, err := c.store.SoftDelete(id, ts)
	return err
}

func (c *Collection) applyCompact(cutoff int64) int {
	purged := c.store.Compact(cutoff)
	for _, slot := range purged {
		c.index.Delete(slot)
	}
	if n := min(int64(len(purged))*c.recordBytes(), c.reservedMem.Load()); n > 0 {
		c.opts.Resources.ReleaseMemory(n)
		c.reservedMem.Add(-n)
	}
	return len(purged)
}

func (c *Collection) apply(e *wal.Entry) error {
	switch e.Kind {
	case wal.KindUpsert:
		return c.applyUpsert(e.ID, e.Vector, e.Metadata)
	case wal.KindDelete:
		if err := c.applyDelete(e.ID, e.Timestamp); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	case wal.KindCompact:
		c.applyCompact(e.Cutoff)
		return nil
	default:
		return fmt.Errorf("%w: unknown entry kind %s", wal.ErrCorrupt, e.Kind)
	}
}

// afterWrite counts a WAL entry and schedules a snapshot when due.
// Called with the write lock held.
func (c *Collection) afterWrite() {
	if c.wal == nil {
		return
	}
	n := c.sinceSnap.Add(1)
	if c.opts.SnapshotEvery > 0 && n >= c.opts.SnapshotEvery {
		c.triggerSnapshot()
	}
}

// Get returns the live record with id. The record must not be modified.
func (c *Collection) Get(id string) (*store.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkReady(); err != nil {
		return nil, err
	}
	return c.store.Get(id)
}

// Count returns the number of live records.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Len()
}

// Info summarizes a collection.
type Info struct {
	Config
	State           State
	Count           int
	Tombstones      int
	LastSeq         uint64
	LastSnapshotSeq uint64
	WALBytes        int64
	Index           hnsw.Stats
}

// Info returns a summary of the collection.
func (c *Collection) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := Info{
		Config:          c.cfg,
		State:           c.State(),
		Count:           c.store.Len(),
		Tombstones:      c.store.Tombstones(),
		LastSnapshotSeq: c.lastSnapSeq.Load(),
		Index:           c.index.Stats(),
	}
	if c.wal != nil {
		info.LastSeq = c.wal.LastSeq()
		info.WALBytes = c.wal.Size()
	}
	return info
}

// Close runs the queued requests, stops background work and closes the log.
// A snapshot in progress finishes first; none starts afterwards.
func (c *Collection) Close() error {
	c.closeOnce.Do(func() {
		if c.workers != nil {
			c.workers.Close()
		}

		// No new background jobs are scheduled once the state is closed.
		c.snapMu.Lock()
		c.mu.Lock()
		c.state.Store(int32(StateClosed))
		c.mu.Unlock()
		c.snapMu.Unlock()

		close(c.stop)
		c.bg.Wait()

		c.mu.Lock()
		defer c.mu.Unlock()

		if n := c.reservedMem.Swap(0); n > 0 {
			c.opts.Resources.ReleaseMemory(n)
		}
		if c.wal != nil {
			c.closeErr = c.wal.Close()
		}
	})
	return c.closeErr
}

// Destroy closes the collection and removes its directory.
func (c *Collection) Destroy() error {
	closeErr := c.Close()
	if !c.opts.Persistent {
		return closeErr
	}
	if err := c.opts.FileSystem.RemoveAll(c.opts.Dir); err != nil {
		return errors.Join(closeErr, fmt.Errorf("collection: remove %s: %w", c.opts.Dir, err))
	}
	return errors.Join(closeErr, fs.SyncDir(c.opts.FileSystem, filepath.Dir(c.opts.Dir)))
}
