package collection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hupe1980/vecdb/index/hnsw"
	"github.com/hupe1980/vecdb/persistence"
	"github.com/hupe1980/vecdb/snapshot"
	"github.com/hupe1980/vecdb/store"
	"github.com/hupe1980/vecdb/wal"
)

// Recovery describes how a collection was rebuilt at open.
type Recovery struct {
	SnapshotSeq    uint64
	Replayed       int
	LastSeq        uint64
	Truncated      bool
	TruncatedBytes int64
	// Reason wraps wal.ErrCorrupt when the log tail was cut off.
	Reason   error
	Duration time.Duration
}

// Open loads the collection stored in opts.Dir: the newest snapshot first,
// then every WAL entry after it. A damaged WAL tail is cut off and reported,
// it does not fail the open.
func Open(ctx context.Context, opts Options) (*Collection, Recovery, error) {
	opts.setDefaults()
	start := time.Now()

	cfg, err := LoadConfig(opts.FileSystem, filepath.Join(opts.Dir, ConfigFile))
	if err != nil {
		return nil, Recovery{}, err
	}

	opts.Persistent = true
	c, err := newCollection(cfg, opts)
	if err != nil {
		return nil, Recovery{}, err
	}

	var rec Recovery

	seq, raw, err := c.snaps.Load(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
	case err != nil:
		return nil, rec, err
	default:
		if err := c.restore(raw); err != nil {
			return nil, rec, fmt.Errorf("collection %s: snapshot %d: %w", cfg.Name, seq, err)
		}
		rec.SnapshotSeq = seq
		c.lastSnapSeq.Store(seq)
	}

	if err := c.openWAL(); err != nil {
		return nil, rec, err
	}

	report := c.wal.Report()
	rec.Truncated = report.Truncated
	rec.TruncatedBytes = report.TruncatedBytes
	rec.Reason = report.Reason

	n, err := c.wal.Replay(rec.SnapshotSeq, func(e *wal.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.apply(e); err != nil {
			return fmt.Errorf("apply seq %d: %w", e.Seq, err)
		}
		return nil
	})
	if err != nil {
		_ = c.wal.Close()
		return nil, rec, fmt.Errorf("collection %s: replay: %w", cfg.Name, err)
	}
	rec.Replayed = n
	rec.LastSeq = c.wal.LastSeq()
	c.sinceSnap.Store(uint64(n))

	if mem := int64(c.store.Len()+c.store.Tombstones()) * c.recordBytes(); mem > 0 {
		if err := opts.Resources.ReserveMemory(mem); err != nil {
			opts.Logger.Warn("collection exceeds memory limit, not accounted",
				"collection", cfg.Name, "bytes", mem, "error", err)
		} else {
			c.reservedMem.Store(mem)
		}
	}

	c.ready()
	rec.Duration = time.Since(start)
	return c, rec, nil
}

// encode serializes the store and graph. Called with at least the read lock held.
func (c *Collection) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.store.Encode(&buf); err != nil {
		return nil, err
	}
	if err := c.index.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Collection) restore(raw []byte) error {
	r := bytes.NewReader(raw)
	st, err := store.Decode(r)
	if err != nil {
		return err
	}
	idx, err := hnsw.Decode(r)
	if err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", persistence.ErrCorrupt, r.Len())
	}

	if st.Dimension() != c.cfg.Dimension || idx.Options().Dimension != c.cfg.Dimension {
		return fmt.Errorf("%w: dimension does not match descriptor", persistence.ErrCorrupt)
	}
	if idx.Options().Metric != c.cfg.Metric {
		return fmt.Errorf("%w: metric does not match descriptor", persistence.ErrCorrupt)
	}
	if idx.Len() != st.Len()+st.Tombstones() {
		return fmt.Errorf("%w: graph holds %d nodes, store %d records", persistence.ErrCorrupt, idx.Len(), st.Len()+st.Tombstones())
	}
	it := st.LiveSlots().Iterator()
	for it.HasNext() {
		if slot := it.Next(); !idx.Contains(slot) {
			return fmt.Errorf("%w: slot %d missing from graph", persistence.ErrCorrupt, slot)
		}
	}

	c.store, c.index = st, idx
	return nil
}

// Snapshot writes a snapshot of the current state, removes older snapshots
// and truncates the WAL entries it covers. In-memory collections return a zero Info.
func (c *Collection) Snapshot(ctx context.Context) (snapshot.Info, error) {
	if !c.opts.Persistent {
		return snapshot.Info{}, nil
	}
	if err := c.checkReady(); err != nil {
		return snapshot.Info{}, err
	}
	return c.snapshot(ctx)
}

func (c *Collection) snapshot(ctx context.Context) (snapshot.Info, error) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	// Writers hold the write lock across append and apply, so LastSeq is exactly
	// the state being encoded.
	c.mu.RLock()
	if err := c.checkReady(); err != nil {
		c.mu.RUnlock()
		return snapshot.Info{}, err
	}
	seq := c.wal.LastSeq()
	if seq == c.lastSnapSeq.Load() && seq != 0 {
		c.mu.RUnlock()
		return snapshot.Info{Seq: seq, Path: filepath.Join(c.opts.Dir, snapshot.FileName(seq))}, nil
	}
	start := time.Now()
	pending := c.sinceSnap.Load()
	raw, err := c.encode()
	c.mu.RUnlock()
	if err != nil {
		return snapshot.Info{}, fmt.Errorf("collection %s: encode snapshot: %w", c.cfg.Name, err)
	}

	info, err := c.snaps.Write(ctx, seq, raw)
	if err != nil {
		return snapshot.Info{}, err
	}
	c.lastSnapSeq.Store(seq)
	c.sinceSnap.Add(^(pending - 1))

	if _, err := c.snaps.GC(); err != nil {
		c.opts.Logger.Warn("snapshot gc failed", "collection", c.cfg.Name, "error", err)
	}
	if err := c.wal.TruncateBefore(seq); err != nil {
		c.opts.Logger.Warn("wal truncation failed", "collection", c.cfg.Name, "seq", seq, "error", err)
	}

	took := time.Since(start)
	c.opts.Logger.Debug("snapshot complete",
		"collection", c.cfg.Name,
		"seq", seq,
		"bytes", info.Size,
		"duration", took,
	)

	if c.opts.OnSnapshot != nil {
		c.opts.OnSnapshot(ctx, c, info, took)
	}
	return info, nil
}

// triggerSnapshot starts a background snapshot unless one is already running.
// Called with the write lock held while ready.
func (c *Collection) triggerSnapshot() {
	if !c.snapRunning.CompareAndSwap(false, true) {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		defer c.snapRunning.Store(false)
		c.backgroundSnapshot()
	}()
}

func (c *Collection) backgroundSnapshot() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := c.opts.Resources.AcquireJob(ctx); err != nil {
		return
	}
	defer c.opts.Resources.ReleaseJob()

	if _, err := c.snapshot(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
		c.opts.Logger.Error("background snapshot failed", "collection", c.cfg.Name, "error", err)
	}
}

func (c *Collection) snapshotLoop(every time.Duration) {
	defer c.bg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.sinceSnap.Load() == 0 || !c.snapRunning.CompareAndSwap(false, true) {
				continue
			}
			c.backgroundSnapshot()
			c.snapRunning.Store(false)
		}
	}
}
