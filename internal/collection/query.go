package collection

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/index/hnsw"
	"github.com/hupe1980/vecdb/metadata"
)

// exactScanLimit is the candidate count up to which an indexed filter is
// answered by an exact scan instead of a graph walk.
const exactScanLimit = 4096

// Query is a k-nearest-neighbor request.
type Query struct {
	Vector []float32
	K      int
	// EF overrides the search width. Zero uses the collection default.
	EF     int
	Filter *metadata.FilterSet
	// IncludeVector copies stored vectors into the results.
	IncludeVector bool
}

// Result is a single query hit.
type Result struct {
	ID       string
	Distance float32
	Metadata metadata.Document
	Vector   []float32
}

// Search returns up to q.K live records nearest to q.Vector, ascending by
// distance. When ctx hits its deadline mid-search the best results found so
// far are returned.
func (c *Collection) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, q.K)
	}
	if err := distance.Validate(q.Vector, c.cfg.Dimension, c.cfg.Metric); err != nil {
		return nil, err
	}
	if q.Filter != nil {
		if err := q.Filter.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkReady(); err != nil {
		return nil, err
	}
	if c.store.Len() == 0 {
		return []Result{}, nil
	}

	hits, err := c.search(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		rec, ok := c.store.BySlot(h.ID)
		if !ok || rec.Deleted {
			continue
		}
		r := Result{ID: rec.ID, Distance: h.Distance, Metadata: rec.Metadata.Clone()}
		if q.IncludeVector {
			r.Vector = slices.Clone(rec.Vector)
		}
		out = append(out, r)
	}
	return out, nil
}

// search runs under the read lock.
func (c *Collection) search(ctx context.Context, q Query) ([]hnsw.Result, error) {
	filtered := q.Filter != nil && !q.Filter.IsEmpty()

	var accept hnsw.Filter
	if filtered || c.store.Tombstones() > 0 {
		accept = func(slot uint32) bool {
			if !c.store.IsLive(slot) {
				return false
			}
			if !filtered {
				return true
			}
			rec, ok := c.store.BySlot(slot)
			return ok && q.Filter.Matches(rec.Metadata)
		}
	}

	if filtered {
		if bm, ok := c.store.Candidates(q.Filter); ok && bm.GetCardinality() <= uint64(max(exactScanLimit, q.EF)) {
			return c.index.ScanIDs(q.Vector, q.K, bitmapSeq(bm), accept), nil
		}
	}

	res, err := c.index.Search(ctx, q.Vector, q.K, q.EF, accept)
	if err != nil {
		return nil, err
	}

	// A selective filter can starve the graph walk. Fall back to an exact
	// scan unless the caller's deadline already cut the search short.
	if accept != nil && len(res) < q.K && len(res) < c.store.Len() && ctx.Err() == nil {
		res = c.index.BruteForce(q.Vector, q.K, accept)
	}
	return res, nil
}

func bitmapSeq(bm *roaring.Bitmap) iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		it := bm.Iterator()
		for it.HasNext() {
			if !yield(it.Next()) {
				return
			}
		}
	}
}
