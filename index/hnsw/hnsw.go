package hnsw

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/internal/pool"
	"github.com/hupe1980/vecdb/internal/queue"
)

const (
	// mmax0Multiplier is the multiplier for calculating maximum connections at layer 0.
	mmax0Multiplier = 2

	// minimumM is the minimum valid value for M.
	minimumM = 2

	// maxLevelCap bounds the level a node can be assigned.
	maxLevelCap = 16

	// DefaultM is the default number of neighbors per node on upper layers.
	DefaultM = 16

	// DefaultEFConstruction is the default candidate list size during insertion.
	DefaultEFConstruction = 200

	// DefaultEF is the default candidate list size during search.
	DefaultEF = 64

	// DefaultSeed seeds level assignment when no seed is configured.
	DefaultSeed = 42

	// checkEvery is how many candidate expansions pass between context checks.
	checkEvery = 64

	noEntry = math.MaxUint32
)

var (
	// ErrNodeExists is returned by Insert when the id is already present.
	ErrNodeExists = errors.New("hnsw: node already exists")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("hnsw: invalid options")
)

// Options represents the options for configuring HNSW.
type Options struct {
	Dimension      int
	Metric         distance.Metric
	M              int
	EFConstruction int
	EF             int
	Seed           uint64
}

// DefaultOptions are the options used by New before option functions run.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	EF:             DefaultEF,
	Seed:           DefaultSeed,
}

// Result is a search hit.
type Result struct {
	ID       uint32
	Distance float32
}

// Filter reports whether a node may appear in results. Rejected nodes remain
// navigable during traversal.
type Filter func(id uint32) bool

// Stats describes the shape of the graph.
type Stats struct {
	Nodes           int
	MaxLevel        int
	EntryPoint      uint32
	HasEntryPoint   bool
	AvgDegreeLayer0 float64
	NodesPerLevel   []int
}

// HNSW represents the Hierarchical Navigable Small World graph.
type HNSW struct {
	opts Options

	distFunc distance.Func
	mL       float64
	maxConns int
	maxConn0 int

	nodes    []*node
	count    int
	entry    uint32
	maxLevel int
	rng      rng
}

// New creates a new HNSW instance.
func New(optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidOptions, opts.Dimension)
	}
	if !opts.Metric.Valid() {
		return nil, fmt.Errorf("%w: metric %s", ErrInvalidOptions, opts.Metric)
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	if opts.EF <= 0 {
		opts.EF = DefaultEF
	}

	return newGraph(opts, newRNG(opts.Seed)), nil
}

func newGraph(opts Options, r rng) *HNSW {
	return &HNSW{
		opts:     opts,
		distFunc: distance.Kernel(opts.Metric),
		mL:       1 / math.Log(float64(opts.M)),
		maxConns: opts.M,
		maxConn0: mmax0Multiplier * opts.M,
		entry:    noEntry,
		rng:      r,
	}
}

// Options returns the effective options.
func (h *HNSW) Options() Options { return h.opts }

// Len returns the number of nodes in the graph.
func (h *HNSW) Len() int { return h.count }

// Contains reports whether id is a node of the graph.
func (h *HNSW) Contains(id uint32) bool {
	return h.get(id) != nil
}

// Vector returns the vector stored for id.
func (h *HNSW) Vector(id uint32) ([]float32, bool) {
	n := h.get(id)
	if n == nil {
		return nil, false
	}
	return n.vec, true
}

// Neighbors returns a copy of id's neighbor list on layer.
func (h *HNSW) Neighbors(id uint32, layer int) []Result {
	n := h.get(id)
	if n == nil || layer > n.level {
		return nil
	}
	out := make([]Result, len(n.links[layer]))
	for i, it := range n.links[layer] {
		out[i] = Result{ID: it.ID, Distance: it.Distance}
	}
	return out
}

func (h *HNSW) get(id uint32) *node {
	if int(id) >= len(h.nodes) {
		return nil
	}
	return h.nodes[id]
}

func (h *HNSW) maxDegree(layer int) int {
	if layer == 0 {
		return h.maxConn0
	}
	return h.maxConns
}

// Insert adds vec under id. vec is retained and must not be modified afterwards.
func (h *HNSW) Insert(id uint32, vec []float32) error {
	if len(vec) != h.opts.Dimension {
		return &distance.ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(vec)}
	}
	if id == noEntry {
		return fmt.Errorf("hnsw: id %d is reserved", id)
	}
	if h.Contains(id) {
		return fmt.Errorf("%w: %d", ErrNodeExists, id)
	}

	level := h.rng.level(h.mL, maxLevelCap)
	n := newNode(id, level, vec)

	if int(id) >= len(h.nodes) {
		h.nodes = slices.Grow(h.nodes, int(id)+1-len(h.nodes))[:int(id)+1]
	}
	h.nodes[id] = n
	h.count++

	if h.entry == noEntry {
		h.entry = id
		h.maxLevel = level
		return nil
	}

	cur := queue.Item{ID: h.entry, Distance: h.distFunc(vec, h.nodes[h.entry].vec)}
	for l := h.maxLevel; l > level; l-- {
		cur = h.greedy(vec, cur, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates, _, _ := h.searchLayer(context.Background(), vec, []queue.Item{cur}, h.opts.EFConstruction, l, nil, id)

		neighbors := candidates
		if len(neighbors) > h.opts.M {
			neighbors = neighbors[:h.opts.M]
		}
		for _, nb := range neighbors {
			h.link(id, nb.ID, nb.Distance, l)
			h.link(nb.ID, id, nb.Distance, l)
		}

		if len(candidates) > 0 {
			cur = candidates[0]
		}
	}

	if level > h.maxLevel {
		h.entry = id
		h.maxLevel = level
	}

	return nil
}

// link adds the directed edge from -> to on layer, pruning the weakest edge of
// from when its degree exceeds the layer maximum.
func (h *HNSW) link(from, to uint32, d float32, layer int) {
	src := h.nodes[from]
	if indexOf(src.links[layer], to) >= 0 {
		return
	}
	src.links[layer] = insertSorted(src.links[layer], queue.Item{ID: to, Distance: d})
	h.nodes[to].inbound[layer][from] = struct{}{}

	if maxDeg := h.maxDegree(layer); len(src.links[layer]) > maxDeg {
		for _, dropped := range src.links[layer][maxDeg:] {
			delete(h.nodes[dropped.ID].inbound[layer], from)
		}
		src.links[layer] = src.links[layer][:maxDeg:maxDeg]
	}
}

// greedy walks layer towards q until no neighbor improves on cur.
func (h *HNSW) greedy(q []float32, cur queue.Item, layer int) queue.Item {
	for changed := true; changed; {
		changed = false
		for _, nb := range h.nodes[cur.ID].links[layer] {
			cand := queue.Item{ID: nb.ID, Distance: h.distFunc(q, h.nodes[nb.ID].vec)}
			if queue.Less(cand, cur) {
				cur = cand
				changed = true
			}
		}
	}
	return cur
}

// searchLayer runs a best-first search over layer starting from entries and
// returns up to ef accepted nodes in ascending (distance, id) order.
// skip excludes one id entirely (the node being inserted).
// ctx is polled periodically; an expired deadline returns the candidates
// found so far with stopped set, cancellation returns the context error.
func (h *HNSW) searchLayer(ctx context.Context, q []float32, entries []queue.Item, ef, layer int, accept Filter, skip uint32) (out []queue.Item, stopped bool, err error) {
	scratch := pool.GetScratch(len(h.nodes))
	defer pool.PutScratch(scratch)
	candidates, results := scratch.Candidates, scratch.Results

	if skip != noEntry {
		scratch.Visit(skip)
	}
	for _, e := range entries {
		if scratch.Visit(e.ID) {
			continue
		}
		candidates.Push(e)
		if accept == nil || accept(e.ID) {
			results.Push(e)
		}
	}

	for steps := 0; candidates.Len() > 0; steps++ {
		if ctx != nil && steps%checkEvery == checkEvery-1 {
			if cerr := ctx.Err(); cerr != nil {
				if errors.Is(cerr, context.DeadlineExceeded) {
					stopped = true
					break
				}
				return nil, false, cerr
			}
		}

		curr, _ := candidates.Pop()
		if results.Len() >= ef {
			if worst, _ := results.Top(); queue.Less(worst, curr) {
				break
			}
		}

		for _, nb := range h.nodes[curr.ID].links[layer] {
			if scratch.Visit(nb.ID) {
				continue
			}

			next := queue.Item{ID: nb.ID, Distance: h.distFunc(q, h.nodes[nb.ID].vec)}

			if accept == nil && results.Len() >= ef {
				if worst, _ := results.Top(); queue.Less(worst, next) {
					continue
				}
			}

			candidates.Push(next)
			if accept == nil || accept(next.ID) {
				results.Push(next)
				if results.Len() > ef {
					results.Pop()
				}
			}
		}
	}

	out = make([]queue.Item, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i], _ = results.Pop()
	}
	return out, stopped, nil
}

// Search returns up to k nodes closest to q in ascending distance order, ties
// broken by smaller id. ef is raised to k when smaller; ef <= 0 uses the
// configured default.
func (h *HNSW) Search(ctx context.Context, q []float32, k, ef int, accept Filter) ([]Result, error) {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if len(q) != h.opts.Dimension {
		return nil, &distance.ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(q)}
	}
	if k <= 0 || h.entry == noEntry {
		return nil, nil
	}
	if ef <= 0 {
		ef = h.opts.EF
	}
	ef = max(ef, k)

	cur := queue.Item{ID: h.entry, Distance: h.distFunc(q, h.nodes[h.entry].vec)}
	for l := h.maxLevel; l > 0; l-- {
		cur = h.greedy(q, cur, l)
	}

	items, _, err := h.searchLayer(ctx, q, []queue.Item{cur}, ef, 0, accept, noEntry)
	if err != nil {
		return nil, err
	}
	if len(items) > k {
		items = items[:k]
	}

	res := make([]Result, len(items))
	for i, it := range items {
		res[i] = Result{ID: it.ID, Distance: it.Distance}
	}
	return res, nil
}

// BruteForce performs an exact scan over every node. It is the recall baseline
// and the fallback for highly selective filters.
func (h *HNSW) BruteForce(q []float32, k int, accept Filter) []Result {
	return h.ScanIDs(q, k, func(yield func(uint32) bool) {
		for _, n := range h.nodes {
			if n != nil && !yield(n.id) {
				return
			}
		}
	}, accept)
}

// ScanIDs computes exact distances for the given ids and returns the k closest.
func (h *HNSW) ScanIDs(q []float32, k int, ids iter.Seq[uint32], accept Filter) []Result {
	if k <= 0 || len(q) != h.opts.Dimension {
		return nil
	}
	top := queue.NewMax(k + 1)
	for id := range ids {
		n := h.get(id)
		if n == nil || (accept != nil && !accept(id)) {
			continue
		}
		top.Push(queue.Item{ID: id, Distance: h.distFunc(q, n.vec)})
		if top.Len() > k {
			top.Pop()
		}
	}
	res := make([]Result, top.Len())
	for i := len(res) - 1; i >= 0; i-- {
		it, _ := top.Pop()
		res[i] = Result{ID: it.ID, Distance: it.Distance}
	}
	return res
}

// Delete removes id from the graph and repairs its former neighborhood.
// Deleting an absent id is a no-op.
func (h *HNSW) Delete(id uint32) {
	n := h.get(id)
	if n == nil {
		return
	}

	for l := 0; l <= n.level; l++ {
		outs := make([]uint32, len(n.links[l]))
		for i, nb := range n.links[l] {
			outs[i] = nb.ID
		}
		ins := sortedIDs(n.inbound[l])

		for _, o := range outs {
			delete(h.nodes[o].inbound[l], id)
		}
		for _, in := range ins {
			src := h.nodes[in]
			if i := indexOf(src.links[l], id); i >= 0 {
				src.links[l] = slices.Delete(src.links[l], i, i+1)
			}
		}

		pool := make(map[uint32]struct{}, len(outs)+len(ins))
		for _, o := range outs {
			pool[o] = struct{}{}
		}
		for _, in := range ins {
			pool[in] = struct{}{}
		}
		for _, a := range ins {
			h.repair(a, pool, l)
		}
	}

	h.nodes[id] = nil
	h.count--

	if h.entry == id {
		h.electEntry()
	}
}

// repair rebuilds a's neighbor list on layer from its surviving neighbors plus
// the deleted node's neighborhood pool, keeping the closest maxDegree.
func (h *HNSW) repair(a uint32, pool map[uint32]struct{}, layer int) {
	src := h.nodes[a]
	maxDeg := h.maxDegree(layer)

	seen := make(map[uint32]struct{}, len(pool)+len(src.links[layer]))
	cands := make([]queue.Item, 0, len(pool)+len(src.links[layer]))
	for _, nb := range src.links[layer] {
		seen[nb.ID] = struct{}{}
		cands = append(cands, nb)
	}
	for c := range pool {
		if c == a {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		cn := h.nodes[c]
		if cn == nil || cn.level < layer {
			continue
		}
		seen[c] = struct{}{}
		cands = append(cands, queue.Item{ID: c, Distance: h.distFunc(src.vec, cn.vec)})
	}
	slices.SortFunc(cands, func(x, y queue.Item) int {
		if queue.Less(x, y) {
			return -1
		}
		if queue.Less(y, x) {
			return 1
		}
		return 0
	})
	if len(cands) > maxDeg {
		cands = cands[:maxDeg]
	}

	keep := make(map[uint32]struct{}, len(cands))
	for _, c := range cands {
		keep[c.ID] = struct{}{}
	}
	for _, old := range src.links[layer] {
		if _, ok := keep[old.ID]; !ok {
			delete(h.nodes[old.ID].inbound[layer], a)
		}
	}

	src.links[layer] = cands
	for _, c := range cands {
		h.nodes[c.ID].inbound[layer][a] = struct{}{}
	}
}

// electEntry picks the node with the highest level, smallest id on ties.
func (h *HNSW) electEntry() {
	h.entry = noEntry
	h.maxLevel = 0
	for _, n := range h.nodes {
		if n == nil {
			continue
		}
		if h.entry == noEntry || n.level > h.maxLevel {
			h.entry = n.id
			h.maxLevel = n.level
		}
	}
}

// Stats reports graph statistics.
func (h *HNSW) Stats() Stats {
	s := Stats{
		Nodes:         h.count,
		MaxLevel:      h.maxLevel,
		EntryPoint:    h.entry,
		HasEntryPoint: h.entry != noEntry,
		NodesPerLevel: make([]int, h.maxLevel+1),
	}
	var degree int
	for _, n := range h.nodes {
		if n == nil {
			continue
		}
		degree += len(n.links[0])
		for l := 0; l <= n.level && l < len(s.NodesPerLevel); l++ {
			s.NodesPerLevel[l]++
		}
	}
	if h.count > 0 {
		s.AvgDegreeLayer0 = float64(degree) / float64(h.count)
	}
	return s
}
