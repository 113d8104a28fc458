package hnsw

import (
	"fmt"
	"io"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/internal/queue"
	"github.com/hupe1980/vecdb/persistence"
)

const (
	graphMagic   uint32 = 0x57534e48 // "HNSW"
	graphVersion uint16 = 1
)

// Encode writes the graph, including the level generator state, to w.
func (h *HNSW) Encode(w io.Writer) error {
	bw := persistence.NewWriter(w)

	bw.Uint32(graphMagic)
	bw.Uint16(graphVersion)
	bw.Uint32(uint32(h.opts.Dimension))
	bw.Uint8(uint8(h.opts.Metric))
	bw.Uint32(uint32(h.opts.M))
	bw.Uint32(uint32(h.opts.EFConstruction))
	bw.Uint32(uint32(h.opts.EF))
	bw.Uint64(h.opts.Seed)
	bw.Uint64(h.rng.state)
	bw.Uint32(h.entry)
	bw.Uint32(uint32(h.count))

	for _, n := range h.nodes {
		if n == nil {
			continue
		}
		bw.Uint32(n.id)
		bw.Uint8(uint8(n.level))
		bw.Float32s(n.vec)
		for l := 0; l <= n.level; l++ {
			bw.Uint16(uint16(len(n.links[l])))
			for _, nb := range n.links[l] {
				bw.Uint32(nb.ID)
				bw.Float32(nb.Distance)
			}
		}
	}

	return bw.Err()
}

// Decode reads a graph written by Encode.
func Decode(r io.Reader) (*HNSW, error) {
	br := persistence.NewReader(r)

	if magic := br.Uint32(); br.Err() == nil && magic != graphMagic {
		return nil, fmt.Errorf("%w: bad graph magic 0x%08x", persistence.ErrCorrupt, magic)
	}
	if v := br.Uint16(); br.Err() == nil && v != graphVersion {
		return nil, fmt.Errorf("%w: unsupported graph version %d", persistence.ErrCorrupt, v)
	}

	opts := Options{
		Dimension:      int(br.Uint32()),
		Metric:         distance.Metric(br.Uint8()),
		M:              int(br.Uint32()),
		EFConstruction: int(br.Uint32()),
		EF:             int(br.Uint32()),
		Seed:           br.Uint64(),
	}
	state := br.Uint64()
	entry := br.Uint32()
	count := br.Len(persistence.MaxSliceLen)
	if err := br.Err(); err != nil {
		return nil, err
	}
	if opts.Dimension <= 0 || !opts.Metric.Valid() || opts.M < minimumM {
		return nil, fmt.Errorf("%w: invalid graph options", persistence.ErrCorrupt)
	}

	h := newGraph(opts, rng{state: state})

	for i := 0; i < count; i++ {
		id := br.Uint32()
		level := int(br.Uint8())
		vec := br.Float32s(opts.Dimension)
		if br.Err() != nil {
			break
		}
		if level > maxLevelCap || id == noEntry {
			return nil, fmt.Errorf("%w: node %d level %d", persistence.ErrCorrupt, id, level)
		}
		n := newNode(id, level, vec)
		for l := 0; l <= level; l++ {
			deg := int(br.Uint16())
			if deg > h.maxDegree(l) {
				br.Fail(fmt.Errorf("%w: node %d degree %d", persistence.ErrCorrupt, id, deg))
			}
			if br.Err() != nil {
				break
			}
			n.links[l] = make([]queue.Item, deg)
			for j := range n.links[l] {
				n.links[l][j] = queue.Item{ID: br.Uint32(), Distance: br.Float32()}
			}
		}
		if br.Err() != nil {
			break
		}
		if h.Contains(id) {
			return nil, fmt.Errorf("%w: duplicate node %d", persistence.ErrCorrupt, id)
		}
		for int(id) >= len(h.nodes) {
			h.nodes = append(h.nodes, nil)
		}
		h.nodes[id] = n
		h.count++
		if level > h.maxLevel {
			h.maxLevel = level
		}
	}
	if err := br.Err(); err != nil {
		return nil, err
	}

	// Rebuild inbound sets and validate edges.
	for _, n := range h.nodes {
		if n == nil {
			continue
		}
		for l := 0; l <= n.level; l++ {
			for _, nb := range n.links[l] {
				dst := h.get(nb.ID)
				if dst == nil || dst.level < l {
					return nil, fmt.Errorf("%w: dangling edge %d -> %d", persistence.ErrCorrupt, n.id, nb.ID)
				}
				dst.inbound[l][n.id] = struct{}{}
			}
		}
	}

	switch {
	case count == 0:
		h.entry = noEntry
		h.maxLevel = 0
	case h.get(entry) == nil:
		return nil, fmt.Errorf("%w: missing entry point %d", persistence.ErrCorrupt, entry)
	default:
		h.entry = entry
		h.maxLevel = h.nodes[entry].level
	}

	return h, nil
}
