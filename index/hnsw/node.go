package hnsw

import (
	"slices"

	"github.com/hupe1980/vecdb/internal/queue"
)

// node is one arena entry. links[l] is kept sorted by (distance, id).
type node struct {
	id      uint32
	level   int
	vec     []float32
	links   [][]queue.Item
	inbound []map[uint32]struct{}
}

func newNode(id uint32, level int, vec []float32) *node {
	n := &node{
		id:      id,
		level:   level,
		vec:     vec,
		links:   make([][]queue.Item, level+1),
		inbound: make([]map[uint32]struct{}, level+1),
	}
	for l := range n.inbound {
		n.inbound[l] = make(map[uint32]struct{})
	}
	return n
}

// insertSorted places it into links, keeping the (distance, id) order.
func insertSorted(links []queue.Item, it queue.Item) []queue.Item {
	i, _ := slices.BinarySearchFunc(links, it, func(a, b queue.Item) int {
		if queue.Less(a, b) {
			return -1
		}
		if queue.Less(b, a) {
			return 1
		}
		return 0
	})
	return slices.Insert(links, i, it)
}

func indexOf(links []queue.Item, id uint32) int {
	for i := range links {
		if links[i].ID == id {
			return i
		}
	}
	return -1
}

func sortedIDs(set map[uint32]struct{}) []uint32 {
	ids := make([]uint32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
