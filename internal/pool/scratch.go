package pool

import (
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vecdb/internal/queue"
)

const (
	defaultVisited  = 1 << 14
	defaultQueueCap = 128

	// maxRetainedVisited caps the bitset size kept in the pool.
	maxRetainedVisited = 1 << 24
)

// Scratch holds the buffers of one graph traversal.
type Scratch struct {
	Visited    *bitset.BitSet
	Candidates *queue.PriorityQueue
	Results    *queue.PriorityQueue
}

var scratchPool = sync.Pool{
	New: func() any {
		return &Scratch{
			Visited:    bitset.New(defaultVisited),
			Candidates: queue.NewMin(defaultQueueCap),
			Results:    queue.NewMax(defaultQueueCap),
		}
	},
}

// GetScratch returns cleared scratch space able to track ids below n without growing.
func GetScratch(n int) *Scratch {
	s := scratchPool.Get().(*Scratch)
	s.Visited.ClearAll()
	if uint(n) > s.Visited.Len() {
		s.Visited = bitset.New(uint(n))
	}
	s.Candidates.Reset()
	s.Results.Reset()
	return s
}

// PutScratch returns s to the pool.
func PutScratch(s *Scratch) {
	if s.Visited.Len() > maxRetainedVisited {
		s.Visited = bitset.New(defaultVisited)
	}
	scratchPool.Put(s)
}

// Visit marks id and reports whether it was already marked.
func (s *Scratch) Visit(id uint32) bool {
	if s.Visited.Test(uint(id)) {
		return true
	}
	s.Visited.Set(uint(id))
	return false
}
