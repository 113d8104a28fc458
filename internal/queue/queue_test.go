package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(pq *PriorityQueue) []Item {
	var out []Item
	for pq.Len() > 0 {
		it, ok := pq.Pop()
		if !ok {
			break
		}
		out = append(out, it)
	}
	return out
}

func TestMinQueue(t *testing.T) {
	pq := NewMin(4)
	for _, it := range []Item{{5, 0.5}, {1, 0.9}, {3, 0.1}, {2, 0.5}} {
		pq.Push(it)
	}

	top, ok := pq.Top()
	require.True(t, ok)
	assert.Equal(t, uint32(3), top.ID)

	assert.Equal(t, []Item{{3, 0.1}, {2, 0.5}, {5, 0.5}, {1, 0.9}}, drain(pq))
}

func TestMaxQueue(t *testing.T) {
	pq := NewMax(4)
	for _, it := range []Item{{5, 0.5}, {1, 0.9}, {3, 0.1}, {2, 0.5}} {
		pq.Push(it)
	}

	assert.Equal(t, []Item{{1, 0.9}, {5, 0.5}, {2, 0.5}, {3, 0.1}}, drain(pq))
}

func TestEmptyQueue(t *testing.T) {
	pq := NewMin(0)
	_, ok := pq.Top()
	assert.False(t, ok)
	_, ok = pq.Pop()
	assert.False(t, ok)

	pq.Push(Item{ID: 1})
	pq.Reset()
	assert.Equal(t, 0, pq.Len())
}
