package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexCandidates(t *testing.T) {
	ix := NewIndex()
	ix.Add(1, Document{"color": String("red"), "size": Int(1)})
	ix.Add(2, Document{"color": String("blue"), "size": Int(1)})
	ix.Add(3, Document{"color": String("red"), "size": Int(2)})

	bm, ok := ix.Candidates(NewFilterSet(Eq("color", String("red"))))
	require.True(t, ok)
	assert.Equal(t, []uint32{1, 3}, bm.ToArray())

	bm, ok = ix.Candidates(NewFilterSet(Eq("color", String("red")), Eq("size", Int(1))))
	require.True(t, ok)
	assert.Equal(t, []uint32{1}, bm.ToArray())

	bm, ok = ix.Candidates(NewFilterSet(In("color", String("red"), String("blue")), Gt("size", Int(1))))
	require.True(t, ok)
	assert.Equal(t, []uint32{1, 2, 3}, bm.ToArray())

	bm, ok = ix.Candidates(NewFilterSet(Eq("color", String("green"))))
	require.True(t, ok)
	assert.True(t, bm.IsEmpty())

	_, ok = ix.Candidates(NewFilterSet(Gt("size", Int(1))))
	assert.False(t, ok)

	_, ok = ix.Candidates(nil)
	assert.False(t, ok)
}

func TestIndexRemove(t *testing.T) {
	ix := NewIndex()
	doc := Document{"color": String("red")}
	ix.Add(7, doc)
	assert.Equal(t, 1, ix.Keys())

	ix.Remove(7, doc)
	assert.Nil(t, ix.Lookup("color", String("red")))
	assert.Equal(t, 0, ix.Keys())

	// removing unknown slots is a no-op
	ix.Remove(8, doc)
}

func TestIndexCandidatesDoesNotAliasPostings(t *testing.T) {
	ix := NewIndex()
	ix.Add(1, Document{"a": Int(1)})

	bm, ok := ix.Candidates(NewFilterSet(Eq("a", Int(1))))
	require.True(t, ok)
	bm.Add(99)

	assert.Equal(t, []uint32{1}, ix.Lookup("a", Int(1)).ToArray())
}
