package store

import (
	"bytes"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/metadata"
	"github.com/hupe1980/vecdb/persistence"
)

func ids(s *Store) []string {
	var out []string
	for rec := range s.IterateLive() {
		out = append(out, rec.ID)
	}
	slices.Sort(out)
	return out
}

func TestPutGet(t *testing.T) {
	s := New(3)

	prev, slot, err := s.Put(Record{ID: "a", Vector: []float32{1, 2, 3}, Metadata: metadata.Document{"k": metadata.Int(1)}})
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.Equal(t, uint32(0), slot)

	rec, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, rec.Vector)
	assert.Equal(t, metadata.Int(1), rec.Metadata["k"])

	prev, slot2, err := s.Put(Record{ID: "a", Vector: []float32{4, 5, 6}})
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, []float32{1, 2, 3}, prev.Vector)
	assert.Equal(t, slot, slot2, "overwrite keeps the slot")
	assert.Equal(t, 1, s.Len())

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutValidation(t *testing.T) {
	s := New(2)

	_, _, err := s.Put(Record{ID: "", Vector: []float32{1, 2}})
	assert.ErrorIs(t, err, ErrEmptyID)

	_, _, err = s.Put(Record{ID: "x", Vector: []float32{1}})
	var dm *distance.ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)
	assert.Equal(t, 0, s.Len())
}

func TestPutCopiesInput(t *testing.T) {
	s := New(2)
	vec := []float32{1, 2}
	doc := metadata.Document{"a": metadata.Int(1)}
	_, _, err := s.Put(Record{ID: "x", Vector: vec, Metadata: doc})
	require.NoError(t, err)

	vec[0] = 99
	doc["a"] = metadata.Int(2)

	rec, err := s.Get("x")
	require.NoError(t, err)
	assert.Equal(t, float32(1), rec.Vector[0])
	assert.Equal(t, metadata.Int(1), rec.Metadata["a"])
}

func TestSoftDelete(t *testing.T) {
	s := New(1)
	_, slot, err := s.Put(Record{ID: "a", Vector: []float32{1}})
	require.NoError(t, err)
	_, _, err = s.Put(Record{ID: "b", Vector: []float32{2}})
	require.NoError(t, err)

	got, err := s.SoftDelete("a", 100)
	require.NoError(t, err)
	assert.Equal(t, slot, got)
	assert.False(t, s.IsLive(slot))
	assert.Equal(t, 1, s.Tombstones())

	_, err = s.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SoftDelete("a", 101)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SoftDelete("zzz", 101)
	assert.ErrorIs(t, err, ErrNotFound)

	rec, ok := s.BySlot(slot)
	require.True(t, ok)
	assert.True(t, rec.Deleted)
	assert.Equal(t, int64(100), rec.DeletedAt)

	assert.Equal(t, []string{"b"}, ids(s))

	// upserting a tombstoned id revives it in place
	prev, slot2, err := s.Put(Record{ID: "a", Vector: []float32{3}})
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.Equal(t, slot, slot2)
	assert.Equal(t, 0, s.Tombstones())
	assert.Equal(t, []string{"a", "b"}, ids(s))
}

func TestIterateLiveIsRestartable(t *testing.T) {
	s := New(1)
	for _, id := range []string{"a", "b", "c"} {
		_, _, err := s.Put(Record{ID: id, Vector: []float32{1}})
		require.NoError(t, err)
	}

	seq := s.IterateLive()
	var first []string
	for rec := range seq {
		first = append(first, rec.ID)
		break
	}
	assert.Len(t, first, 1)

	// a fresh call starts over
	assert.Equal(t, []string{"a", "b", "c"}, ids(s))

	// records deleted after the sequence was created are skipped
	seq = s.IterateLive()
	_, err := s.SoftDelete("b", 1)
	require.NoError(t, err)
	var after []string
	for rec := range seq {
		after = append(after, rec.ID)
	}
	assert.Equal(t, []string{"a", "c"}, after)
}

func TestCompact(t *testing.T) {
	s := New(1)
	for _, id := range []string{"a", "b", "c", "d"} {
		_, _, err := s.Put(Record{ID: id, Vector: []float32{1}})
		require.NoError(t, err)
	}
	_, err := s.SoftDelete("b", 10)
	require.NoError(t, err)
	_, err = s.SoftDelete("d", 20)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Purgeable(15))
	assert.Equal(t, 2, s.Purgeable(20))
	rec, ok := s.GetAny("b")
	require.True(t, ok)
	assert.True(t, rec.Deleted)

	purged := s.Compact(15)
	assert.Equal(t, []uint32{1}, purged)
	assert.Equal(t, 1, s.Tombstones())

	// purged ids are gone entirely and their slots are reused
	_, _, err = s.Put(Record{ID: "e", Vector: []float32{1}})
	require.NoError(t, err)
	slot, ok := s.Slot("e")
	require.True(t, ok)
	assert.Equal(t, uint32(1), slot)

	_, ok = s.GetAny("b")
	assert.False(t, ok)

	purged = s.Compact(20)
	assert.Equal(t, []uint32{3}, purged)
	assert.Equal(t, 0, s.Tombstones())
	assert.Equal(t, []string{"a", "c", "e"}, ids(s))

	_, _, err = s.Put(Record{ID: "f", Vector: []float32{1}})
	require.NoError(t, err)
	slot, _ = s.Slot("f")
	assert.Equal(t, uint32(3), slot)
}

func TestCandidates(t *testing.T) {
	s := New(1)
	for i, color := range []string{"red", "blue", "red"} {
		_, _, err := s.Put(Record{
			ID:       string(rune('a' + i)),
			Vector:   []float32{1},
			Metadata: metadata.Document{"color": metadata.String(color)},
		})
		require.NoError(t, err)
	}
	_, err := s.SoftDelete("c", 1)
	require.NoError(t, err)

	bm, ok := s.Candidates(metadata.NewFilterSet(metadata.Eq("color", metadata.String("red"))))
	require.True(t, ok)
	assert.Equal(t, []uint32{0}, bm.ToArray())

	// overwriting metadata moves the posting
	_, _, err = s.Put(Record{ID: "a", Vector: []float32{1}, Metadata: metadata.Document{"color": metadata.String("blue")}})
	require.NoError(t, err)
	bm, _ = s.Candidates(metadata.NewFilterSet(metadata.Eq("color", metadata.String("blue"))))
	assert.Equal(t, []uint32{0, 1}, bm.ToArray())
}

func TestEncodeDecode(t *testing.T) {
	s := New(2)
	for i, id := range []string{"a", "b", "c", "d"} {
		_, _, err := s.Put(Record{
			ID:       id,
			Vector:   []float32{float32(i), 1},
			Metadata: metadata.Document{"n": metadata.Int(int64(i)), "tag": metadata.String(id)},
		})
		require.NoError(t, err)
	}
	_, err := s.SoftDelete("b", 42)
	require.NoError(t, err)
	_, err = s.SoftDelete("c", 43)
	require.NoError(t, err)
	s.Compact(42)

	var buf bytes.Buffer
	require.NoError(t, s.Encode(&buf))

	loaded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, ids(s), ids(loaded))
	assert.Equal(t, s.Tombstones(), loaded.Tombstones())
	assert.Equal(t, s.LiveSlots().ToArray(), loaded.LiveSlots().ToArray())

	rec, err := loaded.Get("d")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, rec.Vector)
	assert.Equal(t, metadata.String("d"), rec.Metadata["tag"])

	tomb, ok := loaded.BySlot(2)
	require.True(t, ok)
	assert.True(t, tomb.Deleted)
	assert.Equal(t, int64(43), tomb.DeletedAt)

	// the freed slot 1 is reused first after reload
	_, slot, err := loaded.Put(Record{ID: "z", Vector: []float32{0, 0}})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), slot)

	bm, ok := loaded.Candidates(metadata.NewFilterSet(metadata.Eq("tag", metadata.String("a"))))
	require.True(t, ok)
	assert.Equal(t, []uint32{0}, bm.ToArray())
}

func TestDecodeCorrupt(t *testing.T) {
	s := New(2)
	_, _, err := s.Put(Record{ID: "a", Vector: []float32{1, 2}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Encode(&buf))
	data := buf.Bytes()

	_, err = Decode(bytes.NewReader(data[:len(data)-3]))
	assert.ErrorIs(t, err, persistence.ErrCorrupt)

	bad := bytes.Clone(data)
	bad[1] ^= 0xff
	_, err = Decode(bytes.NewReader(bad))
	assert.ErrorIs(t, err, persistence.ErrCorrupt)
}
