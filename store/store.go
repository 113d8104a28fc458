package store

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/metadata"
)

var (
	// ErrNotFound is returned when a record is absent or tombstoned.
	ErrNotFound = errors.New("store: record not found")

	// ErrEmptyID is returned by Put for records without an id.
	ErrEmptyID = errors.New("store: empty record id")
)

// Record is a stored vector with its metadata.
// Records returned by the store are shared and must not be modified.
type Record struct {
	ID        string
	Vector    []float32
	Metadata  metadata.Document
	Deleted   bool
	DeletedAt int64
}

// Store holds the records of one collection.
type Store struct {
	dim        int
	byID       map[string]uint32
	slots      []*Record
	live       *roaring.Bitmap
	free       *roaring.Bitmap
	meta       *metadata.Index
	tombstones int
}

// New creates an empty store for vectors of dimension dim.
func New(dim int) *Store {
	return &Store{
		dim:  dim,
		byID: make(map[string]uint32),
		live: roaring.New(),
		free: roaring.New(),
		meta: metadata.NewIndex(),
	}
}

// Dimension returns the vector dimension of the store.
func (s *Store) Dimension() int { return s.dim }

// Len returns the number of live records.
func (s *Store) Len() int { return int(s.live.GetCardinality()) }

// Tombstones returns the number of soft-deleted records awaiting compaction.
func (s *Store) Tombstones() int { return s.tombstones }

// Put inserts or overwrites the record with rec.ID and returns the previous live
// record, if any, together with the record's slot. An overwritten tombstone keeps
// its slot but is not reported as previous.
func (s *Store) Put(rec Record) (prev *Record, slot uint32, err error) {
	if rec.ID == "" {
		return nil, 0, ErrEmptyID
	}
	if len(rec.Vector) != s.dim {
		return nil, 0, &distance.ErrDimensionMismatch{Expected: s.dim, Actual: len(rec.Vector)}
	}

	stored := &Record{
		ID:       rec.ID,
		Vector:   slices.Clone(rec.Vector),
		Metadata: rec.Metadata.Clone(),
	}

	slot, exists := s.byID[rec.ID]
	if exists {
		old := s.slots[slot]
		if old.Deleted {
			s.tombstones--
		} else {
			prev = old
			s.meta.Remove(slot, old.Metadata)
		}
	} else {
		slot = s.allocate()
		s.byID[rec.ID] = slot
	}

	s.slots[slot] = stored
	s.live.Add(slot)
	s.meta.Add(slot, stored.Metadata)
	return prev, slot, nil
}

func (s *Store) allocate() uint32 {
	if !s.free.IsEmpty() {
		slot := s.free.Minimum()
		s.free.Remove(slot)
		return slot
	}
	s.slots = append(s.slots, nil)
	return uint32(len(s.slots) - 1)
}

// Get returns the live record with id.
func (s *Store) Get(id string) (*Record, error) {
	slot, ok := s.byID[id]
	if !ok || s.slots[slot].Deleted {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s.slots[slot], nil
}

// GetAny returns the record with id, tombstoned or not.
func (s *Store) GetAny(id string) (*Record, bool) {
	slot, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.slots[slot], true
}

// Slot returns the slot of the live record with id.
func (s *Store) Slot(id string) (uint32, bool) {
	slot, ok := s.byID[id]
	if !ok || s.slots[slot].Deleted {
		return 0, false
	}
	return slot, true
}

// BySlot returns the record in slot, tombstoned or not.
func (s *Store) BySlot(slot uint32) (*Record, bool) {
	if int(slot) >= len(s.slots) || s.slots[slot] == nil {
		return nil, false
	}
	return s.slots[slot], true
}

// IsLive reports whether slot holds a live record.
func (s *Store) IsLive(slot uint32) bool {
	return s.live.Contains(slot)
}

// SoftDelete tombstones the record with id at time ts (unix nanoseconds) and
// returns its slot.
func (s *Store) SoftDelete(id string, ts int64) (uint32, error) {
	slot, ok := s.byID[id]
	if !ok || s.slots[slot].Deleted {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	old := s.slots[slot]
	tomb := *old
	tomb.Deleted = true
	tomb.DeletedAt = ts
	s.slots[slot] = &tomb

	s.live.Remove(slot)
	s.meta.Remove(slot, old.Metadata)
	s.tombstones++
	return slot, nil
}

// IterateLive returns a lazy sequence over the records that are live when the
// sequence is created. Each call returns an independent sequence.
func (s *Store) IterateLive() iter.Seq[*Record] {
	snapshot := s.live.Clone()
	return func(yield func(*Record) bool) {
		it := snapshot.Iterator()
		for it.HasNext() {
			slot := it.Next()
			rec, ok := s.BySlot(slot)
			if !ok || rec.Deleted {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// LiveSlots returns a copy of the live slot bitmap.
func (s *Store) LiveSlots() *roaring.Bitmap {
	return s.live.Clone()
}

// Candidates returns the live slots satisfying the equality and membership
// filters of fs. ok is false when fs has no such filter.
func (s *Store) Candidates(fs *metadata.FilterSet) (*roaring.Bitmap, bool) {
	bm, ok := s.meta.Candidates(fs)
	if ok {
		bm.And(s.live)
	}
	return bm, ok
}

// Purgeable returns the number of tombstones deleted at or before cutoff.
func (s *Store) Purgeable(cutoff int64) int {
	n := 0
	for _, rec := range s.slots {
		if rec != nil && rec.Deleted && rec.DeletedAt <= cutoff {
			n++
		}
	}
	return n
}

// Compact physically removes tombstones deleted at or before cutoff and returns
// their slots in ascending order. The caller must drop the matching graph nodes.
func (s *Store) Compact(cutoff int64) []uint32 {
	var purged []uint32
	for slot, rec := range s.slots {
		if rec == nil || !rec.Deleted || rec.DeletedAt > cutoff {
			continue
		}
		delete(s.byID, rec.ID)
		s.slots[slot] = nil
		s.free.Add(uint32(slot))
		s.tombstones--
		purged = append(purged, uint32(slot))
	}

	// trailing free slots shrink the slot table
	for n := len(s.slots); n > 0 && s.slots[n-1] == nil; n-- {
		s.free.Remove(uint32(n - 1))
		s.slots = s.slots[:n-1]
	}

	return purged
}
