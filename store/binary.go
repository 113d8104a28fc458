package store

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hupe1980/vecdb/metadata"
	"github.com/hupe1980/vecdb/persistence"
)

const (
	storeMagic   uint32 = 0x52545356 // "VSTR"
	storeVersion uint16 = 1
)

// Encode writes every record, tombstones included, to w.
func (s *Store) Encode(w io.Writer) error {
	bw := persistence.NewWriter(w)
	bw.Uint32(storeMagic)
	bw.Uint16(storeVersion)
	bw.Uint32(uint32(s.dim))
	bw.Uint32(uint32(len(s.byID)))

	for slot, rec := range s.slots {
		if rec == nil {
			continue
		}
		var meta []byte
		if len(rec.Metadata) > 0 {
			b, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("store: encode metadata of %q: %w", rec.ID, err)
			}
			meta = b
		}
		bw.Uint32(uint32(slot))
		bw.String(rec.ID)
		bw.Bool(rec.Deleted)
		bw.Int64(rec.DeletedAt)
		bw.Float32s(rec.Vector)
		bw.Bytes(meta)
	}

	return bw.Err()
}

// Decode reads a store written by Encode.
func Decode(r io.Reader) (*Store, error) {
	br := persistence.NewReader(r)

	if magic := br.Uint32(); br.Err() == nil && magic != storeMagic {
		return nil, fmt.Errorf("%w: bad store magic 0x%08x", persistence.ErrCorrupt, magic)
	}
	if v := br.Uint16(); br.Err() == nil && v != storeVersion {
		return nil, fmt.Errorf("%w: unsupported store version %d", persistence.ErrCorrupt, v)
	}
	dim := int(br.Uint32())
	count := br.Len(persistence.MaxSliceLen)
	if err := br.Err(); err != nil {
		return nil, err
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: store dimension %d", persistence.ErrCorrupt, dim)
	}

	s := New(dim)
	for i := 0; i < count; i++ {
		slot := br.Uint32()
		rec := &Record{
			ID:        br.String(),
			Deleted:   br.Bool(),
			DeletedAt: br.Int64(),
			Vector:    br.Float32s(dim),
		}
		meta := br.Bytes()
		if err := br.Err(); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			var doc metadata.Document
			if err := json.Unmarshal(meta, &doc); err != nil {
				return nil, fmt.Errorf("%w: metadata of %q: %w", persistence.ErrCorrupt, rec.ID, err)
			}
			rec.Metadata = doc
		}
		if err := s.restore(slot, rec); err != nil {
			return nil, err
		}
	}

	for slot, rec := range s.slots {
		if rec == nil {
			s.free.Add(uint32(slot))
		}
	}
	return s, nil
}

func (s *Store) restore(slot uint32, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: empty record id in slot %d", persistence.ErrCorrupt, slot)
	}
	if _, dup := s.byID[rec.ID]; dup {
		return fmt.Errorf("%w: duplicate record %q", persistence.ErrCorrupt, rec.ID)
	}
	for int(slot) >= len(s.slots) {
		s.slots = append(s.slots, nil)
	}
	if s.slots[slot] != nil {
		return fmt.Errorf("%w: slot %d used twice", persistence.ErrCorrupt, slot)
	}

	s.slots[slot] = rec
	s.byID[rec.ID] = slot
	if rec.Deleted {
		s.tombstones++
	} else {
		s.live.Add(slot)
		s.meta.Add(slot, rec.Metadata)
	}
	return nil
}
