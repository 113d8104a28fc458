package metadata

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Index is an inverted index from (key, value) to the slots holding that value.
//
// It answers equality and membership filters with bitmap algebra so that highly
// selective queries can skip graph traversal. Index is not safe for concurrent
// mutation; callers serialize writers.
type Index struct {
	postings map[string]map[string]*roaring.Bitmap
}

// NewIndex creates an empty inverted index.
func NewIndex() *Index {
	return &Index{postings: make(map[string]map[string]*roaring.Bitmap)}
}

// Add indexes every field of doc under slot.
func (ix *Index) Add(slot uint32, doc Document) {
	for k, v := range doc {
		byValue, ok := ix.postings[k]
		if !ok {
			byValue = make(map[string]*roaring.Bitmap)
			ix.postings[k] = byValue
		}
		key := v.Key()
		bm, ok := byValue[key]
		if !ok {
			bm = roaring.New()
			byValue[key] = bm
		}
		bm.Add(slot)
	}
}

// Remove drops slot from the postings of every field of doc.
func (ix *Index) Remove(slot uint32, doc Document) {
	for k, v := range doc {
		byValue, ok := ix.postings[k]
		if !ok {
			continue
		}
		key := v.Key()
		bm, ok := byValue[key]
		if !ok {
			continue
		}
		bm.Remove(slot)
		if bm.IsEmpty() {
			delete(byValue, key)
		}
		if len(byValue) == 0 {
			delete(ix.postings, k)
		}
	}
}

// Lookup returns the slots whose key equals v. The result must not be modified.
func (ix *Index) Lookup(key string, v Value) *roaring.Bitmap {
	if byValue, ok := ix.postings[key]; ok {
		if bm, ok := byValue[v.Key()]; ok {
			return bm
		}
	}
	return nil
}

// Candidates returns a fresh bitmap of slots that satisfy every Eq and In filter
// in fs. ok is false when fs contains no such filter; the other operators still
// have to be checked by the caller with FilterSet.Matches.
func (ix *Index) Candidates(fs *FilterSet) (result *roaring.Bitmap, ok bool) {
	if fs.IsEmpty() {
		return nil, false
	}

	for i := range fs.Filters {
		f := &fs.Filters[i]

		var bm *roaring.Bitmap
		switch f.Operator {
		case OpEqual:
			bm = roaring.New()
			if p := ix.Lookup(f.Key, f.Value); p != nil {
				bm.Or(p)
			}
		case OpIn:
			bm = roaring.New()
			for _, v := range f.Values {
				if p := ix.Lookup(f.Key, v); p != nil {
					bm.Or(p)
				}
			}
		default:
			continue
		}

		if result == nil {
			result = bm
		} else {
			result.And(bm)
		}
		if result.IsEmpty() {
			return result, true
		}
	}

	return result, result != nil
}

// Keys returns the number of distinct indexed keys.
func (ix *Index) Keys() int {
	return len(ix.postings)
}
