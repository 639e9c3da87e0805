// Package index accelerates equality and range lookups against a
// collection's derived view: a live-maintained secondary structure keyed
// by an expression path, kept in sync the same way a live query keeps its
// sink current — by subscribing to the source collection's change stream
// rather than rescanning it.
package index

import (
	"sort"
	"sync"

	"tdbcore/internal/collection"
	"tdbcore/internal/core"
)

// Kind selects an index's internal structure.
type Kind string

const (
	// Equality supports exact-match lookup via a hash map.
	Equality Kind = "equality"
	// Ordered additionally supports range lookup via a sorted slice.
	Ordered Kind = "ordered"
)

type orderedEntry struct {
	value any
	key   core.Key
}

// Index maintains, for one field path of one collection, every row key
// currently holding each distinct value at that path.
type Index struct {
	name string
	path core.PropPath
	kind Kind

	unsubscribe func()

	mu      sync.RWMutex
	eq      map[string][]core.Key
	ordered []orderedEntry
	keyVal  map[core.Key]any
	size    int
}

// New builds an index over col's derived view at the dotted field path,
// subscribes to col's change stream to stay current, and returns once it
// has absorbed col's current state.
func New(col *collection.Collection, name, path string, kind Kind) *Index {
	idx := &Index{
		name:   name,
		path:   core.SplitPath(path),
		kind:   kind,
		eq:     map[string][]core.Key{},
		keyVal: map[core.Key]any{},
	}
	idx.unsubscribe = col.SubscribeChanges(idx.apply, true)
	return idx
}

// Close stops tracking col's changes. The index's last-known contents
// remain readable but will drift as the collection keeps changing.
func (idx *Index) Close() {
	if idx.unsubscribe != nil {
		idx.unsubscribe()
	}
}

// Name returns the index's identifying name, used in advisor suggestions
// and diagnostics.
func (idx *Index) Name() string { return idx.name }

// Kind reports whether the index supports range queries.
func (idx *Index) Kind() Kind { return idx.kind }

// Size returns the number of keys currently indexed.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.size
}

func (idx *Index) apply(batch core.Batch) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, msg := range batch {
		switch msg.Type {
		case core.Insert:
			idx.insertLocked(msg.Key, msg.Value)
		case core.Delete:
			idx.removeLocked(msg.Key)
		case core.Update:
			idx.removeLocked(msg.Key)
			idx.insertLocked(msg.Key, msg.Value)
		}
	}
}

func (idx *Index) insertLocked(key core.Key, row core.Row) {
	v, ok := row.Get(idx.path)
	if !ok {
		return
	}
	if _, exists := idx.keyVal[key]; exists {
		idx.removeLocked(key)
	}
	idx.keyVal[key] = v
	idx.size++

	eqKey := eqBucketKey(v)
	idx.eq[eqKey] = append(idx.eq[eqKey], key)

	if idx.kind == Ordered {
		i := sort.Search(len(idx.ordered), func(i int) bool {
			return compareValues(idx.ordered[i].value, v) >= 0
		})
		idx.ordered = append(idx.ordered, orderedEntry{})
		copy(idx.ordered[i+1:], idx.ordered[i:])
		idx.ordered[i] = orderedEntry{value: v, key: key}
	}
}

func (idx *Index) removeLocked(key core.Key) {
	v, ok := idx.keyVal[key]
	if !ok {
		return
	}
	delete(idx.keyVal, key)
	idx.size--

	eqKey := eqBucketKey(v)
	bucket := idx.eq[eqKey]
	for i, k := range bucket {
		if k == key {
			idx.eq[eqKey] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(idx.eq[eqKey]) == 0 {
		delete(idx.eq, eqKey)
	}

	if idx.kind == Ordered {
		for i, e := range idx.ordered {
			if e.key == key {
				idx.ordered = append(idx.ordered[:i], idx.ordered[i+1:]...)
				break
			}
		}
	}
}

// Lookup returns every key whose value at the index's path equals v.
func (idx *Index) Lookup(v any) []core.Key {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	bucket := idx.eq[eqBucketKey(v)]
	out := make([]core.Key, len(bucket))
	copy(out, bucket)
	return out
}

// Range returns every key whose value at the index's path falls within
// [lo, hi] (either bound nil means unbounded on that side). Only valid for
// an Ordered index; an Equality index returns nil.
func (idx *Index) Range(lo, hi any) []core.Key {
	if idx.kind != Ordered {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	start := 0
	if lo != nil {
		start = sort.Search(len(idx.ordered), func(i int) bool {
			return compareValues(idx.ordered[i].value, lo) >= 0
		})
	}
	end := len(idx.ordered)
	if hi != nil {
		end = sort.Search(len(idx.ordered), func(i int) bool {
			return compareValues(idx.ordered[i].value, hi) > 0
		})
	}
	if start >= end {
		return nil
	}
	out := make([]core.Key, 0, end-start)
	for _, e := range idx.ordered[start:end] {
		out = append(out, e.key)
	}
	return out
}

// eqBucketKey normalizes a value for hash-map lookup the same way
// core.NormalizeKey normalizes row keys, falling back to a type-tagged
// string for values no row key would ever hold (bools, floats with a
// fractional part).
func eqBucketKey(v any) string {
	k, err := core.NormalizeKey(v)
	if err == nil {
		return string(k)
	}
	switch t := v.(type) {
	case bool:
		if t {
			return "bool:true"
		}
		return "bool:false"
	case float64:
		return "f:" + string(core.Encode(core.Row{"v": t}))
	case nil:
		return "null"
	default:
		return string(core.Encode(core.Row{"v": v}))
	}
}

// compareValues orders two index values. Numeric types compare by
// magnitude; everything else falls back to string comparison of their
// normalized bucket key, which is stable but not numerically meaningful
// for mixed types — callers are expected to index a field holding a single
// consistent type, same assumption core.NormalizeKey makes of row keys.
func compareValues(a, b any) int {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := eqBucketKey(a), eqBucketKey(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	default:
		return 0, false
	}
}
