package pagestore

import "sort"

// omap is a small ordered map keyed by a cmp.Ordered type, backed by
// parallel sorted slices. It underlies both Page's chunk map (chunk
// minimum key -> *Chunk) and Index's page map (page minimum key ->
// *Page); both need floor lookup and ordinal neighbor access for
// query traversal, neither needs more than a few thousand entries, so
// a sorted-slice map (binary-searched, linear insert/delete) is the
// simplest structure that satisfies both without a third-party
// B-tree/skiplist dependency for something this small.
type omap[K Ordered, V any] struct {
	keys []K
	vals []V
}

// Ordered is the key constraint shared by every pagestore generic:
// the subset of cmp.Ordered that the index key types use, spelled
// out locally so this package does not require a "cmp" import for a
// single constraint.
type Ordered interface {
	~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64 | ~string
}

func (m *omap[K, V]) Len() int { return len(m.keys) }

// search returns the index of the first key >= k (lower bound), and
// whether that key equals k exactly.
func (m *omap[K, V]) search(k K) (int, bool) {
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= k })
	return i, i < len(m.keys) && m.keys[i] == k
}

// Put inserts or replaces the value for k.
func (m *omap[K, V]) Put(k K, v V) {
	i, found := m.search(k)
	if found {
		m.vals[i] = v
		return
	}
	m.keys = append(m.keys, k)
	copy(m.keys[i+1:], m.keys[i:])
	m.keys[i] = k
	m.vals = append(m.vals, v)
	copy(m.vals[i+1:], m.vals[i:])
	m.vals[i] = v
}

// Delete removes k if present.
func (m *omap[K, V]) Delete(k K) {
	i, found := m.search(k)
	if !found {
		return
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
}

// Get returns the value stored for k, if any.
func (m *omap[K, V]) Get(k K) (V, bool) {
	i, found := m.search(k)
	if !found {
		var zero V
		return zero, false
	}
	return m.vals[i], true
}

// Floor returns the entry with the greatest key <= k.
func (m *omap[K, V]) Floor(k K) (K, V, bool) {
	i, found := m.search(k)
	if found {
		return m.keys[i], m.vals[i], true
	}
	if i == 0 {
		var zero V
		var zeroK K
		return zeroK, zero, false
	}
	return m.keys[i-1], m.vals[i-1], true
}

// First returns the smallest-keyed entry.
func (m *omap[K, V]) First() (K, V, bool) {
	if len(m.keys) == 0 {
		var zeroK K
		var zero V
		return zeroK, zero, false
	}
	return m.keys[0], m.vals[0], true
}

// Last returns the greatest-keyed entry.
func (m *omap[K, V]) Last() (K, V, bool) {
	if len(m.keys) == 0 {
		var zeroK K
		var zero V
		return zeroK, zero, false
	}
	n := len(m.keys) - 1
	return m.keys[n], m.vals[n], true
}

// IndexOfKey returns the ordinal position of an exact key, or -1.
func (m *omap[K, V]) IndexOfKey(k K) int {
	i, found := m.search(k)
	if !found {
		return -1
	}
	return i
}

// At returns the key/value at ordinal position i.
func (m *omap[K, V]) At(i int) (K, V) { return m.keys[i], m.vals[i] }

// Keys returns the keys in ascending order. The returned slice is
// owned by the map and must not be mutated.
func (m *omap[K, V]) Keys() []K { return m.keys }

// Values returns the values in ascending key order. The returned
// slice is owned by the map and must not be mutated.
func (m *omap[K, V]) Values() []V { return m.vals }
