package pagestore

import "sort"

// Chunk is a sorted array of records, the unit of binary-search
// lookup inside a Page. len(records) <= SplitChunkSize is maintained
// by the caller calling split() as soon as Split is signalled; at
// rest (between calls) len(records) < MaxChunkSize.
type Chunk[K Ordered, V any] struct {
	records []Record[K, V]
}

func newChunk[K Ordered, V any](r Record[K, V]) *Chunk[K, V] {
	return &Chunk[K, V]{records: []Record[K, V]{r}}
}

// lowerBound returns the first index whose key is >= k, and whether
// that index holds a record with key exactly k.
func (c *Chunk[K, V]) lowerBound(k K) (int, bool) {
	i := sort.Search(len(c.records), func(i int) bool { return c.records[i].Key >= k })
	return i, i < len(c.records) && c.records[i].Key == k
}

// insert places r in sorted order; it performs no unique check (that
// is insertUnique's job). When multiple
// records share a key (non-unique), new ones are inserted after the
// existing run so the caller's query cursor sees them in insertion
// order for a fixed key.
func (c *Chunk[K, V]) insert(r Record[K, V]) (Action, error) {
	pos, found := c.lowerBound(r.Key)
	if found {
		pos = c.endOfRun(pos, r.Key)
	}
	return c.insertAt(pos, r), nil
}

// insertUnique is insert with the ConflictUnique check; kept as a
// separate entry point so Page/Index can decide per-call whether
// uniqueness applies without threading a bool through every frame.
func (c *Chunk[K, V]) insertUnique(r Record[K, V]) (Action, error) {
	pos, found := c.lowerBound(r.Key)
	if found {
		return 0, ErrConflictUnique
	}
	return c.insertAt(pos, r), nil
}

func (c *Chunk[K, V]) endOfRun(pos int, k K) int {
	for pos < len(c.records) && c.records[pos].Key == k {
		pos++
	}
	return pos
}

func (c *Chunk[K, V]) insertAt(pos int, r Record[K, V]) Action {
	var action Action
	if pos == len(c.records) {
		action |= Append
	}
	if pos == 0 {
		action |= Remap
	}
	c.records = append(c.records, Record[K, V]{})
	copy(c.records[pos+1:], c.records[pos:])
	c.records[pos] = r
	if len(c.records) >= SplitChunkSize {
		action |= Split
	}
	return action
}

// push appends r to the end of the chunk without searching; valid
// only when the caller guarantees r.Key is >= every existing key.
func (c *Chunk[K, V]) push(r Record[K, V]) Action {
	return c.insertAt(len(c.records), r)
}

// get returns the record with exactly key k.
func (c *Chunk[K, V]) get(k K) (Record[K, V], bool) {
	pos, found := c.lowerBound(k)
	if !found {
		var zero Record[K, V]
		return zero, false
	}
	return c.records[pos], true
}

// setValue overwrites the value of the record with exactly key k,
// without touching ordering (the key is unchanged). Used by the row
// directory to mark an entry erased or remapped in place.
func (c *Chunk[K, V]) setValue(k K, v V) bool {
	pos, found := c.lowerBound(k)
	if !found {
		return false
	}
	c.records[pos].Value = v
	return true
}

// min is the chunk's minimum key. Only valid on a non-empty chunk.
func (c *Chunk[K, V]) min() K { return c.records[0].Key }

func (c *Chunk[K, V]) len() int { return len(c.records) }

// split removes the upper half of the chunk's records by index
// midpoint and returns a new chunk holding them.
func (c *Chunk[K, V]) split() *Chunk[K, V] {
	mid := len(c.records) / 2
	upper := make([]Record[K, V], len(c.records)-mid)
	copy(upper, c.records[mid:])
	c.records = c.records[:mid:mid]
	return &Chunk[K, V]{records: upper}
}

func (c *Chunk[K, V]) memoryUsage(recordSize int) int { return len(c.records) * recordSize }
