package pagestore

// Page is a bounded container of chunks, keyed in an omap by each
// chunk's minimum key. An empty page (no chunks at all) exists
// only transiently: right after construction, before the first
// insert installs the initial chunk.
type Page[K Ordered, V any] struct {
	id         uint32
	chunks     omap[K, *Chunk[K, V]]
	recordSize int

	tick   uint64
	loaded bool
	dirty  bool
	path   string
}

// NewPage constructs an empty, loaded page. recordSize is the fixed
// on-disk/in-memory size of one Record[K,V], used for cache billing.
func NewPage[K Ordered, V any](id uint32, path string, recordSize int) *Page[K, V] {
	return &Page[K, V]{id: id, path: path, recordSize: recordSize, loaded: true}
}

// ID is the page's stable on-disk identifier (its file name).
func (p *Page[K, V]) ID() uint32 { return p.id }

// ChunkCount is the number of chunks currently held.
func (p *Page[K, V]) ChunkCount() int { return p.chunks.Len() }

// Min is the page's minimum key, i.e. the minimum key of its first
// chunk. Only meaningful once the page holds at least one chunk.
func (p *Page[K, V]) Min() (K, bool) {
	_, chunk, ok := p.chunks.First()
	if !ok {
		var zero K
		return zero, false
	}
	return chunk.min(), true
}

// Max is the page's maximum key, i.e. the last record of its last
// chunk. Only meaningful once the page holds at least one chunk.
func (p *Page[K, V]) Max() (K, bool) {
	_, chunk, ok := p.chunks.Last()
	if !ok || chunk.len() == 0 {
		var zero K
		return zero, false
	}
	return chunk.records[chunk.len()-1].Key, true
}

func (p *Page[K, V]) floorChunk(k K) (K, *Chunk[K, V], bool) {
	if ck, c, ok := p.chunks.Floor(k); ok {
		return ck, c, true
	}
	return p.chunks.First()
}

func (p *Page[K, V]) rekeyChunk(oldKey K, c *Chunk[K, V]) {
	p.chunks.Delete(oldKey)
	p.chunks.Put(c.min(), c)
}

// insertInto runs ins against the chunk enclosing r.Key (installing
// the page's first chunk if the page is still empty), then keeps the
// chunk map's keys consistent, splitting the chunk when it has
// reached SplitChunkSize. The Split bit stays set in the returned
// action so the owning index can check the page's chunk count.
func (p *Page[K, V]) insertInto(r Record[K, V], ins func(*Chunk[K, V], Record[K, V]) (Action, error)) (Action, error) {
	if p.chunks.Len() == 0 {
		p.dirty = true
		c := newChunk(r)
		p.chunks.Put(r.Key, c)
		return Remap | Append, nil
	}
	ck, c, _ := p.floorChunk(r.Key)
	action, err := ins(c, r)
	if err != nil {
		return 0, err
	}
	p.dirty = true
	if action&Remap != 0 {
		p.rekeyChunk(ck, c)
	}
	if action&Split != 0 {
		p.splitChunk(c)
	}
	return action, nil
}

func (p *Page[K, V]) splitChunk(c *Chunk[K, V]) {
	upper := c.split()
	p.chunks.Put(upper.min(), upper)
}

// Insert binary-searches the enclosing chunk and inserts r in sorted
// order, failing with ErrConflictUnique when unique is set and an
// equal key already occupies the insertion slot.
func (p *Page[K, V]) Insert(r Record[K, V], unique bool) (Action, error) {
	if unique {
		return p.insertInto(r, func(c *Chunk[K, V], r Record[K, V]) (Action, error) { return c.insertUnique(r) })
	}
	return p.insertInto(r, func(c *Chunk[K, V], r Record[K, V]) (Action, error) { return c.insert(r) })
}

// Push appends r to the page's last chunk without searching; valid
// only when the caller guarantees r.Key is >= every key already in
// the page.
func (p *Page[K, V]) Push(r Record[K, V]) (Action, error) {
	p.dirty = true
	if p.chunks.Len() == 0 {
		c := newChunk(r)
		p.chunks.Put(r.Key, c)
		return Remap | Append, nil
	}
	ck, c, _ := p.chunks.Last()
	action := c.push(r)
	if action&Remap != 0 {
		p.rekeyChunk(ck, c)
	}
	if action&Split != 0 {
		p.splitChunk(c)
	}
	return action, nil
}

// UpdateValue overwrites the value of the record with exactly key v,
// in place, without reordering. Returns false if no such record
// exists.
func (p *Page[K, V]) UpdateValue(v K, newValue V) bool {
	_, c, ok := p.floorChunk(v)
	if !ok {
		return false
	}
	if c.setValue(v, newValue) {
		p.dirty = true
		return true
	}
	return false
}

// Get returns the record with exactly key v.
func (p *Page[K, V]) Get(v K) (Record[K, V], bool) {
	_, c, ok := p.floorChunk(v)
	if !ok {
		var zero Record[K, V]
		return zero, false
	}
	return c.get(v)
}

// Query runs a bidirectional cursor starting from the chunk
// containing start, invoking f at each record in turn and moving per
// its return sign. The cursor begins at the first record whose key is
// >= start, or at the floor chunk's last record when every key there
// is below start (so a backward traversal started past the maximum
// key still finds its footing). It returns 0 if f stopped the
// traversal, or the same sign f last returned if the cursor walked
// off either end of the page (the caller, typically an Index,
// continues into an adjacent page with that sign).
func (p *Page[K, V]) Query(start K, f QueryFunc[K, V]) int {
	if p.chunks.Len() == 0 {
		return 0
	}
	chunkKey, c, ok := p.floorChunk(start)
	if !ok {
		chunkKey, c, _ = p.chunks.First()
	}
	chunkOrd := p.chunks.IndexOfKey(chunkKey)
	idx, _ := c.lowerBound(start)
	if idx >= c.len() {
		idx = c.len() - 1
	}
	lastOrd := p.chunks.Len() - 1

	for {
		if idx < 0 {
			if chunkOrd == 0 {
				return -1
			}
			chunkOrd--
			_, c = p.chunks.At(chunkOrd)
			idx = c.len() - 1
			continue
		}
		if idx >= c.len() {
			if chunkOrd == lastOrd {
				return 1
			}
			chunkOrd++
			_, c = p.chunks.At(chunkOrd)
			idx = 0
			continue
		}
		rec := c.records[idx]
		dir := f(rec.Key, rec.Value)
		if dir == 0 {
			return 0
		}
		if dir > 0 {
			idx++
		} else {
			idx--
		}
	}
}

// Split removes the upper half of this page's chunks by ordinal
// position and returns a new page holding them, identified
// by newID and persisted at newPath.
func (p *Page[K, V]) Split(newID uint32, newPath string) *Page[K, V] {
	n := p.chunks.Len()
	half := n / 2
	keep := n - half

	newPage := &Page[K, V]{id: newID, path: newPath, recordSize: p.recordSize, loaded: true}
	keys := append([]K(nil), p.chunks.Keys()[keep:]...)
	vals := append([]*Chunk[K, V](nil), p.chunks.Values()[keep:]...)
	for i, k := range keys {
		newPage.chunks.Put(k, vals[i])
	}

	keepKeys := append([]K(nil), p.chunks.Keys()[:keep]...)
	keepVals := append([]*Chunk[K, V](nil), p.chunks.Values()[:keep]...)
	p.chunks = omap[K, *Chunk[K, V]]{}
	for i, k := range keepKeys {
		p.chunks.Put(k, keepVals[i])
	}
	p.dirty = true
	newPage.dirty = true
	return newPage
}

// MemoryUsage implements the Pageable cache contract.
func (p *Page[K, V]) MemoryUsage() int {
	total := 0
	for _, c := range p.chunks.Values() {
		total += c.memoryUsage(p.recordSize)
	}
	return total
}

// Tick returns the page's last-access tick.
func (p *Page[K, V]) Tick() uint64 { return p.tick }

// Touch bumps the page's last-access tick, called by the owning Index on every
// read or write that reaches this page.
func (p *Page[K, V]) Touch(tick uint64) { p.tick = tick }

// Loaded reports whether the page's chunks currently live in memory.
func (p *Page[K, V]) Loaded() bool { return p.loaded }

// Dirty reports whether the page has unsaved mutations.
func (p *Page[K, V]) Dirty() bool { return p.dirty }

// Path is the page's on-disk file path.
func (p *Page[K, V]) Path() string { return p.path }

// MarkClean clears the dirty flag after a successful store.
func (p *Page[K, V]) MarkClean() { p.dirty = false }

// Unload drops the page's in-memory chunks, marking it unloaded so
// the next access triggers a reload from disk. The caller (the cache)
// is responsible for having already stored the page if dirty.
func (p *Page[K, V]) Unload() {
	p.chunks = omap[K, *Chunk[K, V]]{}
	p.loaded = false
}

// Load installs freshly decoded chunks, e.g. after a disk read,
// marking the page loaded again. Identity (the *Page pointer) is
// preserved across Unload/Load.
func (p *Page[K, V]) Load(chunks []*Chunk[K, V]) {
	p.chunks = omap[K, *Chunk[K, V]]{}
	for _, c := range chunks {
		p.chunks.Put(c.min(), c)
	}
	p.loaded = true
}

// Chunks returns the page's chunks in ascending key order, for
// persistence and compaction traversal.
func (p *Page[K, V]) Chunks() []*Chunk[K, V] { return p.chunks.Values() }
