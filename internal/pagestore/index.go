package pagestore

// PathFunc names the on-disk file for a page given its id, relative
// to the index's own directory. Index never builds paths itself;
// cyclic ownership is avoided by passing the directory path in at
// construction instead of a back-pointer.
type PathFunc func(pageID uint32) string

// Index is a generic ordered map from key ranges to Pages: one per
// declared secondary index, and (specialized as DataIndex in package
// rowdir) the per-table row directory.
//
// Pages may be unloaded (their chunks evicted, the on-disk file
// authoritative); every operation reloads the pages it touches on
// demand through the index's record codec, so callers never see the
// loaded/unloaded distinction beyond the error return.
type Index[K Ordered, V any] struct {
	pages      omap[K, *Page[K, V]]
	codec      RecordCodec[K, V]
	pathFor    PathFunc
	nextPageID uint32
	tickFn     func() uint64

	Unique    bool
	AutoErase bool
}

// SetTick installs the database-wide tick source this index stamps
// onto every page it touches, so the cache's global LRU scan can
// compare pages across tables and indexes on one clock. A nil index
// (tickFn left unset) simply never advances its pages' ticks, which
// is harmless for an index the cache never needs to evict from (e.g.
// one built transiently during compaction, before Save installs it).
func (idx *Index[K, V]) SetTick(fn func() uint64) { idx.tickFn = fn }

func (idx *Index[K, V]) touch(p *Page[K, V]) {
	if idx.tickFn != nil {
		p.Touch(idx.tickFn())
	}
}

// ensure reloads p's chunks from disk if the cache evicted them, then
// bumps p's access tick.
func (idx *Index[K, V]) ensure(p *Page[K, V]) error {
	if err := EnsureLoaded(p, idx.codec); err != nil {
		return err
	}
	idx.touch(p)
	return nil
}

// NewIndex creates an index with its first page already installed at
// minKey (the type minimum for K), so that any insert finds a page by
// floor lookup.
func NewIndex[K Ordered, V any](minKey K, codec RecordCodec[K, V], pathFor PathFunc, unique, autoErase bool) *Index[K, V] {
	idx := &Index[K, V]{codec: codec, pathFor: pathFor, Unique: unique, AutoErase: autoErase}
	first := NewPage[K, V](0, pathFor(0), codec.Size())
	idx.pages.Put(minKey, first)
	idx.nextPageID = 1
	return idx
}

// PageCount is the number of pages currently known to the index
// (loaded or not).
func (idx *Index[K, V]) PageCount() int { return idx.pages.Len() }

// Pages returns the index's pages in ascending key order, for cache
// enumeration and persistence.
func (idx *Index[K, V]) Pages() []*Page[K, V] { return idx.pages.Values() }

// PageKeys returns the page map's keys, parallel to Pages().
func (idx *Index[K, V]) PageKeys() []K { return idx.pages.Keys() }

// rekeyPage re-keys p under its current minimum. The first page is
// never re-keyed: it keeps the type minimum it was created with, so
// a floor lookup finds a page for any key.
func (idx *Index[K, V]) rekeyPage(oldKey K, p *Page[K, V]) {
	if idx.pages.IndexOfKey(oldKey) == 0 {
		return
	}
	newKey, ok := p.Min()
	if !ok || newKey == oldKey {
		return
	}
	idx.pages.Delete(oldKey)
	idx.pages.Put(newKey, p)
}

// InsertRecord finds the page whose range covers r.Key by floor
// lookup, delegates to Page.Insert, rekeys the page on Remap, and
// splits the page once its chunk count exceeds MaxChunks.
func (idx *Index[K, V]) InsertRecord(r Record[K, V]) (Action, error) {
	key, page, _ := idx.pages.Floor(r.Key)
	if err := idx.ensure(page); err != nil {
		return 0, err
	}
	action, err := page.Insert(r, idx.Unique)
	if err != nil {
		return 0, err
	}
	if action&Remap != 0 {
		idx.rekeyPage(key, page)
	}
	if action&Split != 0 && page.ChunkCount() > MaxChunks {
		idx.splitPage(page)
	}
	return action, nil
}

// PushRecord is InsertRecord's monotone-key counterpart, used only by
// compaction and other callers that supply keys in non-decreasing order.
func (idx *Index[K, V]) PushRecord(r Record[K, V]) (Action, error) {
	key, page, ok := idx.pages.Last()
	if !ok {
		return 0, ErrInvalidArgument
	}
	if err := idx.ensure(page); err != nil {
		return 0, err
	}
	action, err := page.Push(r)
	if err != nil {
		return 0, err
	}
	if action&Remap != 0 {
		idx.rekeyPage(key, page)
	}
	if action&Split != 0 && page.ChunkCount() > MaxChunks {
		idx.splitPage(page)
	}
	return action, nil
}

func (idx *Index[K, V]) splitPage(page *Page[K, V]) {
	id := idx.nextPageID
	idx.nextPageID++
	newPage := page.Split(id, idx.pathFor(id))
	key, _ := newPage.Min()
	idx.pages.Put(key, newPage)
}

// Get returns the record with exactly key v.
func (idx *Index[K, V]) Get(v K) (Record[K, V], bool, error) {
	var zero Record[K, V]
	_, page, ok := idx.pages.Floor(v)
	if !ok {
		return zero, false, nil
	}
	if err := idx.ensure(page); err != nil {
		return zero, false, err
	}
	r, found := page.Get(v)
	return r, found, nil
}

// UpdateValue overwrites the value of the record with exactly key v,
// in place. Returns false if no such record exists.
func (idx *Index[K, V]) UpdateValue(v K, newValue V) (bool, error) {
	_, page, ok := idx.pages.Floor(v)
	if !ok {
		return false, nil
	}
	if err := idx.ensure(page); err != nil {
		return false, err
	}
	return page.UpdateValue(v, newValue), nil
}

// Query walks pages forward or backward, per the sign Page.Query
// returns when the cursor would leave a page. Entering an adjacent
// page, the cursor resumes at that page's minimum key (moving
// forward) or maximum key (moving backward).
func (idx *Index[K, V]) Query(start K, f QueryFunc[K, V]) error {
	key, page, ok := idx.pages.Floor(start)
	if !ok {
		key, page, ok = idx.pages.First()
		if !ok {
			return nil
		}
	}
	ord := idx.pages.IndexOfKey(key)
	lastOrd := idx.pages.Len() - 1
	next := start
	for {
		if err := idx.ensure(page); err != nil {
			return err
		}
		dir := page.Query(next, f)
		if dir == 0 {
			return nil
		}
		if dir > 0 {
			if ord == lastOrd {
				return nil
			}
			ord++
		} else {
			if ord == 0 {
				return nil
			}
			ord--
		}
		key, page = idx.pages.At(ord)
		if err := idx.ensure(page); err != nil {
			return err
		}
		if dir > 0 {
			next, _ = page.Min()
		} else {
			next, _ = page.Max()
		}
	}
}

// WalkAll visits every record across every page and chunk in
// ascending key order, the traversal primitive used by compaction
// and by the row directory's WalkAll. f returning false
// stops the walk early.
func (idx *Index[K, V]) WalkAll(f func(Record[K, V]) bool) error {
	for _, page := range idx.pages.Values() {
		if err := idx.ensure(page); err != nil {
			return err
		}
		for _, chunk := range page.Chunks() {
			for _, r := range chunk.records {
				if !f(r) {
					return nil
				}
			}
		}
	}
	return nil
}

// Compact builds a fresh index by walking this index's records in
// order and, for each, calling filter to decide whether to keep it
// and what value it should carry forward (e.g. dropping erased rows,
// or forwarding a remapped RowId through an update map). Surviving
// records are pushed into dest in order, so dest's pages are built
// with monotone PushRecord calls exactly as the original compaction
// does. This one primitive implements every case in the compaction
// table (row directory, Row-typed index, plain secondary index); the
// policy lives in the filter closure the table layer supplies.
func (idx *Index[K, V]) Compact(dest *Index[K, V], filter func(Record[K, V]) (Record[K, V], bool)) error {
	var pushErr error
	walkErr := idx.WalkAll(func(r Record[K, V]) bool {
		newR, keep := filter(r)
		if !keep {
			return true
		}
		if _, err := dest.PushRecord(newR); err != nil {
			pushErr = err
			return false
		}
		return true
	})
	if pushErr != nil {
		return pushErr
	}
	return walkErr
}

// MemoryUsage sums the resident memory of every loaded page.
func (idx *Index[K, V]) MemoryUsage() int {
	total := 0
	for _, p := range idx.pages.Values() {
		if p.Loaded() {
			total += p.MemoryUsage()
		}
	}
	return total
}
