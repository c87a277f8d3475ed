package pagestore

import (
	"fmt"
	"os"
	"path/filepath"

	"varstore/internal/durable"
)

// Index type codes, stable on-disk identifiers. DataIndexType is
// never serialized into a filename and NewAnyIndex does not accept
// it: the row directory is opened through package rowdir.
const (
	TypeInt32  byte = 1
	TypeUInt32 byte = 2
	TypeInt64  byte = 3
	TypeUInt64 byte = 4
	TypeFloat  byte = 5
	TypeDouble byte = 6
	TypeRow    byte = 7
	TypeHash   byte = 8

	DataIndexType byte = 255
)

// AnyIndex boxes a concrete Index[K, RowId] behind a non-generic
// interface, so Table can hold heterogeneous secondary indexes in one
// map keyed by name. Go has no generic interface methods, so the
// handful of supported key types are boxed through `any` at this
// boundary and unboxed inside the adapter, selected by a factory
// keyed on the stable on-disk type code.
type AnyIndex interface {
	TypeCode() byte
	Unique() bool
	AutoErase() bool
	PageCount() int
	MemoryUsage() int

	// SetTick installs the database-wide tick source consulted on every
	// page this index touches, for the cache's global LRU eviction scan.
	SetTick(fn func() uint64)

	// Insert boxes value as the index's concrete key type and
	// inserts (value, row). ErrInvalidArgument if value does not
	// match the index's declared type.
	Insert(value any, row RowId) (Action, error)

	// GetFirst returns the first row whose key equals value exactly.
	GetFirst(value any) (RowId, bool, error)

	// Query drives a bidirectional cursor exactly like Index.Query,
	// boxing each visited key back to `any` for the caller.
	Query(start any, f func(row RowId, value any) int) error

	// RangeRowIDs collects every row id whose key lies in [start,
	// end], in ascending key order.
	RangeRowIDs(start, end any) ([]RowId, error)

	// Join scans every record whose key (the indexed foreign-key value)
	// is in targets, and returns the boxed RowId values of matches:
	// meaningful only for a Row-typed index, whose key is itself a
	// RowId reference to another row; other index types return nil.
	Join(targets map[RowId]bool) ([]any, error)

	// Compact rewrites the index in place, keeping only records
	// filter decides to keep (optionally reassigning their RowId
	// value, e.g. to forward a remap), then persists the rewritten
	// index and removes page files it no longer references.
	Compact(dir durable.Dir, filter func(value any, row RowId) (newRow RowId, keep bool)) error

	// Save persists meta.vdb and every dirty page through dir's
	// durable protocol.
	Save(dir durable.Dir) error

	// LowestTick peeks the access tick of this index's least-recently
	// touched loaded page, for the cache's global eviction scan.
	LowestTick() (uint64, bool)

	// EvictPage flushes (if dirty) and unloads this index's single
	// least-recently touched loaded page, returning the memory freed.
	EvictPage(dir durable.Dir) (int, error)
}

type indexAdapter[K Ordered] struct {
	idx      *Index[K, RowId]
	typeCode byte
	codec    primitiveCodec[K]
	metaName string
	toKey    func(any) (K, bool)

	// keyToRow converts a record's key back to a RowId, non-nil only
	// for a Row-typed index (the only kind whose key is itself a
	// foreign-key reference to another row, making Join meaningful).
	keyToRow func(K) (RowId, bool)
}

const indexMetaName = "meta.vdb"

func newAdapter[K Ordered](typeCode byte, codec primitiveCodec[K], toKey func(any) (K, bool), keyToRow func(K) (RowId, bool), dirRoot string, minKey K, unique, autoErase bool) (*indexAdapter[K], error) {
	pathFor := func(id uint32) string { return filepath.Join(dirRoot, fmt.Sprintf("%d", id)) }
	idx, err := Open[K, RowId](filepath.Join(dirRoot, indexMetaName), minKey, codec, pathFor, codec.keyCodec(), unique, autoErase)
	if err != nil {
		return nil, err
	}
	return &indexAdapter[K]{idx: idx, typeCode: typeCode, codec: codec, metaName: indexMetaName, toKey: toKey, keyToRow: keyToRow}, nil
}

func (a *indexAdapter[K]) TypeCode() byte   { return a.typeCode }
func (a *indexAdapter[K]) Unique() bool     { return a.idx.Unique }
func (a *indexAdapter[K]) AutoErase() bool  { return a.idx.AutoErase }
func (a *indexAdapter[K]) PageCount() int   { return a.idx.PageCount() }
func (a *indexAdapter[K]) MemoryUsage() int { return a.idx.MemoryUsage() }

func (a *indexAdapter[K]) SetTick(fn func() uint64) { a.idx.SetTick(fn) }

func (a *indexAdapter[K]) Insert(value any, row RowId) (Action, error) {
	k, ok := a.toKey(value)
	if !ok {
		return 0, fmt.Errorf("pagestore: %w: value %v is not assignable to index key type", ErrInvalidArgument, value)
	}
	return a.idx.InsertRecord(Record[K, RowId]{Key: k, Value: row})
}

func (a *indexAdapter[K]) GetFirst(value any) (RowId, bool, error) {
	k, ok := a.toKey(value)
	if !ok {
		return 0, false, fmt.Errorf("pagestore: %w: value %v is not assignable to index key type", ErrInvalidArgument, value)
	}
	r, ok, err := a.idx.Get(k)
	if err != nil {
		return 0, false, err
	}
	return r.Value, ok, nil
}

func (a *indexAdapter[K]) Query(start any, f func(row RowId, value any) int) error {
	k, ok := a.toKey(start)
	if !ok {
		return fmt.Errorf("pagestore: %w: start %v is not assignable to index key type", ErrInvalidArgument, start)
	}
	return a.idx.Query(k, func(key K, value RowId) int { return f(value, key) })
}

func (a *indexAdapter[K]) RangeRowIDs(start, end any) ([]RowId, error) {
	startKey, ok := a.toKey(start)
	if !ok {
		return nil, ErrInvalidArgument
	}
	endKey, ok := a.toKey(end)
	if !ok {
		return nil, ErrInvalidArgument
	}
	if startKey > endKey {
		return nil, ErrInvalidArgument
	}
	var out []RowId
	err := a.idx.Query(startKey, func(key K, value RowId) int {
		if key > endKey {
			return 0
		}
		if key < startKey {
			// The cursor footing can land on the floor record just
			// below start; skip past it.
			return 1
		}
		out = append(out, value)
		return 1
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *indexAdapter[K]) Join(targets map[RowId]bool) ([]any, error) {
	if a.keyToRow == nil {
		return nil, nil
	}
	var out []any
	err := a.idx.WalkAll(func(r Record[K, RowId]) bool {
		if rid, ok := a.keyToRow(r.Key); ok && targets[rid] {
			out = append(out, r.Value)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *indexAdapter[K]) Compact(dir durable.Dir, filter func(value any, row RowId) (RowId, bool)) error {
	minKey, _ := firstPageMin(a.idx)
	fresh := NewIndex[K, RowId](minKey, a.codec, a.idx.pathFor, a.idx.Unique, a.idx.AutoErase)
	fresh.SetTick(a.idx.tickFn)
	err := a.idx.Compact(fresh, func(r Record[K, RowId]) (Record[K, RowId], bool) {
		newRow, keep := filter(r.Key, r.Value)
		if !keep {
			return r, false
		}
		r.Value = newRow
		return r, true
	})
	if err != nil {
		return err
	}
	a.idx = fresh
	if err := a.Save(dir); err != nil {
		return err
	}
	return RemoveStalePages(dir, fresh.Pages())
}

// RemoveStalePages deletes page files left over from before a
// compaction rewrite that the fresh index no longer references.
// Unlike a normal save, a compaction rewrite is not meant to be
// rolled back to its pre-compaction state, so these are removed
// directly rather than through the old/ backup protocol.
func RemoveStalePages[K Ordered, V any](dir durable.Dir, kept []*Page[K, V]) error {
	live := make(map[string]bool, len(kept))
	for _, p := range kept {
		live[filepath.Base(p.Path())] = true
	}
	entries, err := os.ReadDir(dir.Root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == indexMetaName || live[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(dir.Root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (a *indexAdapter[K]) Save(dir durable.Dir) error {
	return a.idx.Save(dir, a.metaName, a.codec.keyCodec())
}

func (a *indexAdapter[K]) lruPage() *Page[K, RowId] {
	var lru *Page[K, RowId]
	for _, p := range a.idx.Pages() {
		if !p.Loaded() {
			continue
		}
		if lru == nil || p.Tick() < lru.Tick() {
			lru = p
		}
	}
	return lru
}

func (a *indexAdapter[K]) LowestTick() (uint64, bool) {
	p := a.lruPage()
	if p == nil {
		return 0, false
	}
	return p.Tick(), true
}

func (a *indexAdapter[K]) EvictPage(dir durable.Dir) (int, error) {
	p := a.lruPage()
	if p == nil {
		return 0, nil
	}
	freed := p.MemoryUsage()
	if p.Dirty() {
		name := filepath.Base(p.Path())
		if err := dir.WriteFile(name, EncodePage(p, a.codec), 0o644); err != nil {
			return 0, err
		}
		p.MarkClean()
	}
	p.Unload()
	return freed, nil
}

func firstPageMin[K Ordered, V any](idx *Index[K, V]) (K, bool) {
	if len(idx.PageKeys()) == 0 {
		var zero K
		return zero, false
	}
	return idx.PageKeys()[0], true
}
