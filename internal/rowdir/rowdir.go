// Package rowdir implements the row directory (DataIndex): the
// per-table specialization of pagestore.Index keyed by RowId, mapping
// every row id ever assigned to either its live (block, offset), an
// erased marker, or a forward pointer to the row id that superseded
// it.
package rowdir

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"varstore/internal/durable"
	"varstore/internal/pagestore"
)

// RowId is re-exported from pagestore so callers outside this package
// never need to import pagestore directly for it.
type RowId = pagestore.RowId

// DataPointer is a row directory entry, kept as an explicit tagged
// struct rather than a single bit-packed pointer word with a remap
// tag bit, trading nine bytes per record for a representation that
// cannot be misread by a future maintainer squinting at a bitmask.
//
//   - Remap=false:                payload lives at (Block, Offset).
//   - Remap=true,  RowPointer==0:  row is erased.
//   - Remap=true,  RowPointer!=0:  row was updated; forwards once.
type DataPointer struct {
	Remap      bool
	Block      uint32
	Offset     uint32
	RowPointer RowId
}

// dataRecordCodec is the pagestore.RecordCodec[RowId, DataPointer]
// used for every row directory page file: rowId:u64, then 1 flag
// byte, block:u32, offset:u32, rowPointer:u64 — 25 bytes per record.
// The key is stored explicitly even though RowIds are assigned
// monotonically database-wide, because a single table's directory
// sees only the RowIds its own inserts produced and so is not
// contiguous.
type dataRecordCodec struct{}

func (dataRecordCodec) Size() int { return 25 }

func (dataRecordCodec) Encode(buf []byte, r pagestore.Record[RowId, DataPointer]) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Key))
	if r.Value.Remap {
		buf[8] = 1
	} else {
		buf[8] = 0
	}
	binary.LittleEndian.PutUint32(buf[9:13], r.Value.Block)
	binary.LittleEndian.PutUint32(buf[13:17], r.Value.Offset)
	binary.LittleEndian.PutUint64(buf[17:25], uint64(r.Value.RowPointer))
}

func (dataRecordCodec) Decode(buf []byte) pagestore.Record[RowId, DataPointer] {
	return pagestore.Record[RowId, DataPointer]{
		Key: RowId(binary.LittleEndian.Uint64(buf[0:8])),
		Value: DataPointer{
			Remap:      buf[8] != 0,
			Block:      binary.LittleEndian.Uint32(buf[9:13]),
			Offset:     binary.LittleEndian.Uint32(buf[13:17]),
			RowPointer: RowId(binary.LittleEndian.Uint64(buf[17:25])),
		},
	}
}

// DataIndex is the per-table row directory.
type DataIndex struct {
	idx      *pagestore.Index[RowId, DataPointer]
	dir      durable.Dir
	metaName string
	tickFn   func() uint64
}

const metaName = "meta.vdb"

// Open reconstructs a table's row directory from dirRoot/meta.vdb, or
// creates a fresh one if dirRoot has never been saved.
func Open(dirRoot string) (*DataIndex, error) {
	pathFor := func(id uint32) string { return filepath.Join(dirRoot, fmt.Sprintf("%d", id)) }
	idx, err := pagestore.Open[RowId, DataPointer](
		filepath.Join(dirRoot, metaName), RowId(0), dataRecordCodec{}, pathFor, rowKeyCodec{}, false, false,
	)
	if err != nil {
		return nil, err
	}
	return &DataIndex{idx: idx, dir: durable.Dir{Root: dirRoot}, metaName: metaName}, nil
}

// Insert records a freshly packed payload's location. Row ids are
// allocated monotonically by the database, so this always targets
// the directory's last page.
func (d *DataIndex) Insert(rowID RowId, block, offset uint32) error {
	_, err := d.idx.PushRecord(pagestore.Record[RowId, DataPointer]{
		Key:   rowID,
		Value: DataPointer{Block: block, Offset: offset},
	})
	return err
}

// Get reads the directory entry for rowID.
func (d *DataIndex) Get(rowID RowId) (DataPointer, bool, error) {
	r, ok, err := d.idx.Get(rowID)
	return r.Value, ok, err
}

// Erase sets remap=1, pointer=0 in place.
func (d *DataIndex) Erase(rowID RowId) (bool, error) {
	return d.idx.UpdateValue(rowID, DataPointer{Remap: true})
}

// Forward sets remap=1, pointer=newRowID in place, used by Table's
// update operation once it has allocated newRowID.
func (d *DataIndex) Forward(rowID, newRowID RowId) (bool, error) {
	return d.idx.UpdateValue(rowID, DataPointer{Remap: true, RowPointer: newRowID})
}

// Relocate repoints rowID's directory entry at a freshly rewritten
// payload location, used by Table's compaction pass once it has
// rewritten the data blocks.
func (d *DataIndex) Relocate(rowID RowId, block, offset uint32) (bool, error) {
	return d.idx.UpdateValue(rowID, DataPointer{Block: block, Offset: offset})
}

// TraverseStart scans the directory in ascending RowId order, calling
// f(rowID, pointer) at each entry; f's return directs motion exactly
// like a pagestore.QueryFunc.
func (d *DataIndex) TraverseStart(f func(RowId, DataPointer) int) error {
	return d.idx.Query(RowId(0), f)
}

// TraverseEnd scans the directory in descending RowId order, starting
// from the greatest assigned RowId.
func (d *DataIndex) TraverseEnd(f func(RowId, DataPointer) int) error {
	return d.idx.Query(RowId(^uint64(0)), f)
}

// WalkAll visits every directory entry in ascending RowId order.
func (d *DataIndex) WalkAll(f func(RowId, DataPointer) bool) error {
	return d.idx.WalkAll(func(r pagestore.Record[RowId, DataPointer]) bool { return f(r.Key, r.Value) })
}

// MemoryUsage sums the resident memory of every loaded page.
func (d *DataIndex) MemoryUsage() int { return d.idx.MemoryUsage() }

// SetTick installs the database-wide tick source stamped onto every
// page this directory touches, for the cache's global LRU scan.
func (d *DataIndex) SetTick(fn func() uint64) {
	d.tickFn = fn
	d.idx.SetTick(fn)
}

// Pages exposes the underlying pages for the cache's eviction sweep.
func (d *DataIndex) Pages() []*pagestore.Page[RowId, DataPointer] { return d.idx.Pages() }

func (d *DataIndex) lruPage() *pagestore.Page[RowId, DataPointer] {
	var lru *pagestore.Page[RowId, DataPointer]
	for _, p := range d.idx.Pages() {
		if !p.Loaded() {
			continue
		}
		if lru == nil || p.Tick() < lru.Tick() {
			lru = p
		}
	}
	return lru
}

// LowestTick peeks the access tick of the least-recently touched
// loaded page, for the cache's global eviction scan.
func (d *DataIndex) LowestTick() (uint64, bool) {
	p := d.lruPage()
	if p == nil {
		return 0, false
	}
	return p.Tick(), true
}

// EvictPage flushes (if dirty) and unloads the least-recently touched
// loaded page, returning the memory freed.
func (d *DataIndex) EvictPage() (int, error) {
	p := d.lruPage()
	if p == nil {
		return 0, nil
	}
	freed := p.MemoryUsage()
	if p.Dirty() {
		name := filepath.Base(p.Path())
		if err := d.dir.WriteFile(name, pagestore.EncodePage(p, dataRecordCodec{}), 0o644); err != nil {
			return 0, err
		}
		p.MarkClean()
	}
	p.Unload()
	return freed, nil
}

// Save persists meta.vdb and every dirty page through the durable
// save protocol.
func (d *DataIndex) Save() error {
	return d.idx.Save(d.dir, d.metaName, rowKeyCodec{})
}

// Compact replaces the directory with a fresh one containing only
// live entries (remap==false), built by walking this directory in
// ascending order and pushing survivors. It returns the set of erased RowIds and the update map
// of old RowId -> new RowId for the subset that had been updated, for
// the caller to drive secondary-index compaction.
func (d *DataIndex) Compact() (erased map[RowId]bool, updateMap map[RowId]RowId, err error) {
	pathFor := func(id uint32) string { return filepath.Join(d.dir.Root, fmt.Sprintf("%d", id)) }
	fresh := pagestore.NewIndex[RowId, DataPointer](RowId(0), dataRecordCodec{}, pathFor, false, false)
	fresh.SetTick(d.tickFn)

	erased = make(map[RowId]bool)
	updateMap = make(map[RowId]RowId)

	filterErr := d.idx.Compact(fresh, func(r pagestore.Record[RowId, DataPointer]) (pagestore.Record[RowId, DataPointer], bool) {
		if !r.Value.Remap {
			return r, true
		}
		erased[r.Key] = true
		if r.Value.RowPointer != 0 {
			updateMap[r.Key] = r.Value.RowPointer
		}
		return r, false
	})
	if filterErr != nil {
		return nil, nil, filterErr
	}

	d.idx = fresh
	if err := d.Save(); err != nil {
		return nil, nil, err
	}
	if err := pagestore.RemoveStalePages(d.dir, d.idx.Pages()); err != nil {
		return nil, nil, err
	}
	return erased, updateMap, nil
}

type rowKeyCodec struct{}

func (rowKeyCodec) Size() int                  { return 8 }
func (rowKeyCodec) Encode(buf []byte, k RowId) { binary.LittleEndian.PutUint64(buf, uint64(k)) }
func (rowKeyCodec) Decode(buf []byte) RowId    { return RowId(binary.LittleEndian.Uint64(buf)) }
