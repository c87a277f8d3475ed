package datablock

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"varstore/internal/durable"
	"varstore/internal/format"
)

// Dir owns every data block belonging to one table, and implements
// the block-selection policy a Table consults on every Insert: prefer
// the most recently used block with enough remaining capacity,
// falling back to a linear scan in ascending block id, falling back
// to allocating a new block.
type Dir struct {
	root   string
	dir    durable.Dir
	blocks map[uint32]*Block
	order  []uint32 // most-recently-used block ids, front = most recent
	nextID uint32
	tickFn func() uint64
}

// SetTick installs the database-wide tick source stamped onto every
// block this directory touches, for the cache's global LRU scan.
func (d *Dir) SetTick(fn func() uint64) { d.tickFn = fn }

func (d *Dir) touch(b *Block) {
	if d.tickFn != nil {
		b.Touch(d.tickFn())
	}
}

const metaName = "meta.vdb"
const metaVersion = 1

// Open reconstructs a table's data directory from root/meta.vdb
// (dataId -> size), or starts an empty one if root has never held
// data blocks.
func Open(root string) (*Dir, error) {
	d := &Dir{root: root, dir: durable.Dir{Root: root}, blocks: make(map[uint32]*Block)}

	sizes, err := loadMeta(filepath.Join(root, metaName))
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, 0, len(sizes))
	for id := range sizes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		path := filepath.Join(root, fmt.Sprintf("%d", id))
		d.blocks[id] = OpenExisting(id, path, sizes[id])
		d.order = append(d.order, id)
		if id >= d.nextID {
			d.nextID = id + 1
		}
	}
	return d, nil
}

// blockName is the on-disk file name for a data block: its id as a
// decimal string with no extension.
func blockName(id uint32) string { return fmt.Sprintf("%d", id) }

func (d *Dir) markMRU(id uint32) {
	for i, existing := range d.order {
		if existing == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.order = append([]uint32{id}, d.order...)
}

// selectForInsert implements the block-selection policy: MRU-fits,
// then ascending-id linear scan, then allocate a new block.
func (d *Dir) selectForInsert(need int) (*Block, error) {
	for _, id := range d.order {
		b := d.blocks[id]
		if b.RemainingCapacity() >= need {
			if !b.Loaded() {
				if err := b.Load(); err != nil {
					return nil, err
				}
			}
			return b, nil
		}
	}

	ids := make([]uint32, 0, len(d.blocks))
	for id := range d.blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		b := d.blocks[id]
		if b.RemainingCapacity() >= need {
			if !b.Loaded() {
				if err := b.Load(); err != nil {
					return nil, err
				}
			}
			return b, nil
		}
	}

	id := d.nextID
	d.nextID++
	b := New(id, filepath.Join(d.root, blockName(id)))
	d.blocks[id] = b
	d.order = append([]uint32{id}, d.order...)
	return b, nil
}

// Insert packs payload into whichever block the selection policy
// picks, returning the block id and offset the table's row directory
// should record.
func (d *Dir) Insert(rowID uint64, payload []byte, flags uint32) (blockID uint32, offset uint32, err error) {
	need := recordHeaderSize + len(payload)
	if need > MaxDataSize {
		return 0, 0, fmt.Errorf("datablock: payload of %d bytes exceeds MaxDataSize", len(payload))
	}
	b, err := d.selectForInsert(need)
	if err != nil {
		return 0, 0, err
	}
	off, err := b.Insert(rowID, payload, flags)
	if err != nil {
		return 0, 0, err
	}
	d.touch(b)
	d.markMRU(b.ID())
	return b.ID(), off, nil
}

// Get reads the record at (blockID, offset), loading the block from
// disk (via mmap, not a full resident load) if it is not currently
// loaded.
func (d *Dir) Get(blockID, offset uint32) (rowID uint64, payload []byte, flags uint32, err error) {
	b, ok := d.blocks[blockID]
	if !ok {
		return 0, nil, 0, fmt.Errorf("datablock: no block %d", blockID)
	}
	d.touch(b)
	d.markMRU(blockID)
	return b.Get(offset)
}

// MemoryUsage sums the resident memory of every loaded block.
func (d *Dir) MemoryUsage() int {
	total := 0
	for _, b := range d.blocks {
		total += b.MemoryUsage()
	}
	return total
}

// Blocks exposes every known block, for the cache's eviction sweep.
func (d *Dir) Blocks() []*Block {
	ids := make([]uint32, 0, len(d.blocks))
	for id := range d.blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Block, len(ids))
	for i, id := range ids {
		out[i] = d.blocks[id]
	}
	return out
}

// LowestTick peeks the access tick of the least-recently used loaded
// block, for the cache's global eviction scan.
func (d *Dir) LowestTick() (uint64, bool) {
	for i := len(d.order) - 1; i >= 0; i-- {
		b := d.blocks[d.order[i]]
		if b.Loaded() {
			return b.Tick(), true
		}
	}
	return 0, false
}

// EvictPage flushes (if dirty) and unloads the least-recently used
// loaded block, returning the memory freed.
func (d *Dir) EvictPage() (int, error) {
	for i := len(d.order) - 1; i >= 0; i-- {
		id := d.order[i]
		b := d.blocks[id]
		if b.Loaded() {
			freed := b.MemoryUsage()
			if err := b.Unload(d.dir, blockName(id)); err != nil {
				return 0, err
			}
			return freed, nil
		}
	}
	return 0, nil
}

// Save flushes every dirty block and rewrites meta.vdb.
func (d *Dir) Save() error {
	sizes := make(map[uint32]int, len(d.blocks))
	for id, b := range d.blocks {
		if b.Dirty() {
			if err := b.Store(d.dir, blockName(id)); err != nil {
				return err
			}
		}
		sizes[id] = b.Size()
	}
	buf, err := encodeMeta(sizes)
	if err != nil {
		return err
	}
	return d.dir.WriteFile(metaName, buf, 0o644)
}

func encodeMeta(sizes map[uint32]int) ([]byte, error) {
	hdr := format.Header{Type: format.TypeDataMeta, Version: metaVersion}
	buf := make([]byte, format.HeaderSize+4)
	hdr.EncodeInto(buf)
	binary.LittleEndian.PutUint32(buf[format.HeaderSize:], uint32(len(sizes)))

	ids := make([]uint32, 0, len(sizes))
	for id := range sizes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		entry := make([]byte, 8)
		binary.LittleEndian.PutUint32(entry[0:4], id)
		binary.LittleEndian.PutUint32(entry[4:8], uint32(sizes[id]))
		buf = append(buf, entry...)
	}
	return buf, nil
}

// Compact rewrites every live payload into freshly allocated,
// sequentially renumbered blocks, dropping any payload whose row id is
// not in live, and reports each survivor's new (block, offset) through
// relocate so the caller can repoint its row directory.
func (d *Dir) Compact(live map[uint64]bool, relocate func(rowID uint64, blockID, offset uint32) error) error {
	fresh := &Dir{root: d.root, dir: d.dir, blocks: make(map[uint32]*Block), tickFn: d.tickFn}

	ids := make([]uint32, 0, len(d.blocks))
	for id := range d.blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		b := d.blocks[id]
		if !b.Loaded() {
			if err := b.Load(); err != nil {
				return err
			}
		}
		var walkErr error
		b.Walk(func(rowID uint64, payload []byte, flags uint32) bool {
			if !live[rowID] {
				return true
			}
			newBlockID, newOffset, err := fresh.Insert(rowID, payload, flags)
			if err != nil {
				walkErr = err
				return false
			}
			if err := relocate(rowID, newBlockID, newOffset); err != nil {
				walkErr = err
				return false
			}
			return true
		})
		if walkErr != nil {
			return walkErr
		}
	}

	if err := fresh.Save(); err != nil {
		return err
	}
	if err := removeStaleBlocks(d.dir, fresh.blocks); err != nil {
		return err
	}

	d.blocks = fresh.blocks
	d.order = fresh.order
	d.nextID = fresh.nextID
	return nil
}

// removeStaleBlocks deletes block files left over from before a
// compaction rewrite that the fresh directory no longer references.
// Like pagestore's equivalent, this bypasses the old/ backup protocol:
// a compaction rewrite is not meant to be rolled back to its
// pre-compaction state.
func removeStaleBlocks(dir durable.Dir, kept map[uint32]*Block) error {
	live := make(map[string]bool, len(kept))
	for id := range kept {
		live[blockName(id)] = true
	}
	entries, err := os.ReadDir(dir.Root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == metaName || live[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(dir.Root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// LoadIDs parses root/meta.vdb and returns just the set of data block
// ids it references, for the rollback protocol's keep-decision.
func LoadIDs(root string) (map[uint32]bool, error) {
	sizes, err := loadMeta(filepath.Join(root, metaName))
	if err != nil {
		return nil, err
	}
	ids := make(map[uint32]bool, len(sizes))
	for id := range sizes {
		ids[id] = true
	}
	return ids, nil
}

func loadMeta(path string) (map[uint32]int, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[uint32]int), nil
		}
		return nil, err
	}
	sizes := make(map[uint32]int)
	if _, err := format.DecodeAndValidate(buf, format.TypeDataMeta, metaVersion); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(buf[format.HeaderSize:])
	off := format.HeaderSize + 4
	for i := uint32(0); i < count; i++ {
		id := binary.LittleEndian.Uint32(buf[off : off+4])
		size := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		sizes[id] = int(size)
		off += 8
	}
	return sizes, nil
}
