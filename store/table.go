package store

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"varstore/internal/codec"
	"varstore/internal/datablock"
	"varstore/internal/durable"
	"varstore/internal/format"
	"varstore/internal/logging"
	"varstore/internal/pagestore"
	"varstore/internal/rowdir"
)

// RowId is re-exported from pagestore so callers never need to import
// it directly.
type RowId = pagestore.RowId

// QueryFunc drives a Table.Query/TraverseStart/TraverseEnd cursor:
// returning >0 continues forward, <0 continues backward, 0 stops.
type QueryFunc func(row codec.Value) int

// indexDecl is one declared secondary index, persisted in the
// table's own meta.vdb so a reopened table knows what to open without
// parsing its directory listing (unlike the on-disk directory name,
// which only exists so an operator inspecting the tree by hand can
// tell index kind and name apart at a glance).
type indexDecl struct {
	Name      string
	Field     string
	TypeCode  byte
	Unique    bool
	AutoErase bool
}

// Table owns one row directory, one data-block directory, and zero or
// more declared secondary indexes.
type Table struct {
	mu sync.RWMutex

	name   string
	root   string
	dir    durable.Dir
	codec  codec.Codec
	logger *slog.Logger

	rowDir  *rowdir.DataIndex
	data    *datablock.Dir
	indexes map[string]pagestore.AnyIndex
	decls   []indexDecl
	tick    func() uint64
}

const tableMetaName = "meta.vdb"
const tableMetaVersion = 1

func indexDirName(name string, typeCode byte) string {
	return fmt.Sprintf("%s.%s.index", name, typeSuffix(typeCode))
}

func typeSuffix(typeCode byte) string {
	switch typeCode {
	case pagestore.TypeInt32:
		return "int32"
	case pagestore.TypeUInt32:
		return "uint32"
	case pagestore.TypeInt64:
		return "int64"
	case pagestore.TypeUInt64:
		return "uint64"
	case pagestore.TypeFloat:
		return "float"
	case pagestore.TypeDouble:
		return "double"
	case pagestore.TypeRow:
		return "row"
	case pagestore.TypeHash:
		return "hash"
	default:
		return "unknown"
	}
}

// openTable reconstructs (or creates) a table rooted at root/<name>.table.
// tick is the database-wide cache tick source, stamped onto
// every page and data block this table's subsystems touch.
func openTable(root, name string, c codec.Codec, logger *slog.Logger, tick func() uint64) (*Table, error) {
	logger = logging.Default(logger).With("table", name)
	tableRoot := filepath.Join(root, name+".table")
	if err := os.MkdirAll(tableRoot, 0o755); err != nil {
		return nil, fmt.Errorf("store: create table dir %s: %w", tableRoot, err)
	}

	decls, err := loadTableMeta(filepath.Join(tableRoot, tableMetaName))
	if err != nil {
		return nil, err
	}

	rd, err := rowdir.Open(filepath.Join(tableRoot, "__data.index"))
	if err != nil {
		return nil, fmt.Errorf("store: open row directory for %s: %w", name, err)
	}
	rd.SetTick(tick)
	dataDir, err := datablock.Open(filepath.Join(tableRoot, "__data"))
	if err != nil {
		return nil, fmt.Errorf("store: open data blocks for %s: %w", name, err)
	}
	dataDir.SetTick(tick)

	t := &Table{
		name:    name,
		root:    tableRoot,
		dir:     durable.Dir{Root: tableRoot},
		codec:   c,
		logger:  logger,
		rowDir:  rd,
		data:    dataDir,
		indexes: make(map[string]pagestore.AnyIndex),
		decls:   decls,
		tick:    tick,
	}
	for _, d := range decls {
		idxDir := filepath.Join(tableRoot, indexDirName(d.Name, d.TypeCode))
		if err := os.MkdirAll(idxDir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create index dir %s: %w", idxDir, err)
		}
		idx, err := pagestore.NewAnyIndex(d.TypeCode, idxDir, d.Unique, d.AutoErase)
		if err != nil {
			return nil, fmt.Errorf("store: open index %s.%s: %w", name, d.Name, err)
		}
		idx.SetTick(tick)
		t.indexes[d.Name] = idx
	}
	return t, nil
}

// Name is the table's declared name.
func (t *Table) Name() string { return t.name }

// AddIndex declares a new secondary index over field, named name.
// Existing rows are NOT back-filled; only future inserts populate it.
func (t *Table) AddIndex(name, field string, typeCode byte, unique, autoErase bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.indexes[name]; exists {
		return fmt.Errorf("store: index %s.%s: %w", t.name, name, ErrAlreadyExists)
	}
	idxDir := filepath.Join(t.root, indexDirName(name, typeCode))
	idx, err := pagestore.NewAnyIndex(typeCode, idxDir, unique, autoErase)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := os.MkdirAll(idxDir, 0o755); err != nil {
		return fmt.Errorf("store: create index dir %s: %w", idxDir, err)
	}
	idx.SetTick(t.tick)
	t.indexes[name] = idx
	t.decls = append(t.decls, indexDecl{Name: name, Field: field, TypeCode: typeCode, Unique: unique, AutoErase: autoErase})
	return t.saveMetaLocked()
}

// indexKey converts a row's field value into the key an index's
// Insert/GetFirst expects, hashing it first for a Hash-typed index.
func (t *Table) indexKey(decl indexDecl, value any) any {
	if decl.TypeCode == pagestore.TypeHash {
		return t.codec.Hash(value)
	}
	return value
}

// Insert allocates a fresh RowId, populates every declared index
// whose field is present, packs the row, and appends it to a data
// block.
func (t *Table) Insert(nextRowID func() RowId, row codec.Value) (RowId, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Validate unique constraints before mutating anything, so a
	// conflicting insert leaves every index untouched.
	for _, decl := range t.decls {
		value, ok := row[decl.Field]
		if !ok {
			continue
		}
		idx := t.indexes[decl.Name]
		if !idx.Unique() {
			continue
		}
		_, exists, err := idx.GetFirst(t.indexKey(decl, value))
		if err != nil {
			return 0, fmt.Errorf("store: index %s.%s: %w", t.name, decl.Name, err)
		}
		if exists {
			return 0, fmt.Errorf("store: index %s.%s: %w", t.name, decl.Name, ErrConflictUnique)
		}
	}

	rowID := nextRowID()
	if err := t.populateIndexes(rowID, row); err != nil {
		return 0, err
	}
	if err := t.storeRow(rowID, row); err != nil {
		return 0, err
	}
	return rowID, nil
}

func (t *Table) populateIndexes(rowID RowId, row codec.Value) error {
	for _, decl := range t.decls {
		value, ok := row[decl.Field]
		if !ok {
			continue
		}
		idx := t.indexes[decl.Name]
		if _, err := idx.Insert(t.indexKey(decl, value), rowID); err != nil {
			return fmt.Errorf("store: index %s.%s: %w", t.name, decl.Name, err)
		}
	}
	return nil
}

func (t *Table) storeRow(rowID RowId, row codec.Value) error {
	row["id"] = uint64(rowID)
	payload, flags, err := t.codec.Pack(row, datablock.MinCompressSize)
	if err != nil {
		return fmt.Errorf("store: pack row %d: %w", rowID, err)
	}
	blockID, offset, err := t.data.Insert(uint64(rowID), payload, flags)
	if err != nil {
		return fmt.Errorf("store: append row %d: %w", rowID, err)
	}
	if err := t.rowDir.Insert(rowID, blockID, offset); err != nil {
		return fmt.Errorf("store: directory entry for row %d: %w", rowID, err)
	}
	return nil
}

// Update reads row["id"], forwards the old RowId to a freshly
// allocated one, and inserts the new payload exactly as Insert does.
func (t *Table) Update(nextRowID func() RowId, row codec.Value) (RowId, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rawID, ok := row["id"]
	if !ok {
		return 0, fmt.Errorf("store: update: row has no id: %w", ErrInvalidArgument)
	}
	oldID, ok := toRowID(rawID)
	if !ok {
		return 0, fmt.Errorf("store: update: row id %v: %w", rawID, ErrInvalidArgument)
	}

	// Validate unique constraints before forwarding, as Insert does.
	for _, decl := range t.decls {
		value, ok := row[decl.Field]
		if !ok || !t.indexes[decl.Name].Unique() {
			continue
		}
		_, exists, err := t.indexes[decl.Name].GetFirst(t.indexKey(decl, value))
		if err != nil {
			return 0, fmt.Errorf("store: index %s.%s: %w", t.name, decl.Name, err)
		}
		if exists {
			return 0, fmt.Errorf("store: index %s.%s: %w", t.name, decl.Name, ErrConflictUnique)
		}
	}

	newID := nextRowID()
	forwarded, err := t.rowDir.Forward(oldID, newID)
	if err != nil {
		return 0, fmt.Errorf("store: update row %d: %w", oldID, err)
	}
	if !forwarded {
		return 0, fmt.Errorf("store: update row %d: %w", oldID, ErrNotFound)
	}
	if err := t.populateIndexes(newID, row); err != nil {
		return 0, err
	}
	if err := t.storeRow(newID, row); err != nil {
		return 0, err
	}
	return newID, nil
}

func toRowID(v any) (RowId, bool) {
	switch n := v.(type) {
	case RowId:
		return n, true
	case uint64:
		return RowId(n), true
	case int:
		return RowId(n), true
	case int64:
		return RowId(n), true
	}
	return 0, false
}

// Get looks up rowID, following one remap hop if present, and unpacks
// the stored payload.
func (t *Table) Get(rowID RowId) (codec.Value, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getLocked(rowID)
}

func (t *Table) getLocked(rowID RowId) (codec.Value, error) {
	ptr, ok, err := t.rowDir.Get(rowID)
	if err != nil {
		return nil, fmt.Errorf("store: row %d: %w", rowID, err)
	}
	if !ok {
		return nil, fmt.Errorf("store: row %d: %w", rowID, ErrNotFound)
	}
	if ptr.Remap {
		if ptr.RowPointer == 0 {
			return nil, fmt.Errorf("store: row %d: %w", rowID, ErrNotFound)
		}
		ptr, ok, err = t.rowDir.Get(ptr.RowPointer)
		if err != nil {
			return nil, fmt.Errorf("store: row %d: %w", rowID, err)
		}
		if !ok || ptr.Remap {
			return nil, fmt.Errorf("store: row %d: %w", rowID, ErrNotFound)
		}
	}
	return t.readPayload(rowID, ptr)
}

// getLive is getLocked without the remap hop: index-driven reads use
// it so a stale secondary-index entry for an erased or superseded row
// is filtered out instead of resolving to the superseding row (which
// the traversal will reach under its own id anyway).
func (t *Table) getLive(rowID RowId) (codec.Value, error) {
	ptr, ok, err := t.rowDir.Get(rowID)
	if err != nil {
		return nil, fmt.Errorf("store: row %d: %w", rowID, err)
	}
	if !ok || ptr.Remap {
		return nil, fmt.Errorf("store: row %d: %w", rowID, ErrNotFound)
	}
	return t.readPayload(rowID, ptr)
}

func (t *Table) readPayload(rowID RowId, ptr rowdir.DataPointer) (codec.Value, error) {
	_, payload, flags, err := t.data.Get(ptr.Block, ptr.Offset)
	if err != nil {
		return nil, fmt.Errorf("store: read row %d: %w", rowID, err)
	}
	row, err := t.codec.Unpack(payload, flags)
	if err != nil {
		return nil, fmt.Errorf("store: unpack row %d: %w", rowID, err)
	}
	return row, nil
}

// Erase marks rowID's directory entry erased; secondary index entries
// are left in place, filtered at read time and removed by compaction.
func (t *Table) Erase(rowID RowId) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	erased, err := t.rowDir.Erase(rowID)
	if err != nil {
		return fmt.Errorf("store: erase row %d: %w", rowID, err)
	}
	if !erased {
		return fmt.Errorf("store: erase row %d: %w", rowID, ErrNotFound)
	}
	return nil
}

// Query drives indexName's cursor from start, invoking f with each
// visited row still resolvable to a live document; rows that have
// since been erased are skipped without stopping the traversal.
func (t *Table) Query(indexName string, start any, f QueryFunc) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.indexes[indexName]
	if !ok {
		return fmt.Errorf("store: index %s.%s: %w", t.name, indexName, ErrNotFound)
	}
	dir := 1
	if err := idx.Query(start, func(rowID RowId, _ any) int {
		row, err := t.getLive(rowID)
		if err != nil {
			return dir
		}
		dir = f(row)
		return dir
	}); err != nil {
		return fmt.Errorf("store: query index %s.%s: %w", t.name, indexName, err)
	}
	return nil
}

// IndexQuery accumulates every RowId whose indexName key lies in
// [start, end] and whose row still exists.
func (t *Table) IndexQuery(indexName string, start, end any) ([]RowId, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("store: index %s.%s: %w", t.name, indexName, ErrNotFound)
	}
	ids, err := idx.RangeRowIDs(start, end)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	out := ids[:0]
	for _, id := range ids {
		ptr, ok, err := t.rowDir.Get(id)
		if err != nil {
			return nil, fmt.Errorf("store: row %d: %w", id, err)
		}
		if ok && !ptr.Remap {
			out = append(out, id)
		}
	}
	return out, nil
}

// TraverseStart scans the row directory from RowId 1 upward, skipping
// rows that no longer resolve.
func (t *Table) TraverseStart(f QueryFunc) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dir := 1
	return t.rowDir.TraverseStart(func(rowID RowId, ptr rowdir.DataPointer) int {
		if ptr.Remap {
			return dir
		}
		row, err := t.readPayload(rowID, ptr)
		if err != nil {
			return dir
		}
		dir = f(row)
		return dir
	})
}

// TraverseEnd scans the row directory from the greatest assigned
// RowId downward.
func (t *Table) TraverseEnd(f QueryFunc) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dir := -1
	return t.rowDir.TraverseEnd(func(rowID RowId, ptr rowdir.DataPointer) int {
		if ptr.Remap {
			return dir
		}
		row, err := t.readPayload(rowID, ptr)
		if err != nil {
			return dir
		}
		dir = f(row)
		return dir
	})
}

// Join scans indexName (which must be Row-typed) for entries whose
// indexed value is one of leftSet, returning the owning RowIds whose
// rows still exist.
func (t *Table) Join(indexName string, leftSet []RowId) ([]RowId, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("store: index %s.%s: %w", t.name, indexName, ErrNotFound)
	}
	targets := make(map[RowId]bool, len(leftSet))
	for _, id := range leftSet {
		targets[id] = true
	}
	matches, err := idx.Join(targets)
	if err != nil {
		return nil, fmt.Errorf("store: join index %s.%s: %w", t.name, indexName, err)
	}
	out := make([]RowId, 0, len(matches))
	for _, m := range matches {
		rid, ok := toRowID(m)
		if !ok {
			continue
		}
		ptr, ok, err := t.rowDir.Get(rid)
		if err != nil {
			return nil, fmt.Errorf("store: row %d: %w", rid, err)
		}
		if ok && !ptr.Remap {
			out = append(out, rid)
		}
	}
	return out, nil
}

// GetFirst returns the first row whose indexName key equals value
// exactly.
func (t *Table) GetFirst(indexName string, value any) (codec.Value, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("store: index %s.%s: %w", t.name, indexName, ErrNotFound)
	}
	rowID, ok, err := idx.GetFirst(value)
	if err != nil {
		return nil, fmt.Errorf("store: index %s.%s value %v: %w", t.name, indexName, value, err)
	}
	if !ok {
		return nil, fmt.Errorf("store: index %s.%s value %v: %w", t.name, indexName, value, ErrNotFound)
	}
	return t.getLive(rowID)
}

// memoryUsage sums every owned pageable's resident memory, for the
// database-wide cache budget.
func (t *Table) memoryUsage() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := t.rowDir.MemoryUsage() + t.data.MemoryUsage()
	for _, idx := range t.indexes {
		total += idx.MemoryUsage()
	}
	return total
}

// pageableKind names which of a table's three pageable owners (row
// directory, data blocks, or one named secondary index) a cache
// eviction candidate belongs to.
type pageableKind int

const (
	pageableRowDir pageableKind = iota
	pageableData
	pageableSecondary
)

// lowestPageable reports the tick of this table's single
// least-recently-touched loaded pageable (across its row directory,
// data blocks, and every secondary index), for the database's global
// eviction scan. ok is false if the table currently holds no
// loaded pageable at all.
func (t *Table) lowestPageable() (tick uint64, kind pageableKind, indexName string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if tk, has := t.rowDir.LowestTick(); has {
		tick, kind, ok = tk, pageableRowDir, true
	}
	if tk, has := t.data.LowestTick(); has && (!ok || tk < tick) {
		tick, kind, ok = tk, pageableData, true
	}
	for name, idx := range t.indexes {
		if tk, has := idx.LowestTick(); has && (!ok || tk < tick) {
			tick, kind, indexName, ok = tk, pageableSecondary, name, true
		}
	}
	return tick, kind, indexName, ok
}

// evictPageable flushes (if dirty) and unloads the single pageable
// identified by (kind, indexName), returning the memory it freed.
func (t *Table) evictPageable(kind pageableKind, indexName string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch kind {
	case pageableRowDir:
		return t.rowDir.EvictPage()
	case pageableData:
		return t.data.EvictPage()
	case pageableSecondary:
		idx, ok := t.indexes[indexName]
		if !ok {
			return 0, nil
		}
		dir := durable.Dir{Root: filepath.Join(t.root, indexDirName(indexName, idx.TypeCode()))}
		return idx.EvictPage(dir)
	default:
		return 0, nil
	}
}

// save persists the table's own meta, row directory, data blocks, and
// every secondary index.
func (t *Table) save() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.rowDir.Save(); err != nil {
		return fmt.Errorf("store: save row directory for %s: %w", t.name, err)
	}
	if err := t.data.Save(); err != nil {
		return fmt.Errorf("store: save data blocks for %s: %w", t.name, err)
	}
	for name, idx := range t.indexes {
		if err := idx.Save(durable.Dir{Root: filepath.Join(t.root, indexDirName(name, idx.TypeCode()))}); err != nil {
			return fmt.Errorf("store: save index %s.%s: %w", t.name, name, err)
		}
	}
	return t.saveMetaLocked()
}

func (t *Table) saveMetaLocked() error {
	buf := encodeTableMeta(t.decls)
	return t.dir.WriteFile(tableMetaName, buf, 0o644)
}

// compact runs the per-table compaction pass: a
// fresh row directory keeping only live entries, then every secondary
// index rewritten against the resulting erased-row and update-row
// sets.
func (t *Table) compact() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	erased, updateMap, err := t.rowDir.Compact()
	if err != nil {
		return fmt.Errorf("store: compact row directory for %s: %w", t.name, err)
	}

	for name, decl := range t.indexByName() {
		idx := t.indexes[name]
		dir := durable.Dir{Root: filepath.Join(t.root, indexDirName(name, idx.TypeCode()))}
		if decl.TypeCode == pagestore.TypeRow {
			err = idx.Compact(dir, func(value any, row RowId) (RowId, bool) {
				if key, ok := toRowID(value); ok && erased[key] {
					return 0, false
				}
				if erased[row] {
					if decl.AutoErase {
						return 0, false
					}
					if fwd, ok := updateMap[row]; ok {
						return fwd, true
					}
					return 0, true
				}
				return row, true
			})
		} else {
			err = idx.Compact(dir, func(value any, row RowId) (RowId, bool) {
				return row, !erased[row]
			})
		}
		if err != nil {
			return fmt.Errorf("store: compact index %s.%s: %w", t.name, name, err)
		}
	}

	live := make(map[uint64]bool)
	if err := t.rowDir.WalkAll(func(rowID RowId, ptr rowdir.DataPointer) bool {
		if !ptr.Remap {
			live[uint64(rowID)] = true
		}
		return true
	}); err != nil {
		return fmt.Errorf("store: walk row directory for %s: %w", t.name, err)
	}
	relocate := func(rowID uint64, blockID, offset uint32) error {
		ok, err := t.rowDir.Relocate(RowId(rowID), blockID, offset)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("store: row %d vanished from directory during data compaction: %w", rowID, ErrCorruption)
		}
		return nil
	}
	if err := t.data.Compact(live, relocate); err != nil {
		return fmt.Errorf("store: compact data blocks for %s: %w", t.name, err)
	}
	if err := t.rowDir.Save(); err != nil {
		return fmt.Errorf("store: save row directory for %s after data compaction: %w", t.name, err)
	}

	return t.saveMetaLocked()
}

// clean deletes every old/ backup across this table's directories,
// called only after a database-wide save has fully succeeded.
func (t *Table) clean() error {
	if err := t.dir.Clean(); err != nil {
		return fmt.Errorf("store: clean table %s: %w", t.name, err)
	}
	if err := (durable.Dir{Root: filepath.Join(t.root, "__data.index")}).Clean(); err != nil {
		return fmt.Errorf("store: clean row directory for %s: %w", t.name, err)
	}
	if err := (durable.Dir{Root: filepath.Join(t.root, "__data")}).Clean(); err != nil {
		return fmt.Errorf("store: clean data blocks for %s: %w", t.name, err)
	}
	for name, idx := range t.indexes {
		dir := durable.Dir{Root: filepath.Join(t.root, indexDirName(name, idx.TypeCode()))}
		if err := dir.Clean(); err != nil {
			return fmt.Errorf("store: clean index %s.%s: %w", t.name, name, err)
		}
	}
	return nil
}

func (t *Table) indexByName() map[string]indexDecl {
	out := make(map[string]indexDecl, len(t.decls))
	for _, d := range t.decls {
		out[d.Name] = d
	}
	return out
}

func encodeTableMeta(decls []indexDecl) []byte {
	hdr := format.Header{Type: format.TypeTableMeta, Version: tableMetaVersion}
	buf := make([]byte, format.HeaderSize)
	hdr.EncodeInto(buf)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(decls)))
	buf = append(buf, countBuf[:]...)
	for _, d := range decls {
		buf = append(buf, encodeDecl(d)...)
	}
	return buf
}

func encodeDecl(d indexDecl) []byte {
	nameBytes := []byte(d.Name)
	fieldBytes := []byte(d.Field)
	entry := make([]byte, 2+len(nameBytes)+2+len(fieldBytes)+2)
	off := 0
	binary.LittleEndian.PutUint16(entry[off:], uint16(len(nameBytes)))
	off += 2
	copy(entry[off:], nameBytes)
	off += len(nameBytes)
	binary.LittleEndian.PutUint16(entry[off:], uint16(len(fieldBytes)))
	off += 2
	copy(entry[off:], fieldBytes)
	off += len(fieldBytes)
	entry[off] = d.TypeCode
	flags := byte(0)
	if d.Unique {
		flags |= 1
	}
	if d.AutoErase {
		flags |= 2
	}
	entry[off+1] = flags
	return entry
}

func loadTableMeta(path string) ([]indexDecl, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read table meta %s: %w", path, err)
	}
	if _, err := format.DecodeAndValidate(buf, format.TypeTableMeta, tableMetaVersion); err != nil {
		return nil, fmt.Errorf("store: table meta %s: %w", path, err)
	}
	off := format.HeaderSize
	count := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	decls := make([]indexDecl, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		name := string(buf[off : off+nameLen])
		off += nameLen
		fieldLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		field := string(buf[off : off+fieldLen])
		off += fieldLen
		typeCode := buf[off]
		flags := buf[off+1]
		off += 2
		decls = append(decls, indexDecl{
			Name: name, Field: field, TypeCode: typeCode,
			Unique: flags&1 != 0, AutoErase: flags&2 != 0,
		})
	}
	return decls, nil
}
