package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"varstore/internal/codec"
	"varstore/internal/datablock"
	"varstore/internal/durable"
	"varstore/internal/logging"
	"varstore/internal/pagestore"
)

// defaultMemoryLimit bounds the page cache when Config.MemoryLimit is
// left unset.
const defaultMemoryLimit = 1024 << 20

// Config configures a Database.
type Config struct {
	// Path is the database root directory, created if it does not
	// already exist.
	Path string

	// Codec packs, unpacks, and hashes row field values. Required;
	// package dynval ships the default msgpack+zstd implementation,
	// and callers wanting a different wire format supply their own.
	Codec codec.Codec

	// MemoryLimit bounds the page cache's resident size in bytes.
	// Defaults to 1024 MiB.
	MemoryLimit int

	// Logger for structured logging. If nil, logging is disabled.
	// The database scopes this logger with component="store".
	Logger *slog.Logger
}

// Database owns every table in one on-disk database, the monotonic
// RowId and cache-tick counters, and the save/rollback/compact
// orchestration that spans tables.
type Database struct {
	mu sync.RWMutex

	root   string
	dir    durable.Dir
	codec  codec.Codec
	logger *slog.Logger

	memoryLimit int
	tables      map[string]*Table
	session     uuid.UUID

	nextRowID uint64 // atomic
	tick      uint64 // atomic

	cacheMu sync.Mutex // serializes the eviction sweep in checkMemory
}

// Open reconstructs a database from cfg.Path, or creates a fresh one if
// the path has never held a database.
func Open(cfg Config) (*Database, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: %w: Config.Path is required", ErrInvalidArgument)
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("store: %w: Config.Codec is required", ErrInvalidArgument)
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = defaultMemoryLimit
	}
	logger := logging.Default(cfg.Logger).With("component", "store")

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("store: create db dir %s: %w", cfg.Path, err)
	}

	d := &Database{
		root:        cfg.Path,
		dir:         durable.Dir{Root: cfg.Path},
		codec:       cfg.Codec,
		logger:      logger,
		memoryLimit: cfg.MemoryLimit,
		tables:      make(map[string]*Table),
	}

	meta, existed, err := loadDBMeta(filepath.Join(cfg.Path, dbMetaName))
	if err != nil {
		return nil, fmt.Errorf("store: open db meta: %w", err)
	}
	if existed {
		d.nextRowID = uint64(meta.NextRowID)
		d.session = meta.Session
	} else {
		d.session = uuid.New()
	}

	for _, name := range meta.Tables {
		t, err := openTable(d.root, name, d.codec, d.logger, d.nextTick)
		if err != nil {
			return nil, fmt.Errorf("store: open table %s: %w", name, err)
		}
		d.tables[name] = t
	}

	logger.Info("opened", "path", cfg.Path, "tables", len(d.tables), "session", d.session)
	return d, nil
}

func (d *Database) nextTick() uint64 { return atomic.AddUint64(&d.tick, 1) }

// NextRowID allocates the next database-wide monotonic RowId;
// RowId 0 is reserved as the "no forward pointer" sentinel, so
// allocation starts at 1.
func (d *Database) NextRowID() RowId {
	return RowId(atomic.AddUint64(&d.nextRowID, 1))
}

// Session is the identifier stamped into this database at creation
// time, stable across reopenings and rollbacks to the same save point.
func (d *Database) Session() uuid.UUID { return d.session }

// CreateTable declares a new, empty table.
func (d *Database) CreateTable(name string) (*Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tables[name]; exists {
		return nil, fmt.Errorf("store: table %s: %w", name, ErrAlreadyExists)
	}
	t, err := openTable(d.root, name, d.codec, d.logger, d.nextTick)
	if err != nil {
		return nil, err
	}
	d.tables[name] = t
	return t, nil
}

// Table returns a previously created table by name.
func (d *Database) Table(name string) (*Table, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tables[name]
	if !ok {
		return nil, fmt.Errorf("store: table %s: %w", name, ErrNotFound)
	}
	return t, nil
}

// Tables lists every declared table's name, in sorted order.
func (d *Database) Tables() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tableNamesLocked()
}

func (d *Database) tableNamesLocked() []string {
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --- convenience wrappers: every write op re-checks the cache budget
// afterward, so no caller has to remember to. ---

func (d *Database) tableFor(name string) (*Table, error) { return d.Table(name) }

// Insert allocates a RowId and inserts row into table, then enforces
// the memory budget.
func (d *Database) Insert(table string, row codec.Value) (RowId, error) {
	t, err := d.tableFor(table)
	if err != nil {
		return 0, err
	}
	id, err := t.Insert(d.NextRowID, row)
	d.checkMemory()
	return id, err
}

// Update forwards row["id"] to a freshly allocated RowId carrying row's
// new contents, then enforces the memory budget.
func (d *Database) Update(table string, row codec.Value) (RowId, error) {
	t, err := d.tableFor(table)
	if err != nil {
		return 0, err
	}
	id, err := t.Update(d.NextRowID, row)
	d.checkMemory()
	return id, err
}

// Get reads rowID from table.
func (d *Database) Get(table string, rowID RowId) (codec.Value, error) {
	t, err := d.tableFor(table)
	if err != nil {
		return nil, err
	}
	return t.Get(rowID)
}

// Erase removes rowID from table, then enforces the memory budget.
func (d *Database) Erase(table string, rowID RowId) error {
	t, err := d.tableFor(table)
	if err != nil {
		return err
	}
	err = t.Erase(rowID)
	d.checkMemory()
	return err
}

// Query drives indexName's cursor on table from start.
func (d *Database) Query(table, indexName string, start any, f QueryFunc) error {
	t, err := d.tableFor(table)
	if err != nil {
		return err
	}
	return t.Query(indexName, start, f)
}

// IndexQuery accumulates matches of indexName's key in [start, end].
func (d *Database) IndexQuery(table, indexName string, start, end any) ([]RowId, error) {
	t, err := d.tableFor(table)
	if err != nil {
		return nil, err
	}
	return t.IndexQuery(indexName, start, end)
}

// TraverseStart scans table's row directory in ascending RowId order.
func (d *Database) TraverseStart(table string, f QueryFunc) error {
	t, err := d.tableFor(table)
	if err != nil {
		return err
	}
	return t.TraverseStart(f)
}

// TraverseEnd scans table's row directory in descending RowId order.
func (d *Database) TraverseEnd(table string, f QueryFunc) error {
	t, err := d.tableFor(table)
	if err != nil {
		return err
	}
	return t.TraverseEnd(f)
}

// Join scans indexName on table for entries referencing leftSet.
func (d *Database) Join(table, indexName string, leftSet []RowId) ([]RowId, error) {
	t, err := d.tableFor(table)
	if err != nil {
		return nil, err
	}
	return t.Join(indexName, leftSet)
}

// GetFirst returns the first row on table whose indexName key equals
// value exactly.
func (d *Database) GetFirst(table, indexName string, value any) (codec.Value, error) {
	t, err := d.tableFor(table)
	if err != nil {
		return nil, err
	}
	return t.GetFirst(indexName, value)
}

// AddIndex declares a new secondary index on table.
func (d *Database) AddIndex(table, name, field string, typeCode byte, unique, autoErase bool) error {
	t, err := d.tableFor(table)
	if err != nil {
		return err
	}
	return t.AddIndex(name, field, typeCode, unique, autoErase)
}

// MemoryUsage sums the resident memory of every table's pageables.
func (d *Database) MemoryUsage() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := 0
	for _, t := range d.tables {
		total += t.memoryUsage()
	}
	return total
}

// checkMemory evicts the globally least-recently-touched pageable,
// repeatedly, until resident memory is back under the configured
// budget or nothing more can be evicted. Eviction is serialized
// by cacheMu so concurrent writers don't race each other's scans.
func (d *Database) checkMemory() {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	for d.MemoryUsage() > d.memoryLimit {
		freed, ok := d.evictOne()
		if !ok || freed == 0 {
			return
		}
	}
}

func (d *Database) evictOne() (int, bool) {
	d.mu.RLock()
	var (
		bestTable *Table
		bestTick  uint64
		bestKind  pageableKind
		bestIndex string
		found     bool
	)
	for _, t := range d.tables {
		tick, kind, indexName, ok := t.lowestPageable()
		if !ok {
			continue
		}
		if !found || tick < bestTick {
			bestTable, bestTick, bestKind, bestIndex, found = t, tick, kind, indexName, true
		}
	}
	d.mu.RUnlock()

	if !found {
		return 0, false
	}
	freed, err := bestTable.evictPageable(bestKind, bestIndex)
	if err != nil {
		d.logger.Error("evict pageable failed", "table", bestTable.Name(), "err", err)
		return 0, false
	}
	return freed, true
}

// Save durably persists every table and the database root: each
// table saved in turn, the root meta.vdb written
// last, and every directory's old/ backups cleaned only once the whole
// save has fully succeeded. A save that fails partway leaves old/
// intact so a subsequent Rollback can still restore the prior state.
func (d *Database) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := d.tableNamesLocked()
	for _, name := range names {
		if err := d.tables[name].save(); err != nil {
			return fmt.Errorf("store: save table %s: %w", name, err)
		}
	}

	meta := dbMeta{
		MemoryLimit: d.memoryLimit,
		NextRowID:   RowId(atomic.LoadUint64(&d.nextRowID)),
		Session:     d.session,
		Tables:      names,
	}
	if err := d.dir.WriteFile(dbMetaName, encodeDBMeta(meta), 0o644); err != nil {
		return fmt.Errorf("store: save db meta: %w", err)
	}

	if err := d.dir.Clean(); err != nil {
		return fmt.Errorf("store: clean db root: %w", err)
	}
	for _, name := range names {
		if err := d.tables[name].clean(); err != nil {
			return fmt.Errorf("store: clean table %s: %w", name, err)
		}
	}

	d.logger.Info("saved", "tables", len(names))
	return nil
}

// Rollback restores the database to its state as of the last
// successful Save, discarding every insert, update, erase, table
// creation, and index declaration performed since. Every
// in-memory *Table handle held by a
// caller before Rollback is stale afterward; callers must re-fetch via
// Table.
func (d *Database) Rollback() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.dir.Rollback(func(name string) bool { return name == dbMetaName }); err != nil {
		return fmt.Errorf("store: rollback db root: %w", err)
	}

	meta, existed, err := loadDBMeta(filepath.Join(d.root, dbMetaName))
	if err != nil {
		return fmt.Errorf("store: reload db meta: %w", err)
	}
	keepTables := make(map[string]bool, len(meta.Tables))
	for _, name := range meta.Tables {
		keepTables[name] = true
	}

	entries, err := os.ReadDir(d.root)
	if err != nil {
		return fmt.Errorf("store: list %s: %w", d.root, err)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".table") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".table")
		tableRoot := filepath.Join(d.root, e.Name())
		if !keepTables[name] {
			if err := removeWithin(tableRoot, d.root); err != nil {
				return fmt.Errorf("store: remove stale table dir %s: %w", name, err)
			}
			continue
		}
		if err := rollbackTableDir(tableRoot, d.root); err != nil {
			return fmt.Errorf("store: rollback table %s: %w", name, err)
		}
	}

	tables := make(map[string]*Table, len(meta.Tables))
	for _, name := range meta.Tables {
		t, err := openTable(d.root, name, d.codec, d.logger, d.nextTick)
		if err != nil {
			return fmt.Errorf("store: reopen table %s after rollback: %w", name, err)
		}
		tables[name] = t
	}
	d.tables = tables

	if existed && meta.Session != d.session {
		d.logger.Warn("session token changed by rollback", "wanted", d.session, "restored", meta.Session)
	}
	if existed {
		atomic.StoreUint64(&d.nextRowID, uint64(meta.NextRowID))
		d.session = meta.Session
	} else {
		atomic.StoreUint64(&d.nextRowID, 0)
		d.session = uuid.New()
	}

	d.logger.Info("rolled back", "tables", len(meta.Tables))
	return nil
}

// rollbackTableDir restores one table directory (its own meta.vdb,
// row directory, data blocks, and every secondary index) from their
// old/ backups, then removes any index directory that was declared
// after the restored meta.vdb's index list — i.e. one AddIndex never
// durably saved. dbRoot is the database root every deletion along the
// way is checked against.
func rollbackTableDir(tableRoot, dbRoot string) error {
	if err := (durable.Dir{Root: tableRoot, Base: dbRoot}).Rollback(func(name string) bool { return name == tableMetaName }); err != nil {
		return err
	}
	decls, err := loadTableMeta(filepath.Join(tableRoot, tableMetaName))
	if err != nil {
		return err
	}

	if err := rollbackIndexDir(filepath.Join(tableRoot, "__data.index"), dbRoot, 8); err != nil {
		return fmt.Errorf("row directory: %w", err)
	}
	if err := rollbackDataDir(tableRoot, dbRoot); err != nil {
		return fmt.Errorf("data blocks: %w", err)
	}

	keepIndexDirs := make(map[string]bool, len(decls))
	for _, decl := range decls {
		dirName := indexDirName(decl.Name, decl.TypeCode)
		keepIndexDirs[dirName] = true
		if err := rollbackIndexDir(filepath.Join(tableRoot, dirName), dbRoot, keySizeForType(decl.TypeCode)); err != nil {
			return fmt.Errorf("index %s: %w", decl.Name, err)
		}
	}

	entries, err := os.ReadDir(tableRoot)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "__data" || e.Name() == "__data.index" || e.Name() == "old" {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".index") || keepIndexDirs[e.Name()] {
			continue
		}
		if err := removeWithin(filepath.Join(tableRoot, e.Name()), dbRoot); err != nil {
			return err
		}
	}
	return nil
}

func rollbackDataDir(tableRoot, dbRoot string) error {
	dataRoot := filepath.Join(tableRoot, "__data")
	var ids map[uint32]bool
	var loaded bool
	keep := func(name string) bool {
		if name == "meta.vdb" {
			return true
		}
		if !loaded {
			loaded = true
			ids, _ = datablock.LoadIDs(dataRoot)
		}
		id, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			return false
		}
		return ids[uint32(id)]
	}
	return (durable.Dir{Root: dataRoot, Base: dbRoot}).Rollback(keep)
}

func rollbackIndexDir(root, dbRoot string, keySize int) error {
	metaPath := filepath.Join(root, "meta.vdb")
	var ids map[uint32]bool
	var loaded bool
	keep := func(name string) bool {
		if name == "meta.vdb" {
			return true
		}
		if !loaded {
			loaded = true
			ids, _ = pagestore.LoadPageIDs(metaPath, keySize)
		}
		id, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			return false
		}
		return ids[uint32(id)]
	}
	return (durable.Dir{Root: root, Base: dbRoot}).Rollback(keep)
}

// keySizeForType is the on-disk encoded size of one secondary index's
// key, needed by the rollback protocol to parse a meta.vdb page map
// without the concrete generic KeyCodec.
func keySizeForType(typeCode byte) int {
	switch typeCode {
	case pagestore.TypeInt32, pagestore.TypeUInt32, pagestore.TypeFloat:
		return 4
	default:
		return 8
	}
}

// removeWithin deletes target entirely, hard-aborting if it does not
// lie inside root — mirroring durable.Dir's own safety check, since
// this is the one deletion path (stray table/index directories never
// durably saved) driven by a disk listing rather than a path the
// caller constructed directly.
func removeWithin(target, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	if absTarget != absRoot && !strings.HasPrefix(absTarget, absRoot+string(filepath.Separator)) {
		panic(fmt.Sprintf("store: refusing to delete %q outside database root %q", absTarget, absRoot))
	}
	return os.RemoveAll(target)
}

// Compact runs the full compaction pass: every table's row
// directory, secondary indexes, and data blocks rewritten to drop
// erased and superseded entries, fanned out one goroutine per table via
// errgroup. Tables are write-locked for the duration of their own compaction but
// not against each other, so compaction of table A does not stall
// reads against table B.
func (d *Database) Compact(ctx context.Context) error {
	d.mu.RLock()
	names := d.tableNamesLocked()
	tables := make([]*Table, 0, len(names))
	for _, name := range names {
		tables = append(tables, d.tables[name])
	}
	d.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tables {
		t := t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return t.compact()
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("store: compact: %w", err)
	}
	d.logger.Info("compacted", "tables", len(tables))
	return nil
}
