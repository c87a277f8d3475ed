package store_test

import (
	"context"
	"errors"
	"testing"

	"varstore/dynval"
	"varstore/internal/codec"
	"varstore/internal/pagestore"
	"varstore/store"
)

func openTestDB(t *testing.T) *store.Database {
	t.Helper()
	db, err := store.Open(store.Config{Path: t.TempDir(), Codec: dynval.Default()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

// asUint64 normalizes a round-tripped numeric field to uint64. msgpack
// picks its wire format by magnitude rather than by the field's Go
// type, so a packed-then-unpacked non-negative integer may come back
// as int64 or uint64 depending on its size; tests compare through this
// helper instead of asserting a specific numeric type.
func asUint64(t *testing.T, v any) uint64 {
	t.Helper()
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case uint:
		return uint64(n)
	case float64:
		return uint64(n)
	default:
		t.Fatalf("value %v (%T) is not numeric", v, v)
		return 0
	}
}

// =============================================================================
// Insert/get identity
// =============================================================================

func TestInsertGetIdentity(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	id, err := db.Insert("T", codec.Value{"name": "alice", "age": int64(30)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := db.Get("T", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["name"] != "alice" {
		t.Fatalf("name: want alice, got %v", got["name"])
	}
	if asUint64(t, got["age"]) != 30 {
		t.Fatalf("age: want 30, got %v", got["age"])
	}
	if asUint64(t, got["id"]) != uint64(id) {
		t.Fatalf("id: want %d, got %v", id, got["id"])
	}
}

// =============================================================================
// RowId monotonicity
// =============================================================================

func TestRowIDMonotonic(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	var last store.RowId
	for i := 0; i < 50; i++ {
		id, err := db.Insert("T", codec.Value{"i": int64(i)})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if id <= last {
			t.Fatalf("RowId not strictly increasing: %d after %d", id, last)
		}
		last = id
	}
}

// =============================================================================
// Save/reopen fidelity, rollback invisibility
// =============================================================================

func TestSaveReopenFidelity(t *testing.T) {
	dir := t.TempDir()
	codecImpl := dynval.Default()

	db, err := store.Open(store.Config{Path: dir, Codec: codecImpl})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	id, err := db.Insert("T", codec.Value{"v": int64(42)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := store.Open(store.Config{Path: dir, Codec: codecImpl})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	row, err := reopened.Get("T", id)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if asUint64(t, row["v"]) != 42 {
		t.Fatalf("v: want 42, got %v", row["v"])
	}
}

func TestRollbackDiscardsUnsavedWork(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	savedID, err := db.Insert("T", codec.Value{"v": int64(1)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	unsavedID, err := db.Insert("T", codec.Value{"v": int64(2)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := db.CreateTable("Stray"); err != nil {
		t.Fatalf("create stray table: %v", err)
	}

	if err := db.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if _, err := db.Get("T", savedID); err != nil {
		t.Fatalf("saved row missing after rollback: %v", err)
	}
	if _, err := db.Get("T", unsavedID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unsaved row should be gone after rollback, got err=%v", err)
	}
	if _, err := db.Table("Stray"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stray table should be gone after rollback, got err=%v", err)
	}
}

// =============================================================================
// Compaction is observably identity on live content
// =============================================================================

func TestCompactionPreservesLiveRows(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.AddIndex("T", "u", "u", pagestore.TypeUInt64, true, false); err != nil {
		t.Fatalf("add index: %v", err)
	}

	keepID, err := db.Insert("T", codec.Value{"u": uint64(1)})
	if err != nil {
		t.Fatalf("insert keep: %v", err)
	}
	eraseID, err := db.Insert("T", codec.Value{"u": uint64(2)})
	if err != nil {
		t.Fatalf("insert erase: %v", err)
	}
	updateID, err := db.Insert("T", codec.Value{"u": uint64(3)})
	if err != nil {
		t.Fatalf("insert update: %v", err)
	}

	if err := db.Erase("T", eraseID); err != nil {
		t.Fatalf("erase: %v", err)
	}
	row, err := db.Get("T", updateID)
	if err != nil {
		t.Fatalf("get before update: %v", err)
	}
	row["id"] = uint64(updateID)
	row["u"] = uint64(9)
	newUpdateID, err := db.Update("T", row)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := db.Compact(context.Background()); err != nil {
		t.Fatalf("compact: %v", err)
	}

	if got, err := db.Get("T", keepID); err != nil || asUint64(t, got["u"]) != 1 {
		t.Fatalf("keep row after compaction: row=%v err=%v", got, err)
	}
	if _, err := db.Get("T", eraseID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("erased row should stay absent after compaction, got err=%v", err)
	}
	if got, err := db.Get("T", newUpdateID); err != nil || asUint64(t, got["u"]) != 9 {
		t.Fatalf("updated row after compaction: row=%v err=%v", got, err)
	}

	ids, err := db.IndexQuery("T", "u", uint64(0), uint64(100))
	if err != nil {
		t.Fatalf("index query after compaction: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("index query after compaction: want 2 live entries, got %d (%v)", len(ids), ids)
	}

	if err := db.Save(); err != nil {
		t.Fatalf("save after compaction: %v", err)
	}
}

// =============================================================================
// Range query boundary behaviors
// =============================================================================

func TestRangeQueryStartEqualsEnd(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.AddIndex("T", "u", "u", pagestore.TypeUInt64, false, false); err != nil {
		t.Fatalf("add index: %v", err)
	}
	for _, v := range []uint64{3, 5, 5, 7} {
		if _, err := db.Insert("T", codec.Value{"u": v}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	ids, err := db.IndexQuery("T", "u", uint64(5), uint64(5))
	if err != nil {
		t.Fatalf("index query: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("want 2 rows with u=5, got %d", len(ids))
	}
}

func TestRangeQueryOnEmptyIndex(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.AddIndex("T", "u", "u", pagestore.TypeUInt64, false, false); err != nil {
		t.Fatalf("add index: %v", err)
	}
	ids, err := db.IndexQuery("T", "u", uint64(0), uint64(100))
	if err != nil {
		t.Fatalf("index query on empty index: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("want no rows, got %d", len(ids))
	}
}

func TestErasedRowsHiddenBeforeCompaction(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.AddIndex("T", "u", "u", pagestore.TypeUInt64, false, false); err != nil {
		t.Fatalf("add index: %v", err)
	}
	id, err := db.Insert("T", codec.Value{"u": uint64(1)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.Erase("T", id); err != nil {
		t.Fatalf("erase: %v", err)
	}
	// The secondary index entry is not compacted yet, but a live-row
	// filter on read must still hide it.
	ids, err := db.IndexQuery("T", "u", uint64(0), uint64(10))
	if err != nil {
		t.Fatalf("index query: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("erased row visible before compaction: %v", ids)
	}
}

// =============================================================================
// Unique-conflict and not-found errors
// =============================================================================

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.AddIndex("T", "u", "u", pagestore.TypeUInt64, true, false); err != nil {
		t.Fatalf("add index: %v", err)
	}
	if _, err := db.Insert("T", codec.Value{"u": uint64(5)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := db.Insert("T", codec.Value{"u": uint64(5)}); !errors.Is(err, store.ErrConflictUnique) {
		t.Fatalf("want ErrConflictUnique, got %v", err)
	}
}

func TestEraseUnknownRowNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.Erase("T", store.RowId(999)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
