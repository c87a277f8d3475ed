package store_test

import (
	"errors"
	"math/rand"
	"testing"

	"varstore/dynval"
	"varstore/internal/codec"
	"varstore/internal/pagestore"
	"varstore/store"
)

// =============================================================================
// Unique index ordering and conflict rejection
// =============================================================================

func TestScenarioUniqueIndexOrderingAndConflict(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.AddIndex("T", "u", "u", pagestore.TypeUInt64, true, false); err != nil {
		t.Fatalf("add index: %v", err)
	}

	for _, v := range []uint64{7, 3, 5} {
		if _, err := db.Insert("T", codec.Value{"u": v}); err != nil {
			t.Fatalf("insert u=%d: %v", v, err)
		}
	}

	ids, err := db.IndexQuery("T", "u", uint64(0), uint64(10))
	if err != nil {
		t.Fatalf("index query: %v", err)
	}
	var got []uint64
	for _, id := range ids {
		row, err := db.Get("T", id)
		if err != nil {
			t.Fatalf("get %d: %v", id, err)
		}
		got = append(got, asUint64(t, row["u"]))
	}
	want := []uint64{3, 5, 7}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}

	// A conflicting insert fails and leaves the table unchanged.
	before, err := db.IndexQuery("T", "u", uint64(0), uint64(10))
	if err != nil {
		t.Fatalf("index query: %v", err)
	}
	if _, err := db.Insert("T", codec.Value{"u": uint64(5)}); !errors.Is(err, store.ErrConflictUnique) {
		t.Fatalf("want ErrConflictUnique, got %v", err)
	}
	after, err := db.IndexQuery("T", "u", uint64(0), uint64(10))
	if err != nil {
		t.Fatalf("index query: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("table changed after rejected insert: before=%v after=%v", before, after)
	}
}

// =============================================================================
// Update remap hop, erase, save/reopen
// =============================================================================

func TestScenarioUpdateEraseSaveReopen(t *testing.T) {
	dir := t.TempDir()
	codecImpl := dynval.Default()

	db, err := store.Open(store.Config{Path: dir, Codec: codecImpl})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.AddIndex("T", "u", "u", pagestore.TypeUInt64, true, false); err != nil {
		t.Fatalf("add index: %v", err)
	}

	ids := make(map[uint64]store.RowId)
	for _, v := range []uint64{7, 3, 5} {
		id, err := db.Insert("T", codec.Value{"u": v})
		if err != nil {
			t.Fatalf("insert u=%d: %v", v, err)
		}
		ids[v] = id
	}

	// Update u=5 to u=9; the old id remaps to the new one.
	row, err := db.Get("T", ids[5])
	if err != nil {
		t.Fatalf("get before update: %v", err)
	}
	row["u"] = uint64(9)
	newID, err := db.Update("T", row)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := db.Get("T", ids[5])
	if err != nil {
		t.Fatalf("get via remap: %v", err)
	}
	if asUint64(t, got["u"]) != 9 {
		t.Fatalf("want remapped row to carry u=9, got %v", got["u"])
	}

	// Erase u=3, save, reopen, and confirm only 7 and 9 remain.
	if err := db.Erase("T", ids[3]); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := db.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := store.Open(store.Config{Path: dir, Codec: codecImpl})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	resultIDs, err := reopened.IndexQuery("T", "u", uint64(0), uint64(10))
	if err != nil {
		t.Fatalf("index query after reopen: %v", err)
	}
	var values []uint64
	for _, id := range resultIDs {
		r, err := reopened.Get("T", id)
		if err != nil {
			t.Fatalf("get %d after reopen: %v", id, err)
		}
		values = append(values, asUint64(t, r["u"]))
	}
	if len(values) != 2 {
		t.Fatalf("want 2 rows after reopen, got %d (%v)", len(values), values)
	}
	seen := map[uint64]bool{}
	for _, v := range values {
		seen[v] = true
	}
	if !seen[7] || !seen[9] {
		t.Fatalf("want u in {7,9}, got %v", values)
	}
	if seen[3] || seen[5] {
		t.Fatalf("stale values still visible: %v", values)
	}
	_ = newID
}

// =============================================================================
// Bulk insert into a non-unique index, save/reopen, full traversal
// =============================================================================

func TestScenarioBulkInsertSaveReopenTraversal(t *testing.T) {
	dir := t.TempDir()
	codecImpl := dynval.Default()

	// A few thousand rows keep this test fast; the property under test
	// (every inserted row survives a save/reopen round trip and is
	// reachable by a full traversal) does not depend on the row count.
	const rowCount = 4000

	db, err := store.Open(store.Config{Path: dir, Codec: codecImpl})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.AddIndex("T", "k", "k", pagestore.TypeUInt64, false, false); err != nil {
		t.Fatalf("add index: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < rowCount; i++ {
		if _, err := db.Insert("T", codec.Value{"k": rng.Uint64()}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := db.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := store.Open(store.Config{Path: dir, Codec: codecImpl})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	count := 0
	if err := reopened.TraverseStart("T", func(codec.Value) int { count++; return 1 }); err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if count != rowCount {
		t.Fatalf("want %d rows, got %d", rowCount, count)
	}
}

// =============================================================================
// Memory budget is enforced while every row stays retrievable
// =============================================================================

func TestScenarioMemoryBudgetEnforced(t *testing.T) {
	dir := t.TempDir()
	codecImpl := dynval.Default()

	const memoryLimit = 1 << 20 // 1 MiB
	db, err := store.Open(store.Config{Path: dir, Codec: codecImpl, MemoryLimit: memoryLimit})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.CreateTable("T"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	padding := make([]byte, 2000)
	ids := make([]store.RowId, 0, 4000)
	for i := 0; i < 4000; i++ {
		id, err := db.Insert("T", codec.Value{"i": int64(i), "pad": padding})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		ids = append(ids, id)

		// A slack of one more budget above the limit accommodates the active
		// (necessarily resident) page/block still receiving inserts.
		if usage := db.MemoryUsage(); usage > memoryLimit*2 {
			t.Fatalf("memory usage %d exceeds budget with slack at insert %d", usage, i)
		}
	}

	for _, id := range ids {
		if _, err := db.Get("T", id); err != nil {
			t.Fatalf("row %d not retrievable after eviction: %v", id, err)
		}
	}
}
