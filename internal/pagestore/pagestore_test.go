package pagestore_test

import (
	"testing"

	"varstore/internal/pagestore"
)

func newTestIndex(unique bool) *pagestore.Index[uint64, pagestore.RowId] {
	return pagestore.NewIndex[uint64, pagestore.RowId](pagestore.MinUint64(), pagestore.UInt64Codec(),
		func(pageID uint32) string { return "" }, unique, false)
}

// =============================================================================
// Inserts land in ascending key order regardless of insertion order
// =============================================================================

func TestIndexQueryReturnsAscendingOrder(t *testing.T) {
	idx := newTestIndex(false)
	for _, k := range []uint64{50, 10, 30, 20, 40} {
		if _, err := idx.InsertRecord(pagestore.Record[uint64, pagestore.RowId]{Key: k, Value: pagestore.RowId(k)}); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	var got []uint64
	idx.Query(0, func(key uint64, value pagestore.RowId) int {
		got = append(got, key)
		return 1
	})
	want := []uint64{10, 20, 30, 40, 50}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}

// =============================================================================
// A unique index rejects a duplicate key and leaves state unchanged
// =============================================================================

func TestIndexUniqueRejectsDuplicate(t *testing.T) {
	idx := newTestIndex(true)
	if _, err := idx.InsertRecord(pagestore.Record[uint64, pagestore.RowId]{Key: 5, Value: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := idx.InsertRecord(pagestore.Record[uint64, pagestore.RowId]{Key: 5, Value: 2}); err != pagestore.ErrConflictUnique {
		t.Fatalf("want ErrConflictUnique, got %v", err)
	}
	r, ok, err := idx.Get(5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || r.Value != 1 {
		t.Fatalf("want original value 1 preserved, got %v ok=%v", r.Value, ok)
	}
}

// =============================================================================
// UpdateValue overwrites in place without reordering
// =============================================================================

func TestIndexUpdateValueInPlace(t *testing.T) {
	idx := newTestIndex(false)
	for _, k := range []uint64{1, 2, 3} {
		if _, err := idx.InsertRecord(pagestore.Record[uint64, pagestore.RowId]{Key: k, Value: pagestore.RowId(k)}); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	updated, err := idx.UpdateValue(2, 99)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated {
		t.Fatalf("update should succeed for existing key")
	}
	r, ok, err := idx.Get(2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || r.Value != 99 {
		t.Fatalf("want updated value 99, got %v", r.Value)
	}
	if updated, err := idx.UpdateValue(1000, 1); err != nil || updated {
		t.Fatalf("update should fail for missing key, got updated=%v err=%v", updated, err)
	}
}

// =============================================================================
// Non-unique duplicate keys preserve insertion order under a fixed key
// =============================================================================

func TestIndexNonUniqueDuplicateOrderPreserved(t *testing.T) {
	idx := newTestIndex(false)
	for _, v := range []pagestore.RowId{1, 2, 3} {
		if _, err := idx.InsertRecord(pagestore.Record[uint64, pagestore.RowId]{Key: 7, Value: v}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	var got []pagestore.RowId
	idx.WalkAll(func(r pagestore.Record[uint64, pagestore.RowId]) bool {
		got = append(got, r.Value)
		return true
	})
	want := []pagestore.RowId{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}

// =============================================================================
// Compact drops filtered-out records and forwards surviving values
// =============================================================================

func TestIndexCompactFiltersAndForwards(t *testing.T) {
	src := newTestIndex(false)
	for _, k := range []uint64{1, 2, 3, 4} {
		if _, err := src.InsertRecord(pagestore.Record[uint64, pagestore.RowId]{Key: k, Value: pagestore.RowId(k * 10)}); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	dest := newTestIndex(false)
	err := src.Compact(dest, func(r pagestore.Record[uint64, pagestore.RowId]) (pagestore.Record[uint64, pagestore.RowId], bool) {
		if r.Key == 2 {
			return r, false // drop
		}
		if r.Key == 3 {
			r.Value = 999 // forward a remapped value
		}
		return r, true
	})
	if err != nil {
		t.Fatalf("compact: %v", err)
	}

	var got []pagestore.Record[uint64, pagestore.RowId]
	dest.WalkAll(func(r pagestore.Record[uint64, pagestore.RowId]) bool {
		got = append(got, r)
		return true
	})
	if len(got) != 3 {
		t.Fatalf("want 3 surviving records, got %d (%v)", len(got), got)
	}
	if got[0].Key != 1 || got[0].Value != 10 {
		t.Fatalf("record 0: want {1,10}, got %v", got[0])
	}
	if got[1].Key != 3 || got[1].Value != 999 {
		t.Fatalf("record 1: want {3,999} (forwarded), got %v", got[1])
	}
	if got[2].Key != 4 || got[2].Value != 40 {
		t.Fatalf("record 2: want {4,40}, got %v", got[2])
	}
}

// =============================================================================
// An index with no records answers Query/Get with "not found", not a panic
// =============================================================================

func TestEmptyIndexQueryAndGet(t *testing.T) {
	idx := newTestIndex(false)
	if _, ok, err := idx.Get(5); ok || err != nil {
		t.Fatalf("want not found on empty index, got ok=%v err=%v", ok, err)
	}
	count := 0
	idx.Query(0, func(uint64, pagestore.RowId) int { count++; return 1 })
	if count != 0 {
		t.Fatalf("want no records visited, got %d", count)
	}
}

// =============================================================================
// Reaching the chunk split threshold divides the chunk, losing nothing
// =============================================================================

func TestChunkSplitAtThresholdKeepsAllRecords(t *testing.T) {
	idx := newTestIndex(false)
	const n = pagestore.SplitChunkSize + 10
	for i := 0; i < n; i++ {
		if _, err := idx.InsertRecord(pagestore.Record[uint64, pagestore.RowId]{Key: uint64(i), Value: pagestore.RowId(i)}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	pages := idx.Pages()
	if len(pages) != 1 {
		t.Fatalf("want 1 page, got %d", len(pages))
	}
	if got := pages[0].ChunkCount(); got < 2 {
		t.Fatalf("want the chunk split once it reached SplitChunkSize, got %d chunks", got)
	}

	count := 0
	var prev uint64
	if err := idx.WalkAll(func(r pagestore.Record[uint64, pagestore.RowId]) bool {
		if count > 0 && r.Key < prev {
			t.Fatalf("keys out of order after split: %d after %d", r.Key, prev)
		}
		prev = r.Key
		count++
		return true
	}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if count != n {
		t.Fatalf("want %d records after split, got %d", n, count)
	}
}

// =============================================================================
// TraverseEnd footing: a backward cursor started past the maximum key
// =============================================================================

func TestQueryBackwardFromBeyondMaxVisitsAll(t *testing.T) {
	idx := newTestIndex(false)
	for _, k := range []uint64{10, 20, 30} {
		if _, err := idx.InsertRecord(pagestore.Record[uint64, pagestore.RowId]{Key: k, Value: pagestore.RowId(k)}); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	var got []uint64
	if err := idx.Query(^uint64(0), func(key uint64, _ pagestore.RowId) int {
		got = append(got, key)
		return -1
	}); err != nil {
		t.Fatalf("query: %v", err)
	}
	want := []uint64{30, 20, 10}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}

// =============================================================================
// Page.Split moves the upper half of a page's chunks to a new page
// =============================================================================

func TestPageSplitProducesDisjointMonotoneHalves(t *testing.T) {
	idx := newTestIndex(false)
	// Enough records to split the first chunk, so the page holds two
	// chunks and Split has an upper half to move.
	const n = pagestore.SplitChunkSize + 10
	for i := 0; i < n; i++ {
		k := uint64(i)
		if _, err := idx.InsertRecord(pagestore.Record[uint64, pagestore.RowId]{Key: k, Value: pagestore.RowId(k)}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	pages := idx.Pages()
	if len(pages) != 1 {
		t.Fatalf("want a single page before any MaxChunks split, got %d", len(pages))
	}
	page := pages[0]
	newPage := page.Split(1, "")
	loMin, ok := page.Min()
	if !ok {
		t.Fatalf("original page should retain its lower half")
	}
	hiMin, ok := newPage.Min()
	if !ok {
		t.Fatalf("new page should hold the upper half")
	}
	if !(loMin < hiMin) {
		t.Fatalf("want lower half's min (%d) < upper half's min (%d)", loMin, hiMin)
	}
}
