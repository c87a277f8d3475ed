package durable_test

import (
	"os"
	"path/filepath"
	"testing"

	"varstore/internal/durable"
)

// =============================================================================
// WriteFile backs up the previous durable state exactly once
// =============================================================================

func TestWriteFileBacksUpPreviousContentOnce(t *testing.T) {
	root := t.TempDir()
	d := durable.Dir{Root: root}

	if err := d.WriteFile("meta.vdb", []byte("v1"), 0o644); err != nil {
		t.Fatalf("write v1: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "old", "meta.vdb")); !os.IsNotExist(err) {
		t.Fatalf("want no backup after the first write, got err=%v", err)
	}

	if err := d.WriteFile("meta.vdb", []byte("v2"), 0o644); err != nil {
		t.Fatalf("write v2: %v", err)
	}
	backup, err := os.ReadFile(filepath.Join(root, "old", "meta.vdb"))
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backup) != "v1" {
		t.Fatalf("want backup to hold v1, got %q", backup)
	}

	// A third write must not clobber the backup: it still represents
	// the last durable (saved) state, not an intermediate one.
	if err := d.WriteFile("meta.vdb", []byte("v3"), 0o644); err != nil {
		t.Fatalf("write v3: %v", err)
	}
	backup, err = os.ReadFile(filepath.Join(root, "old", "meta.vdb"))
	if err != nil {
		t.Fatalf("read backup after third write: %v", err)
	}
	if string(backup) != "v1" {
		t.Fatalf("want backup to still hold v1, got %q", backup)
	}
	cur, err := os.ReadFile(filepath.Join(root, "meta.vdb"))
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(cur) != "v3" {
		t.Fatalf("want current file to hold v3, got %q", cur)
	}
}

// =============================================================================
// Rollback restores the backed-up state and removes newly-extraneous files
// =============================================================================

func TestRollbackRestoresBackupAndRemovesExtraneous(t *testing.T) {
	root := t.TempDir()
	d := durable.Dir{Root: root}

	if err := d.WriteFile("meta.vdb", []byte("v1"), 0o644); err != nil {
		t.Fatalf("write v1: %v", err)
	}
	if err := d.WriteFile("meta.vdb", []byte("v2"), 0o644); err != nil {
		t.Fatalf("write v2: %v", err)
	}
	// A page file written only in the doomed generation, never backed up.
	if err := os.WriteFile(filepath.Join(root, "3"), []byte("new page"), 0o644); err != nil {
		t.Fatalf("write stray page: %v", err)
	}

	err := d.Rollback(func(name string) bool { return name == "meta.vdb" })
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}

	cur, err := os.ReadFile(filepath.Join(root, "meta.vdb"))
	if err != nil {
		t.Fatalf("read restored meta: %v", err)
	}
	if string(cur) != "v1" {
		t.Fatalf("want restored content v1, got %q", cur)
	}
	if _, err := os.Stat(filepath.Join(root, "3")); !os.IsNotExist(err) {
		t.Fatalf("want stray page file removed by rollback, got err=%v", err)
	}
}

func TestRollbackScopesDeletionToBase(t *testing.T) {
	base := t.TempDir()
	nested := filepath.Join(base, "t.table", "u.uint64.index")
	d := durable.Dir{Root: nested, Base: base}

	if err := d.WriteFile("meta.vdb", []byte("v1"), 0o644); err != nil {
		t.Fatalf("write v1: %v", err)
	}
	if err := d.WriteFile("meta.vdb", []byte("v2"), 0o644); err != nil {
		t.Fatalf("write v2: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, "7"), []byte("stray"), 0o644); err != nil {
		t.Fatalf("write stray page: %v", err)
	}

	err := d.Rollback(func(name string) bool { return name == "meta.vdb" })
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}

	cur, err := os.ReadFile(filepath.Join(nested, "meta.vdb"))
	if err != nil || string(cur) != "v1" {
		t.Fatalf("want restored content v1, got %q err=%v", cur, err)
	}
	if _, err := os.Stat(filepath.Join(nested, "7")); !os.IsNotExist(err) {
		t.Fatalf("want stray page inside the database root removed, got err=%v", err)
	}
}

func TestRollbackWithNoBackupsIsANoOp(t *testing.T) {
	root := t.TempDir()
	d := durable.Dir{Root: root}
	if err := os.WriteFile(filepath.Join(root, "meta.vdb"), []byte("only"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := d.Rollback(func(string) bool { return true }); err != nil {
		t.Fatalf("rollback on a directory with no old/: %v", err)
	}
	cur, err := os.ReadFile(filepath.Join(root, "meta.vdb"))
	if err != nil || string(cur) != "only" {
		t.Fatalf("want file untouched, got %q err=%v", cur, err)
	}
}

// =============================================================================
// Clean deletes backups without touching current files
// =============================================================================

func TestCleanRemovesBackupsOnly(t *testing.T) {
	root := t.TempDir()
	d := durable.Dir{Root: root}
	if err := d.WriteFile("meta.vdb", []byte("v1"), 0o644); err != nil {
		t.Fatalf("write v1: %v", err)
	}
	if err := d.WriteFile("meta.vdb", []byte("v2"), 0o644); err != nil {
		t.Fatalf("write v2: %v", err)
	}
	if err := d.Clean(); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "old", "meta.vdb")); !os.IsNotExist(err) {
		t.Fatalf("want backup gone after clean, got err=%v", err)
	}
	cur, err := os.ReadFile(filepath.Join(root, "meta.vdb"))
	if err != nil || string(cur) != "v2" {
		t.Fatalf("want current file untouched at v2, got %q err=%v", cur, err)
	}
}
