// Package durable implements the save/rollback/clean protocol shared
// by every directory in a database tree (the db root, each table,
// each data-block directory, each index directory): a sibling old/
// subdirectory holds pre-image backups of files a save has replaced,
// so a rollback can restore the last durable state.
package durable

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dir wraps one directory that participates in the save/rollback
// protocol.
type Dir struct {
	Root string

	// Base is the enclosing database root that Rollback's deletion
	// safety check guards against: the engine refuses to delete paths
	// outside it. Callers rolling back a nested directory (a table, an
	// index, a data-block directory) set it to the database root; left
	// empty, Root guards itself.
	Base string
}

func (d Dir) oldPath(name string) string { return filepath.Join(d.Root, "old", name) }
func (d Dir) path(name string) string    { return filepath.Join(d.Root, name) }

// WriteFile durably replaces name's contents with data: the existing
// file (if any) is renamed into old/ first, unless a backup already
// exists there (the backup always represents the last durable
// state, never an intermediate one), then the new contents are
// written.
func (d Dir) WriteFile(name string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Join(d.Root, "old"), 0o755); err != nil {
		return fmt.Errorf("durable: mkdir %s/old: %w", d.Root, err)
	}
	cur := d.path(name)
	old := d.oldPath(name)
	if _, err := os.Stat(cur); err == nil {
		if _, err := os.Stat(old); os.IsNotExist(err) {
			if err := os.Rename(cur, old); err != nil {
				return fmt.Errorf("durable: backup %s: %w", cur, err)
			}
		}
	}
	if err := os.WriteFile(cur, data, perm); err != nil {
		return fmt.Errorf("durable: write %s: %w", cur, err)
	}
	return nil
}

// Rollback restores every file under old/ over its sibling in Root,
// then deletes any file in Root that keep reports as no longer
// referenced. It refuses to delete anything outside the database root
// (Base): a hard abort, since a bug here would otherwise delete
// arbitrary files.
func (d Dir) Rollback(keep func(name string) bool) error {
	oldDir := filepath.Join(d.Root, "old")
	entries, err := os.ReadDir(oldDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("durable: list %s: %w", oldDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Rename(filepath.Join(oldDir, e.Name()), d.path(e.Name())); err != nil {
			return fmt.Errorf("durable: restore %s: %w", e.Name(), err)
		}
	}

	root, err := filepath.Abs(d.Root)
	if err != nil {
		return fmt.Errorf("durable: resolve root %s: %w", d.Root, err)
	}
	base := d.Base
	if base == "" {
		base = d.Root
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return fmt.Errorf("durable: resolve base %s: %w", base, err)
	}
	current, err := os.ReadDir(d.Root)
	if err != nil {
		return fmt.Errorf("durable: list %s: %w", d.Root, err)
	}
	for _, e := range current {
		if e.IsDir() {
			continue
		}
		if keep(e.Name()) {
			continue
		}
		target := filepath.Join(root, e.Name())
		mustBeWithin(target, absBase)
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("durable: remove extraneous %s: %w", target, err)
		}
	}
	return nil
}

// Clean deletes every file under old/, the only operation that
// ordinarily removes backup files.
func (d Dir) Clean() error {
	oldDir := filepath.Join(d.Root, "old")
	entries, err := os.ReadDir(oldDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("durable: list %s: %w", oldDir, err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(oldDir, e.Name())); err != nil {
			return fmt.Errorf("durable: clean %s: %w", e.Name(), err)
		}
	}
	return nil
}

// mustBeWithin hard-aborts the process if target does not lie inside
// the database root. This guards the one deletion path that is derived
// from disk listings rather than a path the caller constructed
// directly, so a path-traversal bug cannot escape the database
// directory.
func mustBeWithin(target, dbRoot string) {
	target = filepath.Clean(target)
	dbRoot = filepath.Clean(dbRoot)
	if target != dbRoot && !strings.HasPrefix(target, dbRoot+string(filepath.Separator)) {
		panic(fmt.Sprintf("durable: refusing to delete %q outside database root %q", target, dbRoot))
	}
}
