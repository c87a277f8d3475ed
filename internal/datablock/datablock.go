// Package datablock implements the append-only payload file a table's
// rows are packed into.
package datablock

import (
	"encoding/binary"
	"fmt"
	"os"
	"syscall"

	"varstore/internal/durable"
)

// Size limits and flags.
const (
	MaxDataSize     = 16 << 20 // 16 MiB
	MinCompressSize = 1000
	CompressFlag    = 0x1

	recordHeaderSize = 16 // rowId:u64, size:u32, flags:u32
)

// Block is one append-only data-block file. An active block (still
// receiving inserts) keeps its bytes resident in buf; once evicted by
// the cache it is Unloaded and its Get calls are served by briefly
// mmapping the on-disk file instead of reloading the whole block into
// the heap — the point of evicting a block is to free its memory,
// which a full reload-on-first-read would immediately undo.
type Block struct {
	id   uint32
	path string
	buf  []byte

	tick   uint64
	loaded bool
	dirty  bool
}

// New creates a fresh, empty, loaded block.
func New(id uint32, path string) *Block {
	return &Block{id: id, path: path, loaded: true}
}

// OpenExisting reconstructs a block known to already exist on disk,
// in the unloaded state (its bytes are not read until first access).
func OpenExisting(id uint32, path string, size int) *Block {
	return &Block{id: id, path: path, loaded: false}
}

func (b *Block) ID() uint32 { return b.id }

// Size is the block's logical length: the resident buffer's length
// when loaded, or the on-disk file's length when not.
func (b *Block) Size() int {
	if b.loaded {
		return len(b.buf)
	}
	fi, err := os.Stat(b.path)
	if err != nil {
		return 0
	}
	return int(fi.Size())
}

// RemainingCapacity is how many more payload bytes (including header
// overhead) the block can accept before exceeding MaxDataSize.
func (b *Block) RemainingCapacity() int { return MaxDataSize - b.Size() }

// Insert appends (rowId:u64, size:u32, flags:u32, payload) and
// returns the offset the record was written at. Only valid on a
// loaded block; Dir reloads an unloaded block before inserting into
// it.
func (b *Block) Insert(rowID uint64, payload []byte, flags uint32) (uint32, error) {
	if !b.loaded {
		return 0, fmt.Errorf("datablock: insert into unloaded block %d", b.id)
	}
	offset := uint32(len(b.buf))
	rec := make([]byte, recordHeaderSize+len(payload))
	binary.LittleEndian.PutUint64(rec[0:8], rowID)
	binary.LittleEndian.PutUint32(rec[8:12], uint32(len(payload)))
	binary.LittleEndian.PutUint32(rec[12:16], flags)
	copy(rec[recordHeaderSize:], payload)
	b.buf = append(b.buf, rec...)
	b.dirty = true
	return offset, nil
}

// Get reads the record at offset, returning its row id, flags and raw
// (still-packed) payload bytes. The caller unpacks the payload
// through the Codec collaborator.
func (b *Block) Get(offset uint32) (rowID uint64, payload []byte, flags uint32, err error) {
	if b.loaded {
		return decodeRecord(b.buf, offset)
	}
	return b.mmapGet(offset)
}

func decodeRecord(buf []byte, offset uint32) (uint64, []byte, uint32, error) {
	if int(offset)+recordHeaderSize > len(buf) {
		return 0, nil, 0, fmt.Errorf("datablock: offset %d out of range", offset)
	}
	rowID := binary.LittleEndian.Uint64(buf[offset : offset+8])
	size := binary.LittleEndian.Uint32(buf[offset+8 : offset+12])
	flags := binary.LittleEndian.Uint32(buf[offset+12 : offset+16])
	start := int(offset) + recordHeaderSize
	end := start + int(size)
	if end > len(buf) {
		return 0, nil, 0, fmt.Errorf("datablock: record at %d truncated", offset)
	}
	payload := make([]byte, size)
	copy(payload, buf[start:end])
	return rowID, payload, flags, nil
}

func (b *Block) mmapGet(offset uint32) (uint64, []byte, uint32, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("datablock: open %s: %w", b.path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, nil, 0, fmt.Errorf("datablock: stat %s: %w", b.path, err)
	}
	size := int(fi.Size())
	if size == 0 {
		return 0, nil, 0, fmt.Errorf("datablock: empty block %s", b.path)
	}
	mapped, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("datablock: mmap %s: %w", b.path, err)
	}
	defer syscall.Munmap(mapped)

	return decodeRecord(mapped, offset)
}

// MemoryUsage implements the Pageable cache contract: an unloaded
// block is served via transient mmaps and so costs nothing against
// the budget.
func (b *Block) MemoryUsage() int {
	if !b.loaded {
		return 0
	}
	return len(b.buf)
}

func (b *Block) Tick() uint64   { return b.tick }
func (b *Block) Touch(t uint64) { b.tick = t }
func (b *Block) Loaded() bool   { return b.loaded }
func (b *Block) Dirty() bool    { return b.dirty }
func (b *Block) Path() string   { return b.path }
func (b *Block) MarkClean()     { b.dirty = false }

// Store writes the block's resident buffer to disk through dir's
// durable save protocol. The on-disk image is exactly the in-memory
// byte image, with no header.
func (b *Block) Store(dir durable.Dir, name string) error {
	if !b.dirty {
		return nil
	}
	if err := dir.WriteFile(name, b.buf, 0o644); err != nil {
		return err
	}
	b.dirty = false
	return nil
}

// Unload flushes the block if dirty, frees its resident buffer, and
// marks it unloaded so the next Get is served by mmap instead.
func (b *Block) Unload(dir durable.Dir, name string) error {
	if err := b.Store(dir, name); err != nil {
		return err
	}
	b.buf = nil
	b.loaded = false
	return nil
}

// Load reads the block's full on-disk image back into its resident
// buffer, e.g. because the table needs to resume inserting into it
// (Insert requires the loaded state).
func (b *Block) Load() error {
	buf, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("datablock: read %s: %w", b.path, err)
	}
	b.buf = buf
	b.loaded = true
	return nil
}

// Walk visits every record in the block in stored order, calling f with
// its row id, flags and raw payload bytes; f's bool return continues
// (true) or stops (false) the walk. Only valid on a loaded block.
func (b *Block) Walk(f func(rowID uint64, payload []byte, flags uint32) bool) {
	offset := 0
	for offset+recordHeaderSize <= len(b.buf) {
		rowID, payload, flags, err := decodeRecord(b.buf, uint32(offset))
		if err != nil {
			return
		}
		if !f(rowID, payload, flags) {
			return
		}
		offset += recordHeaderSize + len(payload)
	}
}
