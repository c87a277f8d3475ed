package store

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"

	"varstore/internal/format"
)

// dbMeta is the persisted state of the database root: the configured
// memory limit and the next row id, extended with the set of tables
// known to exist as of the last successful save (so Rollback can tell
// a table directory created since that save from one that predates
// it) and a session identifier stamped at creation time.
type dbMeta struct {
	MemoryLimit int
	NextRowID   RowId
	Session     uuid.UUID
	Tables      []string
}

const (
	dbMetaName    = "meta.vdb"
	dbMetaVersion = 1
)

func encodeDBMeta(m dbMeta) []byte {
	buf := make([]byte, format.HeaderSize+8+8+16+4)
	format.Header{Type: format.TypeDBMeta, Version: dbMetaVersion}.EncodeInto(buf)
	off := format.HeaderSize
	binary.LittleEndian.PutUint64(buf[off:], uint64(m.MemoryLimit))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(m.NextRowID))
	off += 8
	copy(buf[off:off+16], m.Session[:])
	off += 16
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(m.Tables)))

	for _, name := range m.Tables {
		nameBytes := []byte(name)
		entry := make([]byte, 2+len(nameBytes))
		binary.LittleEndian.PutUint16(entry, uint16(len(nameBytes)))
		copy(entry[2:], nameBytes)
		buf = append(buf, entry...)
	}
	return buf
}

func decodeDBMeta(buf []byte) (dbMeta, error) {
	var m dbMeta
	if _, err := format.DecodeAndValidate(buf, format.TypeDBMeta, dbMetaVersion); err != nil {
		return m, fmt.Errorf("store: db meta: %w", err)
	}
	off := format.HeaderSize
	if off+8+8+16+4 > len(buf) {
		return m, fmt.Errorf("store: db meta: %w", format.ErrHeaderTooSmall)
	}
	m.MemoryLimit = int(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	m.NextRowID = RowId(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	copy(m.Session[:], buf[off:off+16])
	off += 16
	count := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	m.Tables = make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+2 > len(buf) {
			return m, fmt.Errorf("store: db meta: truncated table list")
		}
		nameLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if off+nameLen > len(buf) {
			return m, fmt.Errorf("store: db meta: truncated table name")
		}
		m.Tables = append(m.Tables, string(buf[off:off+nameLen]))
		off += nameLen
	}
	return m, nil
}

// loadDBMeta reads path, returning (zero, false, nil) if it has never
// been saved.
func loadDBMeta(path string) (dbMeta, bool, error) {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return dbMeta{}, false, nil
	}
	if err != nil {
		return dbMeta{}, false, fmt.Errorf("store: read db meta %s: %w", path, err)
	}
	m, err := decodeDBMeta(buf)
	if err != nil {
		return dbMeta{}, false, err
	}
	return m, true, nil
}
