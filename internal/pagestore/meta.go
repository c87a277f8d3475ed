package pagestore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"varstore/internal/durable"
	"varstore/internal/format"
)

// KeyCodec (de)serializes a single key of type K to/from a fixed-size
// byte slice; used only for the index directory's meta file (the
// page-id -> minimum-key map), not for record payloads.
type KeyCodec[K Ordered] interface {
	Size() int
	Encode(buf []byte, k K)
	Decode(buf []byte) K
}

// IndexMetaVersion is the version byte stamped into every index
// directory's meta.vdb file.
const IndexMetaVersion = 1

// IndexMeta is the persisted state of an index directory: enough to
// reconstruct every page's identity and key range without reading any
// page file — the next page id, the unique/auto-erase flags, and the
// page-id to minimum-key map.
type IndexMeta[K Ordered] struct {
	NextPageID uint32
	Unique     bool
	AutoErase  bool
	PageMap    map[uint32]K
}

// EncodeMeta renders an IndexMeta as a meta.vdb file image.
func EncodeMeta[K Ordered](m IndexMeta[K], kc KeyCodec[K]) ([]byte, error) {
	keySize := kc.Size()
	body := make([]byte, 0, format.HeaderSize+9+len(m.PageMap)*(4+keySize))
	hdr := make([]byte, format.HeaderSize)
	format.Header{Type: format.TypeIndexMeta, Version: IndexMetaVersion}.EncodeInto(hdr)
	body = append(body, hdr...)

	var nextPageIDBuf, countBuf [4]byte
	binary.LittleEndian.PutUint32(nextPageIDBuf[:], m.NextPageID)
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(m.PageMap)))
	body = append(body, nextPageIDBuf[:]...)
	flags := byte(0)
	if m.Unique {
		flags |= 1
	}
	if m.AutoErase {
		flags |= 2
	}
	body = append(body, flags)
	body = append(body, countBuf[:]...)

	for id, key := range m.PageMap {
		var idBuf [4]byte
		binary.LittleEndian.PutUint32(idBuf[:], id)
		body = append(body, idBuf[:]...)
		keyBuf := make([]byte, keySize)
		kc.Encode(keyBuf, key)
		body = append(body, keyBuf...)
	}
	return body, nil
}

// DecodeMeta parses a meta.vdb file image.
func DecodeMeta[K Ordered](buf []byte, kc KeyCodec[K]) (IndexMeta[K], error) {
	var m IndexMeta[K]
	if _, err := format.DecodeAndValidate(buf, format.TypeIndexMeta, IndexMetaVersion); err != nil {
		return m, err
	}
	off := format.HeaderSize
	if off+9 > len(buf) {
		return m, format.ErrHeaderTooSmall
	}
	m.NextPageID = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	flags := buf[off]
	m.Unique = flags&1 != 0
	m.AutoErase = flags&2 != 0
	off++
	count := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	keySize := kc.Size()
	m.PageMap = make(map[uint32]K, count)
	for i := uint32(0); i < count; i++ {
		if off+4+keySize > len(buf) {
			return m, fmt.Errorf("pagestore: truncated page map")
		}
		id := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		key := kc.Decode(buf[off : off+keySize])
		off += keySize
		m.PageMap[id] = key
	}
	return m, nil
}

// LoadMeta reads an index's meta.vdb from path.
func LoadMeta[K Ordered](path string, kc KeyCodec[K]) (IndexMeta[K], error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return IndexMeta[K]{}, err
	}
	m, err := DecodeMeta(buf, kc)
	if err != nil {
		return m, fmt.Errorf("pagestore: index meta %s: %w", path, err)
	}
	return m, nil
}

// LoadPageIDs parses just enough of a meta.vdb to recover the set of
// page ids it references, without needing the concrete key type's
// KeyCodec — only its fixed encoded size. Used by the rollback
// protocol to decide which page files in an index directory are still
// referenced after restoring old/ over their siblings.
func LoadPageIDs(path string, keySize int) (map[uint32]bool, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := format.DecodeAndValidate(buf, format.TypeIndexMeta, IndexMetaVersion); err != nil {
		return nil, fmt.Errorf("pagestore: index meta %s: %w", path, err)
	}
	off := format.HeaderSize
	if off+9 > len(buf) {
		return nil, format.ErrHeaderTooSmall
	}
	off += 4 // nextPageID
	off++    // flags
	count := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	ids := make(map[uint32]bool, count)
	for i := uint32(0); i < count; i++ {
		if off+4+keySize > len(buf) {
			return nil, fmt.Errorf("pagestore: truncated page map")
		}
		ids[binary.LittleEndian.Uint32(buf[off:])] = true
		off += 4 + keySize
	}
	return ids, nil
}

// NewUnloadedPage constructs a page skeleton known only by id, path
// and key (as reconstructed from an index's meta.vdb page map); its
// chunks are populated lazily by the first call to EnsureLoaded.
func NewUnloadedPage[K Ordered, V any](id uint32, path string, recordSize int) *Page[K, V] {
	return &Page[K, V]{id: id, path: path, recordSize: recordSize, loaded: false}
}

// Open reconstructs an index from a previously saved meta.vdb,
// installing one unloaded page skeleton per meta entry. If no meta
// file exists yet, a fresh index is created instead.
func Open[K Ordered, V any](metaPath string, minKey K, rc RecordCodec[K, V], pathFor PathFunc, kc KeyCodec[K], unique, autoErase bool) (*Index[K, V], error) {
	m, err := LoadMeta[K](metaPath, kc)
	if os.IsNotExist(err) {
		return NewIndex[K, V](minKey, rc, pathFor, unique, autoErase), nil
	}
	if err != nil {
		return nil, err
	}
	idx := &Index[K, V]{codec: rc, pathFor: pathFor, Unique: m.Unique, AutoErase: m.AutoErase, nextPageID: m.NextPageID}
	for id, key := range m.PageMap {
		idx.pages.Put(key, NewUnloadedPage[K, V](id, pathFor(id), rc.Size()))
	}
	return idx, nil
}

// Save persists the index's meta.vdb plus every dirty page through
// dir's durable save protocol (each replaced file is backed up to
// old/ before the new contents land). meta.vdb is written last, so a
// crash mid-save still leaves the previous meta.vdb pointing at
// previous, still-intact page files.
func (idx *Index[K, V]) Save(dir durable.Dir, metaName string, kc KeyCodec[K]) error {
	pageMap := make(map[uint32]K, idx.pages.Len())
	for i := 0; i < idx.pages.Len(); i++ {
		k, p := idx.pages.At(i)
		pageMap[p.ID()] = k
		if p.Loaded() && p.Dirty() {
			name := filepath.Base(p.Path())
			if err := dir.WriteFile(name, EncodePage(p, idx.codec), 0o644); err != nil {
				return err
			}
			p.MarkClean()
		}
	}
	buf, err := EncodeMeta(IndexMeta[K]{
		NextPageID: idx.nextPageID,
		Unique:     idx.Unique,
		AutoErase:  idx.AutoErase,
		PageMap:    pageMap,
	}, kc)
	if err != nil {
		return err
	}
	return dir.WriteFile(metaName, buf, 0o644)
}
