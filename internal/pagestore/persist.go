package pagestore

import (
	"encoding/binary"
	"fmt"
	"os"

	"varstore/internal/format"
)

// RecordCodec (de)serializes one Record[K,V] to/from a fixed-size
// byte slice, so Page/Index persistence never needs to know the
// concrete key/value types. Implementations live next to the type
// they serialize (rowdir.dataRecordCodec for DataPointer, the
// per-primitive codecs in primitives.go for secondary indexes).
type RecordCodec[K Ordered, V any] interface {
	// Size is the fixed on-disk size of one record.
	Size() int
	Encode(buf []byte, r Record[K, V])
	Decode(buf []byte) Record[K, V]
}

// PageFileVersion is the version byte stamped into every page file's
// shared header.
const PageFileVersion = 1

// EncodePage renders a page's current chunks as a page file image:
// the shared 4-byte header (type=TypePage), then a little-endian
// uint32 chunk count, then per chunk a little-endian uint32 record
// count and that many fixed-size encoded records.
func EncodePage[K Ordered, V any](p *Page[K, V], codec RecordCodec[K, V]) []byte {
	chunks := p.Chunks()
	recSize := codec.Size()

	bodySize := 4
	for _, c := range chunks {
		bodySize += 4 + c.len()*recSize
	}

	buf := make([]byte, format.HeaderSize+bodySize)
	format.Header{Type: format.TypePage, Version: PageFileVersion}.EncodeInto(buf)
	off := format.HeaderSize
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(chunks)))
	off += 4
	for _, c := range chunks {
		binary.LittleEndian.PutUint32(buf[off:], uint32(c.len()))
		off += 4
		for _, r := range c.records {
			codec.Encode(buf[off:off+recSize], r)
			off += recSize
		}
	}
	return buf
}

// DecodePage parses a page file image into chunks.
func DecodePage[K Ordered, V any](buf []byte, codec RecordCodec[K, V]) ([]*Chunk[K, V], error) {
	if _, err := format.DecodeAndValidate(buf, format.TypePage, PageFileVersion); err != nil {
		return nil, err
	}
	off := format.HeaderSize
	if off+4 > len(buf) {
		return nil, format.ErrHeaderTooSmall
	}
	numChunks := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	recSize := codec.Size()
	chunks := make([]*Chunk[K, V], 0, numChunks)
	for i := uint32(0); i < numChunks; i++ {
		if off+4 > len(buf) {
			return nil, fmt.Errorf("pagestore: truncated chunk header")
		}
		n := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		records := make([]Record[K, V], n)
		for j := uint32(0); j < n; j++ {
			if off+recSize > len(buf) {
				return nil, fmt.Errorf("pagestore: truncated record")
			}
			records[j] = codec.Decode(buf[off : off+recSize])
			off += recSize
		}
		chunks = append(chunks, &Chunk[K, V]{records: records})
	}
	return chunks, nil
}

// Load reads a page's chunks back from its file path and installs
// them, leaving the *Page identity unchanged: references held across
// Unload/Load stay valid.
func Load[K Ordered, V any](p *Page[K, V], codec RecordCodec[K, V]) error {
	buf, err := os.ReadFile(p.Path())
	if err != nil {
		return fmt.Errorf("pagestore: read page %s: %w", p.Path(), err)
	}
	chunks, err := DecodePage(buf, codec)
	if err != nil {
		return fmt.Errorf("pagestore: page %s: %w", p.Path(), err)
	}
	p.Load(chunks)
	return nil
}

// EnsureLoaded reloads a page's chunks from disk if it is currently
// unloaded, leaving it untouched otherwise.
func EnsureLoaded[K Ordered, V any](p *Page[K, V], codec RecordCodec[K, V]) error {
	if p.Loaded() {
		return nil
	}
	return Load(p, codec)
}
