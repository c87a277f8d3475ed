package pagestore

import (
	"encoding/binary"
	"math"
)

// primitiveCodec is a RecordCodec[K, RowId] (and KeyCodec[K]) built
// from a pair of fixed-width key encode/decode functions. Every
// declared secondary index type (Int32, UInt32, Int64, UInt64, Float,
// Double, Row, Hash) stores a RowId as its value, so one generic
// shape covers all eight on-disk record layouts; only the key
// encoding differs.
type primitiveCodec[K Ordered] struct {
	keySize int
	encode  func(buf []byte, k K)
	decode  func(buf []byte) K
}

func (c primitiveCodec[K]) Size() int { return c.keySize + 8 }

func (c primitiveCodec[K]) Encode(buf []byte, r Record[K, RowId]) {
	c.encode(buf[:c.keySize], r.Key)
	binary.LittleEndian.PutUint64(buf[c.keySize:], uint64(r.Value))
}

func (c primitiveCodec[K]) Decode(buf []byte) Record[K, RowId] {
	k := c.decode(buf[:c.keySize])
	v := RowId(binary.LittleEndian.Uint64(buf[c.keySize:]))
	return Record[K, RowId]{Key: k, Value: v}
}

// keyCodec lets primitiveCodec double as a
// KeyCodec[K] for an index directory's meta.vdb page map.
func (c primitiveCodec[K]) keyCodec() KeyCodec[K] { return keyCodecAdapter[K]{c} }

type keyCodecAdapter[K Ordered] struct{ c primitiveCodec[K] }

func (a keyCodecAdapter[K]) Size() int              { return a.c.keySize }
func (a keyCodecAdapter[K]) Encode(buf []byte, k K) { a.c.encode(buf, k) }
func (a keyCodecAdapter[K]) Decode(buf []byte) K    { return a.c.decode(buf) }

// Int32Codec is the record/key codec for a declared Int32 secondary
// index (type code 1).
func Int32Codec() primitiveCodec[int32] {
	return primitiveCodec[int32]{
		keySize: 4,
		encode:  func(buf []byte, k int32) { binary.LittleEndian.PutUint32(buf, uint32(k)) },
		decode:  func(buf []byte) int32 { return int32(binary.LittleEndian.Uint32(buf)) },
	}
}

// UInt32Codec is the record/key codec for a declared UInt32 secondary
// index (type code 2).
func UInt32Codec() primitiveCodec[uint32] {
	return primitiveCodec[uint32]{
		keySize: 4,
		encode:  func(buf []byte, k uint32) { binary.LittleEndian.PutUint32(buf, k) },
		decode:  func(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) },
	}
}

// Int64Codec is the record/key codec for a declared Int64 secondary
// index (type code 3).
func Int64Codec() primitiveCodec[int64] {
	return primitiveCodec[int64]{
		keySize: 8,
		encode:  func(buf []byte, k int64) { binary.LittleEndian.PutUint64(buf, uint64(k)) },
		decode:  func(buf []byte) int64 { return int64(binary.LittleEndian.Uint64(buf)) },
	}
}

// UInt64Codec is the record/key codec for a declared UInt64 secondary
// index (type code 4).
func UInt64Codec() primitiveCodec[uint64] {
	return primitiveCodec[uint64]{
		keySize: 8,
		encode:  func(buf []byte, k uint64) { binary.LittleEndian.PutUint64(buf, k) },
		decode:  func(buf []byte) uint64 { return binary.LittleEndian.Uint64(buf) },
	}
}

// Float32Codec is the record/key codec for a declared Float secondary
// index (type code 5).
func Float32Codec() primitiveCodec[float32] {
	return primitiveCodec[float32]{
		keySize: 4,
		encode: func(buf []byte, k float32) {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(k))
		},
		decode: func(buf []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(buf)) },
	}
}

// Float64Codec is the record/key codec for a declared Double secondary
// index (type code 6).
func Float64Codec() primitiveCodec[float64] {
	return primitiveCodec[float64]{
		keySize: 8,
		encode: func(buf []byte, k float64) {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(k))
		},
		decode: func(buf []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(buf)) },
	}
}

// RowCodec is the record/key codec for a declared Row secondary index
// (type code 7), which stores a bare uint64 key on disk.
func RowCodec() primitiveCodec[RowId] {
	return primitiveCodec[RowId]{
		keySize: 8,
		encode:  func(buf []byte, k RowId) { binary.LittleEndian.PutUint64(buf, uint64(k)) },
		decode:  func(buf []byte) RowId { return RowId(binary.LittleEndian.Uint64(buf)) },
	}
}

// HashCodec is the record/key codec for a declared Hash secondary
// index (type code 8): the key is the uint64 hash of the indexed
// field value, produced by the codec.Codec collaborator's Hash
// method.
func HashCodec() primitiveCodec[uint64] { return UInt64Codec() }
