// Package codec names the boundary between the storage engine and the
// dynamic value type rows are made of.
//
// The value type and its binary serialization are external
// collaborators: the engine only ever calls Pack, Unpack and Hash
// through this interface. Package dynval ships a concrete default; the
// engine itself (package store and its internal/ dependencies) imports only
// this package, never dynval, so a caller may supply any Codec.
package codec

// Value is a structured dynamic document: a row. Field values may be any
// of the engine's supported index key primitives (int32, uint32, int64,
// uint64, float32, float64, string, []byte) or arbitrary nested data that
// is never indexed.
type Value map[string]any

// CompressFlag is set in the flags word returned by Pack when the payload
// was compressed, and must be consulted by Unpack.
const CompressFlag uint32 = 0x1

// Codec packs and unpacks row payloads, and hashes individual field values
// for Hash-typed secondary indexes.
//
// Pack is given a compression hint: the minimum payload size, in bytes, at
// which the caller would like compression attempted. A Codec is free to
// ignore it (e.g. for a no-compression codec) but must report via flags
// whether it compressed the payload, so Unpack can undo it.
type Codec interface {
	Pack(v Value, compressHint int) (data []byte, flags uint32, err error)
	Unpack(data []byte, flags uint32) (Value, error)
	Hash(fieldValue any) uint64
}
