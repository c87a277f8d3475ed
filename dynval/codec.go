// Package dynval is the reference implementation of the store's external
// value-codec collaborator (internal/codec.Codec).
//
// Rows are msgpack-encoded maps, compressed with zstd once their packed
// size reaches the caller-supplied compress hint. This is the only
// concrete Codec the repository ships; store.Database accepts any
// implementation of codec.Codec, so this package is a leaf a caller may
// swap out entirely.
package dynval

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"varstore/internal/codec"
)

// Codec is a codec.Codec backed by msgpack + zstd + xxhash.
//
// A single Codec is safe for concurrent use: the zstd encoder and decoder
// are both safe for concurrent calls to EncodeAll/DecodeAll, and msgpack's
// package-level Marshal/Unmarshal hold no shared mutable state.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder

	// encMu serializes calls into the zstd encoder; EncodeAll is only
	// concurrency-safe when every call supplies its own destination
	// buffer.
	encMu sync.Mutex
}

var (
	defaultCodec *Codec
	defaultOnce  sync.Once
)

// Default returns a process-wide Codec instance, constructed lazily.
func Default() *Codec {
	defaultOnce.Do(func() {
		c, err := New()
		if err != nil {
			// zstd.NewWriter/NewReader with nil options only fail on
			// invalid option combinations, which New never supplies.
			panic("dynval: " + err.Error())
		}
		defaultCodec = c
	})
	return defaultCodec
}

// New constructs a Codec with its own zstd encoder and decoder.
func New() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("dynval: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("dynval: create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Close releases the codec's zstd resources.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Pack implements codec.Codec.
func (c *Codec) Pack(v codec.Value, compressHint int) ([]byte, uint32, error) {
	raw, err := msgpack.Marshal(map[string]any(v))
	if err != nil {
		return nil, 0, fmt.Errorf("dynval: marshal: %w", err)
	}
	if compressHint <= 0 || len(raw) < compressHint {
		return raw, 0, nil
	}

	c.encMu.Lock()
	compressed := c.enc.EncodeAll(raw, make([]byte, 0, len(raw)))
	c.encMu.Unlock()

	if len(compressed) >= len(raw) {
		// Compression didn't help; store uncompressed rather than pay the
		// decode cost for nothing.
		return raw, 0, nil
	}
	return compressed, codec.CompressFlag, nil
}

// Unpack implements codec.Codec.
func (c *Codec) Unpack(data []byte, flags uint32) (codec.Value, error) {
	if flags&codec.CompressFlag != 0 {
		raw, err := c.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("dynval: zstd decode: %w", err)
		}
		data = raw
	}
	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dynval: unmarshal: %w", err)
	}
	return codec.Value(m), nil
}

// Hash implements codec.Codec using xxhash over the msgpack encoding of the
// field value, so any indexable field type (numbers, strings, bytes)
// hashes deterministically regardless of its Go representation.
func (c *Codec) Hash(fieldValue any) uint64 {
	raw, err := msgpack.Marshal(fieldValue)
	if err != nil {
		// store/table passes field values straight from the caller's
		// row; a value msgpack cannot marshal hashes to 0.
		return 0
	}
	return xxhash.Sum64(raw)
}
