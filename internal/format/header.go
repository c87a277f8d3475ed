// Package format provides the shared binary header used by every on-disk
// meta and page file the store writes.
package format

import "errors"

// Header layout (4 bytes):
//
//	signature (1 byte, 'v' = 0x76)
//	type (1 byte, identifies the file format)
//	version (1 byte)
//	flags (1 byte, format-specific)
const (
	Signature  = 'v'
	HeaderSize = 4

	TypeDBMeta    = 'd'
	TypeTableMeta = 't'
	TypeDataMeta  = 'a'
	TypeIndexMeta = 'x'
	TypePage      = 'p'
)

// Data-block files carry no header: a data block's on-disk image is
// byte-identical to its in-memory image, which is itself the first-class wire format consumed by
// Block.Get's raw-offset reads.

var (
	ErrHeaderTooSmall    = errors.New("header too small")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrVersionMismatch   = errors.New("version mismatch")
)

// Header is the common 4-byte file header.
type Header struct {
	Type    byte
	Version byte
	Flags   byte
}

// EncodeInto writes the header into buf at offset 0 and returns HeaderSize.
func (h Header) EncodeInto(buf []byte) int {
	buf[0] = Signature
	buf[1] = h.Type
	buf[2] = h.Version
	buf[3] = h.Flags
	return HeaderSize
}

// Decode reads a header from buf.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrHeaderTooSmall
	}
	if buf[0] != Signature {
		return Header{}, ErrSignatureMismatch
	}
	return Header{Type: buf[1], Version: buf[2], Flags: buf[3]}, nil
}

// DecodeAndValidate reads a header and checks its type and version.
func DecodeAndValidate(buf []byte, expectedType, expectedVersion byte) (Header, error) {
	h, err := Decode(buf)
	if err != nil {
		return Header{}, err
	}
	if h.Type != expectedType {
		return Header{}, ErrTypeMismatch
	}
	if h.Version != expectedVersion {
		return Header{}, ErrVersionMismatch
	}
	return h, nil
}
