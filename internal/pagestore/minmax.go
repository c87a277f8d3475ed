package pagestore

import "math"

// Type-minimum helpers: the value installed as the key of an index's
// first page at creation time, so a floor lookup always finds a page
// for any insert. Floating-point types use IEEE negative infinity
// rather than the smallest finite value.
func MinInt32() int32     { return math.MinInt32 }
func MinUint32() uint32   { return 0 }
func MinInt64() int64     { return math.MinInt64 }
func MinUint64() uint64   { return 0 }
func MinFloat32() float32 { return float32(math.Inf(-1)) }
func MinFloat64() float64 { return math.Inf(-1) }
