package pagestore

// NewAnyIndex opens (or creates) a secondary index directory rooted
// at dirRoot, dispatching on the stable on-disk type code: a small
// closed switch over the declared type, each arm wiring up one
// concrete Index[K, RowId] instantiation boxed behind AnyIndex.
func NewAnyIndex(typeCode byte, dirRoot string, unique, autoErase bool) (AnyIndex, error) {
	switch typeCode {
	case TypeInt32:
		return newAdapter(typeCode, Int32Codec(), toInt32, nil, dirRoot, MinInt32(), unique, autoErase)
	case TypeUInt32:
		return newAdapter(typeCode, UInt32Codec(), toUint32, nil, dirRoot, MinUint32(), unique, autoErase)
	case TypeInt64:
		return newAdapter(typeCode, Int64Codec(), toInt64, nil, dirRoot, MinInt64(), unique, autoErase)
	case TypeUInt64:
		return newAdapter(typeCode, UInt64Codec(), toUint64, nil, dirRoot, MinUint64(), unique, autoErase)
	case TypeFloat:
		return newAdapter(typeCode, Float32Codec(), toFloat32, nil, dirRoot, MinFloat32(), unique, autoErase)
	case TypeDouble:
		return newAdapter(typeCode, Float64Codec(), toFloat64, nil, dirRoot, MinFloat64(), unique, autoErase)
	case TypeRow:
		return newAdapter(typeCode, RowCodec(), toRowId, func(k RowId) (RowId, bool) { return k, true }, dirRoot, RowId(MinUint64()), unique, autoErase)
	case TypeHash:
		return newAdapter(typeCode, HashCodec(), toUint64, nil, dirRoot, MinUint64(), unique, autoErase)
	default:
		return nil, ErrInvalidArgument
	}
}

func toInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int:
		return int32(n), true
	case int64:
		return int32(n), true
	}
	return 0, false
}

func toUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case int:
		return uint32(n), true
	case uint64:
		return uint32(n), true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case RowId:
		return uint64(n), true
	}
	return 0, false
}

func toFloat32(v any) (float32, bool) {
	switch n := v.(type) {
	case float32:
		return n, true
	case float64:
		return float32(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func toRowId(v any) (RowId, bool) {
	switch n := v.(type) {
	case RowId:
		return n, true
	case uint64:
		return RowId(n), true
	case int:
		return RowId(n), true
	}
	return 0, false
}
