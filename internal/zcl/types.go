package zcl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnsupportedType is returned for data types the codec cannot encode or decode.
var ErrUnsupportedType = errors.New("zcl: unsupported data type")

// DataType is a ZCL attribute data type id.
type DataType uint8

// ZCL data type IDs
const (
	TypeNoData     DataType = 0x00
	TypeData8      DataType = 0x08
	TypeData16     DataType = 0x09
	TypeData24     DataType = 0x0A
	TypeData32     DataType = 0x0B
	TypeBool       DataType = 0x10
	TypeBitmap8    DataType = 0x18
	TypeBitmap16   DataType = 0x19
	TypeBitmap24   DataType = 0x1A
	TypeBitmap32   DataType = 0x1B
	TypeBitmap64   DataType = 0x1F
	TypeUint8      DataType = 0x20
	TypeUint16     DataType = 0x21
	TypeUint24     DataType = 0x22
	TypeUint32     DataType = 0x23
	TypeUint40     DataType = 0x24
	TypeUint48     DataType = 0x25
	TypeUint64     DataType = 0x27
	TypeInt8       DataType = 0x28
	TypeInt16      DataType = 0x29
	TypeInt24      DataType = 0x2A
	TypeInt32      DataType = 0x2B
	TypeInt64      DataType = 0x2F
	TypeEnum8      DataType = 0x30
	TypeEnum16     DataType = 0x31
	TypeFloat16    DataType = 0x38
	TypeFloat32    DataType = 0x39
	TypeFloat64    DataType = 0x3A
	TypeOctetStr   DataType = 0x41
	TypeCharStr    DataType = 0x42
	TypeOctetStr16 DataType = 0x43
	TypeCharStr16  DataType = 0x44
	TypeArray      DataType = 0x48
	TypeStruct     DataType = 0x4C
	TypeSet        DataType = 0x50
	TypeBag        DataType = 0x51
	TypeToD        DataType = 0xE0 // time of day
	TypeDate       DataType = 0xE1
	TypeUTC        DataType = 0xE2
	TypeClusterID  DataType = 0xE8
	TypeAttrID     DataType = 0xE9
	TypeBACOID     DataType = 0xEA
	TypeEUI64      DataType = 0xF0
	TypeSecKey     DataType = 0xF1
	TypeUnknown    DataType = 0xFF
)

var typeNames = map[DataType]string{
	TypeNoData:     "nodata",
	TypeData8:      "data8",
	TypeData16:     "data16",
	TypeData24:     "data24",
	TypeData32:     "data32",
	TypeBool:       "bool",
	TypeBitmap8:    "map8",
	TypeBitmap16:   "map16",
	TypeBitmap24:   "map24",
	TypeBitmap32:   "map32",
	TypeBitmap64:   "map64",
	TypeUint8:      "uint8",
	TypeUint16:     "uint16",
	TypeUint24:     "uint24",
	TypeUint32:     "uint32",
	TypeUint40:     "uint40",
	TypeUint48:     "uint48",
	TypeUint64:     "uint64",
	TypeInt8:       "int8",
	TypeInt16:      "int16",
	TypeInt24:      "int24",
	TypeInt32:      "int32",
	TypeInt64:      "int64",
	TypeEnum8:      "enum8",
	TypeEnum16:     "enum16",
	TypeFloat16:    "semi",
	TypeFloat32:    "single",
	TypeFloat64:    "double",
	TypeOctetStr:   "octstr",
	TypeCharStr:    "string",
	TypeOctetStr16: "octstr16",
	TypeCharStr16:  "string16",
	TypeArray:      "array",
	TypeStruct:     "struct",
	TypeSet:        "set",
	TypeBag:        "bag",
	TypeToD:        "ToD",
	TypeDate:       "date",
	TypeUTC:        "UTC",
	TypeClusterID:  "clusterId",
	TypeAttrID:     "attribId",
	TypeBACOID:     "bacOID",
	TypeEUI64:      "EUI64",
	TypeSecKey:     "key128",
	TypeUnknown:    "unknown",
}

// String returns the ZCL short name of the type.
func (t DataType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", uint8(t))
}

// ParseDataType resolves a type by short name or numeric id ("0x21").
func ParseDataType(s string) (DataType, error) {
	for t, n := range typeNames {
		if strings.EqualFold(n, s) {
			return t, nil
		}
	}
	if v, err := strconv.ParseUint(s, 0, 8); err == nil {
		return DataType(v), nil
	}
	return 0, fmt.Errorf("zcl: unknown data type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t DataType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DataType) UnmarshalText(b []byte) error {
	v, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Size returns the fixed size in bytes of a ZCL type, or -1 for variable-length types.
func (t DataType) Size() int {
	switch t {
	case TypeNoData, TypeUnknown:
		return 0
	case TypeBool, TypeUint8, TypeInt8, TypeEnum8, TypeBitmap8, TypeData8:
		return 1
	case TypeUint16, TypeInt16, TypeEnum16, TypeBitmap16, TypeData16, TypeClusterID, TypeAttrID, TypeFloat16:
		return 2
	case TypeUint24, TypeInt24, TypeBitmap24, TypeData24:
		return 3
	case TypeUint32, TypeInt32, TypeBitmap32, TypeData32, TypeFloat32, TypeToD, TypeDate, TypeUTC, TypeBACOID:
		return 4
	case TypeUint40:
		return 5
	case TypeUint48:
		return 6
	case TypeUint64, TypeInt64, TypeBitmap64, TypeFloat64, TypeEUI64:
		return 8
	case TypeSecKey:
		return 16
	}
	return -1
}

// IsComposite reports whether t is one of the collection types that cannot
// be reported.
func (t DataType) IsComposite() bool {
	return t == TypeArray || t == TypeStruct || t == TypeSet || t == TypeBag
}

// DecodeValue decodes a ZCL typed value from raw bytes, returning the Go value and bytes consumed.
func DecodeValue(t DataType, data []byte) (any, int, error) {
	size := t.Size()
	if size == 0 {
		return nil, 0, nil
	}

	// Variable-length types
	if size < 0 {
		return decodeVariableValue(t, data)
	}

	if len(data) < size {
		return nil, 0, fmt.Errorf("zcl: not enough data for %s: need %d, have %d", t, size, len(data))
	}

	switch t {
	case TypeBool:
		return data[0] != 0, 1, nil
	case TypeUint8, TypeEnum8, TypeBitmap8, TypeData8:
		return data[0], 1, nil
	case TypeUint16, TypeEnum16, TypeBitmap16, TypeData16, TypeClusterID, TypeAttrID:
		return binary.LittleEndian.Uint16(data), 2, nil
	case TypeFloat16:
		return halfToFloat32(binary.LittleEndian.Uint16(data)), 2, nil
	case TypeUint24, TypeBitmap24, TypeData24:
		return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16, 3, nil
	case TypeInt24:
		v := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
		if v&0x800000 != 0 {
			v |= 0xFF000000 // sign extend
		}
		return int32(v), 3, nil
	case TypeUint32, TypeBitmap32, TypeData32, TypeUTC, TypeToD, TypeDate, TypeBACOID:
		return binary.LittleEndian.Uint32(data), 4, nil
	case TypeUint40, TypeUint48:
		var v uint64
		for i := size - 1; i >= 0; i-- {
			v = v<<8 | uint64(data[i])
		}
		return v, size, nil
	case TypeUint64, TypeBitmap64:
		return binary.LittleEndian.Uint64(data), 8, nil
	case TypeInt8:
		return int8(data[0]), 1, nil
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(data)), 2, nil
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(data)), 4, nil
	case TypeInt64:
		return int64(binary.LittleEndian.Uint64(data)), 8, nil
	case TypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), 4, nil
	case TypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), 8, nil
	case TypeEUI64:
		return fmt.Sprintf("0x%016x", binary.LittleEndian.Uint64(data)), 8, nil
	case TypeSecKey:
		b := make([]byte, 16)
		copy(b, data)
		return b, 16, nil
	}

	return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

func decodeVariableValue(t DataType, data []byte) (any, int, error) {
	switch t {
	case TypeOctetStr, TypeCharStr:
		if len(data) < 1 {
			return nil, 0, fmt.Errorf("zcl: no length byte for %s", t)
		}
		length := int(data[0])
		if length == 0xFF {
			return nil, 1, nil // invalid value
		}
		if len(data) < 1+length {
			return nil, 0, fmt.Errorf("zcl: %s truncated: need %d, have %d", t, length, len(data)-1)
		}
		if t == TypeCharStr {
			return string(data[1 : 1+length]), 1 + length, nil
		}
		b := make([]byte, length)
		copy(b, data[1:1+length])
		return b, 1 + length, nil

	case TypeOctetStr16, TypeCharStr16:
		if len(data) < 2 {
			return nil, 0, fmt.Errorf("zcl: no length bytes for %s", t)
		}
		length := int(binary.LittleEndian.Uint16(data))
		if length == 0xFFFF {
			return nil, 2, nil
		}
		if len(data) < 2+length {
			return nil, 0, fmt.Errorf("zcl: %s truncated: need %d, have %d", t, length, len(data)-2)
		}
		if t == TypeCharStr16 {
			return string(data[2 : 2+length]), 2 + length, nil
		}
		b := make([]byte, length)
		copy(b, data[2:2+length])
		return b, 2 + length, nil
	}

	return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// EncodeValue encodes a Go value into ZCL wire format.
func EncodeValue(t DataType, val any) ([]byte, error) {
	return AppendValue(nil, t, val)
}

// AppendValue appends the wire form of val as type t to dst.
func AppendValue(dst []byte, t DataType, val any) ([]byte, error) {
	switch t {
	case TypeNoData, TypeUnknown:
		return dst, nil

	case TypeBool:
		v, ok := toBool(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to bool", val)
		}
		if v {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil

	case TypeUint8, TypeEnum8, TypeBitmap8, TypeData8,
		TypeUint16, TypeEnum16, TypeBitmap16, TypeData16, TypeClusterID, TypeAttrID,
		TypeUint24, TypeBitmap24, TypeData24,
		TypeUint32, TypeBitmap32, TypeData32, TypeUTC, TypeToD, TypeDate, TypeBACOID,
		TypeUint40, TypeUint48, TypeUint64, TypeBitmap64:
		v, ok := toUint64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T(%v) to %s", val, val, t)
		}
		size := t.Size()
		if size < 8 && v > (uint64(1)<<(8*size))-1 {
			return nil, fmt.Errorf("zcl: value %d overflows %s", v, t)
		}
		for i := 0; i < size; i++ {
			dst = append(dst, byte(v>>(8*i)))
		}
		return dst, nil

	case TypeInt8, TypeInt16, TypeInt24, TypeInt32, TypeInt64:
		v, ok := toInt64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T(%v) to %s", val, val, t)
		}
		size := t.Size()
		if size < 8 {
			lim := int64(1) << (8*size - 1)
			if v < -lim || v > lim-1 {
				return nil, fmt.Errorf("zcl: value %d overflows %s (range %d..%d)", v, t, -lim, lim-1)
			}
		}
		u := uint64(v)
		for i := 0; i < size; i++ {
			dst = append(dst, byte(u>>(8*i)))
		}
		return dst, nil

	case TypeFloat16:
		v, ok := toFloat64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, t)
		}
		return binary.LittleEndian.AppendUint16(dst, float32ToHalf(float32(v))), nil

	case TypeFloat32:
		v, ok := toFloat64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, t)
		}
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(v))), nil

	case TypeFloat64:
		v, ok := toFloat64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, t)
		}
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v)), nil

	case TypeEUI64:
		switch a := val.(type) {
		case string:
			hex := strings.TrimPrefix(strings.TrimPrefix(a, "0x"), "0X")
			v, err := strconv.ParseUint(hex, 16, 64)
			if err != nil || len(hex) > 16 {
				return nil, fmt.Errorf("zcl: invalid EUI64 %q", a)
			}
			return binary.LittleEndian.AppendUint64(dst, v), nil
		case [8]byte:
			return append(dst, a[:]...), nil
		case []byte:
			if len(a) != 8 {
				return nil, fmt.Errorf("zcl: EUI64 requires 8 bytes, got %d", len(a))
			}
			return append(dst, a...), nil
		}
		return nil, fmt.Errorf("zcl: cannot convert %T to EUI64", val)

	case TypeSecKey:
		b, ok := val.([]byte)
		if !ok || len(b) != 16 {
			return nil, fmt.Errorf("zcl: %s requires 16 bytes", t)
		}
		return append(dst, b...), nil

	case TypeCharStr, TypeOctetStr:
		b, ok := toStringBytes(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, t)
		}
		if len(b) > 254 {
			return nil, fmt.Errorf("zcl: %s too long: %d (max 254)", t, len(b))
		}
		dst = append(dst, uint8(len(b)))
		return append(dst, b...), nil

	case TypeCharStr16, TypeOctetStr16:
		b, ok := toStringBytes(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, t)
		}
		if len(b) > 65534 {
			return nil, fmt.Errorf("zcl: %s too long: %d (max 65534)", t, len(b))
		}
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(b)))
		return append(dst, b...), nil
	}

	return nil, fmt.Errorf("%w: encode %s", ErrUnsupportedType, t)
}

// Numeric returns v as float64 when it is a number. It is used to compare
// analog values against a reportable change.
func Numeric(v any) (float64, bool) {
	return toFloat64(v)
}

func toStringBytes(v any) ([]byte, bool) {
	switch s := v.(type) {
	case string:
		return []byte(s), true
	case []byte:
		return s, true
	}
	return nil, false
}

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case int:
		return val != 0, true
	case uint8:
		return val != 0, true
	}
	return false, false
}

func toUint64(v any) (uint64, bool) {
	switch val := v.(type) {
	case uint8:
		return uint64(val), true
	case uint16:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
	case uint:
		return uint64(val), true
	case int, int8, int16, int32, int64:
		i, _ := toInt64(val)
		if i < 0 {
			return 0, false
		}
		return uint64(i), true
	case float64:
		if val < 0 || val != math.Trunc(val) || val >= math.Ldexp(1, 64) {
			return 0, false
		}
		return uint64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint:
		return float64(val), true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case float64:
		if val > math.MaxInt64 || val < math.MinInt64 || val != math.Trunc(val) {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}

// halfToFloat32 converts an IEEE 754 binary16 value.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := int32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// subnormal
		f := float32(frac) / 1024 * float32(math.Pow(2, -14))
		if sign != 0 {
			return -f
		}
		return f
	case exp == 0x1F:
		return math.Float32frombits(sign | 0x7F800000 | frac<<13)
	}
	return math.Float32frombits(sign | uint32(exp-15+127)<<23 | frac<<13)
}

// float32ToHalf converts to binary16, truncating the mantissa.
func float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23) & 0xFF
	frac := bits & 0x7FFFFF
	switch {
	case exp == 0xFF:
		if frac != 0 {
			return sign | 0x7E00
		}
		return sign | 0x7C00
	case exp-127+15 >= 0x1F:
		return sign | 0x7C00
	case exp-127+15 <= 0:
		shift := uint32(14 - (exp - 127 + 15))
		if shift > 24 {
			return sign
		}
		return sign | uint16((frac|0x800000)>>(shift))
	}
	return sign | uint16(exp-127+15)<<10 | uint16(frac>>13)
}
