package znp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

func need(buf []byte, off, n int) error {
	if off < 0 || n < 0 || off+n > len(buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, off, len(buf))
	}
	return nil
}

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

// formatLongAddr renders 8 wire bytes (LSB first) as 0x + 16 hex digits, MSB first.
func formatLongAddr(b []byte) string {
	return fmt.Sprintf("0x%016x", binary.LittleEndian.Uint64(b[:8]))
}

// ParseLongAddr parses a 64-bit address written MSB first, with or without 0x.
func ParseLongAddr(s string) (uint64, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" || len(digits) > 16 {
		return 0, fmt.Errorf("invalid long address %q", s)
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid long address %q: %w", s, err)
	}
	return v, nil
}

// FormatLongAddr renders a 64-bit address in canonical form.
func FormatLongAddr(v uint64) string {
	return fmt.Sprintf("0x%016x", v)
}

// ParseParamText converts a value of type t written as text, as on a command
// line, into a value AppendParam accepts. Integers take Go prefixes (0x, 0b),
// buffers are hex and lists are comma separated.
func ParseParamText(t ParamType, s string) (any, error) {
	switch t {
	case Uint8, Uint16, Uint32:
		n, err := strconv.ParseUint(s, 0, t.Size()*8)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t, err)
		}
		return n, nil
	case LongAddr:
		if _, err := ParseLongAddr(s); err != nil {
			return nil, err
		}
		return s, nil
	case ListUint8, ListUint16, AssocDevList:
		bits := 16
		if t == ListUint8 {
			bits = 8
		}
		out := []any{}
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.ParseUint(part, 0, bits)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", t, err)
			}
			out = append(out, n)
		}
		return out, nil
	case Buffer, DynBuffer, Buffer8, Buffer16, Buffer18, Buffer32, Buffer42, Buffer100:
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%s: %w", t, ErrNotSupported)
}

// ReadParam decodes one field of type t at buf[off:].
func ReadParam(t ParamType, buf []byte, off int, opts ReadOptions) (any, int, error) {
	v, n, err := readParam(t, buf, off, opts)
	if err != nil {
		return nil, 0, &DecodeError{Type: t, Offset: off, Err: err}
	}
	return v, n, nil
}

func readParam(t ParamType, buf []byte, off int, opts ReadOptions) (any, int, error) {
	if size := t.Size(); size > 0 {
		if err := need(buf, off, size); err != nil {
			return nil, 0, err
		}
	}
	switch t {
	case Uint8:
		return buf[off], 1, nil
	case Uint16:
		return le16(buf[off:]), 2, nil
	case Uint32:
		return binary.LittleEndian.Uint32(buf[off:]), 4, nil
	case LongAddr:
		return formatLongAddr(buf[off:]), 8, nil
	case Buffer8, Buffer16, Buffer18, Buffer32, Buffer42, Buffer100:
		size := t.Size()
		out := make([]byte, size)
		copy(out, buf[off:off+size])
		return out, size, nil
	}

	if !opts.HasLength {
		return nil, 0, ErrMissingLength
	}
	n := opts.Length
	if n < 0 {
		return nil, 0, fmt.Errorf("negative length %d", n)
	}
	switch t {
	case Buffer, DynBuffer:
		if err := need(buf, off, n); err != nil {
			return nil, 0, err
		}
		out := make([]byte, n)
		copy(out, buf[off:off+n])
		return out, n, nil
	case ListUint8:
		if err := need(buf, off, n); err != nil {
			return nil, 0, err
		}
		out := make(Uint8List, n)
		copy(out, buf[off:off+n])
		return out, n, nil
	case ListUint16:
		if err := need(buf, off, 2*n); err != nil {
			return nil, 0, err
		}
		out := make([]uint16, n)
		for i := range out {
			out[i] = le16(buf[off+2*i:])
		}
		return out, 2 * n, nil
	case RoutingTableList:
		return wrapList(readRoutingList(buf, off, n))
	case BindTableList:
		return wrapList(readBindList(buf, off, n))
	case NeighborLqiList:
		return wrapList(readNeighborList(buf, off, n))
	case NetworkList:
		return wrapList(readNetworkList(buf, off, n))
	case AssocDevList:
		return wrapList(readAssocDevList(buf, off, n))
	}
	return nil, 0, fmt.Errorf("unknown param type %d", uint8(t))
}

func wrapList[T any](v []T, n int, err error) (any, int, error) {
	if err != nil {
		return nil, 0, err
	}
	return v, n, nil
}

// WriteParam encodes v as type t into buf at off and returns the bytes written.
func WriteParam(t ParamType, buf []byte, off int, v any) (int, error) {
	enc, err := AppendParam(nil, t, v)
	if err != nil {
		return 0, err
	}
	if err := need(buf, off, len(enc)); err != nil {
		return 0, &EncodeError{Type: t, Value: v, Reason: "buffer too small", Err: err}
	}
	return copy(buf[off:], enc), nil
}

// AppendParam appends the encoding of v as type t to dst.
func AppendParam(dst []byte, t ParamType, v any) ([]byte, error) {
	fail := func(reason string, err error) ([]byte, error) {
		return dst, &EncodeError{Type: t, Value: v, Reason: reason, Err: err}
	}
	switch t {
	case Uint8, Uint16, Uint32:
		bits := t.Size() * 8
		n, err := toUint(v, bits)
		if err != nil {
			return fail(err.Error(), nil)
		}
		switch t {
		case Uint8:
			return append(dst, uint8(n)), nil
		case Uint16:
			return binary.LittleEndian.AppendUint16(dst, uint16(n)), nil
		default:
			return binary.LittleEndian.AppendUint32(dst, uint32(n)), nil
		}

	case LongAddr:
		var addr uint64
		switch a := v.(type) {
		case string:
			parsed, err := ParseLongAddr(a)
			if err != nil {
				return fail(err.Error(), nil)
			}
			addr = parsed
		default:
			n, err := toUint(v, 64)
			if err != nil {
				return fail(err.Error(), nil)
			}
			addr = n
		}
		return binary.LittleEndian.AppendUint64(dst, addr), nil

	case Buffer8, Buffer16, Buffer18, Buffer32, Buffer42, Buffer100:
		b, err := toBytes(v)
		if err != nil {
			return fail(err.Error(), nil)
		}
		if len(b) != t.Size() {
			return fail(fmt.Sprintf("length mismatch: got %d bytes, want %d", len(b), t.Size()), nil)
		}
		return append(dst, b...), nil

	case Buffer, DynBuffer, ListUint8:
		b, err := toBytes(v)
		if err != nil {
			return fail(err.Error(), nil)
		}
		return append(dst, b...), nil

	case ListUint16:
		l, err := toUint16s(v)
		if err != nil {
			return fail(err.Error(), nil)
		}
		for _, x := range l {
			dst = binary.LittleEndian.AppendUint16(dst, x)
		}
		return dst, nil

	case AssocDevList:
		l, err := toUint16s(v)
		if err != nil {
			return fail(err.Error(), nil)
		}
		if len(l) > MaxAssocDevices {
			return fail(fmt.Sprintf("%d entries exceeds maximum of %d", len(l), MaxAssocDevices), nil)
		}
		for _, x := range l {
			dst = binary.LittleEndian.AppendUint16(dst, x)
		}
		return dst, nil

	case RoutingTableList, BindTableList, NeighborLqiList, NetworkList:
		return fail("write not implemented", ErrNotSupported)
	}
	return fail("unknown type", ErrNotSupported)
}

// toUint coerces a numeric value into an unsigned integer of the given width.
func toUint(v any, bits int) (uint64, error) {
	var n uint64
	switch x := v.(type) {
	case uint8:
		n = uint64(x)
	case uint16:
		n = uint64(x)
	case uint32:
		n = uint64(x)
	case uint64:
		n = x
	case uint:
		n = uint64(x)
	case int:
		if x < 0 {
			return 0, fmt.Errorf("negative value %d", x)
		}
		n = uint64(x)
	case int8, int16, int32, int64:
		i := toInt64(x)
		if i < 0 {
			return 0, fmt.Errorf("negative value %d", i)
		}
		n = uint64(i)
	case float32:
		return toUintFloat(float64(x), bits)
	case float64:
		return toUintFloat(x, bits)
	case bool:
		if x {
			n = 1
		}
	default:
		return 0, fmt.Errorf("cannot convert %T to uint%d", v, bits)
	}
	if bits < 64 && n > (uint64(1)<<bits)-1 {
		return 0, fmt.Errorf("value %d overflows uint%d", n, bits)
	}
	return n, nil
}

func toUintFloat(f float64, bits int) (uint64, error) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return 0, fmt.Errorf("non-finite value %v", f)
	case f != math.Trunc(f):
		return 0, fmt.Errorf("non-integer value %v", f)
	case f < 0:
		return 0, fmt.Errorf("negative value %v", f)
	case f >= math.Ldexp(1, bits):
		return 0, fmt.Errorf("value %v overflows uint%d", f, bits)
	}
	return uint64(f), nil
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	}
	return 0
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case Uint8List:
		return []byte(b), nil
	case string:
		return hex.DecodeString(strings.TrimPrefix(b, "0x"))
	case nil:
		return nil, nil
	}
	items, ok := asSlice(v)
	if !ok {
		return nil, fmt.Errorf("cannot convert %T to bytes", v)
	}
	out := make([]byte, len(items))
	for i, it := range items {
		n, err := toUint(it, 8)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = uint8(n)
	}
	return out, nil
}

func toUint16s(v any) ([]uint16, error) {
	switch l := v.(type) {
	case []uint16:
		return l, nil
	case nil:
		return nil, nil
	}
	items, ok := asSlice(v)
	if !ok {
		return nil, fmt.Errorf("cannot convert %T to uint16 list", v)
	}
	out := make([]uint16, len(items))
	for i, it := range items {
		n, err := toUint(it, 16)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = uint16(n)
	}
	return out, nil
}

func asSlice(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []int:
		out := make([]any, len(l))
		for i, x := range l {
			out[i] = x
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, x := range l {
			out[i] = x
		}
		return out, true
	case []uint32:
		out := make([]any, len(l))
		for i, x := range l {
			out[i] = x
		}
		return out, true
	}
	return nil, false
}

// valueLen returns the element count of a variable-length value.
func valueLen(t ParamType, v any) (int, error) {
	switch t {
	case Buffer, DynBuffer, ListUint8:
		b, err := toBytes(v)
		return len(b), err
	case ListUint16, AssocDevList:
		l, err := toUint16s(v)
		return len(l), err
	}
	if n, ok := listLen(v); ok {
		return n, nil
	}
	return 0, fmt.Errorf("cannot determine length of %T", v)
}
