// Package znp implements the Z-Stack Monitor and Test (MT) command layer on
// top of UNPI framing: typed parameter codec, command definitions and the
// request driver.
package znp

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotSupported is returned for encodings that are deliberately not implemented.
	ErrNotSupported = errors.New("znp: not supported")
	// ErrShortBuffer is wrapped by decode and encode errors when the buffer is too small.
	ErrShortBuffer = errors.New("znp: buffer too short")
	// ErrMissingLength is wrapped when a variable-length field is read without a length.
	ErrMissingLength = errors.New("znp: length required for variable-length field")
)

// ParamType is the wire type of one command parameter.
type ParamType uint8

const (
	Uint8 ParamType = iota + 1
	Uint16
	Uint32
	LongAddr
	Buffer
	Buffer8
	Buffer16
	Buffer18
	Buffer32
	Buffer42
	Buffer100
	DynBuffer
	ListUint8
	ListUint16
	RoutingTableList
	BindTableList
	NeighborLqiList
	NetworkList
	AssocDevList
)

var paramTypeNames = map[ParamType]string{
	Uint8:            "uint8",
	Uint16:           "uint16",
	Uint32:           "uint32",
	LongAddr:         "longaddr",
	Buffer:           "buffer",
	Buffer8:          "buffer8",
	Buffer16:         "buffer16",
	Buffer18:         "buffer18",
	Buffer32:         "buffer32",
	Buffer42:         "buffer42",
	Buffer100:        "buffer100",
	DynBuffer:        "dynbuffer",
	ListUint8:        "listUint8",
	ListUint16:       "listUint16",
	RoutingTableList: "routingTableList",
	BindTableList:    "bindTableList",
	NeighborLqiList:  "neighborLqiList",
	NetworkList:      "networkList",
	AssocDevList:     "assocDevList",
}

func (t ParamType) String() string {
	if s, ok := paramTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ParamType(%d)", uint8(t))
}

// ParseParamType resolves a type name, case-insensitively.
func ParseParamType(name string) (ParamType, error) {
	for t, n := range paramTypeNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("znp: unknown param type %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (t ParamType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ParamType) UnmarshalText(b []byte) error {
	v, err := ParseParamType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Size returns the encoded size of fixed-width types, or -1.
func (t ParamType) Size() int {
	switch t {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Uint32:
		return 4
	case LongAddr, Buffer8:
		return 8
	case Buffer16:
		return 16
	case Buffer18:
		return 18
	case Buffer32:
		return 32
	case Buffer42:
		return 42
	case Buffer100:
		return 100
	}
	return -1
}

// LengthPrefixed reports whether the field's element count comes from the
// parameter immediately before it.
func (t ParamType) LengthPrefixed() bool {
	switch t {
	case Buffer, ListUint8, ListUint16, RoutingTableList, BindTableList, NeighborLqiList, NetworkList:
		return true
	}
	return false
}

// Remaining reports whether the field extends to the end of the payload.
func (t ParamType) Remaining() bool {
	return t == DynBuffer || t == AssocDevList
}

// ReadOptions carries out-of-band information for variable-length reads.
type ReadOptions struct {
	// Length is the element count for length-prefixed types and the
	// remaining byte count for dynbuffer and assocDevList.
	Length    int
	HasLength bool
}

// WithLength returns ReadOptions carrying n.
func WithLength(n int) ReadOptions {
	return ReadOptions{Length: n, HasLength: true}
}

// EncodeError reports a value that does not fit its declared type.
type EncodeError struct {
	Param  string
	Type   ParamType
	Value  any
	Reason string
	Err    error
}

func (e *EncodeError) Error() string {
	name := e.Param
	if name == "" {
		name = "value"
	}
	msg := fmt.Sprintf("znp: encode %s as %s: %s", name, e.Type, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError reports a field that could not be read.
type DecodeError struct {
	Param  string
	Type   ParamType
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	name := e.Param
	if name == "" {
		name = "field"
	}
	return fmt.Sprintf("znp: decode %s (%s) at offset %d: %v", name, e.Type, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
