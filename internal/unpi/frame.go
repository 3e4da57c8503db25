// Package unpi implements the TI Unified Network Processor Interface framing
// used by Z-Stack ZNP coordinators: SOF | len | cmd0 | cmd1 | payload | fcs.
package unpi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dyrkin/composer"
)

// SOF is the start-of-frame marker.
const SOF byte = 0xFE

const (
	headerSize = 4 // sof + len + cmd0 + cmd1
	// MaxPayload is the largest payload a one-byte length field can carry.
	MaxPayload = 0xFF
)

// ErrChecksum is returned when the trailing FCS byte does not match.
var ErrChecksum = errors.New("unpi: invalid checksum")

// Type is the 3-bit command type carried in cmd0.
type Type uint8

const (
	POLL Type = iota
	SREQ
	AREQ
	SRSP
)

func (t Type) String() string {
	switch t {
	case POLL:
		return "POLL"
	case SREQ:
		return "SREQ"
	case AREQ:
		return "AREQ"
	case SRSP:
		return "SRSP"
	}
	return fmt.Sprintf("RES%d", uint8(t)-4)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	for _, c := range []Type{POLL, SREQ, AREQ, SRSP} {
		if strings.EqualFold(c.String(), string(b)) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unpi: unknown frame type %q", b)
}

// Subsystem is the 5-bit subsystem id carried in cmd0.
type Subsystem uint8

const (
	RES0       Subsystem = 0x00
	SYS        Subsystem = 0x01
	MAC        Subsystem = 0x02
	NWK        Subsystem = 0x03
	AF         Subsystem = 0x04
	ZDO        Subsystem = 0x05
	SAPI       Subsystem = 0x06
	UTIL       Subsystem = 0x07
	DBG        Subsystem = 0x08
	APP        Subsystem = 0x09
	APPCNF     Subsystem = 0x0F
	GREENPOWER Subsystem = 0x15
)

var subsystemNames = map[Subsystem]string{
	RES0:       "RES0",
	SYS:        "SYS",
	MAC:        "MAC",
	NWK:        "NWK",
	AF:         "AF",
	ZDO:        "ZDO",
	SAPI:       "SAPI",
	UTIL:       "UTIL",
	DBG:        "DBG",
	APP:        "APP",
	APPCNF:     "APP_CNF",
	GREENPOWER: "GREENPOWER",
}

func (s Subsystem) String() string {
	if name, ok := subsystemNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Subsystem) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Subsystem) UnmarshalText(b []byte) error {
	sub, ok := ParseSubsystem(string(b))
	if !ok {
		return fmt.Errorf("unpi: unknown subsystem %q", b)
	}
	*s = sub
	return nil
}

// ParseSubsystem resolves a subsystem name such as "ZDO" or "app_cnf".
func ParseSubsystem(name string) (Subsystem, bool) {
	upper := strings.ToUpper(name)
	for s, n := range subsystemNames {
		if n == upper {
			return s, true
		}
	}
	return 0, false
}

// Subsystems returns every named subsystem in ascending id order.
func Subsystems() []Subsystem {
	out := make([]Subsystem, 0, len(subsystemNames))
	for i := 0; i < 0x20; i++ {
		if _, ok := subsystemNames[Subsystem(i)]; ok {
			out = append(out, Subsystem(i))
		}
	}
	return out
}

// Frame is a single UNPI link frame. Length and FCS are derived.
type Frame struct {
	Type      Type
	Subsystem Subsystem
	Command   uint8
	Payload   []byte
}

// Cmd0 packs the type and subsystem bits.
func (f Frame) Cmd0() byte {
	return (byte(f.Type)<<5)&0xE0 | byte(f.Subsystem)&0x1F
}

// MarshalBinary renders the frame including SOF and FCS.
func (f Frame) MarshalBinary() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("unpi: payload too long: %d (max %d)", len(f.Payload), MaxPayload)
	}
	cmp := composer.New()
	cmp.Byte(SOF).Uint8(uint8(len(f.Payload))).Byte(f.Cmd0()).Byte(f.Command).Bytes(f.Payload)
	fcs := Checksum(cmp.Make()[1:])
	cmp.Byte(fcs)
	return cmp.Make(), nil
}

func (f Frame) String() string {
	return fmt.Sprintf("%s %s 0x%02X [%X]", f.Type, f.Subsystem, f.Command, f.Payload)
}

// Checksum returns the XOR of all bytes in b.
func Checksum(b []byte) byte {
	var fcs byte
	for _, v := range b {
		fcs ^= v
	}
	return fcs
}

// FromBuffer parses one complete frame (SOF through FCS).
func FromBuffer(raw []byte) (Frame, error) {
	if len(raw) < headerSize+1 {
		return Frame{}, &FramingError{Reason: "frame too short", Dropped: len(raw)}
	}
	if raw[0] != SOF {
		return Frame{}, &FramingError{Reason: fmt.Sprintf("bad start of frame 0x%02X", raw[0]), Dropped: len(raw)}
	}
	length := int(raw[1])
	if len(raw) != headerSize+length+1 {
		return Frame{}, &FramingError{
			Reason:  fmt.Sprintf("length mismatch: header says %d, have %d", length, len(raw)-headerSize-1),
			Dropped: len(raw),
		}
	}
	fcsPos := headerSize + length
	want := Checksum(raw[1:fcsPos])
	if raw[fcsPos] != want {
		return Frame{}, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, raw[fcsPos], want)
	}
	payload := make([]byte, length)
	copy(payload, raw[headerSize:fcsPos])
	return Frame{
		Type:      Type(raw[2] >> 5),
		Subsystem: Subsystem(raw[2] & 0x1F),
		Command:   raw[3],
		Payload:   payload,
	}, nil
}

// FramingError reports bytes discarded while resynchronizing the stream.
type FramingError struct {
	Reason  string
	Dropped int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("unpi: %s (%d bytes dropped)", e.Reason, e.Dropped)
}
