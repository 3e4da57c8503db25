package zcl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortFrame is returned for payloads too short to hold a ZCL header.
var ErrShortFrame = errors.New("zcl: frame too short")

// FrameType selects between foundation and cluster-specific commands.
type FrameType uint8

const (
	FrameGlobal  FrameType = 0
	FrameCluster FrameType = 1
)

// Direction of a ZCL frame relative to the cluster server.
type Direction uint8

const (
	ClientToServer Direction = 0
	ServerToClient Direction = 1
)

func (d Direction) String() string {
	if d == ServerToClient {
		return "toClient"
	}
	return "toServer"
}

// Frame control bits
const (
	fcTypeMask      = 0x03
	fcManufacturer  = 0x04
	fcDirection     = 0x08
	fcDisableDefRsp = 0x10
)

// Header is the ZCL frame header.
type Header struct {
	FrameType              FrameType `json:"frameType"`
	ManufacturerSpecific   bool      `json:"manufSpec"`
	Direction              Direction `json:"direction"`
	DisableDefaultResponse bool      `json:"disDefaultRsp"`
	ManufacturerCode       uint16    `json:"manufCode,omitempty"`
	Sequence               uint8     `json:"seqNum"`
	CommandID              uint8     `json:"cmdId"`
}

func (h Header) control() uint8 {
	fc := uint8(h.FrameType) & fcTypeMask
	if h.ManufacturerSpecific {
		fc |= fcManufacturer
	}
	if h.Direction == ServerToClient {
		fc |= fcDirection
	}
	if h.DisableDefaultResponse {
		fc |= fcDisableDefRsp
	}
	return fc
}

// Len returns the encoded header size.
func (h Header) Len() int {
	if h.ManufacturerSpecific {
		return 5
	}
	return 3
}

// Frame is a ZCL header plus its command payload.
type Frame struct {
	Header
	Payload []byte `json:"payload"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (f *Frame) MarshalBinary() ([]byte, error) {
	if f.FrameType > FrameCluster {
		return nil, fmt.Errorf("zcl: invalid frame type %d", f.FrameType)
	}
	out := make([]byte, 0, f.Len()+len(f.Payload))
	out = append(out, f.control())
	if f.ManufacturerSpecific {
		out = binary.LittleEndian.AppendUint16(out, f.ManufacturerCode)
	}
	out = append(out, f.Sequence, f.CommandID)
	return append(out, f.Payload...), nil
}

// ParseFrame decodes a ZCL frame. The payload aliases b.
func ParseFrame(b []byte) (*Frame, error) {
	if len(b) < 3 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	fc := b[0]
	f := &Frame{Header: Header{
		FrameType:              FrameType(fc & fcTypeMask),
		ManufacturerSpecific:   fc&fcManufacturer != 0,
		DisableDefaultResponse: fc&fcDisableDefRsp != 0,
	}}
	if fc&fcDirection != 0 {
		f.Direction = ServerToClient
	}
	off := 1
	if f.ManufacturerSpecific {
		if len(b) < 5 {
			return nil, fmt.Errorf("%w: manufacturer-specific header needs 5 bytes, have %d", ErrShortFrame, len(b))
		}
		f.ManufacturerCode = binary.LittleEndian.Uint16(b[1:])
		off = 3
	}
	f.Sequence = b[off]
	f.CommandID = b[off+1]
	f.Payload = b[off+2:]
	return f, nil
}

// IsGlobal reports whether the frame carries a foundation command.
func (f *Frame) IsGlobal() bool { return f.FrameType == FrameGlobal }

// Reply returns a header for a response to h: same sequence and
// manufacturer, opposite direction, default response disabled.
func (h Header) Reply(ft FrameType, cmd uint8) Header {
	dir := ServerToClient
	if h.Direction == ServerToClient {
		dir = ClientToServer
	}
	return Header{
		FrameType:              ft,
		ManufacturerSpecific:   h.ManufacturerSpecific,
		ManufacturerCode:       h.ManufacturerCode,
		Direction:              dir,
		DisableDefaultResponse: true,
		Sequence:               h.Sequence,
		CommandID:              cmd,
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "toServer", "0":
		*d = ClientToServer
	case "toClient", "1":
		*d = ServerToClient
	default:
		return fmt.Errorf("zcl: unknown direction %q", b)
	}
	return nil
}
