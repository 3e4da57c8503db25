package zcl

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Command is a foundation (cluster-independent) command id.
type Command uint8

// Foundation ZCL command IDs (global, not cluster-specific).
const (
	CmdRead                Command = 0x00
	CmdReadRsp             Command = 0x01
	CmdWrite               Command = 0x02
	CmdWriteUndiv          Command = 0x03
	CmdWriteRsp            Command = 0x04
	CmdWriteNoRsp          Command = 0x05
	CmdConfigReport        Command = 0x06
	CmdConfigReportRsp     Command = 0x07
	CmdReadReportConfig    Command = 0x08
	CmdReadReportConfigRsp Command = 0x09
	CmdReport              Command = 0x0A
	CmdDefaultRsp          Command = 0x0B
	CmdDiscover            Command = 0x0C
	CmdDiscoverRsp         Command = 0x0D
)

var commandNames = map[Command]string{
	CmdRead:                "read",
	CmdReadRsp:             "readRsp",
	CmdWrite:               "write",
	CmdWriteUndiv:          "writeUndiv",
	CmdWriteRsp:            "writeRsp",
	CmdWriteNoRsp:          "writeNoRsp",
	CmdConfigReport:        "configReport",
	CmdConfigReportRsp:     "configReportRsp",
	CmdReadReportConfig:    "readReportConfig",
	CmdReadReportConfigRsp: "readReportConfigRsp",
	CmdReport:              "report",
	CmdDefaultRsp:          "defaultRsp",
	CmdDiscover:            "discover",
	CmdDiscoverRsp:         "discoverRsp",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", uint8(c))
}

// ParseCommand resolves a foundation command name.
func ParseCommand(name string) (Command, bool) {
	for c, n := range commandNames {
		if strings.EqualFold(n, name) {
			return c, true
		}
	}
	return 0, false
}

// Report directions
const (
	ReportSend    uint8 = 0x00 // attribute is reported by this side
	ReportReceive uint8 = 0x01 // reports are expected from the remote side
)

// NeverReport as MaxInterval disables periodic reporting.
const NeverReport uint16 = 0xFFFF

// AttributeRecord carries an attribute value: write requests and reports.
type AttributeRecord struct {
	AttrID uint16   `json:"attrId"`
	Type   DataType `json:"dataType"`
	Value  any      `json:"attrData"`
}

// ReadStatusRecord is one entry of a read attributes response.
type ReadStatusRecord struct {
	AttrID uint16   `json:"attrId"`
	Status Status   `json:"status"`
	Type   DataType `json:"dataType,omitempty"`
	Value  any      `json:"attrData,omitempty"`
}

// WriteStatusRecord is one entry of a write attributes response.
type WriteStatusRecord struct {
	Status Status `json:"status"`
	AttrID uint16 `json:"attrId"`
}

// ReportConfig is one attribute reporting configuration. For ReportSend the
// interval fields apply; for ReportReceive only Timeout does.
type ReportConfig struct {
	Direction        uint8    `json:"direction"`
	AttrID           uint16   `json:"attrId"`
	Type             DataType `json:"dataType,omitempty"`
	MinInterval      uint16   `json:"minRepIntval,omitempty"`
	MaxInterval      uint16   `json:"maxRepIntval,omitempty"`
	ReportableChange any      `json:"repChange,omitempty"`
	Timeout          uint16   `json:"timeout,omitempty"`
}

// ConfigReportStatus is one entry of a configure reporting response.
type ConfigReportStatus struct {
	Status    Status `json:"status"`
	Direction uint8  `json:"direction"`
	AttrID    uint16 `json:"attrId"`
}

// ReportConfigQuery is one entry of a read reporting configuration request.
type ReportConfigQuery struct {
	Direction uint8  `json:"direction"`
	AttrID    uint16 `json:"attrId"`
}

// ReportConfigRecord is one entry of a read reporting configuration response.
type ReportConfigRecord struct {
	Status Status `json:"status"`
	ReportConfig
}

// DefaultResponse is the generic acknowledgement of a command.
type DefaultResponse struct {
	CommandID uint8  `json:"cmdId"`
	Status    Status `json:"statusCode"`
}

// DiscoverRequest asks for attribute ids starting at StartAttrID.
type DiscoverRequest struct {
	StartAttrID uint16 `json:"startAttrId"`
	MaxCount    uint8  `json:"maxAttrIds"`
}

// DiscoveredAttribute is one entry of a discover attributes response.
type DiscoveredAttribute struct {
	AttrID uint16   `json:"attrId"`
	Type   DataType `json:"dataType"`
}

// DiscoverResponse lists attributes; Complete is set when no more remain.
type DiscoverResponse struct {
	Complete   bool                  `json:"discComplete"`
	Attributes []DiscoveredAttribute `json:"attrInfos"`
}

// reader walks a foundation payload.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) remaining() int { return len(r.b) - r.off }

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("zcl: offset %d: "+format, append([]any{r.off}, args...)...)
	}
}

func (r *reader) u8() uint8 {
	if r.err != nil || r.remaining() < 1 {
		r.fail("need 1 byte")
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if r.err != nil || r.remaining() < 2 {
		r.fail("need 2 bytes")
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) value(t DataType) any {
	if r.err != nil {
		return nil
	}
	v, n, err := DecodeValue(t, r.b[r.off:])
	if err != nil {
		r.fail("%v", err)
		return nil
	}
	r.off += n
	return v
}

// DecodeFoundation decodes the payload of a foundation command into its
// record type: []uint16 for read, []ReadStatusRecord for readRsp,
// []AttributeRecord for write, writeUndiv, writeNoRsp and report,
// []WriteStatusRecord, []ReportConfig, []ConfigReportStatus,
// []ReportConfigQuery, []ReportConfigRecord, DefaultResponse,
// DiscoverRequest or DiscoverResponse.
func DecodeFoundation(cmd Command, payload []byte) (any, error) {
	r := &reader{b: payload}
	var out any
	switch cmd {
	case CmdRead:
		var ids []uint16
		for r.remaining() > 0 && r.err == nil {
			ids = append(ids, r.u16())
		}
		out = ids

	case CmdReadRsp:
		var recs []ReadStatusRecord
		for r.remaining() > 0 && r.err == nil {
			rec := ReadStatusRecord{AttrID: r.u16(), Status: Status(r.u8())}
			if rec.Status == StatusSuccess {
				rec.Type = DataType(r.u8())
				rec.Value = r.value(rec.Type)
			}
			recs = append(recs, rec)
		}
		out = recs

	case CmdWrite, CmdWriteUndiv, CmdWriteNoRsp, CmdReport:
		var recs []AttributeRecord
		for r.remaining() > 0 && r.err == nil {
			rec := AttributeRecord{AttrID: r.u16(), Type: DataType(r.u8())}
			rec.Value = r.value(rec.Type)
			recs = append(recs, rec)
		}
		out = recs

	case CmdWriteRsp:
		var recs []WriteStatusRecord
		if len(payload) == 1 {
			// All writes succeeded.
			out = []WriteStatusRecord{{Status: Status(payload[0])}}
			break
		}
		for r.remaining() > 0 && r.err == nil {
			recs = append(recs, WriteStatusRecord{Status: Status(r.u8()), AttrID: r.u16()})
		}
		out = recs

	case CmdConfigReport:
		var recs []ReportConfig
		for r.remaining() > 0 && r.err == nil {
			recs = append(recs, r.reportConfig(r.u8(), r.u16()))
		}
		out = recs

	case CmdConfigReportRsp:
		if len(payload) == 1 {
			out = []ConfigReportStatus{{Status: Status(payload[0])}}
			break
		}
		var recs []ConfigReportStatus
		for r.remaining() > 0 && r.err == nil {
			recs = append(recs, ConfigReportStatus{Status: Status(r.u8()), Direction: r.u8(), AttrID: r.u16()})
		}
		out = recs

	case CmdReadReportConfig:
		var recs []ReportConfigQuery
		for r.remaining() > 0 && r.err == nil {
			recs = append(recs, ReportConfigQuery{Direction: r.u8(), AttrID: r.u16()})
		}
		out = recs

	case CmdReadReportConfigRsp:
		var recs []ReportConfigRecord
		for r.remaining() > 0 && r.err == nil {
			st := Status(r.u8())
			dir, id := r.u8(), r.u16()
			rec := ReportConfigRecord{Status: st, ReportConfig: ReportConfig{Direction: dir, AttrID: id}}
			if st == StatusSuccess {
				rec.ReportConfig = r.reportConfig(dir, id)
			}
			recs = append(recs, rec)
		}
		out = recs

	case CmdDefaultRsp:
		out = DefaultResponse{CommandID: r.u8(), Status: Status(r.u8())}

	case CmdDiscover:
		out = DiscoverRequest{StartAttrID: r.u16(), MaxCount: r.u8()}

	case CmdDiscoverRsp:
		rsp := DiscoverResponse{Complete: r.u8() != 0}
		for r.remaining() > 0 && r.err == nil {
			rsp.Attributes = append(rsp.Attributes, DiscoveredAttribute{AttrID: r.u16(), Type: DataType(r.u8())})
		}
		out = rsp

	default:
		return nil, fmt.Errorf("zcl: unknown foundation command 0x%02X", uint8(cmd))
	}
	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, r.err)
	}
	return out, nil
}

func (r *reader) reportConfig(dir uint8, id uint16) ReportConfig {
	c := ReportConfig{Direction: dir, AttrID: id}
	if dir == ReportReceive {
		c.Timeout = r.u16()
		return c
	}
	c.Type = DataType(r.u8())
	c.MinInterval = r.u16()
	c.MaxInterval = r.u16()
	if IsAnalog(c.Type) {
		c.ReportableChange = r.value(c.Type)
	}
	return c
}

// EncodeFoundation encodes v, which must have the record type that
// DecodeFoundation returns for cmd.
func EncodeFoundation(cmd Command, v any) ([]byte, error) {
	var out []byte
	var err error
	bad := func() ([]byte, error) {
		return nil, fmt.Errorf("zcl: %s: unexpected payload type %T", cmd, v)
	}
	switch cmd {
	case CmdRead:
		ids, ok := v.([]uint16)
		if !ok {
			return bad()
		}
		for _, id := range ids {
			out = binary.LittleEndian.AppendUint16(out, id)
		}

	case CmdReadRsp:
		recs, ok := v.([]ReadStatusRecord)
		if !ok {
			return bad()
		}
		for _, rec := range recs {
			out = binary.LittleEndian.AppendUint16(out, rec.AttrID)
			out = append(out, uint8(rec.Status))
			if rec.Status == StatusSuccess {
				out = append(out, uint8(rec.Type))
				if out, err = AppendValue(out, rec.Type, rec.Value); err != nil {
					return nil, fmt.Errorf("zcl: %s attribute 0x%04X: %w", cmd, rec.AttrID, err)
				}
			}
		}

	case CmdWrite, CmdWriteUndiv, CmdWriteNoRsp, CmdReport:
		recs, ok := v.([]AttributeRecord)
		if !ok {
			return bad()
		}
		for _, rec := range recs {
			out = binary.LittleEndian.AppendUint16(out, rec.AttrID)
			out = append(out, uint8(rec.Type))
			if out, err = AppendValue(out, rec.Type, rec.Value); err != nil {
				return nil, fmt.Errorf("zcl: %s attribute 0x%04X: %w", cmd, rec.AttrID, err)
			}
		}

	case CmdWriteRsp:
		recs, ok := v.([]WriteStatusRecord)
		if !ok {
			return bad()
		}
		if allSuccess(len(recs), func(i int) Status { return recs[i].Status }) {
			return []byte{uint8(StatusSuccess)}, nil
		}
		for _, rec := range recs {
			if rec.Status == StatusSuccess {
				continue
			}
			out = append(out, uint8(rec.Status))
			out = binary.LittleEndian.AppendUint16(out, rec.AttrID)
		}

	case CmdConfigReport:
		recs, ok := v.([]ReportConfig)
		if !ok {
			return bad()
		}
		for _, rec := range recs {
			if out, err = appendReportConfig(out, rec); err != nil {
				return nil, fmt.Errorf("zcl: %s attribute 0x%04X: %w", cmd, rec.AttrID, err)
			}
		}

	case CmdConfigReportRsp:
		recs, ok := v.([]ConfigReportStatus)
		if !ok {
			return bad()
		}
		if allSuccess(len(recs), func(i int) Status { return recs[i].Status }) {
			return []byte{uint8(StatusSuccess)}, nil
		}
		for _, rec := range recs {
			if rec.Status == StatusSuccess {
				continue
			}
			out = append(out, uint8(rec.Status), rec.Direction)
			out = binary.LittleEndian.AppendUint16(out, rec.AttrID)
		}

	case CmdReadReportConfig:
		recs, ok := v.([]ReportConfigQuery)
		if !ok {
			return bad()
		}
		for _, rec := range recs {
			out = append(out, rec.Direction)
			out = binary.LittleEndian.AppendUint16(out, rec.AttrID)
		}

	case CmdReadReportConfigRsp:
		recs, ok := v.([]ReportConfigRecord)
		if !ok {
			return bad()
		}
		for _, rec := range recs {
			out = append(out, uint8(rec.Status))
			if rec.Status != StatusSuccess {
				out = append(out, rec.Direction)
				out = binary.LittleEndian.AppendUint16(out, rec.AttrID)
				continue
			}
			if out, err = appendReportConfig(out, rec.ReportConfig); err != nil {
				return nil, fmt.Errorf("zcl: %s attribute 0x%04X: %w", cmd, rec.AttrID, err)
			}
		}

	case CmdDefaultRsp:
		rsp, ok := v.(DefaultResponse)
		if !ok {
			return bad()
		}
		out = []byte{rsp.CommandID, uint8(rsp.Status)}

	case CmdDiscover:
		req, ok := v.(DiscoverRequest)
		if !ok {
			return bad()
		}
		out = binary.LittleEndian.AppendUint16(out, req.StartAttrID)
		out = append(out, req.MaxCount)

	case CmdDiscoverRsp:
		rsp, ok := v.(DiscoverResponse)
		if !ok {
			return bad()
		}
		if rsp.Complete {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
		for _, a := range rsp.Attributes {
			out = binary.LittleEndian.AppendUint16(out, a.AttrID)
			out = append(out, uint8(a.Type))
		}

	default:
		return nil, fmt.Errorf("zcl: unknown foundation command 0x%02X", uint8(cmd))
	}
	return out, nil
}

func appendReportConfig(out []byte, c ReportConfig) ([]byte, error) {
	out = append(out, c.Direction)
	out = binary.LittleEndian.AppendUint16(out, c.AttrID)
	if c.Direction == ReportReceive {
		return binary.LittleEndian.AppendUint16(out, c.Timeout), nil
	}
	out = append(out, uint8(c.Type))
	out = binary.LittleEndian.AppendUint16(out, c.MinInterval)
	out = binary.LittleEndian.AppendUint16(out, c.MaxInterval)
	if IsAnalog(c.Type) {
		return AppendValue(out, c.Type, c.ReportableChange)
	}
	return out, nil
}

func allSuccess(n int, status func(int) Status) bool {
	for i := 0; i < n; i++ {
		if status(i) != StatusSuccess {
			return false
		}
	}
	return true
}
