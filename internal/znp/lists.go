package znp

import (
	"encoding/json"
	"fmt"
)

// Per-entry byte lengths of the structured list types.
const (
	routingEntrySize  = 5
	neighborEntrySize = 22
	networkEntrySize  = 6
	bindEntryBaseSize = 21 // srcAddr(8) srcEp(1) clusterId(2) dstAddrMode(1) dstAddr(8) + dstEp when mode 3

	// MaxAssocDevices caps the associated-device list at the payload ceiling
	// of UTIL getDeviceInfo.
	MaxAssocDevices = 35
)

// addrModeIEEE is the bind-table dstAddrMode that carries a destination endpoint.
const addrModeIEEE = 3

// Uint8List is a byte list rendered as numbers rather than base64 in JSON.
type Uint8List []uint8

// MarshalJSON implements json.Marshaler.
func (l Uint8List) MarshalJSON() ([]byte, error) {
	out := make([]int, len(l))
	for i, v := range l {
		out[i] = int(v)
	}
	return json.Marshal(out)
}

// RoutingEntry is one ZDO mgmtRtgRsp routing table row.
type RoutingEntry struct {
	DstAddr uint16 `json:"dstAddr"`
	Status  uint8  `json:"routeStatus"`
	NextHop uint16 `json:"nextHopNwkAddr"`
}

// BindEntry is one ZDO mgmtBindRsp binding table row.
type BindEntry struct {
	SrcAddr     string `json:"srcAddr"`
	SrcEp       uint8  `json:"srcEp"`
	ClusterID   uint16 `json:"clusterId"`
	DstAddrMode uint8  `json:"dstAddrMode"`
	DstAddr     string `json:"dstAddr"`
	DstEp       uint8  `json:"dstEp,omitempty"`
}

// NeighborEntry is one ZDO mgmtLqiRsp neighbor table row.
type NeighborEntry struct {
	ExtPanID     string `json:"extPanId"`
	ExtAddr      string `json:"extAddr"`
	NwkAddr      uint16 `json:"nwkAddr"`
	DeviceType   uint8  `json:"deviceType"`
	RxOnWhenIdle uint8  `json:"rxOnWhenIdle"`
	Relationship uint8  `json:"relationship"`
	PermitJoin   uint8  `json:"permitJoin"`
	Depth        uint8  `json:"depth"`
	LQI          uint8  `json:"lqi"`
}

// NetworkEntry is one ZDO mgmtNwkDiscRsp network descriptor.
type NetworkEntry struct {
	PanID           uint16 `json:"neighborPanId"`
	Channel         uint8  `json:"logicalChannel"`
	StackProfile    uint8  `json:"stackProfile"`
	ZigbeeVersion   uint8  `json:"zigbeeVersion"`
	BeaconOrder     uint8  `json:"beaconOrder"`
	SuperframeOrder uint8  `json:"superframeOrder"`
	PermitJoin      uint8  `json:"permitJoin"`
}

func readRoutingList(buf []byte, off, count int) ([]RoutingEntry, int, error) {
	if err := need(buf, off, count*routingEntrySize); err != nil {
		return nil, 0, err
	}
	out := make([]RoutingEntry, count)
	p := off
	for i := range out {
		out[i] = RoutingEntry{
			DstAddr: le16(buf[p:]),
			Status:  buf[p+2],
			NextHop: le16(buf[p+3:]),
		}
		p += routingEntrySize
	}
	return out, p - off, nil
}

// readBindList walks the variable-stride bind table: dstEp is present only
// when dstAddrMode is 3.
func readBindList(buf []byte, off, count int) ([]BindEntry, int, error) {
	out := make([]BindEntry, 0, count)
	p := off
	for i := 0; i < count; i++ {
		if err := need(buf, p, bindEntryBaseSize); err != nil {
			return nil, 0, fmt.Errorf("entry %d: %w", i, err)
		}
		e := BindEntry{
			SrcAddr:     formatLongAddr(buf[p:]),
			SrcEp:       buf[p+8],
			ClusterID:   le16(buf[p+9:]),
			DstAddrMode: buf[p+11],
			DstAddr:     formatLongAddr(buf[p+12:]),
		}
		p += bindEntryBaseSize
		if e.DstAddrMode == addrModeIEEE {
			if err := need(buf, p, 1); err != nil {
				return nil, 0, fmt.Errorf("entry %d dstEp: %w", i, err)
			}
			e.DstEp = buf[p]
			p++
		}
		out = append(out, e)
	}
	return out, p - off, nil
}

func readNeighborList(buf []byte, off, count int) ([]NeighborEntry, int, error) {
	if err := need(buf, off, count*neighborEntrySize); err != nil {
		return nil, 0, err
	}
	out := make([]NeighborEntry, count)
	p := off
	for i := range out {
		flags := buf[p+18]
		out[i] = NeighborEntry{
			ExtPanID:     formatLongAddr(buf[p:]),
			ExtAddr:      formatLongAddr(buf[p+8:]),
			NwkAddr:      le16(buf[p+16:]),
			DeviceType:   flags & 0x03,
			RxOnWhenIdle: (flags >> 2) & 0x03,
			Relationship: (flags >> 4) & 0x07,
			PermitJoin:   buf[p+19],
			Depth:        buf[p+20],
			LQI:          buf[p+21],
		}
		p += neighborEntrySize
	}
	return out, p - off, nil
}

func readNetworkList(buf []byte, off, count int) ([]NetworkEntry, int, error) {
	if err := need(buf, off, count*networkEntrySize); err != nil {
		return nil, 0, err
	}
	out := make([]NetworkEntry, count)
	p := off
	for i := range out {
		out[i] = NetworkEntry{
			PanID:           le16(buf[p:]),
			Channel:         buf[p+2],
			StackProfile:    buf[p+3] & 0x0F,
			ZigbeeVersion:   buf[p+3] >> 4,
			BeaconOrder:     buf[p+4] & 0x0F,
			SuperframeOrder: buf[p+4] >> 4,
			PermitJoin:      buf[p+5],
		}
		p += networkEntrySize
	}
	return out, p - off, nil
}

// readAssocDevList reads uint16 entries from the remaining bytes, clipped to
// MaxAssocDevices whatever remaining claims.
func readAssocDevList(buf []byte, off, remaining int) ([]uint16, int, error) {
	if err := need(buf, off, remaining); err != nil {
		return nil, 0, err
	}
	count := remaining / 2
	if count > MaxAssocDevices {
		count = MaxAssocDevices
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = le16(buf[off+2*i:])
	}
	return out, count * 2, nil
}

// listLen returns the element count of a structured list value, used when a
// count field has to be derived on encode.
func listLen(v any) (int, bool) {
	switch l := v.(type) {
	case []RoutingEntry:
		return len(l), true
	case []BindEntry:
		return len(l), true
	case []NeighborEntry:
		return len(l), true
	case []NetworkEntry:
		return len(l), true
	}
	return 0, false
}
