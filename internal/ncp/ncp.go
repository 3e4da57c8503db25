// Package ncp drives a Z-Stack network co-processor: network start-up,
// ZDO management requests and a ZCL client carried over AF data requests.
package ncp

import (
	"context"
	"fmt"

	"znp-host/internal/zcl"
	"znp-host/internal/znp"
)

// NCP is the coordinator-facing view of the co-processor. Callbacks run on
// the driver's reader goroutine and must not issue requests inline.
type NCP interface {
	// Network management
	Reset(ctx context.Context, hard bool) error
	Init(ctx context.Context) (*Info, error)
	StartNetwork(ctx context.Context) error
	RegisterEndpoint(ctx context.Context, ep EndpointConfig) error
	PermitJoin(ctx context.Context, duration uint8) error
	NetworkInfo(ctx context.Context) (*NetworkInfo, error)

	// ZDO
	ActiveEndpoints(ctx context.Context, nwk uint16) ([]uint8, error)
	SimpleDescriptor(ctx context.Context, nwk uint16, endpoint uint8) (*SimpleDescriptor, error)
	Bind(ctx context.Context, req BindRequest) error
	Unbind(ctx context.Context, req BindRequest) error
	ManagementLQI(ctx context.Context, nwk uint16, start uint8) (*NeighborTable, error)
	ManagementRouting(ctx context.Context, nwk uint16, start uint8) (*RoutingTable, error)
	Leave(ctx context.Context, nwk uint16, ieee string, rejoin bool) error

	// ZCL
	ReadAttributes(ctx context.Context, req ReadAttributesRequest) ([]zcl.ReadStatusRecord, error)
	WriteAttributes(ctx context.Context, req WriteAttributesRequest) ([]zcl.WriteStatusRecord, error)
	ConfigureReporting(ctx context.Context, req ConfigureReportingRequest) ([]zcl.ConfigReportStatus, error)
	SendCommand(ctx context.Context, req ClusterCommandRequest) error
	SendFrame(ctx context.Context, dst Address, srcEP uint8, cluster uint16, f *zcl.Frame) error

	// Indication callbacks
	OnDeviceJoined(handler func(DeviceJoinedEvent))
	OnDeviceLeft(handler func(DeviceLeftEvent))
	OnDeviceAnnounce(handler func(DeviceAnnounceEvent))
	OnAttributeReport(handler func(AttributeReportEvent))
	OnClusterCommand(handler func(IncomingFrame))
	OnGlobalRequest(handler func(IncomingFrame))
	OnStateChange(handler func(uint8))

	Driver() *znp.Driver
	Close() error
}

// Device states reported by ZDO stateChangeInd and UTIL getDeviceInfo.
const (
	StateHold          uint8 = 0x00
	StateInit          uint8 = 0x01
	StateStartingCoord uint8 = 0x08
	StateCoordinator   uint8 = 0x09
)

// Info is what the co-processor reports about itself after a reset.
type Info struct {
	Capabilities uint16 `json:"capabilities"`
	TransportRev uint8  `json:"transport_rev"`
	Product      uint8  `json:"product"`
	MajorRel     uint8  `json:"major_rel"`
	MinorRel     uint8  `json:"minor_rel"`
	MaintRel     uint8  `json:"maint_rel"`
	Revision     uint32 `json:"revision"`
	IEEEAddress  string `json:"ieee_address"`
	ShortAddr    uint16 `json:"short_address"`
	DeviceType   uint8  `json:"device_type"`
	DeviceState  uint8  `json:"device_state"`
}

// Version renders the firmware release as "major.minor.maint".
func (i *Info) Version() string {
	return fmt.Sprintf("%d.%d.%d", i.MajorRel, i.MinorRel, i.MaintRel)
}

// NetworkInfo is the running network as reported by ZDO extNwkInfo.
type NetworkInfo struct {
	ShortAddr uint16 `json:"short_address"`
	State     uint8  `json:"state"`
	PanID     uint16 `json:"pan_id"`
	ExtPanID  string `json:"ext_pan_id"`
	Channel   uint8  `json:"channel"`
}

// EndpointConfig is a local application endpoint registered with AF.
type EndpointConfig struct {
	Endpoint    uint8    `yaml:"endpoint" json:"endpoint"`
	ProfileID   uint16   `yaml:"profile_id" json:"profile_id"`
	DeviceID    uint16   `yaml:"device_id" json:"device_id"`
	InClusters  []uint16 `yaml:"in_clusters" json:"in_clusters"`
	OutClusters []uint16 `yaml:"out_clusters" json:"out_clusters"`
}

// SimpleDescriptor describes an endpoint.
type SimpleDescriptor struct {
	Endpoint    uint8    `json:"endpoint"`
	ProfileID   uint16   `json:"profile_id"`
	DeviceID    uint16   `json:"device_id"`
	InClusters  []uint16 `json:"in_clusters"`
	OutClusters []uint16 `json:"out_clusters"`
}

// BindRequest is a ZDO bind/unbind request sent to TargetNwk.
type BindRequest struct {
	TargetNwk uint16
	SrcIEEE   string
	SrcEP     uint8
	ClusterID uint16
	DstIEEE   string
	DstEP     uint8
}

// NeighborTable is one page of a remote neighbor table.
type NeighborTable struct {
	Total      uint8               `json:"total"`
	StartIndex uint8               `json:"start_index"`
	Neighbors  []znp.NeighborEntry `json:"neighbors"`
}

// RoutingTable is one page of a remote routing table.
type RoutingTable struct {
	Total      uint8              `json:"total"`
	StartIndex uint8              `json:"start_index"`
	Routes     []znp.RoutingEntry `json:"routes"`
}

// Address is a unicast ZCL destination.
type Address struct {
	Nwk      uint16 `json:"nwk"`
	Endpoint uint8  `json:"endpoint"`
}

// ReadAttributesRequest specifies which attributes to read.
type ReadAttributesRequest struct {
	DstAddr          uint16
	DstEP            uint8
	ClusterID        uint16
	ManufacturerCode uint16 // 0 for standard attributes
	AttrIDs          []uint16
}

// WriteAttributesRequest specifies attributes to write.
type WriteAttributesRequest struct {
	DstAddr          uint16
	DstEP            uint8
	ClusterID        uint16
	ManufacturerCode uint16
	Records          []zcl.AttributeRecord
	Undivided        bool
}

// ConfigureReportingRequest sets up attribute reporting on a remote server.
type ConfigureReportingRequest struct {
	DstAddr          uint16
	DstEP            uint8
	ClusterID        uint16
	ManufacturerCode uint16
	Configs          []zcl.ReportConfig
}

// ClusterCommandRequest sends a cluster-specific command.
type ClusterCommandRequest struct {
	DstAddr                uint16
	DstEP                  uint8
	ClusterID              uint16
	ManufacturerCode       uint16
	CommandID              uint8
	Payload                []byte
	DisableDefaultResponse bool
}

// CommandStatusError is a non-success default response to a command.
type CommandStatusError struct {
	ClusterID uint16
	CommandID uint8
	Status    zcl.Status
}

func (e *CommandStatusError) Error() string {
	return fmt.Sprintf("ncp: cluster 0x%04X command 0x%02X: %s", e.ClusterID, e.CommandID, e.Status)
}

// DeliveryError is a failed AF dataConfirm.
type DeliveryError struct {
	DstAddr uint16
	Status  uint8
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("ncp: delivery to 0x%04X failed with status 0x%02X", e.DstAddr, e.Status)
}

// DeviceJoinedEvent is emitted when the trust center admits a device.
type DeviceJoinedEvent struct {
	ShortAddr  uint16
	IEEEAddr   string
	ParentAddr uint16
}

// DeviceLeftEvent is emitted when a device leaves.
type DeviceLeftEvent struct {
	ShortAddr uint16
	IEEEAddr  string
	Rejoin    bool
}

// DeviceAnnounceEvent is emitted on device announce.
type DeviceAnnounceEvent struct {
	ShortAddr  uint16
	IEEEAddr   string
	Capability uint8
}

// AttributeReportEvent is one record of an attribute report.
type AttributeReportEvent struct {
	SrcAddr   uint16
	SrcEP     uint8
	ClusterID uint16
	AttrID    uint16
	DataType  zcl.DataType
	Value     any
	LQI       uint8
}

// IncomingFrame is a ZCL frame received through AF incomingMsg.
type IncomingFrame struct {
	SrcAddr   uint16
	SrcEP     uint8
	DstEP     uint8
	ClusterID uint16
	GroupID   uint16
	LQI       uint8
	Frame     *zcl.Frame
}
