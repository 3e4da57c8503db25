package store

import "time"

// Device is an address table entry.
type Device struct {
	IEEEAddress  string     `json:"ieee_address"`
	ShortAddress uint16     `json:"short_address"`
	ParentAddr   uint16     `json:"parent_address,omitempty"`
	Capabilities uint8      `json:"capabilities,omitempty"`
	Endpoints    []Endpoint `json:"endpoints,omitempty"`
	JoinedAt     time.Time  `json:"joined_at"`
	LastSeen     time.Time  `json:"last_seen"`
	LQI          uint8      `json:"lqi,omitempty"`
}

// MainsPowered reports the "power source" bit of the announce capabilities.
func (d *Device) MainsPowered() bool { return d.Capabilities&0x04 != 0 }

// RxOnWhenIdle reports the "receiver on when idle" capability bit.
func (d *Device) RxOnWhenIdle() bool { return d.Capabilities&0x08 != 0 }

// Endpoint is a device endpoint as returned by a simple descriptor request.
type Endpoint struct {
	ID          uint8    `json:"id"`
	ProfileID   uint16   `json:"profile_id"`
	DeviceID    uint16   `json:"device_id"`
	InClusters  []uint16 `json:"in_clusters"`
	OutClusters []uint16 `json:"out_clusters"`
}

// NetworkState is what the coordinator reported the last time it came up.
type NetworkState struct {
	Channel          uint8     `json:"channel"`
	PanID            uint16    `json:"pan_id"`
	ExtPanID         string    `json:"ext_pan_id"`
	CoordinatorIEEE  string    `json:"coordinator_ieee"`
	Product          uint8     `json:"product"`
	FirmwareRevision uint32    `json:"firmware_revision"`
	Formed           bool      `json:"formed"`
	StartedAt        time.Time `json:"started_at"`
}
