// Package store persists the coordinator's network state and the address
// table of devices seen on the network.
package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// SaveDevice inserts or replaces a device keyed by its IEEE address.
	SaveDevice(dev *Device) error
	GetDevice(ieee string) (*Device, error)
	// DeviceByNwk resolves a device from its current short address.
	DeviceByNwk(nwk uint16) (*Device, error)
	DeleteDevice(ieee string) error
	ListDevices() ([]*Device, error)

	// UpdateDevice atomically reads, modifies, and saves a device in a single
	// transaction. Returns ErrNotFound if the device does not exist.
	UpdateDevice(ieee string, fn func(dev *Device) error) error

	SaveNetworkState(state *NetworkState) error
	GetNetworkState() (*NetworkState, error)

	Close() error
}
