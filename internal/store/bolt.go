package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDevices = []byte("devices")
	bucketNwk     = []byte("nwk")
	bucketNetwork = []byte("network")
	keyNetState   = []byte("state")
)

// BoltStore implements Store using BoltDB. Devices are keyed by upper-case
// IEEE address; the nwk bucket maps short addresses back to them.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketNwk, bucketNetwork} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func deviceKey(ieee string) []byte {
	return []byte(strings.ToUpper(strings.TrimPrefix(strings.ToLower(ieee), "0x")))
}

func nwkKey(nwk uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, nwk)
}

func putDevice(tx *bolt.Tx, dev *Device) error {
	devices, index := tx.Bucket(bucketDevices), tx.Bucket(bucketNwk)
	key := deviceKey(dev.IEEEAddress)

	// Drop the index entry of the previous short address, and any stale
	// owner of the new one.
	if old := devices.Get(key); old != nil {
		var prev Device
		if err := json.Unmarshal(old, &prev); err == nil && prev.ShortAddress != dev.ShortAddress {
			if string(index.Get(nwkKey(prev.ShortAddress))) == string(key) {
				if err := index.Delete(nwkKey(prev.ShortAddress)); err != nil {
					return err
				}
			}
		}
	}
	data, err := json.Marshal(dev)
	if err != nil {
		return err
	}
	if err := devices.Put(key, data); err != nil {
		return err
	}
	return index.Put(nwkKey(dev.ShortAddress), key)
}

func (s *BoltStore) SaveDevice(dev *Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putDevice(tx, dev)
	})
}

func getDevice(tx *bolt.Tx, key []byte) (*Device, error) {
	data := tx.Bucket(bucketDevices).Get(key)
	if data == nil {
		return nil, fmt.Errorf("device %s: %w", key, ErrNotFound)
	}
	var dev Device
	if err := json.Unmarshal(data, &dev); err != nil {
		return nil, fmt.Errorf("device %s: %w", key, err)
	}
	return &dev, nil
}

func (s *BoltStore) GetDevice(ieee string) (*Device, error) {
	var dev *Device
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		dev, err = getDevice(tx, deviceKey(ieee))
		return err
	})
	return dev, err
}

func (s *BoltStore) DeviceByNwk(nwk uint16) (*Device, error) {
	var dev *Device
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketNwk).Get(nwkKey(nwk))
		if key == nil {
			return fmt.Errorf("device 0x%04X: %w", nwk, ErrNotFound)
		}
		var err error
		dev, err = getDevice(tx, key)
		return err
	})
	return dev, err
}

func (s *BoltStore) DeleteDevice(ieee string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := deviceKey(ieee)
		dev, err := getDevice(tx, key)
		if err != nil {
			return err
		}
		index := tx.Bucket(bucketNwk)
		if string(index.Get(nwkKey(dev.ShortAddress))) == string(key) {
			if err := index.Delete(nwkKey(dev.ShortAddress)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketDevices).Delete(key)
	})
}

func (s *BoltStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		devices = make([]*Device, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var dev Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return fmt.Errorf("device %s: %w", k, err)
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) UpdateDevice(ieee string, fn func(dev *Device) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		dev, err := getDevice(tx, deviceKey(ieee))
		if err != nil {
			return err
		}
		if err := fn(dev); err != nil {
			return err
		}
		return putDevice(tx, dev)
	})
}

func (s *BoltStore) SaveNetworkState(state *NetworkState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNetwork).Put(keyNetState, data)
	})
}

func (s *BoltStore) GetNetworkState() (*NetworkState, error) {
	var state NetworkState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNetwork).Get(keyNetState)
		if data == nil {
			return fmt.Errorf("network state: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
