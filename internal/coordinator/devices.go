package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"znp-host/internal/ncp"
	"znp-host/internal/store"
)

type interviewEntry struct {
	cancel context.CancelFunc
	gen    uint64
}

// DeviceManager keeps the address table in sync with join, announce and
// leave indications and discovers the endpoints of new devices.
type DeviceManager struct {
	coord  *Coordinator
	logger *slog.Logger

	// Interview cancellation by IEEE.
	interviewMu  sync.Mutex
	interviews   map[string]interviewEntry
	interviewGen atomic.Uint64
	interviewWg  sync.WaitGroup

	// retryDelay is the base wait between interview attempts.
	retryDelay time.Duration
}

// NewDeviceManager creates a new device manager.
func NewDeviceManager(coord *Coordinator) *DeviceManager {
	return &DeviceManager{
		coord:      coord,
		logger:     coord.logger.With("component", "device_manager"),
		interviews: make(map[string]interviewEntry),
		retryDelay: 5 * time.Second,
	}
}

// CancelAllInterviews cancels all running interview goroutines and waits for them.
func (dm *DeviceManager) CancelAllInterviews() {
	dm.interviewMu.Lock()
	for ieee, entry := range dm.interviews {
		entry.cancel()
		delete(dm.interviews, ieee)
	}
	dm.interviewMu.Unlock()
	dm.interviewWg.Wait()
}

func (dm *DeviceManager) cancelInterview(ieee string) {
	dm.interviewMu.Lock()
	defer dm.interviewMu.Unlock()
	if entry, ok := dm.interviews[ieee]; ok {
		entry.cancel()
		delete(dm.interviews, ieee)
	}
}

// upsert records the short address of a device, creating it when unknown.
func (dm *DeviceManager) upsert(ieee string, short uint16, fn func(dev *store.Device)) (*store.Device, error) {
	st := dm.coord.Store()
	var saved *store.Device
	err := st.UpdateDevice(ieee, func(dev *store.Device) error {
		dev.ShortAddress = short
		dev.LastSeen = time.Now()
		if fn != nil {
			fn(dev)
		}
		saved = dev
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		now := time.Now()
		dev := &store.Device{IEEEAddress: ieee, ShortAddress: short, JoinedAt: now, LastSeen: now}
		if fn != nil {
			fn(dev)
		}
		return dev, st.SaveDevice(dev)
	}
	return saved, err
}

// HandleJoin records a device admitted by the trust center. The interview
// waits for the announce, which follows the key exchange.
func (dm *DeviceManager) HandleJoin(evt ncp.DeviceJoinedEvent) {
	ieee, err := ParseIEEE(evt.IEEEAddr)
	if err != nil {
		dm.logger.Warn("join with bad address", "ieee", evt.IEEEAddr, "err", err)
		return
	}
	if _, err := dm.upsert(ieee, evt.ShortAddr, func(dev *store.Device) {
		dev.ParentAddr = evt.ParentAddr
	}); err != nil {
		dm.logger.Error("save device", "err", err, "ieee", ieee)
		return
	}
	dm.logger.Info("device joined", "ieee", ieee, "short", fmt.Sprintf("0x%04X", evt.ShortAddr))

	dm.coord.Events().Emit(Event{Type: EventDeviceJoined, Data: DeviceEvent{
		IEEEAddress:  ieee,
		ShortAddress: evt.ShortAddr,
	}})
}

// HandleAnnounce updates the address and capabilities of an announcing
// device and starts an interview for devices without endpoints.
func (dm *DeviceManager) HandleAnnounce(evt ncp.DeviceAnnounceEvent) {
	ieee, err := ParseIEEE(evt.IEEEAddr)
	if err != nil {
		dm.logger.Warn("announce with bad address", "ieee", evt.IEEEAddr, "err", err)
		return
	}
	dev, err := dm.upsert(ieee, evt.ShortAddr, func(dev *store.Device) {
		dev.Capabilities = evt.Capability
	})
	if err != nil {
		dm.logger.Error("save device on announce", "err", err, "ieee", ieee)
		return
	}
	dm.logger.Info("device announce", "ieee", ieee, "short", fmt.Sprintf("0x%04X", evt.ShortAddr),
		"mains", dev.MainsPowered())

	dm.coord.Events().Emit(Event{Type: EventDeviceAnnounce, Data: DeviceEvent{
		IEEEAddress:  ieee,
		ShortAddress: evt.ShortAddr,
		Capabilities: evt.Capability,
	}})

	if len(dev.Endpoints) > 0 {
		return
	}
	dm.interviewMu.Lock()
	_, running := dm.interviews[ieee]
	dm.interviewMu.Unlock()
	if running {
		dm.logger.Debug("announce during interview", "ieee", ieee)
		return
	}
	dm.startInterview(ieee)
}

func (dm *DeviceManager) startInterview(ieee string) {
	gen := dm.interviewGen.Add(1)
	ctx, cancel := context.WithTimeout(dm.coord.Context(), dm.coord.config.InterviewTimeout)

	dm.interviewMu.Lock()
	if prev, ok := dm.interviews[ieee]; ok {
		prev.cancel()
	}
	dm.interviews[ieee] = interviewEntry{cancel: cancel, gen: gen}
	dm.interviewMu.Unlock()

	dm.interviewWg.Add(1)
	go func() {
		defer func() {
			cancel()
			dm.interviewMu.Lock()
			if entry, ok := dm.interviews[ieee]; ok && entry.gen == gen {
				delete(dm.interviews, ieee)
			}
			dm.interviewMu.Unlock()
			dm.interviewWg.Done()
		}()
		if err := dm.Interview(ctx, ieee); err != nil {
			dm.logger.Warn("interview failed", "ieee", ieee, "err", err)
		}
	}()
}

// HandleLeave forgets a device that left for good. A device leaving to
// rejoin keeps its record.
func (dm *DeviceManager) HandleLeave(evt ncp.DeviceLeftEvent) {
	ieee, err := ParseIEEE(evt.IEEEAddr)
	if err != nil {
		dm.logger.Warn("leave with bad address", "ieee", evt.IEEEAddr, "err", err)
		return
	}
	dm.cancelInterview(ieee)
	dm.logger.Info("device left", "ieee", ieee, "rejoin", evt.Rejoin)

	if !evt.Rejoin {
		if err := dm.coord.Store().DeleteDevice(ieee); err != nil && !errors.Is(err, store.ErrNotFound) {
			dm.logger.Error("delete device on leave", "err", err, "ieee", ieee)
		}
	}
	dm.coord.Events().Emit(Event{Type: EventDeviceLeft, Data: DeviceEvent{
		IEEEAddress:  ieee,
		ShortAddress: evt.ShortAddr,
		Rejoin:       evt.Rejoin,
	}})
}

// HandleAttributeReport refreshes the reporting device's LQI and last seen
// time and emits the report with names from the registry.
func (dm *DeviceManager) HandleAttributeReport(evt ncp.AttributeReportEvent) {
	out := ReportEvent{
		ShortAddress: evt.SrcAddr,
		Endpoint:     evt.SrcEP,
		ClusterID:    evt.ClusterID,
		ClusterName:  fmt.Sprintf("0x%04X", evt.ClusterID),
		AttrID:       evt.AttrID,
		AttrName:     fmt.Sprintf("0x%04X", evt.AttrID),
		Value:        evt.Value,
		LQI:          evt.LQI,
	}
	if cluster := dm.coord.Registry().Get(evt.ClusterID); cluster != nil {
		out.ClusterName = cluster.Name
		if attr := cluster.FindAttribute(evt.AttrID); attr != nil {
			out.AttrName = attr.Name
		}
	}

	st := dm.coord.Store()
	if dev, err := st.DeviceByNwk(evt.SrcAddr); err == nil {
		out.IEEEAddress = dev.IEEEAddress
		if err := st.UpdateDevice(dev.IEEEAddress, func(d *store.Device) error {
			d.LastSeen = time.Now()
			if evt.LQI > 0 {
				d.LQI = evt.LQI
			}
			return nil
		}); err != nil {
			dm.logger.Error("save device last_seen", "err", err, "ieee", dev.IEEEAddress)
		}
	}

	dm.logger.Info("attribute report",
		"ieee", out.IEEEAddress,
		"short", fmt.Sprintf("0x%04X", evt.SrcAddr),
		"cluster", out.ClusterName,
		"attr", out.AttrName,
		"value", evt.Value)

	dm.coord.Events().Emit(Event{Type: EventAttributeReport, Data: out})
}

// Interview queries a device for its endpoints and their descriptors.
// Retries up to 3 times, re-reading the device from the store each time to
// pick up short address changes from rejoins.
func (dm *DeviceManager) Interview(ctx context.Context, ieee string) error {
	const maxRetries = 3
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		dev, err := dm.coord.Store().GetDevice(ieee)
		if err != nil {
			return err
		}
		dm.logger.Info("starting interview", "ieee", ieee,
			"short", fmt.Sprintf("0x%04X", dev.ShortAddress), "attempt", attempt)

		endpoints, err := dm.discover(ctx, dev.ShortAddress)
		if err == nil {
			if err := dm.coord.Store().UpdateDevice(ieee, func(d *store.Device) error {
				d.Endpoints = endpoints
				return nil
			}); err != nil {
				return err
			}
			dm.logger.Info("interview complete", "ieee", ieee, "endpoints", len(endpoints))
			dm.coord.Events().Emit(Event{Type: EventDeviceInterviewed, Data: DeviceEvent{
				IEEEAddress:  ieee,
				ShortAddress: dev.ShortAddress,
				Endpoints:    len(endpoints),
			}})
			return nil
		}
		lastErr = err
		dm.logger.Warn("interview attempt failed", "err", err, "ieee", ieee, "attempt", attempt)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < maxRetries {
			jitter := time.Duration(rand.Int64N(int64(dm.retryDelay)/2 + 1))
			select {
			case <-time.After(dm.retryDelay + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

func (dm *DeviceManager) discover(ctx context.Context, short uint16) ([]store.Endpoint, error) {
	eps, err := dm.coord.NCP().ActiveEndpoints(ctx, short)
	if err != nil {
		return nil, err
	}
	out := make([]store.Endpoint, 0, len(eps))
	for _, ep := range eps {
		sd, err := dm.coord.NCP().SimpleDescriptor(ctx, short, ep)
		if err != nil {
			return nil, err
		}
		out = append(out, store.Endpoint{
			ID:          ep,
			ProfileID:   sd.ProfileID,
			DeviceID:    sd.DeviceID,
			InClusters:  sd.InClusters,
			OutClusters: sd.OutClusters,
		})
	}
	return out, nil
}

// RemoveDevice asks the device to leave the network and forgets it. The
// record is removed even when the device does not answer.
func (dm *DeviceManager) RemoveDevice(ctx context.Context, ieee string) error {
	ieee, err := ParseIEEE(ieee)
	if err != nil {
		return err
	}
	dm.cancelInterview(ieee)

	dev, err := dm.coord.Store().GetDevice(ieee)
	if err != nil {
		return err
	}
	if err := dm.coord.NCP().Leave(ctx, dev.ShortAddress, ieee, false); err != nil {
		dm.logger.Warn("leave request failed", "ieee", ieee, "err", err)
	} else {
		dm.logger.Info("device removed from network", "ieee", ieee)
	}
	return dm.coord.Store().DeleteDevice(ieee)
}

// ListDevices returns all known devices.
func (dm *DeviceManager) ListDevices() ([]*store.Device, error) {
	return dm.coord.Store().ListDevices()
}

// GetDevice returns a device by IEEE address.
func (dm *DeviceManager) GetDevice(ieee string) (*store.Device, error) {
	return dm.coord.Store().GetDevice(ieee)
}
