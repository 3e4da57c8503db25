package coordinator

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"znp-host/internal/ncp"
	"znp-host/internal/store"
	"znp-host/internal/zcl"
	"znp-host/internal/znp"
)

// Config holds coordinator configuration.
type Config struct {
	// Endpoints are registered with AF on start. Every input cluster known
	// to the registry gets a local attribute server.
	Endpoints []ncp.EndpointConfig
	// ReportTarget receives attribute reports produced by the local
	// servers. A zero endpoint disables sending; reports are still emitted
	// as events.
	ReportTarget ncp.Address
	// ResetOnStart soft-resets the co-processor before start-up.
	ResetOnStart bool
	// InterviewTimeout bounds the endpoint discovery of a new device.
	InterviewTimeout time.Duration
}

// ParseIEEE normalizes "00:12:4B:...", "00124B..." or "0x00124b..." to the
// "0x" plus 16 lowercase hex digits form the driver uses for 64-bit
// addresses.
func ParseIEEE(s string) (string, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("parse ieee address: %w", err)
	}
	if len(b) != 8 {
		return "", fmt.Errorf("ieee address must be 8 bytes, got %d", len(b))
	}
	return "0x" + hex.EncodeToString(b), nil
}

// Coordinator runs the network through a co-processor: start-up, device
// bookkeeping, local attribute servers and the event stream.
type Coordinator struct {
	ncp      ncp.NCP
	store    store.Store
	registry *zcl.Registry
	events   *EventBus
	devices  *DeviceManager
	local    *localEndpoints
	logger   *slog.Logger
	config   Config

	infoMu sync.RWMutex
	info   *ncp.Info

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	stopOnce    sync.Once
}

// New creates a Coordinator on top of a co-processor client.
func New(backend ncp.NCP, st store.Store, registry *zcl.Registry, events *EventBus, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InterviewTimeout <= 0 {
		cfg.InterviewTimeout = 3 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		ncp:      backend,
		store:    st,
		registry: registry,
		events:   events,
		logger:   logger.With("component", "coordinator"),
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.devices = NewDeviceManager(c)
	c.local = newLocalEndpoints(c)
	c.registerIndicationHandlers()
	return c
}

// Context returns the coordinator's context, which is cancelled on Stop().
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Start brings the co-processor up as coordinator, registers the local
// endpoints and records the running network.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info("initializing co-processor...")

	if c.config.ResetOnStart {
		if err := c.ncp.Reset(ctx, false); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	info, err := c.ncp.Init(ctx)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	c.infoMu.Lock()
	c.info = info
	c.infoMu.Unlock()

	if err := c.ncp.StartNetwork(ctx); err != nil {
		return err
	}
	for _, ep := range c.config.Endpoints {
		if err := c.ncp.RegisterEndpoint(ctx, ep); err != nil {
			return err
		}
	}

	nwk, err := c.ncp.NetworkInfo(ctx)
	if err != nil {
		return err
	}
	c.saveNetworkState(info, nwk)
	c.logger.Info("network up",
		"channel", nwk.Channel,
		"panID", fmt.Sprintf("0x%04X", nwk.PanID),
		"extPanID", nwk.ExtPanID,
		"ieee", info.IEEEAddress)
	c.events.Emit(Event{Type: EventNetworkState, Data: map[string]interface{}{
		"state":      "started",
		"channel":    nwk.Channel,
		"pan_id":     nwk.PanID,
		"ext_pan_id": nwk.ExtPanID,
	}})
	return nil
}

func (c *Coordinator) saveNetworkState(info *ncp.Info, nwk *ncp.NetworkInfo) {
	if err := c.store.SaveNetworkState(&store.NetworkState{
		Channel:          nwk.Channel,
		PanID:            nwk.PanID,
		ExtPanID:         nwk.ExtPanID,
		CoordinatorIEEE:  info.IEEEAddress,
		Product:          info.Product,
		FirmwareRevision: info.Revision,
		Formed:           true,
		StartedAt:        time.Now(),
	}); err != nil {
		c.logger.Error("save network state", "err", err)
	}
}

// LocalIEEE returns the coordinator's own IEEE address, empty before Start.
func (c *Coordinator) LocalIEEE() string {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	if c.info == nil {
		return ""
	}
	return c.info.IEEEAddress
}

// Stop cancels running interviews, stops local reporting and detaches from
// the co-processor. The co-processor itself is left open.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.devices.CancelAllInterviews()
		c.local.close()
	})
}

// PermitJoin opens or closes the network for device joining.
func (c *Coordinator) PermitJoin(ctx context.Context, duration uint8) error {
	if err := c.ncp.PermitJoin(ctx, duration); err != nil {
		return err
	}
	c.logger.Info("permit join", "duration", duration)
	c.events.Emit(Event{Type: EventPermitJoin, Data: map[string]interface{}{"duration": duration}})
	return nil
}

// Reset restarts the co-processor. The network has to be started again.
func (c *Coordinator) Reset(ctx context.Context, hard bool) error {
	if err := c.ncp.Reset(ctx, hard); err != nil {
		return err
	}
	c.events.Emit(Event{Type: EventNetworkState, Data: map[string]interface{}{"state": "reset", "hard": hard}})
	return nil
}

// NetworkInfo returns the live network parameters, falling back to the
// last persisted state when the co-processor does not answer.
func (c *Coordinator) NetworkInfo(ctx context.Context) map[string]interface{} {
	info := map[string]interface{}{
		"coordinator_ieee": c.LocalIEEE(),
	}
	c.infoMu.RLock()
	if c.info != nil {
		info["product"] = c.info.Product
		info["version"] = c.info.Version()
		info["revision"] = c.info.Revision
		info["transport_rev"] = c.info.TransportRev
	}
	c.infoMu.RUnlock()

	nwk, err := c.ncp.NetworkInfo(ctx)
	if err == nil {
		info["channel"] = nwk.Channel
		info["pan_id"] = fmt.Sprintf("0x%04X", nwk.PanID)
		info["ext_pan_id"] = nwk.ExtPanID
		info["state"] = nwk.State
		info["short_address"] = fmt.Sprintf("0x%04X", nwk.ShortAddr)
		return info
	}
	c.logger.Warn("network info", "err", err)
	if ns, err := c.store.GetNetworkState(); err == nil {
		info["channel"] = ns.Channel
		info["pan_id"] = fmt.Sprintf("0x%04X", ns.PanID)
		info["ext_pan_id"] = ns.ExtPanID
		info["started_at"] = ns.StartedAt
	}
	return info
}

// NCP returns the underlying co-processor client.
func (c *Coordinator) NCP() ncp.NCP {
	return c.ncp
}

// Driver returns the MT driver below the co-processor client.
func (c *Coordinator) Driver() *znp.Driver {
	return c.ncp.Driver()
}

// Store returns the store.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Registry returns the ZCL registry.
func (c *Coordinator) Registry() *zcl.Registry {
	return c.registry
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Devices returns the device manager.
func (c *Coordinator) Devices() *DeviceManager {
	return c.devices
}

func (c *Coordinator) registerIndicationHandlers() {
	c.ncp.OnDeviceJoined(c.devices.HandleJoin)
	c.ncp.OnDeviceLeft(c.devices.HandleLeave)
	c.ncp.OnDeviceAnnounce(c.devices.HandleAnnounce)
	c.ncp.OnAttributeReport(c.devices.HandleAttributeReport)
	c.ncp.OnGlobalRequest(c.local.handleRequest)
	c.ncp.OnClusterCommand(c.handleClusterCommand)
	c.ncp.OnStateChange(func(state uint8) {
		c.events.Emit(Event{Type: EventStateChange, Data: map[string]interface{}{"state": state}})
	})
	if drv := c.ncp.Driver(); drv != nil {
		c.unsubscribe = drv.SubscribeAll(func(m *znp.Message) {
			c.events.Emit(Event{Type: EventIndication, Data: m})
		})
	}
}

// handleClusterCommand routes client-to-server commands to a local server
// and raises everything else as an event.
func (c *Coordinator) handleClusterCommand(in ncp.IncomingFrame) {
	if in.Frame.Direction == zcl.ClientToServer && c.local.server(in.DstEP, in.ClusterID) != nil {
		c.local.handleRequest(in)
		return
	}
	evt := CommandEvent{
		ShortAddress: in.SrcAddr,
		Endpoint:     in.SrcEP,
		ClusterID:    in.ClusterID,
		CommandID:    in.Frame.CommandID,
		Payload:      in.Frame.Payload,
	}
	if cluster := c.registry.Get(in.ClusterID); cluster != nil {
		if def := cluster.FindCommand(in.Frame.CommandID, in.Frame.Direction); def != nil {
			evt.Command = def.Name
			if values, err := zcl.DecodeFunctional(def, in.Frame.Payload); err == nil {
				evt.Values = values
			}
		}
	}
	c.logger.Info("cluster command",
		"short", fmt.Sprintf("0x%04X", in.SrcAddr),
		"cluster", fmt.Sprintf("0x%04X", in.ClusterID),
		"cmd", fmt.Sprintf("0x%02X", in.Frame.CommandID),
		"name", evt.Command)
	c.events.Emit(Event{Type: EventClusterCommand, Data: evt})
}
