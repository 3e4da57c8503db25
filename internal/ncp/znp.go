package ncp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"znp-host/internal/areq"
	"znp-host/internal/unpi"
	"znp-host/internal/zcl"
	"znp-host/internal/znp"
)

// Config tunes the co-processor client.
type Config struct {
	SrcEndpoint  uint8         // local endpoint ZCL requests originate from
	Radius       uint8         // AF hop limit
	ZCLTimeout   time.Duration // wait for a ZCL response after the AF confirm
	StartTimeout time.Duration // wait for the coordinator state after startupFromApp
}

func (c Config) withDefaults() Config {
	if c.SrcEndpoint == 0 {
		c.SrcEndpoint = 1
	}
	if c.Radius == 0 {
		c.Radius = 30
	}
	if c.ZCLTimeout <= 0 {
		c.ZCLTimeout = 10 * time.Second
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 60 * time.Second
	}
	return c
}

const (
	resetHard uint8 = 0x00
	resetSoft uint8 = 0x01

	resetTimeout = 30 * time.Second

	// startupFromApp statuses: network restored, new network formed.
	startupRestored uint8 = 0x00
	startupNew      uint8 = 0x01

	afAlreadyRegistered uint8 = 0xB8

	addrModeBroadcast uint8  = 0x0F
	broadcastRouters  uint16 = 0xFFFC
	bindAddrModeIEEE  uint8  = 0x03

	leaveRejoin uint8 = 0x01
)

// ZNP implements NCP over a Z-Stack MT driver.
type ZNP struct {
	drv    *znp.Driver
	cfg    Config
	logger *slog.Logger

	zclSeq  atomic.Uint32
	transID atomic.Uint32

	// ZCL responses keyed by source, cluster and sequence number.
	zclPending *areq.Correlator[*zcl.Frame]

	infoMu sync.Mutex
	info   *Info

	// Indication callbacks.
	handlerMu       sync.RWMutex
	onJoined        func(DeviceJoinedEvent)
	onLeft          func(DeviceLeftEvent)
	onAnnounce      func(DeviceAnnounceEvent)
	onReport        func(AttributeReportEvent)
	onClusterCmd    func(IncomingFrame)
	onGlobalRequest func(IncomingFrame)
	onState         func(uint8)

	unsubscribe []func()
	closeOnce   sync.Once
}

// NewZNP attaches a client to a running driver. Closing the client closes
// the driver.
func NewZNP(drv *znp.Driver, cfg Config, logger *slog.Logger) *ZNP {
	if logger == nil {
		logger = slog.Default()
	}
	n := &ZNP{
		drv:        drv,
		cfg:        cfg.withDefaults(),
		logger:     logger.With("component", "ncp"),
		zclPending: areq.New[*zcl.Frame](),
	}
	n.unsubscribe = []func(){
		drv.Subscribe(unpi.AF, "incomingMsg", n.handleIncoming),
		drv.Subscribe(unpi.ZDO, "endDeviceAnnceInd", n.handleAnnounce),
		drv.Subscribe(unpi.ZDO, "tcDeviceInd", n.handleTCDevice),
		drv.Subscribe(unpi.ZDO, "leaveInd", n.handleLeave),
		drv.Subscribe(unpi.ZDO, "stateChangeInd", n.handleStateChange),
	}
	go func() {
		<-drv.Done()
		n.zclPending.RejectAll(znp.ErrClosed)
	}()
	return n
}

// Driver returns the underlying MT driver.
func (n *ZNP) Driver() *znp.Driver { return n.drv }

func u8(p znp.Params, name string) uint8 {
	v, _ := p.Uint(name)
	return uint8(v)
}

func u16(p znp.Params, name string) uint16 {
	v, _ := p.Uint(name)
	return uint16(v)
}

func zdoStatus(msg *znp.Message) error {
	if st := u8(msg.Params, "status"); st != 0 {
		return &znp.StatusError{Command: msg.Subsystem.String() + ":" + msg.Name, Status: st}
	}
	return nil
}

// --- Network management ---

func (n *ZNP) Reset(ctx context.Context, hard bool) error {
	typ := resetSoft
	if hard {
		typ = resetHard
	}
	msg, err := n.drv.RequestAndWait(ctx, unpi.SYS, "resetReq", znp.Params{"type": typ},
		znp.Expect{Subsystem: unpi.SYS, Name: "resetInd"}, znp.Timeout(resetTimeout))
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	n.logger.Info("co-processor reset",
		"hard", hard,
		"reason", u8(msg.Params, "reason"),
		"product", u8(msg.Params, "productid"))
	return nil
}

func (n *ZNP) Init(ctx context.Context) (*Info, error) {
	info := &Info{}

	ping, err := n.drv.Request(ctx, unpi.SYS, "ping", nil)
	if err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	info.Capabilities = u16(ping.Params, "capabilities")

	ver, err := n.drv.Request(ctx, unpi.SYS, "version", nil)
	if err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}
	info.TransportRev = u8(ver.Params, "transportrev")
	info.Product = u8(ver.Params, "product")
	info.MajorRel = u8(ver.Params, "majorrel")
	info.MinorRel = u8(ver.Params, "minorrel")
	info.MaintRel = u8(ver.Params, "maintrel")
	if rev, ok := ver.Params.Uint("revision"); ok {
		info.Revision = uint32(rev)
	}

	if err := n.fillDeviceInfo(ctx, info); err != nil {
		return nil, err
	}

	n.infoMu.Lock()
	n.info = info
	n.infoMu.Unlock()

	n.logger.Info("co-processor version",
		"product", info.Product,
		"version", info.Version(),
		"revision", info.Revision,
		"ieee", info.IEEEAddress,
		"state", info.DeviceState)
	cp := *info
	return &cp, nil
}

func (n *ZNP) fillDeviceInfo(ctx context.Context, info *Info) error {
	dev, err := n.drv.Request(ctx, unpi.UTIL, "getDeviceInfo", nil)
	if err != nil {
		return fmt.Errorf("get device info: %w", err)
	}
	info.IEEEAddress, _ = dev.Params.String("ieeeaddr")
	info.ShortAddr = u16(dev.Params, "shortaddr")
	info.DeviceType = u8(dev.Params, "devicetype")
	info.DeviceState = u8(dev.Params, "devicestate")
	return nil
}

// StartNetwork brings the stack up as coordinator. A co-processor already in
// the coordinator state is left alone.
func (n *ZNP) StartNetwork(ctx context.Context) error {
	var info Info
	if err := n.fillDeviceInfo(ctx, &info); err != nil {
		return err
	}
	if info.DeviceState == StateCoordinator {
		n.logger.Info("network already running", "short", fmt.Sprintf("0x%04X", info.ShortAddr))
		return nil
	}

	msg, err := n.drv.RequestAndWait(ctx, unpi.ZDO, "startupFromApp", znp.Params{"startdelay": 100},
		znp.Expect{Subsystem: unpi.ZDO, Name: "stateChangeInd", Match: znp.Params{"state": StateCoordinator}},
		znp.ExpectStatus(startupRestored, startupNew), znp.Timeout(n.cfg.StartTimeout))
	if err != nil {
		return fmt.Errorf("start network: %w", err)
	}
	n.logger.Info("network started", "state", u8(msg.Params, "state"))
	return nil
}

func (n *ZNP) RegisterEndpoint(ctx context.Context, ep EndpointConfig) error {
	_, err := n.drv.Request(ctx, unpi.AF, "register", znp.Params{
		"endpoint":          ep.Endpoint,
		"appprofid":         ep.ProfileID,
		"appdeviceid":       ep.DeviceID,
		"appdevver":         0,
		"latencyreq":        0,
		"appinclusterlist":  ep.InClusters,
		"appoutclusterlist": ep.OutClusters,
	}, znp.ExpectStatus(0, afAlreadyRegistered))
	if err != nil {
		return fmt.Errorf("register endpoint %d: %w", ep.Endpoint, err)
	}
	n.logger.Info("endpoint registered",
		"ep", ep.Endpoint,
		"profile", fmt.Sprintf("0x%04X", ep.ProfileID),
		"in", fmt.Sprintf("%v", ep.InClusters))
	return nil
}

func (n *ZNP) PermitJoin(ctx context.Context, duration uint8) error {
	_, err := n.drv.Request(ctx, unpi.ZDO, "mgmtPermitJoinReq", znp.Params{
		"addrmode":       addrModeBroadcast,
		"dstaddr":        broadcastRouters,
		"duration":       duration,
		"tcsignificance": 0,
	})
	if err != nil {
		return fmt.Errorf("permit join: %w", err)
	}
	return nil
}

func (n *ZNP) NetworkInfo(ctx context.Context) (*NetworkInfo, error) {
	msg, err := n.drv.Request(ctx, unpi.ZDO, "extNwkInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("network info: %w", err)
	}
	info := &NetworkInfo{
		ShortAddr: u16(msg.Params, "shortaddress"),
		State:     u8(msg.Params, "devstate"),
		PanID:     u16(msg.Params, "panid"),
		Channel:   u8(msg.Params, "channel"),
	}
	info.ExtPanID, _ = msg.Params.String("extendedpanid")
	return info, nil
}

// --- ZDO ---

func (n *ZNP) ActiveEndpoints(ctx context.Context, nwk uint16) ([]uint8, error) {
	msg, err := n.drv.RequestAndWait(ctx, unpi.ZDO, "activeEpReq",
		znp.Params{"dstaddr": nwk, "nwkaddrofinterest": nwk},
		znp.Expect{Subsystem: unpi.ZDO, Name: "activeEpRsp", Match: znp.Params{"nwkaddr": nwk}})
	if err != nil {
		return nil, fmt.Errorf("active endpoints 0x%04X: %w", nwk, err)
	}
	if err := zdoStatus(msg); err != nil {
		return nil, err
	}
	list, _ := msg.Params.Bytes("activeeplist")
	eps := append([]uint8(nil), list...)
	n.logger.Info("active endpoints", "short", fmt.Sprintf("0x%04X", nwk), "endpoints", eps)
	return eps, nil
}

func (n *ZNP) SimpleDescriptor(ctx context.Context, nwk uint16, endpoint uint8) (*SimpleDescriptor, error) {
	msg, err := n.drv.RequestAndWait(ctx, unpi.ZDO, "simpleDescReq",
		znp.Params{"dstaddr": nwk, "nwkaddrofinterest": nwk, "endpoint": endpoint},
		znp.Expect{Subsystem: unpi.ZDO, Name: "simpleDescRsp", Match: znp.Params{"nwkaddr": nwk}})
	if err != nil {
		return nil, fmt.Errorf("simple descriptor 0x%04X/%d: %w", nwk, endpoint, err)
	}
	if err := zdoStatus(msg); err != nil {
		return nil, err
	}
	sd := &SimpleDescriptor{
		Endpoint:  u8(msg.Params, "endpoint"),
		ProfileID: u16(msg.Params, "profileid"),
		DeviceID:  u16(msg.Params, "deviceid"),
	}
	sd.InClusters, _ = msg.Params["inclusterlist"].([]uint16)
	sd.OutClusters, _ = msg.Params["outclusterlist"].([]uint16)
	n.logger.Info("simple descriptor",
		"short", fmt.Sprintf("0x%04X", nwk),
		"ep", sd.Endpoint,
		"profile", fmt.Sprintf("0x%04X", sd.ProfileID),
		"device", fmt.Sprintf("0x%04X", sd.DeviceID),
		"in", fmt.Sprintf("%v", sd.InClusters),
		"out", fmt.Sprintf("%v", sd.OutClusters))
	return sd, nil
}

func (n *ZNP) bind(ctx context.Context, name, rsp string, req BindRequest) error {
	msg, err := n.drv.RequestAndWait(ctx, unpi.ZDO, name, znp.Params{
		"dstaddr":     req.TargetNwk,
		"srcaddr":     req.SrcIEEE,
		"srcendpoint": req.SrcEP,
		"clusterid":   req.ClusterID,
		"dstaddrmode": bindAddrModeIEEE,
		"dstaddress":  req.DstIEEE,
		"dstendpoint": req.DstEP,
	}, znp.Expect{Subsystem: unpi.ZDO, Name: rsp, Match: znp.Params{"srcaddr": req.TargetNwk}})
	if err != nil {
		return fmt.Errorf("%s 0x%04X cluster 0x%04X: %w", name, req.TargetNwk, req.ClusterID, err)
	}
	return zdoStatus(msg)
}

func (n *ZNP) Bind(ctx context.Context, req BindRequest) error {
	return n.bind(ctx, "bindReq", "bindRsp", req)
}

func (n *ZNP) Unbind(ctx context.Context, req BindRequest) error {
	return n.bind(ctx, "unbindReq", "unbindRsp", req)
}

func (n *ZNP) ManagementLQI(ctx context.Context, nwk uint16, start uint8) (*NeighborTable, error) {
	msg, err := n.drv.RequestAndWait(ctx, unpi.ZDO, "mgmtLqiReq",
		znp.Params{"dstaddr": nwk, "startindex": start},
		znp.Expect{Subsystem: unpi.ZDO, Name: "mgmtLqiRsp", Match: znp.Params{"srcaddr": nwk}})
	if err != nil {
		return nil, fmt.Errorf("lqi table 0x%04X: %w", nwk, err)
	}
	if err := zdoStatus(msg); err != nil {
		return nil, err
	}
	t := &NeighborTable{
		Total:      u8(msg.Params, "neighbortableentries"),
		StartIndex: u8(msg.Params, "startindex"),
	}
	t.Neighbors, _ = msg.Params["neighborlqilist"].([]znp.NeighborEntry)
	return t, nil
}

func (n *ZNP) ManagementRouting(ctx context.Context, nwk uint16, start uint8) (*RoutingTable, error) {
	msg, err := n.drv.RequestAndWait(ctx, unpi.ZDO, "mgmtRtgReq",
		znp.Params{"dstaddr": nwk, "startindex": start},
		znp.Expect{Subsystem: unpi.ZDO, Name: "mgmtRtgRsp", Match: znp.Params{"srcaddr": nwk}})
	if err != nil {
		return nil, fmt.Errorf("routing table 0x%04X: %w", nwk, err)
	}
	if err := zdoStatus(msg); err != nil {
		return nil, err
	}
	t := &RoutingTable{
		Total:      u8(msg.Params, "routingtableentries"),
		StartIndex: u8(msg.Params, "startindex"),
	}
	t.Routes, _ = msg.Params["routingtablelist"].([]znp.RoutingEntry)
	return t, nil
}

func (n *ZNP) Leave(ctx context.Context, nwk uint16, ieee string, rejoin bool) error {
	var flags uint8
	if rejoin {
		flags = leaveRejoin
	}
	msg, err := n.drv.RequestAndWait(ctx, unpi.ZDO, "mgmtLeaveReq",
		znp.Params{"dstaddr": nwk, "deviceaddress": ieee, "removechildrenRejoin": flags},
		znp.Expect{Subsystem: unpi.ZDO, Name: "mgmtLeaveRsp", Match: znp.Params{"srcaddr": nwk}})
	if err != nil {
		return fmt.Errorf("leave 0x%04X: %w", nwk, err)
	}
	return zdoStatus(msg)
}

// --- Indication callback setters ---

func (n *ZNP) OnDeviceJoined(handler func(DeviceJoinedEvent)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onJoined = handler
}

func (n *ZNP) OnDeviceLeft(handler func(DeviceLeftEvent)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onLeft = handler
}

func (n *ZNP) OnDeviceAnnounce(handler func(DeviceAnnounceEvent)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onAnnounce = handler
}

func (n *ZNP) OnAttributeReport(handler func(AttributeReportEvent)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onReport = handler
}

func (n *ZNP) OnClusterCommand(handler func(IncomingFrame)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onClusterCmd = handler
}

// OnGlobalRequest receives foundation requests (read, write, configure
// reporting...) sent to a local endpoint.
func (n *ZNP) OnGlobalRequest(handler func(IncomingFrame)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onGlobalRequest = handler
}

func (n *ZNP) OnStateChange(handler func(uint8)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onState = handler
}

// --- Indication handlers ---

func (n *ZNP) handleAnnounce(m *znp.Message) {
	evt := DeviceAnnounceEvent{
		ShortAddr:  u16(m.Params, "nwkaddr"),
		Capability: u8(m.Params, "capabilities"),
	}
	evt.IEEEAddr, _ = m.Params.String("ieeeaddr")
	n.logger.Info("device announce", "ieee", evt.IEEEAddr, "short", fmt.Sprintf("0x%04X", evt.ShortAddr))

	n.handlerMu.RLock()
	h := n.onAnnounce
	n.handlerMu.RUnlock()
	if h != nil {
		h(evt)
	}
}

func (n *ZNP) handleTCDevice(m *znp.Message) {
	evt := DeviceJoinedEvent{
		ShortAddr:  u16(m.Params, "nwkaddr"),
		ParentAddr: u16(m.Params, "parentaddr"),
	}
	evt.IEEEAddr, _ = m.Params.String("extaddr")
	n.logger.Info("device joined",
		"ieee", evt.IEEEAddr,
		"short", fmt.Sprintf("0x%04X", evt.ShortAddr),
		"parent", fmt.Sprintf("0x%04X", evt.ParentAddr))

	n.handlerMu.RLock()
	h := n.onJoined
	n.handlerMu.RUnlock()
	if h != nil {
		h(evt)
	}
}

func (n *ZNP) handleLeave(m *znp.Message) {
	evt := DeviceLeftEvent{
		ShortAddr: u16(m.Params, "srcaddr"),
		Rejoin:    u8(m.Params, "rejoin") != 0,
	}
	evt.IEEEAddr, _ = m.Params.String("extaddr")
	n.logger.Info("device left", "ieee", evt.IEEEAddr, "short", fmt.Sprintf("0x%04X", evt.ShortAddr), "rejoin", evt.Rejoin)

	n.handlerMu.RLock()
	h := n.onLeft
	n.handlerMu.RUnlock()
	if h != nil {
		h(evt)
	}
}

func (n *ZNP) handleStateChange(m *znp.Message) {
	state := u8(m.Params, "state")
	n.logger.Debug("device state changed", "state", state)

	n.handlerMu.RLock()
	h := n.onState
	n.handlerMu.RUnlock()
	if h != nil {
		h(state)
	}
}

// Close detaches from the driver and closes it.
func (n *ZNP) Close() error {
	var err error
	n.closeOnce.Do(func() {
		for _, unsub := range n.unsubscribe {
			unsub()
		}
		n.zclPending.RejectAll(znp.ErrClosed)
		err = n.drv.Close()
	})
	return err
}
