package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"znp-host/internal/ncp"
	"znp-host/internal/store"
	"znp-host/internal/zcl"
	"znp-host/internal/zcl/clusters"
	"znp-host/internal/znp"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type sentFrame struct {
	dst     ncp.Address
	srcEP   uint8
	cluster uint16
	frame   *zcl.Frame
}

// fakeNCP records calls and lets tests raise indications.
type fakeNCP struct {
	mu    sync.Mutex
	calls []string
	sent  chan sentFrame

	info       ncp.Info
	network    ncp.NetworkInfo
	networkErr error
	endpoints  map[uint16][]uint8
	descs      map[uint16]map[uint8]*ncp.SimpleDescriptor
	epErr      error
	readRsp    []zcl.ReadStatusRecord
	leaves     []uint16
	binds      []ncp.BindRequest
	registered []ncp.EndpointConfig
	permit     []uint8

	onJoined   func(ncp.DeviceJoinedEvent)
	onLeft     func(ncp.DeviceLeftEvent)
	onAnnounce func(ncp.DeviceAnnounceEvent)
	onReport   func(ncp.AttributeReportEvent)
	onCmd      func(ncp.IncomingFrame)
	onRequest  func(ncp.IncomingFrame)
	onState    func(uint8)
}

var _ ncp.NCP = (*fakeNCP)(nil)

func newFakeNCP() *fakeNCP {
	return &fakeNCP{
		sent:      make(chan sentFrame, 16),
		info:      ncp.Info{Product: 1, MajorRel: 2, MinorRel: 7, MaintRel: 1, Revision: 20210708, IEEEAddress: "0x00124b0001020304"},
		network:   ncp.NetworkInfo{State: ncp.StateCoordinator, PanID: 0x1A62, ExtPanID: "0xdddddddddddddddd", Channel: 11},
		endpoints: make(map[uint16][]uint8),
		descs:     make(map[uint16]map[uint8]*ncp.SimpleDescriptor),
	}
}

func (f *fakeNCP) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeNCP) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeNCP) Reset(ctx context.Context, hard bool) error {
	f.record("Reset")
	return nil
}

func (f *fakeNCP) Init(ctx context.Context) (*ncp.Info, error) {
	f.record("Init")
	info := f.info
	return &info, nil
}

func (f *fakeNCP) StartNetwork(ctx context.Context) error {
	f.record("StartNetwork")
	return nil
}

func (f *fakeNCP) RegisterEndpoint(ctx context.Context, ep ncp.EndpointConfig) error {
	f.record("RegisterEndpoint")
	f.mu.Lock()
	f.registered = append(f.registered, ep)
	f.mu.Unlock()
	return nil
}

func (f *fakeNCP) PermitJoin(ctx context.Context, duration uint8) error {
	f.record("PermitJoin")
	f.mu.Lock()
	f.permit = append(f.permit, duration)
	f.mu.Unlock()
	return nil
}

func (f *fakeNCP) NetworkInfo(ctx context.Context) (*ncp.NetworkInfo, error) {
	f.record("NetworkInfo")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.networkErr != nil {
		return nil, f.networkErr
	}
	n := f.network
	return &n, nil
}

func (f *fakeNCP) ActiveEndpoints(ctx context.Context, nwk uint16) ([]uint8, error) {
	f.record("ActiveEndpoints")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epErr != nil {
		return nil, f.epErr
	}
	return f.endpoints[nwk], nil
}

func (f *fakeNCP) SimpleDescriptor(ctx context.Context, nwk uint16, endpoint uint8) (*ncp.SimpleDescriptor, error) {
	f.record("SimpleDescriptor")
	f.mu.Lock()
	defer f.mu.Unlock()
	sd, ok := f.descs[nwk][endpoint]
	if !ok {
		return nil, errors.New("no descriptor")
	}
	return sd, nil
}

func (f *fakeNCP) Bind(ctx context.Context, req ncp.BindRequest) error {
	f.record("Bind")
	f.mu.Lock()
	f.binds = append(f.binds, req)
	f.mu.Unlock()
	return nil
}

func (f *fakeNCP) Unbind(ctx context.Context, req ncp.BindRequest) error {
	f.record("Unbind")
	return nil
}

func (f *fakeNCP) ManagementLQI(ctx context.Context, nwk uint16, start uint8) (*ncp.NeighborTable, error) {
	return &ncp.NeighborTable{}, nil
}

func (f *fakeNCP) ManagementRouting(ctx context.Context, nwk uint16, start uint8) (*ncp.RoutingTable, error) {
	return &ncp.RoutingTable{}, nil
}

func (f *fakeNCP) Leave(ctx context.Context, nwk uint16, ieee string, rejoin bool) error {
	f.record("Leave")
	f.mu.Lock()
	f.leaves = append(f.leaves, nwk)
	f.mu.Unlock()
	return nil
}

func (f *fakeNCP) ReadAttributes(ctx context.Context, req ncp.ReadAttributesRequest) ([]zcl.ReadStatusRecord, error) {
	f.record("ReadAttributes")
	return f.readRsp, nil
}

func (f *fakeNCP) WriteAttributes(ctx context.Context, req ncp.WriteAttributesRequest) ([]zcl.WriteStatusRecord, error) {
	f.record("WriteAttributes")
	return []zcl.WriteStatusRecord{{Status: zcl.StatusSuccess}}, nil
}

func (f *fakeNCP) ConfigureReporting(ctx context.Context, req ncp.ConfigureReportingRequest) ([]zcl.ConfigReportStatus, error) {
	f.record("ConfigureReporting")
	return []zcl.ConfigReportStatus{{Status: zcl.StatusSuccess}}, nil
}

func (f *fakeNCP) SendCommand(ctx context.Context, req ncp.ClusterCommandRequest) error {
	f.record("SendCommand")
	return nil
}

func (f *fakeNCP) SendFrame(ctx context.Context, dst ncp.Address, srcEP uint8, cluster uint16, fr *zcl.Frame) error {
	f.record("SendFrame")
	f.sent <- sentFrame{dst: dst, srcEP: srcEP, cluster: cluster, frame: fr}
	return nil
}

func (f *fakeNCP) OnDeviceJoined(h func(ncp.DeviceJoinedEvent))       { f.onJoined = h }
func (f *fakeNCP) OnDeviceLeft(h func(ncp.DeviceLeftEvent))           { f.onLeft = h }
func (f *fakeNCP) OnDeviceAnnounce(h func(ncp.DeviceAnnounceEvent))   { f.onAnnounce = h }
func (f *fakeNCP) OnAttributeReport(h func(ncp.AttributeReportEvent)) { f.onReport = h }
func (f *fakeNCP) OnClusterCommand(h func(ncp.IncomingFrame))         { f.onCmd = h }
func (f *fakeNCP) OnGlobalRequest(h func(ncp.IncomingFrame))          { f.onRequest = h }
func (f *fakeNCP) OnStateChange(h func(uint8))                        { f.onState = h }

func (f *fakeNCP) Driver() *znp.Driver { return nil }
func (f *fakeNCP) Close() error        { return nil }

func newTestRegistry() *zcl.Registry {
	r := zcl.NewRegistry(newTestLogger())
	clusters.Register(r)
	return r
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *fakeNCP) {
	t.Helper()
	f := newFakeNCP()
	c := New(f, newTestStore(t), newTestRegistry(), NewEventBus(newTestLogger()), cfg, newTestLogger())
	t.Cleanup(c.Stop)
	return c, f
}
