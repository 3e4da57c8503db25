package web

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"znp-host/internal/coordinator"
	"znp-host/internal/ncp"
	"znp-host/internal/store"
	"znp-host/internal/zcl"
	"znp-host/internal/zcl/clusters"
	"znp-host/internal/znp"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubNCP answers the calls the API makes and records the rest.
type stubNCP struct {
	mu         sync.Mutex
	network    ncp.NetworkInfo
	networkErr error
	permitErr  error
	permits    []uint8
	readRsp    []zcl.ReadStatusRecord
	readErr    error
	sent       []ncp.ClusterCommandRequest
	leaves     []uint16
}

var _ ncp.NCP = (*stubNCP)(nil)

func (s *stubNCP) Reset(context.Context, bool) error                          { return nil }
func (s *stubNCP) Init(context.Context) (*ncp.Info, error)                    { return &ncp.Info{}, nil }
func (s *stubNCP) StartNetwork(context.Context) error                         { return nil }
func (s *stubNCP) RegisterEndpoint(context.Context, ncp.EndpointConfig) error { return nil }

func (s *stubNCP) PermitJoin(_ context.Context, d uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permits = append(s.permits, d)
	return s.permitErr
}

func (s *stubNCP) NetworkInfo(context.Context) (*ncp.NetworkInfo, error) {
	if s.networkErr != nil {
		return nil, s.networkErr
	}
	nwk := s.network
	return &nwk, nil
}

func (s *stubNCP) ActiveEndpoints(context.Context, uint16) ([]uint8, error) { return nil, nil }
func (s *stubNCP) SimpleDescriptor(context.Context, uint16, uint8) (*ncp.SimpleDescriptor, error) {
	return &ncp.SimpleDescriptor{}, nil
}
func (s *stubNCP) Bind(context.Context, ncp.BindRequest) error   { return nil }
func (s *stubNCP) Unbind(context.Context, ncp.BindRequest) error { return nil }
func (s *stubNCP) ManagementLQI(context.Context, uint16, uint8) (*ncp.NeighborTable, error) {
	return &ncp.NeighborTable{}, nil
}
func (s *stubNCP) ManagementRouting(context.Context, uint16, uint8) (*ncp.RoutingTable, error) {
	return &ncp.RoutingTable{}, nil
}

func (s *stubNCP) Leave(_ context.Context, nwk uint16, _ string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves = append(s.leaves, nwk)
	return nil
}

func (s *stubNCP) ReadAttributes(context.Context, ncp.ReadAttributesRequest) ([]zcl.ReadStatusRecord, error) {
	return s.readRsp, s.readErr
}
func (s *stubNCP) WriteAttributes(context.Context, ncp.WriteAttributesRequest) ([]zcl.WriteStatusRecord, error) {
	return nil, nil
}
func (s *stubNCP) ConfigureReporting(context.Context, ncp.ConfigureReportingRequest) ([]zcl.ConfigReportStatus, error) {
	return nil, nil
}

func (s *stubNCP) SendCommand(_ context.Context, req ncp.ClusterCommandRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return nil
}

func (s *stubNCP) SendFrame(context.Context, ncp.Address, uint8, uint16, *zcl.Frame) error {
	return nil
}

func (s *stubNCP) OnDeviceJoined(func(ncp.DeviceJoinedEvent))       {}
func (s *stubNCP) OnDeviceLeft(func(ncp.DeviceLeftEvent))           {}
func (s *stubNCP) OnDeviceAnnounce(func(ncp.DeviceAnnounceEvent))   {}
func (s *stubNCP) OnAttributeReport(func(ncp.AttributeReportEvent)) {}
func (s *stubNCP) OnClusterCommand(func(ncp.IncomingFrame))         {}
func (s *stubNCP) OnGlobalRequest(func(ncp.IncomingFrame))          {}
func (s *stubNCP) OnStateChange(func(uint8))                        {}
func (s *stubNCP) Driver() *znp.Driver                              { return nil }
func (s *stubNCP) Close() error                                     { return nil }

func newTestCoordinator(t *testing.T) (*coordinator.Coordinator, store.Store, *stubNCP) {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	reg := zcl.NewRegistry(newTestLogger())
	clusters.Register(reg)

	stub := &stubNCP{}
	coord := coordinator.New(stub, st, reg, coordinator.NewEventBus(newTestLogger()), coordinator.Config{}, newTestLogger())
	t.Cleanup(coord.Stop)
	return coord, st, stub
}

func ncpNetwork(channel uint8, pan uint16) ncp.NetworkInfo {
	return ncp.NetworkInfo{State: 9, Channel: channel, PanID: pan, ExtPanID: "0xdddddddddddddddd"}
}
