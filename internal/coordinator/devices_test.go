package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"znp-host/internal/ncp"
	"znp-host/internal/store"
)

const testIEEE = "0x00158d0001020304"

func TestHandleJoinCreatesDevice(t *testing.T) {
	c, f := newTestCoordinator(t, Config{})
	events := collect(c.Events(), EventDeviceJoined)

	f.onJoined(ncp.DeviceJoinedEvent{ShortAddr: 0x1234, IEEEAddr: "0x00158D0001020304", ParentAddr: 0x0000})

	dev, err := c.Store().GetDevice(testIEEE)
	if err != nil {
		t.Fatal(err)
	}
	if dev.ShortAddress != 0x1234 || dev.JoinedAt.IsZero() {
		t.Errorf("device = %+v", dev)
	}
	e := waitEvent(t, events).Data.(DeviceEvent)
	if e.IEEEAddress != testIEEE || e.ShortAddress != 0x1234 {
		t.Errorf("event = %+v", e)
	}
	if calls := f.Calls(); len(calls) != 0 {
		t.Errorf("join issued requests: %v", calls)
	}
}

func TestRejoinKeepsJoinTime(t *testing.T) {
	c, f := newTestCoordinator(t, Config{})
	f.onJoined(ncp.DeviceJoinedEvent{ShortAddr: 0x1234, IEEEAddr: testIEEE})
	first, _ := c.Store().GetDevice(testIEEE)

	f.onJoined(ncp.DeviceJoinedEvent{ShortAddr: 0x4321, IEEEAddr: testIEEE, ParentAddr: 0x1111})
	dev, err := c.Store().DeviceByNwk(0x4321)
	if err != nil {
		t.Fatal(err)
	}
	if !dev.JoinedAt.Equal(first.JoinedAt) || dev.ParentAddr != 0x1111 {
		t.Errorf("device = %+v", dev)
	}
	if _, err := c.Store().DeviceByNwk(0x1234); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old address still indexed: %v", err)
	}
}

func TestAnnounceInterviewsDevice(t *testing.T) {
	c, f := newTestCoordinator(t, Config{})
	f.endpoints[0x1234] = []uint8{1, 2}
	f.descs[0x1234] = map[uint8]*ncp.SimpleDescriptor{
		1: {Endpoint: 1, ProfileID: 0x0104, DeviceID: 0x0302, InClusters: []uint16{0x0000, 0x0402}},
		2: {Endpoint: 2, ProfileID: 0x0104, DeviceID: 0x0302, InClusters: []uint16{0x0405}},
	}
	interviewed := collect(c.Events(), EventDeviceInterviewed)

	f.onAnnounce(ncp.DeviceAnnounceEvent{ShortAddr: 0x1234, IEEEAddr: testIEEE, Capability: 0x80})

	e := waitEvent(t, interviewed).Data.(DeviceEvent)
	if e.Endpoints != 2 {
		t.Errorf("event = %+v", e)
	}
	dev, err := c.Store().GetDevice(testIEEE)
	if err != nil {
		t.Fatal(err)
	}
	if dev.Capabilities != 0x80 || len(dev.Endpoints) != 2 || dev.Endpoints[1].InClusters[0] != 0x0405 {
		t.Errorf("device = %+v", dev)
	}

	// A known device is not interviewed again.
	f.onAnnounce(ncp.DeviceAnnounceEvent{ShortAddr: 0x1234, IEEEAddr: testIEEE, Capability: 0x80})
	c.Devices().CancelAllInterviews()
	n := 0
	for _, call := range f.Calls() {
		if call == "ActiveEndpoints" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("ActiveEndpoints called %d times", n)
	}
}

func TestInterviewRetries(t *testing.T) {
	c, f := newTestCoordinator(t, Config{})
	c.Devices().retryDelay = time.Millisecond
	f.epErr = errors.New("no response")
	f.onJoined(ncp.DeviceJoinedEvent{ShortAddr: 0x1234, IEEEAddr: testIEEE})

	err := c.Devices().Interview(context.Background(), testIEEE)
	if err == nil || !errors.Is(err, f.epErr) {
		t.Fatalf("err = %v", err)
	}
	n := 0
	for _, call := range f.Calls() {
		if call == "ActiveEndpoints" {
			n++
		}
	}
	if n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestHandleLeave(t *testing.T) {
	tests := []struct {
		name   string
		rejoin bool
		kept   bool
	}{
		{"leave", false, false},
		{"leave to rejoin", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f := newTestCoordinator(t, Config{})
			left := collect(c.Events(), EventDeviceLeft)
			f.onJoined(ncp.DeviceJoinedEvent{ShortAddr: 0x1234, IEEEAddr: testIEEE})

			f.onLeft(ncp.DeviceLeftEvent{ShortAddr: 0x1234, IEEEAddr: testIEEE, Rejoin: tt.rejoin})

			_, err := c.Store().GetDevice(testIEEE)
			if kept := err == nil; kept != tt.kept {
				t.Errorf("kept = %v (err %v)", kept, err)
			}
			if e := waitEvent(t, left).Data.(DeviceEvent); e.Rejoin != tt.rejoin {
				t.Errorf("event = %+v", e)
			}
		})
	}
}

func TestLeaveOfUnknownDevice(t *testing.T) {
	c, f := newTestCoordinator(t, Config{})
	left := collect(c.Events(), EventDeviceLeft)
	f.onLeft(ncp.DeviceLeftEvent{ShortAddr: 0x9999, IEEEAddr: "0x0000000000000001"})
	waitEvent(t, left)
}

func TestAttributeReportUpdatesDevice(t *testing.T) {
	c, f := newTestCoordinator(t, Config{})
	reports := collect(c.Events(), EventAttributeReport)
	f.onJoined(ncp.DeviceJoinedEvent{ShortAddr: 0x1234, IEEEAddr: testIEEE})

	f.onReport(ncp.AttributeReportEvent{SrcAddr: 0x1234, SrcEP: 1, ClusterID: 0x0402, AttrID: 0x0000, Value: int16(2150), LQI: 87})

	e := waitEvent(t, reports).Data.(ReportEvent)
	if e.IEEEAddress != testIEEE || e.ClusterName != "Temperature Measurement" || e.AttrName != "MeasuredValue" || e.Value != int16(2150) {
		t.Errorf("event = %+v", e)
	}
	dev, _ := c.Store().GetDevice(testIEEE)
	if dev.LQI != 87 {
		t.Errorf("lqi = %d", dev.LQI)
	}

	// Reports from unknown devices still come through, without an address.
	f.onReport(ncp.AttributeReportEvent{SrcAddr: 0x7777, SrcEP: 1, ClusterID: 0xFC01, AttrID: 0x0010, Value: uint8(1)})
	e = waitEvent(t, reports).Data.(ReportEvent)
	if e.IEEEAddress != "" || e.ClusterName != "0xFC01" || e.AttrName != "0x0010" {
		t.Errorf("event = %+v", e)
	}
}

func TestRemoveDevice(t *testing.T) {
	c, f := newTestCoordinator(t, Config{})
	f.onJoined(ncp.DeviceJoinedEvent{ShortAddr: 0x1234, IEEEAddr: testIEEE})

	if err := c.Devices().RemoveDevice(context.Background(), "00:15:8d:00:01:02:03:04"); err != nil {
		t.Fatal(err)
	}
	if len(f.leaves) != 1 || f.leaves[0] != 0x1234 {
		t.Errorf("leaves = %v", f.leaves)
	}
	if _, err := c.Store().GetDevice(testIEEE); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("device still stored: %v", err)
	}
	if err := c.Devices().RemoveDevice(context.Background(), testIEEE); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second remove: %v", err)
	}
}
