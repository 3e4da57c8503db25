//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"znp-host/internal/coordinator"
	"znp-host/internal/store"
	"znp-host/internal/unpi"
	"znp-host/internal/znp"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeClient implements the parts of pahomqtt.Client the bridge uses.
type fakeClient struct {
	pahomqtt.Client

	mu       sync.Mutex
	pub      chan published
	handlers map[string]pahomqtt.MessageHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{pub: make(chan published, 64), handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	b, _ := payload.([]byte)
	f.pub <- published{topic: topic, payload: b, retained: retained}
	return doneToken{}
}

func (f *fakeClient) Subscribe(topic string, qos byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	f.handlers[topic] = cb
	f.mu.Unlock()
	return doneToken{}
}

func (f *fakeClient) Disconnect(uint) {}

// deliver hands an incoming message to the subscription on filter.
func (f *fakeClient) deliver(t *testing.T, filter, topic string, payload []byte) {
	t.Helper()
	f.mu.Lock()
	cb := f.handlers[filter]
	f.mu.Unlock()
	if cb == nil {
		t.Fatalf("no subscription on %s", filter)
	}
	cb(f, fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type call struct {
	sub    unpi.Subsystem
	name   string
	params znp.Params
}

type fakeRequester struct {
	mu    sync.Mutex
	calls []call
	rsp   *znp.Message
	err   error
}

func (f *fakeRequester) Request(ctx context.Context, sub unpi.Subsystem, name string, params znp.Params, opts ...znp.RequestOption) (*znp.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{sub, name, params})
	return f.rsp, f.err
}

type fakeDevices map[string]*store.Device

func (f fakeDevices) GetDevice(ieee string) (*store.Device, error) {
	if d, ok := f[ieee]; ok {
		return d, nil
	}
	return nil, store.ErrNotFound
}

func newTestBridge(t *testing.T, req Requester, devices DeviceLookup) (*Bridge, *fakeClient, *coordinator.EventBus) {
	t.Helper()
	events := coordinator.NewEventBus(newTestLogger())
	b := newBridge(events, req, devices, Config{TopicPrefix: "znp/"}, newTestLogger())
	client := newFakeClient()
	b.client = client
	b.Start()
	t.Cleanup(b.Stop)
	return b, client, events
}

// next returns the next message published on topic, skipping others.
func next(t *testing.T, c *fakeClient, topic string) published {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-c.pub:
			if p.topic == topic {
				return p
			}
		case <-deadline:
			t.Fatalf("nothing published on %s", topic)
		}
	}
}

func decode(t *testing.T, p published) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(p.payload, &out); err != nil {
		t.Fatalf("%s: %v (%s)", p.topic, err, p.payload)
	}
	return out
}

func TestIndicationPublished(t *testing.T) {
	_, client, events := newTestBridge(t, nil, nil)
	events.Emit(coordinator.Event{Type: coordinator.EventIndication, Data: &znp.Message{
		Type:      unpi.AREQ,
		Subsystem: unpi.ZDO,
		Name:      "stateChangeInd",
		Params:    znp.Params{"state": uint8(9)},
	}})

	p := next(t, client, "znp/indication/ZDO/stateChangeInd")
	if p.retained {
		t.Error("indication retained")
	}
	if got := decode(t, p)["state"]; got != float64(9) {
		t.Errorf("state = %v", got)
	}
}

func TestDeviceEventPublished(t *testing.T) {
	_, client, events := newTestBridge(t, nil, nil)
	events.Emit(coordinator.Event{Type: coordinator.EventDeviceJoined, Data: coordinator.DeviceEvent{
		IEEEAddress:  "0x00158d0001020304",
		ShortAddress: 0x1234,
	}})

	got := decode(t, next(t, client, "znp/event/device_joined"))
	if got["ieee_address"] != "0x00158d0001020304" || got["short_address"] != float64(0x1234) {
		t.Errorf("event = %v", got)
	}
}

func TestAttributeStateAccumulates(t *testing.T) {
	const ieee = "0x00158d0001020304"
	devices := fakeDevices{ieee: {IEEEAddress: ieee, LQI: 91, LastSeen: time.Now()}}
	_, client, events := newTestBridge(t, nil, devices)

	report := func(cluster, attr string, v any) {
		events.Emit(coordinator.Event{Type: coordinator.EventAttributeReport, Data: coordinator.ReportEvent{
			IEEEAddress: ieee, ClusterName: cluster, AttrName: attr, Value: v,
		}})
	}
	report("Temperature Measurement", "MeasuredValue", int16(2150))
	next(t, client, "znp/device/"+ieee)
	report("On/Off", "OnOff", true)

	p := next(t, client, "znp/device/"+ieee)
	if !p.retained {
		t.Error("device state not retained")
	}
	got := decode(t, p)
	temp, _ := got["Temperature Measurement"].(map[string]any)
	onoff, _ := got["On/Off"].(map[string]any)
	if temp["MeasuredValue"] != float64(2150) || onoff["OnOff"] != true || got["linkquality"] != float64(91) {
		t.Errorf("state = %v", got)
	}

	// Reports without an address are not tracked.
	ieeeless := coordinator.ReportEvent{ShortAddress: 0x7777, ClusterName: "On/Off", AttrName: "OnOff", Value: true}
	events.Emit(coordinator.Event{Type: coordinator.EventAttributeReport, Data: ieeeless})
	next(t, client, "znp/event/attribute_report")
}

func TestLeaveClearsState(t *testing.T) {
	const ieee = "0x00158d0001020304"
	b, client, events := newTestBridge(t, nil, nil)
	events.Emit(coordinator.Event{Type: coordinator.EventAttributeReport, Data: coordinator.ReportEvent{
		IEEEAddress: ieee, ClusterName: "On/Off", AttrName: "OnOff", Value: true,
	}})
	next(t, client, "znp/device/"+ieee)

	events.Emit(coordinator.Event{Type: coordinator.EventDeviceLeft, Data: coordinator.DeviceEvent{IEEEAddress: ieee}})
	p := next(t, client, "znp/device/"+ieee)
	if !p.retained || len(p.payload) != 0 {
		t.Errorf("clear = %+v", p)
	}
	b.mu.Lock()
	_, kept := b.states[ieee]
	b.mu.Unlock()
	if kept {
		t.Error("state kept after leave")
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req := &fakeRequester{rsp: &znp.Message{
		Type: unpi.SRSP, Subsystem: unpi.SYS, Name: "ping",
		Params: znp.Params{"capabilities": uint16(0x0659)},
	}}
	b, client, _ := newTestBridge(t, req, nil)
	b.onConnect()
	if p := next(t, client, "znp/bridge/state"); string(p.payload) != "online" || !p.retained {
		t.Errorf("bridge state = %+v", p)
	}

	client.deliver(t, "znp/request/+/+", "znp/request/sys/ping", nil)

	got := decode(t, next(t, client, "znp/response/SYS/ping"))
	payload, _ := got["payload"].(map[string]any)
	if got["status"] != "ok" || payload["capabilities"] != float64(0x0659) {
		t.Errorf("response = %v", got)
	}
	req.mu.Lock()
	defer req.mu.Unlock()
	if len(req.calls) != 1 || req.calls[0].sub != unpi.SYS || req.calls[0].name != "ping" {
		t.Errorf("calls = %+v", req.calls)
	}
}

func TestRequestError(t *testing.T) {
	req := &fakeRequester{err: &znp.StatusError{Command: "ZDO:mgmtPermitJoinReq", Status: 0x01}}
	b, client, _ := newTestBridge(t, req, nil)
	b.onConnect()

	client.deliver(t, "znp/request/+/+", "znp/request/ZDO/mgmtPermitJoinReq",
		[]byte(`{"id":"abc","params":{"addrmode":15,"dstaddr":65532,"duration":60,"tcsignificance":0}}`))

	got := decode(t, next(t, client, "znp/response/ZDO/mgmtPermitJoinReq"))
	if got["status"] != "error" || got["id"] != "abc" || got["error"] == "" {
		t.Errorf("response = %v", got)
	}
	req.mu.Lock()
	defer req.mu.Unlock()
	if len(req.calls) != 1 || req.calls[0].params["duration"] != float64(60) {
		t.Errorf("calls = %+v", req.calls)
	}
}

func TestRequestWithoutDriver(t *testing.T) {
	b, client, _ := newTestBridge(t, nil, nil)
	b.handleRequest("znp/request/SYS/version", nil)
	got := decode(t, next(t, client, "znp/response/SYS/version"))
	if got["status"] != "error" || got["error"] != errNoDriver.Error() {
		t.Errorf("response = %v", got)
	}
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		id      any
		params  znp.Params
		timeout int
		wantErr bool
	}{
		{"empty", "", nil, nil, 0, false},
		{"bare params", `{"duration":60}`, nil, znp.Params{"duration": float64(60)}, 0, false},
		{"envelope", `{"id":7,"params":{"state":1},"timeout_ms":500}`, float64(7), znp.Params{"state": float64(1)}, 500, false},
		{"not json", `on`, nil, nil, 0, true},
		{"array", `[1,2]`, nil, nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := decodeRequest([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr {
				return
			}
			if req.ID != tt.id || req.TimeoutMS != tt.timeout || len(req.Params) != len(tt.params) {
				t.Errorf("req = %+v", req)
			}
			for k, v := range tt.params {
				if req.Params[k] != v {
					t.Errorf("param %s = %v, want %v", k, req.Params[k], v)
				}
			}
		})
	}
}

func TestParseRequestTopic(t *testing.T) {
	tests := []struct {
		topic string
		sub   unpi.Subsystem
		cmd   string
		ok    bool
	}{
		{"znp/request/SYS/ping", unpi.SYS, "ping", true},
		{"znp/request/app_cnf/bdbStartCommissioning", unpi.APPCNF, "bdbStartCommissioning", true},
		{"znp/request/NOPE/ping", 0, "", false},
		{"znp/request/SYS", 0, "", false},
		{"znp/request/SYS/ping/extra", 0, "", false},
		{"other/request/SYS/ping", 0, "", false},
	}
	for _, tt := range tests {
		sub, cmd, ok := parseRequestTopic("znp", tt.topic)
		if ok != tt.ok || (ok && (sub != tt.sub || cmd != tt.cmd)) {
			t.Errorf("%s = %v %q %v", tt.topic, sub, cmd, ok)
		}
	}
}

func TestMustJSON(t *testing.T) {
	if got := string(mustJSON(map[string]any{"a": 1})); got != `{"a":1}` {
		t.Errorf("got %s", got)
	}
	if got := string(mustJSON(func() {})); got != "{}" {
		t.Errorf("unmarshalable value = %s", got)
	}
}
