//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"znp-host/internal/coordinator"
	"znp-host/internal/store"
	"znp-host/internal/unpi"
	"znp-host/internal/znp"
)

const (
	defaultRequestTimeout = 15 * time.Second
	publishTimeout        = 5 * time.Second
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// Requester sends MT commands. *znp.Driver implements it.
type Requester interface {
	Request(ctx context.Context, sub unpi.Subsystem, name string, params znp.Params, opts ...znp.RequestOption) (*znp.Message, error)
}

// DeviceLookup resolves stored devices by IEEE address.
type DeviceLookup interface {
	GetDevice(ieee string) (*store.Device, error)
}

// Bridge publishes indications and coordinator events to MQTT and runs MT
// requests received on the request topics.
type Bridge struct {
	client  pahomqtt.Client
	events  *coordinator.EventBus
	req     Requester
	devices DeviceLookup
	info    func(ctx context.Context) map[string]interface{}
	prefix  string
	logger  *slog.Logger
	unsub   func()
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Per-device attribute state, IEEE -> cluster -> attribute -> value.
	mu     sync.Mutex
	states map[string]map[string]map[string]any
}

func newBridge(events *coordinator.EventBus, req Requester, devices DeviceLookup, cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "znp"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		events:  events,
		req:     req,
		devices: devices,
		prefix:  prefix,
		logger:  logger.With("component", "mqtt"),
		ctx:     ctx,
		cancel:  cancel,
		states:  make(map[string]map[string]map[string]any),
	}
}

// NewBridge creates and connects an MQTT bridge for the coordinator.
func NewBridge(coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) (*Bridge, error) {
	var req Requester
	if drv := coord.Driver(); drv != nil {
		req = drv
	}
	b := newBridge(coord.Events(), req, coord.Devices(), cfg, logger)
	b.info = coord.NetworkInfo

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "znp-host"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.prefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// onConnect runs on every (re)connect: subscriptions do not survive a
// clean session.
func (b *Bridge) onConnect() {
	b.publish(b.prefix+"/bridge/state", []byte("online"), true)
	b.subscribeRequests()
	if b.info != nil {
		ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
		defer cancel()
		b.publish(b.prefix+"/bridge/info", mustJSON(b.info(ctx)), true)
	}
}

// Start subscribes to coordinator events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.events.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.wg.Wait()
	b.publish(b.prefix+"/bridge/state", []byte("offline"), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	switch event.Type {
	case coordinator.EventIndication:
		if m, ok := event.Data.(*znp.Message); ok {
			b.publish(indicationTopic(b.prefix, m), mustJSON(m.Params), false)
		}
		return
	case coordinator.EventAttributeReport:
		if r, ok := event.Data.(coordinator.ReportEvent); ok {
			b.handleAttributeReport(r)
		}
	case coordinator.EventDeviceLeft:
		if d, ok := event.Data.(coordinator.DeviceEvent); ok && !d.Rejoin {
			b.clearDevice(d.IEEEAddress)
		}
	}
	b.publish(b.prefix+"/event/"+event.Type, mustJSON(event.Data), false)
}

func indicationTopic(prefix string, m *znp.Message) string {
	return prefix + "/indication/" + m.Subsystem.String() + "/" + m.Name
}

func (b *Bridge) handleAttributeReport(r coordinator.ReportEvent) {
	if r.IEEEAddress == "" {
		return
	}
	b.mu.Lock()
	state, ok := b.states[r.IEEEAddress]
	if !ok {
		state = make(map[string]map[string]any)
		b.states[r.IEEEAddress] = state
	}
	cluster, ok := state[r.ClusterName]
	if !ok {
		cluster = make(map[string]any)
		state[r.ClusterName] = cluster
	}
	cluster[r.AttrName] = r.Value

	out := make(map[string]any, len(state)+2)
	for name, attrs := range state {
		out[name] = attrs
	}
	if b.devices != nil {
		if dev, err := b.devices.GetDevice(r.IEEEAddress); err == nil {
			out["linkquality"] = dev.LQI
			out["last_seen"] = dev.LastSeen.Format(time.RFC3339)
		}
	}
	payload := mustJSON(out)
	b.mu.Unlock()

	b.publish(b.prefix+"/device/"+r.IEEEAddress, payload, true)
}

// clearDevice drops the state of a device that left and removes its
// retained message.
func (b *Bridge) clearDevice(ieee string) {
	if ieee == "" {
		return
	}
	b.mu.Lock()
	delete(b.states, ieee)
	b.mu.Unlock()
	b.publish(b.prefix+"/device/"+ieee, nil, true)
}

func (b *Bridge) subscribeRequests() {
	topic := b.prefix + "/request/+/+"
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleRequest(msg.Topic(), msg.Payload())
		}()
	})
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			b.logger.Warn("MQTT subscribe timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT subscribe error", "topic", topic, "err", err)
		}
	}()
}

// request is the payload of a request topic. A payload without a "params"
// key is taken as the params object itself.
type request struct {
	ID        any        `json:"id,omitempty"`
	Params    znp.Params `json:"params"`
	TimeoutMS int        `json:"timeout_ms,omitempty"`
}

type response struct {
	ID      any        `json:"id,omitempty"`
	Status  string     `json:"status"`
	Payload znp.Params `json:"payload,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func decodeRequest(payload []byte) (request, error) {
	var req request
	if len(strings.TrimSpace(string(payload))) == 0 {
		return req, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return req, fmt.Errorf("request payload: %w", err)
	}
	if _, ok := probe["params"]; ok {
		if err := json.Unmarshal(payload, &req); err != nil {
			return req, fmt.Errorf("request payload: %w", err)
		}
		return req, nil
	}
	if err := json.Unmarshal(payload, &req.Params); err != nil {
		return req, fmt.Errorf("request payload: %w", err)
	}
	return req, nil
}

// parseRequestTopic splits "<prefix>/request/<SUBSYS>/<cmd>".
func parseRequestTopic(prefix, topic string) (unpi.Subsystem, string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/request/")
	if !ok {
		return 0, "", false
	}
	subName, cmd, ok := strings.Cut(rest, "/")
	if !ok || cmd == "" || strings.Contains(cmd, "/") {
		return 0, "", false
	}
	sub, ok := unpi.ParseSubsystem(subName)
	return sub, cmd, ok
}

var errNoDriver = errors.New("no driver attached")

func (b *Bridge) handleRequest(topic string, payload []byte) {
	sub, cmd, ok := parseRequestTopic(b.prefix, topic)
	if !ok {
		b.logger.Warn("bad request topic", "topic", topic)
		return
	}
	respTopic := b.prefix + "/response/" + sub.String() + "/" + cmd

	req, err := decodeRequest(payload)
	if err == nil && b.req == nil {
		err = errNoDriver
	}
	var msg *znp.Message
	if err == nil {
		timeout := defaultRequestTimeout
		if req.TimeoutMS > 0 {
			timeout = time.Duration(req.TimeoutMS) * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(b.ctx, timeout)
		msg, err = b.req.Request(ctx, sub, cmd, req.Params)
		cancel()
	}

	rsp := response{ID: req.ID, Status: "ok"}
	if msg != nil {
		rsp.Payload = msg.Params
	}
	if err != nil {
		rsp.Status = "error"
		rsp.Error = err.Error()
		b.logger.Warn("mqtt request failed", "cmd", sub.String()+":"+cmd, "err", err)
	}
	b.publish(respTopic, mustJSON(rsp), false)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
