package znp

import (
	"fmt"
	"log/slog"
	"time"

	"znp-host/internal/unpi"
)

// Direction tells a tap whether a frame was sent or received.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "tx"
	}
	return "rx"
}

// Tap observes every frame that crosses the transport.
type Tap func(Direction, unpi.Frame)

// Metrics receives driver instrumentation. Implementations must be safe for
// concurrent use.
type Metrics interface {
	FrameReceived(t unpi.Type, sub unpi.Subsystem)
	FrameSent(t unpi.Type, sub unpi.Subsystem)
	FrameError(kind string)
	RequestDone(command, outcome string, elapsed time.Duration)
	QueueDepth(n int)
	QueueFlushed(n int)
	PendingWaiters(n int)
}

type nopMetrics struct{}

func (nopMetrics) FrameReceived(unpi.Type, unpi.Subsystem)   {}
func (nopMetrics) FrameSent(unpi.Type, unpi.Subsystem)       {}
func (nopMetrics) FrameError(string)                         {}
func (nopMetrics) RequestDone(string, string, time.Duration) {}
func (nopMetrics) QueueDepth(int)                            {}
func (nopMetrics) QueueFlushed(int)                          {}
func (nopMetrics) PendingWaiters(int)                        {}

// Timeouts configures how long the driver waits for the device.
type Timeouts struct {
	// Request bounds the wait for an SRSP.
	Request time.Duration `yaml:"request"`
	// Slow replaces Request for commands flagged Slow.
	Slow time.Duration `yaml:"slow"`
	// Indication bounds RequestAndWait and WaitFor.
	Indication time.Duration `yaml:"indication"`
	// ResetWatchdog releases the channel if no resetInd follows a resetReq.
	ResetWatchdog time.Duration `yaml:"reset_watchdog"`
}

// DefaultTimeouts returns the stock timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Request:       6 * time.Second,
		Slow:          20 * time.Second,
		Indication:    10 * time.Second,
		ResetWatchdog: 30 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.Request <= 0 {
		t.Request = def.Request
	}
	if t.Slow <= 0 {
		t.Slow = def.Slow
	}
	if t.Indication <= 0 {
		t.Indication = def.Indication
	}
	if t.ResetWatchdog <= 0 {
		t.ResetWatchdog = def.ResetWatchdog
	}
	return t
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. The driver adds component=znp.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithRegistry replaces the built-in command definitions.
func WithRegistry(r *Registry) Option {
	return func(d *Driver) { d.registry = r }
}

// WithMetrics installs instrumentation.
func WithMetrics(m Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithTap installs a frame observer. It runs on the reader goroutine for
// inbound frames and on the caller's goroutine for outbound frames.
func WithTap(t Tap) Option {
	return func(d *Driver) { d.tap = t }
}

// WithTimeouts overrides the default timeouts. Zero fields keep defaults.
func WithTimeouts(t Timeouts) Option {
	return func(d *Driver) { d.timeouts = t }
}

type requestOptions struct {
	statuses []uint8
	timeout  time.Duration
}

// RequestOption tunes a single request.
type RequestOption func(*requestOptions)

// ExpectStatus lists SRSP status values treated as success. Default is 0.
func ExpectStatus(statuses ...uint8) RequestOption {
	return func(o *requestOptions) { o.statuses = statuses }
}

// Timeout overrides the response timeout of a single request.
func Timeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// hexBytes renders lazily as upper-case hex in log output.
type hexBytes []byte

func (h hexBytes) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("%X", []byte(h)))
}
