// Package transport opens the byte stream to a ZNP co-processor: a local
// serial port, a TCP serial bridge, a WebSocket bridge, or a bridge found
// over mDNS.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.bug.st/serial"
	"nhooyr.io/websocket"
)

// ErrNoService is returned when an mDNS browse finds nothing in time.
var ErrNoService = errors.New("transport: no service found")

const (
	DefaultBaud        = 115200
	DefaultDialTimeout = 10 * time.Second
)

// Resolver browses DNS-SD services. The zeroconf resolver is used when
// Options.Resolver is nil.
type Resolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Options tunes Open. Query parameters in the URL win over these.
type Options struct {
	Baud int
	// RTSCTS keeps RTS asserted for adapters wired for hardware flow
	// control. Otherwise RTS and DTR are released after the optional reset.
	RTSCTS bool
	// ResetPulse toggles RTS with DTR low after opening, which restarts
	// CC2652 sticks with the usual auto-bootloader wiring.
	ResetPulse  bool
	DialTimeout time.Duration
	Resolver    Resolver
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Baud <= 0 {
		o.Baud = DefaultBaud
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Open connects to the co-processor named by rawURL:
//
//	/dev/ttyUSB0, COM3                 serial port
//	serial:///dev/ttyACM0?baud=115200&rtscts=true&reset=true
//	tcp://192.168.1.20:6638
//	ws://bridge.local/znp, wss://...
//	mdns://_zigstar_gw._tcp?instance=kitchen
func Open(ctx context.Context, rawURL string, opts Options) (io.ReadWriteCloser, error) {
	opts = opts.withDefaults()
	if !strings.Contains(rawURL, "://") {
		return openSerial(rawURL, opts)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse %q: %w", rawURL, err)
	}
	if err := applyQuery(u.Query(), &opts); err != nil {
		return nil, err
	}
	logger := opts.Logger.With("component", "transport")

	switch u.Scheme {
	case "serial":
		return openSerial(u.Host+u.Path, opts)
	case "tcp":
		logger.Info("dialing tcp", "addr", u.Host)
		return dialTCP(ctx, u.Host, opts)
	case "ws", "wss":
		logger.Info("dialing websocket", "url", u.String())
		return dialWS(ctx, u, opts)
	case "mdns":
		return dialMDNS(ctx, u, opts, logger)
	default:
		return nil, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
}

func applyQuery(q url.Values, opts *Options) error {
	if v := q.Get("baud"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil || baud <= 0 {
			return fmt.Errorf("transport: bad baud %q", v)
		}
		opts.Baud = baud
	}
	for key, dst := range map[string]*bool{"rtscts": &opts.RTSCTS, "reset": &opts.ResetPulse} {
		if v := q.Get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("transport: bad %s %q", key, v)
			}
			*dst = b
		}
	}
	return nil
}

func serialMode(opts Options) *serial.Mode {
	return &serial.Mode{
		BaudRate: opts.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

func openSerial(name string, opts Options) (io.ReadWriteCloser, error) {
	if name == "" {
		return nil, errors.New("transport: empty serial port name")
	}
	port, err := serial.Open(name, serialMode(opts))
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", name, err)
	}
	logger := opts.Logger.With("component", "transport")

	if opts.ResetPulse {
		_ = port.SetDTR(false)
		_ = port.SetRTS(true)
		time.Sleep(150 * time.Millisecond)
		_ = port.SetRTS(false)
		// Boot time of the stack before it accepts SYS requests.
		time.Sleep(time.Second)
	}
	_ = port.SetDTR(false)
	_ = port.SetRTS(opts.RTSCTS)

	logger.Info("serial port open", "port", name, "baud", opts.Baud, "rtscts", opts.RTSCTS)
	return port, nil
}

func dialTCP(ctx context.Context, addr string, opts Options) (io.ReadWriteCloser, error) {
	d := net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

func dialWS(ctx context.Context, u *url.URL, opts Options) (io.ReadWriteCloser, error) {
	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	c, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", u.Redacted(), err)
	}
	// The connection outlives the dial context; Close ends it.
	return websocket.NetConn(context.Background(), c, websocket.MessageBinary), nil
}

// dialMDNS browses for the service named by the URL host and dials the
// first instance found, or the one named by the instance parameter.
func dialMDNS(ctx context.Context, u *url.URL, opts Options, logger *slog.Logger) (io.ReadWriteCloser, error) {
	service := u.Host
	if service == "" {
		return nil, errors.New("transport: mdns url needs a service, e.g. mdns://_zigstar_gw._tcp")
	}
	want := u.Query().Get("instance")

	resolver := opts.Resolver
	if resolver == nil {
		r, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("transport: mdns resolver: %w", err)
		}
		resolver = r
	}

	browseCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(browseCtx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("transport: browse %s: %w", service, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrNoService, service)
			}
			if entry == nil || (want != "" && entry.Instance != want) {
				continue
			}
			addr, ok := entryAddr(entry)
			if !ok {
				logger.Debug("mdns entry without address", "instance", entry.Instance)
				continue
			}
			logger.Info("mdns service found", "instance", entry.Instance, "addr", addr)
			return dialTCP(ctx, addr, opts)
		case <-browseCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", ErrNoService, service)
		}
	}
}

func entryAddr(e *zeroconf.ServiceEntry) (string, bool) {
	port := strconv.Itoa(e.Port)
	if len(e.AddrIPv4) > 0 {
		return net.JoinHostPort(e.AddrIPv4[0].String(), port), true
	}
	if len(e.AddrIPv6) > 0 {
		return net.JoinHostPort(e.AddrIPv6[0].String(), port), true
	}
	if e.HostName != "" {
		return net.JoinHostPort(strings.TrimSuffix(e.HostName, "."), port), true
	}
	return "", false
}
