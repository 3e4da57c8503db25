package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"nhooyr.io/websocket"
)

func quietOptions() Options {
	return Options{
		DialTimeout: time.Second,
		Logger:      slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

// echoListener accepts one connection and echoes everything back.
func echoListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()
	return ln
}

func roundTrip(t *testing.T, rw io.ReadWriter) {
	t.Helper()
	frame := []byte{0xFE, 0x00, 0x21, 0x01, 0x20}
	if _, err := rw.Write(frame); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(frame))
	if _, err := io.ReadFull(rw, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != string(frame) {
		t.Errorf("echo = % X, want % X", got, frame)
	}
}

func TestOpenTCP(t *testing.T) {
	ln := echoListener(t)
	rw, err := Open(context.Background(), "tcp://"+ln.Addr().String(), quietOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()
	roundTrip(t, rw)
}

func TestOpenWebSocket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn := websocket.NetConn(r.Context(), c, websocket.MessageBinary)
		defer conn.Close()
		io.Copy(conn, conn)
	}))
	defer srv.Close()

	rw, err := Open(context.Background(), "ws://"+strings.TrimPrefix(srv.URL, "http://")+"/znp", quietOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()
	roundTrip(t, rw)
}

type fakeResolver struct {
	entries []*zeroconf.ServiceEntry
	service string
}

func (f *fakeResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	f.service = service
	go func() {
		for _, e := range f.entries {
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func entry(instance string, addr net.Addr) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, "_zigstar_gw._tcp", "local.")
	if tcp, ok := addr.(*net.TCPAddr); ok {
		e.AddrIPv4 = []net.IP{tcp.IP}
		e.Port = tcp.Port
	}
	return e
}

func TestOpenMDNS(t *testing.T) {
	ln := echoListener(t)
	res := &fakeResolver{entries: []*zeroconf.ServiceEntry{
		zeroconf.NewServiceEntry("bare", "_zigstar_gw._tcp", "local."),
		entry("garage", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}),
		entry("kitchen", ln.Addr()),
	}}
	opts := quietOptions()
	opts.Resolver = res

	rw, err := Open(context.Background(), "mdns://_zigstar_gw._tcp?instance=kitchen", opts)
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()
	if res.service != "_zigstar_gw._tcp" {
		t.Errorf("browsed %q", res.service)
	}
	roundTrip(t, rw)
}

func TestOpenMDNSNothingFound(t *testing.T) {
	opts := quietOptions()
	opts.DialTimeout = 50 * time.Millisecond
	opts.Resolver = &fakeResolver{}

	_, err := Open(context.Background(), "mdns://_slzb-06._tcp", opts)
	if !errors.Is(err, ErrNoService) {
		t.Fatalf("err = %v, want ErrNoService", err)
	}
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"scheme", "udp://127.0.0.1:1", "unsupported scheme"},
		{"baud", "serial:///dev/null?baud=fast", "bad baud"},
		{"rtscts", "serial:///dev/null?rtscts=maybe", "bad rtscts"},
		{"mdns service", "mdns://", "needs a service"},
		{"empty serial", "serial://", "empty serial port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.url, quietOptions())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestApplyQuery(t *testing.T) {
	opts := Options{Baud: DefaultBaud}
	q, _ := url.ParseQuery("baud=460800&rtscts=true&reset=1")
	if err := applyQuery(q, &opts); err != nil {
		t.Fatal(err)
	}
	if opts.Baud != 460800 || !opts.RTSCTS || !opts.ResetPulse {
		t.Errorf("opts = %+v", opts)
	}
	if m := serialMode(opts); m.BaudRate != 460800 || m.DataBits != 8 {
		t.Errorf("mode = %+v", m)
	}
}

func TestEntryAddr(t *testing.T) {
	e := zeroconf.NewServiceEntry("x", "_slzb-06._tcp", "local.")
	e.Port = 6638
	if _, ok := entryAddr(e); ok {
		t.Error("entry without address resolved")
	}
	e.HostName = "slzb-06.local."
	if addr, _ := entryAddr(e); addr != "slzb-06.local:6638" {
		t.Errorf("addr = %q", addr)
	}
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	if addr, _ := entryAddr(e); addr != "[fe80::1]:6638" {
		t.Errorf("addr = %q", addr)
	}
}
