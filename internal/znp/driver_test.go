package znp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"

	"znp-host/internal/areq"
	"znp-host/internal/unpi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeDevice answers frames written by the driver. The handler runs on the
// device goroutine and returns frames to send back.
type fakeDevice struct {
	t    *testing.T
	conn net.Conn

	mu       sync.Mutex
	received []unpi.Frame
	handler  func(unpi.Frame) []unpi.Frame
	seen     chan unpi.Frame
}

func newFakeDevice(t *testing.T, conn net.Conn, h func(unpi.Frame) []unpi.Frame) *fakeDevice {
	dev := &fakeDevice{t: t, conn: conn, handler: h, seen: make(chan unpi.Frame, 64)}
	go dev.run()
	return dev
}

func (dev *fakeDevice) run() {
	p := unpi.NewParser(func(f unpi.Frame) {
		dev.mu.Lock()
		dev.received = append(dev.received, f)
		h := dev.handler
		dev.mu.Unlock()
		dev.seen <- f
		if h == nil {
			return
		}
		for _, out := range h(f) {
			dev.send(out)
		}
	}, nil)
	buf := make([]byte, 256)
	for {
		n, err := dev.conn.Read(buf)
		if n > 0 {
			p.Feed(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (dev *fakeDevice) send(f unpi.Frame) {
	raw, err := f.MarshalBinary()
	if err != nil {
		dev.t.Errorf("marshal: %v", err)
		return
	}
	dev.sendRaw(raw)
}

func (dev *fakeDevice) sendRaw(raw []byte) {
	_, _ = dev.conn.Write(raw)
}

func (dev *fakeDevice) frames() []unpi.Frame {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]unpi.Frame(nil), dev.received...)
}

func (dev *fakeDevice) next(t *testing.T) unpi.Frame {
	t.Helper()
	select {
	case f := <-dev.seen:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("device saw no frame")
		return unpi.Frame{}
	}
}

func srsp(sub unpi.Subsystem, cmd uint8, payload ...byte) unpi.Frame {
	return unpi.Frame{Type: unpi.SRSP, Subsystem: sub, Command: cmd, Payload: payload}
}

func areqFrame(sub unpi.Subsystem, cmd uint8, payload ...byte) unpi.Frame {
	return unpi.Frame{Type: unpi.AREQ, Subsystem: sub, Command: cmd, Payload: payload}
}

// echoSRSP answers every SREQ with a success SRSP carrying payload.
func echoSRSP(payload ...byte) func(unpi.Frame) []unpi.Frame {
	return func(f unpi.Frame) []unpi.Frame {
		if f.Type != unpi.SREQ {
			return nil
		}
		return []unpi.Frame{srsp(f.Subsystem, f.Command, payload...)}
	}
}

func newTestDriver(t *testing.T, h func(unpi.Frame) []unpi.Frame, opts ...Option) (*Driver, *fakeDevice) {
	t.Helper()
	host, device := net.Pipe()
	dev := newFakeDevice(t, device, h)
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	d := New(host, opts...)
	t.Cleanup(func() {
		d.Close()
		device.Close()
	})
	return d, dev
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRequestPing(t *testing.T) {
	d, dev := newTestDriver(t, echoSRSP(0x79, 0x01))

	msg, err := d.Request(context.Background(), unpi.SYS, "ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	if caps, _ := msg.Params.Uint("capabilities"); caps != 0x0179 {
		t.Errorf("capabilities = 0x%04X", caps)
	}
	f := dev.frames()[0]
	if f.Type != unpi.SREQ || f.Subsystem != unpi.SYS || f.Command != 0x01 || len(f.Payload) != 0 {
		t.Errorf("device saw %s", f)
	}
}

func TestRequestUnknownCommand(t *testing.T) {
	d, _ := newTestDriver(t, nil)
	if _, err := d.Request(context.Background(), unpi.SYS, "nope", nil); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v", err)
	}
}

func TestRequestEncodeErrorWritesNothing(t *testing.T) {
	d, dev := newTestDriver(t, echoSRSP(0))
	_, err := d.Request(context.Background(), unpi.ZDO, "activeEpReq", Params{"dstaddr": 0, "nwkaddrofinterest": -1})
	var ee *EncodeError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v", err)
	}
	// The channel was never taken: a following request goes straight through.
	if _, err := d.Request(context.Background(), unpi.SYS, "ping", nil, Timeout(time.Second)); err != nil {
		t.Fatal(err)
	}
	if n := len(dev.frames()); n != 1 {
		t.Errorf("device saw %d frames, want 1", n)
	}
}

func TestRequestStatusError(t *testing.T) {
	d, _ := newTestDriver(t, echoSRSP(0x0A))

	params := Params{"id": 3, "offset": 0, "value": []byte{1}}
	msg, err := d.Request(context.Background(), unpi.SYS, "osalNvWrite", params)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 0x0A || se.Command != "SYS:osalNvWrite" {
		t.Fatalf("err = %v", err)
	}
	if msg == nil {
		t.Error("message missing alongside status error")
	}

	if _, err := d.Request(context.Background(), unpi.SYS, "osalNvWrite", params, ExpectStatus(0, 0x0A)); err != nil {
		t.Errorf("accepted status rejected: %v", err)
	}
}

func TestRequestTimeoutReleasesChannel(t *testing.T) {
	var mu sync.Mutex
	answer := false
	d, _ := newTestDriver(t, func(f unpi.Frame) []unpi.Frame {
		mu.Lock()
		defer mu.Unlock()
		if !answer {
			return nil
		}
		return []unpi.Frame{srsp(f.Subsystem, f.Command, 0x79, 0x01)}
	}, WithTimeouts(Timeouts{Request: 30 * time.Millisecond}))

	_, err := d.Request(context.Background(), unpi.SYS, "ping", nil)
	var te *areq.TimeoutError
	if !errors.Is(err, areq.ErrTimeout) || !errors.As(err, &te) || te.Key != "SRSP:SYS:ping" {
		t.Fatalf("err = %v", err)
	}

	mu.Lock()
	answer = true
	mu.Unlock()
	if _, err := d.Request(context.Background(), unpi.SYS, "ping", nil); err != nil {
		t.Fatalf("request after timeout: %v", err)
	}
}

func TestLateResponseIsDropped(t *testing.T) {
	d, dev := newTestDriver(t, nil, WithTimeouts(Timeouts{Request: 20 * time.Millisecond}))
	if _, err := d.Request(context.Background(), unpi.SYS, "ping", nil); !errors.Is(err, areq.ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
	// A late SRSP must not be mistaken for the answer to a later request.
	dev.send(srsp(unpi.SYS, 0x01, 0x01, 0x00))
	dev.mu.Lock()
	dev.handler = echoSRSP(0x02, 0x00)
	dev.mu.Unlock()
	time.Sleep(10 * time.Millisecond)

	msg, err := d.Request(context.Background(), unpi.SYS, "ping", nil, Timeout(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if caps, _ := msg.Params.Uint("capabilities"); caps != 2 {
		t.Errorf("capabilities = %d, want 2", caps)
	}
}

// holdingDevice delays the SRSP to each SREQ until release is called.
type holdingDevice struct {
	release  chan struct{}
	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (h *holdingDevice) handle(f unpi.Frame) []unpi.Frame {
	if f.Type != unpi.SREQ {
		return nil
	}
	h.mu.Lock()
	h.inFlight++
	if h.inFlight > h.maxSeen {
		h.maxSeen = h.inFlight
	}
	h.mu.Unlock()
	<-h.release
	h.mu.Lock()
	h.inFlight--
	h.mu.Unlock()
	return []unpi.Frame{srsp(f.Subsystem, f.Command, 0)}
}

func TestRequestsAreSerializedFIFO(t *testing.T) {
	hold := &holdingDevice{release: make(chan struct{})}
	d, dev := newTestDriver(t, hold.handle)

	ids := []uint16{0x0001, 0x0002, 0x0003, 0x0004}
	errs := make(chan error, len(ids))
	for i, id := range ids {
		go func() {
			_, err := d.Request(context.Background(), unpi.SYS, "osalNvWrite", Params{"id": id, "offset": 0, "value": []byte{}})
			errs <- err
		}()
		if i == 0 {
			dev.next(t)
		} else {
			waitUntil(t, func() bool { return d.QueueLen() == i })
		}
	}
	for range ids {
		hold.release <- struct{}{}
	}
	for range ids {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}

	frames := dev.frames()
	if len(frames) != len(ids) {
		t.Fatalf("device saw %d frames", len(frames))
	}
	for i, f := range frames {
		if got := uint16(f.Payload[0]) | uint16(f.Payload[1])<<8; got != ids[i] {
			t.Errorf("frame %d carries id %d, want %d", i, got, ids[i])
		}
	}
	if hold.maxSeen != 1 {
		t.Errorf("device saw %d concurrent requests", hold.maxSeen)
	}
}

func TestQueuedRequestContextCancel(t *testing.T) {
	hold := &holdingDevice{release: make(chan struct{})}
	d, dev := newTestDriver(t, hold.handle)

	first := make(chan error, 1)
	go func() {
		_, err := d.Request(context.Background(), unpi.SYS, "ping", nil)
		first <- err
	}()
	dev.next(t)

	ctx, cancel := context.WithCancel(context.Background())
	queued := make(chan error, 1)
	go func() {
		_, err := d.Request(ctx, unpi.SYS, "version", nil)
		queued <- err
	}()
	waitUntil(t, func() bool { return d.QueueLen() == 1 })
	cancel()
	if err := <-queued; !errors.Is(err, context.Canceled) {
		t.Fatalf("queued err = %v", err)
	}
	if d.QueueLen() != 0 {
		t.Errorf("queue length = %d after cancel", d.QueueLen())
	}

	hold.release <- struct{}{}
	if err := <-first; err != nil {
		t.Fatal(err)
	}
	if n := len(dev.frames()); n != 1 {
		t.Errorf("cancelled request reached the device (%d frames)", n)
	}
}

func TestResetFlushesQueueAndHoldsChannel(t *testing.T) {
	hold := &holdingDevice{release: make(chan struct{})}
	d, dev := newTestDriver(t, hold.handle)
	ctx := context.Background()

	inFlight := make(chan error, 1)
	go func() {
		_, err := d.Request(ctx, unpi.SYS, "ping", nil)
		inFlight <- err
	}()
	dev.next(t)

	resetDone := make(chan error, 1)
	go func() {
		_, err := d.Request(ctx, unpi.SYS, "resetReq", Params{"type": 1})
		resetDone <- err
	}()
	waitUntil(t, func() bool { return d.QueueLen() == 1 })

	flushed := make(chan error, 1)
	go func() {
		_, err := d.Request(ctx, unpi.SYS, "version", nil)
		flushed <- err
	}()
	waitUntil(t, func() bool { return d.QueueLen() == 2 })

	hold.release <- struct{}{}
	if err := <-inFlight; err != nil {
		t.Fatalf("in-flight request: %v", err)
	}
	if err := <-resetDone; err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := <-flushed; !errors.Is(err, ErrQueueFlushed) {
		t.Fatalf("queued request err = %v, want ErrQueueFlushed", err)
	}
	if f := dev.next(t); f.Type != unpi.AREQ || f.Command != 0x00 {
		t.Fatalf("device saw %s, want resetReq", f)
	}

	// The channel stays held until the device announces itself.
	after := make(chan error, 1)
	go func() {
		_, err := d.Request(ctx, unpi.SYS, "ping", nil)
		after <- err
	}()
	waitUntil(t, func() bool { return d.QueueLen() == 1 })
	select {
	case <-dev.seen:
		t.Fatal("request sent before resetInd")
	case <-time.After(20 * time.Millisecond):
	}

	dev.send(areqFrame(unpi.SYS, 0x80, 0x00, 0x02, 0x01, 0x02, 0x07, 0x01))
	dev.next(t)
	hold.release <- struct{}{}
	if err := <-after; err != nil {
		t.Fatal(err)
	}
}

func TestResetWatchdogReleasesChannel(t *testing.T) {
	d, dev := newTestDriver(t, echoSRSP(0x79, 0x01), WithTimeouts(Timeouts{ResetWatchdog: 40 * time.Millisecond}))
	ctx := context.Background()

	if _, err := d.Request(ctx, unpi.SYS, "resetReq", Params{"type": 0}); err != nil {
		t.Fatal(err)
	}
	dev.next(t)

	start := time.Now()
	if _, err := d.Request(ctx, unpi.SYS, "ping", nil); err != nil {
		t.Fatal(err)
	}
	if waited := time.Since(start); waited < 30*time.Millisecond {
		t.Errorf("request went out after %v, before the watchdog", waited)
	}
}

// logSignal closes ch when a record with message msg is logged.
type logSignal struct {
	msg  string
	once sync.Once
	ch   chan struct{}
}

func (h *logSignal) Enabled(context.Context, slog.Level) bool { return true }

func (h *logSignal) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg {
		h.once.Do(func() { close(h.ch) })
	}
	return nil
}

func (h *logSignal) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *logSignal) WithGroup(string) slog.Handler      { return h }

// slowResetConn holds Write of a resetReq until the driver has handled the
// resetInd the device sent in reply.
type slowResetConn struct {
	net.Conn
	handled <-chan struct{}
}

func (c *slowResetConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if err == nil && len(b) >= 4 && b[2] == 0x41 && b[3] == 0x00 {
		select {
		case <-c.handled:
		case <-time.After(300 * time.Millisecond):
		}
	}
	return n, err
}

func TestResetIndDuringWrite(t *testing.T) {
	host, device := net.Pipe()
	newFakeDevice(t, device, func(f unpi.Frame) []unpi.Frame {
		switch {
		case f.Type == unpi.AREQ && f.Subsystem == unpi.SYS && f.Command == 0x00:
			return []unpi.Frame{areqFrame(unpi.SYS, 0x80, 0x00, 0x02, 0x01, 0x02, 0x07, 0x01)}
		case f.Type == unpi.SREQ:
			return []unpi.Frame{srsp(f.Subsystem, f.Command, 0x79, 0x01)}
		}
		return nil
	})
	sig := &logSignal{msg: "znp reset complete", ch: make(chan struct{})}
	d := New(&slowResetConn{Conn: host, handled: sig.ch},
		WithLogger(slog.New(sig)),
		WithTimeouts(Timeouts{ResetWatchdog: 2 * time.Second}))
	t.Cleanup(func() {
		d.Close()
		device.Close()
	})
	ctx := context.Background()

	if _, err := d.Request(ctx, unpi.SYS, "resetReq", Params{"type": 1}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sig.ch:
	default:
		t.Fatal("resetInd not handled while the reset was being written")
	}

	start := time.Now()
	if _, err := d.Request(ctx, unpi.SYS, "ping", nil); err != nil {
		t.Fatal(err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("ping after reset waited %v for the watchdog", waited)
	}
}

func TestResetWriteFailureReleasesChannel(t *testing.T) {
	host, device := net.Pipe()
	dev := newFakeDevice(t, device, echoSRSP(0x79, 0x01))
	d := New(&failResetConn{Conn: host}, WithLogger(testLogger()),
		WithTimeouts(Timeouts{ResetWatchdog: 10 * time.Second}))
	t.Cleanup(func() {
		d.Close()
		device.Close()
	})
	ctx := context.Background()

	if _, err := d.Request(ctx, unpi.SYS, "resetReq", Params{"type": 0}); err == nil {
		t.Fatal("reset write error not reported")
	}
	pctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := d.Request(pctx, unpi.SYS, "ping", nil); err != nil {
		t.Fatalf("ping after failed reset: %v", err)
	}
	if f := dev.next(t); f.Type != unpi.SREQ || f.Command != 0x01 {
		t.Errorf("device saw %s, want ping", f)
	}
}

// failResetConn rejects writes of resetReq.
type failResetConn struct {
	net.Conn
}

func (c *failResetConn) Write(b []byte) (int, error) {
	if len(b) >= 4 && b[2] == 0x41 && b[3] == 0x00 {
		return 0, errors.New("line dropped")
	}
	return c.Conn.Write(b)
}

func TestIndicationSubscribers(t *testing.T) {
	d, dev := newTestDriver(t, nil)

	got := make(chan *Message, 4)
	all := make(chan *Message, 4)
	unsub := d.Subscribe(unpi.ZDO, "stateChangeInd", func(m *Message) { got <- m })
	d.SubscribeAll(func(m *Message) { all <- m })
	d.SubscribeAll(func(*Message) { panic("handler bug") })

	dev.send(areqFrame(unpi.ZDO, 0xC0, 0x09))
	select {
	case m := <-got:
		if st, _ := m.Params.Uint("state"); st != 9 {
			t.Errorf("state = %d", st)
		}
	case <-time.After(time.Second):
		t.Fatal("no indication")
	}
	<-all

	unsub()
	dev.send(areqFrame(unpi.ZDO, 0xC0, 0x08))
	<-all
	select {
	case m := <-got:
		t.Errorf("delivered after unsubscribe: %v", m)
	default:
	}
}

func TestCorruptFramesAreDropped(t *testing.T) {
	var errs []string
	var mu sync.Mutex
	d, dev := newTestDriver(t, nil, WithMetrics(metricsFunc(func(kind string) {
		mu.Lock()
		errs = append(errs, kind)
		mu.Unlock()
	})))
	got := make(chan *Message, 4)
	d.SubscribeAll(func(m *Message) { got <- m })

	bad, _ := areqFrame(unpi.ZDO, 0xC0, 0x09).MarshalBinary()
	bad[len(bad)-1] ^= 0xFF
	dev.sendRaw(bad)
	dev.sendRaw([]byte{0x00, 0x11})
	dev.send(areqFrame(unpi.DBG, 0x7F))       // not in the registry
	dev.send(areqFrame(unpi.ZDO, 0x85, 0x01)) // truncated activeEpRsp
	dev.send(areqFrame(unpi.ZDO, 0xC0, 0x07))

	select {
	case m := <-got:
		if st, _ := m.Params.Uint("state"); st != 7 {
			t.Errorf("first delivered state = %d, want 7", st)
		}
	case <-time.After(time.Second):
		t.Fatal("valid frame after corrupt ones not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	want := map[string]int{"checksum": 1, "framing": 1, "decode": 2}
	counts := map[string]int{}
	for _, k := range errs {
		counts[k]++
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("%s errors = %d, want %d (all: %v)", k, counts[k], n, errs)
		}
	}
}

type metricsFunc func(kind string)

func (metricsFunc) FrameReceived(unpi.Type, unpi.Subsystem)   {}
func (metricsFunc) FrameSent(unpi.Type, unpi.Subsystem)       {}
func (f metricsFunc) FrameError(kind string)                  { f(kind) }
func (metricsFunc) RequestDone(string, string, time.Duration) {}
func (metricsFunc) QueueDepth(int)                            {}
func (metricsFunc) QueueFlushed(int)                          {}
func (metricsFunc) PendingWaiters(int)                        {}

func TestRequestAndWait(t *testing.T) {
	d, _ := newTestDriver(t, func(f unpi.Frame) []unpi.Frame {
		if f.Subsystem != unpi.ZDO || f.Command != 0x05 {
			return nil
		}
		return []unpi.Frame{
			srsp(unpi.ZDO, 0x05, 0x00),
			// Another device's answer must not satisfy the wait.
			areqFrame(unpi.ZDO, 0x85, 0x78, 0x56, 0x00, 0x78, 0x56, 0x01, 0x0A),
			areqFrame(unpi.ZDO, 0x85, 0x34, 0x12, 0x00, 0x34, 0x12, 0x02, 0x01, 0xF2),
		}
	})

	msg, err := d.RequestAndWait(context.Background(), unpi.ZDO, "activeEpReq",
		Params{"dstaddr": 0x1234, "nwkaddrofinterest": 0x1234},
		Expect{Subsystem: unpi.ZDO, Name: "activeEpRsp", Match: Params{"nwkaddr": 0x1234}})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := msg.Params.Uint("activeepcount"); n != 2 {
		t.Errorf("activeepcount = %d", n)
	}
}

func TestRequestAndWaitFailedRequestDisarms(t *testing.T) {
	d, _ := newTestDriver(t, echoSRSP(0x01))
	e := Expect{Subsystem: unpi.ZDO, Name: "activeEpRsp", Match: Params{"nwkaddr": 1}}
	params := Params{"dstaddr": 1, "nwkaddrofinterest": 1}

	_, err := d.RequestAndWait(context.Background(), unpi.ZDO, "activeEpReq", params, e)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
	// The same expectation can be armed again.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.WaitFor(ctx, e, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitFor err = %v", err)
	}
}

func TestWaitForConflictAndTimeout(t *testing.T) {
	d, _ := newTestDriver(t, nil)
	e := Expect{Subsystem: unpi.ZDO, Name: "stateChangeInd", Match: Params{"state": 9}}

	first := make(chan error, 1)
	go func() {
		_, err := d.WaitFor(context.Background(), e, 50*time.Millisecond)
		first <- err
	}()
	waitUntil(t, func() bool { return d.ind.Has(e.Key()) })

	if _, err := d.WaitFor(context.Background(), e, time.Second); !errors.Is(err, areq.ErrConflict) {
		t.Errorf("duplicate WaitFor err = %v", err)
	}
	if err := <-first; !errors.Is(err, areq.ErrTimeout) {
		t.Errorf("first err = %v", err)
	}
}

func TestCloseRejectsPending(t *testing.T) {
	d, dev := newTestDriver(t, nil)

	pending := make(chan error, 1)
	go func() {
		_, err := d.Request(context.Background(), unpi.SYS, "ping", nil)
		pending <- err
	}()
	dev.next(t)
	queued := make(chan error, 1)
	go func() {
		_, err := d.Request(context.Background(), unpi.SYS, "version", nil)
		queued <- err
	}()
	waitUntil(t, func() bool { return d.QueueLen() == 1 })
	waiting := make(chan error, 1)
	go func() {
		_, err := d.WaitFor(context.Background(), Expect{Subsystem: unpi.SYS, Name: "resetInd"}, time.Minute)
		waiting <- err
	}()
	waitUntil(t, func() bool { return d.ind.Pending() == 1 })

	d.Close()
	for name, ch := range map[string]chan error{"pending": pending, "queued": queued, "waiting": waiting} {
		select {
		case err := <-ch:
			if !errors.Is(err, ErrClosed) {
				t.Errorf("%s err = %v, want ErrClosed", name, err)
			}
		case <-time.After(time.Second):
			t.Errorf("%s not released by Close", name)
		}
	}
	if _, err := d.Request(context.Background(), unpi.SYS, "ping", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("request after close err = %v", err)
	}
	select {
	case <-d.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestTransportLossShutsDown(t *testing.T) {
	d, dev := newTestDriver(t, nil)
	pending := make(chan error, 1)
	go func() {
		_, err := d.Request(context.Background(), unpi.SYS, "ping", nil)
		pending <- err
	}()
	dev.next(t)
	dev.conn.Close()

	select {
	case err := <-pending:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not rejected on transport loss")
	}
	<-d.Done()
	if !errors.Is(d.Err(), ErrClosed) || !errors.Is(d.Err(), io.EOF) {
		t.Errorf("Err() = %v", d.Err())
	}
}

// pipe connects a driver to a device over a pion test bridge that is ticked
// in the background.
func pipe(t *testing.T) (host, device net.Conn, stop func()) {
	t.Helper()
	br := test.NewBridge()
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				br.Tick()
			}
		}
	}()
	var once sync.Once
	return br.GetConn0(), br.GetConn1(), func() {
		once.Do(func() {
			close(quit)
			wg.Wait()
		})
	}
}

func TestDriverOverPacketBridge(t *testing.T) {
	host, device, stop := pipe(t)
	newFakeDevice(t, device, func(f unpi.Frame) []unpi.Frame {
		if f.Type != unpi.SREQ {
			return nil
		}
		switch f.Command {
		case 0x01:
			// Split the answer so the host has to reassemble it.
			raw, _ := srsp(unpi.SYS, 0x01, 0x79, 0x01).MarshalBinary()
			go func() {
				device.Write(raw[:3])
				device.Write(raw[3:])
			}()
			return nil
		case 0x02:
			return []unpi.Frame{srsp(unpi.SYS, 0x02, 0x02, 0x01, 0x02, 0x07, 0x01, 0xD9, 0x14, 0x34, 0x01)}
		}
		return nil
	})
	d := New(host, WithLogger(testLogger()))
	defer func() {
		stop()
		d.Close()
		device.Close()
	}()

	ctx := context.Background()
	msg, err := d.Request(ctx, unpi.SYS, "ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	if caps, _ := msg.Params.Uint("capabilities"); caps != 0x0179 {
		t.Errorf("capabilities = 0x%04X", caps)
	}
	msg, err = d.Request(ctx, unpi.SYS, "version", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rev, _ := msg.Params.Uint("revision"); rev != 20190425 {
		t.Errorf("revision = %d", rev)
	}
}
