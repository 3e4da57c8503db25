package znp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"znp-host/internal/areq"
	"znp-host/internal/unpi"
)

var (
	// ErrClosed is returned to every caller once the driver or its transport is gone.
	ErrClosed = errors.New("znp: driver closed")
	// ErrQueueFlushed is returned to queued requests dropped by a device reset.
	ErrQueueFlushed = errors.New("znp: request flushed by device reset")
	// ErrUnknownCommand is returned for commands missing from the registry.
	ErrUnknownCommand = errors.New("znp: unknown command")
)

// StatusError reports an SRSP whose status is not an accepted value.
type StatusError struct {
	Command string
	Status  uint8
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("znp: %s failed with status 0x%02X", e.Command, e.Status)
}

const maxReadErrors = 5

// Driver runs the MT protocol over a duplex byte stream. Synchronous requests
// are sent one at a time in FIFO order; indications are delivered to
// subscribers and to pending RequestAndWait/WaitFor calls.
type Driver struct {
	rw       io.ReadWriteCloser
	registry *Registry
	logger   *slog.Logger
	metrics  Metrics
	tap      Tap
	timeouts Timeouts

	parser *unpi.Parser
	srsp   *areq.Correlator[*Message]
	ind    *areq.Correlator[*Message]
	bus    *bus

	// mu guards the in-flight flag, the queue, reset state, expectations
	// and closeErr.
	mu         sync.Mutex
	busy       bool
	queue      []*ticket
	resetting  bool
	resetGen   uint64
	resetTimer *time.Timer
	expects    map[string][]expectation
	closeErr   error

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts a driver on rw. The driver owns rw and closes it on Close.
func New(rw io.ReadWriteCloser, opts ...Option) *Driver {
	d := &Driver{
		rw:       rw,
		metrics:  nopMetrics{},
		srsp:     areq.New[*Message](),
		ind:      areq.New[*Message](),
		expects:  make(map[string][]expectation),
		done:     make(chan struct{}),
		timeouts: DefaultTimeouts(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "znp")
	if d.registry == nil {
		d.registry = DefaultRegistry()
	}
	d.timeouts = d.timeouts.withDefaults()
	d.bus = newBus(d.logger)
	d.parser = unpi.NewParser(d.handleFrame, d.handleFrameError)

	d.wg.Add(1)
	go d.readLoop()
	return d
}

// Registry returns the command definitions in use.
func (d *Driver) Registry() *Registry { return d.registry }

// Done is closed when the driver shuts down.
func (d *Driver) Done() <-chan struct{} { return d.done }

// Err returns the reason the driver shut down, or nil while running.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeErr
}

// QueueLen returns the number of requests waiting for the channel.
func (d *Driver) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Subscribe registers h for one indication. It returns an unsubscribe func.
func (d *Driver) Subscribe(sub unpi.Subsystem, name string, h Handler) func() {
	return d.bus.subscribe(eventKey(unpi.AREQ, sub, name), h)
}

// SubscribeAll registers h for every indication.
func (d *Driver) SubscribeAll(h Handler) func() {
	return d.bus.subscribe("", h)
}

// Close stops the reader, closes the transport and fails everything pending
// with ErrClosed.
func (d *Driver) Close() error {
	d.shutdown(ErrClosed)
	d.wg.Wait()
	return nil
}

func (d *Driver) shutdown(cause error) {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closeErr = cause
		if d.resetTimer != nil {
			d.resetTimer.Stop()
		}
		d.resetting = false
		d.mu.Unlock()

		close(d.done)
		if err := d.rw.Close(); err != nil {
			d.logger.Debug("znp transport close", "err", err)
		}
		n := d.srsp.RejectAll(cause) + d.ind.RejectAll(cause)
		q := d.flushQueue(cause)
		d.logger.Info("znp driver stopped", "reason", cause, "rejected", n, "dropped_queued", q)
	})
}

// --- Inbound ---

func (d *Driver) readLoop() {
	defer d.wg.Done()

	buf := make([]byte, 512)
	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second
	failures := 0

	for {
		n, err := d.rw.Read(buf)
		if n > 0 {
			d.parser.Feed(buf[:n])
		}
		if err == nil {
			failures = 0
			backoff = 10 * time.Millisecond
			continue
		}

		select {
		case <-d.done:
			return
		default:
		}
		failures++
		if isTransportGone(err) || failures >= maxReadErrors {
			d.logger.Error("znp transport lost", "err", err)
			d.shutdown(fmt.Errorf("%w: %w", ErrClosed, err))
			return
		}
		d.logger.Warn("znp read error", "err", err, "attempt", failures)
		select {
		case <-time.After(backoff):
		case <-d.done:
			return
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func isTransportGone(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}

func (d *Driver) handleFrameError(err error) {
	kind := "framing"
	if errors.Is(err, unpi.ErrChecksum) {
		kind = "checksum"
	}
	d.metrics.FrameError(kind)
	d.logger.Warn("znp frame dropped", "kind", kind, "err", err)
}

func (d *Driver) handleFrame(f unpi.Frame) {
	d.metrics.FrameReceived(f.Type, f.Subsystem)
	if d.tap != nil {
		d.tap(Inbound, f)
	}

	msg, err := DecodeFrame(d.registry, f)
	if err != nil {
		d.metrics.FrameError("decode")
		d.logger.Warn("znp frame dropped", "kind", "decode", "frame", f.String(), "err", err)
		return
	}
	d.logger.Debug("znp RX", "key", msg.Key(), "payload", hexBytes(f.Payload))

	switch f.Type {
	case unpi.SRSP:
		if !d.srsp.Resolve(msg.Key(), msg) {
			d.logger.Warn("znp orphaned response (too late)", "key", msg.Key(), "payload", hexBytes(f.Payload))
		}
	case unpi.AREQ:
		d.matchExpectations(msg)
		d.bus.publish(msg)
		if msg.Subsystem == unpi.SYS && msg.Name == "resetInd" {
			d.finishReset("resetInd")
		}
	default:
		d.logger.Warn("znp unexpected frame type", "frame", f.String())
	}
}

// --- Outbound ---

// Request sends a command. For SREQ commands it blocks until the SRSP arrives
// and returns it; a status field outside the accepted set yields *StatusError
// alongside the message. AREQ commands return a nil message once written.
func (d *Driver) Request(ctx context.Context, sub unpi.Subsystem, name string, params Params, opts ...RequestOption) (*Message, error) {
	def, ok := d.registry.Lookup(sub, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", ErrUnknownCommand, sub, name)
	}
	ro := requestOptions{statuses: []uint8{0}}
	for _, o := range opts {
		o(&ro)
	}
	frame, err := EncodeRequest(def, params)
	if err != nil {
		return nil, err
	}

	if err := d.acquire(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", def.Key(), err)
	}
	start := time.Now()
	var msg *Message
	if def.Type == unpi.AREQ {
		err = d.sendAREQ(def, frame)
	} else {
		msg, err = d.sendSREQ(ctx, def, frame, ro)
	}
	d.metrics.RequestDone(def.Key(), outcome(err), time.Since(start))
	return msg, err
}

func outcome(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, areq.ErrTimeout):
		return "timeout"
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, ErrClosed):
		return "closed"
	}
	return "error"
}

func (d *Driver) sendSREQ(ctx context.Context, def *CommandDef, frame unpi.Frame, ro requestOptions) (*Message, error) {
	timeout := ro.timeout
	if timeout <= 0 {
		timeout = d.timeouts.Request
		if def.Slow {
			timeout = d.timeouts.Slow
		}
	}
	key := eventKey(unpi.SRSP, def.Subsystem, def.Name)
	w, err := d.srsp.Register(key, timeout, nil)
	if err != nil {
		d.release()
		return nil, err
	}
	if err := d.writeFrame(frame); err != nil {
		d.srsp.Deregister(key)
		d.release()
		return nil, err
	}

	msg, err := w.Wait(ctx)
	// The channel is released before the caller sees the result so that a
	// follow-up request issued by the caller queues behind already waiting ones.
	d.release()
	if err != nil {
		d.logger.Warn("znp request failed", "cmd", def.Key(), "err", err)
		return nil, fmt.Errorf("%s: %w", def.Key(), err)
	}
	if def.hasStatus() {
		st, _ := msg.Params.Uint("status")
		for _, ok := range ro.statuses {
			if uint64(ok) == st {
				return msg, nil
			}
		}
		return msg, &StatusError{Command: def.Key(), Status: uint8(st)}
	}
	return msg, nil
}

func (d *Driver) sendAREQ(def *CommandDef, frame unpi.Frame) error {
	if def.Subsystem == unpi.SYS && def.Name == "resetReq" {
		flushed := d.flushQueue(ErrQueueFlushed)
		// Armed before the write: resetInd may arrive while Write is still
		// returning.
		d.startResetWatchdog()
		if err := d.writeFrame(frame); err != nil {
			if d.abortReset() {
				d.release()
			}
			return err
		}
		d.logger.Info("znp reset requested", "flushed", flushed)
		return nil
	}
	err := d.writeFrame(frame)
	d.release()
	return err
}

func (d *Driver) writeFrame(f unpi.Frame) error {
	raw, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	_, err = d.rw.Write(raw)
	d.writeMu.Unlock()
	if err != nil {
		select {
		case <-d.done:
			return fmt.Errorf("znp write %s %s 0x%02X: %w", f.Type, f.Subsystem, f.Command, d.Err())
		default:
		}
		return fmt.Errorf("znp write %s %s 0x%02X: %w", f.Type, f.Subsystem, f.Command, err)
	}
	d.metrics.FrameSent(f.Type, f.Subsystem)
	if d.tap != nil {
		d.tap(Outbound, f)
	}
	d.logger.Debug("znp TX", "type", f.Type, "subsystem", f.Subsystem,
		"cmd", fmt.Sprintf("0x%02X", f.Command), "payload", hexBytes(f.Payload))
	return nil
}

// --- Single in-flight channel ---

type ticket struct {
	ready chan error
}

// acquire takes the channel or queues behind the current holder.
func (d *Driver) acquire(ctx context.Context) error {
	d.mu.Lock()
	if d.closeErr != nil {
		err := d.closeErr
		d.mu.Unlock()
		return err
	}
	if !d.busy {
		d.busy = true
		d.mu.Unlock()
		return nil
	}
	t := &ticket{ready: make(chan error, 1)}
	d.queue = append(d.queue, t)
	depth := len(d.queue)
	d.mu.Unlock()
	d.metrics.QueueDepth(depth)

	select {
	case err := <-t.ready:
		return err
	case <-ctx.Done():
		d.mu.Lock()
		removed := d.removeTicket(t)
		d.mu.Unlock()
		if !removed {
			// Handed the channel (or an error) concurrently; pass the channel on.
			if err := <-t.ready; err == nil {
				d.release()
			}
		}
		return ctx.Err()
	}
}

func (d *Driver) removeTicket(t *ticket) bool {
	for i, q := range d.queue {
		if q == t {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return true
		}
	}
	return false
}

// release hands the channel to the oldest queued request or marks it idle.
func (d *Driver) release() {
	d.mu.Lock()
	if d.closeErr != nil {
		err, q := d.closeErr, d.queue
		d.queue, d.busy = nil, false
		d.mu.Unlock()
		for _, t := range q {
			t.ready <- err
		}
		return
	}
	if len(d.queue) == 0 {
		d.busy = false
		d.mu.Unlock()
		d.metrics.QueueDepth(0)
		return
	}
	next := d.queue[0]
	d.queue = d.queue[1:]
	depth := len(d.queue)
	d.mu.Unlock()
	d.metrics.QueueDepth(depth)
	next.ready <- nil
}

func (d *Driver) flushQueue(err error) int {
	d.mu.Lock()
	q := d.queue
	d.queue = nil
	d.mu.Unlock()
	for _, t := range q {
		t.ready <- err
	}
	if len(q) > 0 {
		d.metrics.QueueFlushed(len(q))
		d.metrics.QueueDepth(0)
	}
	return len(q)
}

func (d *Driver) startResetWatchdog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetting = true
	d.resetGen++
	gen := d.resetGen
	d.resetTimer = time.AfterFunc(d.timeouts.ResetWatchdog, func() {
		d.mu.Lock()
		stale := gen != d.resetGen
		d.mu.Unlock()
		if !stale {
			d.logger.Warn("znp reset watchdog fired, releasing channel", "after", d.timeouts.ResetWatchdog)
			d.finishReset("watchdog")
		}
	})
}

// abortReset disarms a reset whose request never reached the device. It
// reports whether the reset was still pending.
func (d *Driver) abortReset() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.resetting {
		return false
	}
	d.resetting = false
	d.resetGen++
	if d.resetTimer != nil {
		d.resetTimer.Stop()
		d.resetTimer = nil
	}
	return true
}

// finishReset releases the channel held by a pending resetReq.
func (d *Driver) finishReset(reason string) {
	d.mu.Lock()
	if !d.resetting {
		d.mu.Unlock()
		return
	}
	d.resetting = false
	if d.resetTimer != nil {
		d.resetTimer.Stop()
		d.resetTimer = nil
	}
	d.mu.Unlock()
	d.logger.Info("znp reset complete", "via", reason)
	d.release()
}

// --- Indication correlation ---

// Expect describes an indication awaited by RequestAndWait or WaitFor. Every
// Match entry must equal the indication's parameter of the same name.
type Expect struct {
	Subsystem unpi.Subsystem
	Name      string
	Match     Params
}

func (e Expect) prefix() string {
	return eventKey(unpi.AREQ, e.Subsystem, e.Name)
}

// Key returns the correlation key, e.g. "AREQ:ZDO:activeEpRsp:nwkaddr=4660".
func (e Expect) Key() string {
	names := make([]string, 0, len(e.Match))
	for k := range e.Match {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(e.prefix())
	for _, k := range names {
		b.WriteString(":" + k + "=" + normalize(e.Match[k]))
	}
	return b.String()
}

type expectation struct {
	key   string
	match Params
}

func normalize(v any) string {
	if n, err := toUint(v, 64); err == nil {
		return fmt.Sprint(n)
	}
	if s, ok := v.(string); ok {
		return strings.ToLower(s)
	}
	return fmt.Sprint(v)
}

func (e expectation) matches(p Params) bool {
	for k, want := range e.match {
		got, ok := p[k]
		if !ok || normalize(got) != normalize(want) {
			return false
		}
	}
	return true
}

func (d *Driver) expect(e Expect, timeout time.Duration) (*areq.Waiter[*Message], error) {
	if timeout <= 0 {
		timeout = d.timeouts.Indication
	}
	prefix, key := e.prefix(), e.Key()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closeErr != nil {
		return nil, d.closeErr
	}
	w, err := d.ind.Register(key, timeout, func(*Message, error) {
		d.dropExpectation(prefix, key)
	})
	if err != nil {
		return nil, err
	}
	d.expects[prefix] = append(d.expects[prefix], expectation{key: key, match: e.Match})
	d.metrics.PendingWaiters(d.ind.Pending())
	return w, nil
}

func (d *Driver) dropExpectation(prefix, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.expects[prefix]
	for i, e := range list {
		if e.key == key {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(d.expects, prefix)
	} else {
		d.expects[prefix] = list
	}
	d.metrics.PendingWaiters(d.ind.Pending())
}

func (d *Driver) matchExpectations(m *Message) {
	d.mu.Lock()
	list := append([]expectation(nil), d.expects[m.Key()]...)
	d.mu.Unlock()
	for _, e := range list {
		if e.matches(m.Params) {
			d.ind.Resolve(e.key, m)
		}
	}
}

// WaitFor blocks until an indication matching e arrives, the timeout (zero
// means the driver default) elapses, or ctx ends.
func (d *Driver) WaitFor(ctx context.Context, e Expect, timeout time.Duration) (*Message, error) {
	w, err := d.expect(e, timeout)
	if err != nil {
		return nil, err
	}
	return w.Wait(ctx)
}

// RequestAndWait sends a command and then waits for the indication that
// carries its real result. The expectation is armed before the request is
// written so a fast indication cannot be missed.
func (d *Driver) RequestAndWait(ctx context.Context, sub unpi.Subsystem, name string, params Params, e Expect, opts ...RequestOption) (*Message, error) {
	ro := requestOptions{}
	for _, o := range opts {
		o(&ro)
	}
	w, err := d.expect(e, ro.timeout)
	if err != nil {
		return nil, err
	}
	if _, err := d.Request(ctx, sub, name, params, opts...); err != nil {
		d.ind.Deregister(w.Key())
		return nil, err
	}
	msg, err := w.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Key(), err)
	}
	return msg, nil
}
