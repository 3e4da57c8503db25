// Package areq correlates outbound requests with the responses or indications
// that answer them. Each event key has at most one pending waiter.
package areq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("areq: timeout")
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("areq: event key already registered")
	// ErrDeregistered settles a waiter removed before any result arrived.
	ErrDeregistered = errors.New("areq: waiter deregistered")
)

// TimeoutError is delivered when no matching event arrives in time.
type TimeoutError struct {
	Key   string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("areq: timeout after %s waiting for %s", e.After, e.Key)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ConflictError is returned by Register when the key is busy.
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("areq: %s already has a pending waiter", e.Key)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Waiter is the result handle of one registration.
type Waiter[T any] struct {
	key      string
	c        *Correlator[T]
	timer    *time.Timer
	onSettle func(T, error)
	done     chan struct{}
	val      T
	err      error
}

// Key returns the event key the waiter is registered under.
func (w *Waiter[T]) Key() string { return w.key }

// Done is closed once the waiter settles.
func (w *Waiter[T]) Done() <-chan struct{} { return w.done }

// Result returns the settled value. Only meaningful after Done is closed.
func (w *Waiter[T]) Result() (T, error) { return w.val, w.err }

// Wait blocks until the waiter settles or ctx ends. A cancelled context
// settles the waiter with ctx.Err() so the key is freed.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-w.done:
	case <-ctx.Done():
		w.c.settle(w, *new(T), ctx.Err())
		<-w.done
	}
	return w.val, w.err
}

// Correlator tracks pending waiters keyed by event key.
type Correlator[T any] struct {
	mu      sync.Mutex
	pending map[string]*Waiter[T]
}

// New creates an empty correlator.
func New[T any]() *Correlator[T] {
	return &Correlator[T]{pending: make(map[string]*Waiter[T])}
}

// Register installs a waiter for key. A non-positive timeout disables the
// timer. onSettle, if set, runs exactly once when the waiter settles.
func (c *Correlator[T]) Register(key string, timeout time.Duration, onSettle func(T, error)) (*Waiter[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.pending[key]; busy {
		return nil, &ConflictError{Key: key}
	}
	w := &Waiter[T]{
		key:      key,
		c:        c,
		onSettle: onSettle,
		done:     make(chan struct{}),
	}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			c.settle(w, *new(T), &TimeoutError{Key: key, After: timeout})
		})
	}
	c.pending[key] = w
	return w, nil
}

// Resolve settles the waiter for key with v. It reports false when no
// unsettled waiter exists.
func (c *Correlator[T]) Resolve(key string, v T) bool {
	return c.settleKey(key, v, nil)
}

// Reject settles the waiter for key with err.
func (c *Correlator[T]) Reject(key string, err error) bool {
	return c.settleKey(key, *new(T), err)
}

// Deregister removes the waiter for key, settling it with ErrDeregistered.
// Unknown keys are ignored.
func (c *Correlator[T]) Deregister(key string) {
	c.settleKey(key, *new(T), ErrDeregistered)
}

// RejectAll settles every pending waiter with err.
func (c *Correlator[T]) RejectAll(err error) int {
	c.mu.Lock()
	waiters := make([]*Waiter[T], 0, len(c.pending))
	for _, w := range c.pending {
		waiters = append(waiters, w)
	}
	c.mu.Unlock()

	n := 0
	for _, w := range waiters {
		if c.settle(w, *new(T), err) {
			n++
		}
	}
	return n
}

// Has reports whether key has a pending waiter.
func (c *Correlator[T]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Pending returns the number of unsettled waiters.
func (c *Correlator[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator[T]) settleKey(key string, v T, err error) bool {
	c.mu.Lock()
	w := c.pending[key]
	c.mu.Unlock()
	if w == nil {
		return false
	}
	return c.settle(w, v, err)
}

// settle is the single exit path of a waiter. The identity check keeps a
// stale timer from touching a newer waiter registered under the same key.
func (c *Correlator[T]) settle(w *Waiter[T], v T, err error) bool {
	c.mu.Lock()
	if c.pending[w.key] != w {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, w.key)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.val, w.err = v, err
	close(w.done)
	c.mu.Unlock()

	if w.onSettle != nil {
		w.onSettle(v, err)
	}
	return true
}
