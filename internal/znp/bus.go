package znp

import (
	"log/slog"
	"slices"
	"sync"
)

// Handler receives decoded indications.
type Handler func(*Message)

type busEntry struct {
	id  uint64
	key string // "" matches everything
	fn  Handler
}

// bus fans AREQ messages out to subscribers in subscription order. Handlers
// run synchronously on the reader goroutine; a panicking handler is
// recovered.
type bus struct {
	mu      sync.RWMutex
	entries []busEntry
	nextID  uint64
	logger  *slog.Logger
}

func newBus(logger *slog.Logger) *bus {
	return &bus{logger: logger}
}

func (b *bus) subscribe(key string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.entries = append(b.entries, busEntry{id: id, key: key, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.entries = slices.DeleteFunc(b.entries, func(e busEntry) bool { return e.id == id })
	}
}

func (b *bus) publish(m *Message) {
	key := m.Key()
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.entries))
	for _, e := range b.entries {
		if e.key == "" || e.key == key {
			handlers = append(handlers, e.fn)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("indication handler panic", "key", key, "panic", r)
				}
			}()
			h(m)
		}()
	}
}
