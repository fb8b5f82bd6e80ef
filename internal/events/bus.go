// Package events is a small publish/subscribe channel the storage and sync
// layers use to announce state transitions to whoever is listening, without
// knowing who that is.
package events

import (
	"slices"
	"sync"
	"time"
)

// Kind identifies an event.
type Kind string

const (
	DBInitializing Kind = "db.initializing"
	DBReady        Kind = "db.ready"
	DBError        Kind = "db.error"
	SyncStarted    Kind = "sync.started"
	SyncCompleted  Kind = "sync.completed"
	SyncFailed     Kind = "sync.failed"
	NetOnline      Kind = "net.online"
	NetOffline     Kind = "net.offline"
)

// Event is a single status announcement.
type Event struct {
	Kind    Kind
	Message string
	// Items is the number of sync queue items involved, where relevant.
	Items int
	Err   error
	At    time.Time
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Bus fans events out to subscribers. The zero value is not usable; create
// one with [NewBus].
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber in subscription order.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	handlers := make(map[int]Handler, len(b.subs))
	for id, h := range b.subs {
		handlers[id] = h
	}
	b.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		handlers[id](ev)
	}
}
