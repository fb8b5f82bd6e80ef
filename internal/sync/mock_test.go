package sync

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/njoerd114/vaultsync/internal/events"
	"github.com/njoerd114/vaultsync/internal/model"
)

// --- Mock Queue ---------------------------------------------------------------

type mockQueue struct {
	mu     sync.Mutex
	items  []model.SyncQueueItem
	nextID int64

	readErr  error
	clearErr error
}

func newMockQueue(n int) *mockQueue {
	q := &mockQueue{}
	for range n {
		q.push(model.OpCreate, model.Habits)
	}
	return q
}

func (m *mockQueue) push(op model.Operation, c model.Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.items = append(m.items, model.SyncQueueItem{
		ID:        m.nextID,
		Operation: op,
		Store:     c,
		Data:      json.RawMessage(`{"id":1}`),
		Timestamp: m.nextID * 1000,
	})
}

func (m *mockQueue) Queue(context.Context) ([]model.SyncQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return slices.Clone(m.items), nil
}

func (m *mockQueue) ClearQueueThrough(_ context.Context, maxID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	m.items = slices.DeleteFunc(m.items, func(it model.SyncQueueItem) bool { return it.ID <= maxID })
	return nil
}

func (m *mockQueue) snapshot() []model.SyncQueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.items)
}

// --- Mock Sender --------------------------------------------------------------

type mockSender struct {
	mu      sync.Mutex
	batches [][]model.SyncQueueItem
	err     error

	// block, when set, holds Send until it is closed. entered is signalled
	// as soon as Send starts.
	block   chan struct{}
	entered chan struct{}
}

func (m *mockSender) Send(_ context.Context, items []model.SyncQueueItem) error {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, slices.Clone(items))
	return m.err
}

func (m *mockSender) sent() [][]model.SyncQueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.batches)
}

// --- Mock Connectivity --------------------------------------------------------

type mockNet struct {
	mu       sync.Mutex
	online   bool
	restored chan struct{}
}

func newMockNet(online bool) *mockNet {
	return &mockNet{online: online, restored: make(chan struct{}, 1)}
}

func (m *mockNet) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *mockNet) Restored() <-chan struct{} { return m.restored }

func (m *mockNet) set(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
	if online {
		select {
		case m.restored <- struct{}{}:
		default:
		}
	}
}

// --- Event recorder -----------------------------------------------------------

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
