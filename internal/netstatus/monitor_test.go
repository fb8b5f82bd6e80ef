package netstatus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/njoerd114/vaultsync/internal/events"
)

type fakeProber struct {
	mu  sync.Mutex
	err error
}

func (f *fakeProber) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeProber) Probe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu    sync.Mutex
	kinds []events.Kind
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, ev.Kind)
}

func (r *recorder) snapshot() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Kind(nil), r.kinds...)
}

func restoredSignalled(m *Monitor) bool {
	select {
	case <-m.Restored():
		return true
	default:
		return false
	}
}

func TestMonitor_StartsOffline(t *testing.T) {
	m := NewMonitor(&fakeProber{}, time.Hour, testLogger(), nil)
	if m.Online() {
		t.Error("Online() = true before any probe")
	}
}

func TestMonitor_TransitionsAndEvents(t *testing.T) {
	rec := &recorder{}
	p := &fakeProber{err: errors.New("no route to host")}
	m := NewMonitor(p, time.Hour, testLogger(), rec)
	ctx := context.Background()

	if m.Check(ctx) {
		t.Fatal("Check() = true with failing prober")
	}
	if restoredSignalled(m) {
		t.Error("restored signalled on first offline observation")
	}

	// Same state again publishes nothing new.
	m.Check(ctx)

	p.set(nil)
	if !m.Check(ctx) {
		t.Fatal("Check() = false with working prober")
	}
	if !restoredSignalled(m) {
		t.Error("restored not signalled after offline -> online")
	}

	got := rec.snapshot()
	want := []events.Kind{events.NetOffline, events.NetOnline}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMonitor_FirstOnlineIsNotARestore(t *testing.T) {
	m := NewMonitor(&fakeProber{}, time.Hour, testLogger(), nil)
	m.Set(true)
	if restoredSignalled(m) {
		t.Error("restored signalled without a prior offline state")
	}
}

func TestMonitor_RestoredCoalesces(t *testing.T) {
	m := NewMonitor(&fakeProber{}, time.Hour, testLogger(), nil)
	m.Set(false)
	m.Set(true)
	m.Set(false)
	m.Set(true) // must not block with the first signal unread

	if !restoredSignalled(m) {
		t.Fatal("expected one restored signal")
	}
	if restoredSignalled(m) {
		t.Error("expected signals to coalesce into one")
	}
}

func TestMonitor_RunProbesImmediatelyAndStops(t *testing.T) {
	m := NewMonitor(&fakeProber{}, 10*time.Millisecond, testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !m.Online() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !m.Online() {
		t.Fatal("monitor never went online")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHTTPProber(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))

	p := &HTTPProber{URL: srv.URL}
	if err := p.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() error = %v, want nil for any HTTP response", err)
	}
	if method != http.MethodHead {
		t.Errorf("method = %s, want HEAD", method)
	}

	srv.Close()
	if err := p.Probe(context.Background()); err == nil {
		t.Error("Probe() = nil after server closed")
	}
}
