// Package netstatus tracks whether the remote sync endpoint is reachable.
// A [Monitor] probes on an interval, publishes net.online and net.offline
// transitions, and signals on [Monitor.Restored] each time connectivity
// comes back so a pending sync can start right away.
package netstatus

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/njoerd114/vaultsync/internal/events"
)

// Prober reports whether the network path to the endpoint works.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber sends a HEAD request to URL. Any HTTP response, whatever its
// status, counts as reachable; only transport failures count as offline.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// Probe implements [Prober].
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", p.URL, err)
	}
	_ = resp.Body.Close()
	return nil
}

// Monitor holds the current online state.
type Monitor struct {
	prober   Prober
	interval time.Duration
	log      *slog.Logger
	bus      events.Publisher

	mu       sync.Mutex
	online   bool
	known    bool
	restored chan struct{}
}

// NewMonitor returns a Monitor that probes every interval. The state starts
// unknown and is treated as offline until the first probe or Set.
func NewMonitor(prober Prober, interval time.Duration, logger *slog.Logger, bus events.Publisher) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.Discard
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		log:      logger,
		bus:      bus,
		restored: make(chan struct{}, 1),
	}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Restored delivers a value after each offline to online transition.
// Transitions that happen while a previous signal is still unread are
// coalesced into it.
func (m *Monitor) Restored() <-chan struct{} {
	return m.restored
}

// Set records the online state and publishes a transition event if it
// changed.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	wasOffline := m.known && !m.online
	m.online = online
	m.known = true
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.log.Info("network online")
		m.bus.Publish(events.Event{Kind: events.NetOnline, Message: "Connection restored"})
		if wasOffline {
			select {
			case m.restored <- struct{}{}:
			default:
			}
		}
		return
	}
	m.log.Warn("network offline")
	m.bus.Publish(events.Event{Kind: events.NetOffline, Message: "You are offline"})
}

// Check probes once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.prober.Probe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return m.Online()
		}
		m.log.Debug("connectivity probe failed", "error", err)
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes immediately and then on every interval. It blocks until ctx
// is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
