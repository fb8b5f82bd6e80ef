// Package sync replays the local sync queue to the remote collector.
//
// An [Engine] flushes the whole queue as one batch and clears it only when
// the collector accepts the batch. A rejected or failed batch leaves the
// queue untouched, so the next flush resends it from the start. Flushes run
// on a fixed interval while the network is up and immediately when
// connectivity is restored. At most one flush runs at a time.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/vaultsync/internal/events"
	"github.com/njoerd114/vaultsync/internal/model"
)

const (
	otelScope      = "vaultsync/sync"
	spanFlush      = "sync.flush"
	metricBatches  = "vaultsync.sync.batches"
	metricItems    = "vaultsync.sync.items"
	metricFailures = "vaultsync.sync.failures"
)

// ErrOffline is returned by Flush when the network is down. The queue is
// left for a later attempt.
var ErrOffline = errors.New("network offline")

// Queue is the outbox the engine drains. Implemented by [store.Engine].
type Queue interface {
	Queue(ctx context.Context) ([]model.SyncQueueItem, error)
	ClearQueueThrough(ctx context.Context, maxID int64) error
}

// Sender delivers a batch to the collector. Implemented by [remote.Client].
type Sender interface {
	Send(ctx context.Context, items []model.SyncQueueItem) error
}

// Connectivity reports the network state. Implemented by
// [netstatus.Monitor].
type Connectivity interface {
	Online() bool
	Restored() <-chan struct{}
}

// State is the engine's position in the flush cycle.
type State int32

const (
	Idle State = iota
	Syncing
)

func (s State) String() string {
	if s == Syncing {
		return "syncing"
	}
	return "idle"
}

// Result describes one flush.
type Result struct {
	// Items is the size of the batch that was sent, or attempted.
	Items int
	// Skipped is set when another flush was already running.
	Skipped bool
}

// Engine drives the sync cycle. Create one with [NewEngine] and start it
// with [Engine.Run].
type Engine struct {
	queue    Queue
	sender   Sender
	net      Connectivity
	interval time.Duration
	log      *slog.Logger
	bus      events.Publisher

	inFlight atomic.Bool

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer      trace.Tracer
	cntBatches  metric.Int64Counter
	cntItems    metric.Int64Counter
	cntFailures metric.Int64Counter
}

// NewEngine creates an Engine. If net is nil the network is assumed to be
// always up.
func NewEngine(queue Queue, sender Sender, net Connectivity, interval time.Duration, logger *slog.Logger, bus events.Publisher) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.Discard
	}
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		queue:    queue,
		sender:   sender,
		net:      net,
		interval: interval,
		log:      logger,
		bus:      bus,

		tracer:      tracer,
		cntBatches:  mustCounter(metricBatches, "Number of sync batches accepted by the collector"),
		cntItems:    mustCounter(metricItems, "Number of queue items delivered"),
		cntFailures: mustCounter(metricFailures, "Number of failed sync attempts"),
	}
}

// State reports whether a flush is running.
func (e *Engine) State() State {
	if e.inFlight.Load() {
		return Syncing
	}
	return Idle
}

func (e *Engine) online() bool {
	return e.net == nil || e.net.Online()
}

// Flush sends every queued item as one batch and, once the collector has
// accepted it, removes exactly those items from the queue. Items queued
// while the batch was in flight stay for the next flush.
//
// Flush returns ErrOffline without touching the queue when the network is
// down, and a Skipped result when another flush is already running.
func (e *Engine) Flush(ctx context.Context) (Result, error) {
	if !e.online() {
		e.log.Debug("offline, skipping sync")
		return Result{}, ErrOffline
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		e.log.Debug("sync already in progress, skipping")
		return Result{Skipped: true}, nil
	}
	defer e.inFlight.Store(false)

	ctx, span := e.tracer.Start(ctx, spanFlush)
	defer span.End()

	res, err := e.flush(ctx)
	span.SetAttributes(attribute.Int("sync.items", res.Items))
	if err != nil {
		e.cntFailures.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Error("sync failed", "items", res.Items, "error", err)
		e.bus.Publish(events.Event{Kind: events.SyncFailed, Message: "Sync failed", Items: res.Items, Err: err})
	}
	return res, err
}

func (e *Engine) flush(ctx context.Context) (Result, error) {
	items, err := e.queue.Queue(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reading sync queue: %w", err)
	}
	if len(items) == 0 {
		e.log.Debug("no items to sync")
		return Result{}, nil
	}

	res := Result{Items: len(items)}
	e.log.Info("syncing items", "items", res.Items)
	e.bus.Publish(events.Event{Kind: events.SyncStarted, Message: "Syncing with server", Items: res.Items})

	if err := e.sender.Send(ctx, items); err != nil {
		return res, fmt.Errorf("sending batch: %w", err)
	}

	var maxID int64
	for _, it := range items {
		maxID = max(maxID, it.ID)
	}
	if err := e.queue.ClearQueueThrough(ctx, maxID); err != nil {
		return res, fmt.Errorf("clearing sync queue: %w", err)
	}

	e.cntBatches.Add(ctx, 1)
	e.cntItems.Add(ctx, int64(res.Items))
	e.log.Info("sync completed", "items", res.Items)
	e.bus.Publish(events.Event{Kind: events.SyncCompleted, Message: "Sync completed", Items: res.Items})
	return res, nil
}

// Run flushes immediately if online, then on every interval tick while
// online and whenever connectivity is restored. It blocks until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var restored <-chan struct{}
	if e.net != nil {
		restored = e.net.Restored()
	}

	if e.online() {
		e.runFlush(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			if e.online() {
				e.runFlush(ctx, "interval")
			}
		case <-restored:
			e.log.Info("device is online, attempting to sync")
			e.runFlush(ctx, "connectivity")
		}
	}
}

// runFlush runs one triggered flush. Failures are logged by Flush.
func (e *Engine) runFlush(ctx context.Context, trigger string) {
	if res, err := e.Flush(ctx); err == nil && res.Items > 0 {
		e.log.Debug("flush finished", "trigger", trigger, "items", res.Items)
	}
}
