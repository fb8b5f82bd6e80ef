// Package syncserver is a stand-in for the remote collector. It accepts
// sync batches, logs them, and discards them. It is useful for running the
// daemon end to end without a real backend.
package syncserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/njoerd114/vaultsync/internal/model"
	"github.com/njoerd114/vaultsync/internal/remote"
)

const (
	msgAccepted = "Data synchronized successfully"
	msgFailed   = "Failed to synchronize data"

	maxBody = 10 << 20
)

// Handler serves the sync endpoint.
type Handler struct {
	log   *slog.Logger
	delay time.Duration
	sink  func(batchID string, items []model.SyncQueueItem)

	batches atomic.Int64
	items   atomic.Int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithDelay makes every accepted batch wait d before replying, to mimic
// server processing time.
func WithDelay(d time.Duration) Option {
	return func(h *Handler) { h.delay = d }
}

// WithSink receives every accepted batch.
func WithSink(fn func(batchID string, items []model.SyncQueueItem)) Option {
	return func(h *Handler) { h.sink = fn }
}

// NewHandler returns a Handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Stats reports how many batches and items have been accepted.
func (h *Handler) Stats() (batches, items int64) {
	return h.batches.Load(), h.items.Load()
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, remote.Response{Message: "method not allowed"})
		return
	}

	batchID := r.Header.Get(remote.BatchHeader)
	var items []model.SyncQueueItem
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&items); err != nil {
		h.log.Error("sync error", "batch_id", batchID, "error", err)
		writeJSON(w, http.StatusInternalServerError, remote.Response{Success: false, Message: msgFailed})
		return
	}

	h.log.Info("received sync data", "batch_id", batchID, "items", len(items))
	for _, it := range items {
		h.log.Debug("sync item", "id", it.ID, "operation", it.Operation, "store", it.Store, "timestamp", it.Timestamp)
	}

	if h.delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(h.delay):
		}
	}

	h.batches.Add(1)
	h.items.Add(int64(len(items)))
	if h.sink != nil {
		h.sink(batchID, items)
	}
	writeJSON(w, http.StatusOK, remote.Response{Success: true, Message: msgAccepted})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewMux routes the sync endpoint at /api/sync.
func NewMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/sync", h)
	return mux
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sync collector listening", "addr", addr, "path", "/api/sync")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}
