package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// LoggerName is the instrumentation scope used for forwarded log records.
const LoggerName = "vaultsync"

// teeHandler writes every record to next and hands a copy to the OTel
// bridge. Levels are decided by next.
type teeHandler struct {
	next   slog.Handler
	bridge slog.Handler
}

// NewSlogHandler wraps next so records also reach the global OTel log
// provider. Call it after [Setup].
func NewSlogHandler(next slog.Handler) slog.Handler {
	return newSlogHandler(next, global.GetLoggerProvider())
}

func newSlogHandler(next slog.Handler, provider otellog.LoggerProvider) *teeHandler {
	return &teeHandler{
		next:   next,
		bridge: otelslog.NewHandler(LoggerName, otelslog.WithLoggerProvider(provider)),
	}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if h.bridge.Enabled(ctx, r.Level) {
		errs = append(errs, h.bridge.Handle(ctx, r.Clone()))
	}
	errs = append(errs, h.next.Handle(ctx, r))
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{next: h.next.WithAttrs(attrs), bridge: h.bridge.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &teeHandler{next: h.next.WithGroup(name), bridge: h.bridge.WithGroup(name)}
}
