package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	workflowIDKey ctxKey = iota
	eventIDKey
	deckIDKey
)

// WithWorkflowID returns a context with the workflow ID set.
func WithWorkflowID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WithEventID returns a context with the event ID set.
func WithEventID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, eventIDKey, id)
}

// WithDeckID returns a context with the deck ID set.
func WithDeckID(ctx context.Context, id uint8) context.Context {
	return context.WithValue(ctx, deckIDKey, id)
}

// WorkflowID extracts the workflow ID from the context, or 0 if absent.
func WorkflowID(ctx context.Context) uint64 {
	v, _ := ctx.Value(workflowIDKey).(uint64)
	return v
}

// EventID extracts the event ID from the context, or 0 if absent.
func EventID(ctx context.Context) uint64 {
	v, _ := ctx.Value(eventIDKey).(uint64)
	return v
}

// DeckID extracts the deck ID from the context, or 0 if absent.
func DeckID(ctx context.Context) uint8 {
	v, _ := ctx.Value(deckIDKey).(uint8)
	return v
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := WorkflowID(ctx); v != 0 {
		r.AddAttrs(slog.Uint64("workflow_id", v))
	}
	if v := EventID(ctx); v != 0 {
		r.AddAttrs(slog.Uint64("event_id", v))
	}
	if v := DeckID(ctx); v != 0 {
		r.AddAttrs(slog.Int("deck", int(v)))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
