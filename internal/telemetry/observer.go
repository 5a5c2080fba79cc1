package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Event names reported by the sync core.
const (
	EventCycleCompleted  = "cycle.completed"
	EventCycleSkipped    = "cycle.skipped"
	EventInteraction     = "interaction.applied"
	EventDuplicate       = "interaction.duplicate"
	EventDropped         = "interaction.dropped"
	EventRetracted       = "interaction.retracted"
	EventSessionRefresh  = "session.refreshed"
	EventOutboundAction  = "outbound.action"
	EventActorCacheMiss  = "actorcache.miss"
	EventActorCacheStale = "actorcache.stale"
)

// Observer receives named events with attributes. Implementations must not
// block; the core never waits on or depends on an observer.
type Observer interface {
	Observe(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// Emit delivers an event to o. A nil observer is ignored and a panicking one
// is recovered.
func Emit(ctx context.Context, o Observer, name string, attrs ...attribute.KeyValue) {
	if o == nil {
		return
	}
	defer func() {
		recover()
	}()
	o.Observe(ctx, name, attrs...)
}

// LogObserver writes every event to a logger at debug level.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) Observe(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	args := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		args = append(args, slog.Any(string(a.Key), a.Value.AsInterface()))
	}
	o.Logger.LogAttrs(ctx, slog.LevelDebug, name, args...)
}

// TraceObserver records every event on the span found in the context.
type TraceObserver struct{}

func (TraceObserver) Observe(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// Multi fans an event out to several observers. Each one is isolated from
// the others' panics.
type Multi []Observer

func (m Multi) Observe(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	for _, o := range m {
		Emit(ctx, o, name, attrs...)
	}
}
