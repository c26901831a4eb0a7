// Package events implements the Event Log Sink: structured
// event emission consumed by every orchestrator component, fanned out to one
// or more sinks.
package events

import (
	"context"
	"time"

	"github.com/bozzfozz/harmony/internal/log"
)

// Event is the structured shape: {event, component, status,
// duration_ms?, entity_id?, meta?}.
type Event struct {
	Name       string
	Component  string
	Status     string
	DurationMS int64
	EntityID   string
	Meta       map[string]any
}

// Sink consumes Events. Implementations must not block the caller
// indefinitely; a slow sink degrades observability, not orchestration.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Bus fans an Event out to every registered Sink. The zero value is usable
// (it just has no sinks); use NewBus to pre-register the default LogSink.
type Bus struct {
	sinks []Sink
}

// NewBus returns a Bus that always logs to the structured logger, plus any
// additional sinks supplied (e.g. a Redis fan-out sink).
func NewBus(extra ...Sink) *Bus {
	b := &Bus{sinks: append([]Sink{LogSink{}}, extra...)}
	return b
}

// Emit fans the event out to every sink, synchronously. Sinks are expected
// to be cheap (structured log write, buffered channel send); anything that
// blocks on network I/O should apply its own timeout internally.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	for _, s := range b.sinks {
		s.Emit(ctx, e)
	}
}

// Duration is a convenience for recording a handler's elapsed time.
func Duration(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// LogSink emits events through the structured logger. It is always
// present as the first sink in a Bus.
type LogSink struct{}

func (LogSink) Emit(ctx context.Context, e Event) {
	fields := map[string]any{}
	for k, v := range e.Meta {
		fields[k] = v
	}
	if e.DurationMS > 0 {
		fields[log.FieldDuration] = e.DurationMS
	}
	if e.EntityID != "" {
		fields[log.FieldEntityID] = e.EntityID
	}
	log.EventCtx(ctx, e.Component, e.Name, e.Status, fields)
}
