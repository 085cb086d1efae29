package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Analytics event names.
const (
	EventHorizonClamped     = "forecast.horizon_clamped"
	EventValidationFailure  = "forecast.validation_failure"
	EventModelArbitration   = "forecast.model_arbitration"
	EventStrategyFallback   = "forecast.strategy_fallback"
	EventCapabilityResolved = "forecast.capability_resolved"
	EventAnomalyDetected    = "anomaly.detected"
	EventExportSize         = "export.size"
)

// Event is a named telemetry record with flat attributes.
type Event struct {
	Name       string
	Attributes map[string]interface{}
}

// Emitter receives analytics events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// BusinessEventLogger is the subset of the standard logger used by EventRecorder.
type BusinessEventLogger interface {
	LogBusinessEvent(eventType string, details map[string]interface{})
}

// EventRecorder attaches events to the active span and mirrors them to the log.
type EventRecorder struct {
	logger BusinessEventLogger
}

// NewEventRecorder creates an EventRecorder. logger may be nil.
func NewEventRecorder(logger BusinessEventLogger) *EventRecorder {
	return &EventRecorder{logger: logger}
}

// Emit implements Emitter.
func (r *EventRecorder) Emit(ctx context.Context, event Event) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(event.Name, trace.WithAttributes(toAttributes(event.Attributes)...))
	}
	if r.logger != nil {
		r.logger.LogBusinessEvent(event.Name, event.Attributes)
	}
}

func toAttributes(values map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(values))
	for k, value := range values {
		switch v := value.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", value)))
		}
	}
	return attrs
}

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(context.Context, Event) {}

// MemoryEmitter keeps emitted events in memory. Used by tests and the debug endpoint.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (m *MemoryEmitter) Emit(_ context.Context, event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of everything emitted so far.
func (m *MemoryEmitter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Named returns the emitted events with the given name.
func (m *MemoryEmitter) Named(name string) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
