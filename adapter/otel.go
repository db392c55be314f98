// Package adapter provides integrations between the handle-guard core and
// external observability systems: OpenTelemetry instrumentation, health
// endpoints, and the audit pipeline.
package adapter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/handle-guard/api"
)

// OTelObserver exports handle lifecycle events as OpenTelemetry metrics and
// annotates usage faults with short spans. Register it on a session with
// Session.Subscribe.
type OTelObserver struct {
	events metric.Int64Counter
	faults metric.Int64Counter
	tracer trace.Tracer
}

// NewOTelObserver builds an observer over the given meter and tracer.
func NewOTelObserver(meter metric.Meter, tracer trace.Tracer) (*OTelObserver, error) {
	events, err := meter.Int64Counter("handle_guard.lifecycle.events",
		metric.WithDescription("Handle lifecycle transitions by type."))
	if err != nil {
		return nil, fmt.Errorf("create event counter: %w", err)
	}
	faults, err := meter.Int64Counter("handle_guard.usage.faults",
		metric.WithDescription("Detected handle usage faults."))
	if err != nil {
		return nil, fmt.Errorf("create fault counter: %w", err)
	}
	return &OTelObserver{events: events, faults: faults, tracer: tracer}, nil
}

// OnHandleEvent implements api.Observer.
func (o *OTelObserver) OnHandleEvent(e api.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("event", e.Type.String()),
		attribute.String("session", e.Session),
	)
	o.events.Add(ctx, 1, attrs)
	if e.Type != api.EventFault {
		return
	}
	o.faults.Add(ctx, 1, attrs)
	if o.tracer != nil {
		_, span := o.tracer.Start(ctx, "handle_guard.fault",
			trace.WithAttributes(
				attribute.String("session", e.Session),
				attribute.String("detail", e.Detail),
				attribute.Int64("generation", e.Generation),
			))
		span.End()
	}
}
