package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is the W3C trace context of a span in a form that can be stored
// alongside a record and restored when the record is processed later.
type TraceContext struct {
	Parent string
	State  string
}

// CaptureTraceContext serializes the span in ctx with the global propagator.
func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Parent: carrier.Get("traceparent"), State: carrier.Get("tracestate")}
}

func (t TraceContext) IsZero() bool {
	return t.Parent == "" && t.State == ""
}

// Restore returns ctx carrying t as the remote parent span.
func (t TraceContext) Restore(ctx context.Context) context.Context {
	if t.IsZero() {
		return ctx
	}
	carrier := propagation.MapCarrier{}
	carrier.Set("traceparent", t.Parent)
	if t.State != "" {
		carrier.Set("tracestate", t.State)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
