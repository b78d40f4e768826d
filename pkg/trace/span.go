package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span wraps an OpenTelemetry span. A nil *Span is a no-op.
type Span struct {
	span trace.Span
}

// Start opens a span named name on the tracer of component
func Start(ctx context.Context, component, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, sp := otel.Tracer(component).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Span{span: sp}
}

// Set adds attributes to the span
func (s *Span) Set(attrs ...attribute.KeyValue) *Span {
	if s != nil {
		s.span.SetAttributes(attrs...)
	}
	return s
}

// Fail records err and marks the span as failed
func (s *Span) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End ends the span
func (s *Span) End() {
	if s != nil {
		s.span.End()
	}
}
