// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/z5labs/outbox"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// captureTraceContext writes the current span's W3C trace-context headers
// into c, so they travel with the record across the async schedule ->
// dispatch boundary. It mutates c in place.
func captureTraceContext(ctx context.Context, c Context) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		c[k] = v
	}
}

// restoreTraceContext extracts a W3C trace-context from record.Context, if
// present, and returns a context whose span context is the link target
// for the consumer span started at dispatch time.
func restoreTraceContext(ctx context.Context, c Context) context.Context {
	carrier := propagation.MapCarrier{}
	for k, v := range c {
		carrier.Set(k, v)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// dispatchSpan wraps the span started around a single handler invocation
// so primaryProcessor doesn't need to import the otel API directly for
// every call site.
type dispatchSpan struct {
	span trace.Span
}

func (s dispatchSpan) end() {
	s.span.End()
}

func (s dispatchSpan) recordOutcome(err error) {
	if err == nil {
		s.span.SetStatus(codes.Ok, "")
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// startDispatchSpan restores the captured trace-context (if any), then
// starts a consumer span for this dispatch attempt linked to it,
// adapting the teacher's queue/kafka/at_least_once.go pattern of starting
// a span rooted in the message's carried context.
func startDispatchSpan(ctx context.Context, record *OutboxRecord) (context.Context, dispatchSpan) {
	parent := restoreTraceContext(ctx, record.Context)
	spanCtx, span := tracer().Start(
		ctx,
		"outbox.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithLinks(trace.LinkFromContext(parent)),
		trace.WithAttributes(
			attribute.String("outbox.record.key", record.Key),
			attribute.String("outbox.handler.id", record.HandlerID),
			attribute.Int("outbox.partition", record.Partition),
		),
	)
	return spanCtx, dispatchSpan{span: span}
}
