package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every calmcp span.
const TracerName = "github.com/teemow/calmcp"

// Span attribute keys.
const (
	SpanAttrTool      = "mcp.tool"
	SpanAttrCallID    = "mcp.call_id"
	SpanAttrBackend   = "calendar.backend"
	SpanAttrOperation = "calendar.operation"
	SpanAttrOutcome   = "dispatch.outcome"
	SpanAttrReplayed  = "dispatch.replayed"
	SpanAttrState     = "dispatch.state"
	SpanAttrOverlaps  = "dispatch.overlaps"
)

// Span event names.
const (
	EventTransition = "dispatch.transition"
	EventConflict   = "dispatch.conflict"
)

func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(TracerName)
}

// StartToolSpan starts the server span of an MCP tool call, named
// tool.<name>.
func StartToolSpan(ctx context.Context, toolName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, "tool."+toolName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String(SpanAttrTool, toolName)),
		trace.WithAttributes(attrs...),
	)
}

// StartDispatchSpan starts the internal span covering one dispatched call,
// named dispatch.<operation>. An empty callID is left out.
func StartDispatchSpan(ctx context.Context, operation, callID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String(SpanAttrOperation, operation)}
	if callID != "" {
		attrs = append(attrs, attribute.String(SpanAttrCallID, callID))
	}
	return tracer().Start(ctx, "dispatch."+operation, trace.WithAttributes(attrs...))
}

// StartBackendSpan starts the client span of a calendar gateway call, named
// calendar.<backend>.<operation>.
func StartBackendSpan(ctx context.Context, backend, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, "calendar."+backend+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(SpanAttrBackend, backend),
			attribute.String(SpanAttrOperation, operation),
		),
		trace.WithAttributes(attrs...),
	)
}

// AddTransitionEvent marks a dispatch state change on the span in ctx.
func AddTransitionEvent(ctx context.Context, state string) {
	trace.SpanFromContext(ctx).AddEvent(EventTransition,
		trace.WithAttributes(attribute.String(SpanAttrState, state)))
}

// AddConflictEvent records how many existing events a proposed slot
// overlapped.
func AddConflictEvent(ctx context.Context, overlaps int) {
	trace.SpanFromContext(ctx).AddEvent(EventConflict,
		trace.WithAttributes(attribute.Int(SpanAttrOverlaps, overlaps)))
}

// SetSpanError marks span failed. A nil err leaves the status unset.
func SetSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// SpanIDs returns the hex trace and span ids of the span in ctx, or empty
// strings outside a recording span.
func SpanIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
