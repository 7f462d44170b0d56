package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// SessionSpanName names the span covering one accepted connection.
const SessionSpanName = "tlsbench.session"

// StartSessionSpan starts the server span of a session.
func StartSessionSpan(ctx context.Context, tracer trace.Tracer, sessionID, remote string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SessionSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("tlsbench.session_id", sessionID),
			attribute.String("network.peer.address", remote),
		),
	)
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// LinkRequest links span to the trace carried in W3C headers of a request,
// so a load generator's client spans can be joined with the session.
func LinkRequest(span trace.Span, headers http.Header) bool {
	remote := trace.SpanContextFromContext(
		otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(headers)),
	)
	if !remote.IsValid() {
		return false
	}
	span.AddLink(trace.Link{SpanContext: remote})
	return true
}
